// Copyright 2025 Kagenti Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package observability

import (
	"context"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/kagenti/authbridge/pkg/a2a"
)

// Manager mints request spans for agent invocations. The agent never
// emits telemetry itself; the manager reconstructs what it did from
// the traffic that passes through the sidecar.
type Manager struct {
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator

	agentName     string
	agentVersion  string
	agentProvider string
}

// ManagerOptions identifies the agent the spans describe.
type ManagerOptions struct {
	AgentName     string
	AgentVersion  string
	AgentProvider string
}

// NewManager uses the global tracer provider, so InitTracer must run
// first. With tracing disabled the noop provider makes every span a
// no-op and the manager costs nothing.
func NewManager(opts ManagerOptions) *Manager {
	return &Manager{
		tracer:        otel.Tracer(TracerName),
		propagator:    otel.GetTextMapPropagator(),
		agentName:     opts.AgentName,
		agentVersion:  opts.AgentVersion,
		agentProvider: opts.AgentProvider,
	}
}

// Observable reports whether a request path is an agent invocation
// worth tracing. The A2A endpoint is the service root; health probes
// and agent-card fetches live elsewhere.
func (m *Manager) Observable(path string) bool {
	return path == "/" || strings.HasPrefix(path, "/?")
}

// Start opens a request span for one agent invocation.
func (m *Manager) Start(ctx context.Context) *RequestSpan {
	spanCtx, span := m.tracer.Start(ctx, OperationInvokeAgent+" "+m.agentName,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrOperationName, OperationInvokeAgent),
			attribute.String(AttrProviderName, m.agentProvider),
			attribute.String(AttrAgentName, m.agentName),
			attribute.String(AttrAgentVersion, m.agentVersion),
		),
	)
	return &RequestSpan{manager: m, ctx: spanCtx, span: span}
}

// RequestSpan is the root span for one invocation plus the child spans
// synthesized from the event stream. It moves through open, enriched
// and closed states; once closed every mutation is a silent no-op, so
// a late stream chunk can never resurrect a finished trace.
type RequestSpan struct {
	manager *Manager

	mu         sync.Mutex
	ctx        context.Context
	span       trace.Span
	childIndex int
	hasOutput  bool
	closed     bool
}

// CarrierHeaders renders the span context as W3C trace-context headers
// for injection into the forwarded request.
func (s *RequestSpan) CarrierHeaders() map[string]string {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	carrier := propagation.MapCarrier{}
	s.manager.propagator.Inject(s.ctx, carrier)
	return carrier
}

// SetInput records the user's prompt.
func (s *RequestSpan) SetInput(text string) {
	if s == nil || text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.span.SetAttributes(attribute.String(AttrPrompt, truncate(text)))
}

// SetConversationID ties the trace to an A2A context so the collector
// can group turns into a session.
func (s *RequestSpan) SetConversationID(id string) {
	if s == nil || id == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.span.SetAttributes(
		attribute.String(AttrConversationID, id),
		attribute.String(AttrMLflowSession, id),
	)
}

// SetOutput records the agent's final answer. Later artifacts win, so
// a streaming agent's final chunk overwrites interim ones.
func (s *RequestSpan) SetOutput(text string) {
	if s == nil || text == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.hasOutput = true
	s.span.SetAttributes(attribute.String(AttrCompletion, truncate(text)))
}

// HasOutput reports whether any artifact set a completion yet.
func (s *RequestSpan) HasOutput() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hasOutput
}

// RecordEvent synthesizes a child span for one classified stream
// event. Child spans are indexed in arrival order and closed
// immediately; the sidecar sees events only after they happen, so
// durations would be fiction. Returns the event's index, or -1 if the
// span is already closed.
func (s *RequestSpan) RecordEvent(event a2a.Event) int {
	if s == nil {
		return -1
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1
	}
	index := s.childIndex
	s.childIndex++

	name, attrs := s.childAttributes(event, index)
	_, child := s.manager.tracer.Start(s.ctx, name, trace.WithAttributes(attrs...))
	child.End()
	return index
}

func (s *RequestSpan) childAttributes(event a2a.Event, index int) (string, []attribute.KeyValue) {
	attrs := []attribute.KeyValue{
		attribute.Int(AttrEventIndex, index),
		attribute.String(AttrEventText, truncate(event.Text)),
		attribute.String(AttrProviderName, s.manager.agentProvider),
	}

	detail := a2a.ParseStepDetail(event.Text, event.Kind)

	switch event.Kind {
	case a2a.EventLLM:
		name := OperationChat
		attrs = append(attrs, attribute.String(AttrOperationName, OperationChat))
		if detail.Model != "" {
			name = OperationChat + " " + detail.Model
			attrs = append(attrs,
				attribute.String(AttrRequestModel, detail.Model),
				attribute.String(AttrResponseModel, detail.Model),
			)
		}
		if detail.FinishReason != "" {
			attrs = append(attrs, attribute.StringSlice(AttrFinishReasons, []string{detail.FinishReason}))
		}
		if detail.InputTokens > 0 {
			attrs = append(attrs, attribute.Int(AttrInputTokens, detail.InputTokens))
		}
		if detail.OutputTokens > 0 {
			attrs = append(attrs, attribute.Int(AttrOutputTokens, detail.OutputTokens))
		}
		if detail.TotalTokens > 0 {
			attrs = append(attrs, attribute.Int(AttrTotalTokens, detail.TotalTokens))
		}
		if len(detail.ToolCalls) > 0 {
			attrs = append(attrs, attribute.StringSlice(AttrToolCalls, detail.ToolCalls))
		}
		return name, attrs

	case a2a.EventTool:
		name := OperationExecuteTool
		attrs = append(attrs, attribute.String(AttrOperationName, OperationExecuteTool))
		if detail.ToolName != "" {
			name = OperationExecuteTool + " " + detail.ToolName
			attrs = append(attrs, attribute.String(AttrToolName, detail.ToolName))
		}
		if detail.ToolCallID != "" {
			attrs = append(attrs, attribute.String(AttrToolCallID, detail.ToolCallID))
		}
		return name, attrs

	default:
		return "status", attrs
	}
}

// Finish closes the span with OK status. When no artifact event set
// an output during streaming, the accumulated response body is parsed
// as a fallback. Safe to call more than once; only the first close
// takes effect. Returns false if the span was already closed.
func (s *RequestSpan) Finish(fallbackBody []byte) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if !s.hasOutput && len(fallbackBody) > 0 {
		if output := a2a.ExtractOutput(fallbackBody); output != "" {
			s.hasOutput = true
			s.span.SetAttributes(attribute.String(AttrCompletion, truncate(output)))
		}
	}
	s.span.SetStatus(codes.Ok, "")
	s.span.End()
	s.closed = true
	return true
}

// Abort closes the span with error status, for streams that die
// before the agent answers. Returns false if already closed.
func (s *RequestSpan) Abort(reason string) bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.span.SetStatus(codes.Error, reason)
	s.span.End()
	s.closed = true
	return true
}

func truncate(text string) string {
	if len(text) <= MaxAttrLength {
		return text
	}
	return text[:MaxAttrLength]
}
