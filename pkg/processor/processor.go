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

// Package processor implements the Envoy external-processor service
// that fronts an agent workload: it authenticates inbound requests,
// re-scopes outbound credentials by token exchange, and synthesizes
// GenAI traces from the A2A traffic flowing through it.
package processor

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"

	corev3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	extprocv3 "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	typev3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/kagenti/authbridge/pkg/a2a"
	"github.com/kagenti/authbridge/pkg/auth"
	"github.com/kagenti/authbridge/pkg/config"
	"github.com/kagenti/authbridge/pkg/observability"
)

const (
	// directionHeader is set by the proxy route configuration to mark
	// traffic leaving the workload. It is internal routing metadata and
	// is stripped before the request is forwarded.
	directionHeader = "x-authbridge-direction"

	authorizationHeader = "authorization"
	pathHeader          = ":path"
)

// Options wires the processor's collaborators. Validator and Exchanger
// are optional; a nil value disables that stage and traffic passes
// through it untouched.
type Options struct {
	Logger      *slog.Logger
	Validator   *auth.Validator
	Exchanger   *auth.Exchanger
	Credentials *config.Store
	Spans       *observability.Manager
	Classifier  a2a.Classifier
	Metrics     observability.Metrics

	TargetAudience string
	TargetScopes   string
}

// Processor is the ext_proc server. One Process invocation handles
// one proxied HTTP request; invocations for different requests run
// concurrently and share only the stream-state table.
type Processor struct {
	extprocv3.UnimplementedExternalProcessorServer

	log         *slog.Logger
	validator   *auth.Validator
	exchanger   *auth.Exchanger
	credentials *config.Store
	spans       *observability.Manager
	classifier  a2a.Classifier
	metrics     observability.Metrics

	targetAudience string
	targetScopes   string

	mu      sync.Mutex
	streams map[extprocv3.ExternalProcessor_ProcessServer]*streamState
}

// streamState is the per-request state, keyed by the control stream
// that delivers the request's messages. Only the owning stream's
// worker touches it after insertion, so the table lock covers map
// operations alone.
type streamState struct {
	span            *observability.RequestSpan
	body            []byte
	conversationSet bool
}

// New builds a Processor. Missing optional collaborators get inert
// defaults.
func New(opts Options) *Processor {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Classifier == nil {
		opts.Classifier = a2a.NewMarkerClassifier()
	}
	if opts.Metrics == nil {
		opts.Metrics = observability.NoopMetrics{}
	}
	return &Processor{
		log:            opts.Logger,
		validator:      opts.Validator,
		exchanger:      opts.Exchanger,
		credentials:    opts.Credentials,
		spans:          opts.Spans,
		classifier:     opts.Classifier,
		metrics:        opts.Metrics,
		targetAudience: opts.TargetAudience,
		targetScopes:   opts.TargetScopes,
		streams:        make(map[extprocv3.ExternalProcessor_ProcessServer]*streamState),
	}
}

// Process drives one proxied request: receive a control message,
// answer it, repeat until the proxy closes the stream. Every exit
// path that interrupts the message sequence runs abortStream, so an
// open span is closed exactly once no matter how the stream dies.
func (p *Processor) Process(stream extprocv3.ExternalProcessor_ProcessServer) error {
	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			p.abortStream(stream, "request context cancelled")
			return ctx.Err()
		default:
		}

		req, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			p.abortStream(stream, "proxy closed stream")
			return nil
		}
		if err != nil {
			p.abortStream(stream, "stream receive failed")
			return status.Errorf(codes.Unknown, "cannot receive stream request: %v", err)
		}

		var resp *extprocv3.ProcessingResponse

		switch r := req.Request.(type) {
		case *extprocv3.ProcessingRequest_RequestHeaders:
			headers := r.RequestHeaders.Headers
			if headerValue(headers, directionHeader) == "outbound" {
				resp = p.handleOutbound(ctx, headers)
			} else {
				resp = p.handleInbound(ctx, stream, headers)
			}

		case *extprocv3.ProcessingRequest_RequestBody:
			resp = p.handleRequestBody(stream, r.RequestBody.GetBody())

		case *extprocv3.ProcessingRequest_ResponseHeaders:
			resp = &extprocv3.ProcessingResponse{
				Response: &extprocv3.ProcessingResponse_ResponseHeaders{
					ResponseHeaders: &extprocv3.HeadersResponse{},
				},
			}

		case *extprocv3.ProcessingRequest_ResponseBody:
			resp = p.handleResponseBody(stream, r.ResponseBody.GetBody(), r.ResponseBody.GetEndOfStream())

		default:
			p.log.Warn("unknown ext_proc message", "type", req.Request)
			resp = &extprocv3.ProcessingResponse{}
		}

		if err := stream.Send(resp); err != nil {
			p.abortStream(stream, "stream send failed")
			return status.Errorf(codes.Unknown, "cannot send stream response: %v", err)
		}
	}
}

// handleInbound authenticates the request and, for agent invocations,
// opens the request span. The span must exist before the proxy
// forwards headers upstream: the trace-context header it injects is
// what parents any spans the agent itself emits.
func (p *Processor) handleInbound(ctx context.Context, stream extprocv3.ExternalProcessor_ProcessServer, headers *corev3.HeaderMap) *extprocv3.ProcessingResponse {
	if p.validator != nil {
		token, err := auth.BearerToken(headerValue(headers, authorizationHeader))
		if err == nil {
			err = p.validator.Validate(ctx, token)
		}
		if err != nil {
			reason := denialReason(err)
			p.log.Info("inbound request denied", "reason", reason, "error", err)
			p.metrics.RecordRequest(ctx, "denied")
			p.metrics.RecordDenial(ctx, reason)
			return denyResponse(err)
		}
	}
	p.metrics.RecordRequest(ctx, "allowed")

	removeHeaders := []string{directionHeader}
	var setHeaders []*corev3.HeaderValueOption

	path := headerValue(headers, pathHeader)
	if p.spans != nil && p.spans.Observable(path) {
		span := p.spans.Start(context.Background())

		p.mu.Lock()
		p.streams[stream] = &streamState{span: span}
		p.mu.Unlock()

		for key, value := range span.CarrierHeaders() {
			setHeaders = append(setHeaders, &corev3.HeaderValueOption{
				Header: &corev3.HeaderValue{Key: key, RawValue: []byte(value)},
			})
		}
		p.log.Debug("request span opened", "path", path)
	}

	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{
					HeaderMutation: &extprocv3.HeaderMutation{
						RemoveHeaders: removeHeaders,
						SetHeaders:    setHeaders,
					},
				},
			},
		},
	}
}

// handleOutbound swaps the workload's credential for an audience-scoped
// one. Exchange failure is deliberately non-fatal: the original
// credential is forwarded and the failure is only visible in logs and
// counters.
func (p *Processor) handleOutbound(ctx context.Context, headers *corev3.HeaderMap) *extprocv3.ProcessingResponse {
	passthrough := &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{},
		},
	}

	if p.exchanger == nil || p.credentials == nil || p.targetAudience == "" {
		return passthrough
	}
	creds := p.credentials.Credentials()
	if !creds.Ready() {
		p.log.Warn("outbound token exchange skipped, credentials not ready")
		return passthrough
	}
	subjectToken, err := auth.BearerToken(headerValue(headers, authorizationHeader))
	if err != nil {
		return passthrough
	}

	newToken, err := p.exchanger.Exchange(ctx, creds.ClientID, creds.ClientSecret, subjectToken, p.targetAudience, p.targetScopes)
	if err != nil {
		p.log.Warn("outbound token exchange failed, forwarding original credential", "error", err)
		p.metrics.RecordExchange(ctx, false)
		return passthrough
	}
	p.metrics.RecordExchange(ctx, true)

	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestHeaders{
			RequestHeaders: &extprocv3.HeadersResponse{
				Response: &extprocv3.CommonResponse{
					HeaderMutation: &extprocv3.HeaderMutation{
						SetHeaders: []*corev3.HeaderValueOption{{
							Header: &corev3.HeaderValue{
								Key:      authorizationHeader,
								RawValue: []byte("Bearer " + newToken),
							},
						}},
					},
				},
			},
		},
	}
}

// handleRequestBody enriches the span opened at the header phase with
// the user's input and the conversation id.
func (p *Processor) handleRequestBody(stream extprocv3.ExternalProcessor_ProcessServer, body []byte) *extprocv3.ProcessingResponse {
	resp := &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_RequestBody{
			RequestBody: &extprocv3.BodyResponse{},
		},
	}

	state := p.lookupState(stream)
	if state == nil {
		return resp
	}

	parsed := a2a.ParseRequest(body)
	state.span.SetInput(parsed.UserInput)
	if parsed.ContextID != "" {
		state.span.SetConversationID(parsed.ContextID)
		state.conversationSet = true
	}
	return resp
}

// handleResponseBody consumes one chunk of the agent's response:
// every decoded frame is classified and folded into the span, the raw
// bytes are kept for the end-of-stream fallback parse, and the final
// chunk closes the span.
func (p *Processor) handleResponseBody(stream extprocv3.ExternalProcessor_ProcessServer, body []byte, endOfStream bool) *extprocv3.ProcessingResponse {
	resp := &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ResponseBody{
			ResponseBody: &extprocv3.BodyResponse{},
		},
	}

	state := p.lookupState(stream)
	if state == nil {
		return resp
	}

	state.body = append(state.body, body...)
	ctx := stream.Context()

	for _, frame := range a2a.Frames(body) {
		event := p.classifier.Classify(frame)
		switch event.Kind {
		case a2a.EventLLM, a2a.EventTool:
			index := state.span.RecordEvent(event)
			p.metrics.RecordEvent(ctx, string(event.Kind))
			p.log.Debug("stream event recorded", "kind", event.Kind, "index", index)

		case a2a.EventArtifact:
			state.span.SetOutput(event.Text)
			p.metrics.RecordEvent(ctx, string(event.Kind))

		case a2a.EventStatus:
			p.metrics.RecordEvent(ctx, string(event.Kind))
		}

		// A conversation id the request body did not carry can still
		// surface in the task events the agent streams back.
		if !state.conversationSet {
			if _, contextID := a2a.EventContext(frame); contextID != "" {
				state.span.SetConversationID(contextID)
				state.conversationSet = true
			}
		}
	}

	if endOfStream {
		p.finishStream(ctx, stream, state)
	}
	return resp
}

// finishStream is the normal close path.
func (p *Processor) finishStream(ctx context.Context, stream extprocv3.ExternalProcessor_ProcessServer, state *streamState) {
	p.mu.Lock()
	delete(p.streams, stream)
	p.mu.Unlock()

	if !state.span.HasOutput() && len(state.body) > 0 {
		p.metrics.RecordParseFallback(ctx)
	}
	if state.span.Finish(state.body) {
		p.metrics.RecordSpan(ctx, "ok")
	}
}

// abortStream is the abnormal close path: proxy disconnect, context
// cancellation, protocol error. The span closes with error status and
// whatever attributes it already has.
func (p *Processor) abortStream(stream extprocv3.ExternalProcessor_ProcessServer, reason string) {
	p.mu.Lock()
	state, ok := p.streams[stream]
	if ok {
		delete(p.streams, stream)
	}
	p.mu.Unlock()
	if !ok {
		return
	}

	if state.span.Abort(reason) {
		p.metrics.RecordSpan(context.Background(), "error")
		p.log.Info("stream terminated before completion", "reason", reason)
	}
}

func (p *Processor) lookupState(stream extprocv3.ExternalProcessor_ProcessServer) *streamState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.streams[stream]
}

// denyResponse builds the immediate 401 the proxy returns to the
// caller instead of forwarding the request.
func denyResponse(cause error) *extprocv3.ProcessingResponse {
	body, _ := json.Marshal(map[string]string{
		"error":   "unauthorized",
		"message": cause.Error(),
	})
	return &extprocv3.ProcessingResponse{
		Response: &extprocv3.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &extprocv3.ImmediateResponse{
				Status: &typev3.HttpStatus{Code: typev3.StatusCode_Unauthorized},
				Body:   body,
			},
		},
	}
}

// denialReason maps a validation error to its metric label.
func denialReason(err error) string {
	switch {
	case errors.Is(err, auth.ErrMissingAuthHeader):
		return "missing_header"
	case errors.Is(err, auth.ErrMalformedAuthHeader):
		return "malformed_header"
	case errors.Is(err, auth.ErrWrongIssuer):
		return "wrong_issuer"
	case errors.Is(err, auth.ErrWrongAudience):
		return "wrong_audience"
	default:
		return "invalid_token"
	}
}

// headerValue finds a header case-insensitively. Envoy populates
// RawValue in current versions; Value is the legacy field.
func headerValue(headers *corev3.HeaderMap, key string) string {
	if headers == nil {
		return ""
	}
	for _, h := range headers.Headers {
		if strings.EqualFold(h.Key, key) {
			if len(h.RawValue) > 0 {
				return string(h.RawValue)
			}
			return h.Value
		}
	}
	return ""
}
