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
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/kagenti/authbridge/pkg/a2a"
)

func newTestManager(t *testing.T) (*Manager, *tracetest.InMemoryExporter) {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		_ = provider.Shutdown(context.Background())
	})

	manager := NewManager(ManagerOptions{
		AgentName:     "weather-agent",
		AgentVersion:  "1.2.3",
		AgentProvider: "langgraph",
	})
	return manager, exporter
}

func attrValue(t *testing.T, span tracetest.SpanStub, key string) attribute.Value {
	t.Helper()
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return kv.Value
		}
	}
	t.Fatalf("attribute %q not found on span %q", key, span.Name)
	return attribute.Value{}
}

func hasAttr(span tracetest.SpanStub, key string) bool {
	for _, kv := range span.Attributes {
		if string(kv.Key) == key {
			return true
		}
	}
	return false
}

func TestObservable(t *testing.T) {
	manager, _ := newTestManager(t)

	assert.True(t, manager.Observable("/"))
	assert.True(t, manager.Observable("/?stream=true"))
	assert.False(t, manager.Observable("/health"))
	assert.False(t, manager.Observable("/.well-known/agent-card.json"))
}

func TestRequestSpanLifecycle(t *testing.T) {
	manager, exporter := newTestManager(t)

	span := manager.Start(context.Background())
	span.SetInput("What's the weather?")
	span.SetConversationID("c1")

	llmText := `assistant: {"messages":[{"type":"ai","response_metadata":{"model_name":"gpt-4o","finish_reason":"tool_calls","token_usage":{"prompt_tokens":10,"completion_tokens":5,"total_tokens":15}},"tool_calls":[{"name":"get_weather"}]}]}`
	toolText := `tools: {"messages":[{"type":"tool","name":"get_weather","tool_call_id":"call_1"}]}`

	assert.Equal(t, 0, span.RecordEvent(a2a.Event{Kind: a2a.EventLLM, Text: llmText}))
	assert.Equal(t, 1, span.RecordEvent(a2a.Event{Kind: a2a.EventTool, Text: toolText}))

	span.SetOutput("It is 65F and sunny.")
	require.True(t, span.Finish(nil))

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)

	var root tracetest.SpanStub
	children := map[string]tracetest.SpanStub{}
	for _, s := range spans {
		if s.Name == "invoke_agent weather-agent" {
			root = s
		} else {
			children[s.Name] = s
		}
	}
	require.NotEmpty(t, root.Name, "root span missing")

	assert.Equal(t, codes.Ok, root.Status.Code)
	assert.Equal(t, "invoke_agent", attrValue(t, root, AttrOperationName).AsString())
	assert.Equal(t, "langgraph", attrValue(t, root, AttrProviderName).AsString())
	assert.Equal(t, "weather-agent", attrValue(t, root, AttrAgentName).AsString())
	assert.Equal(t, "1.2.3", attrValue(t, root, AttrAgentVersion).AsString())
	assert.Equal(t, "What's the weather?", attrValue(t, root, AttrPrompt).AsString())
	assert.Equal(t, "It is 65F and sunny.", attrValue(t, root, AttrCompletion).AsString())
	assert.Equal(t, "c1", attrValue(t, root, AttrConversationID).AsString())
	assert.Equal(t, "c1", attrValue(t, root, AttrMLflowSession).AsString())

	llm, ok := children["chat gpt-4o"]
	require.True(t, ok, "llm child span missing")
	assert.Equal(t, root.SpanContext.SpanID(), llm.Parent.SpanID())
	assert.Equal(t, int64(0), attrValue(t, llm, AttrEventIndex).AsInt64())
	assert.Equal(t, "chat", attrValue(t, llm, AttrOperationName).AsString())
	assert.Equal(t, "gpt-4o", attrValue(t, llm, AttrResponseModel).AsString())
	assert.Equal(t, int64(10), attrValue(t, llm, AttrInputTokens).AsInt64())
	assert.Equal(t, int64(5), attrValue(t, llm, AttrOutputTokens).AsInt64())
	assert.Equal(t, int64(15), attrValue(t, llm, AttrTotalTokens).AsInt64())
	assert.Equal(t, []string{"tool_calls"}, attrValue(t, llm, AttrFinishReasons).AsStringSlice())
	assert.Equal(t, []string{"get_weather"}, attrValue(t, llm, AttrToolCalls).AsStringSlice())

	tool, ok := children["execute_tool get_weather"]
	require.True(t, ok, "tool child span missing")
	assert.Equal(t, root.SpanContext.SpanID(), tool.Parent.SpanID())
	assert.Equal(t, int64(1), attrValue(t, tool, AttrEventIndex).AsInt64())
	assert.Equal(t, "execute_tool", attrValue(t, tool, AttrOperationName).AsString())
	assert.Equal(t, "get_weather", attrValue(t, tool, AttrToolName).AsString())
	assert.Equal(t, "call_1", attrValue(t, tool, AttrToolCallID).AsString())
}

func TestCarrierHeaders(t *testing.T) {
	manager, _ := newTestManager(t)

	span := manager.Start(context.Background())
	defer span.Finish(nil)

	headers := span.CarrierHeaders()
	require.Contains(t, headers, "traceparent")
	assert.Contains(t, headers["traceparent"], span.span.SpanContext().TraceID().String())
}

func TestOutputLastWins(t *testing.T) {
	manager, exporter := newTestManager(t)

	span := manager.Start(context.Background())
	span.SetOutput("Checking the forecast...")
	span.SetOutput("It is 65F and sunny.")
	span.Finish(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "It is 65F and sunny.", attrValue(t, spans[0], AttrCompletion).AsString())
}

func TestFinishFallbackBody(t *testing.T) {
	manager, exporter := newTestManager(t)

	body := []byte(`{"jsonrpc":"2.0","id":"1","result":{"kind":"task","artifacts":[{"parts":[{"kind":"text","text":"It is 65F and sunny."}]}]}}`)

	span := manager.Start(context.Background())
	require.False(t, span.HasOutput())
	span.Finish(body)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "It is 65F and sunny.", attrValue(t, spans[0], AttrCompletion).AsString())
}

func TestStreamOutputBeatsFallback(t *testing.T) {
	manager, exporter := newTestManager(t)

	span := manager.Start(context.Background())
	span.SetOutput("from the stream")
	span.Finish([]byte(`{"jsonrpc":"2.0","id":"1","result":{"kind":"task","artifacts":[{"parts":[{"kind":"text","text":"from the body"}]}]}}`))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "from the stream", attrValue(t, spans[0], AttrCompletion).AsString())
}

func TestAbort(t *testing.T) {
	manager, exporter := newTestManager(t)

	span := manager.Start(context.Background())
	span.SetInput("What's the weather?")
	span.RecordEvent(a2a.Event{Kind: a2a.EventLLM, Text: "assistant: thinking"})
	require.True(t, span.Abort("client disconnected"))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	var root tracetest.SpanStub
	for _, s := range spans {
		if s.Name == "invoke_agent weather-agent" {
			root = s
		}
	}
	require.NotEmpty(t, root.Name)
	assert.Equal(t, codes.Error, root.Status.Code)
	assert.Equal(t, "client disconnected", root.Status.Description)
	assert.False(t, hasAttr(root, AttrCompletion))
}

func TestCloseExactlyOnce(t *testing.T) {
	manager, exporter := newTestManager(t)

	span := manager.Start(context.Background())
	require.True(t, span.Finish(nil))
	assert.False(t, span.Finish(nil))
	assert.False(t, span.Abort("late"))

	// Mutations after close are dropped.
	span.SetOutput("too late")
	span.SetInput("too late")
	assert.Equal(t, -1, span.RecordEvent(a2a.Event{Kind: a2a.EventLLM, Text: "assistant: x"}))

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
	assert.False(t, hasAttr(spans[0], AttrCompletion))
}

func TestAbortAfterFinishKeepsOkStatus(t *testing.T) {
	manager, exporter := newTestManager(t)

	span := manager.Start(context.Background())
	span.Finish(nil)
	span.Abort("stream error after end")

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Ok, spans[0].Status.Code)
}

func TestEventIndexMonotonic(t *testing.T) {
	manager, _ := newTestManager(t)

	span := manager.Start(context.Background())
	defer span.Finish(nil)

	for i := 0; i < 5; i++ {
		text := fmt.Sprintf("assistant: step %d", i)
		assert.Equal(t, i, span.RecordEvent(a2a.Event{Kind: a2a.EventLLM, Text: text}))
	}
}

func TestTruncateLongAttributes(t *testing.T) {
	manager, exporter := newTestManager(t)

	long := make([]byte, MaxAttrLength+100)
	for i := range long {
		long[i] = 'a'
	}

	span := manager.Start(context.Background())
	span.SetInput(string(long))
	span.Finish(nil)

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Len(t, attrValue(t, spans[0], AttrPrompt).AsString(), MaxAttrLength)
}

func TestNilRequestSpanIsSafe(t *testing.T) {
	var span *RequestSpan

	assert.Nil(t, span.CarrierHeaders())
	span.SetInput("ignored")
	span.SetConversationID("ignored")
	span.SetOutput("ignored")
	assert.False(t, span.HasOutput())
	assert.Equal(t, -1, span.RecordEvent(a2a.Event{Kind: a2a.EventStatus}))
	assert.False(t, span.Finish(nil))
	assert.False(t, span.Abort("ignored"))
}
