package a2a

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarkerClassifier(t *testing.T) {
	classifier := NewMarkerClassifier()

	tests := []struct {
		name     string
		frame    string
		wantKind EventKind
		wantText string
	}{
		{
			name:     "artifact_update",
			frame:    `{"result":{"kind":"artifact-update","artifact":{"parts":[{"text":"It is 65F and sunny."}]}}}`,
			wantKind: EventArtifact,
			wantText: "It is 65F and sunny.",
		},
		{
			name:     "artifact_update_empty",
			frame:    `{"result":{"kind":"artifact-update","artifact":{"parts":[]}}}`,
			wantKind: EventArtifact,
		},
		{
			name:     "assistant_step",
			frame:    `{"result":{"kind":"status-update","status":{"message":{"parts":[{"text":"assistant: calling tool"}]}}}}`,
			wantKind: EventLLM,
			wantText: "assistant: calling tool",
		},
		{
			name:     "tool_step",
			frame:    `{"result":{"kind":"status-update","status":{"message":{"parts":[{"text":"tools: get_weather"}]}}}}`,
			wantKind: EventTool,
			wantText: "tools: get_weather",
		},
		{
			// Both markers present: tools wins, by precedence.
			name:     "both_markers",
			frame:    `{"result":{"kind":"status-update","status":{"message":{"parts":[{"text":"assistant: done, tools: get_weather"}]}}}}`,
			wantKind: EventTool,
			wantText: "assistant: done, tools: get_weather",
		},
		{
			name:     "terminal_status",
			frame:    `{"result":{"kind":"status-update","final":true,"status":{"state":"completed"}}}`,
			wantKind: EventStatus,
		},
		{
			name:     "status_without_markers",
			frame:    `{"result":{"kind":"status-update","status":{"message":{"parts":[{"text":"working"}]}}}}`,
			wantKind: EventStatus,
		},
		{
			name:     "task_event",
			frame:    `{"result":{"kind":"task","id":"t-1"}}`,
			wantKind: EventUnknown,
		},
		{
			name:     "malformed",
			frame:    `{"result":`,
			wantKind: EventUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := classifier.Classify([]byte(tt.frame))
			assert.Equal(t, tt.wantKind, event.Kind)
			assert.Equal(t, tt.wantText, event.Text)
		})
	}
}

func TestMarkerClassifierCustomMarkers(t *testing.T) {
	classifier := &MarkerClassifier{ToolMarker: "act:", AssistantMarker: "think:"}

	frame := `{"result":{"kind":"status-update","status":{"message":{"parts":[{"text":"think: hmm"}]}}}}`
	assert.Equal(t, EventLLM, classifier.Classify([]byte(frame)).Kind)

	// Default markers mean nothing to a custom classifier.
	frame = `{"result":{"kind":"status-update","status":{"message":{"parts":[{"text":"assistant: hi"}]}}}}`
	assert.Equal(t, EventStatus, classifier.Classify([]byte(frame)).Kind)
}
