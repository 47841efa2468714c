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

package a2a

import (
	"encoding/json"
	"strings"
)

// EventKind is the category of one streaming event.
type EventKind string

const (
	// EventLLM is an LLM-invocation step.
	EventLLM EventKind = "llm"
	// EventTool is a tool-invocation step.
	EventTool EventKind = "tool"
	// EventArtifact carries the running or final answer text.
	EventArtifact EventKind = "artifact"
	// EventStatus is a terminal or uninteresting status update.
	EventStatus EventKind = "status"
	// EventUnknown is anything the classifier does not recognize.
	EventUnknown EventKind = ""
)

// Event is one classified streaming event.
type Event struct {
	Kind EventKind
	Text string
}

// Classifier categorizes decoded streaming frames. The matching rules
// depend on how the upstream orchestration framework labels its step
// events, so the production heuristic is replaceable without touching
// the span state machine that consumes the events.
type Classifier interface {
	Classify(frame []byte) Event
}

// MarkerClassifier classifies status-update events by fixed substrings
// that LangGraph's step streaming embeds in message text. Tool markers
// are checked before assistant markers: a step that invokes tools is a
// tool step even when both markers appear.
type MarkerClassifier struct {
	ToolMarker      string
	AssistantMarker string
}

// NewMarkerClassifier returns a classifier with the LangGraph markers.
func NewMarkerClassifier() *MarkerClassifier {
	return &MarkerClassifier{
		ToolMarker:      "tools:",
		AssistantMarker: "assistant:",
	}
}

// Classify implements Classifier.
func (c *MarkerClassifier) Classify(frame []byte) Event {
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return Event{Kind: EventUnknown}
	}

	switch resp.Result.Kind {
	case KindArtifactUpdate:
		return Event{Kind: EventArtifact, Text: firstText(resp.Result.Artifact.Parts)}

	case KindStatusUpdate:
		text := firstText(resp.Result.Status.Message.Parts)
		if text != "" {
			if c.ToolMarker != "" && strings.Contains(text, c.ToolMarker) {
				return Event{Kind: EventTool, Text: text}
			}
			if c.AssistantMarker != "" && strings.Contains(text, c.AssistantMarker) {
				return Event{Kind: EventLLM, Text: text}
			}
		}
		return Event{Kind: EventStatus}

	default:
		return Event{Kind: EventUnknown}
	}
}
