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

// StepDetail is structured information recovered from the JSON payload
// a step event embeds after its marker ("assistant: {...}" or
// "tools: {...}"). Everything is optional; an empty StepDetail means
// the payload was absent or unparseable.
type StepDetail struct {
	Model        string
	FinishReason string
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	ToolName     string
	ToolCallID   string
	ToolCalls    []string
}

type stepPayload struct {
	Messages []struct {
		Type             string                 `json:"type"`
		Content          string                 `json:"content"`
		Name             string                 `json:"name"`
		ToolCallID       string                 `json:"tool_call_id"`
		ResponseMetadata map[string]interface{} `json:"response_metadata"`
		ToolCalls        []struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Function struct {
				Name      string `json:"name"`
				Arguments string `json:"arguments"`
			} `json:"function"`
		} `json:"tool_calls"`
	} `json:"messages"`
}

// ParseStepDetail parses the event text of an llm or tool step for
// model/token/tool metadata. The text format is framework output, not
// a contract: any parse failure yields an empty detail.
func ParseStepDetail(text string, kind EventKind) StepDetail {
	start := strings.Index(text, "{")
	if start < 0 {
		return StepDetail{}
	}

	var payload stepPayload
	if err := json.Unmarshal([]byte(text[start:]), &payload); err != nil {
		return StepDetail{}
	}
	if len(payload.Messages) == 0 {
		return StepDetail{}
	}

	switch kind {
	case EventLLM:
		return llmDetail(payload)
	case EventTool:
		return toolDetail(payload)
	default:
		return StepDetail{}
	}
}

// llmDetail reads the last AI message; that is the one carrying the
// response metadata with token usage.
func llmDetail(payload stepPayload) StepDetail {
	var detail StepDetail
	for i := len(payload.Messages) - 1; i >= 0; i-- {
		msg := payload.Messages[i]
		if msg.Type != "ai" {
			continue
		}

		if rm := msg.ResponseMetadata; rm != nil {
			if usage, ok := rm["token_usage"].(map[string]interface{}); ok {
				// OpenAI-style names fall back to the generic ones.
				detail.InputTokens = intField(usage, "input_tokens", "prompt_tokens")
				detail.OutputTokens = intField(usage, "output_tokens", "completion_tokens")
				detail.TotalTokens = intField(usage, "total_tokens")
			}
			if model, ok := rm["model_name"].(string); ok {
				detail.Model = model
			}
			if reason, ok := rm["finish_reason"].(string); ok {
				detail.FinishReason = reason
			}
		}

		for _, call := range msg.ToolCalls {
			name := call.Name
			if name == "" {
				name = call.Function.Name
			}
			if name != "" {
				detail.ToolCalls = append(detail.ToolCalls, name)
			}
		}
		break
	}
	return detail
}

// toolDetail reads the first tool message.
func toolDetail(payload stepPayload) StepDetail {
	var detail StepDetail
	for _, msg := range payload.Messages {
		if msg.Type != "tool" {
			continue
		}
		detail.ToolName = msg.Name
		detail.ToolCallID = msg.ToolCallID
		break
	}
	return detail
}

func intField(m map[string]interface{}, keys ...string) int {
	for _, key := range keys {
		if v, ok := m[key].(float64); ok {
			return int(v)
		}
	}
	return 0
}
