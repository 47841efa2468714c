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
	"bytes"
	"encoding/json"
	"strings"
)

// ParsedRequest is what the processor needs from one request body.
type ParsedRequest struct {
	UserInput string
	ContextID string
}

// ParseRequest extracts the user input text and conversation id from a
// JSON-RPC request body. Parsing never fails: a malformed body yields
// the zero value and the caller proceeds with degraded data.
func ParseRequest(body []byte) ParsedRequest {
	var req Request
	if err := json.Unmarshal(body, &req); err != nil {
		return ParsedRequest{}
	}

	contextID := req.Params.ContextID
	if contextID == "" {
		contextID = req.Params.Message.ContextID
	}

	return ParsedRequest{
		UserInput: firstText(req.Params.Message.Parts),
		ContextID: contextID,
	}
}

// Frames extracts the payloads of `data:` lines from a chunk of an SSE
// stream. Incomplete trailing lines simply produce no frame; callers
// that need cross-chunk reassembly run the whole accumulated buffer
// through ExtractOutput at end-of-stream.
func Frames(chunk []byte) [][]byte {
	var frames [][]byte
	for _, line := range strings.Split(string(chunk), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload != "" {
			frames = append(frames, []byte(payload))
		}
	}
	return frames
}

// EventContext pulls the task id and conversation id out of a
// streaming frame. The first frame of a stream (kind=task) carries the
// task id in result.id; later status frames carry it as result.taskId.
// The conversation id is present on every frame.
func EventContext(frame []byte) (taskID, contextID string) {
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return "", ""
	}
	contextID = resp.Result.ContextID
	if resp.Result.Kind == KindTask {
		taskID = resp.Result.ID
	}
	if taskID == "" {
		taskID = resp.Result.TaskID
	}
	return taskID, contextID
}

// ExtractOutput extracts the agent's answer text from a complete
// response body, trying three increasingly permissive strategies:
//
//  1. the body is a single JSON-RPC response: first artifact, first
//     text part;
//  2. the body is an SSE stream: scan data: frames and keep the last
//     non-empty artifact text (later frames supersede earlier ones —
//     streaming repeats and extends partial text);
//  3. neither worked: parse the last balanced {...} object in the raw
//     buffer as a JSON-RPC response.
//
// Returns "" when nothing could be extracted.
func ExtractOutput(body []byte) string {
	if text := outputFromResponse(body); text != "" {
		return text
	}

	var last string
	for _, frame := range Frames(body) {
		if text := outputFromFrame(frame); text != "" {
			last = text
		}
	}
	if last != "" {
		return last
	}

	if obj := lastJSONObject(body); obj != nil {
		return outputFromResponse(obj)
	}
	return ""
}

// outputFromResponse reads result.artifacts[0].parts[0].text.
func outputFromResponse(body []byte) string {
	var resp Response
	if err := json.Unmarshal(body, &resp); err != nil {
		return ""
	}
	if len(resp.Result.Artifacts) == 0 {
		return ""
	}
	return firstText(resp.Result.Artifacts[0].Parts)
}

// outputFromFrame reads artifact text from one streaming frame,
// accepting both the completed-artifacts shape and the artifact-update
// shape.
func outputFromFrame(frame []byte) string {
	var resp Response
	if err := json.Unmarshal(frame, &resp); err != nil {
		return ""
	}
	if len(resp.Result.Artifacts) > 0 {
		if text := firstText(resp.Result.Artifacts[0].Parts); text != "" {
			return text
		}
	}
	return firstText(resp.Result.Artifact.Parts)
}

// lastJSONObject scans backward from the last '}' for its balancing
// '{' and returns that slice, or nil. A brace-depth count is enough
// here: the fallback only has to survive log noise around a trailing
// JSON object, not nested string escapes.
func lastJSONObject(body []byte) []byte {
	end := bytes.LastIndexByte(body, '}')
	if end < 0 {
		return nil
	}
	depth := 0
	for i := end; i >= 0; i-- {
		switch body[i] {
		case '}':
			depth++
		case '{':
			depth--
			if depth == 0 {
				return body[i : end+1]
			}
		}
	}
	return nil
}
