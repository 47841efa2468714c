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

// Package a2a decodes the subset of the A2A JSON-RPC wire format the
// processor observes on the data path. The processor is a passive
// reader of traffic it does not originate, so only the fields it
// inspects are declared; unknown fields pass through untouched.
package a2a

// Event kinds carried in streaming result objects.
const (
	KindTask           = "task"
	KindStatusUpdate   = "status-update"
	KindArtifactUpdate = "artifact-update"
)

// Part is one segment of a message or artifact. Only text parts are
// inspected.
type Part struct {
	Kind string `json:"kind,omitempty"`
	Text string `json:"text"`
}

// Message is a user or agent message.
type Message struct {
	MessageID string `json:"messageId,omitempty"`
	ContextID string `json:"contextId,omitempty"`
	Role      string `json:"role,omitempty"`
	Parts     []Part `json:"parts"`
}

// Artifact is a produced output of a task.
type Artifact struct {
	ArtifactID string `json:"artifactId,omitempty"`
	Name       string `json:"name,omitempty"`
	Parts      []Part `json:"parts"`
}

// Request is the JSON-RPC request envelope for message/send and
// message/stream.
type Request struct {
	JSONRPC string `json:"jsonrpc,omitempty"`
	ID      string `json:"id,omitempty"`
	Method  string `json:"method"`
	Params  Params `json:"params"`
}

// Params carries the message and its conversation binding. The
// conversation identifier may live at either level depending on the
// client; request-level wins.
type Params struct {
	ContextID string  `json:"contextId,omitempty"`
	Message   Message `json:"message"`
}

// Response is the JSON-RPC response envelope for a non-streaming
// message/send.
type Response struct {
	JSONRPC string `json:"jsonrpc,omitempty"`
	ID      string `json:"id,omitempty"`
	Result  Result `json:"result"`
}

// Result is the result object of a response or streaming notification.
// Streaming frames reuse the same shape with Kind discriminating task,
// status-update, and artifact-update events.
type Result struct {
	Kind      string     `json:"kind,omitempty"`
	ID        string     `json:"id,omitempty"`
	TaskID    string     `json:"taskId,omitempty"`
	ContextID string     `json:"contextId,omitempty"`
	Final     bool       `json:"final,omitempty"`
	Status    Status     `json:"status,omitempty"`
	Artifact  Artifact   `json:"artifact,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
}

// Status is the task status embedded in status-update events.
type Status struct {
	State   string  `json:"state,omitempty"`
	Message Message `json:"message,omitempty"`
}

// firstText returns the first text part, or "".
func firstText(parts []Part) string {
	if len(parts) == 0 {
		return ""
	}
	return parts[0].Text
}
