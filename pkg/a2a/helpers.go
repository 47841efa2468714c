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

import "github.com/google/uuid"

// NewMessageRequest builds a message/send request envelope for the
// given conversation and text. Used by tooling and tests that need to
// produce traffic shaped like real clients'.
func NewMessageRequest(contextID, text string) *Request {
	return &Request{
		JSONRPC: "2.0",
		ID:      uuid.NewString(),
		Method:  "message/send",
		Params: Params{
			ContextID: contextID,
			Message: Message{
				MessageID: uuid.NewString(),
				ContextID: contextID,
				Role:      "user",
				Parts:     []Part{{Kind: "text", Text: text}},
			},
		},
	}
}
