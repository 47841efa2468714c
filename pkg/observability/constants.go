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

// GenAI semantic-convention attribute names. The OTEL collector derives
// MLflow/OpenInference attributes from these; only mlflow.trace.session
// must be set by the producer for sessions to appear in the chat UI.
const (
	AttrOperationName  = "gen_ai.operation.name"
	AttrProviderName   = "gen_ai.provider.name"
	AttrSystem         = "gen_ai.system"
	AttrAgentName      = "gen_ai.agent.name"
	AttrAgentVersion   = "gen_ai.agent.version"
	AttrPrompt         = "gen_ai.prompt"
	AttrCompletion     = "gen_ai.completion"
	AttrConversationID = "gen_ai.conversation.id"
	AttrRequestModel   = "gen_ai.request.model"
	AttrResponseModel  = "gen_ai.response.model"
	AttrFinishReasons  = "gen_ai.response.finish_reasons"
	AttrInputTokens    = "gen_ai.usage.input_tokens"
	AttrOutputTokens   = "gen_ai.usage.output_tokens"
	AttrTotalTokens    = "gen_ai.usage.total_tokens"
	AttrToolName       = "gen_ai.tool.name"
	AttrToolCallID     = "gen_ai.tool.call.id"
	AttrToolCalls      = "gen_ai.tool.calls"
	AttrMLflowSession  = "mlflow.trace.session"

	AttrEventText  = "event.text"
	AttrEventIndex = "event.index"

	OperationInvokeAgent = "invoke_agent"
	OperationChat        = "chat"
	OperationExecuteTool = "execute_tool"

	TracerName = "authbridge.processor"
)

// MaxAttrLength bounds the size of text attributes so a chatty agent
// cannot inflate span payloads.
const MaxAttrLength = 4096
