package agent

import (
	"context"
	"encoding/json"

	"github.com/haasonsaas/conduit/pkg/models"
)

// LLMProvider defines the interface for Large Language Model backends.
//
// Implementations of this interface handle the specifics of communicating
// with different LLM APIs (Anthropic, OpenAI, Gemini, Bedrock) while
// presenting a unified streaming interface to the agent loop: canonical
// messages in, canonical stream events out. Backend wire formats and
// event vocabularies never cross this boundary.
//
// Thread Safety:
// Implementations must be safe for concurrent use. Multiple goroutines may
// call Stream() simultaneously for different requests; each call owns fresh
// normalizer state, discarded when its event channel closes.
//
// See Also:
//   - providers.AnthropicProvider for the rich-block (Messages API) target
//   - providers.OpenAIProvider for the linear-chat target
//   - providers.GoogleProvider for the Gemini target
//   - providers.BedrockProvider for the Converse target
type LLMProvider interface {
	// Stream sends a completion request and returns the canonical event
	// sequence. The channel is closed after the terminal response_message
	// event (normal end) or after an error event (abnormal end).
	Stream(ctx context.Context, req *CompletionRequest) (<-chan *models.StreamEvent, error)

	// Name returns the provider name.
	Name() string

	// Models returns available models.
	Models() []Model

	// SupportsTools returns whether the provider supports tool use.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
//
// It carries the canonical conversation history, system prompt, available
// tool declarations, and generation parameters. The provider's outbound
// converter serializes it into the backend wire format.
//
// Example:
//
//	req := &CompletionRequest{
//	    Model:  "claude-sonnet-4-20250514",
//	    System: "You are a helpful coding assistant.",
//	    Messages: []*models.Message{
//	        models.UserMessage("Write a hello world in Go"),
//	    },
//	    MaxTokens: 1024,
//	}
type CompletionRequest struct {
	// Model specifies which LLM model to use (e.g. "claude-sonnet-4-20250514",
	// "gpt-4o"). If empty, the provider's default model is used.
	Model string `json:"model"`

	// System is the system prompt. Handled separately from messages in
	// most LLM APIs.
	System string `json:"system,omitempty"`

	// Messages contains the canonical conversation history in
	// chronological order.
	Messages []*models.Message `json:"messages"`

	// Tools declares the tools the model may request. If empty, no tool
	// calling is available.
	Tools []ToolDefinition `json:"tools,omitempty"`

	// MaxTokens limits the maximum length of the generated response.
	// If 0 or negative, the provider's default is used.
	MaxTokens int `json:"max_tokens,omitempty"`

	// EnableThinking enables extended thinking for supported models.
	EnableThinking bool `json:"enable_thinking,omitempty"`

	// ThinkingBudgetTokens sets the token budget for extended thinking.
	// Only used when EnableThinking is true. If 0, a default is used.
	ThinkingBudgetTokens int `json:"thinking_budget_tokens,omitempty"`

	// CacheEligibleUserTurns is how many trailing user-side turns receive
	// cache markers, for backends that support prompt caching. 0 uses the
	// provider default.
	CacheEligibleUserTurns int `json:"cache_eligible_user_turns,omitempty"`
}

// ToolDefinition declares one tool to the model. Execution belongs to the
// caller; this layer only translates the declaration into each backend's
// tool schema format.
type ToolDefinition struct {
	// Name is the function name the model uses to request the tool.
	Name string `json:"name"`

	// Description tells the model what the tool does.
	Description string `json:"description"`

	// Schema is the JSON Schema for the tool's parameters.
	Schema json.RawMessage `json:"schema"`
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	// ID is the API identifier (e.g. "claude-sonnet-4-20250514").
	ID string `json:"id"`

	// Name is the human-readable model name.
	Name string `json:"name"`

	// ContextSize is the maximum token context window.
	ContextSize int `json:"context_size"`

	// SupportsVision indicates if the model can process images.
	SupportsVision bool `json:"supports_vision"`
}

// DefectKind categorizes a repaired transcript inconsistency.
type DefectKind string

const (
	DefectMissingResult   DefectKind = "missing_result"
	DefectIDMismatch      DefectKind = "id_mismatch"
	DefectDuplicateResult DefectKind = "duplicate_result"
	DefectOrphanResult    DefectKind = "orphan_result"
)

// ProtocolDefect describes one transcript inconsistency found by the
// integrity validator, with the full id lists involved so operators can
// reconstruct what was repaired.
type ProtocolDefect struct {
	// Kind categorizes the defect.
	Kind DefectKind `json:"kind"`

	// CallIDs are the pending tool call ids at detection time.
	CallIDs []string `json:"call_ids,omitempty"`

	// ResultIDs are the result ids on the candidate message.
	ResultIDs []string `json:"result_ids,omitempty"`

	// RepairedIDs are the ids affected by the repair (rewritten,
	// synthesized, or discarded).
	RepairedIDs []string `json:"repaired_ids,omitempty"`
}

// DefectReporter receives structured defect reports from the integrity
// validator. Implementations must never fail the turn; reporting is
// fire-and-forget.
type DefectReporter interface {
	ReportDefect(ctx context.Context, defect ProtocolDefect)
}
