package models

// StreamEvent is the canonical streaming event emitted by every provider
// normalizer. Consumers see one vocabulary regardless of backend.
//
// Design principles:
//   - Single Type discriminator with optional payload pointers
//   - Exactly one payload is non-nil for a given Type
//   - Provider-specific stream shapes never escape the normalizer
type StreamEvent struct {
	// Type identifies the kind of event.
	Type StreamEventType `json:"type"`

	// Exactly one payload should be non-nil for a given Type.
	Text      *TextDelta      `json:"text,omitempty"`
	Reasoning *ReasoningDelta `json:"reasoning,omitempty"`
	ToolCall  *ToolCallEvent  `json:"tool_call,omitempty"`
	Usage     *TokenUsage     `json:"usage,omitempty"`
	Grounding *Grounding      `json:"grounding,omitempty"`
	Error     *StreamError    `json:"error,omitempty"`

	// Message carries the fully assembled assistant message on
	// response_message events.
	Message *Message `json:"message,omitempty"`
}

// StreamEventType identifies the kind of stream event.
type StreamEventType string

const (
	// Content deltas
	EventText      StreamEventType = "text"
	EventReasoning StreamEventType = "reasoning"

	// Tool call lifecycle
	EventToolCallStart StreamEventType = "tool_call_start"
	EventToolCallDelta StreamEventType = "tool_call_delta"
	EventToolCallEnd   StreamEventType = "tool_call_end"

	// Stream metadata
	EventUsage     StreamEventType = "usage"
	EventGrounding StreamEventType = "grounding"
	EventError     StreamEventType = "error"

	// EventResponseMessage is emitted exactly once, after all content
	// events and before the channel closes, carrying the assembled
	// assistant message.
	EventResponseMessage StreamEventType = "response_message"
)

// TextDelta is an incremental chunk of assistant text.
type TextDelta struct {
	Content string `json:"content"`
}

// ReasoningDelta is an incremental chunk of visible reasoning text.
type ReasoningDelta struct {
	Content string `json:"content"`
}

// ToolCallEvent covers the tool call lifecycle. Start events carry ID and
// Name; delta events carry an ArgsDelta fragment; end events carry the
// complete Args accumulated for the call.
type ToolCallEvent struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	ArgsDelta string `json:"args_delta,omitempty"`
	Args      string `json:"args,omitempty"`
}

// TokenUsage reports token accounting for one completion. Cache and
// reasoning counts are optional; not all providers supply them. Cost is
// left zero here and filled by callers that maintain a pricing table.
type TokenUsage struct {
	InputTokens      int     `json:"input_tokens"`
	OutputTokens     int     `json:"output_tokens"`
	CacheReadTokens  int     `json:"cache_read_tokens,omitempty"`
	CacheWriteTokens int     `json:"cache_write_tokens,omitempty"`
	ReasoningTokens  int     `json:"reasoning_tokens,omitempty"`
	Cost             float64 `json:"cost,omitempty"`
}

// Grounding reports source attribution metadata from providers that
// perform retrieval during generation.
type Grounding struct {
	Sources []GroundingSource `json:"sources,omitempty"`
	Queries []string          `json:"queries,omitempty"`
}

// GroundingSource is one attributed source.
type GroundingSource struct {
	Title string `json:"title,omitempty"`
	URL   string `json:"url,omitempty"`
}

// StreamError reports a mid-stream failure. Err preserves the original
// error for errors.Is/errors.As; it is not serialized.
type StreamError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
	Err     error  `json:"-"`
}

// TextEvent builds a text delta event.
func TextEvent(content string) *StreamEvent {
	return &StreamEvent{Type: EventText, Text: &TextDelta{Content: content}}
}

// ReasoningEvent builds a reasoning delta event.
func ReasoningEvent(content string) *StreamEvent {
	return &StreamEvent{Type: EventReasoning, Reasoning: &ReasoningDelta{Content: content}}
}

// ToolCallStartEvent builds a tool call start event.
func ToolCallStartEvent(id, name string) *StreamEvent {
	return &StreamEvent{Type: EventToolCallStart, ToolCall: &ToolCallEvent{ID: id, Name: name}}
}

// ToolCallDeltaEvent builds a tool call argument fragment event.
func ToolCallDeltaEvent(id, argsDelta string) *StreamEvent {
	return &StreamEvent{Type: EventToolCallDelta, ToolCall: &ToolCallEvent{ID: id, ArgsDelta: argsDelta}}
}

// ToolCallEndEvent builds a tool call end event with complete arguments.
func ToolCallEndEvent(id, name, args string) *StreamEvent {
	return &StreamEvent{Type: EventToolCallEnd, ToolCall: &ToolCallEvent{ID: id, Name: name, Args: args}}
}

// UsageEvent builds a usage event.
func UsageEvent(usage TokenUsage) *StreamEvent {
	return &StreamEvent{Type: EventUsage, Usage: &usage}
}

// GroundingEvent builds a grounding metadata event.
func GroundingEvent(g Grounding) *StreamEvent {
	return &StreamEvent{Type: EventGrounding, Grounding: &g}
}

// ErrorEvent builds an error event.
func ErrorEvent(err error) *StreamEvent {
	return &StreamEvent{Type: EventError, Error: &StreamError{Message: err.Error(), Err: err}}
}

// ResponseMessageEvent builds the terminal assembled-message event.
func ResponseMessageEvent(msg *Message) *StreamEvent {
	return &StreamEvent{Type: EventResponseMessage, Message: msg}
}
