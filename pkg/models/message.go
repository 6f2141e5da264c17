// Package models provides the canonical conversation types for the Conduit
// translation layer. Every component — the legacy importer, the outbound
// format converters, the stream normalizers, and the transcript validator —
// reads and writes only these types; backend wire formats never leak past
// the provider packages.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Role indicates the message author type.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"

	// RoleReasoning marks a standalone reasoning record: an opaque,
	// provider-encrypted continuation payload that is replayed verbatim on
	// the next request and never rendered.
	RoleReasoning Role = "reasoning"
)

// PartType discriminates the content part union.
type PartType string

const (
	PartText       PartType = "text"
	PartImage      PartType = "image"
	PartFile       PartType = "file"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
	PartReasoning  PartType = "reasoning"
)

// Part is one ordered content element of a message. It is a flat tagged
// union: Type selects which fields are meaningful.
type Part struct {
	Type PartType `json:"type"`

	// Text carries text and reasoning content.
	Text string `json:"text,omitempty"`

	// Image is a URL or base64 data URL. MediaType applies to images and files.
	Image     string `json:"image,omitempty"`
	MediaType string `json:"media_type,omitempty"`

	// Data carries base64 file content for file parts.
	Data string `json:"data,omitempty"`

	// Tool call / tool result fields.
	ToolCallID string          `json:"tool_call_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	Output     string          `json:"output,omitempty"`
	IsError    bool            `json:"is_error,omitempty"`

	// Signature is an opaque provider continuation token attached to this
	// part (a thinking-block signature, or a thought signature that must
	// ride on the first call of a parallel batch). Replayed byte-for-byte.
	Signature string `json:"signature,omitempty"`
}

// TextPart builds a text part.
func TextPart(text string) Part {
	return Part{Type: PartText, Text: text}
}

// ImagePart builds an image part.
func ImagePart(image, mediaType string) Part {
	return Part{Type: PartImage, Image: image, MediaType: mediaType}
}

// FilePart builds a file part.
func FilePart(data, mediaType string) Part {
	return Part{Type: PartFile, Data: data, MediaType: mediaType}
}

// ToolCallPart builds a tool call part.
func ToolCallPart(id, name string, input json.RawMessage) Part {
	return Part{Type: PartToolCall, ToolCallID: id, ToolName: name, Input: input}
}

// ToolResultPart builds a tool result part.
func ToolResultPart(id, name, output string) Part {
	return Part{Type: PartToolResult, ToolCallID: id, ToolName: name, Output: output}
}

// ReasoningPart builds a reasoning part.
func ReasoningPart(text string) Part {
	return Part{Type: PartReasoning, Text: text}
}

// ReasoningDetail is one entry of a message-level side-channel list carried
// back from providers that report reasoning out of band. Kind selects the
// required shape; entries failing the shape check are dropped on import.
type ReasoningDetail struct {
	Kind      string `json:"kind"`
	Text      string `json:"text,omitempty"`
	Summary   string `json:"summary,omitempty"`
	Data      string `json:"data,omitempty"`
	Signature string `json:"signature,omitempty"`
	ID        string `json:"id,omitempty"`
}

// Detail kinds recognized by Valid.
const (
	DetailKindText      = "text"
	DetailKindSummary   = "summary"
	DetailKindEncrypted = "encrypted"
)

// Valid reports whether the detail has the required shape for its kind.
func (d ReasoningDetail) Valid() bool {
	switch d.Kind {
	case DetailKindText:
		return d.Text != ""
	case DetailKindSummary:
		return d.Summary != ""
	case DetailKindEncrypted:
		return d.Data != ""
	default:
		return false
	}
}

// FilterReasoningDetails keeps only structurally valid entries. It returns
// nil — not an empty slice — when no entry survives, so that downstream
// serialization omits the field entirely instead of emitting a hollow list.
func FilterReasoningDetails(details []ReasoningDetail) []ReasoningDetail {
	var valid []ReasoningDetail
	for _, d := range details {
		if d.Valid() {
			valid = append(valid, d)
		}
	}
	return valid
}

// Message is the canonical representation of one conversational turn.
//
// Roles user/assistant/tool carry ordered Parts. RoleReasoning is a
// standalone record whose Encrypted payload is replayed verbatim to the
// provider family that produced it.
//
// Histories are append-only: summarization and truncation passes annotate
// the bookkeeping fields on new messages that back-link to the ones they
// replace; they never rewrite content. Every conversion in this repo
// carries the bookkeeping fields through unchanged.
type Message struct {
	ID    string `json:"id,omitempty"`
	Role  Role   `json:"role"`
	Parts []Part `json:"parts,omitempty"`

	// Standalone reasoning record payload (Role == RoleReasoning).
	Encrypted string `json:"encrypted,omitempty"`
	Summary   string `json:"summary,omitempty"`

	// ReasoningDetails is the message-level side-channel list. Only
	// structurally valid entries may be stored; absent means none.
	ReasoningDetails []ReasoningDetail `json:"reasoning_details,omitempty"`

	CreatedAt         time.Time `json:"created_at,omitempty"`
	CondenseID        string    `json:"condense_id,omitempty"`
	CondenseParent    string    `json:"condense_parent,omitempty"`
	TruncateID        string    `json:"truncate_id,omitempty"`
	TruncateParent    string    `json:"truncate_parent,omitempty"`
	IsSummary         bool      `json:"is_summary,omitempty"`
	IsTruncationPoint bool      `json:"is_truncation_point,omitempty"`
}

// Text concatenates the message's text parts.
func (m *Message) Text() string {
	var b strings.Builder
	for _, p := range m.Parts {
		if p.Type == PartText {
			b.WriteString(p.Text)
		}
	}
	return b.String()
}

// ToolCallParts returns the tool call parts in content order.
func (m *Message) ToolCallParts() []Part {
	var calls []Part
	for _, p := range m.Parts {
		if p.Type == PartToolCall {
			calls = append(calls, p)
		}
	}
	return calls
}

// ToolResultParts returns the tool result parts in content order.
func (m *Message) ToolResultParts() []Part {
	var results []Part
	for _, p := range m.Parts {
		if p.Type == PartToolResult {
			results = append(results, p)
		}
	}
	return results
}

// AllText reports whether every part is a text part. Messages with no
// parts are not all-text.
func (m *Message) AllText() bool {
	if len(m.Parts) == 0 {
		return false
	}
	for _, p := range m.Parts {
		if p.Type != PartText {
			return false
		}
	}
	return true
}

// Clone returns a copy with its own Parts slice, so callers can repair a
// candidate message without mutating stored history.
func (m *Message) Clone() *Message {
	copied := *m
	copied.Parts = make([]Part, len(m.Parts))
	copy(copied.Parts, m.Parts)
	return &copied
}

// UserMessage builds a plain-text user message.
func UserMessage(text string) *Message {
	return &Message{Role: RoleUser, Parts: []Part{TextPart(text)}, CreatedAt: time.Now()}
}

// AssistantMessage builds an assistant message from parts.
func AssistantMessage(parts ...Part) *Message {
	return &Message{Role: RoleAssistant, Parts: parts, CreatedAt: time.Now()}
}

// ToolMessage builds a tool message from result parts.
func ToolMessage(results ...Part) *Message {
	return &Message{Role: RoleTool, Parts: results, CreatedAt: time.Now()}
}
