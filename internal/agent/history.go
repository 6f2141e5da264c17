package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/haasonsaas/conduit/internal/observability"
	"github.com/haasonsaas/conduit/pkg/models"
)

// unknownToolName is used when a legacy tool result references a call id
// that no assistant entry ever declared.
const unknownToolName = "unknown"

// LegacyEntry is one record of the older persisted conversation format:
// a role plus either string content or an ordered block array, with
// bookkeeping metadata carried alongside.
type LegacyEntry struct {
	// Type tags special entries. An entry tagged "reasoning" with a
	// non-empty Encrypted payload is a standalone reasoning record.
	Type string `json:"type,omitempty"`

	Role    string          `json:"role,omitempty"`
	Content json.RawMessage `json:"content,omitempty"`

	// Reasoning is the message-level reasoning field. When present it
	// takes precedence over any reasoning or thinking content blocks.
	Reasoning string `json:"reasoning,omitempty"`

	Encrypted string `json:"encrypted,omitempty"`
	Summary   string `json:"summary,omitempty"`

	ReasoningDetails []models.ReasoningDetail `json:"reasoning_details,omitempty"`

	ID                string    `json:"id,omitempty"`
	CreatedAt         time.Time `json:"created_at,omitempty"`
	CondenseID        string    `json:"condense_id,omitempty"`
	CondenseParent    string    `json:"condense_parent,omitempty"`
	TruncateID        string    `json:"truncate_id,omitempty"`
	TruncateParent    string    `json:"truncate_parent,omitempty"`
	IsSummary         bool      `json:"is_summary,omitempty"`
	IsTruncationPoint bool      `json:"is_truncation_point,omitempty"`
}

// LegacyBlock is one content block of a legacy entry.
type LegacyBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Image     string `json:"image,omitempty"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`

	// Tool use fields.
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// Tool result fields.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`

	// Thinking / thought signature fields.
	Thinking  string `json:"thinking,omitempty"`
	Signature string `json:"signature,omitempty"`
}

// ImportLegacy converts an ordered legacy history into the canonical
// sequence.
//
// The conversion runs in two passes. Pass one scans every assistant entry
// and builds a tool-use-id to tool-name map, so tool results can be named
// regardless of entry ordering. Pass two converts each entry:
//
//   - String content converts one to one.
//   - Array content on a user entry splits into a tool message (the
//     tool-result blocks, names resolved via the map) followed by a user
//     message of the remaining blocks; either half is omitted when empty.
//   - Array content on an assistant entry folds into one assistant
//     message. A message-level reasoning field suppresses reasoning and
//     thinking blocks; a thought-signature block is never emitted as
//     content and instead rides on the first tool call part; a thinking
//     block's signature rides on its reasoning part.
//   - An entry tagged reasoning with an encrypted payload becomes a
//     standalone reasoning record.
//
// Reasoning-detail lists are filtered to structurally valid entries; a
// list with zero valid entries is dropped entirely.
//
// Malformed content is never fatal: the importer logs a warning and
// returns an empty sequence.
func ImportLegacy(ctx context.Context, entries []LegacyEntry, logger *observability.Logger) []*models.Message {
	if len(entries) == 0 {
		return nil
	}

	toolNames, err := buildToolNameMap(entries)
	if err != nil {
		warn(ctx, logger, "skipping malformed legacy history", "error", err)
		return nil
	}

	imported := make([]*models.Message, 0, len(entries))
	for i, entry := range entries {
		if entry.Type == "reasoning" && entry.Encrypted != "" {
			record := &models.Message{
				Role:      models.RoleReasoning,
				Encrypted: entry.Encrypted,
				Summary:   entry.Summary,
			}
			applyBookkeeping(record, entry, true)
			imported = append(imported, record)
			continue
		}

		text, blocks, err := parseContent(entry.Content)
		if err != nil {
			warn(ctx, logger, "skipping malformed legacy history", "entry", i, "error", err)
			return nil
		}

		if blocks == nil {
			msg := &models.Message{Role: models.Role(entry.Role)}
			if text != "" {
				msg.Parts = []models.Part{models.TextPart(text)}
			}
			applyBookkeeping(msg, entry, true)
			msg.ReasoningDetails = models.FilterReasoningDetails(entry.ReasoningDetails)
			imported = append(imported, msg)
			continue
		}

		switch models.Role(entry.Role) {
		case models.RoleAssistant:
			imported = append(imported, importAssistantBlocks(entry, blocks))
		case models.RoleUser:
			imported = append(imported, importUserBlocks(entry, blocks, toolNames)...)
		default:
			warn(ctx, logger, "skipping malformed legacy history", "entry", i, "role", entry.Role)
			return nil
		}
	}
	return imported
}

// buildToolNameMap is pass one: tool-use id to tool name, across all
// assistant entries.
func buildToolNameMap(entries []LegacyEntry) (map[string]string, error) {
	names := make(map[string]string)
	for _, entry := range entries {
		if models.Role(entry.Role) != models.RoleAssistant {
			continue
		}
		_, blocks, err := parseContent(entry.Content)
		if err != nil {
			return nil, err
		}
		for _, b := range blocks {
			if b.Type == "tool_use" && b.ID != "" {
				names[b.ID] = b.Name
			}
		}
	}
	return names, nil
}

// parseContent decodes legacy content, which is either a plain string or a
// block array. A nil blocks return means string content.
func parseContent(raw json.RawMessage) (string, []LegacyBlock, error) {
	if len(raw) == 0 {
		return "", nil, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil, nil
	}
	var blocks []LegacyBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return "", nil, err
	}
	if blocks == nil {
		blocks = []LegacyBlock{}
	}
	return "", blocks, nil
}

func importAssistantBlocks(entry LegacyEntry, blocks []LegacyBlock) *models.Message {
	msg := &models.Message{Role: models.RoleAssistant}
	suppressBlockReasoning := entry.Reasoning != ""
	if suppressBlockReasoning {
		msg.Parts = append(msg.Parts, models.ReasoningPart(entry.Reasoning))
	}

	var thoughtSignature string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			msg.Parts = append(msg.Parts, models.TextPart(b.Text))
		case "tool_use":
			msg.Parts = append(msg.Parts, models.ToolCallPart(b.ID, b.Name, b.Input))
		case "reasoning":
			if !suppressBlockReasoning {
				msg.Parts = append(msg.Parts, models.ReasoningPart(b.Text))
			}
		case "thinking":
			if !suppressBlockReasoning {
				part := models.ReasoningPart(b.Thinking)
				part.Signature = b.Signature
				msg.Parts = append(msg.Parts, part)
			}
		case "thought_signature":
			// Not content. Rides on the first tool call part below.
			if thoughtSignature == "" {
				thoughtSignature = b.Signature
			}
		}
	}

	if thoughtSignature != "" {
		for i := range msg.Parts {
			if msg.Parts[i].Type == models.PartToolCall {
				msg.Parts[i].Signature = thoughtSignature
				break
			}
		}
	}

	applyBookkeeping(msg, entry, true)
	msg.ReasoningDetails = models.FilterReasoningDetails(entry.ReasoningDetails)
	return msg
}

// importUserBlocks splits a legacy user entry into a tool message followed
// by a user message. Tool results in legacy histories were stored inline on
// the user turn; the canonical model gives them their own role.
func importUserBlocks(entry LegacyEntry, blocks []LegacyBlock, toolNames map[string]string) []*models.Message {
	var results, rest []models.Part
	for _, b := range blocks {
		switch b.Type {
		case "tool_result":
			name, ok := toolNames[b.ToolUseID]
			if !ok || name == "" {
				name = unknownToolName
			}
			res := models.ToolResultPart(b.ToolUseID, name, b.Content)
			res.IsError = b.IsError
			results = append(results, res)
		case "text":
			rest = append(rest, models.TextPart(b.Text))
		case "image":
			rest = append(rest, models.ImagePart(b.Image, b.MediaType))
		case "file":
			rest = append(rest, models.FilePart(b.Data, b.MediaType))
		}
	}

	var out []*models.Message
	if len(results) > 0 {
		tool := &models.Message{Role: models.RoleTool, Parts: results}
		applyBookkeeping(tool, entry, len(rest) == 0)
		out = append(out, tool)
	}
	if len(rest) > 0 {
		user := &models.Message{Role: models.RoleUser, Parts: rest}
		applyBookkeeping(user, entry, true)
		out = append(out, user)
	}
	return out
}

// applyBookkeeping copies entry metadata onto a message. The entry id goes
// only to the primary message of a split, so ids stay unique.
func applyBookkeeping(msg *models.Message, entry LegacyEntry, primary bool) {
	if primary {
		msg.ID = entry.ID
	}
	msg.CreatedAt = entry.CreatedAt
	msg.CondenseID = entry.CondenseID
	msg.CondenseParent = entry.CondenseParent
	msg.TruncateID = entry.TruncateID
	msg.TruncateParent = entry.TruncateParent
	msg.IsSummary = entry.IsSummary
	msg.IsTruncationPoint = entry.IsTruncationPoint
}

func warn(ctx context.Context, logger *observability.Logger, msg string, args ...any) {
	if logger == nil {
		return
	}
	logger.Warn(ctx, msg, args...)
}
