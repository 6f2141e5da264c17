package agent

import (
	"context"
	"fmt"

	"github.com/haasonsaas/conduit/pkg/models"
)

// interruptedResultText is the placeholder output synthesized for tool calls
// that never received a result.
const interruptedResultText = "Tool call was interrupted before completion."

// RepairToolTranscript validates a candidate inbound message against the
// most recent assistant tool calls and returns a best-effort corrected copy.
// It never fails the turn.
//
// If the latest assistant message in history has no tool call parts, the
// candidate is returned unchanged. Otherwise:
//
//  1. Duplicate result ids on the candidate are dropped, first occurrence kept.
//  2. Uncovered call ids and invalid result ids are computed; if both are
//     empty the candidate is returned as-is.
//  3. A result with a missing, unknown, or already-claimed id is reassigned
//     to the call at the same ordinal position when that call is unclaimed;
//     results with no usable pairing are discarded.
//  4. Every call id still uncovered gets a synthesized interrupted result,
//     prepended ahead of the real ones.
//
// The positional reassignment in step 3 is a heuristic with no semantic
// verification; it matches the historical behavior downstream tools expect.
// Every defect is reported to reporter (which may be nil) with the full id
// lists involved.
func RepairToolTranscript(ctx context.Context, candidate *models.Message, history []*models.Message, reporter DefectReporter) *models.Message {
	latest := latestAssistant(history)
	if latest == nil {
		return candidate
	}
	calls := latest.ToolCallParts()
	if len(calls) == 0 {
		return candidate
	}

	callIDs := make([]string, len(calls))
	callNames := make(map[string]string, len(calls))
	callSet := make(map[string]struct{}, len(calls))
	for i, call := range calls {
		callIDs[i] = call.ToolCallID
		callNames[call.ToolCallID] = call.ToolName
		callSet[call.ToolCallID] = struct{}{}
	}

	originalIDs := resultIDs(candidate)

	// Step 1: dedupe by id, first occurrence wins.
	results, duplicates := dedupeResults(candidate)
	if len(duplicates) > 0 {
		report(ctx, reporter, ProtocolDefect{
			Kind:        DefectDuplicateResult,
			CallIDs:     callIDs,
			ResultIDs:   originalIDs,
			RepairedIDs: duplicates,
		})
	}

	// Step 2: classify.
	claimed := make(map[string]struct{}, len(results))
	valid := make([]bool, len(results))
	for i, res := range results {
		id := res.ToolCallID
		if id == "" {
			continue
		}
		if _, known := callSet[id]; !known {
			continue
		}
		if _, taken := claimed[id]; taken {
			continue
		}
		claimed[id] = struct{}{}
		valid[i] = true
	}

	uncovered := uncoveredIDs(callIDs, claimed)
	anyInvalid := false
	for _, v := range valid {
		if !v {
			anyInvalid = true
			break
		}
	}
	if len(uncovered) == 0 && !anyInvalid {
		if len(duplicates) == 0 {
			return candidate
		}
		return rebuildCandidate(candidate, nil, results)
	}

	// Step 3: positional re-pair of invalid results.
	var rewritten, discarded []string
	kept := make([]models.Part, 0, len(results))
	for i, res := range results {
		if valid[i] {
			if res.ToolName == "" {
				res.ToolName = callNames[res.ToolCallID]
			}
			kept = append(kept, res)
			continue
		}
		if i < len(callIDs) {
			target := callIDs[i]
			if _, taken := claimed[target]; !taken {
				claimed[target] = struct{}{}
				rewritten = append(rewritten, fmt.Sprintf("%s->%s", res.ToolCallID, target))
				res.ToolCallID = target
				res.ToolName = callNames[target]
				kept = append(kept, res)
				continue
			}
		}
		discarded = append(discarded, res.ToolCallID)
	}
	if len(rewritten) > 0 {
		report(ctx, reporter, ProtocolDefect{
			Kind:        DefectIDMismatch,
			CallIDs:     callIDs,
			ResultIDs:   originalIDs,
			RepairedIDs: rewritten,
		})
	}
	if len(discarded) > 0 {
		report(ctx, reporter, ProtocolDefect{
			Kind:        DefectOrphanResult,
			CallIDs:     callIDs,
			ResultIDs:   originalIDs,
			RepairedIDs: discarded,
		})
	}

	// Step 4: synthesize interrupted results for still-uncovered calls.
	uncovered = uncoveredIDs(callIDs, claimed)
	var synthesized []models.Part
	for _, id := range uncovered {
		res := models.ToolResultPart(id, callNames[id], interruptedResultText)
		res.IsError = true
		synthesized = append(synthesized, res)
	}
	if len(synthesized) > 0 {
		report(ctx, reporter, ProtocolDefect{
			Kind:        DefectMissingResult,
			CallIDs:     callIDs,
			ResultIDs:   originalIDs,
			RepairedIDs: uncovered,
		})
	}

	return rebuildCandidate(candidate, synthesized, kept)
}

// RepairHistory walks a full history and enforces call/result pairing at
// every assistant/tool boundary: tool messages are repaired against the
// conversation so far, and an assistant message whose calls were never
// answered gets a synthesized tool message before the conversation moves
// on. Run before building the next outbound request.
func RepairHistory(ctx context.Context, history []*models.Message, reporter DefectReporter) []*models.Message {
	if len(history) == 0 {
		return history
	}

	repaired := make([]*models.Message, 0, len(history))
	for _, msg := range history {
		if msg == nil {
			continue
		}
		if msg.Role == models.RoleTool {
			fixed := RepairToolTranscript(ctx, msg, repaired, reporter)
			if len(fixed.Parts) == 0 {
				continue
			}
			repaired = append(repaired, fixed)
			continue
		}
		if closing := closePending(ctx, repaired, reporter); closing != nil {
			repaired = append(repaired, closing)
		}
		repaired = append(repaired, msg)
	}
	if closing := closePending(ctx, repaired, reporter); closing != nil {
		repaired = append(repaired, closing)
	}
	return repaired
}

// closePending synthesizes a tool message answering the trailing assistant
// message's calls, or returns nil when nothing is pending.
func closePending(ctx context.Context, history []*models.Message, reporter DefectReporter) *models.Message {
	if len(history) == 0 {
		return nil
	}
	last := history[len(history)-1]
	if last.Role != models.RoleAssistant || len(last.ToolCallParts()) == 0 {
		return nil
	}
	empty := &models.Message{Role: models.RoleTool}
	fixed := RepairToolTranscript(ctx, empty, history, reporter)
	if len(fixed.Parts) == 0 {
		return nil
	}
	return fixed
}

func latestAssistant(history []*models.Message) *models.Message {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i] != nil && history[i].Role == models.RoleAssistant {
			return history[i]
		}
	}
	return nil
}

// dedupeResults returns the candidate's result parts with duplicate ids
// removed (first occurrence kept) and the dropped ids.
func dedupeResults(candidate *models.Message) ([]models.Part, []string) {
	seen := make(map[string]struct{})
	var results []models.Part
	var duplicates []string
	for _, p := range candidate.Parts {
		if p.Type != models.PartToolResult {
			continue
		}
		if p.ToolCallID != "" {
			if _, dup := seen[p.ToolCallID]; dup {
				duplicates = append(duplicates, p.ToolCallID)
				continue
			}
			seen[p.ToolCallID] = struct{}{}
		}
		results = append(results, p)
	}
	return results, duplicates
}

func resultIDs(candidate *models.Message) []string {
	var ids []string
	for _, p := range candidate.Parts {
		if p.Type == models.PartToolResult {
			ids = append(ids, p.ToolCallID)
		}
	}
	return ids
}

func uncoveredIDs(callIDs []string, claimed map[string]struct{}) []string {
	var uncovered []string
	for _, id := range callIDs {
		if _, ok := claimed[id]; !ok {
			uncovered = append(uncovered, id)
		}
	}
	return uncovered
}

// rebuildCandidate reassembles the candidate with synthesized results first,
// then repaired results, then any non-result parts in their original order.
func rebuildCandidate(candidate *models.Message, synthesized, results []models.Part) *models.Message {
	fixed := candidate.Clone()
	parts := make([]models.Part, 0, len(synthesized)+len(results)+len(candidate.Parts))
	parts = append(parts, synthesized...)
	parts = append(parts, results...)
	for _, p := range candidate.Parts {
		if p.Type != models.PartToolResult {
			parts = append(parts, p)
		}
	}
	fixed.Parts = parts
	return fixed
}

func report(ctx context.Context, reporter DefectReporter, defect ProtocolDefect) {
	if reporter == nil {
		return
	}
	reporter.ReportDefect(ctx, defect)
}
