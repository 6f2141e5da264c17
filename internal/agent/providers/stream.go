package providers

import (
	"strings"

	"github.com/haasonsaas/conduit/pkg/models"
)

// maxEmptyStreamEvents bounds how many consecutive no-output events a
// normalizer tolerates before declaring the stream malformed.
const maxEmptyStreamEvents = 300

// defaultRedactionSentinel is the reasoning delta value providers send in
// place of redacted thinking. It is dropped, never forwarded.
const defaultRedactionSentinel = "[REDACTED]"

// toolCallAccum accumulates one in-flight tool call. Some backends send the
// id and name only on the first event and bare argument fragments after, so
// identity is backfilled from here.
type toolCallAccum struct {
	id   string
	name string
	args strings.Builder

	// sig is a continuation signature riding on this call, replayed on
	// the matching part of the assembled message.
	sig string
}

// streamState is the per-stream normalizer state shared by every provider:
// the tool-call argument accumulator, the assembled message content, and
// the last captured stream error. One instance per stream, discarded when
// the stream ends. Never shared across goroutines.
type streamState struct {
	sentinel string

	calls     map[string]*toolCallAccum
	callOrder []string
	current   string // id of the open tool call, "" when none

	text      strings.Builder
	reasoning strings.Builder

	// reasoningSig is the continuation signature attached to the
	// assembled reasoning part, captured from signature deltas.
	reasoningSig string

	lastErr     error
	emptyEvents int
}

func newStreamState(sentinel string) *streamState {
	if sentinel == "" {
		sentinel = defaultRedactionSentinel
	}
	return &streamState{
		sentinel: sentinel,
		calls:    make(map[string]*toolCallAccum),
	}
}

// startToolCall registers a call and returns the canonical start event.
func (s *streamState) startToolCall(id, name string) *models.StreamEvent {
	if _, exists := s.calls[id]; !exists {
		s.calls[id] = &toolCallAccum{id: id, name: name}
		s.callOrder = append(s.callOrder, id)
	}
	s.current = id
	return models.ToolCallStartEvent(id, name)
}

// appendToolArgs accumulates an argument fragment and returns the delta
// event with identity resolved. A fragment without an id belongs to the
// open call.
func (s *streamState) appendToolArgs(id, fragment string) *models.StreamEvent {
	if id == "" {
		id = s.current
	}
	acc, ok := s.calls[id]
	if !ok {
		// Fragment for a call that never started. Nothing to attach it to.
		return nil
	}
	acc.args.WriteString(fragment)
	return models.ToolCallDeltaEvent(id, fragment)
}

// backfillToolName fills in a call's name when the backend delivers it on a
// later fragment than the id.
func (s *streamState) backfillToolName(id, name string) {
	if name == "" {
		return
	}
	if acc, ok := s.calls[id]; ok && acc.name == "" {
		acc.name = name
	}
}

// setToolCallSignature attaches a continuation signature to a call.
func (s *streamState) setToolCallSignature(id, sig string) {
	if sig == "" {
		return
	}
	if acc, ok := s.calls[id]; ok {
		acc.sig = sig
	}
}

// finishToolCall closes a call and returns the end event with the complete
// accumulated arguments. An empty id closes the open call.
func (s *streamState) finishToolCall(id string) *models.StreamEvent {
	if id == "" {
		id = s.current
	}
	acc, ok := s.calls[id]
	if !ok {
		return nil
	}
	if s.current == id {
		s.current = ""
	}
	args := acc.args.String()
	if args == "" {
		args = "{}"
	}
	return models.ToolCallEndEvent(id, acc.name, args)
}

// appendText accumulates an incremental text delta.
func (s *streamState) appendText(delta string) *models.StreamEvent {
	if delta == "" {
		return nil
	}
	s.text.WriteString(delta)
	return models.TextEvent(delta)
}

// appendReasoning accumulates a reasoning delta, dropping the redaction
// sentinel.
func (s *streamState) appendReasoning(delta string) *models.StreamEvent {
	if delta == "" || delta == s.sentinel {
		return nil
	}
	s.reasoning.WriteString(delta)
	return models.ReasoningEvent(delta)
}

// setReasoningSignature captures the continuation signature for the
// assembled reasoning part.
func (s *streamState) setReasoningSignature(sig string) {
	if sig != "" {
		s.reasoningSig = sig
	}
}

// addFinalText handles a backend re-sending completed text as one final
// block after streaming it incrementally: only the portion not already
// emitted is forwarded, so output contains the text exactly once.
func (s *streamState) addFinalText(text string) *models.StreamEvent {
	if text == "" {
		return nil
	}
	streamed := s.text.String()
	if streamed == text {
		return nil
	}
	if strings.HasPrefix(text, streamed) {
		return s.appendText(text[len(streamed):])
	}
	return s.appendText(text)
}

// captureError remembers the most specific stream error seen so far.
func (s *streamState) captureError(err error) {
	if err != nil && s.lastErr == nil {
		s.lastErr = err
	}
}

// resolve prefers the captured stream error over a later, more generic
// failure.
func (s *streamState) resolve(err error) error {
	if s.lastErr != nil {
		return s.lastErr
	}
	return err
}

// countEmpty tracks consecutive events that produced no output; it returns
// true once the flood guard trips.
func (s *streamState) countEmpty() bool {
	s.emptyEvents++
	return s.emptyEvents > maxEmptyStreamEvents
}

// resetEmpty clears the flood counter after any productive event.
func (s *streamState) resetEmpty() {
	s.emptyEvents = 0
}

// hasOutput reports whether the stream produced any content at all.
func (s *streamState) hasOutput() bool {
	return s.text.Len() > 0 || s.reasoning.Len() > 0 || len(s.callOrder) > 0
}

// message assembles the final canonical assistant message: reasoning first,
// then text, then tool calls in arrival order.
func (s *streamState) message() *models.Message {
	var parts []models.Part
	if s.reasoning.Len() > 0 {
		part := models.ReasoningPart(s.reasoning.String())
		part.Signature = s.reasoningSig
		parts = append(parts, part)
	}
	if s.text.Len() > 0 {
		parts = append(parts, models.TextPart(s.text.String()))
	}
	for _, id := range s.callOrder {
		acc := s.calls[id]
		args := acc.args.String()
		if args == "" {
			args = "{}"
		}
		part := models.ToolCallPart(id, acc.name, []byte(args))
		part.Signature = acc.sig
		parts = append(parts, part)
	}
	return models.AssistantMessage(parts...)
}
