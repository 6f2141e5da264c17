package models

import (
	"errors"
	"testing"
)

func TestStreamEventType_Constants(t *testing.T) {
	tests := []struct {
		constant StreamEventType
		expected string
	}{
		{EventText, "text"},
		{EventReasoning, "reasoning"},
		{EventToolCallStart, "tool_call_start"},
		{EventToolCallDelta, "tool_call_delta"},
		{EventToolCallEnd, "tool_call_end"},
		{EventUsage, "usage"},
		{EventGrounding, "grounding"},
		{EventError, "error"},
		{EventResponseMessage, "response_message"},
	}

	for _, tt := range tests {
		t.Run(string(tt.constant), func(t *testing.T) {
			if string(tt.constant) != tt.expected {
				t.Errorf("constant = %q, want %q", tt.constant, tt.expected)
			}
		})
	}
}

func TestEventConstructors(t *testing.T) {
	if ev := TextEvent("hello"); ev.Type != EventText || ev.Text.Content != "hello" {
		t.Errorf("TextEvent = %+v", ev)
	}

	if ev := ReasoningEvent("hmm"); ev.Type != EventReasoning || ev.Reasoning.Content != "hmm" {
		t.Errorf("ReasoningEvent = %+v", ev)
	}

	if ev := ToolCallStartEvent("tc-1", "search"); ev.Type != EventToolCallStart ||
		ev.ToolCall.ID != "tc-1" || ev.ToolCall.Name != "search" {
		t.Errorf("ToolCallStartEvent = %+v", ev)
	}

	if ev := ToolCallDeltaEvent("tc-1", `{"q":`); ev.Type != EventToolCallDelta ||
		ev.ToolCall.ArgsDelta != `{"q":` {
		t.Errorf("ToolCallDeltaEvent = %+v", ev)
	}

	if ev := ToolCallEndEvent("tc-1", "search", `{"q":"x"}`); ev.Type != EventToolCallEnd ||
		ev.ToolCall.Args != `{"q":"x"}` {
		t.Errorf("ToolCallEndEvent = %+v", ev)
	}

	if ev := UsageEvent(TokenUsage{InputTokens: 10, OutputTokens: 5}); ev.Type != EventUsage ||
		ev.Usage.InputTokens != 10 {
		t.Errorf("UsageEvent = %+v", ev)
	}

	msg := AssistantMessage(TextPart("done"))
	if ev := ResponseMessageEvent(msg); ev.Type != EventResponseMessage || ev.Message != msg {
		t.Errorf("ResponseMessageEvent = %+v", ev)
	}
}

func TestErrorEvent_PreservesCause(t *testing.T) {
	sentinel := errors.New("rate limited")
	ev := ErrorEvent(sentinel)

	if ev.Type != EventError {
		t.Fatalf("Type = %q, want %q", ev.Type, EventError)
	}
	if ev.Error.Message != "rate limited" {
		t.Errorf("Message = %q, want %q", ev.Error.Message, "rate limited")
	}
	if !errors.Is(ev.Error.Err, sentinel) {
		t.Error("original error not preserved")
	}
}
