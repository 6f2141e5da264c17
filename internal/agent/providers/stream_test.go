package providers

import (
	"errors"
	"testing"

	"github.com/haasonsaas/conduit/pkg/models"
)

func TestStreamStateToolCallBackfill(t *testing.T) {
	state := newStreamState("")

	start := state.startToolCall("call_1", "search")
	if start.Type != models.EventToolCallStart {
		t.Fatalf("start event type = %v", start.Type)
	}

	// Fragments without an id belong to the open call.
	delta := state.appendToolArgs("", `{"query":`)
	if delta == nil {
		t.Fatal("expected delta event")
	}
	if delta.ToolCall.ID != "call_1" {
		t.Errorf("delta id = %q, want call_1", delta.ToolCall.ID)
	}
	state.appendToolArgs("", `"go"}`)

	end := state.finishToolCall("")
	if end.ToolCall.Args != `{"query":"go"}` {
		t.Errorf("end args = %q", end.ToolCall.Args)
	}
	if end.ToolCall.Name != "search" {
		t.Errorf("end name = %q", end.ToolCall.Name)
	}
}

func TestStreamStateFragmentForUnknownCall(t *testing.T) {
	state := newStreamState("")
	if ev := state.appendToolArgs("nope", "{}"); ev != nil {
		t.Errorf("expected nil for unknown call, got %+v", ev)
	}
	if ev := state.finishToolCall("nope"); ev != nil {
		t.Errorf("expected nil finish for unknown call, got %+v", ev)
	}
}

func TestStreamStateEmptyArgsDefault(t *testing.T) {
	state := newStreamState("")
	state.startToolCall("call_1", "ping")
	end := state.finishToolCall("call_1")
	if end.ToolCall.Args != "{}" {
		t.Errorf("args = %q, want {}", end.ToolCall.Args)
	}
}

func TestStreamStateToolNameBackfill(t *testing.T) {
	state := newStreamState("")
	state.startToolCall("call_1", "")
	state.backfillToolName("call_1", "search")
	end := state.finishToolCall("call_1")
	if end.ToolCall.Name != "search" {
		t.Errorf("name = %q, want search", end.ToolCall.Name)
	}

	// A name that arrived at start is not overwritten.
	state.startToolCall("call_2", "read")
	state.backfillToolName("call_2", "other")
	if state.calls["call_2"].name != "read" {
		t.Errorf("name = %q, want read", state.calls["call_2"].name)
	}
}

func TestStreamStateRedactionSentinelDropped(t *testing.T) {
	state := newStreamState("")
	if ev := state.appendReasoning(defaultRedactionSentinel); ev != nil {
		t.Errorf("expected sentinel to be dropped, got %+v", ev)
	}

	custom := newStreamState("<hidden>")
	if ev := custom.appendReasoning("<hidden>"); ev != nil {
		t.Errorf("expected custom sentinel to be dropped, got %+v", ev)
	}
	if ev := custom.appendReasoning(defaultRedactionSentinel); ev == nil {
		t.Error("default sentinel should pass through when a custom one is configured")
	}
}

func TestStreamStateFinalTextDedup(t *testing.T) {
	tests := []struct {
		name     string
		streamed []string
		final    string
		want     string // total text in assembled message
	}{
		{
			name:     "exact duplicate suppressed",
			streamed: []string{"Hello, ", "world"},
			final:    "Hello, world",
			want:     "Hello, world",
		},
		{
			name:     "prefix extended by suffix",
			streamed: []string{"Hello"},
			final:    "Hello, world",
			want:     "Hello, world",
		},
		{
			name:     "divergent final appended",
			streamed: []string{"Hello"},
			final:    "Goodbye",
			want:     "HelloGoodbye",
		},
		{
			name:     "nothing streamed",
			streamed: nil,
			final:    "Hello",
			want:     "Hello",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := newStreamState("")
			for _, s := range tt.streamed {
				state.appendText(s)
			}
			state.addFinalText(tt.final)
			msg := state.message()
			if got := msg.Text(); got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStreamStateLastErrorSlot(t *testing.T) {
	state := newStreamState("")

	specific := errors.New("overloaded_error: try again")
	generic := errors.New("stream closed")

	state.captureError(specific)
	state.captureError(generic) // second error does not displace the first

	if got := state.resolve(generic); got != specific {
		t.Errorf("resolve() = %v, want the first captured error", got)
	}

	empty := newStreamState("")
	if got := empty.resolve(generic); got != generic {
		t.Errorf("resolve() without captured error = %v, want %v", got, generic)
	}
}

func TestStreamStateFloodGuard(t *testing.T) {
	state := newStreamState("")
	for i := 0; i < maxEmptyStreamEvents; i++ {
		if state.countEmpty() {
			t.Fatalf("guard tripped early at %d", i)
		}
	}
	if !state.countEmpty() {
		t.Error("guard should trip after the threshold")
	}

	state.resetEmpty()
	if state.countEmpty() {
		t.Error("guard should reset after productive events")
	}
}

func TestStreamStateMessageAssembly(t *testing.T) {
	state := newStreamState("")
	state.appendReasoning("thinking about it")
	state.setReasoningSignature("sig-abc")
	state.appendText("done")
	state.startToolCall("call_1", "read_file")
	state.appendToolArgs("call_1", `{"path":"a.go"}`)
	state.finishToolCall("call_1")
	state.startToolCall("call_2", "list_dir")
	state.setToolCallSignature("call_2", "tok-1")
	state.finishToolCall("call_2")

	msg := state.message()
	if msg.Role != models.RoleAssistant {
		t.Fatalf("role = %v", msg.Role)
	}
	if len(msg.Parts) != 4 {
		t.Fatalf("parts = %d, want 4", len(msg.Parts))
	}
	if msg.Parts[0].Type != models.PartReasoning || msg.Parts[0].Signature != "sig-abc" {
		t.Errorf("first part = %+v, want signed reasoning", msg.Parts[0])
	}
	if msg.Parts[1].Type != models.PartText || msg.Parts[1].Text != "done" {
		t.Errorf("second part = %+v, want text", msg.Parts[1])
	}
	if msg.Parts[2].ToolCallID != "call_1" || string(msg.Parts[2].Input) != `{"path":"a.go"}` {
		t.Errorf("third part = %+v", msg.Parts[2])
	}
	if msg.Parts[3].ToolCallID != "call_2" || string(msg.Parts[3].Input) != "{}" {
		t.Errorf("fourth part = %+v, want empty-args call", msg.Parts[3])
	}
	if msg.Parts[3].Signature != "tok-1" {
		t.Errorf("call signature = %q, want tok-1", msg.Parts[3].Signature)
	}
}

func TestStreamStateHasOutput(t *testing.T) {
	state := newStreamState("")
	if state.hasOutput() {
		t.Error("fresh state should have no output")
	}
	state.appendReasoning("hmm")
	if !state.hasOutput() {
		t.Error("reasoning counts as output")
	}
}
