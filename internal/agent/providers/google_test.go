package providers

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/haasonsaas/conduit/pkg/models"
	"google.golang.org/genai"
)

func TestGoogleConvertMessages(t *testing.T) {
	p := &GoogleProvider{defaultModel: "gemini-2.0-flash"}

	sig := base64.StdEncoding.EncodeToString([]byte{0x01, 0x02, 0x03})
	call := models.ToolCallPart("call_search_1", "search", []byte(`{"q":"go"}`))
	call.Signature = sig
	reasoning := models.ReasoningPart("thinking")
	reasoning.Signature = sig

	messages := []*models.Message{
		{Role: models.RoleSystem, Parts: []models.Part{models.TextPart("ignored")}},
		userMessage(models.TextPart("find go docs")),
		{Role: models.RoleReasoning, Encrypted: "opaque"},
		models.AssistantMessage(reasoning, models.TextPart("searching"), call),
		models.ToolMessage(toolResultPart("call_search_1", "", `{"hits":3}`, false)),
	}

	result, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}

	// system and the reasoning record are skipped
	if len(result) != 3 {
		t.Fatalf("contents = %d, want 3", len(result))
	}

	if result[0].Role != genai.RoleUser {
		t.Errorf("content 0 role = %q", result[0].Role)
	}

	model := result[1]
	if model.Role != genai.RoleModel {
		t.Errorf("assistant role = %q, want model", model.Role)
	}
	if len(model.Parts) != 3 {
		t.Fatalf("assistant parts = %d, want 3", len(model.Parts))
	}
	thought := model.Parts[0]
	if !thought.Thought || thought.Text != "thinking" {
		t.Errorf("part 0 = %+v, want thought part", thought)
	}
	if string(thought.ThoughtSignature) != "\x01\x02\x03" {
		t.Errorf("thought signature = %v, want decoded bytes", thought.ThoughtSignature)
	}
	fc := model.Parts[2]
	if fc.FunctionCall == nil || fc.FunctionCall.Name != "search" {
		t.Fatalf("part 2 = %+v, want function call", fc)
	}
	if fc.FunctionCall.Args["q"] != "go" {
		t.Errorf("args = %v", fc.FunctionCall.Args)
	}
	if string(fc.ThoughtSignature) != "\x01\x02\x03" {
		t.Errorf("call signature = %v, want decoded bytes", fc.ThoughtSignature)
	}

	toolEntry := result[2]
	if toolEntry.Role != genai.RoleUser {
		t.Errorf("tool entry role = %q, want user", toolEntry.Role)
	}
	fr := toolEntry.Parts[0].FunctionResponse
	if fr == nil {
		t.Fatal("expected function response part")
	}
	// Name resolved from the producing call.
	if fr.Name != "search" {
		t.Errorf("response name = %q, want search", fr.Name)
	}
	if fr.Response["hits"] != float64(3) {
		t.Errorf("response = %v", fr.Response)
	}
}

func TestGoogleConvertNonJSONResultWrapped(t *testing.T) {
	p := &GoogleProvider{}
	messages := []*models.Message{
		models.ToolMessage(toolResultPart("call_1", "ls", "plain output", true)),
	}
	result, err := p.convertMessages(messages)
	if err != nil {
		t.Fatalf("convertMessages() error = %v", err)
	}
	fr := result[0].Parts[0].FunctionResponse
	if fr.Response["result"] != "plain output" {
		t.Errorf("response = %v, want wrapped result field", fr.Response)
	}
	if fr.Response["error"] != true {
		t.Errorf("error flag = %v, want true", fr.Response["error"])
	}
}

func TestGoogleProcessPart(t *testing.T) {
	p := &GoogleProvider{}

	t.Run("function call synthesizes id and full lifecycle", func(t *testing.T) {
		state := newStreamState("")
		var got []*models.StreamEvent
		emit := func(ev *models.StreamEvent) bool {
			if ev == nil {
				return false
			}
			got = append(got, ev)
			return true
		}

		part := &genai.Part{
			FunctionCall: &genai.FunctionCall{Name: "read_file", Args: map[string]any{"path": "a.go"}},
		}
		p.processPart(state, part, false, emit)

		if len(got) != 3 {
			t.Fatalf("events = %d, want start/delta/end", len(got))
		}
		if got[0].Type != models.EventToolCallStart || got[2].Type != models.EventToolCallEnd {
			t.Errorf("lifecycle = %v, %v, %v", got[0].Type, got[1].Type, got[2].Type)
		}
		id := got[0].ToolCall.ID
		if !strings.HasPrefix(id, "call_read_file_") {
			t.Errorf("id = %q, want synthesized call id", id)
		}
		if got[2].ToolCall.ID != id {
			t.Error("end event must carry the same synthesized id")
		}
	})

	t.Run("thought part becomes reasoning", func(t *testing.T) {
		state := newStreamState("")
		var got []*models.StreamEvent
		emit := func(ev *models.StreamEvent) bool {
			if ev == nil {
				return false
			}
			got = append(got, ev)
			return true
		}

		p.processPart(state, &genai.Part{Text: "pondering", Thought: true, ThoughtSignature: []byte{0xFF}}, false, emit)

		if len(got) != 1 || got[0].Type != models.EventReasoning {
			t.Fatalf("events = %+v, want one reasoning event", got)
		}
		if state.reasoningSig != base64.StdEncoding.EncodeToString([]byte{0xFF}) {
			t.Errorf("signature = %q, want base64 of raw bytes", state.reasoningSig)
		}
	})

	t.Run("final text deduplicated", func(t *testing.T) {
		state := newStreamState("")
		emit := func(ev *models.StreamEvent) bool { return ev != nil }

		p.processPart(state, &genai.Part{Text: "Hello, "}, false, emit)
		p.processPart(state, &genai.Part{Text: "world"}, false, emit)
		p.processPart(state, &genai.Part{Text: "Hello, world"}, true, emit)

		if got := state.message().Text(); got != "Hello, world" {
			t.Errorf("text = %q, want exactly-once output", got)
		}
	})
}

func TestConvertGrounding(t *testing.T) {
	if _, ok := convertGrounding(nil); ok {
		t.Error("nil metadata should not produce grounding")
	}
	if _, ok := convertGrounding(&genai.GroundingMetadata{}); ok {
		t.Error("empty metadata should not produce grounding")
	}

	g, ok := convertGrounding(&genai.GroundingMetadata{
		GroundingChunks: []*genai.GroundingChunk{
			{Web: &genai.GroundingChunkWeb{Title: "Go docs", URI: "https://go.dev"}},
			{Web: nil},
		},
		WebSearchQueries: []string{"golang"},
	})
	if !ok {
		t.Fatal("expected grounding")
	}
	if len(g.Sources) != 1 || g.Sources[0].URL != "https://go.dev" {
		t.Errorf("sources = %+v", g.Sources)
	}
	if len(g.Queries) != 1 {
		t.Errorf("queries = %v", g.Queries)
	}
}

func TestSynthesizeCallIDUnique(t *testing.T) {
	a := synthesizeCallID("tool")
	b := synthesizeCallID("tool")
	if a == b {
		t.Error("synthesized ids must be unique")
	}
	if !strings.HasPrefix(a, "call_tool_") {
		t.Errorf("id = %q", a)
	}
}

func TestDecodeSignature(t *testing.T) {
	encoded := base64.StdEncoding.EncodeToString([]byte("raw"))
	if got := decodeSignature(encoded); string(got) != "raw" {
		t.Errorf("decodeSignature() = %q", got)
	}
	// Non-base64 input passes through raw.
	if got := decodeSignature("not base64!!"); string(got) != "not base64!!" {
		t.Errorf("decodeSignature() fallback = %q", got)
	}
}
