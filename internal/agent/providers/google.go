package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/toolconv"
	"github.com/haasonsaas/conduit/pkg/models"
	"google.golang.org/genai"
)

// GoogleProvider implements agent.LLMProvider for Google's Gemini API.
//
// Gemini differs from the other backends in three ways the normalizer has
// to absorb:
//   - Function calls carry no provider ids; canonical ids are synthesized
//     so the pairing invariant holds downstream
//   - Thinking rides on ordinary parts via a Thought flag plus a binary
//     ThoughtSignature; the signature is carried base64-encoded in the
//     canonical side channel and decoded on replay
//   - The final chunk can repeat text already streamed incrementally; the
//     overlap is deduplicated so output contains the text exactly once
//
// Thread safety: GoogleProvider is safe for concurrent use. Each Stream()
// call creates an independent iterator, goroutine, and normalizer state.
type GoogleProvider struct {
	// client is the underlying Google Gen AI SDK client.
	client *genai.Client

	// base carries the shared retry configuration.
	base BaseProvider

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string

	// sentinel is the reasoning delta value that marks redacted thinking.
	sentinel string

	// reporter receives normalized error reports; may be nil.
	reporter ErrorReporter
}

// GoogleConfig holds configuration for creating a GoogleProvider.
// All fields except APIKey are optional.
type GoogleConfig struct {
	// APIKey is the Google AI API authentication key (required).
	APIKey string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Default: 1s
	RetryDelay time.Duration

	// DefaultModel is used when a request doesn't specify one.
	// Default: "gemini-2.0-flash"
	DefaultModel string

	// RedactionSentinel overrides the reasoning redaction marker.
	RedactionSentinel string

	// Reporter receives normalized error reports (optional).
	Reporter ErrorReporter
}

// NewGoogleProvider creates a provider instance, validating the config and
// applying defaults.
func NewGoogleProvider(config GoogleConfig) (*GoogleProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("google: API key is required")
	}

	if config.DefaultModel == "" {
		config.DefaultModel = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("google: failed to create client: %w", err)
	}

	return &GoogleProvider{
		client:       client,
		base:         NewBaseProvider("google", config.MaxRetries, config.RetryDelay),
		defaultModel: config.DefaultModel,
		sentinel:     config.RedactionSentinel,
		reporter:     config.Reporter,
	}, nil
}

// Name returns the provider identifier used for routing and telemetry.
func (p *GoogleProvider) Name() string {
	return "google"
}

// Models returns the list of available Gemini models with their capabilities.
func (p *GoogleProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-2.0-flash-lite", Name: "Gemini 2.0 Flash Lite", ContextSize: 1000000, SupportsVision: true},
		{ID: "gemini-1.5-pro", Name: "Gemini 1.5 Pro", ContextSize: 2000000, SupportsVision: true},
		{ID: "gemini-1.5-flash", Name: "Gemini 1.5 Flash", ContextSize: 1000000, SupportsVision: true},
	}
}

// SupportsTools indicates whether this provider supports tool calling.
func (p *GoogleProvider) SupportsTools() bool {
	return true
}

// Stream sends a completion request and returns the canonical event
// sequence. The first pull of the iterator happens inside the retry loop so
// transient failures before any output surface are retried; once content
// has been emitted the stream is never replayed.
func (p *GoogleProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *models.StreamEvent, error) {
	events := make(chan *models.StreamEvent)

	go func() {
		defer close(events)

		model := p.getModel(req.Model)
		contents, err := p.convertMessages(req.Messages)
		if err != nil {
			p.fail(ctx, events, model, "convert_messages", err)
			return
		}

		config := p.buildConfig(req)

		var first *genai.GenerateContentResponse
		var next func() (*genai.GenerateContentResponse, error, bool)
		var stop func()

		err = p.base.Retry(ctx, IsRetryable, func() error {
			streamIter := p.client.Models.GenerateContentStream(ctx, model, contents, config)
			n, s := iter.Pull2(streamIter)
			resp, pullErr, ok := n()
			if pullErr != nil {
				s()
				return p.wrapError(pullErr, model)
			}
			if !ok {
				s()
				return &NoOutputError{}
			}
			first, next, stop = resp, n, s
			return nil
		})
		if err != nil {
			p.fail(ctx, events, model, "create_stream", err)
			return
		}
		defer stop()

		p.processStream(ctx, first, next, events, model)
	}()

	return events, nil
}

// processStream consumes Gemini responses and emits canonical events.
//
// Function calls arrive complete in a single part, so each one produces the
// full start/delta/end lifecycle with a synthesized id. Thought parts map
// to reasoning deltas, grounding metadata to grounding events, and the
// final chunk's text is deduplicated against what already streamed.
func (p *GoogleProvider) processStream(ctx context.Context, first *genai.GenerateContentResponse, next func() (*genai.GenerateContentResponse, error, bool), events chan<- *models.StreamEvent, model string) {
	state := newStreamState(p.sentinel)
	var usage models.TokenUsage
	sawUsage := false

	emit := func(ev *models.StreamEvent) bool {
		if ev == nil {
			return false
		}
		events <- ev
		state.resetEmpty()
		return true
	}

	resp := first
	for {
		select {
		case <-ctx.Done():
			p.fail(ctx, events, model, "stream", state.resolve(ctx.Err()))
			return
		default:
		}

		if resp != nil {
			processed := false

			if resp.UsageMetadata != nil {
				usage.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
				usage.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
				usage.CacheReadTokens = int(resp.UsageMetadata.CachedContentTokenCount)
				usage.ReasoningTokens = int(resp.UsageMetadata.ThoughtsTokenCount)
				sawUsage = true
				processed = true
			}

			for _, candidate := range resp.Candidates {
				if candidate == nil {
					continue
				}

				if candidate.Content != nil {
					final := candidate.FinishReason != ""
					for _, part := range candidate.Content.Parts {
						if part == nil {
							continue
						}
						processed = p.processPart(state, part, final, emit) || processed
					}
				}

				if g, ok := convertGrounding(candidate.GroundingMetadata); ok {
					processed = emit(models.GroundingEvent(g)) || processed
				}
			}

			if processed {
				state.resetEmpty()
			} else if state.countEmpty() {
				p.fail(ctx, events, model, "stream",
					fmt.Errorf("stream appears malformed: received %d consecutive empty responses", state.emptyEvents))
				return
			}
		}

		var err error
		var ok bool
		resp, err, ok = next()
		if err != nil {
			p.fail(ctx, events, model, "stream", state.resolve(p.wrapError(err, model)))
			return
		}
		if !ok {
			break
		}
	}

	if !state.hasOutput() {
		p.fail(ctx, events, model, "stream", &NoOutputError{Cause: state.lastErr})
		return
	}
	if sawUsage {
		events <- models.UsageEvent(usage)
	}
	events <- models.ResponseMessageEvent(state.message())
}

// processPart normalizes one Gemini part into canonical events.
func (p *GoogleProvider) processPart(state *streamState, part *genai.Part, final bool, emit func(*models.StreamEvent) bool) bool {
	switch {
	case part.FunctionCall != nil:
		argsJSON, err := json.Marshal(part.FunctionCall.Args)
		if err != nil {
			argsJSON = []byte("{}")
		}
		id := synthesizeCallID(part.FunctionCall.Name)
		processed := emit(state.startToolCall(id, part.FunctionCall.Name))
		processed = emit(state.appendToolArgs(id, string(argsJSON))) || processed
		if len(part.ThoughtSignature) > 0 {
			state.setToolCallSignature(id, base64.StdEncoding.EncodeToString(part.ThoughtSignature))
		}
		return emit(state.finishToolCall(id)) || processed

	case part.Thought:
		processed := emit(state.appendReasoning(part.Text))
		if len(part.ThoughtSignature) > 0 {
			state.setReasoningSignature(base64.StdEncoding.EncodeToString(part.ThoughtSignature))
			processed = true
		}
		return processed

	case part.Text != "":
		if final {
			return emit(state.addFinalText(part.Text))
		}
		return emit(state.appendText(part.Text))
	}

	return false
}

// convertMessages converts canonical messages to Gemini's content format.
//
// Role mapping: user and tool messages become user-role contents (function
// responses come from the user side), assistant messages become model-role
// contents. The system prompt travels in config.SystemInstruction.
// Standalone reasoning records have no replay representation here and are
// skipped; signed reasoning parts replay as thought parts with the decoded
// signature.
func (p *GoogleProvider) convertMessages(messages []*models.Message) ([]*genai.Content, error) {
	// Function responses carry the tool name, not the call id; resolve
	// names from the calls that produced the results.
	toolNames := make(map[string]string)
	for _, msg := range messages {
		if msg == nil || msg.Role != models.RoleAssistant {
			continue
		}
		for _, part := range msg.ToolCallParts() {
			toolNames[part.ToolCallID] = part.ToolName
		}
	}

	var result []*genai.Content
	for _, msg := range messages {
		if msg == nil || msg.Role == models.RoleSystem || msg.Role == models.RoleReasoning {
			continue
		}

		content := &genai.Content{}
		switch msg.Role {
		case models.RoleAssistant:
			content.Role = genai.RoleModel
		default:
			content.Role = genai.RoleUser
		}

		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
				}

			case models.PartReasoning:
				if msg.Role == models.RoleAssistant && part.Signature != "" {
					content.Parts = append(content.Parts, &genai.Part{
						Text:             part.Text,
						Thought:          true,
						ThoughtSignature: decodeSignature(part.Signature),
					})
				}

			case models.PartImage:
				if imgPart, err := convertGeminiImage(part); err == nil {
					content.Parts = append(content.Parts, imgPart)
				}

			case models.PartToolCall:
				var args map[string]any
				if err := json.Unmarshal(normalizeArgs(part.Input), &args); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
				callPart := &genai.Part{
					FunctionCall: &genai.FunctionCall{
						Name: part.ToolName,
						Args: args,
					},
				}
				if part.Signature != "" {
					callPart.ThoughtSignature = decodeSignature(part.Signature)
				}
				content.Parts = append(content.Parts, callPart)

			case models.PartToolResult:
				var response map[string]any
				if err := json.Unmarshal([]byte(part.Output), &response); err != nil {
					response = map[string]any{
						"result": part.Output,
						"error":  part.IsError,
					}
				}
				name := part.ToolName
				if name == "" {
					name = toolNames[part.ToolCallID]
				}
				content.Parts = append(content.Parts, &genai.Part{
					FunctionResponse: &genai.FunctionResponse{
						Name:     name,
						Response: response,
					},
				})
			}
		}

		if len(content.Parts) > 0 {
			result = append(result, content)
		}
	}

	return result, nil
}

// convertGeminiImage converts an image part to a Gemini part. Data URLs
// become inline blobs, anything else passes as a file URI.
func convertGeminiImage(part models.Part) (*genai.Part, error) {
	if mediaType, data, ok := parseDataURL(part.Image); ok {
		decoded, err := base64.StdEncoding.DecodeString(data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode image data: %w", err)
		}
		return &genai.Part{
			InlineData: &genai.Blob{
				Data:     decoded,
				MIMEType: mediaType,
			},
		}, nil
	}
	if part.Image == "" {
		return nil, errors.New("empty image reference")
	}
	mimeType := part.MediaType
	if mimeType == "" {
		mimeType = guessMimeType(part.Image)
	}
	return &genai.Part{
		FileData: &genai.FileData{
			FileURI:  part.Image,
			MIMEType: mimeType,
		},
	}, nil
}

// buildConfig builds the generation config from a completion request.
func (p *GoogleProvider) buildConfig(req *agent.CompletionRequest) *genai.GenerateContentConfig {
	config := &genai.GenerateContentConfig{}

	if req.System != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: req.System}},
		}
	}

	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		// #nosec G115 -- bounded by min above
		config.MaxOutputTokens = int32(maxTokens)
	}

	if len(req.Tools) > 0 {
		config.Tools = toolconv.ToGeminiTools(req.Tools)
	}

	return config
}

// convertGrounding maps Gemini grounding metadata to the canonical shape.
func convertGrounding(meta *genai.GroundingMetadata) (models.Grounding, bool) {
	if meta == nil {
		return models.Grounding{}, false
	}
	var g models.Grounding
	for _, chunk := range meta.GroundingChunks {
		if chunk == nil || chunk.Web == nil {
			continue
		}
		g.Sources = append(g.Sources, models.GroundingSource{
			Title: chunk.Web.Title,
			URL:   chunk.Web.URI,
		})
	}
	g.Queries = append(g.Queries, meta.WebSearchQueries...)
	if len(g.Sources) == 0 && len(g.Queries) == 0 {
		return models.Grounding{}, false
	}
	return g, true
}

// getModel returns the model ID to use for the request.
func (p *GoogleProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError wraps an error in a ProviderError with Google-specific context.
// The SDK surfaces most failures as plain errors, so the status code is
// recovered from the message.
func (p *GoogleProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("google", model, err)
	errMsg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errMsg, "401") || strings.Contains(errMsg, "unauthenticated"):
		providerErr = providerErr.WithStatus(http.StatusUnauthorized)
	case strings.Contains(errMsg, "403") || strings.Contains(errMsg, "permission denied"):
		providerErr = providerErr.WithStatus(http.StatusForbidden)
	case strings.Contains(errMsg, "404") || strings.Contains(errMsg, "not found"):
		providerErr = providerErr.WithStatus(http.StatusNotFound)
	case strings.Contains(errMsg, "429") || strings.Contains(errMsg, "resource exhausted"):
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	case strings.Contains(errMsg, "500"):
		providerErr = providerErr.WithStatus(http.StatusInternalServerError)
	case strings.Contains(errMsg, "503"):
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}

	return providerErr
}

// fail reports and emits a normalized error event.
func (p *GoogleProvider) fail(ctx context.Context, events chan<- *models.StreamEvent, model, operation string, err error) {
	pe := Normalize(err, "google", model)
	if p.reporter != nil {
		p.reporter.ReportProviderError(ctx, "google", model, operation, pe)
	}
	events <- models.ErrorEvent(pe)
}

// synthesizeCallID generates a canonical call id for backends that don't
// provide one.
func synthesizeCallID(name string) string {
	return fmt.Sprintf("call_%s_%s", name, uuid.NewString())
}

// decodeSignature recovers the binary thought signature from its canonical
// base64 form. Signatures that don't decode are passed through raw rather
// than dropped; the backend rejects them with a clearer error than we can
// produce here.
func decodeSignature(sig string) []byte {
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return []byte(sig)
	}
	return decoded
}

// guessMimeType guesses the MIME type from a URL based on file extension.
func guessMimeType(url string) string {
	lower := strings.ToLower(url)
	switch {
	case strings.HasSuffix(lower, ".jpg"), strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".gif"):
		return "image/gif"
	case strings.HasSuffix(lower, ".webp"):
		return "image/webp"
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	default:
		return "image/jpeg"
	}
}
