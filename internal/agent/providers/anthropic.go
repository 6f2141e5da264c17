// Package providers implements the per-backend translation layer: outbound
// conversion from canonical messages to each provider's wire format, and
// normalization of each provider's streaming events into the canonical
// event sequence.
//
// Each provider implements the agent.LLMProvider interface. The backend SDK
// types never escape this package: callers hand in []*models.Message and
// consume <-chan *models.StreamEvent regardless of backend.
//
// Key responsibilities:
//   - Converting canonical messages to each backend's request schema,
//     including side-channel annotations (cache markers, continuation
//     signatures) on the correct wire entry
//   - Consuming backend streams and re-tagging events into the canonical
//     vocabulary (text, reasoning, tool call lifecycle, usage, grounding,
//     error, response_message)
//   - Reconstructing tool-call arguments streamed as bare fragments
//   - Normalizing heterogeneous error shapes into ProviderError
//
// Example usage:
//
//	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
//	    APIKey: os.Getenv("ANTHROPIC_API_KEY"),
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	events, err := provider.Stream(ctx, &agent.CompletionRequest{
//	    Messages: []*models.Message{models.UserMessage("Hello!")},
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	for event := range events {
//	    switch event.Type {
//	    case models.EventText:
//	        fmt.Print(event.Text.Content)
//	    case models.EventError:
//	        log.Printf("stream error: %v", event.Error.Err)
//	    }
//	}
package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/toolconv"
	"github.com/haasonsaas/conduit/pkg/models"
)

// AnthropicProvider implements agent.LLMProvider for Anthropic's Messages
// API, the rich-block target: ordered content blocks on the wire, thinking
// blocks replayed as {thinking, signature} pairs, standalone reasoning
// records replayed as redacted_thinking, and cache_control markers attached
// to the system prompt and the trailing user-side entries.
//
// Thread safety: AnthropicProvider is safe for concurrent use. Each
// Stream() call creates an independent SSE stream, goroutine, and
// normalizer state.
type AnthropicProvider struct {
	// client is the underlying Anthropic SDK client.
	client anthropic.Client

	// base carries the shared retry configuration.
	base BaseProvider

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string

	// sentinel is the reasoning delta value that marks redacted thinking;
	// matching deltas are dropped by the normalizer.
	sentinel string

	// cacheUserTurns is how many trailing user-side wire entries receive
	// cache_control markers.
	cacheUserTurns int

	// reporter receives normalized error reports; may be nil.
	reporter ErrorReporter
}

// AnthropicConfig holds configuration for creating an AnthropicProvider.
// All fields except APIKey are optional.
type AnthropicConfig struct {
	// APIKey is the Anthropic API authentication key (required).
	APIKey string

	// BaseURL overrides the default Anthropic API base URL.
	BaseURL string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Default: 1s
	RetryDelay time.Duration

	// DefaultModel is used when a request doesn't specify one.
	// Default: "claude-sonnet-4-20250514"
	DefaultModel string

	// RedactionSentinel overrides the reasoning redaction marker.
	RedactionSentinel string

	// CacheEligibleUserTurns is how many trailing user-side entries get
	// cache markers. Default: 2
	CacheEligibleUserTurns int

	// Reporter receives normalized error reports (optional).
	Reporter ErrorReporter
}

// NewAnthropicProvider creates a provider instance, validating the config
// and applying defaults.
func NewAnthropicProvider(config AnthropicConfig) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}

	if config.DefaultModel == "" {
		config.DefaultModel = "claude-sonnet-4-20250514"
	}
	if config.CacheEligibleUserTurns <= 0 {
		config.CacheEligibleUserTurns = 2
	}

	options := []option.RequestOption{option.WithAPIKey(config.APIKey)}
	if strings.TrimSpace(config.BaseURL) != "" {
		options = append(options, option.WithBaseURL(config.BaseURL))
	}
	client := anthropic.NewClient(options...)

	return &AnthropicProvider{
		client:         client,
		base:           NewBaseProvider("anthropic", config.MaxRetries, config.RetryDelay),
		defaultModel:   config.DefaultModel,
		sentinel:       config.RedactionSentinel,
		cacheUserTurns: config.CacheEligibleUserTurns,
		reporter:       config.Reporter,
	}, nil
}

// Name returns the provider identifier used for routing and telemetry.
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// Models returns the list of available Claude models with their capabilities.
func (p *AnthropicProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "claude-sonnet-4-20250514", Name: "Claude Sonnet 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-opus-4-20250514", Name: "Claude Opus 4", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-sonnet-20241022", Name: "Claude 3.5 Sonnet", ContextSize: 200000, SupportsVision: true},
		{ID: "claude-3-5-haiku-20241022", Name: "Claude 3.5 Haiku", ContextSize: 200000, SupportsVision: true},
	}
}

// SupportsTools indicates whether this provider supports tool calling.
func (p *AnthropicProvider) SupportsTools() bool {
	return true
}

// Stream sends a completion request and returns the canonical event
// sequence. The returned channel is closed when the stream ends; a normal
// end emits a trailing usage event and the assembled response_message, an
// abnormal end emits an error event carrying the most specific failure
// seen.
func (p *AnthropicProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *models.StreamEvent, error) {
	events := make(chan *models.StreamEvent)

	go func() {
		defer close(events)

		model := p.getModel(req.Model)
		var stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
		err := p.base.Retry(ctx, IsRetryable, func() error {
			s, err := p.createStream(ctx, req)
			if err != nil {
				return p.wrapError(err, model)
			}
			stream = s
			return nil
		})
		if err != nil {
			p.fail(ctx, events, model, "create_stream", err)
			return
		}

		p.processStream(ctx, stream, events, model)
	}()

	return events, nil
}

// createStream builds the Anthropic request parameters from a canonical
// completion request and opens the SSE stream.
func (p *AnthropicProvider) createStream(ctx context.Context, req *agent.CompletionRequest) (*ssestream.Stream[anthropic.MessageStreamEventUnion], error) {
	messages, err := p.convertMessages(req.Messages)
	if err != nil {
		return nil, fmt.Errorf("anthropic: failed to convert messages: %w", err)
	}

	annotateCacheEligible(messages, p.cacheTurns(req))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.getModel(req.Model)),
		Messages:  messages,
		MaxTokens: int64(p.getMaxTokens(req.MaxTokens)),
	}

	// The system prompt is always the first cache-eligible element.
	if req.System != "" {
		system := anthropic.TextBlockParam{
			Type: "text",
			Text: req.System,
		}
		system.CacheControl = anthropic.NewCacheControlEphemeralParam()
		params.System = []anthropic.TextBlockParam{system}
	}

	if len(req.Tools) > 0 {
		tools, err := toolconv.ToAnthropicTools(req.Tools)
		if err != nil {
			return nil, fmt.Errorf("anthropic: failed to convert tools: %w", err)
		}
		params.Tools = tools
	}

	if req.EnableThinking {
		budgetTokens := int64(req.ThinkingBudgetTokens)
		if budgetTokens < 1024 {
			budgetTokens = 10000
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(budgetTokens)
	}

	return p.client.Messages.NewStreaming(ctx, params), nil
}

// processStream consumes Anthropic SSE events and emits canonical events.
//
// Event mapping:
//   - message_start: input/cache token counts
//   - content_block_start (tool_use): tool_call_start
//   - content_block_delta: text_delta -> text, thinking_delta -> reasoning
//     (redaction sentinel dropped), signature_delta -> captured for the
//     assembled reasoning part, input_json_delta -> tool_call_delta with
//     identity backfilled from the open call
//   - content_block_stop: tool_call_end with complete accumulated arguments
//   - message_delta: output token count
//   - message_stop: trailing usage event, then response_message
//   - error: captured, emitted, stream abandoned
//
// Consecutive events that produce no output trip the malformed-stream
// guard, bounding CPU and memory against event floods.
func (p *AnthropicProvider) processStream(ctx context.Context, stream *ssestream.Stream[anthropic.MessageStreamEventUnion], events chan<- *models.StreamEvent, model string) {
	state := newStreamState(p.sentinel)
	var usage models.TokenUsage

	emit := func(ev *models.StreamEvent) bool {
		if ev == nil {
			return false
		}
		events <- ev
		state.resetEmpty()
		return true
	}

	for stream.Next() {
		event := stream.Current()
		eventProcessed := false

		switch event.Type {
		case "message_start":
			messageStart := event.AsMessageStart()
			u := messageStart.Message.Usage
			usage.InputTokens = int(u.InputTokens)
			usage.CacheReadTokens = int(u.CacheReadInputTokens)
			usage.CacheWriteTokens = int(u.CacheCreationInputTokens)
			eventProcessed = true

		case "content_block_start":
			contentBlock := event.AsContentBlockStart().ContentBlock
			switch contentBlock.Type {
			case "tool_use":
				toolUse := contentBlock.AsToolUse()
				eventProcessed = emit(state.startToolCall(toolUse.ID, toolUse.Name))
			case "thinking", "redacted_thinking":
				eventProcessed = true
			}

		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			switch delta.Type {
			case "text_delta":
				eventProcessed = emit(state.appendText(delta.Text))
			case "thinking_delta":
				eventProcessed = emit(state.appendReasoning(delta.Thinking))
			case "signature_delta":
				state.setReasoningSignature(delta.Signature)
				eventProcessed = true
			case "input_json_delta":
				eventProcessed = emit(state.appendToolArgs("", delta.PartialJSON))
			}

		case "content_block_stop":
			eventProcessed = emit(state.finishToolCall(""))

		case "message_delta":
			messageDelta := event.AsMessageDelta()
			if messageDelta.Usage.OutputTokens > 0 {
				usage.OutputTokens = int(messageDelta.Usage.OutputTokens)
			}
			eventProcessed = true

		case "message_stop":
			events <- models.UsageEvent(usage)
			events <- models.ResponseMessageEvent(state.message())
			return

		case "error":
			streamErr := p.wrapError(errors.New("anthropic stream error"), model)
			state.captureError(streamErr)
			p.fail(ctx, events, model, "stream", streamErr)
			return
		}

		if eventProcessed {
			state.resetEmpty()
		} else if state.countEmpty() {
			p.fail(ctx, events, model, "stream",
				fmt.Errorf("stream appears malformed: received %d consecutive empty events", state.emptyEvents))
			return
		}
	}

	if err := stream.Err(); err != nil {
		p.fail(ctx, events, model, "stream", state.resolve(p.wrapError(err, model)))
		return
	}
	if !state.hasOutput() {
		p.fail(ctx, events, model, "stream", &NoOutputError{Cause: state.lastErr})
	}
}

// convertMessages converts canonical messages to Anthropic's block format.
//
// The mapping is near-identity since the Messages API is itself
// block-ordered:
//   - text parts become text blocks
//   - tool call parts become tool_use blocks
//   - tool result parts become tool_result blocks (tool-role messages map
//     to user-role wire entries; the API has no dedicated tool role)
//   - reasoning parts with a signature replay as thinking blocks carrying
//     the exact {thinking, signature} pair; unsigned reasoning is display
//     data and is not replayed
//   - standalone reasoning records replay as redacted_thinking blocks,
//     byte-for-byte
//
// System messages are skipped; the system prompt travels in params.System.
func (p *AnthropicProvider) convertMessages(messages []*models.Message) ([]anthropic.MessageParam, error) {
	var result []anthropic.MessageParam

	for _, msg := range messages {
		if msg == nil || msg.Role == models.RoleSystem {
			continue
		}

		if msg.Role == models.RoleReasoning {
			if msg.Encrypted == "" {
				continue
			}
			result = append(result, anthropic.NewAssistantMessage(
				anthropic.NewRedactedThinkingBlock(msg.Encrypted),
			))
			continue
		}

		var content []anthropic.ContentBlockParamUnion
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				content = append(content, anthropic.NewTextBlock(part.Text))

			case models.PartReasoning:
				if msg.Role == models.RoleAssistant && part.Signature != "" {
					content = append(content, anthropic.NewThinkingBlock(part.Signature, part.Text))
				}

			case models.PartImage:
				if block, ok := imageBlock(part); ok {
					content = append(content, block)
				}

			case models.PartToolCall:
				var input map[string]interface{}
				if err := json.Unmarshal(normalizeArgs(part.Input), &input); err != nil {
					return nil, fmt.Errorf("invalid tool call input: %w", err)
				}
				content = append(content, anthropic.NewToolUseBlock(part.ToolCallID, input, part.ToolName))

			case models.PartToolResult:
				content = append(content, anthropic.NewToolResultBlock(part.ToolCallID, part.Output, part.IsError))
			}
		}

		if len(content) == 0 {
			continue
		}

		if msg.Role == models.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(content...))
		} else {
			// User and tool roles both map to user-role wire entries.
			result = append(result, anthropic.NewUserMessage(content...))
		}
	}

	return result, nil
}

// cacheTurns resolves how many trailing user-side wire entries get cache
// markers: the request value wins when set, otherwise the provider default.
func (p *AnthropicProvider) cacheTurns(req *agent.CompletionRequest) int {
	if req.CacheEligibleUserTurns > 0 {
		return req.CacheEligibleUserTurns
	}
	return p.cacheUserTurns
}

// annotateCacheEligible marks the last turns user-role wire entries as
// cache-eligible by attaching cache_control to their final content block.
//
// The count runs over serialized wire entries, not logical messages: a
// logical user turn that expanded into a tool-role entry plus a user-role
// entry consumes two slots, so the marker lands on the entry the backend
// actually caches up to.
func annotateCacheEligible(messages []anthropic.MessageParam, turns int) {
	marked := 0
	for i := len(messages) - 1; i >= 0 && marked < turns; i-- {
		if messages[i].Role != anthropic.MessageParamRoleUser {
			continue
		}
		if setCacheControl(&messages[i]) {
			marked++
		}
	}
}

// setCacheControl attaches an ephemeral cache marker to the message's final
// content block. Returns false when the block type cannot carry one.
func setCacheControl(msg *anthropic.MessageParam) bool {
	if len(msg.Content) == 0 {
		return false
	}
	block := &msg.Content[len(msg.Content)-1]
	cc := anthropic.NewCacheControlEphemeralParam()
	switch {
	case block.OfText != nil:
		block.OfText.CacheControl = cc
	case block.OfToolResult != nil:
		block.OfToolResult.CacheControl = cc
	case block.OfImage != nil:
		block.OfImage.CacheControl = cc
	case block.OfToolUse != nil:
		block.OfToolUse.CacheControl = cc
	default:
		return false
	}
	return true
}

// imageBlock converts an image part to an Anthropic image block. Data URLs
// become base64 sources, anything else is passed as a URL source.
func imageBlock(part models.Part) (anthropic.ContentBlockParamUnion, bool) {
	if mediaType, data, ok := parseDataURL(part.Image); ok {
		return anthropic.NewImageBlockBase64(mediaType, data), true
	}
	if part.Image != "" {
		return anthropic.ContentBlockParamUnion{
			OfImage: &anthropic.ImageBlockParam{
				Source: anthropic.ImageBlockParamSourceUnion{
					OfURL: &anthropic.URLImageSourceParam{URL: part.Image},
				},
			},
		}, true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

// parseDataURL splits a "data:<mediatype>;base64,<data>" URL.
func parseDataURL(raw string) (string, string, bool) {
	if !strings.HasPrefix(raw, "data:") {
		return "", "", false
	}
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	meta := strings.TrimPrefix(parts[0], "data:")
	if !strings.HasSuffix(meta, ";base64") {
		return "", "", false
	}
	mediaType := strings.TrimSuffix(meta, ";base64")
	if mediaType == "" {
		return "", "", false
	}
	return mediaType, parts[1], true
}

// normalizeArgs ensures tool call arguments parse as a JSON object even
// when a backend streamed zero fragments.
func normalizeArgs(input json.RawMessage) json.RawMessage {
	if len(input) == 0 {
		return json.RawMessage("{}")
	}
	return input
}

// getModel returns the model ID to use for the request.
func (p *AnthropicProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// getMaxTokens returns the token limit, defaulting to 4096.
func (p *AnthropicProvider) getMaxTokens(maxTokens int) int {
	if maxTokens <= 0 {
		return 4096
	}
	return maxTokens
}

// anthropicErrorPayload is the error envelope shape of Anthropic error
// response bodies.
type anthropicErrorPayload struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

// wrapError normalizes an SDK error into a ProviderError, preferring the
// message from the response body's error envelope and attaching the status
// code for retry branching.
func (p *AnthropicProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "anthropic",
			Model:    model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.StatusCode)

		message := ""
		code := ""
		requestID := apiErr.RequestID

		raw := apiErr.RawJSON()
		if raw != "" {
			var payload anthropicErrorPayload
			if json.Unmarshal([]byte(raw), &payload) == nil {
				if payload.Error.Message != "" {
					message = payload.Error.Message
				}
				if payload.Error.Type != "" {
					code = payload.Error.Type
				}
				if payload.RequestID != "" {
					requestID = payload.RequestID
				}
			}
		}

		if message != "" {
			providerErr = providerErr.WithMessage(message)
		} else if providerErr.Message == "" {
			providerErr.Message = "anthropic request failed"
		}
		if code != "" {
			providerErr = providerErr.WithCode(code)
		}
		if requestID != "" {
			providerErr = providerErr.WithRequestID(requestID)
		}
		return providerErr
	}

	return Normalize(err, "anthropic", model)
}

// fail reports and emits a normalized error event.
func (p *AnthropicProvider) fail(ctx context.Context, events chan<- *models.StreamEvent, model, operation string, err error) {
	pe := Normalize(err, "anthropic", model)
	if p.reporter != nil {
		p.reporter.ReportProviderError(ctx, "anthropic", model, operation, pe)
	}
	events <- models.ErrorEvent(pe)
}

// CountTokens estimates the token count for a request using ~4 characters
// per token. Rough, but close enough for context-window checks.
func (p *AnthropicProvider) CountTokens(req *agent.CompletionRequest) int {
	total := len(req.System) / 4

	for _, msg := range req.Messages {
		if msg == nil {
			continue
		}
		total += len(msg.Encrypted) / 4
		for _, part := range msg.Parts {
			total += len(part.Text) / 4
			total += len(part.ToolName) / 4
			total += len(part.Input) / 4
			total += len(part.Output) / 4
		}
	}

	for _, tool := range req.Tools {
		total += len(tool.Name) / 4
		total += len(tool.Description) / 4
		total += len(tool.Schema) / 4
	}

	return total
}
