package providers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/toolconv"
	"github.com/haasonsaas/conduit/pkg/models"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIProvider implements agent.LLMProvider for OpenAI's chat completions
// API, the linear-chat target: one content string per message, tool calls
// carried as a sibling field on assistant entries, and tool results sent as
// separate tool-role messages linked by call id.
//
// Key differences from the Anthropic provider:
//   - The system prompt is the first element of the messages array, not a
//     separate request field
//   - Tool calls stream incrementally by index; id, name, and argument
//     fragments can arrive on different chunks and are accumulated before
//     the end event is emitted
//   - Reasoning content has no replay representation; assistant reasoning
//     is stripped on the way out
//   - Usage arrives as a trailing chunk when stream_options.include_usage
//     is set
//
// Thread safety: OpenAIProvider is safe for concurrent use. Each Stream()
// call creates an independent stream, goroutine, and normalizer state.
type OpenAIProvider struct {
	// client is the underlying OpenAI SDK client.
	client *openai.Client

	// base carries the shared retry configuration.
	base BaseProvider

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string

	// sentinel is the reasoning delta value that marks redacted thinking.
	sentinel string

	// reporter receives normalized error reports; may be nil.
	reporter ErrorReporter
}

// OpenAIConfig holds configuration for creating an OpenAIProvider.
// All fields except APIKey are optional.
type OpenAIConfig struct {
	// APIKey is the OpenAI API authentication key (required).
	APIKey string

	// BaseURL overrides the default OpenAI API base URL. Useful for
	// OpenAI-compatible gateways.
	BaseURL string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Default: 1s
	RetryDelay time.Duration

	// DefaultModel is used when a request doesn't specify one.
	// Default: "gpt-4o"
	DefaultModel string

	// RedactionSentinel overrides the reasoning redaction marker.
	RedactionSentinel string

	// Reporter receives normalized error reports (optional).
	Reporter ErrorReporter
}

// NewOpenAIProvider creates a provider instance, validating the config and
// applying defaults.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	if config.DefaultModel == "" {
		config.DefaultModel = "gpt-4o"
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAIProvider{
		client:       openai.NewClientWithConfig(clientConfig),
		base:         NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		defaultModel: config.DefaultModel,
		sentinel:     config.RedactionSentinel,
		reporter:     config.Reporter,
	}, nil
}

// Name returns the provider identifier used for routing and telemetry.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Models returns the list of available GPT models with their capabilities.
func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "gpt-4o", Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4o-mini", Name: "GPT-4o Mini", ContextSize: 128000, SupportsVision: true},
		{ID: "gpt-4-turbo", Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: "o3-mini", Name: "o3-mini", ContextSize: 200000, SupportsVision: false},
	}
}

// SupportsTools indicates whether this provider supports tool calling.
func (p *OpenAIProvider) SupportsTools() bool {
	return true
}

// Stream sends a completion request and returns the canonical event
// sequence.
func (p *OpenAIProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *models.StreamEvent, error) {
	events := make(chan *models.StreamEvent)

	go func() {
		defer close(events)

		model := p.getModel(req.Model)
		var stream *openai.ChatCompletionStream
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

// createStream builds the chat completion request from a canonical
// completion request and opens the stream.
func (p *OpenAIProvider) createStream(ctx context.Context, req *agent.CompletionRequest) (*openai.ChatCompletionStream, error) {
	messages, err := p.convertMessages(req.Messages, req.System)
	if err != nil {
		return nil, fmt.Errorf("openai: failed to convert messages: %w", err)
	}

	chatReq := openai.ChatCompletionRequest{
		Model:    p.getModel(req.Model),
		Messages: messages,
		Stream:   true,
		StreamOptions: &openai.StreamOptions{
			IncludeUsage: true,
		},
	}

	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = toolconv.ToOpenAITools(req.Tools)
	}

	return p.client.CreateChatCompletionStream(ctx, chatReq)
}

// processStream consumes chat completion chunks and emits canonical events.
//
// Tool calls stream incrementally: the first chunk for an index carries the
// id and usually the name, later chunks carry bare argument fragments. The
// per-index map resolves each fragment back to its call id so delta events
// always carry complete identity. Calls close when the finish reason is
// "tool_calls", or at EOF for backends that omit the finish reason.
func (p *OpenAIProvider) processStream(ctx context.Context, stream *openai.ChatCompletionStream, events chan<- *models.StreamEvent, model string) {
	defer stream.Close()

	state := newStreamState(p.sentinel)
	var usage models.TokenUsage
	sawUsage := false

	// index -> call id; OpenAI tracks parallel calls by index, the
	// canonical vocabulary by id.
	callIDs := make(map[int]string)
	finished := make(map[string]bool)

	emit := func(ev *models.StreamEvent) bool {
		if ev == nil {
			return false
		}
		events <- ev
		state.resetEmpty()
		return true
	}

	finishPending := func() {
		for _, id := range state.callOrder {
			if finished[id] {
				continue
			}
			finished[id] = true
			emit(state.finishToolCall(id))
		}
	}

	for {
		select {
		case <-ctx.Done():
			p.fail(ctx, events, model, "stream", state.resolve(ctx.Err()))
			return
		default:
		}

		response, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if !state.hasOutput() {
					p.fail(ctx, events, model, "stream", &NoOutputError{Cause: state.lastErr})
					return
				}
				finishPending()
				if sawUsage {
					events <- models.UsageEvent(usage)
				}
				events <- models.ResponseMessageEvent(state.message())
				return
			}
			p.fail(ctx, events, model, "stream", state.resolve(p.wrapError(err, model)))
			return
		}

		// The trailing usage chunk has no choices.
		if response.Usage != nil {
			usage.InputTokens = response.Usage.PromptTokens
			usage.OutputTokens = response.Usage.CompletionTokens
			if response.Usage.PromptTokensDetails != nil {
				usage.CacheReadTokens = response.Usage.PromptTokensDetails.CachedTokens
			}
			if response.Usage.CompletionTokensDetails != nil {
				usage.ReasoningTokens = response.Usage.CompletionTokensDetails.ReasoningTokens
			}
			sawUsage = true
		}

		if len(response.Choices) == 0 {
			if response.Usage == nil && state.countEmpty() {
				p.fail(ctx, events, model, "stream",
					fmt.Errorf("stream appears malformed: received %d consecutive empty chunks", state.emptyEvents))
				return
			}
			continue
		}

		choice := response.Choices[0]
		chunkProcessed := false

		if choice.Delta.Content != "" {
			chunkProcessed = emit(state.appendText(choice.Delta.Content))
		}

		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}

			id, known := callIDs[index]
			if !known && tc.ID != "" {
				callIDs[index] = tc.ID
				id = tc.ID
				chunkProcessed = emit(state.startToolCall(id, tc.Function.Name)) || chunkProcessed
			} else if known && tc.Function.Name != "" {
				state.backfillToolName(id, tc.Function.Name)
				chunkProcessed = true
			}

			if tc.Function.Arguments != "" && id != "" {
				chunkProcessed = emit(state.appendToolArgs(id, tc.Function.Arguments)) || chunkProcessed
			}
		}

		if choice.FinishReason == openai.FinishReasonToolCalls {
			finishPending()
			chunkProcessed = true
		}

		if chunkProcessed {
			state.resetEmpty()
		} else if state.countEmpty() {
			p.fail(ctx, events, model, "stream",
				fmt.Errorf("stream appears malformed: received %d consecutive empty chunks", state.emptyEvents))
			return
		}
	}
}

// convertMessages converts canonical messages to OpenAI's linear chat
// format.
//
// The mapping flattens each message to a single content string:
//   - the system prompt becomes the first system-role message
//   - user text parts concatenate; image parts switch the entry to the
//     multi-content form
//   - assistant reasoning is stripped (no replay representation); tool
//     call parts move to the tool_calls sibling field
//   - each tool result becomes its own tool-role message carrying the call
//     id and the tool name
//   - standalone reasoning records are skipped; the encrypted payload has
//     no wire representation here
func (p *OpenAIProvider) convertMessages(messages []*models.Message, system string) ([]openai.ChatCompletionMessage, error) {
	result := make([]openai.ChatCompletionMessage, 0, len(messages)+1)

	if system != "" {
		result = append(result, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: system,
		})
	}

	// Tool names for result messages come from the calls that produced
	// them.
	toolNames := make(map[string]string)
	for _, msg := range messages {
		if msg == nil || msg.Role != models.RoleAssistant {
			continue
		}
		for _, part := range msg.ToolCallParts() {
			toolNames[part.ToolCallID] = part.ToolName
		}
	}

	for _, msg := range messages {
		if msg == nil || msg.Role == models.RoleSystem || msg.Role == models.RoleReasoning {
			continue
		}

		switch msg.Role {
		case models.RoleUser:
			if entry, ok := p.convertUserMessage(msg); ok {
				result = append(result, entry)
			}

		case models.RoleAssistant:
			if entry, ok := p.convertAssistantMessage(msg); ok {
				result = append(result, entry)
			}

		case models.RoleTool:
			for _, part := range msg.ToolResultParts() {
				name := part.ToolName
				if name == "" {
					name = toolNames[part.ToolCallID]
				}
				result = append(result, openai.ChatCompletionMessage{
					Role:       openai.ChatMessageRoleTool,
					Content:    part.Output,
					Name:       name,
					ToolCallID: part.ToolCallID,
				})
			}
		}
	}

	return result, nil
}

// convertUserMessage flattens a user message to string content, switching
// to the multi-content form when image parts are present.
func (p *OpenAIProvider) convertUserMessage(msg *models.Message) (openai.ChatCompletionMessage, bool) {
	entry := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser}

	if text, ok := flatten(msg); ok {
		entry.Content = text
		return entry, true
	}

	var parts []openai.ChatMessagePart
	for _, part := range msg.Parts {
		switch part.Type {
		case models.PartText:
			if part.Text != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		case models.PartImage:
			if part.Image != "" {
				parts = append(parts, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    part.Image,
						Detail: openai.ImageURLDetailAuto,
					},
				})
			}
		}
	}
	if len(parts) == 0 {
		return entry, false
	}
	entry.MultiContent = parts
	return entry, true
}

// convertAssistantMessage flattens assistant text, drops reasoning, and
// lifts tool calls into the sibling field.
func (p *OpenAIProvider) convertAssistantMessage(msg *models.Message) (openai.ChatCompletionMessage, bool) {
	entry := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant}

	if text, ok := flatten(msg); ok {
		entry.Content = text
	} else {
		entry.Content = msg.Text()
	}

	calls := msg.ToolCallParts()
	if len(calls) > 0 {
		entry.ToolCalls = make([]openai.ToolCall, len(calls))
		for i, part := range calls {
			entry.ToolCalls[i] = openai.ToolCall{
				ID:   part.ToolCallID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      part.ToolName,
					Arguments: string(normalizeArgs(part.Input)),
				},
			}
		}
	}

	if entry.Content == "" && len(entry.ToolCalls) == 0 {
		return entry, false
	}
	return entry, true
}

// getModel returns the model ID to use for the request.
func (p *OpenAIProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError normalizes an SDK error into a ProviderError, attaching the
// status code for retry branching.
func (p *OpenAIProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		providerErr = providerErr.WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		} else {
			providerErr.Message = "openai request failed"
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		return providerErr
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		providerErr := &ProviderError{
			Provider: "openai",
			Model:    model,
			Message:  "openai request failed",
			Cause:    err,
			Reason:   FailoverUnknown,
		}
		return providerErr.WithStatus(reqErr.HTTPStatusCode)
	}

	return Normalize(err, "openai", model)
}

// fail reports and emits a normalized error event.
func (p *OpenAIProvider) fail(ctx context.Context, events chan<- *models.StreamEvent, model, operation string, err error) {
	pe := Normalize(err, "openai", model)
	if p.reporter != nil {
		p.reporter.ReportProviderError(ctx, "openai", model, operation, pe)
	}
	events <- models.ErrorEvent(pe)
}
