package providers

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/haasonsaas/conduit/internal/agent"
	"github.com/haasonsaas/conduit/internal/agent/toolconv"
	"github.com/haasonsaas/conduit/pkg/models"
)

const (
	bedrockImageMaxBytes = 20 * 1024 * 1024
	bedrockImageTimeout  = 30 * time.Second
)

// BedrockProvider implements agent.LLMProvider for AWS Bedrock's Converse
// API. Bedrock speaks a block-ordered wire format close to the canonical
// model, but images travel as raw bytes rather than URLs and streaming
// events arrive as typed member unions.
//
// Authentication uses the AWS credential chain unless explicit credentials
// are configured.
//
// Thread safety: BedrockProvider is safe for concurrent use.
type BedrockProvider struct {
	// client is the underlying Bedrock runtime client.
	client *bedrockruntime.Client

	// base carries the shared retry configuration.
	base BaseProvider

	// defaultModel is used when CompletionRequest.Model is empty.
	defaultModel string

	// sentinel is the reasoning delta value that marks redacted thinking.
	sentinel string

	// region is the configured AWS region.
	region string

	// reporter receives normalized error reports; may be nil.
	reporter ErrorReporter
}

// BedrockConfig holds configuration for the Bedrock provider.
type BedrockConfig struct {
	// Region is the AWS region. Default: us-east-1
	Region string

	// AccessKeyID for explicit credentials (optional, uses the default
	// chain when empty).
	AccessKeyID string

	// SecretAccessKey for explicit credentials (optional).
	SecretAccessKey string

	// SessionToken for temporary credentials (optional).
	SessionToken string

	// DefaultModel is used when a request doesn't specify one.
	// Default: "anthropic.claude-3-sonnet-20240229-v1:0"
	DefaultModel string

	// MaxRetries sets the maximum retry attempts for transient failures.
	// Default: 3
	MaxRetries int

	// RetryDelay sets the base delay between retry attempts. Default: 1s
	RetryDelay time.Duration

	// RedactionSentinel overrides the reasoning redaction marker.
	RedactionSentinel string

	// Reporter receives normalized error reports (optional).
	Reporter ErrorReporter
}

// NewBedrockProvider creates a provider instance, loading AWS configuration
// and applying defaults.
func NewBedrockProvider(cfg BedrockConfig) (*BedrockProvider, error) {
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.DefaultModel == "" {
		cfg.DefaultModel = "anthropic.claude-3-sonnet-20240229-v1:0"
	}

	var awsCfg aws.Config
	var err error

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
			config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID,
				cfg.SecretAccessKey,
				cfg.SessionToken,
			)),
		)
	} else {
		awsCfg, err = config.LoadDefaultConfig(context.Background(),
			config.WithRegion(cfg.Region),
		)
	}
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to load AWS config: %w", err)
	}

	return &BedrockProvider{
		client:       bedrockruntime.NewFromConfig(awsCfg),
		base:         NewBaseProvider("bedrock", cfg.MaxRetries, cfg.RetryDelay),
		defaultModel: cfg.DefaultModel,
		sentinel:     cfg.RedactionSentinel,
		region:       cfg.Region,
		reporter:     cfg.Reporter,
	}, nil
}

// Name returns the provider identifier used for routing and telemetry.
func (p *BedrockProvider) Name() string {
	return "bedrock"
}

// Models returns the list of available models on Bedrock.
// Actual availability depends on the account's model access.
func (p *BedrockProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: "anthropic.claude-3-opus-20240229-v1:0", Name: "Claude 3 Opus (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-sonnet-20240229-v1:0", Name: "Claude 3 Sonnet (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "anthropic.claude-3-haiku-20240307-v1:0", Name: "Claude 3 Haiku (Bedrock)", ContextSize: 200000, SupportsVision: true},
		{ID: "meta.llama3-70b-instruct-v1:0", Name: "Llama 3 70B (Bedrock)", ContextSize: 8192, SupportsVision: false},
		{ID: "mistral.mixtral-8x7b-instruct-v0:1", Name: "Mixtral 8x7B (Bedrock)", ContextSize: 32768, SupportsVision: false},
		{ID: "cohere.command-r-plus-v1:0", Name: "Command R+ (Bedrock)", ContextSize: 128000, SupportsVision: false},
	}
}

// SupportsTools indicates whether this provider supports tool calling.
func (p *BedrockProvider) SupportsTools() bool {
	return true
}

// Stream sends a completion request and returns the canonical event
// sequence.
func (p *BedrockProvider) Stream(ctx context.Context, req *agent.CompletionRequest) (<-chan *models.StreamEvent, error) {
	events := make(chan *models.StreamEvent)

	go func() {
		defer close(events)

		model := p.getModel(req.Model)
		converseReq, err := p.buildRequest(ctx, req, model)
		if err != nil {
			p.fail(ctx, events, model, "convert_messages", err)
			return
		}

		var stream *bedrockruntime.ConverseStreamOutput
		err = p.base.Retry(ctx, IsRetryable, func() error {
			s, err := p.client.ConverseStream(ctx, converseReq)
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

// buildRequest assembles the ConverseStream input from a canonical request.
func (p *BedrockProvider) buildRequest(ctx context.Context, req *agent.CompletionRequest, model string) (*bedrockruntime.ConverseStreamInput, error) {
	messages, err := p.convertMessages(ctx, req.Messages)
	if err != nil {
		return nil, fmt.Errorf("bedrock: failed to convert messages: %w", err)
	}

	converseReq := &bedrockruntime.ConverseStreamInput{
		ModelId:  aws.String(model),
		Messages: messages,
	}

	if req.System != "" {
		converseReq.System = []types.SystemContentBlock{
			&types.SystemContentBlockMemberText{Value: req.System},
		}
	}

	if req.MaxTokens > 0 {
		maxTokens := min(req.MaxTokens, math.MaxInt32)
		converseReq.InferenceConfig = &types.InferenceConfiguration{
			// #nosec G115 -- bounded by min above
			MaxTokens: aws.Int32(int32(maxTokens)),
		}
	}

	if len(req.Tools) > 0 {
		converseReq.ToolConfig = toolconv.ToBedrockTools(req.Tools)
	}

	return converseReq, nil
}

// processStream consumes Converse stream member events and emits canonical
// events.
//
// Event mapping:
//   - contentBlockStart (toolUse): tool_call_start
//   - contentBlockDelta: text -> text, toolUse input -> tool_call_delta
//     backfilled to the open call, reasoningContent text -> reasoning
//     (sentinel dropped), reasoningContent signature -> captured
//   - contentBlockStop: tool_call_end with accumulated arguments
//   - metadata: token usage, emitted as the trailing usage event
//   - channel close: usage, then response_message
func (p *BedrockProvider) processStream(ctx context.Context, stream *bedrockruntime.ConverseStreamOutput, events chan<- *models.StreamEvent, model string) {
	eventStream := stream.GetStream()
	defer eventStream.Close()

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

	eventChan := eventStream.Events()
	for {
		select {
		case <-ctx.Done():
			p.fail(ctx, events, model, "stream", state.resolve(ctx.Err()))
			return

		case event, ok := <-eventChan:
			if !ok {
				if err := eventStream.Err(); err != nil {
					p.fail(ctx, events, model, "stream", state.resolve(p.wrapError(err, model)))
					return
				}
				if !state.hasOutput() {
					p.fail(ctx, events, model, "stream", &NoOutputError{Cause: state.lastErr})
					return
				}
				if sawUsage {
					events <- models.UsageEvent(usage)
				}
				events <- models.ResponseMessageEvent(state.message())
				return
			}

			processed := false

			switch ev := event.(type) {
			case *types.ConverseStreamOutputMemberContentBlockStart:
				if toolUse, ok := ev.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
					processed = emit(state.startToolCall(
						aws.ToString(toolUse.Value.ToolUseId),
						aws.ToString(toolUse.Value.Name),
					))
				}

			case *types.ConverseStreamOutputMemberContentBlockDelta:
				switch delta := ev.Value.Delta.(type) {
				case *types.ContentBlockDeltaMemberText:
					processed = emit(state.appendText(delta.Value))

				case *types.ContentBlockDeltaMemberToolUse:
					if delta.Value.Input != nil {
						processed = emit(state.appendToolArgs("", *delta.Value.Input))
					}

				case *types.ContentBlockDeltaMemberReasoningContent:
					switch reasoning := delta.Value.(type) {
					case *types.ReasoningContentBlockDeltaMemberText:
						processed = emit(state.appendReasoning(reasoning.Value))
					case *types.ReasoningContentBlockDeltaMemberSignature:
						state.setReasoningSignature(reasoning.Value)
						processed = true
					case *types.ReasoningContentBlockDeltaMemberRedactedContent:
						// Redacted reasoning bytes; nothing to forward.
						processed = true
					}
				}

			case *types.ConverseStreamOutputMemberContentBlockStop:
				processed = emit(state.finishToolCall(""))
				// Text and reasoning blocks also produce stop events.
				processed = processed || state.text.Len() > 0 || state.reasoning.Len() > 0

			case *types.ConverseStreamOutputMemberMessageStop:
				processed = true

			case *types.ConverseStreamOutputMemberMetadata:
				if ev.Value.Usage != nil {
					usage.InputTokens = int(aws.ToInt32(ev.Value.Usage.InputTokens))
					usage.OutputTokens = int(aws.ToInt32(ev.Value.Usage.OutputTokens))
					usage.CacheReadTokens = int(aws.ToInt32(ev.Value.Usage.CacheReadInputTokens))
					usage.CacheWriteTokens = int(aws.ToInt32(ev.Value.Usage.CacheWriteInputTokens))
					sawUsage = true
				}
				processed = true
			}

			if processed {
				state.resetEmpty()
			} else if state.countEmpty() {
				p.fail(ctx, events, model, "stream",
					fmt.Errorf("stream appears malformed: received %d consecutive empty events", state.emptyEvents))
				return
			}
		}
	}
}

// convertMessages converts canonical messages to Bedrock Converse format.
//
// The mapping mirrors the Anthropic converter (Converse is block-ordered)
// with two differences: images travel as raw bytes, fetched or decoded
// here, and signed reasoning replays as reasoningContent blocks. Tool-role
// messages map to user-role entries.
func (p *BedrockProvider) convertMessages(ctx context.Context, messages []*models.Message) ([]types.Message, error) {
	result := make([]types.Message, 0, len(messages))
	if ctx == nil {
		ctx = context.Background()
	}

	for _, msg := range messages {
		if msg == nil || msg.Role == models.RoleSystem {
			continue
		}

		if msg.Role == models.RoleReasoning {
			if msg.Encrypted == "" {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(msg.Encrypted)
			if err != nil {
				payload = []byte(msg.Encrypted)
			}
			result = append(result, types.Message{
				Role: types.ConversationRoleAssistant,
				Content: []types.ContentBlock{
					&types.ContentBlockMemberReasoningContent{
						Value: &types.ReasoningContentBlockMemberRedactedContent{Value: payload},
					},
				},
			})
			continue
		}

		var content []types.ContentBlock
		for _, part := range msg.Parts {
			switch part.Type {
			case models.PartText:
				if part.Text != "" {
					content = append(content, &types.ContentBlockMemberText{Value: part.Text})
				}

			case models.PartReasoning:
				if msg.Role == models.RoleAssistant && part.Signature != "" {
					content = append(content, &types.ContentBlockMemberReasoningContent{
						Value: &types.ReasoningContentBlockMemberReasoningText{
							Value: types.ReasoningTextBlock{
								Text:      aws.String(part.Text),
								Signature: aws.String(part.Signature),
							},
						},
					})
				}

			case models.PartImage:
				block, err := p.convertImagePart(ctx, part)
				if err != nil {
					continue
				}
				content = append(content, block)

			case models.PartToolCall:
				var inputDoc any
				if err := json.Unmarshal(normalizeArgs(part.Input), &inputDoc); err != nil {
					inputDoc = map[string]any{}
				}
				content = append(content, &types.ContentBlockMemberToolUse{
					Value: types.ToolUseBlock{
						ToolUseId: aws.String(part.ToolCallID),
						Name:      aws.String(part.ToolName),
						Input:     document.NewLazyDocument(inputDoc),
					},
				})

			case models.PartToolResult:
				block := types.ToolResultBlock{
					ToolUseId: aws.String(part.ToolCallID),
					Content: []types.ToolResultContentBlock{
						&types.ToolResultContentBlockMemberText{Value: part.Output},
					},
				}
				if part.IsError {
					block.Status = types.ToolResultStatusError
				}
				content = append(content, &types.ContentBlockMemberToolResult{Value: block})
			}
		}

		if len(content) == 0 {
			continue
		}

		role := types.ConversationRoleUser
		if msg.Role == models.RoleAssistant {
			role = types.ConversationRoleAssistant
		}
		result = append(result, types.Message{
			Role:    role,
			Content: content,
		})
	}

	return result, nil
}

// convertImagePart converts an image part to a Bedrock image block,
// fetching or decoding the bytes as needed.
func (p *BedrockProvider) convertImagePart(ctx context.Context, part models.Part) (*types.ContentBlockMemberImage, error) {
	data, mimeType, err := fetchImageBytes(ctx, part.Image, part.MediaType)
	if err != nil {
		return nil, err
	}
	format, ok := bedrockImageFormat(mimeType, part.Image)
	if !ok {
		return nil, fmt.Errorf("unsupported image format")
	}
	return &types.ContentBlockMemberImage{
		Value: types.ImageBlock{
			Format: format,
			Source: &types.ImageSourceMemberBytes{Value: data},
		},
	}, nil
}

// fetchImageBytes resolves an image reference to raw bytes: data URLs
// decode in place, file URLs read from disk, anything else fetches over
// HTTP with a size cap.
func fetchImageBytes(ctx context.Context, url, declaredMime string) ([]byte, string, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, "", fmt.Errorf("image reference is required")
	}

	if strings.HasPrefix(url, "data:") {
		data, mimeType, err := decodeBedrockDataURL(url)
		if err != nil {
			return nil, "", err
		}
		if int64(len(data)) > bedrockImageMaxBytes {
			return nil, "", fmt.Errorf("image too large (%d bytes)", len(data))
		}
		if declaredMime != "" {
			mimeType = declaredMime
		}
		return data, normalizeMimeType(mimeType), nil
	}

	if pathValue := strings.TrimPrefix(url, "file://"); pathValue != url {
		info, err := os.Stat(pathValue)
		if err != nil {
			return nil, "", fmt.Errorf("stat image: %w", err)
		}
		if info.Size() > bedrockImageMaxBytes {
			return nil, "", fmt.Errorf("image too large (%d bytes)", info.Size())
		}
		payload, err := os.ReadFile(pathValue)
		if err != nil {
			return nil, "", fmt.Errorf("read image: %w", err)
		}
		mimeType := declaredMime
		if mimeType == "" {
			mimeType = guessImageMimeType(pathValue)
		}
		return payload, normalizeMimeType(mimeType), nil
	}

	requestCtx := ctx
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		requestCtx, cancel = context.WithTimeout(ctx, bedrockImageTimeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(requestCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return nil, "", fmt.Errorf("fetch image returned status %d", resp.StatusCode)
	}
	if resp.ContentLength > bedrockImageMaxBytes {
		return nil, "", fmt.Errorf("image too large (%d bytes)", resp.ContentLength)
	}
	limited := io.LimitReader(resp.Body, bedrockImageMaxBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	if int64(len(data)) > bedrockImageMaxBytes {
		return nil, "", fmt.Errorf("image too large (%d bytes)", len(data))
	}
	mimeType := declaredMime
	if mimeType == "" {
		mimeType = resp.Header.Get("Content-Type")
	}
	if mimeType == "" {
		mimeType = guessImageMimeType(url)
	}
	return data, normalizeMimeType(mimeType), nil
}

func decodeBedrockDataURL(raw string) ([]byte, string, error) {
	parts := strings.SplitN(raw, ",", 2)
	if len(parts) != 2 {
		return nil, "", fmt.Errorf("invalid data url")
	}
	meta := strings.TrimPrefix(parts[0], "data:")
	mimeType := "image/jpeg"
	if meta != "" {
		metaParts := strings.Split(meta, ";")
		if len(metaParts) > 0 && metaParts[0] != "" {
			mimeType = metaParts[0]
		}
	}
	data, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, "", fmt.Errorf("decode data url: %w", err)
	}
	return data, mimeType, nil
}

func normalizeMimeType(mimeType string) string {
	if mimeType == "" {
		return ""
	}
	parts := strings.Split(mimeType, ";")
	return strings.TrimSpace(parts[0])
}

func bedrockImageFormat(mimeType, url string) (types.ImageFormat, bool) {
	normalized := strings.ToLower(normalizeMimeType(mimeType))
	switch normalized {
	case "image/png":
		return types.ImageFormatPng, true
	case "image/jpeg", "image/jpg":
		return types.ImageFormatJpeg, true
	case "image/gif":
		return types.ImageFormatGif, true
	case "image/webp":
		return types.ImageFormatWebp, true
	}
	if ext := strings.ToLower(path.Ext(url)); ext != "" {
		return bedrockFormatFromExt(ext)
	}
	if ext := strings.ToLower(filepath.Ext(url)); ext != "" {
		return bedrockFormatFromExt(ext)
	}
	return "", false
}

func bedrockFormatFromExt(ext string) (types.ImageFormat, bool) {
	switch ext {
	case ".png":
		return types.ImageFormatPng, true
	case ".jpg", ".jpeg":
		return types.ImageFormatJpeg, true
	case ".gif":
		return types.ImageFormatGif, true
	case ".webp":
		return types.ImageFormatWebp, true
	default:
		return "", false
	}
}

func guessImageMimeType(url string) string {
	ext := strings.ToLower(path.Ext(url))
	if ext == "" {
		ext = strings.ToLower(filepath.Ext(url))
	}
	switch ext {
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return ""
	}
}

// getModel returns the model ID to use for the request.
func (p *BedrockProvider) getModel(model string) string {
	if model == "" {
		return p.defaultModel
	}
	return model
}

// wrapError normalizes an SDK error into a ProviderError. AWS surfaces
// throttling as typed exception names in the message.
func (p *BedrockProvider) wrapError(err error, model string) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}

	providerErr := NewProviderError("bedrock", model, err)
	errMsg := err.Error()
	if strings.Contains(errMsg, "ThrottlingException") ||
		strings.Contains(errMsg, "TooManyRequestsException") {
		providerErr = providerErr.WithStatus(http.StatusTooManyRequests)
	} else if strings.Contains(errMsg, "ServiceUnavailableException") {
		providerErr = providerErr.WithStatus(http.StatusServiceUnavailable)
	}
	return providerErr
}

// fail reports and emits a normalized error event.
func (p *BedrockProvider) fail(ctx context.Context, events chan<- *models.StreamEvent, model, operation string, err error) {
	pe := Normalize(err, "bedrock", model)
	if p.reporter != nil {
		p.reporter.ReportProviderError(ctx, "bedrock", model, operation, pe)
	}
	events <- models.ErrorEvent(pe)
}
