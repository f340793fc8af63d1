package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aschepis/backscratcher/review/llm"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/rs/zerolog"
)

// directKey is the pool key for the non-Bedrock API client.
const directKey = ""

// Options configures a Provider.
type Options struct {
	// APIKey enables the direct Messages API for models without regions.
	APIKey  string
	BaseURL string
	// Counter overrides the local tokenizer.
	Counter llm.TokenCountFunc
	Logger  zerolog.Logger
}

// messagesAPI is the part of the SDK client used here.
type messagesAPI interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
	NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) streamSource
}

type streamSource interface {
	Recv() (string, error)
	Close() error
}

// sdkMessages adapts the SDK message service to messagesAPI.
type sdkMessages struct {
	client  anthropic.Client
	bedrock bool
}

func (m *sdkMessages) opts(version string) []option.RequestOption {
	if m.bedrock && version != "" {
		return []option.RequestOption{option.WithJSONSet("anthropic_version", version)}
	}
	return nil
}

func (m *sdkMessages) New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error) {
	return m.client.Messages.New(ctx, params, opts...)
}

func (m *sdkMessages) NewStreaming(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) streamSource {
	return &sseReader{stream: m.client.Messages.NewStreaming(ctx, params, opts...)}
}

// Provider implements llm.Provider for Anthropic models, served through
// Bedrock when the model lists regions.
type Provider struct {
	opts    Options
	pool    *llm.ClientPool[messagesAPI]
	counter llm.TokenCountFunc
	logger  zerolog.Logger
}

// NewProvider creates a new Anthropic provider.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		opts:   opts,
		logger: opts.Logger.With().Str("provider", llm.ProviderAnthropic).Logger(),
	}
	p.counter = opts.Counter
	if p.counter == nil {
		p.counter = llm.NewTiktokenCounter(llm.DefaultEncoding).Count
	}
	p.pool = llm.NewClientPool(p.newClient)
	return p
}

// newClient builds an SDK client for a Bedrock region, or the direct API
// client for directKey. SDK retries are disabled; the caller owns retries.
func (p *Provider) newClient(region string) (messagesAPI, error) {
	if region == directKey {
		if p.opts.APIKey == "" {
			return nil, llm.NewClientError("anthropic API key not configured and model has no regions", nil)
		}
		reqOpts := []option.RequestOption{option.WithAPIKey(p.opts.APIKey), option.WithMaxRetries(0)}
		if p.opts.BaseURL != "" {
			reqOpts = append(reqOpts, option.WithBaseURL(p.opts.BaseURL))
		}
		return &sdkMessages{client: anthropic.NewClient(reqOpts...)}, nil
	}

	cfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for %s: %w", region, err)
	}
	p.logger.Debug().Str("region", region).Msg("Created Bedrock client")
	return &sdkMessages{
		client:  anthropic.NewClient(bedrock.WithConfig(cfg), option.WithMaxRetries(0)),
		bedrock: true,
	}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	return llm.ProviderAnthropic
}

// BuildPayload implements llm.Provider.
func (p *Provider) BuildPayload(ctx context.Context, model llm.ModelConfig, req *llm.PayloadRequest) (llm.Payload, error) {
	return BuildPayload(ctx, model, req)
}

// route picks the client and model id for a session.
func (p *Provider) route(sessionID int64, model llm.ModelConfig) (messagesAPI, string, error) {
	if len(model.Regions) == 0 {
		client, err := p.pool.Get(directKey)
		return client, model.Name, err
	}
	target := model.Regions[llm.RouteIndex(sessionID, len(model.Regions))]
	client, err := p.pool.Get(target.Region)
	if err != nil {
		return nil, "", err
	}
	modelID := target.ModelIdentifier
	if modelID == "" {
		modelID = model.Name
	}
	return client, modelID, nil
}

// CallServiceClient implements llm.Provider.
func (p *Provider) CallServiceClient(ctx context.Context, call *llm.ServiceCall) (llm.Response, error) {
	if call == nil {
		return nil, llm.NewClientError("service call is required", nil)
	}
	payload, ok := call.Payload.(*Payload)
	if !ok {
		return nil, llm.NewClientError(fmt.Sprintf("anthropic provider cannot send %T", call.Payload), nil)
	}

	client, modelID, err := p.route(call.SessionID, call.Model)
	if err != nil {
		return nil, err
	}
	params := payload.Params
	params.Model = anthropic.Model(modelID)

	var reqOpts []option.RequestOption
	if m, ok := client.(*sdkMessages); ok {
		reqOpts = m.opts(payload.Version)
	}

	if call.ResponseType == llm.ResponseStreaming {
		source := client.NewStreaming(ctx, params, reqOpts...)
		return llm.NewStreamingResponse[string](ctx, source, NewStreamNormalizer(p.logger), llm.StreamOptions{
			SessionID: call.SessionID,
			Checker:   call.Checker,
			Cleaner:   call.Cleaner,
			BatchSize: call.Model.StreamBatchSize,
			Logger:    p.logger,
		}), nil
	}

	message, err := client.New(ctx, params, reqOpts...)
	if err != nil {
		return nil, convertError(err)
	}
	resp, err := ParseMessage(message)
	if err != nil {
		return nil, err
	}
	p.logCacheStats(resp.Usage)
	return resp, nil
}

// ParseMessage converts a complete Messages API response.
func ParseMessage(message *anthropic.Message) (*llm.NonStreamingResponse, error) {
	if message == nil {
		return &llm.NonStreamingResponse{}, nil
	}
	content := make([]llm.ContentBlock, 0, len(message.Content))
	for _, blockUnion := range message.Content {
		switch block := blockUnion.AsAny().(type) {
		case anthropic.TextBlock:
			content = append(content, llm.NewTextBlock(block.Text))
		case anthropic.ToolUseBlock:
			input := make(map[string]interface{})
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &input); err != nil {
					return nil, llm.NewParseError("invalid tool input for "+block.Name, err)
				}
			}
			content = append(content, llm.NewToolUseBlock(block.ID, block.Name, input))
		}
	}

	usage := llm.Usage{
		Input:  message.Usage.InputTokens,
		Output: message.Usage.OutputTokens,
	}
	if message.Usage.JSON.CacheReadInputTokens.Valid() {
		usage.CacheRead = llm.Int64(message.Usage.CacheReadInputTokens)
	}
	if message.Usage.JSON.CacheCreationInputTokens.Valid() {
		usage.CacheWrite = llm.Int64(message.Usage.CacheCreationInputTokens)
	}
	return &llm.NonStreamingResponse{Content: content, Usage: usage}, nil
}

// ParseMessageJSON parses a raw Messages API response body.
func ParseMessageJSON(body []byte) (*llm.NonStreamingResponse, error) {
	var message anthropic.Message
	if err := json.Unmarshal(body, &message); err != nil {
		return nil, llm.NewParseError("invalid anthropic response", err)
	}
	return ParseMessage(&message)
}

// logCacheStats logs prompt cache information for tracking efficacy.
func (p *Provider) logCacheStats(usage llm.Usage) {
	read, write := usage.CacheReadTokens(), usage.CacheWriteTokens()
	if read == 0 && write == 0 {
		return
	}
	cacheEfficiency := float64(0)
	if usage.Input > 0 {
		cacheEfficiency = float64(read) / float64(usage.Input) * 100
	}
	p.logger.Debug().
		Int64("input_tokens", usage.Input).
		Int64("cache_creation_tokens", write).
		Int64("cache_read_tokens", read).
		Float64("cache_efficiency", cacheEfficiency).
		Msg("Prompt cache stats")
}

// convertError maps SDK errors onto llm.Error.
func convertError(err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		if errors.Is(err, context.DeadlineExceeded) {
			return &llm.Error{Type: llm.ErrorTypeTimeout, Message: "anthropic request timed out", Retryable: true, ProviderErr: err}
		}
		if errors.Is(err, context.Canceled) {
			return err
		}
		return &llm.Error{Type: llm.ErrorTypeNetwork, Message: "anthropic request failed", Retryable: true, ProviderErr: err}
	}

	var retryAfter *time.Duration
	if apiErr.Response != nil {
		if secs, convErr := strconv.Atoi(apiErr.Response.Header.Get("Retry-After")); convErr == nil {
			d := time.Duration(secs) * time.Second
			retryAfter = &d
		}
	}
	return llm.FromStatusCode(apiErr.StatusCode, "anthropic API error", retryAfter, err)
}

// Ensure Provider implements llm.Provider
var _ llm.Provider = (*Provider)(nil)
