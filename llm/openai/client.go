package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAI API errors don't directly expose retry-after headers
// We'll use a default retry after duration for rate limits
const defaultRetryAfter = 60 * time.Second

// Options configures a Provider.
type Options struct {
	APIKey       string
	BaseURL      string
	Organization string
	// Counter overrides the local tokenizer.
	Counter llm.TokenCountFunc
	Logger  zerolog.Logger
}

// chatAPI is the part of the SDK client used here.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (chunkStream, error)
}

// sdkChat adapts *openai.Client to chatAPI.
type sdkChat struct {
	client *openai.Client
}

func (c *sdkChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return c.client.CreateChatCompletion(ctx, req)
}

func (c *sdkChat) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (chunkStream, error) {
	return c.client.CreateChatCompletionStream(ctx, req)
}

// Provider implements llm.Provider for OpenAI-compatible chat completions.
type Provider struct {
	opts    Options
	pool    *llm.ClientPool[chatAPI]
	counter llm.TokenCountFunc
	logger  zerolog.Logger
}

// NewProvider creates a new OpenAI provider. Clients are created lazily and
// shared per base URL.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		opts:    opts,
		counter: opts.Counter,
		logger:  opts.Logger.With().Str("provider", llm.ProviderOpenAI).Logger(),
	}
	if p.counter == nil {
		p.counter = llm.NewTiktokenCounter(llm.DefaultEncoding).Count
	}
	p.pool = llm.NewClientPool(p.newClient)
	return p
}

func (p *Provider) newClient(baseURL string) (chatAPI, error) {
	if p.opts.APIKey == "" {
		return nil, llm.NewClientError("openai api key is required", nil)
	}

	config := openai.DefaultConfig(p.opts.APIKey)

	// Set custom base URL if provided
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	// Set organization if provided
	if p.opts.Organization != "" {
		config.OrgID = p.opts.Organization
	}

	p.logger.Debug().Str("base_url", config.BaseURL).Msg("Created OpenAI client")
	return &sdkChat{client: openai.NewClientWithConfig(config)}, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	return llm.ProviderOpenAI
}

// BuildPayload implements llm.Provider.
func (p *Provider) BuildPayload(ctx context.Context, model llm.ModelConfig, req *llm.PayloadRequest) (llm.Payload, error) {
	return BuildPayload(ctx, model, req)
}

// CallServiceClient implements llm.Provider.
func (p *Provider) CallServiceClient(ctx context.Context, call *llm.ServiceCall) (llm.Response, error) {
	if call == nil {
		return nil, llm.NewClientError("service call is required", nil)
	}
	payload, ok := call.Payload.(*Payload)
	if !ok {
		return nil, llm.NewClientError(fmt.Sprintf("openai provider cannot send %T", call.Payload), nil)
	}

	client, err := p.pool.Get(p.opts.BaseURL)
	if err != nil {
		return nil, err
	}

	chatReq := payload.Request
	if chatReq.Model == "" {
		chatReq.Model = call.Model.Name
	}

	if call.ResponseType == llm.ResponseStreaming {
		chatReq.Stream = true
		if chatReq.StreamOptions == nil {
			chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
		}
		stream, err := client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return nil, convertOpenAIError(err)
		}
		return llm.NewStreamingResponse[openai.ChatCompletionStreamResponse](ctx, &streamReader{stream: stream}, NewStreamNormalizer(), llm.StreamOptions{
			SessionID: call.SessionID,
			Checker:   call.Checker,
			Cleaner:   call.Cleaner,
			BatchSize: call.Model.StreamBatchSize,
			Logger:    p.logger,
		}), nil
	}

	chatReq.Stream = false
	chatReq.StreamOptions = nil
	chatResp, err := client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	return ParseResponse(chatResp)
}

// ParseResponse converts a complete chat completion. Only the first choice is
// read: its text first, then its tool calls.
func ParseResponse(chatResp openai.ChatCompletionResponse) (*llm.NonStreamingResponse, error) {
	resp := &llm.NonStreamingResponse{Usage: FromOpenAIUsage(chatResp.Usage)}
	if len(chatResp.Choices) == 0 {
		return resp, nil
	}

	msg := chatResp.Choices[0].Message
	if msg.Content != "" {
		resp.Content = append(resp.Content, llm.NewTextBlock(msg.Content))
	}
	for _, toolCall := range msg.ToolCalls {
		block, err := FromOpenAIToolCall(toolCall)
		if err != nil {
			return nil, err
		}
		resp.Content = append(resp.Content, block)
	}
	return resp, nil
}

// convertOpenAIError converts OpenAI API errors to llm.Error types.
func convertOpenAIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Type: llm.ErrorTypeTimeout, Message: "OpenAI request timed out", Retryable: true, ProviderErr: err}
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return llm.FromStatusCode(reqErr.HTTPStatusCode, "OpenAI request failed", nil, err)
	}

	// Check if it's an OpenAI API error using errors.As
	var apiErr *openai.APIError
	if !errors.As(err, &apiErr) {
		return &llm.Error{Type: llm.ErrorTypeNetwork, Message: "OpenAI request failed", Retryable: true, ProviderErr: err}
	}

	switch apiErr.HTTPStatusCode {
	case http.StatusTooManyRequests:
		retryAfter := defaultRetryAfter
		return llm.NewRateLimitError(fmt.Sprintf("OpenAI rate limit: %s", apiErr.Message), &retryAfter, err)
	default:
		return llm.FromStatusCode(apiErr.HTTPStatusCode, fmt.Sprintf("OpenAI API error: %s", apiErr.Message), nil, err)
	}
}

// Ensure Provider implements llm.Provider
var _ llm.Provider = (*Provider)(nil)
