package google

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

// Options configures a Provider. A project selects Vertex AI; otherwise the
// Gemini API is used with APIKey.
type Options struct {
	APIKey   string
	Project  string
	Location string
	Logger   zerolog.Logger
}

// modelsAPI is the part of *genai.Models used here.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
	CountTokens(ctx context.Context, model string, contents []*genai.Content, config *genai.CountTokensConfig) (*genai.CountTokensResponse, error)
}

// Provider implements llm.Provider for Gemini models.
type Provider struct {
	opts   Options
	pool   *llm.ClientPool[modelsAPI]
	logger zerolog.Logger
}

// NewProvider creates a new Google provider. The underlying client is
// created on first use and shared afterwards.
func NewProvider(opts Options) *Provider {
	p := &Provider{
		opts:   opts,
		logger: opts.Logger.With().Str("provider", llm.ProviderGoogle).Logger(),
	}
	p.pool = llm.NewClientPool(p.newClient)
	return p
}

func (p *Provider) newClient(string) (modelsAPI, error) {
	cfg := &genai.ClientConfig{APIKey: p.opts.APIKey, Backend: genai.BackendGeminiAPI}
	if p.opts.Project != "" {
		cfg = &genai.ClientConfig{
			Project:  p.opts.Project,
			Location: p.opts.Location,
			Backend:  genai.BackendVertexAI,
		}
	} else if p.opts.APIKey == "" {
		return nil, llm.NewClientError("google api key or project is required", nil)
	}

	client, err := genai.NewClient(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	p.logger.Debug().Bool("vertex", cfg.Backend == genai.BackendVertexAI).Msg("Created genai client")
	return client.Models, nil
}

// Name implements llm.Provider.
func (p *Provider) Name() string {
	return llm.ProviderGoogle
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
		return nil, llm.NewClientError(fmt.Sprintf("google provider cannot send %T", call.Payload), nil)
	}
	models, err := p.pool.Get("")
	if err != nil {
		return nil, err
	}
	modelName := payload.Model
	if modelName == "" {
		modelName = call.Model.Name
	}

	if call.ResponseType == llm.ResponseStreaming {
		streamCtx, cancel := context.WithCancel(ctx)
		seq := models.GenerateContentStream(streamCtx, modelName, payload.Contents, payload.Config)
		return llm.NewStreamingResponse[*genai.GenerateContentResponse](ctx, newPullReader(seq, cancel), NewStreamNormalizer(), llm.StreamOptions{
			SessionID: call.SessionID,
			Checker:   call.Checker,
			Cleaner:   call.Cleaner,
			BatchSize: call.Model.StreamBatchSize,
			Logger:    p.logger,
		}), nil
	}

	resp, err := models.GenerateContent(ctx, modelName, payload.Contents, payload.Config)
	if err != nil {
		return nil, convertError(err)
	}
	return ParseResponse(resp)
}

// ParseResponse converts a complete GenerateContent response. A response
// with no candidates, such as one blocked for safety, yields no content.
func ParseResponse(resp *genai.GenerateContentResponse) (*llm.NonStreamingResponse, error) {
	if resp == nil {
		return &llm.NonStreamingResponse{}, nil
	}
	out := &llm.NonStreamingResponse{Usage: FromUsageMetadata(resp.UsageMetadata)}
	if len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return out, nil
	}

	for _, part := range resp.Candidates[0].Content.Parts {
		switch {
		case part == nil, part.Thought:
		case part.FunctionCall != nil:
			id := part.FunctionCall.ID
			if id == "" {
				id = "toolu_" + uuid.NewString()
			}
			out.Content = append(out.Content, llm.NewToolUseBlock(id, part.FunctionCall.Name, part.FunctionCall.Args))
		case part.Text != "":
			out.Content = append(out.Content, llm.NewTextBlock(part.Text))
		}
	}
	return out, nil
}

// convertError maps genai errors onto llm.Error.
func convertError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &llm.Error{Type: llm.ErrorTypeTimeout, Message: "gemini request timed out", Retryable: true, ProviderErr: err}
	}

	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return llm.FromStatusCode(apiErr.Code, "gemini API error: "+apiErr.Message, nil, err)
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) {
		return llm.FromStatusCode(apiErrPtr.Code, "gemini API error: "+apiErrPtr.Message, nil, err)
	}
	return &llm.Error{Type: llm.ErrorTypeNetwork, Message: "gemini request failed", Retryable: true, ProviderErr: err}
}

// Ensure Provider implements llm.Provider
var _ llm.Provider = (*Provider)(nil)
