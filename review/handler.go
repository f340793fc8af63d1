package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
)

// Request is one model invocation with its history and post-processing mode.
type Request struct {
	SessionID         int64
	Model             string
	Prompt            llm.Prompt
	PreviousResponses []llm.MessageThread
	ConversationTurns []llm.ConversationTurn
	Attachments       []int64
	AttachmentData    llm.AttachmentMap
	ToolUseResponse   *llm.ToolResponse
	Tools             []llm.Tool
	ToolChoice        string
	CacheConfig       llm.PromptCacheConfig
	SearchWeb         bool

	// StructureType selects post-processing. Parse disables it when false.
	StructureType StructureType
	Parse         bool

	// MaxRetry overrides the handler's policy when positive.
	MaxRetry int

	// Checker and Cleaner are only used by StreamLLMResponse.
	Checker llm.CancellationChecker
	Cleaner llm.SessionCleaner
}

func (r Request) payloadRequest(stream bool) *llm.PayloadRequest {
	return &llm.PayloadRequest{
		Prompt:            r.Prompt,
		Attachments:       r.Attachments,
		AttachmentData:    r.AttachmentData,
		ToolUseResponse:   r.ToolUseResponse,
		PreviousResponses: r.PreviousResponses,
		ConversationTurns: r.ConversationTurns,
		Tools:             r.Tools,
		ToolChoice:        r.ToolChoice,
		CacheConfig:       r.CacheConfig,
		SearchWeb:         r.SearchWeb,
		Stream:            stream,
	}
}

// Result is the post-processed outcome of GetLLMResponse.
type Result struct {
	Response      string                   `json:"response"`
	JSONComments  []map[string]interface{} `json:"json_comments,omitempty"`
	Comments      []ReviewComment          `json:"comments,omitempty"`
	ToolUses      []*llm.ToolUseRequest    `json:"tool_uses,omitempty"`
	InputTokens   int64                    `json:"input_tokens"`
	OutputTokens  int64                    `json:"output_tokens"`
	Usage         llm.Usage                `json:"-"`
	StructureType StructureType            `json:"structure_type"`
	Model         string                   `json:"model"`
}

// Handler dispatches requests to the configured providers and retries
// failed attempts.
type Handler struct {
	registry  *llm.Registry
	validator *llm.TokenValidator
	policy    RetryPolicy
	logger    zerolog.Logger
	wait      func(ctx context.Context, delay time.Duration) error
}

// NewHandler creates a Handler. A nil validator skips token validation.
func NewHandler(registry *llm.Registry, validator *llm.TokenValidator, policy RetryPolicy, logger zerolog.Logger) *Handler {
	if policy.MaxRetry <= 0 {
		policy.MaxRetry = DefaultMaxRetry
	}
	if policy.Backoff < 0 {
		policy.Backoff = 0
	}
	return &Handler{
		registry:  registry,
		validator: validator,
		policy:    policy,
		logger:    logger.With().Str("component", "llmHandler").Logger(),
		wait:      WaitForRetry,
	}
}

// GetLLMResponse resolves the model, builds and validates the payload, calls
// the provider and post-processes the reply. Failed attempts are retried up
// to the request's MaxRetry; a *llm.RetryExhaustedError wraps the last error.
func (h *Handler) GetLLMResponse(ctx context.Context, req Request) (*Result, error) {
	return retry(ctx, h, req, func(ctx context.Context) (*Result, error) {
		return h.attempt(ctx, req)
	})
}

// StreamLLMResponse opens a stream with the same retry policy around setup.
// Failures after the stream has started are reported by the stream itself.
func (h *Handler) StreamLLMResponse(ctx context.Context, req Request) (*llm.StreamingResponse, error) {
	return retry(ctx, h, req, func(ctx context.Context) (*llm.StreamingResponse, error) {
		model, provider, payload, err := h.prepare(ctx, req, true)
		if err != nil {
			return nil, err
		}
		resp, err := provider.CallServiceClient(ctx, &llm.ServiceCall{
			SessionID:    req.SessionID,
			Payload:      payload,
			Model:        model,
			ResponseType: llm.ResponseStreaming,
			Checker:      req.Checker,
			Cleaner:      req.Cleaner,
		})
		if err != nil {
			return nil, err
		}
		stream, ok := resp.(*llm.StreamingResponse)
		if !ok {
			return nil, llm.NewProviderError(fmt.Sprintf("provider %s returned %T for a streaming call", provider.Name(), resp), nil)
		}
		return stream, nil
	})
}

func (h *Handler) maxRetry(req Request) int {
	if req.MaxRetry > 0 {
		return req.MaxRetry
	}
	return h.policy.MaxRetry
}

func retry[T any](ctx context.Context, h *Handler, req Request, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	maxRetry := h.maxRetry(req)
	b := h.policy.newBackOff()
	logger := h.logger.With().Str("model", req.Model).Int64("session_id", req.SessionID).Logger()

	var lastErr error
	for attempt := 1; attempt <= maxRetry; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return zero, err
		}
		if llm.IsClientError(err) || llm.IsTokenLimitExceeded(err) {
			logger.Error().Err(err).Int("attempt", attempt).Msg("LLM request rejected")
			return zero, err
		}

		logger.Warn().Err(err).
			Int("attempt", attempt).
			Int("max_retry", maxRetry).
			Msg("Error while fetching data from LLM")
		if attempt == maxRetry {
			break
		}
		if waitErr := h.wait(ctx, retryDelay(b, err)); waitErr != nil {
			return zero, fmt.Errorf("context cancelled while waiting for retry: %w", waitErr)
		}
	}
	return zero, &llm.RetryExhaustedError{Attempts: maxRetry, Last: lastErr}
}

// prepare resolves the model and returns a validated payload.
func (h *Handler) prepare(ctx context.Context, req Request, stream bool) (llm.ModelConfig, llm.Provider, llm.Payload, error) {
	model, provider, err := h.registry.Resolve(req.Model)
	if err != nil {
		return model, nil, nil, err
	}
	payload, err := provider.BuildPayload(ctx, model, req.payloadRequest(stream))
	if err != nil {
		return model, nil, nil, err
	}
	if h.validator != nil {
		if err := h.validator.ValidatePayloadTokenLimit(ctx, payload, provider, model); err != nil {
			return model, nil, nil, err
		}
	}
	return model, provider, payload, nil
}

func (h *Handler) attempt(ctx context.Context, req Request) (*Result, error) {
	model, provider, payload, err := h.prepare(ctx, req, false)
	if err != nil {
		return nil, err
	}

	resp, err := provider.CallServiceClient(ctx, &llm.ServiceCall{
		SessionID:    req.SessionID,
		Payload:      payload,
		Model:        model,
		ResponseType: llm.ResponseNonStreaming,
	})
	if err != nil {
		return nil, err
	}

	var complete *llm.NonStreamingResponse
	switch r := resp.(type) {
	case *llm.NonStreamingResponse:
		complete = r
	case *llm.StreamingResponse:
		if complete, err = r.Collect(ctx); err != nil {
			return nil, err
		}
	default:
		return nil, llm.NewProviderError(fmt.Sprintf("provider %s returned unexpected response %T", provider.Name(), resp), nil)
	}

	return postProcess(req, model, complete)
}

func postProcess(req Request, model llm.ModelConfig, resp *llm.NonStreamingResponse) (*Result, error) {
	structure := req.StructureType
	if structure == "" {
		structure = StructureText
	}
	text := resp.Text()
	result := &Result{
		Response:      strings.TrimSpace(FormatCodeBlocks(text)),
		ToolUses:      resp.ToolUses(),
		InputTokens:   resp.Usage.Input,
		OutputTokens:  resp.Usage.Output,
		Usage:         resp.Usage,
		StructureType: structure,
		Model:         model.Name,
	}
	// Tool calls are handed back to the caller unparsed.
	if !req.Parse || len(result.ToolUses) > 0 {
		return result, nil
	}

	var err error
	switch structure {
	case StructureJSON:
		result.JSONComments, err = ExtractJSONComments(text)
	case StructureXML:
		result.Comments, err = ParseXMLReview(text)
	case StructureText:
	default:
		err = llm.NewClientError(fmt.Sprintf("unknown structure type %q", structure), nil)
	}
	if err != nil {
		return nil, err
	}
	return result, nil
}
