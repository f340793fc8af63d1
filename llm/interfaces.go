package llm

import (
	"context"
)

// Payload is a vendor-specific request body ready to send.
type Payload interface {
	// ProviderName names the provider that built the payload.
	ProviderName() string
}

// PayloadRequest carries everything a provider needs to build a payload.
// When ConversationTurns is non-nil it replaces the legacy inputs
// (PreviousResponses, ToolUseResponse, Attachments and Prompt.User).
type PayloadRequest struct {
	Prompt            Prompt
	Attachments       []int64
	AttachmentData    AttachmentMap
	ToolUseResponse   *ToolResponse
	PreviousResponses []MessageThread
	ConversationTurns []ConversationTurn
	Tools             []Tool
	ToolChoice        string
	CacheConfig       PromptCacheConfig
	SearchWeb         bool
	Stream            bool
}

// ServiceCall describes one vendor invocation.
type ServiceCall struct {
	SessionID    int64
	Payload      Payload
	Model        ModelConfig
	ResponseType ResponseType
	Checker      CancellationChecker
	Cleaner      SessionCleaner
}

// Provider builds payloads for one vendor family and invokes it.
type Provider interface {
	// Name returns the provider identifier used in model configuration.
	Name() string

	// BuildPayload converts a request into the vendor's native payload.
	// It has no side effects and is deterministic for a given input.
	BuildPayload(ctx context.Context, model ModelConfig, req *PayloadRequest) (Payload, error)

	// CallServiceClient sends the payload. The result is a *NonStreamingResponse
	// or a *StreamingResponse depending on call.ResponseType.
	CallServiceClient(ctx context.Context, call *ServiceCall) (Response, error)

	// GetTokens counts tokens in content using the vendor's tokenizer.
	GetTokens(ctx context.Context, content string, model ModelConfig) (int, error)

	// PayloadContent extracts the countable text of a payload. It never fails;
	// unreadable payloads yield PlaceholderContent.
	PayloadContent(payload Payload) string
}

// Middleware provides hooks for decorating Provider calls.
// This allows adding cross-cutting concerns like logging without modifying providers.
type Middleware interface {
	// BeforeRequest is called before making an API request.
	// It can modify the call or return an error to abort it.
	BeforeRequest(ctx context.Context, call *ServiceCall) (*ServiceCall, error)

	// AfterResponse is called after receiving a response.
	AfterResponse(ctx context.Context, call *ServiceCall, resp Response) (Response, error)

	// OnError is called when an error occurs.
	// It can return a modified error or nil to use the original error.
	OnError(ctx context.Context, call *ServiceCall, err error) error
}

// MiddlewareFunc is a function type that implements Middleware.
type MiddlewareFunc struct {
	BeforeRequestFunc func(ctx context.Context, call *ServiceCall) (*ServiceCall, error)
	AfterResponseFunc func(ctx context.Context, call *ServiceCall, resp Response) (Response, error)
	OnErrorFunc       func(ctx context.Context, call *ServiceCall, err error) error
}

// BeforeRequest calls the BeforeRequestFunc if set.
func (f MiddlewareFunc) BeforeRequest(ctx context.Context, call *ServiceCall) (*ServiceCall, error) {
	if f.BeforeRequestFunc != nil {
		return f.BeforeRequestFunc(ctx, call)
	}
	return call, nil
}

// AfterResponse calls the AfterResponseFunc if set.
func (f MiddlewareFunc) AfterResponse(ctx context.Context, call *ServiceCall, resp Response) (Response, error) {
	if f.AfterResponseFunc != nil {
		return f.AfterResponseFunc(ctx, call, resp)
	}
	return resp, nil
}

// OnError calls the OnErrorFunc if set.
func (f MiddlewareFunc) OnError(ctx context.Context, call *ServiceCall, err error) error {
	if f.OnErrorFunc != nil {
		return f.OnErrorFunc(ctx, call, err)
	}
	return err
}

// WrapWithMiddleware wraps a Provider's service calls with middleware.
func WrapWithMiddleware(provider Provider, middleware ...Middleware) Provider {
	if len(middleware) == 0 {
		return provider
	}
	return &providerWithMiddleware{
		Provider:   provider,
		middleware: middleware,
	}
}

// providerWithMiddleware wraps a Provider with middleware.
type providerWithMiddleware struct {
	Provider
	middleware []Middleware
}

// CallServiceClient implements Provider.CallServiceClient with middleware support.
func (p *providerWithMiddleware) CallServiceClient(ctx context.Context, call *ServiceCall) (Response, error) {
	// Apply BeforeRequest middleware
	for _, mw := range p.middleware {
		var err error
		call, err = mw.BeforeRequest(ctx, call)
		if err != nil {
			return nil, err
		}
	}

	resp, err := p.Provider.CallServiceClient(ctx, call)
	if err != nil {
		// Apply OnError middleware
		for _, mw := range p.middleware {
			if handled := mw.OnError(ctx, call, err); handled != nil {
				err = handled
			}
		}
		return nil, err
	}

	// Apply AfterResponse middleware
	for i := len(p.middleware) - 1; i >= 0; i-- {
		resp, err = p.middleware[i].AfterResponse(ctx, call, resp)
		if err != nil {
			return nil, err
		}
	}

	return resp, nil
}

// Ensure providerWithMiddleware implements Provider
var _ Provider = (*providerWithMiddleware)(nil)
