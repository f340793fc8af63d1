package review

import (
	"context"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
)

// LoggingMiddleware logs provider calls, their usage and their failures.
type LoggingMiddleware struct {
	logger zerolog.Logger
}

// NewLoggingMiddleware creates a new LoggingMiddleware.
func NewLoggingMiddleware(logger zerolog.Logger) *LoggingMiddleware {
	return &LoggingMiddleware{
		logger: logger.With().Str("component", "loggingMiddleware").Logger(),
	}
}

// BeforeRequest implements llm.Middleware.BeforeRequest.
func (m *LoggingMiddleware) BeforeRequest(ctx context.Context, call *llm.ServiceCall) (*llm.ServiceCall, error) {
	logger := m.callLogger(call)
	logger.Debug().Msg("Calling LLM service")
	return call, nil
}

// AfterResponse implements llm.Middleware.AfterResponse. Streaming usage is
// logged once the stream finishes.
func (m *LoggingMiddleware) AfterResponse(ctx context.Context, call *llm.ServiceCall, resp llm.Response) (llm.Response, error) {
	logger := m.callLogger(call)
	switch r := resp.(type) {
	case *llm.NonStreamingResponse:
		logUsage(logger, r.Usage, "LLM call completed")
	case *llm.StreamingResponse:
		started := time.Now()
		go func() {
			<-r.Done()
			elapsed := logger.With().Dur("elapsed", time.Since(started)).Logger()
			logUsage(elapsed, r.CurrentUsage(), "LLM stream completed")
		}()
	}
	return resp, nil
}

// OnError implements llm.Middleware.OnError.
func (m *LoggingMiddleware) OnError(ctx context.Context, call *llm.ServiceCall, err error) error {
	if err == nil {
		return nil
	}
	logger := m.callLogger(call)
	event := logger.Warn().Err(err)
	if retryAfter := llm.ExtractRetryAfter(err); retryAfter != nil {
		event = event.Dur("retry_after", *retryAfter)
	}
	event.Bool("retryable", llm.IsRetryableError(err)).Msg("LLM call failed")
	return err
}

func (m *LoggingMiddleware) callLogger(call *llm.ServiceCall) zerolog.Logger {
	if call == nil {
		return m.logger
	}
	fields := m.logger.With().
		Str("model", call.Model.Name).
		Str("response_type", string(call.ResponseType)).
		Int64("session_id", call.SessionID)
	if call.Payload != nil {
		fields = fields.Str("provider", call.Payload.ProviderName())
	}
	return fields.Logger()
}

func logUsage(logger zerolog.Logger, usage llm.Usage, msg string) {
	logger.Info().
		Int64("input_tokens", usage.Input).
		Int64("output_tokens", usage.Output).
		Int64("cache_read_tokens", usage.CacheReadTokens()).
		Int64("cache_write_tokens", usage.CacheWriteTokens()).
		Msg(msg)
}

var _ llm.Middleware = (*LoggingMiddleware)(nil)
