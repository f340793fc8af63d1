package review

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggingMiddleware_LogsUsage(t *testing.T) {
	var buf bytes.Buffer
	provider := llm.WrapWithMiddleware(
		&scriptedProvider{replies: []reply{textReply("hi")}},
		NewLoggingMiddleware(zerolog.New(&buf)),
	)

	resp, err := provider.CallServiceClient(context.Background(), &llm.ServiceCall{
		SessionID:    3,
		Payload:      textPayload{text: "hello"},
		Model:        llm.ModelConfig{Name: testModel},
		ResponseType: llm.ResponseNonStreaming,
	})

	require.NoError(t, err)
	assert.Equal(t, "hi", resp.(*llm.NonStreamingResponse).Text())
	out := buf.String()
	assert.Contains(t, out, `"message":"Calling LLM service"`)
	assert.Contains(t, out, `"message":"LLM call completed"`)
	assert.Contains(t, out, `"input_tokens":10`)
	assert.Contains(t, out, `"model":"test-model"`)
	assert.Contains(t, out, `"provider":"scripted"`)
	assert.Contains(t, out, `"session_id":3`)
}

func TestLoggingMiddleware_LogsFailure(t *testing.T) {
	var buf bytes.Buffer
	retryAfter := 20 * time.Second
	callErr := llm.NewRateLimitError("slow down", &retryAfter, nil)
	provider := llm.WrapWithMiddleware(
		&scriptedProvider{replies: []reply{errReply(callErr)}},
		NewLoggingMiddleware(zerolog.New(&buf)),
	)

	_, err := provider.CallServiceClient(context.Background(), &llm.ServiceCall{
		Payload: textPayload{},
		Model:   llm.ModelConfig{Name: testModel},
	})

	assert.Same(t, callErr, err)
	out := buf.String()
	assert.Contains(t, out, `"message":"LLM call failed"`)
	assert.Contains(t, out, `"retryable":true`)
	assert.Contains(t, out, `"retry_after":20000`)
}
