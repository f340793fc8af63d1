package review

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "test-model"

type textPayload struct{ text string }

func (textPayload) ProviderName() string { return "scripted" }

type reply struct {
	resp llm.Response
	err  error
}

// scriptedProvider answers each call with the next scripted reply and repeats
// the last one once the script runs out.
type scriptedProvider struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	seen    []*llm.ServiceCall
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) BuildPayload(_ context.Context, _ llm.ModelConfig, req *llm.PayloadRequest) (llm.Payload, error) {
	return textPayload{text: req.Prompt.System + req.Prompt.User}, nil
}

func (p *scriptedProvider) CallServiceClient(_ context.Context, call *llm.ServiceCall) (llm.Response, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seen = append(p.seen, call)
	i := p.calls
	if i >= len(p.replies) {
		i = len(p.replies) - 1
	}
	p.calls++
	return p.replies[i].resp, p.replies[i].err
}

func (p *scriptedProvider) GetTokens(_ context.Context, content string, _ llm.ModelConfig) (int, error) {
	return len(content), nil
}

func (p *scriptedProvider) PayloadContent(payload llm.Payload) string {
	if tp, ok := payload.(textPayload); ok {
		return tp.text
	}
	return llm.PlaceholderContent
}

func textReply(text string) reply {
	return reply{resp: &llm.NonStreamingResponse{
		Content: []llm.ContentBlock{llm.NewTextBlock(text)},
		Usage:   llm.Usage{Input: 10, Output: 3},
	}}
}

func errReply(err error) reply {
	return reply{err: err}
}

type recordedWaits struct {
	delays []time.Duration
}

func (w *recordedWaits) wait(ctx context.Context, delay time.Duration) error {
	w.delays = append(w.delays, delay)
	return ctx.Err()
}

func newTestHandler(t *testing.T, provider llm.Provider, model llm.ModelConfig, validator *llm.TokenValidator) (*Handler, *recordedWaits) {
	t.Helper()
	registry := llm.NewRegistry()
	registry.RegisterProvider(provider)
	if model.Name == "" {
		model.Name = testModel
	}
	model.Provider = provider.Name()
	registry.RegisterModel(model)

	h := NewHandler(registry, validator, RetryPolicy{MaxRetry: 3, Backoff: 10 * time.Second}, zerolog.Nop())
	waits := &recordedWaits{}
	h.wait = waits.wait
	return h, waits
}

func TestGetLLMResponse_ParseFailureExhaustsRetries(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{textReply("I could not produce a review.")}}
	h, waits := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	result, err := h.GetLLMResponse(context.Background(), Request{
		Model:         testModel,
		Prompt:        llm.Prompt{User: "review this diff"},
		StructureType: StructureXML,
		Parse:         true,
		MaxRetry:      2,
	})

	assert.Nil(t, result)
	var exhausted *llm.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 2, exhausted.Attempts)
	assert.True(t, llm.IsParseError(exhausted.Last))
	assert.Equal(t, 2, provider.calls)
	assert.Equal(t, []time.Duration{0}, waits.delays, "parse failures retry without a pause")
}

func TestGetLLMResponse_ClientErrorIsNotRetried(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{errReply(llm.NewClientError("bad tool schema", nil))}}
	h, waits := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	_, err := h.GetLLMResponse(context.Background(), Request{Model: testModel})

	require.Error(t, err)
	assert.True(t, llm.IsClientError(err))
	var exhausted *llm.RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, provider.calls)
	assert.Empty(t, waits.delays)
}

func TestGetLLMResponse_UnknownModel(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{textReply("unused")}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	_, err := h.GetLLMResponse(context.Background(), Request{Model: "missing"})

	assert.True(t, llm.IsClientError(err))
	assert.Zero(t, provider.calls)
}

func TestGetLLMResponse_TokenLimitFailsFast(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{textReply("unused")}}
	validator := llm.NewTokenValidator(100, zerolog.Nop())
	h, _ := newTestHandler(t, provider, llm.ModelConfig{InputTokensLimit: 5}, validator)

	_, err := h.GetLLMResponse(context.Background(), Request{
		Model:  testModel,
		Prompt: llm.Prompt{User: "this prompt is far too long"},
	})

	var tle *llm.TokenLimitExceededError
	require.ErrorAs(t, err, &tle)
	assert.Equal(t, 5, tle.Max)
	assert.Zero(t, provider.calls)
}

func TestGetLLMResponse_BacksOffOnProviderError(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{
		errReply(llm.NewProviderError("overloaded", nil)),
		textReply("All good."),
	}}
	h, waits := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	result, err := h.GetLLMResponse(context.Background(), Request{Model: testModel, SessionID: 9})

	require.NoError(t, err)
	assert.Equal(t, "All good.", result.Response)
	assert.Equal(t, int64(10), result.InputTokens)
	assert.Equal(t, int64(3), result.OutputTokens)
	assert.Equal(t, StructureText, result.StructureType)
	assert.Equal(t, testModel, result.Model)
	assert.Equal(t, []time.Duration{10 * time.Second}, waits.delays)
	assert.Equal(t, int64(9), provider.seen[0].SessionID)
	assert.Equal(t, llm.ResponseNonStreaming, provider.seen[0].ResponseType)
}

func TestGetLLMResponse_RetryAfterWins(t *testing.T) {
	retryAfter := 90 * time.Second
	provider := &scriptedProvider{replies: []reply{
		errReply(llm.NewRateLimitError("slow down", &retryAfter, nil)),
		textReply("ok"),
	}}
	h, waits := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	_, err := h.GetLLMResponse(context.Background(), Request{Model: testModel})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{retryAfter}, waits.delays)
}

func TestGetLLMResponse_NoPauseAfterFinalAttempt(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{errReply(llm.NewProviderError("down", nil))}}
	h, waits := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	_, err := h.GetLLMResponse(context.Background(), Request{Model: testModel})

	var exhausted *llm.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 3, exhausted.Attempts, "policy default applies when the request sets none")
	assert.Equal(t, 3, provider.calls)
	assert.Len(t, waits.delays, 2)
}

func TestGetLLMResponse_CancelledWhileWaiting(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{errReply(llm.NewProviderError("down", nil))}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	h.wait = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	_, err := h.GetLLMResponse(ctx, Request{Model: testModel})

	assert.ErrorIs(t, err, context.Canceled)
	var exhausted *llm.RetryExhaustedError
	assert.False(t, errors.As(err, &exhausted))
	assert.Equal(t, 1, provider.calls)
}

func TestGetLLMResponse_ParsesXMLReview(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{textReply(sampleReview)}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	result, err := h.GetLLMResponse(context.Background(), Request{
		Model:         testModel,
		StructureType: StructureXML,
		Parse:         true,
	})

	require.NoError(t, err)
	require.Len(t, result.Comments, 2)
	assert.Equal(t, "RUNTIME_ERROR", result.Comments[0].Bucket)
	assert.Equal(t, StructureXML, result.StructureType)
}

func TestGetLLMResponse_ParsesJSONComments(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{textReply(`Here you go: {"comments": [{"comment": "nil map write", "line_number": 4}]}`)}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	result, err := h.GetLLMResponse(context.Background(), Request{
		Model:         testModel,
		StructureType: StructureJSON,
		Parse:         true,
	})

	require.NoError(t, err)
	require.Len(t, result.JSONComments, 1)
	assert.Equal(t, "nil map write", result.JSONComments[0]["comment"])
}

func TestGetLLMResponse_UnparsedWhenParseDisabled(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{textReply("  Here:   ```go\nx := 1\n   ```  \n")}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	result, err := h.GetLLMResponse(context.Background(), Request{Model: testModel, StructureType: StructureXML})

	require.NoError(t, err)
	assert.Equal(t, "Here:\n```go\nx := 1\n```", result.Response)
	assert.Nil(t, result.Comments)
	assert.Equal(t, 1, provider.calls)
}

func TestGetLLMResponse_ToolUseSkipsParsing(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{{resp: &llm.NonStreamingResponse{
		Content: []llm.ContentBlock{llm.NewToolUseBlock("toolu_1", "grep", map[string]interface{}{"pattern": "TODO"})},
	}}}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	result, err := h.GetLLMResponse(context.Background(), Request{
		Model:         testModel,
		StructureType: StructureXML,
		Parse:         true,
	})

	require.NoError(t, err)
	require.Len(t, result.ToolUses, 1)
	assert.Equal(t, "grep", result.ToolUses[0].Name)
}

// eventReader replays batches of already-normalized events.
type eventReader struct {
	batches [][]llm.StreamingEvent
	closes  int32
}

func (r *eventReader) Recv() ([]llm.StreamingEvent, error) {
	if len(r.batches) == 0 {
		return nil, io.EOF
	}
	next := r.batches[0]
	r.batches = r.batches[1:]
	return next, nil
}

func (r *eventReader) Close() error {
	atomic.AddInt32(&r.closes, 1)
	return nil
}

func passThrough(events []llm.StreamingEvent) (llm.ChunkResult, error) {
	return llm.ChunkResult{Events: events, Usage: &llm.Usage{Input: 7, Output: 2}, ReplaceUsage: true}, nil
}

func newEventStream(reader *eventReader) *llm.StreamingResponse {
	return llm.NewStreamingResponse[[]llm.StreamingEvent](context.Background(), reader, llm.NormalizerFunc[[]llm.StreamingEvent](passThrough), llm.StreamOptions{Logger: zerolog.Nop()})
}

func helloBatches() [][]llm.StreamingEvent {
	return [][]llm.StreamingEvent{
		{llm.TextBlockStart(), llm.TextBlockDelta("Hel")},
		{llm.TextBlockDelta("lo"), llm.TextBlockEnd()},
	}
}

func TestGetLLMResponse_CollectsStreamingReply(t *testing.T) {
	reader := &eventReader{batches: helloBatches()}
	provider := &scriptedProvider{replies: []reply{{resp: newEventStream(reader)}}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	result, err := h.GetLLMResponse(context.Background(), Request{Model: testModel})

	require.NoError(t, err)
	assert.Equal(t, "Hello", result.Response)
	assert.Equal(t, int64(7), result.InputTokens)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.closes))
}

func TestStreamLLMResponse(t *testing.T) {
	reader := &eventReader{batches: helloBatches()}
	provider := &scriptedProvider{replies: []reply{
		errReply(llm.NewProviderError("connection reset", nil)),
		{resp: newEventStream(reader)},
	}}
	h, waits := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	stream, err := h.StreamLLMResponse(context.Background(), Request{Model: testModel})
	require.NoError(t, err)
	complete, err := stream.Collect(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "Hello", complete.Text())
	assert.Equal(t, 2, provider.calls)
	assert.Len(t, waits.delays, 1)
	assert.Equal(t, llm.ResponseStreaming, provider.seen[1].ResponseType)
}

func TestStreamLLMResponse_RejectsCompleteReply(t *testing.T) {
	provider := &scriptedProvider{replies: []reply{textReply("not a stream")}}
	h, _ := newTestHandler(t, provider, llm.ModelConfig{}, nil)

	_, err := h.StreamLLMResponse(context.Background(), Request{Model: testModel, MaxRetry: 1})

	var exhausted *llm.RetryExhaustedError
	require.ErrorAs(t, err, &exhausted)
	assert.Equal(t, 1, provider.calls)
}
