package llm

import (
	"context"
	"errors"
	"io"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader replays string chunks. With block set it waits after the last
// chunk until closed, like a vendor connection that is still open.
type fakeReader struct {
	mu     sync.Mutex
	chunks []string
	next   int
	err    error
	block  chan struct{}
	closes int32
}

func (r *fakeReader) Recv() (string, error) {
	r.mu.Lock()
	if r.next < len(r.chunks) {
		c := r.chunks[r.next]
		r.next++
		r.mu.Unlock()
		return c, nil
	}
	r.mu.Unlock()
	if r.block != nil {
		<-r.block
		return "", errors.New("connection closed")
	}
	if r.err != nil {
		return "", r.err
	}
	return "", io.EOF
}

func (r *fakeReader) Close() error {
	if atomic.AddInt32(&r.closes, 1) == 1 && r.block != nil {
		close(r.block)
	}
	return nil
}

// testNormalizer understands "text:<s>", "tool:<name>", "args:<json>",
// "usage:<n>", "stop" and "bad".
func testNormalizer() Normalizer[string] {
	var blocks BlockTracker
	return NormalizerFunc[string](func(chunk string) (ChunkResult, error) {
		kind, arg, _ := strings.Cut(chunk, ":")
		switch kind {
		case "text":
			return ChunkResult{Events: blocks.TextDelta(arg)}, nil
		case "tool":
			return ChunkResult{Events: blocks.StartTool(arg, "id-"+arg)}, nil
		case "args":
			return ChunkResult{Events: blocks.ToolDelta(arg)}, nil
		case "usage":
			n, _ := strconv.ParseInt(arg, 10, 64)
			return ChunkResult{Usage: &Usage{Input: n, Output: 1}}, nil
		case "stop":
			return ChunkResult{Events: blocks.Stop()}, nil
		}
		return ChunkResult{}, errors.New("unknown chunk " + chunk)
	})
}

type fakeChecker struct {
	cancelAfter int32
	calls       int32
	stopped     int32
}

func (c *fakeChecker) IsCancelled() bool {
	return atomic.AddInt32(&c.calls, 1) > c.cancelAfter
}

func (c *fakeChecker) StopMonitoring() {
	atomic.AddInt32(&c.stopped, 1)
}

type fakeCleaner struct {
	mu       sync.Mutex
	sessions []int64
}

func (c *fakeCleaner) CleanupSession(_ context.Context, sessionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions = append(c.sessions, sessionID)
	return nil
}

func drain(s *StreamingResponse) []StreamingEvent {
	var out []StreamingEvent
	for s.Next() {
		out = append(out, s.Event())
	}
	return out
}

func TestStreamingResponseDrain(t *testing.T) {
	reader := &fakeReader{chunks: []string{
		"text:Hel", "text:lo", "usage:10", "bad", "tool:read_file", "args:{}", "usage:5", "stop",
	}}
	checker := &fakeChecker{cancelAfter: 1 << 20}
	s := NewStreamingResponse[string](context.Background(), reader, testNormalizer(), StreamOptions{
		SessionID: 7,
		Checker:   checker,
		Logger:    zerolog.Nop(),
	})

	events := drain(s)
	require.NoError(t, s.Err())
	assertBalanced(t, events)
	assert.Equal(t, []StreamingEventType{
		EventTextBlockStart, EventTextBlockDelta, EventTextBlockDelta, EventTextBlockEnd,
		EventToolUseRequestStart, EventToolUseRequestDelta, EventToolUseRequestEnd,
	}, eventTypes(events))

	usage, err := s.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(15), usage.Input)
	assert.Equal(t, int64(2), usage.Output)

	accumulated, err := s.AccumulatedEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, accumulated, len(events))

	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.closes))
	assert.Equal(t, int32(1), atomic.LoadInt32(&checker.stopped))
}

func TestStreamingResponseCancellation(t *testing.T) {
	reader := &fakeReader{chunks: []string{"text:a", "text:b", "text:c", "stop"}}
	checker := &fakeChecker{cancelAfter: 2}
	cleaner := &fakeCleaner{}
	s := NewStreamingResponse[string](context.Background(), reader, testNormalizer(), StreamOptions{
		SessionID: 42,
		Checker:   checker,
		Cleaner:   cleaner,
		Logger:    zerolog.Nop(),
	})

	events := drain(s)
	assert.ErrorIs(t, s.Err(), ErrStreamCancelled)
	assert.Len(t, events, 3, "events emitted before cancellation stay valid")
	assert.Equal(t, []int64{42}, cleaner.sessions)
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.closes))
	assert.Equal(t, int32(1), atomic.LoadInt32(&checker.stopped))

	_, err := s.Usage(context.Background())
	assert.NoError(t, err)
}

func TestStreamingResponseReceiveErrorIsTerminal(t *testing.T) {
	boom := errors.New("connection reset")
	reader := &fakeReader{chunks: []string{"text:partial"}, err: boom}
	s := NewStreamingResponse[string](context.Background(), reader, testNormalizer(), StreamOptions{Logger: zerolog.Nop()})

	events := drain(s)
	assert.ErrorIs(t, s.Err(), boom)
	assert.Equal(t, []StreamingEventType{EventTextBlockStart, EventTextBlockDelta}, eventTypes(events))
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.closes))
}

func TestStreamingResponseUsageDeferredUntilEnd(t *testing.T) {
	reader := &fakeReader{chunks: []string{"usage:3", "text:x"}, block: make(chan struct{})}
	s := NewStreamingResponse[string](context.Background(), reader, testNormalizer(), StreamOptions{Logger: zerolog.Nop()})

	require.True(t, s.Next())
	require.Eventually(t, func() bool { return s.CurrentUsage().Input == 3 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Usage(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded, "usage is not final while the stream is open")

	require.NoError(t, s.Close())
	usage, err := s.Usage(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), usage.Input)
	assert.NoError(t, s.Err(), "closing from the consumer is not a stream failure")
}

func TestStreamingResponseConcurrentClose(t *testing.T) {
	reader := &fakeReader{chunks: []string{"text:x"}, block: make(chan struct{})}
	s := NewStreamingResponse[string](context.Background(), reader, testNormalizer(), StreamOptions{Logger: zerolog.Nop()})
	require.True(t, s.Next())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.Close()
		}()
	}
	wg.Wait()

	<-s.Done()
	assert.Equal(t, int32(1), atomic.LoadInt32(&reader.closes))
	assert.False(t, s.Next())
}

func TestStreamingResponseBatching(t *testing.T) {
	reader := &fakeReader{chunks: []string{"text:a", "text:b", "text:c", "stop"}}
	s := NewStreamingResponse[string](context.Background(), reader, testNormalizer(), StreamOptions{
		BatchSize: 10,
		Logger:    zerolog.Nop(),
	})

	events := drain(s)
	require.Len(t, events, 3)
	assert.Equal(t, "abc", events[1].Text)

	raw, err := s.AccumulatedEvents(context.Background())
	require.NoError(t, err)
	assert.Len(t, raw, 5, "accumulated events are kept before batching")
}

func TestStreamingResponseCollect(t *testing.T) {
	reader := &fakeReader{chunks: []string{"text:See ", "text:this", "tool:grep", `args:{"q":`, `args:"x"}`, "stop", "usage:9"}}
	s := NewStreamingResponse[string](context.Background(), reader, testNormalizer(), StreamOptions{Logger: zerolog.Nop()})

	resp, err := s.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "See this", resp.Text())
	require.Len(t, resp.ToolUses(), 1)
	assert.Equal(t, "x", resp.ToolUses()[0].Input["q"])
	assert.Equal(t, int64(9), resp.Usage.Input)
}
