package session

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {
	c := NewCache(zerolog.Nop())
	c.Set(1, "diff", "a/b.go")
	c.Set(2, "diff", "c/d.go")

	v, ok := c.Get(1, "diff")
	require.True(t, ok)
	assert.Equal(t, "a/b.go", v)

	c.Cancel(1)
	assert.True(t, c.IsCancelled(1))
	assert.False(t, c.IsCancelled(2))

	require.NoError(t, c.CleanupSession(context.Background(), 1))
	_, ok = c.Get(1, "diff")
	assert.False(t, ok)
	assert.False(t, c.IsCancelled(1))
	_, ok = c.Get(2, "diff")
	assert.True(t, ok, "other sessions are untouched")
}

func TestChecker_ObservesCancellation(t *testing.T) {
	c := NewCache(zerolog.Nop())
	checker := NewChecker(c, 7, time.Millisecond, zerolog.Nop())
	checker.Start(context.Background())
	defer checker.StopMonitoring()

	assert.False(t, checker.IsCancelled())
	c.Cancel(7)

	assert.Eventually(t, checker.IsCancelled, time.Second, time.Millisecond)
	checker.Wait()
}

func TestChecker_StopMonitoringIsIdempotent(t *testing.T) {
	checker := NewChecker(NewCache(zerolog.Nop()), 1, time.Hour, zerolog.Nop())
	checker.Start(context.Background())

	checker.StopMonitoring()
	checker.StopMonitoring()
	checker.Wait()
	assert.False(t, checker.IsCancelled())
}

func TestChecker_StoppedBeforeStart(t *testing.T) {
	c := NewCache(zerolog.Nop())
	c.Cancel(1)
	checker := NewChecker(c, 1, time.Millisecond, zerolog.Nop())

	checker.StopMonitoring()
	checker.Wait()
	checker.Start(context.Background())
	assert.False(t, checker.IsCancelled())
}

func TestChecker_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	checker := NewChecker(NewCache(zerolog.Nop()), 1, time.Hour, zerolog.Nop())
	checker.Start(ctx)
	cancel()
	checker.Wait()
}

type endlessReader struct{ closed chan struct{} }

func (r *endlessReader) Recv() (string, error) {
	select {
	case <-r.closed:
		return "", io.EOF
	case <-time.After(time.Millisecond):
		return "tick", nil
	}
}

func (r *endlessReader) Close() error {
	close(r.closed)
	return nil
}

func TestCancelledSessionStopsStream(t *testing.T) {
	cache := NewCache(zerolog.Nop())
	cache.Set(42, "draft", "partial answer")
	cache.Cancel(42)

	checker := NewChecker(cache, 42, time.Millisecond, zerolog.Nop())
	checker.Start(context.Background())

	normalize := llm.NormalizerFunc[string](func(text string) (llm.ChunkResult, error) {
		return llm.ChunkResult{Events: []llm.StreamingEvent{llm.TextBlockDelta(text)}}, nil
	})
	stream := llm.NewStreamingResponse[string](context.Background(), &endlessReader{closed: make(chan struct{})}, normalize, llm.StreamOptions{
		SessionID: 42,
		Checker:   checker,
		Cleaner:   cache,
		Logger:    zerolog.Nop(),
	})
	defer stream.Close()

	for stream.Next() {
	}
	assert.ErrorIs(t, stream.Err(), llm.ErrStreamCancelled)

	_, ok := cache.Get(42, "draft")
	assert.False(t, ok, "session data is discarded")
	checker.Wait()
}
