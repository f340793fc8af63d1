package llm

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ChunkReader is a vendor stream of raw chunks. Recv returns io.EOF once the
// vendor has finished sending.
type ChunkReader[C any] interface {
	Recv() (C, error)
	Close() error
}

// ChunkResult is what a normalizer makes of a single vendor chunk.
type ChunkResult struct {
	Events []StreamingEvent
	Usage  *Usage
	// ReplaceUsage marks Usage as a cumulative snapshot rather than an increment.
	ReplaceUsage bool
}

// Normalizer converts vendor chunks into normalized events. A Normalizer is
// stateful and must only be used for one stream.
type Normalizer[C any] interface {
	Normalize(chunk C) (ChunkResult, error)
}

// NormalizerFunc adapts a function to the Normalizer interface.
type NormalizerFunc[C any] func(chunk C) (ChunkResult, error)

// Normalize implements Normalizer.
func (f NormalizerFunc[C]) Normalize(chunk C) (ChunkResult, error) {
	return f(chunk)
}

// CancellationChecker reports whether the session behind a stream has been
// cancelled by its owner.
type CancellationChecker interface {
	IsCancelled() bool
	StopMonitoring()
}

// SessionCleaner discards session-scoped state after a cancellation.
type SessionCleaner interface {
	CleanupSession(ctx context.Context, sessionID int64) error
}

// StreamOptions configures a StreamingResponse.
type StreamOptions struct {
	SessionID int64
	Checker   CancellationChecker
	Cleaner   SessionCleaner
	BatchSize int
	Logger    zerolog.Logger
}

// StreamingResponse delivers normalized events from a vendor stream. Events
// are produced eagerly by a background goroutine and buffered, so the final
// usage becomes available even if the consumer stops reading early.
type StreamingResponse struct {
	id      string
	mu      sync.Mutex
	cond    *sync.Cond // Condition variable to wait for events
	events  []StreamingEvent
	current int
	err     error
	done    bool
	closed  bool

	usage       Usage
	accumulated []StreamingEvent

	usageResult  *Future[Usage]
	eventsResult *Future[[]StreamingEvent]

	cancel      context.CancelFunc
	closeOnce   sync.Once
	closeSource func() error
	closeErr    error
	logger      zerolog.Logger
}

// NewStreamingResponse starts consuming reader in the background and returns
// the response that exposes the normalized events.
func NewStreamingResponse[C any](ctx context.Context, reader ChunkReader[C], normalizer Normalizer[C], opts StreamOptions) *StreamingResponse {
	ctx, cancel := context.WithCancel(ctx)
	s := &StreamingResponse{
		id:           uuid.NewString(),
		current:      -1,
		usageResult:  NewFuture[Usage](),
		eventsResult: NewFuture[[]StreamingEvent](),
		cancel:       cancel,
		closeSource:  reader.Close,
	}
	s.cond = sync.NewCond(&s.mu)
	s.logger = opts.Logger.With().
		Str("stream_id", s.id).
		Int64("session_id", opts.SessionID).
		Logger()

	go runStream(ctx, s, reader, normalizer, opts)
	return s
}

func runStream[C any](ctx context.Context, s *StreamingResponse, reader ChunkReader[C], normalizer Normalizer[C], opts StreamOptions) {
	defer s.finish(opts)

	batch := newCoalescer(opts.BatchSize)
	s.logger.Debug().Msg("Stream started")

	for {
		if opts.Checker != nil && opts.Checker.IsCancelled() {
			s.logger.Info().Msg("Stream cancelled by session owner")
			if opts.Cleaner != nil {
				if err := opts.Cleaner.CleanupSession(context.WithoutCancel(ctx), opts.SessionID); err != nil {
					s.logger.Warn().Err(err).Msg("Failed to clean up cancelled session")
				}
			}
			s.publish(batch.flush(), nil, false)
			s.fail(ErrStreamCancelled)
			return
		}

		chunk, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			s.publish(batch.flush(), nil, false)
			return
		}
		if err != nil {
			s.publish(batch.flush(), nil, false)
			if ctx.Err() != nil && s.isClosed() {
				return
			}
			s.fail(err)
			return
		}

		result, err := normalizer.Normalize(chunk)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Skipping stream chunk that could not be normalized")
			continue
		}

		var out []StreamingEvent
		for _, ev := range result.Events {
			out = append(out, batch.push(ev)...)
		}
		s.record(result.Events)
		s.publish(out, result.Usage, result.ReplaceUsage)
	}
}

// record keeps the un-batched events for AccumulatedEvents.
func (s *StreamingResponse) record(raw []StreamingEvent) {
	if len(raw) == 0 {
		return
	}
	s.mu.Lock()
	s.accumulated = append(s.accumulated, raw...)
	s.mu.Unlock()
}

func (s *StreamingResponse) publish(events []StreamingEvent, usage *Usage, replace bool) {
	if len(events) == 0 && usage == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, events...)
	if usage != nil {
		if replace {
			s.usage = usage.clone()
		} else {
			s.usage = s.usage.Add(*usage)
		}
	}
	s.cond.Broadcast() // Signal that a new event is available
}

func (s *StreamingResponse) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *StreamingResponse) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// finish runs on every exit path of the producer.
func (s *StreamingResponse) finish(opts StreamOptions) {
	if opts.Checker != nil {
		opts.Checker.StopMonitoring()
	}
	s.release()

	s.mu.Lock()
	s.done = true
	usage := s.usage.clone()
	accumulated := make([]StreamingEvent, len(s.accumulated))
	copy(accumulated, s.accumulated)
	err := s.err
	s.cond.Broadcast() // Signal that stream is done
	s.mu.Unlock()

	s.usageResult.Resolve(usage, nil)
	s.eventsResult.Resolve(accumulated, nil)

	ev := s.logger.Debug().
		Int64("input_tokens", usage.Input).
		Int64("output_tokens", usage.Output).
		Int("events", len(accumulated))
	if err != nil {
		ev = ev.Err(err)
	}
	ev.Msg("Stream finished")
}

// release closes the vendor connection exactly once.
func (s *StreamingResponse) release() {
	s.closeOnce.Do(func() {
		s.cancel()
		if s.closeSource != nil {
			s.closeErr = s.closeSource()
		}
	})
}

// Type implements Response.
func (s *StreamingResponse) Type() ResponseType {
	return ResponseStreaming
}

// Next advances to the next event in the stream.
// Buffered events are still delivered after the stream has failed.
func (s *StreamingResponse) Next() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.current++
	for s.current >= len(s.events) && !s.done && !s.closed {
		s.cond.Wait()
	}
	return !s.closed && s.current < len(s.events)
}

// Event returns the current event.
func (s *StreamingResponse) Event() StreamingEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current < 0 || s.current >= len(s.events) {
		return StreamingEvent{}
	}
	return s.events[s.current]
}

// Err returns any error that occurred during streaming.
func (s *StreamingResponse) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close stops the stream and releases the vendor connection. It is safe to
// call more than once and concurrently with the producer finishing.
func (s *StreamingResponse) Close() error {
	s.mu.Lock()
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.release()
	return s.closeErr
}

// CurrentUsage returns the usage accumulated so far.
func (s *StreamingResponse) CurrentUsage() Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage.clone()
}

// Usage blocks until the stream has finished and returns the final usage.
func (s *StreamingResponse) Usage(ctx context.Context) (Usage, error) {
	return s.usageResult.Await(ctx)
}

// AccumulatedEvents blocks until the stream has finished and returns every
// event produced, before batching.
func (s *StreamingResponse) AccumulatedEvents(ctx context.Context) ([]StreamingEvent, error) {
	return s.eventsResult.Await(ctx)
}

// Done is closed once the stream has finished.
func (s *StreamingResponse) Done() <-chan struct{} {
	return s.usageResult.Done()
}

// Collect drains the stream into a complete response. Text and tool-use
// blocks are reassembled from their deltas.
func (s *StreamingResponse) Collect(ctx context.Context) (*NonStreamingResponse, error) {
	defer s.Close()
	var asm assembler
	for s.Next() {
		asm.add(s.Event())
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	usage, err := s.Usage(ctx)
	if err != nil {
		return nil, err
	}
	blocks, err := asm.blocks()
	if err != nil {
		return nil, err
	}
	return &NonStreamingResponse{Content: blocks, Usage: usage}, nil
}
