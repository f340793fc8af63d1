package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is how often a Checker reads the cancellation flag.
const DefaultPollInterval = 500 * time.Millisecond

// Checker watches one session's cancellation flag in the background so that
// IsCancelled never blocks a stream.
type Checker struct {
	cache        *Cache
	sessionID    int64
	pollInterval time.Duration
	logger       zerolog.Logger

	cancelled atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stop      chan struct{}
	done      chan struct{}
}

// NewChecker creates a checker for sessionID. A non-positive pollInterval
// uses DefaultPollInterval.
func NewChecker(cache *Cache, sessionID int64, pollInterval time.Duration, logger zerolog.Logger) *Checker {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Checker{
		cache:        cache,
		sessionID:    sessionID,
		pollInterval: pollInterval,
		logger:       logger.With().Str("component", "cancellationChecker").Int64("session_id", sessionID).Logger(),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start begins polling. It returns immediately; polling ends when ctx is done
// or StopMonitoring is called.
func (c *Checker) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		c.poll()
		go c.run(ctx)
	})
}

func (c *Checker) run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Debug().Msg("Cancellation checker stopped: context cancelled")
			return
		case <-c.stop:
			c.logger.Debug().Msg("Cancellation checker stopped")
			return
		case <-ticker.C:
			if c.poll() {
				return
			}
		}
	}
}

// poll reads the flag once and reports whether the session is cancelled.
func (c *Checker) poll() bool {
	if c.cancelled.Load() {
		return true
	}
	if c.cache.IsCancelled(c.sessionID) {
		c.cancelled.Store(true)
		c.logger.Info().Msg("Session cancellation observed")
		return true
	}
	return false
}

// IsCancelled implements llm.CancellationChecker.
func (c *Checker) IsCancelled() bool {
	return c.cancelled.Load()
}

// StopMonitoring implements llm.CancellationChecker. It is safe to call more
// than once. A checker stopped before Start never polls.
func (c *Checker) StopMonitoring() {
	c.stopOnce.Do(func() {
		close(c.stop)
	})
	c.startOnce.Do(func() {
		close(c.done)
	})
}

// Wait blocks until the checker has stopped polling or was stopped before
// it started.
func (c *Checker) Wait() {
	<-c.done
}

var _ llm.CancellationChecker = (*Checker)(nil)
