// Package session holds per-session state shared between a request handler
// and the streams it starts.
package session

import (
	"context"
	"sync"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
)

// Cache is an in-memory store of session-scoped values and cancellation flags.
type Cache struct {
	mu        sync.RWMutex
	values    map[int64]map[string]interface{}
	cancelled map[int64]bool
	logger    zerolog.Logger
}

// NewCache creates an empty cache.
func NewCache(logger zerolog.Logger) *Cache {
	return &Cache{
		values:    make(map[int64]map[string]interface{}),
		cancelled: make(map[int64]bool),
		logger:    logger.With().Str("component", "sessionCache").Logger(),
	}
}

// Set stores a value for a session.
func (c *Cache) Set(sessionID int64, key string, value interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entries, ok := c.values[sessionID]
	if !ok {
		entries = make(map[string]interface{})
		c.values[sessionID] = entries
	}
	entries[key] = value
}

// Get returns a value stored for a session.
func (c *Cache) Get(sessionID int64, key string) (interface{}, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[sessionID][key]
	return v, ok
}

// Cancel flags a session as cancelled. Streams watching it stop at their next
// chunk.
func (c *Cache) Cancel(sessionID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cancelled[sessionID] = true
	c.logger.Info().Int64("session_id", sessionID).Msg("Session cancelled")
}

// IsCancelled reports whether Cancel has been called for a session since its
// last cleanup.
func (c *Cache) IsCancelled(sessionID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cancelled[sessionID]
}

// CleanupSession discards everything stored for a session, including its
// cancellation flag.
func (c *Cache) CleanupSession(_ context.Context, sessionID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := len(c.values[sessionID])
	delete(c.values, sessionID)
	delete(c.cancelled, sessionID)
	c.logger.Debug().Int64("session_id", sessionID).Int("entries", n).Msg("Session cleaned up")
	return nil
}

var _ llm.SessionCleaner = (*Cache)(nil)
