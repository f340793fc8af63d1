package llm

// coalescer merges runs of same-type delta events so that consumers see at
// most one event per batchSize deltas. Start and end events pass through
// unchanged and flush any pending delta first.
type coalescer struct {
	batchSize int
	pending   *StreamingEvent
	count     int
}

func newCoalescer(batchSize int) *coalescer {
	if batchSize < 1 {
		batchSize = 1
	}
	return &coalescer{batchSize: batchSize}
}

// push feeds one event and returns whatever is ready to emit.
func (c *coalescer) push(ev StreamingEvent) []StreamingEvent {
	if c.batchSize == 1 {
		return []StreamingEvent{ev}
	}
	if !ev.IsDelta() {
		return append(c.flush(), ev)
	}
	var out []StreamingEvent
	if c.pending != nil && c.pending.Type != ev.Type {
		out = c.flush()
	}
	if c.pending == nil {
		p := ev
		c.pending = &p
		c.count = 1
	} else {
		merged := c.pending.combine(ev)
		c.pending = &merged
		c.count++
	}
	if c.count >= c.batchSize {
		out = append(out, c.flush()...)
	}
	return out
}

// flush emits the pending merged delta, if any.
func (c *coalescer) flush() []StreamingEvent {
	if c.pending == nil {
		return nil
	}
	ev := *c.pending
	c.pending = nil
	c.count = 0
	return []StreamingEvent{ev}
}
