package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func eventTypes(events []StreamingEvent) []StreamingEventType {
	out := make([]StreamingEventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// assertBalanced checks that every block is closed before another opens.
func assertBalanced(t *testing.T, events []StreamingEvent) {
	t.Helper()
	open := CategoryNone
	for i, ev := range events {
		switch ev.Type {
		case EventTextBlockStart, EventToolUseRequestStart, EventThinkingBlockStart:
			if open != CategoryNone {
				t.Fatalf("event %d: %s opened while %s still open", i, ev.Type, open)
			}
			open = ev.Category()
		case EventTextBlockEnd, EventToolUseRequestEnd, EventThinkingBlockEnd:
			if open != ev.Category() {
				t.Fatalf("event %d: %s closes %s", i, ev.Type, open)
			}
			open = CategoryNone
		case EventRedactedThinking, EventMalformedToolUseRequest:
			if open != CategoryNone {
				t.Fatalf("event %d: %s emitted inside %s", i, ev.Type, open)
			}
		default:
			if open != ev.Category() {
				t.Fatalf("event %d: %s outside its block (open=%s)", i, ev.Type, open)
			}
		}
	}
	if open != CategoryNone {
		t.Fatalf("block %s left open", open)
	}
}

func TestBlockTrackerTextThenTool(t *testing.T) {
	var b BlockTracker
	var events []StreamingEvent
	events = append(events, b.TextDelta("Hel")...)
	events = append(events, b.TextDelta("lo")...)
	events = append(events, b.StartTool("read_file", "t1")...)
	events = append(events, b.ToolDelta(`{"path":`)...)
	events = append(events, b.ToolDelta(`"a.go"}`)...)
	events = append(events, b.Stop()...)

	assert.Equal(t, []StreamingEventType{
		EventTextBlockStart, EventTextBlockDelta, EventTextBlockDelta, EventTextBlockEnd,
		EventToolUseRequestStart, EventToolUseRequestDelta, EventToolUseRequestDelta, EventToolUseRequestEnd,
	}, eventTypes(events))
	assertBalanced(t, events)
}

func TestBlockTrackerSecondToolEndsFirst(t *testing.T) {
	var b BlockTracker
	var events []StreamingEvent
	events = append(events, b.StartTool("a", "1")...)
	events = append(events, b.StartTool("b", "2")...)
	events = append(events, b.EndTool()...)

	assert.Equal(t, []StreamingEventType{
		EventToolUseRequestStart, EventToolUseRequestEnd, EventToolUseRequestStart, EventToolUseRequestEnd,
	}, eventTypes(events))
	assert.Equal(t, "2", events[2].ToolUseID)
}

func TestBlockTrackerDropsOrphanToolDelta(t *testing.T) {
	var b BlockTracker
	assert.Empty(t, b.ToolDelta(`{"x":1}`))
	b.TextDelta("text")
	assert.Empty(t, b.ToolDelta(`{"x":1}`))
	assert.Equal(t, CategoryText, b.Open())
}

func TestBlockTrackerEmptyDeltas(t *testing.T) {
	var b BlockTracker
	assert.Empty(t, b.TextDelta(""))
	assert.Equal(t, CategoryNone, b.Open())
	assert.Empty(t, b.Stop())
}

func TestBlockTrackerThinking(t *testing.T) {
	var b BlockTracker
	var events []StreamingEvent
	events = append(events, b.ThinkingDelta("hmm")...)
	events = append(events, b.EndThinking("sig")...)
	events = append(events, b.Redacted("opaque")...)
	events = append(events, b.TextDelta("answer")...)
	events = append(events, b.Stop()...)

	assert.Equal(t, []StreamingEventType{
		EventThinkingBlockStart, EventThinkingBlockDelta, EventThinkingBlockEnd,
		EventRedactedThinking,
		EventTextBlockStart, EventTextBlockDelta, EventTextBlockEnd,
	}, eventTypes(events))
	assert.Equal(t, "sig", events[2].Signature)
	assertBalanced(t, events)
}

func TestCoalescerMergesRuns(t *testing.T) {
	c := newCoalescer(3)
	var out []StreamingEvent
	out = append(out, c.push(TextBlockStart())...)
	for _, s := range []string{"a", "b", "c", "d"} {
		out = append(out, c.push(TextBlockDelta(s))...)
	}
	out = append(out, c.push(TextBlockEnd())...)

	assert.Equal(t, []StreamingEventType{
		EventTextBlockStart, EventTextBlockDelta, EventTextBlockDelta, EventTextBlockEnd,
	}, eventTypes(out))
	assert.Equal(t, "abc", out[1].Text)
	assert.Equal(t, "d", out[2].Text)
}

func TestCoalescerSizeOnePassesThrough(t *testing.T) {
	c := newCoalescer(0)
	out := c.push(TextBlockDelta("a"))
	out = append(out, c.push(TextBlockDelta("b"))...)
	assert.Len(t, out, 2)
	assert.Empty(t, c.flush())
}
