package llm

// BlockTracker is the per-stream block state machine shared by all vendor
// normalizers. At most one block is open at a time. Opening a block of any
// kind closes whatever was open before it.
type BlockTracker struct {
	current ContentBlockCategory
}

// Open returns the category of the currently open block.
func (b *BlockTracker) Open() ContentBlockCategory {
	return b.current
}

func (b *BlockTracker) endCurrent() []StreamingEvent {
	var out []StreamingEvent
	switch b.current {
	case CategoryText:
		out = append(out, TextBlockEnd())
	case CategoryToolUse:
		out = append(out, ToolUseRequestEnd())
	case CategoryThinking:
		// Thinking blocks end with a signature. Closing one implicitly has none.
		out = append(out, ThinkingBlockEnd(""))
	}
	b.current = CategoryNone
	return out
}

// StartText opens a text block if one is not already open.
func (b *BlockTracker) StartText() []StreamingEvent {
	if b.current == CategoryText {
		return nil
	}
	out := b.endCurrent()
	b.current = CategoryText
	return append(out, TextBlockStart())
}

// TextDelta emits a text delta, opening a text block first when needed.
// Empty deltas produce nothing.
func (b *BlockTracker) TextDelta(text string) []StreamingEvent {
	if text == "" {
		return nil
	}
	out := b.StartText()
	return append(out, TextBlockDelta(text))
}

// StartTool opens a tool-use block. An already open tool block is ended
// first, since a new call id always means a new request.
func (b *BlockTracker) StartTool(name, id string) []StreamingEvent {
	out := b.endCurrent()
	b.current = CategoryToolUse
	return append(out, ToolUseRequestStart(name, id))
}

// ToolDelta emits argument JSON for the open tool block. Deltas arriving with
// no tool block open are dropped.
func (b *BlockTracker) ToolDelta(jsonDelta string) []StreamingEvent {
	if b.current != CategoryToolUse || jsonDelta == "" {
		return nil
	}
	return []StreamingEvent{ToolUseRequestDelta(jsonDelta)}
}

// EndTool closes the open tool block, if any.
func (b *BlockTracker) EndTool() []StreamingEvent {
	if b.current != CategoryToolUse {
		return nil
	}
	return b.endCurrent()
}

// StartThinking opens a thinking block if one is not already open.
func (b *BlockTracker) StartThinking() []StreamingEvent {
	if b.current == CategoryThinking {
		return nil
	}
	out := b.endCurrent()
	b.current = CategoryThinking
	return append(out, ThinkingBlockStart())
}

// ThinkingDelta emits reasoning text, opening a thinking block when needed.
func (b *BlockTracker) ThinkingDelta(text string) []StreamingEvent {
	if text == "" {
		return nil
	}
	out := b.StartThinking()
	return append(out, ThinkingBlockDelta(text))
}

// EndThinking closes the thinking block with its signature.
func (b *BlockTracker) EndThinking(signature string) []StreamingEvent {
	if b.current != CategoryThinking {
		return nil
	}
	b.current = CategoryNone
	return []StreamingEvent{ThinkingBlockEnd(signature)}
}

// Redacted emits an opaque thinking block. It ends any open block and leaves
// nothing open.
func (b *BlockTracker) Redacted(data string) []StreamingEvent {
	out := b.endCurrent()
	return append(out, RedactedThinking(data))
}

// Stop closes whatever block is open.
func (b *BlockTracker) Stop() []StreamingEvent {
	return b.endCurrent()
}
