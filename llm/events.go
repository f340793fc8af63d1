package llm

// StreamingEventType identifies a normalized streaming event.
type StreamingEventType string

const (
	EventTextBlockStart          StreamingEventType = "TEXT_BLOCK_START"
	EventTextBlockDelta          StreamingEventType = "TEXT_BLOCK_DELTA"
	EventTextBlockEnd            StreamingEventType = "TEXT_BLOCK_END"
	EventToolUseRequestStart     StreamingEventType = "TOOL_USE_REQUEST_START"
	EventToolUseRequestDelta     StreamingEventType = "TOOL_USE_REQUEST_DELTA"
	EventToolUseRequestEnd       StreamingEventType = "TOOL_USE_REQUEST_END"
	EventThinkingBlockStart      StreamingEventType = "EXTENDED_THINKING_BLOCK_START"
	EventThinkingBlockDelta      StreamingEventType = "EXTENDED_THINKING_BLOCK_DELTA"
	EventThinkingBlockEnd        StreamingEventType = "EXTENDED_THINKING_BLOCK_END"
	EventRedactedThinking        StreamingEventType = "REDACTED_THINKING"
	EventMalformedToolUseRequest StreamingEventType = "MALFORMED_TOOL_USE_REQUEST"
)

// ContentBlockCategory is the kind of block a streaming event belongs to.
type ContentBlockCategory string

const (
	CategoryNone     ContentBlockCategory = ""
	CategoryText     ContentBlockCategory = "TEXT_BLOCK"
	CategoryToolUse  ContentBlockCategory = "TOOL_USE_REQUEST"
	CategoryThinking ContentBlockCategory = "EXTENDED_THINKING"
)

// StreamingEvent is one normalized event produced from a vendor stream.
// Only the fields relevant to Type are set.
type StreamingEvent struct {
	Type         StreamingEventType
	Text         string // text delta, thinking delta or malformed-call diagnostic
	ToolName     string
	ToolUseID    string
	JSONDelta    string
	Signature    string
	RedactedData string
}

func TextBlockStart() StreamingEvent { return StreamingEvent{Type: EventTextBlockStart} }

func TextBlockDelta(text string) StreamingEvent {
	return StreamingEvent{Type: EventTextBlockDelta, Text: text}
}

func TextBlockEnd() StreamingEvent { return StreamingEvent{Type: EventTextBlockEnd} }

func ToolUseRequestStart(name, id string) StreamingEvent {
	return StreamingEvent{Type: EventToolUseRequestStart, ToolName: name, ToolUseID: id}
}

func ToolUseRequestDelta(jsonDelta string) StreamingEvent {
	return StreamingEvent{Type: EventToolUseRequestDelta, JSONDelta: jsonDelta}
}

func ToolUseRequestEnd() StreamingEvent { return StreamingEvent{Type: EventToolUseRequestEnd} }

func ThinkingBlockStart() StreamingEvent { return StreamingEvent{Type: EventThinkingBlockStart} }

func ThinkingBlockDelta(text string) StreamingEvent {
	return StreamingEvent{Type: EventThinkingBlockDelta, Text: text}
}

func ThinkingBlockEnd(signature string) StreamingEvent {
	return StreamingEvent{Type: EventThinkingBlockEnd, Signature: signature}
}

func RedactedThinking(data string) StreamingEvent {
	return StreamingEvent{Type: EventRedactedThinking, RedactedData: data}
}

func MalformedToolUseRequest(diagnostic string) StreamingEvent {
	return StreamingEvent{Type: EventMalformedToolUseRequest, Text: diagnostic}
}

// Category returns the block category the event belongs to.
func (e StreamingEvent) Category() ContentBlockCategory {
	switch e.Type {
	case EventTextBlockStart, EventTextBlockDelta, EventTextBlockEnd:
		return CategoryText
	case EventToolUseRequestStart, EventToolUseRequestDelta, EventToolUseRequestEnd, EventMalformedToolUseRequest:
		return CategoryToolUse
	case EventThinkingBlockStart, EventThinkingBlockDelta, EventThinkingBlockEnd, EventRedactedThinking:
		return CategoryThinking
	}
	return CategoryNone
}

// IsDelta reports whether the event carries incremental content that may be
// merged with an adjacent event of the same type.
func (e StreamingEvent) IsDelta() bool {
	switch e.Type {
	case EventTextBlockDelta, EventToolUseRequestDelta, EventThinkingBlockDelta:
		return true
	}
	return false
}

// combine appends next's payload to e. Both must be deltas of the same type.
func (e StreamingEvent) combine(next StreamingEvent) StreamingEvent {
	e.Text += next.Text
	e.JSONDelta += next.JSONDelta
	return e
}
