package llm

import (
	"encoding/json"
	"strings"
)

// assembler rebuilds complete content blocks from a normalized event sequence.
type assembler struct {
	out     []*pendingBlock
	current *pendingBlock
}

type pendingBlock struct {
	kind ContentBlockCategory
	id   string
	name string
	buf  strings.Builder
}

func (a *assembler) open(kind ContentBlockCategory, id, name string) {
	a.current = &pendingBlock{kind: kind, id: id, name: name}
	a.out = append(a.out, a.current)
}

func (a *assembler) add(ev StreamingEvent) {
	switch ev.Type {
	case EventTextBlockStart:
		a.open(CategoryText, "", "")
	case EventTextBlockDelta:
		if a.current == nil || a.current.kind != CategoryText {
			a.open(CategoryText, "", "")
		}
		a.current.buf.WriteString(ev.Text)
	case EventToolUseRequestStart:
		a.open(CategoryToolUse, ev.ToolUseID, ev.ToolName)
	case EventToolUseRequestDelta:
		if a.current != nil && a.current.kind == CategoryToolUse {
			a.current.buf.WriteString(ev.JSONDelta)
		}
	case EventTextBlockEnd, EventToolUseRequestEnd:
		a.current = nil
	}
}

func (a *assembler) blocks() ([]ContentBlock, error) {
	out := make([]ContentBlock, 0, len(a.out))
	for _, b := range a.out {
		switch b.kind {
		case CategoryText:
			out = append(out, NewTextBlock(b.buf.String()))
		case CategoryToolUse:
			input := map[string]interface{}{}
			if raw := strings.TrimSpace(b.buf.String()); raw != "" {
				if err := json.Unmarshal([]byte(raw), &input); err != nil {
					return nil, NewParseError("invalid tool input for "+b.name, err)
				}
			}
			out = append(out, NewToolUseBlock(b.id, b.name, input))
		}
	}
	return out, nil
}
