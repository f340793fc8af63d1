package anthropic

import (
	"errors"
	"fmt"
	"io"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/aschepis/backscratcher/review/llm"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

// bedrockMetricsKey holds authoritative usage on Bedrock's message_stop event.
const bedrockMetricsKey = "amazon-bedrock-invocationMetrics"

// StreamNormalizer turns raw Messages API stream events into normalized
// events. Usage is tracked as a cumulative snapshot.
type StreamNormalizer struct {
	blocks       llm.BlockTracker
	toolHasDelta bool
	usage        llm.Usage
	logger       zerolog.Logger
}

// NewStreamNormalizer creates a normalizer for one stream.
func NewStreamNormalizer(logger zerolog.Logger) *StreamNormalizer {
	return &StreamNormalizer{logger: logger}
}

// wireEvent is one decoded Messages API stream event.
type wireEvent interface{ wireEvent() }

type messageStart struct{ usage gjson.Result }

type blockStart struct {
	kind string // text, tool_use, thinking or redacted_thinking
	text string // initial text, thinking or redacted data
	id   string
	name string
}

type blockDelta struct {
	kind  string // text_delta, input_json_delta, thinking_delta or signature_delta
	value string
}

type blockStop struct{}

type messageDelta struct{ usage gjson.Result }

type messageStop struct{ metrics gjson.Result }

type ignored struct{}

func (messageStart) wireEvent() {}
func (blockStart) wireEvent()   {}
func (blockDelta) wireEvent()   {}
func (blockStop) wireEvent()    {}
func (messageDelta) wireEvent() {}
func (messageStop) wireEvent()  {}
func (ignored) wireEvent()      {}

// decodeWireEvent parses raw event JSON into its typed form.
func decodeWireEvent(raw string) (wireEvent, error) {
	if !gjson.Valid(raw) {
		return nil, fmt.Errorf("invalid stream event: %q", raw)
	}
	event := gjson.Parse(raw)

	switch event.Get("type").String() {
	case "message_start":
		return messageStart{usage: event.Get("message.usage")}, nil
	case "content_block_start":
		block := event.Get("content_block")
		start := blockStart{
			kind: block.Get("type").String(),
			id:   block.Get("id").String(),
			name: block.Get("name").String(),
		}
		switch start.kind {
		case "text":
			start.text = block.Get("text").String()
		case "thinking":
			start.text = block.Get("thinking").String()
		case "redacted_thinking":
			start.text = block.Get("data").String()
		}
		return start, nil
	case "content_block_delta":
		delta := event.Get("delta")
		d := blockDelta{kind: delta.Get("type").String()}
		switch d.kind {
		case "text_delta":
			d.value = delta.Get("text").String()
		case "input_json_delta":
			d.value = delta.Get("partial_json").String()
		case "thinking_delta":
			d.value = delta.Get("thinking").String()
		case "signature_delta":
			d.value = delta.Get("signature").String()
		}
		return d, nil
	case "content_block_stop":
		return blockStop{}, nil
	case "message_delta":
		return messageDelta{usage: event.Get("usage")}, nil
	case "message_stop":
		return messageStop{metrics: event.Get(bedrockMetricsKey)}, nil
	}
	return ignored{}, nil
}

// Normalize implements llm.Normalizer for raw event JSON.
func (n *StreamNormalizer) Normalize(raw string) (llm.ChunkResult, error) {
	wire, err := decodeWireEvent(raw)
	if err != nil {
		return llm.ChunkResult{}, err
	}

	switch ev := wire.(type) {
	case messageStart:
		n.usage.Input = ev.usage.Get("input_tokens").Int()
		n.usage.Output = ev.usage.Get("output_tokens").Int()
		n.usage.CacheRead = optionalInt(ev.usage, "cache_read_input_tokens")
		n.usage.CacheWrite = optionalInt(ev.usage, "cache_creation_input_tokens")
		return n.snapshot(nil), nil

	case blockStart:
		return llm.ChunkResult{Events: n.startBlock(ev)}, nil

	case blockDelta:
		return llm.ChunkResult{Events: n.delta(ev)}, nil

	case blockStop:
		if n.blocks.Open() == llm.CategoryToolUse {
			var events []llm.StreamingEvent
			if !n.toolHasDelta {
				events = n.blocks.ToolDelta("{}")
			}
			return llm.ChunkResult{Events: append(events, n.blocks.EndTool()...)}, nil
		}
		return llm.ChunkResult{Events: n.blocks.Stop()}, nil

	case messageDelta:
		if v := ev.usage.Get("output_tokens"); v.Exists() {
			n.usage.Output = v.Int()
		}
		if v := ev.usage.Get("input_tokens"); v.Exists() && v.Int() > 0 {
			n.usage.Input = v.Int()
		}
		return n.snapshot(nil), nil

	case messageStop:
		events := n.blocks.Stop()
		if ev.metrics.Exists() {
			n.usage.Input = ev.metrics.Get("inputTokenCount").Int()
			n.usage.Output = ev.metrics.Get("outputTokenCount").Int()
			if v := optionalInt(ev.metrics, "cacheReadInputTokenCount"); v != nil {
				n.usage.CacheRead = v
			}
			if v := optionalInt(ev.metrics, "cacheWriteInputTokenCount"); v != nil {
				n.usage.CacheWrite = v
			}
		}
		n.logCacheStats()
		return n.snapshot(events), nil

	case ignored:
		return llm.ChunkResult{}, nil
	}
	return llm.ChunkResult{}, fmt.Errorf("unhandled stream event %T", wire)
}

func (n *StreamNormalizer) startBlock(start blockStart) []llm.StreamingEvent {
	switch start.kind {
	case "text":
		events := n.blocks.StartText()
		return append(events, n.blocks.TextDelta(start.text)...)
	case "tool_use":
		n.toolHasDelta = false
		return n.blocks.StartTool(start.name, start.id)
	case "thinking":
		events := n.blocks.StartThinking()
		return append(events, n.blocks.ThinkingDelta(start.text)...)
	case "redacted_thinking":
		return n.blocks.Redacted(start.text)
	}
	return nil
}

func (n *StreamNormalizer) delta(d blockDelta) []llm.StreamingEvent {
	switch d.kind {
	case "text_delta":
		return n.blocks.TextDelta(d.value)
	case "input_json_delta":
		if d.value != "" && n.blocks.Open() == llm.CategoryToolUse {
			n.toolHasDelta = true
		}
		return n.blocks.ToolDelta(d.value)
	case "thinking_delta":
		return n.blocks.ThinkingDelta(d.value)
	case "signature_delta":
		return n.blocks.EndThinking(d.value)
	}
	return nil
}

func (n *StreamNormalizer) snapshot(events []llm.StreamingEvent) llm.ChunkResult {
	usage := n.usage
	return llm.ChunkResult{Events: events, Usage: &usage, ReplaceUsage: true}
}

// logCacheStats logs prompt cache information for tracking efficacy.
func (n *StreamNormalizer) logCacheStats() {
	read, write := n.usage.CacheReadTokens(), n.usage.CacheWriteTokens()
	if read == 0 && write == 0 {
		return
	}
	cacheEfficiency := float64(0)
	if n.usage.Input > 0 {
		cacheEfficiency = float64(read) / float64(n.usage.Input) * 100
	}
	n.logger.Debug().
		Int64("input_tokens", n.usage.Input).
		Int64("cache_creation_tokens", write).
		Int64("cache_read_tokens", read).
		Float64("cache_efficiency", cacheEfficiency).
		Msg("Prompt cache stats (stream)")
}

func optionalInt(obj gjson.Result, key string) *int64 {
	v := obj.Get(key)
	if !v.Exists() || v.Type == gjson.Null {
		return nil
	}
	return llm.Int64(v.Int())
}

// sseReader exposes an SDK event stream as raw event JSON.
type sseReader struct {
	stream *ssestream.Stream[anthropic.MessageStreamEventUnion]
}

func (r *sseReader) Recv() (string, error) {
	if r.stream.Next() {
		return r.stream.Current().RawJSON(), nil
	}
	if err := r.stream.Err(); err != nil && !errors.Is(err, io.EOF) {
		return "", convertError(err)
	}
	return "", io.EOF
}

func (r *sseReader) Close() error {
	return r.stream.Close()
}
