package openai

import (
	"errors"
	"io"

	"github.com/aschepis/backscratcher/review/llm"
	openai "github.com/sashabaranov/go-openai"
)

// StreamNormalizer turns chat completion chunks into normalized events.
// Usage chunks are increments and are summed by the stream runtime.
type StreamNormalizer struct {
	blocks llm.BlockTracker
}

// NewStreamNormalizer creates a normalizer for one stream.
func NewStreamNormalizer() *StreamNormalizer {
	return &StreamNormalizer{}
}

// Normalize implements llm.Normalizer.
func (n *StreamNormalizer) Normalize(chunk openai.ChatCompletionStreamResponse) (llm.ChunkResult, error) {
	var result llm.ChunkResult
	if chunk.Usage != nil {
		usage := FromOpenAIUsage(*chunk.Usage)
		result.Usage = &usage
	}
	if len(chunk.Choices) == 0 {
		return result, nil
	}

	choice := chunk.Choices[0]
	result.Events = n.choice(choice.Delta, choice.FinishReason)
	return result, nil
}

func (n *StreamNormalizer) choice(delta openai.ChatCompletionStreamChoiceDelta, finish openai.FinishReason) []llm.StreamingEvent {
	var events []llm.StreamingEvent

	// Reasoning precedes any text or tool call carried by the same chunk.
	events = append(events, n.blocks.ThinkingDelta(delta.ReasoningContent)...)

	if len(delta.ToolCalls) > 0 {
		for _, call := range delta.ToolCalls {
			if call.ID != "" && call.Function.Name != "" {
				events = append(events, n.blocks.StartTool(call.Function.Name, call.ID)...)
			}
			events = append(events, n.blocks.ToolDelta(call.Function.Arguments)...)
		}
	} else {
		// Text after a tool call means the call is complete.
		events = append(events, n.blocks.EndTool()...)
		events = append(events, n.blocks.TextDelta(delta.Content)...)
	}

	if finish != "" {
		events = append(events, n.blocks.Stop()...)
	}
	return events
}

// FromOpenAIUsage converts reported usage. Cached prompt tokens are split out
// of the input count.
func FromOpenAIUsage(u openai.Usage) llm.Usage {
	var cached int64
	if u.PromptTokensDetails != nil {
		cached = int64(u.PromptTokensDetails.CachedTokens)
	}
	return llm.Usage{
		Input:     int64(u.PromptTokens) - cached,
		Output:    int64(u.CompletionTokens),
		CacheRead: llm.Int64(cached),
	}
}

// chunkStream is the subset of *openai.ChatCompletionStream used for reading.
type chunkStream interface {
	Recv() (openai.ChatCompletionStreamResponse, error)
	Close() error
}

// streamReader adapts a chat completion stream to llm.ChunkReader, mapping
// transport errors onto llm.Error.
type streamReader struct {
	stream chunkStream
}

func (r *streamReader) Recv() (openai.ChatCompletionStreamResponse, error) {
	chunk, err := r.stream.Recv()
	if errors.Is(err, io.EOF) {
		return chunk, io.EOF
	}
	if err != nil {
		return chunk, convertOpenAIError(err)
	}
	return chunk, nil
}

func (r *streamReader) Close() error {
	return r.stream.Close()
}
