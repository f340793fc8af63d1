package google

import (
	"context"
	"encoding/json"
	"io"
	"iter"
	"sync"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

// StreamNormalizer turns GenerateContent stream chunks into normalized
// events. Function calls arrive whole, so each one is emitted as a complete
// start, delta and end triple.
type StreamNormalizer struct {
	blocks llm.BlockTracker
}

// NewStreamNormalizer creates a normalizer for one stream.
func NewStreamNormalizer() *StreamNormalizer {
	return &StreamNormalizer{}
}

// Normalize implements llm.Normalizer.
func (n *StreamNormalizer) Normalize(chunk *genai.GenerateContentResponse) (llm.ChunkResult, error) {
	var result llm.ChunkResult
	if chunk == nil {
		return result, nil
	}
	if chunk.UsageMetadata != nil {
		usage := FromUsageMetadata(chunk.UsageMetadata)
		result.Usage = &usage
		result.ReplaceUsage = true
	}
	if len(chunk.Candidates) == 0 || chunk.Candidates[0] == nil {
		return result, nil
	}

	candidate := chunk.Candidates[0]
	if candidate.Content != nil {
		for _, part := range candidate.Content.Parts {
			events, err := n.part(part)
			if err != nil {
				return llm.ChunkResult{}, err
			}
			result.Events = append(result.Events, events...)
		}
	}

	switch candidate.FinishReason {
	case "":
	case genai.FinishReasonMalformedFunctionCall:
		result.Events = append(result.Events, n.blocks.Stop()...)
		result.Events = append(result.Events, llm.MalformedToolUseRequest(candidate.FinishMessage))
	default:
		result.Events = append(result.Events, n.blocks.Stop()...)
	}
	return result, nil
}

func (n *StreamNormalizer) part(part *genai.Part) ([]llm.StreamingEvent, error) {
	switch {
	case part == nil:
		return nil, nil
	case part.FunctionCall != nil:
		args, err := functionArgs(part.FunctionCall)
		if err != nil {
			return nil, err
		}
		events := n.blocks.StartTool(part.FunctionCall.Name, toolUseID(part.FunctionCall))
		events = append(events, n.blocks.ToolDelta(args)...)
		return append(events, n.blocks.EndTool()...), nil
	case part.Thought:
		return n.blocks.ThinkingDelta(part.Text), nil
	default:
		return n.blocks.TextDelta(part.Text), nil
	}
}

func functionArgs(call *genai.FunctionCall) (string, error) {
	if len(call.Args) == 0 {
		return "{}", nil
	}
	body, err := json.Marshal(call.Args)
	if err != nil {
		return "", llm.NewParseError("invalid arguments for function call "+call.Name, err)
	}
	return string(body), nil
}

// toolUseID returns the call id, generating one when Gemini left it empty.
func toolUseID(call *genai.FunctionCall) string {
	if call.ID != "" {
		return call.ID
	}
	return "toolu_" + uuid.NewString()
}

// FromUsageMetadata converts Gemini usage. The prompt count includes cached
// tokens, so they are split out of the input count.
func FromUsageMetadata(meta *genai.GenerateContentResponseUsageMetadata) llm.Usage {
	if meta == nil {
		return llm.Usage{}
	}
	usage := llm.Usage{
		Input:  int64(meta.PromptTokenCount - meta.CachedContentTokenCount),
		Output: int64(meta.CandidatesTokenCount),
	}
	if meta.CachedContentTokenCount > 0 {
		usage.CacheRead = llm.Int64(int64(meta.CachedContentTokenCount))
	}
	return usage
}

// pullReader adapts a GenerateContentStream iterator to llm.ChunkReader.
// next and stop must not run concurrently. Close cancels the request context
// first so that a Recv blocked on the network returns before stop runs.
type pullReader struct {
	mu      sync.Mutex
	next    func() (*genai.GenerateContentResponse, error, bool)
	stop    func()
	cancel  context.CancelFunc
	stopped bool
}

func newPullReader(seq iter.Seq2[*genai.GenerateContentResponse, error], cancel context.CancelFunc) *pullReader {
	next, stop := iter.Pull2(seq)
	return &pullReader{next: next, stop: stop, cancel: cancel}
}

func (r *pullReader) Recv() (*genai.GenerateContentResponse, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return nil, io.EOF
	}
	chunk, err, ok := r.next()
	if !ok {
		return nil, io.EOF
	}
	if err != nil {
		return nil, convertError(err)
	}
	return chunk, nil
}

func (r *pullReader) Close() error {
	r.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = true
	r.stop()
	return nil
}
