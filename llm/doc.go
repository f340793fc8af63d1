// Package llm provides a provider-neutral abstraction layer over the model
// vendors used for code review.
//
// # Core Concepts
//
//  1. Conversations: ConversationTurn and TurnContent describe a conversation
//     independently of any vendor. ResolveHistory converts stored message
//     threads into turns, pruning tool requests that were never answered.
//
//  2. Providers: a Provider builds a vendor payload from a PayloadRequest,
//     invokes the vendor and counts tokens. Providers are looked up through
//     a Registry by model name.
//
//  3. Responses: a call yields either a NonStreamingResponse or a
//     StreamingResponse. Streaming responses emit StreamingEvents in
//     balanced start/delta/end triples per content block, with usage that
//     becomes final only once the stream has ended.
//
//  4. Streams: NewStreamingResponse drives a vendor ChunkReader through a
//     Normalizer on a background goroutine. It honours session
//     cancellation and closes the vendor connection exactly once.
//
//  5. Errors: Error carries the failure category and whether it is retryable.
//     TokenLimitExceededError and RetryExhaustedError cover the remaining
//     failure modes.
//
// Usage Example
//
//	cfg, provider, err := registry.Resolve("claude-sonnet")
//	payload, err := provider.BuildPayload(ctx, cfg, &llm.PayloadRequest{
//	    Prompt: llm.Prompt{System: "You review code.", User: diff},
//	})
//	resp, err := provider.CallServiceClient(ctx, &llm.ServiceCall{
//	    Payload:      payload,
//	    Model:        cfg,
//	    ResponseType: llm.ResponseStreaming,
//	})
//	stream := resp.(*llm.StreamingResponse)
//	defer stream.Close()
//	for stream.Next() {
//	    ev := stream.Event()
//	    ...
//	}
//
// # Extension Points
//
// To add a vendor:
//  1. Implement the Provider interface
//  2. Write a Normalizer for its stream chunks on top of BlockTracker
//  3. Translate vendor errors to llm.Error values
package llm
