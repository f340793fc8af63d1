package llm

import (
	"strings"
)

// ResponseType selects how a model call is delivered.
type ResponseType string

const (
	ResponseNonStreaming ResponseType = "NON_STREAMING"
	ResponseStreaming    ResponseType = "STREAMING"
)

// ContentBlockType represents the type of a response content block.
type ContentBlockType string

const (
	ContentBlockTypeText    ContentBlockType = "text"
	ContentBlockTypeToolUse ContentBlockType = "tool_use"
)

// ContentBlock is one block of a complete model response.
type ContentBlock struct {
	Type    ContentBlockType
	Text    string          // For text blocks
	ToolUse *ToolUseRequest // For tool use blocks
}

// ToolUseRequest is a complete tool invocation returned by the model.
type ToolUseRequest struct {
	ID    string
	Name  string
	Input map[string]interface{}
}

// Response is either a *NonStreamingResponse or a *StreamingResponse.
type Response interface {
	Type() ResponseType
}

// NonStreamingResponse is a complete model response with its usage.
type NonStreamingResponse struct {
	Content []ContentBlock
	Usage   Usage
}

// Type implements Response.
func (r *NonStreamingResponse) Type() ResponseType {
	return ResponseNonStreaming
}

// Text concatenates every text block in order.
func (r *NonStreamingResponse) Text() string {
	var sb strings.Builder
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeText {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// ToolUses returns every tool use block in order.
func (r *NonStreamingResponse) ToolUses() []*ToolUseRequest {
	var out []*ToolUseRequest
	for _, block := range r.Content {
		if block.Type == ContentBlockTypeToolUse && block.ToolUse != nil {
			out = append(out, block.ToolUse)
		}
	}
	return out
}

// NewTextBlock creates a text response block.
func NewTextBlock(text string) ContentBlock {
	return ContentBlock{Type: ContentBlockTypeText, Text: text}
}

// NewToolUseBlock creates a tool use response block.
func NewToolUseBlock(id, name string, input map[string]interface{}) ContentBlock {
	if input == nil {
		input = map[string]interface{}{}
	}
	return ContentBlock{Type: ContentBlockTypeToolUse, ToolUse: &ToolUseRequest{ID: id, Name: name, Input: input}}
}
