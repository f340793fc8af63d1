package llm

import (
	"fmt"
	"slices"
	"strings"
)

// TurnRole represents the role of a turn in a conversation.
type TurnRole string

const (
	RoleUser      TurnRole = "user"
	RoleAssistant TurnRole = "assistant"
	RoleTool      TurnRole = "tool"
)

// TurnContentType discriminates the populated field of a TurnContent.
type TurnContentType string

const (
	TurnContentText         TurnContentType = "text"
	TurnContentImage        TurnContentType = "image"
	TurnContentToolRequest  TurnContentType = "tool_request"
	TurnContentToolResponse TurnContentType = "tool_response"
	TurnContentThinking     TurnContentType = "thinking"
)

// TurnContent is a single piece of content within a conversation turn.
// Exactly one of the pointer fields (or Text) is meaningful, selected by Type.
type TurnContent struct {
	Type         TurnContentType
	Text         string
	Image        *ImageContent
	ToolRequest  *ToolRequest
	ToolResponse *ToolResponse
	Thinking     *ThinkingContent
}

// ImageContent holds raw image bytes and their MIME type.
type ImageContent struct {
	MimeType string
	Data     []byte
}

// ToolRequest is a tool invocation emitted by the assistant.
type ToolRequest struct {
	ToolUseID string
	ToolName  string
	ToolInput map[string]interface{}
}

// ToolResponse is the result of a tool invocation, keyed by the request's id.
type ToolResponse struct {
	ToolUseID string
	ToolName  string
	Response  map[string]interface{}
}

// ThinkingContent is an extended thinking block replayed back to the vendor.
type ThinkingContent struct {
	Redacted  bool
	Thinking  string // thinking text, or the opaque payload when Redacted
	Signature string
}

// ConversationTurn is one vendor-neutral turn of a conversation.
type ConversationTurn struct {
	Role            TurnRole
	Content         []TurnContent
	CacheBreakpoint bool
}

// NewTextContent creates a text content item.
func NewTextContent(text string) TurnContent {
	return TurnContent{Type: TurnContentText, Text: text}
}

// NewImageContent creates an image content item.
func NewImageContent(mimeType string, data []byte) TurnContent {
	return TurnContent{Type: TurnContentImage, Image: &ImageContent{MimeType: mimeType, Data: data}}
}

// NewToolRequestContent creates a tool request content item.
func NewToolRequestContent(id, name string, input map[string]interface{}) TurnContent {
	if input == nil {
		input = map[string]interface{}{}
	}
	return TurnContent{Type: TurnContentToolRequest, ToolRequest: &ToolRequest{ToolUseID: id, ToolName: name, ToolInput: input}}
}

// NewToolResponseContent creates a tool response content item.
func NewToolResponseContent(id, name string, response map[string]interface{}) TurnContent {
	if response == nil {
		response = map[string]interface{}{}
	}
	return TurnContent{Type: TurnContentToolResponse, ToolResponse: &ToolResponse{ToolUseID: id, ToolName: name, Response: response}}
}

// NewThinkingContent creates a thinking content item.
func NewThinkingContent(thinking, signature string) TurnContent {
	return TurnContent{Type: TurnContentThinking, Thinking: &ThinkingContent{Thinking: thinking, Signature: signature}}
}

// NewRedactedThinkingContent creates a redacted thinking content item.
func NewRedactedThinkingContent(data string) TurnContent {
	return TurnContent{Type: TurnContentThinking, Thinking: &ThinkingContent{Redacted: true, Thinking: data}}
}

// NewTextTurn creates a single-text turn for the given role.
func NewTextTurn(role TurnRole, text string) ConversationTurn {
	return ConversationTurn{Role: role, Content: []TurnContent{NewTextContent(text)}}
}

// ValidateTurns checks that every tool response answers a tool request made
// by an earlier assistant turn.
func ValidateTurns(turns []ConversationTurn) error {
	requested := make(map[string]bool)
	for i, turn := range turns {
		for _, c := range turn.Content {
			switch c.Type {
			case TurnContentToolRequest:
				if turn.Role != RoleAssistant {
					return NewClientError(fmt.Sprintf("turn %d: tool request outside an assistant turn", i), nil)
				}
				requested[c.ToolRequest.ToolUseID] = true
			case TurnContentToolResponse:
				if !requested[c.ToolResponse.ToolUseID] {
					return NewClientError(fmt.Sprintf("turn %d: tool response %q has no matching request", i, c.ToolResponse.ToolUseID), nil)
				}
			}
		}
	}
	return nil
}

// Tool is a tool definition offered to the model.
type Tool struct {
	Name        string
	Description string
	InputSchema ToolSchema
}

// SortedTools returns a copy of tools ordered by name, so payloads are
// stable regardless of registration order.
func SortedTools(tools []Tool) []Tool {
	out := slices.Clone(tools)
	slices.SortStableFunc(out, func(a, b Tool) int {
		return strings.Compare(a.Name, b.Name)
	})
	return out
}

// ToolSchema represents the JSON schema for a tool's input parameters.
type ToolSchema struct {
	Type        string
	Properties  map[string]interface{}
	Required    []string
	ExtraFields map[string]interface{} // For any additional schema fields
}

// JSONSchema renders the schema as a plain JSON-schema object.
// An empty schema renders as an empty object schema.
func (s ToolSchema) JSONSchema() map[string]interface{} {
	out := make(map[string]interface{}, len(s.ExtraFields)+3)
	for k, v := range s.ExtraFields {
		out[k] = v
	}
	typ := s.Type
	if typ == "" {
		typ = "object"
	}
	out["type"] = typ
	props := s.Properties
	if props == nil {
		props = map[string]interface{}{}
	}
	out["properties"] = props
	if len(s.Required) > 0 {
		out["required"] = s.Required
	}
	return out
}

// Prompt is the legacy system/user message pair.
type Prompt struct {
	System string
	User   string
}

// PromptCacheConfig selects which payload regions receive a cache marker.
type PromptCacheConfig struct {
	Tools         bool
	SystemMessage bool
	Conversation  bool
}

// ThinkingConfig enables extended thinking with a token budget.
type ThinkingConfig struct {
	Enabled      bool  `yaml:"enabled"`
	BudgetTokens int64 `yaml:"budget_tokens"`
}

// RegionIdentifier pairs a deployment region with the model id used there.
type RegionIdentifier struct {
	Region          string `yaml:"region"`
	ModelIdentifier string `yaml:"model_identifier"`
}

// ModelConfig is the resolved per-model configuration record.
type ModelConfig struct {
	Name                   string             `yaml:"name"`
	Provider               string             `yaml:"provider"`
	MaxTokens              int64              `yaml:"max_tokens"`
	Version                string             `yaml:"version,omitempty"`
	PromptCachingSupported bool               `yaml:"prompt_caching_supported"`
	InputTokensLimit       int                `yaml:"input_tokens_limit,omitempty"`
	Thinking               ThinkingConfig     `yaml:"thinking"`
	Temperature            *float64           `yaml:"temperature,omitempty"`
	StreamBatchSize        int                `yaml:"stream_batch_size,omitempty"`
	Regions                []RegionIdentifier `yaml:"regions,omitempty"`
}

// CachingEnabled reports whether the model accepts prompt cache markers.
func (m ModelConfig) CachingEnabled() bool {
	return m.PromptCachingSupported
}
