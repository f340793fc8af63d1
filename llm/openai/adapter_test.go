package openai

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aschepis/backscratcher/review/llm"
	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testModel() llm.ModelConfig {
	return llm.ModelConfig{Name: "gpt-4.1", Provider: llm.ProviderOpenAI, MaxTokens: 4096}
}

func TestBuildPayloadSortsTools(t *testing.T) {
	req := &llm.PayloadRequest{
		Prompt: llm.Prompt{System: "be brief", User: "hello"},
		Tools: []llm.Tool{
			{Name: "B", Description: "second"},
			{Name: "A", Description: "first", InputSchema: llm.ToolSchema{
				Type:       "object",
				Properties: map[string]interface{}{"path": map[string]interface{}{"type": "string"}},
				Required:   []string{"path"},
			}},
		},
	}

	payload, err := BuildPayload(context.Background(), testModel(), req)
	require.NoError(t, err)

	tools := payload.Request.Tools
	require.Len(t, tools, 2)
	assert.Equal(t, "A", tools[0].Function.Name)
	assert.Equal(t, "B", tools[1].Function.Name)
	assert.Equal(t, map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}, tools[1].Function.Parameters)
	assert.Equal(t, "auto", payload.Request.ToolChoice)

	require.Len(t, payload.Request.Messages, 2)
	assert.Equal(t, openai.ChatMessageRoleSystem, payload.Request.Messages[0].Role)
	assert.Equal(t, "hello", payload.Request.Messages[1].Content)
	assert.Equal(t, 4096, payload.Request.MaxTokens)
	assert.Nil(t, payload.Request.StreamOptions)
}

func TestBuildPayloadIsIdempotent(t *testing.T) {
	req := &llm.PayloadRequest{
		Prompt: llm.Prompt{User: "hi"},
		Tools:  []llm.Tool{{Name: "z"}, {Name: "a"}},
		Stream: true,
	}
	first, err := BuildPayload(context.Background(), testModel(), req)
	require.NoError(t, err)
	second, err := BuildPayload(context.Background(), testModel(), req)
	require.NoError(t, err)

	a, err := json.Marshal(first.Request)
	require.NoError(t, err)
	b, err := json.Marshal(second.Request)
	require.NoError(t, err)
	assert.JSONEq(t, string(a), string(b))
	require.NotNil(t, first.Request.StreamOptions)
	assert.True(t, first.Request.StreamOptions.IncludeUsage)
}

func TestToOpenAIMessagesGroupsToolCalls(t *testing.T) {
	turns := []llm.ConversationTurn{
		llm.NewTextTurn(llm.RoleUser, "fix it"),
		{Role: llm.RoleAssistant, Content: []llm.TurnContent{
			llm.NewToolRequestContent("c1", "read_file", map[string]interface{}{"path": "a.go"}),
			llm.NewToolRequestContent("c2", "read_file", map[string]interface{}{"path": "b.go"}),
			llm.NewTextContent("reading"),
			llm.NewToolRequestContent("c3", "grep", nil),
		}},
		{Role: llm.RoleTool, Content: []llm.TurnContent{
			llm.NewToolResponseContent("c1", "read_file", map[string]interface{}{"body": "x"}),
		}},
	}

	msgs, err := ToOpenAIMessages(turns)
	require.NoError(t, err)
	require.Len(t, msgs, 5)

	assert.Len(t, msgs[1].ToolCalls, 2)
	assert.Equal(t, `{"path":"a.go"}`, msgs[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "reading", msgs[2].Content)
	require.Len(t, msgs[3].ToolCalls, 1)
	assert.Equal(t, "{}", msgs[3].ToolCalls[0].Function.Arguments)

	assert.Equal(t, openai.ChatMessageRoleTool, msgs[4].Role)
	assert.Equal(t, "c1", msgs[4].ToolCallID)
	assert.Equal(t, "read_file", msgs[4].Name)
	assert.JSONEq(t, `{"body":"x"}`, msgs[4].Content)
}

func TestUserMessagesWithImages(t *testing.T) {
	turn := llm.ConversationTurn{Role: llm.RoleUser, Content: []llm.TurnContent{
		llm.NewTextContent("one"),
		llm.NewImageContent("image/png", []byte{1, 2}),
		llm.NewTextContent("two"),
	}}

	msgs := userMessages(turn)
	require.Len(t, msgs, 1)
	parts := msgs[0].MultiContent
	require.Len(t, parts, 2)
	assert.Equal(t, "one\n\ntwo", parts[0].Text)
	assert.Equal(t, "data:image/png;base64,AQI=", parts[1].ImageURL.URL)

	imageOnly := userMessages(llm.ConversationTurn{Role: llm.RoleUser, Content: []llm.TurnContent{
		llm.NewImageContent("image/jpeg", []byte{1}),
	}})
	require.Len(t, imageOnly, 1)
	assert.Empty(t, imageOnly[0].Content)
	assert.Len(t, imageOnly[0].MultiContent, 1)

	assert.Empty(t, userMessages(llm.ConversationTurn{Role: llm.RoleUser}))
}

func TestFilterEmptyAssistantMessages(t *testing.T) {
	msgs := []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleUser, Content: "go"},
		{Role: openai.ChatMessageRoleAssistant, ToolCalls: []openai.ToolCall{{ID: "1"}}},
		{Role: openai.ChatMessageRoleAssistant, Content: "  "},
		{Role: openai.ChatMessageRoleAssistant, ToolCalls: []openai.ToolCall{{ID: "2"}}},
		{Role: openai.ChatMessageRoleAssistant, Content: ""},
		{Role: openai.ChatMessageRoleAssistant, Content: "kept"},
	}

	filtered := FilterEmptyAssistantMessages(msgs)
	require.Len(t, filtered, 4)
	assert.Equal(t, "1", filtered[1].ToolCalls[0].ID)
	assert.Equal(t, "2", filtered[2].ToolCalls[0].ID)
	assert.Equal(t, "kept", filtered[3].Content)
}

func TestToolChoice(t *testing.T) {
	tests := []struct {
		in   string
		want any
	}{
		{"", "auto"},
		{"auto", "auto"},
		{"none", "none"},
		{"required", "required"},
		{"any", "required"},
		{"lookup", openai.ToolChoice{Type: openai.ToolTypeFunction, Function: openai.ToolFunction{Name: "lookup"}}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, toolChoice(tt.in), tt.in)
	}
}

func TestBuildPayloadRejectsOrphanToolResponse(t *testing.T) {
	_, err := BuildPayload(context.Background(), testModel(), &llm.PayloadRequest{
		ConversationTurns: []llm.ConversationTurn{
			{Role: llm.RoleTool, Content: []llm.TurnContent{llm.NewToolResponseContent("missing", "x", nil)}},
		},
	})
	assert.True(t, llm.IsClientError(err))
}

func TestFromOpenAIToolCall(t *testing.T) {
	block, err := FromOpenAIToolCall(openai.ToolCall{ID: "c", Function: openai.FunctionCall{Name: "f", Arguments: `{"n":1}`}})
	require.NoError(t, err)
	assert.Equal(t, float64(1), block.ToolUse.Input["n"])

	block, err = FromOpenAIToolCall(openai.ToolCall{ID: "c", Function: openai.FunctionCall{Name: "f"}})
	require.NoError(t, err)
	assert.Empty(t, block.ToolUse.Input)

	_, err = FromOpenAIToolCall(openai.ToolCall{ID: "c", Function: openai.FunctionCall{Name: "f", Arguments: `{"n":`}})
	assert.True(t, llm.IsParseError(err))
}
