package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/samber/lo"
	openai "github.com/sashabaranov/go-openai"
)

// Payload is a chat completions request.
type Payload struct {
	Request openai.ChatCompletionRequest
}

// ProviderName implements llm.Payload.
func (p *Payload) ProviderName() string {
	return llm.ProviderOpenAI
}

// BuildPayload converts a payload request into a chat completions request.
// Prompt cache configuration has no effect; caching is automatic on this API.
func BuildPayload(ctx context.Context, model llm.ModelConfig, req *llm.PayloadRequest) (*Payload, error) {
	if req == nil {
		return nil, llm.NewClientError("payload request is required", nil)
	}

	turns, err := llm.BuildTurns(ctx, req)
	if err != nil {
		return nil, err
	}

	var messages []openai.ChatCompletionMessage
	if strings.TrimSpace(req.Prompt.System) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: req.Prompt.System,
		})
	}
	converted, err := ToOpenAIMessages(turns)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	messages = append(messages, converted...)

	chatReq := openai.ChatCompletionRequest{
		Model:     model.Name,
		Messages:  FilterEmptyAssistantMessages(messages),
		MaxTokens: int(model.MaxTokens),
		Stream:    req.Stream,
	}
	if model.Temperature != nil {
		chatReq.Temperature = float32(*model.Temperature)
	}
	if req.Stream {
		chatReq.StreamOptions = &openai.StreamOptions{IncludeUsage: true}
	}

	if len(req.Tools) > 0 {
		chatReq.Tools = ToOpenAITools(llm.SortedTools(req.Tools))
		chatReq.ToolChoice = toolChoice(req.ToolChoice)
	}

	return &Payload{Request: chatReq}, nil
}

func toolChoice(choice string) any {
	switch choice {
	case "", "auto":
		return "auto"
	case "none", "required":
		return choice
	case "any":
		return "required"
	default:
		return openai.ToolChoice{
			Type:     openai.ToolTypeFunction,
			Function: openai.ToolFunction{Name: choice},
		}
	}
}

// ToOpenAIMessages converts turns to chat messages.
func ToOpenAIMessages(turns []llm.ConversationTurn) ([]openai.ChatCompletionMessage, error) {
	var result []openai.ChatCompletionMessage
	for _, turn := range turns {
		var msgs []openai.ChatCompletionMessage
		var err error
		switch turn.Role {
		case llm.RoleAssistant:
			msgs, err = assistantMessages(turn)
		case llm.RoleTool:
			msgs, err = toolMessages(turn)
		default:
			msgs = userMessages(turn)
		}
		if err != nil {
			return nil, err
		}
		result = append(result, msgs...)
	}
	return result, nil
}

// userMessages joins the turn's text and attaches images as data URLs.
// Text-only turns keep plain string content.
func userMessages(turn llm.ConversationTurn) []openai.ChatCompletionMessage {
	var texts []string
	var images []openai.ChatMessagePart
	for _, c := range turn.Content {
		switch c.Type {
		case llm.TurnContentText:
			texts = append(texts, c.Text)
		case llm.TurnContentImage:
			if c.Image == nil {
				continue
			}
			images = append(images, openai.ChatMessagePart{
				Type:     openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{URL: DataURL(c.Image.MimeType, c.Image.Data)},
			})
		}
	}

	switch {
	case len(texts) == 0 && len(images) == 0:
		return nil
	case len(images) == 0:
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: strings.Join(texts, "\n\n")}}
	case len(texts) == 0:
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, MultiContent: images}}
	}
	parts := append([]openai.ChatMessagePart{{
		Type: openai.ChatMessagePartTypeText,
		Text: strings.Join(texts, "\n\n"),
	}}, images...)
	return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, MultiContent: parts}}
}

// assistantMessages groups consecutive tool requests into a single tool_calls
// message. Any text between them starts a new group.
func assistantMessages(turn llm.ConversationTurn) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	var pending []openai.ToolCall

	flush := func() {
		if len(pending) == 0 {
			return
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:      openai.ChatMessageRoleAssistant,
			ToolCalls: pending,
		})
		pending = nil
	}

	for _, c := range turn.Content {
		switch c.Type {
		case llm.TurnContentToolRequest:
			if c.ToolRequest == nil {
				continue
			}
			args, err := json.Marshal(c.ToolRequest.ToolInput)
			if err != nil {
				return nil, llm.NewClientError("tool input for "+c.ToolRequest.ToolName+" is not JSON serializable", err)
			}
			pending = append(pending, openai.ToolCall{
				ID:   c.ToolRequest.ToolUseID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      c.ToolRequest.ToolName,
					Arguments: string(args),
				},
			})
		case llm.TurnContentText:
			flush()
			out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: c.Text})
		}
	}
	flush()
	return out, nil
}

func toolMessages(turn llm.ConversationTurn) ([]openai.ChatCompletionMessage, error) {
	var out []openai.ChatCompletionMessage
	for _, c := range turn.Content {
		if c.Type != llm.TurnContentToolResponse || c.ToolResponse == nil {
			continue
		}
		body, err := json.Marshal(c.ToolResponse.Response)
		if err != nil {
			return nil, llm.NewClientError("tool response "+c.ToolResponse.ToolUseID+" is not JSON serializable", err)
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:       openai.ChatMessageRoleTool,
			ToolCallID: c.ToolResponse.ToolUseID,
			Name:       c.ToolResponse.ToolName,
			Content:    string(body),
		})
	}
	return out, nil
}

// FilterEmptyAssistantMessages drops blank assistant messages that directly
// follow an assistant tool_calls message.
func FilterEmptyAssistantMessages(messages []openai.ChatCompletionMessage) []openai.ChatCompletionMessage {
	filtered := make([]openai.ChatCompletionMessage, 0, len(messages))
	for i, msg := range messages {
		if i > 0 && isBlankAssistant(msg) {
			prev := messages[i-1]
			if prev.Role == openai.ChatMessageRoleAssistant && len(prev.ToolCalls) > 0 {
				continue
			}
		}
		filtered = append(filtered, msg)
	}
	return filtered
}

func isBlankAssistant(msg openai.ChatCompletionMessage) bool {
	return msg.Role == openai.ChatMessageRoleAssistant &&
		len(msg.ToolCalls) == 0 &&
		len(msg.MultiContent) == 0 &&
		strings.TrimSpace(msg.Content) == ""
}

// DataURL encodes bytes as a base64 data URL.
func DataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// ToOpenAITools converts tools to OpenAI function definitions.
func ToOpenAITools(tools []llm.Tool) []openai.Tool {
	return lo.Map(tools, func(tool llm.Tool, _ int) openai.Tool {
		return ToOpenAITool(&tool)
	})
}

// ToOpenAITool converts a single llm.Tool to OpenAI Tool format.
func ToOpenAITool(tool *llm.Tool) openai.Tool {
	return openai.Tool{
		Type: openai.ToolTypeFunction,
		Function: &openai.FunctionDefinition{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema.JSONSchema(),
		},
	}
}

// FromOpenAIToolCall converts a completed tool call. Arguments that are not
// a JSON object are a parse error.
func FromOpenAIToolCall(toolCall openai.ToolCall) (llm.ContentBlock, error) {
	input := make(map[string]interface{})
	if strings.TrimSpace(toolCall.Function.Arguments) != "" {
		if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &input); err != nil {
			return llm.ContentBlock{}, llm.NewParseError("invalid arguments for tool call "+toolCall.ID, err)
		}
	}
	return llm.NewToolUseBlock(toolCall.ID, toolCall.Function.Name, input), nil
}
