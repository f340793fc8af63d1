package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/aschepis/backscratcher/review/llm"
	"github.com/samber/lo"
)

// DefaultVersion is the anthropic_version sent to Bedrock when a model does
// not configure one.
const DefaultVersion = "bedrock-2023-05-31"

// Payload is a Messages API request plus the Bedrock API version.
type Payload struct {
	Params  anthropic.MessageNewParams
	Version string
}

// ProviderName implements llm.Payload.
func (p *Payload) ProviderName() string {
	return llm.ProviderAnthropic
}

// BuildPayload converts a payload request into Messages API parameters.
func BuildPayload(ctx context.Context, model llm.ModelConfig, req *llm.PayloadRequest) (*Payload, error) {
	if req == nil {
		return nil, llm.NewClientError("payload request is required", nil)
	}

	turns, err := llm.BuildTurns(ctx, req)
	if err != nil {
		return nil, err
	}

	messages, err := ToMessageParams(turns, model.PromptCachingSupported)
	if err != nil {
		return nil, fmt.Errorf("failed to convert messages: %w", err)
	}
	caching := model.PromptCachingSupported

	if caching && req.CacheConfig.Conversation && len(messages) > 0 {
		markLastBlock(&messages[len(messages)-1])
	}

	tools := ToToolUnionParams(llm.SortedTools(req.Tools))
	if caching && req.CacheConfig.Tools && len(tools) > 0 {
		if cc := tools[len(tools)-1].GetCacheControl(); cc != nil {
			*cc = anthropic.NewCacheControlEphemeralParam()
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model.Name),
		MaxTokens: model.MaxTokens,
		Messages:  messages,
		System:    buildSystemBlocks(req.Prompt.System, caching && req.CacheConfig.SystemMessage),
		Tools:     tools,
	}
	if choice, ok := toolChoice(req.ToolChoice); ok && len(tools) > 0 {
		params.ToolChoice = choice
	}

	// Extended thinking only accepts the default temperature.
	if model.Thinking.Enabled {
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(model.Thinking.BudgetTokens)
	} else if model.Temperature != nil {
		params.Temperature = anthropic.Float(*model.Temperature)
	}

	version := model.Version
	if version == "" {
		version = DefaultVersion
	}
	return &Payload{Params: params, Version: version}, nil
}

// buildSystemBlocks creates the system prompt blocks. A blank prompt yields
// no blocks at all.
func buildSystemBlocks(systemPrompt string, cache bool) []anthropic.TextBlockParam {
	if strings.TrimSpace(systemPrompt) == "" {
		return nil
	}
	block := anthropic.TextBlockParam{Text: systemPrompt}
	if cache {
		block.CacheControl = anthropic.NewCacheControlEphemeralParam()
	}
	return []anthropic.TextBlockParam{block}
}

// markLastBlock puts a cache marker on the last block of msg that accepts one.
// Thinking blocks cannot carry a marker.
func markLastBlock(msg *anthropic.MessageParam) {
	for i := len(msg.Content) - 1; i >= 0; i-- {
		if cc := msg.Content[i].GetCacheControl(); cc != nil {
			*cc = anthropic.NewCacheControlEphemeralParam()
			return
		}
	}
}

func toolChoice(choice string) (anthropic.ToolChoiceUnionParam, bool) {
	switch choice {
	case "":
		return anthropic.ToolChoiceUnionParam{}, false
	case "auto":
		return anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}, true
	case "any", "required":
		return anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}, true
	case "none":
		return anthropic.ToolChoiceUnionParam{OfNone: &anthropic.ToolChoiceNoneParam{}}, true
	default:
		return anthropic.ToolChoiceUnionParam{OfTool: &anthropic.ToolChoiceToolParam{Name: choice}}, true
	}
}

// ToContentBlocks converts turn content to Anthropic content blocks. Blank
// text is dropped.
func ToContentBlocks(content []llm.TurnContent) ([]anthropic.ContentBlockParamUnion, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(content))
	for _, c := range content {
		switch c.Type {
		case llm.TurnContentText:
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			blocks = append(blocks, anthropic.NewTextBlock(c.Text))
		case llm.TurnContentImage:
			if c.Image == nil {
				continue
			}
			blocks = append(blocks, anthropic.NewImageBlockBase64(c.Image.MimeType, base64.StdEncoding.EncodeToString(c.Image.Data)))
		case llm.TurnContentToolRequest:
			if c.ToolRequest == nil {
				continue
			}
			blocks = append(blocks, anthropic.NewToolUseBlock(c.ToolRequest.ToolUseID, c.ToolRequest.ToolInput, c.ToolRequest.ToolName))
		case llm.TurnContentToolResponse:
			if c.ToolResponse == nil {
				continue
			}
			body, err := json.Marshal(c.ToolResponse.Response)
			if err != nil {
				return nil, llm.NewClientError("tool response "+c.ToolResponse.ToolUseID+" is not JSON serializable", err)
			}
			blocks = append(blocks, anthropic.NewToolResultBlock(c.ToolResponse.ToolUseID, string(body), false))
		case llm.TurnContentThinking:
			if c.Thinking == nil {
				continue
			}
			if c.Thinking.Redacted {
				blocks = append(blocks, anthropic.NewRedactedThinkingBlock(c.Thinking.Thinking))
			} else {
				blocks = append(blocks, anthropic.NewThinkingBlock(c.Thinking.Signature, c.Thinking.Thinking))
			}
		}
	}
	return blocks, nil
}

// ToMessageParams converts turns to Anthropic messages. Tool turns become
// user messages, and consecutive turns of the same role share a message.
// Turns flagged as cache breakpoints mark their last block when caching is on.
func ToMessageParams(turns []llm.ConversationTurn, caching bool) ([]anthropic.MessageParam, error) {
	result := make([]anthropic.MessageParam, 0, len(turns))
	for _, turn := range turns {
		blocks, err := ToContentBlocks(turn.Content)
		if err != nil {
			return nil, err
		}
		if len(blocks) == 0 {
			continue
		}

		role := anthropic.MessageParamRoleUser
		if turn.Role == llm.RoleAssistant {
			role = anthropic.MessageParamRoleAssistant
		}

		if n := len(result); n > 0 && result[n-1].Role == role {
			result[n-1].Content = append(result[n-1].Content, blocks...)
		} else if role == anthropic.MessageParamRoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(blocks...))
		} else {
			result = append(result, anthropic.NewUserMessage(blocks...))
		}

		if caching && turn.CacheBreakpoint {
			markLastBlock(&result[len(result)-1])
		}
	}
	return result, nil
}

// ToToolUnionParam converts an llm.Tool to an Anthropic ToolUnionParam.
func ToToolUnionParam(tool *llm.Tool) anthropic.ToolUnionParam {
	properties := tool.InputSchema.Properties
	if properties == nil {
		properties = map[string]interface{}{}
	}
	toolParam := anthropic.ToolParam{
		Name: tool.Name,
		InputSchema: anthropic.ToolInputSchemaParam{
			Properties:  properties,
			Required:    tool.InputSchema.Required,
			ExtraFields: tool.InputSchema.ExtraFields,
		},
	}
	if tool.Description != "" {
		toolParam.Description = anthropic.String(tool.Description)
	}

	return anthropic.ToolUnionParam{OfTool: &toolParam}
}

// ToToolUnionParams converts a slice of llm.Tools to Anthropic ToolUnionParams.
func ToToolUnionParams(tools []llm.Tool) []anthropic.ToolUnionParam {
	if len(tools) == 0 {
		return nil
	}
	return lo.Map(tools, func(tool llm.Tool, _ int) anthropic.ToolUnionParam {
		return ToToolUnionParam(&tool)
	})
}
