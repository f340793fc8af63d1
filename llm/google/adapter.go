// Package google adapts Gemini models served through google.golang.org/genai
// to the llm provider contract.
package google

import (
	"context"
	"strings"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/samber/lo"
	"google.golang.org/genai"
)

// Payload is a GenerateContent request.
type Payload struct {
	Model    string
	Contents []*genai.Content
	Config   *genai.GenerateContentConfig
	// CacheBreakpoint is the index of the content a cache marker was recorded
	// on, or -1. Gemini caches implicitly, so the marker is informational.
	CacheBreakpoint int
}

// ProviderName implements llm.Payload.
func (p *Payload) ProviderName() string {
	return llm.ProviderGoogle
}

var harmCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// SafetySettings blocks medium and above for every harm category.
func SafetySettings() []*genai.SafetySetting {
	return lo.Map(harmCategories, func(c genai.HarmCategory, _ int) *genai.SafetySetting {
		return &genai.SafetySetting{Category: c, Threshold: genai.HarmBlockThresholdBlockMediumAndAbove}
	})
}

// BuildPayload converts a payload request into a GenerateContent request.
func BuildPayload(ctx context.Context, model llm.ModelConfig, req *llm.PayloadRequest) (*Payload, error) {
	if req == nil {
		return nil, llm.NewClientError("payload request is required", nil)
	}
	if req.SearchWeb && len(req.Tools) > 0 {
		return nil, llm.NewClientError("web search cannot be combined with function tools", nil)
	}

	turns, err := llm.BuildTurns(ctx, req)
	if err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(model.MaxTokens),
		SafetySettings:  SafetySettings(),
	}
	if strings.TrimSpace(req.Prompt.System) != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.Prompt.System}}}
	}
	if model.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*model.Temperature))
	}
	if model.Thinking.Enabled {
		config.ThinkingConfig = &genai.ThinkingConfig{
			IncludeThoughts: true,
			ThinkingBudget:  genai.Ptr(int32(model.Thinking.BudgetTokens)),
		}
	}

	if len(req.Tools) > 0 {
		config.Tools = []*genai.Tool{{FunctionDeclarations: ToFunctionDeclarations(llm.SortedTools(req.Tools))}}
		if tc := toolConfig(req.ToolChoice); tc != nil {
			config.ToolConfig = tc
		}
	}
	if req.SearchWeb {
		config.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}

	contents := ToContents(turns)
	breakpoint := -1
	if model.PromptCachingSupported && req.CacheConfig.Conversation && len(contents) > 0 {
		breakpoint = len(contents) - 1
	}

	return &Payload{
		Model:           model.Name,
		Contents:        contents,
		Config:          config,
		CacheBreakpoint: breakpoint,
	}, nil
}

func toolConfig(choice string) *genai.ToolConfig {
	var fc genai.FunctionCallingConfig
	switch choice {
	case "":
		return nil
	case "auto":
		fc.Mode = genai.FunctionCallingConfigModeAuto
	case "any", "required":
		fc.Mode = genai.FunctionCallingConfigModeAny
	case "none":
		fc.Mode = genai.FunctionCallingConfigModeNone
	default:
		fc.Mode = genai.FunctionCallingConfigModeAny
		fc.AllowedFunctionNames = []string{choice}
	}
	return &genai.ToolConfig{FunctionCallingConfig: &fc}
}

// ToContents converts turns to Gemini contents. Assistant turns use the model
// role; tool turns carry function responses under the user role. Consecutive
// contents with the same role are merged.
func ToContents(turns []llm.ConversationTurn) []*genai.Content {
	var out []*genai.Content
	for _, turn := range turns {
		parts := toParts(turn.Content)
		if len(parts) == 0 {
			continue
		}
		role := string(genai.RoleUser)
		if turn.Role == llm.RoleAssistant {
			role = string(genai.RoleModel)
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Parts = append(out[n-1].Parts, parts...)
			continue
		}
		out = append(out, &genai.Content{Role: role, Parts: parts})
	}
	return out
}

// toParts drops blank text and thinking blocks. Thought signatures from
// other vendors cannot be replayed to Gemini.
func toParts(content []llm.TurnContent) []*genai.Part {
	var parts []*genai.Part
	for _, c := range content {
		switch c.Type {
		case llm.TurnContentText:
			if strings.TrimSpace(c.Text) == "" {
				continue
			}
			parts = append(parts, &genai.Part{Text: c.Text})
		case llm.TurnContentImage:
			if c.Image == nil {
				continue
			}
			parts = append(parts, &genai.Part{InlineData: &genai.Blob{MIMEType: c.Image.MimeType, Data: c.Image.Data}})
		case llm.TurnContentToolRequest:
			if c.ToolRequest == nil {
				continue
			}
			parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
				ID:   c.ToolRequest.ToolUseID,
				Name: c.ToolRequest.ToolName,
				Args: c.ToolRequest.ToolInput,
			}})
		case llm.TurnContentToolResponse:
			if c.ToolResponse == nil {
				continue
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				ID:       c.ToolResponse.ToolUseID,
				Name:     c.ToolResponse.ToolName,
				Response: c.ToolResponse.Response,
			}})
		}
	}
	return parts
}

// ToFunctionDeclarations converts tools to Gemini function declarations.
func ToFunctionDeclarations(tools []llm.Tool) []*genai.FunctionDeclaration {
	return lo.Map(tools, func(tool llm.Tool, _ int) *genai.FunctionDeclaration {
		return &genai.FunctionDeclaration{
			Name:                 tool.Name,
			Description:          tool.Description,
			ParametersJsonSchema: tool.InputSchema.JSONSchema(),
		}
	})
}
