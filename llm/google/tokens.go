package google

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/review/llm"
	"google.golang.org/genai"
)

// GetTokens implements llm.Provider using the vendor's token counting endpoint.
func (p *Provider) GetTokens(ctx context.Context, content string, model llm.ModelConfig) (int, error) {
	models, err := p.pool.Get("")
	if err != nil {
		return 0, err
	}
	resp, err := models.CountTokens(ctx, model.Name, []*genai.Content{{
		Role:  string(genai.RoleUser),
		Parts: []*genai.Part{{Text: content}},
	}}, nil)
	if err != nil {
		return 0, convertError(err)
	}
	return int(resp.TotalTokens), nil
}

// PayloadContent implements llm.Provider. The system instruction, text parts,
// function payloads and tool declarations are counted.
func (p *Provider) PayloadContent(payload llm.Payload) string {
	pl, ok := payload.(*Payload)
	if !ok || pl == nil {
		return llm.PlaceholderContent
	}

	var parts []string
	if pl.Config != nil && pl.Config.SystemInstruction != nil {
		parts = append(parts, textOf(pl.Config.SystemInstruction)...)
	}
	for _, content := range pl.Contents {
		parts = append(parts, textOf(content)...)
		for _, part := range content.Parts {
			switch {
			case part == nil:
			case part.FunctionCall != nil:
				parts = append(parts, p.jsonOf(part.FunctionCall.Args))
			case part.FunctionResponse != nil:
				parts = append(parts, p.jsonOf(part.FunctionResponse.Response))
			}
		}
	}
	if pl.Config != nil {
		for _, tool := range pl.Config.Tools {
			for _, fn := range tool.FunctionDeclarations {
				parts = append(parts, fn.Name, fn.Description)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func textOf(content *genai.Content) []string {
	var out []string
	for _, part := range content.Parts {
		if part != nil && part.Text != "" {
			out = append(out, part.Text)
		}
	}
	return out
}

func (p *Provider) jsonOf(v map[string]any) string {
	body, err := json.Marshal(v)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to serialize function payload for token counting")
		return ""
	}
	return string(body)
}
