package openai

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/review/llm"
	openai "github.com/sashabaranov/go-openai"
)

// GetTokens implements llm.Provider with the local tokenizer.
func (p *Provider) GetTokens(_ context.Context, content string, _ llm.ModelConfig) (int, error) {
	return p.counter(content)
}

// PayloadContent implements llm.Provider. Message text, image URLs and tool
// definitions are counted.
func (p *Provider) PayloadContent(payload llm.Payload) string {
	pl, ok := payload.(*Payload)
	if !ok || pl == nil {
		return llm.PlaceholderContent
	}

	var parts []string
	for _, msg := range pl.Request.Messages {
		if msg.Content != "" {
			parts = append(parts, msg.Content)
		}
		for _, part := range msg.MultiContent {
			switch part.Type {
			case openai.ChatMessagePartTypeText:
				parts = append(parts, part.Text)
			case openai.ChatMessagePartTypeImageURL:
				if part.ImageURL != nil {
					parts = append(parts, part.ImageURL.URL)
				}
			}
		}
	}

	if len(pl.Request.Tools) > 0 {
		tools, err := json.Marshal(pl.Request.Tools)
		if err != nil {
			p.logger.Warn().Err(err).Msg("Error processing tools for token counting")
		} else {
			parts = append(parts, string(tools))
		}
	}
	return strings.Join(parts, "\n")
}
