package anthropic

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/tidwall/gjson"
)

// GetTokens implements llm.Provider with the local tokenizer.
func (p *Provider) GetTokens(_ context.Context, content string, _ llm.ModelConfig) (int, error) {
	return p.counter(content)
}

// PayloadContent implements llm.Provider.
func (p *Provider) PayloadContent(payload llm.Payload) string {
	pl, ok := payload.(*Payload)
	if !ok || pl == nil {
		return llm.PlaceholderContent
	}
	body, err := json.Marshal(pl.Params)
	if err != nil {
		p.logger.Warn().Err(err).Msg("Failed to serialize payload for token counting")
		return llm.PlaceholderContent
	}
	return ExtractContent(body)
}

// ExtractContent collects the countable text of a serialized Messages API
// request: system prompt, message text, tool results and tool definitions.
func ExtractContent(body []byte) string {
	if !gjson.ValidBytes(body) {
		return llm.PlaceholderContent
	}
	root := gjson.ParseBytes(body)
	var parts []string

	appendText := func(v gjson.Result) {
		if v.Type == gjson.String {
			parts = append(parts, v.String())
			return
		}
		v.ForEach(func(_, block gjson.Result) bool {
			if text := block.Get("text"); text.Exists() {
				parts = append(parts, text.String())
			}
			return true
		})
	}

	if system := root.Get("system"); system.Exists() {
		appendText(system)
	}

	root.Get("messages").ForEach(func(_, msg gjson.Result) bool {
		content := msg.Get("content")
		if content.Type == gjson.String {
			parts = append(parts, content.String())
			return true
		}
		content.ForEach(func(_, block gjson.Result) bool {
			switch block.Get("type").String() {
			case "text":
				parts = append(parts, block.Get("text").String())
			case "tool_result":
				appendText(block.Get("content"))
			}
			return true
		})
		return true
	})

	if tools := root.Get("tools"); tools.Exists() && tools.IsArray() && len(tools.Array()) > 0 {
		parts = append(parts, tools.Raw)
	}

	return strings.Join(parts, "\n")
}
