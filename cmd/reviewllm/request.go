package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/aschepis/backscratcher/review/review"
	"github.com/spf13/cobra"
)

// requestFlags are the request options shared by ask, stream and tokens.
type requestFlags struct {
	model      string
	system     string
	promptFile string
	images     []string
	structure  string
	maxRetry   int
	sessionID  int64
	searchWeb  bool
	cacheAll   bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.model, "model", "m", "", "Model name from the config (required)")
	cmd.Flags().StringVarP(&f.system, "system", "s", "", "System prompt")
	cmd.Flags().StringVarP(&f.promptFile, "file", "f", "", "Read the user prompt from a file ('-' for stdin)")
	cmd.Flags().StringSliceVar(&f.images, "image", nil, "Attach an image file (repeatable)")
	cmd.Flags().StringVar(&f.structure, "structure", string(review.StructureText), "Post-processing: text, json or xml")
	cmd.Flags().IntVar(&f.maxRetry, "max-retry", 0, "Attempts before giving up (default from config)")
	cmd.Flags().Int64Var(&f.sessionID, "session", 0, "Session id used for routing and cancellation")
	cmd.Flags().BoolVar(&f.searchWeb, "search-web", false, "Enable vendor web search where supported")
	cmd.Flags().BoolVar(&f.cacheAll, "cache", false, "Mark system prompt, tools and conversation for prompt caching")
	_ = cmd.MarkFlagRequired("model")
}

// request builds a review.Request from the flags and positional prompt.
func (f *requestFlags) request(args []string) (review.Request, error) {
	user := strings.Join(args, " ")
	if f.promptFile != "" {
		data, err := readInput(f.promptFile)
		if err != nil {
			return review.Request{}, err
		}
		user = strings.TrimSpace(strings.Join([]string{user, string(data)}, "\n\n"))
	}
	if user == "" {
		return review.Request{}, fmt.Errorf("a prompt is required")
	}

	req := review.Request{
		SessionID:     f.sessionID,
		Model:         f.model,
		Prompt:        llm.Prompt{System: f.system},
		SearchWeb:     f.searchWeb,
		StructureType: review.StructureType(f.structure),
		Parse:         f.structure != string(review.StructureText),
		MaxRetry:      f.maxRetry,
		CacheConfig: llm.PromptCacheConfig{
			Tools:         f.cacheAll,
			SystemMessage: f.cacheAll,
			Conversation:  f.cacheAll,
		},
	}

	content := []llm.TurnContent{llm.NewTextContent(user)}
	for _, path := range f.images {
		data, err := os.ReadFile(path) //#nosec G304 -- user-selected attachment
		if err != nil {
			return review.Request{}, fmt.Errorf("failed to read image %q: %w", path, err)
		}
		content = append(content, llm.NewImageContent(mimeType(path), data))
	}
	req.ConversationTurns = []llm.ConversationTurn{{Role: llm.RoleUser, Content: content}}
	return req, nil
}

func readInput(path string) ([]byte, error) {
	if path == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(path) //#nosec G304 -- user-selected prompt file
	if err != nil {
		return nil, fmt.Errorf("failed to read %q: %w", path, err)
	}
	return data, nil
}

func mimeType(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
