package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/aschepis/backscratcher/review/review"
	"github.com/aschepis/backscratcher/review/session"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newModelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models whose provider is configured",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			color.New(color.FgBlue).Fprintln(out, "Available models:")
			for _, name := range a.registry.Models() {
				model, _, err := a.registry.Resolve(name)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "  %-20s %-10s max_tokens=%d input_limit=%d\n", name, model.Provider, model.MaxTokens, model.InputTokensLimit)
			}
			return nil
		},
	}
}

func newAskCmd(a *app) *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "ask [prompt]",
		Short: "Send a prompt and print the complete response",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args)
			if err != nil {
				return err
			}
			result, err := a.handler.GetLLMResponse(cmd.Context(), req)
			if err != nil {
				return err
			}
			return printResult(cmd.OutOrStdout(), result)
		},
	}
	flags.register(cmd)
	return cmd
}

func newStreamCmd(a *app) *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "stream [prompt]",
		Short: "Stream a response as it is generated",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args)
			if err != nil {
				return err
			}
			return a.stream(cmd.Context(), cmd.OutOrStdout(), req)
		},
	}
	flags.register(cmd)
	return cmd
}

// stream prints events as they arrive. An interrupt cancels the session so
// the stream stops at its next chunk and the session is cleaned up.
func (a *app) stream(ctx context.Context, out io.Writer, req review.Request) error {
	checker := session.NewChecker(a.sessions, req.SessionID, 0, a.logger)
	streamCtx := context.WithoutCancel(ctx)
	checker.Start(streamCtx)
	defer checker.StopMonitoring()

	req.Checker = checker
	req.Cleaner = a.sessions
	stream, err := a.handler.StreamLLMResponse(ctx, req)
	if err != nil {
		return err
	}
	defer stream.Close()

	go func() {
		select {
		case <-ctx.Done():
			a.sessions.Cancel(req.SessionID)
		case <-stream.Done():
		}
	}()

	thinking := color.New(color.Faint)
	tool := color.New(color.FgYellow)
	warn := color.New(color.FgRed)
	for stream.Next() {
		ev := stream.Event()
		switch ev.Type {
		case llm.EventTextBlockDelta:
			fmt.Fprint(out, ev.Text)
		case llm.EventTextBlockEnd:
			fmt.Fprintln(out)
		case llm.EventThinkingBlockDelta:
			thinking.Fprint(out, ev.Text)
		case llm.EventThinkingBlockEnd:
			fmt.Fprintln(out)
		case llm.EventRedactedThinking:
			thinking.Fprintln(out, "[redacted thinking]")
		case llm.EventToolUseRequestStart:
			tool.Fprintf(out, "tool %s (%s): ", ev.ToolName, ev.ToolUseID)
		case llm.EventToolUseRequestDelta:
			tool.Fprint(out, ev.JSONDelta)
		case llm.EventToolUseRequestEnd:
			fmt.Fprintln(out)
		case llm.EventMalformedToolUseRequest:
			warn.Fprintf(out, "malformed tool call: %s\n", ev.Text)
		}
	}
	if err := stream.Err(); err != nil {
		return err
	}

	usage, err := stream.Usage(streamCtx)
	if err != nil {
		return err
	}
	printUsage(out, usage)
	return nil
}

func newTokensCmd(a *app) *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "tokens [prompt]",
		Short: "Count payload tokens and check them against the model's limit",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := flags.request(args)
			if err != nil {
				return err
			}
			model, provider, err := a.registry.Resolve(req.Model)
			if err != nil {
				return err
			}
			payload, err := provider.BuildPayload(cmd.Context(), model, &llm.PayloadRequest{
				Prompt:            req.Prompt,
				ConversationTurns: req.ConversationTurns,
				CacheConfig:       req.CacheConfig,
				SearchWeb:         req.SearchWeb,
			})
			if err != nil {
				return err
			}
			count, err := provider.GetTokens(cmd.Context(), provider.PayloadContent(payload), model)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "  %-15s: %s\n", "Model", model.Name)
			fmt.Fprintf(out, "  %-15s: %d\n", "Tokens", count)
			validator := llm.NewTokenValidator(a.cfg.TokenLimitDefault, a.logger)
			if err := validator.ValidatePayloadTokenLimit(cmd.Context(), payload, provider, model); err != nil {
				color.New(color.FgRed).Fprintf(out, "  %-15s: %v\n", "Limit", err)
				return nil
			}
			color.New(color.FgGreen).Fprintf(out, "  %-15s: within limit\n", "Limit")
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}

func printResult(out io.Writer, result *review.Result) error {
	switch {
	case len(result.Comments) > 0:
		printComments(out, result.Comments)
	case len(result.JSONComments) > 0:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result.JSONComments); err != nil {
			return fmt.Errorf("failed to encode comments: %w", err)
		}
	default:
		fmt.Fprintln(out, result.Response)
	}
	for _, use := range result.ToolUses {
		input, _ := json.Marshal(use.Input)
		color.New(color.FgYellow).Fprintf(out, "tool %s (%s): %s\n", use.Name, use.ID, input)
	}
	printUsage(out, result.Usage)
	return nil
}

func printUsage(out io.Writer, usage llm.Usage) {
	color.New(color.Faint).Fprintf(out, "tokens: input=%d output=%d cache_read=%d cache_write=%d\n",
		usage.Input, usage.Output, usage.CacheReadTokens(), usage.CacheWriteTokens())
}

func printComments(out io.Writer, comments []review.ReviewComment) {
	bucket := color.New(color.FgMagenta, color.Bold)
	for _, c := range comments {
		bucket.Fprintf(out, "%s", c.Bucket)
		fmt.Fprintf(out, " %s:%s (confidence %.2f)\n", c.FilePath, c.LineNumber, c.ConfidenceScore)
		fmt.Fprintln(out, c.Comment)
		if c.CorrectiveCode != nil {
			color.New(color.FgGreen).Fprintln(out, *c.CorrectiveCode)
		}
		fmt.Fprintln(out)
	}
}
