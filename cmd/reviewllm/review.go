package main

import (
	"fmt"

	"github.com/aschepis/backscratcher/review/llm"
	"github.com/aschepis/backscratcher/review/review"
	"github.com/spf13/cobra"
)

const reviewSystemPrompt = `You are a senior engineer reviewing a pull request diff.
Report only real problems: bugs, security issues, performance problems and
maintainability concerns. Reply with exactly one <review> element:

<review>
<comments>
<comment>
<description><![CDATA[what is wrong and why]]></description>
<corrective_code><![CDATA[suggested replacement code, or leave empty]]></corrective_code>
<file_path>path of the changed file</file_path>
<line_number>line in the new file, prefixed with + or - for changed lines</line_number>
<confidence_score>0.0 to 1.0</confidence_score>
<bucket>one of: runtime error, security, performance, maintainability, code quality</bucket>
</comment>
</comments>
</review>

Return <review><comments></comments></review> when there is nothing to report.`

func newReviewCmd(a *app) *cobra.Command {
	var (
		model      string
		maxRetry   int
		sessionID  int64
		minScore   float64
		cacheCalls bool
	)
	cmd := &cobra.Command{
		Use:   "review <diff-file|->",
		Short: "Review a unified diff and print the parsed comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			diff, err := readInput(args[0])
			if err != nil {
				return err
			}
			if len(diff) == 0 {
				return fmt.Errorf("diff is empty")
			}

			result, err := a.handler.GetLLMResponse(cmd.Context(), review.Request{
				SessionID:     sessionID,
				Model:         model,
				Prompt:        llm.Prompt{System: reviewSystemPrompt, User: "Review this diff:\n\n" + string(diff)},
				StructureType: review.StructureXML,
				Parse:         true,
				MaxRetry:      maxRetry,
				CacheConfig:   llm.PromptCacheConfig{SystemMessage: cacheCalls},
			})
			if err != nil {
				return err
			}

			kept := result.Comments[:0]
			for _, c := range result.Comments {
				if c.ConfidenceScore >= minScore {
					kept = append(kept, c)
				}
			}
			out := cmd.OutOrStdout()
			if len(kept) == 0 {
				fmt.Fprintln(out, "No comments.")
			}
			printComments(out, kept)
			printUsage(out, result.Usage)
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "Model name from the config (required)")
	cmd.Flags().IntVar(&maxRetry, "max-retry", 0, "Attempts before giving up (default from config)")
	cmd.Flags().Int64Var(&sessionID, "session", 0, "Session id used for region routing")
	cmd.Flags().Float64Var(&minScore, "min-confidence", 0.5, "Drop comments below this confidence score")
	cmd.Flags().BoolVar(&cacheCalls, "cache", true, "Mark the system prompt for prompt caching")
	_ = cmd.MarkFlagRequired("model")
	return cmd
}
