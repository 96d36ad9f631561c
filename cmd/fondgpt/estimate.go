package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
)

func newEstimateCmd(a *app) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "estimate [text]",
		Short: "Estimate the token cost of a question; reads stdin when no text is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if len(args) == 0 {
				data, err := io.ReadAll(a.stdin)
				if err != nil {
					return fmt.Errorf("failed to read text: %w", err)
				}
				text = string(data)
			}

			if offline {
				fmt.Fprintln(a.stdout, tokens.FallbackEstimate(text))
				return nil
			}

			tokenizer := tokens.NewBPETokenizer(a.cfg.Estimator.Encoding)
			if err := tokenizer.Load(); err != nil {
				fmt.Fprintf(a.stderr, "tokenizer unavailable, estimating by length: %v\n", err)
			}
			fmt.Fprintln(a.stdout, tokens.NewEstimator(tokenizer).Estimate(text))
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip the tokenizer and estimate by length")
	return cmd
}
