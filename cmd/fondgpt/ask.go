package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gustaflugnegard/FOND-GPT/pkg/tokens"
	tokenszerolog "github.com/gustaflugnegard/FOND-GPT/pkg/tokens/logger/zerolog"
)

func newAskCmd(a *app) *cobra.Command {
	var edge string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question and stream the answer; reads stdin when no question is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if question == "" {
				data, err := io.ReadAll(a.stdin)
				if err != nil {
					return fmt.Errorf("failed to read question: %w", err)
				}
				question = string(data)
			}
			if edge == "" {
				edge = a.cfg.Answer.DefaultEdge
			}
			target, err := tokens.ParseEdgeTarget(edge)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()
			return a.ask(ctx, question, target)
		},
	}
	cmd.Flags().StringVar(&edge, "edge", "", "answer backend: edge1 (knowledge) or edge2 (fund documents)")
	return cmd
}

func (a *app) ask(ctx context.Context, question string, edge tokens.EdgeTarget) error {
	c, err := a.apiClient()
	if err != nil {
		return err
	}

	tokenizer := tokens.NewBPETokenizer(a.cfg.Estimator.Encoding)
	if err := tokenizer.Load(); err != nil {
		fmt.Fprintf(a.stderr, "tokenizer unavailable, estimating by length: %v\n", err)
	}

	coord := tokens.NewCoordinator(c, c,
		tokens.WithEstimator(tokens.NewEstimator(tokenizer)),
		tokens.WithLogger(tokenszerolog.NewLogger(a.log)),
	)
	balance, err := coord.RefreshBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to load token balance: %w", err)
	}

	estimate := coord.SetDraft(question)
	fmt.Fprintf(a.stderr, "estimated %d tokens, balance %d\n", estimate, balance)

	outcome, err := coord.Submit(ctx, edge, a.stdout)
	switch {
	case errors.Is(err, tokens.ErrInsufficientTokens):
		return fmt.Errorf("not enough tokens: question needs about %d, balance is %d", estimate, balance)
	case errors.Is(err, tokens.ErrEmptyQuestion):
		return fmt.Errorf("question is empty")
	case errors.Is(err, context.Canceled):
		fmt.Fprintln(a.stderr, "\ncancelled, nothing was charged")
		return nil
	case err != nil:
		return err
	}

	fmt.Fprintln(a.stdout)
	fmt.Fprintf(a.stderr, "charged %d tokens (answer cost %d), balance %d\n",
		outcome.Spend.Deducted, outcome.Spend.Actual, outcome.Balance)
	if outcome.LowBalance {
		fmt.Fprintln(a.stderr, "low balance, top up")
	}
	if outcome.DeductErr != nil {
		fmt.Fprintf(a.stderr, "warning: charge was not recorded: %v\n", outcome.DeductErr)
	}
	return nil
}
