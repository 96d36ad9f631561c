package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

func newBalanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance",
		Short: "Show the token balance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := a.apiClient()
			if err != nil {
				return err
			}
			balance, err := c.Balance(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, balance)
			return nil
		},
	}
}

func newTopupCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "topup <amount>",
		Short: "Add tokens to the balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.Atoi(args[0])
			if err != nil || amount <= 0 {
				return fmt.Errorf("amount must be a positive integer, got %q", args[0])
			}
			c, err := a.apiClient()
			if err != nil {
				return err
			}
			balance, err := c.Add(cmd.Context(), amount)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, balance)
			return nil
		},
	}
}
