package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/gustaflugnegard/FOND-GPT/pkg/auth"
)

const defaultTokenTTL = time.Hour

func newTokenCmd(a *app) *cobra.Command {
	var ttl time.Duration

	cmd := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Sign a development session token with the configured secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := a.signToken(args[0], ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, token)
			return nil
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", defaultTokenTTL, "token lifetime")
	return cmd
}

func (a *app) signToken(userID string, ttl time.Duration) (string, error) {
	verifier, err := auth.NewVerifier(auth.Config{
		Secret:   a.cfg.Auth.JWTSecret,
		Issuer:   a.cfg.Auth.Issuer,
		Audience: a.cfg.Auth.Audience,
	})
	if err != nil {
		return "", err
	}
	return verifier.Sign(userID, ttl)
}
