package main

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/gustaflugnegard/FOND-GPT/internal/config"
	"github.com/gustaflugnegard/FOND-GPT/internal/logging"
	"github.com/gustaflugnegard/FOND-GPT/pkg/client"
)

type app struct {
	configPath string
	cfg        *config.Config
	log        zerolog.Logger
	logCloser  io.Closer

	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{stdin: in, stdout: out, stderr: errOut, log: zerolog.Nop()}

	cmd := &cobra.Command{
		Use:           "fondgpt",
		Short:         "Token-metered answers about Swedish funds",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if a.logCloser != nil {
				return a.logCloser.Close()
			}
			return nil
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to fondgpt.yaml")

	cmd.AddCommand(
		newServeCmd(a),
		newAskCmd(a),
		newBalanceCmd(a),
		newTopupCmd(a),
		newEstimateCmd(a),
		newTokenCmd(a),
	)
	return cmd
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	a.cfg, a.log, a.logCloser = cfg, logger, closer
	return nil
}

// apiClient returns a client for the configured server. A configured user id
// without a token is signed locally with the shared secret.
func (a *app) apiClient() (*client.Client, error) {
	token := a.cfg.Client.Token
	if token == "" && a.cfg.Client.UserID != "" {
		signed, err := a.signToken(a.cfg.Client.UserID, defaultTokenTTL)
		if err != nil {
			return nil, err
		}
		token = signed
	}
	if token == "" {
		return nil, fmt.Errorf("client.token or client.user_id is required")
	}
	return client.New(client.Config{BaseURL: a.cfg.Client.BaseURL, Token: token})
}
