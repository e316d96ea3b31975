package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/karthikraju391/teamchat-gateway/auth"
	"github.com/karthikraju391/teamchat-gateway/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "teamchat-gateway",
		Short: "Real-time chat gateway for team workspaces",
		// Running without a subcommand serves.
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, cmd.ErrOrStderr())
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (env CHAT_* overrides)")

	root.AddCommand(buildServeCmd(&configPath), buildTokenCmd(&configPath))
	return root
}

func buildServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the websocket chat gateway",
		Example: `  # Start with environment configuration
  CHAT_AUTH_JWT_SECRET=... CHAT_ENCRYPTION_SECRET=... teamchat-gateway serve

  # Start with a config file and JetStream storage
  teamchat-gateway serve --config gateway.yaml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *configPath, cmd.ErrOrStderr())
		},
	}
}

// buildTokenCmd mints a credential the way the session issuer does, for
// local testing against a running gateway.
func buildTokenCmd(configPath *string) *cobra.Command {
	var (
		userID string
		ttl    time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development credential for a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = cfg.Auth.TokenTTL
			}
			token, err := auth.NewIssuer(cfg.Auth.JWTSecret, ttl).Issue(userID)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVarP(&userID, "user", "u", "", "User id to bind to the credential")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "Credential lifetime (defaults to auth.token_ttl)")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}
