package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/comigor/jarvis-chat/internal/auth"
	"github.com/comigor/jarvis-chat/internal/config"
)

func init() {
	tokenCmd.Flags().Duration("ttl", 30*24*time.Hour, "token lifetime")
	rootCmd.AddCommand(tokenCmd)
}

var tokenCmd = &cobra.Command{
	Use:   "token [subject]",
	Short: "Mint a bearer token signed with auth.jwt_secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		ttl, _ := cmd.Flags().GetDuration("ttl")
		tok, err := auth.Issue(cfg.Auth.JWTSecret, args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}
