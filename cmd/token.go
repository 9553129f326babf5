/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/mautops/formflow-gin/internal/auth"
	"github.com/mautops/formflow-gin/internal/config"
	"github.com/mautops/formflow-gin/internal/form"
	"github.com/spf13/cobra"
)

// tokenCmd represents the token command
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue a signed development token",
	Long: `Issue an HS256 token signed with the configured auth.jwt_secret.
The token carries the user id, role and department expected by the API.
It is meant for local development and scripted tests; deployments that
set auth.jwks_url accept only tokens from the external identity provider.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if cfg.Auth.JWKSURL != "" {
			return errors.New("auth.jwks_url is set, tokens must come from the identity provider")
		}

		user, _ := cmd.Flags().GetString("user")
		role, _ := cmd.Flags().GetString("role")
		department, _ := cmd.Flags().GetString("department")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		if ttl <= 0 {
			ttl = cfg.Auth.TokenTTL
		}
		if ttl <= 0 {
			ttl = time.Hour
		}

		token, err := auth.GenerateToken(cfg.Auth.JWTSecret, cfg.Auth.Issuer, form.Principal{
			ID:         user,
			Role:       form.Role(role),
			Department: department,
		}, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().String("user", "", "User id (token subject)")
	tokenCmd.Flags().String("role", string(form.RoleOperator), "Role: operator, supervisor or admin")
	tokenCmd.Flags().String("department", "", "Department of the user")
	tokenCmd.Flags().Duration("ttl", 0, "Token lifetime (default: auth.token_ttl)")
	_ = tokenCmd.MarkFlagRequired("user")
}
