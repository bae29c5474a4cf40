package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/lingo/internal/auth"
	"github.com/dukerupert/lingo/internal/database"
	"github.com/dukerupert/lingo/internal/model"
	"github.com/dukerupert/lingo/internal/push"
	"github.com/dukerupert/lingo/internal/receiver"
	"github.com/dukerupert/lingo/internal/server"
)

var vapidKeysCmd = &cobra.Command{
	Use:   "vapid-keys",
	Short: "Generate a VAPID key pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		pub, priv, err := push.GenerateVAPIDKeys()
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "LINGO_VAPID_PUBLIC_KEY=%s\nLINGO_VAPID_PRIVATE_KEY=%s\n", pub, priv)
		return nil
	},
}

var (
	triggerUser string
	triggerKind string
)

var triggerCmd = &cobra.Command{
	Use:   "trigger",
	Short: "Force one reminder rule for a user, bypassing time-of-day conditions",
	RunE: func(cmd *cobra.Command, args []string) error {
		kind, err := model.ParseReminderKind(triggerKind)
		if err != nil {
			return err
		}
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		srv := server.New(db, cfg, logger)
		defer srv.Close()

		outcome, err := srv.Evaluator().Trigger(cmd.Context(), triggerUser, kind)
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s: %s\n", triggerUser, kind, outcome)
		return err
	},
}

var flushUser string

var flushCmd = &cobra.Command{
	Use:   "flush",
	Short: "Deliver queued reminders (all users unless --user is set)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := database.Open(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		defer db.Close()

		srv := server.New(db, cfg, logger)
		defer srv.Close()

		res, err := srv.Outbox().Flush(cmd.Context(), flushUser)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

var tokenUser string

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Issue an API token for a user (development)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		token, err := auth.IssueToken(cfg.Auth.JWTSecret, tokenUser, cfg.Auth.TokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

var syncToken string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a background sync against app.origin as the token's user",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, _, err := loadConfig()
		if err != nil {
			return err
		}
		token := syncToken
		if token == "" {
			token = os.Getenv("LINGO_TOKEN")
		}
		if token == "" {
			return fmt.Errorf("--token or LINGO_TOKEN is required")
		}
		if err := receiver.NewSyncClient(cfg.App.Origin, token).Flush(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "sync complete")
		return nil
	},
}

func init() {
	triggerCmd.Flags().StringVar(&triggerUser, "user", "", "user id")
	triggerCmd.Flags().StringVar(&triggerKind, "kind", "", "reminder kind: daily-goal, streak or lesson")
	triggerCmd.MarkFlagRequired("user")
	triggerCmd.MarkFlagRequired("kind")

	flushCmd.Flags().StringVar(&flushUser, "user", "", "only flush this user's queue")

	tokenCmd.Flags().StringVar(&tokenUser, "user", "", "user id")
	tokenCmd.MarkFlagRequired("user")

	syncCmd.Flags().StringVar(&syncToken, "token", "", "bearer token (defaults to LINGO_TOKEN)")
}
