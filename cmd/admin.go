/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/dmd/devicetracker/config"
	"github.com/dmd/devicetracker/internal/logger"
	"github.com/dmd/devicetracker/internal/server"
	"github.com/dmd/devicetracker/internal/services"
	"github.com/spf13/cobra"
)

// adminCmd represents the admin command.
var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Offline account maintenance",
}

var (
	resetUserID   string
	resetPassword string
)

var adminResetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Set a user's password directly in the configured data backend",
	Long: `Set a user's password directly in the configured data backend.

Use it to recover access when no coach can log in. Stop the server first:
it keeps its own copy of the roster and would overwrite the change.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if resetUserID == "" || resetPassword == "" {
			return errors.New("--user and --password are required")
		}

		cfg := config.LoadConfig()
		log := logger.SetupDefault(os.Stderr, cfg.LogLevel)

		hasher, err := services.NewPasswordHasher(cfg.Auth.PasswordScheme)
		if err != nil {
			return err
		}
		hash, err := hasher.Hash(resetPassword)
		if err != nil {
			return err
		}

		backend, closeStore, err := server.OpenStore(cmd.Context(), cfg, log)
		if err != nil {
			return err
		}
		defer closeStore()

		users := services.NewUserDirectory(cmd.Context(), backend, log)
		if users.Degraded() {
			return fmt.Errorf("reset password for %s: stored users could not be loaded", resetUserID)
		}
		if err := users.ResetPassword(cmd.Context(), resetUserID, hash); err != nil {
			return fmt.Errorf("reset password for %s: %w", resetUserID, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "password updated for %s\n", resetUserID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(adminCmd)
	adminCmd.AddCommand(adminResetPasswordCmd)

	adminResetPasswordCmd.Flags().StringVar(&resetUserID, "user", "", "id of the user to update")
	adminResetPasswordCmd.Flags().StringVar(&resetPassword, "password", "", "new password")
}
