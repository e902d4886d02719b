package main

import (
	"errors"
	"fmt"

	"chatus/internal/chat"

	"github.com/spf13/cobra"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage accounts",
}

// accountCreateCmd creates an account that can log in with email and password
var accountCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create an account",
	Long: `Create an account that can log in with the given email and password.

Example usage:
  chatusctl account create --email alice@example.com --password 's3cret'`,
	Args: cobra.NoArgs,
	RunE: runAccountCreate,
}

var (
	accountEmail    string
	accountPassword string
)

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountCreateCmd)

	accountCreateCmd.Flags().StringVar(&accountEmail, "email", "", "login email (required)")
	accountCreateCmd.Flags().StringVar(&accountPassword, "password", "", "login password (required)")

	_ = accountCreateCmd.MarkFlagRequired("email")
	_ = accountCreateCmd.MarkFlagRequired("password")
}

func runAccountCreate(cmd *cobra.Command, _ []string) error {
	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := commandContext(cmd)
	defer cancel()

	id, err := store.CreateAccount(ctx, accountEmail, accountPassword)
	if err != nil {
		if errors.Is(err, chat.ErrAccountExists) {
			return fmt.Errorf("account %s already exists", accountEmail)
		}
		return fmt.Errorf("creating account: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created account %s (%s)\n", id.Email, id.ID)
	return nil
}
