package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/migrations"
)

func newAccountsCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accounts",
		Short: "Account management commands",
		Long:  "Commands for managing the admin and visitor accounts identities are linked to",
	}

	cmd.AddCommand(newAccountCreateCommand(configPath))
	return cmd
}

func newAccountCreateCommand(configPath *string) *cobra.Command {
	var (
		audience string
		username string
		scope    int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		Long:  "Create an account that identities can later be linked to. Logins never create accounts.",
		Example: `  # Create an admin account
  oauthlink accounts create --audience admin --username alice

  # Create a visitor account in storage scope 3
  oauthlink accounts create --audience visitor --username bob --scope 3`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := entities.ParseAudience(audience)
			if err != nil {
				return err
			}
			account := &entities.Account{Username: username}
			if a.Scoped() {
				if !cmd.Flags().Changed("scope") {
					return fmt.Errorf("--scope is required for visitor accounts")
				}
				account.StorageScope = &scope
			}
			return withRepositories(cmd.Context(), *configPath, func(ctx context.Context, repos *repositories.Repositories) error {
				return createAccount(ctx, repos, a, account)
			})
		},
	}

	cmd.Flags().StringVar(&audience, "audience", string(entities.AudienceAdmin), "Account audience (admin, visitor)")
	cmd.Flags().StringVar(&username, "username", "", "Username (required)")
	cmd.Flags().Int64Var(&scope, "scope", 0, "Storage scope of a visitor account")
	cmd.MarkFlagRequired("username")

	return cmd
}

func createAccount(ctx context.Context, repos *repositories.Repositories, audience entities.Audience, account *entities.Account) error {
	accounts := repos.Accounts(audience)
	existing, err := accounts.GetByUsername(ctx, account.Username, account.StorageScope)
	if err != nil {
		return fmt.Errorf("failed to look up account: %w", err)
	}
	if existing != nil {
		return fmt.Errorf("%s account %q already exists (id %d)", audience, account.Username, existing.ID)
	}

	if err := accounts.Create(ctx, account); err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}

	fmt.Printf("Account ID:    %d\n", account.ID)
	fmt.Printf("Audience:      %s\n", audience)
	fmt.Printf("Username:      %s\n", account.Username)
	if account.StorageScope != nil {
		fmt.Printf("Storage scope: %d\n", *account.StorageScope)
	}

	slog.Info("account created",
		slog.String("audience", string(audience)),
		slog.Int64("account_id", account.ID),
		slog.String("username", account.Username))
	return nil
}

// withRepositories runs fn against the PostgreSQL repositories
func withRepositories(ctx context.Context, configPath string, fn func(context.Context, *repositories.Repositories) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	conn, err := openDatabase(ctx, cfg, 3)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Run migrations to ensure database is up to date
	if err := conn.RunMigrations(migrations.FS); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return fn(ctx, postgresRepositories(conn))
}
