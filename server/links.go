package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/devilmonastery/oauthlink/internal/domain/entities"
	"github.com/devilmonastery/oauthlink/internal/domain/repositories"
	"github.com/devilmonastery/oauthlink/internal/domain/services"
)

func newLinksCommand(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "links",
		Short: "Identity link management commands",
		Long:  "Commands for inspecting, seeding and revoking identity links",
	}

	cmd.AddCommand(newListLinksCommand(configPath))
	cmd.AddCommand(newAddLinkCommand(configPath))
	cmd.AddCommand(newRevokeLinkCommand(configPath))
	return cmd
}

// audienceAccount fetches an account the link commands operate on
func audienceAccount(ctx context.Context, repos *repositories.Repositories, audience string, accountID int64) (entities.Audience, *entities.Account, error) {
	a, err := entities.ParseAudience(audience)
	if err != nil {
		return "", nil, err
	}
	account, err := repos.Accounts(a).GetByID(ctx, accountID)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get account: %w", err)
	}
	if account == nil {
		return "", nil, fmt.Errorf("%s account %d: %w", a, accountID, repositories.ErrAccountNotFound)
	}
	return a, account, nil
}

func newListLinksCommand(configPath *string) *cobra.Command {
	var (
		audience  string
		accountID int64
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the active links of an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepositories(cmd.Context(), *configPath, func(ctx context.Context, repos *repositories.Repositories) error {
				a, account, err := audienceAccount(ctx, repos, audience, accountID)
				if err != nil {
					return err
				}
				links, err := services.NewLinkService(repos).List(ctx, a, account.ID, account.StorageScope)
				if err != nil {
					return fmt.Errorf("failed to list links: %w", err)
				}

				if len(links) == 0 {
					fmt.Println("No links found")
					return nil
				}

				fmt.Printf("\nFound %d link(s) for %s (%d):\n\n", len(links), account.Username, account.ID)
				for _, link := range links {
					fmt.Printf("Link ID:       %d\n", link.ID)
					fmt.Printf("Provider:      %s\n", link.Provider)
					fmt.Printf("Remote ID:     %s\n", *link.RemoteID)
					fmt.Printf("Created:       %s\n", link.CreatedAt.Format(time.RFC3339))
					fmt.Println()
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&audience, "audience", string(entities.AudienceAdmin), "Account audience (admin, visitor)")
	cmd.Flags().Int64Var(&accountID, "account", 0, "Account ID (required)")
	cmd.MarkFlagRequired("account")
	return cmd
}

func newAddLinkCommand(configPath *string) *cobra.Command {
	var (
		audience  string
		accountID int64
		provider  string
		remoteID  string
	)

	cmd := &cobra.Command{
		Use:     "add",
		Short:   "Link a remote identity to an account",
		Long:    "Seed a link so an account can log in before anyone could link through the browser",
		Example: `  oauthlink links add --audience admin --account 7 --provider github --remote-id 42`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepositories(cmd.Context(), *configPath, func(ctx context.Context, repos *repositories.Repositories) error {
				a, account, err := audienceAccount(ctx, repos, audience, accountID)
				if err != nil {
					return err
				}
				identity := &entities.ResolvedIdentity{ProviderID: provider, RemoteID: remoteID}
				link, err := services.NewLinkService(repos).Link(ctx, a, account.ID, identity, account.StorageScope, services.RequestMeta{UserAgent: "oauthlink-cli"})
				if err != nil {
					return fmt.Errorf("failed to link identity: %w", err)
				}
				fmt.Printf("Linked %s to %s account %d (link %d)\n", link.ProviderKey(), a, account.ID, link.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&audience, "audience", string(entities.AudienceAdmin), "Account audience (admin, visitor)")
	cmd.Flags().Int64Var(&accountID, "account", 0, "Account ID (required)")
	cmd.Flags().StringVar(&provider, "provider", "", "Provider identifier (required)")
	cmd.Flags().StringVar(&remoteID, "remote-id", "", "Identifier of the account at the provider (required)")
	cmd.MarkFlagRequired("account")
	cmd.MarkFlagRequired("provider")
	cmd.MarkFlagRequired("remote-id")
	return cmd
}

func newRevokeLinkCommand(configPath *string) *cobra.Command {
	var (
		audience string
		linkID   int64
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "revoke",
		Short: "Tombstone a link",
		Long:  "Clear the remote identifier of a link so it never matches again. The row is kept for audit.",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := entities.ParseAudience(audience)
			if err != nil {
				return err
			}
			return withRepositories(cmd.Context(), *configPath, func(ctx context.Context, repos *repositories.Repositories) error {
				link, err := services.NewLinkService(repos).Tombstone(ctx, a, linkID, reason)
				if errors.Is(err, repositories.ErrLinkNotFound) {
					return fmt.Errorf("%s link %d not found", a, linkID)
				}
				if err != nil {
					return fmt.Errorf("failed to revoke link: %w", err)
				}
				fmt.Printf("Link %d (%s) of account %d revoked\n", link.ID, link.Provider, link.AccountID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&audience, "audience", string(entities.AudienceAdmin), "Link audience (admin, visitor)")
	cmd.Flags().Int64Var(&linkID, "id", 0, "Link ID (required)")
	cmd.Flags().StringVar(&reason, "reason", "revoked by operator", "Reason recorded in the audit log")
	cmd.MarkFlagRequired("id")
	return cmd
}
