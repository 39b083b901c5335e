package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"gas/internal/accounts"
	"gas/internal/messages"
)

func newAccountsCommand(ctx *commandContext) *cobra.Command {
	accountsCmd := &cobra.Command{
		Use:   "accounts",
		Short: "Manage user profiles and subscription tiers",
	}
	accountsCmd.AddCommand(newAccountsAddCommand(ctx))
	accountsCmd.AddCommand(newAccountsShowCommand(ctx))
	accountsCmd.AddCommand(newAccountsTierCommand(ctx, "upgrade", accounts.TierPremium))
	accountsCmd.AddCommand(newAccountsTierCommand(ctx, "downgrade", accounts.TierFree))
	return accountsCmd
}

func newAccountsAddCommand(ctx *commandContext) *cobra.Command {
	var profile accounts.Profile
	var tier string

	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Create or replace a user profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, ok := accounts.ParseTier(tier)
			if !ok {
				return fmt.Errorf("unknown tier %q (want free or premium)", tier)
			}
			profile.UserID = args[0]
			profile.Tier = parsed

			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			if err := rt.accounts.Upsert(runCtx, profile); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%s)\n", profile.UserID, profile.Tier)
			return nil
		},
	}
	cmd.Flags().StringVar(&profile.Name, "name", "", "Display name")
	cmd.Flags().StringVar(&profile.Email, "email", "", "Notification email")
	cmd.Flags().StringVar(&profile.Institution, "institution", "", "Institution")
	cmd.Flags().StringVar(&tier, "tier", string(accounts.TierFree), "Subscription tier (free or premium)")
	return cmd
}

func newAccountsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <user-id>",
		Short: "Show a user profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			profile, err := rt.accounts.Profile(runCtx, args[0])
			if err != nil {
				return err
			}
			if ctx.JSONMode() {
				return writeJSON(cmd, profile)
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderKeyValues([][2]string{
				{"User", profile.UserID},
				{"Name", profile.Name},
				{"Email", profile.Email},
				{"Institution", profile.Institution},
				{"Tier", titleCase(string(profile.Tier))},
			}))
			return nil
		},
	}
}

// newAccountsTierCommand changes a user's tier. Upgrading also announces the
// change on the restore queue so archived results come back.
func newAccountsTierCommand(ctx *commandContext, use string, tier accounts.Tier) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <user-id>",
		Short: fmt.Sprintf("Move a user to the %s tier", tier),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID := strings.TrimSpace(args[0])
			runCtx := context.Background()
			rt, err := ctx.openRuntime(runCtx)
			if err != nil {
				return err
			}
			defer rt.close() //nolint:errcheck

			changed, err := rt.accounts.SetTier(runCtx, userID, tier)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !changed {
				fmt.Fprintf(out, "%s is already %s\n", userID, tier)
			} else {
				fmt.Fprintf(out, "%s is now %s\n", userID, tier)
			}
			if tier != accounts.TierPremium {
				return nil
			}
			body, err := messages.Encode(messages.TierUpgrade{UserID: userID, ThawStatus: messages.ThawStatusPending})
			if err != nil {
				return err
			}
			if _, err := rt.broker.Publish(runCtx, rt.cfg.Queues.Restore, body); err != nil {
				return fmt.Errorf("announce upgrade: %w", err)
			}
			fmt.Fprintln(out, "Restore of archived results requested")
			return nil
		},
	}
}
