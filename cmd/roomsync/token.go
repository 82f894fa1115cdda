package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/roomsync/internal/config"
	"github.com/vovakirdan/roomsync/internal/core"
	"github.com/vovakirdan/roomsync/internal/identity"
)

func newTokenCmd(root *rootOptions) *cobra.Command {
	var (
		id  core.Identity
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a session token for an identity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := root.load(true)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(config.Config{TokenTTL: ttl})
			tc := cfg.Token()
			if tc == nil {
				return errors.New("jwt_secret is not configured")
			}
			token, err := identity.Issue(tc, id)
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&id.ID, "id", "", "participant id")
	cmd.Flags().StringVar(&id.DisplayName, "name", "", "display name")
	cmd.Flags().StringVar(&id.AvatarRef, "avatar", "", "avatar reference")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
