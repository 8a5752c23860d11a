package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/store"
	"github.com/sentinelhq/sentinel/internal/windsor"
)

var syncUser string

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Import clients and campaigns for a user from Windsor.ai",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&syncUser, "user", "", "User email or id")
	_ = syncCmd.MarkFlagRequired("user")
}

func runSync(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	ctx := cmd.Context()
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	u, err := st.UserByEmail(ctx, syncUser)
	if errors.Is(err, store.ErrNotFound) {
		u, err = st.GetUser(ctx, syncUser)
	}
	if err != nil {
		return fmt.Errorf("user %s: %w", syncUser, err)
	}
	if u.WindsorAPIKey == "" {
		return fmt.Errorf("user %s has no Windsor.ai API key; set one with `sentinel seed --email %s --windsor-key ...`", u.Email, u.Email)
	}

	gw, release, err := newGateway(ctx, cfg)
	if err != nil {
		return err
	}
	defer release()
	res, err := (&windsor.Syncer{Source: gw, Store: st}).Sync(ctx, u.ID, u.WindsorAPIKey)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Clients:   %d created, %d updated\nCampaigns: %d created, %d updated\n",
		res.ClientsCreated, res.ClientsUpdated, res.CampaignsCreated, res.CampaignsUpdated)
	return nil
}
