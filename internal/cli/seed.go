package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelhq/sentinel/internal/config"
	"github.com/sentinelhq/sentinel/internal/skills"
	"github.com/sentinelhq/sentinel/internal/store"
)

type seedOptions struct {
	email, name, windsorKey, timezone string
	teamID, teamName, token, botUser  string
	owner                             string
}

var seedOpts seedOptions

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Install the system skills and optionally a user and workspace",
	RunE:  runSeed,
}

func init() {
	f := seedCmd.Flags()
	f.StringVar(&seedOpts.email, "email", "", "User email (creates or updates the user)")
	f.StringVar(&seedOpts.name, "name", "", "User display name")
	f.StringVar(&seedOpts.windsorKey, "windsor-key", "", "Windsor.ai API key for the user")
	f.StringVar(&seedOpts.timezone, "timezone", "", "User timezone (IANA name)")
	f.StringVar(&seedOpts.teamID, "team-id", "", "Slack team id to install for the user")
	f.StringVar(&seedOpts.teamName, "team-name", "", "Slack team name")
	f.StringVar(&seedOpts.token, "token", "", "Slack bot token for the team")
	f.StringVar(&seedOpts.botUser, "bot-user", "", "Slack bot user id")
	f.StringVar(&seedOpts.owner, "owner", "", "Slack user id allowed to run admin tools")
}

func runSeed(cmd *cobra.Command, args []string) error {
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

	created, updated, err := skills.Seed(ctx, st)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Skills: %d created, %d updated\n", created, updated)

	if seedOpts.email == "" {
		if seedOpts.teamID != "" {
			return errors.New("--team-id requires --email")
		}
		return nil
	}
	u, err := st.UserByEmail(ctx, seedOpts.email)
	switch {
	case errors.Is(err, store.ErrNotFound):
		u = &store.User{Email: seedOpts.email, Name: seedOpts.name, WindsorAPIKey: seedOpts.windsorKey, Timezone: seedOpts.timezone}
		if err := st.CreateUser(ctx, u); err != nil {
			return err
		}
		fmt.Fprintf(out, "User:   created %s (%s)\n", u.Email, u.ID)
	case err != nil:
		return err
	default:
		if seedOpts.windsorKey != "" {
			if err := st.SetWindsorKey(ctx, u.ID, seedOpts.windsorKey); err != nil {
				return err
			}
		}
		fmt.Fprintf(out, "User:   found %s (%s)\n", u.Email, u.ID)
	}

	if seedOpts.teamID == "" {
		return nil
	}
	ws := &store.Workspace{
		TeamID:           seedOpts.teamID,
		UserID:           u.ID,
		TeamName:         seedOpts.teamName,
		AccessToken:      seedOpts.token,
		BotUserID:        seedOpts.botUser,
		OwnerSlackUserID: seedOpts.owner,
	}
	if err := st.UpsertWorkspace(ctx, ws); err != nil {
		return err
	}
	fmt.Fprintf(out, "Slack:  workspace %s linked to %s\n", ws.TeamID, u.Email)
	return nil
}
