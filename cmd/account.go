package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/bnema/gateway-pool/internal/application"
	"github.com/spf13/cobra"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountListCmd(app),
		newAccountSyncCmd(app),
	)

	return cmd
}

type accountOutput struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ChannelID string `json:"channel_id"`
	Mode      string `json:"mode,omitempty"`
	UseCount  int64  `json:"use_count"`
	Valid     bool   `json:"valid"`
	Reason    string `json:"reason,omitempty"`
}

func newAccountListCmd(app *app) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored accounts and whether they can be pooled",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := app.accountService.List(cmd.Context())
			if err != nil {
				return err
			}
			return writeAccounts(cmd, statuses, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")

	return cmd
}

func newAccountSyncCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Reconcile declared accounts from the config into the account store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			statuses, err := app.accountService.Sync(cmd.Context(), app.cfg.Accounts.Declared)
			if err != nil {
				return err
			}

			valid := 0
			for _, s := range statuses {
				if s.Valid() {
					valid++
				}
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Synced %d accounts (%d valid)\n", len(statuses), valid)
			return nil
		},
	}
}

func writeAccounts(cmd *cobra.Command, statuses []application.AccountStatus, asJSON bool) error {
	if asJSON {
		out := make([]accountOutput, 0, len(statuses))
		for _, s := range statuses {
			out = append(out, accountOutput{
				ID:        string(s.Account.ID),
				Name:      s.Account.DisplayName(),
				ChannelID: s.Account.ChannelID,
				Mode:      string(s.Account.Mode),
				UseCount:  s.Account.Usage.UseCount,
				Valid:     s.Valid(),
				Reason:    s.Reason(),
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	for _, s := range statuses {
		state := "valid"
		if !s.Valid() {
			state = "invalid: " + s.Reason()
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", s.Account.ID, s.Account.DisplayName(), state)
	}
	return nil
}
