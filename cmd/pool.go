package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	statusadapter "github.com/bnema/gateway-pool/internal/adapters/render/status"
	"github.com/bnema/gateway-pool/internal/application"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/spf13/cobra"
)

func newPoolCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pool",
		Short: "Inspect the session pool",
	}

	cmd.AddCommand(newPoolStatusCmd(app))

	return cmd
}

func newPoolStatusCmd(app *app) *cobra.Command {
	var (
		asJSON  bool
		offline bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Connect every valid account and show the pool state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var entries []pool.Entry

			if offline {
				statuses, err := app.accountService.List(cmd.Context())
				if err != nil {
					return err
				}
				entries = offlineEntries(statuses)
			} else {
				p := app.newPool()
				defer p.Close()

				ctx := cmd.Context()
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}
				if err := runWithSpinner(ctx, cmd.ErrOrStderr(), "Connecting sessions...", p.Populate); err != nil {
					return fmt.Errorf("populate pool: %w", err)
				}
				entries = p.Snapshot()
			}

			return writeEntries(cmd, app, entries, asJSON)
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	cmd.Flags().BoolVar(&offline, "offline", false, "Show stored accounts without connecting")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Give up connecting after this long")

	return cmd
}

func offlineEntries(statuses []application.AccountStatus) []pool.Entry {
	entries := make([]pool.Entry, 0, len(statuses))
	for _, s := range statuses {
		entry := pool.Entry{Account: s.Account, State: pool.EntryStandby}
		if !s.Valid() {
			entry.State = pool.EntryInvalid
			entry.Reason = s.Reason()
		}
		entries = append(entries, entry)
	}
	return entries
}

type entryOutput struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ChannelID   string     `json:"channel_id"`
	State       string     `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	UseCount    int64      `json:"use_count"`
	AvailableAt *time.Time `json:"available_at,omitempty"`
}

func writeEntries(cmd *cobra.Command, app *app, entries []pool.Entry, asJSON bool) error {
	if asJSON {
		out := make([]entryOutput, 0, len(entries))
		for _, e := range entries {
			item := entryOutput{
				ID:        string(e.Account.ID),
				Name:      e.Account.DisplayName(),
				ChannelID: e.Account.ChannelID,
				State:     string(e.State),
				Reason:    e.Reason,
				LastError: e.LastError,
				UseCount:  e.Account.Usage.UseCount,
			}
			if !e.AvailableAt.IsZero() {
				at := e.AvailableAt
				item.AvailableAt = &at
			}
			out = append(out, item)
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	rendered, err := app.statusRenderer(entries, statusadapter.RenderOptions{Now: app.now()})
	if err != nil {
		return fmt.Errorf("render status: %w", err)
	}

	_, err = fmt.Fprintln(cmd.OutOrStdout(), rendered)
	return err
}
