package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/bnema/gateway-pool/internal/gateway"
	"github.com/bnema/gateway-pool/internal/pool"
	"github.com/bnema/gateway-pool/internal/stream"
	"github.com/spf13/cobra"
)

var errNoReadySession = errors.New("no ready session: check `gwp pool status`")

func newInteractCmd(app *app) *cobra.Command {
	var (
		action  gateway.Action
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "interact",
		Short: "Run one interaction on a pooled session and stream its progress",
		Example: `  gwp interact --prompt "a lighthouse at dusk"
  gwp interact --channel 123 --message-id 456 --custom-id MJ::JOB::upsample::1::abc`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			action.Kind = gateway.ActionImagine
			if action.CustomID != "" || action.MessageID != "" {
				action.Kind = gateway.ActionComponent
			}
			if err := action.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}

			p := app.newPool()
			defer p.Close()

			if err := runWithSpinner(ctx, cmd.ErrOrStderr(), "Connecting sessions...", p.Populate); err != nil {
				return fmt.Errorf("populate pool: %w", err)
			}
			if !hasReady(p.Snapshot()) {
				return errNoReadySession
			}

			out := stream.New(printEvents(cmd.OutOrStdout()))
			return app.newBroker(p).Execute(ctx, action, out)
		},
	}

	cmd.Flags().StringVar(&action.Prompt, "prompt", "", "Prompt for a new generation")
	cmd.Flags().StringVar(&action.ChannelID, "channel", "", "Channel that owns the target message")
	cmd.Flags().StringVar(&action.MessageID, "message-id", "", "Message whose component to press")
	cmd.Flags().StringVar(&action.CustomID, "custom-id", "", "Custom id of the component to press")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "Give up after this long")
	cmd.MarkFlagsMutuallyExclusive("prompt", "custom-id")
	cmd.MarkFlagsRequiredTogether("message-id", "custom-id")

	return cmd
}

func hasReady(entries []pool.Entry) bool {
	for _, e := range entries {
		if e.State == pool.EntryReady {
			return true
		}
	}
	return false
}

func printEvents(w io.Writer) func(stream.Event) {
	return func(event stream.Event) {
		switch event.Kind {
		case stream.KindMessage:
			_, _ = io.WriteString(w, event.Content)
		case stream.KindError:
			_, _ = fmt.Fprintf(w, "\nerror: %s\n", event.Error)
		case stream.KindDone:
			_, _ = io.WriteString(w, "\n")
		}
	}
}
