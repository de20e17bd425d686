package cmd

import (
	"github.com/bnema/gateway-pool/internal/version"
	"github.com/spf13/cobra"
)

func Execute() error {
	return newRootCmd().Execute()
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gwp",
		Short:         "Gateway pool (gwp): broker interactions across pooled gateway sessions",
		Long:          "gwp keeps a pool of authenticated gateway sessions, one per configured account, and runs interactions on them from the terminal or over HTTP.",
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	app, err := wireApp()
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}
	rootCmd.PersistentPostRunE = func(_ *cobra.Command, _ []string) error {
		return app.Close()
	}

	rootCmd.AddCommand(
		newVersionCmd(),
		newAccountCmd(app),
		newPoolCmd(app),
		newInteractCmd(app),
		newServeCmd(app),
	)

	return rootCmd
}
