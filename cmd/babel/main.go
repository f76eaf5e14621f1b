package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "babel",
		Short:         "Content-addressed function store",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.setup(cmd)
		},
	}
	root.PersistentFlags().StringVar(&g.root, "root", "", "store root (default $BABEL_DIRECTORY or ~/.babel)")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "warn", "log level: debug, info, warn or error")
	root.PersistentFlags().StringVar(&g.format, "format", "text", "output format: text, json or yaml")

	root.AddCommand(newVersionCmd())
	root.AddCommand(newInitCmd(g))
	root.AddCommand(newAddCmd(g))
	root.AddCommand(newWatchCmd(g))
	root.AddCommand(newTranslateCmd(g))
	root.AddCommand(newShowCmd(g))
	root.AddCommand(newValidateCmd(g))
	root.AddCommand(newReviewCmd(g))
	root.AddCommand(newCallerCmd(g))
	root.AddCommand(newRefactorCmd(g))
	root.AddCommand(newDetectCmd(g))
	root.AddCommand(newMigrateCmd(g))
	root.AddCommand(newReindexCmd(g))
	root.AddCommand(newLogCmd(g))
	root.AddCommand(newDiffCmd(g))
	root.AddCommand(newRemoteCmd(g))
	root.AddCommand(newPushCmd(g))
	root.AddCommand(newPullCmd(g))
	root.AddCommand(newServeCmd(g))
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "babel 0.1.0-dev")
		},
	}
}
