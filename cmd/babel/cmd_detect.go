package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/backend"
)

func newDetectCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "detect",
		Short: "Print the storage layout of the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := g.resolveRoot()
			if err != nil {
				return err
			}
			kind, err := backend.Detect(root)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), kind)
			return nil
		},
	}
}
