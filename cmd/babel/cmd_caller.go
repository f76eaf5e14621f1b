package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/graph"
)

func newCallerCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "caller <hash>",
		Short: "List the functions that call a function directly",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			h, err := resolveHash(cmd.Context(), r, args[0])
			if err != nil {
				return err
			}
			callers, err := graph.New(r.Store, r).Callers(cmd.Context(), h)
			if err != nil {
				return err
			}
			return g.print(cmd, callers, func(w io.Writer) error {
				for _, c := range callers {
					fmt.Fprintln(w, c)
				}
				return nil
			})
		},
	}
}
