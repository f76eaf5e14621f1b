package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/graph"
)

func newRefactorCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "refactor <hash> <old> <new>",
		Short: "Store a copy of a function calling new where it called old",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := cmd.Context()
			h, err := resolveHash(ctx, r, args[0])
			if err != nil {
				return err
			}
			oldDep, err := resolveHash(ctx, r, args[1])
			if err != nil {
				return err
			}
			newDep, err := resolveHash(ctx, r, args[2])
			if err != nil {
				return err
			}
			res, err := graph.New(r.Store, r).Refactor(ctx, h, oldDep, newDep)
			if err != nil {
				return err
			}
			return g.print(cmd, res, func(w io.Writer) error {
				fmt.Fprintf(w, "%s\n", res.Hash)
				fmt.Fprintf(w, "rewrote %d references of %s, carried %d mappings\n", res.Rewritten, res.Original.Short(), res.Mappings)
				return nil
			})
		},
	}
}
