package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newLogCmd(g *globals) *cobra.Command {
	var oneline bool
	var limit int

	cmd := &cobra.Command{
		Use:   "log",
		Short: "List stored functions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			entries, err := r.Log(cmd.Context())
			if err != nil {
				return err
			}
			if limit > 0 && len(entries) > limit {
				entries = entries[:limit]
			}
			return g.print(cmd, entries, func(w io.Writer) error {
				for _, e := range entries {
					if oneline {
						fmt.Fprintf(w, "%s %s\n", e.Hash.Short(), strings.Join(e.Languages, ","))
						continue
					}
					fmt.Fprintf(w, "object %s\n", e.Hash)
					fmt.Fprintf(w, "Author:    %s\n", e.Author)
					fmt.Fprintf(w, "Date:      %s\n", e.Time.Format("2006-01-02 15:04:05"))
					fmt.Fprintf(w, "Languages: %s\n", strings.Join(e.Languages, ", "))
					if len(e.Tags) > 0 {
						fmt.Fprintf(w, "Tags:      %s\n", strings.Join(e.Tags, ", "))
					}
					fmt.Fprintln(w)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&oneline, "oneline", false, "one line per object")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "show at most n objects")
	return cmd
}
