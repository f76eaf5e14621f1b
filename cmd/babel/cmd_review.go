package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/graph"
	"github.com/odvcencio/babel/pkg/object"
)

func newReviewCmd(g *globals) *cobra.Command {
	var languages []string

	cmd := &cobra.Command{
		Use:   "review <hash>",
		Short: "List every function a function depends on",
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
			langs := splitList(languages)
			if len(langs) == 0 {
				langs = r.Config.User.Languages
			}
			deps, err := graph.New(r.Store, r).Review(cmd.Context(), h, langs)
			if err != nil {
				return err
			}
			return g.print(cmd, deps, func(w io.Writer) error {
				if len(deps) == 0 {
					fmt.Fprintf(w, "%s has no dependencies\n", h.Short())
					return nil
				}
				for _, d := range deps {
					fmt.Fprintf(w, "%s%s  %s\n", strings.Repeat("  ", d.Depth-1), d.Hash.Short(), describe(d.Mapping))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringSliceVar(&languages, "lang", nil, "languages to name dependencies in, most preferred first")
	return cmd
}

// describe names a function by the spelling of its first placeholder and
// the first line of its docstring.
func describe(rec *object.MappingRecord) string {
	if rec == nil {
		return "(no mapping)"
	}
	name := rec.Mapping.Names[canon.Placeholder(0)]
	if name == "" {
		name = "?"
	}
	label := fmt.Sprintf("%s [%s]", name, rec.Language)
	if doc := firstLine(rec.Mapping.Docstring); doc != "" {
		label += "  " + doc
	}
	return label
}
