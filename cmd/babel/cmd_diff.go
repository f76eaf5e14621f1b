package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/diff"
	"github.com/odvcencio/babel/pkg/frontend/treesitter"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/repo"
)

func newDiffCmd(g *globals) *cobra.Command {
	var language string
	var structure bool
	var context int

	cmd := &cobra.Command{
		Use:   "diff <hash> <hash>",
		Short: "Compare two stored functions",
		Long: "diff renders both functions in one language and compares the\n" +
			"source. With --structure it compares the canonical tuples instead,\n" +
			"which ignores names, comments and layout.",
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx := cmd.Context()
			a, err := resolveHash(ctx, r, args[0])
			if err != nil {
				return err
			}
			b, err := resolveHash(ctx, r, args[1])
			if err != nil {
				return err
			}

			var lines []diff.Line
			if structure {
				objA, err := r.Store.Load(ctx, a)
				if err != nil {
					return err
				}
				objB, err := r.Store.Load(ctx, b)
				if err != nil {
					return err
				}
				lines = diff.Tuples(objA, objB)
			} else {
				if language == "" {
					language = r.Config.User.Languages[0]
				}
				srcA, err := renderFirst(cmd, r, a, language)
				if err != nil {
					return err
				}
				srcB, err := renderFirst(cmd, r, b, language)
				if err != nil {
					return err
				}
				lines = diff.Lines(srcA, srcB)
			}
			if !diff.Changed(lines) {
				return nil
			}
			return diff.Format(cmd.OutOrStdout(), "a/"+a.Short(), "b/"+b.Short(), lines, context)
		},
	}
	cmd.Flags().StringVar(&language, "lang", "", "language to render both functions in")
	cmd.Flags().BoolVar(&structure, "structure", false, "compare canonical tuples instead of source")
	cmd.Flags().IntVarP(&context, "context", "U", 3, "unchanged lines shown around each change; -1 shows all")
	return cmd
}

// renderFirst renders h through the first variant stored for language.
func renderFirst(cmd *cobra.Command, r *repo.Repo, h object.Hash, language string) ([]byte, error) {
	res, err := r.Show(cmd.Context(), h, language, "")
	if err != nil {
		return nil, err
	}
	if res.SelectionRequired() {
		res.Selected = &res.Candidates[0]
	}
	src, err := r.Render(treesitter.New(), res)
	if err != nil {
		return nil, fmt.Errorf("render %s: %w", h.Short(), err)
	}
	return src, nil
}
