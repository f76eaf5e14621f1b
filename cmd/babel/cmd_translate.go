package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/canon"
	"github.com/odvcencio/babel/pkg/frontend/treesitter"
	"github.com/odvcencio/babel/pkg/object"
)

func newTranslateCmd(g *globals) *cobra.Command {
	var language string
	var aliases []string

	cmd := &cobra.Command{
		Use:   "translate <hash> <file>",
		Short: "Add a mapping variant to a stored function",
		Long: "translate reads a source file with the same structure as a stored\n" +
			"function and records its names, comments and layout as another\n" +
			"variant of that function.",
		Args: cobra.ExactArgs(2),
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
			src, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			parsed, err := treesitter.New().Parse(args[1], src)
			if err != nil {
				return err
			}
			aliasMap, err := resolveAliases(cmd.Context(), r, aliases)
			if err != nil {
				return err
			}
			c, err := canon.Encode(parsed.Tree, canon.Options{Algorithm: r.Store.Algorithm(), Aliases: aliasMap})
			if err != nil {
				return err
			}
			if c.Hash != h {
				return fmt.Errorf("%s does not have the structure of %s: %w", args[1], h.Short(),
					&object.HashMismatchError{Expected: h, Actual: c.Hash})
			}

			mh, created, err := r.Translate(cmd.Context(), h, language, &object.Mapping{
				Names:     c.Names,
				Aliases:   c.Aliases,
				Docstring: parsed.Docstring,
				Comment:   parsed.Comment,
				Layout:    parsed.Layout,
			})
			if err != nil {
				return err
			}
			result := struct {
				Hash     object.Hash `json:"hash" yaml:"hash"`
				Language string      `json:"language" yaml:"language"`
				Mapping  object.Hash `json:"mapping" yaml:"mapping"`
				Created  bool        `json:"created" yaml:"created"`
			}{h, language, mh, created}
			return g.print(cmd, result, func(w io.Writer) error {
				if !created {
					fmt.Fprintf(w, "mapping %s already stored\n", mh)
					return nil
				}
				fmt.Fprintf(w, "mapping %s (%s) for %s\n", mh, language, h)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&language, "lang", "", "language of the new variant")
	cmd.Flags().StringArrayVar(&aliases, "alias", nil, "name=hash binding an identifier to a stored function (repeatable)")
	_ = cmd.MarkFlagRequired("lang")
	return cmd
}
