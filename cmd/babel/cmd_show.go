package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/frontend/treesitter"
	"github.com/odvcencio/babel/pkg/object"
)

type showOutput struct {
	Hash       object.Hash       `json:"hash" yaml:"hash"`
	Language   string            `json:"language" yaml:"language"`
	Mapping    object.Hash       `json:"mapping,omitempty" yaml:"mapping,omitempty"`
	Docstring  string            `json:"docstring,omitempty" yaml:"docstring,omitempty"`
	Source     string            `json:"source,omitempty" yaml:"source,omitempty"`
	Candidates []mappingOutput   `json:"candidates,omitempty" yaml:"candidates,omitempty"`
	Author     string            `json:"author,omitempty" yaml:"author,omitempty"`
	Tags       []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	Names      map[string]string `json:"names,omitempty" yaml:"names,omitempty"`
}

type mappingOutput struct {
	Hash      object.Hash `json:"hash" yaml:"hash"`
	Docstring string      `json:"docstring,omitempty" yaml:"docstring,omitempty"`
}

func newShowCmd(g *globals) *cobra.Command {
	var language, mapping string

	cmd := &cobra.Command{
		Use:   "show <hash>",
		Short: "Render a stored function in a language",
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
			if language == "" {
				language = r.Config.User.Languages[0]
			}
			res, err := r.Show(cmd.Context(), h, language, mapping)
			if err != nil {
				return err
			}

			out := showOutput{Hash: h, Language: language, Author: res.Object.Metadata.Author, Tags: res.Object.Metadata.Tags}
			if res.SelectionRequired() {
				for _, c := range res.Candidates {
					out.Candidates = append(out.Candidates, mappingOutput{Hash: c.Hash, Docstring: firstLine(c.Mapping.Docstring)})
				}
				return g.print(cmd, out, func(w io.Writer) error {
					fmt.Fprintf(w, "%s has %d %s variants; choose one with --mapping:\n", h.Short(), len(res.Candidates), language)
					for _, c := range out.Candidates {
						fmt.Fprintf(w, "  %s  %s\n", c.Hash.Short(), c.Docstring)
					}
					return nil
				})
			}

			src, err := r.Render(treesitter.New(), res)
			if err != nil {
				return err
			}
			out.Mapping = res.Selected.Hash
			out.Docstring = res.Selected.Mapping.Docstring
			out.Names = res.Selected.Mapping.Names
			out.Source = string(src)
			return g.print(cmd, out, func(w io.Writer) error {
				_, err := w.Write(src)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&language, "lang", "", "mapping language (default: first preferred language)")
	cmd.Flags().StringVar(&mapping, "mapping", "", "mapping hash or prefix when a language has several variants")
	return cmd
}
