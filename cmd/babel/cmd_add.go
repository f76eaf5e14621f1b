package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/frontend/treesitter"
	"github.com/odvcencio/babel/pkg/object"
	"github.com/odvcencio/babel/pkg/repo"
)

type addOptions struct {
	language string
	tags     []string
	aliases  map[string]object.Hash
}

func newAddCmd(g *globals) *cobra.Command {
	var language string
	var tags, aliases []string

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Store the function defined in a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			opts, err := newAddOptions(cmd.Context(), r, language, tags, aliases)
			if err != nil {
				return err
			}
			res, err := addFile(cmd.Context(), r, args[0], opts)
			if err != nil {
				return err
			}
			return g.print(cmd, res, func(w io.Writer) error {
				printAdd(w, res, opts.language)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&language, "lang", "", "mapping language (default: first preferred language)")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "tag recorded on the object (repeatable)")
	cmd.Flags().StringArrayVar(&aliases, "alias", nil, "name=hash binding an identifier to a stored function (repeatable)")
	return cmd
}

func newAddOptions(ctx context.Context, r *repo.Repo, language string, tags, aliases []string) (addOptions, error) {
	aliasMap, err := resolveAliases(ctx, r, aliases)
	if err != nil {
		return addOptions{}, err
	}
	if language == "" {
		language = r.Config.User.Languages[0]
	}
	return addOptions{language: language, tags: tags, aliases: aliasMap}, nil
}

// addFile parses the function in path and stores it.
func addFile(ctx context.Context, r *repo.Repo, path string, opts addOptions) (*repo.AddResult, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	parsed, err := treesitter.New().Parse(path, src)
	if err != nil {
		return nil, err
	}
	return r.Add(ctx, repo.AddRequest{
		Tree:      parsed.Tree,
		Language:  opts.language,
		Aliases:   opts.aliases,
		Docstring: parsed.Docstring,
		Comment:   parsed.Comment,
		Layout:    parsed.Layout,
		Tags:      opts.tags,
	})
}

func printAdd(w io.Writer, res *repo.AddResult, language string) {
	state := "stored"
	if !res.Created {
		state = "already stored"
	}
	fmt.Fprintf(w, "%s %s\n", state, res.Hash)
	if res.MappingCreated {
		fmt.Fprintf(w, "mapping %s (%s)\n", res.MappingHash, language)
	}
	for _, dep := range res.Dependencies {
		fmt.Fprintf(w, "depends on %s\n", dep)
	}
}

func resolveAliases(ctx context.Context, r *repo.Repo, specs []string) (map[string]object.Hash, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	out := make(map[string]object.Hash, len(specs))
	for _, spec := range specs {
		name, hash, ok := strings.Cut(spec, "=")
		if !ok || name == "" || hash == "" {
			return nil, fmt.Errorf("invalid --alias %q: want name=hash", spec)
		}
		h, err := resolveHash(ctx, r, hash)
		if err != nil {
			return nil, fmt.Errorf("alias %s: %w", name, err)
		}
		out[name] = h
	}
	return out, nil
}
