package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/repo"
)

func newInitCmd(g *globals) *cobra.Command {
	var backendName, digest, name, email string
	var languages []string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create an empty store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := g.resolveRoot()
			if err != nil {
				return err
			}
			cfg := config.Default()
			cfg.Store.Backend = backendName
			cfg.Store.Digest = digest
			if name != "" {
				cfg.User.Name = name
			}
			cfg.User.Email = email
			if langs := splitList(languages); len(langs) > 0 {
				cfg.User.Languages = langs
			}

			r, err := repo.Init(root, cfg, repo.WithLogger(g.logger))
			if err != nil {
				return err
			}
			defer r.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "initialized %s store (%s) in %s\n", r.Store.Kind(), r.Store.Algorithm(), root)
			return nil
		},
	}
	cmd.Flags().StringVar(&backendName, "backend", config.BackendEmbedded, "storage backend: embedded or file")
	cmd.Flags().StringVar(&digest, "digest", "sha256", "hash algorithm: sha256 or blake2b")
	cmd.Flags().StringVar(&name, "name", "", "author name recorded on new objects")
	cmd.Flags().StringVar(&email, "email", "", "author email recorded on new objects")
	cmd.Flags().StringSliceVar(&languages, "lang", nil, "preferred mapping languages, most preferred first")
	return cmd
}
