package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/remote"
)

func newRemoteCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Manage named remotes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			names := make([]string, 0, len(r.Config.Remotes))
			for name := range r.Config.Remotes {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", name, r.Config.Remotes[name])
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "add <name> <target>",
		Short: "Name a remote store: a path, an http(s) URL or s3://bucket/prefix",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if err := checkTarget(args[1]); err != nil {
				return fmt.Errorf("invalid remote %q: %w", args[1], err)
			}
			if r.Config.Remotes == nil {
				r.Config.Remotes = make(map[string]string)
			}
			r.Config.Remotes[args[0]] = args[1]
			if err := config.Save(r.Root, r.Config); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added remote %q -> %s\n", args[0], args[1])
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <name>",
		Short: "Forget a named remote",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if _, ok := r.Config.Remotes[args[0]]; !ok {
				return fmt.Errorf("no remote named %q", args[0])
			}
			delete(r.Config.Remotes, args[0])
			if err := config.Save(r.Root, r.Config); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed remote %q\n", args[0])
			return nil
		},
	})

	return cmd
}

func checkTarget(target string) error {
	switch {
	case strings.HasPrefix(target, "s3://"):
		_, _, err := remote.ParseBucketURL(target)
		return err
	case strings.HasPrefix(target, "http://"), strings.HasPrefix(target, "https://"):
		_, err := remote.ParseEndpoint(target)
		return err
	}
	return nil
}
