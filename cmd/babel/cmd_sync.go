package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/remote"
)

type syncFunc func(cmd *cobra.Command, local remote.Remote, other remote.Remote, opts remote.SyncOptions) (*remote.SyncReport, error)

func newPushCmd(g *globals) *cobra.Command {
	return newSyncCmd(g, "push <remote>", "Send objects the remote is missing",
		func(cmd *cobra.Command, local, other remote.Remote, opts remote.SyncOptions) (*remote.SyncReport, error) {
			return remote.Push(cmd.Context(), local, other, opts)
		})
}

func newPullCmd(g *globals) *cobra.Command {
	return newSyncCmd(g, "pull <remote>", "Fetch objects this store is missing",
		func(cmd *cobra.Command, local, other remote.Remote, opts remote.SyncOptions) (*remote.SyncReport, error) {
			return remote.Pull(cmd.Context(), local, other, opts)
		})
}

func newSyncCmd(g *globals, use, short string, run syncFunc) *cobra.Command {
	var parallelism int

	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Long: "The remote is a name from the [remotes] config section, a store\n" +
			"root on disk, an http(s) URL served by `babel serve`, or\n" +
			"s3://bucket/prefix. S3 credentials come from BABEL_S3_* or AWS_*.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			target := remote.Resolve(r.Config, args[0])
			conn, err := remote.Open(cmd.Context(), target, remote.OpenOptions{
				Token:     config.Token(),
				Storage:   config.ObjectStorageFromEnv(),
				Algorithm: r.Store.Algorithm(),
				Logger:    g.logger,
			})
			if err != nil {
				return err
			}
			defer conn.Close()

			report, err := run(cmd, remote.Local(r), conn, remote.SyncOptions{Parallelism: parallelism, Logger: g.logger})
			var serr *remote.SyncError
			if err != nil && (report == nil || !errors.As(err, &serr)) {
				return err
			}
			if perr := printSync(g, cmd, target, report); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().IntVarP(&parallelism, "jobs", "j", config.Parallelism(), "concurrent object transfers")
	return cmd
}

func printSync(g *globals, cmd *cobra.Command, target string, report *remote.SyncReport) error {
	result := struct {
		Remote      string          `json:"remote" yaml:"remote"`
		Missing     int             `json:"missing" yaml:"missing"`
		Transferred int             `json:"transferred" yaml:"transferred"`
		Mappings    int             `json:"mappings" yaml:"mappings"`
		Levels      int             `json:"levels" yaml:"levels"`
		Failures    []failureOutput `json:"failures,omitempty" yaml:"failures,omitempty"`
	}{target, report.Missing, report.Transferred, report.Mappings, report.Levels, failureOutputs(report.Failures)}
	return g.print(cmd, result, func(w io.Writer) error {
		if result.Missing == 0 {
			fmt.Fprintf(w, "up to date with %s\n", target)
			return nil
		}
		for _, f := range result.Failures {
			fmt.Fprintf(w, "FAIL %s: %s\n", f.Hash.Short(), f.Error)
		}
		fmt.Fprintf(w, "transferred %d of %d objects (%d mappings) with %s\n",
			result.Transferred, result.Missing, result.Mappings, target)
		return nil
	})
}
