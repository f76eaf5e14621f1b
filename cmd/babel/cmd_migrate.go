package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/backend"
	"github.com/odvcencio/babel/pkg/object"
)

func newMigrateCmd(g *globals) *cobra.Command {
	var to string
	var prune bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Copy the store into another storage layout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := backend.KindForConfig(to)
			if err != nil {
				return err
			}
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			report, err := r.Migrate(cmd.Context(), kind, prune)
			var merr *object.MigrationError
			if err != nil && (report == nil || !errors.As(err, &merr)) {
				return err
			}
			result := struct {
				Source      backend.Kind    `json:"source" yaml:"source"`
				Destination backend.Kind    `json:"destination" yaml:"destination"`
				Migrated    int             `json:"migrated" yaml:"migrated"`
				Skipped     int             `json:"skipped" yaml:"skipped"`
				Mappings    int             `json:"mappings" yaml:"mappings"`
				Edges       int             `json:"edges" yaml:"edges"`
				Pruned      int             `json:"pruned" yaml:"pruned"`
				Failures    []failureOutput `json:"failures,omitempty" yaml:"failures,omitempty"`
			}{report.Source, report.Destination, report.Migrated, report.Skipped,
				report.Mappings, report.Edges, report.Pruned, failureOutputs(report.Failures)}
			if perr := g.print(cmd, result, func(w io.Writer) error {
				for _, f := range result.Failures {
					fmt.Fprintf(w, "FAIL %s: %s\n", f.Hash.Short(), f.Error)
				}
				fmt.Fprintf(w, "migrated %d objects from %s to %s (%d already present, %d mappings, %d edges)\n",
					result.Migrated, result.Source, result.Destination, result.Skipped, result.Mappings, result.Edges)
				if prune {
					fmt.Fprintf(w, "pruned %d source objects\n", result.Pruned)
				}
				return nil
			}); perr != nil {
				return perr
			}
			return err
		},
	}
	cmd.Flags().StringVar(&to, "to", "", "destination layout: embedded or file")
	cmd.Flags().BoolVar(&prune, "prune", false, "remove migrated objects from the source")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}
