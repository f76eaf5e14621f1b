package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/object"
)

type failureOutput struct {
	Hash  object.Hash `json:"hash" yaml:"hash"`
	Error string      `json:"error" yaml:"error"`
}

func failureOutputs(failures []object.ObjectFailure) []failureOutput {
	out := make([]failureOutput, 0, len(failures))
	for _, f := range failures {
		out = append(out, failureOutput{Hash: f.Hash, Error: f.Err.Error()})
	}
	return out
}

func newValidateCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [hash]",
		Short: "Recompute hashes and check dependencies",
		Long: "validate checks one object, or every object in the store when no\n" +
			"hash is given.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			if len(args) == 1 {
				h, err := resolveHash(cmd.Context(), r, args[0])
				if err != nil {
					return err
				}
				if err := r.Validate(cmd.Context(), h); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s ok\n", h)
				return nil
			}

			summary, err := r.Verify(cmd.Context())
			if err != nil {
				return err
			}
			result := struct {
				Checked  int             `json:"checked" yaml:"checked"`
				Failures []failureOutput `json:"failures,omitempty" yaml:"failures,omitempty"`
			}{summary.Checked, failureOutputs(summary.Failures)}
			if err := g.print(cmd, result, func(w io.Writer) error {
				for _, f := range result.Failures {
					fmt.Fprintf(w, "FAIL %s: %s\n", f.Hash.Short(), f.Error)
				}
				fmt.Fprintf(w, "checked %d objects, %d failed\n", result.Checked, len(result.Failures))
				return nil
			}); err != nil {
				return err
			}
			if len(summary.Failures) > 0 {
				return fmt.Errorf("%d of %d objects failed validation", len(summary.Failures), summary.Checked)
			}
			return nil
		},
	}
}
