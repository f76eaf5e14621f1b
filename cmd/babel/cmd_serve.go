package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/odvcencio/babel/pkg/config"
	"github.com/odvcencio/babel/pkg/remote"
)

func newServeCmd(g *globals) *cobra.Command {
	var addr string
	var rateLimit float64

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the store over HTTP for push and pull",
		Long: "serve exposes the store under /babel/v1 and Prometheus metrics at\n" +
			"/metrics. When BABEL_TOKEN is set every protocol request must carry\n" +
			"it as a bearer token.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := g.openRepo()
			if err != nil {
				return err
			}
			defer r.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv := remote.NewServer(remote.Local(r), remote.ServerOptions{
				Token:     config.Token(),
				RateLimit: rateLimit,
				Logger:    g.logger,
			})
			g.logger.Info("serving store", "root", r.Root, "addr", addr, "backend", r.Store.Kind())
			return srv.ListenAndServe(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8420", "listen address")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "protocol requests per second across all clients; 0 is unlimited")
	return cmd
}
