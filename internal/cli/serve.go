package cli

import (
	"github.com/spf13/cobra"

	"github.com/matzehuels/symgraph/pkg/server"
)

// serveCommand creates the serve command running the HTTP server and the
// pipeline workers in one process.
func (c *CLI) serveCommand() *cobra.Command {
	var (
		addr    string
		noCache bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and pipeline workers",
		Long: `Run the symgraph server.

The server accepts trigger requests, runs pipelines on a bounded worker pool,
and serves status, status streams, cross-edge updates and stored graphs.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Addr = addr
			}

			a, err := c.newApp(ctx, cfg, noCache)
			if err != nil {
				return err
			}
			defer a.Close()
			a.logStartup(c.Logger)

			a.pipeline.Start(ctx)
			srv := server.New(server.Config{
				Registry: a.registry,
				Pipeline: a.pipeline,
				Store:    a.store,
				Metrics:  a.metrics.Handler(),
				Logger:   c.Logger,
			})
			return srv.ListenAndServe(ctx, cfg.Addr)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, :8080)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "disable the HTTP response cache")

	return cmd
}
