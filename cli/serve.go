package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/resspec/resspec/config"
	"github.com/resspec/resspec/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, plus the inbox watcher when paths.inbox is set",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr == "" {
				addr = a.conf.Server.Addr
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, rs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			} else {
				a.log.Warn("no database configured, history is disabled")
			}

			hub := server.NewHub(a.log)
			p := a.pipeline(rs, hub)

			var history server.History
			if rs != nil {
				history = rs
			}
			srv := server.New(p, history, hub, a.log, a.conf.History.Limit,
				server.WithAudioExtensions(a.conf.Audio.Extensions))

			config.OnChange(a.v, func(c *config.Root, err error) {
				if err != nil {
					a.log.WithError(err).Warn("ignoring invalid configuration change")
					return
				}
				if err := configureLogger(a.log, c.Pipeline); err != nil {
					a.log.WithError(err).Warn("ignoring invalid logging configuration")
					return
				}
				a.log.WithField("log_level", c.Pipeline.LogLvl).Info("configuration reloaded")
			})

			g, gctx := errgroup.WithContext(ctx)
			g.Go(func() error {
				return srv.ListenAndServe(gctx, addr)
			})
			if a.conf.Paths.Inbox != "" {
				w := a.watcher(a.conf.Paths.Inbox, "", p)
				g.Go(func() error {
					return w.Run(gctx)
				})
			}
			return g.Wait()
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default server.addr)")
	return cmd
}
