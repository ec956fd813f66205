package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newWatchCmd(a *app) *cobra.Command {
	var dir, userID string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Analyse recordings as they appear in the inbox directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if dir == "" {
				dir = a.conf.Paths.Inbox
			}
			if dir == "" {
				return errors.New("no inbox: set paths.inbox or pass --dir")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pool, rs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}
			return a.watcher(dir, userID, a.pipeline(rs, nil)).Run(ctx)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "inbox directory (default paths.inbox)")
	cmd.Flags().StringVar(&userID, "user", "", "owner for recordings without a sidecar")
	return cmd
}
