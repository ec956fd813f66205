package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/resspec/resspec/orchestrator"
	"github.com/resspec/resspec/store"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		userID string
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past analyses for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if userID == "" {
				return errors.New("--user is required")
			}
			if limit <= 0 {
				limit = a.conf.History.Limit
			}
			return a.withStore(cmd.Context(), func(rs *store.RecordStore) error {
				recs, err := rs.ListByUser(cmd.Context(), userID, limit)
				if err != nil {
					return err
				}
				return renderHistory(cmd.OutOrStdout(), recs)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the analyses")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum rows (default history.limit)")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show <id>",
			Short: "Re-open a stored analysis",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(rs *store.RecordStore) error {
					rec, err := rs.Get(cmd.Context(), args[0])
					if err != nil {
						return err
					}
					rep, err := orchestrator.FromRecord(rec)
					if err != nil {
						return err
					}
					return renderReport(cmd.OutOrStdout(), rep)
				})
			},
		},
		&cobra.Command{
			Use:   "delete <id>",
			Short: "Remove a stored analysis",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return a.withStore(cmd.Context(), func(rs *store.RecordStore) error {
					if err := rs.Delete(cmd.Context(), args[0]); err != nil {
						return err
					}
					_, err := fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
					return err
				})
			},
		},
	)
	return cmd
}

func (a *app) withStore(ctx context.Context, fn func(*store.RecordStore) error) error {
	pool, rs, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if pool == nil {
		return errNoDatabase
	}
	defer pool.Close()
	return fn(rs)
}
