package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/septivank/water-billing/internal/offline"
	"github.com/spf13/cobra"
)

// NewQueueCommand creates the offline queue command group
func NewQueueCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and repair the offline write queue",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List pending entries in replay order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEntries(cmd, opts, func(q Queue) func(context.Context) ([]offline.Entry, error) { return q.ListUnsynced })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "dead",
		Short: "List dead-lettered entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return listEntries(cmd, opts, func(q Queue) func(context.Context) ([]offline.Entry, error) { return q.ListDead })
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Count entries per state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(ctx context.Context, b *Backend) error {
				stats, err := b.Queue.Stats(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, stats, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "pending %d, synced %d, dead %d\n", stats.Pending, stats.Synced, stats.Dead)
					return err
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "flush",
		Short: "Replay pending entries against the database now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(ctx context.Context, b *Backend) error {
				report, err := b.Flusher.Flush(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, report, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "synced %d, failed %d, dead-lettered %d, remaining %d\n",
						report.Synced, report.Failed, report.DeadLettered, report.Remaining)
					if err == nil && report.Interrupted {
						_, err = fmt.Fprintln(w, "database became unreachable, flush stopped early")
					}
					return err
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "requeue <entry-id>",
		Short: "Move a dead-lettered entry back to pending",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, opts, func(ctx context.Context, b *Backend) error {
				if err := b.Queue.Requeue(ctx, id); err != nil {
					return err
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "entry %s requeued\n", id)
				return err
			})
		},
	})

	return cmd
}

func listEntries(cmd *cobra.Command, opts *RootOptions, pick func(Queue) func(context.Context) ([]offline.Entry, error)) error {
	return withBackend(cmd, opts, func(ctx context.Context, b *Backend) error {
		entries, err := pick(b.Queue)(ctx)
		if err != nil {
			return err
		}
		if entries == nil {
			entries = []offline.Entry{}
		}
		return render(cmd.OutOrStdout(), opts.Format, entries, func(w io.Writer) error {
			return table(w, "ID\tKIND\tENQUEUED\tATTEMPTS\tLAST ERROR", func(tw io.Writer) {
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n",
						e.ID, e.Kind, e.EnqueuedAt.Format("2006-01-02 15:04:05"), e.Attempts, e.LastError)
				}
			})
		})
	})
}
