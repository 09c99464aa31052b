package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/septivank/water-billing/internal/db"
	"github.com/spf13/cobra"
)

// NewRateCommand creates the rate command group
func NewRateCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rate",
		Short: "Show or change the water unit rate",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the active rate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(ctx context.Context, b *Backend) error {
				active, err := b.Billing.ActiveRate(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, active, func(w io.Writer) error {
					_, err := fmt.Fprintf(w, "%s per unit since %s\n",
						strconv.FormatFloat(active.RatePerUnit, 'f', -1, 64),
						active.EffectiveFrom.Format("2006-01-02 15:04"))
					return err
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <rate>",
		Short: "Activate a new rate; existing readings keep theirs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			value, err := strconv.ParseFloat(args[0], 64)
			if err != nil {
				return fmt.Errorf("invalid rate %q: %w", args[0], err)
			}
			return withBackend(cmd, opts, func(ctx context.Context, b *Backend) error {
				active, outcome, err := b.Billing.SetRate(ctx, value)
				if err != nil {
					return err
				}
				result := map[string]any{"rate": active, "outcome": outcome}
				return render(cmd.OutOrStdout(), opts.Format, result, func(w io.Writer) error {
					if outcome.Queued {
						_, err := fmt.Fprintf(w, "database unreachable, rate change queued as %s\n", outcome.EntryID)
						return err
					}
					_, err := fmt.Fprintf(w, "rate set to %s per unit\n", strconv.FormatFloat(active.RatePerUnit, 'f', -1, 64))
					return err
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "history",
		Short: "List every rate, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBackend(cmd, opts, func(ctx context.Context, b *Backend) error {
				history, err := b.Billing.RateHistory(ctx)
				if err != nil {
					return err
				}
				return render(cmd.OutOrStdout(), opts.Format, history, func(w io.Writer) error {
					return rateTable(w, history)
				})
			})
		},
	})

	return cmd
}

func rateTable(w io.Writer, rates []db.WaterUnitRate) error {
	return table(w, "RATE\tEFFECTIVE FROM\tACTIVE", func(tw io.Writer) {
		for _, r := range rates {
			fmt.Fprintf(tw, "%s\t%s\t%t\n",
				strconv.FormatFloat(r.RatePerUnit, 'f', -1, 64),
				r.EffectiveFrom.Format("2006-01-02 15:04"),
				r.IsActive)
		}
	})
}
