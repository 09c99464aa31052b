package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

// InvoiceOptions holds flags for the invoice command.
type InvoiceOptions struct {
	*RootOptions
	Output string
}

// NewInvoiceCommand creates the invoice command
func NewInvoiceCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvoiceOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoice <reading-id>",
		Short: "Render the printable HTML invoice of a reading",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return withBackend(cmd, opts.RootOptions, func(ctx context.Context, b *Backend) error {
				reading, err := b.Billing.GetReading(ctx, id)
				if err != nil {
					return err
				}
				house, err := b.Billing.GetHouse(ctx, reading.HouseID)
				if err != nil {
					return err
				}

				if opts.Output == "" || opts.Output == "-" {
					return b.Invoices.Render(cmd.OutOrStdout(), *house, *reading)
				}
				f, err := os.Create(opts.Output)
				if err != nil {
					return err
				}
				if err := b.Invoices.Render(f, *house, *reading); err != nil {
					f.Close()
					return err
				}
				return f.Close()
			})
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write the invoice to this file instead of stdout")

	return cmd
}
