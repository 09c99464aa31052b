package cli

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/invoice"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/service"
	"github.com/spf13/cobra"
)

// Billing is the part of the billing service the CLI drives
type Billing interface {
	GetHouse(ctx context.Context, id uuid.UUID) (*db.House, error)
	GetReading(ctx context.Context, id uuid.UUID) (*db.MeterReading, error)
	ActiveRate(ctx context.Context) (db.WaterUnitRate, error)
	RateHistory(ctx context.Context) ([]db.WaterUnitRate, error)
	SetRate(ctx context.Context, ratePerUnit float64) (*db.WaterUnitRate, service.Outcome, error)
	ImportSamples(ctx context.Context, houses []sample.House, source sample.Source) (service.ImportReport, error)
}

// Queue is the offline queue surface the CLI inspects
type Queue interface {
	ListUnsynced(ctx context.Context) ([]offline.Entry, error)
	ListDead(ctx context.Context) ([]offline.Entry, error)
	Requeue(ctx context.Context, id uuid.UUID) error
	Stats(ctx context.Context) (offline.Stats, error)
}

// Flusher replays the offline queue
type Flusher interface {
	Flush(ctx context.Context) (offline.FlushReport, error)
}

// SampleSource produces sample houses
type SampleSource interface {
	Generate(ctx context.Context) ([]sample.House, sample.Source)
}

// Backend is everything a command may need
type Backend struct {
	Billing  Billing
	Queue    Queue
	Flusher  Flusher
	Invoices *invoice.Renderer
	Samples  SampleSource
}

// Connector builds the backend. The returned stop function releases it.
type Connector func(ctx context.Context) (*Backend, func(context.Context) error, error)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Format  string
	connect Connector
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command of waterctl
func NewRootCommand(connect Connector) *cobra.Command {
	opts := &RootOptions{connect: connect}

	cmd := &cobra.Command{
		Use:   "waterctl",
		Short: "Operate the village water billing service",
		Long:  "Inspect and change water rates, repair the offline queue, print invoices and seed sample data.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			for _, f := range ValidFormats {
				if f == opts.Format {
					return nil
				}
			}
			return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewRateCommand(opts))
	cmd.AddCommand(NewQueueCommand(opts))
	cmd.AddCommand(NewInvoiceCommand(opts))
	cmd.AddCommand(NewSeedCommand(opts))

	return cmd
}

// withBackend connects, runs fn and always releases the backend
func withBackend(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, b *Backend) error) (err error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	backend, stop, err := opts.connect(ctx)
	if err != nil {
		return fmt.Errorf("failed to start: %w", err)
	}
	defer func() {
		if stopErr := stop(context.WithoutCancel(ctx)); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	return fn(ctx, backend)
}

func parseID(arg string) (uuid.UUID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", arg, err)
	}
	return id, nil
}
