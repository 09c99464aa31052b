package main

import (
	"context"
	"fmt"
	"os"

	"github.com/septivank/water-billing/internal/app"
	"github.com/septivank/water-billing/internal/cli"
	"github.com/septivank/water-billing/internal/config"
	"go.uber.org/fx"
)

func main() {
	config.LoadDotEnv()

	if err := cli.NewRootCommand(connect).Execute(); err != nil {
		os.Exit(1)
	}
}

// connect starts the core application without the HTTP server or monitor
func connect(ctx context.Context) (*cli.Backend, func(context.Context) error, error) {
	var tools app.Tools
	application := fx.New(
		app.Core,
		fx.NopLogger,
		fx.Invoke(func(t app.Tools) { tools = t }),
	)
	if err := application.Err(); err != nil {
		return nil, nil, err
	}
	if err := application.Start(ctx); err != nil {
		return nil, nil, fmt.Errorf("failed to start application: %w", err)
	}

	backend := &cli.Backend{
		Billing:  tools.Service,
		Queue:    tools.Queue,
		Flusher:  tools.Flusher,
		Invoices: tools.Invoices,
		Samples:  tools.Samples,
	}
	return backend, application.Stop, nil
}
