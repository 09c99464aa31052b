package app

import (
	"github.com/septivank/water-billing/internal/invoice"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Tools is what the command line tool operates on
type Tools struct {
	fx.In

	Service  *service.BillingService
	Queue    *offline.Queue
	Flusher  *offline.Flusher
	Invoices *invoice.Renderer
	Samples  *sample.Generator
	Logger   *zap.Logger
}
