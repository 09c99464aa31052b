package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/invoice"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBilling struct {
	rates    []db.WaterUnitRate
	setErr   error
	queued   bool
	house    db.House
	reading  db.MeterReading
	imported int
}

func (f *fakeBilling) GetHouse(_ context.Context, id uuid.UUID) (*db.House, error) {
	if id != f.house.ID {
		return nil, apperr.NotFound("house", id.String())
	}
	return &f.house, nil
}

func (f *fakeBilling) GetReading(_ context.Context, id uuid.UUID) (*db.MeterReading, error) {
	if id != f.reading.ID {
		return nil, apperr.NotFound("reading", id.String())
	}
	return &f.reading, nil
}

func (f *fakeBilling) ActiveRate(context.Context) (db.WaterUnitRate, error) {
	for _, r := range f.rates {
		if r.IsActive {
			return r, nil
		}
	}
	return db.WaterUnitRate{}, apperr.ErrRateNotConfigured
}

func (f *fakeBilling) RateHistory(context.Context) ([]db.WaterUnitRate, error) {
	return f.rates, nil
}

func (f *fakeBilling) SetRate(_ context.Context, ratePerUnit float64) (*db.WaterUnitRate, service.Outcome, error) {
	if f.setErr != nil {
		return nil, service.Outcome{}, f.setErr
	}
	if f.queued {
		return nil, service.Outcome{Queued: true, EntryID: uuid.New()}, nil
	}
	r := db.WaterUnitRate{ID: uuid.New(), RatePerUnit: ratePerUnit, IsActive: true, EffectiveFrom: time.Now()}
	f.rates = append([]db.WaterUnitRate{r}, f.rates...)
	return &r, service.Outcome{}, nil
}

func (f *fakeBilling) ImportSamples(_ context.Context, houses []sample.House, source sample.Source) (service.ImportReport, error) {
	f.imported = len(houses)
	return service.ImportReport{Source: source, HousesCreated: len(houses)}, nil
}

type staticSamples struct{}

func (staticSamples) Generate(context.Context) ([]sample.House, sample.Source) {
	return sample.Static(), sample.SourceStatic
}

type failingReplayer struct{ err error }

func (r failingReplayer) Replay(context.Context, offline.Entry) error { return r.err }

type harness struct {
	billing *fakeBilling
	queue   *offline.Queue
	replay  error
	stopped int
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	queue, err := offline.Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })
	return &harness{billing: &fakeBilling{}, queue: queue}
}

func (h *harness) connect(t *testing.T) Connector {
	return func(context.Context) (*Backend, func(context.Context) error, error) {
		renderer, err := invoice.NewRenderer(invoice.DefaultProfile())
		require.NoError(t, err)
		return &Backend{
				Billing:  h.billing,
				Queue:    h.queue,
				Flusher:  offline.NewFlusher(h.queue, failingReplayer{err: h.replay}, 2, zap.NewNop(), nil),
				Invoices: renderer,
				Samples:  staticSamples{},
			}, func(context.Context) error {
				h.stopped++
				return nil
			}, nil
	}
}

func (h *harness) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand(h.connect(t))
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(nil)
	for _, path := range [][]string{
		{"rate", "show"}, {"rate", "set"}, {"rate", "history"},
		{"queue", "list"}, {"queue", "dead"}, {"queue", "stats"}, {"queue", "flush"}, {"queue", "requeue"},
		{"invoice"}, {"seed"},
	} {
		sub, _, err := cmd.Find(path)
		require.NoError(t, err, "command %v should exist", path)
		assert.Equal(t, path[len(path)-1], sub.Name())
	}

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)
}

func TestInvalidFormat(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "rate", "show", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Zero(t, h.stopped)
}

func TestRateCommands(t *testing.T) {
	h := newHarness(t)

	_, err := h.run(t, "rate", "show")
	assert.True(t, apperr.IsKind(err, apperr.KindRateNotConfigured))
	assert.Equal(t, 1, h.stopped)

	out, err := h.run(t, "rate", "set", "7.5")
	require.NoError(t, err)
	assert.Contains(t, out, "rate set to 7.5 per unit")

	out, err = h.run(t, "rate", "history", "--format", "json")
	require.NoError(t, err)
	var history []db.WaterUnitRate
	require.NoError(t, json.Unmarshal([]byte(out), &history))
	require.Len(t, history, 1)
	assert.Equal(t, 7.5, history[0].RatePerUnit)
}

func TestRateSetRejectsNonNumber(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "rate", "set", "five")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid rate")
	assert.Zero(t, h.stopped)
}

func TestRateSetQueued(t *testing.T) {
	h := newHarness(t)
	h.billing.queued = true

	out, err := h.run(t, "rate", "set", "6")
	require.NoError(t, err)
	assert.Contains(t, out, "rate change queued")
}

func TestQueueFlushAndDeadLetter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id, err := h.queue.Enqueue(ctx, offline.KindHouseCreate, map[string]string{"house_number": "11/22"})
	require.NoError(t, err)

	out, err := h.run(t, "queue", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id.String())
	assert.Contains(t, out, string(offline.KindHouseCreate))

	h.replay = apperr.Conflict("house number already exists", nil)
	out, err = h.run(t, "queue", "flush")
	require.NoError(t, err)
	assert.Contains(t, out, "dead-lettered 1")

	out, err = h.run(t, "queue", "dead", "--format", "json")
	require.NoError(t, err)
	var dead []offline.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &dead))
	require.Len(t, dead, 1)
	assert.Equal(t, id, dead[0].ID)

	h.replay = nil
	_, err = h.run(t, "queue", "requeue", id.String())
	require.NoError(t, err)

	out, err = h.run(t, "queue", "flush")
	require.NoError(t, err)
	assert.Contains(t, out, "synced 1")

	out, err = h.run(t, "queue", "stats")
	require.NoError(t, err)
	assert.Equal(t, "pending 0, synced 1, dead 0\n", out)
}

func TestQueueRequeueUnknownEntry(t *testing.T) {
	h := newHarness(t)
	_, err := h.run(t, "queue", "requeue", uuid.NewString())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))

	_, err = h.run(t, "queue", "requeue", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid id")
}

func TestInvoiceToFile(t *testing.T) {
	h := newHarness(t)
	h.billing.house = db.House{ID: uuid.New(), HouseNumber: "11/22", OwnerName: "สมชาย ใจดี"}
	h.billing.reading = db.MeterReading{
		ID:              uuid.New(),
		HouseID:         h.billing.house.ID,
		MonthKey:        "2024-06",
		Month:           "มิถุนายน 2567",
		PreviousReading: 100,
		CurrentReading:  130,
		UnitsUsed:       30,
		RatePerUnit:     5,
		TotalAmount:     150,
		DateRecorded:    time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC),
	}
	path := filepath.Join(t.TempDir(), "invoice.html")

	_, err := h.run(t, "invoice", h.billing.reading.ID.String(), "-o", path)
	require.NoError(t, err)

	html, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(html), "11/22")
	assert.Contains(t, string(html), "150.00")

	_, err = h.run(t, "invoice", uuid.NewString())
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestSeed(t *testing.T) {
	h := newHarness(t)
	out, err := h.run(t, "seed")
	require.NoError(t, err)
	assert.Equal(t, len(sample.Static()), h.billing.imported)
	assert.Contains(t, out, "static samples")
}

func TestConnectFailure(t *testing.T) {
	cmd := NewRootCommand(func(context.Context) (*Backend, func(context.Context) error, error) {
		return nil, nil, errors.New("offline queue locked")
	})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"queue", "stats"})
	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to start")
}
