package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/septivank/water-billing/internal/db"
	"github.com/septivank/water-billing/internal/invoice"
	"github.com/septivank/water-billing/internal/metrics"
	"github.com/septivank/water-billing/internal/offline"
	"github.com/septivank/water-billing/internal/sample"
	"github.com/septivank/water-billing/internal/service"
	"github.com/septivank/water-billing/internal/validator"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeBilling embeds the interface so tests only stub what they call
type fakeBilling struct {
	Billing

	houses   []db.House
	stale    bool
	house    *db.House
	reading  *db.MeterReading
	outcome  service.Outcome
	err      error
	lastCall string
	query    string
	input    validator.ReadingInput
	rate     float64
	imported []sample.House
}

func (f *fakeBilling) SearchHouses(_ context.Context, query string) ([]db.House, bool, error) {
	f.lastCall, f.query = "SearchHouses", query
	return f.houses, f.stale, f.err
}

func (f *fakeBilling) GetHouse(context.Context, uuid.UUID) (*db.House, error) {
	return f.house, f.err
}

func (f *fakeBilling) CreateHouse(_ context.Context, in validator.HouseInput) (*db.House, service.Outcome, error) {
	f.lastCall = "CreateHouse"
	if f.err != nil {
		return nil, service.Outcome{}, f.err
	}
	if f.outcome.Queued {
		return nil, f.outcome, nil
	}
	return &db.House{ID: uuid.New(), HouseNumber: in.HouseNumber, OwnerName: in.OwnerName}, f.outcome, nil
}

func (f *fakeBilling) DeleteHouse(context.Context, uuid.UUID) (service.Outcome, error) {
	return f.outcome, f.err
}

func (f *fakeBilling) GetReading(context.Context, uuid.UUID) (*db.MeterReading, error) {
	return f.reading, f.err
}

func (f *fakeBilling) RecordReading(_ context.Context, houseID uuid.UUID, in validator.ReadingInput) (*service.RecordResult, error) {
	f.input = in
	if f.err != nil {
		return nil, f.err
	}
	return &service.RecordResult{
		Reading: &db.MeterReading{ID: uuid.New(), HouseID: houseID, MonthKey: in.MonthKey, RatePerUnit: 5},
		Outcome: f.outcome,
	}, nil
}

func (f *fakeBilling) ActiveRate(context.Context) (db.WaterUnitRate, error) {
	if f.err != nil {
		return db.WaterUnitRate{}, f.err
	}
	return db.WaterUnitRate{ID: uuid.New(), RatePerUnit: 5, IsActive: true}, nil
}

func (f *fakeBilling) SetRate(_ context.Context, ratePerUnit float64) (*db.WaterUnitRate, service.Outcome, error) {
	f.rate = ratePerUnit
	if f.err != nil {
		return nil, service.Outcome{}, f.err
	}
	return &db.WaterUnitRate{ID: uuid.New(), RatePerUnit: ratePerUnit, IsActive: true}, f.outcome, nil
}

func (f *fakeBilling) ImportSamples(_ context.Context, houses []sample.House, source sample.Source) (service.ImportReport, error) {
	f.imported = houses
	return service.ImportReport{Source: source, HousesCreated: len(houses)}, f.err
}

type staticSamples struct{}

func (staticSamples) Generate(context.Context) ([]sample.House, sample.Source) {
	return sample.Static(), sample.SourceStatic
}

type okReplayer struct{}

func (okReplayer) Replay(context.Context, offline.Entry) error { return nil }

type testServer struct {
	billing *fakeBilling
	queue   *offline.Queue
	handler http.Handler
	online  bool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

func newTestServerWith(t *testing.T, adjust func(*Dependencies)) *testServer {
	t.Helper()
	queue, err := offline.Open(filepath.Join(t.TempDir(), "offline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = queue.Close() })

	renderer, err := invoice.NewRenderer(invoice.DefaultProfile())
	require.NoError(t, err)

	ts := &testServer{billing: &fakeBilling{}, queue: queue, online: true}
	logger := zap.NewNop()
	m := metrics.New()
	deps := Dependencies{
		Billing:        ts.billing,
		Queue:          queue,
		Flusher:        offline.NewFlusher(queue, okReplayer{}, 3, logger, m),
		Invoices:       renderer,
		Samples:        staticSamples{},
		DatabaseOnline: func() bool { return ts.online },
		Metrics:        m,
		Logger:         logger,
	}
	if adjust != nil {
		adjust(&deps)
	}
	ts.handler = NewServer(deps).Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) APIError {
	t.Helper()
	var apiErr APIError
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &apiErr))
	return apiErr
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   ErrorCode
	}{
		{"validation", apperr.Validation("current reading must not be lower than previous reading"), http.StatusBadRequest, ErrCodeValidation},
		{"conflict", apperr.Conflict("house number already exists", nil), http.StatusConflict, ErrCodeDuplicate},
		{"not found", apperr.NotFound("house", "x"), http.StatusNotFound, ErrCodeNotFound},
		{"connectivity", apperr.Connectivity(errors.New("refused")), http.StatusServiceUnavailable, ErrCodeUnavailable},
		{"rate not configured", apperr.ErrRateNotConfigured, http.StatusServiceUnavailable, ErrCodeRateNotConfigured},
		{"storage", apperr.Storage("disk full", nil), http.StatusInsufficientStorage, ErrCodeStorage},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := toAPIError(tt.err)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.code, apiErr.Code)
		})
	}

	assert.Equal(t, "relation \"houses\" does not exist", toAPIError(errors.New(`relation "houses" does not exist`)).Message)
}

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok","database":"online","broker":"disabled"}`, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(requestIDHeader))

	ts.online = false
	rec = ts.do(t, http.MethodGet, "/health", "")
	assert.JSONEq(t, `{"status":"degraded","database":"offline","broker":"disabled"}`, rec.Body.String())
}

func TestRequestIDIsEchoed(t *testing.T) {
	ts := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(requestIDHeader, "req-42")
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)

	assert.Equal(t, "req-42", rec.Header().Get(requestIDHeader))
}

func TestListHouses(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.houses = []db.House{{ID: uuid.New(), HouseNumber: "11/22", OwnerName: "สมชาย ใจดี"}}

	rec := ts.do(t, http.MethodGet, "/houses?q=สมชาย", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "สมชาย", ts.billing.query)
	assert.Empty(t, rec.Header().Get(staleHeader))

	var houses []db.House
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &houses))
	require.Len(t, houses, 1)
	assert.Equal(t, "11/22", houses[0].HouseNumber)
}

func TestListHousesMarksStaleListing(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.houses = []db.House{}
	ts.billing.stale = true

	rec := ts.do(t, http.MethodGet, "/houses", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "true", rec.Header().Get(staleHeader))
}

func TestCreateHouse(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/houses", `{"house_number":"99/1","owner_name":"มานี"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp houseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.House)
	assert.Equal(t, "99/1", resp.House.HouseNumber)
	assert.False(t, resp.Outcome.Queued)
}

func TestCreateHouseQueuedReturnsAccepted(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.outcome = service.Outcome{Queued: true, EntryID: uuid.New()}

	rec := ts.do(t, http.MethodPost, "/houses", `{"house_number":"99/1","owner_name":"มานี"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp houseResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.House)
	assert.True(t, resp.Outcome.Queued)
	assert.Equal(t, ts.billing.outcome.EntryID, resp.Outcome.EntryID)
}

func TestCreateHouseErrors(t *testing.T) {
	t.Run("malformed body", func(t *testing.T) {
		ts := newTestServer(t)
		rec := ts.do(t, http.MethodPost, "/houses", `{"house_number":`)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, ErrCodeInvalidFormat, decodeError(t, rec).Code)
		assert.Empty(t, ts.billing.lastCall)
	})

	t.Run("duplicate house number", func(t *testing.T) {
		ts := newTestServer(t)
		ts.billing.err = apperr.Conflict("house number already exists", nil)
		rec := ts.do(t, http.MethodPost, "/houses", `{"house_number":"11/22","owner_name":"x"}`)
		require.Equal(t, http.StatusConflict, rec.Code)
		apiErr := decodeError(t, rec)
		assert.Equal(t, ErrCodeDuplicate, apiErr.Code)
		assert.Equal(t, "house number already exists", apiErr.Message)
	})
}

func TestRequestBodyLimit(t *testing.T) {
	ts := newTestServerWith(t, func(d *Dependencies) { d.MaxBodyBytes = 256 })
	image := strings.Repeat("A", 1024)

	rec := ts.do(t, http.MethodPost, "/houses/"+uuid.NewString()+"/readings",
		`{"month_key":"2024-06","current_reading":150,"meter_image":"`+image+`"}`)
	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, ErrCodeBodyTooLarge, decodeError(t, rec).Code)
	assert.Empty(t, ts.billing.input.MonthKey)

	rec = ts.do(t, http.MethodPost, "/houses/"+uuid.NewString()+"/readings",
		`{"month_key":"2024-06","current_reading":150}`)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestBodyLimit(t *testing.T) {
	assert.Equal(t, int64(4+64<<10), BodyLimit(0))
	assert.Greater(t, BodyLimit(2<<20), int64(2<<20)/3*4)
}

func TestInvalidPathID(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/houses/not-a-uuid", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, ErrCodeBadRequest, decodeError(t, rec).Code)
}

func TestDeleteHouseNotFound(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.err = apperr.NotFound("house", "x")

	rec := ts.do(t, http.MethodDelete, "/houses/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRecordReading(t *testing.T) {
	ts := newTestServer(t)
	houseID := uuid.New()

	rec := ts.do(t, http.MethodPost, "/houses/"+houseID.String()+"/readings",
		`{"month_key":"2024-06","current_reading":150}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	assert.Equal(t, "2024-06", ts.billing.input.MonthKey)
	assert.Nil(t, ts.billing.input.PreviousReading)
	require.NotNil(t, ts.billing.input.CurrentReading)
	assert.Equal(t, 150.0, *ts.billing.input.CurrentReading)

	var result service.RecordResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, houseID, result.Reading.HouseID)
}

func TestRecordReadingRateNotConfigured(t *testing.T) {
	ts := newTestServer(t)
	ts.billing.err = apperr.ErrRateNotConfigured

	rec := ts.do(t, http.MethodPost, "/houses/"+uuid.NewString()+"/readings",
		`{"month_key":"2024-06","current_reading":150}`)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, ErrCodeRateNotConfigured, decodeError(t, rec).Code)
}

func TestReadingInvoice(t *testing.T) {
	ts := newTestServer(t)
	house := &db.House{ID: uuid.New(), HouseNumber: "11/22", OwnerName: "สมชาย ใจดี"}
	ts.billing.house = house
	ts.billing.reading = &db.MeterReading{
		ID:              uuid.New(),
		HouseID:         house.ID,
		MonthKey:        "2024-06",
		Month:           "มิถุนายน 2567",
		PreviousReading: 1000,
		CurrentReading:  1250,
		UnitsUsed:       250,
		RatePerUnit:     7.5,
		TotalAmount:     1875,
		DateRecorded:    time.Date(2024, 6, 30, 9, 0, 0, 0, time.UTC),
	}

	rec := ts.do(t, http.MethodGet, "/readings/"+ts.billing.reading.ID.String()+"/invoice", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/html; charset=utf-8", rec.Header().Get("Content-Type"))
	body := rec.Body.String()
	assert.Contains(t, body, "11/22")
	assert.Contains(t, body, "1,875.00")
}

func TestRates(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/rates/active", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPost, "/rates", `{"rate_per_unit":7.5}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, 7.5, ts.billing.rate)

	ts.billing.err = apperr.Validation("rate must be greater than 0")
	rec = ts.do(t, http.MethodPost, "/rates", `{"rate_per_unit":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestOfflineEntriesAndFlush(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	_, err := ts.queue.Enqueue(ctx, offline.KindHouseCreate, map[string]string{"house_number": "1"})
	require.NoError(t, err)
	_, err = ts.queue.Enqueue(ctx, offline.KindHouseCreate, map[string]string{"house_number": "2"})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodGet, "/offline/entries", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed entriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Len(t, listed.Entries, 2)
	assert.Equal(t, 2, listed.Stats.Pending)

	rec = ts.do(t, http.MethodPost, "/offline/flush", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report offline.FlushReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, 2, report.Synced)
	assert.Zero(t, report.Remaining)

	rec = ts.do(t, http.MethodGet, "/offline/entries", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	assert.Empty(t, listed.Entries)
}

func TestRequeueDeadEntry(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	id, err := ts.queue.Enqueue(ctx, offline.KindReadingInsert, map[string]string{"month_key": "2024-06"})
	require.NoError(t, err)
	require.NoError(t, ts.queue.MarkDead(ctx, id, apperr.Conflict("a reading for this month is already recorded", nil)))

	rec := ts.do(t, http.MethodGet, "/offline/dead", "")
	var dead entriesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &dead))
	require.Len(t, dead.Entries, 1)
	assert.Equal(t, 1, dead.Stats.Dead)

	rec = ts.do(t, http.MethodPost, "/offline/entries/"+id.String()+"/requeue", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, http.MethodPost, "/offline/entries/"+id.String()+"/requeue", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestImportSamples(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/samples", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Len(t, ts.billing.imported, len(sample.Static()))

	var report service.ImportReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.Equal(t, sample.SourceStatic, report.Source)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, http.MethodGet, "/health", "")

	rec := ts.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `water_billing_http_request_duration_seconds_count{method="GET",route="/health",status="200"}`)
}
