package offline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/septivank/water-billing/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type switchPinger struct {
	mu  sync.Mutex
	err error
}

func (p *switchPinger) set(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *switchPinger) Ping(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

type countingFlusher struct {
	mu    sync.Mutex
	calls int
}

func (f *countingFlusher) Flush(context.Context) (FlushReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return FlushReport{}, nil
}

func (f *countingFlusher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func TestMonitor_FlushesOnReconnect(t *testing.T) {
	pinger := &switchPinger{err: errors.New("connection refused")}
	flusher := &countingFlusher{}
	m := NewMonitor(MonitorConfig{Pinger: pinger, Flusher: flusher, Interval: time.Second, Logger: zap.NewNop()})
	ctx := context.Background()

	m.Check(ctx)
	assert.False(t, m.Online())
	assert.Zero(t, flusher.count())

	pinger.set(nil)
	m.Check(ctx)
	assert.True(t, m.Online())
	assert.Equal(t, 1, flusher.count())

	m.Check(ctx)
	assert.Equal(t, 1, flusher.count())

	pinger.set(errors.New("connection reset"))
	m.Check(ctx)
	pinger.set(nil)
	m.Check(ctx)
	assert.Equal(t, 2, flusher.count())
}

func TestMonitor_StartStop(t *testing.T) {
	pinger := &switchPinger{}
	flusher := &countingFlusher{}
	m := NewMonitor(MonitorConfig{Pinger: pinger, Flusher: flusher, Interval: 10 * time.Millisecond, Logger: zap.NewNop()})

	m.Start(context.Background())
	require.Eventually(t, func() bool { return flusher.count() == 1 }, time.Second, 5*time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, m.Stop(stopCtx))
	require.NoError(t, m.Stop(stopCtx))
	assert.Equal(t, 1, flusher.count())
}

func TestMonitor_FlushesBacklogWhileOnline(t *testing.T) {
	q := openTestQueue(t)
	replayer := &scriptedReplayer{}
	m := NewMonitor(MonitorConfig{
		Pinger:   &switchPinger{},
		Flusher:  NewFlusher(q, replayer, 10, zap.NewNop(), nil),
		Backlog:  q,
		Interval: time.Second,
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()

	m.Check(ctx)
	require.True(t, m.Online())

	// a write queued during an outage shorter than the check interval
	ids := enqueueN(t, q, 1)

	m.Check(ctx)
	assert.Equal(t, ids, replayer.seen)
	pending, err := q.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestMonitor_RetriesInterruptedFlush(t *testing.T) {
	q := openTestQueue(t)
	ids := enqueueN(t, q, 2)
	replayer := &scriptedReplayer{results: map[uuid.UUID]error{
		ids[1]: apperr.Connectivity(errors.New("connection reset")),
	}}
	m := NewMonitor(MonitorConfig{
		Pinger:   &switchPinger{},
		Flusher:  NewFlusher(q, replayer, 10, zap.NewNop(), nil),
		Backlog:  q,
		Interval: time.Second,
		Logger:   zap.NewNop(),
	})
	ctx := context.Background()

	m.Check(ctx)
	pending, err := q.ListUnsynced(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	replayer.mu.Lock()
	replayer.results = nil
	replayer.mu.Unlock()

	m.Check(ctx)
	pending, err = q.ListUnsynced(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
	assert.Equal(t, []uuid.UUID{ids[0], ids[1], ids[1]}, replayer.seen)
}

func TestMonitor_MarkOfflineTriggersFlushOnNextCheck(t *testing.T) {
	flusher := &countingFlusher{}
	m := NewMonitor(MonitorConfig{Pinger: &switchPinger{}, Flusher: flusher, Interval: time.Second, Logger: zap.NewNop()})
	ctx := context.Background()

	m.Check(ctx)
	require.Equal(t, 1, flusher.count())

	m.MarkOffline()
	assert.False(t, m.Online())

	m.Check(ctx)
	assert.True(t, m.Online())
	assert.Equal(t, 2, flusher.count())
}

// orderRecorder notes the order of reconnect hook runs and flushes
type orderRecorder struct {
	mu      sync.Mutex
	events  []string
	hookErr error
}

func (r *orderRecorder) applySchema(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "schema")
	return r.hookErr
}

func (r *orderRecorder) Flush(context.Context) (FlushReport, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, "flush")
	return FlushReport{}, nil
}

func TestMonitor_ReconnectHookRunsBeforeFlush(t *testing.T) {
	pinger := &switchPinger{err: errors.New("connection refused")}
	rec := &orderRecorder{hookErr: errors.New("permission denied for schema public")}
	m := NewMonitor(MonitorConfig{
		Pinger:      pinger,
		Flusher:     rec,
		Interval:    time.Second,
		Logger:      zap.NewNop(),
		OnReconnect: rec.applySchema,
	})
	ctx := context.Background()

	m.Check(ctx)
	assert.Empty(t, rec.events)

	pinger.set(nil)
	m.Check(ctx)
	assert.False(t, m.Online())
	assert.Equal(t, []string{"schema"}, rec.events)

	rec.hookErr = nil
	m.Check(ctx)
	assert.True(t, m.Online())
	assert.Equal(t, []string{"schema", "schema", "flush"}, rec.events)

	m.Check(ctx)
	assert.Equal(t, []string{"schema", "schema", "flush"}, rec.events)
}
