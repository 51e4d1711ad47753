package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/event"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
	"github.com/xraph/jobhub/middleware"
	"github.com/xraph/jobhub/store/memory"
	"github.com/xraph/jobhub/stream"
	"github.com/xraph/jobhub/worker"
	"github.com/xraph/jobhub/workspace"
)

// ──────────────────────────────────────────────────
// Test jobs
// ──────────────────────────────────────────────────

type funcJob struct {
	job.Base
	run func(ctx context.Context, j *funcJob) error
}

func (f *funcJob) SetParameters(job.Parameters) error { return nil }
func (f *funcJob) Run(ctx context.Context) error      { return f.run(ctx, f) }

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type harness struct {
	store      *memory.Store
	bus        *stream.Bus
	registry   *job.Registry
	dispatcher *worker.Dispatcher
	root       string

	released atomic.Int32

	mu     sync.Mutex
	events []*event.Event
}

func newHarness(t *testing.T, poolSize int, opts ...worker.Option) *harness {
	t.Helper()
	logger := slog.Default()

	h := &harness{
		store:    memory.New(),
		bus:      stream.New(),
		registry: job.NewRegistry(),
		root:     t.TempDir(),
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	_, err := h.bus.Subscribe(ctx, event.TopicLifecycle, func(_ context.Context, evt *event.Event) error {
		h.mu.Lock()
		h.events = append(h.events, evt)
		h.mu.Unlock()
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	base := []worker.Option{
		worker.WithLogger(logger),
		worker.WithWorkspaces(workspace.NewManager(h.root)),
		worker.WithMiddleware(middleware.Recover(logger), middleware.Tenant()),
		worker.WithOnRelease(func(string) { h.released.Add(1) }),
		worker.WithCompletionUpdateRate(10 * time.Millisecond),
		worker.WithHeartbeatInterval(0),
		worker.WithShutdownTimeout(time.Second),
	}
	h.dispatcher = worker.NewDispatcher(h.store, h.bus, h.registry,
		worker.NewPool(poolSize, logger), append(base, opts...)...)
	if err := h.dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() {
		_ = h.dispatcher.Stop(context.Background())
		_ = h.bus.Close()
	})
	return h
}

func (h *harness) register(t *testing.T, kind string, needsWorkspace bool, run func(ctx context.Context, j *funcJob) error) {
	t.Helper()
	err := h.registry.Register(job.Definition{
		Kind:           kind,
		NeedsWorkspace: needsWorkspace,
		New:            func() job.Job { return &funcJob{run: run} },
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func (h *harness) enqueue(t *testing.T, kind string, mutate ...func(r *job.Record)) *job.Record {
	t.Helper()
	rec := &job.Record{
		Entity:      jobhub.NewEntity(),
		ID:          id.NewJobID(),
		Tenant:      "acme",
		Kind:        kind,
		Status:      job.StatusPending,
		ScheduledAt: time.Now().UTC(),
	}
	for _, fn := range mutate {
		fn(rec)
	}
	if err := h.store.CreateJob(context.Background(), rec); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return rec
}

func (h *harness) waitStatus(t *testing.T, jobID id.JobID, want job.Status) *job.Record {
	t.Helper()
	var rec *job.Record
	waitFor(t, 2*time.Second, func() bool {
		r, err := h.store.GetJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		rec = r
		return r.Status == want
	})
	// The release callback runs after the terminal write.
	if want.IsTerminal() {
		waitFor(t, time.Second, func() bool { return !h.dispatcher.Owns(jobID) })
	}
	return rec
}

func (h *harness) eventTypes(jobID id.JobID) []event.Type {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []event.Type
	for _, e := range h.events {
		if e.JobID.String() == jobID.String() {
			out = append(out, e.Type)
		}
	}
	return out
}

func (h *harness) waitEvents(t *testing.T, jobID id.JobID, n int) []event.Type {
	t.Helper()
	waitFor(t, 2*time.Second, func() bool { return len(h.eventTypes(jobID)) >= n })
	return h.eventTypes(jobID)
}

func assertNoDir(t *testing.T, dir string) {
	t.Helper()
	if dir == "" {
		t.Fatal("job did not receive a workspace")
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("workspace %s still exists (err=%v)", dir, err)
	}
}

// ──────────────────────────────────────────────────
// Outcome tests
// ──────────────────────────────────────────────────

func TestDispatcher_SuccessCleansWorkspace(t *testing.T) {
	h := newHarness(t, 2)
	var seen atomic.Value
	h.register(t, "report", true, func(_ context.Context, j *funcJob) error {
		dir := j.Workspace()
		seen.Store(dir)
		if _, err := os.Stat(dir); err != nil {
			return err
		}
		return os.WriteFile(dir+"/out.txt", []byte("ok"), 0o600)
	})
	rec := h.enqueue(t, "report")

	if err := h.dispatcher.Execute(context.Background(), "acme", rec.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.waitStatus(t, rec.ID, job.StatusSucceeded)
	if got.PercentCompleted != 100 {
		t.Errorf("PercentCompleted = %d, want 100", got.PercentCompleted)
	}
	if got.StartedAt == nil || got.StoppedAt == nil {
		t.Error("StartedAt/StoppedAt not stamped")
	}
	if got.WorkerID.String() != h.dispatcher.WorkerID().String() {
		t.Errorf("WorkerID = %s, want %s", got.WorkerID, h.dispatcher.WorkerID())
	}
	if got.Workspace != "" {
		t.Errorf("Workspace = %q, want cleared", got.Workspace)
	}
	assertNoDir(t, seen.Load().(string))

	types := h.waitEvents(t, rec.ID, 2)
	if types[0] != event.JobRunning || types[1] != event.JobSucceeded {
		t.Errorf("events = %v, want [running succeeded]", types)
	}
	if h.released.Load() != 1 {
		t.Errorf("released = %d, want 1", h.released.Load())
	}
}

func TestDispatcher_FailureCleansWorkspace(t *testing.T) {
	h := newHarness(t, 2)
	var seen atomic.Value
	h.register(t, "report", true, func(_ context.Context, j *funcJob) error {
		seen.Store(j.Workspace())
		return errors.New("upstream unavailable")
	})
	rec := h.enqueue(t, "report")

	if err := h.dispatcher.Execute(context.Background(), "acme", rec.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.waitStatus(t, rec.ID, job.StatusFailed)
	if !strings.Contains(got.Trace, "upstream unavailable") {
		t.Errorf("Trace = %q", got.Trace)
	}
	assertNoDir(t, seen.Load().(string))

	types := h.waitEvents(t, rec.ID, 2)
	if types[1] != event.JobFailed {
		t.Errorf("events = %v, want failed last", types)
	}
}

func TestDispatcher_AbortWhileRunningCleansWorkspace(t *testing.T) {
	h := newHarness(t, 2)
	var seen atomic.Value
	started := make(chan struct{})
	h.register(t, "waiter", true, func(ctx context.Context, j *funcJob) error {
		seen.Store(j.Workspace())
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	rec := h.enqueue(t, "waiter")

	if err := h.dispatcher.Execute(context.Background(), "acme", rec.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	<-started
	h.waitStatus(t, rec.ID, job.StatusRunning)

	if !h.dispatcher.Interrupt(rec.ID) {
		t.Fatal("Interrupt reported job not owned")
	}

	got := h.waitStatus(t, rec.ID, job.StatusAborted)
	if got.StoppedAt == nil {
		t.Error("StoppedAt not stamped")
	}
	assertNoDir(t, seen.Load().(string))
	if h.dispatcher.Interrupt(rec.ID) {
		t.Error("Interrupt after completion should report not owned")
	}
	if h.released.Load() != 1 {
		t.Errorf("released = %d, want 1", h.released.Load())
	}
}

func TestDispatcher_ReturnNilAfterInterruptSucceeds(t *testing.T) {
	h := newHarness(t, 1)
	started := make(chan struct{})
	h.register(t, "stubborn", false, func(ctx context.Context, _ *funcJob) error {
		close(started)
		<-ctx.Done()
		return nil
	})
	rec := h.enqueue(t, "stubborn")

	_ = h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	<-started
	h.dispatcher.Interrupt(rec.ID)

	h.waitStatus(t, rec.ID, job.StatusSucceeded)
}

func TestDispatcher_UnknownKindNeverRuns(t *testing.T) {
	h := newHarness(t, 1)
	rec := h.enqueue(t, "missing-kind")

	if err := h.dispatcher.Execute(context.Background(), "acme", rec.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := h.waitStatus(t, rec.ID, job.StatusFailed)
	if got.StartedAt != nil {
		t.Error("job entered running")
	}
	if !strings.Contains(got.Trace, "not registered") {
		t.Errorf("Trace = %q", got.Trace)
	}
	types := h.waitEvents(t, rec.ID, 1)
	for _, typ := range types {
		if typ == event.JobRunning {
			t.Fatalf("events = %v, job must never run", types)
		}
	}
	if types[0] != event.JobFailed {
		t.Errorf("events = %v, want [failed]", types)
	}
	if h.released.Load() != 1 {
		t.Errorf("released = %d, want 1", h.released.Load())
	}
}

func TestDispatcher_MissingParameterFails(t *testing.T) {
	h := newHarness(t, 1)
	err := h.registry.Register(job.Definition{Kind: "params", New: func() job.Job { return &paramJob{} }})
	if err != nil {
		t.Fatal(err)
	}
	rec := h.enqueue(t, "params")

	_ = h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	got := h.waitStatus(t, rec.ID, job.StatusFailed)
	if !strings.Contains(got.Trace, "parameter missing") {
		t.Errorf("Trace = %q", got.Trace)
	}
}

type paramJob struct{ job.Base }

func (p *paramJob) SetParameters(ps job.Parameters) error {
	_, err := job.Required[string](ps, "target")
	return err
}
func (p *paramJob) Run(context.Context) error { return nil }

func TestDispatcher_ExpiredJobFails(t *testing.T) {
	h := newHarness(t, 1)
	var ran atomic.Bool
	h.register(t, "late", false, func(context.Context, *funcJob) error {
		ran.Store(true)
		return nil
	})
	rec := h.enqueue(t, "late", func(r *job.Record) {
		past := time.Now().Add(-time.Minute).UTC()
		r.ExpiresAt = &past
	})

	_ = h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	got := h.waitStatus(t, rec.ID, job.StatusFailed)
	if !strings.Contains(got.Trace, "expiration date reached") {
		t.Errorf("Trace = %q", got.Trace)
	}
	if ran.Load() {
		t.Error("expired job ran")
	}
}

func TestDispatcher_PanicFailsWithStack(t *testing.T) {
	h := newHarness(t, 1)
	h.register(t, "panics", false, func(context.Context, *funcJob) error {
		panic("nil map write")
	})
	rec := h.enqueue(t, "panics")

	_ = h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	got := h.waitStatus(t, rec.ID, job.StatusFailed)
	if !strings.Contains(got.Trace, "nil map write") || !strings.Contains(got.Trace, "goroutine") {
		t.Errorf("Trace = %q, want panic value and stack", got.Trace)
	}
}

// ──────────────────────────────────────────────────
// Claim tests
// ──────────────────────────────────────────────────

func TestDispatcher_NotFound(t *testing.T) {
	var buf syncBuffer
	h := newHarness(t, 1, worker.WithLogger(slog.New(slog.NewTextHandler(&buf, nil))))
	jobID := id.NewJobID()
	err := h.dispatcher.Execute(context.Background(), "acme", jobID)
	if !errors.Is(err, jobhub.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}
	if h.released.Load() != 0 {
		t.Error("release ran for a job that was not accepted")
	}
	// The caller reports the rejection; the dispatcher stays quiet.
	if out := buf.String(); strings.Contains(out, jobID.String()) {
		t.Errorf("dispatcher logged the missing job:\n%s", out)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf strings.Builder
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestDispatcher_LostClaim(t *testing.T) {
	h := newHarness(t, 1)
	h.register(t, "noop", false, func(context.Context, *funcJob) error { return nil })
	rec := h.enqueue(t, "noop")

	ok, err := h.store.CompareAndSetStatus(context.Background(), rec.ID,
		[]job.Status{job.StatusPending}, job.StatusAborted)
	if err != nil || !ok {
		t.Fatalf("CompareAndSetStatus = %v, %v", ok, err)
	}

	err = h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	if !errors.Is(err, jobhub.ErrAlreadyClaimed) {
		t.Fatalf("err = %v, want ErrAlreadyClaimed", err)
	}
	if h.dispatcher.Owns(rec.ID) {
		t.Error("handle kept after lost claim")
	}
	if h.released.Load() != 0 {
		t.Error("release ran for a job that was not accepted")
	}
}

func TestDispatcher_NoDoubleDispatch(t *testing.T) {
	h := newHarness(t, 2)
	release := make(chan struct{})
	var runs atomic.Int32
	h.register(t, "once", false, func(context.Context, *funcJob) error {
		runs.Add(1)
		<-release
		return nil
	})
	rec := h.enqueue(t, "once")

	if err := h.dispatcher.Execute(context.Background(), "acme", rec.ID); err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	err := h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	if !errors.Is(err, jobhub.ErrAlreadyClaimed) {
		t.Fatalf("second Execute err = %v, want ErrAlreadyClaimed", err)
	}
	close(release)
	h.waitStatus(t, rec.ID, job.StatusSucceeded)
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
}

// ──────────────────────────────────────────────────
// Background loops and shutdown
// ──────────────────────────────────────────────────

func TestDispatcher_PersistsProgress(t *testing.T) {
	h := newHarness(t, 1)
	release := make(chan struct{})
	eta := time.Now().Add(time.Hour).UTC()
	h.register(t, "progress", false, func(_ context.Context, j *funcJob) error {
		j.Advance(40)
		j.EstimateCompletion(eta)
		<-release
		return nil
	})
	rec := h.enqueue(t, "progress")
	_ = h.dispatcher.Execute(context.Background(), "acme", rec.ID)

	waitFor(t, 2*time.Second, func() bool {
		r, _ := h.store.GetJob(context.Background(), rec.ID)
		return r.PercentCompleted == 40 && r.EstimatedCompletion != nil
	})
	close(release)
	h.waitStatus(t, rec.ID, job.StatusSucceeded)
}

func TestDispatcher_StopInterruptsAfterTimeout(t *testing.T) {
	h := newHarness(t, 1, worker.WithShutdownTimeout(30*time.Millisecond))
	started := make(chan struct{})
	h.register(t, "waiter", false, func(ctx context.Context, _ *funcJob) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	rec := h.enqueue(t, "waiter")
	_ = h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	<-started

	if err := h.dispatcher.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	got, _ := h.store.GetJob(context.Background(), rec.ID)
	if got.Status != job.StatusAborted {
		t.Errorf("Status = %s, want aborted", got.Status)
	}
}

func TestDispatcher_ExecuteAfterStopIsRejected(t *testing.T) {
	h := newHarness(t, 1)
	h.register(t, "noop", false, func(context.Context, *funcJob) error { return nil })
	_ = h.dispatcher.Stop(context.Background())

	rec := h.enqueue(t, "noop")
	err := h.dispatcher.Execute(context.Background(), "acme", rec.ID)
	if !errors.Is(err, jobhub.ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}
	got, _ := h.store.GetJob(context.Background(), rec.ID)
	if got.Status != job.StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if h.released.Load() != 0 {
		t.Errorf("released = %d, want 0", h.released.Load())
	}
}

// gatedStore holds the first claim until gate is closed.
type gatedStore struct {
	*memory.Store
	entered chan struct{}
	gate    chan struct{}
	once    sync.Once
}

func (g *gatedStore) CompareAndSetStatus(ctx context.Context, jobID id.JobID, from []job.Status, to job.Status) (bool, error) {
	if to == job.StatusQueued {
		g.once.Do(func() {
			close(g.entered)
			<-g.gate
		})
	}
	return g.Store.CompareAndSetStatus(ctx, jobID, from, to)
}

func TestDispatcher_StopDuringClaimHandsJobBack(t *testing.T) {
	h := newHarness(t, 1)
	var runs atomic.Int32
	h.register(t, "noop", true, func(context.Context, *funcJob) error {
		runs.Add(1)
		return nil
	})
	rec := h.enqueue(t, "noop")

	gs := &gatedStore{Store: h.store, entered: make(chan struct{}), gate: make(chan struct{})}
	logger := slog.Default()
	var released atomic.Int32
	d := worker.NewDispatcher(gs, h.bus, h.registry, worker.NewPool(1, logger),
		worker.WithLogger(logger),
		worker.WithWorkspaces(workspace.NewManager(h.root)),
		worker.WithOnRelease(func(string) { released.Add(1) }),
		worker.WithHeartbeatInterval(0),
	)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Execute(context.Background(), "acme", rec.ID) }()
	<-gs.entered

	// Execute passed its stopped check and now races with Stop.
	if err := d.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	close(gs.gate)

	err := <-done
	if !errors.Is(err, jobhub.ErrPoolClosed) {
		t.Fatalf("err = %v, want ErrPoolClosed", err)
	}

	got, _ := h.store.GetJob(context.Background(), rec.ID)
	if got.Status != job.StatusPending {
		t.Errorf("Status = %s, want pending", got.Status)
	}
	if got.StoppedAt != nil {
		t.Error("handed back job has a stop time")
	}
	if d.Owns(rec.ID) {
		t.Error("handle kept after hand back")
	}
	if released.Load() != 0 {
		t.Errorf("released = %d, want 0", released.Load())
	}
	if runs.Load() != 0 {
		t.Errorf("runs = %d, want 0", runs.Load())
	}
	if _, err := os.Stat(filepath.Join(h.root, "acme", rec.ID.String())); !os.IsNotExist(err) {
		t.Errorf("workspace still exists (err=%v)", err)
	}

	time.Sleep(50 * time.Millisecond)
	if types := h.eventTypes(rec.ID); len(types) != 0 {
		t.Errorf("events = %v, want none", types)
	}

	// A live dispatcher can claim the handed back job.
	if err := h.dispatcher.Execute(context.Background(), "acme", rec.ID); err != nil {
		t.Fatalf("Execute after hand back: %v", err)
	}
	h.waitStatus(t, rec.ID, job.StatusSucceeded)
}

func TestDispatcher_InterruptWhileQueuedAborts(t *testing.T) {
	h := newHarness(t, 1)
	release := make(chan struct{})
	var runs atomic.Int32
	h.register(t, "slow", false, func(context.Context, *funcJob) error {
		runs.Add(1)
		<-release
		return nil
	})
	first := h.enqueue(t, "slow")
	second := h.enqueue(t, "slow")

	if err := h.dispatcher.Execute(context.Background(), "acme", first.ID); err != nil {
		t.Fatalf("Execute first: %v", err)
	}
	h.waitStatus(t, first.ID, job.StatusRunning)

	// The pool is saturated, so the second dispatch waits for a slot.
	done := make(chan error, 1)
	go func() { done <- h.dispatcher.Execute(context.Background(), "acme", second.ID) }()
	h.waitStatus(t, second.ID, job.StatusQueued)

	if !h.dispatcher.Interrupt(second.ID) {
		t.Fatal("queued job not owned")
	}
	if err := <-done; err != nil {
		t.Fatalf("Execute second: %v", err)
	}
	got := h.waitStatus(t, second.ID, job.StatusAborted)
	if got.StartedAt != nil {
		t.Error("aborted queued job was started")
	}

	close(release)
	h.waitStatus(t, first.ID, job.StatusSucceeded)
	if runs.Load() != 1 {
		t.Errorf("runs = %d, want 1", runs.Load())
	}
	if types := h.waitEvents(t, second.ID, 1); len(types) != 1 || types[0] != event.JobAborted {
		t.Errorf("events = %v, want [aborted]", types)
	}
}

func TestDispatcher_Heartbeat(t *testing.T) {
	h := newHarness(t, 1, worker.WithHeartbeatInterval(10*time.Millisecond))
	release := make(chan struct{})
	h.register(t, "beat", false, func(context.Context, *funcJob) error {
		<-release
		return nil
	})
	rec := h.enqueue(t, "beat")
	_ = h.dispatcher.Execute(context.Background(), "acme", rec.ID)

	first := h.waitStatus(t, rec.ID, job.StatusRunning).HeartbeatAt
	waitFor(t, 2*time.Second, func() bool {
		r, _ := h.store.GetJob(context.Background(), rec.ID)
		return r.HeartbeatAt != nil && first != nil && r.HeartbeatAt.After(*first)
	})
	close(release)
	h.waitStatus(t, rec.ID, job.StatusSucceeded)
}
