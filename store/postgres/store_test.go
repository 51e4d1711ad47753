//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	pgmodule "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
	"github.com/xraph/jobhub/store/postgres"
)

// setupTestStore creates a Postgres container and returns a migrated Store.
func setupTestStore(t *testing.T) *postgres.Store {
	t.Helper()

	ctx := context.Background()

	container, err := pgmodule.Run(ctx,
		"postgres:16-alpine",
		pgmodule.WithDatabase("jobhub_test"),
		pgmodule.WithUsername("test"),
		pgmodule.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("start postgres container: %v", err)
	}
	t.Cleanup(func() {
		if termErr := container.Terminate(ctx); termErr != nil {
			t.Logf("terminate container: %v", termErr)
		}
	})

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("get connection string: %v", err)
	}

	store, err := postgres.New(ctx, connStr, postgres.WithLogger(slog.Default()))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("migrate: %v", migErr)
	}
	// Migrations are idempotent.
	if migErr := store.Migrate(ctx); migErr != nil {
		t.Fatalf("second migrate: %v", migErr)
	}

	return store
}

func newRecord(tenant, kind string, priority int) *job.Record {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &job.Record{
		Entity:      jobhub.Entity{CreatedAt: now, UpdatedAt: now},
		ID:          id.NewJobID(),
		Tenant:      tenant,
		Kind:        kind,
		Status:      job.StatusPending,
		Priority:    priority,
		ScheduledAt: now,
	}
}

func TestPostgres_CreateGetSave(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p, _ := job.NewParameter("to", "alice@example.com")
	r := newRecord("acme", "email", 3)
	r.Parameters = job.Parameters{p}
	r.NeedsWorkspace = true

	if err := s.CreateJob(ctx, r); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if err := s.CreateJob(ctx, r); !errors.Is(err, jobhub.ErrJobAlreadyExists) {
		t.Fatalf("duplicate CreateJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	to, err := job.Required[string](got.Parameters, "to")
	if err != nil || to != "alice@example.com" {
		t.Errorf("parameter to = %q, %v", to, err)
	}
	if !got.NeedsWorkspace || got.Priority != 3 || got.Status != job.StatusPending {
		t.Errorf("got %+v", got)
	}

	got.Trace = "boom"
	got.WorkerID = id.NewWorkerID()
	if err := s.SaveJob(ctx, got); err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	again, _ := s.GetJob(ctx, r.ID)
	if again.Trace != "boom" || again.WorkerID.String() != got.WorkerID.String() {
		t.Errorf("saved record = %+v", again)
	}

	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, jobhub.ErrJobNotFound) {
		t.Errorf("GetJob(unknown) = %v", err)
	}
	if err := s.SaveJob(ctx, newRecord("acme", "email", 0)); !errors.Is(err, jobhub.ErrJobNotFound) {
		t.Errorf("SaveJob(unknown) = %v", err)
	}
}

func TestPostgres_FindHighestPriorityPending(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	low := newRecord("acme", "a", 1)
	high := newRecord("acme", "b", 7)
	other := newRecord("globex", "c", 99)
	for _, r := range []*job.Record{low, high, other} {
		if err := s.CreateJob(ctx, r); err != nil {
			t.Fatalf("CreateJob: %v", err)
		}
	}

	first, err := s.FindHighestPriorityPending(ctx, "acme")
	if err != nil {
		t.Fatalf("FindHighestPriorityPending: %v", err)
	}
	if first == nil || first.ID.String() != high.ID.String() || first.Status != job.StatusToBeRun {
		t.Fatalf("first = %+v, want %s to_be_run", first, high.ID)
	}
	second, _ := s.FindHighestPriorityPending(ctx, "acme")
	if second == nil || second.ID.String() != low.ID.String() {
		t.Fatalf("second = %+v, want %s", second, low.ID)
	}
	none, err := s.FindHighestPriorityPending(ctx, "acme")
	if err != nil || none != nil {
		t.Fatalf("exhausted = %v, %v", none, err)
	}
}

func TestPostgres_CompareAndSetStatus(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	r := newRecord("acme", "email", 0)
	_ = s.CreateJob(ctx, r)
	claimable := []job.Status{job.StatusPending, job.StatusToBeRun}

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if ok, _ := s.CompareAndSetStatus(ctx, r.ID, claimable, job.StatusQueued); ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if wins.Load() != 1 {
		t.Fatalf("wins = %d, want 1", wins.Load())
	}

	ok, err := s.CompareAndSetStatus(ctx, r.ID, []job.Status{job.StatusQueued}, job.StatusRunning)
	if err != nil || !ok {
		t.Fatalf("queued -> running = %v, %v", ok, err)
	}
	got, _ := s.GetJob(ctx, r.ID)
	if got.StartedAt == nil || got.HeartbeatAt == nil {
		t.Errorf("running timestamps not stamped: %+v", got)
	}

	ok, _ = s.CompareAndSetStatus(ctx, r.ID, []job.Status{job.StatusRunning}, job.StatusSucceeded)
	if !ok {
		t.Fatal("running -> succeeded lost")
	}
	got, _ = s.GetJob(ctx, r.ID)
	if got.StoppedAt == nil || got.PercentCompleted != 100 {
		t.Errorf("terminal stamps missing: %+v", got)
	}

	ok, _ = s.CompareAndSetStatus(ctx, r.ID, []job.Status{job.StatusSucceeded}, job.StatusRunning)
	if ok {
		t.Error("CAS left a terminal status")
	}
	if _, err := s.CompareAndSetStatus(ctx, id.NewJobID(), claimable, job.StatusQueued); !errors.Is(err, jobhub.ErrJobNotFound) {
		t.Errorf("CAS unknown = %v", err)
	}
}

func TestPostgres_CountListProgress(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	a := newRecord("acme", "report", 0)
	b := newRecord("acme", "email", 0)
	c := newRecord("globex", "report", 0)
	for _, r := range []*job.Record{a, b, c} {
		_ = s.CreateJob(ctx, r)
	}
	_, _ = s.CompareAndSetStatus(ctx, a.ID, []job.Status{job.StatusPending}, job.StatusQueued)
	_, _ = s.CompareAndSetStatus(ctx, a.ID, []job.Status{job.StatusQueued}, job.StatusRunning)

	if n, _ := s.CountByStatus(ctx, "report"); n != 2 {
		t.Errorf("count report = %d, want 2", n)
	}
	if n, _ := s.CountByStatus(ctx, "", job.StatusPending); n != 2 {
		t.Errorf("count pending = %d, want 2", n)
	}
	if n, _ := s.CountByStatus(ctx, "report", job.StatusRunning, job.StatusPending); n != 2 {
		t.Errorf("count report running|pending = %d, want 2", n)
	}

	pending, err := s.ListJobsByStatus(ctx, "acme", job.StatusPending, job.ListOpts{Limit: 10})
	if err != nil || len(pending) != 1 || pending[0].ID.String() != b.ID.String() {
		t.Fatalf("list pending = %v, %v", pending, err)
	}

	eta := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	upd := a.Clone()
	upd.PercentCompleted = 40
	upd.EstimatedCompletion = &eta
	if err := s.UpdateCompletion(ctx, []*job.Record{upd}); err != nil {
		t.Fatalf("UpdateCompletion: %v", err)
	}
	upd.PercentCompleted = 10
	_ = s.UpdateCompletion(ctx, []*job.Record{upd})

	beat := time.Now().UTC().Add(time.Hour).Truncate(time.Microsecond)
	if err := s.HeartbeatJobs(ctx, []id.JobID{a.ID, b.ID}, beat); err != nil {
		t.Fatalf("HeartbeatJobs: %v", err)
	}

	got, _ := s.GetJob(ctx, a.ID)
	if got.PercentCompleted != 40 {
		t.Errorf("percent = %d, want 40", got.PercentCompleted)
	}
	if got.EstimatedCompletion == nil || !got.EstimatedCompletion.Equal(eta) {
		t.Errorf("eta = %v, want %v", got.EstimatedCompletion, eta)
	}
	if got.HeartbeatAt == nil || !got.HeartbeatAt.Equal(beat) {
		t.Errorf("heartbeat = %v, want %v", got.HeartbeatAt, beat)
	}
	if pendingRec, _ := s.GetJob(ctx, b.ID); pendingRec.HeartbeatAt != nil {
		t.Error("pending record heartbeated")
	}
}

func TestPostgres_ConcurrentMigrate(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- store.Migrate(ctx)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent migrate: %v", err)
		}
	}

	var n int
	if err := store.Pool().QueryRow(ctx, `SELECT count(*) FROM jobhub_migrations`).Scan(&n); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if n != 1 {
		t.Errorf("recorded migrations = %d, want 1", n)
	}
}
