package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/id"
	"github.com/xraph/jobhub/job"
)

const jobColumns = `
	id, tenant, kind, parameters, priority, status, percent_completed,
	scheduled_at, started_at, stopped_at, estimated_completion, expires_at,
	trace, needs_workspace, workspace, worker_id, heartbeat_at,
	created_at, updated_at`

// CreateJob persists a new record.
func (s *Store) CreateJob(ctx context.Context, r *job.Record) error {
	params, err := encodeParameters(r.Parameters)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO jobhub_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12,
			$13, $14, $15, $16, $17,
			$18, $19
		)`,
		r.ID.String(), r.Tenant, r.Kind, params, r.Priority, string(r.Status), r.PercentCompleted,
		r.ScheduledAt, r.StartedAt, r.StoppedAt, r.EstimatedCompletion, r.ExpiresAt,
		r.Trace, r.NeedsWorkspace, r.Workspace, r.WorkerID.String(), r.HeartbeatAt,
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return wrapErr("create job", err)
	}
	return nil
}

// SaveJob overwrites an existing record.
func (s *Store) SaveJob(ctx context.Context, r *job.Record) error {
	params, err := encodeParameters(r.Parameters)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE jobhub_jobs SET
			tenant = $2, kind = $3, parameters = $4, priority = $5,
			status = $6, percent_completed = $7, scheduled_at = $8,
			started_at = $9, stopped_at = $10, estimated_completion = $11,
			expires_at = $12, trace = $13, needs_workspace = $14,
			workspace = $15, worker_id = $16, heartbeat_at = $17,
			updated_at = NOW()
		WHERE id = $1`,
		r.ID.String(), r.Tenant, r.Kind, params, r.Priority,
		string(r.Status), r.PercentCompleted, r.ScheduledAt,
		r.StartedAt, r.StoppedAt, r.EstimatedCompletion,
		r.ExpiresAt, r.Trace, r.NeedsWorkspace,
		r.Workspace, r.WorkerID.String(), r.HeartbeatAt,
	)
	if err != nil {
		return fmt.Errorf("jobhub/postgres: save job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return jobhub.ErrJobNotFound
	}
	return nil
}

// GetJob retrieves a record by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobhub_jobs WHERE id = $1`,
		jobID.String(),
	)

	r, err := scanRecord(row)
	if err != nil {
		return nil, wrapErr("get job", err)
	}
	return r, nil
}

// FindHighestPriorityPending claims the tenant's best pending record by
// moving it to to_be_run. Uses SELECT FOR UPDATE SKIP LOCKED so
// concurrent instances never pick the same row.
func (s *Store) FindHighestPriorityPending(ctx context.Context, tenant string) (*job.Record, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE jobhub_jobs
		SET status = 'to_be_run', updated_at = NOW()
		WHERE id = (
			SELECT id FROM jobhub_jobs
			WHERE tenant = $1 AND status = 'pending'
			ORDER BY priority DESC, scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING `+jobColumns,
		tenant,
	)

	r, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr("find pending", err)
	}
	return r, nil
}

// CountByStatus counts records of kind in one of statuses.
func (s *Store) CountByStatus(ctx context.Context, kind string, statuses ...job.Status) (int64, error) {
	query := `SELECT COUNT(*) FROM jobhub_jobs WHERE 1=1`
	args := []interface{}{}
	argIdx := 1

	if kind != "" {
		query += fmt.Sprintf(" AND kind = $%d", argIdx)
		args = append(args, kind)
		argIdx++
	}
	if len(statuses) > 0 {
		query += fmt.Sprintf(" AND status = ANY($%d::text[])", argIdx)
		args = append(args, statusStrings(statuses))
	}

	var count int64
	err := s.pool.QueryRow(ctx, query, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("jobhub/postgres: count jobs: %w", err)
	}
	return count, nil
}

// CompareAndSetStatus moves a record from one of from to to in a single
// conditional UPDATE, stamping the same timestamps as Record.Transition.
func (s *Store) CompareAndSetStatus(ctx context.Context, jobID id.JobID, from []job.Status, to job.Status) (bool, error) {
	allowed := make([]job.Status, 0, len(from))
	for _, f := range from {
		if job.CanTransition(f, to) {
			allowed = append(allowed, f)
		}
	}

	if len(allowed) > 0 {
		tag, err := s.pool.Exec(ctx, `
			UPDATE jobhub_jobs SET
				status = $3::text,
				updated_at = NOW(),
				started_at = CASE WHEN $3::text = 'running' THEN NOW() ELSE started_at END,
				heartbeat_at = CASE WHEN $3::text = 'running' THEN NOW() ELSE heartbeat_at END,
				stopped_at = CASE WHEN $4::bool THEN NOW() ELSE stopped_at END,
				workspace = CASE WHEN $4::bool THEN '' ELSE workspace END,
				percent_completed = CASE WHEN $3::text = 'succeeded' THEN 100 ELSE percent_completed END
			WHERE id = $1 AND status = ANY($2::text[])`,
			jobID.String(), statusStrings(allowed), string(to), to.IsTerminal(),
		)
		if err != nil {
			return false, fmt.Errorf("jobhub/postgres: compare and set status: %w", err)
		}
		if tag.RowsAffected() > 0 {
			return true, nil
		}
	}

	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM jobhub_jobs WHERE id = $1)`,
		jobID.String(),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("jobhub/postgres: compare and set exists: %w", err)
	}
	if !exists {
		return false, jobhub.ErrJobNotFound
	}
	return false, nil
}

// ListJobsByStatus returns records in the given status, oldest first.
func (s *Store) ListJobsByStatus(ctx context.Context, tenant string, status job.Status, opts job.ListOpts) ([]*job.Record, error) {
	query := `SELECT ` + jobColumns + ` FROM jobhub_jobs WHERE status = $1`
	args := []interface{}{string(status)}
	argIdx := 2

	if tenant != "" {
		query += fmt.Sprintf(" AND tenant = $%d", argIdx)
		args = append(args, tenant)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("jobhub/postgres: list jobs by status: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

// UpdateCompletion writes progress of running records in one batch.
func (s *Store) UpdateCompletion(ctx context.Context, records []*job.Record) error {
	if len(records) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(`
			UPDATE jobhub_jobs SET
				percent_completed = GREATEST(percent_completed, $2),
				estimated_completion = COALESCE($3, estimated_completion),
				updated_at = NOW()
			WHERE id = $1 AND status = 'running'`,
			r.ID.String(), r.PercentCompleted, r.EstimatedCompletion,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range records {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("jobhub/postgres: update completion: %w", err)
		}
	}
	return nil
}

// HeartbeatJobs stamps HeartbeatAt on running records.
func (s *Store) HeartbeatJobs(ctx context.Context, jobIDs []id.JobID, at time.Time) error {
	if len(jobIDs) == 0 {
		return nil
	}
	ids := make([]string, len(jobIDs))
	for i, jobID := range jobIDs {
		ids[i] = jobID.String()
	}

	_, err := s.pool.Exec(ctx, `
		UPDATE jobhub_jobs SET heartbeat_at = $2, updated_at = NOW()
		WHERE id = ANY($1::text[]) AND status = 'running'`,
		ids, at.UTC(),
	)
	if err != nil {
		return fmt.Errorf("jobhub/postgres: heartbeat jobs: %w", err)
	}
	return nil
}

func statusStrings(statuses []job.Status) []string {
	out := make([]string, len(statuses))
	for i, st := range statuses {
		out[i] = string(st)
	}
	return out
}

func encodeParameters(ps job.Parameters) ([]byte, error) {
	if ps == nil {
		ps = job.Parameters{}
	}
	data, err := json.Marshal(ps)
	if err != nil {
		return nil, fmt.Errorf("jobhub/postgres: encode parameters: %w", err)
	}
	return data, nil
}

// scanRecord scans a single record row.
func scanRecord(row pgx.Row) (*job.Record, error) {
	var (
		r         job.Record
		idStr     string
		statusStr string
		workerStr string
		params    []byte
	)
	err := row.Scan(
		&idStr, &r.Tenant, &r.Kind, &params, &r.Priority, &statusStr, &r.PercentCompleted,
		&r.ScheduledAt, &r.StartedAt, &r.StoppedAt, &r.EstimatedCompletion, &r.ExpiresAt,
		&r.Trace, &r.NeedsWorkspace, &r.Workspace, &workerStr, &r.HeartbeatAt,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	r.Status = job.Status(statusStr)

	parsedID, parseErr := id.ParseJobID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("jobhub/postgres: parse job id %q: %w", idStr, parseErr)
	}
	r.ID = parsedID

	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			r.WorkerID = parsedWorker
		}
	}

	if len(params) > 0 {
		if err := json.Unmarshal(params, &r.Parameters); err != nil {
			return nil, fmt.Errorf("jobhub/postgres: decode parameters of %s: %w", idStr, err)
		}
	}

	return &r, nil
}

// collectRecords collects all records from query rows.
func collectRecords(rows pgx.Rows) ([]*job.Record, error) {
	var records []*job.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("jobhub/postgres: scan job row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("jobhub/postgres: iterate job rows: %w", err)
	}
	return records, nil
}
