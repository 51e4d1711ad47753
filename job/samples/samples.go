// Package samples provides demonstration job kinds used by the worker
// binary and the engine tests.
package samples

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/jobhub"
	"github.com/xraph/jobhub/job"
)

// Kind identifiers.
const (
	WaiterJobKind = "WaiterJob"
	LongJobKind   = "LongJob"
)

// Parameter names.
const (
	// WaitPeriod is the length of one wait, in milliseconds.
	WaitPeriod = "WAIT_PERIOD"
	// WaitPeriodCount is the number of waits.
	WaitPeriodCount = "WAIT_PERIOD_COUNT"
	// Duration is the total run time of a LongJob, in milliseconds.
	Duration = "DURATION"
)

// WaiterJob waits WAIT_PERIOD milliseconds WAIT_PERIOD_COUNT times,
// reporting progress after each wait and stopping between waits when its
// context is cancelled.
type WaiterJob struct {
	job.Base
	period time.Duration
	count  int
}

// SetParameters implements job.Job.
func (w *WaiterJob) SetParameters(p job.Parameters) error {
	ms, err := job.Required[int64](p, WaitPeriod)
	if err != nil {
		return err
	}
	count, err := job.Required[int](p, WaitPeriodCount)
	if err != nil {
		return err
	}
	if ms < 0 || count < 0 {
		return fmt.Errorf("%w: %s and %s must not be negative", jobhub.ErrParameterInvalid, WaitPeriod, WaitPeriodCount)
	}
	w.period = time.Duration(ms) * time.Millisecond
	w.count = count
	return nil
}

// Run implements job.Job.
func (w *WaiterJob) Run(ctx context.Context) error {
	w.EstimateCompletion(time.Now().Add(w.period * time.Duration(w.count)))
	for i := range w.count {
		if err := sleep(ctx, w.period); err != nil {
			return err
		}
		w.Advance((i + 1) * 100 / w.count)
	}
	return nil
}

// longJobSteps is the number of progress reports of a LongJob.
const longJobSteps = 10

// LongJob runs for DURATION milliseconds (two seconds by default),
// advancing its progress in ten steps.
type LongJob struct {
	job.Base
	duration time.Duration
}

// SetParameters implements job.Job.
func (l *LongJob) SetParameters(p job.Parameters) error {
	ms, err := job.Optional[int64](p, Duration, 2000)
	if err != nil {
		return err
	}
	if ms < 0 {
		return fmt.Errorf("%w: %s must not be negative", jobhub.ErrParameterInvalid, Duration)
	}
	l.duration = time.Duration(ms) * time.Millisecond
	return nil
}

// Run implements job.Job.
func (l *LongJob) Run(ctx context.Context) error {
	l.EstimateCompletion(time.Now().Add(l.duration))
	step := l.duration / longJobSteps
	for i := 1; i <= longJobSteps; i++ {
		if err := sleep(ctx, step); err != nil {
			return err
		}
		l.Advance(i * 100 / longJobSteps)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Definitions returns the definitions of every sample kind.
func Definitions() []job.Definition {
	return []job.Definition{
		{Kind: WaiterJobKind, New: func() job.Job { return &WaiterJob{} }},
		{Kind: LongJobKind, New: func() job.Job { return &LongJob{} }, NeedsWorkspace: true},
	}
}

// Register adds every sample kind to r.
func Register(r *job.Registry) error {
	for _, def := range Definitions() {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}
