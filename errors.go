package jobhub

import "errors"

var (
	// Wiring errors.
	ErrNoStore    = errors.New("jobhub: no store configured")
	ErrNoBus      = errors.New("jobhub: no bus configured")
	ErrPoolClosed = errors.New("jobhub: worker pool closed")
	ErrBusClosed  = errors.New("jobhub: bus closed")

	// Record errors.
	ErrJobNotFound      = errors.New("jobhub: job not found")
	ErrJobAlreadyExists = errors.New("jobhub: job already exists")
	ErrAlreadyClaimed   = errors.New("jobhub: job already claimed")
	ErrInvalidState     = errors.New("jobhub: invalid status transition")
	ErrJobExpired       = errors.New("jobhub: expiration date reached")

	// Construction errors. A job failing with one of these never runs.
	ErrClassNotFound    = errors.New("jobhub: job kind not registered")
	ErrInstantiation    = errors.New("jobhub: job instantiation failed")
	ErrParameterMissing = errors.New("jobhub: parameter missing")
	ErrParameterInvalid = errors.New("jobhub: parameter invalid")
	ErrWorkspace        = errors.New("jobhub: workspace unavailable")
)
