package core

import "errors"

// Error taxonomy for the detection pipeline. None of these is fatal to the
// process: malformed events are skipped, failed trainings keep the previous
// model active, store outages are retried with backoff, and exhausted alert
// writes are dropped with a counter.
var (
	// ErrMalformedEvent marks an event missing a field the feature extractor
	// requires. The scoring loop advances past it.
	ErrMalformedEvent = errors.New("malformed event")

	// ErrInsufficientData is returned by training when the window holds fewer
	// than the configured minimum sample count.
	ErrInsufficientData = errors.New("insufficient training data")

	// ErrStoreUnavailable wraps transient event-store failures. The loop
	// backs off and retries the same poll without advancing the watermark.
	ErrStoreUnavailable = errors.New("event store unavailable")

	// ErrWriteFailed marks an alert that could not be persisted after all
	// retries. The detection is dropped but counted.
	ErrWriteFailed = errors.New("alert write failed")
)
