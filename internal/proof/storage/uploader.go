// Package storage pushes proof bytes to the object-storage service and
// verifies the uploaded object is actually reachable.
package storage

import (
	"context"
	"log/slog"
	"time"

	"sigillum/internal/proof/ports"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
)

const pathPrefix = "proofs/"

// Uploader wraps the object store with bounded retries and post-upload
// verification. A successful put response is not trusted on its own: the
// object must be independently observed before the step counts as done.
type Uploader struct {
	store         ports.ObjectStore
	logger        *slog.Logger
	maxAttempts   int
	retryBaseWait time.Duration
}

type Option func(*Uploader)

func WithLogger(logger *slog.Logger) Option {
	return func(u *Uploader) { u.logger = logger }
}

// WithRetryPolicy overrides the attempt budget and base backoff wait.
func WithRetryPolicy(maxAttempts int, baseWait time.Duration) Option {
	return func(u *Uploader) {
		if maxAttempts > 0 {
			u.maxAttempts = maxAttempts
		}
		if baseWait > 0 {
			u.retryBaseWait = baseWait
		}
	}
}

func NewUploader(store ports.ObjectStore, opts ...Option) *Uploader {
	u := &Uploader{
		store:         store,
		logger:        slog.Default(),
		maxAttempts:   3,
		retryBaseWait: 250 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Path returns the deterministic object path for a registration key.
// Re-uploads under retry land on the same object, which is what makes
// leaving a partial upload in place safe.
func Path(key domain.RegistrationKey) string {
	return pathPrefix + key.String()
}

// Upload stores data under the key-derived path and verifies the result.
// Failures come back as CodeStorageUnavailable: non-fatal to the request,
// surfaced to the caller as "retry".
func (u *Uploader) Upload(ctx context.Context, key domain.RegistrationKey, data []byte) (string, error) {
	path := Path(key)

	locator, err := u.putWithRetry(ctx, path, data)
	if err != nil {
		return "", err
	}

	if err := u.Verify(ctx, locator); err != nil {
		return "", err
	}
	return locator, nil
}

// Verify probes the locator until the object is observed or the attempt
// budget runs out. The bounded retry absorbs short read-after-write lag in
// the storage service.
func (u *Uploader) Verify(ctx context.Context, locator string) error {
	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		exists, err := u.store.HeadExists(ctx, locator)
		if err == nil && exists {
			return nil
		}
		lastErr = err
		if attempt < u.maxAttempts {
			if err := u.wait(ctx, attempt); err != nil {
				return dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "verification interrupted")
			}
		}
	}
	if lastErr != nil {
		return dErrors.Wrap(lastErr, dErrors.CodeStorageUnavailable, "uploaded object not verifiable")
	}
	return dErrors.New(dErrors.CodeStorageUnavailable, "uploaded object never became visible")
}

func (u *Uploader) putWithRetry(ctx context.Context, path string, data []byte) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= u.maxAttempts; attempt++ {
		locator, err := u.store.Put(ctx, path, data)
		if err == nil {
			return locator, nil
		}
		lastErr = err
		u.logger.WarnContext(ctx, "object upload attempt failed",
			"path", path,
			"attempt", attempt,
			"error", err,
		)
		if attempt < u.maxAttempts {
			if err := u.wait(ctx, attempt); err != nil {
				return "", dErrors.Wrap(err, dErrors.CodeStorageUnavailable, "upload interrupted")
			}
		}
	}
	return "", dErrors.Wrap(lastErr, dErrors.CodeStorageUnavailable, "object upload failed")
}

// wait sleeps for an exponentially growing interval, aborting early when the
// caller cancels.
func (u *Uploader) wait(ctx context.Context, attempt int) error {
	backoff := u.retryBaseWait << (attempt - 1)
	timer := time.NewTimer(backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
