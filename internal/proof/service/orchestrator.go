// Package service contains the pipeline orchestrator, the single entry point
// for proof registration. The orchestrator owns step ordering and resumption;
// the steps themselves live in their own packages.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"sigillum/internal/platform/middleware"
	"sigillum/internal/proof/chain"
	"sigillum/internal/proof/hasher"
	"sigillum/internal/proof/idempotency"
	"sigillum/internal/proof/metrics"
	"sigillum/internal/proof/models"
	"sigillum/internal/proof/ports"
	"sigillum/internal/proof/storage"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
	"sigillum/pkg/platform/audit"
	"sigillum/pkg/platform/sentinel"
)

const (
	defaultLockTTL  = 10 * time.Minute
	defaultStateTTL = 24 * time.Hour
)

// Registrar is the chain step as the orchestrator sees it.
type Registrar interface {
	Register(ctx context.Context, owner domain.OwnerAddress, digest domain.Digest) (chain.Result, error)
}

// Orchestrator drives a registration through prepare, upload, persist, and
// chain. Progress is recoverable from the record shape, so a re-invoked
// registration resumes at the first incomplete step instead of redoing work.
type Orchestrator struct {
	records   ports.RecordStore
	resolver  *idempotency.Resolver
	uploader  *storage.Uploader
	registrar Registrar
	flight    ports.FlightStore
	audit     ports.AuditPublisher
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer

	// group collapses same-key attempts inside one process before the
	// cross-process flight lock is even consulted.
	group    singleflight.Group
	lockTTL  time.Duration
	stateTTL time.Duration
}

type Option func(*Orchestrator)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(o *Orchestrator) { o.audit = publisher }
}

func WithLockTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.lockTTL = ttl }
}

func NewOrchestrator(
	records ports.RecordStore,
	uploader *storage.Uploader,
	registrar Registrar,
	flight ports.FlightStore,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		records:   records,
		resolver:  idempotency.NewResolver(records),
		uploader:  uploader,
		registrar: registrar,
		flight:    flight,
		logger:    slog.Default(),
		tracer:    otel.Tracer("sigillum/proof"),
		lockTTL:   defaultLockTTL,
		stateTTL:  defaultStateTTL,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Register runs the pipeline for one registration request. The outcome is
// always well-formed: terminal kinds carry the record or the classified
// error, and an awaiting-confirmation kind carries the pending transaction
// hash. Register never panics a caller for a bad request; validation
// failures come back as failed outcomes.
func (o *Orchestrator) Register(ctx context.Context, req models.RegistrationRequest) models.RegistrationOutcome {
	started := time.Now()
	defer func() { o.metrics.ObservePipelineLatency(time.Since(started)) }()

	digest, key, outcome, done := o.prepare(ctx, req)
	if done {
		o.metrics.IncrementOutcome(string(outcome.Kind))
		return outcome
	}

	// Same-key callers inside this process share one run and one outcome.
	shared, _, _ := o.group.Do(key.String(), func() (any, error) {
		return o.run(ctx, req, digest, key), nil
	})
	outcome = shared.(models.RegistrationOutcome)
	o.metrics.IncrementOutcome(string(outcome.Kind))
	return outcome
}

// prepare hashes the content, derives the registration key, and short-circuits
// already-confirmed registrations. done is true when the outcome is final.
func (o *Orchestrator) prepare(ctx context.Context, req models.RegistrationRequest) (domain.Digest, domain.RegistrationKey, models.RegistrationOutcome, bool) {
	stepStart := time.Now()

	if req.Owner.IsZero() {
		err := dErrors.New(dErrors.CodeInvalidInput, "owner address is required")
		o.metrics.IncrementStepFailure(string(models.StepPrepare), string(dErrors.GetCode(err)))
		return "", "", models.RegistrationOutcome{Kind: models.OutcomeFailed, Err: err}, true
	}

	digest, err := hasher.Sum(req.Content)
	if err != nil {
		o.metrics.IncrementStepFailure(string(models.StepPrepare), string(dErrors.GetCode(err)))
		return "", "", models.RegistrationOutcome{Kind: models.OutcomeFailed, Err: err}, true
	}
	key := o.resolver.Resolve(digest, req.Owner)

	existing, err := o.resolver.LookupExisting(ctx, key)
	if err != nil {
		o.metrics.IncrementStepFailure(string(models.StepPrepare), string(dErrors.GetCode(err)))
		return "", "", models.RegistrationOutcome{Kind: models.OutcomeFailed, Err: err}, true
	}
	if existing != nil && existing.Confirmed() {
		o.logger.InfoContext(ctx, "registration already confirmed, returning existing record",
			"registration_key", key.String(),
			"tx_hash", existing.TxHash.String(),
		)
		o.emit(ctx, domain.AttemptID{}, key, req.Owner, audit.EventDuplicateCompleted, models.StepPrepare, existing.TxHash, "")
		state := models.FromRecord(existing)
		return digest, key, models.RegistrationOutcome{
			Kind:   models.OutcomeSucceeded,
			Record: existing,
			TxHash: existing.TxHash,
			State:  state,
		}, true
	}

	o.metrics.ObserveStepLatency(string(models.StepPrepare), time.Since(stepStart))
	return digest, key, models.RegistrationOutcome{}, false
}

func (o *Orchestrator) run(ctx context.Context, req models.RegistrationRequest, digest domain.Digest, key domain.RegistrationKey) models.RegistrationOutcome {
	ctx, span := o.tracer.Start(ctx, "proof.register",
		trace.WithAttributes(
			attribute.String("registration_key", key.String()),
			attribute.String("digest", digest.String()),
		))
	defer span.End()

	attemptID := domain.NewAttemptID()
	logger := o.logger.With(
		"attempt_id", attemptID.String(),
		"registration_key", key.String(),
	)

	acquired, err := o.flight.Acquire(ctx, key, o.lockTTL)
	if err != nil {
		return o.fail(ctx, span, attemptID, key, req.Owner, models.StepPrepare, models.PipelineState{}, err)
	}
	if !acquired {
		err := dErrors.New(dErrors.CodeConflict, "registration already in progress")
		span.SetStatus(codes.Error, err.Error())
		return models.RegistrationOutcome{Kind: models.OutcomeFailed, Err: err}
	}
	defer func() {
		if releaseErr := o.flight.Release(context.WithoutCancel(ctx), key); releaseErr != nil {
			logger.WarnContext(ctx, "failed to release flight lock", "error", releaseErr)
		}
	}()

	// Re-derive progress from the record shape so a second attempt resumes
	// instead of restarting.
	state := models.PipelineState{AttemptID: attemptID, Key: key, Prepared: true, CurrentStep: models.StepUpload}
	if existing, lookupErr := o.resolver.LookupExisting(ctx, key); lookupErr == nil && existing != nil {
		state = models.FromRecord(existing)
		state.AttemptID = attemptID
		if state.Uploaded {
			logger.InfoContext(ctx, "resuming registration from persisted progress",
				"current_step", string(state.CurrentStep))
			o.emit(ctx, attemptID, key, req.Owner, audit.EventResumed, state.CurrentStep, "", "")
		}
	}
	o.emit(ctx, attemptID, key, req.Owner, audit.EventSubmitted, models.StepPrepare, "", "")
	o.saveState(ctx, state)

	if !state.Uploaded {
		stepStart := time.Now()
		state.CurrentStep = models.StepUpload
		o.saveState(ctx, state)

		locator, uploadErr := o.uploader.Upload(ctx, key, req.Content)
		if uploadErr != nil {
			return o.fail(ctx, span, attemptID, key, req.Owner, models.StepUpload, state, uploadErr)
		}
		o.metrics.ObserveStepLatency(string(models.StepUpload), time.Since(stepStart))
		state.Uploaded = true
		o.emit(ctx, attemptID, key, req.Owner, audit.EventUploaded, models.StepUpload, "", "")

		stepStart = time.Now()
		state.CurrentStep = models.StepPersist
		o.saveState(ctx, state)

		verified := true
		if _, persistErr := o.records.Upsert(ctx, key, models.RecordFields{
			Digest:          &digest,
			Owner:           &req.Owner,
			StorageLocator:  &locator,
			StorageVerified: &verified,
			Metadata:        &req.Metadata,
		}); persistErr != nil {
			return o.fail(ctx, span, attemptID, key, req.Owner, models.StepPersist, state, persistErr)
		}
		o.metrics.ObserveStepLatency(string(models.StepPersist), time.Since(stepStart))
		state.Persisted = true
		o.emit(ctx, attemptID, key, req.Owner, audit.EventPersisted, models.StepPersist, "", "")
	}

	stepStart := time.Now()
	state.CurrentStep = models.StepChain
	o.saveState(ctx, state)

	result, chainErr := o.registrar.Register(ctx, req.Owner, digest)
	o.metrics.ObserveStepLatency(string(models.StepChain), time.Since(stepStart))
	if result.Tx.GasLimit > 0 {
		o.metrics.SetGasLimit(result.Tx.GasLimit)
	}

	if chainErr != nil {
		if dErrors.HasCode(chainErr, dErrors.CodeRejected) {
			logger.InfoContext(ctx, "registration cancelled by owner")
			o.emit(ctx, attemptID, key, req.Owner, audit.EventCancelled, models.StepChain, result.Tx.Hash, chainErr.Error())
			state.LastError = chainErr.Error()
			o.saveState(ctx, state)
			return models.RegistrationOutcome{Kind: models.OutcomeCancelled, Err: chainErr, State: state}
		}
		return o.fail(ctx, span, attemptID, key, req.Owner, models.StepChain, state, chainErr)
	}

	if result.Tx.Status == models.TxPending {
		logger.InfoContext(ctx, "registration awaiting confirmation",
			"tx_hash", result.Tx.Hash.String())
		o.emit(ctx, attemptID, key, req.Owner, audit.EventAwaitingConfirm, models.StepChain, result.Tx.Hash, "")
		o.saveState(ctx, state)
		return models.RegistrationOutcome{Kind: models.OutcomeAwaitingConfirmation, TxHash: result.Tx.Hash, State: state}
	}

	record, err := o.records.Upsert(ctx, key, models.RecordFields{TxHash: &result.Tx.Hash})
	if err != nil {
		// The chain registration is durable even though the record write
		// failed; a re-run converges via the duplicate path.
		return o.fail(ctx, span, attemptID, key, req.Owner, models.StepChain, state, err)
	}
	state.ChainConfirmed = true
	state.CurrentStep = models.StepChain
	o.saveState(ctx, state)
	o.emit(ctx, attemptID, key, req.Owner, audit.EventConfirmed, models.StepChain, result.Tx.Hash, "")
	logger.InfoContext(ctx, "registration confirmed",
		"tx_hash", result.Tx.Hash.String(),
		"block_number", result.Receipt.BlockNumber,
	)

	return models.RegistrationOutcome{
		Kind:   models.OutcomeSucceeded,
		Record: record,
		TxHash: result.Tx.Hash,
		State:  state,
	}
}

// Status reports pipeline progress for a key, preferring the live cached
// state over the re-derived record shape.
func (o *Orchestrator) Status(ctx context.Context, key domain.RegistrationKey) (models.PipelineState, error) {
	state, err := o.flight.LoadState(ctx, key)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return models.PipelineState{}, err
	}

	record, err := o.records.Get(ctx, key)
	if err != nil {
		return models.PipelineState{}, err
	}
	return models.FromRecord(record), nil
}

// Get returns the proof record for a key.
func (o *Orchestrator) Get(ctx context.Context, key domain.RegistrationKey) (*models.ProofRecord, error) {
	return o.records.Get(ctx, key)
}

// ListByOwner returns the owner's proof records, newest first.
func (o *Orchestrator) ListByOwner(ctx context.Context, owner domain.OwnerAddress) ([]*models.ProofRecord, error) {
	return o.records.ListByOwner(ctx, owner)
}

func (o *Orchestrator) fail(ctx context.Context, span trace.Span, attemptID domain.AttemptID, key domain.RegistrationKey, owner domain.OwnerAddress, step models.Step, state models.PipelineState, err error) models.RegistrationOutcome {
	code := dErrors.GetCode(err)
	o.metrics.IncrementStepFailure(string(step), string(code))
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	o.logger.ErrorContext(ctx, "registration step failed",
		"attempt_id", attemptID.String(),
		"registration_key", key.String(),
		"step", string(step),
		"code", string(code),
		"error", err,
	)
	o.emit(ctx, attemptID, key, owner, audit.EventFailed, step, "", err.Error())

	state.CurrentStep = step
	state.LastError = err.Error()
	o.saveState(ctx, state)
	return models.RegistrationOutcome{Kind: models.OutcomeFailed, Err: err, State: state}
}

// emit publishes an audit event. Audit failures are logged, never fatal to
// the pipeline.
func (o *Orchestrator) emit(ctx context.Context, attemptID domain.AttemptID, key domain.RegistrationKey, owner domain.OwnerAddress, action audit.AuditEvent, step models.Step, txHash domain.TxHash, reason string) {
	if o.audit == nil {
		return
	}
	event := audit.Event{
		AttemptID: attemptID,
		Key:       key,
		Owner:     owner,
		Action:    string(action),
		Step:      string(step),
		TxHash:    txHash,
		Reason:    reason,
		RequestID: middleware.GetRequestID(ctx),
	}
	if err := o.audit.Emit(ctx, event); err != nil {
		o.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(action),
			"error", err,
		)
	}
}

func (o *Orchestrator) saveState(ctx context.Context, state models.PipelineState) {
	if state.Key == "" {
		return
	}
	if err := o.flight.SaveState(ctx, state, o.stateTTL); err != nil {
		o.logger.WarnContext(ctx, "failed to cache pipeline state",
			"registration_key", state.Key.String(),
			"error", err,
		)
	}
}
