// Package models defines the proof registration data model.
package models

import (
	"math/big"
	"time"

	"sigillum/pkg/domain"
)

// Visibility controls whether a proof appears in public listings.
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityPrivate Visibility = "private"
)

func (v Visibility) IsValid() bool {
	return v == VisibilityPublic || v == VisibilityPrivate
}

// Metadata is the caller-declared description of the proof. It never
// participates in content addressing.
type Metadata struct {
	Title       string     `json:"title"`
	Category    string     `json:"category"`
	Description string     `json:"description"`
	Visibility  Visibility `json:"visibility"`
}

// RegistrationRequest is the input aggregate. Immutable once accepted by the
// orchestrator.
type RegistrationRequest struct {
	Content  []byte
	Metadata Metadata
	Owner    domain.OwnerAddress
}

// ProofRecord is the persisted entity, keyed by registration key. Created in
// a pending shape before chain confirmation; the tx reference is attached in
// place after confirmation. Never deleted by the pipeline.
type ProofRecord struct {
	Key             domain.RegistrationKey
	Digest          domain.Digest
	Owner           domain.OwnerAddress
	StorageLocator  string
	StorageVerified bool
	Metadata        Metadata
	TxHash          domain.TxHash
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Confirmed reports whether the record carries a confirmed chain reference.
// A confirmed record implies the storage object exists and was verified.
func (r *ProofRecord) Confirmed() bool {
	return !r.TxHash.IsZero()
}

// RecordFields is the partial-update shape for upsert. Nil pointers mean
// "leave the stored value as-is", which is what makes retried runs converge
// instead of clobbering earlier progress.
type RecordFields struct {
	Digest          *domain.Digest
	Owner           *domain.OwnerAddress
	StorageLocator  *string
	StorageVerified *bool
	Metadata        *Metadata
	TxHash          *domain.TxHash
}

// Step identifies one stage of the pipeline.
type Step string

const (
	StepPrepare Step = "prepare"
	StepUpload  Step = "upload"
	StepPersist Step = "persist"
	StepChain   Step = "chain"
)

// PipelineState is the per-run bookkeeping the orchestrator exposes for
// progress display. Recoverable from the record shape, so it can be
// discarded at process boundary.
type PipelineState struct {
	AttemptID      domain.AttemptID       `json:"attempt_id"`
	Key            domain.RegistrationKey `json:"key"`
	Prepared       bool                   `json:"prepared"`
	Uploaded       bool                   `json:"uploaded"`
	Persisted      bool                   `json:"persisted"`
	ChainConfirmed bool                   `json:"chain_confirmed"`
	CurrentStep    Step                   `json:"current_step"`
	LastError      string                 `json:"last_error,omitempty"`
}

// FromRecord re-derives step flags from an observed record shape so a
// re-invoked pipeline resumes instead of restarting.
func FromRecord(record *ProofRecord) PipelineState {
	state := PipelineState{Key: record.Key, Prepared: true, CurrentStep: StepUpload}
	if record.StorageLocator != "" && record.StorageVerified {
		state.Uploaded = true
		state.Persisted = true
		state.CurrentStep = StepChain
	}
	if record.Confirmed() {
		state.ChainConfirmed = true
	}
	return state
}

// OutcomeKind classifies how a pipeline run ended.
type OutcomeKind string

const (
	OutcomeSucceeded            OutcomeKind = "succeeded"
	OutcomeAwaitingConfirmation OutcomeKind = "awaiting_confirmation"
	OutcomeCancelled            OutcomeKind = "cancelled"
	OutcomeFailed               OutcomeKind = "failed"
)

// RegistrationOutcome is what the orchestrator reports upward. Exactly one
// of Record/TxHash/Err is meaningful depending on Kind.
type RegistrationOutcome struct {
	Kind   OutcomeKind
	Record *ProofRecord
	TxHash domain.TxHash
	Err    error
	State  PipelineState
}

// TxStatus is the confirmation status of a submitted transaction.
type TxStatus string

const (
	TxPending   TxStatus = "pending"
	TxConfirmed TxStatus = "confirmed"
	TxReplaced  TxStatus = "replaced"
	TxFailed    TxStatus = "failed"
)

// ChainTransaction is the ephemeral value object tracked between submission
// and confirmation. Only the final hash is folded into the ProofRecord.
type ChainTransaction struct {
	ChainID  uint64
	Fee      *big.Int
	GasLimit uint64
	Hash     domain.TxHash
	Status   TxStatus
}

// Receipt is the post-inclusion result of a submitted transaction.
type Receipt struct {
	TxHash      domain.TxHash
	Success     bool
	BlockNumber uint64
	GasUsed     uint64
}
