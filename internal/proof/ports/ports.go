// Package ports defines shared interfaces for the proof module.
// Interfaces are placed here when consumed by multiple services to avoid duplication.
package ports

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"sigillum/internal/proof/models"
	"sigillum/pkg/domain"
	"sigillum/pkg/platform/audit"
)

// AuditPublisher emits audit events for registration lifecycle transitions.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// RecordStore is the canonical proof record persistence. Upsert must be safe
// to call twice with the same key: existing records merge the supplied
// fields rather than erroring. The record store is the only shared mutable
// resource across concurrent attempts and is accessed exclusively through
// this contract.
type RecordStore interface {
	// Upsert creates or partially updates the record for key and returns
	// the post-merge state.
	Upsert(ctx context.Context, key domain.RegistrationKey, fields models.RecordFields) (*models.ProofRecord, error)

	// Get returns the record for key, or sentinel.ErrNotFound.
	Get(ctx context.Context, key domain.RegistrationKey) (*models.ProofRecord, error)

	// ListByOwner returns the owner's records, newest first.
	ListByOwner(ctx context.Context, owner domain.OwnerAddress) ([]*models.ProofRecord, error)
}

// ObjectStore is the external object-storage service boundary. Assumed
// read-after-write consistent for the verification probe; the uploader
// tolerates a short bounded retry if it is not.
type ObjectStore interface {
	// Put stores data under path and returns the public locator.
	Put(ctx context.Context, path string, data []byte) (string, error)

	// HeadExists probes whether the object at locator is fetchable. It is a
	// lightweight existence check, not a re-download.
	HeadExists(ctx context.Context, locator string) (bool, error)
}

// ContractCall describes one invocation of the registration contract.
type ContractCall struct {
	Contract string
	From     domain.OwnerAddress
	// Method and Args are ABI-level; the ledger adapter encodes them.
	Method string
	Args   []any
	// Value is the fee attached to the call, in wei.
	Value *big.Int
}

// Ledger is the wallet/provider connection. All failures come back
// classified (pkg/domain-errors codes) so the registrar never has to guess
// whether an error was a user rejection, an insufficient balance, or a
// genuine fault.
type Ledger interface {
	// ChainID reports the network the connection currently targets.
	ChainID(ctx context.Context) (uint64, error)

	// RequestNetworkSwitch asks the connection to move to chainID,
	// registering the network first if it is unknown. Failure is fatal to
	// the attempt (requires user action).
	RequestNetworkSwitch(ctx context.Context, chainID uint64) error

	// Call performs a read-only contract call and returns the raw result.
	Call(ctx context.Context, call ContractCall) ([]byte, error)

	// Simulate dry-runs the call with its value attached. A revert comes
	// back as CodeSimulationReverted carrying the verbatim reason.
	Simulate(ctx context.Context, call ContractCall) error

	// EstimateGas estimates gas for the call, without any safety buffer.
	EstimateGas(ctx context.Context, call ContractCall) (uint64, error)

	// GasPrice returns the current gas price in wei.
	GasPrice(ctx context.Context) (*big.Int, error)

	// Balance returns the account's available balance in wei.
	Balance(ctx context.Context, owner domain.OwnerAddress) (*big.Int, error)

	// Submit signs and broadcasts the transaction. A signer-side rejection
	// comes back as CodeRejected.
	Submit(ctx context.Context, call ContractCall, gasLimit uint64) (domain.TxHash, error)

	// WaitReceipt blocks until the transaction has the requested number of
	// confirmations, polling at poll intervals. If the connection reports
	// the transaction was replaced out-of-band, it returns a
	// *ReplacementError instead of a receipt.
	WaitReceipt(ctx context.Context, hash domain.TxHash, confirmations uint64, poll time.Duration) (*models.Receipt, error)
}

// ReplacementError reports that a submitted transaction was superseded. A
// cancellation replaces the call with a no-op; a speed-up re-broadcasts the
// same call with a higher fee, so its receipt is the one that matters.
type ReplacementError struct {
	Original  domain.TxHash
	NewHash   domain.TxHash
	Cancelled bool
}

func (e *ReplacementError) Error() string {
	if e.Cancelled {
		return fmt.Sprintf("transaction %s cancelled by replacement %s", e.Original, e.NewHash)
	}
	return fmt.Sprintf("transaction %s sped up by replacement %s", e.Original, e.NewHash)
}

// FlightStore guards concurrent attempts on the same registration key across
// processes and caches pipeline state for the progress endpoint.
type FlightStore interface {
	// Acquire takes the in-flight lock for key. False means another attempt
	// holds it.
	Acquire(ctx context.Context, key domain.RegistrationKey, ttl time.Duration) (bool, error)

	// Release frees the lock. Safe to call when not held.
	Release(ctx context.Context, key domain.RegistrationKey) error

	// SaveState caches the latest pipeline state for progress display.
	SaveState(ctx context.Context, state models.PipelineState, ttl time.Duration) error

	// LoadState returns the cached state, or sentinel.ErrNotFound.
	LoadState(ctx context.Context, key domain.RegistrationKey) (models.PipelineState, error)
}
