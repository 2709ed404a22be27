// Package chain drives the on-chain half of a proof registration: fee
// discovery, simulation, gas sizing, balance precheck, submission, and
// confirmation tracking.
package chain

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"sigillum/internal/platform/config"
	"sigillum/internal/proof/models"
	"sigillum/internal/proof/ports"
	"sigillum/pkg/domain"
	dErrors "sigillum/pkg/domain-errors"
)

const (
	methodRegister        = "register"
	methodRegistrationFee = "registrationFee"
)

// Result is what a completed registrar run hands back. Tx.Status tells the
// caller whether the transaction confirmed or is still pending at the
// confirmation deadline; Receipt is nil in the pending case.
type Result struct {
	Tx      models.ChainTransaction
	Receipt *models.Receipt
}

// Registrar owns the submit-and-confirm state machine. It never mutates the
// record store; the orchestrator folds the final hash into the record.
type Registrar struct {
	ledger ports.Ledger
	cfg    config.LedgerConfig
	logger *slog.Logger
}

type Option func(*Registrar)

func WithLogger(logger *slog.Logger) Option {
	return func(r *Registrar) { r.logger = logger }
}

func NewRegistrar(ledger ports.Ledger, cfg config.LedgerConfig, opts ...Option) *Registrar {
	r := &Registrar{
		ledger: ledger,
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register runs the full state machine for one registration. Ordering is
// strict: nothing is broadcast until the network is right, the simulation
// passed, and the balance covers fee plus gas. A simulation revert or a
// failed precheck therefore costs the owner nothing.
func (r *Registrar) Register(ctx context.Context, owner domain.OwnerAddress, digest domain.Digest) (Result, error) {
	if err := r.ensureNetwork(ctx); err != nil {
		return Result{}, err
	}

	fee := r.registrationFee(ctx, owner)
	call := ports.ContractCall{
		Contract: r.cfg.ContractAddress,
		From:     owner,
		Method:   methodRegister,
		Args:     []any{digest.String()},
		Value:    fee,
	}

	if err := r.ledger.Simulate(ctx, call); err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.GetCode(err), "registration would revert")
	}

	gasLimit, err := r.bufferedGas(ctx, call)
	if err != nil {
		return Result{}, err
	}

	if err := r.precheckBalance(ctx, owner, fee, gasLimit); err != nil {
		return Result{}, err
	}

	hash, err := r.ledger.Submit(ctx, call, gasLimit)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.GetCode(err), "transaction submission failed")
	}
	r.logger.InfoContext(ctx, "transaction submitted",
		"tx_hash", hash.String(),
		"fee_wei", fee.String(),
		"gas_limit", gasLimit,
	)

	tx := models.ChainTransaction{
		ChainID:  r.cfg.ChainID,
		Fee:      fee,
		GasLimit: gasLimit,
		Hash:     hash,
		Status:   models.TxPending,
	}
	return r.confirm(ctx, tx)
}

// ensureNetwork verifies the connection targets the configured chain and
// asks for a switch when it does not. A declined or failed switch is
// user-actionable, not retryable.
func (r *Registrar) ensureNetwork(ctx context.Context) error {
	current, err := r.ledger.ChainID(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read connected chain")
	}
	if current == r.cfg.ChainID {
		return nil
	}
	r.logger.InfoContext(ctx, "requesting network switch",
		"connected_chain_id", current,
		"required_chain_id", r.cfg.ChainID,
	)
	if err := r.ledger.RequestNetworkSwitch(ctx, r.cfg.ChainID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeWrongNetwork, "connection is on the wrong network")
	}
	return nil
}

// registrationFee reads the fee from the contract's accessor, falling back to
// the configured default when the accessor is missing or unreadable. The
// fallback is logged but does not block registration.
func (r *Registrar) registrationFee(ctx context.Context, owner domain.OwnerAddress) *big.Int {
	raw, err := r.ledger.Call(ctx, ports.ContractCall{
		Contract: r.cfg.ContractAddress,
		From:     owner,
		Method:   methodRegistrationFee,
	})
	if err != nil || len(raw) == 0 {
		r.logger.WarnContext(ctx, "fee accessor unavailable, using default fee",
			"default_fee_wei", r.cfg.DefaultFee.String(),
			"error", errString(err),
		)
		return new(big.Int).Set(r.cfg.DefaultFee)
	}
	return new(big.Int).SetBytes(raw)
}

// bufferedGas estimates gas and applies the configured safety margin so a
// marginally-underestimated transaction does not run out of gas on-chain.
// An estimation failure means the call would likely revert on inclusion, so
// it is classified deterministically rather than as a transient fault; a
// revert that surfaces during estimation keeps its reason and code.
func (r *Registrar) bufferedGas(ctx context.Context, call ports.ContractCall) (uint64, error) {
	estimate, err := r.ledger.EstimateGas(ctx, call)
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeSimulationReverted) {
			return 0, dErrors.Wrap(err, dErrors.CodeSimulationReverted, "gas estimation failed")
		}
		return 0, dErrors.Wrap(err, dErrors.CodeGasEstimation, "gas estimation failed")
	}
	return estimate * uint64(100+r.cfg.GasSafetyPercent) / 100, nil
}

// precheckBalance refuses to submit when the account cannot cover the fee
// plus worst-case gas. Catching this locally gives the owner a clear message
// instead of a cryptic provider failure.
func (r *Registrar) precheckBalance(ctx context.Context, owner domain.OwnerAddress, fee *big.Int, gasLimit uint64) error {
	gasPrice, err := r.ledger.GasPrice(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read gas price")
	}
	balance, err := r.ledger.Balance(ctx, owner)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "failed to read account balance")
	}

	gasCost := new(big.Int).Mul(gasPrice, new(big.Int).SetUint64(gasLimit))
	required := new(big.Int).Add(fee, gasCost)
	if balance.Cmp(required) < 0 {
		return dErrors.Newf(dErrors.CodeInsufficientFunds,
			"balance %s wei is below the %s wei required (fee %s + gas %s)",
			balance, required, fee, gasCost)
	}
	return nil
}

// confirm waits for the submitted transaction to reach the configured
// confirmation depth. Replacements are followed transparently: a speed-up
// moves the wait to the new hash, a cancellation ends the run as rejected.
// Hitting the confirmation deadline is not a failure; the transaction is
// reported back as still pending.
func (r *Registrar) confirm(ctx context.Context, tx models.ChainTransaction) (Result, error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.ConfirmTimeout)
	defer cancel()

	hash := tx.Hash
	for {
		receipt, err := r.ledger.WaitReceipt(waitCtx, hash, r.cfg.Confirmations, r.cfg.ConfirmPollInterval)
		if err == nil {
			if !receipt.Success {
				tx.Hash = receipt.TxHash
				tx.Status = models.TxFailed
				return Result{Tx: tx, Receipt: receipt}, dErrors.New(dErrors.CodeTxFailed,
					"transaction reverted on-chain")
			}
			tx.Hash = receipt.TxHash
			tx.Status = models.TxConfirmed
			r.logger.InfoContext(ctx, "transaction confirmed",
				"tx_hash", receipt.TxHash.String(),
				"block_number", receipt.BlockNumber,
				"gas_used", receipt.GasUsed,
			)
			return Result{Tx: tx, Receipt: receipt}, nil
		}

		var replaced *ports.ReplacementError
		if errors.As(err, &replaced) {
			if replaced.Cancelled {
				tx.Status = models.TxReplaced
				r.logger.InfoContext(ctx, "transaction cancelled by owner",
					"tx_hash", replaced.Original.String(),
					"replacement_hash", replaced.NewHash.String(),
				)
				return Result{Tx: tx}, dErrors.Wrap(err, dErrors.CodeRejected,
					"transaction cancelled before confirmation")
			}
			r.logger.InfoContext(ctx, "transaction replaced by speed-up",
				"tx_hash", replaced.Original.String(),
				"replacement_hash", replaced.NewHash.String(),
			)
			hash = replaced.NewHash
			tx.Hash = replaced.NewHash
			continue
		}

		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			r.logger.WarnContext(ctx, "confirmation deadline reached, transaction still pending",
				"tx_hash", hash.String(),
				"confirm_timeout", r.cfg.ConfirmTimeout.String(),
			)
			tx.Status = models.TxPending
			return Result{Tx: tx}, nil
		}

		return Result{Tx: tx}, dErrors.Wrap(err, dErrors.GetCode(err), "confirmation tracking failed")
	}
}

func errString(err error) string {
	if err == nil {
		return "empty fee response"
	}
	return err.Error()
}
