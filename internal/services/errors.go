package services

import (
	"errors"
	"fmt"

	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/repositories"
	"github.com/mercato-supply-chain/mercato-dapp-sub000/internal/wallet"
)

// Error kinds
const (
	KindConfig       = "config"
	KindWallet       = "wallet"
	KindTransaction  = "transaction"
	KindPersistence  = "persistence"
	KindForbidden    = "forbidden"
	KindOrdering     = "ordering"
	KindInvalidState = "invalid_state"
	KindNotFound     = "not_found"
	KindValidation   = "validation"
)

// ActionError is what every coordinator action returns on failure. Kind tells
// the handler boundary how to present it; Err keeps the cause for errors.Is.
type ActionError struct {
	Kind string
	Op   string
	Err  error
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ActionError) Unwrap() error { return e.Err }

// Notice is the user-facing message for the error.
func (e *ActionError) Notice() string {
	switch e.Kind {
	case KindConfig:
		return "Escrow is not configured on this platform. Please contact support."
	case KindWallet:
		if errors.Is(e.Err, wallet.ErrRejected) {
			return "The transaction was rejected in your wallet."
		}
		return "Connect your wallet to continue."
	case KindTransaction:
		return "The escrow transaction failed: " + e.Err.Error()
	case KindPersistence:
		return "The transaction went through on-chain but saving it failed. Do not repeat it; an administrator has been alerted to repair the record."
	case KindForbidden:
		return "You are not allowed to perform this action."
	case KindOrdering:
		return "Previous milestones must be released first."
	case KindNotFound:
		return "Not found."
	}
	return e.Err.Error()
}

func actionErr(kind, op string, err error) *ActionError {
	return &ActionError{Kind: kind, Op: op, Err: err}
}

// lookupErr maps a repository read failure to not_found or persistence.
func lookupErr(op, what string, err error) *ActionError {
	if errors.Is(err, repositories.ErrNotFound) {
		return actionErr(KindNotFound, op, fmt.Errorf("%s not found", what))
	}
	return actionErr(KindPersistence, op, fmt.Errorf("load %s: %w", what, err))
}

// KindOf returns the kind of an ActionError anywhere in err's chain, or ""
// for any other error.
func KindOf(err error) string {
	var ae *ActionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

var (
	errNotConfigured = errors.New("platform or trustline address missing")
	errNoEscrow      = errors.New("deal has no escrow contract")
)

// Stages of the build/sign/send pipeline
const (
	stageBuild = "build"
	stageSign  = "sign"
	stageSend  = "send"
)

// txErr classifies a pipeline failure by the stage it happened in: signing
// failures are wallet errors, build and send failures are escrow transaction
// errors. Wallet sentinels stay wallet errors wherever they surface.
func txErr(op, stage string, err error) *ActionError {
	err = fmt.Errorf("%s: %w", stage, err)
	if stage == stageSign || errors.Is(err, wallet.ErrNotConnected) || errors.Is(err, wallet.ErrRejected) {
		return actionErr(KindWallet, op, err)
	}
	return actionErr(KindTransaction, op, err)
}
