package sale

import "errors"

// Authorization errors.
var (
	ErrNotAdministrator        = errors.New("sale: caller is not the administrator")
	ErrNotGovernance           = errors.New("sale: caller is not governance")
	ErrNotPendingAdministrator = errors.New("sale: caller is not the pending administrator")
	ErrNotPendingGovernance    = errors.New("sale: caller is not pending governance")
)

// Phase errors.
var (
	ErrSaleClosed            = errors.New("sale: buy window ended or not started")
	ErrVestingNotStarted     = errors.New("sale: redemption not started")
	ErrVestingAlreadyStarted = errors.New("sale: vesting already started")
	ErrSweepLocked           = errors.New("sale: sweep timeout not reached")
)

// Validation errors.
var (
	ErrAmountZero         = errors.New("sale: amount must be positive")
	ErrNoCommitment       = errors.New("sale: no commitment recorded for buyer")
	ErrCommitmentMismatch = errors.New("sale: amount does not match commitment")
	ErrAmountUnexpected   = errors.New("sale: allocation draw takes no amount")
	ErrNothingToForward   = errors.New("sale: no proceeds to forward")
)

// Collaborator-shortfall errors.
var (
	ErrVaultShortfall = errors.New("sale: vault delivered less than previewed")
)

var (
	errNilState    = errors.New("sale: state not configured")
	errNilLedger   = errors.New("sale: asset ledger not configured")
	errNilVault    = errors.New("sale: vault not configured")
	errNilFacility = errors.New("sale: facility not configured")
	errBadDeadline = errors.New("sale: timestamp must be positive")
)
