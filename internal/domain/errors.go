package domain

import "errors"

// Error taxonomy shared by the ledger gateway, the reconciliation engine and
// the HTTP layer. Leaf errors are wrapped under their class with
// fmt.Errorf("%w: %w", class, leaf) so callers can match either.
var (
	// ErrValidation is returned before any ledger call is attempted.
	ErrValidation                  = errors.New("validation failed")
	ErrInsufficientContribution    = errors.New("contribution below minimum investment")
	ErrInsufficientSharesAvailable = errors.New("not enough shares available for this contribution")
	ErrMalformedAmount             = errors.New("malformed amount")
	ErrInvalidWallet               = errors.New("invalid wallet address")
	ErrWalletMismatch              = errors.New("wallet does not match the investment")
	ErrTransactionMismatch         = errors.New("transaction does not match the contribution")

	// ErrLedgerRejected marks a permanent, logical refusal by the ledger.
	ErrLedgerRejected      = errors.New("ledger rejected the operation")
	ErrPropertyNotOnLedger = errors.New("property does not exist on the ledger")
	ErrFundingComplete     = errors.New("property funding is already complete")
	ErrInsufficientFunds   = errors.New("insufficient funds in wallet")
	ErrWalletDeclined      = errors.New("wallet declined to sign the transaction")

	ErrLedgerUnavailable   = errors.New("ledger unavailable")
	ErrConfirmationTimeout = errors.New("confirmation timed out")

	ErrIdentifierUnresolved = errors.New("identifier unresolved")
	ErrIdentifierConflict   = errors.New("identifier already mapped to a different ledger id")

	// ErrCacheWriteConflict is never surfaced to callers; stale writes are dropped.
	ErrCacheWriteConflict = errors.New("cache write is not newer than the applied snapshot")

	ErrDataIntegrity = errors.New("data integrity fault")

	ErrPropertyNotFound     = errors.New("property not found")
	ErrContributionNotFound = errors.New("contribution not found")
)
