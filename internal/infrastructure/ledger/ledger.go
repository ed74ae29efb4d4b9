// Package ledger is the only code path that talks to the authoritative
// ledger. Gateway translates durable property ids, retries transient faults
// and polls for confirmations; a Backend performs the raw calls against
// either the simulated in-memory ledger or a PropertyFactory contract over
// JSON-RPC.
package ledger

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// ErrReceiptNotFound means the transaction has not been included yet (or is
// unknown to the node).
var ErrReceiptNotFound = errors.New("ledger: receipt not found")

// ErrTransactionNotFound means the node has never seen the transaction.
var ErrTransactionNotFound = errors.New("ledger: transaction not found")

// PropertySnapshot is a point-in-time read of getPropertyDetails. Block is the
// height the read was taken at and orders snapshots of the same property.
type PropertySnapshot struct {
	LedgerID        uint64
	TokenAddress    common.Address
	Name            string
	Symbol          string
	Value           *big.Int
	TotalShares     int64
	AvailableShares int64
	MinInvestment   *big.Int
	MetadataURI     string
	FundingComplete bool
	CreatedAt       time.Time
	Block           uint64
}

// PositionSnapshot is a point-in-time read of getInvestorDetails.
type PositionSnapshot struct {
	LedgerID       uint64
	Investor       common.Address
	Amount         *big.Int
	Shares         int64
	OwnershipBps   int64
	UnclaimedYield *big.Int
	ClaimedYield   *big.Int
	Block          uint64
}

// SignedInvestment is a prepared investInProperty transaction. Sending the
// same SignedInvestment twice is harmless: the hash does not change.
type SignedInvestment struct {
	Hash     common.Hash
	LedgerID uint64
	Investor common.Address
	Amount   *big.Int
	Tx       *types.Transaction // nil for the simulated backend
}

// InvestmentCall is a decoded investInProperty transaction as the ledger
// recorded it.
type InvestmentCall struct {
	Hash     common.Hash
	From     common.Address
	LedgerID uint64
	Value    *big.Int
}

// PendingReceipt identifies a broadcast contribution awaiting inclusion.
// Verified is set once the transaction is known to match the contribution.
type PendingReceipt struct {
	TxHash      common.Hash
	PropertyID  string
	LedgerID    uint64
	Investor    common.Address
	Amount      *big.Int
	SubmittedAt time.Time
	Verified    bool
}

// Receipt is the inclusion record of a transaction.
type Receipt struct {
	TxHash      common.Hash `json:"tx_hash"`
	Succeeded   bool        `json:"succeeded"`
	BlockNumber uint64      `json:"block_number"`
	GasUsed     uint64      `json:"gas_used"`
}

type Outcome int

const (
	TimedOut Outcome = iota
	Confirmed
	Reverted
)

func (o Outcome) String() string {
	switch o {
	case Confirmed:
		return "confirmed"
	case Reverted:
		return "reverted"
	default:
		return "timed_out"
	}
}

// Confirmation is the result of waiting on a PendingReceipt. A timeout is a
// value, not an error: the transaction may still be included later.
type Confirmation struct {
	Outcome Outcome
	Receipt *Receipt
}

// Backend is the raw ledger capability. Errors must be classified under
// domain.ErrLedgerRejected, domain.ErrWalletDeclined or
// domain.ErrLedgerUnavailable; only the latter is retried by Gateway.
type Backend interface {
	PrepareInvestment(ctx context.Context, ledgerID uint64, investor common.Address, amount *big.Int) (*SignedInvestment, error)
	SendInvestment(ctx context.Context, inv *SignedInvestment) error
	Receipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	// Transaction decodes an investInProperty call. Transactions that are not
	// such a call fail with domain.ErrTransactionMismatch.
	Transaction(ctx context.Context, hash common.Hash) (*InvestmentCall, error)
	PropertyDetails(ctx context.Context, ledgerID uint64) (*PropertySnapshot, error)
	InvestorDetails(ctx context.Context, ledgerID uint64, investor common.Address) (*PositionSnapshot, error)
	PropertyCount(ctx context.Context) (uint64, error)
}

// Resolver maps durable property ids to ledger ids.
type Resolver interface {
	Resolve(ctx context.Context, durableID string) (uint64, error)
}
