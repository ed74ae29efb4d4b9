package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"propshare-backend/internal/domain"
	"propshare-backend/internal/pkg/sharemath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Operation names accepted by Simulated.FailNext and Simulated.Calls.
const (
	OpPrepare         = "prepare_investment"
	OpSend            = "send_investment"
	OpReceipt         = "receipt"
	OpTransaction     = "transaction"
	OpPropertyDetails = "property_details"
	OpInvestorDetails = "investor_details"
	OpPropertyCount   = "property_count"
)

// PropertyParams describes a property listed on the simulated ledger.
type PropertyParams struct {
	Name            string
	Symbol          string
	Value           *big.Int
	TotalShares     int64
	AvailableShares int64
	MinInvestment   *big.Int
	MetadataURI     string
}

type simProperty struct {
	params    PropertyParams
	token     common.Address
	available int64
	complete  bool
	createdAt time.Time
}

type simPosition struct {
	amount *big.Int
	shares int64
}

type simTx struct {
	inv     SignedInvestment
	receipt *Receipt
}

// Simulated is an in-memory ledger with the same arithmetic as the deployed
// PropertyFactory contract. Ledger ids start at 0. With auto-mining on (the
// default) every sent transaction is included immediately in its own block.
type Simulated struct {
	mu sync.Mutex

	block      uint64
	nonce      uint64
	autoMine   bool
	properties []*simProperty
	positions  map[uint64]map[common.Address]*simPosition
	balances   map[common.Address]*big.Int
	declined   map[common.Address]bool
	txs        map[common.Hash]*simTx
	mempool    []common.Hash
	failures   map[string]int
	calls      map[string]int
}

func NewSimulated() *Simulated {
	return &Simulated{
		autoMine:  true,
		positions: make(map[uint64]map[common.Address]*simPosition),
		balances:  make(map[common.Address]*big.Int),
		declined:  make(map[common.Address]bool),
		txs:       make(map[common.Hash]*simTx),
		failures:  make(map[string]int),
		calls:     make(map[string]int),
	}
}

// CreateProperty lists a property and returns its ledger id. A zero
// AvailableShares means all shares are available.
func (s *Simulated) CreateProperty(p PropertyParams) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.AvailableShares == 0 {
		p.AvailableShares = p.TotalShares
	}
	if p.MinInvestment == nil {
		p.MinInvestment = big.NewInt(0)
	}
	id := uint64(len(s.properties))
	s.block++
	s.properties = append(s.properties, &simProperty{
		params:    p,
		token:     common.BytesToAddress(crypto.Keccak256([]byte(fmt.Sprintf("token-%d", id)))),
		available: p.AvailableShares,
		complete:  p.AvailableShares == 0,
		createdAt: time.Now().UTC().Truncate(time.Second),
	})
	return id
}

// SetAutoMine toggles immediate inclusion of sent transactions.
func (s *Simulated) SetAutoMine(on bool) {
	s.mu.Lock()
	s.autoMine = on
	s.mu.Unlock()
}

// Mine includes every transaction waiting in the mempool and returns how many
// were included.
func (s *Simulated) Mine() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.mempool)
	for _, h := range s.mempool {
		s.include(s.txs[h])
	}
	s.mempool = nil
	return n
}

// Decline makes the wallet refuse to sign from now on.
func (s *Simulated) Decline(wallet common.Address) {
	s.mu.Lock()
	s.declined[wallet] = true
	s.mu.Unlock()
}

// SetBalance caps what the wallet can spend. Wallets without a balance are
// unlimited.
func (s *Simulated) SetBalance(wallet common.Address, amount *big.Int) {
	s.mu.Lock()
	s.balances[wallet] = new(big.Int).Set(amount)
	s.mu.Unlock()
}

// FailNext makes the next n calls of op fail as unavailable.
func (s *Simulated) FailNext(op string, n int) {
	s.mu.Lock()
	s.failures[op] += n
	s.mu.Unlock()
}

// Calls reports how many times op was invoked, failed attempts included.
func (s *Simulated) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// BlockNumber returns the current height.
func (s *Simulated) BlockNumber() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.block
}

// InvestDirect applies an investment from another actor in a new block,
// bypassing this service entirely.
func (s *Simulated) InvestDirect(ledgerID uint64, investor common.Address, amount *big.Int) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.check(ledgerID, investor, amount); err != nil {
		return nil, err
	}
	tx := &simTx{inv: SignedInvestment{
		Hash:     s.nextHash(ledgerID, investor, amount),
		LedgerID: ledgerID,
		Investor: investor,
		Amount:   new(big.Int).Set(amount),
	}}
	s.txs[tx.inv.Hash] = tx
	s.include(tx)
	return tx.receipt, nil
}

func (s *Simulated) enter(op string) error {
	s.calls[op]++
	if s.failures[op] > 0 {
		s.failures[op]--
		return fmt.Errorf("%w: simulated %s outage", domain.ErrLedgerUnavailable, op)
	}
	return nil
}

func (s *Simulated) PrepareInvestment(ctx context.Context, ledgerID uint64, investor common.Address, amount *big.Int) (*SignedInvestment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPrepare); err != nil {
		return nil, err
	}
	if s.declined[investor] {
		return nil, domain.ErrWalletDeclined
	}
	if _, err := s.check(ledgerID, investor, amount); err != nil {
		return nil, err
	}
	return &SignedInvestment{
		Hash:     s.nextHash(ledgerID, investor, amount),
		LedgerID: ledgerID,
		Investor: investor,
		Amount:   new(big.Int).Set(amount),
	}, nil
}

func (s *Simulated) SendInvestment(ctx context.Context, inv *SignedInvestment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpSend); err != nil {
		return err
	}
	if _, known := s.txs[inv.Hash]; known {
		return nil
	}
	tx := &simTx{inv: *inv}
	s.txs[inv.Hash] = tx
	if s.autoMine {
		s.include(tx)
		return nil
	}
	s.mempool = append(s.mempool, inv.Hash)
	return nil
}

func (s *Simulated) Receipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpReceipt); err != nil {
		return nil, err
	}
	tx, ok := s.txs[hash]
	if !ok || tx.receipt == nil {
		return nil, ErrReceiptNotFound
	}
	r := *tx.receipt
	return &r, nil
}

func (s *Simulated) Transaction(ctx context.Context, hash common.Hash) (*InvestmentCall, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpTransaction); err != nil {
		return nil, err
	}
	tx, ok := s.txs[hash]
	if !ok {
		return nil, ErrTransactionNotFound
	}
	return &InvestmentCall{
		Hash:     hash,
		From:     tx.inv.Investor,
		LedgerID: tx.inv.LedgerID,
		Value:    new(big.Int).Set(tx.inv.Amount),
	}, nil
}

func (s *Simulated) PropertyDetails(ctx context.Context, ledgerID uint64) (*PropertySnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPropertyDetails); err != nil {
		return nil, err
	}
	p, err := s.property(ledgerID)
	if err != nil {
		return nil, err
	}
	return &PropertySnapshot{
		LedgerID:        ledgerID,
		TokenAddress:    p.token,
		Name:            p.params.Name,
		Symbol:          p.params.Symbol,
		Value:           new(big.Int).Set(p.params.Value),
		TotalShares:     p.params.TotalShares,
		AvailableShares: p.available,
		MinInvestment:   new(big.Int).Set(p.params.MinInvestment),
		MetadataURI:     p.params.MetadataURI,
		FundingComplete: p.complete,
		CreatedAt:       p.createdAt,
		Block:           s.block,
	}, nil
}

func (s *Simulated) InvestorDetails(ctx context.Context, ledgerID uint64, investor common.Address) (*PositionSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpInvestorDetails); err != nil {
		return nil, err
	}
	p, err := s.property(ledgerID)
	if err != nil {
		return nil, err
	}
	snap := &PositionSnapshot{
		LedgerID:       ledgerID,
		Investor:       investor,
		Amount:         big.NewInt(0),
		UnclaimedYield: big.NewInt(0),
		ClaimedYield:   big.NewInt(0),
		Block:          s.block,
	}
	if pos := s.positions[ledgerID][investor]; pos != nil {
		snap.Amount = new(big.Int).Set(pos.amount)
		snap.Shares = pos.shares
		bps, err := sharemath.OwnershipBasisPoints(big.NewInt(pos.shares), big.NewInt(p.params.TotalShares))
		if err != nil {
			return nil, err
		}
		snap.OwnershipBps = bps.Int64()
	}
	return snap, nil
}

func (s *Simulated) PropertyCount(ctx context.Context) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter(OpPropertyCount); err != nil {
		return 0, err
	}
	return uint64(len(s.properties)), nil
}

func (s *Simulated) property(ledgerID uint64) (*simProperty, error) {
	if ledgerID >= uint64(len(s.properties)) {
		return nil, fmt.Errorf("%w: %w: property %d", domain.ErrLedgerRejected, domain.ErrPropertyNotOnLedger, ledgerID)
	}
	return s.properties[ledgerID], nil
}

// check runs the contract's require() guards against current state.
func (s *Simulated) check(ledgerID uint64, investor common.Address, amount *big.Int) (sharemath.Allocation, error) {
	p, err := s.property(ledgerID)
	if err != nil {
		return sharemath.Allocation{}, err
	}
	if p.complete || p.available <= 0 {
		return sharemath.Allocation{}, fmt.Errorf("%w: %w", domain.ErrLedgerRejected, domain.ErrFundingComplete)
	}
	if bal, capped := s.balances[investor]; capped && bal.Cmp(amount) < 0 {
		return sharemath.Allocation{}, fmt.Errorf("%w: %w", domain.ErrLedgerRejected, domain.ErrInsufficientFunds)
	}
	alloc, err := sharemath.Allocate(sharemath.Terms{
		Value:         p.params.Value,
		TotalShares:   big.NewInt(p.params.TotalShares),
		MinInvestment: p.params.MinInvestment,
	}, amount, big.NewInt(p.available))
	if err != nil {
		return sharemath.Allocation{}, ledgerRejection(err)
	}
	return alloc, nil
}

// include mines tx in a new block. Failed guards produce a reverted receipt.
func (s *Simulated) include(tx *simTx) {
	s.block++
	r := &Receipt{TxHash: tx.inv.Hash, BlockNumber: s.block, GasUsed: 21000}
	tx.receipt = r

	inv := tx.inv
	alloc, err := s.check(inv.LedgerID, inv.Investor, inv.Amount)
	if err != nil || s.declined[inv.Investor] {
		return
	}
	r.Succeeded = true
	r.GasUsed = 180000

	p := s.properties[inv.LedgerID]
	p.available -= alloc.Shares.Int64()
	p.complete = p.available == 0

	if bal, capped := s.balances[inv.Investor]; capped {
		bal.Sub(bal, inv.Amount)
	}
	byInvestor := s.positions[inv.LedgerID]
	if byInvestor == nil {
		byInvestor = make(map[common.Address]*simPosition)
		s.positions[inv.LedgerID] = byInvestor
	}
	pos := byInvestor[inv.Investor]
	if pos == nil {
		pos = &simPosition{amount: big.NewInt(0)}
		byInvestor[inv.Investor] = pos
	}
	pos.amount.Add(pos.amount, inv.Amount)
	pos.shares += alloc.Shares.Int64()
}

func (s *Simulated) nextHash(ledgerID uint64, investor common.Address, amount *big.Int) common.Hash {
	s.nonce++
	return crypto.Keccak256Hash(
		new(big.Int).SetUint64(ledgerID).Bytes(),
		investor.Bytes(),
		amount.Bytes(),
		new(big.Int).SetUint64(s.nonce).Bytes(),
	)
}

// ledgerRejection re-classifies a local allocation failure as the ledger's
// refusal so callers do not mistake it for bad input.
func ledgerRejection(err error) error {
	for _, leaf := range []error{
		domain.ErrInsufficientSharesAvailable,
		domain.ErrInsufficientContribution,
		domain.ErrMalformedAmount,
	} {
		if errors.Is(err, leaf) {
			return fmt.Errorf("%w: %w", domain.ErrLedgerRejected, leaf)
		}
	}
	return err
}
