package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"time"

	"propshare-backend/internal/domain"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"
)

// Options bound the retry and polling behaviour of a Gateway.
type Options struct {
	MaxAttempts    uint
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	PollInterval   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = 4
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 200 * time.Millisecond
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 5 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	return o
}

// Gateway is safe for concurrent use. It holds no session state beyond the
// injected backend and resolver.
type Gateway struct {
	backend Backend
	ids     Resolver
	opts    Options
	flight  singleflight.Group
}

func NewGateway(backend Backend, ids Resolver, opts Options) *Gateway {
	return &Gateway{backend: backend, ids: ids, opts: opts.withDefaults()}
}

// SubmitInvestment signs and broadcasts investInProperty for the property.
// Unresolvable ids fail before the ledger is contacted. When broadcasting
// stays unavailable after retries, the receipt of the signed transaction is
// still returned alongside the error: the node may have accepted it.
func (g *Gateway) SubmitInvestment(ctx context.Context, propertyID string, investor common.Address, amount *big.Int) (PendingReceipt, error) {
	ledgerID, err := g.ids.Resolve(ctx, propertyID)
	if err != nil {
		return PendingReceipt{}, err
	}
	if amount == nil || amount.Sign() <= 0 {
		return PendingReceipt{}, fmt.Errorf("%w: %w: amount must be positive", domain.ErrValidation, domain.ErrMalformedAmount)
	}

	signed, err := retry(ctx, g, "prepare_investment", func() (*SignedInvestment, error) {
		return g.backend.PrepareInvestment(ctx, ledgerID, investor, amount)
	})
	if err != nil {
		return PendingReceipt{}, err
	}
	pending := PendingReceipt{
		TxHash:      signed.Hash,
		PropertyID:  propertyID,
		LedgerID:    ledgerID,
		Investor:    investor,
		Amount:      new(big.Int).Set(amount),
		SubmittedAt: time.Now().UTC(),
		Verified:    true,
	}
	if _, err := retry(ctx, g, "send_investment", func() (struct{}, error) {
		return struct{}{}, g.backend.SendInvestment(ctx, signed)
	}); err != nil {
		if errors.Is(err, domain.ErrLedgerUnavailable) {
			return pending, err
		}
		return PendingReceipt{}, err
	}

	log.Info().Str("property_id", propertyID).Uint64("ledger_id", ledgerID).Str("tx_hash", signed.Hash.Hex()).Msg("Investment transaction sent")
	return pending, nil
}

// TrackTransaction builds a PendingReceipt for a transaction the investor's
// own wallet already broadcast. A transaction the ledger knows must match the
// claimed property, sender and amount. One the node has not seen yet is
// accepted unverified and checked again once it confirms.
func (g *Gateway) TrackTransaction(ctx context.Context, propertyID string, investor common.Address, amount *big.Int, hash common.Hash) (PendingReceipt, error) {
	ledgerID, err := g.ids.Resolve(ctx, propertyID)
	if err != nil {
		return PendingReceipt{}, err
	}
	if hash == (common.Hash{}) {
		return PendingReceipt{}, fmt.Errorf("%w: transaction hash is required", domain.ErrValidation)
	}
	if amount == nil || amount.Sign() <= 0 {
		return PendingReceipt{}, fmt.Errorf("%w: %w: amount must be positive", domain.ErrValidation, domain.ErrMalformedAmount)
	}
	pending := PendingReceipt{
		TxHash:      hash,
		PropertyID:  propertyID,
		LedgerID:    ledgerID,
		Investor:    investor,
		Amount:      new(big.Int).Set(amount),
		SubmittedAt: time.Now().UTC(),
	}
	switch err := g.VerifyTransaction(ctx, pending); {
	case err == nil:
		pending.Verified = true
	case errors.Is(err, ErrTransactionNotFound), errors.Is(err, domain.ErrLedgerUnavailable):
		log.Info().Err(err).Str("tx_hash", hash.Hex()).Msg("Tracking transaction before it could be verified")
	default:
		return PendingReceipt{}, err
	}
	return pending, nil
}

// VerifyTransaction checks that pending.TxHash is an investInProperty call
// into pending's property, sent by pending.Investor with exactly
// pending.Amount attached.
func (g *Gateway) VerifyTransaction(ctx context.Context, pending PendingReceipt) error {
	ledgerID, err := g.ids.Resolve(ctx, pending.PropertyID)
	if err != nil {
		return err
	}
	if pending.Amount == nil {
		return fmt.Errorf("%w: pending transaction %s carries no amount", domain.ErrDataIntegrity, pending.TxHash.Hex())
	}
	call, err := retry(ctx, g, "transaction", func() (*InvestmentCall, error) {
		return g.backend.Transaction(ctx, pending.TxHash)
	})
	if err != nil {
		return err
	}
	switch {
	case call.LedgerID != ledgerID:
		return fmt.Errorf("%w: %w: %s invests in ledger property %d, not %d", domain.ErrValidation, domain.ErrTransactionMismatch, pending.TxHash.Hex(), call.LedgerID, ledgerID)
	case call.From != pending.Investor:
		return fmt.Errorf("%w: %w: %s was sent by %s, not %s", domain.ErrValidation, domain.ErrTransactionMismatch, pending.TxHash.Hex(), call.From.Hex(), pending.Investor.Hex())
	case call.Value == nil || call.Value.Cmp(pending.Amount) != 0:
		return fmt.Errorf("%w: %w: %s carries %v, not %s", domain.ErrValidation, domain.ErrTransactionMismatch, pending.TxHash.Hex(), call.Value, pending.Amount)
	}
	return nil
}

// AwaitConfirmation polls for the receipt until it appears or timeout
// elapses. A zero timeout checks exactly once. Cancelling ctx abandons the
// wait only; the transaction itself is unaffected.
func (g *Gateway) AwaitConfirmation(ctx context.Context, pending PendingReceipt, timeout time.Duration) (Confirmation, error) {
	deadline := time.Now().Add(timeout)
	for {
		r, err := g.backend.Receipt(ctx, pending.TxHash)
		switch {
		case err == nil:
			out := Confirmed
			if !r.Succeeded {
				out = Reverted
			}
			return Confirmation{Outcome: out, Receipt: r}, nil
		case errors.Is(err, ErrReceiptNotFound):
		case errors.Is(err, domain.ErrLedgerUnavailable):
			log.Warn().Err(err).Str("tx_hash", pending.TxHash.Hex()).Msg("Receipt poll failed, will retry")
		default:
			return Confirmation{}, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return Confirmation{Outcome: TimedOut}, nil
		}
		wait := g.opts.PollInterval
		if wait > remaining {
			wait = remaining
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return Confirmation{}, ctx.Err()
		case <-t.C:
		}
	}
}

// FetchPropertyState reads the property's current ledger state. Concurrent
// reads of the same property share one backend call, so the snapshot may
// predate the call by the length of a flight.
func (g *Gateway) FetchPropertyState(ctx context.Context, propertyID string) (*PropertySnapshot, error) {
	ledgerID, err := g.ids.Resolve(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return g.coalescedDetails(ctx, ledgerID)
}

// FetchPropertyStateSince reads the property's state at or after minBlock.
// A coalesced read that is older is discarded and the ledger is read again
// directly; a node still behind minBlock is reported unavailable.
func (g *Gateway) FetchPropertyStateSince(ctx context.Context, propertyID string, minBlock uint64) (*PropertySnapshot, error) {
	ledgerID, err := g.ids.Resolve(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	snap, err := g.coalescedDetails(ctx, ledgerID)
	if err != nil || snap.Block >= minBlock {
		return snap, err
	}
	g.flight.Forget(strconv.FormatUint(ledgerID, 10))
	snap, err = retry(ctx, g, "property_details", func() (*PropertySnapshot, error) {
		return g.backend.PropertyDetails(ctx, ledgerID)
	})
	if err != nil {
		return nil, err
	}
	if snap.Block < minBlock {
		return nil, fmt.Errorf("%w: property %d read at block %d, behind %d", domain.ErrLedgerUnavailable, ledgerID, snap.Block, minBlock)
	}
	return snap, nil
}

func (g *Gateway) coalescedDetails(ctx context.Context, ledgerID uint64) (*PropertySnapshot, error) {
	v, err, _ := g.flight.Do(strconv.FormatUint(ledgerID, 10), func() (interface{}, error) {
		return retry(ctx, g, "property_details", func() (*PropertySnapshot, error) {
			return g.backend.PropertyDetails(ctx, ledgerID)
		})
	})
	if err != nil {
		return nil, err
	}
	snap := *v.(*PropertySnapshot)
	return &snap, nil
}

// FetchInvestorPosition reads the investor's cumulative position.
func (g *Gateway) FetchInvestorPosition(ctx context.Context, propertyID string, investor common.Address) (*PositionSnapshot, error) {
	ledgerID, err := g.ids.Resolve(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	return retry(ctx, g, "investor_details", func() (*PositionSnapshot, error) {
		return g.backend.InvestorDetails(ctx, ledgerID, investor)
	})
}

// PropertyCount returns how many properties the ledger knows.
func (g *Gateway) PropertyCount(ctx context.Context) (uint64, error) {
	return retry(ctx, g, "property_count", func() (uint64, error) {
		return g.backend.PropertyCount(ctx)
	})
}

// retry runs fn with bounded exponential backoff. Only errors classified as
// domain.ErrLedgerUnavailable are retried.
func retry[T any](ctx context.Context, g *Gateway, op string, fn func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.opts.InitialBackoff
	b.MaxInterval = g.opts.MaxBackoff

	return backoff.Retry(ctx, func() (T, error) {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrLedgerUnavailable) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(g.opts.MaxAttempts),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Str("op", op).Dur("next", next).Msg("Ledger call failed, retrying")
		}),
	)
}
