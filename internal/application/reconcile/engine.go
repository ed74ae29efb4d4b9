// Package reconcile moves contributions from intent to a settled cache state:
// validate locally, submit to the ledger, await confirmation and merge what
// the ledger reports. A periodic sweep repairs anything the per-submission
// workers missed. The ledger always wins.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"propshare-backend/internal/application/readcache"
	"propshare-backend/internal/domain"
	"propshare-backend/internal/infrastructure/ledger"
	"propshare-backend/internal/pkg/sharemath"
	"propshare-backend/internal/pkg/validation"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
)

// Identifiers is the part of the identifier mapper the engine needs.
type Identifiers interface {
	Resolve(ctx context.Context, durableID string) (uint64, error)
	ReverseResolve(ctx context.Context, ledgerID uint64) (string, error)
}

// Notifier receives every contribution status change.
type Notifier interface {
	ContributionChanged(ctx context.Context, c *domain.Contribution)
}

type Options struct {
	ConfirmTimeout   time.Duration
	PendingExpiry    time.Duration
	SweepConcurrency int
}

func (o Options) withDefaults() Options {
	if o.ConfirmTimeout <= 0 {
		o.ConfirmTimeout = 90 * time.Second
	}
	if o.PendingExpiry <= 0 {
		o.PendingExpiry = time.Hour
	}
	if o.SweepConcurrency <= 0 {
		o.SweepConcurrency = 4
	}
	return o
}

type Engine struct {
	gateway  *ledger.Gateway
	cache    *readcache.Service
	ids      Identifiers
	notifier Notifier
	opts     Options

	workers sync.WaitGroup
	now     func() time.Time
}

func NewEngine(gw *ledger.Gateway, cache *readcache.Service, ids Identifiers, notifier Notifier, opts Options) *Engine {
	return &Engine{
		gateway:  gw,
		cache:    cache,
		ids:      ids,
		notifier: notifier,
		opts:     opts.withDefaults(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SubmitRequest is a new contribution signed by the service's custodial key
// for the wallet.
type SubmitRequest struct {
	PropertyID    string
	InvestorID    string
	WalletAddress string
	Amount        *big.Int
}

// TrackRequest registers a contribution the investor's own wallet already
// broadcast.
type TrackRequest struct {
	PropertyID      string
	InvestorID      string
	WalletAddress   string
	Amount          *big.Int
	TransactionHash string
}

// Submit validates the contribution against cached terms, records it PENDING
// and broadcasts it. Confirmation and merge continue on a background worker
// that outlives ctx. The returned contribution carries the transaction hash.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*domain.Contribution, error) {
	wallet, err := parseWallet(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.InvestorID) == "" {
		return nil, fmt.Errorf("%w: investor identity is required", domain.ErrValidation)
	}
	prop, alloc, err := e.intake(ctx, req.PropertyID, req.Amount)
	if err != nil {
		submissionsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}

	c, _, err := e.cache.OpenContribution(ctx, readcache.ContributionIntent{
		InvestorID:      req.InvestorID,
		PropertyID:      prop.ID,
		WalletAddress:   wallet.Hex(),
		Amount:          req.Amount,
		EstimatedShares: alloc.Shares.Int64(),
	})
	if err != nil {
		return nil, err
	}

	pending, err := e.gateway.SubmitInvestment(ctx, prop.ID, wallet, req.Amount)
	if err != nil {
		submissionsTotal.WithLabelValues(outcomeOf(err)).Inc()
		if errors.Is(err, domain.ErrLedgerUnavailable) && pending.TxHash != (common.Hash{}) {
			// Signed but possibly broadcast: keep it PENDING for the sweep.
			if aerr := e.cache.AttachTransaction(ctx, c.ID, pending.TxHash.Hex()); aerr != nil {
				log.Error().Err(aerr).Str("contribution_id", c.ID.String()).Msg("Failed to record transaction hash")
			}
			log.Warn().Err(err).Str("contribution_id", c.ID.String()).Str("tx_hash", pending.TxHash.Hex()).Msg("Broadcast unconfirmed, leaving contribution pending")
			return nil, err
		}
		if failed, ferr := e.cache.FailContribution(ctx, c.ID, err.Error()); ferr != nil {
			log.Error().Err(ferr).Str("contribution_id", c.ID.String()).Msg("Failed to mark contribution failed")
		} else {
			e.notify(ctx, failed)
		}
		return nil, err
	}
	submissionsTotal.WithLabelValues("submitted").Inc()

	if err := e.cache.AttachTransaction(ctx, c.ID, pending.TxHash.Hex()); err != nil {
		return nil, err
	}
	if c, err = e.cache.GetContribution(ctx, c.ID); err != nil {
		return nil, err
	}
	e.notify(ctx, c)
	e.spawn(ctx, c, pending)
	return c, nil
}

// Track starts reconciling a transaction broadcast by the investor's wallet.
// A transaction the ledger already knows must invest exactly Amount from
// WalletAddress into PropertyID. Tracking the same hash again returns the
// existing contribution.
func (e *Engine) Track(ctx context.Context, req TrackRequest) (*domain.Contribution, error) {
	wallet, err := parseWallet(req.WalletAddress)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.InvestorID) == "" {
		return nil, fmt.Errorf("%w: investor identity is required", domain.ErrValidation)
	}
	if !validation.IsValidTxHash(req.TransactionHash) {
		return nil, fmt.Errorf("%w: malformed transaction hash %q", domain.ErrValidation, req.TransactionHash)
	}
	if req.Amount == nil || req.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("%w: %w: amount must be positive", domain.ErrValidation, domain.ErrMalformedAmount)
	}
	prop, err := e.cachedProperty(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}

	hash := common.HexToHash(req.TransactionHash)
	pending, err := e.gateway.TrackTransaction(ctx, prop.ID, wallet, req.Amount, hash)
	if err != nil {
		submissionsTotal.WithLabelValues(outcomeOf(err)).Inc()
		return nil, err
	}

	hex := hash.Hex()
	c, created, err := e.cache.OpenContribution(ctx, readcache.ContributionIntent{
		InvestorID:      req.InvestorID,
		PropertyID:      prop.ID,
		WalletAddress:   wallet.Hex(),
		Amount:          req.Amount,
		TransactionHash: &hex,
	})
	if err != nil || !created {
		return c, err
	}
	e.notify(ctx, c)
	e.spawn(ctx, c, pending)
	return c, nil
}

// Wait blocks until every confirmation worker has returned.
func (e *Engine) Wait() {
	e.workers.Wait()
}

func (e *Engine) spawn(ctx context.Context, c *domain.Contribution, pending ledger.PendingReceipt) {
	detached := context.WithoutCancel(ctx)
	e.workers.Add(1)
	go func() {
		defer e.workers.Done()
		e.confirm(detached, c, pending, e.opts.ConfirmTimeout)
	}()
}

// confirm waits for the receipt and settles the contribution. A timeout
// leaves it PENDING for the sweep. A confirmed transaction that was never
// checked against the contribution is verified before anything is merged.
func (e *Engine) confirm(ctx context.Context, c *domain.Contribution, pending ledger.PendingReceipt, timeout time.Duration) ledger.Outcome {
	conf, err := e.gateway.AwaitConfirmation(ctx, pending, timeout)
	if err != nil {
		log.Warn().Err(err).Str("contribution_id", c.ID.String()).Msg("Confirmation wait failed")
		return ledger.TimedOut
	}
	confirmationsTotal.WithLabelValues(conf.Outcome.String()).Inc()

	if conf.Outcome == ledger.Confirmed && !pending.Verified {
		if err := e.gateway.VerifyTransaction(ctx, pending); err != nil {
			if !errors.Is(err, domain.ErrValidation) {
				log.Warn().Err(err).Str("contribution_id", c.ID.String()).Msg("Could not verify confirmed transaction, sweep will retry")
				return ledger.TimedOut
			}
			log.Error().Err(err).Str("contribution_id", c.ID.String()).Msg("Confirmed transaction does not match contribution")
			failed, ferr := e.cache.FailContribution(ctx, c.ID, err.Error())
			if ferr != nil {
				log.Error().Err(ferr).Str("contribution_id", c.ID.String()).Msg("Failed to mark mismatched contribution")
			} else {
				e.notify(ctx, failed)
			}
			return ledger.Reverted
		}
	}

	switch conf.Outcome {
	case ledger.Confirmed:
		confirmationWait.Observe(time.Since(pending.SubmittedAt).Seconds())
		if err := e.merge(ctx, c, pending.Investor, conf.Receipt); err != nil {
			log.Warn().Err(err).Str("contribution_id", c.ID.String()).Msg("Merge after confirmation failed, sweep will retry")
		}
	case ledger.Reverted:
		failed, err := e.cache.FailContribution(ctx, c.ID, "transaction reverted")
		if err != nil {
			log.Error().Err(err).Str("contribution_id", c.ID.String()).Msg("Failed to mark reverted contribution")
		} else {
			e.notify(ctx, failed)
		}
	default:
		log.Info().Str("contribution_id", c.ID.String()).Str("tx_hash", pending.TxHash.Hex()).Msg("Confirmation timed out, contribution stays pending")
	}
	return conf.Outcome
}

// merge writes ledger state read at or after the receipt's block, never
// local estimates.
func (e *Engine) merge(ctx context.Context, c *domain.Contribution, investor common.Address, receipt *ledger.Receipt) error {
	var since uint64
	if receipt != nil {
		since = receipt.BlockNumber
	}
	snap, err := e.gateway.FetchPropertyStateSince(ctx, c.PropertyID, since)
	if err != nil {
		return err
	}
	pos, err := e.gateway.FetchInvestorPosition(ctx, c.PropertyID, investor)
	if err != nil {
		return err
	}
	if pos.Block < since {
		return fmt.Errorf("%w: position read at block %d, behind receipt block %d", domain.ErrLedgerUnavailable, pos.Block, since)
	}
	done, err := e.cache.CompleteContribution(ctx, c.ID, receipt, pos)
	if err != nil {
		return err
	}
	applied, err := e.cache.UpsertProperty(ctx, c.PropertyID, snap)
	if err != nil {
		return err
	}
	if !applied {
		staleWritesTotal.WithLabelValues("property").Inc()
	}
	log.Info().Str("contribution_id", c.ID.String()).Str("property_id", c.PropertyID).Int64("shares", pos.Shares).Int64("available", snap.AvailableShares).Msg("Contribution merged")
	e.notify(ctx, done)
	return nil
}

// intake checks the contribution against cached terms without touching the
// ledger.
func (e *Engine) intake(ctx context.Context, propertyID string, amount *big.Int) (*domain.Property, sharemath.Allocation, error) {
	prop, err := e.cachedProperty(ctx, propertyID)
	if err != nil {
		return nil, sharemath.Allocation{}, err
	}
	if prop.FundingComplete {
		return nil, sharemath.Allocation{}, fmt.Errorf("%w: %w: property %s", domain.ErrLedgerRejected, domain.ErrFundingComplete, prop.ID)
	}
	value, err := sharemath.FromDecimal(prop.Value)
	if err != nil {
		return nil, sharemath.Allocation{}, err
	}
	minimum, err := sharemath.FromDecimal(prop.MinInvestment)
	if err != nil {
		return nil, sharemath.Allocation{}, err
	}
	alloc, err := sharemath.Allocate(sharemath.Terms{
		Value:         value,
		TotalShares:   big.NewInt(prop.TotalShares),
		MinInvestment: minimum,
	}, amount, big.NewInt(prop.AvailableShares))
	if err != nil {
		return nil, sharemath.Allocation{}, err
	}
	return prop, alloc, nil
}

// cachedProperty loads the property row. An id that is neither cached nor
// resolvable is reported as unresolved.
func (e *Engine) cachedProperty(ctx context.Context, propertyID string) (*domain.Property, error) {
	prop, err := e.cache.GetProperty(ctx, propertyID)
	if errors.Is(err, domain.ErrPropertyNotFound) {
		if _, rerr := e.ids.Resolve(ctx, propertyID); rerr != nil {
			return nil, rerr
		}
	}
	return prop, err
}

func (e *Engine) notify(ctx context.Context, c *domain.Contribution) {
	if e.notifier != nil && c != nil {
		e.notifier.ContributionChanged(ctx, c)
	}
}

func parseWallet(s string) (common.Address, error) {
	s = strings.TrimSpace(s)
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("%w: %w: %q", domain.ErrValidation, domain.ErrInvalidWallet, s)
	}
	return common.HexToAddress(s), nil
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return "invalid"
	case errors.Is(err, domain.ErrWalletDeclined):
		return "declined"
	case errors.Is(err, domain.ErrLedgerRejected):
		return "rejected"
	case errors.Is(err, domain.ErrLedgerUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrIdentifierUnresolved):
		return "unresolved"
	default:
		return "error"
	}
}
