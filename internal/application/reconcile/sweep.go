package reconcile

import (
	"context"
	"errors"
	"sync"
	"time"

	"propshare-backend/internal/domain"
	"propshare-backend/internal/infrastructure/ledger"
	"propshare-backend/internal/pkg/sharemath"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// SweepReport summarises one sweep.
type SweepReport struct {
	Properties int      `json:"properties"`
	Applied    int      `json:"applied"`
	Stale      int      `json:"stale"`
	Resolved   int      `json:"resolved"`
	Expired    int      `json:"expired"`
	Positions  int      `json:"positions"`
	Errors     int      `json:"errors"`
	Unmapped   []uint64 `json:"unmapped"`
}

type tally struct {
	mu sync.Mutex
	r  SweepReport
}

func (t *tally) add(f func(r *SweepReport)) {
	t.mu.Lock()
	f(&t.r)
	t.mu.Unlock()
}

func (t *tally) fail() {
	sweepErrorsTotal.Inc()
	t.add(func(r *SweepReport) { r.Errors++ })
}

// Sweep reconciles the whole cache against the ledger: settle pending
// contributions, overwrite every cached property and live position with a
// fresh snapshot, and report ledger properties nobody has imported. Item
// failures are counted, not returned; only cancellation aborts the sweep.
func (e *Engine) Sweep(ctx context.Context) (SweepReport, error) {
	start := time.Now()
	defer func() { sweepDuration.Observe(time.Since(start).Seconds()) }()

	t := &tally{}
	if err := e.sweepPending(ctx, t); err != nil {
		return t.r, err
	}
	if err := e.sweepProperties(ctx, t); err != nil {
		return t.r, err
	}
	if err := e.discover(ctx, t); err != nil {
		return t.r, err
	}

	log.Info().
		Int("properties", t.r.Properties).Int("applied", t.r.Applied).Int("stale", t.r.Stale).
		Int("resolved", t.r.Resolved).Int("expired", t.r.Expired).Int("positions", t.r.Positions).
		Int("errors", t.r.Errors).Int("unmapped", len(t.r.Unmapped)).
		Dur("took", time.Since(start)).Msg("Reconciliation sweep finished")
	return t.r, nil
}

// sweepPending checks each PENDING contribution once. Unknown transactions
// older than PendingExpiry are treated as dropped.
func (e *Engine) sweepPending(ctx context.Context, t *tally) error {
	rows, err := e.cache.PendingContributions(ctx)
	if err != nil {
		return err
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)
	for i := range rows {
		c := rows[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			expired := e.now().Sub(c.CreatedAt) > e.opts.PendingExpiry
			if c.TransactionHash == nil {
				if expired {
					e.expire(gctx, t, &c, "never broadcast")
				}
				return nil
			}
			amount, err := sharemath.FromDecimal(c.Amount)
			if err != nil {
				log.Error().Err(err).Str("contribution_id", c.ID.String()).Msg("Pending contribution has an unusable amount")
				t.fail()
				return nil
			}
			pending := ledger.PendingReceipt{
				TxHash:      common.HexToHash(*c.TransactionHash),
				PropertyID:  c.PropertyID,
				Investor:    common.HexToAddress(c.WalletAddress),
				Amount:      amount,
				SubmittedAt: c.CreatedAt,
			}
			switch e.confirm(gctx, &c, pending, 0) {
			case ledger.Confirmed, ledger.Reverted:
				t.add(func(r *SweepReport) { r.Resolved++ })
			default:
				if expired {
					e.expire(gctx, t, &c, "transaction not found before expiry")
				}
			}
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) expire(ctx context.Context, t *tally, c *domain.Contribution, reason string) {
	failed, err := e.cache.FailContribution(ctx, c.ID, reason)
	if err != nil {
		log.Error().Err(err).Str("contribution_id", c.ID.String()).Msg("Failed to expire contribution")
		t.fail()
		return
	}
	log.Warn().Str("contribution_id", c.ID.String()).Str("reason", reason).Msg("Pending contribution expired")
	t.add(func(r *SweepReport) { r.Expired++ })
	e.notify(ctx, failed)
}

func (e *Engine) sweepProperties(ctx context.Context, t *tally) error {
	props, err := e.cache.AllProperties(ctx)
	if err != nil {
		return err
	}
	t.add(func(r *SweepReport) { r.Properties = len(props) })

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.SweepConcurrency)
	for i := range props {
		p := props[i]
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			e.sweepProperty(gctx, t, &p)
			return nil
		})
	}
	return g.Wait()
}

func (e *Engine) sweepProperty(ctx context.Context, t *tally, p *domain.Property) {
	logger := log.With().Str("property_id", p.ID).Uint64("ledger_id", p.LedgerID).Logger()

	snap, err := e.gateway.FetchPropertyState(ctx, p.ID)
	if err != nil {
		logger.Warn().Err(err).Msg("Sweep could not read property")
		t.fail()
		return
	}
	applied, err := e.cache.UpsertProperty(ctx, p.ID, snap)
	switch {
	case err != nil:
		logger.Error().Err(err).Msg("Sweep could not merge property")
		t.fail()
		return
	case applied:
		t.add(func(r *SweepReport) { r.Applied++ })
	default:
		staleWritesTotal.WithLabelValues("property").Inc()
		t.add(func(r *SweepReport) { r.Stale++ })
	}

	invs, err := e.cache.LiveInvestments(ctx, p.ID)
	if err != nil {
		logger.Error().Err(err).Msg("Sweep could not list investments")
		t.fail()
		return
	}
	for _, inv := range invs {
		if !common.IsHexAddress(inv.WalletAddress) {
			continue
		}
		pos, err := e.gateway.FetchInvestorPosition(ctx, p.ID, common.HexToAddress(inv.WalletAddress))
		if err != nil {
			logger.Warn().Err(err).Str("investment_id", inv.ID.String()).Msg("Sweep could not read position")
			t.fail()
			continue
		}
		ok, err := e.cache.ApplyPosition(ctx, inv.ID, pos)
		if err != nil {
			logger.Error().Err(err).Str("investment_id", inv.ID.String()).Msg("Sweep could not merge position")
			t.fail()
			continue
		}
		if ok {
			t.add(func(r *SweepReport) { r.Positions++ })
		} else {
			staleWritesTotal.WithLabelValues("position").Inc()
		}
	}
}

// discover logs ledger properties that have no durable id yet.
func (e *Engine) discover(ctx context.Context, t *tally) error {
	count, err := e.gateway.PropertyCount(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Msg("Sweep could not read property count")
		t.fail()
		return nil
	}
	for id := uint64(0); id < count; id++ {
		_, err := e.ids.ReverseResolve(ctx, id)
		if errors.Is(err, domain.ErrIdentifierUnresolved) {
			t.add(func(r *SweepReport) { r.Unmapped = append(r.Unmapped, id) })
			continue
		}
		if err != nil {
			return err
		}
	}
	if len(t.r.Unmapped) > 0 {
		log.Info().Interface("ledger_ids", t.r.Unmapped).Msg("Ledger properties without a durable id")
	}
	return nil
}
