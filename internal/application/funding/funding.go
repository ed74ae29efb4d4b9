// Package funding drives a property's lifecycle from OPEN to FUNDING_COMPLETE
// using authoritative share counts only.
package funding

import (
	"fmt"
	"math/big"

	"propshare-backend/internal/domain"
	"propshare-backend/internal/pkg/sharemath"
)

type State string

const (
	Open            State = "OPEN"
	FundingComplete State = "FUNDING_COMPLETE"
)

// Observation is the slice of a ledger snapshot the machine needs.
type Observation struct {
	AvailableShares int64
	TotalShares     int64
	FundingComplete bool
	Block           uint64
}

// Current is the state already merged into the cache for a property.
type Current struct {
	State         State
	Available     int64
	TotalShares   int64
	ObservedBlock uint64
}

// StateOf derives the state from a cached row.
func StateOf(p *domain.Property) Current {
	s := Open
	if p.FundingComplete {
		s = FundingComplete
	}
	return Current{State: s, Available: p.AvailableShares, TotalShares: p.TotalShares, ObservedBlock: p.ObservedBlock}
}

// Validate rejects snapshots that break the property invariants on their own.
func Validate(o Observation) error {
	if o.TotalShares <= 0 {
		return fmt.Errorf("%w: total shares %d", domain.ErrDataIntegrity, o.TotalShares)
	}
	if o.AvailableShares < 0 || o.AvailableShares > o.TotalShares {
		return fmt.Errorf("%w: available shares %d outside [0, %d]", domain.ErrDataIntegrity, o.AvailableShares, o.TotalShares)
	}
	if o.FundingComplete != (o.AvailableShares == 0) {
		return fmt.Errorf("%w: funding flag %t disagrees with %d available shares", domain.ErrDataIntegrity, o.FundingComplete, o.AvailableShares)
	}
	return nil
}

// Transition returns the state after applying o on top of cur. It returns
// domain.ErrCacheWriteConflict when o must be discarded: it is not newer than
// the applied marker, or it would re-open a completed property or raise the
// available count.
func Transition(cur Current, o Observation) (State, error) {
	if err := Validate(o); err != nil {
		return cur.State, err
	}
	if o.Block <= cur.ObservedBlock {
		return cur.State, fmt.Errorf("%w: block %d <= applied %d", domain.ErrCacheWriteConflict, o.Block, cur.ObservedBlock)
	}
	if cur.TotalShares > 0 && o.TotalShares != cur.TotalShares {
		return cur.State, fmt.Errorf("%w: total shares changed %d -> %d", domain.ErrDataIntegrity, cur.TotalShares, o.TotalShares)
	}
	if cur.State == FundingComplete {
		if o.AvailableShares != 0 {
			return cur.State, fmt.Errorf("%w: completed property observed with %d available", domain.ErrCacheWriteConflict, o.AvailableShares)
		}
		return FundingComplete, nil
	}
	if cur.TotalShares > 0 && o.AvailableShares > cur.Available {
		return cur.State, fmt.Errorf("%w: available shares rose %d -> %d", domain.ErrCacheWriteConflict, cur.Available, o.AvailableShares)
	}
	if o.AvailableShares == 0 {
		return FundingComplete, nil
	}
	return Open, nil
}

// FundedBasisPoints is the sold fraction of a property in basis points.
func FundedBasisPoints(totalShares, availableShares int64) (int64, error) {
	bps, err := sharemath.OwnershipBasisPoints(big.NewInt(totalShares-availableShares), big.NewInt(totalShares))
	if err != nil {
		return 0, err
	}
	return bps.Int64(), nil
}
