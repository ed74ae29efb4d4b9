// Package readcache is the only writer of the relational read cache. Every
// write of ledger-derived data is a compare-and-set on the observed block so
// an older snapshot can never overwrite a newer one.
package readcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"propshare-backend/internal/application/funding"
	"propshare-backend/internal/domain"
	"propshare-backend/internal/infrastructure/ledger"
	"propshare-backend/internal/pkg/sharemath"

	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	DefaultPageLimit = 6
	MaxPageLimit     = 100
)

type Service struct {
	DB *gorm.DB
}

// Indexes that AutoMigrate cannot express.
func (s *Service) Migrate(ctx context.Context) error {
	return s.DB.WithContext(ctx).Exec(
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_investment_open_pair ON investments (investor_id, property_id) WHERE status <> 'FAILED'`,
	).Error
}

// ---- properties ----

func (s *Service) GetProperty(ctx context.Context, id string) (*domain.Property, error) {
	var p domain.Property
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPropertyNotFound, id)
		}
		return nil, err
	}
	return &p, nil
}

func (s *Service) GetPropertyByLedgerID(ctx context.Context, ledgerID uint64) (*domain.Property, error) {
	var p domain.Property
	if err := s.DB.WithContext(ctx).Where("ledger_id = ?", ledgerID).First(&p).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: ledger id %d", domain.ErrPropertyNotFound, ledgerID)
		}
		return nil, err
	}
	return &p, nil
}

// ListProperties pages through cached properties, newest first. Page is
// 1-based; a non-positive limit falls back to DefaultPageLimit.
func (s *Service) ListProperties(ctx context.Context, page, limit int) ([]domain.Property, bool, error) {
	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		limit = DefaultPageLimit
	}
	if limit > MaxPageLimit {
		limit = MaxPageLimit
	}
	var rows []domain.Property
	err := s.DB.WithContext(ctx).
		Order("created_at DESC").Order("ledger_id DESC").
		Limit(limit + 1).Offset((page - 1) * limit).
		Find(&rows).Error
	if err != nil {
		return nil, false, fmt.Errorf("failed to list properties: %w", err)
	}
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	return rows, hasMore, nil
}

func (s *Service) AllProperties(ctx context.Context) ([]domain.Property, error) {
	var rows []domain.Property
	if err := s.DB.WithContext(ctx).Order("ledger_id ASC").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Descriptive fields that live only in the cache.
type PropertyDetails struct {
	Location       string
	Description    string
	Image          string
	RiskLevel      string
	ExpectedReturn string
}

// CreatePropertyWith inserts a property row from a ledger snapshot inside a
// caller-owned transaction.
func (s *Service) CreatePropertyWith(tx *gorm.DB, durableID string, snap *ledger.PropertySnapshot, d PropertyDetails) (*domain.Property, error) {
	obs := observationOf(snap)
	if err := funding.Validate(obs); err != nil {
		return nil, err
	}
	p := &domain.Property{
		ID:             durableID,
		LedgerID:       snap.LedgerID,
		Location:       d.Location,
		Description:    d.Description,
		Image:          d.Image,
		RiskLevel:      d.RiskLevel,
		ExpectedReturn: d.ExpectedReturn,
	}
	applySnapshot(p, snap)
	if err := tx.Create(p).Error; err != nil {
		return nil, fmt.Errorf("failed to create property: %w", err)
	}
	return p, nil
}

// UpsertProperty merges a ledger snapshot into the cached property. It reports
// false when the snapshot was stale and discarded; that is not an error.
func (s *Service) UpsertProperty(ctx context.Context, durableID string, snap *ledger.PropertySnapshot) (bool, error) {
	applied := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var cur domain.Property
		err := tx.Where("id = ?", durableID).First(&cur).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			if _, err := s.CreatePropertyWith(tx, durableID, snap, PropertyDetails{}); err != nil {
				return err
			}
			applied = true
			return nil
		}
		if err != nil {
			return err
		}
		if cur.LedgerID != snap.LedgerID {
			return fmt.Errorf("%w: property %s is ledger id %d, snapshot is %d", domain.ErrDataIntegrity, durableID, cur.LedgerID, snap.LedgerID)
		}

		next, err := funding.Transition(funding.StateOf(&cur), observationOf(snap))
		if err != nil {
			return err
		}
		res := tx.Model(&domain.Property{}).
			Where("id = ? AND observed_block < ?", durableID, snap.Block).
			Updates(map[string]interface{}{
				"available_shares": snap.AvailableShares,
				"funding_complete": next == funding.FundingComplete,
				"token_address":    snap.TokenAddress.Hex(),
				"metadata_uri":     snap.MetadataURI,
				"ledger_payload":   payloadOf(snap),
				"observed_block":   snap.Block,
				"updated_at":       time.Now().UTC(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: property %s advanced concurrently", domain.ErrCacheWriteConflict, durableID)
		}
		if next != funding.StateOf(&cur).State {
			log.Info().Str("property_id", durableID).Str("state", string(next)).Uint64("block", snap.Block).Msg("Property funding state changed")
		}
		applied = true
		return nil
	})
	if errors.Is(err, domain.ErrCacheWriteConflict) {
		log.Debug().Err(err).Str("property_id", durableID).Msg("Stale property snapshot discarded")
		return false, nil
	}
	return applied, err
}

func observationOf(snap *ledger.PropertySnapshot) funding.Observation {
	return funding.Observation{
		AvailableShares: snap.AvailableShares,
		TotalShares:     snap.TotalShares,
		FundingComplete: snap.FundingComplete,
		Block:           snap.Block,
	}
}

func applySnapshot(p *domain.Property, snap *ledger.PropertySnapshot) {
	p.Name = snap.Name
	p.Symbol = snap.Symbol
	p.TokenAddress = snap.TokenAddress.Hex()
	p.MetadataURI = snap.MetadataURI
	p.Value = sharemath.ToDecimal(snap.Value)
	p.TotalShares = snap.TotalShares
	p.AvailableShares = snap.AvailableShares
	p.MinInvestment = sharemath.ToDecimal(snap.MinInvestment)
	p.FundingComplete = snap.AvailableShares == 0
	p.LedgerPayload = payloadOf(snap)
	if !snap.CreatedAt.IsZero() {
		at := snap.CreatedAt
		p.LedgerCreatedAt = &at
	}
	p.ObservedBlock = snap.Block
}

func payloadOf(snap *ledger.PropertySnapshot) datatypes.JSON {
	b, _ := json.Marshal(map[string]interface{}{
		"ledger_id":        snap.LedgerID,
		"token_address":    snap.TokenAddress.Hex(),
		"property_value":   snap.Value.String(),
		"total_shares":     snap.TotalShares,
		"available_shares": snap.AvailableShares,
		"min_investment":   snap.MinInvestment.String(),
		"funding_complete": snap.FundingComplete,
		"block":            snap.Block,
	})
	return datatypes.JSON(b)
}
