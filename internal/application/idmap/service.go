package idmap

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"propshare-backend/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

const cachePrefix = "idmap:durable:"

// Service resolves durable property ids to ledger ids. A numeric durable id
// is used as the ledger id directly; anything else must have a mapping row.
// There is no fallback id: an unknown identifier is always an error.
type Service struct {
	DB  *gorm.DB
	Rdb *redis.Client // optional read-through cache; mappings never change so keys have no TTL
}

// Resolve returns the ledger id for durableID or domain.ErrIdentifierUnresolved.
func (s *Service) Resolve(ctx context.Context, durableID string) (uint64, error) {
	id := strings.TrimSpace(durableID)
	if id == "" {
		return 0, fmt.Errorf("%w: empty identifier", domain.ErrIdentifierUnresolved)
	}
	if n, ok := numericID(id); ok {
		return n, nil
	}

	if s.Rdb != nil {
		v, err := s.Rdb.Get(ctx, cachePrefix+id).Result()
		switch {
		case err == nil:
			if n, perr := strconv.ParseUint(v, 10, 64); perr == nil {
				return n, nil
			}
			log.Warn().Str("durable_id", id).Str("value", v).Msg("Discarding malformed identifier cache entry")
		case !errors.Is(err, redis.Nil):
			log.Warn().Err(err).Str("durable_id", id).Msg("Identifier cache unavailable, reading database")
		}
	}

	if s.DB == nil {
		return 0, fmt.Errorf("%w: %q (no mapping table)", domain.ErrIdentifierUnresolved, id)
	}
	var m domain.IdentifierMapping
	if err := s.DB.WithContext(ctx).Where("durable_id = ?", id).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, fmt.Errorf("%w: %q", domain.ErrIdentifierUnresolved, id)
		}
		return 0, err
	}

	if s.Rdb != nil {
		if err := s.Rdb.Set(ctx, cachePrefix+id, strconv.FormatUint(m.LedgerID, 10), 0).Err(); err != nil {
			log.Warn().Err(err).Str("durable_id", id).Msg("Failed to cache identifier mapping")
		}
	}
	return m.LedgerID, nil
}

// ReverseResolve returns the durable id registered for ledgerID.
func (s *Service) ReverseResolve(ctx context.Context, ledgerID uint64) (string, error) {
	var m domain.IdentifierMapping
	if err := s.DB.WithContext(ctx).Where("ledger_id = ?", ledgerID).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", fmt.Errorf("%w: ledger id %d", domain.ErrIdentifierUnresolved, ledgerID)
		}
		return "", err
	}
	return m.DurableID, nil
}

// Register binds durableID to ledgerID. Registering the same pair again is a
// no-op; a pair conflicting with an existing mapping fails with
// domain.ErrIdentifierConflict.
func (s *Service) Register(ctx context.Context, durableID string, ledgerID uint64) error {
	return s.RegisterWith(s.DB.WithContext(ctx), durableID, ledgerID)
}

// RegisterWith is Register inside a caller-owned transaction.
func (s *Service) RegisterWith(tx *gorm.DB, durableID string, ledgerID uint64) error {
	id := strings.TrimSpace(durableID)
	if id == "" {
		return fmt.Errorf("%w: durable id is required", domain.ErrValidation)
	}
	if n, ok := numericID(id); ok && n != ledgerID {
		return fmt.Errorf("%w: numeric id %q cannot map to ledger id %d", domain.ErrIdentifierConflict, id, ledgerID)
	}

	ok, err := checkExisting(tx, id, ledgerID)
	if err != nil || ok {
		return err
	}
	if err := tx.Create(&domain.IdentifierMapping{DurableID: id, LedgerID: ledgerID}).Error; err != nil {
		// lost a race against a concurrent registration; the winner decides
		if ok, cerr := checkExisting(tx, id, ledgerID); cerr == nil && ok {
			return nil
		} else if cerr != nil {
			return cerr
		}
		return err
	}
	return nil
}

// checkExisting reports whether the exact pair already exists.
func checkExisting(tx *gorm.DB, durableID string, ledgerID uint64) (bool, error) {
	var rows []domain.IdentifierMapping
	if err := tx.Where("durable_id = ? OR ledger_id = ?", durableID, ledgerID).Find(&rows).Error; err != nil {
		return false, err
	}
	for _, r := range rows {
		if r.DurableID != durableID || r.LedgerID != ledgerID {
			return false, fmt.Errorf("%w: %q -> %d exists", domain.ErrIdentifierConflict, r.DurableID, r.LedgerID)
		}
	}
	return len(rows) > 0, nil
}

func numericID(id string) (uint64, bool) {
	n, err := strconv.ParseUint(id, 10, 64)
	return n, err == nil
}
