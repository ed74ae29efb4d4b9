package properties

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"propshare-backend/internal/application/idmap"
	"propshare-backend/internal/application/readcache"
	"propshare-backend/internal/domain"
	"propshare-backend/internal/infrastructure/ledger"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

type Service struct {
	DB     *gorm.DB
	Cache  *readcache.Service
	IDs    *idmap.Service
	Ledger *ledger.Gateway
}

func (s *Service) List(ctx context.Context, page, limit int) ([]domain.Property, bool, error) {
	return s.Cache.ListProperties(ctx, page, limit)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Property, error) {
	return s.Cache.GetProperty(ctx, id)
}

// Import brings a property that already exists on the ledger into the cache
// under a fresh durable id. Importing an already mapped ledger id returns the
// cached row and created=false.
func (s *Service) Import(ctx context.Context, ledgerID uint64, d readcache.PropertyDetails) (*domain.Property, bool, error) {
	if p, err := s.existing(ctx, ledgerID); err != nil || p != nil {
		return p, false, err
	}

	snap, err := s.Ledger.FetchPropertyState(ctx, strconv.FormatUint(ledgerID, 10))
	if err != nil {
		return nil, false, err
	}

	durableID := uuid.New().String()
	var created *domain.Property
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.IDs.RegisterWith(tx, durableID, ledgerID); err != nil {
			return err
		}
		p, err := s.Cache.CreatePropertyWith(tx, durableID, snap, d)
		if err != nil {
			return err
		}
		created = p
		return nil
	})
	if errors.Is(err, domain.ErrIdentifierConflict) {
		// a concurrent import registered this ledger id first
		p, eerr := s.existing(ctx, ledgerID)
		if eerr != nil {
			return nil, false, eerr
		}
		if p != nil {
			return p, false, nil
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to import ledger property %d: %w", ledgerID, err)
	}

	log.Info().
		Str("property_id", durableID).
		Uint64("ledger_id", ledgerID).
		Uint64("block", snap.Block).
		Msg("Imported ledger property")
	return created, true, nil
}

func (s *Service) existing(ctx context.Context, ledgerID uint64) (*domain.Property, error) {
	durableID, err := s.IDs.ReverseResolve(ctx, ledgerID)
	if errors.Is(err, domain.ErrIdentifierUnresolved) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p, err := s.Cache.GetProperty(ctx, durableID)
	if err != nil {
		return nil, fmt.Errorf("%w: ledger id %d is mapped to %s but not cached: %w", domain.ErrDataIntegrity, ledgerID, durableID, err)
	}
	return p, nil
}
