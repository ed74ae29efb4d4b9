package readcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"propshare-backend/internal/domain"
	"propshare-backend/internal/infrastructure/ledger"
	"propshare-backend/internal/pkg/sharemath"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ContributionIntent is an accepted, locally validated contribution.
type ContributionIntent struct {
	InvestorID      string
	PropertyID      string
	WalletAddress   string
	Amount          *big.Int
	EstimatedShares int64
	TransactionHash *string
}

// InvestmentWrite merges a ledger position into the (investor, property) row.
type InvestmentWrite struct {
	InvestorID      string
	PropertyID      string
	WalletAddress   string
	Position        *ledger.PositionSnapshot
	Status          domain.InvestmentStatus
	TransactionHash *string
}

// OpenContribution records a PENDING contribution against the live
// investment row of the pair, creating that row if needed. When the
// transaction hash is already tracked the existing contribution is returned
// with created == false.
func (s *Service) OpenContribution(ctx context.Context, in ContributionIntent) (*domain.Contribution, bool, error) {
	var out *domain.Contribution
	created := false
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.TransactionHash != nil {
			existing, err := contributionByHash(tx, *in.TransactionHash)
			if err != nil {
				return err
			}
			if existing != nil {
				if existing.InvestorID != in.InvestorID || existing.PropertyID != in.PropertyID {
					return fmt.Errorf("%w: transaction %s is tracked for another investment", domain.ErrValidation, *in.TransactionHash)
				}
				out = existing
				return nil
			}
		}

		inv, err := liveInvestment(tx, in.InvestorID, in.PropertyID, in.WalletAddress)
		if err != nil {
			return err
		}
		c := &domain.Contribution{
			InvestmentID:    inv.ID,
			InvestorID:      in.InvestorID,
			PropertyID:      in.PropertyID,
			WalletAddress:   in.WalletAddress,
			Amount:          sharemath.ToDecimal(in.Amount),
			EstimatedShares: in.EstimatedShares,
			TransactionHash: in.TransactionHash,
			Status:          domain.StatusPending,
		}
		if err := tx.Create(c).Error; err != nil {
			return fmt.Errorf("failed to create contribution: %w", err)
		}
		out, created = c, true
		return nil
	})
	return out, created, err
}

// liveInvestment returns the non-failed row for the pair or creates a PENDING
// one. A concurrent creator wins through the partial unique index. The ledger
// keeps positions per wallet, so a live row only ever accepts the wallet it
// was opened with.
func liveInvestment(tx *gorm.DB, investorID, propertyID, wallet string) (*domain.Investment, error) {
	find := func() (*domain.Investment, error) {
		var inv domain.Investment
		err := tx.Where("investor_id = ? AND property_id = ? AND status <> ?", investorID, propertyID, domain.StatusFailed).
			First(&inv).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		if wallet != "" && !strings.EqualFold(inv.WalletAddress, wallet) {
			return nil, fmt.Errorf("%w: %w: investment %s is funded from %s", domain.ErrValidation, domain.ErrWalletMismatch, inv.ID, inv.WalletAddress)
		}
		return &inv, nil
	}
	if inv, err := find(); err != nil || inv != nil {
		return inv, err
	}
	inv := &domain.Investment{
		InvestorID:    investorID,
		PropertyID:    propertyID,
		WalletAddress: wallet,
		Status:        domain.StatusPending,
	}
	cerr := tx.Transaction(func(sp *gorm.DB) error { return sp.Create(inv).Error })
	if cerr == nil {
		return inv, nil
	}
	if again, err := find(); err != nil || again != nil {
		return again, err
	}
	return nil, fmt.Errorf("failed to create investment: %w", cerr)
}

func contributionByHash(tx *gorm.DB, hash string) (*domain.Contribution, error) {
	var c domain.Contribution
	err := tx.Where("transaction_hash = ?", hash).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// AttachTransaction stores the broadcast hash on a contribution that has none.
func (s *Service) AttachTransaction(ctx context.Context, contributionID uuid.UUID, hash string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var c domain.Contribution
		if err := tx.Where("id = ?", contributionID).First(&c).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrContributionNotFound, contributionID)
			}
			return err
		}
		if c.TransactionHash != nil {
			if *c.TransactionHash == hash {
				return nil
			}
			return fmt.Errorf("%w: contribution %s already carries %s", domain.ErrDataIntegrity, contributionID, *c.TransactionHash)
		}
		if err := tx.Model(&domain.Contribution{}).Where("id = ?", contributionID).
			Update("transaction_hash", hash).Error; err != nil {
			return err
		}
		return tx.Model(&domain.Investment{}).Where("id = ?", c.InvestmentID).
			Update("transaction_hash", hash).Error
	})
}

// CompleteContribution marks a contribution COMPLETED and merges the ledger
// position into its investment row. Completing twice is a no-op.
func (s *Service) CompleteContribution(ctx context.Context, contributionID uuid.UUID, receipt *ledger.Receipt, pos *ledger.PositionSnapshot) (*domain.Contribution, error) {
	var out domain.Contribution
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", contributionID).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrContributionNotFound, contributionID)
			}
			return err
		}
		switch out.Status {
		case domain.StatusCompleted:
			return nil
		case domain.StatusFailed:
			return fmt.Errorf("%w: contribution %s confirmed after it was marked failed", domain.ErrDataIntegrity, contributionID)
		}

		updates := map[string]interface{}{"status": domain.StatusCompleted, "updated_at": time.Now().UTC()}
		if receipt != nil {
			raw, _ := json.Marshal(receipt)
			updates["receipt"] = datatypes.JSON(raw)
			updates["confirmed_block"] = receipt.BlockNumber
			if out.TransactionHash == nil {
				updates["transaction_hash"] = receipt.TxHash.Hex()
			}
		}
		res := tx.Model(&domain.Contribution{}).Where("id = ? AND status = ?", contributionID, domain.StatusPending).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		hash := out.TransactionHash
		if hash == nil && receipt != nil {
			h := receipt.TxHash.Hex()
			hash = &h
		}
		var inv domain.Investment
		if err := tx.Where("id = ?", out.InvestmentID).First(&inv).Error; err != nil {
			return err
		}
		if err := applyInvestment(tx, &inv, pos, domain.StatusCompleted, hash); err != nil {
			return err
		}
		return tx.Where("id = ?", contributionID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// FailContribution marks a PENDING contribution FAILED. Its investment row
// fails with it only when nothing else has fed or is feeding that row.
func (s *Service) FailContribution(ctx context.Context, contributionID uuid.UUID, reason string) (*domain.Contribution, error) {
	var out domain.Contribution
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("id = ?", contributionID).First(&out).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s", domain.ErrContributionNotFound, contributionID)
			}
			return err
		}
		if out.Status.Terminal() {
			return nil
		}
		res := tx.Model(&domain.Contribution{}).Where("id = ? AND status = ?", contributionID, domain.StatusPending).
			Updates(map[string]interface{}{"status": domain.StatusFailed, "failure_reason": reason, "updated_at": time.Now().UTC()})
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}

		var others int64
		if err := tx.Model(&domain.Contribution{}).
			Where("investment_id = ? AND id <> ? AND status <> ?", out.InvestmentID, contributionID, domain.StatusFailed).
			Count(&others).Error; err != nil {
			return err
		}
		if others == 0 {
			if err := tx.Model(&domain.Investment{}).
				Where("id = ? AND status = ?", out.InvestmentID, domain.StatusPending).
				Updates(map[string]interface{}{"status": domain.StatusFailed, "updated_at": time.Now().UTC()}).Error; err != nil {
				return err
			}
		}
		return tx.Where("id = ?", contributionID).First(&out).Error
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// UpsertInvestment writes the ledger position for (investor, property),
// creating the row when none is live.
func (s *Service) UpsertInvestment(ctx context.Context, w InvestmentWrite) (*domain.Investment, error) {
	var out *domain.Investment
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		inv, err := liveInvestment(tx, w.InvestorID, w.PropertyID, w.WalletAddress)
		if err != nil {
			return err
		}
		if err := applyInvestment(tx, inv, w.Position, w.Status, w.TransactionHash); err != nil {
			return err
		}
		out = &domain.Investment{}
		return tx.Where("id = ?", inv.ID).First(out).Error
	})
	return out, err
}

// ApplyPosition refreshes the position columns of one investment row. It
// reports false when the position is not newer than what is stored.
func (s *Service) ApplyPosition(ctx context.Context, investmentID uuid.UUID, pos *ledger.PositionSnapshot) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&domain.Investment{}).
		Where("id = ? AND observed_block < ?", investmentID, pos.Block).
		Updates(positionColumns(pos))
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		log.Debug().Str("investment_id", investmentID.String()).Uint64("block", pos.Block).Msg("Stale position discarded")
	}
	return res.RowsAffected > 0, nil
}

// applyInvestment moves the status forward only (PENDING to a terminal state)
// and merges the position when it is newer than the stored one.
func applyInvestment(tx *gorm.DB, inv *domain.Investment, pos *ledger.PositionSnapshot, status domain.InvestmentStatus, hash *string) error {
	if !inv.Status.Terminal() && status.Terminal() {
		updates := map[string]interface{}{"status": status, "updated_at": time.Now().UTC()}
		if hash != nil {
			updates["transaction_hash"] = *hash
		}
		if err := tx.Model(&domain.Investment{}).Where("id = ? AND status = ?", inv.ID, domain.StatusPending).
			Updates(updates).Error; err != nil {
			return err
		}
	} else if hash != nil {
		if err := tx.Model(&domain.Investment{}).Where("id = ?", inv.ID).Update("transaction_hash", *hash).Error; err != nil {
			return err
		}
	}
	if pos == nil {
		return nil
	}
	return tx.Model(&domain.Investment{}).
		Where("id = ? AND observed_block < ?", inv.ID, pos.Block).
		Updates(positionColumns(pos)).Error
}

func positionColumns(pos *ledger.PositionSnapshot) map[string]interface{} {
	return map[string]interface{}{
		"amount":          sharemath.ToDecimal(pos.Amount),
		"shares":          pos.Shares,
		"ownership_bps":   pos.OwnershipBps,
		"unclaimed_yield": sharemath.ToDecimal(pos.UnclaimedYield),
		"claimed_yield":   sharemath.ToDecimal(pos.ClaimedYield),
		"observed_block":  pos.Block,
		"updated_at":      time.Now().UTC(),
	}
}

// ---- reads ----

func (s *Service) GetContribution(ctx context.Context, id uuid.UUID) (*domain.Contribution, error) {
	var c domain.Contribution
	if err := s.DB.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrContributionNotFound, id)
		}
		return nil, err
	}
	return &c, nil
}

func (s *Service) PendingContributions(ctx context.Context) ([]domain.Contribution, error) {
	var rows []domain.Contribution
	err := s.DB.WithContext(ctx).Where("status = ?", domain.StatusPending).Order("created_at ASC").Find(&rows).Error
	return rows, err
}

// ListInvestments returns the investor's rows with their property, newest
// first.
func (s *Service) ListInvestments(ctx context.Context, investorID string) ([]domain.Investment, error) {
	var rows []domain.Investment
	err := s.DB.WithContext(ctx).Preload("Property").
		Where("investor_id = ?", investorID).
		Order("created_at DESC").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list investments: %w", err)
	}
	return rows, nil
}

// LiveInvestments returns the non-failed rows of a property.
func (s *Service) LiveInvestments(ctx context.Context, propertyID string) ([]domain.Investment, error) {
	var rows []domain.Investment
	err := s.DB.WithContext(ctx).
		Where("property_id = ? AND status <> ?", propertyID, domain.StatusFailed).
		Find(&rows).Error
	return rows, err
}
