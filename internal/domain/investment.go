package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type InvestmentStatus string

const (
	StatusPending   InvestmentStatus = "PENDING"
	StatusCompleted InvestmentStatus = "COMPLETED"
	StatusFailed    InvestmentStatus = "FAILED"
)

// Terminal reports whether no further status transition is allowed.
func (s InvestmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Investment is one investor's cumulative stake in one property, mirrored from
// the ledger position. At most one non-failed row exists per (investor, property).
type Investment struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InvestorID      string           `gorm:"column:investor_id;type:varchar(128);not null;index" json:"investor_id"`
	PropertyID      string           `gorm:"column:property_id;type:varchar(64);not null;index" json:"property_id"`
	WalletAddress   string           `gorm:"column:wallet_address;type:varchar(42);not null" json:"wallet_address"`
	Amount          decimal.Decimal  `gorm:"column:amount;type:numeric(78,0);not null;default:0" json:"amount"`
	Shares          int64            `gorm:"column:shares;not null;default:0" json:"shares"`
	OwnershipBps    int64            `gorm:"column:ownership_bps;not null;default:0" json:"ownership_bps"`
	UnclaimedYield  decimal.Decimal  `gorm:"column:unclaimed_yield;type:numeric(78,0);not null;default:0" json:"unclaimed_yield"`
	ClaimedYield    decimal.Decimal  `gorm:"column:claimed_yield;type:numeric(78,0);not null;default:0" json:"claimed_yield"`
	TransactionHash *string          `gorm:"column:transaction_hash;type:varchar(66)" json:"transaction_hash"`
	Status          InvestmentStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	ObservedBlock   uint64           `gorm:"column:observed_block;not null;default:0" json:"observed_block"`
	CreatedAt       time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at" json:"updated_at"`

	Property *Property `gorm:"foreignKey:PropertyID;references:ID" json:"property,omitempty"`
}

func (Investment) TableName() string {
	return "investments"
}

func (i *Investment) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}
