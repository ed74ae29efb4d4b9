package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contribution is a single submission (one ledger transaction) feeding an
// Investment row. Its status moves PENDING -> COMPLETED or PENDING -> FAILED once.
type Contribution struct {
	ID              uuid.UUID        `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	InvestmentID    uuid.UUID        `gorm:"column:investment_id;type:uuid;not null;index" json:"investment_id"`
	InvestorID      string           `gorm:"column:investor_id;type:varchar(128);not null;index" json:"investor_id"`
	PropertyID      string           `gorm:"column:property_id;type:varchar(64);not null;index" json:"property_id"`
	WalletAddress   string           `gorm:"column:wallet_address;type:varchar(42);not null" json:"wallet_address"`
	Amount          decimal.Decimal  `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	EstimatedShares int64            `gorm:"column:estimated_shares;not null;default:0" json:"estimated_shares"`
	TransactionHash *string          `gorm:"column:transaction_hash;type:varchar(66);uniqueIndex" json:"transaction_hash"`
	Status          InvestmentStatus `gorm:"column:status;type:varchar(16);not null;index" json:"status"`
	FailureReason   *string          `gorm:"column:failure_reason" json:"failure_reason,omitempty"`
	ConfirmedBlock  *uint64          `gorm:"column:confirmed_block" json:"confirmed_block,omitempty"`
	Receipt         datatypes.JSON   `gorm:"column:receipt" json:"receipt,omitempty"`
	CreatedAt       time.Time        `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time        `gorm:"column:updated_at" json:"updated_at"`
}

func (Contribution) TableName() string {
	return "contributions"
}

func (c *Contribution) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}
