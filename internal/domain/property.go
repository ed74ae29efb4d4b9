package domain

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// Property is the cached projection of a fundable asset. Share counts and the
// funding flag are written only from ledger snapshots.
type Property struct {
	ID              string          `gorm:"column:id;type:varchar(64);primaryKey" json:"id"`
	LedgerID        uint64          `gorm:"column:ledger_id;not null;uniqueIndex" json:"ledger_id"`
	Name            string          `gorm:"column:name;not null" json:"name"`
	Symbol          string          `gorm:"column:symbol;not null" json:"symbol"`
	TokenAddress    string          `gorm:"column:token_address;type:varchar(42)" json:"token_address"`
	MetadataURI     string          `gorm:"column:metadata_uri" json:"metadata_uri"`
	Value           decimal.Decimal `gorm:"column:property_value;type:numeric(78,0);not null" json:"property_value"`
	TotalShares     int64           `gorm:"column:total_shares;not null" json:"total_shares"`
	AvailableShares int64           `gorm:"column:available_shares;not null" json:"available_shares"`
	MinInvestment   decimal.Decimal `gorm:"column:min_investment;type:numeric(78,0);not null" json:"min_investment"`
	FundingComplete bool            `gorm:"column:funding_complete;not null;default:false" json:"funding_complete"`
	Location        string          `gorm:"column:location" json:"location"`
	Description     string          `gorm:"column:description" json:"description"`
	Image           string          `gorm:"column:image" json:"image"`
	RiskLevel       string          `gorm:"column:risk_level" json:"risk_level"`
	ExpectedReturn  string          `gorm:"column:expected_return" json:"expected_return"`
	LedgerPayload   datatypes.JSON  `gorm:"column:ledger_payload" json:"-"`
	LedgerCreatedAt *time.Time      `gorm:"column:ledger_created_at" json:"ledger_created_at"`
	ObservedBlock   uint64          `gorm:"column:observed_block;not null;default:0" json:"observed_block"`
	CreatedAt       time.Time       `gorm:"column:created_at" json:"created_at"`
	UpdatedAt       time.Time       `gorm:"column:updated_at" json:"updated_at"`
}

func (Property) TableName() string {
	return "properties"
}
