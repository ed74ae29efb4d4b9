package domain

import "time"

// IdentifierMapping binds a durable property id to its ledger id. Rows are
// written once and never updated.
type IdentifierMapping struct {
	DurableID string    `gorm:"column:durable_id;type:varchar(64);primaryKey" json:"durable_id"`
	LedgerID  uint64    `gorm:"column:ledger_id;not null;uniqueIndex" json:"ledger_id"`
	CreatedAt time.Time `gorm:"column:created_at" json:"created_at"`
}

func (IdentifierMapping) TableName() string {
	return "identifier_mappings"
}
