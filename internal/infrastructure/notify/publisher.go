// Package notify pushes contribution status changes to Redis pub/sub so a
// gateway in front of the presentation layer can stream them to investors.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"propshare-backend/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const channelPrefix = "investments:"

// StatusEvent is the message published on investments:<investorId>.
type StatusEvent struct {
	ContributionID  string                  `json:"contribution_id"`
	InvestmentID    string                  `json:"investment_id"`
	PropertyID      string                  `json:"property_id"`
	Status          domain.InvestmentStatus `json:"status"`
	TransactionHash *string                 `json:"transaction_hash,omitempty"`
	FailureReason   *string                 `json:"failure_reason,omitempty"`
	At              time.Time               `json:"at"`
}

func Channel(investorID string) string {
	return channelPrefix + investorID
}

// Publisher is best effort: a failed publish is logged and otherwise ignored.
// A nil Publisher or one without a client does nothing.
type Publisher struct {
	Rdb *redis.Client
}

func (p *Publisher) ContributionChanged(ctx context.Context, c *domain.Contribution) {
	if p == nil || p.Rdb == nil || c == nil {
		return
	}
	b, err := json.Marshal(StatusEvent{
		ContributionID:  c.ID.String(),
		InvestmentID:    c.InvestmentID.String(),
		PropertyID:      c.PropertyID,
		Status:          c.Status,
		TransactionHash: c.TransactionHash,
		FailureReason:   c.FailureReason,
		At:              time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if err := p.Rdb.Publish(ctx, Channel(c.InvestorID), b).Err(); err != nil {
		log.Warn().Err(err).Str("contribution_id", c.ID.String()).Msg("Failed to publish contribution status")
	}
}
