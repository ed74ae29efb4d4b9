package middleware

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	SessionCookieName  = "propshare.sid"
	SessionRedisPrefix = "session:"
	sessionMaxAge      = 24 * time.Hour
	sessionLocal       = "session_id"
	investorLocal      = "investor"
)

// SessionInvestor is the identity stored under "investor" in a session. The
// session is created by the account service; this service only reads it.
type SessionInvestor struct {
	InvestorID    string `json:"investor_id"`
	WalletAddress string `json:"wallet_address"`
}

type sessionData struct {
	Investor *SessionInvestor `json:"investor"`
}

// Session loads the investor identity from the Redis session named by the
// propshare.sid cookie. A signed "s:<id>.<sig>" cookie is accepted. Reads
// slide the session TTL. With a nil client every request is anonymous.
func Session(rdb *redis.Client) fiber.Handler {
	return func(c *fiber.Ctx) error {
		c.Locals(investorLocal, nil)
		sessionID := sessionIDFromCookie(c.Cookies(SessionCookieName))
		if rdb == nil || sessionID == "" {
			return c.Next()
		}

		ctx := context.Background()
		key := SessionRedisPrefix + sessionID
		b, err := rdb.Get(ctx, key).Bytes()
		switch {
		case err == redis.Nil:
			return c.Next()
		case err != nil:
			log.Warn().Err(err).Str("trace_id", GetTraceID(c)).Msg("Failed to load session")
			return c.Next()
		}

		var data sessionData
		if err := json.Unmarshal(b, &data); err != nil {
			log.Warn().Err(err).Msg("Discarding malformed session payload")
			return c.Next()
		}
		if data.Investor != nil && data.Investor.InvestorID != "" {
			c.Locals(sessionLocal, sessionID)
			c.Locals(investorLocal, data.Investor)
			_ = rdb.Expire(ctx, key, sessionMaxAge).Err()
		}
		return c.Next()
	}
}

func sessionIDFromCookie(v string) string {
	if strings.HasPrefix(v, "s:") {
		v = strings.SplitN(v[2:], ".", 2)[0]
	}
	return strings.TrimSpace(v)
}

// GetSessionID returns the current session ID (empty when anonymous).
func GetSessionID(c *fiber.Ctx) string {
	sid, _ := c.Locals(sessionLocal).(string)
	return sid
}
