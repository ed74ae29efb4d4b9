package middleware

import (
	"context"
	"encoding/json"
	"time"

	"propshare-backend/internal/pkg/response"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const errorLogSize = 100

// ErrorHandler is the global error handler. Domain errors returned by
// handlers are mapped to their HTTP status; server errors are logged and
// appended to the health error log when Redis is available.
func ErrorHandler(rdb *redis.Client) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code, kind, message := response.StatusFor(err)
		if code >= fiber.StatusInternalServerError {
			log.Error().Err(err).
				Str("trace_id", GetTraceID(c)).
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", code).
				Msg("Request failed")
			recordError(rdb, c, code, err)
		}
		return response.Error(c, message, code, map[string]interface{}{"kind": kind})
	}
}

func recordError(rdb *redis.Client, c *fiber.Ctx, code int, err error) {
	if rdb == nil {
		return
	}
	entry, _ := json.Marshal(map[string]interface{}{
		"time":     time.Now().UTC(),
		"method":   c.Method(),
		"path":     c.OriginalURL(),
		"status":   code,
		"message":  err.Error(),
		"trace_id": GetTraceID(c),
	})
	ctx := context.Background()
	pipe := rdb.TxPipeline()
	pipe.LPush(ctx, KeyErrorLog, entry)
	pipe.LTrim(ctx, KeyErrorLog, 0, errorLogSize-1)
	if _, perr := pipe.Exec(ctx); perr != nil {
		log.Warn().Err(perr).Msg("Failed to record error log entry")
	}
}
