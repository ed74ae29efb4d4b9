package health

import (
	"context"
	"encoding/json"
	"runtime"
	"strconv"
	"time"

	"propshare-backend/internal/middleware"

	"github.com/redis/go-redis/v9"
)

const checkTimeout = 3 * time.Second

// DBPinger is optional for health check. If nil, database is reported as disconnected.
type DBPinger interface {
	Ping() error
}

// LedgerCounter is a cheap read against the ledger.
type LedgerCounter interface {
	PropertyCount(ctx context.Context) (uint64, error)
}

// Dependencies are the services a health check reads. Any may be nil.
type Dependencies struct {
	Rdb        *redis.Client
	DB         DBPinger
	Ledger     LedgerCounter
	LedgerMode string
}

// CollectResult is the payload of /health/json and the dashboard.
type CollectResult struct {
	Status       string               `json:"status"`
	Runtime      RuntimeInfo          `json:"runtime"`
	Traffic      TrafficInfo          `json:"traffic"`
	Dependencies map[string]DepStatus `json:"dependencies"`
}

type RuntimeInfo struct {
	UptimeSeconds int64      `json:"uptimeSeconds"`
	Memory        MemoryInfo `json:"memory"`
	Goroutines    int        `json:"goroutines"`
	Platform      string     `json:"platform"`
	GoVersion     string     `json:"goVersion"`
}

type MemoryInfo struct {
	Alloc    int `json:"alloc"`
	HeapUsed int `json:"heapUsed"`
}

type TrafficInfo struct {
	TotalRequests   int         `json:"totalRequests"`
	SuccessCount    int         `json:"successCount"`
	FailedCount     int         `json:"failedCount"`
	SuccessRate     string      `json:"successRate"`
	AvgResponseTime interface{} `json:"avgResponseTime"`
	LastRequest     interface{} `json:"lastRequest"`
}

type DepStatus struct {
	Status string      `json:"status"`
	PingMs *int64      `json:"pingMs"`
	Detail interface{} `json:"detail,omitempty"`
}

// CollectHealth checks the database, Redis and the ledger and reads the
// request counters kept by middleware.HealthMarker. Status is "ok" only when
// the database and ledger answer and Redis, if configured, answers too.
func CollectHealth(ctx context.Context, deps Dependencies) CollectResult {
	result := CollectResult{Dependencies: make(map[string]DepStatus)}

	dbStatus := "disconnected"
	var dbPing *int64
	if deps.DB != nil {
		start := time.Now()
		if err := deps.DB.Ping(); err == nil {
			dbPing = sinceMs(start)
			dbStatus = "connected"
		} else {
			dbStatus = "error"
		}
	}
	result.Dependencies["database"] = DepStatus{Status: dbStatus, PingMs: dbPing}

	redisStatus := "disabled"
	var redisPing *int64
	stats := TrafficInfo{AvgResponseTime: 0, SuccessRate: "100"}
	startTimeMs := time.Now().UnixMilli()
	if deps.Rdb != nil {
		start := time.Now()
		if err := deps.Rdb.Ping(ctx).Err(); err == nil {
			redisPing = sinceMs(start)
			redisStatus = "connected"
			startTimeMs = readTraffic(ctx, deps.Rdb, &stats, startTimeMs)
		} else {
			redisStatus = "error"
		}
	}
	result.Dependencies["redis"] = DepStatus{Status: redisStatus, PingMs: redisPing}
	result.Traffic = stats

	ledgerStatus := "disconnected"
	var ledgerPing *int64
	var ledgerDetail interface{}
	if deps.Ledger != nil {
		pctx, cancel := context.WithTimeout(ctx, checkTimeout)
		start := time.Now()
		n, err := deps.Ledger.PropertyCount(pctx)
		cancel()
		if err == nil {
			ledgerPing = sinceMs(start)
			ledgerStatus = "reachable"
			ledgerDetail = map[string]interface{}{"mode": deps.LedgerMode, "properties": n}
		} else {
			ledgerStatus = "unreachable"
			ledgerDetail = map[string]interface{}{"mode": deps.LedgerMode, "error": err.Error()}
		}
	}
	result.Dependencies["ledger"] = DepStatus{Status: ledgerStatus, PingMs: ledgerPing, Detail: ledgerDetail}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptimeSec := (time.Now().UnixMilli() - startTimeMs) / 1000
	if uptimeSec < 0 {
		uptimeSec = 0
	}
	result.Runtime = RuntimeInfo{
		UptimeSeconds: uptimeSec,
		Memory:        MemoryInfo{Alloc: int(m.Alloc / 1024 / 1024), HeapUsed: int(m.HeapInuse / 1024 / 1024)},
		Goroutines:    runtime.NumGoroutine(),
		Platform:      runtime.GOOS + " (" + runtime.GOARCH + ")",
		GoVersion:     runtime.Version(),
	}

	result.Status = "issue"
	if dbStatus == "connected" && ledgerStatus == "reachable" && redisStatus != "error" {
		result.Status = "ok"
	}
	return result
}

// readTraffic fills stats from the middleware counters and returns the
// recorded start time, seeding it on first use.
func readTraffic(ctx context.Context, rdb *redis.Client, stats *TrafficInfo, startTimeMs int64) int64 {
	vals, err := rdb.MGet(ctx,
		middleware.KeyReqTotal, middleware.KeyReqErrors, middleware.KeyResTime,
		middleware.KeyResCount, middleware.KeyStartTime, middleware.KeyLastReq,
	).Result()
	if err != nil {
		return startTimeMs
	}
	str := func(i int) string {
		s, _ := vals[i].(string)
		return s
	}

	if t, err := strconv.ParseInt(str(4), 10, 64); err == nil {
		startTimeMs = t
	} else {
		rdb.Set(ctx, middleware.KeyStartTime, startTimeMs, 0)
	}

	stats.TotalRequests, _ = strconv.Atoi(str(0))
	stats.FailedCount, _ = strconv.Atoi(str(1))
	stats.SuccessCount = stats.TotalRequests - stats.FailedCount
	if stats.TotalRequests > 0 {
		stats.SuccessRate = strconv.FormatFloat(float64(stats.SuccessCount)/float64(stats.TotalRequests)*100, 'f', 1, 64)
	}
	timeSum, _ := strconv.ParseFloat(str(2), 64)
	if count, _ := strconv.Atoi(str(3)); count > 0 {
		stats.AvgResponseTime = strconv.FormatFloat(timeSum/float64(count), 'f', 2, 64)
	}
	if last := str(5); last != "" {
		var lastReq map[string]interface{}
		if json.Unmarshal([]byte(last), &lastReq) == nil {
			stats.LastRequest = lastReq
		}
	}
	return startTimeMs
}

func sinceMs(start time.Time) *int64 {
	ms := time.Since(start).Milliseconds()
	return &ms
}
