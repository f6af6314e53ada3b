// AngelaMos | 2026
// handler.go

package admin

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"runtime"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/carterperez-dev/templates/credit-ledger/internal/core"
	"github.com/carterperez-dev/templates/credit-ledger/internal/ledger"
	"github.com/carterperez-dev/templates/credit-ledger/internal/profile"
)

type LedgerStats interface {
	Totals(ctx context.Context) (*ledger.Totals, error)
}

type MemberStats interface {
	CountByRole(ctx context.Context) ([]profile.RoleCount, error)
}

// RealtimeStats reports how many realtime subscriptions are open.
type RealtimeStats interface {
	Count() int
}

type Handler struct {
	dbStats    func() sql.DBStats
	redisStats func() *redis.PoolStats
	redisPing  func(ctx context.Context) error
	dbPing     func(ctx context.Context) error
	ledger     LedgerStats
	members    MemberStats
	realtime   RealtimeStats
}

type HandlerConfig struct {
	DBStats    func() sql.DBStats
	RedisStats func() *redis.PoolStats
	RedisPing  func(ctx context.Context) error
	DBPing     func(ctx context.Context) error
	Ledger     LedgerStats
	Members    MemberStats
	Realtime   RealtimeStats
}

func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		dbStats:    cfg.DBStats,
		redisStats: cfg.RedisStats,
		redisPing:  cfg.RedisPing,
		dbPing:     cfg.DBPing,
		ledger:     cfg.Ledger,
		members:    cfg.Members,
		realtime:   cfg.Realtime,
	}
}

func (h *Handler) RegisterRoutes(
	r chi.Router,
	authenticator, adminOnly func(http.Handler) http.Handler,
) {
	r.Route("/admin/stats", func(r chi.Router) {
		r.Use(authenticator)
		r.Use(adminOnly)

		r.Get("/", h.GetSystemStats)
		r.Get("/db", h.GetDatabaseStats)
		r.Get("/redis", h.GetRedisStats)
		r.Get("/runtime", h.GetRuntimeStats)
	})
}

// GetSystemStats gathers infrastructure health and business totals
// concurrently. A failing source is reported as unhealthy or omitted, never
// as a request failure.
func (h *Handler) GetSystemStats(w http.ResponseWriter, r *http.Request) {
	var (
		dbHealthy    = true
		redisHealthy = true
		credits      *ledger.Totals
		members      []profile.RoleCount
	)

	g, ctx := errgroup.WithContext(r.Context())

	if h.dbPing != nil {
		g.Go(func() error {
			dbHealthy = h.dbPing(ctx) == nil
			return nil
		})
	}

	if h.redisPing != nil {
		g.Go(func() error {
			redisHealthy = h.redisPing(ctx) == nil
			return nil
		})
	}

	if h.ledger != nil {
		g.Go(func() error {
			totals, err := h.ledger.Totals(ctx)
			if err != nil {
				slog.Warn("admin stats: credit totals", "error", err)
				return nil
			}
			credits = totals
			return nil
		})
	}

	if h.members != nil {
		g.Go(func() error {
			counts, err := h.members.CountByRole(ctx)
			if err != nil {
				slog.Warn("admin stats: member counts", "error", err)
				return nil
			}
			members = counts
			return nil
		})
	}

	//nolint:errcheck // every task reports through its own variable
	_ = g.Wait()

	response := SystemStatsResponse{
		Database: DatabaseStatus{
			Healthy: dbHealthy,
			Stats:   h.getDBStats(),
		},
		Redis: RedisStatus{
			Healthy: redisHealthy,
			Stats:   h.getRedisStats(),
		},
		Runtime: readRuntimeStats(),
		Credits: credits,
		Members: members,
	}
	if h.realtime != nil {
		clients := h.realtime.Count()
		response.RealtimeClients = &clients
	}

	core.OK(w, response)
}

func (h *Handler) GetDatabaseStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getDBStats())
}

func (h *Handler) GetRedisStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, h.getRedisStats())
}

func (h *Handler) GetRuntimeStats(w http.ResponseWriter, r *http.Request) {
	core.OK(w, readRuntimeStats())
}

func readRuntimeStats() RuntimeStats {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	return RuntimeStats{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     memStats.Alloc,
		MemSys:       memStats.Sys,
		NumGC:        memStats.NumGC,
	}
}

func (h *Handler) getDBStats() *DBPoolStats {
	if h.dbStats == nil {
		return nil
	}

	stats := h.dbStats()
	return &DBPoolStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration.String(),
		MaxIdleClosed:      stats.MaxIdleClosed,
		MaxIdleTimeClosed:  stats.MaxIdleTimeClosed,
		MaxLifetimeClosed:  stats.MaxLifetimeClosed,
	}
}

func (h *Handler) getRedisStats() *RedisPoolStats {
	if h.redisStats == nil {
		return nil
	}

	stats := h.redisStats()
	return &RedisPoolStats{
		Hits:       stats.Hits,
		Misses:     stats.Misses,
		Timeouts:   stats.Timeouts,
		TotalConns: stats.TotalConns,
		IdleConns:  stats.IdleConns,
		StaleConns: stats.StaleConns,
	}
}

type SystemStatsResponse struct {
	Database        DatabaseStatus      `json:"database"`
	Redis           RedisStatus         `json:"redis"`
	Runtime         RuntimeStats        `json:"runtime"`
	Credits         *ledger.Totals      `json:"credits,omitempty"`
	Members         []profile.RoleCount `json:"members,omitempty"`
	RealtimeClients *int                `json:"realtime_clients,omitempty"`
}

type DatabaseStatus struct {
	Healthy bool         `json:"healthy"`
	Stats   *DBPoolStats `json:"stats,omitempty"`
}

type RedisStatus struct {
	Healthy bool            `json:"healthy"`
	Stats   *RedisPoolStats `json:"stats,omitempty"`
}

type DBPoolStats struct {
	MaxOpenConnections int    `json:"max_open_connections"`
	OpenConnections    int    `json:"open_connections"`
	InUse              int    `json:"in_use"`
	Idle               int    `json:"idle"`
	WaitCount          int64  `json:"wait_count"`
	WaitDuration       string `json:"wait_duration"`
	MaxIdleClosed      int64  `json:"max_idle_closed"`
	MaxIdleTimeClosed  int64  `json:"max_idle_time_closed"`
	MaxLifetimeClosed  int64  `json:"max_lifetime_closed"`
}

type RedisPoolStats struct {
	Hits       uint32 `json:"hits"`
	Misses     uint32 `json:"misses"`
	Timeouts   uint32 `json:"timeouts"`
	TotalConns uint32 `json:"total_conns"`
	IdleConns  uint32 `json:"idle_conns"`
	StaleConns uint32 `json:"stale_conns"`
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}
