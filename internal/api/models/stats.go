package models

import "time"

// CPUStats contains system CPU statistics.
type CPUStats struct {
	NumCPU      int     `json:"num_cpu"`
	UsedPercent float64 `json:"used_percent"`
	IdlePercent float64 `json:"idle_percent"`
}

// MemoryStats contains system memory statistics.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	FreeMB      float64 `json:"free_mb"`
	UsedMB      float64 `json:"used_mb"`
	UsedPercent float64 `json:"used_percent"`
}

// CacheStats mirrors internal/cache.Cache's introspection surface: size,
// capacity and hit/miss counters.
type CacheStats struct {
	Enabled  bool    `json:"enabled"`
	Size     int     `json:"size"`
	Capacity int     `json:"capacity"`
	Hits     int     `json:"hits"`
	Misses   int     `json:"misses"`
	HitRate  float64 `json:"hit_rate"`
}

// RouteStats mirrors internal/router.Router.RuleCounts: the number of
// compiled rules per tier.
type RouteStats struct {
	Total    int `json:"total"`
	Exact    int `json:"exact"`
	Wildcard int `json:"wildcard"`
	Regex    int `json:"regex"`
}

// UpstreamGroupStats reports whether an upstream group has at least one
// server currently eligible for selection.
type UpstreamGroupStats struct {
	Name      string `json:"name"`
	Servers   int    `json:"servers"`
	Reachable bool   `json:"reachable"`
}

// ServerStatsResponse contains server runtime statistics, per
// SPEC_FULL.md's admin API: cache size/hit-rate, route rule counts, and
// upstream group health.
type ServerStatsResponse struct {
	Uptime        string               `json:"uptime"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	StartTime     time.Time            `json:"start_time"`
	CPU           CPUStats             `json:"cpu"`
	Memory        MemoryStats          `json:"memory"`
	Cache         CacheStats           `json:"cache"`
	Routes        RouteStats           `json:"routes"`
	Upstreams     []UpstreamGroupStats `json:"upstreams"`
}
