package handlers

import (
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/jroosing/loadants/internal/api/models"
)

// Health godoc
// @Summary Health check
// @Description Returns server health status
// @Tags system
// @Produce json
// @Success 200 {object} models.StatusResponse
// @Router /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, models.StatusResponse{Status: "ok"})
}

// Stats godoc
// @Summary Server statistics
// @Description Returns runtime statistics: system CPU/memory usage, cache
// @Description size and hit rate, compiled route rule counts, and
// @Description upstream group health.
// @Tags system
// @Produce json
// @Success 200 {object} models.ServerStatsResponse
// @Security ApiKeyAuth
// @Router /stats [get]
func (h *Handler) Stats(c *gin.Context) {
	uptime := time.Since(h.startTime)

	memStats := models.MemoryStats{}
	if vmStat, err := mem.VirtualMemory(); err == nil {
		memStats.TotalMB = float64(vmStat.Total) / 1024 / 1024
		memStats.FreeMB = float64(vmStat.Available) / 1024 / 1024
		memStats.UsedMB = float64(vmStat.Used) / 1024 / 1024
		memStats.UsedPercent = vmStat.UsedPercent
	}

	cpuStats := models.CPUStats{NumCPU: runtime.NumCPU()}
	if cpuPercent, err := cpu.Percent(200*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		cpuStats.UsedPercent = cpuPercent[0]
		cpuStats.IdlePercent = 100.0 - cpuPercent[0]
	}

	resp := models.ServerStatsResponse{
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		CPU:           cpuStats,
		Memory:        memStats,
		Cache:         h.cacheStats(),
		Routes:        h.routeStats(),
		Upstreams:     h.upstreamStats(),
	}

	c.JSON(http.StatusOK, resp)
}

func (h *Handler) cacheStats() models.CacheStats {
	if h.core == nil || h.core.Cache() == nil {
		return models.CacheStats{}
	}
	c := h.core.Cache()
	hits, misses := c.Stats()
	stats := models.CacheStats{
		Enabled:  c.Enabled(),
		Size:     c.Len(),
		Capacity: c.Capacity(),
		Hits:     hits,
		Misses:   misses,
	}
	if total := hits + misses; total > 0 {
		stats.HitRate = float64(hits) / float64(total)
	}
	return stats
}

func (h *Handler) routeStats() models.RouteStats {
	if h.core == nil || h.core.Router() == nil {
		return models.RouteStats{}
	}
	counts := h.core.Router().RuleCounts()
	return models.RouteStats{
		Total:    h.core.Router().Size(),
		Exact:    counts["exact"],
		Wildcard: counts["wildcard"],
		Regex:    counts["regex"],
	}
}

func (h *Handler) upstreamStats() []models.UpstreamGroupStats {
	if h.up == nil {
		return nil
	}
	groups := h.up.Groups()
	out := make([]models.UpstreamGroupStats, 0, len(groups))
	for _, g := range groups {
		out = append(out, models.UpstreamGroupStats{Name: g.Name, Servers: g.Servers, Reachable: g.Reachable})
	}
	return out
}
