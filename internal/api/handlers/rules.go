package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/loadants/internal/api/models"
)

// GetRules godoc
// @Summary Compiled rule summary
// @Description Returns every compiled rule in the active router generation,
// @Description plus recent remote-rule load history when a store is configured.
// @Tags rules
// @Produce json
// @Success 200 {object} models.RulesResponse
// @Security ApiKeyAuth
// @Router /rules [get]
func (h *Handler) GetRules(c *gin.Context) {
	resp := models.RulesResponse{}

	if h.core != nil && h.core.Router() != nil {
		r := h.core.Router()
		resp.RuleCounts = r.RuleCounts()
		resp.TotalRules = r.Size()
		for _, m := range r.SortedSummary() {
			resp.Rules = append(resp.Rules, models.RuleSummaryEntry{
				RuleType: m.RuleType,
				Pattern:  m.Pattern,
				Action:   m.Action.String(),
				Target:   m.Target,
			})
		}
	}

	if h.store != nil {
		if records, err := h.store.RecentLoads(20); err == nil {
			for _, rec := range records {
				resp.LoadHistory = append(resp.LoadHistory, models.RuleLoadEvent{
					Source:        rec.Source,
					ExactCount:    rec.ExactCount,
					WildcardCount: rec.WildcardCount,
					RegexCount:    rec.RegexCount,
					Error:         rec.Error,
					LoadedAt:      rec.LoadedAt,
				})
			}
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ReloadRules godoc
// @Summary Force a remote-rule refresh
// @Description Triggers one remote-rule refresh cycle immediately, swapping
// @Description in a new router generation on success.
// @Tags rules
// @Produce json
// @Success 200 {object} models.ReloadResponse
// @Failure 503 {object} models.ErrorResponse
// @Security ApiKeyAuth
// @Router /rules/reload [post]
func (h *Handler) ReloadRules(c *gin.Context) {
	if h.loader == nil {
		c.JSON(http.StatusServiceUnavailable, models.ErrorResponse{Error: "no remote rule sources configured"})
		return
	}

	if err := h.loader.RefreshOnce(c.Request.Context()); err != nil {
		c.JSON(http.StatusOK, models.ReloadResponse{Status: "error", Error: err.Error()})
		return
	}

	resp := models.ReloadResponse{Status: "ok"}
	if h.core != nil && h.core.Router() != nil {
		resp.RuleCounts = h.core.Router().RuleCounts()
	}
	c.JSON(http.StatusOK, resp)
}
