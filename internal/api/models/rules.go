package models

import "time"

// RuleSummaryEntry is one compiled rule, as reported by
// internal/router.Router.SortedSummary.
type RuleSummaryEntry struct {
	RuleType string `json:"rule_type"`
	Pattern  string `json:"pattern"`
	Action   string `json:"action"`
	Target   string `json:"target,omitempty"`
}

// RuleLoadEvent is one recorded remote-rule refresh, as persisted by
// internal/store.
type RuleLoadEvent struct {
	Source        string    `json:"source"`
	ExactCount    int       `json:"exact_count"`
	WildcardCount int       `json:"wildcard_count"`
	RegexCount    int       `json:"regex_count"`
	Error         string    `json:"error,omitempty"`
	LoadedAt      time.Time `json:"loaded_at"`
}

// RulesResponse answers GET /api/v1/rules: the currently compiled router
// generation plus recent remote-rule load history, if a store is
// configured.
type RulesResponse struct {
	Rules       []RuleSummaryEntry `json:"rules"`
	RuleCounts  map[string]int     `json:"rule_counts"`
	TotalRules  int                `json:"total_rules"`
	LoadHistory []RuleLoadEvent    `json:"load_history,omitempty"`
}

// ReloadResponse answers POST /api/v1/rules/reload.
type ReloadResponse struct {
	Status     string         `json:"status"`
	RuleCounts map[string]int `json:"rule_counts,omitempty"`
	Error      string         `json:"error,omitempty"`
}
