// Package config loads and validates the YAML configuration spec.md §6
// describes as "consumed from an external loader": cache, http_client,
// upstream_groups, retry, static_rules and remote_rules. Loading here is
// one-shot and validated, exactly the way the teacher's
// internal/config/config.go builds a Config from spf13/viper: env-prefixed
// (LOADANTS_*) over YAML over hardcoded defaults.
package config

import "time"

// Config is the fully loaded, validated, range-checked application
// configuration.
type Config struct {
	Server  ServerConfig
	Cache   CacheConfig
	HTTP    HTTPClientConfig
	Retry   RetryConfig
	Groups  []UpstreamGroupConfig
	Static  []RuleConfig
	Remote  []RemoteRuleConfig
	Logging LoggingConfig
	API     APIConfig
	Store   StoreConfig
}

// ServerConfig describes the listener plumbing (external collaborator per
// spec.md §1, but still validated config here since it comes from the same
// YAML document).
type ServerConfig struct {
	Host            string
	UDPPort         int
	TCPPort         int
	DoHHost         string
	DoHPort         int
	DoHCertFile     string
	DoHKeyFile      string
	QueryTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// CacheConfig mirrors spec.md §6's `cache` block.
type CacheConfig struct {
	Enabled     bool
	MaxSize     int
	MinTTL      time.Duration
	MaxTTL      time.Duration
	NegativeTTL time.Duration
}

// HTTPClientConfig mirrors spec.md §6's `http_client` block, the defaults
// applied to every upstream group unless overridden per-group.
type HTTPClientConfig struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
	IdleTimeout    time.Duration
	Keepalive      time.Duration
	UserAgent      string
}

// RetryConfig mirrors spec.md §6's `retry` block.
type RetryConfig struct {
	Attempts int
	Delay    time.Duration
}

// Strategy/Method/ContentType/AuthKind are string-typed enums decoded
// directly from YAML, the way the teacher's WorkerSetting decodes
// "auto"/<n> unions.
type (
	Strategy    string
	Method      string
	ContentType string
	AuthKind    string
)

const (
	StrategyRoundRobin Strategy = "round_robin"
	StrategyWeighted   Strategy = "weighted"
	StrategyRandom     Strategy = "random"

	MethodGet  Method = "GET"
	MethodPost Method = "POST"

	ContentTypeDNSMessage ContentType = "DNS-MESSAGE"
	ContentTypeJSON       ContentType = "JSON"

	AuthNone   AuthKind = ""
	AuthBasic  AuthKind = "basic"
	AuthBearer AuthKind = "bearer"
)

// AuthConfig mirrors spec.md §3's `auth ∈ Option<{Basic|Bearer}>`.
type AuthConfig struct {
	Kind  AuthKind
	User  string
	Pass  string
	Token string
}

// UpstreamServerConfig mirrors spec.md §3's "Upstream server spec".
type UpstreamServerConfig struct {
	URL         string
	Weight      int
	Method      Method
	ContentType ContentType
	Auth        *AuthConfig
}

// UpstreamGroupConfig mirrors spec.md §3's "Upstream group".
type UpstreamGroupConfig struct {
	Name     string
	Strategy Strategy
	Servers  []UpstreamServerConfig
	Retry    *RetryConfig
	Proxy    string
	HTTP     *HTTPClientConfig // overrides the top-level http_client block
}

// MatchType/ActionKind mirror spec.md §3's Rule shape.
type MatchType string

const (
	MatchExact    MatchType = "exact"
	MatchWildcard MatchType = "wildcard"
	MatchRegex    MatchType = "regex"
)

type ActionKind string

const (
	ActionForward ActionKind = "forward"
	ActionBlock   ActionKind = "block"
)

// RuleConfig mirrors spec.md §3's "Rule" for static_rules.
type RuleConfig struct {
	MatchType MatchType
	Patterns  []string
	Action    ActionKind
	Target    string
}

// RemoteRuleConfig mirrors spec.md §4.8's remote source shape.
type RemoteRuleConfig struct {
	Name        string
	URL         string
	Action      ActionKind
	Target      string
	MaxBodySize int64
	Proxy       string
	Auth        *AuthConfig
	Interval    time.Duration
}

// LoggingConfig is carried regardless of spec.md's listed Non-goals, per
// SPEC_FULL.md's ambient-stack rule.
type LoggingConfig struct {
	Level      string
	Structured bool
}

// APIConfig describes the admin/introspection HTTP API of SPEC_FULL.md §4.
type APIConfig struct {
	Enabled bool
	Host    string
	Port    int
	APIKey  string
}

// StoreConfig describes the rule-load history sqlite store.
type StoreConfig struct {
	Path string
}
