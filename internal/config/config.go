package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/jroosing/loadants/internal/apperrors"
)

// Load reads configPath (YAML) overlaid with LOADANTS_*-prefixed
// environment variables and hardcoded defaults, then validates every range
// invariant spec.md §6 lists. Validation failures are always
// apperrors.ErrConfig-wrapped and raised only here, never mid-query, per
// spec.md §7.
func Load(configPath string) (*Config, error) {
	v, err := initViper(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	loadServer(v, cfg)
	loadCache(v, cfg)
	loadHTTPClient(v, cfg)
	loadRetry(v, cfg)
	loadLogging(v, cfg)
	loadAPI(v, cfg)
	loadStore(v, cfg)

	if err := v.UnmarshalKey("upstream_groups", &cfg.Groups); err != nil {
		return nil, fmt.Errorf("parsing upstream_groups: %w", apperrors.ErrConfig)
	}
	if err := v.UnmarshalKey("static_rules", &cfg.Static); err != nil {
		return nil, fmt.Errorf("parsing static_rules: %w", apperrors.ErrConfig)
	}
	if err := v.UnmarshalKey("remote_rules", &cfg.Remote); err != nil {
		return nil, fmt.Errorf("parsing remote_rules: %w", apperrors.ErrConfig)
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func initViper(configPath string) (*viper.Viper, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOADANTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %q: %w", configPath, apperrors.ErrConfig)
		}
	}
	return v, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.udp_port", 53)
	v.SetDefault("server.tcp_port", 53)
	v.SetDefault("server.doh_host", "0.0.0.0")
	v.SetDefault("server.doh_port", 443)
	v.SetDefault("server.query_timeout", "5s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.max_size", 10000)
	v.SetDefault("cache.min_ttl", "1s")
	v.SetDefault("cache.max_ttl", "86400s")
	v.SetDefault("cache.negative_ttl", "300s")

	v.SetDefault("http_client.connect_timeout", "5s")
	v.SetDefault("http_client.request_timeout", "10s")
	v.SetDefault("http_client.agent", "loadants")

	v.SetDefault("retry.attempts", 3)
	v.SetDefault("retry.delay", "1s")

	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", true)

	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)

	v.SetDefault("store.path", "loadants.db")
}

func loadServer(v *viper.Viper, cfg *Config) {
	cfg.Server = ServerConfig{
		Host:            v.GetString("server.host"),
		UDPPort:         v.GetInt("server.udp_port"),
		TCPPort:         v.GetInt("server.tcp_port"),
		DoHHost:         v.GetString("server.doh_host"),
		DoHPort:         v.GetInt("server.doh_port"),
		DoHCertFile:     v.GetString("server.doh_cert_file"),
		DoHKeyFile:      v.GetString("server.doh_key_file"),
		QueryTimeout:    v.GetDuration("server.query_timeout"),
		ShutdownTimeout: v.GetDuration("server.shutdown_timeout"),
	}
}

func loadCache(v *viper.Viper, cfg *Config) {
	cfg.Cache = CacheConfig{
		Enabled:     v.GetBool("cache.enabled"),
		MaxSize:     v.GetInt("cache.max_size"),
		MinTTL:      v.GetDuration("cache.min_ttl"),
		MaxTTL:      v.GetDuration("cache.max_ttl"),
		NegativeTTL: v.GetDuration("cache.negative_ttl"),
	}
}

func loadHTTPClient(v *viper.Viper, cfg *Config) {
	cfg.HTTP = HTTPClientConfig{
		ConnectTimeout: v.GetDuration("http_client.connect_timeout"),
		RequestTimeout: v.GetDuration("http_client.request_timeout"),
		IdleTimeout:    v.GetDuration("http_client.idle_timeout"),
		Keepalive:      v.GetDuration("http_client.keepalive"),
		UserAgent:      v.GetString("http_client.agent"),
	}
}

func loadRetry(v *viper.Viper, cfg *Config) {
	cfg.Retry = RetryConfig{
		Attempts: v.GetInt("retry.attempts"),
		Delay:    v.GetDuration("retry.delay"),
	}
}

func loadLogging(v *viper.Viper, cfg *Config) {
	cfg.Logging = LoggingConfig{
		Level:      strings.ToUpper(v.GetString("logging.level")),
		Structured: v.GetBool("logging.structured"),
	}
}

func loadAPI(v *viper.Viper, cfg *Config) {
	cfg.API = APIConfig{
		Enabled: v.GetBool("api.enabled"),
		Host:    v.GetString("api.host"),
		Port:    v.GetInt("api.port"),
		APIKey:  v.GetString("api.api_key"),
	}
}

func loadStore(v *viper.Viper, cfg *Config) {
	cfg.Store = StoreConfig{Path: v.GetString("store.path")}
}

// Validate enforces every range invariant spec.md §6 lists. It is also
// called directly by tests constructing a Config without going through
// Load.
func Validate(cfg *Config) error {
	if cfg.Cache.MaxSize < 10 || cfg.Cache.MaxSize > 1_000_000 {
		return fmt.Errorf("cache.max_size must be in [10, 1000000]: %w", apperrors.ErrConfig)
	}
	if err := requireRange("cache.min_ttl", cfg.Cache.MinTTL, time.Second, 86400*time.Second); err != nil {
		return err
	}
	if err := requireRange("cache.max_ttl", cfg.Cache.MaxTTL, time.Second, 86400*time.Second); err != nil {
		return err
	}
	if cfg.Cache.MinTTL > cfg.Cache.MaxTTL {
		return fmt.Errorf("cache.min_ttl must be <= cache.max_ttl: %w", apperrors.ErrConfig)
	}
	if err := requireRange("cache.negative_ttl", cfg.Cache.NegativeTTL, time.Second, 86400*time.Second); err != nil {
		return err
	}

	if err := requireRange("http_client.connect_timeout", cfg.HTTP.ConnectTimeout, time.Second, 120*time.Second); err != nil {
		return err
	}
	if err := requireRange("http_client.request_timeout", cfg.HTTP.RequestTimeout, time.Second, 1200*time.Second); err != nil {
		return err
	}
	if cfg.HTTP.IdleTimeout != 0 {
		if err := requireRange("http_client.idle_timeout", cfg.HTTP.IdleTimeout, 5*time.Second, 1800*time.Second); err != nil {
			return err
		}
	}
	if cfg.HTTP.Keepalive != 0 {
		if err := requireRange("http_client.keepalive", cfg.HTTP.Keepalive, 5*time.Second, 600*time.Second); err != nil {
			return err
		}
	}

	if err := requireIntRange("retry.attempts", cfg.Retry.Attempts, 1, 100); err != nil {
		return err
	}
	if err := requireRange("retry.delay", cfg.Retry.Delay, time.Second, 120*time.Second); err != nil {
		return err
	}

	seen := make(map[string]bool, len(cfg.Groups))
	for _, g := range cfg.Groups {
		if g.Name == "" {
			return fmt.Errorf("upstream group name must be non-empty: %w", apperrors.ErrConfig)
		}
		if seen[g.Name] {
			return fmt.Errorf("duplicate upstream group name %q: %w", g.Name, apperrors.ErrConfig)
		}
		seen[g.Name] = true
		if len(g.Servers) == 0 {
			return fmt.Errorf("upstream group %q: servers must be non-empty: %w", g.Name, apperrors.ErrConfig)
		}
		if g.Strategy == StrategyWeighted {
			var total int
			for _, s := range g.Servers {
				total += s.Weight
			}
			if total <= 0 {
				return fmt.Errorf("upstream group %q: weighted strategy requires total weight > 0: %w", g.Name, apperrors.ErrConfig)
			}
		}
		for _, s := range g.Servers {
			if err := validateServer(g.Name, s); err != nil {
				return err
			}
		}
		if g.Retry != nil {
			if err := requireIntRange("group "+g.Name+" retry.attempts", g.Retry.Attempts, 1, 100); err != nil {
				return err
			}
			if err := requireRange("group "+g.Name+" retry.delay", g.Retry.Delay, time.Second, 120*time.Second); err != nil {
				return err
			}
		}
	}

	for _, rule := range cfg.Static {
		if rule.Action == ActionForward && rule.Target == "" {
			return fmt.Errorf("static rule with forward action must set target: %w", apperrors.ErrConfig)
		}
	}
	for _, src := range cfg.Remote {
		if src.Name == "" || src.URL == "" {
			return fmt.Errorf("remote rule source requires name and url: %w", apperrors.ErrConfig)
		}
		if src.Action == ActionForward && src.Target == "" {
			return fmt.Errorf("remote rule source %q: forward action must set target: %w", src.Name, apperrors.ErrConfig)
		}
	}

	return nil
}

func validateServer(group string, s UpstreamServerConfig) error {
	if s.URL == "" {
		return fmt.Errorf("upstream group %q: server url must be non-empty: %w", group, apperrors.ErrConfig)
	}
	if s.Method != MethodGet && s.Method != MethodPost {
		return fmt.Errorf("upstream group %q: server method must be GET or POST: %w", group, apperrors.ErrConfig)
	}
	if s.Method == MethodPost && s.ContentType == ContentTypeJSON {
		return fmt.Errorf("upstream group %q: POST+JSON is not a supported combination: %w", group, apperrors.ErrConfig)
	}
	return nil
}

func requireRange(field string, got, min, max time.Duration) error {
	if got < min || got > max {
		return fmt.Errorf("%s must be in [%s, %s], got %s: %w", field, min, max, got, apperrors.ErrConfig)
	}
	return nil
}

func requireIntRange(field string, got, min, max int) error {
	if got < min || got > max {
		return fmt.Errorf("%s must be in [%d, %d], got %d: %w", field, min, max, got, apperrors.ErrConfig)
	}
	return nil
}
