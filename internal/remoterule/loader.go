package remoterule

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/httpclient"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/router"
)

const defaultMaxBodySize = 10 * 1024 * 1024 // 10 MiB, per spec.md §4.8

// Source describes one remote rule list: its URL, its own HTTP client
// (with whatever retry/proxy settings it was built with), the action/target
// every parsed rule carries, and a body-size cap. A Source has no auth
// setting: Load sends the GET without an Authorization header.
type Source struct {
	Name        string
	URL         string
	Action      router.Action
	Target      string
	MaxBodySize int64 // 0 means defaultMaxBodySize
	Client      *httpclient.Client
}

// HistoryRecorder persists the outcome of one refresh cycle per source;
// internal/store implements it against sqlite.
type HistoryRecorder interface {
	RecordRuleLoad(source string, ruleCounts map[string]int, loadErr error)
}

// Load fetches and parses one source, enforcing the configured max body
// size before parsing, per spec.md §4.8.
func Load(ctx context.Context, src Source) ([]router.Rule, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building remote rule request for %q: %w", src.Name, apperrors.ErrHTTPMiddleware)
	}

	resp, err := src.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote rules from %q: %w", src.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("remote rule source %q returned status %d: %w", src.Name, resp.StatusCode, apperrors.ErrUpstreamHTTPStatus)
	}

	maxSize := src.MaxBodySize
	if maxSize <= 0 {
		maxSize = defaultMaxBodySize
	}
	limited := io.LimitReader(resp.Body, maxSize+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading remote rules from %q: %w", src.Name, apperrors.ErrHTTPTransport)
	}
	if int64(len(body)) > maxSize {
		return nil, fmt.Errorf("remote rule source %q exceeds max body size %d bytes: %w", src.Name, maxSize, apperrors.ErrConfig)
	}

	return ParseV2Ray(body, src.Action, src.Target), nil
}

// RouterSetter receives a freshly compiled Router. *handler.Handler
// satisfies it via SetRouter.
type RouterSetter interface {
	SetRouter(r *router.Router)
}

// Loader periodically refreshes every configured remote source, recompiles
// the full rule set (static rules first, then remote sources in
// declaration order, per spec.md §4.8's merge order) and swaps the result
// into a RouterSetter. The poll-then-atomically-swap shape is adapted from
// the teacher's internal/cluster/cluster.go config-sync loop.
type Loader struct {
	sources     []Source
	staticRules []router.Rule
	groups      router.GroupExists
	target      RouterSetter
	interval    time.Duration
	history     HistoryRecorder
	log         *slog.Logger
	met         *metrics.Registry
}

// NewLoader constructs a Loader. history and met may be nil.
func NewLoader(staticRules []router.Rule, sources []Source, groups router.GroupExists, target RouterSetter, interval time.Duration, history HistoryRecorder, log *slog.Logger, met *metrics.Registry) *Loader {
	return &Loader{
		sources:     sources,
		staticRules: staticRules,
		groups:      groups,
		target:      target,
		interval:    interval,
		history:     history,
		log:         log,
		met:         met,
	}
}

// RefreshOnce fetches every remote source, merges with the static rules,
// compiles a new Router, and swaps it in. A source that fails to load or
// parse is skipped (its previous contribution is dropped from this
// generation) and recorded to history; it does not abort the whole
// refresh.
func (l *Loader) RefreshOnce(ctx context.Context) error {
	rules := append([]router.Rule(nil), l.staticRules...)

	for _, src := range l.sources {
		loaded, err := Load(ctx, src)
		counts := countByType(loaded)
		if l.history != nil {
			l.history.RecordRuleLoad(src.Name, counts, err)
		}
		if err != nil {
			if l.log != nil {
				l.log.Warn("remote rule source failed to load", "source", src.Name, "err", err)
			}
			continue
		}
		rules = append(rules, loaded...)
	}

	newRouter, err := router.Compile(rules, l.groups)
	if err != nil {
		return fmt.Errorf("compiling router after remote rule refresh: %w", err)
	}
	if l.met != nil {
		l.met.SetRouteRuleCounts("remote", newRouter.RuleCounts())
	}
	l.target.SetRouter(newRouter)
	return nil
}

func countByType(rules []router.Rule) map[string]int {
	counts := map[string]int{"exact": 0, "wildcard": 0, "regex": 0}
	for _, r := range rules {
		switch r.MatchType {
		case router.MatchExact:
			counts["exact"] += len(r.Patterns)
		case router.MatchWildcard:
			counts["wildcard"] += len(r.Patterns)
		case router.MatchRegex:
			counts["regex"] += len(r.Patterns)
		}
	}
	return counts
}

// Run refreshes on the configured interval until ctx is cancelled. The
// first refresh happens immediately, matching the teacher's cluster sync
// loop's "sync once before ticking" pattern.
func (l *Loader) Run(ctx context.Context) {
	if err := l.RefreshOnce(ctx); err != nil && l.log != nil {
		l.log.Error("initial rule refresh failed", "err", err)
	}
	if l.interval <= 0 {
		return
	}
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := l.RefreshOnce(ctx); err != nil && l.log != nil {
				l.log.Error("rule refresh failed", "err", err)
			}
		}
	}
}
