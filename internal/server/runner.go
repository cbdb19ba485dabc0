package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jroosing/loadants/internal/api"
	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/cache"
	"github.com/jroosing/loadants/internal/config"
	"github.com/jroosing/loadants/internal/doh/httpapi"
	"github.com/jroosing/loadants/internal/handler"
	"github.com/jroosing/loadants/internal/httpclient"
	"github.com/jroosing/loadants/internal/metrics"
	"github.com/jroosing/loadants/internal/remoterule"
	"github.com/jroosing/loadants/internal/router"
	"github.com/jroosing/loadants/internal/store"
	"github.com/jroosing/loadants/internal/upstream"
	"github.com/jroosing/loadants/internal/upstream/server"
)

// Runner orchestrates startup, wiring, and graceful shutdown of every
// component spec.md §5 describes as composed around the request handler:
// Router, Cache, UpstreamManager, the remote rule loader, and the
// UDP/TCP/DoH listeners in front of them.
type Runner struct {
	logger *slog.Logger
}

// NewRunner creates a new server runner with the given logger.
func NewRunner(logger *slog.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run builds every component from cfg and blocks until a shutdown signal
// (SIGINT/SIGTERM) or a listener error, then shuts everything down within
// cfg.Server.ShutdownTimeout.
func (r *Runner) Run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	met := metrics.New()

	c := cache.New(cache.Config{
		Enabled:     cfg.Cache.Enabled,
		MaxSize:     cfg.Cache.MaxSize,
		MinTTL:      cfg.Cache.MinTTL,
		MaxTTL:      cfg.Cache.MaxTTL,
		NegativeTTL: cfg.Cache.NegativeTTL,
	}, met)
	met.SetCacheCapacity(cfg.Cache.MaxSize)

	up, err := buildUpstreamManager(cfg, met)
	if err != nil {
		return fmt.Errorf("building upstream manager: %w", err)
	}

	staticRules := buildStaticRules(cfg)
	rtr, err := router.Compile(staticRules, up)
	if err != nil {
		return fmt.Errorf("compiling initial router: %w", err)
	}
	met.SetRouteRuleCounts("static", rtr.RuleCounts())

	h := handler.New(rtr, c, up, r.logger, met, cfg.Server.QueryTimeout)

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.Open(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("opening rule-load history store: %w", err)
		}
		defer st.Close()
	}

	var loader *remoterule.Loader
	if len(cfg.Remote) > 0 {
		sources, err := buildRemoteSources(cfg)
		if err != nil {
			return fmt.Errorf("building remote rule sources: %w", err)
		}
		var history remoterule.HistoryRecorder
		if st != nil {
			history = st
		}
		interval := shortestInterval(cfg.Remote)
		loader = remoterule.NewLoader(staticRules, sources, up, h, interval, history, r.logger, met)
		go loader.Run(ctx)
	}

	qh := &QueryHandler{Logger: r.logger, Handler: h}
	udpSrv := &UDPServer{Logger: r.logger, Handler: qh}
	tcpSrv := &TCPServer{Logger: r.logger, Handler: qh}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.UDPPort))
	r.logStartup(cfg, addr)

	errCh := make(chan error, 3)
	go func() { errCh <- udpSrv.Run(ctx, addr) }()
	go func() { errCh <- tcpSrv.Run(ctx, addr) }()

	var dohSrv *http.Server
	if cfg.Server.DoHPort > 0 {
		dohSrv = r.buildDoHServer(cfg, h)
		go func() {
			var err error
			if cfg.Server.DoHCertFile != "" && cfg.Server.DoHKeyFile != "" {
				err = dohSrv.ListenAndServeTLS(cfg.Server.DoHCertFile, cfg.Server.DoHKeyFile)
			} else {
				err = dohSrv.ListenAndServe()
			}
			if err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	var apiSrv *api.Server
	if cfg.API.Enabled {
		apiSrv = api.New(cfg, h, met, st, loader, up, r.logger)
		go func() {
			if err := apiSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		cancel()
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 5 * time.Second
	}
	_ = udpSrv.Stop(shutdownTimeout)
	_ = tcpSrv.Stop(shutdownTimeout)
	if dohSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = dohSrv.Shutdown(sctx)
	}
	if apiSrv != nil {
		sctx, scancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer scancel()
		_ = apiSrv.Shutdown(sctx)
	}
	return runErr
}

// buildDoHServer wires the binary/JSON DoH HTTP surface onto its own gin
// engine and listener, separate from the admin API's.
func (r *Runner) buildDoHServer(cfg *config.Config, h *handler.Handler) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	httpapi.Register(engine, h)

	addr := net.JoinHostPort(cfg.Server.DoHHost, strconv.Itoa(cfg.Server.DoHPort))
	return &http.Server{
		Addr:              addr,
		Handler:           engine,
		ReadHeaderTimeout: 5 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
	}
}

func (r *Runner) logStartup(cfg *config.Config, addr string) {
	if r.logger != nil {
		r.logger.Info("dns listening",
			"addr", addr,
			"doh_port", cfg.Server.DoHPort,
			"groups", len(cfg.Groups),
			"static_rules", len(cfg.Static),
			"remote_rules", len(cfg.Remote),
		)
	}
}

func buildUpstreamManager(cfg *config.Config, met *metrics.Registry) (*upstream.Manager, error) {
	configs := make([]upstream.GroupConfig, 0, len(cfg.Groups))
	for _, g := range cfg.Groups {
		hcCfg := cfg.HTTP
		if g.HTTP != nil {
			hcCfg = *g.HTTP
		}
		retryCfg := cfg.Retry
		if g.Retry != nil {
			retryCfg = *g.Retry
		}

		strategy, err := convertStrategy(g.Strategy)
		if err != nil {
			return nil, fmt.Errorf("group %q: %w", g.Name, err)
		}

		servers := make([]server.Spec, 0, len(g.Servers))
		for _, s := range g.Servers {
			servers = append(servers, server.Spec{
				URL:         s.URL,
				Weight:      s.Weight,
				Method:      server.Method(s.Method),
				ContentType: server.ContentType(s.ContentType),
				Auth:        convertAuth(s.Auth),
			})
		}

		configs = append(configs, upstream.GroupConfig{
			Name:     g.Name,
			Strategy: strategy,
			Servers:  servers,
			Client: httpclient.Config{
				ConnectTimeout: hcCfg.ConnectTimeout,
				RequestTimeout: hcCfg.RequestTimeout,
				IdleTimeout:    hcCfg.IdleTimeout,
				Keepalive:      hcCfg.Keepalive,
				UserAgent:      hcCfg.UserAgent,
				ProxyURL:       g.Proxy,
				Retry:          &httpclient.Retry{Attempts: retryCfg.Attempts, Delay: retryCfg.Delay},
			},
		})
	}
	return upstream.NewManager(configs, met)
}

// convertStrategy maps the config package's string-valued strategy enum
// onto upstream.Strategy's int-valued one, defaulting an unset strategy to
// round robin.
func convertStrategy(s config.Strategy) (upstream.Strategy, error) {
	switch s {
	case config.StrategyRoundRobin, "":
		return upstream.StrategyRoundRobin, nil
	case config.StrategyWeighted:
		return upstream.StrategyWeighted, nil
	case config.StrategyRandom:
		return upstream.StrategyRandom, nil
	default:
		return 0, fmt.Errorf("unknown upstream strategy %q: %w", s, apperrors.ErrConfig)
	}
}

func convertAuth(a *config.AuthConfig) *server.Auth {
	if a == nil || a.Kind == config.AuthNone {
		return nil
	}
	kind := server.AuthBasic
	if a.Kind == config.AuthBearer {
		kind = server.AuthBearer
	}
	return &server.Auth{
		Kind:  kind,
		User:  a.User,
		Pass:  a.Pass,
		Token: a.Token,
	}
}

func buildStaticRules(cfg *config.Config) []router.Rule {
	rules := make([]router.Rule, 0, len(cfg.Static))
	for _, rc := range cfg.Static {
		rules = append(rules, router.Rule{
			MatchType: convertMatchType(rc.MatchType),
			Patterns:  rc.Patterns,
			Action:    convertAction(rc.Action),
			Target:    rc.Target,
		})
	}
	return rules
}

// convertMatchType maps the config package's string-valued match-type enum
// onto router.MatchType's int-valued one.
func convertMatchType(mt config.MatchType) router.MatchType {
	switch mt {
	case config.MatchWildcard:
		return router.MatchWildcard
	case config.MatchRegex:
		return router.MatchRegex
	default:
		return router.MatchExact
	}
}

// convertAction maps the config package's string-valued action enum onto
// router.Action's int-valued one.
func convertAction(a config.ActionKind) router.Action {
	if a == config.ActionBlock {
		return router.ActionBlock
	}
	return router.ActionForward
}

func buildRemoteSources(cfg *config.Config) ([]remoterule.Source, error) {
	sources := make([]remoterule.Source, 0, len(cfg.Remote))
	for _, rc := range cfg.Remote {
		hcCfg := cfg.HTTP
		client, err := httpclient.New(httpclient.Config{
			ConnectTimeout: hcCfg.ConnectTimeout,
			RequestTimeout: hcCfg.RequestTimeout,
			UserAgent:      hcCfg.UserAgent,
			ProxyURL:       rc.Proxy,
			Retry:          &httpclient.Retry{Attempts: cfg.Retry.Attempts, Delay: cfg.Retry.Delay},
		})
		if err != nil {
			return nil, fmt.Errorf("building http client for remote rule source %q: %w", rc.Name, err)
		}
		sources = append(sources, remoterule.Source{
			Name:        rc.Name,
			URL:         rc.URL,
			Action:      convertAction(rc.Action),
			Target:      rc.Target,
			MaxBodySize: rc.MaxBodySize,
			Client:      client,
		})
	}
	return sources, nil
}

func shortestInterval(sources []config.RemoteRuleConfig) time.Duration {
	var shortest time.Duration
	for _, s := range sources {
		if s.Interval <= 0 {
			continue
		}
		if shortest == 0 || s.Interval < shortest {
			shortest = s.Interval
		}
	}
	if shortest == 0 {
		shortest = 5 * time.Minute
	}
	return shortest
}
