// Package httpclient builds the one pooled, retrying HTTP(S) client each
// upstream group owns, per spec.md §4.4. It wraps
// github.com/hashicorp/go-retryablehttp (the closest Go ecosystem analogue
// to the Rust original's reqwest + reqwest-retry + reqwest-middleware
// stack, see src/remote_rule/loader.rs and src/upstream/http_client.rs) to
// provide exponential backoff with bounded jitter, retried only on
// transient failures, and socks5/http/https proxy support (socks5 via
// golang.org/x/net/proxy, http/https via the transport's Proxy hook).
package httpclient

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/net/proxy"

	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/upstream/server"
)

// MinDelay and MaxDelay are the config-wide backoff bounds of spec.md §4.4.
const (
	MinDelay = 1 * time.Second
	MaxDelay = 120 * time.Second
)

// Retry describes an upstream group's retry policy.
type Retry struct {
	Attempts int           // [1,100]
	Delay    time.Duration // base unit, [1s,120s]
}

// Config describes one upstream group's HTTP client, per spec.md §6's
// `http_client` block plus per-group `retry`/`proxy`.
type Config struct {
	ConnectTimeout time.Duration // [1,120]s
	RequestTimeout time.Duration // [1,1200]s
	IdleTimeout    time.Duration // optional, [5,1800]s, 0 = unset
	Keepalive      time.Duration // optional, [5,600]s, 0 = unset
	UserAgent      string        // optional
	ProxyURL       string        // optional, http|https|socks5
	Retry          *Retry        // optional
	InsecureTLS    bool          // non-default; see spec.md §4.4 cert note
}

// Client wraps one group's retryablehttp.Client.
type Client struct {
	rhc       *retryablehttp.Client
	userAgent string
}

// New constructs a Client per Config. Each upstream group owns exactly one
// Client; two groups never share one (spec.md §3's "Two groups never share
// an HTTP client" invariant) because retry/proxy/auth behaviour is
// per-group.
func New(cfg Config) (*Client, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: cfg.Keepalive,
		}).DialContext,
		TLSClientConfig: &tls.Config{InsecureSkipVerify: cfg.InsecureTLS},
	}
	if cfg.IdleTimeout > 0 {
		transport.IdleConnTimeout = cfg.IdleTimeout
	}
	if cfg.ProxyURL != "" {
		if err := applyProxy(transport, cfg.ProxyURL); err != nil {
			return nil, fmt.Errorf("configuring proxy %q: %w", cfg.ProxyURL, apperrors.ErrConfig)
		}
	}

	httpClient := &http.Client{
		Transport: transport,
		Timeout:   cfg.RequestTimeout,
	}

	rhc := retryablehttp.NewClient()
	rhc.HTTPClient = httpClient
	rhc.Logger = nil
	rhc.CheckRetry = checkRetry
	rhc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	if cfg.Retry != nil && cfg.Retry.Attempts > 1 {
		rhc.RetryMax = cfg.Retry.Attempts - 1
		base := cfg.Retry.Delay
		if base < MinDelay {
			base = MinDelay
		}
		rhc.Backoff = exponentialJitterBackoff(base)
	} else {
		rhc.RetryMax = 0
	}

	return &Client{rhc: rhc, userAgent: cfg.UserAgent}, nil
}

func applyProxy(t *http.Transport, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "http", "https":
		t.Proxy = http.ProxyURL(u)
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(u, proxy.Direct)
		if err != nil {
			return err
		}
		t.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.Dial(network, addr)
		}
	default:
		return fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
	}
	return nil
}

// checkRetry retries only transient failures: connect/read/write errors
// (reported by retryablehttp as a non-nil err) and HTTP 5xx/408/429, per
// spec.md §4.4. Any other response, including other 4xx, is returned as-is.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil {
		return true, nil
	}
	if resp == nil {
		return true, nil
	}
	switch resp.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true, nil
	}
	if resp.StatusCode >= 500 {
		return true, nil
	}
	return false, nil
}

// exponentialJitterBackoff implements base * 2^attempt with bounded jitter,
// clamped to [MinDelay, MaxDelay]. The Open Question in spec.md §9 about
// which base to use (`retry.delay` vs a literal 2) is resolved here in
// favour of a base strictly greater than one: `base` is the configured
// retry.delay, and the exponent is applied on top of it, documented in
// DESIGN.md.
func exponentialJitterBackoff(base time.Duration) retryablehttp.Backoff {
	return func(min, max time.Duration, attempt int, resp *http.Response) time.Duration {
		d := base
		for i := 0; i < attempt; i++ {
			d *= 2
			if d > MaxDelay {
				d = MaxDelay
				break
			}
		}
		if d < MinDelay {
			d = MinDelay
		}
		jitter := time.Duration(rand.Int63n(int64(d) / 2))
		d = d - jitter/2 + time.Duration(rand.Int63n(int64(jitter)+1))
		if d < MinDelay {
			d = MinDelay
		}
		if d > MaxDelay {
			d = MaxDelay
		}
		return d
	}
}

// ApplyAuth sets the Authorization header for auth on req, per spec.md
// §4.4's "Basic (user,pass) or Bearer (token)" per-request auth rule.
func ApplyAuth(req *http.Request, auth *server.Auth) {
	if auth == nil {
		return
	}
	switch auth.Kind {
	case server.AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(auth.User + ":" + auth.Pass))
		req.Header.Set("Authorization", "Basic "+creds)
	case server.AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	}
}

// Do executes req with retry/backoff applied. It returns
// apperrors.ErrHTTPMiddleware when req cannot be wrapped for retrying and
// apperrors.ErrHTTPTransport when the last attempt fails in transport. A
// retryable status (5xx/408/429) still present after the last attempt is
// returned as the response with a nil error.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if c.userAgent != "" && req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	rreq, err := retryablehttp.FromRequest(req)
	if err != nil {
		return nil, fmt.Errorf("building retryable request: %w", apperrors.ErrHTTPMiddleware)
	}
	resp, err := c.rhc.Do(rreq)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", err, apperrors.ErrHTTPTransport)
	}
	return resp, nil
}
