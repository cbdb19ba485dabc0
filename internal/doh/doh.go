// Package doh implements the four DoH wire combinations of spec.md §4.5:
// {GET, POST} x {DNS-MESSAGE, JSON}. POST+JSON is rejected before any
// network I/O. Grounded on the Rust original's src/upstream/doh.rs for the
// method/content-type dispatch and src/upstream/json.rs for the JSON
// mapping (see json.go).
package doh

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/miekg/dns"

	"github.com/jroosing/loadants/internal/apperrors"
	"github.com/jroosing/loadants/internal/httpclient"
	"github.com/jroosing/loadants/internal/upstream/server"
)

const (
	acceptDNSMessage      = "application/dns-message"
	contentTypeDNSMessage = "application/dns-message"
	acceptDNSJSON         = "application/dns-json"
)

// Client drives one upstream server's DoH exchange over a shared group
// HTTP client.
type Client struct {
	http *httpclient.Client
}

// New constructs a Client bound to an upstream group's httpclient.Client.
func New(hc *httpclient.Client) *Client {
	return &Client{http: hc}
}

// SendRequest dispatches query to srv using srv's configured method and
// content type, returning the parsed DNS response with its id patched to
// query's id.
func (c *Client) SendRequest(ctx context.Context, query *dns.Msg, srv server.Spec) (*dns.Msg, error) {
	switch srv.Method {
	case server.MethodGet:
		return c.sendGet(ctx, query, srv)
	case server.MethodPost:
		return c.sendPost(ctx, query, srv)
	default:
		return nil, fmt.Errorf("unknown doh method %q: %w", srv.Method, apperrors.ErrConfig)
	}
}

func (c *Client) sendPost(ctx context.Context, query *dns.Msg, srv server.Spec) (*dns.Msg, error) {
	if srv.ContentType == server.ContentTypeJSON {
		return nil, fmt.Errorf("JSON content type is not supported with POST method, use GET instead: %w", apperrors.ErrHTTPMiddleware)
	}

	wire, err := query.Pack()
	if err != nil {
		return nil, fmt.Errorf("packing dns query: %w", apperrors.ErrDNSProto)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, bytes.NewReader(wire))
	if err != nil {
		return nil, fmt.Errorf("building doh post request: %w", apperrors.ErrHTTPMiddleware)
	}
	req.Header.Set("Content-Type", contentTypeDNSMessage)
	req.Header.Set("Accept", acceptDNSMessage)
	httpclient.ApplyAuth(req, srv.Auth)

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	resp := new(dns.Msg)
	if err := resp.Unpack(body); err != nil {
		return nil, fmt.Errorf("unpacking doh response: %w", apperrors.ErrDNSProto)
	}
	resp.Id = query.Id
	return resp, nil
}

func (c *Client) sendGet(ctx context.Context, query *dns.Msg, srv server.Spec) (*dns.Msg, error) {
	u, err := url.Parse(srv.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing server url: %w", apperrors.ErrConfig)
	}

	switch srv.ContentType {
	case server.ContentTypeDNSMessage:
		wire, err := query.Pack()
		if err != nil {
			return nil, fmt.Errorf("packing dns query: %w", apperrors.ErrDNSProto)
		}
		q := u.Query()
		q.Set("dns", base64.RawURLEncoding.EncodeToString(wire))
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("building doh get request: %w", apperrors.ErrHTTPMiddleware)
		}
		req.Header.Set("Accept", acceptDNSMessage)
		httpclient.ApplyAuth(req, srv.Auth)

		body, err := c.do(req)
		if err != nil {
			return nil, err
		}
		resp := new(dns.Msg)
		if err := resp.Unpack(body); err != nil {
			return nil, fmt.Errorf("unpacking doh response: %w", apperrors.ErrDNSProto)
		}
		resp.Id = query.Id
		return resp, nil

	case server.ContentTypeJSON:
		if len(query.Question) == 0 {
			return nil, fmt.Errorf("dns query has no question: %w", apperrors.ErrDNSProto)
		}
		question := query.Question[0]
		q := u.Query()
		q.Set("name", question.Name)
		q.Set("type", strconv.Itoa(int(question.Qtype)))
		if question.Qclass != dns.ClassINET {
			q.Set("dnssec_data", "true")
		}
		u.RawQuery = q.Encode()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, fmt.Errorf("building doh json get request: %w", apperrors.ErrHTTPMiddleware)
		}
		req.Header.Set("Accept", acceptDNSJSON)
		httpclient.ApplyAuth(req, srv.Auth)

		body, err := c.do(req)
		if err != nil {
			return nil, err
		}
		return JSONToMessage(body, query)

	default:
		return nil, fmt.Errorf("unknown doh content type %q: %w", srv.ContentType, apperrors.ErrConfig)
	}
}

// do executes req and returns its body, translating non-2xx responses into
// apperrors.ErrUpstreamHTTPStatus.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response body: %w", apperrors.ErrHTTPTransport)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("upstream returned status %d: %w", resp.StatusCode, apperrors.ErrUpstreamHTTPStatus)
	}
	return body, nil
}
