// Package apperrors defines the sentinel error taxonomy shared by every
// core component (router, cache, upstream manager, handler, remote rule
// loader). Callers wrap a sentinel with fmt.Errorf("context: %w", Err...)
// so errors.Is / errors.As keep working across package boundaries, the
// same convention the wire codec used for ErrDNSError.
package apperrors

import "errors"

var (
	// ErrNoRouteMatch is returned by the router when no rule, including the
	// global wildcard, matches a name.
	ErrNoRouteMatch = errors.New("no route match")

	// ErrUpstreamGroupNotFound is returned when a rule's target names a
	// group the upstream manager does not know about. Should be impossible
	// once router/config validation has run, but the handler still maps it
	// to SERVFAIL defensively.
	ErrUpstreamGroupNotFound = errors.New("upstream group not found")

	// ErrNoUpstreamAvailable is returned by a load balancer when its server
	// list is empty.
	ErrNoUpstreamAvailable = errors.New("no upstream server available")

	// ErrHTTPTransport covers connect/read/write failures talking to an
	// upstream DoH endpoint.
	ErrHTTPTransport = errors.New("http transport error")

	// ErrHTTPMiddleware covers failures raised by the retry/auth/proxy
	// middleware wrapped around the transport, as opposed to the transport
	// itself.
	ErrHTTPMiddleware = errors.New("http middleware error")

	// ErrUpstreamHTTPStatus is returned for a non-2xx response from an
	// upstream DoH endpoint.
	ErrUpstreamHTTPStatus = errors.New("unexpected upstream http status")

	// ErrDNSProto covers wire or JSON DNS message decode failures.
	ErrDNSProto = errors.New("dns protocol error")

	// ErrCache covers cache admission/lookup failures. Always logged and
	// suppressed; never changes the response returned to a client.
	ErrCache = errors.New("cache error")

	// ErrTimeout covers context deadline exceeded while forwarding a query.
	ErrTimeout = errors.New("upstream timeout")

	// ErrConfig covers validation failures. Raised only at construction
	// time, never mid-query.
	ErrConfig = errors.New("configuration error")
)
