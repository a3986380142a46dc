// Package httpkit builds the outbound HTTP clients Fixie uses to reach
// its gateways: the model provider and the ticketing backend. Both speak
// JSON over TLS; the knobs that differ per gateway are the overall
// request deadline and how long to wait for response headers (a model
// call can think for a long time before the first byte arrives).
package httpkit

import (
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/fixie-ai/fixie-agent/internal/buildinfo"
)

// Connection defaults shared by every gateway client. These bound the
// setup phases (dial, TLS) separately from the per-request deadline so
// a slow model response does not also mean a slow failure on a dead host.
const (
	dialTimeout     = 10 * time.Second
	keepAlive       = 30 * time.Second
	tlsTimeout      = 10 * time.Second
	idleConnTimeout = 90 * time.Second
	maxIdlePerHost  = 4

	// defaultHeaderTimeout suits request/response APIs like the
	// ticketing backend. Model calls override it with something far
	// more patient.
	defaultHeaderTimeout = 15 * time.Second
)

// NewGatewayClient returns an *http.Client for one outbound gateway.
// timeout caps the whole request; zero leaves the deadline to the
// request context. headerTimeout caps the wait for response headers;
// zero picks the default suited to fast JSON APIs. Every request goes
// out with the Fixie User-Agent unless the caller set its own.
func NewGatewayClient(timeout, headerTimeout time.Duration) *http.Client {
	if headerTimeout <= 0 {
		headerTimeout = defaultHeaderTimeout
	}

	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   dialTimeout,
			KeepAlive: keepAlive,
		}).DialContext,
		TLSHandshakeTimeout:   tlsTimeout,
		ResponseHeaderTimeout: headerTimeout,
		IdleConnTimeout:       idleConnTimeout,
		MaxIdleConnsPerHost:   maxIdlePerHost,
		ForceAttemptHTTP2:     true,
	}

	return &http.Client{
		Timeout: timeout,
		Transport: &identityTransport{
			base: transport,
			ua:   buildinfo.UserAgent(),
		},
	}
}

// identityTransport stamps the User-Agent header on requests that do
// not carry one. The request is cloned first; RoundTrippers must not
// mutate their input.
type identityTransport struct {
	base http.RoundTripper
	ua   string
}

func (t *identityTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") == "" {
		req = req.Clone(req.Context())
		req.Header.Set("User-Agent", t.ua)
	}
	return t.base.RoundTrip(req)
}

// ReadErrorBody captures up to limit bytes of a failed response body
// for inclusion in an error message. The remainder is drained so the
// connection can go back to the pool.
func ReadErrorBody(r io.Reader, limit int64) string {
	body, err := io.ReadAll(io.LimitReader(r, limit))
	_, _ = io.Copy(io.Discard, r)
	if err != nil {
		return "(failed to read error body: " + err.Error() + ")"
	}
	return strings.TrimSpace(string(body))
}

// DrainAndClose consumes up to limit leftover bytes from rc and closes
// it, returning the underlying connection to the pool.
func DrainAndClose(rc io.ReadCloser, limit int64) {
	if rc == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(rc, limit))
	rc.Close()
}
