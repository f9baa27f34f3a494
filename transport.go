package onvif

import (
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/juju/errors"
	dac "github.com/xinsnake/go-http-digest-auth-client"
	"golang.org/x/net/publicsuffix"
)

// Transport defaults, matching what devices expect from a WS client.
const (
	DefaultOpenTimeout    = time.Minute
	DefaultSendTimeout    = time.Minute
	DefaultReceiveTimeout = 10 * time.Minute
	DefaultCloseTimeout   = time.Minute
)

const soapContentType = "application/soap+xml; charset=utf-8"

// Transport describes the SOAP 1.2 over HTTP binding used by a channel.
// Channels copy the Transport they are built with; later changes do not
// affect them.
type Transport struct {
	// OpenTimeout bounds connection establishment, including the TLS
	// handshake and the connectivity check done by Channel.Open.
	OpenTimeout time.Duration
	// SendTimeout bounds writing a request and waiting for response headers.
	SendTimeout time.Duration
	// ReceiveTimeout bounds reading the response body.
	ReceiveTimeout time.Duration
	// CloseTimeout bounds how long Close waits for in-flight calls.
	CloseTimeout time.Duration

	// MaxReceivedMessageSize caps response bodies. Zero means unlimited;
	// capability and profile documents can be large.
	MaxReceivedMessageSize int64
	// MaxBufferSize sets the HTTP read and write buffer sizes. Zero keeps
	// the net/http defaults.
	MaxBufferSize int

	InsecureTLS bool // skip TLS certificate verification

	// Proxy selects the HTTP proxy for a request. Nil uses
	// http.ProxyFromEnvironment.
	Proxy func(*http.Request) (*url.URL, error)
}

// DefaultTransport returns the transport used when no overrides are set.
func DefaultTransport() Transport {
	return Transport{
		OpenTimeout:    DefaultOpenTimeout,
		SendTimeout:    DefaultSendTimeout,
		ReceiveTimeout: DefaultReceiveTimeout,
		CloseTimeout:   DefaultCloseTimeout,
	}
}

func (t Transport) proxy() func(*http.Request) (*url.URL, error) {
	if t.Proxy != nil {
		return t.Proxy
	}
	return http.ProxyFromEnvironment
}

// firstHop returns the host:port a request to u connects to: the proxy when
// one applies, u itself otherwise.
func (t Transport) firstHop(u *url.URL) (string, error) {
	target := u
	proxy, err := t.proxy()(&http.Request{Method: http.MethodPost, URL: u, Header: make(http.Header)})
	if err != nil {
		return "", errors.Annotate(err, "selecting proxy")
	}
	if proxy != nil {
		target = proxy
	}
	if target.Port() != "" {
		return target.Host, nil
	}
	port := "80"
	if target.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(target.Hostname(), port), nil
}

func (t Transport) dialer() *net.Dialer {
	return &net.Dialer{Timeout: t.OpenTimeout, KeepAlive: 30 * time.Second}
}

// httpClient builds the HTTP client behind one channel. Each channel gets
// its own connection pool and cookie jar so that nothing from the
// unauthenticated probe leaks into the authenticated channel.
func (t Transport) httpClient(digest *Credentials) (*http.Client, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, errors.Annotate(err, "creating cookie jar")
	}

	rt := &http.Transport{
		Proxy:               t.proxy(),
		DialContext:         t.dialer().DialContext,
		TLSHandshakeTimeout: t.OpenTimeout,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 2,
		ReadBufferSize:      t.MaxBufferSize,
		WriteBufferSize:     t.MaxBufferSize,
	}
	if t.InsecureTLS {
		rt.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	client := &http.Client{Transport: rt, Jar: jar}
	if digest == nil {
		return client, nil
	}

	// RFC 2617 digest on top of WS-Security, for devices that demand both.
	return &http.Client{Transport: &digestTransport{creds: *digest, base: rt}, Jar: jar}, nil
}

// digestTransport runs each request through a dac.DigestTransport. dac
// rebuilds the request from method, URL and body, so the headers and the
// context of the original request are put back on every attempt it makes.
type digestTransport struct {
	creds Credentials
	base  *http.Transport
}

func (t *digestTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	dt := dac.NewTransport(t.creds.Username, t.creds.Password)
	dt.HTTPClient = &http.Client{
		Transport: requestScope{base: t.base, ctx: req.Context(), header: req.Header},
	}
	return dt.RoundTrip(req)
}

func (t *digestTransport) CloseIdleConnections() {
	t.base.CloseIdleConnections()
}

// requestScope restores the context and headers of the request it was
// built for. Headers set on the rebuilt request, such as Authorization, win.
type requestScope struct {
	base   http.RoundTripper
	ctx    context.Context
	header http.Header
}

func (s requestScope) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.WithContext(s.ctx)
	header := s.header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	for k, v := range req.Header {
		header[k] = v
	}
	out.Header = header
	return s.base.RoundTrip(out)
}

// readBody reads at most limit bytes (0 = unlimited) and fails if the body
// is larger.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	if limit <= 0 {
		return io.ReadAll(r)
	}
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, errors.Errorf("response exceeds MaxReceivedMessageSize (%d bytes)", limit)
	}
	return data, nil
}

// phaseTimer cancels the call when d elapses. The returned func stops the
// timer and reports whether it had already fired.
func phaseTimer(d time.Duration, cancel context.CancelFunc) func() bool {
	if d <= 0 {
		return func() bool { return false }
	}
	timer := time.AfterFunc(d, cancel)
	return func() bool { return !timer.Stop() }
}
