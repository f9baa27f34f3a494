package onvif

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SridarDhandapani/onvif/internal/devicesim"
	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannelRejectsInvalidAddress(t *testing.T) {
	for _, addr := range []string{"", "192.168.1.10", "ftp://cam/onvif", "http://", "://bad"} {
		_, err := NewChannel(ChannelParams{Address: addr, Transport: DefaultTransport()})
		require.Error(t, err, addr)
		assert.True(t, errors.Is(err, ErrInvalidConfiguration), addr)
	}
}

func TestChannelOpenAndClose(t *testing.T) {
	_, _, addr := startDevice(t, devicesim.Config{})
	ch := newUnauthenticatedChannel(t, addr, DefaultTransport())

	assert.Equal(t, ChannelCreated, ch.State())
	assert.False(t, ch.Authenticated())

	require.NoError(t, ch.Open(context.Background()))
	assert.Equal(t, ChannelOpened, ch.State())
	require.NoError(t, ch.Open(context.Background()))

	require.NoError(t, ch.Close())
	assert.Equal(t, ChannelClosed, ch.State())
	require.NoError(t, ch.Close())

	_, err := getSystemDateAndTime(context.Background(), ch)
	require.Error(t, err)
	assert.True(t, IsTransport(err))

	err = ch.Open(context.Background())
	assert.True(t, IsTransport(err))
}

func TestChannelOpenUnreachable(t *testing.T) {
	tr := DefaultTransport()
	tr.OpenTimeout = time.Second
	ch := newUnauthenticatedChannel(t, closedAddress(t), tr)

	err := ch.Open(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "open", te.Op)
	assert.Equal(t, ChannelFaulted, ch.State())

	_, err = getSystemDateAndTime(context.Background(), ch)
	assert.True(t, IsTransport(err))
}

func TestChannelOpenHonoursContext(t *testing.T) {
	_, _, addr := startDevice(t, devicesim.Config{})
	ch := newUnauthenticatedChannel(t, addr, DefaultTransport())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, ch.Open(ctx))
	assert.Equal(t, ChannelFaulted, ch.State())
}

func TestChannelOpenDialsProxy(t *testing.T) {
	proxy := httptest.NewServer(nil)
	defer proxy.Close()
	proxyURL, err := url.Parse(proxy.URL)
	require.NoError(t, err)

	tr := DefaultTransport()
	tr.OpenTimeout = time.Second
	tr.Proxy = http.ProxyURL(proxyURL)
	ch := newUnauthenticatedChannel(t, closedAddress(t), tr)
	require.NoError(t, ch.Open(context.Background()))

	closedProxy, err := url.Parse(strings.TrimSuffix(closedAddress(t), DefaultDevicePath))
	require.NoError(t, err)
	_, _, addr := startDevice(t, devicesim.Config{})
	tr.Proxy = http.ProxyURL(closedProxy)
	ch = newUnauthenticatedChannel(t, addr, tr)

	err = ch.Open(context.Background())
	var te *TransportError
	require.True(t, errors.As(err, &te), "%v", err)
	assert.Equal(t, "open", te.Op)
}

func TestTransportFirstHop(t *testing.T) {
	tests := []struct {
		address string
		proxy   string
		want    string
	}{
		{"http://10.0.0.5/onvif/device_service", "", "10.0.0.5:80"},
		{"https://cam.local/onvif/device_service", "", "cam.local:443"},
		{"http://10.0.0.5:8080/onvif/device_service", "", "10.0.0.5:8080"},
		{"http://10.0.0.5/onvif/device_service", "http://proxy.local:3128", "proxy.local:3128"},
	}
	for _, tt := range tests {
		t.Run(tt.address+" "+tt.proxy, func(t *testing.T) {
			tr := DefaultTransport()
			tr.Proxy = func(*http.Request) (*url.URL, error) { return nil, nil }
			if tt.proxy != "" {
				p, err := url.Parse(tt.proxy)
				require.NoError(t, err)
				tr.Proxy = http.ProxyURL(p)
			}
			u, err := url.Parse(tt.address)
			require.NoError(t, err)

			got, err := tr.firstHop(u)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestChannelSendTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := DefaultTransport()
	tr.SendTimeout = 50 * time.Millisecond
	ch := newUnauthenticatedChannel(t, srv.URL+DefaultDevicePath, tr)

	start := time.Now()
	_, err := getSystemDateAndTime(context.Background(), ch)
	var te *TransportError
	require.True(t, errors.As(err, &te), "%v", err)
	assert.True(t, te.Timeout())
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, ChannelFaulted, ch.State())
}

func TestChannelReceiveTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", soapContentType)
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`<?xml version="1.0"?><env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope">`))
		w.(http.Flusher).Flush()
		select {
		case <-release:
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	defer close(release)

	tr := DefaultTransport()
	tr.ReceiveTimeout = 50 * time.Millisecond
	ch := newUnauthenticatedChannel(t, srv.URL+DefaultDevicePath, tr)

	_, err := getSystemDateAndTime(context.Background(), ch)
	var te *TransportError
	require.True(t, errors.As(err, &te), "%v", err)
	assert.True(t, te.Timeout())
	assert.Contains(t, te.Error(), "receive")
}

func TestChannelMaxReceivedMessageSize(t *testing.T) {
	_, _, addr := startDevice(t, devicesim.Config{})
	tr := DefaultTransport()
	tr.MaxReceivedMessageSize = 64
	ch := newUnauthenticatedChannel(t, addr, tr)

	_, err := getSystemDateAndTime(context.Background(), ch)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.Contains(t, err.Error(), "MaxReceivedMessageSize")
}

func TestChannelHTTPErrorWithoutFault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	ch := newUnauthenticatedChannel(t, srv.URL+DefaultDevicePath, DefaultTransport())

	_, err := getSystemDateAndTime(context.Background(), ch)
	require.Error(t, err)
	assert.True(t, IsTransport(err))
	assert.False(t, IsFault(err))
	assert.Contains(t, err.Error(), "503")
}

func TestChannelFaultKeepsChannelUsable(t *testing.T) {
	_, _, addr := startDevice(t, devicesim.Config{
		Faults: map[string]devicesim.Fault{"GetHostname": {Code: "env:Receiver", Subcode: "ter:ActionNotSupported", Reason: "no hostname"}},
	})
	dc := newTestDeviceClient(t, addr)

	_, err := dc.GetHostname(context.Background())
	var fault *FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "env:Receiver", fault.Code)
	assert.True(t, fault.HasSubcode("ActionNotSupported"))
	assert.Equal(t, "no hostname", fault.Reason)
	assert.Equal(t, http.StatusBadRequest, fault.StatusCode)

	assert.Equal(t, ChannelOpened, dc.Channel().State())
	_, err = dc.GetDeviceInformation(context.Background())
	require.NoError(t, err)
}

func TestChannelSendsContentTypeAction(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	ch := newUnauthenticatedChannel(t, srv.URL+DefaultDevicePath, DefaultTransport())

	_, _ = getSystemDateAndTime(context.Background(), ch)
	assert.True(t, strings.HasPrefix(got, "application/soap+xml"))
	assert.Contains(t, got, `action="http://www.onvif.org/ver10/device/wsdl/GetSystemDateAndTime"`)
}

func TestChannelFreshHeaderPerMessage(t *testing.T) {
	dev, _, addr := startDevice(t, devicesim.Config{})
	dc := newTestDeviceClient(t, addr)

	for i := 0; i < 5; i++ {
		_, err := dc.GetDeviceInformation(context.Background())
		require.NoError(t, err, "call %d", i)
	}

	authenticated := 0
	for _, r := range dev.Requests() {
		if r.Operation == "GetDeviceInformation" {
			require.True(t, r.Authenticated)
			authenticated++
		}
	}
	assert.Equal(t, 5, authenticated)
}

func TestChannelUnshiftedHeaderRejected(t *testing.T) {
	_, _, addr := startDevice(t, devicesim.Config{ClockOffset: 5 * time.Minute})

	ch, err := NewChannel(ChannelParams{
		Address:   addr,
		Transport: DefaultTransport(),
		Headers:   &authenticator{creds: Credentials{Username: testUser, Password: testPassword}},
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	defer ch.Abort()

	err = ch.call(context.Background(), newOperation(nsDevice, "tds", "GetDeviceInformation"), nil)
	var fault *FaultError
	require.True(t, errors.As(err, &fault))
	assert.True(t, fault.NotAuthorized())
}

func TestChannelCloseWaitsForInflight(t *testing.T) {
	started := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		time.Sleep(150 * time.Millisecond)
		w.Header().Set("Content-Type", soapContentType)
		w.Write([]byte(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body><Ok/></env:Body></env:Envelope>`))
	}))
	defer srv.Close()
	ch := newUnauthenticatedChannel(t, srv.URL+DefaultDevicePath, DefaultTransport())

	done := make(chan error, 1)
	go func() {
		done <- ch.call(context.Background(), newOperation(nsDevice, "tds", "GetHostname"), nil)
	}()
	<-started

	start := time.Now()
	require.NoError(t, ch.Close())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight call never finished")
	}
}

func TestChannelCloseTimeout(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(started) })
		<-release
	}))
	defer srv.Close()
	defer close(release)

	tr := DefaultTransport()
	tr.CloseTimeout = 50 * time.Millisecond
	ch := newUnauthenticatedChannel(t, srv.URL+DefaultDevicePath, tr)

	go ch.call(context.Background(), newOperation(nsDevice, "tds", "GetHostname"), nil)
	<-started

	err := ch.Close()
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "close", te.Op)
	assert.True(t, te.Timeout())
}

// digestGuard challenges requests without an Authorization header and
// records the Content-Type of the ones that carry it.
type digestGuard struct {
	next http.Handler

	mu           sync.Mutex
	contentTypes []string
}

func (g *digestGuard) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !strings.HasPrefix(r.Header.Get("Authorization"), "Digest ") {
		w.Header().Set("WWW-Authenticate", `Digest realm="onvif", nonce="dcd98b7102dd2f0e8b11d0f600bfb0c093", opaque="5ccc069c403ebaf9f0171e9517f40e41", qop="auth", algorithm=MD5`)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	g.mu.Lock()
	g.contentTypes = append(g.contentTypes, r.Header.Get("Content-Type"))
	g.mu.Unlock()
	g.next.ServeHTTP(w, r)
}

func (g *digestGuard) seen() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.contentTypes...)
}

func newDigestChannel(t *testing.T, address string, tr Transport) *Channel {
	t.Helper()
	creds := Credentials{Username: testUser, Password: testPassword}
	ch, err := NewChannel(ChannelParams{Address: address, Transport: tr, Digest: &creds, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(ch.Abort)
	return ch
}

func TestChannelHTTPDigestTransport(t *testing.T) {
	ch := newDigestChannel(t, "http://192.0.2.1/onvif/device_service", DefaultTransport())

	dt, ok := ch.client.Transport.(*digestTransport)
	require.True(t, ok)
	assert.Equal(t, testUser, dt.creds.Username)
	assert.NotNil(t, ch.client.Jar)
}

func TestChannelHTTPDigestKeepsSOAPHeaders(t *testing.T) {
	dev := devicesim.New(devicesim.Config{Hostname: "digest-cam"})
	guard := &digestGuard{next: dev.Handler()}
	srv := httptest.NewServer(guard)
	defer srv.Close()
	ch := newDigestChannel(t, srv.URL+DefaultDevicePath, DefaultTransport())

	var resp struct {
		HostnameInformation HostnameInformation `xml:"HostnameInformation"`
	}
	require.NoError(t, ch.call(context.Background(), newOperation(nsDevice, "tds", "GetHostname"), &resp))
	assert.Equal(t, "digest-cam", resp.HostnameInformation.Name)

	seen := guard.seen()
	require.Len(t, seen, 1)
	assert.True(t, strings.HasPrefix(seen[0], "application/soap+xml"), seen[0])
	assert.Contains(t, seen[0], `action="http://www.onvif.org/ver10/device/wsdl/GetHostname"`)
}

func TestChannelHTTPDigestSendTimeout(t *testing.T) {
	release := make(chan struct{})
	guard := &digestGuard{next: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})}
	srv := httptest.NewServer(guard)
	defer srv.Close()
	defer close(release)

	tr := DefaultTransport()
	tr.SendTimeout = 200 * time.Millisecond
	ch := newDigestChannel(t, srv.URL+DefaultDevicePath, tr)

	start := time.Now()
	err := ch.call(context.Background(), newOperation(nsDevice, "tds", "GetHostname"), nil)
	var te *TransportError
	require.True(t, errors.As(err, &te), "%v", err)
	assert.True(t, te.Timeout())
	assert.Less(t, time.Since(start), time.Second)
	assert.Len(t, guard.seen(), 1)
}

func TestChannelStateString(t *testing.T) {
	assert.Equal(t, "Created", ChannelCreated.String())
	assert.Equal(t, "Opened", ChannelOpened.String())
	assert.Equal(t, "Faulted", ChannelFaulted.String())
	assert.Equal(t, "Closed", ChannelClosed.String())
}
