package onvif

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
)

// ChannelState is the lifecycle state of a Channel.
type ChannelState int

const (
	ChannelCreated ChannelState = iota
	ChannelOpened
	ChannelFaulted
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelCreated:
		return "Created"
	case ChannelOpened:
		return "Opened"
	case ChannelFaulted:
		return "Faulted"
	case ChannelClosed:
		return "Closed"
	}
	return "Unknown"
}

var errChannelClosed = errors.New("channel is closed")

// HeaderSource supplies the security header for each outgoing message.
type HeaderSource interface {
	SecurityHeader() (*SecurityHeader, error)
}

// ChannelParams describes a channel to build.
type ChannelParams struct {
	Address   string
	Transport Transport
	Headers   HeaderSource // nil for an unauthenticated channel
	Digest    *Credentials // optional HTTP digest credentials
	Logger    zerolog.Logger
}

// ChannelFactory builds a new channel for each bootstrap phase.
type ChannelFactory func(ChannelParams) (*Channel, error)

// Channel is a SOAP endpoint binding to one service address. Once built,
// its transport settings and header pipeline never change.
type Channel struct {
	address   string
	transport Transport
	headers   HeaderSource
	client    *http.Client
	logger    zerolog.Logger

	mu       sync.Mutex
	state    ChannelState
	inflight sync.WaitGroup
}

// NewChannel is the default ChannelFactory.
func NewChannel(p ChannelParams) (*Channel, error) {
	if _, err := parseXAddr(p.Address); err != nil {
		return nil, err
	}
	client, err := p.Transport.httpClient(p.Digest)
	if err != nil {
		return nil, err
	}
	return &Channel{
		address:   p.Address,
		transport: p.Transport,
		headers:   p.Headers,
		client:    client,
		logger:    p.Logger,
	}, nil
}

// Address returns the service address the channel is bound to.
func (ch *Channel) Address() string {
	return ch.address
}

// Transport returns the transport settings the channel was built with.
func (ch *Channel) Transport() Transport {
	return ch.transport
}

// Authenticated reports whether outgoing messages carry a security header.
func (ch *Channel) Authenticated() bool {
	return ch.headers != nil
}

// State returns the current lifecycle state.
func (ch *Channel) State() ChannelState {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state
}

// Open verifies that the first hop of the channel's calls (the service
// address, or its proxy) accepts connections within the open timeout and
// moves the channel to Opened.
func (ch *Channel) Open(ctx context.Context) error {
	ch.mu.Lock()
	switch ch.state {
	case ChannelOpened:
		ch.mu.Unlock()
		return nil
	case ChannelFaulted, ChannelClosed:
		state := ch.state
		ch.mu.Unlock()
		return &TransportError{Op: "open", Address: ch.address, Err: errors.Errorf("channel is %s", state)}
	}
	ch.mu.Unlock()

	if err := ch.verify(ctx); err != nil {
		ch.setState(ChannelFaulted)
		return &TransportError{Op: "open", Address: ch.address, Err: err}
	}
	ch.setState(ChannelOpened)
	return nil
}

func (ch *Channel) verify(ctx context.Context) error {
	u, err := url.Parse(ch.address)
	if err != nil {
		return errors.Trace(err)
	}
	host, err := ch.transport.firstHop(u)
	if err != nil {
		return err
	}

	if ch.transport.OpenTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, ch.transport.OpenTimeout)
		defer cancel()
	}
	conn, err := ch.transport.dialer().DialContext(ctx, "tcp", host)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Close waits up to the close timeout for in-flight calls, then releases
// the channel's connections. Closing twice is a no-op.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	if ch.state == ChannelClosed {
		ch.mu.Unlock()
		return nil
	}
	ch.state = ChannelClosed
	ch.mu.Unlock()

	done := make(chan struct{})
	go func() {
		ch.inflight.Wait()
		close(done)
	}()

	var err error
	if d := ch.transport.CloseTimeout; d > 0 {
		select {
		case <-done:
		case <-time.After(d):
			err = &TransportError{Op: "close", Address: ch.address, Err: errors.Timeoutf("in-flight calls after %s", d)}
		}
	} else {
		<-done
	}
	ch.client.CloseIdleConnections()
	return err
}

// Abort closes the channel without waiting for in-flight calls.
func (ch *Channel) Abort() {
	ch.setState(ChannelClosed)
	ch.client.CloseIdleConnections()
}

func (ch *Channel) setState(s ChannelState) {
	ch.mu.Lock()
	if ch.state != ChannelClosed {
		ch.state = s
	}
	ch.mu.Unlock()
}

// begin registers an in-flight call. A Created channel opens implicitly on
// its first call, as the request itself proves connectivity.
func (ch *Channel) begin() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	switch ch.state {
	case ChannelClosed:
		return errChannelClosed
	case ChannelFaulted:
		return errors.New("channel is faulted")
	case ChannelCreated:
		ch.state = ChannelOpened
	}
	ch.inflight.Add(1)
	return nil
}

// call sends op and decodes the response payload into out (may be nil).
func (ch *Channel) call(ctx context.Context, op operation, out interface{}) error {
	if err := ch.begin(); err != nil {
		return &TransportError{Op: op.action, Address: ch.address, Err: err}
	}
	defer ch.inflight.Done()

	var header *SecurityHeader
	if ch.headers != nil {
		hdr, err := ch.headers.SecurityHeader()
		if err != nil {
			return errors.Annotate(err, "building security header")
		}
		header = hdr
	}

	payload, err := buildEnvelope(op, header)
	if err != nil {
		return errors.Annotate(err, "encoding request")
	}

	status, data, err := ch.roundTrip(ctx, op.action, payload)
	if err != nil {
		ch.logger.Debug().Err(err).Str("action", op.action).Msg("call failed")
		ch.setState(ChannelFaulted)
		return &TransportError{Op: op.action, Address: ch.address, Err: err}
	}

	body, err := parseEnvelope(status, data)
	if err != nil {
		if IsFault(err) {
			ch.logger.Debug().Str("action", op.action).Int("status", status).Msg("device returned fault")
			return err
		}
		return &TransportError{Op: op.action, Address: ch.address, Err: err}
	}
	if out == nil {
		return nil
	}
	return decodePayload(body, out)
}

// roundTrip posts the envelope under the send timeout and reads the
// response body under the receive timeout.
func (ch *Channel) roundTrip(ctx context.Context, action string, payload []byte) (int, []byte, error) {
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(callCtx, http.MethodPost, ch.address, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, errors.Trace(err)
	}
	req.Header.Set("Content-Type", soapContentType+`; action="`+action+`"`)

	stopSend := phaseTimer(ch.transport.SendTimeout, cancel)
	resp, err := ch.client.Do(req)
	if stopSend() {
		if resp != nil {
			resp.Body.Close()
		}
		return 0, nil, errors.Timeoutf("send exceeded %s", ch.transport.SendTimeout)
	}
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	stopReceive := phaseTimer(ch.transport.ReceiveTimeout, cancel)
	data, err := readBody(resp.Body, ch.transport.MaxReceivedMessageSize)
	if stopReceive() {
		return 0, nil, errors.Timeoutf("receive exceeded %s", ch.transport.ReceiveTimeout)
	}
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, data, nil
}

// parseXAddr validates a service address.
func parseXAddr(address string) (*url.URL, error) {
	u, err := url.Parse(address)
	if err != nil {
		return nil, errors.NewNotValid(err, "service address "+address)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, errors.NotValidf("service address %q scheme", address)
	}
	if u.Host == "" {
		return nil, errors.NotValidf("service address %q host", address)
	}
	return u, nil
}
