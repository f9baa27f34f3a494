package onvif

import (
	"context"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// BootstrapState is a step of the client creation sequence.
type BootstrapState int

const (
	StateInit BootstrapState = iota
	StateProbedUnauthenticated
	StateShiftResolved
	StateAuthenticatedDevice
	StateEndpointResolved
	StateAuthenticatedTarget
	StateVerified
)

func (s BootstrapState) String() string {
	switch s {
	case StateInit:
		return "Init"
	case StateProbedUnauthenticated:
		return "ProbedUnauthenticated"
	case StateShiftResolved:
		return "ShiftResolved"
	case StateAuthenticatedDevice:
		return "AuthenticatedDevice"
	case StateEndpointResolved:
		return "EndpointResolved"
	case StateAuthenticatedTarget:
		return "AuthenticatedTarget"
	case StateVerified:
		return "Verified"
	}
	return "Unknown"
}

// Option configures a Bootstrapper.
type Option func(*Bootstrapper)

// WithBindingConfig sets the timeout overrides applied to every channel.
func WithBindingConfig(cfg BindingConfig) Option {
	return func(b *Bootstrapper) {
		b.binding = cfg
	}
}

// WithTransport replaces the base transport the binding overrides are
// merged into. (default: DefaultTransport())
func WithTransport(t Transport) Option {
	return func(b *Bootstrapper) {
		b.transport = t
	}
}

// WithInsecureTLS skips TLS certificate verification.
func WithInsecureTLS() Option {
	return func(b *Bootstrapper) {
		b.transport.InsecureTLS = true
	}
}

// WithHTTPDigest adds HTTP digest authentication to authenticated
// channels, for devices that require it in addition to WS-Security.
func WithHTTPDigest() Option {
	return func(b *Bootstrapper) {
		b.httpDigest = true
	}
}

// WithLogger sets the logger for bootstrap progress. (default: zerolog's
// global logger)
func WithLogger(l zerolog.Logger) Option {
	return func(b *Bootstrapper) {
		b.logger = l
	}
}

// WithChannelFactory replaces the function used to build channels.
// (default: NewChannel)
func WithChannelFactory(f ChannelFactory) Option {
	return func(b *Bootstrapper) {
		b.factory = f
	}
}

// WithClock sets the clock used for time shifts and header timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bootstrapper) {
		b.now = now
	}
}

// Bootstrapper creates authenticated service clients. It holds the
// binding configuration for every client it creates and is safe for
// concurrent use. It keeps no state between bootstrap sequences.
type Bootstrapper struct {
	mu         sync.RWMutex
	binding    BindingConfig
	transport  Transport
	factory    ChannelFactory
	httpDigest bool
	logger     zerolog.Logger
	now        func() time.Time
}

// NewBootstrapper returns a Bootstrapper with the given options applied.
func NewBootstrapper(opts ...Option) *Bootstrapper {
	b := &Bootstrapper{
		transport: DefaultTransport(),
		factory:   NewChannel,
		logger:    log.Logger,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BindingConfig returns the current binding configuration.
func (b *Bootstrapper) BindingConfig() BindingConfig {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.binding
}

// SetBindingConfig replaces the binding configuration used by subsequent
// client creation. Channels already built keep their settings; concurrent
// bootstraps see either the old or the new value.
func (b *Bootstrapper) SetBindingConfig(cfg BindingConfig) {
	b.mu.Lock()
	b.binding = cfg
	b.mu.Unlock()
}

// Transport returns the transport a new channel would be built with.
func (b *Bootstrapper) Transport() Transport {
	b.mu.RLock()
	t, cfg := b.transport, b.binding
	b.mu.RUnlock()
	cfg.Configure(&t)
	return t
}

// sequence tracks one bootstrap run and every channel it built, so the
// failure path can close them all.
type sequence struct {
	b        *Bootstrapper
	logger   zerolog.Logger
	state    BootstrapState
	channels []*Channel
}

func (b *Bootstrapper) begin(xaddr string, kind CapabilityKind) *sequence {
	return &sequence{
		b:      b,
		logger: b.logger.With().Str("xaddr", xaddr).Str("capability", kind.String()).Logger(),
		state:  StateInit,
	}
}

func (s *sequence) enter(state BootstrapState) {
	s.state = state
	s.logger.Debug().Stringer("state", state).Msg("bootstrap")
}

func (s *sequence) newChannel(address string, headers HeaderSource, digest *Credentials) (*Channel, error) {
	ch, err := s.b.factory(ChannelParams{
		Address:   address,
		Transport: s.b.Transport(),
		Headers:   headers,
		Digest:    digest,
		Logger:    s.logger,
	})
	if err != nil {
		return nil, err
	}
	s.channels = append(s.channels, ch)
	return ch, nil
}

// abort closes every channel the sequence built and returns err unchanged.
func (s *sequence) abort(err error) error {
	for _, ch := range s.channels {
		ch.Abort()
	}
	s.logger.Debug().Err(err).Stringer("state", s.state).Msg("bootstrap failed")
	return err
}

// probeTimeShift builds an unauthenticated channel to xaddr, resolves the
// time shift over it and closes it again.
func (s *sequence) probeTimeShift(ctx context.Context, xaddr string) (time.Duration, error) {
	probe, err := s.newChannel(xaddr, nil, nil)
	if err != nil {
		return 0, err
	}
	s.enter(StateProbedUnauthenticated)

	shift, err := TimeShiftResolver{Now: s.b.now}.Resolve(ctx, probe)
	if err != nil {
		return 0, err
	}
	if err := probe.Close(); err != nil {
		return 0, err
	}
	s.logger.Debug().Dur("shift", shift).Msg("device clock offset")
	s.enter(StateShiftResolved)
	return shift, nil
}

// authenticate probes the clock behind xaddr and returns a new verified
// channel to xaddr whose messages carry fresh security headers.
func (s *sequence) authenticate(ctx context.Context, xaddr string, creds Credentials, reached BootstrapState) (*Channel, error) {
	shift, err := s.probeTimeShift(ctx, xaddr)
	if err != nil {
		return nil, err
	}

	auth := &authenticator{
		creds:   creds,
		shift:   shift,
		builder: HeaderBuilder{Now: s.b.now},
	}
	var digest *Credentials
	if s.b.httpDigest {
		digest = &creds
	}
	ch, err := s.newChannel(xaddr, auth, digest)
	if err != nil {
		return nil, err
	}
	s.enter(reached)

	if err := ch.Open(ctx); err != nil {
		return nil, err
	}
	return ch, nil
}

// deviceChannel runs the device sequence:
// Init → ProbedUnauthenticated → ShiftResolved → AuthenticatedDevice → Verified.
func (b *Bootstrapper) deviceChannel(ctx context.Context, address string, creds Credentials) (*Channel, error) {
	xaddr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	s := b.begin(xaddr, CapabilityDevice)
	ch, err := s.authenticate(ctx, xaddr, creds, StateAuthenticatedDevice)
	if err != nil {
		return nil, s.abort(err)
	}
	s.enter(StateVerified)
	return ch, nil
}

// serviceChannel runs the device sequence, resolves kind on the device and
// repeats the probe and authentication against the resolved address, which
// may run on a different clock.
func (b *Bootstrapper) serviceChannel(ctx context.Context, address string, creds Credentials, kind CapabilityKind) (*Channel, error) {
	xaddr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	s := b.begin(xaddr, kind)
	device, err := s.authenticate(ctx, xaddr, creds, StateAuthenticatedDevice)
	if err != nil {
		return nil, s.abort(err)
	}

	target, err := ResolveCapability(ctx, device, kind)
	if err != nil {
		return nil, s.abort(err)
	}
	if err := device.Close(); err != nil {
		return nil, s.abort(err)
	}
	s.logger.Debug().Str("uri", target.URI).Msg("capability resolved")
	s.enter(StateEndpointResolved)

	ch, err := s.authenticate(ctx, target.URI, creds, StateAuthenticatedTarget)
	if err != nil {
		return nil, s.abort(err)
	}
	s.enter(StateVerified)
	return ch, nil
}

// preAuthenticatedChannel opens a device channel without credentials.
func (b *Bootstrapper) preAuthenticatedChannel(ctx context.Context, address string) (*Channel, error) {
	xaddr, err := NormalizeAddress(address)
	if err != nil {
		return nil, err
	}

	s := b.begin(xaddr, CapabilityDevice)
	ch, err := s.newChannel(xaddr, nil, nil)
	if err != nil {
		return nil, s.abort(err)
	}
	s.enter(StateProbedUnauthenticated)
	if err := ch.Open(ctx); err != nil {
		return nil, s.abort(err)
	}
	s.enter(StateVerified)
	return ch, nil
}

// DefaultDevicePath is appended to bare hosts passed as device address.
const DefaultDevicePath = "/onvif/device_service"

// NormalizeAddress turns a device address or bare host[:port] into a
// device service URL. Invalid input yields ErrInvalidConfiguration.
func NormalizeAddress(address string) (string, error) {
	address = getFirstAddress(strings.TrimSpace(address))
	if address == "" {
		return "", errors.NotValidf("empty device address")
	}

	if !strings.Contains(address, "://") {
		host := address
		if h, p, err := net.SplitHostPort(address); err == nil {
			if h == "" || p == "" {
				return "", errors.NotValidf("device address %q", address)
			}
		} else if strings.ContainsAny(address, "/?#@ ") {
			return "", errors.NotValidf("device address %q", address)
		}
		u := url.URL{Scheme: "http", Host: host, Path: DefaultDevicePath}
		address = u.String()
	}

	u, err := parseXAddr(address)
	if err != nil {
		return "", err
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultDevicePath
	}
	return u.String(), nil
}

// getFirstAddress extracts the first address if multiple are provided
func getFirstAddress(address string) string {
	addresses := strings.Fields(address)
	if len(addresses) > 0 {
		return addresses[0]
	}
	return address
}
