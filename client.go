package onvif

import (
	"context"
)

// DefaultBootstrapper backs the package level constructors.
var DefaultBootstrapper = NewBootstrapper()

// SetBindingConfig sets the binding configuration of DefaultBootstrapper.
// Set it once before creating clients; later calls only affect clients
// created afterwards.
func SetBindingConfig(cfg BindingConfig) {
	DefaultBootstrapper.SetBindingConfig(cfg)
}

// service is the part shared by every service client.
type service struct {
	channel *Channel
}

// Address returns the service address the client talks to.
func (s service) Address() string {
	return s.channel.Address()
}

// Channel returns the underlying channel.
func (s service) Channel() *Channel {
	return s.channel
}

// Close releases the client's connections.
func (s service) Close() error {
	return s.channel.Close()
}

// DeviceClient calls the device management service.
type DeviceClient struct{ service }

// MediaClient calls the media service.
type MediaClient struct{ service }

// PTZClient calls the PTZ service.
type PTZClient struct{ service }

// ImagingClient calls the imaging service.
type ImagingClient struct{ service }

// NewDeviceClient returns a verified, authenticated device client for
// address, which is either a device service URL or a bare host[:port].
func (b *Bootstrapper) NewDeviceClient(ctx context.Context, address, username, password string) (*DeviceClient, error) {
	ch, err := b.deviceChannel(ctx, address, Credentials{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	return &DeviceClient{service{ch}}, nil
}

// NewPreAuthenticatedDeviceClient returns a device client that sends no
// security header, for calls devices answer without credentials.
func (b *Bootstrapper) NewPreAuthenticatedDeviceClient(ctx context.Context, address string) (*DeviceClient, error) {
	ch, err := b.preAuthenticatedChannel(ctx, address)
	if err != nil {
		return nil, err
	}
	return &DeviceClient{service{ch}}, nil
}

// NewMediaClient returns a verified, authenticated media client using the
// address the device advertises.
func (b *Bootstrapper) NewMediaClient(ctx context.Context, address, username, password string) (*MediaClient, error) {
	ch, err := b.serviceChannel(ctx, address, Credentials{Username: username, Password: password}, CapabilityMedia)
	if err != nil {
		return nil, err
	}
	return &MediaClient{service{ch}}, nil
}

// NewPTZClient returns a verified, authenticated PTZ client using the
// address the device advertises.
func (b *Bootstrapper) NewPTZClient(ctx context.Context, address, username, password string) (*PTZClient, error) {
	ch, err := b.serviceChannel(ctx, address, Credentials{Username: username, Password: password}, CapabilityPTZ)
	if err != nil {
		return nil, err
	}
	return &PTZClient{service{ch}}, nil
}

// NewImagingClient returns a verified, authenticated imaging client using
// the address the device advertises.
func (b *Bootstrapper) NewImagingClient(ctx context.Context, address, username, password string) (*ImagingClient, error) {
	ch, err := b.serviceChannel(ctx, address, Credentials{Username: username, Password: password}, CapabilityImaging)
	if err != nil {
		return nil, err
	}
	return &ImagingClient{service{ch}}, nil
}

// NewDeviceClient creates a device client with DefaultBootstrapper.
func NewDeviceClient(ctx context.Context, address, username, password string) (*DeviceClient, error) {
	return DefaultBootstrapper.NewDeviceClient(ctx, address, username, password)
}

// NewPreAuthenticatedDeviceClient creates an unauthenticated device client
// with DefaultBootstrapper.
func NewPreAuthenticatedDeviceClient(ctx context.Context, address string) (*DeviceClient, error) {
	return DefaultBootstrapper.NewPreAuthenticatedDeviceClient(ctx, address)
}

// NewMediaClient creates a media client with DefaultBootstrapper.
func NewMediaClient(ctx context.Context, address, username, password string) (*MediaClient, error) {
	return DefaultBootstrapper.NewMediaClient(ctx, address, username, password)
}

// NewPTZClient creates a PTZ client with DefaultBootstrapper.
func NewPTZClient(ctx context.Context, address, username, password string) (*PTZClient, error) {
	return DefaultBootstrapper.NewPTZClient(ctx, address, username, password)
}

// NewImagingClient creates an imaging client with DefaultBootstrapper.
func NewImagingClient(ctx context.Context, address, username, password string) (*ImagingClient, error) {
	return DefaultBootstrapper.NewImagingClient(ctx, address, username, password)
}
