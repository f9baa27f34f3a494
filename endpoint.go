package onvif

import (
	"context"
	"strings"

	"github.com/juju/errors"
)

// ResolveCapability asks the device for its capability document,
// restricted to kind where the protocol allows it, and returns the service
// address advertised for kind. ch must be an authenticated device channel.
// Addresses are never cached; each call queries the device.
func ResolveCapability(ctx context.Context, ch *Channel, kind CapabilityKind) (CapabilityAddress, error) {
	caps, err := getCapabilities(ctx, ch, kind.category())
	if err != nil {
		return CapabilityAddress{}, err
	}

	xaddr := strings.TrimSpace(caps.XAddr(kind))
	if xaddr == "" {
		return CapabilityAddress{}, errors.NotSupportedf("capability %s on device %s", kind, ch.Address())
	}
	if _, err := parseXAddr(xaddr); err != nil {
		return CapabilityAddress{}, errors.Annotatef(err, "capability %s", kind)
	}
	return CapabilityAddress{Kind: kind, URI: xaddr}, nil
}

func getCapabilities(ctx context.Context, ch *Channel, category CapabilityKind) (*Capabilities, error) {
	var resp struct {
		Capabilities Capabilities `xml:"Capabilities"`
	}
	op := newOperation(nsDevice, "tds", "GetCapabilities")
	addText(op.body, "tds:Category", string(category))
	if err := ch.call(ctx, op, &resp); err != nil {
		return nil, err
	}
	return &resp.Capabilities, nil
}
