package onvif

import (
	"context"
	"encoding/xml"
	"net"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/juju/errors"
	"golang.org/x/net/ipv4"
)

// Discovery defaults
const (
	DefaultMulticastAddr    = "239.255.255.250:3702"
	DefaultDiscoveryTimeout = 5 * time.Second
)

const probeTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<Envelope xmlns="http://www.w3.org/2003/05/soap-envelope"
          xmlns:a="http://schemas.xmlsoap.org/ws/2004/08/addressing"
          xmlns:d="http://schemas.xmlsoap.org/ws/2005/04/discovery"
          xmlns:dn="http://www.onvif.org/ver10/network/wsdl">
    <Header>
        <a:Action>http://schemas.xmlsoap.org/ws/2005/04/discovery/Probe</a:Action>
        <a:MessageID>urn:uuid:MESSAGE_ID</a:MessageID>
        <a:To>urn:schemas-xmlsoap-org:ws:2005:04:discovery</a:To>
    </Header>
    <Body>
        <d:Probe>
            <d:Types>dn:NetworkVideoTransmitter</d:Types>
        </d:Probe>
    </Body>
</Envelope>`

// DiscoveryOptions provides options for device discovery
type DiscoveryOptions struct {
	Timeout       time.Duration
	MulticastAddr string
	Interface     *net.Interface // nil lets the OS pick
	TTL           int            // multicast hop limit, 0 keeps the OS default
}

// DiscoveredDevice is a device that answered a discovery probe.
type DiscoveredDevice struct {
	EndpointReference string
	XAddrs            []string
	Name              string
	Location          string
	Hardware          string
	Profiles          []string
}

// XAddr returns the first advertised device service address.
func (d DiscoveredDevice) XAddr() string {
	if len(d.XAddrs) == 0 {
		return ""
	}
	return d.XAddrs[0]
}

// Discovery response structures
type probeEnvelope struct {
	XMLName xml.Name `xml:"Envelope"`
	Header  struct {
		RelatesTo string `xml:"RelatesTo"`
	} `xml:"Header"`
	Body struct {
		ProbeMatches struct {
			ProbeMatch []probeMatch `xml:"ProbeMatch"`
		} `xml:"ProbeMatches"`
	} `xml:"Body"`
}

type probeMatch struct {
	EndpointReference struct {
		Address string `xml:"Address"`
	} `xml:"EndpointReference"`
	Types           string `xml:"Types"`
	Scopes          string `xml:"Scopes"`
	XAddrs          string `xml:"XAddrs"`
	MetadataVersion int    `xml:"MetadataVersion"`
}

// Discover multicasts a WS-Discovery probe and collects the devices that
// answer before the timeout or ctx ends.
func Discover(ctx context.Context, options *DiscoveryOptions) ([]DiscoveredDevice, error) {
	opts := DiscoveryOptions{}
	if options != nil {
		opts = *options
	}
	if opts.MulticastAddr == "" {
		opts.MulticastAddr = DefaultMulticastAddr
	}
	if opts.Timeout == 0 {
		opts.Timeout = DefaultDiscoveryTimeout
	}

	addr, err := net.ResolveUDPAddr("udp4", opts.MulticastAddr)
	if err != nil {
		return nil, errors.NewNotValid(err, "multicast address")
	}

	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, errors.Annotate(err, "creating UDP socket")
	}
	defer conn.Close()

	pc := ipv4.NewPacketConn(conn)
	if opts.Interface != nil {
		if err := pc.SetMulticastInterface(opts.Interface); err != nil {
			return nil, errors.Annotate(err, "selecting multicast interface")
		}
	}
	if opts.TTL > 0 {
		if err := pc.SetMulticastTTL(opts.TTL); err != nil {
			return nil, errors.Annotate(err, "setting multicast TTL")
		}
	}

	deadline := time.Now().Add(opts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Annotate(err, "setting read deadline")
	}

	messageID, err := uuid.NewV4()
	if err != nil {
		return nil, errors.Annotate(err, "generating message id")
	}
	if _, err := conn.WriteToUDP(probeMessage(messageID), addr); err != nil {
		return nil, errors.Annotate(err, "sending probe")
	}

	var devices []DiscoveredDevice
	buffer := make([]byte, 65536)
	for ctx.Err() == nil {
		n, _, err := conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				break
			}
			continue
		}
		devices = append(devices, parseProbeMatches(buffer[:n], messageID)...)
	}

	return deduplicateDevices(devices), nil
}

func probeMessage(id uuid.UUID) []byte {
	return []byte(strings.Replace(probeTemplate, "MESSAGE_ID", id.String(), 1))
}

// parseProbeMatches decodes a ProbeMatches response. Responses to another
// probe are ignored.
func parseProbeMatches(data []byte, messageID uuid.UUID) []DiscoveredDevice {
	var env probeEnvelope
	if err := xml.Unmarshal(data, &env); err != nil {
		return nil
	}
	if rel := strings.TrimSpace(env.Header.RelatesTo); rel != "" && !strings.HasSuffix(rel, messageID.String()) {
		return nil
	}

	var devices []DiscoveredDevice
	for _, match := range env.Body.ProbeMatches.ProbeMatch {
		xaddrs := strings.Fields(match.XAddrs)
		if len(xaddrs) == 0 {
			continue
		}
		name, location, hardware := parseScopes(match.Scopes)
		devices = append(devices, DiscoveredDevice{
			EndpointReference: strings.TrimSpace(match.EndpointReference.Address),
			XAddrs:            xaddrs,
			Name:              name,
			Location:          location,
			Hardware:          hardware,
			Profiles:          parseProfiles(match.Types),
		})
	}
	return devices
}

func parseScopes(scopes string) (name, location, hardware string) {
	for _, scope := range strings.Fields(scopes) {
		switch {
		case strings.HasPrefix(scope, "onvif://www.onvif.org/name/"):
			name = scopeValue(scope, "onvif://www.onvif.org/name/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/location/"):
			location = scopeValue(scope, "onvif://www.onvif.org/location/")
		case strings.HasPrefix(scope, "onvif://www.onvif.org/hardware/"):
			hardware = scopeValue(scope, "onvif://www.onvif.org/hardware/")
		}
	}
	return
}

func scopeValue(scope, prefix string) string {
	return strings.ReplaceAll(strings.TrimPrefix(scope, prefix), "_", " ")
}

func parseProfiles(types string) []string {
	var profiles []string
	for _, t := range strings.Fields(types) {
		switch {
		case strings.Contains(t, "NetworkVideoTransmitter"):
			profiles = append(profiles, "Network Video Transmitter")
		case strings.Contains(t, "Device"):
			profiles = append(profiles, "Device")
		case strings.Contains(t, "PTZ"):
			profiles = append(profiles, "PTZ")
		case strings.Contains(t, "Media"):
			profiles = append(profiles, "Media")
		case strings.Contains(t, "Imaging"):
			profiles = append(profiles, "Imaging")
		}
	}
	return profiles
}

// deduplicateDevices keeps the first answer per device service address,
// preserving arrival order.
func deduplicateDevices(devices []DiscoveredDevice) []DiscoveredDevice {
	seen := make(map[string]bool)
	var unique []DiscoveredDevice
	for _, d := range devices {
		key := d.EndpointReference
		if key == "" {
			key = d.XAddr()
		}
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, d)
	}
	return unique
}
