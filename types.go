// Package onvif discovers and controls ONVIF cameras. Clients are created
// through a Bootstrapper, which probes the device clock, authenticates with
// a WS-Security digest and resolves service addresses from the device's
// capabilities.
package onvif

import (
	"time"
)

// CapabilityKind names a service a device may advertise in its
// capability document.
type CapabilityKind string

const (
	CapabilityAll       CapabilityKind = "All"
	CapabilityAnalytics CapabilityKind = "Analytics"
	CapabilityDevice    CapabilityKind = "Device"
	CapabilityEvents    CapabilityKind = "Events"
	CapabilityImaging   CapabilityKind = "Imaging"
	CapabilityMedia     CapabilityKind = "Media"
	CapabilityPTZ       CapabilityKind = "PTZ"

	// Reported under Capabilities/Extension.
	CapabilityDeviceIO  CapabilityKind = "DeviceIO"
	CapabilityRecording CapabilityKind = "Recording"
	CapabilitySearch    CapabilityKind = "Search"
	CapabilityReplay    CapabilityKind = "Replay"
)

func (k CapabilityKind) String() string {
	return string(k)
}

// category is the GetCapabilities category that returns k. Extension
// services are only listed under All.
func (k CapabilityKind) category() CapabilityKind {
	switch k {
	case CapabilityAnalytics, CapabilityDevice, CapabilityEvents,
		CapabilityImaging, CapabilityMedia, CapabilityPTZ:
		return k
	}
	return CapabilityAll
}

// CapabilityAddress is a service address resolved from a capability
// document.
type CapabilityAddress struct {
	Kind CapabilityKind
	URI  string
}

// Capabilities is the device capability document.
type Capabilities struct {
	Analytics *ServiceCapability     `xml:"Analytics"`
	Device    *DeviceCapability      `xml:"Device"`
	Events    *ServiceCapability     `xml:"Events"`
	Imaging   *ServiceCapability     `xml:"Imaging"`
	Media     *MediaCapability       `xml:"Media"`
	PTZ       *ServiceCapability     `xml:"PTZ"`
	Extension *CapabilitiesExtension `xml:"Extension"`
}

// ServiceCapability is a capability entry that only carries an address.
type ServiceCapability struct {
	XAddr string `xml:"XAddr"`
}

// DeviceCapability describes the device management service.
type DeviceCapability struct {
	XAddr string `xml:"XAddr"`
	IO    struct {
		InputConnectors int `xml:"InputConnectors"`
		RelayOutputs    int `xml:"RelayOutputs"`
	} `xml:"IO"`
}

// MediaCapability describes the media service.
type MediaCapability struct {
	XAddr                 string `xml:"XAddr"`
	StreamingCapabilities struct {
		RTPMulticast bool `xml:"RTPMulticast"`
		RTPTCP       bool `xml:"RTP_TCP"`
		RTPRTSPTCP   bool `xml:"RTP_RTSP_TCP"`
	} `xml:"StreamingCapabilities"`
}

// CapabilitiesExtension lists services added after ONVIF 1.0.
type CapabilitiesExtension struct {
	DeviceIO  *DeviceIOCapability `xml:"DeviceIO"`
	Recording *ServiceCapability  `xml:"Recording"`
	Search    *ServiceCapability  `xml:"Search"`
	Replay    *ServiceCapability  `xml:"Replay"`
}

// DeviceIOCapability describes the device IO service.
type DeviceIOCapability struct {
	XAddr        string `xml:"XAddr"`
	VideoSources int    `xml:"VideoSources"`
	VideoOutputs int    `xml:"VideoOutputs"`
	AudioSources int    `xml:"AudioSources"`
	AudioOutputs int    `xml:"AudioOutputs"`
	RelayOutputs int    `xml:"RelayOutputs"`
}

// XAddr returns the advertised address for kind, or "" when the document
// has no entry for it.
func (c *Capabilities) XAddr(kind CapabilityKind) string {
	switch kind {
	case CapabilityAnalytics:
		if c.Analytics != nil {
			return c.Analytics.XAddr
		}
	case CapabilityDevice:
		if c.Device != nil {
			return c.Device.XAddr
		}
	case CapabilityEvents:
		if c.Events != nil {
			return c.Events.XAddr
		}
	case CapabilityImaging:
		if c.Imaging != nil {
			return c.Imaging.XAddr
		}
	case CapabilityMedia:
		if c.Media != nil {
			return c.Media.XAddr
		}
	case CapabilityPTZ:
		if c.PTZ != nil {
			return c.PTZ.XAddr
		}
	}
	if c.Extension == nil {
		return ""
	}
	switch kind {
	case CapabilityDeviceIO:
		if c.Extension.DeviceIO != nil {
			return c.Extension.DeviceIO.XAddr
		}
	case CapabilityRecording:
		if c.Extension.Recording != nil {
			return c.Extension.Recording.XAddr
		}
	case CapabilitySearch:
		if c.Extension.Search != nil {
			return c.Extension.Search.XAddr
		}
	case CapabilityReplay:
		if c.Extension.Replay != nil {
			return c.Extension.Replay.XAddr
		}
	}
	return ""
}

// DateTime is the ONVIF split date/time representation.
type DateTime struct {
	Time struct {
		Hour   int `xml:"Hour"`
		Minute int `xml:"Minute"`
		Second int `xml:"Second"`
	} `xml:"Time"`
	Date struct {
		Year  int `xml:"Year"`
		Month int `xml:"Month"`
		Day   int `xml:"Day"`
	} `xml:"Date"`
}

// UTC returns the instant as a UTC time.
func (d DateTime) UTC() time.Time {
	return time.Date(d.Date.Year, time.Month(d.Date.Month), d.Date.Day,
		d.Time.Hour, d.Time.Minute, d.Time.Second, 0, time.UTC)
}

// valid reports whether the date part names a real calendar day.
func (d DateTime) valid() bool {
	return d.Date.Year > 0 && d.Date.Month >= 1 && d.Date.Month <= 12 && d.Date.Day >= 1 && d.Date.Day <= 31
}

// SystemDateAndTime is the device clock report.
type SystemDateAndTime struct {
	DateTimeType    string `xml:"DateTimeType"`
	DaylightSavings bool   `xml:"DaylightSavings"`
	TimeZone        struct {
		TZ string `xml:"TZ"`
	} `xml:"TimeZone"`
	UTCDateTime   *DateTime `xml:"UTCDateTime"`
	LocalDateTime *DateTime `xml:"LocalDateTime"`
}

// DeviceInformation is returned by GetDeviceInformation.
type DeviceInformation struct {
	Manufacturer    string `xml:"Manufacturer"`
	Model           string `xml:"Model"`
	FirmwareVersion string `xml:"FirmwareVersion"`
	SerialNumber    string `xml:"SerialNumber"`
	HardwareId      string `xml:"HardwareId"`
}

// DisplayName returns the best available name for the device
func (d DeviceInformation) DisplayName() string {
	switch {
	case d.Manufacturer != "" && d.Model != "":
		return d.Manufacturer + " " + d.Model
	case d.Model != "":
		return d.Model
	}
	return d.Manufacturer
}

// HostnameInformation is returned by GetHostname.
type HostnameInformation struct {
	FromDHCP bool   `xml:"FromDHCP"`
	Name     string `xml:"Name"`
}

// UserLevel represents the access level for an ONVIF user
type UserLevel string

const (
	UserLevelAdministrator UserLevel = "Administrator"
	UserLevelOperator      UserLevel = "Operator"
	UserLevelUser          UserLevel = "User"
	UserLevelAnonymous     UserLevel = "Anonymous"
)

// User represents an ONVIF user account
type User struct {
	Username  string
	Password  string
	UserLevel UserLevel
}

// Profile is a media profile.
type Profile struct {
	Token                     string              `xml:"token,attr"`
	Name                      string              `xml:"Name"`
	VideoSourceConfiguration  *VideoSourceConfig  `xml:"VideoSourceConfiguration"`
	VideoEncoderConfiguration *VideoEncoderConfig `xml:"VideoEncoderConfiguration"`
	PTZConfiguration          *PTZConfiguration   `xml:"PTZConfiguration"`
}

// VideoSourceConfig binds a profile to a physical video source.
type VideoSourceConfig struct {
	Token       string `xml:"token,attr"`
	Name        string `xml:"Name"`
	SourceToken string `xml:"SourceToken"`
}

// VideoEncoderConfig represents video encoder configuration
type VideoEncoderConfig struct {
	Token       string      `xml:"token,attr"`
	Name        string      `xml:"Name"`
	Encoding    string      `xml:"Encoding"`
	Resolution  Resolution  `xml:"Resolution"`
	Quality     float32     `xml:"Quality"`
	RateControl RateControl `xml:"RateControl"`
}

// RateControl limits the encoder output.
type RateControl struct {
	FrameRateLimit   int `xml:"FrameRateLimit"`
	EncodingInterval int `xml:"EncodingInterval"`
	BitrateLimit     int `xml:"BitrateLimit"`
}

// Resolution represents video resolution
type Resolution struct {
	Width  int `xml:"Width"`
	Height int `xml:"Height"`
}

// Common resolutions
var (
	Resolution640x480   = Resolution{640, 480}
	Resolution1280x720  = Resolution{1280, 720}
	Resolution1920x1080 = Resolution{1920, 1080}
	Resolution2560x1920 = Resolution{2560, 1920}
)

// VideoSource is a physical video input.
type VideoSource struct {
	Token      string     `xml:"token,attr"`
	Framerate  float64    `xml:"Framerate"`
	Resolution Resolution `xml:"Resolution"`
}

// StreamConfig represents a video stream configuration
type StreamConfig struct {
	ProfileName  string
	ProfileToken string
	EncoderToken string
	Resolution   Resolution
	Framerate    int
	Bitrate      int
	Encoding     string
	StreamURI    string
	Quality      string // "Main" or "Sub"
}

// StreamUpdateConfig specifies target configuration for stream updates
type StreamUpdateConfig struct {
	Resolution Resolution
	Framerate  int
	Bitrate    int
	Encoding   string
}

// PTZNode is a PTZ capable unit of the device.
type PTZNode struct {
	Token                  string `xml:"token,attr"`
	Name                   string `xml:"Name"`
	HomeSupported          bool   `xml:"HomeSupported"`
	MaximumNumberOfPresets int    `xml:"MaximumNumberOfPresets"`
}

// PTZConfiguration binds a profile to a PTZ node.
type PTZConfiguration struct {
	Token     string `xml:"token,attr"`
	Name      string `xml:"Name"`
	NodeToken string `xml:"NodeToken"`
}

// Vector2D is a pan/tilt position.
type Vector2D struct {
	X     float64 `xml:"x,attr"`
	Y     float64 `xml:"y,attr"`
	Space string  `xml:"space,attr"`
}

// Vector1D is a zoom position.
type Vector1D struct {
	X     float64 `xml:"x,attr"`
	Space string  `xml:"space,attr"`
}

// PTZStatus is the current position and movement state.
type PTZStatus struct {
	Position struct {
		PanTilt *Vector2D `xml:"PanTilt"`
		Zoom    *Vector1D `xml:"Zoom"`
	} `xml:"Position"`
	MoveStatus struct {
		PanTilt string `xml:"PanTilt"`
		Zoom    string `xml:"Zoom"`
	} `xml:"MoveStatus"`
	UtcTime string `xml:"UtcTime"`
}

// IrCutFilterMode represents the IR cut filter (day/night) mode
type IrCutFilterMode string

const (
	IrCutFilterOn   IrCutFilterMode = "ON"
	IrCutFilterOff  IrCutFilterMode = "OFF"
	IrCutFilterAuto IrCutFilterMode = "AUTO"
)

// ImagingSettings represents imaging configuration for a video source
type ImagingSettings struct {
	VideoSourceToken string          `xml:"-"`
	Brightness       float64         `xml:"Brightness"`
	ColorSaturation  float64         `xml:"ColorSaturation"`
	Contrast         float64         `xml:"Contrast"`
	IrCutFilter      IrCutFilterMode `xml:"IrCutFilter"`
}
