// Package devicesim is an in-process ONVIF device used by tests and the
// onvif-sim command. It answers the device, media, PTZ and imaging
// operations the client library issues, keeps its own clock, and checks
// WS-Security UsernameToken digests the way cameras do.
package devicesim

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/beevik/etree"
	"github.com/elgs/gostrgen"
	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
)

// Service path segments under /onvif/.
const (
	DevicePath  = "device_service"
	MediaPath   = "media_service"
	PTZPath     = "ptz_service"
	ImagingPath = "imaging_service"
)

// DefaultAcceptanceWindow is how far a Created timestamp may be from the
// device clock.
const DefaultAcceptanceWindow = 10 * time.Second

// Fault makes an operation fail with a SOAP fault.
type Fault struct {
	Status  int    // HTTP status, default 400
	Code    string // default env:Receiver
	Subcode string
	Reason  string
}

// Config describes the simulated device.
type Config struct {
	// Username and Password enable authentication. When empty, every
	// request is accepted.
	Username string
	Password string

	// ClockOffset is added to the host clock to form the device clock.
	ClockOffset time.Duration
	// ServiceClockOffsets adds a further offset for one service path, for
	// devices whose services run in separate clock domains.
	ServiceClockOffsets map[string]time.Duration
	// AcceptanceWindow bounds |Created - device clock|.
	AcceptanceWindow time.Duration

	// Services lists the advertised capabilities besides Device, using
	// capability names: "Media", "PTZ", "Imaging", "Events", "Analytics".
	Services []string
	// XAddrs overrides the advertised address per capability name.
	XAddrs map[string]string

	// OmitUTCDateTime drops UTCDateTime from GetSystemDateAndTime.
	OmitUTCDateTime bool
	// Faults injects a fault per operation name.
	Faults map[string]Fault

	Manufacturer    string
	Model           string
	FirmwareVersion string
	Hostname        string
}

// Request is one message received by the device.
type Request struct {
	Service       string
	Operation     string
	Username      string
	Created       time.Time // zero without a security header
	Authenticated bool
	DeviceTime    time.Time
}

// User is a device account.
type User struct {
	Username  string
	Password  string
	UserLevel string
}

// Device is a simulated ONVIF device. Its Handler can be served with
// net/http or httptest.
type Device struct {
	cfg        Config
	serial     string
	hardwareID string
	engine     *gin.Engine

	mu          sync.Mutex
	offset      time.Duration
	requests    []Request
	nonces      map[string]bool
	users       []User
	irCutFilter string
}

// New builds a device from cfg.
func New(cfg Config) *Device {
	if cfg.AcceptanceWindow == 0 {
		cfg.AcceptanceWindow = DefaultAcceptanceWindow
	}
	if cfg.Manufacturer == "" {
		cfg.Manufacturer = "Simulated"
	}
	if cfg.Model == "" {
		cfg.Model = "SIM-1000"
	}
	if cfg.FirmwareVersion == "" {
		cfg.FirmwareVersion = "1.0.0"
	}
	if cfg.Hostname == "" {
		cfg.Hostname = "onvif-sim"
	}

	serial, err := gostrgen.RandGen(12, gostrgen.Upper|gostrgen.Digit, "", "")
	if err != nil {
		serial = "000000000000"
	}
	hardwareID := uuid.Must(uuid.NewV4()).String()

	d := &Device{
		cfg:         cfg,
		serial:      serial,
		hardwareID:  hardwareID,
		offset:      cfg.ClockOffset,
		nonces:      make(map[string]bool),
		irCutFilter: "AUTO",
	}
	if cfg.Username != "" {
		d.users = append(d.users, User{Username: cfg.Username, Password: cfg.Password, UserLevel: "Administrator"})
	}

	d.engine = gin.New()
	d.engine.Use(gin.Recovery())
	d.engine.POST("/onvif/:service", d.handle)
	return d
}

// Handler returns the HTTP handler of the device.
func (d *Device) Handler() http.Handler {
	return d.engine
}

// Now returns the device clock.
func (d *Device) Now() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Now().Add(d.offset).UTC()
}

// ServiceNow returns the clock seen by one service path.
func (d *Device) ServiceNow(service string) time.Time {
	return d.Now().Add(d.cfg.ServiceClockOffsets[service])
}

// SerialNumber returns the generated serial number.
func (d *Device) SerialNumber() string {
	return d.serial
}

// Requests returns a copy of every request received so far.
func (d *Device) Requests() []Request {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Request(nil), d.requests...)
}

// RequestsFor returns the requests received for one service path.
func (d *Device) RequestsFor(service string) []Request {
	var out []Request
	for _, r := range d.Requests() {
		if r.Service == service {
			out = append(out, r)
		}
	}
	return out
}

// Users returns the current accounts.
func (d *Device) Users() []User {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]User(nil), d.users...)
}

func (d *Device) handle(c *gin.Context) {
	service := c.Param("service")
	ops, ok := services[service]
	if !ok {
		c.Status(http.StatusNotFound)
		return
	}

	data, err := c.GetRawData()
	if err != nil {
		c.Status(http.StatusBadRequest)
		return
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil || doc.Root() == nil {
		d.writeFault(c, Fault{Code: "env:Sender", Subcode: "ter:WellFormed", Reason: "malformed envelope"})
		return
	}
	env := doc.Root()
	body := env.SelectElement("Body")
	if body == nil || len(body.ChildElements()) == 0 {
		d.writeFault(c, Fault{Code: "env:Sender", Subcode: "ter:WellFormed", Reason: "missing body"})
		return
	}
	req := body.ChildElements()[0]
	name := req.Tag

	rec := Request{Service: service, Operation: name, DeviceTime: d.ServiceNow(service)}
	authErr := d.authenticate(env, &rec)
	d.mu.Lock()
	d.requests = append(d.requests, rec)
	d.mu.Unlock()

	handler, ok := ops[name]
	if !ok {
		d.writeFault(c, Fault{Code: "env:Receiver", Subcode: "ter:ActionNotSupported", Reason: "operation " + name + " is not supported"})
		return
	}
	if authErr != "" && d.cfg.Username != "" && name != "GetSystemDateAndTime" {
		d.writeFault(c, Fault{Code: "env:Sender", Subcode: "ter:NotAuthorized", Reason: authErr})
		return
	}
	if f, ok := d.cfg.Faults[name]; ok {
		d.writeFault(c, f)
		return
	}

	resp, fault := handler(d, call{host: c.Request.Host, now: rec.DeviceTime}, req)
	if fault != nil {
		d.writeFault(c, *fault)
		return
	}
	d.write(c, http.StatusOK, resp)
}

// authenticate validates the UsernameToken of env and fills rec. It
// returns a reason when the token is missing or invalid.
func (d *Device) authenticate(env *etree.Element, rec *Request) string {
	header := env.SelectElement("Header")
	if header == nil {
		return "missing security header"
	}
	security := header.SelectElement("Security")
	if security == nil {
		return "missing security header"
	}
	token := security.SelectElement("UsernameToken")
	if token == nil {
		return "missing username token"
	}

	username := text(token, "Username")
	digest := text(token, "Password")
	nonceText := text(token, "Nonce")
	createdText := text(token, "Created")
	rec.Username = username

	created, err := time.Parse("2006-01-02T15:04:05.000Z", createdText)
	if err != nil {
		if created, err = time.Parse(time.RFC3339Nano, createdText); err != nil {
			return "malformed created timestamp"
		}
	}
	rec.Created = created

	nonce, err := base64.StdEncoding.DecodeString(nonceText)
	if err != nil {
		return "malformed nonce"
	}

	if username != d.cfg.Username {
		return "unknown user"
	}
	if digest != Digest(nonce, createdText, d.cfg.Password) {
		return "digest mismatch"
	}

	skew := created.Sub(rec.DeviceTime)
	if skew < 0 {
		skew = -skew
	}
	if skew > d.cfg.AcceptanceWindow {
		return "created timestamp outside acceptance window"
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.nonces[nonceText] {
		return "nonce replayed"
	}
	d.nonces[nonceText] = true
	rec.Authenticated = true
	return ""
}

// Digest is the reference UsernameToken digest:
// Base64(SHA-1(nonce + created + password)).
func Digest(nonce []byte, created, password string) string {
	buf := make([]byte, 0, len(nonce)+len(created)+len(password))
	buf = append(buf, nonce...)
	buf = append(buf, created...)
	buf = append(buf, password...)
	sum := sha1.Sum(buf)
	return base64.StdEncoding.EncodeToString(sum[:])
}

func (d *Device) write(c *gin.Context, status int, payload *etree.Element) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	env := doc.CreateElement("env:Envelope")
	env.CreateAttr("xmlns:env", "http://www.w3.org/2003/05/soap-envelope")
	env.CreateAttr("xmlns:tds", "http://www.onvif.org/ver10/device/wsdl")
	env.CreateAttr("xmlns:trt", "http://www.onvif.org/ver10/media/wsdl")
	env.CreateAttr("xmlns:tptz", "http://www.onvif.org/ver20/ptz/wsdl")
	env.CreateAttr("xmlns:timg", "http://www.onvif.org/ver20/imaging/wsdl")
	env.CreateAttr("xmlns:tt", "http://www.onvif.org/ver10/schema")
	env.CreateAttr("xmlns:ter", "http://www.onvif.org/ver10/error")
	env.CreateElement("env:Header")
	body := env.CreateElement("env:Body")
	if payload != nil {
		body.AddChild(payload)
	}

	out, err := doc.WriteToBytes()
	if err != nil {
		c.Status(http.StatusInternalServerError)
		return
	}
	c.Data(status, "application/soap+xml; charset=utf-8", out)
}

func (d *Device) writeFault(c *gin.Context, f Fault) {
	if f.Status == 0 {
		f.Status = http.StatusBadRequest
	}
	if f.Code == "" {
		f.Code = "env:Receiver"
	}

	fault := etree.NewElement("env:Fault")
	code := fault.CreateElement("env:Code")
	code.CreateElement("env:Value").SetText(f.Code)
	if f.Subcode != "" {
		sub := code.CreateElement("env:Subcode")
		sub.CreateElement("env:Value").SetText(f.Subcode)
	}
	reason := fault.CreateElement("env:Reason").CreateElement("env:Text")
	reason.CreateAttr("xml:lang", "en")
	reason.SetText(f.Reason)
	d.write(c, f.Status, fault)
}

func (d *Device) advertises(name string) bool {
	for _, s := range d.cfg.Services {
		if strings.EqualFold(s, name) {
			return true
		}
	}
	return false
}

func (d *Device) xaddr(host, name string) string {
	if addr, ok := d.cfg.XAddrs[name]; ok {
		return addr
	}
	path := DevicePath
	switch name {
	case "Media":
		path = MediaPath
	case "PTZ":
		path = PTZPath
	case "Imaging":
		path = ImagingPath
	case "Events":
		path = "event_service"
	case "Analytics":
		path = "analytics_service"
	}
	return "http://" + host + "/onvif/" + path
}

func text(el *etree.Element, tag string) string {
	if c := el.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}
