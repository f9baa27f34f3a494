package devicesim

import (
	"strconv"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// call is the context of one request.
type call struct {
	host string
	now  time.Time
}

type handlerFunc func(d *Device, c call, req *etree.Element) (*etree.Element, *Fault)

var services = map[string]map[string]handlerFunc{
	DevicePath: {
		"GetSystemDateAndTime": getSystemDateAndTime,
		"SetSystemDateAndTime": setSystemDateAndTime,
		"GetCapabilities":      getCapabilities,
		"GetDeviceInformation": getDeviceInformation,
		"GetHostname":          getHostname,
		"GetUsers":             getUsers,
		"CreateUsers":          createUsers,
		"SetUser":              setUser,
		"DeleteUsers":          deleteUsers,
	},
	MediaPath: {
		"GetSystemDateAndTime":         getSystemDateAndTime,
		"GetProfiles":                  getProfiles,
		"GetStreamUri":                 getStreamURI,
		"GetVideoSources":              getVideoSources,
		"SetVideoEncoderConfiguration": accept("trt:SetVideoEncoderConfigurationResponse"),
	},
	PTZPath: {
		"GetSystemDateAndTime": getSystemDateAndTime,
		"GetNodes":             getNodes,
		"GetConfigurations":    getPTZConfigurations,
		"GetStatus":            getPTZStatus,
		"Stop":                 accept("tptz:StopResponse"),
	},
	ImagingPath: {
		"GetSystemDateAndTime": getSystemDateAndTime,
		"GetImagingSettings":   getImagingSettings,
		"SetImagingSettings":   setImagingSettings,
	},
}

func accept(response string) handlerFunc {
	return func(*Device, call, *etree.Element) (*etree.Element, *Fault) {
		return etree.NewElement(response), nil
	}
}

func addText(parent *etree.Element, tag, value string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(value)
	return el
}

func getSystemDateAndTime(d *Device, c call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("tds:GetSystemDateAndTimeResponse")
	sdt := resp.CreateElement("tds:SystemDateAndTime")
	addText(sdt, "tt:DateTimeType", "Manual")
	addText(sdt, "tt:DaylightSavings", "false")
	addText(sdt.CreateElement("tt:TimeZone"), "tt:TZ", "GMT0")
	if !d.cfg.OmitUTCDateTime {
		writeDateTime(sdt.CreateElement("tt:UTCDateTime"), c.now)
	}
	writeDateTime(sdt.CreateElement("tt:LocalDateTime"), c.now)
	return resp, nil
}

func writeDateTime(el *etree.Element, t time.Time) {
	tm := el.CreateElement("tt:Time")
	addText(tm, "tt:Hour", strconv.Itoa(t.Hour()))
	addText(tm, "tt:Minute", strconv.Itoa(t.Minute()))
	addText(tm, "tt:Second", strconv.Itoa(t.Second()))
	date := el.CreateElement("tt:Date")
	addText(date, "tt:Year", strconv.Itoa(t.Year()))
	addText(date, "tt:Month", strconv.Itoa(int(t.Month())))
	addText(date, "tt:Day", strconv.Itoa(t.Day()))
}

func setSystemDateAndTime(d *Device, c call, req *etree.Element) (*etree.Element, *Fault) {
	utc := req.SelectElement("UTCDateTime")
	if utc == nil {
		return nil, &Fault{Code: "env:Sender", Subcode: "ter:InvalidDateTime", Reason: "missing UTCDateTime"}
	}
	num := func(path ...string) int {
		el := utc
		for _, p := range path {
			if el = el.SelectElement(p); el == nil {
				return -1
			}
		}
		n, err := strconv.Atoi(strings.TrimSpace(el.Text()))
		if err != nil {
			return -1
		}
		return n
	}
	year, month, day := num("Date", "Year"), num("Date", "Month"), num("Date", "Day")
	hour, minute, second := num("Time", "Hour"), num("Time", "Minute"), num("Time", "Second")
	if year < 0 || month < 1 || month > 12 || day < 1 || hour < 0 || minute < 0 || second < 0 {
		return nil, &Fault{Code: "env:Sender", Subcode: "ter:InvalidDateTime", Reason: "invalid date or time"}
	}

	target := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC)
	d.mu.Lock()
	d.offset = time.Until(target)
	d.mu.Unlock()
	return etree.NewElement("tds:SetSystemDateAndTimeResponse"), nil
}

func getCapabilities(d *Device, c call, req *etree.Element) (*etree.Element, *Fault) {
	category := "All"
	if el := req.SelectElement("Category"); el != nil {
		category = strings.TrimSpace(el.Text())
	}
	want := func(name string) bool {
		return category == "All" || category == name
	}

	resp := etree.NewElement("tds:GetCapabilitiesResponse")
	caps := resp.CreateElement("tds:Capabilities")
	if want("Device") {
		dev := caps.CreateElement("tt:Device")
		addText(dev, "tt:XAddr", d.xaddr(c.host, "Device"))
		io := dev.CreateElement("tt:IO")
		addText(io, "tt:InputConnectors", "1")
		addText(io, "tt:RelayOutputs", "1")
	}
	for _, name := range []string{"Analytics", "Events", "Imaging", "Media", "PTZ"} {
		if !want(name) || !d.advertises(name) {
			continue
		}
		el := caps.CreateElement("tt:" + name)
		addText(el, "tt:XAddr", d.xaddr(c.host, name))
		if name == "Media" {
			sc := el.CreateElement("tt:StreamingCapabilities")
			addText(sc, "tt:RTPMulticast", "false")
			addText(sc, "tt:RTP_TCP", "true")
			addText(sc, "tt:RTP_RTSP_TCP", "true")
		}
	}
	return resp, nil
}

func getDeviceInformation(d *Device, _ call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("tds:GetDeviceInformationResponse")
	addText(resp, "tds:Manufacturer", d.cfg.Manufacturer)
	addText(resp, "tds:Model", d.cfg.Model)
	addText(resp, "tds:FirmwareVersion", d.cfg.FirmwareVersion)
	addText(resp, "tds:SerialNumber", d.serial)
	addText(resp, "tds:HardwareId", d.hardwareID)
	return resp, nil
}

func getHostname(d *Device, _ call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("tds:GetHostnameResponse")
	info := resp.CreateElement("tds:HostnameInformation")
	addText(info, "tt:FromDHCP", "false")
	addText(info, "tt:Name", d.cfg.Hostname)
	return resp, nil
}

func getUsers(d *Device, _ call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("tds:GetUsersResponse")
	for _, u := range d.Users() {
		el := resp.CreateElement("tds:User")
		addText(el, "tt:Username", u.Username)
		addText(el, "tt:UserLevel", u.UserLevel)
	}
	return resp, nil
}

func parseUser(el *etree.Element) User {
	return User{
		Username:  text(el, "Username"),
		Password:  text(el, "Password"),
		UserLevel: text(el, "UserLevel"),
	}
}

func createUsers(d *Device, _ call, req *etree.Element) (*etree.Element, *Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range req.SelectElements("User") {
		u := parseUser(el)
		for _, existing := range d.users {
			if existing.Username == u.Username {
				return nil, &Fault{Code: "env:Sender", Subcode: "ter:UsernameClash", Reason: "username already exists"}
			}
		}
		d.users = append(d.users, u)
	}
	return etree.NewElement("tds:CreateUsersResponse"), nil
}

func setUser(d *Device, _ call, req *etree.Element) (*etree.Element, *Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range req.SelectElements("User") {
		u := parseUser(el)
		found := false
		for i := range d.users {
			if d.users[i].Username == u.Username {
				if u.Password != "" {
					d.users[i].Password = u.Password
				}
				d.users[i].UserLevel = u.UserLevel
				found = true
			}
		}
		if !found {
			return nil, &Fault{Code: "env:Sender", Subcode: "ter:UsernameMissing", Reason: "username not found"}
		}
	}
	return etree.NewElement("tds:SetUserResponse"), nil
}

func deleteUsers(d *Device, _ call, req *etree.Element) (*etree.Element, *Fault) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, el := range req.SelectElements("Username") {
		name := strings.TrimSpace(el.Text())
		if name == d.cfg.Username {
			return nil, &Fault{Code: "env:Sender", Subcode: "ter:FixedUser", Reason: "cannot delete fixed user"}
		}
		kept := d.users[:0]
		for _, u := range d.users {
			if u.Username != name {
				kept = append(kept, u)
			}
		}
		d.users = kept
	}
	return etree.NewElement("tds:DeleteUsersResponse"), nil
}

var profiles = []struct {
	token, name, encoder string
	width, height        int
	bitrate              int
}{
	{"profile_1", "MainStream", "encoder_1", 1920, 1080, 4096},
	{"profile_2", "SubStream", "encoder_2", 640, 480, 512},
}

func getProfiles(d *Device, _ call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("trt:GetProfilesResponse")
	for _, p := range profiles {
		el := resp.CreateElement("trt:Profiles")
		el.CreateAttr("token", p.token)
		el.CreateAttr("fixed", "true")
		addText(el, "tt:Name", p.name)

		vsc := el.CreateElement("tt:VideoSourceConfiguration")
		vsc.CreateAttr("token", "vsc_1")
		addText(vsc, "tt:Name", "VideoSource")
		addText(vsc, "tt:SourceToken", "source_1")

		enc := el.CreateElement("tt:VideoEncoderConfiguration")
		enc.CreateAttr("token", p.encoder)
		addText(enc, "tt:Name", p.encoder)
		addText(enc, "tt:Encoding", "H264")
		res := enc.CreateElement("tt:Resolution")
		addText(res, "tt:Width", strconv.Itoa(p.width))
		addText(res, "tt:Height", strconv.Itoa(p.height))
		addText(enc, "tt:Quality", "4")
		rate := enc.CreateElement("tt:RateControl")
		addText(rate, "tt:FrameRateLimit", "25")
		addText(rate, "tt:EncodingInterval", "1")
		addText(rate, "tt:BitrateLimit", strconv.Itoa(p.bitrate))

		if d.advertises("PTZ") {
			ptz := el.CreateElement("tt:PTZConfiguration")
			ptz.CreateAttr("token", "ptz_config_1")
			addText(ptz, "tt:Name", "PTZ")
			addText(ptz, "tt:NodeToken", "ptz_node_1")
		}
	}
	return resp, nil
}

func getStreamURI(d *Device, c call, req *etree.Element) (*etree.Element, *Fault) {
	token := text(req, "ProfileToken")
	for _, p := range profiles {
		if p.token == token {
			resp := etree.NewElement("trt:GetStreamUriResponse")
			uri := resp.CreateElement("trt:MediaUri")
			host := c.host
			if i := strings.LastIndexByte(host, ':'); i >= 0 {
				host = host[:i]
			}
			addText(uri, "tt:Uri", "rtsp://"+host+":554/"+p.token)
			addText(uri, "tt:InvalidAfterConnect", "false")
			addText(uri, "tt:InvalidAfterReboot", "false")
			addText(uri, "tt:Timeout", "PT0S")
			return resp, nil
		}
	}
	return nil, &Fault{Code: "env:Sender", Subcode: "ter:NoProfile", Reason: "profile does not exist"}
}

func getVideoSources(d *Device, _ call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("trt:GetVideoSourcesResponse")
	src := resp.CreateElement("trt:VideoSources")
	src.CreateAttr("token", "source_1")
	addText(src, "tt:Framerate", "25")
	res := src.CreateElement("tt:Resolution")
	addText(res, "tt:Width", "1920")
	addText(res, "tt:Height", "1080")
	return resp, nil
}

func getNodes(d *Device, _ call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("tptz:GetNodesResponse")
	node := resp.CreateElement("tptz:PTZNode")
	node.CreateAttr("token", "ptz_node_1")
	addText(node, "tt:Name", "PTZNode")
	addText(node, "tt:MaximumNumberOfPresets", "64")
	addText(node, "tt:HomeSupported", "true")
	return resp, nil
}

func getPTZConfigurations(d *Device, _ call, _ *etree.Element) (*etree.Element, *Fault) {
	resp := etree.NewElement("tptz:GetConfigurationsResponse")
	cfg := resp.CreateElement("tptz:PTZConfiguration")
	cfg.CreateAttr("token", "ptz_config_1")
	addText(cfg, "tt:Name", "PTZ")
	addText(cfg, "tt:NodeToken", "ptz_node_1")
	return resp, nil
}

func getPTZStatus(d *Device, c call, req *etree.Element) (*etree.Element, *Fault) {
	if text(req, "ProfileToken") == "" {
		return nil, &Fault{Code: "env:Sender", Subcode: "ter:NoProfile", Reason: "missing profile token"}
	}
	resp := etree.NewElement("tptz:GetStatusResponse")
	status := resp.CreateElement("tptz:PTZStatus")
	pos := status.CreateElement("tt:Position")
	pt := pos.CreateElement("tt:PanTilt")
	pt.CreateAttr("x", "0")
	pt.CreateAttr("y", "0")
	pt.CreateAttr("space", "http://www.onvif.org/ver10/tptz/PanTiltSpaces/PositionGenericSpace")
	zoom := pos.CreateElement("tt:Zoom")
	zoom.CreateAttr("x", "0")
	zoom.CreateAttr("space", "http://www.onvif.org/ver10/tptz/ZoomSpaces/PositionGenericSpace")
	move := status.CreateElement("tt:MoveStatus")
	addText(move, "tt:PanTilt", "IDLE")
	addText(move, "tt:Zoom", "IDLE")
	addText(status, "tt:UtcTime", c.now.Format(time.RFC3339))
	return resp, nil
}

func getImagingSettings(d *Device, _ call, req *etree.Element) (*etree.Element, *Fault) {
	if text(req, "VideoSourceToken") != "source_1" {
		return nil, &Fault{Code: "env:Sender", Subcode: "ter:NoSource", Reason: "unknown video source"}
	}
	d.mu.Lock()
	mode := d.irCutFilter
	d.mu.Unlock()

	resp := etree.NewElement("timg:GetImagingSettingsResponse")
	settings := resp.CreateElement("timg:ImagingSettings")
	addText(settings, "tt:Brightness", "50")
	addText(settings, "tt:ColorSaturation", "50")
	addText(settings, "tt:Contrast", "50")
	addText(settings, "tt:IrCutFilter", mode)
	return resp, nil
}

func setImagingSettings(d *Device, _ call, req *etree.Element) (*etree.Element, *Fault) {
	if text(req, "VideoSourceToken") != "source_1" {
		return nil, &Fault{Code: "env:Sender", Subcode: "ter:NoSource", Reason: "unknown video source"}
	}
	if settings := req.SelectElement("ImagingSettings"); settings != nil {
		if mode := text(settings, "IrCutFilter"); mode != "" {
			d.mu.Lock()
			d.irCutFilter = mode
			d.mu.Unlock()
		}
	}
	return etree.NewElement("timg:SetImagingSettingsResponse"), nil
}
