package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/SridarDhandapani/onvif"
	"github.com/gin-gonic/gin"
	"github.com/juju/errors"
)

func (s *Server) deviceInformation(c *gin.Context) {
	creds, ctx, cancel, ok := s.bind(c)
	if !ok {
		return
	}
	defer cancel()

	device, err := s.bootstrapper.NewDeviceClient(ctx, creds.XAddr, creds.Username, creds.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer device.Close()

	info, err := device.GetDeviceInformation(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	hostname, err := device.GetHostname(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"name":            info.DisplayName(),
		"manufacturer":    info.Manufacturer,
		"model":           info.Model,
		"firmwareVersion": info.FirmwareVersion,
		"serialNumber":    info.SerialNumber,
		"hardwareId":      info.HardwareId,
		"hostname":        hostname.Name,
	})
}

func (s *Server) deviceTime(c *gin.Context) {
	creds, ctx, cancel, ok := s.bind(c)
	if !ok {
		return
	}
	defer cancel()

	device, err := s.bootstrapper.NewDeviceClient(ctx, creds.XAddr, creds.Username, creds.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer device.Close()

	dt, err := device.GetSystemDateAndTime(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}
	if dt.UTCDateTime == nil {
		s.fail(c, errors.NotValidf("device reported no UTC date and time"))
		return
	}

	deviceTime := dt.UTCDateTime.UTC()
	c.JSON(http.StatusOK, gin.H{
		"utc":          deviceTime.Format(time.RFC3339),
		"dateTimeType": dt.DateTimeType,
		"timeZone":     dt.TimeZone.TZ,
		"shiftSeconds": deviceTime.Sub(time.Now().UTC()).Seconds(),
	})
}

func (s *Server) capability(c *gin.Context) {
	kind, ok := parseKind(c.Param("kind"))
	if !ok {
		c.JSON(http.StatusBadRequest, Response{Error: "unknown capability " + c.Param("kind")})
		return
	}

	creds, ctx, cancel, ok := s.bind(c)
	if !ok {
		return
	}
	defer cancel()

	device, err := s.bootstrapper.NewDeviceClient(ctx, creds.XAddr, creds.Username, creds.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer device.Close()

	addr, err := device.ResolveCapability(ctx, kind)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"kind": addr.Kind.String(), "xaddr": addr.URI})
}

func (s *Server) mediaProfiles(c *gin.Context) {
	creds, ctx, cancel, ok := s.bind(c)
	if !ok {
		return
	}
	defer cancel()

	media, err := s.bootstrapper.NewMediaClient(ctx, creds.XAddr, creds.Username, creds.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer media.Close()

	streams, err := media.StreamProfiles(ctx)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := make([]gin.H, 0, len(streams))
	for _, st := range streams {
		out = append(out, gin.H{
			"name":      st.ProfileName,
			"token":     st.ProfileToken,
			"encoding":  st.Encoding,
			"width":     st.Resolution.Width,
			"height":    st.Resolution.Height,
			"framerate": st.Framerate,
			"bitrate":   st.Bitrate,
			"uri":       st.StreamURI,
			"quality":   st.Quality,
		})
	}
	c.JSON(http.StatusOK, gin.H{"profiles": out})
}

func (s *Server) ptzStatus(c *gin.Context) {
	creds, ctx, cancel, ok := s.bind(c)
	if !ok {
		return
	}
	defer cancel()
	if creds.ProfileToken == "" {
		c.JSON(http.StatusBadRequest, Response{Error: "profileToken is required"})
		return
	}

	ptz, err := s.bootstrapper.NewPTZClient(ctx, creds.XAddr, creds.Username, creds.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer ptz.Close()

	status, err := ptz.GetStatus(ctx, creds.ProfileToken)
	if err != nil {
		s.fail(c, err)
		return
	}

	out := gin.H{
		"moveStatus": gin.H{"panTilt": status.MoveStatus.PanTilt, "zoom": status.MoveStatus.Zoom},
		"utcTime":    status.UtcTime,
	}
	if pt := status.Position.PanTilt; pt != nil {
		out["pan"] = pt.X
		out["tilt"] = pt.Y
	}
	if z := status.Position.Zoom; z != nil {
		out["zoom"] = z.X
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) imagingSettings(c *gin.Context) {
	creds, ctx, cancel, ok := s.bind(c)
	if !ok {
		return
	}
	defer cancel()
	if creds.VideoSourceToken == "" {
		c.JSON(http.StatusBadRequest, Response{Error: "videoSourceToken is required"})
		return
	}

	imaging, err := s.bootstrapper.NewImagingClient(ctx, creds.XAddr, creds.Username, creds.Password)
	if err != nil {
		s.fail(c, err)
		return
	}
	defer imaging.Close()

	settings, err := imaging.GetImagingSettings(ctx, creds.VideoSourceToken)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"videoSourceToken": settings.VideoSourceToken,
		"brightness":       settings.Brightness,
		"colorSaturation":  settings.ColorSaturation,
		"contrast":         settings.Contrast,
		"irCutFilter":      string(settings.IrCutFilter),
	})
}

func parseKind(name string) (onvif.CapabilityKind, bool) {
	for _, k := range []onvif.CapabilityKind{
		onvif.CapabilityAnalytics, onvif.CapabilityDevice, onvif.CapabilityEvents,
		onvif.CapabilityImaging, onvif.CapabilityMedia, onvif.CapabilityPTZ,
		onvif.CapabilityDeviceIO, onvif.CapabilityRecording, onvif.CapabilitySearch,
		onvif.CapabilityReplay,
	} {
		if strings.EqualFold(name, string(k)) {
			return k, true
		}
	}
	return "", false
}
