package devicesim

import (
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

const createdLayout = "2006-01-02T15:04:05.000Z"

// envelope builds a request for op, signed with the given credentials when
// username is not empty.
func envelope(op, username, password string, created time.Time, nonce []byte, body func(*etree.Element)) []byte {
	doc := etree.NewDocument()
	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", "http://www.w3.org/2003/05/soap-envelope")
	header := env.CreateElement("s:Header")
	if username != "" {
		ts := created.UTC().Format(createdLayout)
		token := header.CreateElement("wsse:Security").CreateElement("wsse:UsernameToken")
		token.CreateElement("wsse:Username").SetText(username)
		token.CreateElement("wsse:Password").SetText(Digest(nonce, ts, password))
		token.CreateElement("wsse:Nonce").SetText(base64.StdEncoding.EncodeToString(nonce))
		token.CreateElement("wsu:Created").SetText(ts)
	}
	req := env.CreateElement("s:Body").CreateElement("tds:" + op)
	if body != nil {
		body(req)
	}
	out, _ := doc.WriteToBytes()
	return out
}

func post(t *testing.T, d *Device, service string, data []byte) (*httptest.ResponseRecorder, *etree.Element) {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/onvif/"+service, bytes.NewReader(data))
	req.Host = "192.0.2.10:8000"
	d.Handler().ServeHTTP(rec, req)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(rec.Body.Bytes()))
	body := doc.FindElement("//Body")
	require.NotNil(t, body)
	require.NotEmpty(t, body.ChildElements())
	return rec, body.ChildElements()[0]
}

func subcode(el *etree.Element) string {
	if v := el.FindElement("Code/Subcode/Value"); v != nil {
		return v.Text()
	}
	return ""
}

func TestDigest(t *testing.T) {
	nonce := []byte("0123456789abcdef")
	created := "2024-05-01T10:00:00.000Z"
	sum := sha1.Sum([]byte(string(nonce) + created + "secret"))
	assert.Equal(t, base64.StdEncoding.EncodeToString(sum[:]), Digest(nonce, created, "secret"))
	assert.NotEqual(t, Digest(nonce, created, "secret"), Digest(nonce, created, "other"))
}

func TestAuthentication(t *testing.T) {
	d := New(Config{Username: "admin", Password: "pw", ClockOffset: time.Hour})
	deviceNow := time.Now().Add(time.Hour)

	t.Run("clock is public", func(t *testing.T) {
		rec, resp := post(t, d, DevicePath, envelope("GetSystemDateAndTime", "", "", time.Time{}, nil, nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "GetSystemDateAndTimeResponse", resp.Tag)
	})

	t.Run("missing header", func(t *testing.T) {
		rec, resp := post(t, d, DevicePath, envelope("GetDeviceInformation", "", "", time.Time{}, nil, nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "ter:NotAuthorized", subcode(resp))
	})

	t.Run("host clock is outside the window", func(t *testing.T) {
		_, resp := post(t, d, DevicePath, envelope("GetDeviceInformation", "admin", "pw", time.Now(), []byte("nonce-0001"), nil))
		assert.Equal(t, "ter:NotAuthorized", subcode(resp))
	})

	t.Run("wrong password", func(t *testing.T) {
		_, resp := post(t, d, DevicePath, envelope("GetDeviceInformation", "admin", "nope", deviceNow, []byte("nonce-0002"), nil))
		assert.Equal(t, "ter:NotAuthorized", subcode(resp))
	})

	t.Run("shifted clock is accepted once per nonce", func(t *testing.T) {
		msg := envelope("GetDeviceInformation", "admin", "pw", deviceNow, []byte("nonce-0003"), nil)
		rec, resp := post(t, d, DevicePath, msg)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "GetDeviceInformationResponse", resp.Tag)

		_, resp = post(t, d, DevicePath, msg)
		assert.Equal(t, "ter:NotAuthorized", subcode(resp))
	})

	reqs := d.RequestsFor(DevicePath)
	require.NotEmpty(t, reqs)
	last := reqs[len(reqs)-1]
	assert.Equal(t, "admin", last.Username)
	assert.False(t, last.Authenticated)
	assert.WithinDuration(t, deviceNow, last.Created, time.Second)
}

func TestOpenDevice(t *testing.T) {
	d := New(Config{})
	rec, resp := post(t, d, DevicePath, envelope("GetHostname", "", "", time.Time{}, nil, nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "onvif-sim", resp.FindElement("HostnameInformation/Name").Text())
	assert.Empty(t, d.Users())
}

func TestGetCapabilitiesFiltering(t *testing.T) {
	d := New(Config{Services: []string{"Media", "ptz"}, XAddrs: map[string]string{"Media": "http://10.1.1.1/media"}})

	_, resp := post(t, d, DevicePath, envelope("GetCapabilities", "", "", time.Time{}, nil, func(req *etree.Element) {
		req.CreateElement("tds:Category").SetText("All")
	}))
	caps := resp.SelectElement("Capabilities")
	require.NotNil(t, caps)
	assert.Equal(t, "http://192.0.2.10:8000/onvif/device_service", caps.FindElement("Device/XAddr").Text())
	assert.Equal(t, "http://10.1.1.1/media", caps.FindElement("Media/XAddr").Text())
	assert.Equal(t, "http://192.0.2.10:8000/onvif/ptz_service", caps.FindElement("PTZ/XAddr").Text())
	assert.Nil(t, caps.SelectElement("Imaging"))

	_, resp = post(t, d, DevicePath, envelope("GetCapabilities", "", "", time.Time{}, nil, func(req *etree.Element) {
		req.CreateElement("tds:Category").SetText("PTZ")
	}))
	caps = resp.SelectElement("Capabilities")
	require.NotNil(t, caps)
	assert.Nil(t, caps.SelectElement("Device"))
	assert.Nil(t, caps.SelectElement("Media"))
	assert.NotNil(t, caps.SelectElement("PTZ"))
}

func TestServiceClock(t *testing.T) {
	d := New(Config{ClockOffset: time.Minute, ServiceClockOffsets: map[string]time.Duration{PTZPath: 30 * time.Second}})
	assert.WithinDuration(t, time.Now().Add(time.Minute), d.Now(), time.Second)
	assert.WithinDuration(t, time.Now().Add(90*time.Second), d.ServiceNow(PTZPath), time.Second)
	assert.WithinDuration(t, d.Now(), d.ServiceNow(MediaPath), time.Second)
}

func TestInjectedFaultAndUnknownOperation(t *testing.T) {
	d := New(Config{Faults: map[string]Fault{
		"GetHostname": {Status: http.StatusInternalServerError, Subcode: "ter:Busy", Reason: "busy"},
	}})

	rec, resp := post(t, d, DevicePath, envelope("GetHostname", "", "", time.Time{}, nil, nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "ter:Busy", subcode(resp))

	_, resp = post(t, d, DevicePath, envelope("Reboot", "", "", time.Time{}, nil, nil))
	assert.Equal(t, "ter:ActionNotSupported", subcode(resp))

	rec = httptest.NewRecorder()
	d.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/onvif/unknown_service", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMalformedEnvelope(t *testing.T) {
	d := New(Config{})
	rec, resp := post(t, d, DevicePath, []byte("<s:Envelope xmlns:s=\"urn:x\"><s:Body/></s:Envelope>"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "ter:WellFormed", subcode(resp))
}
