package onvif

import (
	"net/http"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildEnvelopeWithoutHeader(t *testing.T) {
	op := newOperation(nsDevice, "tds", "GetCapabilities")
	addText(op.body, "tds:Category", "All")

	data, err := buildEnvelope(op, nil)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	env := doc.Root()
	assert.Equal(t, "Envelope", env.Tag)
	assert.Equal(t, nsSOAP, env.NamespaceURI())

	header := env.SelectElement("Header")
	require.NotNil(t, header)
	assert.Empty(t, header.ChildElements())

	body := env.SelectElement("Body")
	require.NotNil(t, body)
	req := body.SelectElement("GetCapabilities")
	require.NotNil(t, req)
	assert.Equal(t, nsDevice, req.NamespaceURI())
	assert.Equal(t, "All", req.SelectElement("Category").Text())
	assert.Equal(t, nsDevice+"/GetCapabilities", op.action)
}

func TestBuildEnvelopeWithSecurityHeader(t *testing.T) {
	hdr := SecurityHeader{
		Username:       testUser,
		PasswordDigest: "ZGlnZXN0",
		Nonce:          []byte("0123456789abcdef"),
		Created:        time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	data, err := buildEnvelope(newOperation(nsDevice, "tds", "GetHostname"), &hdr)
	require.NoError(t, err)

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromBytes(data))
	sec := doc.FindElement("//Header/Security")
	require.NotNil(t, sec)
	assert.Equal(t, nsWSSE, sec.NamespaceURI())
	assert.Equal(t, testUser, sec.FindElement("UsernameToken/Username").Text())
	assert.Equal(t, "2024-03-01T12:00:00.000Z", sec.FindElement("UsernameToken/Created").Text())
}

func TestBuildEnvelopeDoesNotConsumeOperation(t *testing.T) {
	op := newOperation(nsDevice, "tds", "GetHostname")
	_, err := buildEnvelope(op, nil)
	require.NoError(t, err)
	second, err := buildEnvelope(op, nil)
	require.NoError(t, err)
	assert.Contains(t, string(second), "GetHostname")
}

func TestParseFaultSOAP12(t *testing.T) {
	data := []byte(`<?xml version="1.0"?>
<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope" xmlns:ter="http://www.onvif.org/ver10/error">
  <env:Body>
    <env:Fault>
      <env:Code>
        <env:Value>env:Sender</env:Value>
        <env:Subcode>
          <env:Value>ter:InvalidArgVal</env:Value>
          <env:Subcode><env:Value>ter:NoProfile</env:Value></env:Subcode>
        </env:Subcode>
      </env:Code>
      <env:Reason><env:Text xml:lang="en">Profile token does not exist</env:Text></env:Reason>
      <env:Detail><env:Text>profile_9</env:Text></env:Detail>
    </env:Fault>
  </env:Body>
</env:Envelope>`)

	_, err := parseEnvelope(http.StatusBadRequest, data)
	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "env:Sender", fault.Code)
	assert.Equal(t, "ter:NoProfile", fault.Subcode)
	assert.Equal(t, "Profile token does not exist", fault.Reason)
	assert.Equal(t, "profile_9", fault.Detail)
	assert.Equal(t, http.StatusBadRequest, fault.StatusCode)
	assert.True(t, fault.HasSubcode("NoProfile"))
	assert.False(t, fault.NotAuthorized())
	assert.Contains(t, fault.Error(), "ter:NoProfile")
}

func TestParseFaultSOAP11(t *testing.T) {
	data := []byte(`<SOAP-ENV:Envelope xmlns:SOAP-ENV="http://schemas.xmlsoap.org/soap/envelope/">
  <SOAP-ENV:Body>
    <SOAP-ENV:Fault>
      <faultcode>SOAP-ENV:Client</faultcode>
      <faultstring>Sender not authorized</faultstring>
      <detail><reason>wsse:FailedAuthentication</reason></detail>
    </SOAP-ENV:Fault>
  </SOAP-ENV:Body>
</SOAP-ENV:Envelope>`)

	_, err := parseEnvelope(http.StatusInternalServerError, data)
	var fault *FaultError
	require.ErrorAs(t, err, &fault)
	assert.Equal(t, "SOAP-ENV:Client", fault.Code)
	assert.Equal(t, "Sender not authorized", fault.Reason)
	assert.Equal(t, "wsse:FailedAuthentication", fault.Detail)
}

func TestParseEnvelopeNotAuthorized(t *testing.T) {
	fault := &FaultError{Code: "env:Sender", Subcode: "ter:NotAuthorized"}
	assert.True(t, fault.NotAuthorized())
	assert.True(t, (&FaultError{Subcode: "wsse:FailedAuthentication"}).NotAuthorized())
}

func TestParseEnvelopeErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		data   string
		want   string
	}{
		{"not xml", http.StatusOK, "hello", "SOAP envelope"},
		{"not an envelope", http.StatusOK, "<html><body>login</body></html>", "not a SOAP envelope"},
		{"no body", http.StatusOK, `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"/>`, "no Body"},
		{"html error page", http.StatusUnauthorized, "<html><body>401</body></html>", "HTTP 401"},
		{"status without fault", http.StatusInternalServerError, `<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body/></env:Envelope>`, "HTTP 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseEnvelope(tt.status, []byte(tt.data))
			require.Error(t, err)
			assert.False(t, IsFault(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDecodePayloadIgnoresPrefixes(t *testing.T) {
	data := []byte(`<s:Envelope xmlns:s="http://www.w3.org/2003/05/soap-envelope" xmlns:x="http://www.onvif.org/ver10/device/wsdl" xmlns:y="http://www.onvif.org/ver10/schema">
<s:Body><x:GetHostnameResponse><x:HostnameInformation><y:FromDHCP>true</y:FromDHCP><y:Name>cam-01</y:Name></x:HostnameInformation></x:GetHostnameResponse></s:Body></s:Envelope>`)

	body, err := parseEnvelope(http.StatusOK, data)
	require.NoError(t, err)

	var resp struct {
		HostnameInformation HostnameInformation `xml:"HostnameInformation"`
	}
	require.NoError(t, decodePayload(body, &resp))
	assert.True(t, resp.HostnameInformation.FromDHCP)
	assert.Equal(t, "cam-01", resp.HostnameInformation.Name)
}

func TestDecodePayloadLatin1(t *testing.T) {
	data := []byte("<?xml version=\"1.0\" encoding=\"ISO-8859-1\"?>" +
		`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope" xmlns:tds="http://www.onvif.org/ver10/device/wsdl">` +
		"<env:Body><tds:GetDeviceInformationResponse><tds:Manufacturer>Cam\xe9ra</tds:Manufacturer>" +
		"<tds:Model>X1</tds:Model></tds:GetDeviceInformationResponse></env:Body></env:Envelope>")

	body, err := parseEnvelope(http.StatusOK, data)
	require.NoError(t, err)

	var info DeviceInformation
	require.NoError(t, decodePayload(body, &info))
	assert.Equal(t, "Caméra", info.Manufacturer)
	assert.Equal(t, "Caméra X1", info.DisplayName())
}

func TestDecodePayloadEmptyBody(t *testing.T) {
	body, err := parseEnvelope(http.StatusOK, []byte(`<env:Envelope xmlns:env="http://www.w3.org/2003/05/soap-envelope"><env:Body/></env:Envelope>`))
	require.NoError(t, err)
	var out struct{}
	assert.Error(t, decodePayload(body, &out))
}
