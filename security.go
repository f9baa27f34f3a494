package onvif

import (
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"io"
	"time"

	"github.com/beevik/etree"
	"github.com/juju/errors"
)

// CreatedLayout is the WS-Security timestamp format devices validate.
const CreatedLayout = "2006-01-02T15:04:05.000Z"

const nonceSize = 16

// Credentials identify an ONVIF user. They are never logged.
type Credentials struct {
	Username string
	Password string
}

// String hides the password.
func (c Credentials) String() string {
	return c.Username + ":<redacted>"
}

// SecurityHeader is a single-use WS-Security UsernameToken with a
// password digest.
type SecurityHeader struct {
	Username       string
	PasswordDigest string // base64 SHA-1 digest
	Nonce          []byte
	Created        time.Time
}

// CreatedString returns Created in wire format.
func (h SecurityHeader) CreatedString() string {
	return h.Created.UTC().Format(CreatedLayout)
}

// EncodedNonce returns the nonce as sent on the wire.
func (h SecurityHeader) EncodedNonce() string {
	return base64.StdEncoding.EncodeToString(h.Nonce)
}

// Element renders the header as a wsse:Security element.
func (h SecurityHeader) Element() *etree.Element {
	sec := etree.NewElement("wsse:Security")
	sec.CreateAttr("xmlns:wsse", nsWSSE)
	sec.CreateAttr("xmlns:wsu", nsWSU)
	sec.CreateAttr("s:mustUnderstand", "1")

	token := sec.CreateElement("wsse:UsernameToken")
	addText(token, "wsse:Username", h.Username)

	password := addText(token, "wsse:Password", h.PasswordDigest)
	password.CreateAttr("Type", passwordDigestType)

	nonce := addText(token, "wsse:Nonce", h.EncodedNonce())
	nonce.CreateAttr("EncodingType", base64EncodingType)

	addText(token, "wsu:Created", h.CreatedString())
	return sec
}

// HeaderBuilder builds security headers. The zero value uses the wall
// clock and crypto/rand and is safe for concurrent use.
type HeaderBuilder struct {
	Now     func() time.Time
	Entropy io.Reader
}

// BuildHeader builds a header whose Created timestamp is the device's
// believed current time: local UTC now plus shift.
func BuildHeader(creds Credentials, shift time.Duration) (SecurityHeader, error) {
	return HeaderBuilder{}.Build(creds, shift)
}

// Build computes created = now + shift, draws a fresh nonce and derives
// base64(SHA1(nonce + created + password)).
func (b HeaderBuilder) Build(creds Credentials, shift time.Duration) (SecurityHeader, error) {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	entropy := rand.Reader
	if b.Entropy != nil {
		entropy = b.Entropy
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(entropy, nonce); err != nil {
		return SecurityHeader{}, errors.Annotate(err, "generating nonce")
	}

	created := now().UTC().Add(shift).Truncate(time.Millisecond)
	hdr := SecurityHeader{
		Username: creds.Username,
		Nonce:    nonce,
		Created:  created,
	}
	hdr.PasswordDigest = PasswordDigest(nonce, hdr.CreatedString(), creds.Password)
	return hdr, nil
}

// PasswordDigest is the UsernameToken profile digest
// Base64(SHA-1(nonce + created + password)).
func PasswordDigest(nonce []byte, created, password string) string {
	h := sha1.New()
	h.Write(nonce)
	h.Write([]byte(created))
	h.Write([]byte(password))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// authenticator is the header pipeline of an authenticated channel: every
// outgoing message gets a freshly built header.
type authenticator struct {
	creds   Credentials
	shift   time.Duration
	builder HeaderBuilder
}

func (a *authenticator) SecurityHeader() (*SecurityHeader, error) {
	hdr, err := a.builder.Build(a.creds, a.shift)
	if err != nil {
		return nil, err
	}
	return &hdr, nil
}
