package onvif

import (
	"bytes"
	"encoding/xml"
	"net/http"
	"strings"

	"github.com/beevik/etree"
	"github.com/juju/errors"
	"golang.org/x/net/html/charset"
)

// XML namespaces used on the wire.
const (
	nsSOAP    = "http://www.w3.org/2003/05/soap-envelope"
	nsDevice  = "http://www.onvif.org/ver10/device/wsdl"
	nsMedia   = "http://www.onvif.org/ver10/media/wsdl"
	nsPTZ     = "http://www.onvif.org/ver20/ptz/wsdl"
	nsImaging = "http://www.onvif.org/ver20/imaging/wsdl"
	nsSchema  = "http://www.onvif.org/ver10/schema"

	nsWSSE = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-secext-1.0.xsd"
	nsWSU  = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-wssecurity-utility-1.0.xsd"

	passwordDigestType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-username-token-profile-1.0#PasswordDigest"
	base64EncodingType = "http://docs.oasis-open.org/wss/2004/01/oasis-200401-wss-soap-message-security-1.0#Base64Binary"
)

// operation is a request body element together with its SOAP action.
type operation struct {
	action string
	body   *etree.Element
}

// newOperation starts a request body element prefix:name in namespace ns.
// The ONVIF schema namespace is declared as tt for nested elements.
func newOperation(ns, prefix, name string) operation {
	el := etree.NewElement(prefix + ":" + name)
	el.CreateAttr("xmlns:"+prefix, ns)
	el.CreateAttr("xmlns:tt", nsSchema)
	return operation{action: ns + "/" + name, body: el}
}

// addText appends <tag>text</tag> to parent and returns the new element.
func addText(parent *etree.Element, tag, text string) *etree.Element {
	el := parent.CreateElement(tag)
	el.SetText(text)
	return el
}

func buildEnvelope(op operation, header *SecurityHeader) ([]byte, error) {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	env := doc.CreateElement("s:Envelope")
	env.CreateAttr("xmlns:s", nsSOAP)

	hdr := env.CreateElement("s:Header")
	if header != nil {
		hdr.AddChild(header.Element())
	}

	body := env.CreateElement("s:Body")
	body.AddChild(op.body.Copy())

	return doc.WriteToBytes()
}

// parseEnvelope returns the Body element of a SOAP response. A Fault in the
// body is returned as *FaultError.
func parseEnvelope(status int, data []byte) (*etree.Element, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if err := doc.ReadFromBytes(data); err != nil {
		if status >= http.StatusBadRequest {
			return nil, httpStatusError(status, data)
		}
		return nil, errors.Annotate(err, "parsing SOAP envelope")
	}

	root := doc.Root()
	if root == nil || root.Tag != "Envelope" {
		if status >= http.StatusBadRequest {
			return nil, httpStatusError(status, data)
		}
		return nil, errors.New("response is not a SOAP envelope")
	}

	body := root.SelectElement("Body")
	if body == nil {
		return nil, errors.New("SOAP envelope has no Body")
	}

	if fault := body.SelectElement("Fault"); fault != nil {
		return nil, parseFault(status, fault)
	}
	if status >= http.StatusBadRequest {
		return nil, httpStatusError(status, data)
	}
	return body, nil
}

// parseFault reads both SOAP 1.2 (Code/Reason/Detail) and SOAP 1.1
// (faultcode/faultstring/detail) layouts.
func parseFault(status int, fault *etree.Element) *FaultError {
	fe := &FaultError{StatusCode: status}

	if code := fault.SelectElement("Code"); code != nil {
		fe.Code = childText(code, "Value")
		if sub := code.SelectElement("Subcode"); sub != nil {
			fe.Subcode = childText(sub, "Value")
			// ONVIF nests the specific error one level deeper.
			if inner := sub.SelectElement("Subcode"); inner != nil {
				fe.Subcode = childText(inner, "Value")
			}
		}
		fe.Reason = childText(fault, "Reason", "Text")
	} else {
		fe.Code = childText(fault, "faultcode")
		fe.Reason = childText(fault, "faultstring")
	}

	detail := fault.SelectElement("Detail")
	if detail == nil {
		detail = fault.SelectElement("detail")
	}
	if detail != nil {
		fe.Detail = collectText(detail)
	}
	return fe
}

// childText follows a chain of child tags and returns the trimmed text of
// the last one.
func childText(el *etree.Element, path ...string) string {
	for _, tag := range path {
		if el = el.SelectElement(tag); el == nil {
			return ""
		}
	}
	return strings.TrimSpace(el.Text())
}

func collectText(el *etree.Element) string {
	var parts []string
	if t := strings.TrimSpace(el.Text()); t != "" {
		parts = append(parts, t)
	}
	for _, c := range el.ChildElements() {
		if t := collectText(c); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}

func httpStatusError(status int, data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return errors.Errorf("HTTP %d with empty response", status)
	}
	return errors.Errorf("HTTP %d: %s", status, http.StatusText(status))
}

// decodePayload unmarshals the first element inside body into out.
// Struct tags match on local names, so device namespace prefixes are
// irrelevant.
func decodePayload(body *etree.Element, out interface{}) error {
	children := body.ChildElements()
	if len(children) == 0 {
		return errors.New("SOAP body is empty")
	}

	doc := etree.NewDocument()
	doc.SetRoot(children[0].Copy())
	data, err := doc.WriteToBytes()
	if err != nil {
		return errors.Trace(err)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	dec.CharsetReader = charset.NewReaderLabel
	if err := dec.Decode(out); err != nil {
		return errors.Annotatef(err, "decoding %s", children[0].Tag)
	}
	return nil
}
