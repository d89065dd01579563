package sonos

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
)

const (
	avTransport      = "AVTransport"
	renderingControl = "RenderingControl"
)

type arg struct {
	name  string
	value string
}

func serviceType(service string) string {
	return "urn:schemas-upnp-org:service:" + service + ":1"
}

func controlPath(service string) string {
	return "/MediaRenderer/" + service + "/Control"
}

// call performs a UPnP SOAP action and returns the raw response envelope.
func (s *Speaker) call(ctx context.Context, service, action string, args ...arg) ([]byte, error) {
	var body bytes.Buffer
	body.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	body.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/"><s:Body>`)
	fmt.Fprintf(&body, `<u:%s xmlns:u="%s">`, action, serviceType(service))
	for _, a := range args {
		fmt.Fprintf(&body, "<%s>", a.name)
		if err := xml.EscapeText(&body, []byte(a.value)); err != nil {
			return nil, err
		}
		fmt.Fprintf(&body, "</%s>", a.name)
	}
	fmt.Fprintf(&body, `</u:%s></s:Body></s:Envelope>`, action)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.base+controlPath(service), &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPAction", fmt.Sprintf(`"%s#%s"`, serviceType(service), action))

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", service, action, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", service, action, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s %s: %w", service, action, faultError(resp.Status, data))
	}
	return data, nil
}

type fault struct {
	Code string `xml:"Body>Fault>detail>UPnPError>errorCode"`
	Desc string `xml:"Body>Fault>faultstring"`
}

func faultError(status string, data []byte) error {
	var f fault
	if err := xml.Unmarshal(data, &f); err == nil && f.Code != "" {
		return fmt.Errorf("speaker returned %s (upnp error %s)", status, f.Code)
	}
	return fmt.Errorf("speaker returned %s", status)
}
