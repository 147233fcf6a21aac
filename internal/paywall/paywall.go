// Package paywall renders the browser-facing payment page returned in
// place of the JSON 402 body when a human is behind the denied request.
package paywall

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"net/http"
	"strings"
)

//go:embed paywall.html
var pageHTML string

var page = template.Must(template.New("paywall").Parse(pageHTML))

// IsBrowser reports whether the request looks like it came from an
// interactive browser rather than a programmatic client. Browsers get
// the HTML page; everything else gets the JSON protocol body.
func IsBrowser(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	ua := r.Header.Get("User-Agent")
	return strings.Contains(accept, "text/html") && strings.Contains(ua, "Mozilla")
}

// Renderer produces paywall pages under a fixed branding.
type Renderer struct {
	appName string
}

func New(appName string) *Renderer {
	if appName == "" {
		appName = "Paid Resource"
	}
	return &Renderer{appName: appName}
}

// Data carries the route-specific fields shown on the page. Amount is in
// atomic units of the asset.
type Data struct {
	Resource    string
	Description string
	Amount      string
	Asset       string
	Network     string
	PayTo       string
}

type pageData struct {
	AppName     string
	Resource    string
	Description string
	Amount      string
	Price       string
	Asset       string
	Network     string
	PayTo       string
	Testnet     bool
}

// Render returns the HTML page for one denied request.
func (rd *Renderer) Render(d Data) ([]byte, error) {
	var buf bytes.Buffer
	err := page.Execute(&buf, pageData{
		AppName:     rd.appName,
		Resource:    d.Resource,
		Description: d.Description,
		Amount:      d.Amount,
		Price:       FormatAmount(d.Amount, 6),
		Asset:       d.Asset,
		Network:     d.Network,
		PayTo:       d.PayTo,
		Testnet:     strings.HasSuffix(d.Network, "-sepolia"),
	})
	if err != nil {
		return nil, fmt.Errorf("render paywall: %w", err)
	}
	return buf.Bytes(), nil
}

// FormatAmount renders an atomic token amount as a decimal string, so
// "10000" with 6 decimals becomes "0.01". The conversion works on the
// string itself, so amounts beyond int64 range are fine. Non-numeric
// input is returned unchanged.
func FormatAmount(atomic string, decimals int) string {
	atomic = strings.TrimLeft(atomic, "0")
	if atomic == "" {
		return "0"
	}
	for _, c := range atomic {
		if c < '0' || c > '9' {
			return atomic
		}
	}
	if decimals <= 0 {
		return atomic
	}
	if len(atomic) <= decimals {
		atomic = strings.Repeat("0", decimals-len(atomic)+1) + atomic
	}
	cut := len(atomic) - decimals
	whole, frac := atomic[:cut], strings.TrimRight(atomic[cut:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}
