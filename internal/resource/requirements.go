// Package resource implements the resource server side of the payment gate:
// the route requirement table, the verification and settlement policy around
// the facilitator, paywall selection for browser clients, and optional
// pre-verification access hooks.
package resource

import (
	"fmt"
	"sort"
	"strings"

	"github.com/tjfontaine/x402-gate/internal/x402"
)

const defaultMaxTimeoutSeconds = 60

// RouteRequirement declares the payment terms of one protected endpoint.
// Requirements are configuration: built once at startup, read-only afterwards.
type RouteRequirement struct {
	Method string
	Path   string

	// Price is the maximum amount the route charges, in atomic units of the
	// asset (e.g. "10000" for 0.01 USDC).
	Price string

	Network string
	PayTo   string

	// Asset is the settlement token contract. Empty selects the network's
	// default asset (USDC).
	Asset string

	// Scheme is the payment scheme. Empty selects x402.SchemeExact.
	Scheme string

	Description       string
	MimeType          string
	MaxTimeoutSeconds int

	// Discoverable lists the route in the bazaar discovery catalog.
	Discoverable bool

	// Extensions are the route's declared extension inputs, forwarded
	// verbatim to settlement-time extensions.
	Extensions map[string]any
}

// routeKey is the table key: "METHOD path".
func routeKey(method, path string) string {
	return strings.ToUpper(method) + " " + path
}

// PaymentRequirements renders the route's terms as the wire-level
// requirements advertised in 402 responses and sent to the facilitator.
// baseURL is the public origin of this gateway, used to build the absolute
// resource URL.
func (rr *RouteRequirement) PaymentRequirements(baseURL string) *x402.PaymentRequirements {
	return &x402.PaymentRequirements{
		Scheme:            rr.Scheme,
		Network:           rr.Network,
		MaxAmountRequired: rr.Price,
		Resource:          strings.TrimRight(baseURL, "/") + rr.Path,
		Description:       rr.Description,
		MimeType:          rr.MimeType,
		PayTo:             rr.PayTo,
		MaxTimeoutSeconds: rr.MaxTimeoutSeconds,
		Asset:             rr.Asset,
	}
}

// Table is the route requirement table consulted on every request. Lookups
// are O(1) map reads with no locking: the table is immutable after New.
type Table struct {
	routes map[string]*RouteRequirement
}

// NewTable validates and indexes the given requirements. Each route is
// normalized: method uppercased, scheme/asset/timeout defaults applied.
func NewTable(requirements []RouteRequirement) (*Table, error) {
	routes := make(map[string]*RouteRequirement, len(requirements))
	for i := range requirements {
		rr := requirements[i]

		if rr.Method == "" || rr.Path == "" {
			return nil, fmt.Errorf("route %d: method and path are required", i)
		}
		if !strings.HasPrefix(rr.Path, "/") {
			return nil, fmt.Errorf("route %q: path must start with /", rr.Path)
		}
		if rr.Price == "" {
			return nil, fmt.Errorf("route %q: price is required", rr.Path)
		}
		if rr.PayTo == "" {
			return nil, fmt.Errorf("route %q: payTo address is required", rr.Path)
		}
		if rr.Network == "" {
			return nil, fmt.Errorf("route %q: network is required", rr.Path)
		}

		rr.Method = strings.ToUpper(rr.Method)
		if rr.Scheme == "" {
			rr.Scheme = x402.SchemeExact
		}
		if rr.Asset == "" {
			rr.Asset = x402.DefaultAsset(rr.Network)
			if rr.Asset == "" {
				return nil, fmt.Errorf("route %q: no default asset for network %q, set one explicitly", rr.Path, rr.Network)
			}
		}
		if rr.MaxTimeoutSeconds <= 0 {
			rr.MaxTimeoutSeconds = defaultMaxTimeoutSeconds
		}

		key := routeKey(rr.Method, rr.Path)
		if _, exists := routes[key]; exists {
			return nil, fmt.Errorf("duplicate route %q", key)
		}
		routes[key] = &rr
	}
	return &Table{routes: routes}, nil
}

// Lookup returns the requirement for a method/path pair, if the route is
// protected.
func (t *Table) Lookup(method, path string) (*RouteRequirement, bool) {
	rr, ok := t.routes[routeKey(method, path)]
	return rr, ok
}

// Routes returns all requirements sorted by key, for listings.
func (t *Table) Routes() []*RouteRequirement {
	keys := make([]string, 0, len(t.routes))
	for k := range t.routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := make([]*RouteRequirement, len(keys))
	for i, k := range keys {
		result[i] = t.routes[k]
	}
	return result
}

// HasDiscoverable reports whether any route opts into the discovery catalog.
func (t *Table) HasDiscoverable() bool {
	for _, rr := range t.routes {
		if rr.Discoverable {
			return true
		}
	}
	return false
}
