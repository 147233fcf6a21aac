package bazaar

import (
	"context"
	"fmt"
	"time"

	"github.com/tjfontaine/x402-gate/internal/extensions"
	"github.com/tjfontaine/x402-gate/internal/gate"
	"github.com/tjfontaine/x402-gate/internal/resource"
	"github.com/tjfontaine/x402-gate/internal/x402"
)

// Loader registers the discovery extension during gate startup. It is needed
// only when some route opts into discovery and the registry does not already
// carry the extension; loading in the background keeps startup off the
// request path, and a load failure leaves the catalog empty without touching
// any other route.
type Loader struct {
	table    *resource.Table
	registry *extensions.Registry
	ext      *Extension
	baseURL  string
}

var _ gate.ExtensionLoader = (*Loader)(nil)

// NewLoader creates a loader that will populate ext from the table's
// discoverable routes and register it.
func NewLoader(table *resource.Table, registry *extensions.Registry, ext *Extension, baseURL string) *Loader {
	return &Loader{
		table:    table,
		registry: registry,
		ext:      ext,
		baseURL:  baseURL,
	}
}

// Name implements gate.ExtensionLoader.
func (l *Loader) Name() string { return ExtensionName }

// Needed implements gate.ExtensionLoader.
func (l *Loader) Needed() bool {
	return l.table.HasDiscoverable() && !l.registry.Has(ExtensionName)
}

// Load builds the catalog from the discoverable routes and registers the
// extension.
func (l *Loader) Load(ctx context.Context) error {
	now := time.Now().UTC()

	var items []Item
	for _, rr := range l.table.Routes() {
		if !rr.Discoverable {
			continue
		}
		req := rr.PaymentRequirements(l.baseURL)
		items = append(items, Item{
			Resource:    req.Resource,
			Type:        "http",
			X402Version: x402.Version,
			Accepts:     []x402.PaymentRequirements{*req},
			LastUpdated: now,
		})
	}

	l.ext.SetItems(items)
	if err := l.registry.Register(l.ext); err != nil {
		return fmt.Errorf("register discovery extension: %w", err)
	}
	return nil
}
