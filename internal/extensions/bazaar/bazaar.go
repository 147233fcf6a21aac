// Package bazaar implements the resource discovery extension. When loaded it
// serves a machine-readable catalog of the gateway's purchasable resources so
// agents and crawlers can find priced endpoints without probing for 402s.
package bazaar

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/x402-gate/internal/x402"
)

// ExtensionName is how route declarations refer to this extension.
const ExtensionName = "bazaar"

const defaultPageSize = 20

// Item is one discoverable resource in the catalog.
type Item struct {
	Resource    string                     `json:"resource"`
	Type        string                     `json:"type"`
	X402Version int                        `json:"x402Version"`
	Accepts     []x402.PaymentRequirements `json:"accepts"`
	LastUpdated time.Time                  `json:"lastUpdated"`
	Metadata    map[string]any             `json:"metadata,omitempty"`
}

// document is the discovery response shape.
type document struct {
	X402Version int        `json:"x402Version"`
	Items       []Item     `json:"items"`
	Pagination  pagination `json:"pagination"`
}

type pagination struct {
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// Extension serves the discovery catalog. Items are replaced wholesale when
// the route table is (re)loaded; reads are lock-free copies.
type Extension struct {
	mu    sync.RWMutex
	items []Item
}

// New creates an empty catalog extension.
func New() *Extension {
	return &Extension{}
}

// Name implements extensions.Extension.
func (e *Extension) Name() string { return ExtensionName }

// SetItems replaces the catalog contents.
func (e *Extension) SetItems(items []Item) {
	copied := make([]Item, len(items))
	copy(copied, items)

	e.mu.Lock()
	e.items = copied
	e.mu.Unlock()
}

// Items returns a snapshot of the catalog.
func (e *Extension) Items() []Item {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snapshot := make([]Item, len(e.items))
	copy(snapshot, e.items)
	return snapshot
}

// Mount implements extensions.HTTPExtension.
func (e *Extension) Mount(r chi.Router) {
	r.Get("/discovery/resources", e.handleList)
}

func (e *Extension) handleList(w http.ResponseWriter, r *http.Request) {
	items := e.Items()

	limit := queryInt(r, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	total := len(items)
	page := []Item{}
	if offset < total {
		end := offset + limit
		if end > total {
			end = total
		}
		page = items[offset:end]
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(document{
		X402Version: x402.Version,
		Items:       page,
		Pagination:  pagination{Limit: limit, Offset: offset, Total: total},
	})
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}
