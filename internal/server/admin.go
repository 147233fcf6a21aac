package server

import (
	"encoding/json"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tjfontaine/x402-gate/internal/receipts"
	"github.com/tjfontaine/x402-gate/internal/resource"
)

// Admin is the operator surface: process stats, the route requirement table
// and the settlement receipt log. It is mounted under /admin and is meant to
// sit behind network-level access control, not the payment gate.
type Admin struct {
	router    *chi.Mux
	table     *resource.Table
	store     receipts.Store
	startTime time.Time
}

// NewAdmin creates the admin surface. store may be nil when receipts are
// disabled; the receipts endpoints then answer 404.
func NewAdmin(table *resource.Table, store receipts.Store) *Admin {
	a := &Admin{
		router:    chi.NewRouter(),
		table:     table,
		store:     store,
		startTime: time.Now(),
	}
	a.routes()
	return a
}

func (a *Admin) routes() {
	a.router.Get("/api/stats", a.handleStats)
	a.router.Get("/api/routes", a.handleRoutes)
	if a.store != nil {
		a.router.Get("/api/receipts", a.handleReceipts)
		a.router.Get("/api/receipts/{id}", a.handleReceipt)
	}
}

func (a *Admin) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

type statsResponse struct {
	Uptime       string      `json:"uptime"`
	GoVersion    string      `json:"go_version"`
	NumGoroutine int         `json:"num_goroutine"`
	Receipts     int64       `json:"receipts"`
	Memory       memoryStats `json:"memory"`
}

type memoryStats struct {
	Alloc      uint64 `json:"alloc"`
	TotalAlloc uint64 `json:"total_alloc"`
	Sys        uint64 `json:"sys"`
	NumGC      uint32 `json:"num_gc"`
}

func (a *Admin) handleStats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	var count int64
	if a.store != nil {
		count, _ = a.store.CountReceipts(r.Context())
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Uptime:       time.Since(a.startTime).String(),
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		Receipts:     count,
		Memory: memoryStats{
			Alloc:      m.Alloc,
			TotalAlloc: m.TotalAlloc,
			Sys:        m.Sys,
			NumGC:      m.NumGC,
		},
	})
}

type routeEntry struct {
	Method       string `json:"method"`
	Path         string `json:"path"`
	Price        string `json:"price"`
	Network      string `json:"network"`
	Asset        string `json:"asset"`
	PayTo        string `json:"payTo"`
	Description  string `json:"description,omitempty"`
	Discoverable bool   `json:"discoverable"`
}

func (a *Admin) handleRoutes(w http.ResponseWriter, r *http.Request) {
	routes := a.table.Routes()
	entries := make([]routeEntry, len(routes))
	for i, rr := range routes {
		entries[i] = routeEntry{
			Method:       rr.Method,
			Path:         rr.Path,
			Price:        rr.Price,
			Network:      rr.Network,
			Asset:        rr.Asset,
			PayTo:        rr.PayTo,
			Description:  rr.Description,
			Discoverable: rr.Discoverable,
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"routes": entries})
}

func (a *Admin) handleReceipts(w http.ResponseWriter, r *http.Request) {
	opts := receipts.ListOptions{
		Payer:  r.URL.Query().Get("payer"),
		Limit:  queryInt(r, "limit", 50),
		Offset: queryInt(r, "offset", 0),
	}

	list, err := a.store.ListReceipts(r.Context(), opts)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to list receipts"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"receipts": list})
}

func (a *Admin) handleReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := a.store.GetReceipt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "receipt not found"})
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
