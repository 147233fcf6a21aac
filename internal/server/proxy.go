package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
)

// UpstreamProxy forwards requests the gate let through to the configured
// backend. Routes may name their own upstream; everything else goes to the
// default target. Proxies are built once at startup, never per request.
type UpstreamProxy struct {
	byRoute  map[string]*httputil.ReverseProxy
	fallback *httputil.ReverseProxy
	logger   *slog.Logger
}

// NewUpstreamProxy builds the proxy from a default target URL and per-route
// overrides keyed "METHOD path". Either side may be empty, but not both.
func NewUpstreamProxy(defaultTarget string, overrides map[string]string, logger *slog.Logger) (*UpstreamProxy, error) {
	if logger == nil {
		logger = slog.Default()
	}

	p := &UpstreamProxy{
		byRoute: make(map[string]*httputil.ReverseProxy, len(overrides)),
		logger:  logger,
	}

	if defaultTarget != "" {
		proxy, err := buildProxy(defaultTarget, logger)
		if err != nil {
			return nil, fmt.Errorf("default upstream: %w", err)
		}
		p.fallback = proxy
	}

	for route, target := range overrides {
		proxy, err := buildProxy(target, logger)
		if err != nil {
			return nil, fmt.Errorf("upstream for %s: %w", route, err)
		}
		p.byRoute[route] = proxy
	}

	if p.fallback == nil && len(p.byRoute) == 0 {
		return nil, fmt.Errorf("no upstream targets configured")
	}
	return p, nil
}

func buildProxy(target string, logger *slog.Logger) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parse upstream URL %q: %w", target, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("upstream URL %q must be absolute", target)
	}

	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error("upstream request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("upstream", u.Host),
			slog.String("error", err.Error()))
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}
	return proxy, nil
}

// ServeHTTP forwards the request to its route's upstream, falling back to the
// default target.
func (p *UpstreamProxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if proxy, ok := p.byRoute[r.Method+" "+r.URL.Path]; ok {
		proxy.ServeHTTP(w, r)
		return
	}
	if p.fallback != nil {
		p.fallback.ServeHTTP(w, r)
		return
	}
	p.logger.Warn("no upstream for path",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path))
	http.Error(w, "no upstream configured", http.StatusBadGateway)
}
