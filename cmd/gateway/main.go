package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tjfontaine/x402-gate/internal/config"
	"github.com/tjfontaine/x402-gate/internal/extensions"
	"github.com/tjfontaine/x402-gate/internal/extensions/bazaar"
	"github.com/tjfontaine/x402-gate/internal/facilitator"
	"github.com/tjfontaine/x402-gate/internal/gate"
	"github.com/tjfontaine/x402-gate/internal/paywall"
	"github.com/tjfontaine/x402-gate/internal/receipts"
	receiptsmem "github.com/tjfontaine/x402-gate/internal/receipts/memory"
	receiptssqlite "github.com/tjfontaine/x402-gate/internal/receipts/sqlite"
	"github.com/tjfontaine/x402-gate/internal/resource"
	"github.com/tjfontaine/x402-gate/internal/server"
	"github.com/tjfontaine/x402-gate/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the gateway config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	shutdownTracer, err := telemetry.InitTracer("x402-gate", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	baseURL := cfg.Server.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost:" + strconv.Itoa(cfg.Server.Port)
	}

	// Facilitator client.
	facOpts := []facilitator.Option{facilitator.WithLogger(logger)}
	if cfg.Facilitator.Timeout != "" {
		timeout, err := time.ParseDuration(cfg.Facilitator.Timeout)
		if err != nil {
			log.Fatalf("Invalid facilitator timeout: %v", err)
		}
		facOpts = append(facOpts, facilitator.WithTimeout(timeout))
	}
	if cfg.Facilitator.AuthToken != "" {
		facOpts = append(facOpts, facilitator.WithAuthToken(cfg.Facilitator.AuthToken))
	}
	fac, err := facilitator.NewClient(cfg.Facilitator.URL, facOpts...)
	if err != nil {
		log.Fatalf("Failed to create facilitator client: %v", err)
	}

	// Receipt store and the extension that writes to it.
	registry := extensions.NewRegistry()
	store, err := openReceiptStore(cfg.Receipts)
	if err != nil {
		log.Fatalf("Failed to open receipt store: %v", err)
	}
	if store != nil {
		defer store.Close()
		ext, err := receipts.NewExtension(store)
		if err != nil {
			log.Fatalf("Failed to create receipts extension: %v", err)
		}
		if err := registry.Register(ext); err != nil {
			log.Fatalf("Failed to register receipts extension: %v", err)
		}
	}

	// Route requirements.
	routeReqs := make([]resource.RouteRequirement, len(cfg.Routes))
	for i, rc := range cfg.Routes {
		routeReqs[i] = resource.RouteRequirement{
			Method:            rc.Method,
			Path:              rc.Path,
			Price:             rc.Price,
			Network:           rc.Network,
			PayTo:             rc.PayTo,
			Asset:             rc.Asset,
			Description:       rc.Description,
			MimeType:          rc.MimeType,
			MaxTimeoutSeconds: rc.MaxTimeoutSeconds,
			Discoverable:      rc.Discoverable,
			Extensions:        rc.Extensions,
		}
	}
	table, err := resource.NewTable(routeReqs)
	if err != nil {
		log.Fatalf("Invalid route configuration: %v", err)
	}

	resourceServer, err := resource.NewServer(table, fac, registry,
		resource.WithBaseURL(baseURL),
		resource.WithPaywall(paywall.New(cfg.Paywall.AppName)),
		resource.WithLogger(logger),
	)
	if err != nil {
		log.Fatalf("Failed to create resource server: %v", err)
	}

	// Discovery extension, loaded in the background when any route opts in.
	discovery := bazaar.New()
	loader := bazaar.NewLoader(table, registry, discovery, baseURL)

	g, err := gate.New(resourceServer,
		gate.WithLogger(logger),
		gate.WithExtensionLoader(loader),
	)
	if err != nil {
		log.Fatalf("Failed to create payment gate: %v", err)
	}

	// Upstream proxy targets.
	overrides := make(map[string]string)
	for _, rc := range cfg.Routes {
		if rc.Upstream != "" {
			overrides[rc.Method+" "+rc.Path] = rc.Upstream
		}
	}
	proxy, err := server.NewUpstreamProxy(cfg.Upstream.URL, overrides, logger)
	if err != nil {
		log.Fatalf("Failed to configure upstream proxy: %v", err)
	}

	srv := server.New(cfg.Server.Port, logger)
	srv.Router.Use(g.Handler)
	srv.Router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if table.HasDiscoverable() {
		discovery.Mount(srv.Router)
	}
	srv.Router.Mount("/admin", server.NewAdmin(table, store))
	srv.Router.Handle("/*", proxy)

	logger.Info("payment gateway configured",
		slog.Int("routes", len(cfg.Routes)),
		slog.String("facilitator", cfg.Facilitator.URL),
		slog.String("base_url", baseURL))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			log.Fatalf("Server failed: %v", err)
		}
	case sig := <-sigCh:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	logger.Info("gateway stopped")
}

// openReceiptStore builds the configured receipt store, or nil when receipts
// are disabled.
func openReceiptStore(cfg config.ReceiptsConfig) (receipts.Store, error) {
	switch cfg.Type {
	case "sqlite":
		path := cfg.SQLite.Path
		if path == "" {
			path = "./data/receipts.db"
		}
		return receiptssqlite.New(path)
	case "memory", "":
		return receiptsmem.New(), nil
	case "none":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown receipts store type %q", cfg.Type)
	}
}
