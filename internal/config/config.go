// Package config loads the gateway configuration from a YAML file and the
// environment. Environment variables (X402_ prefix, __ as the path
// separator) override file values, and ${VAR} references in secrets are
// substituted from the environment so wallet addresses and facilitator keys
// stay out of config files.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server      ServerConfig      `koanf:"server"`
	Facilitator FacilitatorConfig `koanf:"facilitator"`
	Wallet      WalletConfig      `koanf:"wallet"`
	Paywall     PaywallConfig     `koanf:"paywall"`
	Receipts    ReceiptsConfig    `koanf:"receipts"`
	Upstream    UpstreamConfig    `koanf:"upstream"`
	Routes      []RouteConfig     `koanf:"routes"`
}

type ServerConfig struct {
	Port int `koanf:"port"`

	// BaseURL is the public origin of this gateway, used to build absolute
	// resource URLs in payment requirements.
	BaseURL string `koanf:"base_url"`
}

type FacilitatorConfig struct {
	URL string `koanf:"url"`

	// Timeout is a duration string like "10s".
	Timeout string `koanf:"timeout"`

	// AuthToken is sent as a bearer token; hosted facilitators require one
	// for mainnet settlement. Supports ${VAR} substitution.
	AuthToken string `koanf:"auth_token"`
}

// WalletConfig holds the route-table defaults for where payments go.
// Individual routes may override both fields.
type WalletConfig struct {
	PayTo   string `koanf:"pay_to"` // supports ${VAR} substitution
	Network string `koanf:"network"`
}

type PaywallConfig struct {
	// AppName is the branding shown on the browser paywall page.
	AppName string `koanf:"app_name"`
}

type ReceiptsConfig struct {
	Type   string       `koanf:"type"` // sqlite, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

// UpstreamConfig names the backend the gateway fronts. Routes may override
// the default target.
type UpstreamConfig struct {
	URL string `koanf:"url"`
}

type RouteConfig struct {
	Method string `koanf:"method"`
	Path   string `koanf:"path"`

	// Price in atomic units of the asset, e.g. "10000" for 0.01 USDC.
	Price string `koanf:"price"`

	Network           string         `koanf:"network"` // default: wallet.network
	PayTo             string         `koanf:"pay_to"`  // default: wallet.pay_to
	Asset             string         `koanf:"asset"`
	Description       string         `koanf:"description"`
	MimeType          string         `koanf:"mime_type"`
	MaxTimeoutSeconds int            `koanf:"max_timeout_seconds"`
	Discoverable      bool           `koanf:"discoverable"`
	Extensions        map[string]any `koanf:"extensions"`

	// Upstream overrides the default upstream target for this route.
	Upstream string `koanf:"upstream"`
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads the configuration from path (a missing file is fine, the
// environment alone may be enough) and applies env overrides and defaults.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("X402_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "X402_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if !k.Exists("server.port") {
		k.Set("server.port", 8402)
	}
	if !k.Exists("facilitator.url") {
		k.Set("facilitator.url", "https://x402.org/facilitator")
	}
	if !k.Exists("facilitator.timeout") {
		k.Set("facilitator.timeout", "10s")
	}
	if !k.Exists("wallet.network") {
		k.Set("wallet.network", "base-sepolia")
	}
	if !k.Exists("receipts.type") {
		k.Set("receipts.type", "memory")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.Wallet.PayTo = substituteEnvVars(cfg.Wallet.PayTo)
	cfg.Facilitator.AuthToken = substituteEnvVars(cfg.Facilitator.AuthToken)

	// Routes inherit the wallet defaults.
	for i := range cfg.Routes {
		if cfg.Routes[i].PayTo == "" {
			cfg.Routes[i].PayTo = cfg.Wallet.PayTo
		} else {
			cfg.Routes[i].PayTo = substituteEnvVars(cfg.Routes[i].PayTo)
		}
		if cfg.Routes[i].Network == "" {
			cfg.Routes[i].Network = cfg.Wallet.Network
		}
	}

	return &cfg, nil
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
