// Package config decodes and validates the on-disk TOML configuration
// tree, grounded on the teacher's use of BurntSushi/toml for its own
// Caddyfile-adjacent config loading paths.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the top-level decoded configuration tree.
type Config struct {
	Server    ServerConfig              `toml:"server"`
	Logging   LoggingConfig             `toml:"logging"`
	Cache     CacheConfig               `toml:"cache"`
	ACME      ACMEConfig                `toml:"acme"`
	Plugins   PluginsConfig             `toml:"plugins"`
	Upstreams map[string]UpstreamConfig `toml:"upstreams"`
	Routes    []RouteConfig             `toml:"routes"`
}

// PluginsConfig toggles and parameterizes the optional pipeline
// plugins; each sub-config's Enabled field defaults to false, so an
// absent [plugins.*] table leaves the plugin unregistered.
type PluginsConfig struct {
	RequestID    RequestIDConfig    `toml:"request_id"`
	RateLimit    RateLimitConfig    `toml:"rate_limit"`
	Auth         AuthConfig         `toml:"auth"`
	IPFilter     IPFilterConfig     `toml:"ip_filter"`
	Headers      HeadersConfig      `toml:"headers"`
	CacheControl CacheControlConfig `toml:"cache_control"`
	Compression  CompressionConfig  `toml:"compression"`
	AccessLog    AccessLogConfig    `toml:"access_log"`
	Metrics      MetricsConfig      `toml:"metrics"`
	Admin        AdminConfig        `toml:"admin"`
}

// RequestIDConfig controls the request-ID plugin.
type RequestIDConfig struct {
	Enabled       bool   `toml:"enabled"`
	HeaderName    string `toml:"header_name"`
	TrustIncoming bool   `toml:"trust_incoming"`
	AddToResponse bool   `toml:"add_to_response"`
}

// RateLimitConfig controls the per-IP rate limiter plugin.
type RateLimitConfig struct {
	Enabled             bool `toml:"enabled"`
	MaxRequests         int  `toml:"max_requests"`
	WindowSecs          int  `toml:"window_secs"`
	Burst               int  `toml:"burst"`
	ExemptPrivateRanges bool `toml:"exempt_private_ranges"`
}

// BasicAuthConfig is one allowed username/password pair.
type BasicAuthConfig struct {
	Username string `toml:"username"`
	Password string `toml:"password"`
}

// AuthConfig controls the Basic/API-key/JWT auth plugin.
type AuthConfig struct {
	Enabled      bool              `toml:"enabled"`
	Basic        []BasicAuthConfig `toml:"basic"`
	APIKey       string            `toml:"api_key"`
	APIKeyHeader string            `toml:"api_key_header"`
	JWTSecret    string            `toml:"jwt_secret"`
	ExcludePaths []string          `toml:"exclude_paths"`
}

// IPFilterConfig controls the CIDR allow/deny plugin. Deny always
// wins over allow; an empty Allow list permits anyone not denied.
type IPFilterConfig struct {
	Enabled bool     `toml:"enabled"`
	Allow   []string `toml:"allow"`
	Deny    []string `toml:"deny"`
}

// HeadersConfig controls the header-mutation/CORS/security plugin.
type HeadersConfig struct {
	Enabled                bool     `toml:"enabled"`
	CORSAllowOrigins       []string `toml:"cors_allow_origins"`
	SecurityHeadersPreset  bool     `toml:"security_headers_preset"`
}

// CacheControlConfig controls the declarative Cache-Control plugin.
type CacheControlConfig struct {
	Enabled       bool `toml:"enabled"`
	MaxAgeSeconds int  `toml:"max_age_seconds"`
	Private       bool `toml:"private"`
}

// CompressionConfig controls the compression-policy gating plugin.
type CompressionConfig struct {
	Enabled      bool     `toml:"enabled"`
	MinLength    int      `toml:"min_length"`
	ContentTypes []string `toml:"content_types"`
}

// AccessLogConfig controls the access-log plugin.
type AccessLogConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
	Format  string `toml:"format"`
}

// MetricsConfig controls the per-request metrics-observation plugin.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
}

// AdminConfig controls the process-stats accumulation plugin.
type AdminConfig struct {
	Enabled bool `toml:"enabled"`
}

// ServerConfig holds process-level listener settings.
type ServerConfig struct {
	ListenAddr     string        `toml:"listen_addr"`
	TLSListenAddr  string        `toml:"tls_listen_addr"`
	ServerName     string        `toml:"server_name"`
	ConnectTimeout time.Duration `toml:"connect_timeout"`
	TryDuration    time.Duration `toml:"try_duration"`
	TryInterval    time.Duration `toml:"try_interval"`
}

// LoggingConfig controls the process logger and access-log format.
type LoggingConfig struct {
	Level        string `toml:"level"`
	Format       string `toml:"format"`
	Output       string `toml:"output"`
	AccessFormat string `toml:"access_format"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled      bool          `toml:"enabled"`
	DefaultTTL   time.Duration `toml:"default_ttl"`
	MaxEntrySize int64         `toml:"max_entry_size"`
	MaxCacheSize int64         `toml:"max_cache_size"`
}

// ACMEConfig controls automatic certificate provisioning.
type ACMEConfig struct {
	Enabled        bool     `toml:"enabled"`
	CAURL          string   `toml:"ca_url"`
	Email          string   `toml:"email"`
	Domains        []string `toml:"domains"`
	StoreDir       string   `toml:"store_dir"`
	RenewBeforeDays int     `toml:"renew_before_days"`
}

// ServerAddrConfig describes one backend server within an upstream pool.
type ServerAddrConfig struct {
	Addr   string `toml:"addr"`
	UseTLS bool   `toml:"use_tls"`
	SNI    string `toml:"sni"`
}

// UpstreamConfig describes a named pool of backend servers.
type UpstreamConfig struct {
	Policy  string             `toml:"policy"`
	Servers []ServerAddrConfig `toml:"servers"`
	Breaker BreakerConfig      `toml:"breaker"`
}

// BreakerConfig controls a pool's circuit breaker.
type BreakerConfig struct {
	FailureThreshold uint32        `toml:"failure_threshold"`
	SuccessThreshold uint32        `toml:"success_threshold"`
	Timeout          time.Duration `toml:"timeout"`
	WindowSize       time.Duration `toml:"window_size"`
}

// RouteConfig describes one route table entry.
type RouteConfig struct {
	Name         string            `toml:"name"`
	Hosts        []string          `toml:"hosts"`
	PathPrefixes []string          `toml:"path_prefixes"`
	Methods      []string          `toml:"methods"`
	Headers      map[string]string `toml:"headers"`

	Kind     string `toml:"kind"`
	Upstream string `toml:"upstream"`

	StripPathPrefix string            `toml:"strip_path_prefix"`
	AddPathPrefix   string            `toml:"add_path_prefix"`
	RegexMatch      string            `toml:"regex_match"`
	RegexReplace    string            `toml:"regex_replace"`
	ReplacePath     string            `toml:"replace_path"`
	RequestHeadersAdd    map[string]string `toml:"request_headers_add"`
	RequestHeadersSet    map[string]string `toml:"request_headers_set"`
	RequestHeadersDelete []string          `toml:"request_headers_delete"`
	ResponseHeadersAdd    map[string]string `toml:"response_headers_add"`
	ResponseHeadersSet    map[string]string `toml:"response_headers_set"`
	ResponseHeadersDelete []string          `toml:"response_headers_delete"`

	Script string `toml:"script"`

	FileRoot string `toml:"file_root"`

	StaticStatus  int               `toml:"static_status"`
	StaticBody    string            `toml:"static_body"`
	StaticHeaders map[string]string `toml:"static_headers"`

	RedirectLocation string `toml:"redirect_location"`
	RedirectStatus   int    `toml:"redirect_status"`

	CacheEnabled bool `toml:"cache_enabled"`
}

// Load decodes a TOML config file from path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("config: decoding %s: %w", path, err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks structural invariants: server.listen_addr is set,
// every pool has at least one server, every route has a name, every
// reverse_proxy route (or route with no kind) names a configured pool,
// and an enabled ACME section has an email and at least one domain.
func Validate(cfg *Config) error {
	if cfg.Server.ListenAddr == "" {
		return fmt.Errorf("config: server.listen_addr is required")
	}

	for name, up := range cfg.Upstreams {
		if len(up.Servers) == 0 {
			return fmt.Errorf("config: upstream %q has no servers", name)
		}
	}

	for _, route := range cfg.Routes {
		if route.Name == "" {
			return fmt.Errorf("config: route missing a name")
		}
		if route.Kind == "reverse_proxy" || route.Kind == "" {
			if route.Upstream == "" {
				return fmt.Errorf("config: route %q must name an upstream", route.Name)
			}
			if _, ok := cfg.Upstreams[route.Upstream]; !ok {
				return fmt.Errorf("config: route %q references unknown upstream %q", route.Name, route.Upstream)
			}
		}
	}

	if cfg.ACME.Enabled {
		if cfg.ACME.Email == "" {
			return fmt.Errorf("config: acme.email is required when acme is enabled")
		}
		if len(cfg.ACME.Domains) == 0 {
			return fmt.Errorf("config: acme.domains must name at least one domain when acme is enabled")
		}
	}

	return nil
}
