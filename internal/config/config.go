package config

import (
	"encoding/json"
	"fmt"
	"time"
)

const (
	defaultListen = "127.0.0.1:8080"

	MaskingLight    = "light"
	MaskingModerate = "moderate"
	MaskingStrict   = "strict"

	AuditStoreBolt   = "bolt"
	AuditStoreMemory = "memory"
)

// Duration is a time.Duration that reads and writes as a Go duration string
// ("30s", "20m") in config files, and also accepts nanosecond integers.
type Duration time.Duration

// Duration returns the value as time.Duration
func (d Duration) Duration() time.Duration { return time.Duration(d) }

// MarshalJSON implements json.Marshaler
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON implements json.Unmarshaler
func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		*d = Duration(time.Duration(v))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration %v", raw)
	}
	return nil
}

// Config represents the main configuration structure
type Config struct {
	Listen  string `json:"listen" mapstructure:"listen"`
	DataDir string `json:"data_dir" mapstructure:"data-dir"`

	// APIKey guards admin routes. May be a secret reference such as ${env:GRCGATE_ADMIN_KEY}.
	APIKey string `json:"api_key,omitempty" mapstructure:"api-key"`

	EnableMCP bool `json:"enable_mcp" mapstructure:"enable-mcp"`

	Logging       *LogConfig           `json:"logging,omitempty" mapstructure:"logging"`
	Connections   []*ArcherConnection  `json:"connections,omitempty" mapstructure:"connections"`
	Transform     *TransformConfig     `json:"transform,omitempty" mapstructure:"transform"`
	Privacy       *PrivacyConfig       `json:"privacy,omitempty" mapstructure:"privacy"`
	Tenant        *TenantConfig        `json:"tenant,omitempty" mapstructure:"tenant"`
	Signing       *SigningConfig       `json:"signing,omitempty" mapstructure:"signing"`
	Audit         *AuditConfig         `json:"audit,omitempty" mapstructure:"audit"`
	Tokenizer     *TokenizerConfig     `json:"tokenizer,omitempty" mapstructure:"tokenizer"`
	Observability *ObservabilityConfig `json:"observability,omitempty" mapstructure:"observability"`
}

// LogConfig represents logging configuration
type LogConfig struct {
	Level         string `json:"level" mapstructure:"level"`
	EnableFile    bool   `json:"enable_file" mapstructure:"enable-file"`
	EnableConsole bool   `json:"enable_console" mapstructure:"enable-console"`
	Filename      string `json:"filename" mapstructure:"filename"`
	LogDir        string `json:"log_dir,omitempty" mapstructure:"log-dir"` // Custom log directory
	MaxSize       int    `json:"max_size" mapstructure:"max-size"`         // MB
	MaxBackups    int    `json:"max_backups" mapstructure:"max-backups"`   // number of backup files
	MaxAge        int    `json:"max_age" mapstructure:"max-age"`           // days
	Compress      bool   `json:"compress" mapstructure:"compress"`
	JSONFormat    bool   `json:"json_format" mapstructure:"json-format"`
	// SanitizeSecrets runs log field values through the PII and credential patterns
	SanitizeSecrets bool `json:"sanitize_secrets" mapstructure:"sanitize-secrets"`
}

// ArcherConnection is one Archer instance and the tenants it serves
type ArcherConnection struct {
	Name         string `json:"name" mapstructure:"name"`
	BaseURL      string `json:"base_url" mapstructure:"base-url"`
	InstanceName string `json:"instance_name" mapstructure:"instance-name"`
	Username     string `json:"username" mapstructure:"username"`
	UserDomain   string `json:"user_domain,omitempty" mapstructure:"user-domain"`
	// Password may be a secret reference such as ${keyring:archer-prod}
	Password  string   `json:"password" mapstructure:"password"`
	TenantIDs []string `json:"tenant_ids" mapstructure:"tenant-ids"`

	RequestTimeout Duration `json:"request_timeout,omitempty" mapstructure:"request-timeout"`
	SessionTTL     Duration `json:"session_ttl,omitempty" mapstructure:"session-ttl"`
	MaxAttempts    int      `json:"max_attempts,omitempty" mapstructure:"max-attempts"`
}

// TransformConfig controls display formatting of Archer values
type TransformConfig struct {
	Locale   string `json:"locale" mapstructure:"locale"`
	Currency string `json:"currency" mapstructure:"currency"`
}

// CustomPattern is a user defined detection rule, either a regex or a keyword list
type CustomPattern struct {
	Name     string   `json:"name" mapstructure:"name"`
	Regex    string   `json:"regex,omitempty" mapstructure:"regex"`
	Keywords []string `json:"keywords,omitempty" mapstructure:"keywords"`
	Category string   `json:"category,omitempty" mapstructure:"category"`
}

// PrivacyConfig controls masking and tokenization. It can be replaced at
// runtime through the admin API.
type PrivacyConfig struct {
	MaskingLevel          string          `json:"masking_level" mapstructure:"masking-level"`
	EnableTokenization    bool            `json:"enable_tokenization" mapstructure:"enable-tokenization"`
	TokenMaxAge           Duration        `json:"token_max_age,omitempty" mapstructure:"token-max-age"`
	CustomSensitiveFields []string        `json:"custom_sensitive_fields,omitempty" mapstructure:"custom-sensitive-fields"`
	WhitelistFields       []string        `json:"whitelist_fields,omitempty" mapstructure:"whitelist-fields"`
	CustomPatterns        []CustomPattern `json:"custom_patterns,omitempty" mapstructure:"custom-patterns"`
	// DisableContentScan turns off regex scanning of values in non-sensitive fields
	DisableContentScan bool `json:"disable_content_scan,omitempty" mapstructure:"disable-content-scan"`
}

// Clone returns a deep copy
func (p *PrivacyConfig) Clone() *PrivacyConfig {
	if p == nil {
		return nil
	}
	c := *p
	c.CustomSensitiveFields = append([]string(nil), p.CustomSensitiveFields...)
	c.WhitelistFields = append([]string(nil), p.WhitelistFields...)
	c.CustomPatterns = append([]CustomPattern(nil), p.CustomPatterns...)
	return &c
}

// TenantConfig controls identity extraction and access validation
type TenantConfig struct {
	// SessionSecret signs platform session JWTs (HS256). Secret reference allowed.
	SessionSecret string   `json:"session_secret" mapstructure:"session-secret"`
	SessionTTL    Duration `json:"session_ttl,omitempty" mapstructure:"session-ttl"`
	ReplayWindow  Duration `json:"replay_window,omitempty" mapstructure:"replay-window"`
	AnomalyWindow Duration `json:"anomaly_window,omitempty" mapstructure:"anomaly-window"`
	// AnomalyMaxTenants is the number of distinct tenants a user may touch
	// inside AnomalyWindow before requests are flagged
	AnomalyMaxTenants int     `json:"anomaly_max_tenants,omitempty" mapstructure:"anomaly-max-tenants"`
	RateLimit         float64 `json:"rate_limit,omitempty" mapstructure:"rate-limit"` // requests per second per tenant, 0 disables
	RateBurst         int     `json:"rate_burst,omitempty" mapstructure:"rate-burst"`
	RulesFile         string  `json:"rules_file,omitempty" mapstructure:"rules-file"`
}

// SigningConfig controls request signatures
type SigningConfig struct {
	Key      string   `json:"key" mapstructure:"key"` // Secret reference allowed
	MaxSkew  Duration `json:"max_skew,omitempty" mapstructure:"max-skew"`
	NonceTTL Duration `json:"nonce_ttl,omitempty" mapstructure:"nonce-ttl"`
}

// AuditConfig controls the audit chain
type AuditConfig struct {
	Store       string           `json:"store" mapstructure:"store"`
	GenesisSeed string           `json:"genesis_seed,omitempty" mapstructure:"genesis-seed"`
	Redis       *RedisSinkConfig `json:"redis,omitempty" mapstructure:"redis"`
}

// RedisSinkConfig enables fan-out of audit events to a Redis stream
type RedisSinkConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	DB       int    `json:"db,omitempty" mapstructure:"db"`
	Stream   string `json:"stream" mapstructure:"stream"`
	MaxLen   int64  `json:"max_len,omitempty" mapstructure:"max-len"`
}

// TokenizerConfig controls usage accounting
type TokenizerConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	Encoding string `json:"encoding" mapstructure:"encoding"`
}

// ObservabilityConfig controls metrics and tracing
type ObservabilityConfig struct {
	EnableMetrics bool           `json:"enable_metrics" mapstructure:"enable-metrics"`
	Tracing       *TracingConfig `json:"tracing,omitempty" mapstructure:"tracing"`
}

// TracingConfig represents OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled      bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName  string  `json:"service_name" mapstructure:"service-name"`
	OTLPEndpoint string  `json:"otlp_endpoint" mapstructure:"otlp-endpoint"`
	SampleRate   float64 `json:"sample_rate" mapstructure:"sample-rate"`
}

// DefaultLogConfig returns the default logging configuration
func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:           "info",
		EnableFile:      true,
		EnableConsole:   true,
		Filename:        "grcgate.log",
		MaxSize:         10, // 10MB
		MaxBackups:      5,  // 5 backup files
		MaxAge:          30, // 30 days
		Compress:        true,
		JSONFormat:      false,
		SanitizeSecrets: true,
	}
}

// DefaultPrivacyConfig returns the default privacy configuration
func DefaultPrivacyConfig() *PrivacyConfig {
	return &PrivacyConfig{
		MaskingLevel: MaskingModerate,
		TokenMaxAge:  Duration(24 * time.Hour),
	}
}

// DefaultTenantConfig returns the default tenant validation configuration
func DefaultTenantConfig() *TenantConfig {
	return &TenantConfig{
		SessionTTL:        Duration(8 * time.Hour),
		ReplayWindow:      Duration(5 * time.Minute),
		AnomalyWindow:     Duration(time.Hour),
		AnomalyMaxTenants: 3,
		RateLimit:         20,
		RateBurst:         40,
	}
}

// DefaultConfig returns a default configuration
func DefaultConfig() *Config {
	return &Config{
		Listen:      defaultListen,
		DataDir:     "", // Will be set to ~/.grcgate by loader
		EnableMCP:   true,
		Logging:     DefaultLogConfig(),
		Connections: []*ArcherConnection{},
		Transform: &TransformConfig{
			Locale:   "en-US",
			Currency: "USD",
		},
		Privacy: DefaultPrivacyConfig(),
		Tenant:  DefaultTenantConfig(),
		Signing: &SigningConfig{
			MaxSkew:  Duration(5 * time.Minute),
			NonceTTL: Duration(10 * time.Minute),
		},
		Audit: &AuditConfig{
			Store:       AuditStoreBolt,
			GenesisSeed: "grcgate-audit-genesis",
		},
		Tokenizer: &TokenizerConfig{
			Enabled:  false,
			Encoding: "cl100k_base",
		},
		Observability: &ObservabilityConfig{
			EnableMetrics: true,
			Tracing: &TracingConfig{
				ServiceName: "grcgate",
				SampleRate:  1.0,
			},
		},
	}
}

// ConnectionForTenant returns the Archer connection that serves tenantID
func (c *Config) ConnectionForTenant(tenantID string) *ArcherConnection {
	for _, conn := range c.Connections {
		for _, id := range conn.TenantIDs {
			if id == tenantID {
				return conn
			}
		}
	}
	return nil
}
