package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Validate fills defaults for zero values and rejects inconsistent settings
func (c *Config) Validate() error {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.Logging == nil {
		c.Logging = DefaultLogConfig()
	}
	if c.Transform == nil {
		c.Transform = &TransformConfig{}
	}
	if c.Transform.Locale == "" {
		c.Transform.Locale = "en-US"
	}
	if c.Transform.Currency == "" {
		c.Transform.Currency = "USD"
	}
	if c.Privacy == nil {
		c.Privacy = DefaultPrivacyConfig()
	}
	if err := c.Privacy.Validate(); err != nil {
		return fmt.Errorf("privacy: %w", err)
	}
	if c.Tenant == nil {
		c.Tenant = DefaultTenantConfig()
	}
	c.Tenant.applyDefaults()
	if c.Signing == nil {
		c.Signing = &SigningConfig{}
	}
	if c.Signing.MaxSkew <= 0 {
		c.Signing.MaxSkew = Duration(5 * time.Minute)
	}
	if c.Signing.NonceTTL <= 0 {
		c.Signing.NonceTTL = Duration(10 * time.Minute)
	}
	if c.Audit == nil {
		c.Audit = &AuditConfig{}
	}
	switch c.Audit.Store {
	case "":
		c.Audit.Store = AuditStoreBolt
	case AuditStoreBolt, AuditStoreMemory:
	default:
		return fmt.Errorf("audit: unknown store %q", c.Audit.Store)
	}
	if c.Audit.GenesisSeed == "" {
		c.Audit.GenesisSeed = "grcgate-audit-genesis"
	}
	if r := c.Audit.Redis; r != nil && r.Enabled {
		if r.Addr == "" {
			return errors.New("audit: redis sink enabled without addr")
		}
		if r.Stream == "" {
			r.Stream = "grcgate:audit"
		}
	}
	if c.Tokenizer == nil {
		c.Tokenizer = &TokenizerConfig{}
	}
	if c.Tokenizer.Encoding == "" {
		c.Tokenizer.Encoding = "cl100k_base"
	}
	if c.Observability == nil {
		c.Observability = &ObservabilityConfig{}
	}

	seenTenant := make(map[string]string)
	for i, conn := range c.Connections {
		if conn == nil {
			return fmt.Errorf("connections[%d]: empty entry", i)
		}
		if err := conn.validate(); err != nil {
			return fmt.Errorf("connections[%d] %q: %w", i, conn.Name, err)
		}
		for _, id := range conn.TenantIDs {
			if other, dup := seenTenant[id]; dup {
				return fmt.Errorf("tenant %q is mapped to both %q and %q", id, other, conn.Name)
			}
			seenTenant[id] = conn.Name
		}
	}
	return nil
}

func (a *ArcherConnection) validate() error {
	if a.Name == "" {
		return errors.New("name is required")
	}
	if a.BaseURL == "" {
		return errors.New("base_url is required")
	}
	if a.InstanceName == "" || a.Username == "" {
		return errors.New("instance_name and username are required")
	}
	if len(a.TenantIDs) == 0 {
		return errors.New("at least one tenant id is required")
	}
	if a.RequestTimeout <= 0 {
		a.RequestTimeout = Duration(30 * time.Second)
	}
	if a.SessionTTL <= 0 {
		a.SessionTTL = Duration(20 * time.Minute)
	}
	if a.MaxAttempts <= 0 {
		a.MaxAttempts = 3
	}
	a.BaseURL = strings.TrimRight(a.BaseURL, "/")
	return nil
}

// Validate checks the masking level and custom pattern regexes
func (p *PrivacyConfig) Validate() error {
	switch strings.ToLower(p.MaskingLevel) {
	case "":
		p.MaskingLevel = MaskingModerate
	case MaskingLight, MaskingModerate, MaskingStrict:
		p.MaskingLevel = strings.ToLower(p.MaskingLevel)
	default:
		return fmt.Errorf("unknown masking level %q", p.MaskingLevel)
	}
	if p.TokenMaxAge <= 0 {
		p.TokenMaxAge = Duration(24 * time.Hour)
	}
	for _, cp := range p.CustomPatterns {
		if cp.Regex == "" {
			continue
		}
		if _, err := regexp.Compile(cp.Regex); err != nil {
			return fmt.Errorf("custom pattern %q: %w", cp.Name, err)
		}
	}
	return nil
}

func (t *TenantConfig) applyDefaults() {
	if t.SessionTTL <= 0 {
		t.SessionTTL = Duration(8 * time.Hour)
	}
	if t.ReplayWindow <= 0 {
		t.ReplayWindow = Duration(5 * time.Minute)
	}
	if t.AnomalyWindow <= 0 {
		t.AnomalyWindow = Duration(time.Hour)
	}
	if t.AnomalyMaxTenants <= 0 {
		t.AnomalyMaxTenants = 3
	}
	if t.RateLimit > 0 && t.RateBurst <= 0 {
		t.RateBurst = int(t.RateLimit) * 2
		if t.RateBurst < 1 {
			t.RateBurst = 1
		}
	}
}
