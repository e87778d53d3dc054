// Package privacy masks and tokenizes personally identifying content in GRC
// records before they leave the gateway.
package privacy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/config"
	"github.com/grcgate/grcgate/internal/record"
	"github.com/grcgate/grcgate/internal/security"
)

// CleanupInterval is how often expired tokens are purged
const CleanupInterval = 10 * time.Minute

// Protector applies masking or tokenization to values using a Classifier.
// Configuration can be swapped at runtime with UpdateConfig.
type Protector struct {
	mu         sync.RWMutex
	cfg        *config.PrivacyConfig
	classifier *security.Classifier
	tokens     TokenStore
	logger     *zap.Logger
	now        func() time.Time

	stopCh   chan struct{}
	stopOnce sync.Once
}

// Option configures a Protector
type Option func(*Protector)

// WithClock overrides the time source used for token timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Protector) { p.now = now }
}

// NewProtector creates a protector. A nil store falls back to an in-memory one.
func NewProtector(cfg *config.PrivacyConfig, store TokenStore, logger *zap.Logger, opts ...Option) (*Protector, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg == nil {
		cfg = config.DefaultPrivacyConfig()
	}
	cfg = cfg.Clone()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid privacy config: %w", err)
	}
	if store == nil {
		store = NewMemoryTokenStore()
	}

	p := &Protector{
		cfg:        cfg,
		classifier: security.NewClassifier(cfg, logger),
		tokens:     store,
		logger:     logger,
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Classifier exposes the underlying classifier
func (p *Protector) Classifier() *security.Classifier {
	return p.classifier
}

// Config returns a copy of the active configuration
func (p *Protector) Config() *config.PrivacyConfig {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Clone()
}

// UpdateConfig validates and activates cfg without restarting
func (p *Protector) UpdateConfig(cfg *config.PrivacyConfig) error {
	if cfg == nil {
		return errors.New("privacy config is nil")
	}
	next := cfg.Clone()
	if err := next.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = next
	p.classifier.Reload(next)
	p.logger.Info("Privacy configuration updated",
		zap.String("masking_level", next.MaskingLevel),
		zap.Bool("tokenization", next.EnableTokenization),
		zap.Int("custom_fields", len(next.CustomSensitiveFields)),
		zap.Int("whitelist", len(next.WhitelistFields)))
	return nil
}

type settings struct {
	level    string
	tokenize bool
	scan     bool
}

func (p *Protector) settings() settings {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return settings{
		level:    p.cfg.MaskingLevel,
		tokenize: p.cfg.EnableTokenization,
		scan:     !p.cfg.DisableContentScan,
	}
}

// Protect returns a copy of v with sensitive values masked or tokenized.
// Object and array shapes are preserved; fieldName names a top-level scalar.
func (p *Protector) Protect(ctx context.Context, v record.Value, fieldName string) record.Value {
	s := p.settings()
	return record.Walk(v, fieldName, func(field string, scalar record.Value) record.Value {
		return p.protectScalar(ctx, s, field, scalar)
	})
}

// ProtectString scans free text and protects every sensitive span in place
func (p *Protector) ProtectString(ctx context.Context, text string) string {
	return p.protectContent(ctx, p.settings(), "", text)
}

// ProtectMap protects decoded JSON
func (p *Protector) ProtectMap(ctx context.Context, m map[string]any) map[string]any {
	out, _ := p.Protect(ctx, record.FromAny(m), "").Any().(map[string]any)
	return out
}

func (p *Protector) protectScalar(ctx context.Context, s settings, field string, v record.Value) record.Value {
	switch v.Kind() {
	case record.KindNull, record.KindBool:
		return v
	}

	if p.classifier.IsSensitiveField(field) {
		text := v.Text()
		if text == "" || isProtected(text) {
			return v
		}
		return record.String(p.protectValue(ctx, s, field, text, ""))
	}

	if !s.scan {
		return v
	}
	switch v.Kind() {
	case record.KindString:
		if out := p.protectContent(ctx, s, field, v.Str()); out != v.Str() {
			return record.String(out)
		}
	case record.KindNumber:
		// Archer stores card and account numbers as JSON numbers; a number
		// keeps its type unless its rendering carries a detection
		text := v.Text()
		if out := p.protectContent(ctx, s, field, text); out != text {
			return record.String(out)
		}
	}
	return v
}

// protectContent replaces each detected span, right to left so earlier
// offsets stay valid
func (p *Protector) protectContent(ctx context.Context, s settings, field, text string) string {
	if text == "" || isProtected(text) {
		return text
	}
	result := p.classifier.Scan(text)
	if !result.Detected {
		return text
	}
	out := text
	for i := len(result.Detections) - 1; i >= 0; i-- {
		d := result.Detections[i]
		replacement := p.protectValue(ctx, s, field, out[d.Start:d.End], d.TypeHint())
		out = out[:d.Start] + replacement + out[d.End:]
	}
	return out
}

// protectValue protects one whole value. typeHint is set for content
// matches; for field values it is derived from field name, pattern and
// content in that order.
func (p *Protector) protectValue(ctx context.Context, s settings, field, value, typeHint string) string {
	if s.tokenize {
		token, err := p.Tokenize(ctx, value, field)
		if err == nil {
			return token
		}
		p.logger.Error("Tokenization failed, falling back to placeholder",
			zap.String("field", field), zap.Error(err))
		s.level = config.MaskingStrict
	}

	switch s.level {
	case config.MaskingStrict:
		if typeHint == "" {
			typeHint = p.classifier.TypeHint(field, value)
		}
		return Placeholder(typeHint)
	default:
		return maskPartial(s.level, value)
	}
}

// Tokenize stores value and returns its deterministic token
func (p *Protector) Tokenize(ctx context.Context, value, fieldName string) (string, error) {
	token := TokenFor(value)
	err := p.tokens.Put(ctx, TokenEntry{
		Token:         token,
		OriginalValue: value,
		FieldName:     fieldName,
		Timestamp:     p.now().UTC(),
	})
	if err != nil {
		return "", fmt.Errorf("store token: %w", err)
	}
	return token, nil
}

// Detokenize returns the original value for token. Tokens older than the
// configured max age are evicted and reported as ErrTokenNotFound.
func (p *Protector) Detokenize(ctx context.Context, token string) (string, error) {
	if !IsToken(token) {
		return "", ErrTokenNotFound
	}
	entry, err := p.tokens.Get(ctx, token)
	if err != nil {
		return "", err
	}
	if p.now().Sub(entry.Timestamp) > p.maxAge() {
		if err := p.tokens.Delete(ctx, token); err != nil {
			p.logger.Warn("Failed to delete expired token", zap.Error(err))
		}
		return "", ErrTokenNotFound
	}
	return entry.OriginalValue, nil
}

// DetokenizeString replaces every known token in text with its original value
func (p *Protector) DetokenizeString(ctx context.Context, text string) string {
	idx := strings.Index(text, tokenPrefix)
	if idx < 0 {
		return text
	}
	var b strings.Builder
	for idx >= 0 {
		b.WriteString(text[:idx])
		end := idx + len(tokenPrefix) + 16
		if end <= len(text) {
			if original, err := p.Detokenize(ctx, text[idx:end]); err == nil {
				b.WriteString(original)
				text = text[end:]
				idx = strings.Index(text, tokenPrefix)
				continue
			}
		}
		b.WriteString(tokenPrefix)
		text = text[idx+len(tokenPrefix):]
		idx = strings.Index(text, tokenPrefix)
	}
	b.WriteString(text)
	return b.String()
}

func (p *Protector) maxAge() time.Duration {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.TokenMaxAge.Duration()
}

// PurgeExpiredTokens evicts tokens older than the configured max age
func (p *Protector) PurgeExpiredTokens(ctx context.Context) (int, error) {
	return p.tokens.PurgeBefore(ctx, p.now().Add(-p.maxAge()))
}

// StartCleanup purges expired tokens every interval until Close
func (p *Protector) StartCleanup(interval time.Duration) {
	if interval <= 0 {
		interval = CleanupInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				n, err := p.PurgeExpiredTokens(context.Background())
				if err != nil {
					p.logger.Warn("Token cleanup failed", zap.Error(err))
					continue
				}
				if n > 0 {
					p.logger.Debug("Evicted expired tokens", zap.Int("count", n))
				}
			case <-p.stopCh:
				return
			}
		}
	}()
}

// Close stops the cleanup goroutine
func (p *Protector) Close() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}
