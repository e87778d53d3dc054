package secret

import (
	"context"
	"fmt"
	"strings"

	"github.com/grcgate/grcgate/internal/config"
)

// Resolver maps reference schemes to sources
type Resolver struct {
	sources map[string]Source
}

// NewResolver returns a resolver for the env and keyring schemes
func NewResolver() *Resolver {
	return &Resolver{sources: map[string]Source{
		SchemeEnv:     EnvSource{},
		SchemeKeyring: NewKeyringSource(),
	}}
}

// Register binds scheme to src, replacing any existing binding
func (r *Resolver) Register(scheme string, src Source) {
	r.sources[scheme] = src
}

func (r *Resolver) source(scheme string) (Source, error) {
	src, ok := r.sources[scheme]
	if !ok {
		return nil, fmt.Errorf("no source for secret scheme %q", scheme)
	}
	return src, nil
}

// Resolve returns the value behind ref
func (r *Resolver) Resolve(ctx context.Context, ref Ref) (string, error) {
	src, err := r.source(ref.Scheme)
	if err != nil {
		return "", err
	}
	return src.Lookup(ctx, ref.Name)
}

// Writable returns the scheme's source if it accepts writes
func (r *Resolver) Writable(scheme string) (WritableSource, error) {
	src, err := r.source(scheme)
	if err != nil {
		return nil, err
	}
	w, ok := src.(WritableSource)
	if !ok {
		return nil, fmt.Errorf("secret scheme %q is read-only", scheme)
	}
	return w, nil
}

// Expand substitutes every reference in s. Values without references are
// returned unchanged.
func (r *Resolver) Expand(ctx context.Context, s string) (string, error) {
	refs := findRefs(s)
	if len(refs) == 0 {
		return s, nil
	}
	pairs := make([]string, 0, 2*len(refs))
	for _, ref := range refs {
		v, err := r.Resolve(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("resolve %s: %w", ref, err)
		}
		pairs = append(pairs, ref.Raw, v)
	}
	return strings.NewReplacer(pairs...).Replace(s), nil
}

type credentialField struct {
	path  string
	value *string
}

func credentialFields(cfg *config.Config) []credentialField {
	fields := []credentialField{{"api_key", &cfg.APIKey}}
	if cfg.Tenant != nil {
		fields = append(fields, credentialField{"tenant.session_secret", &cfg.Tenant.SessionSecret})
	}
	if cfg.Signing != nil {
		fields = append(fields, credentialField{"signing.key", &cfg.Signing.Key})
	}
	if cfg.Audit != nil && cfg.Audit.Redis != nil {
		fields = append(fields, credentialField{"audit.redis.password", &cfg.Audit.Redis.Password})
	}
	for i, conn := range cfg.Connections {
		fields = append(fields,
			credentialField{fmt.Sprintf("connections[%d].username", i), &conn.Username},
			credentialField{fmt.Sprintf("connections[%d].password", i), &conn.Password},
		)
	}
	return fields
}

// ResolveConfig expands references in every credential-bearing field of cfg
// in place. The first failure names the offending field.
func (r *Resolver) ResolveConfig(ctx context.Context, cfg *config.Config) error {
	for _, f := range credentialFields(cfg) {
		expanded, err := r.Expand(ctx, *f.value)
		if err != nil {
			return fmt.Errorf("%s: %w", f.path, err)
		}
		*f.value = expanded
	}
	return nil
}
