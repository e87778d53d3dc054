package privacy

import (
	"context"
	"strings"

	"github.com/grcgate/grcgate/internal/record"
	"github.com/grcgate/grcgate/internal/security"
)

// authSecretFields are blanked by ProtectAuthData
var authSecretFields = map[string]struct{}{
	"password":      {},
	"passwd":        {},
	"token":         {},
	"secret":        {},
	"api_key":       {},
	"apikey":        {},
	"authorization": {},
	"session_token": {},
	"sessiontoken":  {},
	"session_id":    {},
	"refresh_token": {},
	"access_token":  {},
	"client_secret": {},
	"private_key":   {},
}

// sensitiveHeaders are dropped from any headers object in error payloads
var sensitiveHeaders = map[string]struct{}{
	"authorization":       {},
	"proxy-authorization": {},
	"cookie":              {},
	"set-cookie":          {},
	"x-api-key":           {},
}

func isAuthSecret(field string) bool {
	n := security.NormalizeFieldName(field)
	if _, ok := authSecretFields[n]; ok {
		return true
	}
	return strings.HasSuffix(n, "_password") || strings.HasSuffix(n, "_secret") || strings.HasSuffix(n, "_token")
}

// ProtectAuthData blanks authentication secrets to "" and protects the rest
func (p *Protector) ProtectAuthData(ctx context.Context, v record.Value) record.Value {
	s := p.settings()
	return record.Walk(v, "", func(field string, scalar record.Value) record.Value {
		if isAuthSecret(field) && !scalar.IsNull() {
			return record.String("")
		}
		return p.protectScalar(ctx, s, field, scalar)
	})
}

// ProtectErrorData scrubs an error payload before it is logged or returned:
// response bodies and credential headers are removed and the remaining
// strings are protected.
func (p *Protector) ProtectErrorData(ctx context.Context, v record.Value) record.Value {
	s := p.settings()
	return p.scrubError(ctx, s, v, "")
}

func (p *Protector) scrubError(ctx context.Context, s settings, v record.Value, field string) record.Value {
	switch v.Kind() {
	case record.KindObject:
		parent := strings.ToLower(field)
		out := make(record.Fields, len(v.Fields()))
		for k, child := range v.Fields() {
			key := strings.ToLower(k)
			if parent == "response" && (key == "data" || key == "body") {
				continue
			}
			if parent == "headers" {
				if _, drop := sensitiveHeaders[key]; drop {
					continue
				}
			}
			if isAuthSecret(k) {
				out[k] = record.String("")
				continue
			}
			out[k] = p.scrubError(ctx, s, child, k)
		}
		return record.Object(out)
	case record.KindArray:
		items := make([]record.Value, len(v.Items()))
		for i, item := range v.Items() {
			items[i] = p.scrubError(ctx, s, item, field)
		}
		return record.Array(items...)
	default:
		return p.protectScalar(ctx, s, field, v)
	}
}

// ProtectError renders err as a message safe to return to callers
func (p *Protector) ProtectError(ctx context.Context, err error) string {
	if err == nil {
		return ""
	}
	return p.ProtectString(ctx, err.Error())
}
