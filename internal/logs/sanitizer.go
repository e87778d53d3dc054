package logs

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"

	"github.com/grcgate/grcgate/internal/security"
)

// SecretSanitizer wraps a zapcore.Core and masks credentials, registered
// secret values and, with a classifier, personal data in messages and fields
type SecretSanitizer struct {
	zapcore.Core
	patterns   []*secretPattern
	classifier *security.Classifier
	resolved   *sync.Map
}

type secretPattern struct {
	name     string
	regex    *regexp.Regexp
	maskFunc func(string) string
}

var credentialAssignment = regexp.MustCompile(`(?i)\b(password|passwd|secret|api[_-]?key|signing[_-]?key|session[_-]?secret)(["']?\s*[:=]\s*["']?)([^"'\s,}]+)`)

var defaultPatterns = []*secretPattern{
	{
		// Archer platform auth header: Archer session-id="..."
		name:  "archer_session",
		regex: regexp.MustCompile(`(?i)session-id\s*=\s*"?[^"\s,]+"?`),
		maskFunc: func(string) string {
			return `session-id="****"`
		},
	},
	{
		name:  "bearer_token",
		regex: regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-\._~\+\/]+=*`),
		maskFunc: func(token string) string {
			parts := strings.SplitN(token, " ", 2)
			if len(parts) != 2 || len(parts[1]) <= 8 {
				return "Bearer ****"
			}
			return "Bearer " + parts[1][:4] + "***" + parts[1][len(parts[1])-2:]
		},
	},
	{
		// session tokens and any other JWT
		name:  "jwt",
		regex: regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+`),
		maskFunc: func(jwt string) string {
			parts := strings.Split(jwt, ".")
			if len(parts) != 3 || len(parts[2]) < 4 {
				return "****"
			}
			return parts[0] + ".***." + parts[2][len(parts[2])-4:]
		},
	},
	{
		name:  "credential_assignment",
		regex: credentialAssignment,
		maskFunc: func(match string) string {
			parts := credentialAssignment.FindStringSubmatch(match)
			if len(parts) != 4 {
				return match
			}
			return parts[1] + parts[2] + maskValue(parts[3])
		},
	},
}

// NewSecretSanitizer creates a sanitizing core around core. classifier may be nil.
func NewSecretSanitizer(core zapcore.Core, classifier *security.Classifier) *SecretSanitizer {
	return &SecretSanitizer{
		Core:       core,
		patterns:   defaultPatterns,
		classifier: classifier,
		resolved:   &sync.Map{},
	}
}

// RegisterResolvedSecret masks value wherever it appears from now on. Used
// for Archer passwords and keys resolved from the keyring or environment.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) < 8 {
		return
	}
	s.resolved.Store(value, struct{}{})
}

// UnregisterResolvedSecret removes a secret from the mask set
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.resolved.Delete(value)
}

// Sanitize applies every mask to str
func (s *SecretSanitizer) Sanitize(str string) string {
	if str == "" {
		return str
	}
	result := str
	s.resolved.Range(func(key, _ any) bool {
		if secret, ok := key.(string); ok {
			result = strings.ReplaceAll(result, secret, maskValue(secret))
		}
		return true
	})
	for _, p := range s.patterns {
		result = p.regex.ReplaceAllStringFunc(result, p.maskFunc)
	}
	if s.classifier != nil {
		result = s.redactPersonalData(result)
	}
	return result
}

// redactPersonalData replaces classifier hits right to left so offsets stay valid
func (s *SecretSanitizer) redactPersonalData(str string) string {
	scan := s.classifier.Scan(str)
	if !scan.Detected {
		return str
	}
	for i := len(scan.Detections) - 1; i >= 0; i-- {
		d := scan.Detections[i]
		str = str[:d.Start] + "[REDACTED_" + d.TypeHint() + "]" + str[d.End:]
	}
	return str
}

// Write sanitizes the entry before writing
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.Sanitize(entry.Message)
	return s.Core.Write(entry, s.sanitizeFields(fields))
}

func (s *SecretSanitizer) sanitizeFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = s.sanitizeField(f)
	}
	return out
}

func (s *SecretSanitizer) sanitizeField(field zapcore.Field) zapcore.Field {
	switch field.Type {
	case zapcore.StringType:
		field.String = s.Sanitize(field.String)
	case zapcore.ByteStringType:
		if b, ok := field.Interface.([]byte); ok {
			field.Interface = []byte(s.Sanitize(string(b)))
		}
	case zapcore.ErrorType:
		if err, ok := field.Interface.(error); ok && err != nil {
			field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: s.Sanitize(err.Error())}
		}
	case zapcore.StringerType:
		if st, ok := field.Interface.(fmt.Stringer); ok {
			field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: s.Sanitize(st.String())}
		}
	case zapcore.ReflectType:
		// structured values are re-encoded so nested strings get masked too
		data, err := json.Marshal(field.Interface)
		if err != nil {
			return field
		}
		original := string(data)
		if sanitized := s.Sanitize(original); sanitized != original {
			var v any
			if json.Unmarshal([]byte(sanitized), &v) == nil {
				field.Interface = v
			} else {
				field = zapcore.Field{Key: field.Key, Type: zapcore.StringType, String: sanitized}
			}
		}
	}
	return field
}

// With creates a sanitizing child core
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	return &SecretSanitizer{
		Core:       s.Core.With(s.sanitizeFields(fields)),
		patterns:   s.patterns,
		classifier: s.classifier,
		resolved:   s.resolved,
	}
}

// Check delegates to the wrapped core
func (s *SecretSanitizer) Check(entry zapcore.Entry, checkedEntry *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checkedEntry.AddCore(entry, s)
	}
	return checkedEntry
}

// maskValue masks a secret value showing first 3 and last 2 characters
func maskValue(value string) string {
	if len(value) <= 5 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "***" + value[len(value)-2:]
}
