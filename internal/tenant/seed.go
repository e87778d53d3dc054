package tenant

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type rulesFile struct {
	Rules []AccessRule `json:"rules" yaml:"rules" toml:"rules"`
}

// LoadRulesFile reads access rules from a YAML, TOML or JSON seed file
// chosen by extension
func LoadRulesFile(path string) ([]AccessRule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data, filepath.Ext(path))
}

// ParseRules decodes a seed document. format is a file extension such as
// ".yaml", ".toml" or ".json".
func ParseRules(data []byte, format string) ([]AccessRule, error) {
	var doc rulesFile
	switch strings.ToLower(strings.TrimPrefix(format, ".")) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse yaml rules: %w", err)
		}
	case "toml":
		if _, err := toml.Decode(string(data), &doc); err != nil {
			return nil, fmt.Errorf("parse toml rules: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse json rules: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported rules format %q", format)
	}

	seen := make(map[string]struct{}, len(doc.Rules))
	for i := range doc.Rules {
		doc.Rules[i].normalize()
		id := doc.Rules[i].TenantID
		if id == "" {
			return nil, fmt.Errorf("rule %d: tenant_id is required", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("rule %d: duplicate tenant %s", i, id)
		}
		seen[id] = struct{}{}
	}
	return doc.Rules, nil
}
