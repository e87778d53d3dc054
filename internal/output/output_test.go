package output

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestNewFormatter(t *testing.T) {
	for _, format := range []string{"table", "", "JSON", "yaml"} {
		f, err := NewFormatter(format)
		require.NoError(t, err, format)
		assert.NotNil(t, f)
	}
	_, err := NewFormatter("xml")
	assert.Error(t, err)
}

func TestResolveFormat(t *testing.T) {
	t.Setenv(EnvFormat, "")
	assert.Equal(t, "table", ResolveFormat(""))
	t.Setenv(EnvFormat, "yaml")
	assert.Equal(t, "yaml", ResolveFormat(""))
	assert.Equal(t, "json", ResolveFormat("json"))
}

func TestTable(t *testing.T) {
	f := tableFormatter{}
	out, err := f.FormatTable([]string{"TENANT", "USERS"}, [][]string{
		{"tenant-acme", "2"},
		{"tenant-globex-long", "10"},
	})
	require.NoError(t, err)
	assert.Equal(t, "TENANT              USERS\ntenant-acme         2\ntenant-globex-long  10\n", out)

	empty, err := f.FormatTable([]string{"TENANT"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "No results found\n", empty)

	ruled, err := tableFormatter{rule: true}.FormatTable([]string{"ID"}, [][]string{{"7"}})
	require.NoError(t, err)
	assert.Equal(t, "ID\n--\n7\n", ruled)
}

func TestStructuredTables(t *testing.T) {
	headers := []string{"name", "count"}
	rows := [][]string{{"Risk Register", "3"}, {"Incidents"}}

	out, err := jsonFormatter{}.FormatTable(headers, rows)
	require.NoError(t, err)
	var decoded []map[string]string
	require.NoError(t, json.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, []map[string]string{
		{"name": "Risk Register", "count": "3"},
		{"name": "Incidents", "count": ""},
	}, decoded)

	out, err = yamlFormatter{}.FormatTable(headers, rows)
	require.NoError(t, err)
	decoded = nil
	require.NoError(t, yaml.Unmarshal([]byte(out), &decoded))
	assert.Equal(t, "Risk Register", decoded[0]["name"])
}

func TestYAMLUsesJSONTags(t *testing.T) {
	type summary struct {
		TenantID string `json:"tenant_id"`
		Total    int    `json:"total_events"`
	}
	out, err := yamlFormatter{}.Format(summary{TenantID: "tenant-acme", Total: 4})
	require.NoError(t, err)
	assert.Contains(t, out, "tenant_id: tenant-acme")
	assert.Contains(t, out, "total_events: 4")
}

func TestPrint(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Print(&buf, jsonFormatter{}, map[string]int{"n": 1}))
	assert.Equal(t, "{\n  \"n\": 1\n}\n", buf.String())
}
