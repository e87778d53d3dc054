// Package output renders CLI results as a table, JSON or YAML.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// EnvFormat selects the default format when no flag is given
const EnvFormat = "GRCGATE_OUTPUT"

// Formatter renders command results
type Formatter interface {
	// Format renders an arbitrary value. Tables print it as indented JSON.
	Format(data any) (string, error)
	FormatTable(headers []string, rows [][]string) (string, error)
}

// NewFormatter returns the formatter for table, json or yaml
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "json":
		return jsonFormatter{}, nil
	case "yaml":
		return yamlFormatter{}, nil
	case "table", "":
		return tableFormatter{rule: isTerminal(os.Stdout)}, nil
	default:
		return nil, fmt.Errorf("unknown output format: %s (valid: table, json, yaml)", format)
	}
}

// ResolveFormat picks the flag value, then GRCGATE_OUTPUT, then table
func ResolveFormat(flag string) string {
	if flag != "" {
		return flag
	}
	if env := os.Getenv(EnvFormat); env != "" {
		return env
	}
	return "table"
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

func rowsToObjects(headers []string, rows [][]string) []map[string]string {
	out := make([]map[string]string, 0, len(rows))
	for _, row := range rows {
		obj := make(map[string]string, len(headers))
		for i, h := range headers {
			if i < len(row) {
				obj[h] = row[i]
			} else {
				obj[h] = ""
			}
		}
		out = append(out, obj)
	}
	return out
}

type jsonFormatter struct{}

func (jsonFormatter) Format(data any) (string, error) {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f jsonFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToObjects(headers, rows))
}

type yamlFormatter struct{}

// Format round-trips through JSON so json tags name the keys
func (yamlFormatter) Format(data any) (string, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return "", err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return "", err
	}
	b, err := yaml.Marshal(generic)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (f yamlFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	return f.Format(rowsToObjects(headers, rows))
}

type tableFormatter struct {
	rule bool // underline headers, only on a terminal
}

func (tableFormatter) Format(data any) (string, error) {
	return jsonFormatter{}.Format(data)
}

func (f tableFormatter) FormatTable(headers []string, rows [][]string) (string, error) {
	if len(rows) == 0 {
		return "No results found\n", nil
	}
	var buf bytes.Buffer
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, strings.Join(headers, "\t"))
	if f.rule {
		dashes := make([]string, len(headers))
		for i, h := range headers {
			dashes[i] = strings.Repeat("-", len(h))
		}
		fmt.Fprintln(w, strings.Join(dashes, "\t"))
	}
	for _, row := range rows {
		fmt.Fprintln(w, strings.Join(row, "\t"))
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// Print formats data and writes it with a trailing newline
func Print(w io.Writer, f Formatter, data any) error {
	s, err := f.Format(data)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, strings.TrimRight(s, "\n"))
	return err
}

// PrintTable formats a table and writes it
func PrintTable(w io.Writer, f Formatter, headers []string, rows [][]string) error {
	s, err := f.FormatTable(headers, rows)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, strings.TrimRight(s, "\n"))
	return err
}
