package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/grcgate/grcgate/internal/archer"
	"github.com/grcgate/grcgate/internal/record"
)

// Tool names
const (
	ToolListApplications = "archer_list_applications"
	ToolSearchRecords    = "archer_search_records"
	ToolApplicationStats = "archer_application_stats"
	ToolMaskText         = "mask_text"
)

// ParamSpec describes one tool parameter
type ParamSpec struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

// ToolSpec describes a tool to MCP and REST callers
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"params"`
	// NeedsGRC is false for tools that never call Archer
	NeedsGRC bool `json:"-"`
}

// invocation is what a handler needs for one call
type invocation struct {
	tenantID string
	params   map[string]any
	client   GRCClient
	stats    *callStats
}

// callStats collects audit details while a tool runs
type callStats struct {
	application string
	records     int
}

type handler func(ctx context.Context, p *Pipeline, inv *invocation) (any, error)

type tool struct {
	spec ToolSpec
	run  handler
}

var applicationParam = ParamSpec{
	Name:        "application",
	Type:        "string",
	Description: "Archer application name or alias, matched case-insensitively",
	Required:    true,
}

var builtinTools = []tool{
	{
		spec: ToolSpec{
			Name:        ToolListApplications,
			Description: "List the Archer applications available to the tenant",
			NeedsGRC:    true,
		},
		run: listApplications,
	},
	{
		spec: ToolSpec{
			Name:        ToolSearchRecords,
			Description: "Fetch one page of records from an Archer application with display-name fields and sensitive values protected",
			NeedsGRC:    true,
			Params: []ParamSpec{
				applicationParam,
				{Name: "page_size", Type: "number", Description: "Records per page, at most 500 (default 50)"},
				{Name: "page_number", Type: "number", Description: "1-based page number (default 1)"},
			},
		},
		run: searchRecords,
	},
	{
		spec: ToolSpec{
			Name:        ToolApplicationStats,
			Description: "Record and field counts for an Archer application",
			NeedsGRC:    true,
			Params:      []ParamSpec{applicationParam},
		},
		run: applicationStats,
	},
	{
		spec: ToolSpec{
			Name:        ToolMaskText,
			Description: "Mask personally identifying content in free text",
			Params: []ParamSpec{
				{Name: "text", Type: "string", Description: "Text to protect", Required: true},
			},
		},
		run: maskText,
	},
}

// paramError is an INVALID_PARAMETERS failure
type paramError struct{ msg string }

func (e *paramError) Error() string { return e.msg }

func invalidParam(format string, args ...any) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

func stringParam(params map[string]any, name string, required bool) (string, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		if required {
			return "", invalidParam("parameter %q is required", name)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", invalidParam("parameter %q must be a string", name)
	}
	if required && strings.TrimSpace(s) == "" {
		return "", invalidParam("parameter %q must not be empty", name)
	}
	return s, nil
}

func intParam(params map[string]any, name string, def, lo, hi int) (int, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return def, nil
	}
	var n float64
	switch v := raw.(type) {
	case float64:
		n = v
	case int:
		n = float64(v)
	case int64:
		n = float64(v)
	default:
		return 0, invalidParam("parameter %q must be a number", name)
	}
	if n != math.Trunc(n) || n < float64(lo) || n > float64(hi) {
		return 0, invalidParam("parameter %q must be an integer between %d and %d", name, lo, hi)
	}
	return int(n), nil
}

type applicationSummary struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Alias string `json:"alias"`
}

func listApplications(ctx context.Context, _ *Pipeline, inv *invocation) (any, error) {
	apps, err := inv.client.GetApplications(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]applicationSummary, 0, len(apps))
	for _, a := range apps {
		out = append(out, applicationSummary{ID: a.ID, Name: a.Name, Alias: a.Alias})
	}
	return map[string]any{"applications": out, "count": len(out)}, nil
}

func searchRecords(ctx context.Context, p *Pipeline, inv *invocation) (any, error) {
	app, err := stringParam(inv.params, "application", true)
	if err != nil {
		return nil, err
	}
	app = strings.TrimSpace(app)
	pageSize, err := intParam(inv.params, "page_size", archer.DefaultPageSize, 1, archer.MaxPageSize)
	if err != nil {
		return nil, err
	}
	pageNumber, err := intParam(inv.params, "page_number", 1, 1, math.MaxInt32)
	if err != nil {
		return nil, err
	}
	inv.stats.application = app

	result, err := inv.client.SearchRecords(ctx, app, pageSize, pageNumber)
	if err != nil {
		return nil, err
	}

	protected := p.protector.Protect(ctx, record.Array(result.Records...), "")
	inv.stats.records = len(result.Records)
	p.metrics.RecordProtectedRecords(p.protector.Config().MaskingLevel, len(result.Records))

	out := *result
	out.Records = protected.Items()
	if out.Records == nil {
		out.Records = []record.Value{}
	}
	return &out, nil
}

func applicationStats(ctx context.Context, _ *Pipeline, inv *invocation) (any, error) {
	app, err := stringParam(inv.params, "application", true)
	if err != nil {
		return nil, err
	}
	app = strings.TrimSpace(app)
	inv.stats.application = app
	return inv.client.GetApplicationStats(ctx, app)
}

func maskText(ctx context.Context, p *Pipeline, inv *invocation) (any, error) {
	text, err := stringParam(inv.params, "text", true)
	if err != nil {
		return nil, err
	}
	return map[string]any{"text": p.protector.ProtectString(ctx, text)}, nil
}
