package archer

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/grcgate/grcgate/internal/record"
)

// SearchRecords returns one page of records of the named application, newest
// first, with keys rewritten to display names and values formatted. A 404
// from the content endpoint yields an empty, Unsupported page.
func (c *Client) SearchRecords(ctx context.Context, appName string, pageSize, pageNumber int) (*SearchResult, error) {
	switch {
	case pageSize <= 0:
		pageSize = DefaultPageSize
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	}
	if pageNumber < 1 {
		pageNumber = 1
	}

	app, err := c.ResolveApplication(ctx, appName)
	if err != nil {
		return nil, err
	}
	result := &SearchResult{
		ApplicationName: app.Name,
		PageSize:        pageSize,
		PageNumber:      pageNumber,
		Records:         []record.Value{},
	}

	mapping, err := c.GetFieldMapping(ctx, app)
	if err != nil {
		return nil, err
	}

	query := contentQuery(app, pageSize, (pageNumber-1)*pageSize)
	var page contentPage
	if err := c.get(ctx, contentPath, query, &page); err != nil {
		if IsNotFound(err) {
			c.logger.Warn("Archer content search unsupported for application, returning empty result",
				zap.String("application", app.Name))
			result.Unsupported = true
			return result, nil
		}
		return nil, fmt.Errorf("search %s: %w", app.Name, err)
	}

	for _, raw := range page.Value {
		result.Records = append(result.Records, c.transformer.Transform(raw, mapping))
	}
	result.TotalCount = len(result.Records)
	if page.Count != nil {
		result.TotalCount = *page.Count
	}
	return result, nil
}

// GetApplicationStats counts records and fields of the named application
func (c *Client) GetApplicationStats(ctx context.Context, appName string) (*ApplicationStats, error) {
	app, err := c.ResolveApplication(ctx, appName)
	if err != nil {
		return nil, err
	}
	fields, err := c.Fields(ctx, app)
	if err != nil {
		return nil, err
	}
	stats := &ApplicationStats{
		ApplicationID:   app.ID,
		ApplicationName: app.Name,
		FieldCount:      len(fields),
	}

	var page contentPage
	if err := c.get(ctx, contentPath, contentQuery(app, 1, 0), &page); err != nil {
		if IsNotFound(err) {
			stats.Unsupported = true
			return stats, nil
		}
		return nil, fmt.Errorf("stats for %s: %w", app.Name, err)
	}
	stats.TotalRecords = len(page.Value)
	if page.Count != nil {
		stats.TotalRecords = *page.Count
	}
	return stats, nil
}

// TestConnection forces a fresh login and lists applications
func (c *Client) TestConnection(ctx context.Context) (int, error) {
	if s := c.currentSession(); s != nil {
		c.invalidateSession(s.Token)
	}
	c.InvalidateApplications()
	if err := c.EnsureValidSession(ctx); err != nil {
		return 0, err
	}
	apps, err := c.GetApplications(ctx)
	if err != nil {
		return 0, err
	}
	return len(apps), nil
}

func contentQuery(app Application, top, skip int) url.Values {
	q := url.Values{}
	q.Set("ApplicationId", strconv.Itoa(app.ID))
	q.Set("$top", strconv.Itoa(top))
	q.Set("$skip", strconv.Itoa(skip))
	q.Set("$orderby", "Id desc")
	q.Set("$count", "true")
	return q
}
