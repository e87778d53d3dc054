package archer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// GetApplications returns the applications visible to the connection. The
// list is fetched once and cached for the life of the client.
func (c *Client) GetApplications(ctx context.Context) ([]Application, error) {
	c.cacheMu.RLock()
	apps := c.apps
	c.cacheMu.RUnlock()
	if apps != nil {
		return apps, nil
	}

	v, err := c.shared(ctx, "applications", func(ctx context.Context) (any, error) {
		var resp []envelope[Application]
		if err := c.get(ctx, applicationPath, nil, &resp); err != nil {
			return nil, fmt.Errorf("fetch applications: %w", err)
		}
		apps := make([]Application, 0, len(resp))
		for _, item := range resp {
			if item.IsSuccessful || item.RequestedObject.ID != 0 {
				apps = append(apps, item.RequestedObject)
			}
		}
		c.cacheMu.Lock()
		c.apps = apps
		c.cacheMu.Unlock()
		c.logger.Debug("Cached Archer applications", zap.Int("count", len(apps)))
		return apps, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]Application), nil
}

// ResolveApplication finds an application by name. A case-insensitive exact
// match on name or alias wins; otherwise the name must be a substring of
// exactly one application name.
func (c *Client) ResolveApplication(ctx context.Context, name string) (Application, error) {
	apps, err := c.GetApplications(ctx)
	if err != nil {
		return Application{}, err
	}
	return resolveApplication(apps, name)
}

func resolveApplication(apps []Application, name string) (Application, error) {
	want := strings.ToLower(strings.TrimSpace(name))
	available := make([]string, 0, len(apps))
	for _, app := range apps {
		available = append(available, app.Name)
	}
	if want == "" {
		return Application{}, &ApplicationNotFoundError{Name: name, Available: available}
	}

	for _, app := range apps {
		if strings.ToLower(app.Name) == want || strings.ToLower(app.Alias) == want {
			return app, nil
		}
	}

	var matches []Application
	for _, app := range apps {
		if strings.Contains(strings.ToLower(app.Name), want) {
			matches = append(matches, app)
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return Application{}, &ApplicationNotFoundError{Name: name, Available: available}
	default:
		names := make([]string, len(matches))
		for i, m := range matches {
			names[i] = m.Name
		}
		return Application{}, &ApplicationNotFoundError{Name: name, Available: names, Ambiguous: true}
	}
}

// InvalidateApplications drops the cached application list
func (c *Client) InvalidateApplications() {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	c.apps = nil
}
