package archer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

func cacheKey(app Application) string {
	return strings.ToLower(app.Name)
}

// GetFieldMapping returns the alias to display-name map of app, built from
// the field metadata of every level. The map is built once per application
// until InvalidateFieldMapping.
func (c *Client) GetFieldMapping(ctx context.Context, app Application) (FieldMapping, error) {
	key := cacheKey(app)
	c.cacheMu.RLock()
	mapping, ok := c.mappings[key]
	c.cacheMu.RUnlock()
	if ok {
		return mapping, nil
	}

	v, err := c.shared(ctx, "fields:"+key, func(ctx context.Context) (any, error) {
		fields, err := c.fetchFields(ctx, app)
		if err != nil {
			return nil, err
		}
		mapping := make(FieldMapping, len(fields))
		for _, f := range fields {
			if f.Alias != "" {
				mapping[f.Alias] = f.Name
			}
		}
		c.cacheMu.Lock()
		c.mappings[key] = mapping
		c.fields[key] = fields
		c.cacheMu.Unlock()
		c.logger.Debug("Cached Archer field mapping",
			zap.String("application", app.Name), zap.Int("fields", len(mapping)))
		return mapping, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(FieldMapping), nil
}

// Fields returns the cached field metadata of app, fetching it if needed
func (c *Client) Fields(ctx context.Context, app Application) ([]Field, error) {
	if _, err := c.GetFieldMapping(ctx, app); err != nil {
		return nil, err
	}
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	return c.fields[cacheKey(app)], nil
}

// InvalidateFieldMapping forgets the cached mapping for an application name
func (c *Client) InvalidateFieldMapping(appName string) {
	c.cacheMu.Lock()
	defer c.cacheMu.Unlock()
	key := strings.ToLower(appName)
	delete(c.mappings, key)
	delete(c.fields, key)
}

func (c *Client) fetchFields(ctx context.Context, app Application) ([]Field, error) {
	var levels []envelope[Level]
	if err := c.get(ctx, fmt.Sprintf(levelsPath, app.ID), nil, &levels); err != nil {
		if IsNotFound(err) {
			c.logger.Warn("Archer application has no levels, records keep their aliases",
				zap.String("application", app.Name))
			return nil, nil
		}
		return nil, fmt.Errorf("fetch levels for %s: %w", app.Name, err)
	}

	var fields []Field
	for _, level := range levels {
		var resp []envelope[Field]
		if err := c.get(ctx, fmt.Sprintf(fieldsPath, level.RequestedObject.ID), nil, &resp); err != nil {
			if IsNotFound(err) {
				continue
			}
			return nil, fmt.Errorf("fetch fields for %s: %w", app.Name, err)
		}
		for _, item := range resp {
			fields = append(fields, item.RequestedObject)
		}
	}
	return fields, nil
}
