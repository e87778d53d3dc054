// Package usage accounts for the LLM tokens a tool call consumes
package usage

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	tiktoken "github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// DefaultEncoding is used when none is configured
const DefaultEncoding = "cl100k_base"

// Usage is the per-call accounting returned with every tool response
type Usage struct {
	InputTokens     int   `json:"input_tokens"`
	OutputTokens    int   `json:"output_tokens"`
	ExecutionTimeMs int64 `json:"execution_time_ms"`
}

// Counter counts tokens with a tiktoken encoding. A disabled counter reports
// zero tokens and never loads an encoding.
type Counter struct {
	encodingName string
	logger       *zap.Logger

	mu      sync.Mutex
	enabled bool
	enc     *tiktoken.Tiktoken
}

// NewCounter creates a counter. The encoding is loaded on first use.
func NewCounter(encoding string, enabled bool, logger *zap.Logger) *Counter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Counter{encodingName: encoding, enabled: enabled, logger: logger}
}

// Enabled reports whether tokens are counted
func (c *Counter) Enabled() bool {
	if c == nil {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enabled
}

func (c *Counter) encoding() (*tiktoken.Tiktoken, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return nil, nil
	}
	if c.enc != nil {
		return c.enc, nil
	}
	enc, err := tiktoken.GetEncoding(c.encodingName)
	if err != nil {
		// keep serving requests; usage is informational
		c.enabled = false
		c.logger.Warn("Token counting disabled, encoding unavailable",
			zap.String("encoding", c.encodingName), zap.Error(err))
		return nil, fmt.Errorf("load encoding %q: %w", c.encodingName, err)
	}
	c.enc = enc
	return enc, nil
}

// Count returns the number of tokens in text
func (c *Counter) Count(text string) (int, error) {
	if c == nil || text == "" {
		return 0, nil
	}
	enc, err := c.encoding()
	if err != nil || enc == nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountJSON counts the tokens of v's JSON encoding
func (c *Counter) CountJSON(v any) (int, error) {
	if !c.Enabled() || v == nil {
		return 0, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal data to JSON: %w", err)
	}
	return c.Count(string(data))
}

// Measure builds the usage record for one call. Counting errors are logged
// and reported as zero.
func (c *Counter) Measure(input, output any, elapsed time.Duration) Usage {
	u := Usage{ExecutionTimeMs: elapsed.Milliseconds()}
	var err error
	if u.InputTokens, err = c.CountJSON(input); err != nil {
		c.logger.Debug("Failed to count input tokens", zap.Error(err))
	}
	if u.OutputTokens, err = c.CountJSON(output); err != nil {
		c.logger.Debug("Failed to count output tokens", zap.Error(err))
	}
	return u
}
