package usage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestCounter_Disabled(t *testing.T) {
	c := NewCounter("", false, zaptest.NewLogger(t))
	assert.False(t, c.Enabled())

	n, err := c.Count("Hello, world!")
	require.NoError(t, err)
	assert.Zero(t, n)

	u := c.Measure(map[string]any{"application": "Risk Register"}, []string{"a", "b"}, 1500*time.Millisecond)
	assert.Equal(t, Usage{ExecutionTimeMs: 1500}, u)
}

func TestCounter_NilSafe(t *testing.T) {
	var c *Counter
	assert.False(t, c.Enabled())
	n, err := c.Count("text")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCounter_InvalidEncodingDisables(t *testing.T) {
	c := NewCounter("invalid_encoding", true, zaptest.NewLogger(t))
	_, err := c.Count("text")
	assert.Error(t, err)
	assert.False(t, c.Enabled())

	u := c.Measure("in", "out", time.Second)
	assert.Zero(t, u.InputTokens)
	assert.Equal(t, int64(1000), u.ExecutionTimeMs)
}

func TestCounter_CountsTokens(t *testing.T) {
	c := NewCounter(DefaultEncoding, true, zaptest.NewLogger(t))

	n, err := c.Count("Hello, world!")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
	assert.Less(t, n, 10)

	short, err := c.CountJSON(map[string]any{"a": 1})
	require.NoError(t, err)
	long, err := c.CountJSON(map[string]any{"records": []string{"Risk Register", "Vendor Risk Assessments", "Policies"}})
	require.NoError(t, err)
	assert.Greater(t, long, short)

	_, err = c.CountJSON(make(chan int))
	assert.Error(t, err)
}
