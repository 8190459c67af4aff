package steps

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	called := false
	require.NoError(t, r.Register("click", func(ctx context.Context, args map[string]interface{}) error {
		called = true
		return nil
	}))

	assert.Error(t, r.Register("click", func(context.Context, map[string]interface{}) error { return nil }))
	assert.Error(t, r.Register("", func(context.Context, map[string]interface{}) error { return nil }))
	assert.Error(t, r.Register("nil", nil))

	require.NoError(t, r.Execute(context.Background(), "click", nil))
	assert.True(t, called)
	assert.Error(t, r.Execute(context.Background(), "missing", nil))
	assert.Equal(t, []string{"click"}, r.Actions())
}

func TestBuiltins(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, []string{"fail", "log", "noop", "sleep"}, DefaultRegistry.Actions())

	assert.NoError(t, DefaultRegistry.Execute(ctx, "noop", nil))
	assert.NoError(t, DefaultRegistry.Execute(ctx, "log", map[string]interface{}{"message": "hi"}))
	assert.NoError(t, DefaultRegistry.Execute(ctx, "sleep", map[string]interface{}{"duration_ms": 1}))
	assert.Error(t, DefaultRegistry.Execute(ctx, "sleep", map[string]interface{}{"duration_ms": "soon"}))
	assert.EqualError(t, DefaultRegistry.Execute(ctx, "fail", map[string]interface{}{"message": "boom"}), "boom")
}

func TestSleepHonoursCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := DefaultRegistry.Execute(ctx, "sleep", map[string]interface{}{"duration_ms": 60000})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second)
}
