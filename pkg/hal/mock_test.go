package hal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockInput_WatchDeliversChangesOnly(t *testing.T) {
	in := NewMockInput(false)

	var levels []bool
	err := in.Watch(context.Background(), func(level bool) {
		levels = append(levels, level)
	})
	require.NoError(t, err)

	in.SetLevel(true)
	in.SetLevel(true) // no change, no notification
	in.SetLevel(false)

	assert.Equal(t, []bool{true, false}, levels)
	assert.False(t, in.Read())
}

func TestMockInput_BounceEndsAtFinal(t *testing.T) {
	in := NewMockInput(true)

	edges := 0
	require.NoError(t, in.Watch(context.Background(), func(bool) { edges++ }))

	in.Bounce(5, false)

	assert.False(t, in.Read())
	assert.GreaterOrEqual(t, edges, 2, "a bounce burst raises multiple raw edges")
}

func TestMockOutput_History(t *testing.T) {
	out := NewMockOutput()
	assert.Equal(t, uint8(0), out.Level())

	require.NoError(t, out.SetLevel(255))
	require.NoError(t, out.SetLevel(90))
	require.NoError(t, out.SetLevel(0))

	assert.Equal(t, []uint8{255, 90, 0}, out.History())
	assert.Equal(t, uint8(0), out.Level())

	out.Reset()
	assert.Empty(t, out.History())
}

func TestMockLED(t *testing.T) {
	led := NewMockLED()
	assert.False(t, led.On())

	require.NoError(t, led.Set(true))
	assert.True(t, led.On())

	require.NoError(t, led.Set(false))
	assert.False(t, led.On())
}
