package control_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/libreblog/noisicaa"
	"github.com/libreblog/noisicaa/control"
)

func TestFloatValue(t *testing.T) {
	v := control.NewFloat("gain", 1.0)
	value, generation, err := v.Float()
	require.NoError(t, err)
	assert.Equal(t, float32(1.0), value)
	assert.Equal(t, uint64(0), generation)

	require.NoError(t, v.SetFloat(0.5))
	value, generation, err = v.Float()
	require.NoError(t, err)
	assert.Equal(t, float32(0.5), value)
	assert.Equal(t, uint64(1), generation)
}

func TestIntValue(t *testing.T) {
	v := control.NewInt("steps", 16)
	value, generation, err := v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(16), value)
	assert.Equal(t, uint64(0), generation)

	require.NoError(t, v.SetInt(32))
	value, _, err = v.Int()
	require.NoError(t, err)
	assert.Equal(t, int64(32), value)
}

func TestTypeMismatch(t *testing.T) {
	v := control.NewFloat("gain", 1.0)
	_, _, err := v.Int()
	assert.ErrorIs(t, err, noisicaa.ErrInvalidArgument)
	assert.ErrorIs(t, v.SetInt(1), noisicaa.ErrInvalidArgument)

	// failed updates must not advance the generation
	assert.Equal(t, uint64(0), v.Generation())
}

func TestGenerationCountsUpdates(t *testing.T) {
	v := control.NewFloat("freq", 440)
	last := v.Generation()
	for i := 0; i < 100; i++ {
		require.NoError(t, v.SetFloat(float32(i)))
		generation := v.Generation()
		assert.Greater(t, generation, last)
		last = generation
	}
	assert.Equal(t, uint64(100), v.Generation())
}
