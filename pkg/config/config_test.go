package config

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, 5.0, c.TimeoutSeconds)
	assert.EqualValues(t, 1, c.MagicStart)
	assert.EqualValues(t, 2, c.MagicStop)
	assert.EqualValues(t, 3, c.MagicAssert)
	assert.True(t, c.Cmplog)
	assert.Equal(t, 8, c.InitialRandomCorpusSize)
}

func TestSetTimeoutValidation(t *testing.T) {
	c := New()
	assert.Error(t, c.SetTimeoutSeconds(0))
	assert.Error(t, c.SetTimeoutSeconds(-1))
	assert.NoError(t, c.SetTimeoutSeconds(1.5))
	assert.Equal(t, 1.5, c.TimeoutSeconds)
}

func TestSetIterationLimitValidation(t *testing.T) {
	c := New()
	assert.Error(t, c.SetIterationLimit(-2))
	assert.NoError(t, c.SetIterationLimit(0))
	assert.NoError(t, c.SetIterationLimit(1000))
}

func TestExceptionsDeduplicated(t *testing.T) {
	c := New()
	require.NoError(t, c.SetExceptions([]int64{14, 14, 6}))
	assert.Len(t, c.Exceptions, 2)
}

func TestFreezeRejectsMutation(t *testing.T) {
	c := New()
	c.Freeze()
	assert.Error(t, c.SetTimeoutSeconds(2))
	assert.Error(t, c.SetExceptions([]int64{1}))
	assert.Error(t, c.SetCorpusDirectory("/tmp/x"))
}

func TestRoundTripSetFreezeRead(t *testing.T) {
	c := New()
	require.NoError(t, c.SetTimeoutSeconds(2.5))
	require.NoError(t, c.SetExceptions([]int64{14}))
	require.NoError(t, c.SetCorpusDirectory("/tmp/corpus"))
	before := c.Clone()
	before.Freeze()

	c.Freeze()
	diff := cmp.Diff(before, c,
		cmpopts.IgnoreUnexported(Config{}),
	)
	assert.Empty(t, diff)
	assert.True(t, c.Frozen())
}

func TestAddArchitectureHintValidation(t *testing.T) {
	c := New()
	require.NoError(t, c.AddArchitectureHint(0, "x86"))
	assert.Error(t, c.AddArchitectureHint(1, "not-an-isa"))
}
