package learning

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRunningAverage(t *testing.T) {
	ra := NewRunningAverage[int](3)
	assert.Equal(t, 0, ra.Load())
	ra.SaveInt(1)
	ra.SaveInt(2)
	ra.SaveInt(3)
	assert.Equal(t, 6, ra.Load())
	// Window is full; the oldest sample (1) is evicted.
	ra.SaveInt(4)
	assert.Equal(t, 9, ra.Load())
}

func TestRunningRatioAverage(t *testing.T) {
	rra := NewRunningRatioAverage[int](4)
	assert.Equal(t, 0.0, rra.Load())
	rra.Save(1, 2)
	rra.Save(3, 2)
	assert.InDelta(t, 4.0/4.0, rra.Load(), 0.001)
}
