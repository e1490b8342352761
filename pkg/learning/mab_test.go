package learning

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPlainMAB(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	bandit := &PlainMAB[int]{
		LearningRate:    0.05,
		ExplorationRate: 0.05,
	}

	// Expected rewards. We don't emulate a normal distribution, but we do
	// want their averages to differ enough that the best arm is findable.
	arms := []float64{0.2, 0.7, 0.5, 0.1}
	for i := range arms {
		bandit.AddArm(i)
	}

	const steps = 15000
	counts := runMAB(r, bandit, arms, steps)
	t.Logf("counts: %v", counts)

	// Ensure the bandit converges on the best arm (index 1, reward 0.7).
	assert.Greater(t, counts[1], steps/2)
}

func TestPlainMABSmallDiff(t *testing.T) {
	r := rand.New(rand.NewSource(2))
	bandit := &PlainMAB[int]{
		LearningRate:    0.02,
		ExplorationRate: 0.02,
	}
	arms := []float64{0.6, 0.7}
	for i := range arms {
		bandit.AddArm(i)
	}
	const steps = 20000
	counts := runMAB(r, bandit, arms, steps)
	t.Logf("%+v", counts)
	assert.Len(t, counts, 2)
}

func runMAB(r *rand.Rand, bandit MAB[int], arms []float64, steps int) []int {
	counts := make([]int, len(arms))
	for i := 0; i < steps; i++ {
		action := bandit.Action(r)
		reward := r.Float64() * arms[action.Arm]
		counts[action.Arm]++
		bandit.SaveReward(action, reward)
	}
	return counts
}
