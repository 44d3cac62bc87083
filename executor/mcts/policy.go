package mcts

import (
	"math"

	"github.com/brensch/sidestacker/game"
	"golang.org/x/exp/rand"
)

// Argmax returns the index of the largest entry. Ties go to the lowest index.
func Argmax(probs []float32) game.Action {
	best := 0
	for i := 1; i < len(probs); i++ {
		if probs[i] > probs[best] {
			best = i
		}
	}
	return game.Action(best)
}

// SampleAction picks an action from probs. A temperature <= 0 is greedy;
// otherwise probs are raised to 1/temperature and renormalized before sampling.
func SampleAction(rng *rand.Rand, probs []float32, temperature float64) game.Action {
	if temperature <= 0 {
		return Argmax(probs)
	}

	weights := make([]float64, len(probs))
	sum := 0.0
	for i, p := range probs {
		if p <= 0 {
			continue
		}
		w := math.Pow(float64(p), 1/temperature)
		weights[i] = w
		sum += w
	}
	if sum <= 0 || math.IsInf(sum, 0) || math.IsNaN(sum) {
		return Argmax(probs)
	}

	r := rng.Float64() * sum
	last := 0
	for i, w := range weights {
		if w == 0 {
			continue
		}
		last = i
		r -= w
		if r < 0 {
			return game.Action(i)
		}
	}
	return game.Action(last)
}
