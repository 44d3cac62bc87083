package inference

import "math"

// Softmax converts logits to probabilities in place.
func Softmax(logits []float32) {
	if len(logits) == 0 {
		return
	}
	maxLogit := logits[0]
	for _, v := range logits[1:] {
		if v > maxLogit {
			maxLogit = v
		}
	}
	sum := 0.0
	for i, v := range logits {
		e := math.Exp(float64(v - maxLogit))
		logits[i] = float32(e)
		sum += e
	}
	for i := range logits {
		logits[i] = float32(float64(logits[i]) / sum)
	}
}
