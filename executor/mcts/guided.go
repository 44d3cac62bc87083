package mcts

import (
	"context"
	"fmt"
	"math"

	"github.com/brensch/sidestacker/executor/convert"
	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/rules"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
)

// Guided replaces rollouts with a Predictor and selects with PUCT.
type Guided struct {
	C       float32
	Epsilon float64
	Alpha   float64
	Client  Predictor

	src rand.Source
}

// NewGuidedSearch returns an MCTS driven by client.
func NewGuidedSearch(cfg Config, client Predictor, rng *rand.Rand) *MCTS {
	return &MCTS{
		Config: cfg,
		Evaluator: &Guided{
			C:       cfg.C,
			Epsilon: cfg.DirichletEpsilon,
			Alpha:   cfg.DirichletAlpha,
			Client:  client,
			src:     rand.NewSource(rng.Uint64()),
		},
		Rng: rng,
	}
}

func (g *Guided) Expansion() Expansion { return ExpandAll }

// Score is PUCT: q + C * P * sqrt(N_parent) / (1 + N_child).
func (g *Guided) Score(parent, child *Node) float32 {
	q := float32(0)
	if child.VisitCount > 0 {
		q = 1 - (child.MeanValue()+1)/2
	}
	sqrtN := float32(math.Sqrt(float64(parent.VisitCount)))
	return q + g.C*child.PriorProb*sqrtN/(1+float32(child.VisitCount))
}

// Evaluate queries the predictor once and returns its value together with the
// priors masked to n's legal actions.
func (g *Guided) Evaluate(_ context.Context, n *Node) (float32, []float32, error) {
	planesPtr := convert.StateToFloat32(n.Board)
	defer convert.PutFloatBuffer(planesPtr)

	policy, value, err := g.Client.Predict(*planesPtr)
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrEvaluatorUnavailable, err)
	}
	if len(policy) != game.ActionSize {
		return 0, nil, fmt.Errorf("%w: policy has %d entries, want %d", ErrEvaluatorUnavailable, len(policy), game.ActionSize)
	}
	return value, MaskPriors(policy, rules.ValidMask(n.Board)), nil
}

// PrepareRoot evaluates the root, mixes Dirichlet noise into its priors and
// expands every legal action. The root starts with one visit so the first
// PUCT selection is driven by the priors.
func (g *Guided) PrepareRoot(ctx context.Context, t *Tree) error {
	root := t.Root()
	_, priors, err := g.Evaluate(ctx, root)
	if err != nil {
		return err
	}
	if g.Epsilon > 0 {
		priors = g.addNoise(priors, rules.ValidMoves(root.Board))
	}
	if err := t.expandAll(RootID, priors); err != nil {
		return err
	}
	t.Root().VisitCount = 1
	return nil
}

// addNoise mixes (1-eps)*p + eps*Dir(alpha) over the legal actions.
func (g *Guided) addNoise(priors []float32, valid []game.Action) []float32 {
	if len(valid) == 0 {
		return priors
	}
	alpha := make([]float64, len(valid))
	for i := range alpha {
		alpha[i] = g.Alpha
	}
	noise := distmv.NewDirichlet(alpha, g.src).Rand(nil)

	out := make([]float32, len(priors))
	for i, a := range valid {
		out[a] = float32((1-g.Epsilon)*float64(priors[a]) + g.Epsilon*noise[i])
	}
	return out
}

// MaskPriors zeroes illegal actions and renormalizes the rest. If no legal
// action carries any mass the result is uniform over legal actions.
func MaskPriors(policy []float32, mask [game.ActionSize]bool) []float32 {
	out := make([]float32, game.ActionSize)
	sum := float32(0)
	legal := 0
	for a := 0; a < game.ActionSize; a++ {
		if !mask[a] {
			continue
		}
		legal++
		p := policy[a]
		if p < 0 || math.IsNaN(float64(p)) {
			p = 0
		}
		out[a] = p
		sum += p
	}
	if legal == 0 {
		return out
	}
	if sum <= 0 {
		u := 1 / float32(legal)
		for a := 0; a < game.ActionSize; a++ {
			if mask[a] {
				out[a] = u
			}
		}
		return out
	}
	for a := range out {
		out[a] /= sum
	}
	return out
}
