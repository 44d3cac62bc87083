package mcts

import (
	"context"
	"fmt"
	"math"

	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/rules"
	"golang.org/x/exp/rand"
)

// Rollout estimates leaf values with uniformly random playouts and selects
// with UCB1.
type Rollout struct {
	C   float32
	Rng *rand.Rand
}

// NewRolloutSearch returns an MCTS using random playouts.
func NewRolloutSearch(cfg Config, rng *rand.Rand) *MCTS {
	return &MCTS{
		Config:    cfg,
		Evaluator: &Rollout{C: cfg.C, Rng: rng},
		Rng:       rng,
	}
}

func (r *Rollout) Expansion() Expansion { return ExpandOne }

// Score is UCB1: q + C * sqrt(ln(N_parent) / N_child), where q maps the
// child's mean into [0, 1] from the parent's side. Unvisited children win.
func (r *Rollout) Score(parent, child *Node) float32 {
	if child.VisitCount == 0 {
		return float32(math.Inf(1))
	}
	q := 1 - (child.MeanValue()+1)/2
	explore := math.Sqrt(math.Log(float64(parent.VisitCount)) / float64(child.VisitCount))
	return q + r.C*float32(explore)
}

// Evaluate plays random legal moves from n until the game ends and returns
// the result for n's side to move.
func (r *Rollout) Evaluate(_ context.Context, n *Node) (float32, []float32, error) {
	return playout(r.Rng, n.Board), nil, nil
}

func playout(rng *rand.Rand, b game.Board) float32 {
	player := game.PlayerA
	for {
		moves := rules.ValidMoves(b)
		if len(moves) == 0 {
			return 0
		}
		a := moves[rng.Intn(len(moves))]
		b = mustApply(b, a, player)
		if v, done := rules.TerminalValue(b, a); done {
			if player == game.PlayerB {
				v = rules.OpponentValue(v)
			}
			return v
		}
		player = player.Opponent()
	}
}

// mustApply is Apply for actions drawn from ValidMoves. A failure means the
// rules and the move generator disagree, so it panics like ErrEmptySelection.
func mustApply(b game.Board, a game.Action, player game.Player) game.Board {
	next, err := rules.Apply(b, a, player)
	if err != nil {
		panic(fmt.Errorf("playout: %w", err))
	}
	return next
}
