package mcts

import (
	"context"
	"fmt"

	"github.com/brensch/sidestacker/game"
	"golang.org/x/exp/rand"
)

// Config holds MCTS configuration.
type Config struct {
	C           float32
	NumSearches int

	// Root noise, used by the guided evaluator only.
	DirichletEpsilon float64
	DirichletAlpha   float64
}

// Predictor defines the interface for inference. Given a 3xNxN plane
// encoding it returns a probability per action and a value in [-1, 1] for the
// side to move.
type Predictor interface {
	Predict(planes []float32) ([]float32, float32, error)
}

// Expansion says how many children an evaluator materializes per simulation.
type Expansion int

const (
	// ExpandOne attaches one uniformly chosen untried action and evaluates
	// the new child.
	ExpandOne Expansion = iota
	// ExpandAll evaluates the leaf itself and attaches every legal action,
	// each with the prior returned by Evaluate.
	ExpandAll
)

// Evaluator is the leaf strategy plugged into the shared tree algorithm.
type Evaluator interface {
	// Score ranks child for selection, from the parent's side.
	Score(parent, child *Node) float32
	// Evaluate estimates n's value for its side to move. priors is either
	// nil (uniform) or a masked distribution over all actions.
	Evaluate(ctx context.Context, n *Node) (value float32, priors []float32, err error)
	Expansion() Expansion
}

// RootPreparer is implemented by evaluators that must initialise the root
// before the first simulation.
type RootPreparer interface {
	PrepareRoot(ctx context.Context, t *Tree) error
}

// MCTS holds the search context. A fresh tree is built by every Search call.
type MCTS struct {
	Config    Config
	Evaluator Evaluator
	Rng       *rand.Rand
}

// Search runs Config.NumSearches simulations from root, which must be neutral.
func (m *MCTS) Search(ctx context.Context, root game.Board) (*Tree, error) {
	t := newTree(root)
	if t.Root().Terminal {
		return t, nil
	}

	if prep, ok := m.Evaluator.(RootPreparer); ok {
		if err := prep.PrepareRoot(ctx, t); err != nil {
			return nil, err
		}
	}

	for i := 0; i < m.Config.NumSearches; i++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return t, ctx.Err()
			default:
			}
		}

		if err := m.simulate(ctx, t); err != nil {
			return nil, err
		}
		t.Simulations++
	}

	return t, nil
}

func (m *MCTS) simulate(ctx context.Context, t *Tree) error {
	// Selection
	id := RootID
	for {
		n := t.Node(id)
		if n.Terminal || len(n.Untried) > 0 {
			break
		}
		if len(n.Children) == 0 {
			panic(fmt.Errorf("%w: node %d", ErrEmptySelection, id))
		}
		id = m.selectChild(t, id)
	}

	// Expansion & Evaluation
	leaf := id
	value := float32(0)
	n := t.Node(id)

	switch {
	case n.Terminal:
		value = n.TerminalValue

	case m.Evaluator.Expansion() == ExpandAll:
		v, priors, err := m.Evaluator.Evaluate(ctx, n)
		if err != nil {
			return err
		}
		if err := t.expandAll(id, priors); err != nil {
			return err
		}
		value = v

	default:
		a := n.Untried[m.Rng.Intn(len(n.Untried))]
		prior := 1 / float32(len(n.Untried)+len(n.Children))
		child, err := t.addChild(id, a, prior)
		if err != nil {
			return err
		}
		leaf = child
		c := t.Node(child)
		if c.Terminal {
			value = c.TerminalValue
		} else {
			v, _, err := m.Evaluator.Evaluate(ctx, c)
			if err != nil {
				return err
			}
			value = v
		}
	}

	if d := t.depth(leaf); d > t.MaxDepth {
		t.MaxDepth = d
	}

	// Backpropagation
	t.backup(leaf, value)
	return nil
}

// selectChild returns the child with the highest score. Ties go to the
// earliest expanded child.
func (m *MCTS) selectChild(t *Tree, id NodeID) NodeID {
	parent := t.Node(id)
	best := parent.Children[0]
	bestScore := float32(-1e9)
	for _, c := range parent.Children {
		score := m.Evaluator.Score(parent, t.Node(c))
		if score > bestScore {
			bestScore = score
			best = c
		}
	}
	return best
}
