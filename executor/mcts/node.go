package mcts

import (
	"errors"
	"fmt"

	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/rules"
)

var (
	// ErrEvaluatorUnavailable wraps any failure of the external evaluator.
	// It is fatal to the search that observed it.
	ErrEvaluatorUnavailable = errors.New("evaluator unavailable")

	// ErrEmptySelection is the panic value raised when selection reaches a
	// non-terminal node with neither children nor untried actions.
	ErrEmptySelection = errors.New("selection reached a node with no children and no untried actions")
)

// NodeID indexes a node inside its Tree.
type NodeID int32

const (
	// RootID is the id of the search root.
	RootID NodeID = 0
	// NoParent is the parent id of the root.
	NoParent NodeID = -1
)

// Node represents a state in the MCTS tree. Board is always neutral: the side
// to move at this node is +1. ValueSum accumulates values from that side's
// perspective.
type Node struct {
	Board      game.Board
	Parent     NodeID
	Action     game.Action
	Children   []NodeID
	Untried    []game.Action
	PriorProb  float32
	VisitCount int
	ValueSum   float32

	Terminal bool
	// TerminalValue is the game result for the side to move, set when Terminal.
	TerminalValue float32
}

// MeanValue returns ValueSum / VisitCount, or 0 for an unvisited node.
func (n *Node) MeanValue() float32 {
	if n.VisitCount == 0 {
		return 0
	}
	return n.ValueSum / float32(n.VisitCount)
}

// Tree is the node arena for one search. Each node is owned by the arena and
// refers to its parent by id, so there are no pointer cycles. Node pointers
// returned by Node are invalidated by the next expansion.
type Tree struct {
	nodes []Node

	// MaxDepth is the deepest node reached by any simulation.
	MaxDepth int
	// Simulations counts completed simulations.
	Simulations int
}

func newTree(root game.Board) *Tree {
	t := &Tree{nodes: make([]Node, 0, 256)}
	n := Node{
		Board:  root,
		Parent: NoParent,
		Action: -1,
	}
	if rules.HasValidMoves(root) {
		n.Untried = rules.ValidMoves(root)
	} else {
		n.Terminal = true
	}
	t.nodes = append(t.nodes, n)
	return t
}

// Root returns the root node.
func (t *Tree) Root() *Node {
	return &t.nodes[RootID]
}

// Node returns the node with the given id.
func (t *Tree) Node(id NodeID) *Node {
	return &t.nodes[id]
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	return len(t.nodes)
}

// Child returns the child of id reached by action a.
func (t *Tree) Child(id NodeID, a game.Action) (NodeID, bool) {
	for _, c := range t.nodes[id].Children {
		if t.nodes[c].Action == a {
			return c, true
		}
	}
	return 0, false
}

// addChild applies a for the side to move at parent and attaches the
// resulting position, expressed from the opponent's (next mover's) side.
func (t *Tree) addChild(parent NodeID, a game.Action, prior float32) (NodeID, error) {
	p := &t.nodes[parent]
	next, err := rules.Apply(p.Board, a, game.PlayerA)
	if err != nil {
		return 0, err
	}

	idx := -1
	for i, u := range p.Untried {
		if u == a {
			idx = i
			break
		}
	}
	if idx < 0 {
		return 0, fmt.Errorf("%w: action %d is not untried at node %d", rules.ErrInvalidMove, a, parent)
	}
	p.Untried = append(p.Untried[:idx], p.Untried[idx+1:]...)

	child := Node{
		Board:     rules.ToNeutral(next, game.PlayerB),
		Parent:    parent,
		Action:    a,
		PriorProb: prior,
	}
	if v, done := rules.TerminalValue(next, a); done {
		child.Terminal = true
		child.TerminalValue = rules.OpponentValue(v)
	} else {
		child.Untried = rules.ValidMoves(child.Board)
	}

	id := NodeID(len(t.nodes))
	t.nodes = append(t.nodes, child)
	t.nodes[parent].Children = append(t.nodes[parent].Children, id)
	return id, nil
}

// expandAll attaches every untried action of id, each with its prior.
func (t *Tree) expandAll(id NodeID, priors []float32) error {
	actions := append([]game.Action(nil), t.nodes[id].Untried...)
	for _, a := range actions {
		prior := float32(0)
		if int(a) < len(priors) {
			prior = priors[a]
		}
		if _, err := t.addChild(id, a, prior); err != nil {
			return err
		}
	}
	return nil
}

// backup walks from id to the root adding value, negating it at every level.
func (t *Tree) backup(id NodeID, value float32) {
	for id != NoParent {
		n := &t.nodes[id]
		n.VisitCount++
		n.ValueSum += value
		value = rules.OpponentValue(value)
		id = n.Parent
	}
}

func (t *Tree) depth(id NodeID) int {
	d := 0
	for t.nodes[id].Parent != NoParent {
		id = t.nodes[id].Parent
		d++
	}
	return d
}

// Policy returns the root's child visit counts normalized to a distribution
// over all actions. Actions without a visited child get 0.
func (t *Tree) Policy() [game.ActionSize]float32 {
	var policy [game.ActionSize]float32
	total := 0
	for _, c := range t.Root().Children {
		total += t.nodes[c].VisitCount
	}
	if total == 0 {
		return policy
	}
	for _, c := range t.Root().Children {
		n := &t.nodes[c]
		policy[n.Action] = float32(n.VisitCount) / float32(total)
	}
	return policy
}

// ChildStat summarizes one root child.
type ChildStat struct {
	Action game.Action `json:"action"`
	Visits int         `json:"n"`
	Q      float32     `json:"q"`
	Prior  float32     `json:"p"`
}

// RootStats returns the root children in expansion order. Q is from the
// root's side to move.
func (t *Tree) RootStats() []ChildStat {
	root := t.Root()
	out := make([]ChildStat, 0, len(root.Children))
	for _, c := range root.Children {
		n := &t.nodes[c]
		out = append(out, ChildStat{
			Action: n.Action,
			Visits: n.VisitCount,
			Q:      rules.OpponentValue(n.MeanValue()),
			Prior:  n.PriorProb,
		})
	}
	return out
}
