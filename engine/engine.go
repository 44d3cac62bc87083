// Package engine is the single entry point the serving layer depends on. An
// Engine is built once at startup with its search parameters and optional
// model, and is safe for concurrent use: every request searches a fresh tree
// with its own RNG.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/metrics"
	"github.com/brensch/sidestacker/rules"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

var (
	// ErrInvalidBoard reports a board with the wrong shape or an unknown
	// alphabet.
	ErrInvalidBoard = errors.New("invalid board")
	// ErrNoMoves reports a board with no legal move left.
	ErrNoMoves = errors.New("no legal moves")
	// ErrGameOver reports a board that already holds a completed run.
	ErrGameOver = errors.New("game already won")
)

// Level selects the strategy used for a move.
type Level int

const (
	Easy Level = iota
	Medium
	Hard
)

func (l Level) String() string {
	switch l {
	case Easy:
		return "easy"
	case Medium:
		return "medium"
	case Hard:
		return "hard"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel accepts easy, medium or hard in any case.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "easy":
		return Easy, nil
	case "medium":
		return Medium, nil
	case "hard":
		return Hard, nil
	}
	return 0, fmt.Errorf("unknown difficulty %q", s)
}

// Engine holds the loaded evaluator and the search parameters for each level.
type Engine struct {
	rollout mcts.Config
	guided  mcts.Config
	client  mcts.Predictor

	seed atomic.Uint64
}

// New builds an engine. client may be nil, in which case Hard plays like
// Medium.
func New(rollout, guided mcts.Config, client mcts.Predictor, seed uint64) *Engine {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	e := &Engine{rollout: rollout, guided: guided, client: client}
	e.seed.Store(seed)
	return e
}

// HasModel reports whether Hard uses the guided search.
func (e *Engine) HasModel() bool { return e.client != nil }

func (e *Engine) rng() *rand.Rand {
	return rand.New(rand.NewSource(e.seed.Add(0x9e3779b97f4a7c15)))
}

// Decision is the result of one move request.
type Decision struct {
	// Board is the neutral position that was searched.
	Board  game.Board
	Action game.Action
	// Level is the level actually played, after any fallback.
	Level       Level
	Stats       []mcts.ChildStat
	Simulations int
	MaxDepth    int
}

func (d Decision) Row() int { return d.Action.Row() }
func (d Decision) Col() int { return d.Action.Col() }

// Analyze picks a move for the +1 side of the neutral board b.
func (e *Engine) Analyze(ctx context.Context, b game.Board, level Level) (Decision, error) {
	start := time.Now()
	d, err := e.analyze(ctx, b, level)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.Moves.WithLabelValues(level.String(), status).Inc()
	metrics.MoveDuration.WithLabelValues(level.String()).Observe(time.Since(start).Seconds())
	return d, err
}

func (e *Engine) analyze(ctx context.Context, b game.Board, level Level) (Decision, error) {
	if rules.HasWinner(b) {
		return Decision{}, ErrGameOver
	}
	moves := rules.ValidMoves(b)
	if len(moves) == 0 {
		return Decision{}, ErrNoMoves
	}
	rng := e.rng()

	if level == Hard && e.client == nil {
		log.Debug().Msg("no model loaded, hard falls back to medium")
		level = Medium
	}

	var (
		search    *mcts.MCTS
		evaluator string
	)
	switch level {
	case Easy:
		return Decision{Board: b, Action: moves[rng.Intn(len(moves))], Level: Easy}, nil
	case Medium:
		search, evaluator = mcts.NewRolloutSearch(e.rollout, rng), "rollout"
	case Hard:
		search, evaluator = mcts.NewGuidedSearch(e.guided, e.client, rng), "guided"
	default:
		return Decision{}, fmt.Errorf("unknown level %d", int(level))
	}

	start := time.Now()
	tree, err := search.Search(ctx, b)
	if err != nil {
		return Decision{}, fmt.Errorf("%s search: %w", evaluator, err)
	}
	metrics.ObserveSearch(evaluator, tree.Simulations, tree.MaxDepth, time.Since(start))

	policy := tree.Policy()
	return Decision{
		Board:       b,
		Action:      mcts.Argmax(policy[:]),
		Level:       level,
		Stats:       tree.RootStats(),
		Simulations: tree.Simulations,
		MaxDepth:    tree.MaxDepth,
	}, nil
}

// BestMove converts a caller's board into the neutral form, searches it and
// returns the decision; Row and Col give the chosen cell. acting is the mark
// of the side to move; any other non-empty mark is the opponent. Empty cells
// are "", " ", "." or "-". Marks are compared after trimming spaces.
func (e *Engine) BestMove(ctx context.Context, cells [][]string, acting string, level Level) (Decision, error) {
	b, err := ToNeutral(cells, acting)
	if err != nil {
		return Decision{}, err
	}
	return e.Analyze(ctx, b, level)
}

func isEmptyMark(s string) bool {
	switch strings.TrimSpace(s) {
	case "", ".", "-":
		return true
	}
	return false
}

// ToNeutral maps acting's mark to +1 and the other mark to -1.
func ToNeutral(cells [][]string, acting string) (game.Board, error) {
	var b game.Board
	acting = strings.TrimSpace(acting)
	if isEmptyMark(acting) {
		return b, fmt.Errorf("%w: acting mark %q is empty", ErrInvalidBoard, acting)
	}
	if len(cells) != game.Size {
		return b, fmt.Errorf("%w: %d rows, want %d", ErrInvalidBoard, len(cells), game.Size)
	}

	other := ""
	for r, row := range cells {
		if len(row) != game.Size {
			return b, fmt.Errorf("%w: row %d has %d cells, want %d", ErrInvalidBoard, r, len(row), game.Size)
		}
		for c, v := range row {
			v = strings.TrimSpace(v)
			switch {
			case isEmptyMark(v):
			case v == acting:
				b[r][c] = 1
			case other == "" || v == other:
				other = v
				b[r][c] = -1
			default:
				return b, fmt.Errorf("%w: third mark %q at (%d,%d)", ErrInvalidBoard, v, r, c)
			}
		}
	}
	return b, nil
}
