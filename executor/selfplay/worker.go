package selfplay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/brensch/sidestacker/executor/convert"
	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/metrics"
	"github.com/brensch/sidestacker/rules"
	"github.com/brensch/sidestacker/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
)

// Sample is one ply of a finished game.
type Sample struct {
	GameID string
	Ply    int
	Mover  game.Player
	// Board is the position from Mover's side, as searched.
	Board  game.Board
	Policy [game.ActionSize]float32
	Action game.Action
	// Value is the final result from Mover's side.
	Value float32
	Root  []mcts.ChildStat
}

// Row converts the sample into its parquet form.
func (s Sample) Row(iteration int, source, modelPath string) store.SampleRow {
	rootJSON, _ := json.Marshal(s.Root)
	return store.SampleRow{
		GameID:       s.GameID,
		Iteration:    int32(iteration),
		Ply:          int32(s.Ply),
		Mover:        int32(s.Mover),
		Board:        store.PackCells(s.Board.Cells()),
		Encoded:      convert.Encode(s.Board),
		Policy:       append([]float32(nil), s.Policy[:]...),
		Action:       int32(s.Action),
		Value:        s.Value,
		Source:       source,
		ModelPath:    modelPath,
		MCTSRootJSON: rootJSON,
	}
}

type GameResult struct {
	GameID string
	// Winner is the player who made the final move, or 0 for a draw.
	Winner game.Player
	Plies  int
}

type PlayGameOutcome struct {
	Completed bool
	Samples   []Sample
	Result    GameResult
}

type PlayGameOptions struct {
	// Temperature controls move sampling; <= 0 plays the most visited move.
	Temperature float64
	// Rng seeds both the search and move sampling. Defaults to a time seed.
	Rng           *rand.Rand
	StopRequested func() bool
	OnStep        func()
	Verbose       bool
}

// step is one entry of the episode memory. Outcomes are unknown until the
// game ends.
type step struct {
	board  game.Board
	policy [game.ActionSize]float32
	mover  game.Player
	action game.Action
	root   []mcts.ChildStat
}

// PlayGame plays one self-play game. client drives a guided search; a nil
// client falls back to rollout search. An evaluator failure is fatal to the
// game and is returned. Cancellation or a stop request returns an outcome
// with Completed false and no samples.
func PlayGame(ctx context.Context, workerID int, cfg mcts.Config, client mcts.Predictor, opts PlayGameOptions) (PlayGameOutcome, error) {
	stopRequested := opts.StopRequested
	if stopRequested == nil {
		stopRequested = func() bool { return false }
	}
	rng := opts.Rng
	if rng == nil {
		rng = rand.New(rand.NewSource(uint64(time.Now().UnixNano()) + uint64(workerID)*1000003))
	}

	search, evaluator := newSearch(cfg, client, rng)
	gameID := uuid.NewString()

	board := rules.InitialState()
	mover := game.PlayerA
	memory := make([]step, 0, game.ActionSize)

	var last game.Action
	var value float32
	for {
		if err := ctx.Err(); err != nil || stopRequested() {
			return PlayGameOutcome{Result: GameResult{GameID: gameID, Plies: len(memory)}}, nil
		}

		neutral := rules.ToNeutral(board, mover)
		start := time.Now()
		tree, err := search.Search(ctx, neutral)
		if err != nil {
			if ctx.Err() != nil {
				return PlayGameOutcome{Result: GameResult{GameID: gameID, Plies: len(memory)}}, nil
			}
			return PlayGameOutcome{}, fmt.Errorf("game %s ply %d: %w", gameID, len(memory), err)
		}
		metrics.ObserveSearch(evaluator, tree.Simulations, tree.MaxDepth, time.Since(start))

		policy := tree.Policy()
		if !hasMass(policy[:]) {
			policy = uniformPolicy(neutral)
		}
		action := mcts.SampleAction(rng, policy[:], opts.Temperature)

		memory = append(memory, step{
			board:  neutral,
			policy: policy,
			mover:  mover,
			action: action,
			root:   tree.RootStats(),
		})

		if opts.Verbose {
			logStep(workerID, len(memory)-1, mover, action, tree, neutral)
		}

		board, err = rules.Apply(board, action, mover)
		if err != nil {
			return PlayGameOutcome{}, fmt.Errorf("game %s ply %d: %w", gameID, len(memory)-1, err)
		}
		if opts.OnStep != nil {
			opts.OnStep()
		}

		last = action
		if v, done := rules.TerminalValue(board, last); done {
			value = v
			break
		}
		mover = mover.Opponent()
	}

	winner := game.Player(0)
	if value != 0 {
		winner = mover
	}
	samples := resolveOutcome(gameID, memory, mover, value)

	outcome := "draw"
	if winner != 0 {
		outcome = "win"
	}
	metrics.Games.WithLabelValues(outcome).Inc()
	metrics.Samples.Add(float64(len(samples)))

	if opts.Verbose {
		log.Debug().
			Int("worker", workerID).
			Str("game_id", gameID).
			Str("winner", winner.String()).
			Int("plies", len(memory)).
			Msg("game finished\n" + FormatBoard(board, last, Profile()))
	}

	return PlayGameOutcome{
		Completed: true,
		Samples:   samples,
		Result:    GameResult{GameID: gameID, Winner: winner, Plies: len(memory)},
	}, nil
}

func newSearch(cfg mcts.Config, client mcts.Predictor, rng *rand.Rand) (*mcts.MCTS, string) {
	if client == nil {
		return mcts.NewRolloutSearch(cfg, rng), "rollout"
	}
	return mcts.NewGuidedSearch(cfg, client, rng), "guided"
}

// resolveOutcome assigns value to every ply made by lastMover and its
// negation to the other side's plies.
func resolveOutcome(gameID string, memory []step, lastMover game.Player, value float32) []Sample {
	samples := make([]Sample, len(memory))
	for i, st := range memory {
		v := value
		if st.mover != lastMover {
			v = rules.OpponentValue(value)
		}
		samples[i] = Sample{
			GameID: gameID,
			Ply:    i,
			Mover:  st.mover,
			Board:  st.board,
			Policy: st.policy,
			Action: st.action,
			Value:  v,
			Root:   st.root,
		}
	}
	return samples
}

func hasMass(p []float32) bool {
	for _, v := range p {
		if v > 0 {
			return true
		}
	}
	return false
}

func uniformPolicy(b game.Board) [game.ActionSize]float32 {
	var p [game.ActionSize]float32
	moves := rules.ValidMoves(b)
	for _, a := range moves {
		p[a] = 1 / float32(len(moves))
	}
	return p
}

func logStep(workerID, ply int, mover game.Player, action game.Action, tree *mcts.Tree, neutral game.Board) {
	stats := tree.RootStats()
	per := make([]string, 0, len(stats))
	for _, st := range stats {
		per = append(per, fmt.Sprintf("(%d,%d): N=%d Q=%.3f P=%.3f", st.Action.Row(), st.Action.Col(), st.Visits, st.Q, st.Prior))
	}

	var visits, expanded int
	var q, prior float32
	if id, ok := tree.Child(mcts.RootID, action); ok {
		n := tree.Node(id)
		visits, expanded = n.VisitCount, len(n.Children)
		q, prior = rules.OpponentValue(n.MeanValue()), n.PriorProb
	}
	log.Debug().Msgf(
		"[Worker %d] Ply %d: %s -> (%d,%d) | chosen N=%d/%d Q=%.3f P=%.3f children=%d depth=%d | %s\n%s",
		workerID,
		ply,
		mover,
		action.Row(),
		action.Col(),
		visits,
		tree.Root().VisitCount,
		q,
		prior,
		expanded,
		tree.MaxDepth,
		strings.Join(per, " | "),
		FormatBoard(neutral, action, Profile()),
	)
}
