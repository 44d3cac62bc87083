package selfplay

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/rs/zerolog/log"
	"golang.org/x/exp/rand"
	"golang.org/x/sync/errgroup"
)

// Sink receives the shuffled samples of each finished iteration.
type Sink interface {
	WriteSamples(ctx context.Context, iteration int, samples []Sample) error
}

type LearnConfig struct {
	Iterations        int
	GamesPerIteration int
	// Workers is the number of games played at once. Each game owns its
	// search tree and RNG.
	Workers     int
	Temperature float64
	Seed        uint64
	Verbose     bool
}

// Progress is reported after every finished game.
type Progress struct {
	Iteration      int
	Iterations     int
	GamesDone      int
	GamesPerIter   int
	Samples        int64
	Wins           int64
	Draws          int64
	Plies          int64
	Elapsed        time.Duration
	LastGameID     string
	LastGamePlies  int
	LastGameWinner string
}

// Learn runs cfg.Iterations rounds of cfg.GamesPerIteration self-play games.
// After each round the collected samples are shuffled and handed to sink.
// The first evaluator error stops every worker and is returned.
func Learn(ctx context.Context, cfg LearnConfig, mctsCfg mcts.Config, client mcts.Predictor, sink Sink, onProgress func(Progress)) error {
	if cfg.Iterations <= 0 || cfg.GamesPerIteration <= 0 {
		return fmt.Errorf("iterations and games per iteration must be positive")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	shuffleRng := rand.New(rand.NewSource(seed))

	var totalSamples, wins, draws, plies atomic.Int64
	start := time.Now()

	for iter := 0; iter < cfg.Iterations; iter++ {
		var (
			mu      sync.Mutex
			samples []Sample
			done    int
		)

		jobs := make(chan int)
		g, gctx := errgroup.WithContext(ctx)

		g.Go(func() error {
			defer close(jobs)
			for i := 0; i < cfg.GamesPerIteration; i++ {
				select {
				case jobs <- i:
				case <-gctx.Done():
					return nil
				}
			}
			return nil
		})

		for w := 0; w < workers; w++ {
			workerID := w
			g.Go(func() error {
				for gameIdx := range jobs {
					rng := rand.New(rand.NewSource(seed + uint64(iter)*1_000_003 + uint64(gameIdx)*7919))
					out, err := PlayGame(gctx, workerID, mctsCfg, client, PlayGameOptions{
						Temperature: cfg.Temperature,
						Rng:         rng,
						Verbose:     cfg.Verbose,
					})
					if err != nil {
						return err
					}
					if !out.Completed {
						return nil
					}

					totalSamples.Add(int64(len(out.Samples)))
					plies.Add(int64(out.Result.Plies))
					if out.Result.Winner == 0 {
						draws.Add(1)
					} else {
						wins.Add(1)
					}

					mu.Lock()
					samples = append(samples, out.Samples...)
					done++
					p := Progress{
						Iteration:      iter,
						Iterations:     cfg.Iterations,
						GamesDone:      done,
						GamesPerIter:   cfg.GamesPerIteration,
						Samples:        totalSamples.Load(),
						Wins:           wins.Load(),
						Draws:          draws.Load(),
						Plies:          plies.Load(),
						Elapsed:        time.Since(start),
						LastGameID:     out.Result.GameID,
						LastGamePlies:  out.Result.Plies,
						LastGameWinner: out.Result.Winner.String(),
					}
					mu.Unlock()

					if onProgress != nil {
						onProgress(p)
					}
				}
				return nil
			})
		}

		if err := g.Wait(); err != nil {
			return fmt.Errorf("iteration %d: %w", iter, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		shuffleRng.Shuffle(len(samples), func(i, j int) {
			samples[i], samples[j] = samples[j], samples[i]
		})

		log.Info().
			Int("iteration", iter).
			Int("games", done).
			Int("samples", len(samples)).
			Int64("wins", wins.Load()).
			Int64("draws", draws.Load()).
			Dur("elapsed", time.Since(start)).
			Msg("self-play iteration finished")

		if sink != nil {
			if err := sink.WriteSamples(ctx, iter, samples); err != nil {
				return fmt.Errorf("iteration %d: write samples: %w", iter, err)
			}
		}
	}
	return nil
}
