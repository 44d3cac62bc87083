package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/brensch/sidestacker/executor/selfplay"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	selfplayCmd = &cobra.Command{
		Use:   "selfplay",
		Short: "Generate self-play training shards",
		Long: `Plays iterations x games self-play games. With inference.model_path set
every ply runs a guided search with Dirichlet root noise; without a model the
games use rollout search. Each iteration's samples are shuffled and written as
one parquet shard with a row group per training batch.`,
		Args: cobra.NoArgs,
		RunE: runSelfplay,
	}

	spIterations int
	spGames      int
	spWorkers    int
	spTemp       float64
	spBatchSize  int
	spOutDir     string
	spModel      string
	spSeed       uint64
	spTUI        bool
	spVerbose    bool
)

func init() {
	f := selfplayCmd.Flags()
	f.IntVar(&spIterations, "iterations", 0, "override selfplay.iterations")
	f.IntVar(&spGames, "games", 0, "override selfplay.games_per_iteration")
	f.IntVar(&spWorkers, "workers", 0, "override selfplay.workers")
	f.Float64Var(&spTemp, "temperature", -1, "override selfplay.temperature")
	f.IntVar(&spBatchSize, "batch-size", 0, "override selfplay.batch_size")
	f.StringVar(&spOutDir, "out-dir", "", "override selfplay.out_dir")
	f.StringVar(&spModel, "model", "", "override inference.model_path")
	f.Uint64Var(&spSeed, "seed", 0, "override selfplay.seed")
	f.BoolVar(&spTUI, "tui", false, "show a live progress view instead of log lines")
	f.BoolVar(&spVerbose, "verbose", false, "log every ply at debug level")
}

func applySelfplayFlags() {
	sp := &cfg.SelfPlay
	if spIterations > 0 {
		sp.Iterations = spIterations
	}
	if spGames > 0 {
		sp.GamesPerIteration = spGames
	}
	if spWorkers > 0 {
		sp.Workers = spWorkers
	}
	if spTemp >= 0 {
		sp.Temperature = spTemp
	}
	if spBatchSize > 0 {
		sp.BatchSize = spBatchSize
	}
	if spOutDir != "" {
		sp.OutDir = spOutDir
	}
	if spSeed != 0 {
		sp.Seed = spSeed
	}
	if spModel != "" {
		cfg.Inference.ModelPath = spModel
	}
}

func runSelfplay(cmd *cobra.Command, _ []string) error {
	applySelfplayFlags()
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model, err := openModel(cfg.Inference)
	if err != nil {
		return err
	}
	defer model.Close()

	mctsCfg := cfg.Guided.MCTS()
	if model.predictor == nil {
		mctsCfg = cfg.Rollout.MCTS()
		log.Warn().Msg("no model configured, self-play uses rollout search")
	}

	sink := &selfplay.ParquetSink{
		OutDir:    cfg.SelfPlay.OutDir,
		BatchSize: cfg.SelfPlay.BatchSize,
		ModelPath: cfg.Inference.ModelPath,
	}
	learnCfg := selfplay.LearnConfig{
		Iterations:        cfg.SelfPlay.Iterations,
		GamesPerIteration: cfg.SelfPlay.GamesPerIteration,
		Workers:           cfg.SelfPlay.Workers,
		Temperature:       cfg.SelfPlay.Temperature,
		Seed:              cfg.SelfPlay.Seed,
		Verbose:           spVerbose,
	}

	log.Info().
		Int("iterations", learnCfg.Iterations).
		Int("games", learnCfg.GamesPerIteration).
		Int("workers", learnCfg.Workers).
		Int("searches", mctsCfg.NumSearches).
		Str("out_dir", sink.OutDir).
		Msg("starting self-play")

	if !spTUI {
		return runLearn(ctx, learnCfg, mctsCfg, model, sink, logProgress(model))
	}

	// The TUI owns the terminal; keep warnings only.
	prev := zerolog.GlobalLevel()
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	defer zerolog.SetGlobalLevel(prev)

	updates := make(chan selfplay.Progress, 64)
	done := make(chan error, 1)
	go func() {
		done <- runLearn(ctx, learnCfg, mctsCfg, model, sink, func(p selfplay.Progress) {
			select {
			case updates <- p:
			default:
			}
		})
		close(updates)
	}()

	p := tea.NewProgram(newProgressModel(updates, model.stats), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		cancel()
		<-done
		return fmt.Errorf("progress view: %w", err)
	}
	// Quitting the view stops self-play.
	cancel()
	return <-done
}

func runLearn(ctx context.Context, lc selfplay.LearnConfig, mc mcts.Config, model loadedModel, sink selfplay.Sink, onProgress func(selfplay.Progress)) error {
	err := selfplay.Learn(ctx, lc, mc, model.predictor, sink, onProgress)
	if err != nil && ctx.Err() != nil {
		log.Info().Msg("self-play interrupted")
		return nil
	}
	return err
}

func logProgress(model loadedModel) func(selfplay.Progress) {
	return func(p selfplay.Progress) {
		ev := log.Info().
			Int("iteration", p.Iteration).
			Int("game", p.GamesDone).
			Int("of", p.GamesPerIter).
			Str("winner", p.LastGameWinner).
			Int("plies", p.LastGamePlies).
			Int64("samples", p.Samples).
			Int64("inferences", totalInferences.Load()).
			Dur("elapsed", p.Elapsed.Round(time.Millisecond))
		if model.stats != nil {
			st := model.stats()
			ev = ev.Float64("batch_avg", st.AvgBatchSize).Float64("run_avg_ms", st.AvgRunMs)
		}
		ev.Msg("game finished")
	}
}
