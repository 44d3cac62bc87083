package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/brensch/sidestacker/engine"
	"github.com/brensch/sidestacker/server"
	"github.com/brensch/sidestacker/viewer"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve best moves over HTTP and WebSocket",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}

	serveAddr  string
	serveModel string
)

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "override server.addr")
	serveCmd.Flags().StringVar(&serveModel, "model", "", "override inference.model_path")
}

func runServe(cmd *cobra.Command, _ []string) error {
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	if serveModel != "" {
		cfg.Inference.ModelPath = serveModel
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	model, err := openModel(cfg.Inference)
	if err != nil {
		return err
	}
	defer model.Close()

	eng := engine.New(cfg.Serving.Rollout.MCTS(), cfg.Serving.Guided.MCTS(), model.predictor, 0)
	opts := server.Options{
		RateLimit:   cfg.Server.RateLimit,
		Burst:       cfg.Server.Burst,
		MoveTimeout: cfg.Server.MoveTimeout,
	}
	if len(cfg.Server.DataDirs) > 0 {
		games := viewer.NewDBCache(cfg.Server.DataDirs, 30*time.Second)
		defer games.Close()
		opts.Games = games
	}
	srv := server.New(eng, opts)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(gctx, cfg.Server.Addr)
	})
	if model.stats != nil {
		g.Go(func() error {
			reportInference(gctx, model)
			return nil
		})
	}
	return g.Wait()
}

// reportInference logs ONNX batching stats once a minute while serving.
func reportInference(ctx context.Context, model loadedModel) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st := model.stats()
			log.Info().
				Int64("batches", st.TotalBatches).
				Int64("items", st.TotalItems).
				Float64("batch_avg", st.AvgBatchSize).
				Float64("run_avg_ms", st.AvgRunMs).
				Int("queue", st.QueueLen).
				Msg("inference stats")
		}
	}
}
