package selfplay

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/brensch/sidestacker/store"
	"github.com/rs/zerolog/log"
)

// ParquetSink writes every iteration into its own shard under OutDir, one
// row group per training batch.
type ParquetSink struct {
	OutDir    string
	BatchSize int
	Source    string
	// ModelPath is recorded on every row. Symlinks are resolved.
	ModelPath string
}

func (s *ParquetSink) WriteSamples(ctx context.Context, iteration int, samples []Sample) error {
	if len(samples) == 0 {
		return nil
	}
	w, err := store.NewBatchWriter(s.OutDir, s.BatchSize)
	if err != nil {
		return err
	}

	modelPath := s.ModelPath
	if modelPath != "" {
		if resolved, err := filepath.EvalSymlinks(modelPath); err == nil {
			modelPath = resolved
		}
	}
	source := s.Source
	if source == "" {
		source = "selfplay"
	}

	seen := make(map[string]struct{})
	for _, batch := range store.Batches(samples, s.BatchSize) {
		if err := ctx.Err(); err != nil {
			w.Abort()
			return err
		}
		rows := make([]store.SampleRow, len(batch))
		for i, smp := range batch {
			rows[i] = smp.Row(iteration, source, modelPath)
			if _, ok := seen[smp.GameID]; !ok {
				seen[smp.GameID] = struct{}{}
				w.NoteGameWritten()
			}
		}
		if err := w.WriteRows(rows); err != nil {
			w.Abort()
			return fmt.Errorf("write rows: %w", err)
		}
	}

	out, rows, games, err := w.Finalize()
	if err != nil {
		return err
	}
	log.Info().
		Int("iteration", iteration).
		Str("path", out).
		Int("rows", rows).
		Int("games", games).
		Int("batches", w.Batches()).
		Msg("wrote sample shard")
	return nil
}
