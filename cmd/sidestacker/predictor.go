package main

import (
	"fmt"
	"sync/atomic"

	"github.com/brensch/sidestacker/config"
	"github.com/brensch/sidestacker/executor/inference"
	"github.com/brensch/sidestacker/executor/mcts"
)

var totalInferences atomic.Int64

// instrumentedClient counts Predict calls for the progress view.
type instrumentedClient struct {
	mcts.Predictor
}

func (c *instrumentedClient) Predict(planes []float32) ([]float32, float32, error) {
	totalInferences.Add(1)
	return c.Predictor.Predict(planes)
}

// loadedModel is a predictor plus its runtime hooks. A zero value means no
// model is configured.
type loadedModel struct {
	predictor mcts.Predictor
	stats     func() inference.RuntimeStats
	close     func() error
}

func (m loadedModel) Close() error {
	if m.close == nil {
		return nil
	}
	return m.close()
}

// openModel loads the configured ONNX model, or returns a zero loadedModel
// when no model path is set.
func openModel(ic config.InferenceConfig) (loadedModel, error) {
	if ic.ModelPath == "" {
		return loadedModel{}, nil
	}
	onnxCfg := inference.OnnxClientConfig{
		BatchSize:    ic.BatchSize,
		BatchTimeout: ic.BatchTimeout,
		LibraryPath:  ic.LibraryPath,
		DisableCUDA:  ic.DisableCUDA,
	}
	if ic.Sessions <= 1 {
		c, err := inference.NewOnnxClientWithConfig(ic.ModelPath, onnxCfg)
		if err != nil {
			return loadedModel{}, fmt.Errorf("failed to create onnx client: %w", err)
		}
		return loadedModel{predictor: &instrumentedClient{c}, stats: c.Stats, close: c.Close}, nil
	}
	pool, err := inference.NewOnnxClientPoolWithConfig(ic.ModelPath, ic.Sessions, onnxCfg)
	if err != nil {
		return loadedModel{}, fmt.Errorf("failed to create onnx client pool: %w", err)
	}
	return loadedModel{predictor: &instrumentedClient{pool}, stats: pool.Stats, close: pool.Close}, nil
}
