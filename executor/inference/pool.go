package inference

import (
	"fmt"
	"sync/atomic"
)

// sessionClient is what the pool needs from one loaded session.
type sessionClient interface {
	Predict(planes []float32) ([]float32, float32, error)
	Stats() RuntimeStats
	Close() error
}

// OnnxPool spreads board evaluations over several sessions of the same
// side-stacker model. It satisfies mcts.Predictor, so a guided search or a
// self-play worker can use one pool regardless of how many sessions back it.
// Every session batches on its own, so concurrent searches keep all of them
// busy.
type OnnxPool struct {
	clients []sessionClient
	next    atomic.Uint64
}

// NewOnnxClientPool loads sessions copies of the model with the default
// batching settings.
func NewOnnxClientPool(modelPath string, sessions int) (*OnnxPool, error) {
	return NewOnnxClientPoolWithConfig(modelPath, sessions, OnnxClientConfig{
		BatchSize:    DefaultBatchSize,
		BatchTimeout: DefaultBatchTimeout,
	})
}

// NewOnnxClientPoolWithConfig loads sessions copies of the model. If any
// session fails to load, the ones already loaded are closed.
func NewOnnxClientPoolWithConfig(modelPath string, sessions int, cfg OnnxClientConfig) (*OnnxPool, error) {
	sessions = max(sessions, 1)

	pool := &OnnxPool{clients: make([]sessionClient, 0, sessions)}
	for i := range sessions {
		c, err := NewOnnxClientWithConfig(modelPath, cfg)
		if err != nil {
			_ = pool.Close()
			return nil, fmt.Errorf("load session %d of %d for %s: %w", i+1, sessions, modelPath, err)
		}
		pool.clients = append(pool.clients, c)
	}
	return pool, nil
}

// Predict evaluates one encoded 3x7x7 board on the next session in turn and
// returns its 49 action priors and the value for the side to move.
func (p *OnnxPool) Predict(planes []float32) ([]float32, float32, error) {
	if len(p.clients) == 0 {
		return nil, 0, fmt.Errorf("onnx pool has no sessions")
	}
	i := (p.next.Add(1) - 1) % uint64(len(p.clients))
	return p.clients[i].Predict(planes)
}

// Stats sums the batching counters of every session. LastBatchSize is the
// largest recent batch across sessions.
func (p *OnnxPool) Stats() RuntimeStats {
	var total RuntimeStats
	for _, c := range p.clients {
		st := c.Stats()
		total.TotalBatches += st.TotalBatches
		total.TotalItems += st.TotalItems
		total.TotalRunNanos += st.TotalRunNanos
		total.QueueLen += st.QueueLen
		total.LastBatchSize = max(total.LastBatchSize, st.LastBatchSize)
	}
	if total.TotalBatches > 0 {
		total.AvgBatchSize = float64(total.TotalItems) / float64(total.TotalBatches)
		total.AvgRunMs = float64(total.TotalRunNanos) / 1e6 / float64(total.TotalBatches)
	}
	return total
}

// Close releases every session and reports the first failure.
func (p *OnnxPool) Close() error {
	var firstErr error
	for _, c := range p.clients {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
