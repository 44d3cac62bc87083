package inference

import (
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/brensch/sidestacker/executor/convert"
	"github.com/brensch/sidestacker/executor/mcts"
	"github.com/brensch/sidestacker/rules"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu     sync.Mutex
	calls  int
	closed bool
	err    error
	stats  RuntimeStats
}

func (f *fakeSession) Predict(planes []float32) ([]float32, float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, 0, f.err
	}
	return make([]float32, PolicySize), 0.5, nil
}

func (f *fakeSession) Stats() RuntimeStats { return f.stats }

func (f *fakeSession) Close() error {
	f.closed = true
	return f.err
}

func TestSoftmax(t *testing.T) {
	logits := []float32{1, 2, 3}
	Softmax(logits)

	sum := float32(0)
	for _, p := range logits {
		require.Positive(t, p)
		sum += p
	}
	require.InDelta(t, 1.0, sum, 1e-6)
	require.Greater(t, logits[2], logits[1])
	require.Greater(t, logits[1], logits[0])

	// Large logits must not overflow.
	big := []float32{1000, 1000}
	Softmax(big)
	require.InDelta(t, 0.5, big[0], 1e-6)
}

func TestPoolRoundRobin(t *testing.T) {
	a, b := &fakeSession{}, &fakeSession{}
	p := &OnnxPool{clients: []sessionClient{a, b}}

	planes := convert.Encode(rules.InitialState())
	for i := 0; i < 6; i++ {
		policy, value, err := p.Predict(planes)
		require.NoError(t, err)
		require.Len(t, policy, PolicySize)
		require.Equal(t, float32(0.5), value)
	}
	require.Equal(t, 3, a.calls)
	require.Equal(t, 3, b.calls)
}

func TestPoolStatsAggregate(t *testing.T) {
	a := &fakeSession{stats: RuntimeStats{TotalBatches: 2, TotalItems: 10, TotalRunNanos: 4e6, LastBatchSize: 6, QueueLen: 1}}
	b := &fakeSession{stats: RuntimeStats{TotalBatches: 3, TotalItems: 5, TotalRunNanos: 6e6, LastBatchSize: 2, QueueLen: 2}}
	p := &OnnxPool{clients: []sessionClient{a, b}}

	st := p.Stats()
	require.Equal(t, int64(5), st.TotalBatches)
	require.Equal(t, int64(15), st.TotalItems)
	require.Equal(t, int64(6), st.LastBatchSize)
	require.Equal(t, 3, st.QueueLen)
	require.InDelta(t, 3.0, st.AvgBatchSize, 1e-9)
	require.InDelta(t, 2.0, st.AvgRunMs, 1e-9)
}

func TestPoolCloseReportsFirstError(t *testing.T) {
	boom := errors.New("boom")
	a, b := &fakeSession{err: boom}, &fakeSession{}
	p := &OnnxPool{clients: []sessionClient{a, b}}

	require.ErrorIs(t, p.Close(), boom)
	require.True(t, a.closed)
	require.True(t, b.closed)
}

func TestEmptyPool(t *testing.T) {
	_, _, err := (&OnnxPool{}).Predict(make([]float32, InputSize))
	require.Error(t, err)
}

// Guided search and self-play take the pool directly as their evaluator.
var _ mcts.Predictor = (*OnnxPool)(nil)

func TestClientRejectsWrongInputSize(t *testing.T) {
	c := &OnnxClient{}
	_, _, err := c.Predict(make([]float32, 3))
	require.Error(t, err)
}

func TestMissingModel(t *testing.T) {
	_, err := NewOnnxClient("does-not-exist.onnx")
	require.ErrorIs(t, err, os.ErrNotExist)
}

// BenchmarkOnnxPredict needs SIDESTACKER_BENCH_ONNX_MODEL pointing at an
// exported model and a loadable onnxruntime library.
func BenchmarkOnnxPredict(b *testing.B) {
	modelPath := os.Getenv("SIDESTACKER_BENCH_ONNX_MODEL")
	if modelPath == "" {
		b.Skip("SIDESTACKER_BENCH_ONNX_MODEL not set; skipping")
	}
	client, err := NewOnnxClientWithConfig(modelPath, OnnxClientConfig{
		BatchSize:   DefaultBatchSize,
		DisableCUDA: os.Getenv("SIDESTACKER_ORT_DISABLE_CUDA") != "",
	})
	if err != nil {
		b.Skipf("onnx client unavailable: %v", err)
	}
	defer client.Close()

	planes := convert.Encode(rules.InitialState())
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if _, _, err := client.Predict(planes); err != nil {
				b.Error(err)
				return
			}
		}
	})
	b.StopTimer()
	st := client.Stats()
	b.ReportMetric(st.AvgBatchSize, "batch")
}
