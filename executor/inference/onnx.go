package inference

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/sidestacker/executor/convert"
	"github.com/brensch/sidestacker/game"
	"github.com/brensch/sidestacker/metrics"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	InputSize  = convert.Channels * convert.Height * convert.Width
	PolicySize = game.ActionSize
	ValueSize  = 1
)

const (
	DefaultBatchSize    = 64
	DefaultBatchTimeout = 1 * time.Millisecond
)

type OnnxClientConfig struct {
	BatchSize    int
	BatchTimeout time.Duration
	// LibraryPath overrides ORT_SHARED_LIBRARY_PATH and the working
	// directory lookup.
	LibraryPath string
	DisableCUDA bool
}

// RuntimeStats is a snapshot of a client's batching counters.
type RuntimeStats struct {
	TotalBatches  int64
	TotalItems    int64
	TotalRunNanos int64
	LastBatchSize int64
	QueueLen      int
	AvgBatchSize  float64
	AvgRunMs      float64
}

type inferenceRequest struct {
	input    []float32
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  float32
	err    error
}

// OnnxClient implements the inference engine using ONNX Runtime with batching.
// Concurrent Predict calls are coalesced into one session run.
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	done         chan struct{}
	closeOnce    sync.Once
	cfg          OnnxClientConfig

	totalBatches  atomic.Int64
	totalItems    atomic.Int64
	totalRunNanos atomic.Int64
	lastBatchSize atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClient(modelPath string) (*OnnxClient, error) {
	return NewOnnxClientWithConfig(modelPath, OnnxClientConfig{BatchSize: DefaultBatchSize, BatchTimeout: DefaultBatchTimeout})
}

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}
	if _, err := os.Stat(modelPath); err != nil {
		return nil, fmt.Errorf("model %s: %w", modelPath, err)
	}

	if err := initEnvironment(cfg.LibraryPath); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	inputs := []string{"input"}
	outputs := []string{"policy", "value"}

	// Many searches share one session; keep ORT from oversubscribing cores.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if !cfg.DisableCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("cuda provider unavailable, using cpu")
			} else {
				log.Info().Msg("cuda provider enabled")
			}
		} else {
			log.Debug().Err(err).Msg("failed to create cuda options")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, inputs, outputs, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	client := &OnnxClient{
		session:      session,
		cfg:          cfg,
		requestsChan: make(chan inferenceRequest, cfg.BatchSize*2),
		done:         make(chan struct{}),
	}

	go client.batchLoop()

	log.Info().
		Str("model", modelPath).
		Int("batch_size", cfg.BatchSize).
		Dur("batch_timeout", cfg.BatchTimeout).
		Msg("onnx session ready")

	return client, nil
}

func initEnvironment(libraryPath string) error {
	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
	}
	switch {
	case libraryPath != "":
		ort.SetSharedLibraryPath(libraryPath)
	case os.Getenv("ORT_SHARED_LIBRARY_PATH") != "":
		ort.SetSharedLibraryPath(os.Getenv("ORT_SHARED_LIBRARY_PATH"))
	case runtime.GOOS == "linux":
		cwd, _ := os.Getwd()
		for _, name := range []string{"libonnxruntime.so", "libonnxruntime.so.1"} {
			abs := filepath.Join(cwd, name)
			if _, err := os.Stat(abs); err == nil {
				ort.SetSharedLibraryPath(abs)
				break
			}
		}
	}

	ortInitOnce.Do(func() {
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("failed to init ort: %w", ortInitErr)
	}
	return nil
}

// ensureLinuxLibraryPath prepends the working directory and any CUDA libraries
// shipped inside a local .venv to LD_LIBRARY_PATH.
func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "onnxruntime", "capi"),
	}
	for _, pat := range patterns {
		matches, _ := filepath.Glob(pat)
		candidateDirs = append(candidateDirs, matches...)
	}

	existing := os.Getenv("LD_LIBRARY_PATH")
	existingSet := map[string]bool{}
	for _, p := range strings.Split(existing, ":") {
		if p != "" {
			existingSet[p] = true
		}
	}

	toAdd := make([]string, 0, len(candidateDirs))
	for _, d := range candidateDirs {
		if existingSet[d] {
			continue
		}
		if st, err := os.Stat(d); err == nil && st.IsDir() {
			toAdd = append(toAdd, d)
		}
	}
	if len(toAdd) == 0 {
		return
	}

	newVal := strings.Join(toAdd, ":")
	if existing != "" {
		newVal = newVal + ":" + existing
	}
	_ = os.Setenv("LD_LIBRARY_PATH", newVal)
}

func (c *OnnxClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.session.Destroy()
	})
	return err
}

// Predict queues one encoded position and waits for its batch to run. The
// returned policy is a softmax distribution over all actions.
func (c *OnnxClient) Predict(planes []float32) ([]float32, float32, error) {
	if len(planes) != InputSize {
		return nil, 0, fmt.Errorf("input has %d floats, want %d", len(planes), InputSize)
	}
	input := make([]float32, InputSize)
	copy(input, planes)

	respChan := make(chan inferenceResponse, 1)
	select {
	case c.requestsChan <- inferenceRequest{input: input, respChan: respChan}:
	case <-c.done:
		return nil, 0, fmt.Errorf("onnx client closed")
	}

	select {
	case resp := <-respChan:
		return resp.policy, resp.value, resp.err
	case <-c.done:
		return nil, 0, fmt.Errorf("onnx client closed")
	}
}

func (c *OnnxClient) Stats() RuntimeStats {
	batches := c.totalBatches.Load()
	items := c.totalItems.Load()
	runNanos := c.totalRunNanos.Load()
	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: c.lastBatchSize.Load(),
		QueueLen:      len(c.requestsChan),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}

func (c *OnnxClient) batchLoop() {
	batchInput := make([]float32, 0, c.cfg.BatchSize*InputSize)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			c.failBatch(requests, fmt.Errorf("onnx client closed"))
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)

			if len(requests) >= c.cfg.BatchSize {
				c.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		case <-ticker.C:
			if len(requests) > 0 {
				c.runBatch(requests, batchInput)
				requests = requests[:0]
				batchInput = batchInput[:0]
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32) {
	currentBatchSize := int64(len(requests))

	inputShape := ort.NewShape(currentBatchSize, convert.Channels, convert.Height, convert.Width)
	inputTensor, err := ort.NewTensor(inputShape, batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, PolicySize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(currentBatchSize, ValueSize))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	start := time.Now()
	err = c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor})
	elapsed := time.Since(start)
	if err != nil {
		c.failBatch(requests, err)
		return
	}

	c.totalBatches.Add(1)
	c.totalItems.Add(currentBatchSize)
	c.totalRunNanos.Add(elapsed.Nanoseconds())
	c.lastBatchSize.Store(currentBatchSize)
	metrics.InferenceBatchSize.Observe(float64(currentBatchSize))
	metrics.InferenceDuration.Observe(elapsed.Seconds())

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()

	for i, req := range requests {
		policy := make([]float32, PolicySize)
		copy(policy, policyData[i*PolicySize:(i+1)*PolicySize])
		Softmax(policy)

		req.respChan <- inferenceResponse{
			policy: policy,
			value:  valueData[i*ValueSize],
		}
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
