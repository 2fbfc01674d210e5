package inference

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/brensch/gomokuzero/executor/convert"
	"github.com/brensch/gomokuzero/executor/mcts"
	"github.com/brensch/gomokuzero/game"
	"github.com/rs/zerolog/log"
	ort "github.com/yalue/onnxruntime_go"
)

const (
	DefaultBatchSize    = 128
	DefaultBatchTimeout = 1 * time.Millisecond
)

var ErrClosed = errors.New("onnx client closed")

type OnnxClientConfig struct {
	BoardSize    int
	BatchSize    int
	BatchTimeout time.Duration
	DisableCUDA  bool
}

// RuntimeStats are cumulative counters for one client (or a pool).
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
	count    int
	respChan chan inferenceResponse
}

type inferenceResponse struct {
	policy []float32
	value  []float32
	err    error
}

// OnnxClient implements mcts.Predictor using ONNX Runtime. Requests from
// every game sharing the client are merged into batches by a single loop.
//
// The model takes input [B, 1, N, N] and produces policy logits [B, N*N]
// and value [B, 1].
type OnnxClient struct {
	session      *ort.DynamicAdvancedSession
	requestsChan chan inferenceRequest
	cfg          OnnxClientConfig
	done         chan struct{}
	closeOnce    sync.Once

	batches  atomic.Int64
	items    atomic.Int64
	runNanos atomic.Int64
	last     atomic.Int64
}

var ortInitOnce sync.Once
var ortInitErr error

func NewOnnxClientWithConfig(modelPath string, cfg OnnxClientConfig) (*OnnxClient, error) {
	if cfg.BoardSize <= 0 {
		cfg.BoardSize = game.DefaultSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = DefaultBatchTimeout
	}

	if err := initRuntime(); err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, err
	}
	defer options.Destroy()

	// Many games share one session, so keep ORT's own thread pools small.
	options.SetIntraOpNumThreads(1)
	options.SetInterOpNumThreads(1)

	if !cfg.DisableCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err == nil {
			defer cudaOptions.Destroy()
			if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
				log.Warn().Err(err).Msg("failed to append CUDA provider")
			} else {
				log.Info().Msg("CUDA provider enabled")
			}
		} else {
			log.Warn().Err(err).Msg("failed to create CUDA options")
		}
	}

	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{"input"}, []string{"policy", "value"}, options)
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

	return client, nil
}

func initRuntime() error {
	if runtime.GOOS == "linux" {
		ensureLinuxLibraryPath()
		if p := os.Getenv("ORT_SHARED_LIBRARY_PATH"); p != "" {
			ort.SetSharedLibraryPath(p)
		} else if p := findSharedLibrary(); p != "" {
			ort.SetSharedLibraryPath(p)
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

// findSharedLibrary looks for libonnxruntime in the working directory and
// its parents, which covers both the binaries and `go test` in a package dir.
func findSharedLibrary() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	candidates := []string{"libonnxruntime.so", "libonnxruntime.so.1"}
	for up := 0; up < 6; up++ {
		for _, name := range candidates {
			abs := filepath.Join(dir, name)
			if _, err := os.Stat(abs); err == nil {
				return abs
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

func ensureLinuxLibraryPath() {
	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	// CUDA libraries installed via pip into the training venv.
	candidateDirs := []string{cwd}
	patterns := []string{
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "nvidia", "*", "lib"),
		filepath.Join(cwd, ".venv", "lib", "python*", "site-packages", "torch", "lib"),
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

func (c *OnnxClient) Stats() RuntimeStats {
	batches := c.batches.Load()
	items := c.items.Load()
	runNanos := c.runNanos.Load()
	st := RuntimeStats{
		TotalBatches:  batches,
		TotalItems:    items,
		TotalRunNanos: runNanos,
		LastBatchSize: c.last.Load(),
		QueueLen:      len(c.requestsChan),
	}
	if batches > 0 {
		st.AvgBatchSize = float64(items) / float64(batches)
		st.AvgRunMs = (float64(runNanos) / 1e6) / float64(batches)
	}
	return st
}

// Predict encodes the states and queues them as one request. The batch loop
// may merge it with requests from other games.
func (c *OnnxClient) Predict(ctx context.Context, states []*game.GameState) ([]mcts.Prediction, error) {
	if len(states) == 0 {
		return nil, nil
	}
	n := c.cfg.BoardSize
	per := convert.FloatSize(n)
	input := make([]float32, len(states)*per)
	for i, s := range states {
		if s.Size() != n {
			return nil, fmt.Errorf("state size %d, model expects %d", s.Size(), n)
		}
		convert.EncodeInto(input[i*per:(i+1)*per], s.PerspectiveState())
	}

	respChan := make(chan inferenceResponse, 1)
	select {
	case c.requestsChan <- inferenceRequest{input: input, count: len(states), respChan: respChan}:
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	var resp inferenceResponse
	select {
	case resp = <-respChan:
	case <-c.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if resp.err != nil {
		return nil, resp.err
	}

	actions := n * n
	out := make([]mcts.Prediction, len(states))
	for i := range out {
		out[i] = mcts.Prediction{
			Policy: mcts.Softmax(resp.policy[i*actions : (i+1)*actions]),
			Value:  resp.value[i],
		}
	}
	return out, nil
}

func (c *OnnxClient) batchLoop() {
	per := convert.FloatSize(c.cfg.BoardSize)
	batchInput := make([]float32, 0, c.cfg.BatchSize*per)
	requests := make([]inferenceRequest, 0, c.cfg.BatchSize)
	items := 0

	ticker := time.NewTicker(c.cfg.BatchTimeout)
	defer ticker.Stop()

	flush := func() {
		c.runBatch(requests, batchInput, items)
		requests = requests[:0]
		batchInput = batchInput[:0]
		items = 0
	}

	for {
		select {
		case <-c.done:
			c.failBatch(requests, ErrClosed)
			return
		case req := <-c.requestsChan:
			requests = append(requests, req)
			batchInput = append(batchInput, req.input...)
			items += req.count
			if items >= c.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			if len(requests) > 0 {
				flush()
			}
		}
	}
}

func (c *OnnxClient) runBatch(requests []inferenceRequest, batchInput []float32, items int) {
	n := int64(c.cfg.BoardSize)
	b := int64(items)
	start := time.Now()

	inputTensor, err := ort.NewTensor(ort.NewShape(b, convert.Channels, n, n), batchInput)
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer inputTensor.Destroy()

	policyTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(b, n*n))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer policyTensor.Destroy()

	valueTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(b, 1))
	if err != nil {
		c.failBatch(requests, err)
		return
	}
	defer valueTensor.Destroy()

	if err := c.session.Run([]ort.Value{inputTensor}, []ort.Value{policyTensor, valueTensor}); err != nil {
		c.failBatch(requests, err)
		return
	}

	c.batches.Add(1)
	c.items.Add(b)
	c.runNanos.Add(time.Since(start).Nanoseconds())
	c.last.Store(b)

	policyData := policyTensor.GetData()
	valueData := valueTensor.GetData()
	actions := int(n * n)

	offset := 0
	for _, req := range requests {
		policy := make([]float32, req.count*actions)
		copy(policy, policyData[offset*actions:(offset+req.count)*actions])
		value := make([]float32, req.count)
		copy(value, valueData[offset:offset+req.count])
		offset += req.count
		req.respChan <- inferenceResponse{policy: policy, value: value}
	}
}

func (c *OnnxClient) failBatch(requests []inferenceRequest, err error) {
	for _, req := range requests {
		req.respChan <- inferenceResponse{err: err}
	}
}
