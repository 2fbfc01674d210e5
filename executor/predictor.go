package main

import (
	"fmt"
	"io"
	"os"

	"github.com/brensch/gomokuzero/config"
	"github.com/brensch/gomokuzero/executor/inference"
	"github.com/brensch/gomokuzero/executor/mcts"
)

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// newPredictor builds the evaluator named by cfg.Predictor.Kind. The
// returned stats function is nil unless the evaluator batches requests.
func newPredictor(cfg *config.Config) (mcts.Predictor, io.Closer, func() inference.RuntimeStats, error) {
	pc := cfg.Predictor
	switch pc.Kind {
	case "uniform":
		return inference.Uniform{}, nopCloser{}, nil, nil
	case "rollout":
		return inference.NewRollout(pc.Playouts, pc.Seed), nopCloser{}, nil, nil
	case "onnx":
		if _, err := os.Stat(pc.ModelPath); err != nil {
			return nil, nil, nil, fmt.Errorf("model file %s: %w", pc.ModelPath, err)
		}
		onnxCfg := inference.OnnxClientConfig{
			BoardSize:    cfg.BoardSize,
			BatchSize:    pc.BatchSize,
			BatchTimeout: pc.BatchTimeout,
			DisableCUDA:  pc.DisableCUDA,
		}
		if pc.Sessions <= 1 {
			c, err := inference.NewOnnxClientWithConfig(pc.ModelPath, onnxCfg)
			if err != nil {
				return nil, nil, nil, err
			}
			return c, c, c.Stats, nil
		}
		pool, err := inference.NewOnnxClientPool(pc.ModelPath, pc.Sessions, onnxCfg)
		if err != nil {
			return nil, nil, nil, err
		}
		return pool, pool, pool.Stats, nil
	}
	return nil, nil, nil, fmt.Errorf("unknown predictor kind %q", pc.Kind)
}
