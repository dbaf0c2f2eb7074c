package main

import (
	"fmt"

	"github.com/banshee-data/gesture/internal/classifier"
	"github.com/banshee-data/gesture/internal/config"
	"github.com/banshee-data/gesture/internal/decision"
	"github.com/banshee-data/gesture/internal/metrics"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/normalize"
	"github.com/banshee-data/gesture/internal/serialmux"
	"github.com/banshee-data/gesture/internal/timeutil"
	"github.com/banshee-data/gesture/internal/window"
)

// transport is the line source shared by the real device and replay.
type transport interface {
	serialmux.SerialMuxInterface
	SetBuffer(n int)
	Instrument(m *metrics.Pipeline)
}

// pipeline holds the loaded model artifacts and the per-run state built
// from them.
type pipeline struct {
	model   classifier.Model
	adapter *classifier.Adapter
	scaler  *normalize.Scaler
	window  *window.Buffer
	engine  *decision.Engine
}

// buildPipeline loads the model and scaler and checks them against the
// configured window. Any disagreement is fatal before the first sample is
// read.
func buildPipeline(cfg *config.Config, clock timeutil.Clock) (*pipeline, error) {
	features := cfg.Pipeline.Features
	size := cfg.WindowSize()

	scaler, err := normalize.LoadScaler(cfg.Model.ScalerPath)
	if err != nil {
		return nil, fmt.Errorf("load scaler: %w", err)
	}
	if err := scaler.CheckFeatures(features); err != nil {
		return nil, fmt.Errorf("scaler %s: %w", cfg.Model.ScalerPath, err)
	}

	model, lin, err := classifier.Load(cfg.Model.Path)
	if err != nil {
		return nil, fmt.Errorf("load model: %w", err)
	}
	adapter, err := classifier.NewAdapter(model, lin, size, features)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", cfg.Model.Path, err)
	}

	win, err := window.New(size, features)
	if err != nil {
		return nil, err
	}
	engineCfg, err := cfg.EngineConfig(model.Labels)
	if err != nil {
		return nil, err
	}
	engine, err := decision.NewEngine(engineCfg, clock)
	if err != nil {
		return nil, err
	}

	monitoring.Logf("model %s: %d labels %v, input shape %v, %s output; window %d x %d",
		cfg.Model.Path, len(model.Labels), model.Labels, model.InputShape, model.Output, size, features)
	return &pipeline{
		model:   model,
		adapter: adapter,
		scaler:  scaler,
		window:  win,
		engine:  engine,
	}, nil
}

// openTransport opens the replay file when one is configured and the
// serial device otherwise. The returned string describes the source.
func openTransport(cfg *config.Config) (transport, string, error) {
	var tr transport
	var source string
	if cfg.Replay.Path != "" {
		mux, err := serialmux.NewReplaySerialMux(serialmux.ReplayOptions{
			Path:     cfg.Replay.Path,
			RateHz:   cfg.Replay.RateHz,
			Loop:     cfg.Replay.Loop,
			Features: cfg.Pipeline.Features,
		})
		if err != nil {
			return nil, "", fmt.Errorf("open replay: %w", err)
		}
		tr, source = mux, "replay:"+cfg.Replay.Path
	} else {
		mux, err := serialmux.NewRealSerialMux(cfg.Serial.Port, cfg.Serial.PortOptions())
		if err != nil {
			return nil, "", fmt.Errorf("open serial port %s: %w", cfg.Serial.Port, err)
		}
		tr, source = mux, cfg.Serial.Port
	}
	tr.SetBuffer(cfg.Serial.Buffer)
	return tr, source, nil
}
