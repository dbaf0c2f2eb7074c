package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/banshee-data/gesture/internal/acquire"
	"github.com/banshee-data/gesture/internal/api"
	"github.com/banshee-data/gesture/internal/config"
	"github.com/banshee-data/gesture/internal/db"
	"github.com/banshee-data/gesture/internal/metrics"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/sample"
	"github.com/banshee-data/gesture/internal/sink"
	"github.com/banshee-data/gesture/internal/timeutil"
)

func (a *app) newLiveCmd() *cobra.Command {
	var (
		port      string
		replay    string
		listen    string
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "live",
		Short: "Classify gestures from the sensor stream",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			if flags.Changed("port") {
				a.cfg.Serial.Port = port
			}
			if flags.Changed("replay") {
				a.cfg.Replay.Path = replay
			}
			if flags.Changed("listen") {
				a.cfg.HTTP.Listen = listen
			}
			if flags.Changed("threshold") {
				a.cfg.Decision.Threshold = threshold
			}
			if err := a.cfg.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runLive(ctx, a.cfg, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Serial device (overrides serial.port)")
	cmd.Flags().StringVar(&replay, "replay", "", "Replay a recorded CSV instead of reading the device")
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address for status, events and metrics")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Confidence threshold in [0, 1]")
	return cmd
}

// runLive wires the transport, the acquisition loop, the sinks and the
// optional HTTP server, and blocks until ctx is cancelled or the loop
// stops.
func runLive(ctx context.Context, cfg *config.Config, out io.Writer) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewPipeline(reg)

	p, err := buildPipeline(cfg, timeutil.RealClock{})
	if err != nil {
		return err
	}

	var sinks sink.Multi
	if cfg.Output.Console {
		sinks = append(sinks, sink.NewConsole(out))
	}
	if cfg.Output.MQTT.Broker != "" {
		mq, err := sink.DialMQTT(cfg.Output.MQTT)
		if err != nil {
			return err
		}
		defer mq.Close()
		sinks = append(sinks, mq)
	}
	var store *db.DB
	if cfg.Output.StoreEvents {
		store, err = db.NewDB(cfg.Recording.DBPath)
		if err != nil {
			return fmt.Errorf("open event store: %w", err)
		}
		defer store.Close()
		sinks = append(sinks, store)
	}
	var hub *sink.Hub
	if cfg.HTTP.Listen != "" {
		hub = sink.NewHub()
		defer hub.Close()
		sinks = append(sinks, hub)
	}

	tr, source, err := openTransport(cfg)
	if err != nil {
		return err
	}
	defer tr.Close()
	tr.Instrument(m)
	if err := tr.Initialize(cfg.Serial.InitCommands...); err != nil {
		return fmt.Errorf("failed to initialize device: %w", err)
	}
	id, lines := tr.Subscribe()
	defer tr.Unsubscribe(id)

	loop, err := acquire.New(acquire.Options{
		Config:     cfg.LoopConfig(),
		Lines:      lines,
		Parser:     sample.NewParser(cfg.Pipeline.Features),
		Window:     p.window,
		Scaler:     p.scaler,
		Classifier: p.adapter,
		Engine:     p.engine,
		Sink:       sinks,
		Metrics:    m,
	})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	var wg sync.WaitGroup

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := tr.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
			monitoring.Errorf("failed to monitor %s: %v", source, err)
		}
		monitoring.Debugf("monitor routine terminated")
	}()

	var httpErr error
	if cfg.HTTP.Listen != "" {
		mux := api.NewServer(api.Options{
			Status:    loop,
			Settings:  settings(cfg, p, source),
			Stream:    hub,
			Events:    eventStore(store),
			Commander: tr,
			Gatherer:  reg,
		}).ServeMux()
		tr.AttachAdminRoutes(mux)
		if store != nil {
			if err := store.AttachAdminRoutes(mux); err != nil {
				return err
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := api.ListenAndServe(ctx, cfg.HTTP.Listen, api.LoggingMiddleware(mux)); err != nil {
				httpErr = fmt.Errorf("http server: %w", err)
				cancel()
			}
		}()
	}

	monitoring.Logf("classifying gestures from %s", source)
	err = loop.Run(ctx)
	cancel()
	wg.Wait()

	switch {
	case httpErr != nil:
		return httpErr
	case errors.Is(err, context.Canceled):
		monitoring.Logf("shutting down")
		return nil
	case errors.Is(err, acquire.ErrSourceClosed) && cfg.Replay.Path != "":
		monitoring.Logf("replay of %s finished", cfg.Replay.Path)
		return nil
	}
	return err
}

// eventStore keeps a nil *db.DB from becoming a non-nil interface.
func eventStore(store *db.DB) api.EventStore {
	if store == nil {
		return nil
	}
	return store
}

func settings(cfg *config.Config, p *pipeline, source string) api.Settings {
	return api.Settings{
		Labels:            p.model.Labels,
		Features:          cfg.Pipeline.Features,
		WindowSize:        p.window.Cap(),
		Threshold:         cfg.Decision.Threshold,
		Policy:            cfg.Decision.Policy,
		MinInterval:       cfg.Decision.MinInterval.String(),
		InferenceInterval: cfg.Pipeline.InferenceInterval.String(),
		Source:            source,
	}
}
