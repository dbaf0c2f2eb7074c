package main

import (
	"context"
	"errors"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/banshee-data/gesture/internal/config"
	"github.com/banshee-data/gesture/internal/db"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/recorder"
	"github.com/banshee-data/gesture/internal/sample"
)

func (a *app) newRecordCmd() *cobra.Command {
	var (
		port    string
		csvPath string
		noDB    bool
	)
	cmd := &cobra.Command{
		Use:   "record",
		Short: "Record labelled training samples to CSV",
		Long: `record prompts for a gesture name, a sample count and a sampling rate,
then appends that many samples from the sensor to the CSV file, labelled
with the gesture name. Each session is also catalogued in the recordings
database unless --no-db is given.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("port") {
				a.cfg.Serial.Port = port
			}
			if cmd.Flags().Changed("csv") {
				a.cfg.Recording.CSVPath = csvPath
			}
			if noDB {
				a.cfg.Recording.DBPath = ""
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runRecord(ctx, a.cfg, cmd)
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "Serial device (overrides serial.port)")
	cmd.Flags().StringVar(&csvPath, "csv", "", "CSV file to append to (overrides recording.csv_path)")
	cmd.Flags().BoolVar(&noDB, "no-db", false, "Do not catalogue sessions in the recordings database")
	return cmd
}

// runRecord runs the interactive recorder. A transport that cannot be
// opened is not fatal: every session is then skipped.
func runRecord(ctx context.Context, cfg *config.Config, cmd *cobra.Command) error {
	var wg sync.WaitGroup
	defer wg.Wait()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var lines <-chan string
	tr, source, err := openTransport(cfg)
	if err != nil {
		monitoring.Warnf("recording without a sensor: %v", err)
	} else {
		defer tr.Close()
		if err := tr.Initialize(cfg.Serial.InitCommands...); err != nil {
			monitoring.Warnf("failed to initialize %s: %v", source, err)
		}
		id, ch := tr.Subscribe()
		defer tr.Unsubscribe(id)
		lines = ch

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := tr.Monitor(ctx); err != nil && !errors.Is(err, context.Canceled) {
				monitoring.Errorf("failed to monitor %s: %v", source, err)
			}
		}()
	}

	var catalog recorder.Catalog
	if cfg.Recording.DBPath != "" {
		store, err := db.NewDB(cfg.Recording.DBPath)
		if err != nil {
			return err
		}
		defer store.Close()
		catalog = store
	}

	rec, err := recorder.New(recorder.Options{
		In:            cmd.InOrStdin(),
		Out:           cmd.OutOrStdout(),
		Lines:         lines,
		Parser:        sample.NewParser(cfg.Pipeline.Features),
		CSVPath:       cfg.Recording.CSVPath,
		Catalog:       catalog,
		Countdown:     cfg.Recording.Countdown,
		DiscardQueued: true,
	})
	if err != nil {
		return err
	}
	err = rec.Run(ctx)
	cancel()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
