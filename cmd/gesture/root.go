package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/banshee-data/gesture/internal/config"
	"github.com/banshee-data/gesture/internal/monitoring"
	"github.com/banshee-data/gesture/internal/version"
)

// app holds state shared by the subcommands once the root has loaded the
// configuration.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "gesture",
		Short: "Real-time gesture recognition from a 6-axis IMU stream",
		Long: `gesture reads accelerometer and gyroscope samples from a serial device,
classifies a sliding window of motion with a trained model and reports
gestures as they change. The record command captures labelled samples for
training.

Configuration is read from --config (or $GESTURE_CONFIG) and overridden by
GESTURE_* environment variables, e.g. GESTURE_DECISION__THRESHOLD=0.9.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to YAML configuration file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level: debug, info, warn or error")

	root.AddCommand(
		a.newLiveCmd(),
		a.newRecordCmd(),
		a.newRecordingsCmd(),
		newVersionCmd(),
	)
	return root
}

// setup loads the configuration and initialises logging.
func (a *app) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := monitoring.Init(cfg.Logging); err != nil {
		return fmt.Errorf("%w: logging: %v", config.ErrInvalidConfig, err)
	}
	a.cfg = cfg
	monitoring.Debugf("%s starting with config %q", version.String(), a.configPath)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		// version needs no configuration
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.String())
		},
	}
}
