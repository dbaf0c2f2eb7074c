// Command gesture classifies hand gestures from a 6-axis IMU streaming CSV
// lines over a serial port, and records labelled training data.
package main

import (
	"context"
	"os"

	"github.com/banshee-data/gesture/internal/monitoring"
)

func main() {
	err := newRootCmd().ExecuteContext(context.Background())
	monitoring.Sync()
	if err != nil {
		os.Exit(1)
	}
}
