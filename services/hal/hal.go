// services/hal/hal.go
package hal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"dhtcode-go/bus"
	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/services/hal/internal/platform"
	"dhtcode-go/services/hal/internal/service"

	// Device builders register themselves.
	_ "dhtcode-go/services/hal/internal/devices/dht11"
)

// SimSensor scripts a simulated sensor line (see Options.Sim).
type SimSensor = platform.SimSensor

// Options selects the line backend.
type Options struct {
	// Sim replaces GPIO with simulated DHT11 lines keyed by line number.
	Sim     bool
	Sensors map[int]SimSensor
	Log     *slog.Logger
}

// Line is one GPIO line with the contract the DHT11 driver expects.
type Line = halcore.Line

// BusyDelay spins for driver delays on real hardware.
type BusyDelay = platform.BusyDelay

var ErrUnknownLine = errors.New("hal: no such line")

func openLines(opts Options) (halcore.LineFactory, error) {
	if opts.Sim {
		return platform.SimLineFactory(nil, opts.Sensors), nil
	}
	return platform.LinuxLineFactory()
}

// OpenLine resolves line n on the backend opts selects, for tools that
// drive a sensor directly instead of through the bus.
func OpenLine(n int, opts Options) (Line, error) {
	lines, err := openLines(opts)
	if err != nil {
		return nil, err
	}
	l, ok := lines.ByNumber(n)
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLine, n)
	}
	return l, nil
}

// Run serves the HAL on conn until ctx is cancelled. It fails only when
// the line backend cannot be opened.
func Run(ctx context.Context, conn *bus.Connection, opts Options) error {
	lines, err := openLines(opts)
	if err != nil {
		return err
	}
	service.New(conn, lines, platform.BusyDelay{}, opts.Log).Run(ctx)
	return nil
}
