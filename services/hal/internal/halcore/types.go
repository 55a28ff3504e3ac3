// services/hal/internal/halcore/types.go
package halcore

import (
	"context"
	"errors"
	"time"

	"dhtcode-go/x/conv"
)

// Reading is one datum for one capability kind.
type Reading struct {
	Kind    string // e.g. "temperature", "humidity"
	Payload any    // JSON-serialisable
	TsMs    int64  // producer timestamp (ms)
}

// Sample is a batch collected together.
type Sample []Reading

// CapInfo describes one capability's retained info document.
type CapInfo struct {
	Kind string // capability kind
	Info any    // small JSONable document
}

// Adaptor abstracts a concrete device/driver. Must not own goroutines or the bus.
type Adaptor interface {
	ID() string
	Capabilities() []CapInfo
	// Split-phase measurement cycle.
	Trigger(ctx context.Context) (collectAfter time.Duration, err error)
	Collect(ctx context.Context) (Sample, error)
	// Optional pass-through control for device-specific methods.
	Control(kind, method string, payload any) (result any, err error)
}

// Closer is implemented by adaptors that hold hardware until removed.
type Closer interface {
	Close() error
}

// WorkerConfig centralises timings and limits.
type WorkerConfig struct {
	TriggerTimeout time.Duration
	CollectTimeout time.Duration
	RetryBackoff   time.Duration
	MaxRetries     int
	InputQueueSize int
}

// MeasureReq asks a worker to service an adaptor.
type MeasureReq struct {
	ID      string
	Adaptor Adaptor
	Prio    bool // true for "read_now"
}

// Result emitted by a worker.
type Result struct {
	ID     string
	Sample Sample
	Err    error
}

var (
	// ErrNotReady signals the worker to retry Collect after backoff.
	ErrNotReady = errors.New("not ready")
	// ErrUnsupported for adaptor Control pass-through.
	ErrUnsupported = errors.New("unsupported")
)

// ---- Single-wire lines ----

// Line is one bidirectional GPIO line. Its method set matches the DHT11
// driver's pin contract, so any Line can be handed to the driver directly.
type Line interface {
	Init()
	Deinit()
	SetOutput(out bool)
	Set(level bool)
	Get() bool
	Number() int
}

// LineFaulter is implemented by lines whose primitives can fail. The pin
// contract has no error returns, so a fault is held until Err is called.
type LineFaulter interface {
	// Err returns the first fault since the previous call and clears it.
	Err() error
}

// Delayer provides blocking delays with ms and µs resolution.
type Delayer interface {
	DelayMS(ms uint32)
	DelayUS(us uint32)
}

// LineFactory supplies lines by the configured number scheme.
type LineFactory interface {
	ByNumber(n int) (Line, bool)
}

// LineBusID names the worker that owns line n. Every device on one line
// shares that worker, so cycles on a line never interleave.
func LineBusID(n int) string {
	return string(conv.AppendInt([]byte("gpio"), int64(n)))
}
