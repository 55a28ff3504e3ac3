// services/hal/internal/registry/registry.go
package registry

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"dhtcode-go/services/hal/internal/halcore"
)

// BuildInput is passed to a device builder.
type BuildInput struct {
	Ctx      context.Context
	Lines    halcore.LineFactory
	Delay    halcore.Delayer // used when the line does not keep its own time
	DeviceID string
	Type     string
	Params   any
	// Claim reserves line n for this device. It fails with
	// errcode.PinInUse when another device holds the line.
	Claim func(n int) error
}

// BuildOutput describes a constructed device.
type BuildOutput struct {
	Adaptor     halcore.Adaptor
	BusID       string        // worker that serialises access, e.g. "gpio4"
	SampleEvery time.Duration // 0 if not a periodic producer
	MinPeriod   time.Duration // floor for SampleEvery and set_rate
}

// Builder creates an adaptor from config and factories.
type Builder interface {
	Build(in BuildInput) (BuildOutput, error)
}

var (
	mu       sync.RWMutex
	builders = map[string]Builder{}
)

func RegisterBuilder(deviceType string, b Builder) {
	mu.Lock()
	defer mu.Unlock()
	if _, exists := builders[deviceType]; exists {
		panic(fmt.Sprintf("device builder already registered for type %q", deviceType))
	}
	builders[deviceType] = b
}

func Lookup(deviceType string) (Builder, bool) {
	mu.RLock()
	defer mu.RUnlock()
	b, ok := builders[deviceType]
	return b, ok
}

// Types lists the registered device types, sorted.
func Types() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(builders))
	for t := range builders {
		out = append(out, t)
	}
	slices.Sort(out)
	return out
}
