//go:build linux

// services/hal/internal/platform/periph_linux.go
package platform

import (
	"fmt"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"

	"dhtcode-go/services/hal/internal/halcore"
)

// LinuxLineFactory initialises the periph.io host drivers and resolves
// lines by BCM number ("GPIO<n>").
func LinuxLineFactory() (halcore.LineFactory, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("periph host init: %w", err)
	}
	return &periphLines{lines: map[int]*periphLine{}}, nil
}

type periphLines struct {
	mu    sync.Mutex
	lines map[int]*periphLine
}

func (f *periphLines) ByNumber(n int) (halcore.Line, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lines[n]; ok {
		return l, true
	}
	p := gpioreg.ByName(fmt.Sprintf("GPIO%d", n))
	if p == nil {
		return nil, false
	}
	l := &periphLine{n: n, pin: p, level: gpio.High}
	f.lines[n] = l
	return l, true
}

// periphLine adapts a periph pin to the driver's line contract. The
// contract has no error returns, so the first failure is kept for Err.
type periphLine struct {
	n      int
	pin    gpio.PinIO
	output bool
	level  gpio.Level
	err    error
}

func (l *periphLine) Number() int { return l.n }

// Init idles the line released (pulled up) so the sensor sees high.
func (l *periphLine) Init() {
	l.output = false
	l.keep(l.pin.In(gpio.PullUp, gpio.NoEdge))
}

func (l *periphLine) Deinit() {
	l.output = false
	l.keep(l.pin.Halt())
}

func (l *periphLine) SetOutput(out bool) {
	l.output = out
	if out {
		l.keep(l.pin.Out(l.level))
		return
	}
	l.keep(l.pin.In(gpio.PullUp, gpio.NoEdge))
}

func (l *periphLine) Set(level bool) {
	l.level = gpio.Level(level)
	if l.output {
		l.keep(l.pin.Out(l.level))
	}
}

func (l *periphLine) Get() bool { return l.pin.Read() == gpio.High }

// Err returns the first pin error since the previous call and clears it.
func (l *periphLine) Err() error {
	err := l.err
	l.err = nil
	return err
}

func (l *periphLine) keep(err error) {
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("GPIO%d: %w", l.n, err)
	}
}
