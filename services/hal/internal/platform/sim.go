// services/hal/internal/platform/sim.go
package platform

import (
	"sync"

	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/x/pinsim"
)

// SimSensor scripts what a simulated DHT11 sends.
type SimSensor struct {
	Humidity    uint8
	Temperature uint8
	Corrupt     bool // checksum off by one
	Absent      bool // never acknowledges
}

func (s SimSensor) frame() pinsim.Waveform {
	switch {
	case s.Absent:
		return nil
	case s.Corrupt:
		return pinsim.DHT11Frame(s.Humidity, s.Temperature, s.Humidity+s.Temperature+1)
	default:
		return pinsim.Valid(s.Humidity, s.Temperature)
	}
}

// SimLines hands out simulated lines for the configured numbers only.
// Lines keep the factory clock's time, so the driver's delays run on it.
type SimLines struct {
	mu    sync.Mutex
	clock pinsim.Clock
	lines map[int]*pinsim.Line
}

var _ halcore.LineFactory = (*SimLines)(nil)

// SimLineFactory builds a factory on clock (a virtual clock when nil).
func SimLineFactory(clock pinsim.Clock, sensors map[int]SimSensor) *SimLines {
	if clock == nil {
		clock = &pinsim.VirtualClock{}
	}
	f := &SimLines{clock: clock, lines: map[int]*pinsim.Line{}}
	for n, s := range sensors {
		f.lines[n] = pinsim.NewLine(clock, n, s.frame())
	}
	return f
}

func (f *SimLines) ByNumber(n int) (halcore.Line, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lines[n]
	if !ok {
		return nil, false
	}
	return l, true
}

// Line exposes the simulated line for inspection.
func (f *SimLines) Line(n int) (*pinsim.Line, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l, ok := f.lines[n]
	return l, ok
}

// Set changes what the sensor on line n sends from the next cycle on,
// adding the line if it does not exist yet.
func (f *SimLines) Set(n int, s SimSensor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.lines[n]; ok {
		l.SetFrame(s.frame())
		return
	}
	f.lines[n] = pinsim.NewLine(f.clock, n, s.frame())
}
