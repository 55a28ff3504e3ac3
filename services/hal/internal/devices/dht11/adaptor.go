// services/hal/internal/devices/dht11/adaptor.go
package dht11

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tinygo.org/x/drivers"

	dhtdrv "dhtcode-go/drivers/dht11"
	"dhtcode-go/errcode"
	"dhtcode-go/services/hal/internal/consts"
	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/services/hal/internal/halerr"
	"dhtcode-go/services/hal/internal/registry"
	"dhtcode-go/services/hal/internal/util"
	"dhtcode-go/types"
)

// Register this device type with the registry.
func init() {
	registry.RegisterBuilder("dht11", dht11Builder{})
}

// DefaultInterval is the polling period when none is configured.
const DefaultInterval = 5 * time.Second

// Params: { "pin": 4, "timeout_us": 10000, "unit": "C", "interval_ms": 5000 }
type Params struct {
	Pin        int    `json:"pin"`
	TimeoutUS  uint32 `json:"timeout_us,omitempty"`
	Unit       string `json:"unit,omitempty"` // "C" (default) or "F"
	IntervalMS int    `json:"interval_ms,omitempty"`
}

type dht11Builder struct{}

func (dht11Builder) Build(in registry.BuildInput) (registry.BuildOutput, error) {
	var p Params
	if err := util.DecodeJSON(in.Params, &p); err != nil {
		return registry.BuildOutput{}, &errcode.E{C: errcode.InvalidParams, Op: "dht11", Err: err}
	}
	unit, err := parseUnit(p.Unit)
	if err != nil {
		return registry.BuildOutput{}, err
	}
	if in.Claim != nil {
		if err := in.Claim(p.Pin); err != nil {
			return registry.BuildOutput{}, err
		}
	}
	line, ok := in.Lines.ByNumber(p.Pin)
	if !ok {
		return registry.BuildOutput{}, fmt.Errorf("%w %d", halerr.ErrUnknownPin, p.Pin)
	}
	// A line that keeps its own time (simulation) also supplies the delays.
	delay, ok := line.(halcore.Delayer)
	if !ok {
		delay = in.Delay
	}
	if delay == nil {
		return registry.BuildOutput{}, &errcode.E{C: errcode.HALNotReady, Op: "dht11", Msg: "no delay source"}
	}
	dev, err := dhtdrv.New(line, delay, dhtdrv.Config{Pin: p.Pin, WaitTimeout: p.TimeoutUS})
	if err != nil {
		return registry.BuildOutput{}, err
	}
	dev.Init()

	every := DefaultInterval
	if p.IntervalMS > 0 {
		every = time.Duration(p.IntervalMS) * time.Millisecond
	}
	return registry.BuildOutput{
		Adaptor:     newAdaptor(in.DeviceID, dev, unit, line),
		BusID:       halcore.LineBusID(p.Pin),
		SampleEvery: every,
		MinPeriod:   dhtdrv.MinInterval,
	}, nil
}

func parseUnit(s string) (dhtdrv.Unit, error) {
	switch s {
	case "", "C", "c", "celsius":
		return dhtdrv.Celsius, nil
	case "F", "f", "fahrenheit":
		return dhtdrv.Fahrenheit, nil
	default:
		return 0, fmt.Errorf("%w %q", halerr.ErrInvalidUnit, s)
	}
}

// adaptor maps one driver cycle onto a HAL sample. Trigger and Collect run
// on the line's worker; Control and Close run on the service goroutine, so
// the device is guarded by mu.
type adaptor struct {
	id   string
	unit dhtdrv.Unit
	now  func() time.Time

	mu       sync.Mutex
	dev      *dhtdrv.Device
	faults   halcore.LineFaulter // nil when the line cannot fail
	last     time.Time           // start of the previous cycle
	released bool
}

func newAdaptor(id string, dev *dhtdrv.Device, unit dhtdrv.Unit, line halcore.Line) *adaptor {
	a := &adaptor{id: id, dev: dev, unit: unit, now: time.Now}
	a.faults, _ = line.(halcore.LineFaulter)
	return a
}

// lineFault reports a fault the line recorded during the last cycle. It
// outranks the protocol outcome, which a broken line only disguises.
func (a *adaptor) lineFault() error {
	if a.faults == nil {
		return nil
	}
	if err := a.faults.Err(); err != nil {
		return &errcode.E{C: errcode.LineFault, Op: "dht11", Msg: a.id, Err: err}
	}
	return nil
}

func (a *adaptor) ID() string { return a.id }

func (a *adaptor) Capabilities() []halcore.CapInfo {
	cfg := a.dev.Config()
	info := func(unit string) types.SensorInfo {
		return types.SensorInfo{
			Sensor:        "dht11",
			Pin:           cfg.Pin,
			Unit:          unit,
			Precision:     1,
			TimeoutUS:     cfg.WaitTimeout,
			SchemaVersion: 1,
		}
	}
	return []halcore.CapInfo{
		{Kind: consts.KindTemperature, Info: info(a.unit.String())},
		{Kind: consts.KindHumidity, Info: info("%RH")},
	}
}

// Trigger does no I/O; it defers collection until the sensor's minimum
// sampling interval has passed since the previous cycle.
func (a *adaptor) Trigger(ctx context.Context) (time.Duration, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return 0, errcode.HALNotReady
	}
	if a.last.IsZero() {
		return 0, nil
	}
	wait := dhtdrv.MinInterval - a.now().Sub(a.last)
	if wait < 0 {
		wait = 0
	}
	return wait, nil
}

// Collect runs Start Signal, Check Response and Read Sensor Data. A cycle
// blocks for about 25 ms and is not interrupted by ctx once started.
func (a *adaptor) Collect(ctx context.Context) (halcore.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.released {
		return nil, errcode.HALNotReady
	}
	a.last = a.now()
	err := a.dev.Update(drivers.Temperature | drivers.Humidity)
	if ferr := a.lineFault(); ferr != nil {
		return nil, ferr
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.id, err)
	}
	res, err := a.dev.Report(a.unit)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", a.id, err)
	}
	ts := a.last.UnixMilli()
	return halcore.Sample{
		{Kind: consts.KindTemperature, Payload: types.TemperatureValue{
			Deci: int16(res.Temperature * 10),
			Unit: res.Unit.String(),
			TSms: ts,
		}, TsMs: ts},
		{Kind: consts.KindHumidity, Payload: types.HumidityValue{
			RHx100: uint16(res.Humidity) * 100,
			TSms:   ts,
		}, TsMs: ts},
	}, nil
}

// Control supports "deinit" (release the line) and "init" (claim it again).
func (a *adaptor) Control(kind, method string, payload any) (any, error) {
	switch method {
	case consts.CtrlDeinit:
		a.release()
		return types.OKReply{OK: true}, nil
	case consts.CtrlInit:
		a.mu.Lock()
		if a.released {
			a.dev.Init()
			a.released = false
		}
		a.mu.Unlock()
		return types.OKReply{OK: true}, nil
	default:
		return nil, halcore.ErrUnsupported
	}
}

func (a *adaptor) Close() error {
	a.release()
	return nil
}

func (a *adaptor) release() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.released {
		a.dev.Deinit()
		a.released = true
	}
}
