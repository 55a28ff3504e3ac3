// Package dht11 provides a driver for the DHT11 temperature/humidity sensor
// on a single bidirectional GPIO line. One acquisition cycle is three
// strictly ordered phases:
//
//	d.StartSignal()            // host pulls the line low 18 ms, releases it
//	st := d.CheckResponse()    // sensor ack: 80 µs low, 80 µs high
//	if st == dht11.Success {
//		err := d.ReadSensorData() // 40 bits, pulse-width encoded
//	}
//
// For convenience, d.Update() runs a whole cycle and validates the checksum.
//
// Every wait is a busy delay or a bounded busy poll on the injected Delayer;
// nothing here yields or can be cancelled. The caller must own the line
// exclusively for the whole cycle and must not start a new cycle sooner than
// MinInterval after the previous one.
package dht11

import (
	"errors"
	"time"
)

// Protocol timings (datasheet page 6).
const (
	startLowMS   = 18 // host start pulse, at least 18 ms
	startHighUS  = 30 // host release window, 20-40 µs
	ackFirstUS   = 40 // into the sensor's 80 µs low ack
	ackSecondUS  = 80 // into the sensor's 80 µs high ack
	ackSettleUS  = 40 // before the first data bit
	bitSampleUS  = 35 // 26-28 µs high is 0, 70 µs high is 1
	pollStepUS   = 1
	bytesPerRead = 5
)

// DefaultWaitTimeout is used when Config.WaitTimeout is zero.
const DefaultWaitTimeout = 10000

// MinWaitTimeout is the sensor's minimum per-bit phase; timeouts must exceed it.
const MinWaitTimeout = 50

// MinInterval is the minimum time between two acquisition cycles.
const MinInterval = 2 * time.Second

// Errors returned by the driver.
var (
	ErrNoResponse      = errors.New("dht11: sensor did not respond")
	ErrBadChecksum     = errors.New("dht11: bad checksum")
	ErrTimeout         = errors.New("dht11: timeout")
	ErrHighWaitTimeout = &timeoutError{"dht11: timeout waiting for line high"}
	ErrLowWaitTimeout  = &timeoutError{"dht11: timeout waiting for line low"}
	ErrInvalidTimeout  = errors.New("dht11: wait timeout must exceed 50us")
)

type timeoutError struct{ msg string }

func (e *timeoutError) Error() string        { return e.msg }
func (e *timeoutError) Is(target error) bool { return target == ErrTimeout }

// Pin is the GPIO line the sensor is attached to.
type Pin interface {
	Init()
	Deinit()
	SetOutput(out bool) // true: output, false: input
	Set(level bool)
	Get() bool
}

// Delayer provides blocking delays. Implementations must not yield.
type Delayer interface {
	DelayMS(ms uint32)
	DelayUS(us uint32)
}

// Config is fixed at construction.
type Config struct {
	// Pin is the line identifier, informational only.
	Pin int
	// WaitTimeout bounds every poll of the data phase, in µs. Must exceed
	// MinWaitTimeout. Zero selects DefaultWaitTimeout.
	WaitTimeout uint32
}

// Status tells whether the sensor acknowledged the start signal.
type Status uint8

const (
	NoResponse Status = iota
	Success
)

func (s Status) String() string {
	if s == Success {
		return "success"
	}
	return "no_response"
}

// Reading is the result of one acquisition cycle.
type Reading struct {
	Status      Status
	Humidity    uint8 // %RH, integral part
	Temperature uint8 // °C, integral part
	Checksum    uint8 // as transmitted

	// Err is the first byte timeout seen by ReadSensorData, nil otherwise.
	// The affected field reads 0xFF.
	Err error
}

// ChecksumValid reports whether the transmitted checksum matches the 8-bit
// sum of humidity and temperature.
func (r Reading) ChecksumValid() bool {
	return r.Checksum == r.Humidity+r.Temperature
}

// Device drives one DHT11 on one line.
type Device struct {
	pin   Pin
	delay Delayer
	cfg   Config

	reading Reading
}

// New creates a driver. It performs no I/O.
func New(pin Pin, delay Delayer, cfg Config) (*Device, error) {
	if cfg.WaitTimeout == 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if cfg.WaitTimeout <= MinWaitTimeout {
		return nil, ErrInvalidTimeout
	}
	return &Device{pin: pin, delay: delay, cfg: cfg}, nil
}

// Config returns the construction-time configuration.
func (d *Device) Config() Config { return d.cfg }

// Reading returns a copy of the current working result.
func (d *Device) Reading() Reading { return d.reading }

// Init prepares the line for use.
func (d *Device) Init() {
	d.pin.Init()
}

// Deinit leaves the line as an input and releases it. The device must not be
// used afterwards.
func (d *Device) Deinit() {
	d.pin.SetOutput(false)
	d.pin.Deinit()
}

// StartSignal requests a reading. Follow it immediately with CheckResponse.
func (d *Device) StartSignal() {
	d.reading = Reading{}
	d.pin.SetOutput(true)
	d.pin.Set(false)
	d.delay.DelayMS(startLowMS)
	d.pin.Set(true)
	d.delay.DelayUS(startHighUS)
	d.pin.SetOutput(false)
}

// CheckResponse samples the sensor's acknowledgment at fixed offsets and
// records the outcome in the reading status.
func (d *Device) CheckResponse() Status {
	d.reading.Status = NoResponse
	d.delay.DelayUS(ackFirstUS)
	if !d.pin.Get() {
		d.delay.DelayUS(ackSecondUS)
		if d.pin.Get() {
			d.reading.Status = Success
		}
		d.delay.DelayUS(ackSettleUS)
	}
	return d.reading.Status
}

// ReadSensorData reads humidity, temperature and checksum. Call it only after
// CheckResponse returned Success. A byte timeout does not stop the sequence;
// the remaining bytes are still read and the first timeout is returned.
func (d *Device) ReadSensorData() error {
	var raw [bytesPerRead]byte
	var first error
	for i := range raw {
		b, err := d.readByte()
		if err != nil && first == nil {
			first = err
		}
		raw[i] = b
	}
	// raw[1] and raw[3] are the decimal parts, always zero on a DHT11.
	d.reading.Humidity = raw[0]
	d.reading.Temperature = raw[2]
	d.reading.Checksum = raw[4]
	d.reading.Err = first
	return first
}

// readByte samples 8 bits MSB first. Every edge wait gets the full
// WaitTimeout budget. On timeout it returns 0xFF and the remaining bits of
// the byte are abandoned.
func (d *Device) readByte() (byte, error) {
	var b byte
	for bit := 7; bit >= 0; bit-- {
		if !d.waitFor(true) {
			return 0xFF, ErrHighWaitTimeout
		}
		d.delay.DelayUS(bitSampleUS)
		if !d.pin.Get() {
			continue
		}
		b |= 1 << bit
		if !d.waitFor(false) {
			return 0xFF, ErrLowWaitTimeout
		}
	}
	return b, nil
}

// waitFor polls the line in 1 µs steps until it reads level, giving up after
// WaitTimeout polls.
func (d *Device) waitFor(level bool) bool {
	for n := d.cfg.WaitTimeout; n > 0; n-- {
		if d.pin.Get() == level {
			return true
		}
		d.delay.DelayUS(pollStepUS)
	}
	return d.pin.Get() == level
}

// ChecksumCheck validates the current reading.
func (d *Device) ChecksumCheck() bool {
	return d.reading.ChecksumValid()
}
