package dht11

import "dhtcode-go/x/conv"

// Unit selects the temperature unit of a Result.
type Unit uint8

const (
	Celsius Unit = iota
	Fahrenheit
)

func (u Unit) String() string {
	if u == Fahrenheit {
		return "F"
	}
	return "C"
}

// Result is a validated reading in the requested unit.
type Result struct {
	Humidity    uint8
	Temperature int
	Unit        Unit
}

func (r Result) String() string {
	b := make([]byte, 0, 48)
	b = append(b, "Temperature :: "...)
	b = conv.AppendInt(b, int64(r.Temperature))
	b = append(b, " '"...)
	b = append(b, r.Unit.String()...)
	b = append(b, ", Humidity :: "...)
	b = conv.AppendUint(b, uint64(r.Humidity))
	b = append(b, " %"...)
	return string(b)
}

// CelsiusToFahrenheit converts with integer arithmetic, truncating.
func CelsiusToFahrenheit(c int) int {
	return c*9/5 + 32
}

// Report classifies the current reading: ErrNoResponse if the sensor did not
// acknowledge, ErrBadChecksum if the data fails validation, otherwise the
// humidity and temperature in unit u.
func (d *Device) Report(u Unit) (Result, error) {
	return d.reading.Report(u)
}

// Report is the Reading form of Device.Report.
func (r Reading) Report(u Unit) (Result, error) {
	if r.Status != Success {
		return Result{}, ErrNoResponse
	}
	if !r.ChecksumValid() {
		return Result{}, ErrBadChecksum
	}
	t := int(r.Temperature)
	if u == Fahrenheit {
		t = CelsiusToFahrenheit(t)
	}
	return Result{Humidity: r.Humidity, Temperature: t, Unit: u}, nil
}
