package dht11

import "tinygo.org/x/drivers"

var _ drivers.Sensor = (*Device)(nil)

// Update runs one full acquisition cycle when which asks for temperature or
// humidity. It returns ErrNoResponse, the first byte timeout, or
// ErrBadChecksum; on nil the accessors reflect the new reading.
func (d *Device) Update(which drivers.Measurement) error {
	if which&(drivers.Temperature|drivers.Humidity) == 0 {
		return nil
	}
	d.StartSignal()
	if d.CheckResponse() != Success {
		return ErrNoResponse
	}
	if err := d.ReadSensorData(); err != nil {
		return err
	}
	if !d.ChecksumCheck() {
		return ErrBadChecksum
	}
	return nil
}

// Temperature returns the last temperature in milli-°C.
func (d *Device) Temperature() int32 {
	return int32(d.reading.Temperature) * 1000
}

// Humidity returns the last relative humidity in hundredths of a percent.
func (d *Device) Humidity() int32 {
	return int32(d.reading.Humidity) * 100
}
