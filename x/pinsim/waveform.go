// Package pinsim simulates a DHT11 data line for host builds and tests.
//
// A Line replays a Waveform against a Clock once the host has sent a start
// pulse and released the line. With a VirtualClock every delay advances time
// instantly, so a full 40-bit frame is decoded without real waiting.
package pinsim

// Segment holds the line at one level for a number of microseconds.
type Segment struct {
	High bool
	US   int64
}

// Waveform is a sequence of segments starting when the host releases the
// line. Outside the waveform the line idles high (pull-up).
type Waveform []Segment

// Sensor-side timings used by DHT11Frame.
const (
	AckLowUS  = 80
	AckHighUS = 70
	BitLowUS  = 50
	ZeroUS    = 26
	OneUS     = 70
	TailLowUS = 50
)

// LevelAt returns the level t microseconds after the start of the waveform.
func (w Waveform) LevelAt(t int64) bool {
	if t < 0 {
		return true
	}
	for _, s := range w {
		if t < s.US {
			return s.High
		}
		t -= s.US
	}
	return true
}

// Low appends a low segment.
func (w Waveform) Low(us int64) Waveform { return append(w, Segment{High: false, US: us}) }

// High appends a high segment.
func (w Waveform) High(us int64) Waveform { return append(w, Segment{High: true, US: us}) }

// Bits appends bytes MSB first, each bit a 50 µs low followed by a 26 µs
// (zero) or 70 µs (one) high, then a trailing low.
func (w Waveform) Bits(bs ...byte) Waveform {
	for _, b := range bs {
		for i := 7; i >= 0; i-- {
			w = w.Low(BitLowUS)
			if b&(1<<i) != 0 {
				w = w.High(OneUS)
			} else {
				w = w.High(ZeroUS)
			}
		}
	}
	return w.Low(TailLowUS)
}

// DHT11Frame is the sensor's full reply: acknowledgment followed by
// humidity, 0, temperature, 0, checksum.
func DHT11Frame(humidity, temperature, checksum byte) Waveform {
	return Waveform{}.
		Low(AckLowUS).
		High(AckHighUS).
		Bits(humidity, 0, temperature, 0, checksum)
}

// Valid returns a frame whose checksum matches.
func Valid(humidity, temperature byte) Waveform {
	return DHT11Frame(humidity, temperature, humidity+temperature)
}

// StuckLow holds the line low for us microseconds.
func StuckLow(us int64) Waveform { return Waveform{}.Low(us) }
