package types

// ------------------------
// Temperature & humidity
// ------------------------

// SensorInfo is the retained info document of a DHT11 capability.
type SensorInfo struct {
	Sensor        string `json:"sensor"` // "dht11"
	Pin           int    `json:"pin"`
	Unit          string `json:"unit"`      // "C", "F" or "%RH"
	Precision     int    `json:"precision"` // whole units
	TimeoutUS     uint32 `json:"timeout_us"`
	SchemaVersion int    `json:"schema_version"`
}

type TemperatureValue struct {
	// Tenths of a degree in Unit (e.g. 230 => 23.0).
	Deci int16  `json:"deci"`
	Unit string `json:"unit"` // "C" or "F"
	TSms int64  `json:"ts_ms"`
}

type HumidityValue struct {
	// Hundredths of %RH (0..10000 for 0..100.00%).
	RHx100 uint16 `json:"rh_x100"`
	TSms   int64  `json:"ts_ms"`
}
