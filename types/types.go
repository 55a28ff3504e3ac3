package types

import "time"

// ------------------------
// Common HAL state (retained)
// ------------------------

type HALState struct {
	Level  string    `json:"level"`  // "idle", "ready", "error", "stopped"
	Status string    `json:"status"` // freeform short code
	Error  string    `json:"error,omitempty"`
	TS     time.Time `json:"ts"`
}

// Link is the link/state reported for a capability.
type Link string

const (
	LinkUp       Link = "up"
	LinkDown     Link = "down"
	LinkDegraded Link = "degraded"
)

type CapabilityState struct {
	Link  Link      `json:"link"`
	TS    time.Time `json:"ts"`
	Error string    `json:"error,omitempty"` // machine-readable short code
}

// ------------------------
// HAL configuration
// ------------------------

type HALConfig struct {
	Devices []HALDevice `json:"devices" yaml:"devices"`
}

type HALDevice struct {
	ID     string `json:"id" yaml:"id"`         // logical device id
	Type   string `json:"type" yaml:"type"`     // e.g. "dht11"
	Params any    `json:"params" yaml:"params"` // device-specific params (JSON-like)
}

// ------------------------
// Controls and replies
// ------------------------

type SetRate struct {
	Period time.Duration `json:"period"`
}

type SetRateAck struct {
	OK     bool          `json:"ok"`
	Period time.Duration `json:"period"`
}

type ReadNowAck struct {
	OK bool `json:"ok"`
}

type OKReply struct {
	OK bool `json:"ok"`
}

type ErrorReply struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// ------------------------
// Bridge configuration
// ------------------------

type BridgeConfig struct {
	Broker   string `json:"broker" yaml:"broker"`       // e.g. "tcp://localhost:1883"
	ClientID string `json:"client_id" yaml:"client_id"` // default "dhtcode"
	Prefix   string `json:"prefix" yaml:"prefix"`       // MQTT topic prefix, default "dht"
	QoS      byte   `json:"qos" yaml:"qos"`
}

type BridgeState struct {
	Level  string    `json:"level"`  // "idle", "up", "degraded", "error"
	Status string    `json:"status"` // short machine string
	Broker string    `json:"broker,omitempty"`
	Error  string    `json:"error,omitempty"`
	TS     time.Time `json:"ts"`
}

// ------------------------
// Heartbeat
// ------------------------

type Heartbeat struct {
	Seq     uint64    `json:"seq"`
	UptimeS int64     `json:"uptime_s"`
	TS      time.Time `json:"ts"`
}
