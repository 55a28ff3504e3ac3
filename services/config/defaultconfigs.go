package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: device ID (same value placed in ctx under CtxDeviceKey)
// Val: raw YAML for that device
// -----------------------------------------------------------------------------

const cfgRPi = `
hal:
  devices:
    - id: env
      type: dht11
      params:
        pin: 4
        timeout_us: 10000
        unit: C
        interval_ms: 7000
bridge:
  broker: tcp://localhost:1883
  client_id: dhtcode-rpi
  prefix: dht
  qos: 0
heartbeat:
  interval: 30
`

const cfgSim = `
hal:
  devices:
    - id: env
      type: dht11
      params:
        pin: 4
        interval_ms: 2000
heartbeat:
  interval: 5
`

var embeddedConfigs = map[string][]byte{
	"rpi": []byte(cfgRPi),
	"sim": []byte(cfgSim),
}
