package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

const (
	serviceName  = "config"
	configPrefix = "config"
	CtxDeviceKey = ctxKey("device") // context key used for device ID
)

type ctxKey string

// EmbeddedConfigLookup allows overriding how configs are resolved.
var EmbeddedConfigLookup = func(device string) ([]byte, bool) {
	b, ok := embeddedConfigs[device]
	return b, ok
}

// -----------------------------------------------------------------------------
// Config Service
// -----------------------------------------------------------------------------

// ConfigService publishes every top-level key of a YAML document as a
// retained message on config/<key>. The "hal" and "bridge" keys are decoded
// into their typed payloads; other keys are published as decoded YAML.
type ConfigService struct {
	Name string
	Path string // YAML file; empty selects the embedded config for the device
	log  *slog.Logger
}

func NewConfigService(path string, log *slog.Logger) *ConfigService {
	if log == nil {
		log = slog.Default()
	}
	return &ConfigService{Name: serviceName, Path: path, log: log.With("svc", serviceName)}
}

// load returns the raw YAML from Path or the embedded table.
func (s *ConfigService) load(ctx context.Context) ([]byte, error) {
	if s.Path != "" {
		raw, err := os.ReadFile(s.Path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		return raw, nil
	}
	device, _ := ctx.Value(CtxDeviceKey).(string)
	if device == "" {
		return nil, errors.New("missing device ID in context")
	}
	raw, ok := EmbeddedConfigLookup(device)
	if !ok || len(raw) == 0 {
		return nil, errors.New("no embedded config for device: " + device)
	}
	return raw, nil
}

// Parse decodes a YAML document into per-key payloads.
func Parse(raw []byte) (map[string]any, error) {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if doc == nil {
		return nil, errors.New("config is not a YAML mapping")
	}
	out := make(map[string]any, len(doc))
	for k, node := range doc {
		var (
			v   any
			err error
		)
		switch k {
		case "hal":
			var hc types.HALConfig
			err = node.Decode(&hc)
			v = hc
		case "bridge":
			var bc types.BridgeConfig
			err = node.Decode(&bc)
			v = bc
		default:
			err = node.Decode(&v)
		}
		if err != nil {
			return nil, fmt.Errorf("config key %q: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// publishConfig loads the config and publishes it as retained messages.
func (s *ConfigService) publishConfig(ctx context.Context, conn *bus.Connection) error {
	raw, err := s.load(ctx)
	if err != nil {
		return err
	}
	m, err := Parse(raw)
	if err != nil {
		return err
	}
	for k, v := range m {
		conn.Publish(conn.NewMessage(bus.T(configPrefix, k), v, true))
		s.log.Debug("published", "key", k)
	}
	return nil
}

// Start launches the config publisher in a goroutine.
func (s *ConfigService) Start(ctx context.Context, conn *bus.Connection) {
	go func() {
		if err := s.publishConfig(ctx, conn); err != nil {
			s.log.Error("config not published", "err", err)
		}
	}()
}
