// bridge/bridge.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/types"
	"dhtcode-go/x/mathx"
	"dhtcode-go/x/strx"
)

const (
	defaultClientID = "dhtcode"
	defaultPrefix   = "dht"
)

// -----------------------------------------------------------------------------
// Public entry point
// -----------------------------------------------------------------------------

// Start starts the bridge service. It blocks until ctx is cancelled.
// It listens for config on topic {"config","bridge"} and (re)configures the link.
func Start(ctx context.Context, conn *bus.Connection, log *slog.Logger) {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		conn:       conn,
		stateTopic: bus.T("bridge", "state"),
		log:        log.With("svc", "bridge"),
	}
	s.run(ctx)
}

// -----------------------------------------------------------------------------
// Upstream link
// -----------------------------------------------------------------------------

// Link is an established upstream connection.
type Link interface {
	Publish(topic string, qos byte, retained bool, payload []byte) error
	// Lost delivers the error that ended the connection.
	Lost() <-chan error
	Close()
}

// Dial opens the upstream link; tests replace it.
var Dial = dialMQTT

// -----------------------------------------------------------------------------
// Service
// -----------------------------------------------------------------------------

type Service struct {
	conn       *bus.Connection
	stateTopic bus.Topic
	log        *slog.Logger

	mu     sync.Mutex
	curRun context.CancelFunc
	broker string
}

// run waits for config and supervises a single link instance.
func (s *Service) run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(bus.T("config", "bridge"))
	defer s.conn.Unsubscribe(cfgSub)

	s.publishState("idle", "awaiting_config", nil)

	for {
		select {
		case <-ctx.Done():
			s.stopCurrent()
			return
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				s.publishState("error", "config_subscription_closed", nil)
				return
			}
			cfg, err := decodeConfig(msg.Payload)
			if err != nil {
				s.publishState("error", "config_decode_failed", err)
				continue
			}
			s.reconfigure(ctx, cfg)
		}
	}
}

func (s *Service) stopCurrent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
}

func (s *Service) reconfigure(parent context.Context, cfg types.BridgeConfig) {
	s.mu.Lock()
	// Cancel any existing run.
	if s.curRun != nil {
		s.curRun()
		s.curRun = nil
	}
	ctx, cancel := context.WithCancel(parent)
	s.curRun = cancel
	s.broker = cfg.Broker
	s.mu.Unlock()

	go s.runLink(ctx, cfg)
}

// -----------------------------------------------------------------------------
// Link supervision and forwarding
// -----------------------------------------------------------------------------

func (s *Service) runLink(ctx context.Context, cfg types.BridgeConfig) {
	backoff := backoffSeq(250*time.Millisecond, 5*time.Second)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		link, err := Dial(ctx, cfg)
		if err != nil {
			delay := backoff()
			s.publishState("degraded", "dial_failed_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
			if !sleep(ctx, delay) {
				return
			}
			continue
		}

		err = s.handleLink(ctx, link, cfg)
		link.Close()
		if err == nil {
			// Cancelled: a new config or shutdown owns what happens next.
			return
		}
		delay := backoff()
		s.publishState("degraded", "link_lost_retrying", fmt.Errorf("%v (retry in %s)", err, delay))
		if !sleep(ctx, delay) {
			return
		}
	}
}

// handleLink forwards HAL traffic upstream until ctx ends or the link drops.
func (s *Service) handleLink(ctx context.Context, link Link, cfg types.BridgeConfig) error {
	capSub := s.conn.Subscribe(bus.T("hal", "capability", bus.MultiWild))
	halSub := s.conn.Subscribe(bus.T("hal", "state"))
	hbSub := s.conn.Subscribe(bus.T("heartbeat"))
	defer s.conn.Unsubscribe(capSub)
	defer s.conn.Unsubscribe(halSub)
	defer s.conn.Unsubscribe(hbSub)

	s.publishState("up", "link_established", nil)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-link.Lost():
			if err == nil {
				err = errors.New("connection closed")
			}
			return err
		case msg := <-capSub.Channel():
			if err := s.forward(link, cfg, msg); err != nil {
				return err
			}
		case msg := <-halSub.Channel():
			if err := s.forward(link, cfg, msg); err != nil {
				return err
			}
		case msg := <-hbSub.Channel():
			if err := s.forward(link, cfg, msg); err != nil {
				return err
			}
		}
	}
}

// forward publishes one bus message upstream. Values are sent as events;
// info and state are retained, and a cleared retained message becomes an
// empty retained payload.
func (s *Service) forward(link Link, cfg types.BridgeConfig, msg *bus.Message) error {
	topic, ok := mqttTopic(cfg.Prefix, msg.Topic)
	if !ok {
		return nil
	}
	var payload []byte
	if msg.Payload != nil {
		b, err := json.Marshal(msg.Payload)
		if err != nil {
			s.log.Warn("payload not encodable", "topic", msg.Topic.String(), "err", err)
			return nil
		}
		payload = b
	}
	return link.Publish(topic, cfg.QoS, msg.Retained, payload)
}

// mqttTopic maps hal/capability/<kind>/<id>/<suffix> to
// <prefix>/<kind>/<id>/<suffix>. hal/state and heartbeat keep their path
// under the prefix. Control traffic is not forwarded.
func mqttTopic(prefix string, t bus.Topic) (string, bool) {
	switch {
	case t.Len() == 5 && t.At(0) == "hal" && t.At(1) == "capability":
		switch t.At(4) {
		case "value", "state", "info":
			return prefix + "/" + t[2:].String(), true
		}
	case t.Len() == 2 && t.At(0) == "hal" && t.At(1) == "state",
		t.Len() == 1 && t.At(0) == "heartbeat":
		return prefix + "/" + t.String(), true
	}
	return "", false
}

// -----------------------------------------------------------------------------
// Utilities
// -----------------------------------------------------------------------------

func decodeConfig(p any) (types.BridgeConfig, error) {
	var cfg types.BridgeConfig
	switch v := p.(type) {
	case types.BridgeConfig:
		cfg = v
	case []byte:
		if err := json.Unmarshal(v, &cfg); err != nil {
			return cfg, err
		}
	case string:
		if err := json.Unmarshal([]byte(v), &cfg); err != nil {
			return cfg, err
		}
	case map[string]any:
		// Already a decoded object; re-marshal for simplicity.
		b, err := json.Marshal(v)
		if err != nil {
			return cfg, err
		}
		if err := json.Unmarshal(b, &cfg); err != nil {
			return cfg, err
		}
	default:
		return cfg, fmt.Errorf("unsupported config payload type: %T", p)
	}
	if cfg.Broker == "" {
		return cfg, errors.New("bridge: broker is required")
	}
	if cfg.QoS > 2 {
		return cfg, fmt.Errorf("bridge: invalid qos %d", cfg.QoS)
	}
	cfg.ClientID = strx.Coalesce(cfg.ClientID, defaultClientID)
	cfg.Prefix = strx.Coalesce(cfg.Prefix, defaultPrefix)
	return cfg, nil
}

func (s *Service) publishState(level, status string, err error) {
	s.mu.Lock()
	broker := s.broker
	s.mu.Unlock()
	st := types.BridgeState{Level: level, Status: status, Broker: broker, TS: time.Now()}
	if err != nil {
		st.Error = err.Error()
		s.log.Warn("bridge state", "level", level, "status", status, "err", err)
	} else {
		s.log.Info("bridge state", "level", level, "status", status)
	}
	s.conn.Publish(s.conn.NewMessage(s.stateTopic, st, true))
}

func backoffSeq(min, max time.Duration) func() time.Duration {
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max = mathx.Max(max, min)
	cur := min
	return func() time.Duration {
		d := cur
		cur = mathx.Min(cur*2, max)
		return d
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
