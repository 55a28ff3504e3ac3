package heartbeat

import (
	"context"
	"log/slog"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

var (
	topicConfigHeartbeat = bus.T("config", "heartbeat")
	topicHeartbeat       = bus.T("heartbeat")
)

const defaultInterval = 10 * time.Second

type Service struct {
	Log *slog.Logger
}

func (s *Service) serviceLoop(ctx context.Context, conn *bus.Connection) {
	log := s.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("svc", "heartbeat")

	cfgSub := conn.Subscribe(topicConfigHeartbeat)
	defer conn.Unsubscribe(cfgSub)

	start := time.Now()
	var seq uint64
	tick := time.NewTicker(defaultInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("stopping")
			return
		case t := <-tick.C:
			seq++
			hb := types.Heartbeat{Seq: seq, UptimeS: int64(t.Sub(start) / time.Second), TS: t}
			conn.Publish(conn.NewMessage(topicHeartbeat, hb, false))
			log.Debug("beat", "seq", seq)
		case msg, ok := <-cfgSub.Channel():
			if !ok {
				return
			}
			if iv, ok := intervalOf(msg.Payload); ok {
				tick.Reset(iv)
				log.Info("interval set", "interval", iv)
			} else {
				log.Warn("ignoring heartbeat config", "payload", msg.Payload)
			}
		}
	}
}

// intervalOf reads {"interval": seconds} as decoded from JSON or YAML.
func intervalOf(p any) (time.Duration, bool) {
	m, ok := p.(map[string]any)
	if !ok {
		return 0, false
	}
	var d time.Duration
	switch v := m["interval"].(type) {
	case float64:
		d = time.Duration(v * float64(time.Second))
	case int:
		d = time.Duration(v) * time.Second
	default:
		return 0, false
	}
	if d <= 0 {
		return 0, false
	}
	return d, true
}

// Start the heartbeat service.
func (s *Service) Start(ctx context.Context, conn *bus.Connection) error {
	go s.serviceLoop(ctx, conn)
	return nil
}
