package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/types"
)

// ---- fake link ----

type pub struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeLink struct {
	mu     sync.Mutex
	pubs   []pub
	lost   chan error
	closed atomic.Bool
}

func newFakeLink() *fakeLink { return &fakeLink{lost: make(chan error, 1)} }

func (l *fakeLink) Publish(topic string, qos byte, retained bool, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pubs = append(l.pubs, pub{topic, qos, retained, payload})
	return nil
}

func (l *fakeLink) Lost() <-chan error { return l.lost }
func (l *fakeLink) Close()             { l.closed.Store(true) }

func (l *fakeLink) find(topic string) (pub, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i := len(l.pubs) - 1; i >= 0; i-- {
		if l.pubs[i].topic == topic {
			return l.pubs[i], true
		}
	}
	return pub{}, false
}

// ---- helpers ----

func withDial(t *testing.T, fn func(context.Context, types.BridgeConfig) (Link, error)) {
	t.Helper()
	orig := Dial
	Dial = fn
	t.Cleanup(func() { Dial = orig })
}

func nextState(t *testing.T, sub *bus.Subscription, timeout time.Duration) types.BridgeState {
	t.Helper()
	select {
	case m := <-sub.Channel():
		st, ok := m.Payload.(types.BridgeState)
		if !ok {
			t.Fatalf("state payload type %T", m.Payload)
		}
		return st
	case <-time.After(timeout):
		t.Fatal("timeout waiting for bridge state")
	}
	return types.BridgeState{}
}

func waitState(t *testing.T, sub *bus.Subscription, level, status string) types.BridgeState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		st := nextState(t, sub, time.Until(deadline))
		if st.Level == level && st.Status == status {
			return st
		}
	}
	t.Fatalf("no state %s/%s", level, status)
	return types.BridgeState{}
}

func waitPub(t *testing.T, l *fakeLink, topic string) pub {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if p, ok := l.find(topic); ok {
			return p
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("nothing published on %s", topic)
	return pub{}
}

func startBridge(t *testing.T) (*bus.Connection, *bus.Subscription) {
	t.Helper()
	b := bus.NewBus(16)
	conn := b.NewConnection("test")
	stateSub := conn.Subscribe(bus.T("bridge", "state"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		Start(ctx, b.NewConnection("bridge"), nil)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return conn, stateSub
}

// ---- tests ----

func TestForwardsCapabilityTraffic(t *testing.T) {
	link := newFakeLink()
	var got types.BridgeConfig
	withDial(t, func(_ context.Context, cfg types.BridgeConfig) (Link, error) {
		got = cfg
		return link, nil
	})

	conn, stateSub := startBridge(t)
	waitState(t, stateSub, "idle", "awaiting_config")

	// Retained before the link comes up: must still reach the broker.
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "temperature", 0, "state"),
		types.CapabilityState{Link: types.LinkUp}, true))

	conn.Publish(conn.NewMessage(bus.T("config", "bridge"),
		types.BridgeConfig{Broker: "tcp://broker:1883", QoS: 1}, true))
	st := waitState(t, stateSub, "up", "link_established")
	if st.Broker != "tcp://broker:1883" {
		t.Fatalf("state broker = %q", st.Broker)
	}
	if got.ClientID != "dhtcode" || got.Prefix != "dht" {
		t.Fatalf("defaults not applied: %+v", got)
	}

	p := waitPub(t, link, "dht/temperature/0/state")
	if !p.retained || p.qos != 1 {
		t.Fatalf("state publish = %+v", p)
	}

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "temperature", 0, "value"),
		types.TemperatureValue{Deci: 230, Unit: "C"}, false))
	p = waitPub(t, link, "dht/temperature/0/value")
	if p.retained {
		t.Fatal("value must not be retained")
	}
	var tv types.TemperatureValue
	if err := json.Unmarshal(p.payload, &tv); err != nil {
		t.Fatal(err)
	}
	if tv.Deci != 230 || tv.Unit != "C" {
		t.Fatalf("value payload = %+v", tv)
	}

	// Control requests stay on the device.
	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "temperature", 0, "control", "read_now"), nil, false))
	conn.Publish(conn.NewMessage(bus.T("hal", "state"), types.HALState{Level: "ready"}, true))
	waitPub(t, link, "dht/hal/state")
	if _, ok := link.find("dht/temperature/0/control/read_now"); ok {
		t.Fatal("control traffic forwarded")
	}
}

func TestClearedInfoForwardsEmptyRetained(t *testing.T) {
	link := newFakeLink()
	withDial(t, func(context.Context, types.BridgeConfig) (Link, error) { return link, nil })

	conn, stateSub := startBridge(t)
	conn.Publish(conn.NewMessage(bus.T("config", "bridge"),
		map[string]any{"broker": "tcp://b:1883", "prefix": "lab"}, true))
	waitState(t, stateSub, "up", "link_established")

	conn.Publish(conn.NewMessage(bus.T("hal", "capability", "humidity", 2, "info"), nil, true))
	p := waitPub(t, link, "lab/humidity/2/info")
	if !p.retained || len(p.payload) != 0 {
		t.Fatalf("clear publish = %+v", p)
	}
}

func TestReconnectsAfterLinkLoss(t *testing.T) {
	var dials atomic.Int32
	links := []*fakeLink{newFakeLink(), newFakeLink()}
	withDial(t, func(context.Context, types.BridgeConfig) (Link, error) {
		n := dials.Add(1)
		return links[min(int(n)-1, 1)], nil
	})

	conn, stateSub := startBridge(t)
	conn.Publish(conn.NewMessage(bus.T("config", "bridge"), `{"broker":"tcp://b:1883"}`, true))
	waitState(t, stateSub, "up", "link_established")

	links[0].lost <- errors.New("eof")
	st := waitState(t, stateSub, "degraded", "link_lost_retrying")
	if st.Error == "" {
		t.Fatal("expected error text")
	}
	waitState(t, stateSub, "up", "link_established")
	if dials.Load() < 2 {
		t.Fatalf("dials = %d", dials.Load())
	}
	if !links[0].closed.Load() {
		t.Fatal("lost link not closed")
	}
}

func TestDialFailureRetries(t *testing.T) {
	var dials atomic.Int32
	link := newFakeLink()
	withDial(t, func(context.Context, types.BridgeConfig) (Link, error) {
		if dials.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return link, nil
	})

	conn, stateSub := startBridge(t)
	conn.Publish(conn.NewMessage(bus.T("config", "bridge"), types.BridgeConfig{Broker: "tcp://b:1883"}, true))
	waitState(t, stateSub, "degraded", "dial_failed_retrying")
	waitState(t, stateSub, "up", "link_established")
}

func TestBadConfig(t *testing.T) {
	withDial(t, func(context.Context, types.BridgeConfig) (Link, error) {
		t.Error("dial with invalid config")
		return nil, errors.New("unreachable")
	})
	conn, stateSub := startBridge(t)
	conn.Publish(conn.NewMessage(bus.T("config", "bridge"), types.BridgeConfig{Prefix: "x"}, true))
	st := waitState(t, stateSub, "error", "config_decode_failed")
	if st.Error == "" {
		t.Fatal("expected error text")
	}
}

func TestDecodeConfig(t *testing.T) {
	if _, err := decodeConfig(types.BridgeConfig{Broker: "tcp://b", QoS: 3}); err == nil {
		t.Fatal("qos 3 accepted")
	}
	if _, err := decodeConfig(42); err == nil {
		t.Fatal("int payload accepted")
	}
	cfg, err := decodeConfig([]byte(`{"broker":"tcp://b","client_id":"node7","qos":2}`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.ClientID != "node7" || cfg.Prefix != "dht" || cfg.QoS != 2 {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestMQTTTopic(t *testing.T) {
	cases := []struct {
		in   bus.Topic
		want string
		ok   bool
	}{
		{bus.T("hal", "capability", "temperature", 3, "value"), "p/temperature/3/value", true},
		{bus.T("hal", "capability", "humidity", 0, "info"), "p/humidity/0/info", true},
		{bus.T("hal", "state"), "p/hal/state", true},
		{bus.T("heartbeat"), "p/heartbeat", true},
		{bus.T("hal", "capability", "humidity", 0, "control", "set_rate"), "", false},
		{bus.T("config", "hal"), "", false},
	}
	for _, c := range cases {
		got, ok := mqttTopic("p", c.in)
		if got != c.want || ok != c.ok {
			t.Fatalf("mqttTopic(%s) = %q,%v", c.in, got, ok)
		}
	}
}

func TestBackoffSeq(t *testing.T) {
	next := backoffSeq(250*time.Millisecond, time.Second)
	want := []time.Duration{250 * time.Millisecond, 500 * time.Millisecond, time.Second, time.Second}
	for i, w := range want {
		if d := next(); d != w {
			t.Fatalf("step %d = %s, want %s", i, d, w)
		}
	}
}

func TestDialMQTTRefused(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	// Port 1 on loopback refuses immediately.
	_, err := dialMQTT(ctx, types.BridgeConfig{Broker: "tcp://127.0.0.1:1", ClientID: "t", Prefix: "dht"})
	if err == nil {
		t.Fatal("expected connect error")
	}
}
