// bridge/mqtt.go
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"dhtcode-go/types"
)

const (
	connectTimeout = 5 * time.Second
	publishTimeout = 5 * time.Second
)

var errTimeout = errors.New("mqtt: operation timed out")

type mqttLink struct {
	client mqtt.Client
	lost   chan error
}

// dialMQTT connects with auto-reconnect disabled; reconnection is driven
// by the service's backoff so that bridge/state reflects every outage.
func dialMQTT(ctx context.Context, cfg types.BridgeConfig) (Link, error) {
	l := &mqttLink{lost: make(chan error, 1)}

	will, _ := json.Marshal(types.BridgeState{Level: "down", Status: "connection_lost"})
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetConnectTimeout(connectTimeout).
		SetWill(cfg.Prefix+"/bridge/state", string(will), cfg.QoS, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			select {
			case l.lost <- err:
			default:
			}
		})

	l.client = mqtt.NewClient(opts)
	if err := wait(ctx, l.client.Connect(), connectTimeout); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *mqttLink) Publish(topic string, qos byte, retained bool, payload []byte) error {
	return wait(context.Background(), l.client.Publish(topic, qos, retained, payload), publishTimeout)
}

func (l *mqttLink) Lost() <-chan error { return l.lost }

func (l *mqttLink) Close() { l.client.Disconnect(250) }

// wait blocks on a paho token until it completes, d elapses or ctx ends.
func wait(ctx context.Context, tok mqtt.Token, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-tok.Done():
		return tok.Error()
	case <-t.C:
		return errTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}
