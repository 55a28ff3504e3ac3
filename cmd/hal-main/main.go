// cmd/hal-main runs the full stack on one process: bus, config publisher,
// HAL, MQTT bridge and heartbeat, with a monitor logging HAL traffic.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/services/bridge"
	"dhtcode-go/services/config"
	"dhtcode-go/services/hal"
	"dhtcode-go/services/heartbeat"
	"dhtcode-go/types"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file (default: embedded config for -device)")
		device  = flag.String("device", "rpi", "embedded config name")
		sim     = flag.Bool("sim", false, "simulate sensors instead of using GPIO")
		noMQTT  = flag.Bool("no-bridge", false, "do not start the MQTT bridge")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = context.WithValue(ctx, config.CtxDeviceKey, *device)

	log.Info("bootstrapping bus")
	b := bus.NewBus(16)
	uiConn := b.NewConnection("ui")

	mon := uiConn.Subscribe(bus.T("hal", bus.MultiWild))
	go monitor(log.With("svc", "monitor"), mon)

	halDone := make(chan error, 1)
	go func() {
		opts := hal.Options{Sim: *sim, Log: log}
		if *sim {
			opts.Sensors = map[int]hal.SimSensor{4: {Humidity: 45, Temperature: 23}}
		}
		halDone <- hal.Run(ctx, b.NewConnection("hal"), opts)
	}()

	if !*noMQTT {
		go bridge.Start(ctx, b.NewConnection("bridge"), log)
	}
	(&heartbeat.Service{Log: log}).Start(ctx, b.NewConnection("heartbeat"))
	config.NewConfigService(*cfgPath, log).Start(ctx, b.NewConnection("config"))

	if err := <-halDone; err != nil {
		log.Error("hal stopped", "err", err)
		os.Exit(1)
	}
	// Give the bridge a moment to push the final states.
	time.Sleep(100 * time.Millisecond)
	log.Info("shutdown complete")
}

func monitor(log *slog.Logger, sub *bus.Subscription) {
	for m := range sub.Channel() {
		switch v := m.Payload.(type) {
		case types.TemperatureValue:
			log.Info(m.Topic.String(), "deci", v.Deci, "unit", v.Unit)
		case types.HumidityValue:
			log.Info(m.Topic.String(), "rh_x100", v.RHx100)
		case types.CapabilityState:
			log.Info(m.Topic.String(), "link", v.Link, "error", v.Error)
		case types.HALState:
			log.Info(m.Topic.String(), "level", v.Level, "status", v.Status, "error", v.Error)
		default:
			log.Debug(m.Topic.String(), "payload", m.Payload)
		}
	}
}
