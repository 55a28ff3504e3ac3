// cmd/dht11-demo drives one DHT11 directly, without the bus: init the line,
// run count acquisition cycles with a pause between them, then release it.
package main

import (
	"flag"
	"log/slog"
	"os"
	"time"

	"dhtcode-go/drivers/dht11"
	"dhtcode-go/services/hal"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code so that deferred cleanup, the line
// release in particular, happens before the process exits.
func run() int {
	var (
		pin        = flag.Int("pin", 4, "BCM GPIO number of the data line")
		timeoutUS  = flag.Uint("timeout", dht11.DefaultWaitTimeout, "per-poll wait timeout in µs")
		count      = flag.Int("count", 5, "number of readings")
		delay      = flag.Duration("delay", 7*time.Second, "pause between readings")
		fahrenheit = flag.Bool("fahrenheit", false, "report temperature in °F")
		sim        = flag.Bool("sim", false, "use a simulated sensor instead of GPIO")
		verbose    = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := hal.Options{Log: log}
	if *sim {
		opts.Sim = true
		opts.Sensors = map[int]hal.SimSensor{*pin: {Humidity: 45, Temperature: 23}}
	}
	line, err := hal.OpenLine(*pin, opts)
	if err != nil {
		log.Error("open line", "pin", *pin, "err", err)
		return 1
	}

	var d dht11.Delayer = hal.BusyDelay{}
	if ld, ok := line.(dht11.Delayer); ok {
		d = ld
	}
	unit := dht11.Celsius
	if *fahrenheit {
		unit = dht11.Fahrenheit
	}
	cfg := dht11.Config{Pin: *pin, WaitTimeout: uint32(*timeoutUS)}
	return readLoop(log, line, d, cfg, unit, *count, *delay)
}

// readLoop owns the line from Init to Deinit and runs count cycles.
func readLoop(log *slog.Logger, line dht11.Pin, d dht11.Delayer, cfg dht11.Config, unit dht11.Unit, count int, delay time.Duration) int {
	dev, err := dht11.New(line, d, cfg)
	if err != nil {
		log.Error("configure sensor", "err", err)
		return 2
	}

	dev.Init()
	defer dev.Deinit()

	failures := 0
	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(max(delay, dht11.MinInterval))
		}
		res, err := cycle(dev, unit)
		if err != nil {
			failures++
			r := dev.Reading()
			log.Warn("reading failed", "n", i+1, "err", err,
				"humidity", r.Humidity, "temperature", r.Temperature, "checksum", r.Checksum)
			continue
		}
		log.Info(res.String(), "n", i+1)
	}
	if failures == count {
		return 3
	}
	return 0
}

// cycle runs one acquisition. A byte timeout fails the cycle even when the
// 0xFF fill happens to satisfy the checksum.
func cycle(dev *dht11.Device, unit dht11.Unit) (dht11.Result, error) {
	dev.StartSignal()
	if dev.CheckResponse() == dht11.Success {
		if err := dev.ReadSensorData(); err != nil {
			return dht11.Result{}, err
		}
	}
	return dev.Report(unit)
}
