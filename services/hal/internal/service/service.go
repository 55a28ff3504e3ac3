// services/hal/internal/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"dhtcode-go/bus"
	"dhtcode-go/errcode"
	"dhtcode-go/services/hal/internal/consts"
	"dhtcode-go/services/hal/internal/halcore"
	"dhtcode-go/services/hal/internal/halerr"
	"dhtcode-go/services/hal/internal/registry"
	"dhtcode-go/services/hal/internal/util"
	"dhtcode-go/services/hal/internal/worker"
	"dhtcode-go/types"
	"dhtcode-go/x/mathx"
)

const (
	minPeriod   = 200 * time.Millisecond
	maxPeriod   = time.Hour
	firstSample = 200 * time.Millisecond
)

type devEntry struct {
	adaptor   halcore.Adaptor
	caps      map[string]int // kind -> numeric capability id
	busID     string
	minPeriod time.Duration
}

type capKey struct {
	kind string
	id   int
}

type Service struct {
	conn  *bus.Connection
	lines halcore.LineFactory
	delay halcore.Delayer
	log   *slog.Logger

	workers map[string]*worker.MeasureWorker // busID -> worker
	results chan halcore.Result

	devices map[string]devEntry
	claims  map[int]string // line -> devID

	capToDev  map[capKey]string // (kind,id) -> devID
	nextCapID map[string]int

	devPeriod  map[string]time.Duration
	devNextDue map[string]time.Time

	timer *time.Timer
}

var (
	topicConfigHAL = bus.T(consts.TokConfig, consts.TokHAL)
	topicCtrl      = bus.T(consts.TokHAL, consts.TokCapability, bus.SingleWild, bus.SingleWild, consts.TokControl, bus.SingleWild)
)

func New(conn *bus.Connection, lines halcore.LineFactory, delay halcore.Delayer, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		conn:       conn,
		lines:      lines,
		delay:      delay,
		log:        log.With("svc", "hal"),
		workers:    map[string]*worker.MeasureWorker{},
		results:    make(chan halcore.Result, 64),
		devices:    map[string]devEntry{},
		claims:     map[int]string{},
		capToDev:   map[capKey]string{},
		nextCapID:  map[string]int{},
		devPeriod:  map[string]time.Duration{},
		devNextDue: map[string]time.Time{},
	}
}

func (s *Service) Run(ctx context.Context) {
	cfgSub := s.conn.Subscribe(topicConfigHAL)
	ctrlSub := s.conn.Subscribe(topicCtrl)
	defer s.conn.Unsubscribe(cfgSub)
	defer s.conn.Unsubscribe(ctrlSub)

	s.publishState(consts.LevelIdle, "awaiting_config", nil)

	s.timer = time.NewTimer(time.Hour)
	if !s.timer.Stop() {
		util.DrainTimer(s.timer)
	}

	for {
		if next := s.earliestDevDue(); next.IsZero() {
			util.ResetTimer(s.timer, time.Hour)
		} else {
			util.ResetTimer(s.timer, time.Until(next))
		}

		select {
		case <-ctx.Done():
			s.shutdown()
			s.publishState(consts.LevelStopped, "context_cancelled", nil)
			return

		case msg := <-cfgSub.Channel():
			cfg, ok := msg.Payload.(types.HALConfig)
			if !ok {
				s.publishState(consts.LevelError, "config_wrong_type", nil)
				continue
			}
			if err := s.applyConfig(ctx, cfg); err != nil {
				s.publishState(consts.LevelError, "apply_config_failed", err)
				continue
			}
			s.publishState(consts.LevelReady, "configured", nil)

		case msg := <-ctrlSub.Channel():
			s.handleControl(msg)

		case <-s.timer.C:
			now := time.Now()
			for devID, due := range s.devNextDue {
				if !now.Before(due) {
					s.submitMeasure(devID, false)
					s.bumpDevNext(devID, now)
				}
			}

		case r := <-s.results:
			s.handleResult(r)
		}
	}
}

// ---- control plane ----

func (s *Service) handleControl(msg *bus.Message) {
	if msg.Topic.Len() < 6 {
		return
	}
	kind, _ := msg.Topic.At(2).(string)
	idNum, ok := util.AsInt(msg.Topic.At(3))
	if !ok || kind == "" {
		s.replyErr(msg, halerr.ErrInvalidCapAddr.Error())
		return
	}
	devID, ok := s.capToDev[capKey{kind: kind, id: idNum}]
	if !ok {
		s.replyErr(msg, halerr.ErrUnknownCap.Error())
		return
	}
	method, _ := msg.Topic.At(5).(string)

	switch method {
	case consts.CtrlReadNow:
		if s.submitMeasure(devID, true) {
			s.bumpDevNext(devID, time.Now())
			s.conn.Reply(msg, types.ReadNowAck{OK: true}, false)
		} else {
			s.replyErr(msg, halerr.ErrBusy.Error())
		}
	case consts.CtrlSetRate:
		p, ok := periodOf(msg.Payload)
		if !ok || p <= 0 {
			s.replyErr(msg, halerr.ErrInvalidPeriod.Error())
			return
		}
		s.devPeriod[devID] = s.clampPeriod(devID, p)
		s.bumpDevNext(devID, time.Now())
		s.conn.Reply(msg, types.SetRateAck{OK: true, Period: s.devPeriod[devID]}, false)
	default:
		ent := s.devices[devID]
		if ent.adaptor == nil {
			s.replyErr(msg, halerr.ErrNoAdaptor.Error())
			return
		}
		res, err := ent.adaptor.Control(kind, method, msg.Payload)
		switch {
		case err == nil:
			s.conn.Reply(msg, res, false)
		case errors.Is(err, halcore.ErrUnsupported):
			s.replyErr(msg, halerr.ErrUnsupported.Error())
		default:
			s.replyErr(msg, string(errcode.Of(err)))
		}
		if err == nil && method == consts.CtrlDeinit {
			for k, id := range ent.caps {
				s.pubRet(k, id, consts.TokState, types.CapabilityState{Link: types.LinkDown, TS: time.Now(), Error: "deinit"})
			}
		}
	}
}

// periodOf accepts a typed SetRate or a JSON-like {"period_ms": n}.
func periodOf(p any) (time.Duration, bool) {
	switch v := p.(type) {
	case types.SetRate:
		return v.Period, true
	case *types.SetRate:
		if v == nil {
			return 0, false
		}
		return v.Period, true
	case map[string]any:
		ms, ok := util.AsInt(v["period_ms"])
		return time.Duration(ms) * time.Millisecond, ok
	default:
		return 0, false
	}
}

// ---- configuration ----

func (s *Service) applyConfig(ctx context.Context, cfg types.HALConfig) error {
	seen := map[string]struct{}{}
	var firstErr error

	for i := range cfg.Devices {
		d := &cfg.Devices[i]
		seen[d.ID] = struct{}{}

		if _, exists := s.devices[d.ID]; exists {
			continue
		}
		if err := s.addDevice(ctx, d); err != nil {
			s.log.Warn("device build failed", "dev", d.ID, "type", d.Type, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	// Tidy-up devices not in config
	for devID := range s.devices {
		if _, ok := seen[devID]; !ok {
			s.removeDevice(devID)
		}
	}
	return firstErr
}

func (s *Service) addDevice(ctx context.Context, d *types.HALDevice) error {
	b, ok := registry.Lookup(d.Type)
	if !ok {
		return fmt.Errorf("%w %q (known: %s)", halerr.ErrUnknownType, d.Type, strings.Join(registry.Types(), ","))
	}
	out, err := b.Build(registry.BuildInput{
		Ctx:      ctx,
		Lines:    s.lines,
		Delay:    s.delay,
		DeviceID: d.ID,
		Type:     d.Type,
		Params:   d.Params,
		Claim:    func(n int) error { return s.claim(n, d.ID) },
	})
	if err != nil {
		s.release(d.ID)
		return err
	}

	if out.BusID != "" {
		if _, ok := s.workers[out.BusID]; !ok {
			w := worker.New(halcore.WorkerConfig{}, s.results)
			w.Start(ctx)
			s.workers[out.BusID] = w
		}
	}

	ad := out.Adaptor
	entry := devEntry{adaptor: ad, busID: out.BusID, caps: map[string]int{}, minPeriod: out.MinPeriod}

	for _, ci := range ad.Capabilities() {
		id := s.nextCapID[ci.Kind]
		s.nextCapID[ci.Kind]++

		entry.caps[ci.Kind] = id
		s.capToDev[capKey{kind: ci.Kind, id: id}] = d.ID

		s.pubRet(ci.Kind, id, consts.TokInfo, ci.Info)
		s.pubRet(ci.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: time.Now()})
	}
	s.devices[d.ID] = entry

	if out.SampleEvery > 0 {
		s.devPeriod[d.ID] = s.clampPeriod(d.ID, out.SampleEvery)
		// First reading shortly after configuration.
		s.devNextDue[d.ID] = time.Now().Add(firstSample)
	}
	s.log.Info("device added", "dev", d.ID, "type", d.Type, "bus", out.BusID, "period", s.devPeriod[d.ID])
	return nil
}

func (s *Service) removeDevice(devID string) {
	ent := s.devices[devID]
	for kind, id := range ent.caps {
		s.pubRet(kind, id, consts.TokInfo, nil)
		s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: types.LinkDown, TS: time.Now()})
		delete(s.capToDev, capKey{kind: kind, id: id})
	}
	if c, ok := ent.adaptor.(halcore.Closer); ok {
		if err := c.Close(); err != nil {
			s.log.Warn("device close failed", "dev", devID, "err", err)
		}
	}
	s.release(devID)
	delete(s.devices, devID)
	delete(s.devPeriod, devID)
	delete(s.devNextDue, devID)
	s.log.Info("device removed", "dev", devID)
}

func (s *Service) shutdown() {
	for devID, ent := range s.devices {
		if c, ok := ent.adaptor.(halcore.Closer); ok {
			_ = c.Close()
		}
		s.release(devID)
	}
}

func (s *Service) claim(n int, devID string) error {
	if owner, ok := s.claims[n]; ok && owner != devID {
		return &errcode.E{C: errcode.PinInUse, Op: "claim", Msg: owner}
	}
	s.claims[n] = devID
	return nil
}

func (s *Service) release(devID string) {
	for n, owner := range s.claims {
		if owner == devID {
			delete(s.claims, n)
		}
	}
}

// ---- measurement helpers ----

func (s *Service) submitMeasure(devID string, prio bool) bool {
	ent, ok := s.devices[devID]
	if !ok {
		return false
	}
	w := s.workers[ent.busID]
	if w == nil {
		return false
	}
	return w.Submit(halcore.MeasureReq{ID: devID, Adaptor: ent.adaptor, Prio: prio})
}

func (s *Service) clampPeriod(devID string, p time.Duration) time.Duration {
	lo := mathx.Max(minPeriod, s.devices[devID].minPeriod)
	return mathx.Clamp(p, lo, maxPeriod)
}

func (s *Service) bumpDevNext(devID string, from time.Time) {
	period := s.devPeriod[devID]
	if period <= 0 {
		return
	}
	s.devNextDue[devID] = from.Add(s.clampPeriod(devID, period))
}

func (s *Service) earliestDevDue() time.Time {
	var min time.Time
	for _, t := range s.devNextDue {
		if !t.IsZero() && (min.IsZero() || t.Before(min)) {
			min = t
		}
	}
	return min
}

// ---- results ----

func (s *Service) handleResult(r halcore.Result) {
	ent, ok := s.devices[r.ID]
	if !ok {
		return
	}
	now := time.Now()

	if r.Err != nil {
		code := errcode.Of(r.Err)
		link := types.LinkDegraded
		if code == errcode.HALNotReady {
			link = types.LinkDown
		}
		s.log.Debug("measure failed", "dev", r.ID, "code", code, "err", r.Err)
		for kind, id := range ent.caps {
			s.pubRet(kind, id, consts.TokState, types.CapabilityState{Link: link, TS: now, Error: string(code)})
		}
		return
	}
	for _, rd := range r.Sample {
		id, ok := ent.caps[rd.Kind]
		if !ok {
			continue
		}
		s.conn.Publish(s.conn.NewMessage(capTopic(rd.Kind, id, consts.TokValue), rd.Payload, false))
		s.pubRet(rd.Kind, id, consts.TokState, types.CapabilityState{Link: types.LinkUp, TS: now})
	}
}

// ---- bus helpers ----

func (s *Service) publishState(level, status string, err error) {
	pl := types.HALState{Level: level, Status: status, TS: time.Now()}
	if err != nil {
		pl.Error = err.Error()
	}
	s.conn.Publish(s.conn.NewMessage(bus.T(consts.TokHAL, consts.TokState), pl, true))
}

func (s *Service) replyErr(req *bus.Message, code string) {
	if !req.CanReply() {
		return
	}
	if code == "" {
		code = string(errcode.Error)
	}
	s.conn.Reply(req, types.ErrorReply{OK: false, Error: code}, false)
}

func capTopic(kind string, id int, suffix string) bus.Topic {
	return bus.T(consts.TokHAL, consts.TokCapability, kind, id, suffix)
}

func (s *Service) pubRet(kind string, id int, suffix string, p any) {
	s.conn.Publish(s.conn.NewMessage(capTopic(kind, id, suffix), p, true))
}
