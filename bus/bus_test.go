// bus/bus_test.go
package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func recv(t *testing.T, s *Subscription) *Message {
	t.Helper()
	select {
	case m, ok := <-s.Channel():
		if !ok {
			t.Fatal("subscription closed")
		}
		return m
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("nothing delivered on %s", s.Topic())
	}
	return nil
}

func none(t *testing.T, s *Subscription) {
	t.Helper()
	select {
	case m := <-s.Channel():
		t.Fatalf("unexpected delivery on %s: %s %v", s.Topic(), m.Topic, m.Payload)
	case <-time.After(20 * time.Millisecond):
	}
}

func capValue(kind string, id int) Topic { return T("hal", "capability", kind, id, "value") }

// ---- topics ----

func TestTopicTokens(t *testing.T) {
	base := T("hal", "capability", "humidity", 2)
	v := base.Append("value")
	s := base.Append("state")
	if base.Len() != 4 || v.String() != "hal/capability/humidity/2/value" || s.At(4) != "state" {
		t.Fatalf("append aliased or lost tokens: %s %s %s", base, v, s)
	}
	if v.At(3) != 2 || v.At(-1) != nil || v.At(5) != nil {
		t.Fatalf("At: %v %v %v", v.At(3), v.At(-1), v.At(5))
	}
}

func TestTopicRejectsOtherTokenTypes(t *testing.T) {
	for _, tok := range []any{1.5, int64(4), true} {
		func() {
			defer func() {
				if recover() == nil {
					t.Fatalf("T accepted %T token", tok)
				}
			}()
			T("hal", tok)
		}()
	}
}

// ---- matching ----

func TestIntAndStringTokensAreDistinct(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	byInt := c.Subscribe(capValue("temperature", 0))
	byStr := c.Subscribe(T("hal", "capability", "temperature", "0", "value"))

	c.Publish(c.NewMessage(capValue("temperature", 0), 230, false))
	if m := recv(t, byInt); m.Payload != 230 {
		t.Fatalf("payload %v", m.Payload)
	}
	none(t, byStr)
}

func TestSingleWildMatchesOneLevelOfEitherType(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")
	s := c.Subscribe(T("hal", "capability", SingleWild, SingleWild, "value"))

	c.Publish(c.NewMessage(capValue("temperature", 0), "t0", false))
	c.Publish(c.NewMessage(T("hal", "capability", "humidity", "env", "value"), "h-env", false))
	c.Publish(c.NewMessage(T("hal", "capability", "humidity", 0, "state"), "st", false))
	c.Publish(c.NewMessage(T("hal", "capability", "humidity", 0, "value", "extra"), "deep", false))

	if recv(t, s).Payload != "t0" || recv(t, s).Payload != "h-env" {
		t.Fatal("wildcard deliveries out of order")
	}
	none(t, s)
}

func TestMultiWildMatchesParentAndDescendants(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")
	s := c.Subscribe(T("hal", MultiWild))

	c.Publish(c.NewMessage(T("hal"), "root", false))
	c.Publish(c.NewMessage(T("hal", "state"), "ready", false))
	c.Publish(c.NewMessage(capValue("humidity", 1), "h1", false))
	c.Publish(c.NewMessage(T("config", "hal"), "cfg", false))

	for _, want := range []string{"root", "ready", "h1"} {
		if got := recv(t, s).Payload; got != want {
			t.Fatalf("got %v, want %s", got, want)
		}
	}
	none(t, s)
}

func TestOverlappingSubscriptionsEachDeliverOnce(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")
	exact := c.Subscribe(capValue("temperature", 3))
	plus := c.Subscribe(T("hal", "capability", "temperature", SingleWild, "value"))
	hash := c.Subscribe(T("hal", "capability", MultiWild))

	c.Publish(c.NewMessage(capValue("temperature", 3), 1, false))
	for _, s := range []*Subscription{exact, plus, hash} {
		recv(t, s)
		none(t, s)
	}
}

// ---- retained ----

func TestRetainedReachesLateWildcardSubscribers(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")
	c.Publish(c.NewMessage(T("hal", "capability", "temperature", 0, "info"), "t-info", true))
	c.Publish(c.NewMessage(T("hal", "capability", "humidity", 0, "info"), "h-info", true))
	c.Publish(c.NewMessage(T("hal", "state"), "ready", true))
	c.Publish(c.NewMessage(capValue("humidity", 0), "not kept", false))

	plus := c.Subscribe(T("hal", "capability", SingleWild, 0, "info"))
	got := map[any]bool{recv(t, plus).Payload: true, recv(t, plus).Payload: true}
	if !got["t-info"] || !got["h-info"] {
		t.Fatalf("retained via +: %v", got)
	}
	none(t, plus)

	hash := c.Subscribe(T("hal", MultiWild))
	n := 0
	for {
		select {
		case m := <-hash.Channel():
			if !m.Retained || m.Payload == "not kept" {
				t.Fatalf("non-retained replayed: %v", m.Payload)
			}
			n++
			continue
		case <-time.After(20 * time.Millisecond):
		}
		break
	}
	if n != 3 {
		t.Fatalf("retained via #: %d messages, want 3", n)
	}
}

func TestRetainedSkipsSubscriptionOnlyBranches(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")
	// A wildcard subscription creates "+" and "#" nodes in the trie; they
	// hold no retained message and must not be walked as concrete topics.
	c.Subscribe(T("hal", "capability", SingleWild, SingleWild, "state"))
	c.Subscribe(T("hal", MultiWild))
	c.Publish(c.NewMessage(T("hal", "capability", "temperature", 0, "state"), "up", true))

	late := c.Subscribe(T("hal", "capability", SingleWild, SingleWild, "state"))
	if recv(t, late).Payload != "up" {
		t.Fatal("retained state not replayed")
	}
	none(t, late)
}

func TestRetainedReplaceAndClear(t *testing.T) {
	b := NewBus(8)
	c := b.NewConnection("test")
	info := T("hal", "capability", "humidity", 0, "info")
	live := c.Subscribe(T("hal", "capability", MultiWild))

	c.Publish(c.NewMessage(info, "v1", true))
	c.Publish(c.NewMessage(info, "v2", true))
	recv(t, live)
	recv(t, live)

	late := c.Subscribe(info)
	if recv(t, late).Payload != "v2" {
		t.Fatal("newest retained value not kept")
	}

	// Clearing is itself delivered to live subscribers, with a nil payload.
	c.Publish(c.NewMessage(info, nil, true))
	if m := recv(t, live); m.Payload != nil || !m.Retained {
		t.Fatalf("clear delivered as %+v", m)
	}
	none(t, c.Subscribe(T("hal", "capability", SingleWild, SingleWild, "info")))
	none(t, c.Subscribe(T("hal", MultiWild)))
}

func TestClearOnUnknownTopicIsHarmless(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	c.Publish(c.NewMessage(T("never", "set"), nil, true))
	none(t, c.Subscribe(T(MultiWild)))
}

func TestUnsubscribeKeepsRetained(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("test")
	st := T("hal", "state")
	c.Publish(c.NewMessage(st, "ready", true))

	s := c.Subscribe(st)
	recv(t, s)
	s.Unsubscribe()
	if _, ok := <-s.Channel(); ok {
		t.Fatal("channel open after Unsubscribe")
	}
	if recv(t, c.Subscribe(st)).Payload != "ready" {
		t.Fatal("pruning dropped the retained message")
	}
}

// ---- queues and connections ----

func TestFullQueueDropsOldest(t *testing.T) {
	b := NewBus(2)
	c := b.NewConnection("test")
	s := c.Subscribe(capValue("temperature", 0))
	for _, v := range []int{210, 220, 230} {
		c.Publish(c.NewMessage(capValue("temperature", 0), v, false))
	}
	if recv(t, s).Payload != 220 || recv(t, s).Payload != 230 {
		t.Fatal("expected the two newest readings")
	}
}

func TestDisconnectClosesEverySubscription(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("monitor")
	subs := []*Subscription{c.Subscribe(T("hal", MultiWild)), c.Subscribe(T("config", "hal"))}
	c.Disconnect()
	for _, s := range subs {
		if _, ok := <-s.Channel(); ok {
			t.Fatalf("%s still open", s.Topic())
		}
	}
	// Nothing left to deliver to, and a later Unsubscribe is a no-op.
	b.Publish(b.NewMessage(T("hal", "state"), "x", false))
	c.Unsubscribe(subs[0])
}

// ---- request / reply ----

func TestCanReply(t *testing.T) {
	var nilMsg *Message
	if nilMsg.CanReply() {
		t.Fatal("nil message can reply")
	}
	if (&Message{Topic: T("x")}).CanReply() {
		t.Fatal("message without ReplyTo can reply")
	}
	if !(&Message{ReplyTo: T("_reply", "ui", 1)}).CanReply() {
		t.Fatal("message with ReplyTo cannot reply")
	}
}

// serve answers read_now requests on hal/capability/+/+/control/read_now.
func serve(t *testing.T, b *Bus) {
	t.Helper()
	hal := b.NewConnection("hal")
	reqs := hal.Subscribe(T("hal", "capability", SingleWild, SingleWild, "control", "read_now"))
	go func() {
		for m := range reqs.Channel() {
			hal.Reply(m, m.Topic.At(3), false)
		}
	}()
	t.Cleanup(hal.Disconnect)
}

func TestRequestWaitRoutesReplyToCaller(t *testing.T) {
	b := NewBus(8)
	serve(t, b)
	ui := b.NewConnection("ui")

	for _, id := range []int{0, 1} {
		req := ui.NewMessage(T("hal", "capability", "humidity", id, "control", "read_now"), nil, false)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		r, err := ui.RequestWait(ctx, req)
		cancel()
		if err != nil {
			t.Fatal(err)
		}
		if r.Payload != id {
			t.Fatalf("reply for %d carried %v", id, r.Payload)
		}
		if req.ReplyTo.At(0) != "_reply" || req.ReplyTo.At(1) != "ui" {
			t.Fatalf("reply topic %s", req.ReplyTo)
		}
	}
}

func TestRequestUsesFreshReplyTopics(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("ui")
	s1 := c.Request(c.NewMessage(T("a"), nil, false))
	s2 := c.Request(c.NewMessage(T("a"), nil, false))
	defer s1.Unsubscribe()
	defer s2.Unsubscribe()
	if s1.Topic().String() == s2.Topic().String() {
		t.Fatalf("reply topics collide: %s", s1.Topic())
	}
}

func TestRequestWaitTimesOut(t *testing.T) {
	b := NewBus(4)
	c := b.NewConnection("ui")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.RequestWait(ctx, c.NewMessage(T("hal", "capability", "temperature", 9, "control", "read_now"), nil, false))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
}

func TestRequestWaitEndsOnDisconnect(t *testing.T) {
	b := NewBus(4)
	ui := b.NewConnection("ui")
	seen := b.NewConnection("hal").Subscribe(T("ping"))

	done := make(chan error, 1)
	go func() {
		_, err := ui.RequestWait(context.Background(), ui.NewMessage(T("ping"), nil, false))
		done <- err
	}()
	recv(t, seen)
	ui.Disconnect()

	select {
	case err := <-done:
		if !errors.Is(err, ErrNoReply) {
			t.Fatalf("err = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("RequestWait still blocked")
	}
}
