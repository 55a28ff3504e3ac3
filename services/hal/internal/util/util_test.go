package util

import (
	"testing"
	"time"
)

func TestDecodeJSON(t *testing.T) {
	type P struct {
		Pin       int    `json:"pin"`
		Unit      string `json:"unit"`
		TimeoutUS uint32 `json:"timeout_us"`
	}

	for name, in := range map[string]any{
		"bytes":  []byte(`{"pin":4,"unit":"F","timeout_us":500}`),
		"string": `{"pin":4,"unit":"F","timeout_us":500}`,
		"map":    map[string]any{"pin": 4, "unit": "F", "timeout_us": 500},
	} {
		var p P
		if err := DecodeJSON(in, &p); err != nil {
			t.Fatalf("%s: decode failed: %v", name, err)
		}
		if p.Pin != 4 || p.Unit != "F" || p.TimeoutUS != 500 {
			t.Fatalf("%s: unexpected result: %+v", name, p)
		}
	}

	p := struct{ Pin int }{Pin: 9}
	if err := DecodeJSON(nil, &p); err != nil || p.Pin != 9 {
		t.Fatalf("nil src should leave dst untouched: %+v, %v", p, err)
	}
	if err := DecodeJSON(`{"pin":`, &p); err == nil {
		t.Fatal("expected error on truncated JSON")
	}
}

func TestAsInt(t *testing.T) {
	for _, v := range []any{3, int64(3), uint8(3), float64(3)} {
		if n, ok := AsInt(v); !ok || n != 3 {
			t.Fatalf("AsInt(%T) = %d, %v", v, n, ok)
		}
	}
	if _, ok := AsInt("3"); ok {
		t.Fatal("string should not convert")
	}
}

func TestResetAndDrainTimer(t *testing.T) {
	tm := time.NewTimer(time.Hour)
	if !tm.Stop() {
		DrainTimer(tm)
	}
	// Reset to near-zero and ensure it fires quickly.
	ResetTimer(tm, 1*time.Millisecond)
	select {
	case <-tm.C:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("timer did not fire after ResetTimer")
	}
	// Negative reset clamps to zero and should fire immediately.
	ResetTimer(tm, -1)
	select {
	case <-tm.C:
	case <-time.After(50 * time.Millisecond):
		t.Fatal("timer did not fire after negative ResetTimer")
	}
}
