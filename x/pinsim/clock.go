package pinsim

import "sync"

// Clock is a microsecond time source that also provides blocking delays.
type Clock interface {
	NowUS() int64
	DelayMS(ms uint32)
	DelayUS(us uint32)
}

// VirtualClock only moves when a delay is requested.
type VirtualClock struct {
	mu  sync.Mutex
	now int64
}

func (c *VirtualClock) NowUS() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) Advance(us int64) {
	c.mu.Lock()
	c.now += us
	c.mu.Unlock()
}

func (c *VirtualClock) DelayMS(ms uint32) { c.Advance(int64(ms) * 1000) }
func (c *VirtualClock) DelayUS(us uint32) { c.Advance(int64(us)) }
