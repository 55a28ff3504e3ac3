package pinsim

import "sync"

// StartPulseUS is the shortest host low pulse the simulated sensor accepts.
const StartPulseUS = 18000

// Op identifies a recorded line call.
type Op uint8

const (
	OpInit Op = iota
	OpDeinit
	OpOutput
	OpInput
	OpSet
)

func (o Op) String() string {
	switch o {
	case OpInit:
		return "init"
	case OpDeinit:
		return "deinit"
	case OpOutput:
		return "output"
	case OpInput:
		return "input"
	case OpSet:
		return "set"
	default:
		return "?"
	}
}

// Call is one entry of the call log. Reads are counted, not logged.
type Call struct {
	Op    Op
	Level bool  // OpSet only
	AtUS  int64 // clock time of the call
}

// Line is a simulated DHT11 data line. It satisfies the driver's Pin and
// Delayer interfaces and the HAL's numbered line interface.
type Line struct {
	mu     sync.Mutex
	clock  Clock
	number int
	frame  Waveform

	calls []Call
	reads int

	inited  bool
	output  bool
	level   bool
	lowAt   int64
	armed   bool // a valid start pulse was seen
	playing bool
	playAt  int64
}

// NewLine returns a line on clock that answers each start signal with frame.
// A nil frame never answers.
func NewLine(clock Clock, number int, frame Waveform) *Line {
	if clock == nil {
		clock = &VirtualClock{}
	}
	return &Line{clock: clock, number: number, frame: frame, lowAt: -1}
}

// SetFrame replaces the reply used by the next cycle.
func (l *Line) SetFrame(w Waveform) {
	l.mu.Lock()
	l.frame = w
	l.mu.Unlock()
}

func (l *Line) Number() int { return l.number }

func (l *Line) Init() {
	l.mu.Lock()
	l.inited = true
	l.log(Call{Op: OpInit})
	l.mu.Unlock()
}

func (l *Line) Deinit() {
	l.mu.Lock()
	l.inited = false
	l.playing = false
	l.log(Call{Op: OpDeinit})
	l.mu.Unlock()
}

func (l *Line) SetOutput(out bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.output = out
	if out {
		l.log(Call{Op: OpOutput})
		l.playing = false
		return
	}
	l.log(Call{Op: OpInput})
	if l.armed {
		l.armed = false
		l.playing = l.frame != nil
		l.playAt = l.clock.NowUS()
	}
}

func (l *Line) Set(level bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.log(Call{Op: OpSet, Level: level})
	if !l.output {
		return
	}
	now := l.clock.NowUS()
	switch {
	case !level && l.lowAt < 0:
		l.lowAt = now
	case level && l.lowAt >= 0:
		l.armed = now-l.lowAt >= StartPulseUS
		l.lowAt = -1
	}
	l.level = level
}

func (l *Line) Get() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reads++
	if l.output {
		return l.level
	}
	if !l.playing {
		return true
	}
	return l.frame.LevelAt(l.clock.NowUS() - l.playAt)
}

func (l *Line) DelayMS(ms uint32) { l.clock.DelayMS(ms) }
func (l *Line) DelayUS(us uint32) { l.clock.DelayUS(us) }

// Calls returns a copy of the call log.
func (l *Line) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Reads returns how many times the level was sampled.
func (l *Line) Reads() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.reads
}

// IsOutput reports the current direction.
func (l *Line) IsOutput() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.output
}

// Initialised reports whether Init was called without a later Deinit.
func (l *Line) Initialised() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inited
}

func (l *Line) log(c Call) {
	c.AtUS = l.clock.NowUS()
	l.calls = append(l.calls, c)
}
