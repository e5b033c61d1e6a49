package swing

import (
	"fmt"
	"math"
	"time"

	"github.com/zyedidia/generic"

	"github.com/rewired-gh/quantstream/internal/logger"
	"github.com/rewired-gh/quantstream/internal/models"
	"github.com/rewired-gh/quantstream/internal/stats"
	"github.com/rewired-gh/quantstream/internal/window"
)

// Config parameterizes a ZigZag.
//
// Depth is the look-back used to find candidate highs and lows. Deviation is the
// minimum swing, in multiples of the average bar range, between a candidate and
// the last candidate of the opposite kind. Backstep is how many bars back a new
// candidate removes weaker ones of its kind. Capacity bounds the bars kept.
type Config struct {
	Depth     int     `mapstructure:"depth"`
	Deviation float64 `mapstructure:"deviation"`
	Backstep  int     `mapstructure:"backstep"`
	Capacity  int     `mapstructure:"capacity"`
}

const DefaultCapacity = 300

func DefaultConfig() Config {
	return Config{Depth: 12, Deviation: 5, Backstep: 3, Capacity: DefaultCapacity}
}

func (c Config) Validate() error {
	if c.Depth < 2 {
		return fmt.Errorf("%w: zigzag depth %d must be at least 2", models.ErrInvalidConfig, c.Depth)
	}
	if c.Backstep < 0 || c.Backstep >= c.Depth {
		return fmt.Errorf("%w: zigzag backstep %d must be in [0, depth %d)", models.ErrInvalidConfig, c.Backstep, c.Depth)
	}
	if c.Deviation < 0 || !models.IsFinite(c.Deviation) {
		return fmt.Errorf("%w: zigzag deviation %v must be non-negative", models.ErrInvalidConfig, c.Deviation)
	}
	if c.Capacity < c.Depth {
		return fmt.Errorf("%w: zigzag capacity %d below depth %d", models.ErrInvalidConfig, c.Capacity, c.Depth)
	}
	return nil
}

// Extremum is one zigzag vertex. Index is its position in the current arena.
type Extremum struct {
	Index int
	Time  time.Time
	Kind  models.SignalKind
	Value float64
}

// Buffers is a copy of the arena, one entry per bar held, oldest first. Empty
// slots are NaN. UpLeg and DownLeg hold the zigzag line interpolated across
// rising and falling legs.
type Buffers struct {
	Times   []time.Time
	HighMap []float64
	LowMap  []float64
	ZigZag  []float64
	UpLeg   []float64
	DownLeg []float64
}

type point struct {
	t    time.Time
	high float64
	low  float64
}

func (p point) Stamp() time.Time { return p.t }
func (p point) Val() float64     { return p.high }

// ZigZag extracts alternating swing extrema from high/low bars. Every update
// recomputes the arena of the last Capacity bars: a candidate pass marks new
// depth lows and highs, filters them by deviation and prunes them by backstep,
// then a forward pass alternates peaks and troughs, moving an unconfirmed vertex
// when a more extreme one of the same kind arrives. The newest vertex is
// provisional; every earlier one is confirmed.
//
// Confirmed vertices are kept across updates and the forward pass resumes from
// the newest of them, so they never move. Once the arena has dropped bars, its
// first bar is only a window edge: a vertex there is not confirmed unless an
// earlier confirmed vertex of the opposite kind precedes it.
//
// A ZigZag is not safe for concurrent use.
type ZigZag struct {
	cfg    Config
	bars   *window.Window[point]
	spread *stats.RollingMean
	last   time.Time
	seen   int

	highMap []float64
	lowMap  []float64
	zigzag  []float64
	upLeg   []float64
	downLeg []float64
	extrema []Extremum

	// history holds confirmed vertices still in the arena, oldest first. anchor
	// is the newest confirmed vertex, kept after it leaves the arena.
	history  []vertex
	anchor   vertex
	anchored bool
}

type vertex struct {
	seq   int
	t     time.Time
	kind  models.SignalKind
	value float64
}

func NewZigZag(cfg Config) (*ZigZag, error) {
	if cfg.Capacity == 0 {
		cfg.Capacity = generic.Max(25*cfg.Depth, DefaultCapacity)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	bars, err := window.New[point](cfg.Capacity)
	if err != nil {
		return nil, err
	}
	spread, err := stats.NewRollingMean(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &ZigZag{cfg: cfg, bars: bars, spread: spread}, nil
}

func (z *ZigZag) Config() Config { return z.cfg }

// Update adds one bar. A bar with a non-finite or inverted range, or stamped at
// or before the last one, is logged and dropped with the state left as it was.
func (z *ZigZag) Update(t time.Time, high, low float64) error {
	if err := z.check(t, high, low); err != nil {
		logger.Warn("Zigzag dropped bar at %s: %v", t.Format(time.RFC3339), err)
		return err
	}
	if _, _, err := z.bars.Push(point{t: t, high: high, low: low}); err != nil {
		logger.Warn("Zigzag dropped bar at %s: %v", t.Format(time.RFC3339), err)
		return err
	}
	_ = z.spread.Update(models.NoTime, high-low)
	if !t.IsZero() {
		z.last = t
	}
	z.seen++
	z.recompute()
	return nil
}

func (z *ZigZag) check(t time.Time, high, low float64) error {
	if !models.IsFinite(high) || !models.IsFinite(low) {
		return fmt.Errorf("%w: high %v low %v", models.ErrInvalidValue, high, low)
	}
	if high < low {
		return fmt.Errorf("%w: high %v below low %v", models.ErrInvalidValue, high, low)
	}
	return models.CheckOrder(z.last, t)
}

func (z *ZigZag) recompute() {
	n := z.bars.Len()
	offset := z.seen - n
	for len(z.history) > 0 && z.history[0].seq < offset {
		z.history = z.history[1:]
	}
	z.highMap = reset(z.highMap, n)
	z.lowMap = reset(z.lowMap, n)
	z.zigzag = reset(z.zigzag, n)
	z.upLeg = reset(z.upLeg, n)
	z.downLeg = reset(z.downLeg, n)

	z.markCandidates(n)
	peak, unbacked := z.alternate(n, offset)
	z.collect(n, peak)
	z.confirm(offset, unbacked)
}

// markCandidates is the candidate pass over the arena, oldest first.
func (z *ZigZag) markCandidates(n int) {
	threshold := z.cfg.Deviation * z.spread.Mean()
	lows, highs := NewTracker(z.cfg.Depth), NewTracker(z.cfg.Depth)
	var lastLow, lastHigh float64
	haveLow, haveHigh := false, false
	refLow, refHigh := math.NaN(), math.NaN()

	for i := 0; i < n; i++ {
		p := z.bars.At(i)
		lows.Push(int64(i), p.low)
		highs.Push(int64(i), p.high)

		lo, _ := lows.Lowest()
		if !haveLow || lo.Value != lastLow {
			lastLow, haveLow = lo.Value, true
			near := !math.IsNaN(refHigh) && refHigh-lo.Value < threshold
			if p.low == lo.Value && !near {
				for b := 1; b <= z.cfg.Backstep && i-b >= 0; b++ {
					if old := z.lowMap[i-b]; !math.IsNaN(old) && old > lo.Value {
						z.lowMap[i-b] = math.NaN()
					}
				}
				z.lowMap[i] = lo.Value
				refLow = lo.Value
			}
		}

		hi, _ := highs.Highest()
		if !haveHigh || hi.Value != lastHigh {
			lastHigh, haveHigh = hi.Value, true
			near := !math.IsNaN(refLow) && hi.Value-refLow < threshold
			if p.high == hi.Value && !near {
				for b := 1; b <= z.cfg.Backstep && i-b >= 0; b++ {
					if old := z.highMap[i-b]; !math.IsNaN(old) && old < hi.Value {
						z.highMap[i-b] = math.NaN()
					}
				}
				z.highMap[i] = hi.Value
				refHigh = hi.Value
			}
		}
	}
}

type seek int

const (
	seekFirst seek = iota
	seekPeak
	seekTrough
)

// alternate is the forward pass. It fills the zigzag buffer and reports which
// vertices are peaks, plus the index of a first vertex that sits on the edge of
// a truncated arena with nothing confirmed before it, or -1.
//
// The pass starts after the newest confirmed vertex. Vertices before start are
// fixed: lowPos or highPos below start are never moved.
func (z *ZigZag) alternate(n, offset int) ([]bool, int) {
	peak := make([]bool, n)
	for _, v := range z.history {
		i := v.seq - offset
		z.zigzag[i], peak[i] = v.value, v.kind == models.KindPeak
	}

	state := seekFirst
	start, lowPos, highPos := 0, -1, -1
	unbacked := -1
	if z.anchored {
		if i := z.anchor.seq - offset; i >= 0 {
			start = i + 1
			lowPos, highPos = i, i
		}
		state = seekPeak
		if z.anchor.kind == models.KindPeak {
			state = seekTrough
		}
	}

	for i := start; i < n; i++ {
		hasHigh := !math.IsNaN(z.highMap[i])
		hasLow := !math.IsNaN(z.lowMap[i])
		switch state {
		case seekFirst:
			// A bar that is both goes in as a trough.
			switch {
			case hasLow:
				lowPos, state = i, seekPeak
				z.zigzag[i] = z.lowMap[i]
			case hasHigh:
				highPos, state = i, seekTrough
				z.zigzag[i], peak[i] = z.highMap[i], true
			}
			if state != seekFirst && offset > 0 && i == 0 {
				unbacked = i
			}
		case seekPeak:
			if hasLow && !hasHigh && lowPos >= start && z.lowMap[i] < z.lowMap[lowPos] {
				z.zigzag[lowPos] = math.NaN()
				lowPos = i
				z.zigzag[i] = z.lowMap[i]
			}
			if hasHigh && !hasLow {
				highPos, state = i, seekTrough
				z.zigzag[i], peak[i] = z.highMap[i], true
			}
		case seekTrough:
			if hasHigh && !hasLow && highPos >= start && z.highMap[i] > z.highMap[highPos] {
				z.zigzag[highPos], peak[highPos] = math.NaN(), false
				highPos = i
				z.zigzag[i], peak[i] = z.highMap[i], true
			}
			if hasLow && !hasHigh {
				lowPos, state = i, seekPeak
				z.zigzag[i] = z.lowMap[i]
			}
		}
	}
	return peak, unbacked
}

// confirm moves every vertex but the newest into history, skipping the
// unbacked edge vertex.
func (z *ZigZag) confirm(offset, unbacked int) {
	after := -1
	if z.anchored {
		after = z.anchor.seq
	}
	for k := 0; k < len(z.extrema)-1; k++ {
		ex := z.extrema[k]
		seq := offset + ex.Index
		if seq <= after || ex.Index == unbacked {
			continue
		}
		v := vertex{seq: seq, t: ex.Time, kind: ex.Kind, value: ex.Value}
		z.history = append(z.history, v)
		z.anchor, z.anchored = v, true
	}
}

// collect lists the vertices and draws the legs between them.
func (z *ZigZag) collect(n int, peak []bool) {
	z.extrema = z.extrema[:0]
	for i := 0; i < n; i++ {
		if math.IsNaN(z.zigzag[i]) {
			continue
		}
		kind := models.KindTrough
		if peak[i] {
			kind = models.KindPeak
		}
		z.extrema = append(z.extrema, Extremum{Index: i, Time: z.bars.At(i).t, Kind: kind, Value: z.zigzag[i]})
	}

	for k := 1; k < len(z.extrema); k++ {
		a, b := z.extrema[k-1], z.extrema[k]
		leg := z.downLeg
		if b.Value > a.Value {
			leg = z.upLeg
		}
		span := float64(b.Index - a.Index)
		for j := a.Index; j <= b.Index; j++ {
			leg[j] = a.Value + (b.Value-a.Value)*float64(j-a.Index)/span
		}
	}
}

func reset(buf []float64, n int) []float64 {
	if cap(buf) < n {
		buf = make([]float64, n, n*2)
	}
	buf = buf[:n]
	for i := range buf {
		buf[i] = math.NaN()
	}
	return buf
}

// IsReady reports whether a full depth of bars has been seen.
func (z *ZigZag) IsReady() bool { return z.bars.Len() >= z.cfg.Depth }

// Len returns the number of bars in the arena.
func (z *ZigZag) Len() int { return z.bars.Len() }

// Seen returns the number of bars accepted since construction.
func (z *ZigZag) Seen() int { return z.seen }

// Sequence maps an arena index to the bar's position among all accepted bars.
func (z *ZigZag) Sequence(index int) int { return z.seen - z.bars.Len() + index }

// Extrema returns every vertex, oldest first, including the provisional last one.
func (z *ZigZag) Extrema() []Extremum {
	return append([]Extremum(nil), z.extrema...)
}

// Confirmed returns the confirmed vertices still in the arena, oldest first.
func (z *ZigZag) Confirmed() []Extremum {
	if len(z.history) == 0 {
		return nil
	}
	offset := z.seen - z.bars.Len()
	out := make([]Extremum, len(z.history))
	for k, v := range z.history {
		out[k] = Extremum{Index: v.seq - offset, Time: v.t, Kind: v.kind, Value: v.value}
	}
	return out
}

// LastPeak returns the newest confirmed peak.
func (z *ZigZag) LastPeak() (Extremum, bool) { return z.lastConfirmed(models.KindPeak) }

// LastTrough returns the newest confirmed trough.
func (z *ZigZag) LastTrough() (Extremum, bool) { return z.lastConfirmed(models.KindTrough) }

func (z *ZigZag) lastConfirmed(kind models.SignalKind) (Extremum, bool) {
	confirmed := z.Confirmed()
	for i := len(confirmed) - 1; i >= 0; i-- {
		if confirmed[i].Kind == kind {
			return confirmed[i], true
		}
	}
	return Extremum{}, false
}

func (z *ZigZag) Buffers() Buffers {
	n := z.bars.Len()
	times := make([]time.Time, n)
	for i := range times {
		times[i] = z.bars.At(i).t
	}
	return Buffers{
		Times:   times,
		HighMap: append([]float64(nil), z.highMap...),
		LowMap:  append([]float64(nil), z.lowMap...),
		ZigZag:  append([]float64(nil), z.zigzag...),
		UpLeg:   append([]float64(nil), z.upLeg...),
		DownLeg: append([]float64(nil), z.downLeg...),
	}
}

// Clone deep-copies the detector.
func (z *ZigZag) Clone() *ZigZag {
	return &ZigZag{
		cfg:     z.cfg,
		bars:    z.bars.Clone(),
		spread:  z.spread.Clone(),
		last:    z.last,
		seen:    z.seen,
		highMap: append([]float64(nil), z.highMap...),
		lowMap:  append([]float64(nil), z.lowMap...),
		zigzag:  append([]float64(nil), z.zigzag...),
		upLeg:   append([]float64(nil), z.upLeg...),
		downLeg: append([]float64(nil), z.downLeg...),
		extrema: append([]Extremum(nil), z.extrema...),

		history:  append([]vertex(nil), z.history...),
		anchor:   z.anchor,
		anchored: z.anchored,
	}
}
