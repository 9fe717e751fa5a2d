package hotness

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/colorfulnotion/hybridvm/log"
)

// Sample is one completed compilation event: how long the backend took and
// the interpreted-path cost avoided per subsequent hit, as measured from the
// dispatcher's running averages.
type Sample struct {
	CompileTime time.Duration
	ExecBenefit time.Duration
}

// AdaptiveConfig parameterizes the threshold controller.
type AdaptiveConfig struct {
	MinThreshold     uint64  `json:"min_threshold"`
	MaxThreshold     uint64  `json:"max_threshold"`
	InitialThreshold uint64  `json:"initial_threshold"`
	WindowSize       int     `json:"window_size"`
	CompileWeight    float64 `json:"compile_time_weight"`
	BenefitWeight    float64 `json:"exec_benefit_weight"`
}

// DefaultAdaptiveConfig returns the stock tuning.
func DefaultAdaptiveConfig() AdaptiveConfig {
	return AdaptiveConfig{
		MinThreshold:     10,
		MaxThreshold:     10000,
		InitialThreshold: 100,
		WindowSize:       32,
		CompileWeight:    1.0,
		BenefitWeight:    1.0,
	}
}

// AdaptiveThreshold self-tunes the promotion bar: workloads full of
// short-lived blocks raise it (compilation would be wasted), workloads with a
// few long-lived hot loops lower it.
type AdaptiveThreshold struct {
	min, max uint64
	current  atomic.Uint64

	compileWeight float64
	benefitWeight float64

	mu     sync.Mutex
	window []Sample
	idx    int
	filled bool
}

// NewAdaptiveThreshold builds the controller from cfg, clamping the initial
// value into [min, max].
func NewAdaptiveThreshold(cfg AdaptiveConfig) *AdaptiveThreshold {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultAdaptiveConfig().WindowSize
	}
	if cfg.MaxThreshold < cfg.MinThreshold {
		cfg.MaxThreshold = cfg.MinThreshold
	}
	a := &AdaptiveThreshold{
		min:           cfg.MinThreshold,
		max:           cfg.MaxThreshold,
		compileWeight: cfg.CompileWeight,
		benefitWeight: cfg.BenefitWeight,
		window:        make([]Sample, cfg.WindowSize),
	}
	a.current.Store(clamp(cfg.InitialThreshold, cfg.MinThreshold, cfg.MaxThreshold))
	return a
}

// Current returns the promotion bar. Lock-free; read on every dispatch.
func (a *AdaptiveThreshold) Current() uint64 {
	return a.current.Load()
}

// Bounds returns the configured clamp range.
func (a *AdaptiveThreshold) Bounds() (min, max uint64) {
	return a.min, a.max
}

// RecordCompile feeds one completed compilation into the sliding window.
// Each time the window wraps, the threshold is recomputed.
func (a *AdaptiveThreshold) RecordCompile(compileTime, execBenefit time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.window[a.idx] = Sample{CompileTime: compileTime, ExecBenefit: execBenefit}
	a.idx++
	if a.idx == len(a.window) {
		a.idx = 0
		a.filled = true
		a.recomputeLocked()
	}
}

func (a *AdaptiveThreshold) recomputeLocked() {
	var compileSum, benefitSum float64
	for _, s := range a.window {
		compileSum += float64(s.CompileTime)
		benefitSum += float64(s.ExecBenefit)
	}
	n := float64(len(a.window))
	avgCompile := a.compileWeight * compileSum / n
	avgBenefit := a.benefitWeight * benefitSum / n

	old := a.current.Load()
	next := clamp(adjustThreshold(old, costBenefitRatio(avgCompile, avgBenefit)), a.min, a.max)
	a.current.Store(next)
	if next != old {
		log.Debug(log.HotnessMonitoring, "threshold adjusted", "old", old, "new", next, "avg_compile", time.Duration(avgCompile), "avg_benefit", time.Duration(avgBenefit))
	}
}

// costBenefitRatio returns weighted compile cost over realized benefit. A
// zero benefit means compilation paid off for nothing observed yet; treat it
// as the most expensive bucket.
func costBenefitRatio(avgCompile, avgBenefit float64) float64 {
	if avgBenefit <= 0 {
		return ratioVeryExpensive
	}
	return avgCompile / avgBenefit
}

// Bucket boundaries for the cost/benefit ratio. The ranges are explicit,
// non-overlapping, and exhaustive: every non-negative ratio lands in exactly
// one bucket.
const (
	ratioCheapBelow     = 0.5 // compilation much cheaper than realized benefit
	ratioFavorableBelow = 1.0
	ratioNeutralBelow   = 2.0
	ratioExpensiveBelow = 4.0
	ratioVeryExpensive  = 4.0 // >= this is the top bucket
)

// adjustThreshold maps the ratio bucket to a multiplicative step on the
// current threshold. Cheap compilation lowers the bar (compile sooner);
// expensive compilation raises it (demand more evidence of hotness).
func adjustThreshold(current uint64, ratio float64) uint64 {
	cur := float64(current)
	switch {
	case ratio < ratioCheapBelow:
		return uint64(cur * 0.75)
	case ratio < ratioFavorableBelow:
		return uint64(cur * 0.90)
	case ratio < ratioNeutralBelow:
		return current
	case ratio < ratioExpensiveBelow:
		return uint64(cur * 1.25)
	default:
		return uint64(cur * 1.50)
	}
}

func clamp(v, min, max uint64) uint64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// WindowFill reports how many samples the current window holds, for stats.
func (a *AdaptiveThreshold) WindowFill() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.filled {
		return len(a.window)
	}
	return a.idx
}
