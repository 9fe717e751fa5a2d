// Package performance collects compilation and dispatch statistics and
// renders them as JSON reports and HTML charts.
package performance

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/colorfulnotion/hybridvm/types"
)

// CompileStats captures timing for one compiled block.
type CompileStats struct {
	Address            uint64        `json:"address"`
	Backend            string        `json:"backend"`
	IRInstructionCount int           `json:"ir_instruction_count"`
	NativeBytes        int           `json:"native_bytes"`
	CompileTime        time.Duration `json:"compile_time_ns"`
}

// AggregateStats summarizes a set of compile measurements.
type AggregateStats struct {
	Count               int           `json:"count"`
	TotalIRInstructions int           `json:"total_ir_instructions"`
	TotalNativeBytes    int           `json:"total_native_bytes"`
	AvgCompileTime      time.Duration `json:"avg_compile_time_ns"`
	MinCompileTime      time.Duration `json:"min_compile_time_ns"`
	MaxCompileTime      time.Duration `json:"max_compile_time_ns"`
}

// Report is the full performance report for one workload run.
type Report struct {
	Workload    string              `json:"workload"`
	Engine      types.EnhancedStats `json:"engine"`
	Compiles    []CompileStats      `json:"compiles,omitempty"`
	Aggregate   *AggregateStats     `json:"aggregate,omitempty"`
	WallTime    time.Duration       `json:"wall_time_ns"`
	GeneratedAt time.Time           `json:"generated_at"`
}

// Recorder accumulates compile measurements from any goroutine.
type Recorder struct {
	mu    sync.Mutex
	stats []CompileStats
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Record(s CompileStats) {
	r.mu.Lock()
	r.stats = append(r.stats, s)
	r.mu.Unlock()
}

// Snapshot returns a copy of everything recorded so far.
func (r *Recorder) Snapshot() []CompileStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CompileStats, len(r.stats))
	copy(out, r.stats)
	return out
}

// CalculateAggregate reduces compile measurements to summary numbers.
func CalculateAggregate(stats []CompileStats) *AggregateStats {
	if len(stats) == 0 {
		return nil
	}
	agg := &AggregateStats{
		Count:          len(stats),
		MinCompileTime: stats[0].CompileTime,
		MaxCompileTime: stats[0].CompileTime,
	}
	var total time.Duration
	for _, s := range stats {
		agg.TotalIRInstructions += s.IRInstructionCount
		agg.TotalNativeBytes += s.NativeBytes
		total += s.CompileTime
		if s.CompileTime < agg.MinCompileTime {
			agg.MinCompileTime = s.CompileTime
		}
		if s.CompileTime > agg.MaxCompileTime {
			agg.MaxCompileTime = s.CompileTime
		}
	}
	agg.AvgCompileTime = total / time.Duration(len(stats))
	return agg
}

// BuildReport assembles the final report for a workload run.
func BuildReport(workload string, engine types.EnhancedStats, compiles []CompileStats, wallTime time.Duration) *Report {
	return &Report{
		Workload:    workload,
		Engine:      engine,
		Compiles:    compiles,
		Aggregate:   CalculateAggregate(compiles),
		WallTime:    wallTime,
		GeneratedAt: time.Now(),
	}
}

// WriteJSON writes the report to path, pretty-printed.
func (r *Report) WriteJSON(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write report %s: %w", path, err)
	}
	return nil
}
