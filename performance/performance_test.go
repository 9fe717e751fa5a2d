package performance

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/colorfulnotion/hybridvm/types"
)

func sampleStats() []CompileStats {
	return []CompileStats{
		{Address: 0x1000, Backend: "direct", IRInstructionCount: 4, NativeBytes: 109, CompileTime: 20 * time.Microsecond},
		{Address: 0x1010, Backend: "direct", IRInstructionCount: 10, NativeBytes: 181, CompileTime: 60 * time.Microsecond},
		{Address: 0x1020, Backend: "direct", IRInstructionCount: 1, NativeBytes: 73, CompileTime: 10 * time.Microsecond},
	}
}

func TestCalculateAggregate(t *testing.T) {
	require.Nil(t, CalculateAggregate(nil))

	agg := CalculateAggregate(sampleStats())
	require.Equal(t, 3, agg.Count)
	require.Equal(t, 15, agg.TotalIRInstructions)
	require.Equal(t, 363, agg.TotalNativeBytes)
	require.Equal(t, 30*time.Microsecond, agg.AvgCompileTime)
	require.Equal(t, 10*time.Microsecond, agg.MinCompileTime)
	require.Equal(t, 60*time.Microsecond, agg.MaxCompileTime)
}

func TestRecorderSnapshotIsCopy(t *testing.T) {
	r := NewRecorder()
	for _, s := range sampleStats() {
		r.Record(s)
	}
	snap := r.Snapshot()
	require.Len(t, snap, 3)
	snap[0].Address = 0xDEAD
	require.Equal(t, uint64(0x1000), r.Snapshot()[0].Address)
}

func TestReportJSONAndCharts(t *testing.T) {
	dir := t.TempDir()
	engine := types.EnhancedStats{
		AotDispatches:         10,
		JitDispatches:         200,
		InterpretedDispatches: 90,
		CurrentThreshold:      100,
		HotBlocks:             []types.HotBlock{{Address: 0x1000, Count: 150}},
	}
	report := BuildReport("loop-bench", engine, sampleStats(), 3*time.Second)

	jsonPath := filepath.Join(dir, "report.json")
	require.NoError(t, report.WriteJSON(jsonPath))
	data, err := os.ReadFile(jsonPath)
	require.NoError(t, err)
	require.Contains(t, string(data), "loop-bench")
	require.Contains(t, string(data), "jit_dispatches")

	var buf bytes.Buffer
	require.NoError(t, report.RenderCharts(&buf))
	out := buf.String()
	require.Contains(t, out, "Dispatches per Execution Tier")
	require.Contains(t, out, "Hottest Guest Blocks")
	require.Contains(t, out, "Compile Speed")

	htmlPath := filepath.Join(dir, "report.html")
	require.NoError(t, report.SaveCharts(htmlPath))
	st, err := os.Stat(htmlPath)
	require.NoError(t, err)
	require.Positive(t, st.Size())
}
