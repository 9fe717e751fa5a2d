package performance

import (
	"fmt"
	"io"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/colorfulnotion/hybridvm/types"
)

// RenderCharts writes an HTML page with the report's charts to w.
func (r *Report) RenderCharts(w io.Writer) error {
	page := components.NewPage()
	page.AddCharts(tierChart(r.Engine), hotBlockChart(r.Engine.HotBlocks))
	if len(r.Compiles) > 0 {
		page.AddCharts(compileSpeedChart(r.Compiles))
	}
	return page.Render(w)
}

// SaveCharts renders the charts to an HTML file at path.
func (r *Report) SaveCharts(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create chart file %s: %w", path, err)
	}
	defer f.Close()
	return r.RenderCharts(f)
}

// tierChart shows how dispatches split across execution tiers.
func tierChart(st types.EnhancedStats) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Dispatches per Execution Tier",
			Subtitle: fmt.Sprintf("cache hit rate %.1f%%, threshold %d", st.Cache.HitRate()*100, st.CurrentThreshold),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	bar.SetXAxis([]string{
		types.SourceAotImage.String(),
		types.SourceJitCompiled.String(),
		types.SourceInterpreted.String(),
	}).AddSeries("dispatches", []opts.BarData{
		{Value: st.AotDispatches},
		{Value: st.JitDispatches},
		{Value: st.InterpretedDispatches},
	})
	return bar
}

// hotBlockChart shows the hottest guest addresses by execution count.
func hotBlockChart(hot []types.HotBlock) *charts.Bar {
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{Title: "Hottest Guest Blocks"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	axis := make([]string, 0, len(hot))
	data := make([]opts.BarData, 0, len(hot))
	for _, hb := range hot {
		axis = append(axis, fmt.Sprintf("0x%x", hb.Address))
		data = append(data, opts.BarData{Value: hb.Count})
	}
	bar.SetXAxis(axis).AddSeries("executions", data)
	return bar
}

// compileSpeedChart plots compile time against block size.
func compileSpeedChart(stats []CompileStats) *charts.Scatter {
	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Compile Speed",
			Subtitle: "compile time (us) vs IR instruction count",
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	axis := make([]string, 0, len(stats))
	data := make([]opts.ScatterData, 0, len(stats))
	for _, s := range stats {
		axis = append(axis, fmt.Sprintf("%d", s.IRInstructionCount))
		data = append(data, opts.ScatterData{Value: s.CompileTime.Microseconds()})
	}
	scatter.SetXAxis(axis).AddSeries("blocks", data)
	return scatter
}
