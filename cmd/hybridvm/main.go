// hybridvm - synthetic workload driver for the tiered execution engine.
// It runs a guest loop through the interpret -> JIT -> cache pipeline,
// optionally warmed from an AOT image, and reports how the dispatches
// split across tiers.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/colorfulnotion/hybridvm/aot"
	"github.com/colorfulnotion/hybridvm/backend"
	"github.com/colorfulnotion/hybridvm/common"
	"github.com/colorfulnotion/hybridvm/engine"
	"github.com/colorfulnotion/hybridvm/interp"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/performance"
	"github.com/colorfulnotion/hybridvm/telemetry"
	"github.com/colorfulnotion/hybridvm/types"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildTime = "unknown"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "hybridvm",
		Short: "Tiered cross-architecture execution engine",
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	var (
		configPath string
		storePath  string
		loglevel   string
		debug      string
	)
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "engine config JSON (defaults used when empty)")
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "AOT image store path (in-memory when empty)")
	rootCmd.PersistentFlags().StringVar(&loglevel, "loglevel", "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&debug, "debug", "", "comma-separated log modules to enable")

	loadConfig := func() engine.Config {
		log.InitLogger(loglevel)
		log.EnableModules(debug)
		cfg := engine.DefaultConfig()
		if configPath != "" {
			var err error
			cfg, err = engine.LoadConfig(configPath)
			if err != nil {
				fmt.Printf("Failed to load config: %v\n", err)
				os.Exit(1)
			}
		}
		if storePath != "" {
			cfg.AotStorePath = storePath
		}
		return cfg
	}

	var (
		iterations   uint64
		dispatchCap  int
		warmImage    string
		precompile   bool
		reportPath   string
		chartsPath   string
		otlpEndpoint string
	)
	var runCmd = &cobra.Command{
		Use:   "run",
		Short: "Run the synthetic loop workload through the tiered engine",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()

			ctx := context.Background()
			shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{Endpoint: otlpEndpoint, Insecure: true})
			if err != nil {
				fmt.Printf("Failed to init telemetry: %v\n", err)
				os.Exit(1)
			}
			defer shutdownTelemetry(ctx)

			dec := engine.NewMapDecoder()
			buildLoopWorkload(dec, iterations)
			mem := engine.NewFlatMemory(1 << 16)

			e, err := engine.New(cfg, dec, mem)
			if err != nil {
				fmt.Printf("Failed to build engine: %v\n", err)
				os.Exit(1)
			}
			defer e.Shutdown()

			fmt.Printf("hybridvm %s (%s %s)\n", Version, Commit, BuildTime)
			fmt.Printf("  Source Arch: %s\n", cfg.SourceArch)
			fmt.Printf("  Target Arch: %s\n", cfg.TargetArch)
			fmt.Printf("  Iterations:  %d\n", iterations)
			fmt.Printf("  Threshold:   %d\n", e.Threshold())

			if warmImage != "" {
				n, err := e.LoadAotImage(warmImage)
				if err != nil {
					fmt.Printf("Failed to warm from image %q: %v\n", warmImage, err)
					os.Exit(1)
				}
				fmt.Printf("  Warmed %d blocks from image %q\n", n, warmImage)
			}

			recorder := performance.NewRecorder()
			if precompile {
				for _, addr := range workloadAddrs {
					blk, err := dec.Decode(addr)
					if err != nil {
						fmt.Printf("Decode 0x%x: %v\n", addr, err)
						os.Exit(1)
					}
					start := time.Now()
					if err := e.CompileOnly(addr); err != nil {
						fmt.Printf("Compile 0x%x: %v\n", addr, err)
						os.Exit(1)
					}
					recorder.Record(performance.CompileStats{
						Address:            addr,
						Backend:            "engine",
						IRInstructionCount: len(blk.Ops),
						CompileTime:        time.Since(start),
					})
				}
				fmt.Printf("  Precompiled %d blocks\n", len(workloadAddrs))
			}

			var regs interp.Regs
			start := time.Now()
			res, err := e.Run(ctx, workloadEntry, &regs, dispatchCap)
			wall := time.Since(start)
			if err != nil {
				fmt.Printf("Run failed: %v\n", err)
				os.Exit(1)
			}

			snap := e.BuildChains()
			st := e.GetEnhancedStats()
			result, _ := mem.Read(resultAddr, 8)

			fmt.Printf("\nWorkload finished in %s\n", wall)
			fmt.Printf("  Terminated:   %v (next pc 0x%x)\n", res.Terminated, res.NextPC)
			fmt.Printf("  Blocks run:   %d (gas %d)\n", res.BlocksRun, res.GasUsed)
			fmt.Printf("  Result:       %d\n", common.BytesToUint64(result))
			fmt.Printf("  Dispatches:   aot=%d jit=%d interp=%d\n", st.AotDispatches, st.JitDispatches, st.InterpretedDispatches)
			fmt.Printf("  Compiles:     ok=%d failed=%d\n", st.CompletedCompiles, st.FailedCompiles)
			fmt.Printf("  Cache:        %d entries, %d bytes, hit rate %.1f%%\n", st.Cache.Entries, st.Cache.Bytes, st.Cache.HitRate()*100)
			fmt.Printf("  Fast path:    %d entries, hit rate %.1f%%\n", st.FastPath.Entries, st.FastPath.HitRate()*100)
			fmt.Printf("  Chains:       built=%d followups=%d\n", st.ChainsBuilt, st.ChainFollowups)
			if snap.Len() > 0 {
				fmt.Printf("\n%s", snap.String())
			}

			report := performance.BuildReport("loop-workload", st, recorder.Snapshot(), wall)
			if reportPath != "" {
				if err := report.WriteJSON(reportPath); err != nil {
					fmt.Printf("Failed to write report: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("Report written to %s\n", reportPath)
			}
			if chartsPath != "" {
				if err := report.SaveCharts(chartsPath); err != nil {
					fmt.Printf("Failed to write charts: %v\n", err)
					os.Exit(1)
				}
				fmt.Printf("Charts written to %s\n", chartsPath)
			}
		},
	}
	runCmd.Flags().Uint64Var(&iterations, "iterations", 1000, "loop iterations in the guest workload")
	runCmd.Flags().IntVar(&dispatchCap, "dispatches", 0, "max dispatches (0 = run to termination)")
	runCmd.Flags().StringVar(&warmImage, "warm", "", "AOT image name to warm the cache from")
	runCmd.Flags().BoolVar(&precompile, "precompile", false, "compile all workload blocks before running")
	runCmd.Flags().StringVar(&reportPath, "report", "", "write a JSON performance report here")
	runCmd.Flags().StringVar(&chartsPath, "charts", "", "write an HTML chart page here")
	runCmd.Flags().StringVar(&otlpEndpoint, "otlp", "", "OTLP/HTTP collector endpoint for tracing")

	var imageName string
	var buildImageCmd = &cobra.Command{
		Use:   "build-image",
		Short: "Compile the workload ahead of time and store it as an image",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			dec := engine.NewMapDecoder()
			buildLoopWorkload(dec, iterations)

			e, err := engine.New(cfg, dec, engine.NewFlatMemory(1<<16))
			if err != nil {
				fmt.Printf("Failed to build engine: %v\n", err)
				os.Exit(1)
			}
			defer e.Shutdown()

			if err := e.SaveAotImage(imageName, workloadAddrs, workloadEntry); err != nil {
				fmt.Printf("Failed to save image: %v\n", err)
				os.Exit(1)
			}
			fmt.Printf("Image %q saved (%d blocks)\n", imageName, len(workloadAddrs))
		},
	}
	buildImageCmd.Flags().StringVar(&imageName, "name", "loop-workload", "image name in the store")
	buildImageCmd.Flags().Uint64Var(&iterations, "iterations", 1000, "loop iterations baked into the workload")

	var imagesCmd = &cobra.Command{
		Use:   "images",
		Short: "List AOT images in the store",
		Run: func(cmd *cobra.Command, args []string) {
			log.InitLogger(loglevel)
			log.EnableModules(debug)
			store, err := aot.NewStore(storePath)
			if err != nil {
				fmt.Printf("Failed to open store: %v\n", err)
				os.Exit(1)
			}
			defer store.Close()

			names, err := store.ListImages()
			if err != nil {
				fmt.Printf("Failed to list images: %v\n", err)
				os.Exit(1)
			}
			if len(names) == 0 {
				fmt.Println("No images stored")
				return
			}
			for _, name := range names {
				img, _, err := store.LoadImage(name)
				if err != nil {
					fmt.Printf("  %s  <invalid: %v>\n", name, err)
					continue
				}
				fmt.Printf("  %s  %s->%s opt=%d entry=0x%x sections=%d\n",
					name, img.SourceArch, img.TargetArch, img.OptLevel, img.EntryPoint, len(img.Sections))
			}
		},
	}

	var disasmCmd = &cobra.Command{
		Use:   "disasm",
		Short: "Emit and disassemble native code for the workload's loop body",
		Run: func(cmd *cobra.Command, args []string) {
			log.InitLogger(loglevel)
			log.EnableModules(debug)
			dec := engine.NewMapDecoder()
			buildLoopWorkload(dec, iterations)

			for _, addr := range workloadAddrs {
				blk, err := dec.Decode(addr)
				if err != nil {
					fmt.Printf("Decode 0x%x: %v\n", addr, err)
					os.Exit(1)
				}
				code, err := backend.EmitX86(blk)
				if err != nil {
					fmt.Printf("block 0x%x: %v (stays on the portable tier)\n\n", addr, err)
					continue
				}
				fmt.Printf("block 0x%x (%s, %d bytes):\n%s\n\n", addr, types.ArchX86_64, len(code), backend.DumpX86(code))
			}
		},
	}
	disasmCmd.Flags().Uint64Var(&iterations, "iterations", 1000, "loop iterations baked into the workload")

	rootCmd.AddCommand(runCmd, buildImageCmd, imagesCmd, disasmCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
