package engine

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/chain"
	"github.com/colorfulnotion/hybridvm/compilepool"
	"github.com/colorfulnotion/hybridvm/hotness"
	"github.com/colorfulnotion/hybridvm/types"
)

// Config is the engine's top-level configuration, loadable from JSON.
type Config struct {
	SourceArch string `json:"source_arch"`
	TargetArch string `json:"target_arch"`

	// OptLevel 0 compiles blocks as decoded; 1 and above run the optimizer
	// passes first.
	OptLevel uint8 `json:"opt_level"`

	CacheCapacityBytes int64 `json:"cache_capacity_bytes"`
	CacheShards        int   `json:"cache_shards"`

	FastPathCapacity int    `json:"fast_path_capacity"`
	FastPathPolicy   string `json:"fast_path_policy"`

	ChainMaxLength int `json:"chain_max_length"`

	Pool     compilepool.Config     `json:"pool"`
	Adaptive hotness.AdaptiveConfig `json:"adaptive"`

	// AotStorePath locates the image store on disk; empty keeps it in memory.
	AotStorePath string `json:"aot_store_path"`
}

// DefaultConfig returns a riscv64-on-x86_64 engine with stock tuning.
func DefaultConfig() Config {
	return Config{
		SourceArch:         "riscv64",
		TargetArch:         "x86_64",
		OptLevel:           1,
		CacheCapacityBytes: cache.DefaultCapacityBytes,
		CacheShards:        cache.DefaultShardCount,
		FastPathCapacity:   4096,
		FastPathPolicy:     string(cache.PolicyLRU),
		ChainMaxLength:     chain.DefaultMaxChainLength,
		Pool:               compilepool.Config{Workers: compilepool.DefaultWorkers, QueueSize: compilepool.DefaultQueueSize},
		Adaptive:           hotness.DefaultAdaptiveConfig(),
	}
}

// LoadConfig reads a JSON config file, filling unset fields from defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) arches() (source, target types.Arch, err error) {
	source, err = types.ParseArch(c.SourceArch)
	if err != nil {
		return 0, 0, err
	}
	target, err = types.ParseArch(c.TargetArch)
	if err != nil {
		return 0, 0, err
	}
	return source, target, nil
}
