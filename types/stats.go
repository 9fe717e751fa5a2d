package types

// CacheStats is a point-in-time snapshot of one cache's counters.
type CacheStats struct {
	Entries   int    `json:"entries"`
	Bytes     int64  `json:"bytes"`
	HitCount  uint64 `json:"hit_count"`
	MissCount uint64 `json:"miss_count"`
	Evictions uint64 `json:"evictions"`
}

// HitRate returns hits/(hits+misses), or 0 before any lookup.
func (s CacheStats) HitRate() float64 {
	total := s.HitCount + s.MissCount
	if total == 0 {
		return 0
	}
	return float64(s.HitCount) / float64(total)
}

// HotBlock is one entry of the hot-block list in the enhanced stats.
type HotBlock struct {
	Address uint64 `json:"address"`
	Count   uint64 `json:"count"`
}

// EnhancedStats aggregates engine-wide statistics. Safe to request from any
// thread; all counts are snapshots, not live views.
type EnhancedStats struct {
	Cache    CacheStats `json:"cache"`
	FastPath CacheStats `json:"fast_path"`

	// Dispatches per execution tier.
	AotDispatches         uint64 `json:"aot_dispatches"`
	JitDispatches         uint64 `json:"jit_dispatches"`
	InterpretedDispatches uint64 `json:"interpreted_dispatches"`

	CompletedCompiles uint64 `json:"completed_compiles"`
	FailedCompiles    uint64 `json:"failed_compiles"`

	CurrentThreshold uint64     `json:"current_threshold"`
	HotBlocks        []HotBlock `json:"hot_blocks"`

	ChainsBuilt    uint64 `json:"chains_built"`
	ChainFollowups uint64 `json:"chain_followups"`
}

// TierCount returns the dispatch count recorded for the given tier.
func (s EnhancedStats) TierCount(src ExecutionSource) uint64 {
	switch src {
	case SourceAotImage:
		return s.AotDispatches
	case SourceJitCompiled:
		return s.JitDispatches
	case SourceInterpreted:
		return s.InterpretedDispatches
	}
	return 0
}
