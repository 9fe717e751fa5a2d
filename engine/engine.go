// Package engine assembles the execution tiers into one facade: decode
// frontend, interpreter, compile pool, code cache, AOT image store, and the
// dispatcher that arbitrates between them per dispatched PC.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/colorfulnotion/hybridvm/aot"
	"github.com/colorfulnotion/hybridvm/backend"
	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/chain"
	"github.com/colorfulnotion/hybridvm/compilepool"
	"github.com/colorfulnotion/hybridvm/hotness"
	"github.com/colorfulnotion/hybridvm/interp"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

// Engine is the top-level virtualization engine instance.
type Engine struct {
	cfg    Config
	source types.Arch
	target types.Arch

	decoder   types.Decoder
	memory    types.Memory
	codeCache *cache.CodeCache
	fastPath  *cache.FastPathCache
	tracker   *hotness.Tracker
	threshold *hotness.AdaptiveThreshold
	backend   backend.Backend
	pool      *compilepool.Pool
	chains    *chain.Builder
	cost      *interpCost
	store     *aot.Store

	dispatcher *Dispatcher

	queueMu sync.Mutex
	queued  []*types.CompileTask
}

// New wires up an engine from cfg. The decoder and memory are external
// subsystems supplied by the embedder.
func New(cfg Config, decoder types.Decoder, memory types.Memory) (*Engine, error) {
	source, target, err := cfg.arches()
	if err != nil {
		return nil, err
	}

	fastPath, err := cache.NewFastPathCache(cfg.FastPathCapacity, cache.Policy(cfg.FastPathPolicy))
	if err != nil {
		return nil, err
	}
	codeCache := cache.NewCodeCache(cfg.CacheCapacityBytes, cfg.CacheShards)
	threshold := hotness.NewAdaptiveThreshold(cfg.Adaptive)
	tracker := hotness.NewTracker(threshold)
	chains := chain.NewBuilder(cfg.ChainMaxLength)
	cost := newInterpCost()

	var be backend.Backend
	if cfg.OptLevel == 0 {
		be = backend.NewDirectBackend(target, fastPath)
	} else {
		be = backend.NewOptimizingBackend(target, fastPath)
	}

	store, err := aot.NewStore(cfg.AotStorePath)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		source:    source,
		target:    target,
		decoder:   decoder,
		memory:    memory,
		codeCache: codeCache,
		fastPath:  fastPath,
		tracker:   tracker,
		threshold: threshold,
		backend:   be,
		chains:    chains,
		cost:      cost,
		store:     store,
	}
	e.pool = compilepool.New(cfg.Pool, be, codeCache, tracker, threshold, cost.benefit)
	e.dispatcher = newDispatcher(source, target, decoder, memory, codeCache, tracker, e.pool, chains, cost)

	log.Info(log.DispatchMonitoring, "engine up", "source", source, "target", target, "backend", be.Name(), "threshold", threshold.Current())
	return e, nil
}

// Execute dispatches one PC.
func (e *Engine) Execute(ctx context.Context, pc uint64, regs *interp.Regs) (types.ExecutionResult, error) {
	return e.dispatcher.Execute(ctx, pc, regs)
}

// Run dispatches from startPC until the guest terminates, maxDispatches is
// reached, or ctx is cancelled. The aggregate result reports the total work.
func (e *Engine) Run(ctx context.Context, startPC uint64, regs *interp.Regs, maxDispatches int) (types.ExecutionResult, error) {
	var total types.ExecutionResult
	pc := startPC
	for i := 0; maxDispatches <= 0 || i < maxDispatches; i++ {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		res, err := e.Execute(ctx, pc, regs)
		if err != nil {
			return total, err
		}
		total.GasUsed += res.GasUsed
		total.BlocksRun += res.BlocksRun
		total.NextPC = res.NextPC
		total.Terminated = res.Terminated
		total.Source = res.Source
		if res.Terminated {
			break
		}
		pc = res.NextPC
	}
	return total, nil
}

// CompileOnly compiles pc synchronously and publishes the result, bypassing
// hotness entirely. Idempotent: recompiling an address replaces its entry.
func (e *Engine) CompileOnly(pc uint64) error {
	info, err := e.dispatcher.block(pc)
	if err != nil {
		return err
	}
	code, err := e.backend.Compile(info.ir)
	if err != nil {
		e.tracker.MarkFailed(pc)
		return err
	}
	e.codeCache.Insert(info.key, cache.NewCachedBlock(code, types.SourceJitCompiled))
	e.tracker.MarkCompiled(pc)
	return nil
}

// CompileHandle resolves when an async compile finishes.
type CompileHandle struct {
	Done <-chan compilepool.Result
}

// CompileAsync submits pc to the compile pool and returns a handle the
// caller can await.
func (e *Engine) CompileAsync(pc uint64) (*CompileHandle, error) {
	info, err := e.dispatcher.block(pc)
	if err != nil {
		return nil, err
	}
	done := make(chan compilepool.Result, 1)
	task := &types.CompileTask{Key: info.key, IR: info.ir, EnqueuedAt: time.Now()}
	if !e.pool.SubmitCallback(task, func(r compilepool.Result) { done <- r }) {
		return nil, fmt.Errorf("compile 0x%x rejected: %w", pc, vmerrors.ErrPQueueFull)
	}
	return &CompileHandle{Done: done}, nil
}

// AddToCompileQueue stages pc for a later batch submission.
func (e *Engine) AddToCompileQueue(pc uint64, priority int) error {
	info, err := e.dispatcher.block(pc)
	if err != nil {
		return err
	}
	e.queueMu.Lock()
	e.queued = append(e.queued, &types.CompileTask{
		Key:        info.key,
		IR:         info.ir,
		Priority:   priority,
		EnqueuedAt: time.Now(),
	})
	e.queueMu.Unlock()
	return nil
}

// ProcessCompileQueue submits staged tasks highest-priority-first. Priority
// orders admission only; once admitted, pool workers pick tasks up in queue
// order. Tasks the pool rejects stay staged for the next call.
func (e *Engine) ProcessCompileQueue() int {
	e.queueMu.Lock()
	defer e.queueMu.Unlock()

	sort.SliceStable(e.queued, func(i, j int) bool {
		return e.queued[i].Priority > e.queued[j].Priority
	})

	accepted := 0
	remaining := e.queued[:0]
	for _, task := range e.queued {
		if e.pool.Submit(task) {
			accepted++
		} else {
			remaining = append(remaining, task)
		}
	}
	e.queued = remaining
	return accepted
}

// LoadAotImage warms the code cache from a stored image. Returns the number
// of blocks seeded. The image must match this engine's source/target pair.
func (e *Engine) LoadAotImage(name string) (int, error) {
	img, found, err := e.store.LoadImage(name)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, fmt.Errorf("aot image %q not found", name)
	}
	if err := img.CheckTarget(e.source, e.target); err != nil {
		return 0, err
	}

	entries := img.WarmUpEntries()
	e.codeCache.WarmUp(entries)
	for _, entry := range entries {
		e.tracker.MarkCompiled(entry.Key.GuestAddress)
		// Seeded blocks contribute their edges so chains can span the
		// AOT-warmed region from the first dispatch.
		if blk, _, err := backend.DecodePortable(entry.Block.NativeCode); err == nil {
			e.chains.RecordBlock(blk)
		}
	}
	log.Info(log.AotMonitoring, "warmed cache from image", "name", name, "blocks", len(entries))
	return len(entries), nil
}

// SaveAotImage compiles the blocks at the given addresses and persists them
// as an image under name.
func (e *Engine) SaveAotImage(name string, addrs []uint64, entryPoint uint64) error {
	blocks := make([]*types.IRBlock, 0, len(addrs))
	for _, addr := range addrs {
		info, err := e.dispatcher.block(addr)
		if err != nil {
			return err
		}
		blocks = append(blocks, info.ir)
	}
	img, err := aot.BuildImage(aot.BuildConfig{
		SourceArch: e.source,
		TargetArch: e.target,
		OptLevel:   e.cfg.OptLevel,
		EntryPoint: entryPoint,
		EmitNative: e.target == types.ArchX86_64,
	}, e.backend, blocks)
	if err != nil {
		return err
	}
	return e.store.SaveImage(name, img)
}

// BuildChains publishes a fresh chain snapshot from the current hot list.
func (e *Engine) BuildChains() *chain.Snapshot {
	return e.chains.BuildChains(e.tracker.HotList(64))
}

// Invalidate drops all cached state for addr after guest code changes.
func (e *Engine) Invalidate(addr uint64) {
	e.dispatcher.Invalidate(addr)
}

// Threshold returns the current adaptive promotion threshold.
func (e *Engine) Threshold() uint64 {
	return e.threshold.Current()
}

// GetEnhancedStats assembles a point-in-time view across all components.
func (e *Engine) GetEnhancedStats() types.EnhancedStats {
	return types.EnhancedStats{
		Cache:                 e.codeCache.Stats(),
		FastPath:              e.fastPath.Stats(),
		AotDispatches:         e.dispatcher.aotDispatches.Load(),
		JitDispatches:         e.dispatcher.jitDispatches.Load(),
		InterpretedDispatches: e.dispatcher.interpDispatches.Load(),
		CompletedCompiles:     e.pool.Completed(),
		FailedCompiles:        e.pool.Failed(),
		CurrentThreshold:      e.threshold.Current(),
		HotBlocks:             e.tracker.HotList(10),
		ChainsBuilt:           e.chains.Built(),
		ChainFollowups:        e.dispatcher.chainFollowups.Load(),
	}
}

// Shutdown drains the compile pool and closes the image store.
func (e *Engine) Shutdown() {
	e.pool.Shutdown()
	if err := e.store.Close(); err != nil {
		log.Warn(log.AotMonitoring, "closing image store", "err", err)
	}
}
