package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/colorfulnotion/hybridvm/backend"
	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/chain"
	"github.com/colorfulnotion/hybridvm/compilepool"
	"github.com/colorfulnotion/hybridvm/hotness"
	"github.com/colorfulnotion/hybridvm/interp"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
)

// blockInfo caches the decode result for one guest address so the dispatch
// path pays for decoding and fingerprinting once, not per execution.
type blockInfo struct {
	ir  *types.IRBlock
	key types.BlockKey
}

// Dispatcher routes each dispatched PC to the best available execution tier:
// a cached compiled block (AOT-seeded or JIT-produced) when one exists and
// verifies, the interpreter otherwise. Interpreted dispatches feed the
// hotness tracker, which feeds the compile pool, which feeds the cache; over
// time hot addresses migrate off the interpreter on their own.
type Dispatcher struct {
	source, target types.Arch

	decoder   types.Decoder
	memory    types.Memory
	codeCache *cache.CodeCache
	tracker   *hotness.Tracker
	pool      *compilepool.Pool
	chains    *chain.Builder
	cost      *interpCost
	tracer    trace.Tracer

	mu     sync.RWMutex
	blocks map[uint64]*blockInfo

	aotDispatches    atomic.Uint64
	jitDispatches    atomic.Uint64
	interpDispatches atomic.Uint64
	chainFollowups   atomic.Uint64
}

func newDispatcher(source, target types.Arch, decoder types.Decoder, memory types.Memory,
	codeCache *cache.CodeCache, tracker *hotness.Tracker, pool *compilepool.Pool,
	chains *chain.Builder, cost *interpCost) *Dispatcher {
	return &Dispatcher{
		source:    source,
		target:    target,
		decoder:   decoder,
		memory:    memory,
		codeCache: codeCache,
		tracker:   tracker,
		pool:      pool,
		chains:    chains,
		cost:      cost,
		tracer:    otel.Tracer("hybridvm/engine"),
		blocks:    make(map[uint64]*blockInfo),
	}
}

// block returns the decoded form of pc, decoding and registering its
// control-flow edges on first sight.
func (d *Dispatcher) block(pc uint64) (*blockInfo, error) {
	d.mu.RLock()
	info, ok := d.blocks[pc]
	d.mu.RUnlock()
	if ok {
		return info, nil
	}

	ir, err := d.decoder.Decode(pc)
	if err != nil {
		return nil, fmt.Errorf("decode 0x%x: %w", pc, err)
	}
	info = &blockInfo{ir: ir, key: types.NewBlockKey(d.source, d.target, ir)}

	d.mu.Lock()
	if existing, ok := d.blocks[pc]; ok {
		info = existing // another context decoded first
	} else {
		d.blocks[pc] = info
	}
	d.mu.Unlock()

	d.chains.RecordBlock(ir)
	return info, nil
}

// Execute runs the block at pc, following a chain of cached blocks when one
// is resident. It returns where control continues and how much was run.
func (d *Dispatcher) Execute(ctx context.Context, pc uint64, regs *interp.Regs) (types.ExecutionResult, error) {
	_, span := d.tracer.Start(ctx, "dispatch",
		trace.WithAttributes(attribute.Int64("guest.pc", int64(pc))))
	defer span.End()

	info, err := d.block(pc)
	if err != nil {
		return types.ExecutionResult{}, err
	}

	res, cached, err := d.executeCached(info, regs)
	if err != nil {
		return res, err
	}
	if !cached {
		res, err = d.executeInterpreted(info, regs)
		span.SetAttributes(attribute.String("tier", types.SourceInterpreted.String()))
		return res, err
	}
	span.SetAttributes(attribute.String("tier", "cached"))

	// The head ran from cache; ride the chain while successive members are
	// resident and control actually goes where the chain predicts.
	seq := d.chains.Snapshot().Follow(pc, d.codeCache)
	for i := 1; i < len(seq) && !res.Terminated; i++ {
		if res.NextPC != seq[i] {
			break
		}
		next, err := d.block(seq[i])
		if err != nil {
			break
		}
		nres, ok, err := d.executeCached(next, regs)
		if err != nil {
			return res, err
		}
		if !ok {
			break
		}
		res.NextPC = nres.NextPC
		res.Terminated = nres.Terminated
		res.GasUsed += nres.GasUsed
		res.BlocksRun += nres.BlocksRun
		d.chainFollowups.Add(1)
	}
	return res, nil
}

// executeCached runs pc from the code cache. cached=false means no usable
// entry; the caller falls back to the interpreter.
func (d *Dispatcher) executeCached(info *blockInfo, regs *interp.Regs) (types.ExecutionResult, bool, error) {
	entry, hit := d.codeCache.Lookup(info.key)
	if !hit {
		return types.ExecutionResult{}, false, nil
	}
	defer entry.Release()

	// A corrupt entry is evicted and the dispatch silently degrades to the
	// interpreter; the address re-earns compilation from scratch.
	if err := backend.VerifyPortable(entry.Block.NativeCode, info.key); err != nil {
		log.Warn(log.DispatchMonitoring, "evicting corrupt cache entry", "addr", info.key.GuestAddress, "err", err)
		d.codeCache.EvictKey(info.key)
		d.tracker.Reset(info.key.GuestAddress)
		return types.ExecutionResult{}, false, nil
	}

	res, err := backend.RunPortable(entry.Block.NativeCode, regs, d.memory)
	if err != nil {
		return res, true, err
	}
	res.Source = entry.Block.SourceTier
	if entry.Block.SourceTier == types.SourceAotImage {
		d.aotDispatches.Add(1)
	} else {
		d.jitDispatches.Add(1)
	}
	log.Trace(log.DispatchMonitoring, "cached dispatch", "addr", info.key.GuestAddress, "tier", entry.Block.SourceTier, "next", res.NextPC)
	return res, true, nil
}

func (d *Dispatcher) executeInterpreted(info *blockInfo, regs *interp.Regs) (types.ExecutionResult, error) {
	pc := info.ir.Address
	count, promote := d.tracker.Touch(pc)
	if promote {
		task := &types.CompileTask{
			Key:        info.key,
			IR:         info.ir,
			Priority:   int(count),
			EnqueuedAt: time.Now(),
		}
		if !d.pool.Submit(task) {
			// Full queue: demote so a later dispatch retries the promotion.
			d.tracker.Demote(pc)
		}
	}

	start := time.Now()
	res, err := interp.RunBlock(info.ir, regs, d.memory)
	if err != nil {
		return res, err
	}
	d.cost.record(pc, time.Since(start))
	d.interpDispatches.Add(1)
	log.Trace(log.DispatchMonitoring, "interpreted dispatch", "addr", pc, "count", count, "avg_cost", d.cost.average(pc))
	return res, nil
}

// Invalidate drops everything known about addr: the decode index entry, the
// cached block, its chain edges, and its hotness counter. Used when guest
// code at addr is overwritten.
func (d *Dispatcher) Invalidate(addr uint64) {
	d.mu.Lock()
	info, ok := d.blocks[addr]
	delete(d.blocks, addr)
	d.mu.Unlock()

	if ok {
		d.codeCache.EvictKey(info.key)
	}
	d.chains.Forget(addr)
	d.tracker.Reset(addr)
}
