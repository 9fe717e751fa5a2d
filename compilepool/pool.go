// Package compilepool performs compilation off the hot path: a bounded queue
// plus a small fixed set of background workers that publish results into the
// code cache. Execution contexts never wait on it; the interpreter fallback
// is always available.
package compilepool

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
	"github.com/colorfulnotion/hybridvm/hotness"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
	"github.com/colorfulnotion/hybridvm/vmerrors"
)

const (
	DefaultWorkers   = 2
	DefaultQueueSize = 64
)

// Config sizes the pool.
type Config struct {
	Workers   int `json:"workers"`
	QueueSize int `json:"queue_size"`
}

// Result is delivered to per-task callbacks after a compilation finishes.
type Result struct {
	Key         types.BlockKey
	Block       *cache.CachedBlock
	Err         error
	CompileTime time.Duration
}

// BenefitFunc estimates the interpreted-path cost avoided per subsequent hit
// of an address, measured by the dispatcher's running averages.
type BenefitFunc func(addr uint64) time.Duration

type job struct {
	task *types.CompileTask
	done func(Result)
}

// Pool is the async compile pool.
type Pool struct {
	mu     sync.RWMutex
	queue  chan job
	closed bool

	wg        sync.WaitGroup
	backend   backend.Backend
	codeCache *cache.CodeCache
	tracker   *hotness.Tracker
	threshold *hotness.AdaptiveThreshold
	benefit   BenefitFunc
	tracer    trace.Tracer

	completed atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// New starts the workers immediately.
func New(cfg Config, be backend.Backend, codeCache *cache.CodeCache, tracker *hotness.Tracker, threshold *hotness.AdaptiveThreshold, benefit BenefitFunc) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	p := &Pool{
		queue:     make(chan job, cfg.QueueSize),
		backend:   be,
		codeCache: codeCache,
		tracker:   tracker,
		threshold: threshold,
		benefit:   benefit,
		tracer:    otel.Tracer("hybridvm/compilepool"),
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// Submit enqueues without blocking. Returns false when the queue is full
// (backpressure: the caller retries promotion on a later dispatch) or the
// pool is shut down (a silent no-op, the interpreter fallback stays valid).
func (p *Pool) Submit(task *types.CompileTask) bool {
	return p.enqueue(job{task: task})
}

// SubmitCallback is Submit plus a completion callback, used by callers that
// want to await an explicit async compile.
func (p *Pool) SubmitCallback(task *types.CompileTask, done func(Result)) bool {
	return p.enqueue(job{task: task, done: done})
}

func (p *Pool) enqueue(j job) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.queue <- j:
		return true
	default:
		p.dropped.Add(1)
		log.Debug(log.PoolMonitoring, "compile queue full", "addr", j.task.Key.GuestAddress)
		return false
	}
}

// Shutdown closes the queue and joins all workers. Tasks already queued or
// in flight run to completion first; no task is abandoned mid-compilation.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	p.wg.Wait()
	log.Info(log.PoolMonitoring, "compile pool stopped", "completed", p.completed.Load(), "failed", p.failed.Load(), "dropped", p.dropped.Load())
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for j := range p.queue {
		p.run(id, j)
	}
}

func (p *Pool) run(id int, j job) {
	task := j.task
	_, span := p.tracer.Start(context.Background(), "compile",
		trace.WithAttributes(
			attribute.Int64("guest.address", int64(task.Key.GuestAddress)),
			attribute.Int("priority", task.Priority),
			attribute.Int("worker", id),
		))
	defer span.End()

	start := time.Now()
	code, err := p.compile(task)
	elapsed := time.Since(start)

	res := Result{Key: task.Key, Err: err, CompileTime: elapsed}
	if err != nil {
		// Dropped, never retried: a permanently unsupported construct must
		// not cause a retry storm. The address stays on the interpreter.
		p.failed.Add(1)
		p.tracker.MarkFailed(task.Key.GuestAddress)
		span.RecordError(err)
		log.Warn(log.PoolMonitoring, "compilation failed, address stays interpreted", "addr", task.Key.GuestAddress, "err", err)
	} else {
		block := cache.NewCachedBlock(code, types.SourceJitCompiled)
		p.codeCache.Insert(task.Key, block)
		p.tracker.MarkCompiled(task.Key.GuestAddress)

		var benefit time.Duration
		if p.benefit != nil {
			benefit = p.benefit(task.Key.GuestAddress)
		}
		p.threshold.RecordCompile(elapsed, benefit)

		p.completed.Add(1)
		res.Block = block
		log.Debug(log.PoolMonitoring, "compiled block", "addr", task.Key.GuestAddress, "bytes", block.Size, "elapsed", elapsed)
	}
	if j.done != nil {
		j.done(res)
	}
}

// compile invokes the backend with panic isolation: a panicking backend
// fails that one task, not the worker.
func (p *Pool) compile(task *types.CompileTask) (code []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%v: %w", r, vmerrors.ErrCBackendPanic)
		}
	}()
	return p.backend.Compile(task.IR)
}

// Completed returns the number of successful compilations.
func (p *Pool) Completed() uint64 { return p.completed.Load() }

// Failed returns the number of failed compilations.
func (p *Pool) Failed() uint64 { return p.failed.Load() }

// Dropped returns the number of submissions rejected by backpressure.
func (p *Pool) Dropped() uint64 { return p.dropped.Load() }
