// Package chain links compiled blocks along their static control-flow edges
// so the dispatcher can run a whole sequence of blocks without going back
// through a full cache lookup between each pair.
package chain

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/xlab/treeprint"

	"github.com/colorfulnotion/hybridvm/cache"
	"github.com/colorfulnotion/hybridvm/log"
	"github.com/colorfulnotion/hybridvm/types"
)

const DefaultMaxChainLength = 8

// Builder accumulates control-flow edges as blocks are decoded and
// periodically publishes an immutable chain snapshot. Readers never block
// on a rebuild.
type Builder struct {
	mu     sync.Mutex
	succ   map[uint64][]uint64
	maxLen int

	snapshot atomic.Pointer[Snapshot]
	built    atomic.Uint64
}

// Snapshot is one immutable generation of chains, keyed by head address.
type Snapshot struct {
	chains  map[uint64][]uint64
	BuiltAt time.Time
}

// NewBuilder builds a chain builder; maxLen <= 0 selects the default cap.
func NewBuilder(maxLen int) *Builder {
	if maxLen <= 0 {
		maxLen = DefaultMaxChainLength
	}
	return &Builder{
		succ:   make(map[uint64][]uint64),
		maxLen: maxLen,
	}
}

// RecordBlock registers the block's outgoing edges. Re-recording an address
// (after re-decode) replaces its edges.
func (b *Builder) RecordBlock(blk *types.IRBlock) {
	succ := blk.Term.Successors()
	b.mu.Lock()
	b.succ[blk.Address] = succ
	b.mu.Unlock()
}

// Forget drops an address's edges, used when guest code at that address is
// overwritten.
func (b *Builder) Forget(addr uint64) {
	b.mu.Lock()
	delete(b.succ, addr)
	b.mu.Unlock()
}

// BuildChains walks edges greedily from each hot head and publishes a new
// snapshot. Heads are taken hottest-first (ties to the lower address), and a
// chain only follows single-successor edges: a conditional branch ends the
// chain, since either side may run next. Each address joins at most one
// chain per generation.
func (b *Builder) BuildChains(hot []types.HotBlock) *Snapshot {
	heads := make([]types.HotBlock, len(hot))
	copy(heads, hot)
	sort.Slice(heads, func(i, j int) bool {
		if heads[i].Count != heads[j].Count {
			return heads[i].Count > heads[j].Count
		}
		return heads[i].Address < heads[j].Address
	})

	b.mu.Lock()
	defer b.mu.Unlock()

	snap := &Snapshot{
		chains:  make(map[uint64][]uint64),
		BuiltAt: time.Now(),
	}
	claimed := make(map[uint64]bool)

	for _, head := range heads {
		if claimed[head.Address] {
			continue
		}
		seq := b.walkLocked(head.Address, claimed)
		if len(seq) < 2 {
			continue // a single block is not a chain
		}
		for _, addr := range seq {
			claimed[addr] = true
		}
		snap.chains[head.Address] = seq
		b.built.Add(1)
	}

	b.snapshot.Store(snap)
	log.Debug(log.ChainMonitoring, "published chain snapshot", "chains", len(snap.chains), "heads", len(heads))
	return snap
}

func (b *Builder) walkLocked(head uint64, claimed map[uint64]bool) []uint64 {
	seq := []uint64{head}
	seen := map[uint64]bool{head: true}
	cur := head
	for len(seq) < b.maxLen {
		succ := b.succ[cur]
		if len(succ) != 1 {
			break
		}
		next := succ[0]
		if seen[next] || claimed[next] {
			break // loops close the chain rather than unrolling it
		}
		seq = append(seq, next)
		seen[next] = true
		cur = next
	}
	return seq
}

// Snapshot returns the current generation, which may be empty but is never
// nil.
func (b *Builder) Snapshot() *Snapshot {
	if s := b.snapshot.Load(); s != nil {
		return s
	}
	return &Snapshot{chains: map[uint64][]uint64{}}
}

// Built returns the total number of chains published across all generations.
func (b *Builder) Built() uint64 { return b.built.Load() }

// Follow returns the chain headed at addr, but only while every member is
// still resident in the code cache. Eviction of any member invalidates the
// whole chain lazily; the stale entry just stops matching and is rebuilt on
// the next generation.
func (s *Snapshot) Follow(addr uint64, cc *cache.CodeCache) []uint64 {
	seq, ok := s.chains[addr]
	if !ok {
		return nil
	}
	for _, member := range seq {
		if !cc.ContainsAddress(member) {
			log.Trace(log.ChainMonitoring, "chain invalidated by eviction", "head", addr, "missing", member)
			return nil
		}
	}
	return seq
}

// Len returns the number of chains in the snapshot.
func (s *Snapshot) Len() int { return len(s.chains) }

// String renders the snapshot as a tree for diagnostics, one branch per
// chain head.
func (s *Snapshot) String() string {
	heads := make([]uint64, 0, len(s.chains))
	for head := range s.chains {
		heads = append(heads, head)
	}
	sort.Slice(heads, func(i, j int) bool { return heads[i] < heads[j] })

	tree := treeprint.NewWithRoot(fmt.Sprintf("chains (%d)", len(s.chains)))
	for _, head := range heads {
		branch := tree.AddBranch(fmt.Sprintf("0x%x", head))
		for _, addr := range s.chains[head][1:] {
			branch = branch.AddBranch(fmt.Sprintf("0x%x", addr))
		}
	}
	return tree.String()
}
