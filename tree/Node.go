// Package tree implements the search tree nodes and trajectories that
// are shared between the small-net search workers and the large-net
// evaluation pipeline.
//
// Nodes are mutated concurrently by many threads. Every statistics
// update is performed with atomic operations so that interleaved
// updates from different trajectories may land in any order, but no
// individual update is ever lost.
package tree

import (
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/samuelfneumann/gomcts/utils/atomicutils"
	"gonum.org/v1/gonum/mat"
)

// Node is a single node of the search tree.
//
// A node holds one entry per legal move: a prior probability, the move
// identifier, and (once the move has been tried) a child node. The
// prior vector is written by whichever network evaluated the node
// last; the visit and value statistics accumulate across both the
// small-net and the large-net backpropagation paths.
type Node struct {
	parent   *Node
	childIdx int

	// Children and priors are expanded lazily by the search workers.
	// The mutex guards the move/child/prior slices only, never the
	// statistics.
	mtx      sync.Mutex
	moves    []int32
	priors   []float64
	children []*Node

	visits      int64
	valueSum    atomicutils.Float64
	virtualLoss int64

	terminal      uint32
	enqueued      uint32
	largeNetDone  uint32
	largeNetValue atomicutils.Float64
}

// NewRoot returns a new parentless node
func NewRoot() *Node {
	return &Node{parent: nil, childIdx: -1}
}

// newChild returns a new node under parent at child index childIdx
func newChild(parent *Node, childIdx int) *Node {
	return &Node{parent: parent, childIdx: childIdx}
}

// Parent returns the node's parent, or nil for the root
func (n *Node) Parent() *Node {
	return n.parent
}

// ChildIdx returns the index of this node in its parent's child list
func (n *Node) ChildIdx() int {
	return n.childIdx
}

// Expand installs the legal moves of the node's position. Each move
// starts with a uniform prior and no child. Expand returns false
// without touching the node when another worker expanded it first.
func (n *Node) Expand(moves []int32) bool {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if len(n.moves) != 0 {
		return false
	}

	n.moves = make([]int32, len(moves))
	copy(n.moves, moves)
	n.children = make([]*Node, len(moves))
	n.priors = make([]float64, len(moves))
	if len(moves) > 0 {
		uniform := 1.0 / float64(len(moves))
		for i := range n.priors {
			n.priors[i] = uniform
		}
	}
	return true
}

// NumMoves returns the number of legal moves installed by Expand
func (n *Node) NumMoves() int {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return len(n.moves)
}

// Move returns the move identifier at child index i
func (n *Node) Move(i int) int32 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.moves[i]
}

// Child returns the child at index i, or nil if the move has not been
// tried yet
func (n *Node) Child(i int) *Node {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.children[i]
}

// EnsureChild returns the child at index i, creating it first if the
// move has not been tried yet
func (n *Node) EnsureChild(i int) *Node {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	if n.children[i] == nil {
		n.children[i] = newChild(n, i)
	}
	return n.children[i]
}

// SetPriors replaces the node's move priors with p. The length of p
// must equal the number of legal moves.
func (n *Node) SetPriors(p []float64) error {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if len(p) != len(n.moves) {
		return fmt.Errorf("setpriors: invalid prior size \n\twant(%v)"+
			"\n\thave(%v)", len(n.moves), len(p))
	}
	copy(n.priors, p)
	return nil
}

// Priors returns a copy of the node's move priors as a vector, or nil
// for an unexpanded node
func (n *Node) Priors() mat.Vector {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	if len(n.priors) == 0 {
		return nil
	}
	p := make([]float64, len(n.priors))
	copy(p, n.priors)
	return mat.NewVecDense(len(p), p)
}

// Prior returns the prior probability of the move at child index i
func (n *Node) Prior(i int) float64 {
	n.mtx.Lock()
	defer n.mtx.Unlock()
	return n.priors[i]
}

// SortUnexpandedByPrior reorders the node's untried moves so that the
// highest priors come first. Entries that already have a child keep
// their index, since in-flight trajectories refer to children by
// index.
func (n *Node) SortUnexpandedByPrior() {
	n.mtx.Lock()
	defer n.mtx.Unlock()

	free := make([]int, 0, len(n.moves))
	for i, child := range n.children {
		if child == nil {
			free = append(free, i)
		}
	}

	type entry struct {
		move  int32
		prior float64
	}
	entries := make([]entry, len(free))
	for i, idx := range free {
		entries[i] = entry{n.moves[idx], n.priors[idx]}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].prior > entries[j].prior
	})
	for i, idx := range free {
		n.moves[idx] = entries[i].move
		n.priors[idx] = entries[i].prior
	}
}

// Update adds value to the node's running value sum and increments the
// visit count
func (n *Node) Update(value float64) {
	n.valueSum.Add(value)
	atomic.AddInt64(&n.visits, 1)
}

// ResetValue replaces the node's running mean value with value,
// preserving the visit count
func (n *Node) ResetValue(value float64) {
	visits := atomic.LoadInt64(&n.visits)
	if visits == 0 {
		visits = 1
	}
	for {
		old := n.valueSum.Load()
		if n.valueSum.CompareAndSwap(old, value*float64(visits)) {
			return
		}
	}
}

// Visits returns the node's visit count
func (n *Node) Visits() int64 {
	return atomic.LoadInt64(&n.visits)
}

// ValueSum returns the node's running value sum
func (n *Node) ValueSum() float64 {
	return n.valueSum.Load()
}

// QValue returns the node's running mean value, counting any virtual
// losses of magnitude vl that are currently applied
func (n *Node) QValue(vl float64) float64 {
	visits := atomic.LoadInt64(&n.visits)
	losses := atomic.LoadInt64(&n.virtualLoss)
	if visits+losses == 0 {
		return 0
	}
	return (n.valueSum.Load() - vl*float64(losses)) /
		float64(visits+losses)
}

// ApplyVirtualLoss applies one virtual loss to the node, discouraging
// concurrent workers from descending the same path
func (n *Node) ApplyVirtualLoss() {
	atomic.AddInt64(&n.virtualLoss, 1)
}

// RevertVirtualLoss removes one previously applied virtual loss
func (n *Node) RevertVirtualLoss() {
	atomic.AddInt64(&n.virtualLoss, -1)
}

// VirtualLosses returns the number of virtual losses currently applied
func (n *Node) VirtualLosses() int64 {
	return atomic.LoadInt64(&n.virtualLoss)
}

// MakeTerminal marks the node as a terminal game state. The large-net
// pipeline never overwrites the results of a terminal node.
func (n *Node) MakeTerminal() {
	atomic.StoreUint32(&n.terminal, 1)
}

// Terminal returns whether the node is a terminal game state
func (n *Node) Terminal() bool {
	return atomic.LoadUint32(&n.terminal) == 1
}

// TryEnqueue attempts to claim the node for large-net evaluation. It
// returns true exactly once until ClearEnqueued is called, so a node
// can never occupy more than one queue slot.
func (n *Node) TryEnqueue() bool {
	return atomic.CompareAndSwapUint32(&n.enqueued, 0, 1)
}

// ClearEnqueued releases the node's large-net queue claim
func (n *Node) ClearEnqueued() {
	atomic.StoreUint32(&n.enqueued, 0)
}

// Enqueued returns whether the node currently occupies a queue slot
func (n *Node) Enqueued() bool {
	return atomic.LoadUint32(&n.enqueued) == 1
}

// SetLargeNetResults records the large net's value estimate for the
// node and marks the node as evaluated by the large net
func (n *Node) SetLargeNetResults(value float64) {
	n.largeNetValue.Store(value)
	atomic.StoreUint32(&n.largeNetDone, 1)
}

// HasLargeNetResults returns whether the node has received large-net
// results
func (n *Node) HasLargeNetResults() bool {
	return atomic.LoadUint32(&n.largeNetDone) == 1
}

// LargeNetValue returns the value estimate stored by the large net.
// Valid only once HasLargeNetResults returns true.
func (n *Node) LargeNetValue() float64 {
	return n.largeNetValue.Load()
}
