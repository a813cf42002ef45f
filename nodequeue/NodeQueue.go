// Package nodequeue implements a thread-safe many-producer,
// single-consumer queue that batches large-net evaluation requests
// into fixed-size slabs suitable for one GPU inference call.
//
// The queue is double buffered: producers fill an active slab while
// the consumer runs inference on the shadow slab. When the active slab
// fills up, the over-capacity producer swaps the two slabs, so no
// dedicated swap thread is needed and slab memory is never reallocated
// during a search.
package nodequeue

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samuelfneumann/gomcts/tree"
	"github.com/samuelfneumann/gomcts/utils/intutils"
	"gorgonia.org/tensor"
)

// Config implements a specific configuration of a NodeQueue
type Config struct {
	// BatchSize is the slab width: the number of evaluation requests
	// accumulated before a batch is handed to the consumer
	BatchSize int

	// Features is the number of input-plane values per position
	Features int
}

// Create creates and returns the NodeQueue with the specified Config
func (c Config) Create() (*NodeQueue, error) {
	return New(c.BatchSize, c.Features)
}

// slab is the unit of batching: four parallel arrays of BatchSize
// slots, with the input planes for slot i stored contiguously at
// offset i * Features.
type slab struct {
	nodes        []*tree.Node
	sides        []tree.SideToMove
	trajectories []tree.Trajectory
	planes       []float64
}

func newSlab(batchSize, features int) *slab {
	return &slab{
		nodes:        make([]*tree.Node, batchSize),
		sides:        make([]tree.SideToMove, batchSize),
		trajectories: make([]tree.Trajectory, batchSize),
		planes:       make([]float64, batchSize*features),
	}
}

// Batch is the consumer's view of a full shadow slab. The slices alias
// queue-owned memory: the consumer must not mutate them and must not
// touch them after ReleaseBatch.
type Batch struct {
	Nodes        []*tree.Node
	Sides        []tree.SideToMove
	Trajectories []tree.Trajectory

	// Planes is a (BatchSize, Features) view over the slab's input
	// planes, suitable for handing to a Predictor without copying
	Planes tensor.Tensor
}

// NodeQueue accumulates large-net evaluation requests into fixed-size
// batches.
//
// Slot acquisition is wait-free in the common case: producers reserve
// a slot with a single atomic increment and copy their data in without
// taking any lock. A producer that overshoots the slab participates in
// the swap protocol instead, so the latency of a swap is bounded by
// one producer's contention.
type NodeQueue struct {
	batchSize int
	features  int

	active *slab
	shadow *slab

	// reserved counts slots handed out in the current slab generation,
	// committed counts slots whose writers have finished. The swap
	// owner knows every writer is done when committed == batchSize.
	reserved  int64
	committed int64

	batchReady     uint32
	consumerActive uint32

	// swapMtx serializes slab swaps and resets
	swapMtx sync.Mutex

	totalEvals  int64
	batchTakeNs int64
	lastBatchNs int64
}

// New creates and returns a new NodeQueue with slabs of batchSize
// slots and features input-plane values per slot
func New(batchSize, features int) (*NodeQueue, error) {
	if batchSize < 1 {
		return nil, fmt.Errorf("new: batch size must be > 0")
	}
	if features < 1 {
		return nil, fmt.Errorf("new: feature size must be > 0")
	}

	return &NodeQueue{
		batchSize: batchSize,
		features:  features,
		active:    newSlab(batchSize, features),
		shadow:    newSlab(batchSize, features),
	}, nil
}

// BatchSize returns the slab width of the queue
func (q *NodeQueue) BatchSize() int {
	return q.batchSize
}

// Features returns the number of input-plane values per slot
func (q *NodeQueue) Features() int {
	return q.features
}

// ConsumerActive returns whether a large-net consumer is currently
// attached to the queue
func (q *NodeQueue) ConsumerActive() bool {
	return atomic.LoadUint32(&q.consumerActive) == 1
}

// SetConsumerActive toggles the consumer-active flag. Flipping it to
// false releases every pending submission so producers cannot deadlock
// against a retired consumer and the tree holds no orphaned enqueued
// flags.
func (q *NodeQueue) SetConsumerActive(active bool) {
	if active {
		atomic.StoreUint32(&q.consumerActive, 1)
		return
	}
	atomic.StoreUint32(&q.consumerActive, 0)
	q.ResetForNewSearch()
}

// BatchReady returns whether the shadow slab holds an unclaimed full
// batch
func (q *NodeQueue) BatchReady() bool {
	return atomic.LoadUint32(&q.batchReady) == 1
}

// TotalEvals returns the cumulative number of positions released to
// the large net since the queue was created
func (q *NodeQueue) TotalEvals() int64 {
	return atomic.LoadInt64(&q.totalEvals)
}

// LastBatchLatency returns the wall time between the most recently
// released batch becoming ready and its release
func (q *NodeQueue) LastBatchLatency() time.Duration {
	return time.Duration(atomic.LoadInt64(&q.lastBatchNs))
}

// ReserveSlot hands out the next free slot of the active slab. The
// returned index is in [0, BatchSize).
//
// A producer that overshoots the slab drives the swap protocol: it
// spins until the previous writers have committed, swaps the slabs if
// it wins the swap mutex, and retries. ReserveSlot returns ok == false
// when the consumer is retired while the producer waits, in which case
// the caller must abandon the submission.
func (q *NodeQueue) ReserveSlot() (int, bool) {
	for {
		if !q.ConsumerActive() {
			return 0, false
		}

		idx := atomic.AddInt64(&q.reserved, 1) - 1
		if idx < int64(q.batchSize) {
			return int(idx), true
		}

		// Over capacity. Wait for the previous writers to finish, then
		// swap the slabs and retry against the fresh generation.
		for atomic.LoadInt64(&q.committed) < int64(q.batchSize) &&
			atomic.LoadInt64(&q.reserved) >= int64(q.batchSize) {
			if !q.ConsumerActive() {
				return 0, false
			}
			runtime.Gosched()
		}

		if q.swapMtx.TryLock() {
			// Another producer may have swapped between our overshoot
			// and winning the lock
			if atomic.LoadInt64(&q.reserved) >= int64(q.batchSize) {
				ok := q.swapSlabs()
				q.swapMtx.Unlock()
				if !ok {
					return 0, false
				}
			} else {
				q.swapMtx.Unlock()
			}
		} else {
			runtime.Gosched()
		}
	}
}

// swapSlabs exchanges the active and shadow slabs and publishes the
// previous active slab as a ready batch. The caller must hold swapMtx
// and must have observed reserved >= batchSize; the wait on committed
// guarantees no writer still owns a slot of the outgoing slab.
//
// Returns false when the consumer was retired while waiting for the
// previous shadow batch to be claimed.
func (q *NodeQueue) swapSlabs() bool {
	for atomic.LoadInt64(&q.committed) < int64(q.batchSize) {
		if !q.ConsumerActive() {
			return false
		}
		runtime.Gosched()
	}
	for q.BatchReady() {
		if !q.ConsumerActive() {
			return false
		}
		runtime.Gosched()
	}

	q.active, q.shadow = q.shadow, q.active

	atomic.StoreInt64(&q.committed, 0)
	atomic.StoreInt64(&q.reserved, 0)
	atomic.StoreInt64(&q.batchTakeNs, time.Now().UnixNano())
	atomic.StoreUint32(&q.batchReady, 1)
	return true
}

// WriteSlot copies one evaluation request into slot idx of the active
// slab and commits the slot. The planes argument must hold exactly
// Features values.
//
// If the consumer was retired after the slot was reserved, the request
// is discarded, the node's enqueued flag is released, and an error for
// which IsConsumerInactive returns true is returned.
func (q *NodeQueue) WriteSlot(idx int, node *tree.Node, side tree.SideToMove,
	trajectory tree.Trajectory, planes []float64) error {
	if len(planes) != q.features {
		return fmt.Errorf("writeslot: invalid feature size \n\twant(%v)"+
			"\n\thave(%v)", q.features, len(planes))
	}

	q.active.nodes[idx] = node
	q.active.sides[idx] = side
	q.active.trajectories[idx] = trajectory
	copy(q.active.planes[idx*q.features:(idx+1)*q.features], planes)

	if !q.ConsumerActive() {
		// The slot's slab generation is gone; leave the slot
		// uncommitted so a later reset never sees half a batch
		node.ClearEnqueued()
		return &QueueError{Op: "writeslot", Err: errConsumerInactive}
	}

	atomic.AddInt64(&q.committed, 1)
	return nil
}

// Submit reserves a slot and writes one evaluation request into it,
// swapping slabs on the way if the active slab is full. On return the
// submission is durable in the current or next shadow batch, unless an
// IsConsumerInactive error reports that it was abandoned.
//
// The caller must have claimed the node with TryEnqueue beforehand; on
// an abandoned submission the claim is released here.
func (q *NodeQueue) Submit(node *tree.Node, side tree.SideToMove,
	trajectory tree.Trajectory, planes []float64) error {
	idx, ok := q.ReserveSlot()
	if !ok {
		node.ClearEnqueued()
		return &QueueError{Op: "submit", Err: errConsumerInactive}
	}
	return q.WriteSlot(idx, node, side, trajectory, planes)
}

// TakeBatch returns the consumer's view of the shadow slab if a full
// batch is ready. The call never blocks: when no batch is ready an
// error for which IsNoBatchReady returns true is returned and the
// consumer should yield.
//
// The returned batch aliases queue memory. It stays valid until
// ReleaseBatch; the consumer must copy out anything it needs after
// that.
func (q *NodeQueue) TakeBatch() (Batch, error) {
	if !q.BatchReady() {
		// Flush: a full active slab whose swap nobody has driven yet
		// would otherwise strand its batch until the next submission
		if atomic.LoadInt64(&q.committed) >= int64(q.batchSize) &&
			q.swapMtx.TryLock() {
			if atomic.LoadInt64(&q.committed) >= int64(q.batchSize) {
				q.swapSlabs()
			}
			q.swapMtx.Unlock()
		}
	}
	if !q.BatchReady() {
		return Batch{}, &QueueError{Op: "takebatch", Err: errNoBatchReady}
	}

	planes := tensor.New(
		tensor.WithShape(q.batchSize, q.features),
		tensor.WithBacking(q.shadow.planes),
	)
	return Batch{
		Nodes:        q.shadow.nodes,
		Sides:        q.shadow.sides,
		Trajectories: q.shadow.trajectories,
		Planes:       planes,
	}, nil
}

// ReleaseBatch recycles the shadow slab after the consumer has
// finished reading it. The inference call on the batch must have
// completed: releasing publishes the slab for reuse by the next swap.
func (q *NodeQueue) ReleaseBatch() {
	// Drop the node and trajectory references before the slab is
	// recycled, so a later reset can never clear the flag of a node
	// that has moved on to another slot
	for i := range q.shadow.nodes {
		q.shadow.nodes[i] = nil
		q.shadow.trajectories[i] = nil
	}

	takeNs := atomic.LoadInt64(&q.batchTakeNs)
	atomic.StoreInt64(&q.lastBatchNs, time.Now().UnixNano()-takeNs)
	atomic.AddInt64(&q.totalEvals, int64(q.batchSize))
	atomic.StoreUint32(&q.batchReady, 0)
}

// ResetForNewSearch discards every pending submission and releases the
// enqueued flag of each affected node, so the tree can be reused
// without orphan state. Every handed-out slot of the active slab and,
// if a batch has not been released yet, the whole shadow slab are
// cleared.
func (q *NodeQueue) ResetForNewSearch() {
	q.swapMtx.Lock()
	defer q.swapMtx.Unlock()

	// Sweep every slot that was handed out, not just the committed
	// prefix: writers fill their slot before committing, and an
	// abandoned writer may have left a node behind
	handedOut := intutils.Min(int(atomic.LoadInt64(&q.reserved)),
		q.batchSize)
	for i := 0; i < handedOut; i++ {
		if node := q.active.nodes[i]; node != nil {
			node.ClearEnqueued()
		}
		q.active.nodes[i] = nil
		q.active.trajectories[i] = nil
	}

	if q.BatchReady() {
		for i := 0; i < q.batchSize; i++ {
			if node := q.shadow.nodes[i]; node != nil {
				node.ClearEnqueued()
			}
			q.shadow.nodes[i] = nil
			q.shadow.trajectories[i] = nil
		}
	}

	atomic.StoreInt64(&q.committed, 0)
	atomic.StoreInt64(&q.reserved, 0)
	atomic.StoreUint32(&q.batchReady, 0)
}
