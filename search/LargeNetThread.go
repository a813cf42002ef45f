package search

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/samuelfneumann/gomcts/network"
	"github.com/samuelfneumann/gomcts/nodequeue"
	"github.com/samuelfneumann/gomcts/spec"
	"github.com/samuelfneumann/gomcts/tree"
	"github.com/samuelfneumann/gomcts/utils/floatutils"
	"github.com/samuelfneumann/gomcts/utils/policyutils"
)

// LargeNetThread is the single consumer of one NodeQueue. Each
// iteration it drains a full batch if one is ready, runs large-net
// inference on it, writes policy priors and values back onto the
// submitted nodes, and backpropagates the values along the recorded
// trajectories.
type LargeNetThread struct {
	threadState

	queue    *nodequeue.NodeQueue
	settings spec.SearchSettings

	// Working vectors holding the batch after it has been copied out
	// of the queue's slab, so distribution and backpropagation never
	// touch queue memory after the batch is released
	newNodes        []*tree.Node
	newSides        []tree.SideToMove
	newTrajectories []tree.Trajectory

	failedBatches int64
	evalNodes     int64
}

// NewLargeNetThread creates and returns a new large-net consumer for
// queue, evaluating with net. The net's batch geometry must match the
// queue's slabs.
func NewLargeNetThread(net network.Predictor, queue *nodequeue.NodeQueue,
	settings spec.SearchSettings) (*LargeNetThread, error) {
	if net.BatchSize() != queue.BatchSize() {
		return nil, fmt.Errorf("newlargenetthread: batch size mismatch "+
			"\n\tnet(%v)\n\tqueue(%v)", net.BatchSize(), queue.BatchSize())
	}
	if net.Features() != queue.Features() {
		return nil, fmt.Errorf("newlargenetthread: feature size mismatch "+
			"\n\tnet(%v)\n\tqueue(%v)", net.Features(), queue.Features())
	}

	batch := queue.BatchSize()
	return &LargeNetThread{
		threadState:     newThreadState(net),
		queue:           queue,
		settings:        settings,
		newNodes:        make([]*tree.Node, 0, batch),
		newSides:        make([]tree.SideToMove, 0, batch),
		newTrajectories: make([]tree.Trajectory, 0, batch),
	}, nil
}

// Run iterates until SetRunning(false)
func (t *LargeNetThread) Run() {
	for t.IsRunning() {
		t.ThreadIteration()
	}
}

// ThreadIteration performs one consumer iteration: take a batch if one
// is ready, predict, distribute, backpropagate.
//
// An inference failure drops the batch: the affected nodes keep their
// statistics, are left without large-net results, and have their
// enqueued flags released so they may be re-submitted later. The
// failure is observable through FailedBatches only.
func (t *LargeNetThread) ThreadIteration() {
	batch, err := t.queue.TakeBatch()
	if err != nil {
		runtime.Gosched()
		return
	}

	// Decouple downstream work from the queue's slab memory
	t.newNodes = append(t.newNodes[:0], batch.Nodes...)
	t.newSides = append(t.newSides[:0], batch.Sides...)
	t.newTrajectories = append(t.newTrajectories[:0], batch.Trajectories...)

	err = t.net.Predict(batch.Planes, t.valueOutputs, t.probOutputs)
	t.queue.ReleaseBatch()

	if err != nil {
		for _, node := range t.newNodes {
			node.ClearEnqueued()
		}
		atomic.AddInt64(&t.failedBatches, 1)
		t.clearWorkingVectors()
		return
	}

	t.setResultsToNodes()
	BackupLargeNetValues(t.newNodes, t.newTrajectories, t.settings)
	t.clearWorkingVectors()
}

// setResultsToNodes distributes the inference outputs onto the batch's
// nodes: move priors from the policy head, value from the value head.
// Terminal nodes are dequeued untouched.
func (t *LargeNetThread) setResultsToNodes() {
	for batchIdx, node := range t.newNodes {
		node.ClearEnqueued()
		if node.Terminal() {
			continue
		}
		t.fillResults(batchIdx, node, t.newSides[batchIdx])
		atomic.AddInt64(&t.evalNodes, 1)
	}
}

// fillResults writes one slot's policy and value onto its node
func (t *LargeNetThread) fillResults(batchIdx int, node *tree.Node,
	side tree.SideToMove) {
	policy := policyutils.PolicyDataBatch(batchIdx, t.probOutputs,
		t.net.PolicyOutputs(), t.net.IsPolicyMap(), side)

	priors := make([]float64, node.NumMoves())
	for i := range priors {
		priors[i] = policy[node.Move(i)]
	}
	floatutils.Normalize(priors)
	policyutils.ApplyTemperature(priors, t.settings.PolicyTemperature)

	if err := node.SetPriors(priors); err != nil {
		// The node was expanded after the priors were sized; skip it
		// rather than write torn priors
		return
	}
	if t.settings.SortPolicyLargeNet {
		node.SortUnexpandedByPrior()
	}
	node.SetLargeNetResults(t.valueOutputs[batchIdx])
}

// clearWorkingVectors empties the thread's working vectors, dropping
// the node and trajectory references of the finished batch
func (t *LargeNetThread) clearWorkingVectors() {
	for i := range t.newNodes {
		t.newNodes[i] = nil
		t.newTrajectories[i] = nil
	}
	t.newNodes = t.newNodes[:0]
	t.newSides = t.newSides[:0]
	t.newTrajectories = t.newTrajectories[:0]
}

// FailedBatches returns the number of batches dropped due to inference
// failures
func (t *LargeNetThread) FailedBatches() int64 {
	return atomic.LoadInt64(&t.failedBatches)
}

// EvalNodes returns the number of non-terminal nodes that received
// large-net results from this thread
func (t *LargeNetThread) EvalNodes() int64 {
	return atomic.LoadInt64(&t.evalNodes)
}
