// Package search implements the large-net side of a multi-policy-value
// search: the consumer thread that drains full evaluation batches from
// a node queue, runs inference, distributes the results into the tree,
// and backpropagates values along the recorded trajectories.
package search

import (
	"sync/atomic"

	"github.com/samuelfneumann/gomcts/network"
)

// Thread is one search thread of an agent. Implementations do one unit
// of work per ThreadIteration call; Run repeats it until the agent
// calls SetRunning(false).
type Thread interface {
	// ThreadIteration performs one iteration of the thread's work
	ThreadIteration()

	// IsRunning returns whether the thread should keep iterating
	IsRunning() bool

	// SetRunning signals the thread to keep running or to wind down
	SetRunning(bool)

	// Run iterates until SetRunning(false)
	Run()
}

// threadState is the inference plumbing shared by all kinds of search
// threads: the network handle and the output buffers one predict call
// fills.
type threadState struct {
	net          network.Predictor
	valueOutputs []float64
	probOutputs  []float64

	running uint32
}

// newThreadState returns thread plumbing for net, with output buffers
// sized to the net's batch
func newThreadState(net network.Predictor) threadState {
	return threadState{
		net:          net,
		valueOutputs: make([]float64, net.BatchSize()),
		probOutputs:  make([]float64, net.BatchSize()*net.PolicyOutputs()),
	}
}

// IsRunning returns whether the thread should keep iterating
func (t *threadState) IsRunning() bool {
	return atomic.LoadUint32(&t.running) == 1
}

// SetRunning signals the thread to keep running or to wind down
func (t *threadState) SetRunning(running bool) {
	if running {
		atomic.StoreUint32(&t.running, 1)
	} else {
		atomic.StoreUint32(&t.running, 0)
	}
}
