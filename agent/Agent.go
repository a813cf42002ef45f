// Package agent defines the coordinator that owns the evaluation
// queues, the large-net consumer threads, and the small-net search
// workers of a multi-policy-value search
package agent

import (
	"sync/atomic"
)

// State is the lifecycle state of an agent
type State int32

const (
	Idle State = iota
	Running
	Stopping
)

// String implements the Stringer interface
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	}
	return "unknown"
}

// Worker is a small-net search worker driven by the agent.
//
// SearchIteration performs one small-net simulation: descend the tree,
// expand a leaf, and submit the position for large-net evaluation if
// it looks promising. The agent calls it in a loop until the search is
// stopped. Reset prepares the worker for a new search on a re-rooted
// tree.
type Worker interface {
	SearchIteration() error
	Reset()
}

// state stores and loads an agent's lifecycle state atomically
type state struct {
	val int32
}

func (s *state) load() State {
	return State(atomic.LoadInt32(&s.val))
}

func (s *state) compareAndSwap(old, new State) bool {
	return atomic.CompareAndSwapInt32(&s.val, int32(old), int32(new))
}

func (s *state) store(new State) {
	atomic.StoreInt32(&s.val, int32(new))
}
