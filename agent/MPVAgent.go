package agent

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/samuelfneumann/gomcts/network"
	"github.com/samuelfneumann/gomcts/nodequeue"
	"github.com/samuelfneumann/gomcts/search"
	"github.com/samuelfneumann/gomcts/spec"
	"github.com/samuelfneumann/gomcts/tree"
	"golang.org/x/sync/errgroup"
)

// MPVAgent coordinates a multi-policy-value search: it owns one
// evaluation queue per large-net consumer thread, routes submissions
// from the small-net workers onto the queues, and runs the lifecycle
// idle -> running -> stopping -> idle.
//
// The queues and threads hold non-owning handles to each other; the
// agent is the single owner of both.
type MPVAgent struct {
	settings spec.SearchSettings

	queues  []*nodequeue.NodeQueue
	threads []*search.LargeNetThread
	workers []Worker

	state         state
	workerRunning uint32
	nextQueue     int64

	consumerGroup *errgroup.Group
	workerGroup   *errgroup.Group
}

// New creates and returns a new MPVAgent. One large net per configured
// MPVThreads must be given; each consumer thread evaluates with its
// own net on its own queue. The workers are the small-net search
// workers the agent drives; the agent does not inspect them beyond the
// Worker interface.
func New(largeNets []network.Predictor, workers []Worker,
	settings spec.SearchSettings) (*MPVAgent, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("new: invalid settings: %v", err)
	}
	if len(largeNets) != settings.MPVThreads {
		return nil, fmt.Errorf("new: need one large net per mpv thread "+
			"\n\twant(%v)\n\thave(%v)", settings.MPVThreads, len(largeNets))
	}
	if len(workers) == 0 {
		return nil, fmt.Errorf("new: at least one search worker is required")
	}

	a := &MPVAgent{
		settings: settings,
		workers:  workers,
	}
	for _, net := range largeNets {
		queue, err := nodequeue.Config{
			BatchSize: settings.LargeNetBatchSize,
			Features:  net.Features(),
		}.Create()
		if err != nil {
			return nil, fmt.Errorf("new: could not create queue: %v", err)
		}

		thread, err := search.NewLargeNetThread(net, queue, settings)
		if err != nil {
			return nil, fmt.Errorf("new: could not create consumer: %v", err)
		}

		a.queues = append(a.queues, queue)
		a.threads = append(a.threads, thread)
	}
	return a, nil
}

// State returns the agent's lifecycle state
func (a *MPVAgent) State() State {
	return a.state.load()
}

// Submit routes one large-net evaluation request onto a queue. The
// node is claimed atomically; a node that is already enqueued is
// skipped without error, so a position can never occupy two slots.
//
// The trajectory must already have the root entry stripped.
func (a *MPVAgent) Submit(node *tree.Node, side tree.SideToMove,
	trajectory tree.Trajectory, planes []float64) error {
	if !node.TryEnqueue() {
		return nil
	}

	next := atomic.AddInt64(&a.nextQueue, 1) - 1
	queue := a.queues[int(next)%len(a.queues)]

	err := queue.Submit(node, side, trajectory, planes)
	if err != nil && nodequeue.IsConsumerInactive(err) {
		// Stop raced the submission; the claim has been released and
		// the caller just falls through
		return nil
	}
	return err
}

// Start moves the agent from idle to running: consumers are activated
// and spawned first, the small-net workers last
func (a *MPVAgent) Start() error {
	if !a.state.compareAndSwap(Idle, Running) {
		return fmt.Errorf("start: agent is %v, not %v", a.State(), Idle)
	}

	for _, queue := range a.queues {
		queue.SetConsumerActive(true)
	}

	a.consumerGroup = new(errgroup.Group)
	for _, thread := range a.threads {
		thread := thread
		thread.SetRunning(true)
		a.consumerGroup.Go(func() error {
			thread.Run()
			return nil
		})
	}

	atomic.StoreUint32(&a.workerRunning, 1)
	a.workerGroup = new(errgroup.Group)
	for _, worker := range a.workers {
		worker := worker
		a.workerGroup.Go(func() error {
			for atomic.LoadUint32(&a.workerRunning) == 1 {
				if err := worker.SearchIteration(); err != nil {
					return fmt.Errorf("worker: %v", err)
				}
			}
			return nil
		})
	}
	return nil
}

// Stop winds the search down: the small-net workers are signalled and
// joined first, then the consumers drain any in-flight batch if
// DrainOnStop is set, and finally the queues are retired, releasing
// every pending submission. After Stop returns no thread is running
// and no node is left enqueued.
func (a *MPVAgent) Stop() error {
	if !a.state.compareAndSwap(Running, Stopping) {
		return fmt.Errorf("stop: agent is %v, not %v", a.State(), Running)
	}

	atomic.StoreUint32(&a.workerRunning, 0)
	workerErr := a.workerGroup.Wait()

	if a.settings.DrainOnStop {
		for _, queue := range a.queues {
			for queue.BatchReady() {
				runtime.Gosched()
			}
		}
	}

	for _, thread := range a.threads {
		thread.SetRunning(false)
	}
	for _, queue := range a.queues {
		queue.SetConsumerActive(false)
	}
	a.consumerGroup.Wait()

	a.state.store(Idle)
	return workerErr
}

// Reset prepares the agent for a new search after the tree has been
// re-rooted externally. Pending submissions are discarded, their
// nodes' enqueued flags released, and the workers reset. The agent
// must be idle.
func (a *MPVAgent) Reset() error {
	if a.State() != Idle {
		return fmt.Errorf("reset: agent is %v, not %v", a.State(), Idle)
	}

	for _, queue := range a.queues {
		queue.ResetForNewSearch()
	}
	for _, worker := range a.workers {
		worker.Reset()
	}
	return nil
}

// TotalEvals returns the cumulative number of positions released to
// the large nets across all queues
func (a *MPVAgent) TotalEvals() int64 {
	var total int64
	for _, queue := range a.queues {
		total += queue.TotalEvals()
	}
	return total
}

// FailedBatches returns the number of batches dropped due to inference
// failures across all consumers
func (a *MPVAgent) FailedBatches() int64 {
	var total int64
	for _, thread := range a.threads {
		total += thread.FailedBatches()
	}
	return total
}
