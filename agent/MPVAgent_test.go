package agent

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/samuelfneumann/gomcts/network"
	"github.com/samuelfneumann/gomcts/spec"
	"github.com/samuelfneumann/gomcts/tree"
	"gorgonia.org/tensor"
)

// constPredictor evaluates every position to the same value with a
// uniform policy
type constPredictor struct {
	features  int
	outputs   int
	batchSize int
}

func (c *constPredictor) Predict(planes tensor.Tensor, valueOut,
	policyOut []float64) error {
	for i := range valueOut {
		valueOut[i] = 0.25
	}
	uniform := 1.0 / float64(c.outputs)
	for i := range policyOut {
		policyOut[i] = uniform
	}
	return nil
}

func (c *constPredictor) Features() int      { return c.features }
func (c *constPredictor) PolicyOutputs() int { return c.outputs }
func (c *constPredictor) BatchSize() int     { return c.batchSize }
func (c *constPredictor) IsPolicyMap() bool  { return false }

// countingWorker submits a fresh leaf on every iteration
type countingWorker struct {
	agent      *MPVAgent
	root       *tree.Node
	iterations int64
	resets     int64
	nextChild  int64
}

func (w *countingWorker) SearchIteration() error {
	atomic.AddInt64(&w.iterations, 1)

	childIdx := int(atomic.AddInt64(&w.nextChild, 1)-1) %
		w.root.NumMoves()
	leaf := w.root.EnsureChild(childIdx)

	planes := make([]float64, 4)
	trajectory := tree.Trajectory{}.Push(w.root, childIdx)
	return w.agent.Submit(leaf, tree.White, trajectory, planes)
}

func (w *countingWorker) Reset() {
	atomic.AddInt64(&w.resets, 1)
}

func testAgentSettings() spec.SearchSettings {
	settings := spec.DefaultSearchSettings()
	settings.LargeNetBatchSize = 2
	settings.MPVThreads = 1
	settings.LargeNetBackpropThreads = 1
	return settings
}

func TestLifecycle(t *testing.T) {
	root := tree.NewRoot()
	root.Expand([]int32{0, 1, 2, 3})

	worker := &countingWorker{root: root}
	net := &constPredictor{features: 4, outputs: 4, batchSize: 2}

	a, err := New([]network.Predictor{net}, []Worker{worker},
		testAgentSettings())
	if err != nil {
		t.Fatal(err)
	}
	worker.agent = a

	if a.State() != Idle {
		t.Fatalf("state: want(%v) have(%v)", Idle, a.State())
	}
	if err := a.Stop(); err == nil {
		t.Error("stopping an idle agent should fail")
	}

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if a.State() != Running {
		t.Fatalf("state: want(%v) have(%v)", Running, a.State())
	}
	if err := a.Start(); err == nil {
		t.Error("starting a running agent should fail")
	}

	time.Sleep(50 * time.Millisecond)

	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}
	if a.State() != Idle {
		t.Fatalf("state: want(%v) have(%v)", Idle, a.State())
	}

	if atomic.LoadInt64(&worker.iterations) == 0 {
		t.Error("worker never iterated")
	}

	// Stop quiescence: no node may be left enqueued
	for i := 0; i < root.NumMoves(); i++ {
		if child := root.Child(i); child != nil && child.Enqueued() {
			t.Errorf("child %v still enqueued after stop", i)
		}
	}
}

func TestResetRequiresIdle(t *testing.T) {
	root := tree.NewRoot()
	root.Expand([]int32{0, 1})

	worker := &countingWorker{root: root}
	net := &constPredictor{features: 4, outputs: 4, batchSize: 2}

	a, err := New([]network.Predictor{net}, []Worker{worker},
		testAgentSettings())
	if err != nil {
		t.Fatal(err)
	}
	worker.agent = a

	if err := a.Start(); err != nil {
		t.Fatal(err)
	}
	if err := a.Reset(); err == nil {
		t.Error("reset on a running agent should fail")
	}
	if err := a.Stop(); err != nil {
		t.Fatal(err)
	}

	if err := a.Reset(); err != nil {
		t.Fatal(err)
	}
	if atomic.LoadInt64(&worker.resets) != 1 {
		t.Errorf("worker resets: want(1) have(%v)", worker.resets)
	}
}

func TestSubmitSkipsEnqueuedNode(t *testing.T) {
	root := tree.NewRoot()
	root.Expand([]int32{0, 1})

	worker := &countingWorker{root: root}
	net := &constPredictor{features: 4, outputs: 4, batchSize: 2}

	a, err := New([]network.Predictor{net}, []Worker{worker},
		testAgentSettings())
	if err != nil {
		t.Fatal(err)
	}

	for _, queue := range a.queues {
		queue.SetConsumerActive(true)
	}

	leaf := root.EnsureChild(0)
	planes := make([]float64, 4)
	trajectory := tree.Trajectory{}.Push(root, 0)

	if err := a.Submit(leaf, tree.White, trajectory, planes); err != nil {
		t.Fatal(err)
	}
	// A second submission of the same node is skipped, not queued
	if err := a.Submit(leaf, tree.White, trajectory, planes); err != nil {
		t.Fatal(err)
	}

	batch, err := a.queues[0].TakeBatch()
	if err == nil {
		count := 0
		for _, node := range batch.Nodes {
			if node == leaf {
				count++
			}
		}
		if count > 1 {
			t.Errorf("node occupies %v slots", count)
		}
	}

	for _, queue := range a.queues {
		queue.SetConsumerActive(false)
	}
}

func TestNewValidates(t *testing.T) {
	net := &constPredictor{features: 4, outputs: 4, batchSize: 2}

	settings := testAgentSettings()
	settings.MPVThreads = 2
	if _, err := New([]network.Predictor{net}, []Worker{nil},
		settings); err == nil {
		t.Error("expected error for net/thread count mismatch")
	}

	if _, err := New([]network.Predictor{net}, nil,
		testAgentSettings()); err == nil {
		t.Error("expected error for no workers")
	}

	settings = testAgentSettings()
	settings.LargeNetEvalThreshold = 2
	worker := &countingWorker{}
	if _, err := New([]network.Predictor{net}, []Worker{worker},
		settings); err == nil {
		t.Error("expected error for invalid settings")
	}
}
