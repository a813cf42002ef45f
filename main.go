// Demo of the multi-policy-value evaluation pipeline on a synthetic
// game tree: a handful of random small-net workers grow a tree and
// submit promising leaves, while a large two-head MLP evaluates them
// in batches and backpropagates the results.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/samuelfneumann/gomcts/agent"
	"github.com/samuelfneumann/gomcts/network"
	"github.com/samuelfneumann/gomcts/spec"
	"github.com/samuelfneumann/gomcts/tree"
	"github.com/samuelfneumann/gomcts/utils/policyutils"
	"github.com/samuelfneumann/progressbar"
	"golang.org/x/exp/rand"
	G "gorgonia.org/gorgonia"
)

const (
	features  = 16
	numMoves  = 8
	maxDepth  = 12
	searchFor = 2 * time.Second
)

// demoWorker is a stand-in for a small-net search worker. It descends
// the tree guided by priors, expands a leaf, submits it for large-net
// evaluation, and backpropagates a noisy small-net value estimate.
type demoWorker struct {
	root   *tree.Node
	rng    *rand.Rand
	submit func(*tree.Node, tree.SideToMove, tree.Trajectory,
		[]float64) error
}

func (w *demoWorker) SearchIteration() error {
	node := w.root
	side := tree.White
	trajectory := tree.Trajectory{}

	for depth := 0; depth < maxDepth; depth++ {
		childIdx := w.rng.Intn(node.NumMoves())
		child := node.EnsureChild(childIdx)
		trajectory = trajectory.Push(node, childIdx)
		node = child
		side = side.Flip()

		if node.NumMoves() == 0 {
			moves := make([]int32, numMoves)
			for i := range moves {
				moves[i] = int32(i)
			}
			node.Expand(moves)
			break
		}
	}

	// Small-net value estimate and backprop
	value := w.rng.Float64()*2 - 1
	v := value
	for i := len(trajectory) - 1; i >= 0; i-- {
		step := trajectory[i]
		step.Parent.Child(step.ChildIdx).Update(v)
		v = -v
	}
	w.root.Update(v)

	// Pretend a random half of the leaves look promising enough for
	// the large net
	if w.rng.Intn(2) == 0 {
		return nil
	}

	planes := make([]float64, features)
	for i := range planes {
		planes[i] = w.rng.Float64()
	}
	return w.submit(node, side, trajectory.Clone(), planes)
}

func (w *demoWorker) Reset() {}

func main() {
	settings := spec.DefaultSearchSettings()
	if len(os.Args) > 1 {
		var err error
		settings, err = spec.Load(os.Args[1])
		if err != nil {
			panic(err)
		}
	}

	largeNets := make([]network.Predictor, settings.MPVThreads)
	for i := range largeNets {
		net, err := network.NewTwoHeadMLP(features,
			settings.LargeNetBatchSize, numMoves, G.NewGraph(),
			[]int{32}, []bool{true}, G.GlorotU(1.0),
			[]*network.Activation{network.ReLU()}, false)
		if err != nil {
			panic(err)
		}
		largeNets[i] = net
	}

	root := tree.NewRoot()
	moves := make([]int32, numMoves)
	for i := range moves {
		moves[i] = int32(i)
	}
	root.Expand(moves)

	// Exploration noise on the root priors
	if settings.DirichletEpsilon > 0 {
		priors := make([]float64, numMoves)
		for i := range priors {
			priors[i] = root.Prior(i)
		}
		src := rand.NewSource(uint64(time.Now().UnixNano()))
		err := policyutils.DirichletNoise(priors, settings.DirichletEpsilon,
			settings.DirichletAlpha, src)
		if err != nil {
			panic(err)
		}
		if err := root.SetPriors(priors); err != nil {
			panic(err)
		}
	}

	workers := make([]agent.Worker, 4)
	demoWorkers := make([]*demoWorker, len(workers))
	for i := range workers {
		w := &demoWorker{
			root: root,
			rng:  rand.New(rand.NewSource(uint64(i + 1))),
		}
		demoWorkers[i] = w
		workers[i] = w
	}

	a, err := agent.New(largeNets, workers, settings)
	if err != nil {
		panic(err)
	}
	for _, w := range demoWorkers {
		w.submit = a.Submit
	}

	if err := a.Start(); err != nil {
		panic(err)
	}

	ticks := 20
	progBar := progressbar.New(50, ticks, time.Second, true)
	progBar.Display()
	for i := 0; i < ticks; i++ {
		time.Sleep(searchFor / time.Duration(ticks))
		progBar.Increment()
	}
	progBar.Close()

	if err := a.Stop(); err != nil {
		panic(err)
	}

	fmt.Println("large-net evaluations:", a.TotalEvals())
	fmt.Println("failed batches:       ", a.FailedBatches())
	fmt.Println("root visits:          ", root.Visits())
	for i := 0; i < root.NumMoves(); i++ {
		if child := root.Child(i); child != nil {
			fmt.Printf("move %v: visits %v Q %.3f prior %.3f\n",
				root.Move(i), child.Visits(), child.QValue(
					settings.VirtualLoss), root.Prior(i))
		}
	}
}
