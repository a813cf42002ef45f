package search

import (
	"sync"
	"sync/atomic"

	"github.com/samuelfneumann/gomcts/spec"
	"github.com/samuelfneumann/gomcts/tree"
	"github.com/samuelfneumann/gomcts/utils/floatutils"
)

// BackupLargeNetValues backpropagates each node's large-net value
// along its recorded trajectory.
//
// With LargeNetBackpropThreads <= 1 the trajectories are walked
// sequentially. Otherwise that many workers share an atomic next-index
// and each repeatedly claims the next trajectory until the batch is
// exhausted. Two workers may touch the same ancestor when trajectories
// share a prefix; node statistics updates are atomic, so interleaved
// updates commute and none is lost.
//
// Nodes without large-net results (terminal nodes, dropped batches)
// are skipped. When LargeNetValueBackprop is disabled the call is a
// no-op: priors were already updated during distribution, value
// backpropagation is skipped entirely.
func BackupLargeNetValues(nodes []*tree.Node,
	trajectories []tree.Trajectory, settings spec.SearchSettings) {
	if !settings.LargeNetValueBackprop || len(nodes) == 0 {
		return
	}

	backupOne := func(i int) {
		node := nodes[i]
		if node == nil || !node.HasLargeNetResults() {
			return
		}
		if len(trajectories[i]) == 0 {
			return
		}
		BackupValue(node.LargeNetValue(), settings.VirtualLoss,
			trajectories[i], settings.ResetQVal,
			settings.LargeNetEvalThreshold)
	}

	if settings.LargeNetBackpropThreads <= 1 {
		for i := range nodes {
			backupOne(i)
		}
		return
	}

	var next int64
	var wg sync.WaitGroup
	for w := 0; w < settings.LargeNetBackpropThreads; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				i := int(atomic.AddInt64(&next, 1)) - 1
				if i >= len(nodes) {
					return
				}
				backupOne(i)
			}
		}()
	}
	wg.Wait()
}

// BackupValue walks trajectory bottom-up and folds value into each
// node on the path. Only the child of each step is updated, so the
// root, which appears only as the parent of the first step, is never
// touched.
//
// The value is given from the leaf's perspective and alternates sign
// each ply on the way up. threshold is the mixing weight applied to
// each contribution, clipped into [0, 1]. With resetQ the leaf's
// running mean is replaced by the raw large-net value instead of
// blended; ancestors are always blended. A non-zero virtualLoss
// removes one virtual loss per node on the path; zero leaves
// virtual-loss accounting entirely to the small-net path.
func BackupValue(value, virtualLoss float64, trajectory tree.Trajectory,
	resetQ bool, threshold float64) {
	weight := floatutils.Clip(threshold, 0, 1)

	v := value
	for i := len(trajectory) - 1; i >= 0; i-- {
		step := trajectory[i]
		node := step.Parent.Child(step.ChildIdx)
		if node == nil {
			return
		}

		if resetQ && i == len(trajectory)-1 {
			node.ResetValue(v)
		} else {
			node.Update(weight * v)
		}
		if virtualLoss != 0 {
			node.RevertVirtualLoss()
		}

		v = -v
	}
}
