// Package policyutils provides post-processing primitives for policy
// outputs of a batched policy-value network
package policyutils

import (
	"fmt"
	"math"

	"github.com/samuelfneumann/gomcts/tree"
	"github.com/samuelfneumann/gomcts/utils/floatutils"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distmv"
)

// PolicyDataBatch extracts the policy slice for one batch slot from a
// flat batched policy output of width outputs per slot.
//
// When the network uses a policy-map output layout, the move planes
// are encoded from the white side's perspective and must be mirrored
// for black. The returned slice is a copy and safe to retain.
func PolicyDataBatch(batchIdx int, probOutputs []float64, outputs int,
	isPolicyMap bool, side tree.SideToMove) []float64 {
	policy := make([]float64, outputs)
	copy(policy, probOutputs[batchIdx*outputs:(batchIdx+1)*outputs])

	if isPolicyMap && side == tree.Black {
		for i, j := 0, len(policy)-1; i < j; i, j = i+1, j-1 {
			policy[i], policy[j] = policy[j], policy[i]
		}
	}
	return policy
}

// ApplyTemperature sharpens or flattens a policy in place by raising
// each probability to the power 1/temperature and renormalizing.
// Temperatures <= 0 or == 1 leave the policy unchanged.
func ApplyTemperature(policy []float64, temperature float64) {
	if temperature <= 0 || temperature == 1 {
		return
	}

	exponent := 1.0 / temperature
	for i, p := range policy {
		policy[i] = math.Pow(p, exponent)
	}
	floatutils.Normalize(policy)
}

// DirichletNoise mixes Dirichlet-distributed exploration noise into a
// policy in place: p <- (1 - epsilon) * p + epsilon * noise. An
// epsilon of 0 is a no-op.
func DirichletNoise(policy []float64, epsilon, alpha float64,
	src rand.Source) error {
	if epsilon == 0 {
		return nil
	}
	if epsilon < 0 || epsilon > 1 {
		return fmt.Errorf("dirichletnoise: epsilon must be in [0, 1] "+
			"\n\thave(%v)", epsilon)
	}
	if alpha <= 0 {
		return fmt.Errorf("dirichletnoise: alpha must be > 0 \n\thave(%v)",
			alpha)
	}

	alphas := make([]float64, len(policy))
	for i := range alphas {
		alphas[i] = alpha
	}
	noise := distmv.NewDirichlet(alphas, src).Rand(nil)

	for i := range policy {
		policy[i] = (1-epsilon)*policy[i] + epsilon*noise[i]
	}
	return nil
}
