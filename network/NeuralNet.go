// Package network implements the neural-net runtime used to evaluate
// batches of positions
package network

import "gorgonia.org/tensor"

// Predictor is a policy-value network that evaluates a batch of
// encoded positions in one call.
//
// Predict reads a (BatchSize, Features) input tensor and writes one
// value per position into valueOut and PolicyOutputs policy values per
// position into policyOut, laid out contiguously per position. The
// output slices are owned by the caller; Predict must not retain them.
type Predictor interface {
	Predict(planes tensor.Tensor, valueOut, policyOut []float64) error

	// Features returns the number of input-plane values per position
	Features() int

	// PolicyOutputs returns the policy width per position
	PolicyOutputs() int

	// BatchSize returns the fixed inference batch size
	BatchSize() int

	// IsPolicyMap returns whether the policy head uses a policy-map
	// output layout, which must be mirrored for the black side
	IsPolicyMap() bool
}
