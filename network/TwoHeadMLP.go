package network

import (
	"fmt"
	"sync"

	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// twoHeadMLP implements a multi-layered perceptron with a shared trunk
// and two output heads: a softmax policy head of one value per move
// and a tanh value head of one value per position.
type twoHeadMLP struct {
	g      *G.ExprGraph
	trunk  []*fcLayer
	policy []*fcLayer
	value  []*fcLayer

	input         *G.Node
	features      int
	batchSize     int
	policyOutputs int
	policyMap     bool

	policyPred *G.Node
	valuePred  *G.Node
	policyVal  G.Value
	valueVal   G.Value

	// A tape machine is not safe for concurrent use; one Predict call
	// runs at a time
	mtx sync.Mutex
	vm  G.VM
}

// NewTwoHeadMLP creates and returns a new policy-value MLP.
//
// The trunk has len(hiddenSizes) fully connected layers, where
// hiddenSizes[i] is the number of units in layer i, biases[i]
// determines whether layer i has a bias unit, and activations[i] is
// the activation of layer i. On top of the trunk, a linear policy head
// of policyOutputs units with a softmax and a linear value head of one
// unit with a tanh are added. The parameter init determines the weight
// initialization scheme.
//
// The policyMap flag declares the layout of the policy head to
// consumers; it does not change the network itself.
func NewTwoHeadMLP(features, batch, policyOutputs int, g *G.ExprGraph,
	hiddenSizes []int, biases []bool, init G.InitWFn,
	activations []*Activation, policyMap bool) (Predictor, error) {

	// Ensure we have one activation per layer
	if len(hiddenSizes) != len(activations) {
		msg := "newtwoheadmlp: invalid number of activations\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(activations))
	}

	// Ensure one bias bool per layer
	if len(hiddenSizes) != len(biases) {
		msg := "newtwoheadmlp: invalid number of biases\n\twant(%d)" +
			"\n\thave(%d)"
		return nil, fmt.Errorf(msg, len(hiddenSizes), len(biases))
	}

	if len(hiddenSizes) == 0 {
		return nil, fmt.Errorf("newtwoheadmlp: at least one trunk layer " +
			"is required")
	}

	input := G.NewMatrix(g, tensor.Float64, G.WithShape(batch, features),
		G.WithName("input"), G.WithInit(G.Zeroes()))

	trunkOut := hiddenSizes[len(hiddenSizes)-1]
	net := &twoHeadMLP{
		g:             g,
		input:         input,
		features:      features,
		batchSize:     batch,
		policyOutputs: policyOutputs,
		policyMap:     policyMap,

		trunk: addFCLayers(g, hiddenSizes, biases, activations, init,
			features, "Trunk"),
		policy: addFCLayers(g, []int{policyOutputs}, []bool{true},
			[]*Activation{Identity()}, init, trunkOut, "Policy"),
		value: addFCLayers(g, []int{1}, []bool{true},
			[]*Activation{TanH()}, init, trunkOut, "Value"),
	}

	if err := net.fwd(input); err != nil {
		return nil, fmt.Errorf("newtwoheadmlp: could not compute forward "+
			"pass: %v", err)
	}

	net.vm = G.NewTapeMachine(g)
	return net, nil
}

// fwd performs the forward pass of the twoHeadMLP on the input node
func (t *twoHeadMLP) fwd(input *G.Node) error {
	pred := input
	var err error
	for i, l := range t.trunk {
		if pred, err = l.fwd(pred); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"trunk layer %v: %v", i, err)
		}
	}

	policy := pred
	for i, l := range t.policy {
		if policy, err = l.fwd(policy); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"policy head layer %v: %v", i, err)
		}
	}
	if policy, err = G.SoftMax(policy, 1); err != nil {
		return fmt.Errorf("fwd: could not compute policy softmax: %v", err)
	}

	value := pred
	for i, l := range t.value {
		if value, err = l.fwd(value); err != nil {
			return fmt.Errorf("fwd: could not compute forward pass of "+
				"value head layer %v: %v", i, err)
		}
	}

	t.policyPred = policy
	t.valuePred = value
	G.Read(t.policyPred, &t.policyVal)
	G.Read(t.valuePred, &t.valueVal)
	return nil
}

// Predict runs the network on one batch of input planes and writes the
// outputs into valueOut and policyOut
func (t *twoHeadMLP) Predict(planes tensor.Tensor, valueOut,
	policyOut []float64) error {
	shape := planes.Shape()
	if len(shape) != 2 || shape[0] != t.batchSize || shape[1] != t.features {
		return fmt.Errorf("predict: invalid input shape \n\twant(%v, %v)"+
			"\n\thave(%v)", t.batchSize, t.features, shape)
	}
	if len(valueOut) != t.batchSize {
		return fmt.Errorf("predict: invalid value output size \n\twant(%v)"+
			"\n\thave(%v)", t.batchSize, len(valueOut))
	}
	if len(policyOut) != t.batchSize*t.policyOutputs {
		return fmt.Errorf("predict: invalid policy output size "+
			"\n\twant(%v)\n\thave(%v)", t.batchSize*t.policyOutputs,
			len(policyOut))
	}

	t.mtx.Lock()
	defer t.mtx.Unlock()

	if err := G.Let(t.input, planes); err != nil {
		return fmt.Errorf("predict: could not set input: %v", err)
	}
	defer t.vm.Reset()
	if err := t.vm.RunAll(); err != nil {
		return fmt.Errorf("predict: could not run forward pass: %v", err)
	}

	copy(policyOut, t.policyVal.Data().([]float64))
	copy(valueOut, t.valueVal.Data().([]float64))
	return nil
}

// Features returns the number of input-plane values per position
func (t *twoHeadMLP) Features() int {
	return t.features
}

// PolicyOutputs returns the policy width per position
func (t *twoHeadMLP) PolicyOutputs() int {
	return t.policyOutputs
}

// BatchSize returns the fixed inference batch size
func (t *twoHeadMLP) BatchSize() int {
	return t.batchSize
}

// IsPolicyMap returns whether the policy head uses a policy-map layout
func (t *twoHeadMLP) IsPolicyMap() bool {
	return t.policyMap
}
