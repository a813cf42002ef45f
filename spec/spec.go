// Package spec implements specifications/configurations for search
// agents
package spec

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SearchSettings configures the multi-policy-value search: the batch
// geometry of the large-net evaluation queue, the number of consumer
// and backpropagation threads, and how large-net values are folded
// into statistics written by the small-net workers.
type SearchSettings struct {
	// LargeNetBatchSize is the slab width of the evaluation queue and
	// the batch size handed to the large net for one inference call
	LargeNetBatchSize int `yaml:"large_net_batch_size"`

	// MPVThreads is the number of large-net consumer threads. Each
	// consumer owns its own evaluation queue.
	MPVThreads int `yaml:"mpv_threads"`

	// LargeNetBackpropThreads is the number of workers spawned per
	// batch to backpropagate large-net values. Values <= 1 mean
	// sequential backpropagation.
	LargeNetBackpropThreads int `yaml:"large_net_backprop_threads"`

	// LargeNetEvalThreshold is the mixing weight applied to large-net
	// value contributions during backpropagation, in [0, 1]
	LargeNetEvalThreshold float64 `yaml:"large_net_eval_threshold"`

	// LargeNetValueBackprop enables value backpropagation of large-net
	// results. When false only the move priors are updated.
	LargeNetValueBackprop bool `yaml:"large_net_value_backprop"`

	// ResetQVal replaces the leaf's running mean value with the
	// large-net value instead of blending it in
	ResetQVal bool `yaml:"reset_q_val"`

	// SortPolicyLargeNet sorts a node's untried moves by their
	// large-net priors after results are distributed
	SortPolicyLargeNet bool `yaml:"sort_policy_large_net"`

	// VirtualLoss is the magnitude of virtual-loss compensation
	// removed per node during large-net backpropagation. Zero leaves
	// virtual-loss accounting entirely to the small-net path.
	VirtualLoss float64 `yaml:"virtual_loss"`

	// PolicyTemperature is the exponential temperature applied to
	// priors after they are set from a policy output. Values <= 0 or
	// == 1 disable the post-processing.
	PolicyTemperature float64 `yaml:"policy_temperature"`

	// DirichletEpsilon and DirichletAlpha control the exploration
	// noise mixed into root priors. An epsilon of 0 disables noise.
	DirichletEpsilon float64 `yaml:"dirichlet_epsilon"`
	DirichletAlpha   float64 `yaml:"dirichlet_alpha"`

	// DrainOnStop lets a consumer finish an in-flight batch during
	// shutdown instead of abandoning it
	DrainOnStop bool `yaml:"drain_on_stop"`
}

// DefaultSearchSettings returns the settings used when no
// configuration file is given
func DefaultSearchSettings() SearchSettings {
	return SearchSettings{
		LargeNetBatchSize:       8,
		MPVThreads:              1,
		LargeNetBackpropThreads: 2,
		LargeNetEvalThreshold:   0.5,
		LargeNetValueBackprop:   true,
		ResetQVal:               false,
		SortPolicyLargeNet:      true,
		VirtualLoss:             0,
		PolicyTemperature:       1.0,
		DirichletEpsilon:        0,
		DirichletAlpha:          0.3,
		DrainOnStop:             true,
	}
}

// Validate returns an error describing the first invalid field of the
// settings
func (s SearchSettings) Validate() error {
	if s.LargeNetBatchSize < 1 {
		return fmt.Errorf("validate: large net batch size must be > 0")
	}
	if s.MPVThreads < 1 {
		return fmt.Errorf("validate: mpv threads must be > 0")
	}
	if s.LargeNetEvalThreshold < 0 || s.LargeNetEvalThreshold > 1 {
		return fmt.Errorf("validate: eval threshold must be in [0, 1] "+
			"\n\thave(%v)", s.LargeNetEvalThreshold)
	}
	if s.VirtualLoss < 0 {
		return fmt.Errorf("validate: virtual loss must be >= 0")
	}
	if s.DirichletEpsilon < 0 || s.DirichletEpsilon > 1 {
		return fmt.Errorf("validate: dirichlet epsilon must be in [0, 1]")
	}
	if s.DirichletEpsilon > 0 && s.DirichletAlpha <= 0 {
		return fmt.Errorf("validate: dirichlet alpha must be > 0 when "+
			"noise is enabled \n\thave(%v)", s.DirichletAlpha)
	}
	return nil
}

// Load reads SearchSettings from the YAML file at path. Fields missing
// from the file keep their default values.
func Load(path string) (SearchSettings, error) {
	settings := DefaultSearchSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		return settings, fmt.Errorf("load: could not read settings: %v", err)
	}
	if err := yaml.Unmarshal(data, &settings); err != nil {
		return settings, fmt.Errorf("load: could not parse settings: %v", err)
	}
	if err := settings.Validate(); err != nil {
		return settings, fmt.Errorf("load: %v", err)
	}
	return settings, nil
}
