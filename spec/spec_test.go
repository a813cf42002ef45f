package spec

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultSearchSettingsAreValid(t *testing.T) {
	if err := DefaultSearchSettings().Validate(); err != nil {
		t.Errorf("default settings invalid: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*SearchSettings)
	}{
		{"zero batch size", func(s *SearchSettings) {
			s.LargeNetBatchSize = 0
		}},
		{"zero mpv threads", func(s *SearchSettings) {
			s.MPVThreads = 0
		}},
		{"threshold above one", func(s *SearchSettings) {
			s.LargeNetEvalThreshold = 1.5
		}},
		{"negative threshold", func(s *SearchSettings) {
			s.LargeNetEvalThreshold = -0.5
		}},
		{"negative virtual loss", func(s *SearchSettings) {
			s.VirtualLoss = -1
		}},
		{"noise without alpha", func(s *SearchSettings) {
			s.DirichletEpsilon = 0.25
			s.DirichletAlpha = 0
		}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			settings := DefaultSearchSettings()
			test.modify(&settings)
			if err := settings.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestLoad(t *testing.T) {
	contents := `
large_net_batch_size: 16
mpv_threads: 2
large_net_eval_threshold: 0.75
reset_q_val: true
drain_on_stop: false
`
	path := filepath.Join(t.TempDir(), "settings.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatal(err)
	}

	settings, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if settings.LargeNetBatchSize != 16 {
		t.Errorf("batch size: want(16) have(%v)",
			settings.LargeNetBatchSize)
	}
	if settings.MPVThreads != 2 {
		t.Errorf("mpv threads: want(2) have(%v)", settings.MPVThreads)
	}
	if settings.LargeNetEvalThreshold != 0.75 {
		t.Errorf("threshold: want(0.75) have(%v)",
			settings.LargeNetEvalThreshold)
	}
	if !settings.ResetQVal {
		t.Error("reset q val should be set")
	}
	if settings.DrainOnStop {
		t.Error("drain on stop should be cleared")
	}

	// Fields absent from the file keep their defaults
	if !settings.LargeNetValueBackprop {
		t.Error("value backprop should keep its default")
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	err := os.WriteFile(path, []byte("mpv_threads: 0\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Load(path); err == nil {
		t.Error("expected an error for invalid settings")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}
