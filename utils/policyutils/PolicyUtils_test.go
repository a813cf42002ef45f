package policyutils

import (
	"math"
	"testing"

	"github.com/samuelfneumann/gomcts/tree"
	"golang.org/x/exp/rand"
)

func TestPolicyDataBatch(t *testing.T) {
	probOutputs := []float64{
		0.1, 0.2, 0.3, 0.4,
		0.4, 0.3, 0.2, 0.1,
	}

	slot0 := PolicyDataBatch(0, probOutputs, 4, false, tree.White)
	want := []float64{0.1, 0.2, 0.3, 0.4}
	for i := range want {
		if slot0[i] != want[i] {
			t.Errorf("slot 0 index %v: want(%v) have(%v)", i, want[i],
				slot0[i])
		}
	}

	// The returned slice is a copy
	slot0[0] = 99
	if probOutputs[0] != 0.1 {
		t.Error("policy extraction aliases the batch output")
	}

	slot1 := PolicyDataBatch(1, probOutputs, 4, false, tree.White)
	if slot1[0] != 0.4 {
		t.Errorf("slot 1 index 0: want(0.4) have(%v)", slot1[0])
	}
}

func TestPolicyDataBatchMirrorsForBlack(t *testing.T) {
	probOutputs := []float64{0.1, 0.2, 0.3, 0.4}

	white := PolicyDataBatch(0, probOutputs, 4, true, tree.White)
	if white[0] != 0.1 {
		t.Errorf("white index 0: want(0.1) have(%v)", white[0])
	}

	black := PolicyDataBatch(0, probOutputs, 4, true, tree.Black)
	want := []float64{0.4, 0.3, 0.2, 0.1}
	for i := range want {
		if black[i] != want[i] {
			t.Errorf("black index %v: want(%v) have(%v)", i, want[i],
				black[i])
		}
	}

	// Without a policy map no mirroring happens
	flat := PolicyDataBatch(0, probOutputs, 4, false, tree.Black)
	if flat[0] != 0.1 {
		t.Errorf("non-map black index 0: want(0.1) have(%v)", flat[0])
	}
}

func TestApplyTemperature(t *testing.T) {
	policy := []float64{0.7, 0.2, 0.1}

	// Unity and non-positive temperatures are no-ops
	unchanged := []float64{0.7, 0.2, 0.1}
	ApplyTemperature(policy, 1.0)
	ApplyTemperature(policy, 0)
	ApplyTemperature(policy, -3)
	for i := range unchanged {
		if policy[i] != unchanged[i] {
			t.Fatalf("no-op temperature changed the policy")
		}
	}

	// Low temperature sharpens towards the maximum
	ApplyTemperature(policy, 0.5)
	var sum float64
	for _, p := range policy {
		sum += p
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("policy sum: want(1.0) have(%v)", sum)
	}
	if policy[0] <= 0.7 {
		t.Errorf("sharpened maximum should grow: have(%v)", policy[0])
	}
	if policy[2] >= 0.1 {
		t.Errorf("sharpened minimum should shrink: have(%v)", policy[2])
	}
}

func TestDirichletNoise(t *testing.T) {
	src := rand.NewSource(42)

	policy := []float64{0.25, 0.25, 0.25, 0.25}
	err := DirichletNoise(policy, 0.25, 0.3, src)
	if err != nil {
		t.Fatal(err)
	}

	var sum float64
	for _, p := range policy {
		sum += p
		if p < 0 {
			t.Errorf("negative probability %v", p)
		}
	}
	if math.Abs(sum-1.0) > 1e-9 {
		t.Errorf("policy sum: want(1.0) have(%v)", sum)
	}

	// Epsilon zero is a no-op
	policy = []float64{0.5, 0.5}
	if err := DirichletNoise(policy, 0, 0.3, src); err != nil {
		t.Fatal(err)
	}
	if policy[0] != 0.5 || policy[1] != 0.5 {
		t.Error("zero epsilon changed the policy")
	}

	// Invalid parameters are rejected
	if err := DirichletNoise(policy, 2, 0.3, src); err == nil {
		t.Error("expected error for epsilon > 1")
	}
	if err := DirichletNoise(policy, 0.5, 0, src); err == nil {
		t.Error("expected error for non-positive alpha")
	}
}
