package loadbalancer

import "testing"

func mkInstances(weights ...int) []*Instance {
	out := make([]*Instance, len(weights))
	for i, w := range weights {
		out[i] = NewInstance("host", 9000+i, w)
	}
	return out
}

func TestRoundRobinCyclesEvenly(t *testing.T) {
	insts := mkInstances(1, 1, 1)
	b := New(RoundRobin, insts)

	counts := map[string]int{}
	for i := 0; i < 9; i++ {
		counts[b.Next("").Addr()]++
	}
	for _, inst := range insts {
		if counts[inst.Addr()] != 3 {
			t.Errorf("%s got %d picks, want 3 over 9 rounds", inst.Addr(), counts[inst.Addr()])
		}
	}
}

func TestWeightedRoundRobinRespectsWeights(t *testing.T) {
	insts := mkInstances(3, 1)
	b := New(WeightedRoundRobin, insts)

	counts := map[string]int{}
	for i := 0; i < 8; i++ {
		counts[b.Next("").Addr()]++
	}
	if counts[insts[0].Addr()] != 6 || counts[insts[1].Addr()] != 2 {
		t.Errorf("weighted distribution = %v, want 6:2 over two cycles", counts)
	}
}

func TestLeastConnPicksFewestActive(t *testing.T) {
	insts := mkInstances(1, 1, 1)
	insts[0].IncrActive()
	insts[0].IncrActive()
	insts[1].IncrActive()

	b := New(LeastConn, insts)
	if got := b.Next(""); got != insts[2] {
		t.Errorf("Next() = %s, want the instance with zero active connections", got.Addr())
	}
}

func TestIPHashIsStickyForSameIP(t *testing.T) {
	insts := mkInstances(1, 1, 1, 1)
	b := New(IPHash, insts)

	first := b.Next("203.0.113.5")
	for i := 0; i < 5; i++ {
		if got := b.Next("203.0.113.5"); got != first {
			t.Fatalf("IP_HASH should be sticky for the same client IP: got %s, want %s", got.Addr(), first.Addr())
		}
	}
}

func TestRandomReturnsAHealthyInstance(t *testing.T) {
	insts := mkInstances(1, 1)
	b := New(Random, insts)
	for i := 0; i < 10; i++ {
		got := b.Next("")
		if got != insts[0] && got != insts[1] {
			t.Fatalf("Random returned an instance outside the configured set")
		}
	}
}

func TestNextReturnsNilWhenNoneHealthy(t *testing.T) {
	insts := mkInstances(1, 1)
	b := New(RoundRobin, insts)
	for _, inst := range insts {
		b.MarkUnhealthy(inst.Addr())
	}
	if got := b.Next(""); got != nil {
		t.Errorf("Next() = %v, want nil with no healthy instances", got)
	}
}

func TestMarkUnhealthyExcludesFromSelection(t *testing.T) {
	insts := mkInstances(1, 1)
	b := New(RoundRobin, insts)
	b.MarkUnhealthy(insts[0].Addr())

	for i := 0; i < 4; i++ {
		if got := b.Next(""); got != insts[1] {
			t.Fatalf("Next() = %s, want only the remaining healthy instance", got.Addr())
		}
	}
	if b.HealthyCount() != 1 {
		t.Errorf("HealthyCount() = %d, want 1", b.HealthyCount())
	}
}

func TestUpdateInstancesPreservesHealthByAddr(t *testing.T) {
	insts := mkInstances(1, 1)
	b := New(RoundRobin, insts)
	b.MarkUnhealthy(insts[0].Addr())

	replacement := []*Instance{NewInstance(insts[0].Host, insts[0].Port, 1), NewInstance(insts[1].Host, insts[1].Port, 1)}
	b.UpdateInstances(replacement)

	if b.HealthyCount() != 1 {
		t.Errorf("HealthyCount() = %d, want 1 (unhealthy state should carry over by address)", b.HealthyCount())
	}
}

func TestInstanceDefaultsWeightToOne(t *testing.T) {
	i := NewInstance("h", 1, 0)
	if i.Weight != 1 {
		t.Errorf("Weight = %d, want default of 1", i.Weight)
	}
}
