package data

import (
	"math/rand"
	"testing"
)

func TestBatchesCoverAllSamples(t *testing.T) {
	src := Synthetic(3, 4, 10, 0, 1)
	batches := Batches(src.Train, 4, rand.New(rand.NewSource(2)))

	if len(batches) != 3 {
		t.Fatalf("got %d batches, want 3", len(batches))
	}
	total := 0
	seen := map[int]int{}
	for _, b := range batches {
		if len(b.X) != b.Size*4 {
			t.Errorf("batch has %d features for size %d", len(b.X), b.Size)
		}
		if len(b.Labels) != b.Size {
			t.Errorf("batch has %d labels for size %d", len(b.Labels), b.Size)
		}
		total += b.Size
		for _, l := range b.Labels {
			seen[l]++
		}
	}
	if total != 10 {
		t.Errorf("batches cover %d samples, want 10", total)
	}
	want := map[int]int{}
	for _, s := range src.Train {
		want[s.Label]++
	}
	for l, n := range want {
		if seen[l] != n {
			t.Errorf("label %d appears %d times across batches, want %d", l, seen[l], n)
		}
	}
}

func TestBatchesEmpty(t *testing.T) {
	if got := Batches(nil, 4, rand.New(rand.NewSource(1))); got != nil {
		t.Errorf("Batches(nil) = %v, want nil", got)
	}
}

func TestSyntheticDeterministic(t *testing.T) {
	a := Synthetic(2, 3, 5, 5, 42)
	b := Synthetic(2, 3, 5, 5, 42)
	for i := range a.Train {
		if a.Train[i].Label != b.Train[i].Label {
			t.Fatalf("sample %d labels differ across identical seeds", i)
		}
		for j := range a.Train[i].X {
			if a.Train[i].X[j] != b.Train[i].X[j] {
				t.Fatalf("sample %d features differ across identical seeds", i)
			}
		}
	}
	if a.Dim != 3 || a.Classes != 2 {
		t.Errorf("Dim=%d Classes=%d, want 3 and 2", a.Dim, a.Classes)
	}
}

func TestPartitionIID(t *testing.T) {
	src := Synthetic(3, 2, 20, 0, 7)
	parts := PartitionIID(src.Train, 4, 5, rand.New(rand.NewSource(3)))

	if len(parts) != 4 {
		t.Fatalf("got %d partitions, want 4", len(parts))
	}
	for c, p := range parts {
		if len(p) != 5 {
			t.Errorf("client %d got %d samples, want 5", c, len(p))
		}
	}
}

func TestPartitionIIDExhaustsSource(t *testing.T) {
	src := Synthetic(2, 2, 8, 0, 7)
	parts := PartitionIID(src.Train, 3, 5, rand.New(rand.NewSource(3)))

	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total != 8 {
		t.Errorf("partitions hold %d samples, want 8", total)
	}
}

func TestPartitionDirichletConserves(t *testing.T) {
	src := Synthetic(4, 2, 200, 0, 9)
	parts := PartitionDirichlet(src.Train, 5, 4, 0.5, 11, rand.New(rand.NewSource(4)))

	if len(parts) != 5 {
		t.Fatalf("got %d partitions, want 5", len(parts))
	}
	total := 0
	for _, p := range parts {
		total += len(p)
	}
	if total != 200 {
		t.Errorf("partitions hold %d samples, want 200", total)
	}
}

func TestPartitionDirichletSkews(t *testing.T) {
	src := Synthetic(2, 2, 400, 0, 13)
	parts := PartitionDirichlet(src.Train, 4, 2, 0.1, 17, rand.New(rand.NewSource(5)))

	// With beta=0.1 at least one client should see a heavily skewed class mix.
	skewed := false
	for _, p := range parts {
		if len(p) < 10 {
			continue
		}
		counts := map[int]int{}
		for _, s := range p {
			counts[s.Label]++
		}
		for _, n := range counts {
			if float64(n) > 0.8*float64(len(p)) {
				skewed = true
			}
		}
	}
	if !skewed {
		t.Error("Dirichlet(0.1) produced no skewed client partitions")
	}
}
