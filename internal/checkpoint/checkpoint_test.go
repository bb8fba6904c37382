package checkpoint

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/nn"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "checkpoints.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return s
}

func TestPutAndBest(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	states := map[int]*nn.State{}
	for round, acc := range map[int]float64{10: 0.6, 20: 0.8, 30: 0.7} {
		st := nn.NewMLP(4, 6, 3, rand.New(rand.NewSource(int64(round)))).Net.StateDict()
		states[round] = st
		if err := s.Put(ctx, "run-a", round, acc, st); err != nil {
			t.Fatalf("Put round %d: %v", round, err)
		}
	}

	best, err := s.Best(ctx, "run-a")
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best.Round != 20 || best.MeanAccuracy != 0.8 {
		t.Errorf("best = round %d acc %v, want round 20 acc 0.8", best.Round, best.MeanAccuracy)
	}
	if !best.State.Equal(states[20]) {
		t.Error("best state does not round-trip bit-identically")
	}
}

func TestPutOverwritesRound(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	st := nn.NewMLP(2, 3, 2, rand.New(rand.NewSource(1))).Net.StateDict()

	if err := s.Put(ctx, "run-a", 10, 0.5, st); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := s.Put(ctx, "run-a", 10, 0.9, st); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	best, err := s.Best(ctx, "run-a")
	if err != nil {
		t.Fatalf("Best: %v", err)
	}
	if best.MeanAccuracy != 0.9 {
		t.Errorf("best accuracy = %v, want overwritten 0.9", best.MeanAccuracy)
	}
}

func TestBestUnknownRun(t *testing.T) {
	s := openStore(t)
	_, err := s.Best(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Best on empty run: err = %v, want ErrNotFound", err)
	}
}

func TestRoundsIsolatedByRun(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	st := nn.NewMLP(2, 3, 2, rand.New(rand.NewSource(2))).Net.StateDict()

	for _, round := range []int{30, 10, 20} {
		if err := s.Put(ctx, "run-a", round, 0.5, st); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}
	if err := s.Put(ctx, "run-b", 99, 0.5, st); err != nil {
		t.Fatalf("Put: %v", err)
	}

	rounds, err := s.Rounds(ctx, "run-a")
	if err != nil {
		t.Fatalf("Rounds: %v", err)
	}
	want := []int{10, 20, 30}
	if len(rounds) != len(want) {
		t.Fatalf("rounds = %v, want %v", rounds, want)
	}
	for i := range want {
		if rounds[i] != want[i] {
			t.Fatalf("rounds = %v, want %v", rounds, want)
		}
	}
}
