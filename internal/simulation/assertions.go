package simulation

import (
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/nn"
)

// AssertMaskConsistent asserts that every masked-out element of every
// parameter is exactly zero.
func AssertMaskConsistent(t *testing.T, s *nn.State) {
	t.Helper()
	for _, name := range s.Names() {
		m := s.Mask(name)
		if m == nil {
			continue
		}
		p := s.Param(name)
		for i, on := range m.Bits {
			if !on && p.Data[i] != 0 {
				t.Errorf("AssertMaskConsistent: %s[%d] = %v outside the mask, want 0", name, i, p.Data[i])
			}
		}
	}
}

// AssertSparsityAtLeast asserts the state's mask sparsity reached min.
func AssertSparsityAtLeast(t *testing.T, s *nn.State, min float64) {
	t.Helper()
	if got := s.Sparsity(); got < min {
		t.Errorf("AssertSparsityAtLeast: sparsity %v < %v", got, min)
	}
}

// AssertAccuracyAbove asserts the run's best mean accuracy cleared the bar.
func AssertAccuracyAbove(t *testing.T, res Result, min float64) {
	t.Helper()
	if res.BestAccuracy <= min {
		t.Errorf("AssertAccuracyAbove: best accuracy %v <= %v", res.BestAccuracy, min)
	}
}

// AssertRowsAtEvalRounds asserts metric rows exist and only at multiples of
// evalEvery.
func AssertRowsAtEvalRounds(t *testing.T, res Result, evalEvery int) {
	t.Helper()
	if len(res.Rows) == 0 {
		t.Error("AssertRowsAtEvalRounds: no metric rows recorded")
		return
	}
	for _, row := range res.Rows {
		if row.Round%evalEvery != 0 {
			t.Errorf("AssertRowsAtEvalRounds: row for client %s at round %d, want multiples of %d", row.ClientID, row.Round, evalEvery)
		}
		if row.RunID != res.RunID {
			t.Errorf("AssertRowsAtEvalRounds: row run_id %q, want %q", row.RunID, res.RunID)
		}
	}
}

// AssertCommunicationCharged asserts that at least one row carries download
// cost and one carries upload cost.
func AssertCommunicationCharged(t *testing.T, res Result) {
	t.Helper()
	var dl, ul bool
	for _, row := range res.Rows {
		if row.DownloadBits > 0 {
			dl = true
		}
		if row.UploadBits > 0 {
			ul = true
		}
	}
	if !dl {
		t.Error("AssertCommunicationCharged: no row carries download cost")
	}
	if !ul {
		t.Error("AssertCommunicationCharged: no row carries upload cost")
	}
}
