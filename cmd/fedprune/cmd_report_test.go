package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/YunHaaaa/fedPrune/internal/metrics"
)

func writeTestCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "results.csv")
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer f.Close()

	rec := metrics.NewRecorder(f)
	rows := []metrics.Row{
		{RunID: "r1", Round: 10, ClientID: "c-0", Accuracy: 0.6, Sparsity: 0.5, DownloadBits: 100, UploadBits: 50},
		{RunID: "r1", Round: 10, ClientID: "c-1", Accuracy: 0.8, Sparsity: 0.5, DownloadBits: 100, UploadBits: 50},
		{RunID: "r1", Round: 20, ClientID: "c-0", Accuracy: 0.9, Sparsity: 0.5},
		{RunID: "r2", Round: 10, ClientID: "c-0", Accuracy: 0.1, Sparsity: 0.5},
	}
	for _, r := range rows {
		if err := rec.Record(r); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}
	if err := rec.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	return path
}

func TestReportSummarizesByRound(t *testing.T) {
	path := writeTestCSV(t)

	cmd := newReportCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{path, "--run", "r1"})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "0.7000") {
		t.Errorf("report missing round-10 mean accuracy 0.7000:\n%s", got)
	}
	if !strings.Contains(got, "0.9000") {
		t.Errorf("report missing round-20 accuracy 0.9000:\n%s", got)
	}
	if strings.Contains(got, "0.1000") {
		t.Errorf("report leaked rows from another run:\n%s", got)
	}
}

func TestReportMissingFile(t *testing.T) {
	cmd := newReportCmd()
	cmd.SetOut(new(bytes.Buffer))
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs([]string{filepath.Join(t.TempDir(), "absent.csv")})
	if err := cmd.Execute(); err == nil {
		t.Error("report succeeded on a missing file")
	}
}
