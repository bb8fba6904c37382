// Package metrics records per-client evaluation rows to CSV and summarizes
// accuracy distributions across clients.
package metrics

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"gonum.org/v1/gonum/stat"
)

// Row is one client's standing at an evaluation round, including the
// communication it has accumulated since the previous evaluation.
type Row struct {
	RunID      string
	Round      int
	ClientID   string
	Accuracy   float64
	CoAccuracy float64
	Sparsity   float64

	ComputeSeconds float64
	DownloadBits   float64
	UploadBits     float64
}

var header = []string{
	"run_id", "round", "client_id",
	"accuracy", "co_accuracy", "sparsity",
	"compute_time", "download_cost", "upload_cost",
}

// Recorder streams rows to CSV, writing the header on first use.
type Recorder struct {
	w           *csv.Writer
	wroteHeader bool
}

// NewRecorder wraps a destination writer. The caller owns the underlying
// writer's lifetime; call Flush before closing it.
func NewRecorder(w io.Writer) *Recorder {
	return &Recorder{w: csv.NewWriter(w)}
}

// Record appends one row.
func (r *Recorder) Record(row Row) error {
	if !r.wroteHeader {
		if err := r.w.Write(header); err != nil {
			return fmt.Errorf("metrics: writing header: %w", err)
		}
		r.wroteHeader = true
	}
	rec := []string{
		row.RunID,
		strconv.Itoa(row.Round),
		row.ClientID,
		formatFloat(row.Accuracy),
		formatFloat(row.CoAccuracy),
		formatFloat(row.Sparsity),
		formatFloat(row.ComputeSeconds),
		formatFloat(row.DownloadBits),
		formatFloat(row.UploadBits),
	}
	if err := r.w.Write(rec); err != nil {
		return fmt.Errorf("metrics: writing row: %w", err)
	}
	return nil
}

// Flush forces buffered rows out.
func (r *Recorder) Flush() error {
	r.w.Flush()
	if err := r.w.Error(); err != nil {
		return fmt.Errorf("metrics: flushing rows: %w", err)
	}
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Summary describes a sample of per-client values.
type Summary struct {
	Mean float64
	Std  float64
	Min  float64
	Max  float64
	N    int
}

// Summarize computes the distribution of values across clients. An empty
// sample returns the zero Summary.
func Summarize(values []float64) Summary {
	if len(values) == 0 {
		return Summary{}
	}
	s := Summary{
		Mean: stat.Mean(values, nil),
		Min:  values[0],
		Max:  values[0],
		N:    len(values),
	}
	if len(values) > 1 {
		s.Std = stat.StdDev(values, nil)
	}
	for _, v := range values[1:] {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	return s
}

// ReadRows parses a CSV produced by Recorder.
func ReadRows(r io.Reader) ([]Row, error) {
	cr := csv.NewReader(r)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("metrics: parsing csv: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	rows := make([]Row, 0, len(records)-1)
	for _, rec := range records[1:] {
		if len(rec) != len(header) {
			return nil, fmt.Errorf("metrics: row has %d fields, want %d", len(rec), len(header))
		}
		round, err := strconv.Atoi(rec[1])
		if err != nil {
			return nil, fmt.Errorf("metrics: parsing round %q: %w", rec[1], err)
		}
		row := Row{RunID: rec[0], Round: round, ClientID: rec[2]}
		for i, dst := range []*float64{
			&row.Accuracy, &row.CoAccuracy, &row.Sparsity,
			&row.ComputeSeconds, &row.DownloadBits, &row.UploadBits,
		} {
			v, err := strconv.ParseFloat(rec[3+i], 64)
			if err != nil {
				return nil, fmt.Errorf("metrics: parsing %s %q: %w", header[3+i], rec[3+i], err)
			}
			*dst = v
		}
		rows = append(rows, row)
	}
	return rows, nil
}
