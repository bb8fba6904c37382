package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/YunHaaaa/fedPrune/internal/metrics"
)

func newReportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report <results.csv>",
		Short: "Summarize a run's metrics CSV by round",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, _ := cmd.Flags().GetString("run")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("opening %s: %w", args[0], err)
			}
			defer f.Close()

			rows, err := metrics.ReadRows(f)
			if err != nil {
				return err
			}

			byRound := map[int][]metrics.Row{}
			for _, row := range rows {
				if runID != "" && row.RunID != runID {
					continue
				}
				byRound[row.Round] = append(byRound[row.Round], row)
			}
			if len(byRound) == 0 {
				return fmt.Errorf("no rows matched in %s", args[0])
			}

			rounds := make([]int, 0, len(byRound))
			for r := range byRound {
				rounds = append(rounds, r)
			}
			sort.Ints(rounds)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%8s %8s %8s %8s %8s %14s %14s\n",
				"round", "clients", "acc", "std", "sparsity", "download_bits", "upload_bits")
			for _, r := range rounds {
				group := byRound[r]
				accs := make([]float64, len(group))
				sparsities := make([]float64, len(group))
				var dl, ul float64
				for i, row := range group {
					accs[i] = row.Accuracy
					sparsities[i] = row.Sparsity
					dl += row.DownloadBits
					ul += row.UploadBits
				}
				acc := metrics.Summarize(accs)
				sp := metrics.Summarize(sparsities)
				fmt.Fprintf(w, "%8d %8d %8.4f %8.4f %8.4f %14.0f %14.0f\n",
					r, len(group), acc.Mean, acc.Std, sp.Mean, dl, ul)
			}
			return nil
		},
	}
	cmd.Flags().String("run", "", "Only include rows from this run id")
	return cmd
}
