// Package display renders search results for the terminal.
package display

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
)

// Trials prints one row per trial
func Trials(out io.Writer, trials []search.Trial) {
	tbl := tablewriter.NewWriter(out)
	tbl.Header("#", "Algo", "Bias", "Hist %", "Batch", "Batches", "Cost", "Valid", "Promoted", "Time")
	for _, t := range trials {
		iter := strconv.Itoa(t.Iteration)
		if t.Final {
			iter = "final"
		}
		cost := formatCost(t.Cost)
		if t.Err != "" {
			cost = "failed"
		}
		promoted := ""
		if t.Promoted {
			promoted = "*"
		}
		_ = tbl.Append([]string{
			iter,
			t.Config.Choice(space.ParamAlgo),
			strconv.FormatBool(t.Config.Bool(space.ParamBiasCorrect)),
			fmt.Sprintf("%.4f", t.Config.Float(space.ParamHistPercent)),
			strconv.Itoa(t.Config.Int(space.ParamBatchSize)),
			strconv.Itoa(t.Config.Int(space.ParamBatchNum)),
			cost,
			strconv.Itoa(t.ValidSamples),
			promoted,
			t.Duration.Round(time.Millisecond).String(),
		})
	}
	_ = tbl.Render()
}

// Result prints the search summary, as a table or JSON
func Result(out io.Writer, res *search.Result, outputPath string, useJSON bool) error {
	if useJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(resultJSON(res, outputPath))
	}

	fmt.Fprintln(out, "\n=== Quantization Search ===")
	Trials(out, res.Trials)
	fmt.Fprintln(out)
	fmt.Fprintf(out, "Baseline cost:  %s\n", formatCost(res.BaselineCost))
	fmt.Fprintf(out, "Best cost:      %s\n", formatCost(res.BestCost))
	fmt.Fprintf(out, "Final cost:     %s\n", formatCost(res.FinalCost))
	fmt.Fprintf(out, "Promotions:     %d\n", res.Promotions)
	fmt.Fprintf(out, "Incumbent:      %s\n", res.Incumbent.Key())
	if res.Converged {
		fmt.Fprintf(out, "Stopped early:  %s\n", res.ConvergenceReason)
	}
	fmt.Fprintf(out, "Model saved to: %s\n", outputPath)
	fmt.Fprintf(out, "Took:           %s\n", res.Duration.Round(time.Millisecond))
	return nil
}

func resultJSON(res *search.Result, outputPath string) map[string]any {
	return map[string]any{
		"baseline_cost":      jsonCost(res.BaselineCost),
		"best_cost":          jsonCost(res.BestCost),
		"final_cost":         jsonCost(res.FinalCost),
		"promotions":         res.Promotions,
		"incumbent":          res.Incumbent,
		"converged":          res.Converged,
		"convergence_reason": res.ConvergenceReason,
		"output_path":        outputPath,
		"duration_ms":        res.Duration.Milliseconds(),
		"trials":             res.Trials,
	}
}

// Space prints the hyperparameters of sp
func Space(out io.Writer, sp *space.Space) {
	tbl := tablewriter.NewWriter(out)
	tbl.Header("Name", "Domain", "Default")
	for _, p := range sp.Hyperparameters() {
		_ = tbl.Append([]string{p.Name(), p.String(), fmt.Sprint(p.Default())})
	}
	_ = tbl.Render()
}

func formatCost(c float64) string {
	if math.IsInf(c, 0) || math.IsNaN(c) {
		return "-"
	}
	return fmt.Sprintf("%.6f", c)
}

func jsonCost(c float64) any {
	if math.IsInf(c, 0) || math.IsNaN(c) {
		return nil
	}
	return c
}
