package searchd

import (
	"math"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
)

// recordView flattens a record into values both encoding/json and structpb accept
func recordView(rec *RunRecord) map[string]any {
	return map[string]any{
		"id":                 rec.ID,
		"status":             string(rec.Status),
		"budget":             rec.Budget,
		"output_path":        rec.OutputPath,
		"trials":             len(rec.Trials),
		"best_cost":          costValue(rec.BestCost),
		"final_cost":         costValue(rec.FinalCost),
		"promotions":         rec.Promotions,
		"incumbent":          rec.Incumbent,
		"convergence_reason": rec.ConvergenceReason,
		"error":              rec.Error,
		"created_at_unix_ms": rec.CreatedAtUnixMs,
		"started_at_unix_ms": rec.StartedAtUnixMs,
		"ended_at_unix_ms":   rec.EndedAtUnixMs,
	}
}

func trialsView(trials []search.Trial) []any {
	out := make([]any, 0, len(trials))
	for _, t := range trials {
		cfg := make(map[string]any, t.Config.Len())
		for _, name := range t.Config.Names() {
			v, _ := t.Config.Value(name)
			cfg[name] = v
		}
		out = append(out, map[string]any{
			"iteration":     t.Iteration,
			"config":        cfg,
			"cost":          costValue(t.Cost),
			"error":         t.Err,
			"promoted":      t.Promoted,
			"valid_samples": t.ValidSamples,
			"duration_ms":   t.Duration.Milliseconds(),
			"final":         t.Final,
		})
	}
	return out
}

func costValue(c float64) any {
	if math.IsInf(c, 0) || math.IsNaN(c) {
		return nil
	}
	return c
}
