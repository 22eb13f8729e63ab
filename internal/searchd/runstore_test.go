package searchd

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
	"github.com/GoSim-25-26J-441/quant-hpo/internal/space"
)

func TestRunStoreCreateAndGet(t *testing.T) {
	store := NewRunStore()

	rec, err := store.Create("", "log_level: info", "/out", 5)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if !strings.HasPrefix(rec.ID, "search-") {
		t.Fatalf("expected generated search id, got %q", rec.ID)
	}
	if rec.Status != StatusPending {
		t.Fatalf("expected PENDING, got %s", rec.Status)
	}
	if !math.IsInf(rec.BestCost, 1) {
		t.Fatalf("expected +Inf best cost, got %v", rec.BestCost)
	}

	got, ok := store.Get(rec.ID)
	if !ok || got.Budget != 5 || got.OutputPath != "/out" {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := store.Create(rec.ID, "", "", 1); !errors.Is(err, ErrRunExists) {
		t.Fatalf("expected ErrRunExists, got %v", err)
	}
	if _, ok := store.Get("missing"); ok {
		t.Fatalf("expected missing search")
	}
}

func TestRunStoreStatusTransitions(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("s1", "", "", 1); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	rec, err := store.SetStatus("s1", StatusRunning, "")
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if rec.StartedAtUnixMs == 0 {
		t.Fatalf("expected started timestamp")
	}

	rec, err = store.SetStatus("s1", StatusFailed, "boom")
	if err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}
	if rec.EndedAtUnixMs == 0 || rec.Error != "boom" {
		t.Fatalf("unexpected terminal record %+v", rec)
	}

	if _, err := store.SetStatus("s1", StatusCompleted, ""); !errors.Is(err, ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}
	if _, err := store.SetStatus("nope", StatusRunning, ""); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunStoreListOrderAndFilter(t *testing.T) {
	store := NewRunStore()
	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.Create(id, "", "", 1); err != nil {
			t.Fatalf("Create error: %v", err)
		}
		time.Sleep(2 * time.Millisecond)
	}
	if _, err := store.SetStatus("b", StatusRunning, ""); err != nil {
		t.Fatalf("SetStatus error: %v", err)
	}

	all := store.List(0, "")
	if len(all) != 3 || all[0].ID != "c" || all[2].ID != "a" {
		t.Fatalf("expected newest first, got %v", ids(all))
	}
	if got := store.List(2, ""); len(got) != 2 {
		t.Fatalf("expected limit 2, got %d", len(got))
	}
	running := store.List(10, StatusRunning)
	if len(running) != 1 || running[0].ID != "b" {
		t.Fatalf("expected only b running, got %v", ids(running))
	}
}

func TestRunStoreTrialsAndSnapshots(t *testing.T) {
	store := NewRunStore()
	if _, err := store.Create("s", "", "", 3); err != nil {
		t.Fatalf("Create error: %v", err)
	}
	for i, tr := range []search.Trial{
		{Iteration: 0, Cost: 4, Promoted: true},
		{Iteration: 1, Cost: 6},
		{Iteration: 2, Cost: 1, Promoted: true},
	} {
		if err := store.AppendTrial("s", tr); err != nil {
			t.Fatalf("AppendTrial %d error: %v", i, err)
		}
	}

	rec, _ := store.Get("s")
	if len(rec.Trials) != 3 || rec.Promotions != 2 || rec.BestCost != 1 {
		t.Fatalf("unexpected record %+v", rec)
	}

	// snapshots are independent of the store
	rec.Trials[0].Cost = 99
	again, _ := store.Get("s")
	if again.Trials[0].Cost != 4 {
		t.Fatalf("snapshot mutation leaked into store")
	}

	inc := space.NewConfiguration(map[string]any{"algo": "KL"})
	if err := store.SetResult("s", &search.Result{BestCost: 0.5, FinalCost: 0.7, Promotions: 3, Incumbent: inc}); err != nil {
		t.Fatalf("SetResult error: %v", err)
	}
	rec, _ = store.Get("s")
	if rec.BestCost != 0.5 || rec.FinalCost != 0.7 || rec.Incumbent != inc.Key() {
		t.Fatalf("result not stored: %+v", rec)
	}

	if err := store.AppendTrial("nope", search.Trial{}); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestParseStatus(t *testing.T) {
	if ParseStatus(" running ") != StatusRunning {
		t.Fatalf("expected RUNNING")
	}
	if ParseStatus("done") != "" {
		t.Fatalf("expected unknown status")
	}
	if !StatusCancelled.Terminal() || StatusPending.Terminal() {
		t.Fatalf("unexpected terminal classification")
	}
}

func ids(recs []*RunRecord) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	return out
}
