// Package searchd runs submitted quantization searches behind HTTP and gRPC APIs.
package searchd

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/quant-hpo/internal/search"
	"github.com/GoSim-25-26J-441/quant-hpo/pkg/utils"
)

var (
	ErrRunNotFound  = errors.New("search not found")
	ErrRunTerminal  = errors.New("search is terminal")
	ErrRunExists    = errors.New("search already exists")
	ErrRunIDMissing = errors.New("search id is required")
)

// Status is the lifecycle state of a submitted search
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
	StatusCancelled Status = "CANCELLED"
)

// Terminal reports whether no further transitions are possible
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// ParseStatus maps a case-insensitive name onto a Status; unknown names give "".
func ParseStatus(name string) Status {
	switch s := Status(strings.ToUpper(strings.TrimSpace(name))); s {
	case StatusPending, StatusRunning, StatusCompleted, StatusFailed, StatusCancelled:
		return s
	}
	return ""
}

// RunRecord is one submitted search
type RunRecord struct {
	ID                string
	Status            Status
	ConfigYAML        string
	Budget            int
	OutputPath        string
	Trials            []search.Trial
	BestCost          float64
	FinalCost         float64
	Promotions        int
	Incumbent         string
	ConvergenceReason string
	Error             string
	CreatedAtUnixMs   int64
	StartedAtUnixMs   int64
	EndedAtUnixMs     int64
}

func (r *RunRecord) clone() *RunRecord {
	c := *r
	c.Trials = append([]search.Trial(nil), r.Trials...)
	return &c
}

// RunStore keeps submitted searches in memory
type RunStore struct {
	mu   sync.RWMutex
	runs map[string]*RunRecord
}

func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string]*RunRecord),
	}
}

func nowUnixMs() int64 {
	return time.Now().UTC().UnixMilli()
}

// Create registers a pending search. An empty id is generated.
func (s *RunStore) Create(id, configYAML, outputPath string, budget int) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = utils.GenerateSearchID()
	}
	if _, exists := s.runs[id]; exists {
		return nil, fmt.Errorf("%w: %s", ErrRunExists, id)
	}

	rec := &RunRecord{
		ID:              id,
		Status:          StatusPending,
		ConfigYAML:      configYAML,
		Budget:          budget,
		OutputPath:      outputPath,
		BestCost:        math.Inf(1),
		FinalCost:       math.Inf(1),
		CreatedAtUnixMs: nowUnixMs(),
	}
	s.runs[id] = rec
	return rec.clone(), nil
}

// Get returns a snapshot of the search
func (s *RunStore) Get(id string) (*RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.runs[id]
	if !ok {
		return nil, false
	}
	return rec.clone(), true
}

// List returns up to limit searches, newest first, optionally filtered by status
func (s *RunStore) List(limit int, status Status) []*RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	out := make([]*RunRecord, 0, min(limit, len(s.runs)))
	for _, rec := range s.runs {
		if status != "" && rec.Status != status {
			continue
		}
		out = append(out, rec.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAtUnixMs != out[j].CreatedAtUnixMs {
			return out[i].CreatedAtUnixMs > out[j].CreatedAtUnixMs
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SetStatus moves a search to status. Terminal searches cannot change.
func (s *RunStore) SetStatus(id string, status Status, errMsg string) (*RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if rec.Status.Terminal() {
		return nil, fmt.Errorf("%w: %s is %s", ErrRunTerminal, id, rec.Status)
	}

	rec.Status = status
	if errMsg != "" {
		rec.Error = errMsg
	}

	switch {
	case status == StatusRunning:
		if rec.StartedAtUnixMs == 0 {
			rec.StartedAtUnixMs = nowUnixMs()
		}
	case status.Terminal():
		rec.EndedAtUnixMs = nowUnixMs()
	}
	return rec.clone(), nil
}

// AppendTrial records a finished trial and tracks the best cost seen
func (s *RunStore) AppendTrial(id string, t search.Trial) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	rec.Trials = append(rec.Trials, t)
	if t.Promoted {
		rec.Promotions++
		rec.BestCost = t.Cost
	}
	return nil
}

// SetResult stores the summary of a finished search
func (s *RunStore) SetResult(id string, res *search.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.runs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	rec.BestCost = res.BestCost
	rec.FinalCost = res.FinalCost
	rec.Promotions = res.Promotions
	rec.Incumbent = res.Incumbent.Key()
	rec.ConvergenceReason = res.ConvergenceReason
	return nil
}
