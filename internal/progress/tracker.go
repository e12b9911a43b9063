package progress

import (
	"errors"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/perfstack/perf-sentinel/internal/utils"
)

// Status is the lifecycle state of an analysis job.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// rehydrateWindow bounds how old a persisted job may be and still be loaded
// on startup.
const rehydrateWindow = time.Hour

// Snapshot is the externally visible, JSON-serializable view of a job.
type Snapshot struct {
	JobID              string         `json:"job_id"`
	Status             Status         `json:"status"`
	CurrentBatch       int            `json:"current_batch"`
	TotalBatches       int            `json:"total_batches"`
	ProgressPercentage float64        `json:"progress_percentage"`
	CurrentModel       string         `json:"current_model,omitempty"`
	ElapsedTime        float64        `json:"elapsed_time"`
	EstimatedRemaining *float64       `json:"estimated_remaining,omitempty"`
	ErrorMessage       string         `json:"error_message,omitempty"`
	Details            map[string]any `json:"details,omitempty"`
	StartTime          time.Time      `json:"start_time"`
	EndTime            *time.Time     `json:"end_time,omitempty"`
}

// clone deep-copies the snapshot, including Details, so callers can hold it
// outside the tracker lock while later updates merge into the live map.
func (s *Snapshot) clone() Snapshot {
	out := *s
	if s.Details != nil {
		out.Details = make(map[string]any, len(s.Details))
		for k, v := range s.Details {
			out.Details[k] = v
		}
	}
	return out
}

// Update carries partial job changes; nil fields are left untouched.
type Update struct {
	Status       *Status
	CurrentBatch *int
	TotalBatches *int
	CurrentModel *string
	ErrorMessage *string
	Details      map[string]any
}

// Callback observes every job mutation. Panics inside a callback are
// swallowed so a misbehaving observer cannot fail an analysis run.
type Callback func(Snapshot)

// Tracker is a mutex-guarded registry of analysis jobs with best-effort
// persistence. All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	jobs      map[string]*Snapshot
	callbacks []Callback
	path      string
	logger    *slog.Logger
	now       func() time.Time
}

// NewTracker builds a tracker persisting to path (empty disables persistence)
// and rehydrates recent jobs from a previous process.
func NewTracker(path string, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		jobs:   make(map[string]*Snapshot),
		path:   path,
		logger: logger,
		now:    time.Now,
	}
	t.rehydrate()
	return t
}

func (t *Tracker) rehydrate() {
	if t.path == "" {
		return
	}
	var persisted []Snapshot
	if err := utils.ReadJSON(t.path, &persisted); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			t.logger.Warn("could not rehydrate progress state", "path", t.path, "error", err)
		}
		return
	}
	cutoff := t.now().Add(-rehydrateWindow)
	for i := range persisted {
		s := persisted[i]
		if s.StartTime.Before(cutoff) {
			continue
		}
		t.jobs[s.JobID] = &s
	}
	if len(t.jobs) > 0 {
		t.logger.Info("rehydrated progress state", "jobs", len(t.jobs))
	}
}

// CreateJob registers a new pending job. Creating an existing job ID resets it.
func (t *Tracker) CreateJob(jobID string, totalBatches int) Snapshot {
	t.mu.Lock()
	s := &Snapshot{
		JobID:        jobID,
		Status:       StatusPending,
		TotalBatches: totalBatches,
		StartTime:    t.now().UTC(),
	}
	t.jobs[jobID] = s
	snap := t.finalize(s)
	t.mu.Unlock()

	t.notify(snap)
	return snap
}

// UpdateProgress applies a partial update to an existing job. Unknown job IDs
// are ignored with a warning; an analysis run must not fail over bookkeeping.
func (t *Tracker) UpdateProgress(jobID string, u Update) {
	t.mu.Lock()
	s, ok := t.jobs[jobID]
	if !ok {
		t.mu.Unlock()
		t.logger.Warn("progress update for unknown job", "job_id", jobID)
		return
	}
	if u.Status != nil {
		s.Status = *u.Status
		if *u.Status == StatusCompleted || *u.Status == StatusFailed {
			now := t.now().UTC()
			s.EndTime = &now
		}
	}
	if u.CurrentBatch != nil {
		s.CurrentBatch = *u.CurrentBatch
	}
	if u.TotalBatches != nil {
		s.TotalBatches = *u.TotalBatches
	}
	if u.CurrentModel != nil {
		s.CurrentModel = *u.CurrentModel
	}
	if u.ErrorMessage != nil {
		s.ErrorMessage = *u.ErrorMessage
	}
	if u.Details != nil {
		if s.Details == nil {
			s.Details = make(map[string]any, len(u.Details))
		}
		for k, v := range u.Details {
			s.Details[k] = v
		}
	}
	snap := t.finalize(s)
	t.mu.Unlock()

	t.notify(snap)
}

// finalize recomputes the derived fields and persists. Caller holds the lock.
func (t *Tracker) finalize(s *Snapshot) Snapshot {
	end := t.now()
	if s.EndTime != nil {
		end = *s.EndTime
	}
	s.ElapsedTime = end.Sub(s.StartTime).Seconds()

	if s.TotalBatches > 0 {
		s.ProgressPercentage = float64(s.CurrentBatch) / float64(s.TotalBatches) * 100
	} else {
		s.ProgressPercentage = 0
	}

	s.EstimatedRemaining = nil
	if s.Status == StatusRunning && s.CurrentBatch > 0 && s.CurrentBatch < s.TotalBatches {
		perBatch := s.ElapsedTime / float64(s.CurrentBatch)
		eta := perBatch * float64(s.TotalBatches-s.CurrentBatch)
		s.EstimatedRemaining = &eta
	}

	t.persistLocked()
	return s.clone()
}

// persistLocked writes the full registry to disk. Failures are logged and
// otherwise ignored. Caller holds the lock.
func (t *Tracker) persistLocked() {
	if t.path == "" {
		return
	}
	all := make([]Snapshot, 0, len(t.jobs))
	for _, s := range t.jobs {
		all = append(all, *s)
	}
	if err := utils.WriteJSON(t.path, all); err != nil {
		t.logger.Warn("could not persist progress state", "path", t.path, "error", err)
	}
}

func (t *Tracker) notify(snap Snapshot) {
	t.mu.Lock()
	cbs := make([]Callback, len(t.callbacks))
	copy(cbs, t.callbacks)
	t.mu.Unlock()

	for _, cb := range cbs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Warn("progress callback panicked", "job_id", snap.JobID, "panic", r)
				}
			}()
			cb(snap)
		}()
	}
}

// GetProgress returns the snapshot for a job, or false when unknown.
func (t *Tracker) GetProgress(jobID string) (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.jobs[jobID]
	if !ok {
		return Snapshot{}, false
	}
	return s.clone(), true
}

// AllProgress returns snapshots of every tracked job.
func (t *Tracker) AllProgress() []Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Snapshot, 0, len(t.jobs))
	for _, s := range t.jobs {
		out = append(out, s.clone())
	}
	return out
}

// RegisterCallback subscribes an observer to all subsequent job mutations.
func (t *Tracker) RegisterCallback(cb Callback) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.callbacks = append(t.callbacks, cb)
}

// CleanupOld drops terminal jobs older than maxAge and reports how many were
// removed.
func (t *Tracker) CleanupOld(maxAge time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-maxAge)
	removed := 0
	for id, s := range t.jobs {
		if s.Status != StatusCompleted && s.Status != StatusFailed {
			continue
		}
		if s.EndTime != nil && s.EndTime.Before(cutoff) {
			delete(t.jobs, id)
			removed++
		}
	}
	if removed > 0 {
		t.persistLocked()
	}
	return removed
}
