// Package jobstore tracks the lifecycle of ingest jobs in memory. Records
// are mutated only by the pipeline driver until they reach a terminal stage,
// after which they are read-only.
package jobstore

import (
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Stage string

const (
	StageQueued      Stage = "queued"
	StageUploading   Stage = "uploading"
	StageDownloading Stage = "downloading"
	StageTranscoding Stage = "transcoding"
	StageFinalizing  Stage = "finalizing"
	StageComplete    Stage = "complete"
	StageFailed      Stage = "failed"
)

func (s Stage) Terminal() bool {
	return s == StageComplete || s == StageFailed
}

// Snapshot is the client-visible view of a job. Overall progress and the ETA
// are derived at snapshot time, never stored.
type Snapshot struct {
	ID                        string   `json:"id"`
	Stage                     Stage    `json:"stage"`
	Progress                  float64  `json:"progress"`
	StageProgress             float64  `json:"stage_progress"`
	CurrentStageIndex         *int     `json:"current_stage_index,omitempty"`
	TotalStages               int      `json:"total_stages"`
	ElapsedSeconds            float64  `json:"elapsed_seconds"`
	EstimatedRemainingSeconds *float64 `json:"estimated_remaining_seconds,omitempty"`
	Error                     string   `json:"error,omitempty"`
	StartedAtUnixMs           int64    `json:"started_at_unix_ms"`
	LastUpdateUnixMs          int64    `json:"last_update_unix_ms"`
}

// Store is the narrow operation set the pipeline driver and the HTTP layer
// depend on. The in-memory LocalStore is the only implementation today, but
// the boundary is kept crisp to allow future persistence.
type Store interface {
	Create(id uuid.UUID)
	SetPlan(id uuid.UUID, plan []Stage)
	UpdateStage(id uuid.UUID, stage Stage)
	UpdateProgress(id uuid.UUID, progress float64)
	UpdateStageETA(id uuid.UUID, etaSeconds *float64)
	Fail(id uuid.UUID, msg string)
	Complete(id uuid.UUID)
	Status(id uuid.UUID) (Snapshot, bool)
	List() []Snapshot
	ActiveCount() int
}

type record struct {
	stage          Stage
	plan           []Stage
	stageProgress  float64
	stageETA       *float64
	startedAt      time.Time
	stageStartedAt time.Time
	lastUpdate     time.Time
	// overall progress frozen at the moment of failure
	frozenProgress float64
	errMsg         string
}

type LocalStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*record

	// swapped out in tests
	now func() time.Time
}

var _ Store = (*LocalStore)(nil)

func NewLocalStore() *LocalStore {
	return &LocalStore{
		jobs: make(map[uuid.UUID]*record),
		now:  time.Now,
	}
}

// Create inserts a fresh record in the queued stage. The caller guarantees
// id uniqueness (random 128-bit ids).
func (s *LocalStore) Create(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	s.jobs[id] = &record{
		stage:          StageQueued,
		startedAt:      now,
		stageStartedAt: now,
		lastUpdate:     now,
	}
}

// Mutations of unknown ids are no-ops, not errors.
func (s *LocalStore) SetPlan(id uuid.UUID, plan []Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}
	rec.plan = append([]Stage(nil), plan...)
	rec.lastUpdate = s.now()
}

func (s *LocalStore) UpdateStage(id uuid.UUID, stage Stage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}
	rec.stage = stage
	rec.stageProgress = 0
	rec.stageETA = nil
	now := s.now()
	rec.stageStartedAt = now
	rec.lastUpdate = now
}

func (s *LocalStore) UpdateProgress(id uuid.UUID, progress float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}
	rec.stageProgress = clamp01(progress)
	rec.lastUpdate = s.now()
}

func (s *LocalStore) UpdateStageETA(id uuid.UUID, etaSeconds *float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}
	if etaSeconds == nil {
		rec.stageETA = nil
	} else {
		eta := math.Max(0, *etaSeconds)
		rec.stageETA = &eta
	}
	rec.lastUpdate = s.now()
}

func (s *LocalStore) Fail(id uuid.UUID, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}
	now := s.now()
	rec.frozenProgress = s.overallLocked(rec, now)
	rec.stage = StageFailed
	rec.errMsg = msg
	rec.stageETA = nil
	rec.stageStartedAt = now
	rec.lastUpdate = now
}

func (s *LocalStore) Complete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return
	}
	rec.stage = StageComplete
	rec.stageProgress = 1
	zero := float64(0)
	rec.stageETA = &zero
	now := s.now()
	rec.stageStartedAt = now
	rec.lastUpdate = now
}

func (s *LocalStore) Status(id uuid.UUID) (Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.jobs[id]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshotLocked(id, rec), true
}

func (s *LocalStore) List() []Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Snapshot, 0, len(s.jobs))
	for id, rec := range s.jobs {
		out = append(out, s.snapshotLocked(id, rec))
	}
	return out
}

// ActiveCount reports the number of jobs not yet in a terminal stage.
func (s *LocalStore) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, rec := range s.jobs {
		if !rec.stage.Terminal() {
			count++
		}
	}
	return count
}

func (s *LocalStore) snapshotLocked(id uuid.UUID, rec *record) Snapshot {
	now := s.now()
	snap := Snapshot{
		ID:               id.String(),
		Stage:            rec.stage,
		Progress:         s.overallLocked(rec, now),
		StageProgress:    rec.stageProgress,
		TotalStages:      len(rec.plan),
		ElapsedSeconds:   now.Sub(rec.startedAt).Seconds(),
		Error:            rec.errMsg,
		StartedAtUnixMs:  rec.startedAt.UnixMilli(),
		LastUpdateUnixMs: rec.lastUpdate.UnixMilli(),
	}
	if idx := planIndex(rec.plan, rec.stage); idx >= 0 {
		oneBased := idx + 1
		snap.CurrentStageIndex = &oneBased
	}
	if eta := s.etaLocked(rec, now); eta != nil {
		snap.EstimatedRemainingSeconds = eta
	}
	return snap
}

// overallLocked derives overall progress from the stage plan. When the
// current stage sits outside the plan a stage-specific heuristic applies.
func (s *LocalStore) overallLocked(rec *record, now time.Time) float64 {
	switch rec.stage {
	case StageComplete:
		return 1
	case StageFailed:
		return rec.frozenProgress
	}
	n := len(rec.plan)
	if n == 0 {
		n = 1
	}
	if idx := planIndex(rec.plan, rec.stage); idx >= 0 {
		return clamp01((float64(idx) + rec.stageProgress) / float64(n))
	}
	switch rec.stage {
	case StageQueued:
		return 0
	case StageFinalizing:
		return clamp01((float64(n-1) + rec.stageProgress) / float64(n))
	default:
		return clamp01(rec.stageProgress / float64(n))
	}
}

// Rough ETA when the encoder telemetry has not supplied one: too early in a
// stage to extrapolate, assume a long encode; otherwise extrapolate linearly
// from the stage elapsed time.
func (s *LocalStore) etaLocked(rec *record, now time.Time) *float64 {
	if rec.stageETA != nil {
		eta := *rec.stageETA
		return &eta
	}
	switch rec.stage {
	case StageComplete:
		zero := float64(0)
		return &zero
	case StageFailed:
		return nil
	}
	elapsed := now.Sub(rec.stageStartedAt).Seconds()
	var eta float64
	if rec.stageProgress < 0.02 {
		eta = math.Max(45*60, elapsed*6)
	} else {
		eta = elapsed * (1 - rec.stageProgress) / rec.stageProgress
	}
	return &eta
}

func planIndex(plan []Stage, stage Stage) int {
	for i, s := range plan {
		if s == stage {
			return i
		}
	}
	return -1
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
