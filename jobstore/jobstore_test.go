package jobstore

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func fixedClockStore(t *testing.T) (*LocalStore, *time.Time) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	store := NewLocalStore()
	store.now = func() time.Time { return now }
	return store, &now
}

func TestProgressAggregation(t *testing.T) {
	store, _ := fixedClockStore(t)
	id := uuid.New()

	store.Create(id)
	store.SetPlan(id, []Stage{StageDownloading, StageTranscoding})
	store.UpdateStage(id, StageDownloading)
	store.UpdateProgress(id, 0.42)

	snap, ok := store.Status(id)
	require.True(t, ok)
	require.Equal(t, StageDownloading, snap.Stage)
	require.InDelta(t, 0.42, snap.StageProgress, 1e-9)
	require.InDelta(t, 0.21, snap.Progress, 1e-9)
	require.NotNil(t, snap.CurrentStageIndex)
	require.Equal(t, 1, *snap.CurrentStageIndex)
	require.Equal(t, 2, snap.TotalStages)

	store.UpdateStage(id, StageTranscoding)
	snap, _ = store.Status(id)
	require.Equal(t, float64(0), snap.StageProgress, "stage change resets stage progress")
	require.InDelta(t, 0.5, snap.Progress, 1e-9)
	require.Equal(t, 2, *snap.CurrentStageIndex)
}

func TestProgressIsClamped(t *testing.T) {
	store, _ := fixedClockStore(t)
	id := uuid.New()
	store.Create(id)
	store.SetPlan(id, []Stage{StageTranscoding})
	store.UpdateStage(id, StageTranscoding)

	store.UpdateProgress(id, 1.7)
	snap, _ := store.Status(id)
	require.Equal(t, float64(1), snap.StageProgress)

	store.UpdateProgress(id, -0.5)
	snap, _ = store.Status(id)
	require.Equal(t, float64(0), snap.StageProgress)

	// idempotence: repeating an update leaves observable state unchanged
	store.UpdateProgress(id, 0.3)
	first, _ := store.Status(id)
	store.UpdateProgress(id, 0.3)
	second, _ := store.Status(id)
	require.Equal(t, first, second)
}

func TestCompleteAndFailed(t *testing.T) {
	store, _ := fixedClockStore(t)
	id := uuid.New()
	store.Create(id)
	store.SetPlan(id, []Stage{StageDownloading, StageTranscoding})
	store.UpdateStage(id, StageDownloading)
	store.UpdateProgress(id, 0.5)

	store.Complete(id)
	snap, _ := store.Status(id)
	require.Equal(t, StageComplete, snap.Stage)
	require.Equal(t, float64(1), snap.Progress)
	require.Equal(t, float64(1), snap.StageProgress)
	require.NotNil(t, snap.EstimatedRemainingSeconds)
	require.Equal(t, float64(0), *snap.EstimatedRemainingSeconds)

	id2 := uuid.New()
	store.Create(id2)
	store.SetPlan(id2, []Stage{StageDownloading, StageTranscoding})
	store.UpdateStage(id2, StageDownloading)
	store.UpdateProgress(id2, 0.42)
	store.Fail(id2, "ffmpeg exited with status 1")

	snap, _ = store.Status(id2)
	require.Equal(t, StageFailed, snap.Stage)
	require.Equal(t, "ffmpeg exited with status 1", snap.Error)
	require.InDelta(t, 0.21, snap.Progress, 1e-9, "failed job retains the last computed overall progress")
	require.Nil(t, snap.EstimatedRemainingSeconds)
}

func TestUnknownIDIsNoOp(t *testing.T) {
	store, _ := fixedClockStore(t)
	missing := uuid.New()

	store.UpdateProgress(missing, 0.5)
	store.UpdateStage(missing, StageTranscoding)
	store.Fail(missing, "nope")
	store.Complete(missing)

	_, ok := store.Status(missing)
	require.False(t, ok)
	require.Empty(t, store.List())
}

func TestETAHeuristic(t *testing.T) {
	store, now := fixedClockStore(t)
	id := uuid.New()
	store.Create(id)
	store.SetPlan(id, []Stage{StageTranscoding})
	store.UpdateStage(id, StageTranscoding)

	// barely started: pessimistic floor of 45 minutes
	store.UpdateProgress(id, 0.01)
	*now = now.Add(10 * time.Second)
	snap, _ := store.Status(id)
	require.NotNil(t, snap.EstimatedRemainingSeconds)
	require.Equal(t, float64(45*60), *snap.EstimatedRemainingSeconds)

	// halfway after 100s: 100s remaining
	store.UpdateProgress(id, 0.5)
	*now = now.Add(90 * time.Second)
	snap, _ = store.Status(id)
	require.InDelta(t, 100, *snap.EstimatedRemainingSeconds, 1e-6)

	// externally supplied ETA wins over the heuristic
	eta := 33.0
	store.UpdateStageETA(id, &eta)
	snap, _ = store.Status(id)
	require.Equal(t, 33.0, *snap.EstimatedRemainingSeconds)

	// nil clears back to the heuristic
	store.UpdateStageETA(id, nil)
	snap, _ = store.Status(id)
	require.NotEqual(t, 33.0, *snap.EstimatedRemainingSeconds)
}

func TestETABaselineAppliesWhileQueued(t *testing.T) {
	store, _ := fixedClockStore(t)
	id := uuid.New()
	store.Create(id)
	store.SetPlan(id, []Stage{StageDownloading, StageTranscoding})

	// a job that has not started its first stage still reports the
	// pessimistic baseline, not "no estimate"
	snap, _ := store.Status(id)
	require.Equal(t, StageQueued, snap.Stage)
	require.NotNil(t, snap.EstimatedRemainingSeconds)
	require.Equal(t, float64(45*60), *snap.EstimatedRemainingSeconds)
}

func TestStageOutsidePlanHeuristics(t *testing.T) {
	store, _ := fixedClockStore(t)
	id := uuid.New()
	store.Create(id)
	store.SetPlan(id, []Stage{StageDownloading, StageTranscoding})

	snap, _ := store.Status(id)
	require.Equal(t, float64(0), snap.Progress, "queued is zero overall")
	require.Nil(t, snap.CurrentStageIndex)

	// finalizing is not part of the plan; weighted as the tail of the last stage
	store.UpdateStage(id, StageFinalizing)
	store.UpdateProgress(id, 0.5)
	snap, _ = store.Status(id)
	require.InDelta(t, 0.75, snap.Progress, 1e-9)

	// an acquisition stage outside the plan scales by plan length
	id2 := uuid.New()
	store.Create(id2)
	store.SetPlan(id2, []Stage{StageDownloading, StageTranscoding})
	store.UpdateStage(id2, StageUploading)
	store.UpdateProgress(id2, 0.6)
	snap, _ = store.Status(id2)
	require.InDelta(t, 0.3, snap.Progress, 1e-9)
}

func TestActiveCount(t *testing.T) {
	store, _ := fixedClockStore(t)
	a, b, c := uuid.New(), uuid.New(), uuid.New()
	store.Create(a)
	store.Create(b)
	store.Create(c)
	require.Equal(t, 3, store.ActiveCount())

	store.Complete(a)
	store.Fail(b, "boom")
	require.Equal(t, 1, store.ActiveCount())
}
