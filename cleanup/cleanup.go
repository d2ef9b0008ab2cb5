// Package cleanup frees disk space by pruning the derived HLS/DASH artifacts
// of the oldest completed jobs. The progressive output is never deleted;
// pruned ladders are regenerated lazily on the next delivery request.
package cleanup

import (
	"sort"

	"github.com/google/uuid"
	"github.com/lightcast/ingest-api/jobstore"
	"github.com/lightcast/ingest-api/log"
	"github.com/lightcast/ingest-api/metrics"
	"github.com/lightcast/ingest-api/storage"
	"github.com/shirou/gopsutil/v3/disk"
)

type Config struct {
	MinFreeBytes uint64
	MinFreeRatio float64
	MaxBatch     int
}

// DiskUsageFunc reports free and total bytes for a path. Swapped out in
// tests.
type DiskUsageFunc func(path string) (free, total uint64, err error)

func GopsutilDiskUsage(path string) (uint64, uint64, error) {
	usage, err := disk.Usage(path)
	if err != nil {
		return 0, 0, err
	}
	return usage.Free, usage.Total, nil
}

type Engine struct {
	cfg       Config
	store     jobstore.Store
	storage   *storage.Storage
	diskUsage DiskUsageFunc
}

func NewEngine(cfg Config, store jobstore.Store, st *storage.Storage) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		storage:   st,
		diskUsage: GopsutilDiskUsage,
	}
}

// WithDiskUsage swaps the disk probe, for tests.
func (e *Engine) WithDiskUsage(fn DiskUsageFunc) *Engine {
	e.diskUsage = fn
	return e
}

// EnsureFreeSpace runs at the start of every pipeline. It prunes derived
// artifacts of terminal jobs, oldest last_update first, re-checking the disk
// after each prune, until the thresholds are satisfied or MaxBatch jobs have
// been pruned. Concurrent invocations are not serialized: a repeated delete
// of a missing directory is a no-op.
func (e *Engine) EnsureFreeSpace(jobID string) error {
	ok, err := e.diskSatisfied()
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	snapshots := e.store.List()
	active := map[string]bool{}
	var candidates []jobstore.Snapshot
	for _, snap := range snapshots {
		if snap.Stage.Terminal() {
			candidates = append(candidates, snap)
		} else {
			active[snap.ID] = true
		}
	}
	if len(candidates) == 0 {
		log.Log(jobID, "disk space low but no prunable jobs found")
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].LastUpdateUnixMs < candidates[j].LastUpdateUnixMs
	})

	pruned := 0
	for _, candidate := range candidates {
		if active[candidate.ID] {
			continue
		}
		id, err := uuid.Parse(candidate.ID)
		if err != nil {
			continue
		}
		didPrune, err := e.storage.PruneDerived(id)
		if err != nil {
			return err
		}
		if !didPrune {
			continue
		}
		pruned++
		metrics.Metrics.CleanupPrunedJobsTotal.Inc()
		log.Log(jobID, "pruned derived artifacts", "pruned_job", candidate.ID, "batch_count", pruned)

		ok, err := e.diskSatisfied()
		if err != nil {
			return err
		}
		if ok || pruned >= e.cfg.MaxBatch {
			break
		}
	}
	return nil
}

func (e *Engine) diskSatisfied() (bool, error) {
	free, total, err := e.diskUsage(e.storage.Root)
	if err != nil {
		return false, err
	}
	metrics.Metrics.CleanupFreedCheckTotal.Inc()
	if total == 0 {
		return false, nil
	}
	freeRatio := float64(free) / float64(total)
	return free >= e.cfg.MinFreeBytes && freeRatio >= e.cfg.MinFreeRatio, nil
}
