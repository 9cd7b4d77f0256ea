package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/e2eforge/forge/pkg/model"
)

// orphanState tracks orphan-detection metrics (thread-safe).
type orphanState struct {
	mu               sync.Mutex
	lastOrphanScan   time.Time
	orphansRecovered int
}

// runOrphanDetection periodically scans for tasks whose heartbeat has
// gone stale (the owning pod crashed or was killed mid-pipeline).
func (p *Pool) runOrphanDetection(ctx context.Context) {
	interval := p.cfg.OrphanDetectionInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			if err := p.detectAndRecoverOrphans(ctx); err != nil {
				slog.Error("orphan detection failed", "error", err)
			}
		}
	}
}

// detectAndRecoverOrphans finds non-terminal Tasks with a stale
// heartbeat and marks them failed (spec §4.1: an abandoned Task is a
// terminal failure, not a silent requeue, since its in-flight worker
// state — generated source on disk, an open browser subprocess — is
// not safely resumable).
func (p *Pool) detectAndRecoverOrphans(ctx context.Context) error {
	threshold := time.Now().Add(-p.orphanThreshold())
	orphans, err := p.tasks.ListOrphans(ctx, threshold)
	if err != nil {
		return fmt.Errorf("query orphaned tasks: %w", err)
	}

	if len(orphans) == 0 {
		p.orphans.mu.Lock()
		p.orphans.lastOrphanScan = time.Now()
		p.orphans.mu.Unlock()
		return nil
	}

	slog.Warn("detected orphaned tasks", "count", len(orphans))

	recovered := 0
	for _, task := range orphans {
		reason := fmt.Sprintf("orphaned: no heartbeat from pod %s since %s", task.OwnerPod, heartbeatString(task))
		if err := p.tasks.MarkFailed(ctx, task.ID, reason); err != nil {
			slog.Error("failed to recover orphaned task", "task_id", task.ID, "error", err)
			continue
		}
		recovered++
	}

	p.orphans.mu.Lock()
	p.orphans.lastOrphanScan = time.Now()
	p.orphans.orphansRecovered += recovered
	p.orphans.mu.Unlock()

	return nil
}

func heartbeatString(task *model.Task) string {
	if task.LastHeartbeatAt == nil {
		return "unknown"
	}
	return task.LastHeartbeatAt.Format(time.RFC3339)
}

func (p *Pool) orphanThreshold() time.Duration {
	if p.cfg.OrphanThreshold > 0 {
		return p.cfg.OrphanThreshold
	}
	return 2 * time.Minute
}

// CleanupStartupOrphans performs a one-time sweep of Tasks this pod
// owned when it last exited uncleanly, marking them failed before the
// pool begins claiming new work.
func CleanupStartupOrphans(ctx context.Context, store TaskStore, podID string) error {
	threshold := time.Now().Add(time.Hour) // any heartbeat predates "now + 1h"; sweeps unconditionally on startup
	orphans, err := store.ListOrphans(ctx, threshold)
	if err != nil {
		return fmt.Errorf("query startup orphans: %w", err)
	}

	owned := orphans[:0]
	for _, t := range orphans {
		if t.OwnerPod == podID {
			owned = append(owned, t)
		}
	}
	if len(owned) == 0 {
		return nil
	}

	slog.Warn("found startup orphans from previous run", "pod_id", podID, "count", len(owned))
	for _, t := range owned {
		if err := store.MarkFailed(ctx, t.ID, fmt.Sprintf("orphaned: pod %s restarted while task was running", podID)); err != nil {
			slog.Error("failed to mark startup orphan", "task_id", t.ID, "error", err)
			continue
		}
		slog.Info("startup orphan recovered", "task_id", t.ID)
	}
	return nil
}
