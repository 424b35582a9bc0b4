package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// NotificationPruner deletes read notifications last touched before a cutoff.
type NotificationPruner interface {
	DeleteReadBefore(ctx context.Context, before time.Time) (int64, error)
}

type PruneRecorder interface {
	RecordNotificationsPruned(n int64)
}

const cleanupTimeout = 30 * time.Second

// CleanupJob periodically prunes read notifications older than the retention
// period. Unread notifications are never touched.
type CleanupJob struct {
	notifRepo NotificationPruner
	recorder  PruneRecorder
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewCleanupJob returns a job that prunes every interval. recorder may be nil.
func NewCleanupJob(notifRepo NotificationPruner, recorder PruneRecorder, retention, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		notifRepo: notifRepo,
		recorder:  recorder,
		retention: retention,
		interval:  interval,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// Start launches the job. A zero retention disables pruning entirely.
func (j *CleanupJob) Start() {
	if j.retention <= 0 {
		log.Info().Msg("notification retention disabled, cleanup job not started")
		return
	}
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Dur("retention", j.retention).Msg("cleanup job started")
}

// Stop is safe to call more than once and waits for an in-flight run.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() {
		close(j.done)
		j.wg.Wait()
		log.Info().Msg("cleanup job stopped")
	})
}

func (j *CleanupJob) run() {
	defer j.wg.Done()

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	cutoff := j.now().Add(-j.retention)
	count, err := j.notifRepo.DeleteReadBefore(ctx, cutoff)
	if err != nil {
		log.Error().Err(err).Msg("failed to prune read notifications")
		return
	}
	if count > 0 {
		log.Info().Int64("count", count).Time("cutoff", cutoff).Msg("pruned read notifications")
		if j.recorder != nil {
			j.recorder.RecordNotificationsPruned(count)
		}
	}
}
