package ratelimit

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// Pruner deletes attempts recorded before a cutoff.
type Pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// PruneJob removes attempts older than the retention period. It implements cron.Job.
type PruneJob struct {
	store     Pruner
	retention time.Duration
	timeout   time.Duration
	now       func() time.Time
	log       logrus.FieldLogger
}

// NewPruneJob returns a job keeping retention worth of attempts. Retention shorter than any gate
// window would let blocked keys through early; callers pass at least the window.
func NewPruneJob(store Pruner, retention time.Duration, log logrus.FieldLogger) *PruneJob {
	return &PruneJob{store: store, retention: retention, timeout: time.Minute, now: time.Now, log: log}
}

// Run prunes once. Failures are logged; the next scheduled run retries.
func (j *PruneJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()
	cutoff := j.now().UTC().Add(-j.retention)
	n, err := j.store.Prune(ctx, cutoff)
	if err != nil {
		j.log.WithField("error", err.Error()).Error("ratelimit: prune failed")
		return
	}
	j.log.WithFields(logrus.Fields{"deleted": n, "before": cutoff.Format(time.RFC3339)}).Info("ratelimit: pruned attempts")
}
