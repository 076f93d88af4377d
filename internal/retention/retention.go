// Package retention bounds storage growth by deleting samples older than a
// configured horizon.
package retention

import (
	"time"

	"github.com/vietrtk/corsmon/internal/log"
	"github.com/vietrtk/corsmon/internal/metrics"
)

// Store is the slice of the sample store the retention job prunes.
type Store interface {
	DeleteSamplesOlderThan(cutoff time.Time) (int64, error)
}

// Job deletes rows older than now - horizon. Idempotent: a second run with
// nothing new qualifying deletes zero rows and does not error.
type Job struct {
	store   Store
	horizon time.Duration
	now     func() time.Time
}

// New creates a retention Job.
func New(store Store, horizon time.Duration) *Job {
	return &Job{
		store:   store,
		horizon: horizon,
		now:     time.Now,
	}
}

// Purge deletes everything older than the horizon and returns how many
// sample rows went away.
func (j *Job) Purge() (int64, error) {
	cutoff := j.now().Add(-j.horizon)
	deleted, err := j.store.DeleteSamplesOlderThan(cutoff)
	if err != nil {
		return 0, err
	}
	metrics.AddRowsPurged(deleted)
	if deleted > 0 {
		log.Infof("retention purged %d samples older than %s", deleted, cutoff.UTC().Format(time.RFC3339))
	}
	return deleted, nil
}
