// Package mirror exports sanitized identity snapshots to an external store.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/vonjiaina/pharmauth/internal/dbx"
	"github.com/vonjiaina/pharmauth/internal/logging"
	"github.com/vonjiaina/pharmauth/internal/server/models"
	"github.com/vonjiaina/pharmauth/internal/server/repositories/repomanager"
)

// BatchSize is the number of snapshots handed to the sink at once.
const BatchSize = 500

// SnapshotSink receives one batch of snapshots. run is the start time of
// the sync and is the same for every batch of a run.
type SnapshotSink interface {
	WriteBatch(ctx context.Context, run time.Time, batch int, snapshots []models.IdentitySnapshot) error
}

// Counter is satisfied by prometheus.Counter.
type Counter interface {
	Add(float64)
}

type Mirror struct {
	store     dbx.Transactor
	repos     repomanager.RepositoryManager
	sink      SnapshotSink
	synced    Counter
	batchSize int
	now       func() time.Time
}

func New(store dbx.Transactor, repos repomanager.RepositoryManager, sink SnapshotSink, synced Counter) *Mirror {
	return &Mirror{store: store, repos: repos, sink: sink, synced: synced, batchSize: BatchSize, now: time.Now}
}

// SyncIdentities exports every identity created at or after since (all of
// them when since is nil) and returns how many were written.
func (m *Mirror) SyncIdentities(ctx context.Context, since *time.Time) (int, error) {
	run := m.now().UTC()
	repo := m.repos.Identities(m.store.Conn())

	total := 0
	for batch := 0; ; batch++ {
		page, err := repo.ListSince(ctx, since, batch*m.batchSize, m.batchSize)
		if err != nil {
			return total, fmt.Errorf("error listing identities: %w", err)
		}
		if len(page) == 0 {
			return total, nil
		}

		snaps := make([]models.IdentitySnapshot, 0, len(page))
		for _, identity := range page {
			snaps = append(snaps, identity.Snapshot())
		}
		if err := m.sink.WriteBatch(ctx, run, batch, snaps); err != nil {
			return total, fmt.Errorf("error writing batch %d: %w", batch, err)
		}
		total += len(snaps)
		if m.synced != nil {
			m.synced.Add(float64(len(snaps)))
		}
		if len(page) < m.batchSize {
			return total, nil
		}
	}
}

// LogSink only logs batch sizes; used when no bucket is configured.
type LogSink struct {
	log logging.Logger
}

func NewLogSink(log logging.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) WriteBatch(ctx context.Context, run time.Time, batch int, snapshots []models.IdentitySnapshot) error {
	s.log.Info(ctx, "identity snapshot batch", "run", run.Format(time.RFC3339), "batch", batch, "count", len(snapshots))
	return nil
}
