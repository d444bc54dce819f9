package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/persona-memory/internal/metrics"
	"github.com/rcliao/persona-memory/internal/store"
)

// accessRecorder bumps access statistics off the read path. Failures are
// logged and dropped; a lost increment only nudges future importance.
type accessRecorder struct {
	store   store.Store
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
	wg      sync.WaitGroup
}

func newAccessRecorder(st store.Store, log zerolog.Logger, m *metrics.Metrics, now func() time.Time) *accessRecorder {
	return &accessRecorder{store: st, log: log, metrics: m, now: now}
}

func (a *accessRecorder) record(ids []string) {
	if len(ids) == 0 {
		return
	}
	at := a.now()
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.store.Touch(ctx, ids, at); err != nil {
			a.metrics.RecordAccessFailure()
			a.log.Warn().Err(err).Int("fragments", len(ids)).Msg("access update failed")
		}
	}()
}

// Wait blocks until all pending access updates have finished.
func (a *accessRecorder) Wait() {
	a.wg.Wait()
}
