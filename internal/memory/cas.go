package memory

import (
	"context"
	"errors"
	"fmt"

	"github.com/rcliao/persona-memory/internal/metrics"
	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

// updateFragment reads the current fragment, lets mutate change it and
// writes it back with a version check. On a conflict the read-modify-write
// is repeated, up to attempts times. mutate returns false when nothing
// needs writing.
func updateFragment(ctx context.Context, st store.Store, id string, attempts int, m *metrics.Metrics,
	mutate func(f *model.Fragment) bool) (*model.Fragment, bool, error) {

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		f, err := st.Get(ctx, id)
		if err != nil {
			return nil, false, err
		}
		if !mutate(f) {
			return f, false, nil
		}
		err = st.Upsert(ctx, f)
		if err == nil {
			return f, true, nil
		}
		if !errors.Is(err, model.ErrVersionConflict) {
			return nil, false, err
		}
		m.RecordConflictRetry()
		lastErr = err
	}
	return nil, false, fmt.Errorf("update %s after %d attempts: %w", id, attempts, lastErr)
}
