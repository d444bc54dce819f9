package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

// Reconstructor rebuilds the conversation around a fragment from its
// temporal neighbours.
type Reconstructor struct {
	store  store.Store
	opts   Options
	log    zerolog.Logger
	access *accessRecorder
}

func NewReconstructor(st store.Store, opts Options, log zerolog.Logger, access *accessRecorder) *Reconstructor {
	opts = opts.withDefaults()
	if access == nil {
		access = newAccessRecorder(st, log, nil, opts.Now)
	}
	return &Reconstructor{store: st, opts: opts, log: log, access: access}
}

// Reconstruct returns every fragment of the center's persona within window
// of the center's timestamp, oldest first, the center included. A window
// of zero or less uses the configured default.
func (r *Reconstructor) Reconstruct(ctx context.Context, centerID string, window time.Duration) ([]model.Fragment, error) {
	if window <= 0 {
		window = r.opts.ContextWindow
	}

	center, err := r.store.Get(ctx, centerID)
	if err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	frags, err := r.store.RangeByTime(ctx, center.PersonaID, center.Timestamp.Add(-window), center.Timestamp.Add(window))
	if err != nil {
		return nil, fmt.Errorf("reconstruct: %w", err)
	}

	ids := make([]string, len(frags))
	for i, f := range frags {
		ids[i] = f.ID
	}
	r.access.record(ids)

	r.log.Debug().
		Str("persona_id", center.PersonaID).
		Str("fragment_id", centerID).
		Dur("window", window).
		Int("fragments", len(frags)).
		Msg("context reconstructed")
	return frags, nil
}
