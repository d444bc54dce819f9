package cli

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/persona-memory/internal/config"
	"github.com/rcliao/persona-memory/internal/logger"
	"github.com/rcliao/persona-memory/internal/memory"
	"github.com/rcliao/persona-memory/internal/model"
	"github.com/rcliao/persona-memory/internal/store"
)

func TestAppCloseDrainsThenClosesStore(t *testing.T) {
	lg, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)

	st := store.NewMemStore()
	svc, err := memory.NewService(st, nil, memory.DefaultOptions(), zerolog.Nop(), nil)
	require.NoError(t, err)

	a := &app{cfg: config.DefaultConfig(), log: lg, store: st, svc: svc}

	ctx := context.Background()
	id, err := svc.Ingest(ctx, memory.IngestRequest{PersonaID: "ava", Content: "Lunch with Bruno"})
	require.NoError(t, err)

	a.close()

	_, err = svc.Ingest(ctx, memory.IngestRequest{PersonaID: "ava", Content: "too late"})
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)

	_, err = st.Get(ctx, id)
	assert.ErrorIs(t, err, model.ErrStoreUnavailable)
}
