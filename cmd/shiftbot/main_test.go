package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shiftbot/internal/config"
	"shiftbot/internal/domain"
)

func TestOpenLocalNeedsDatabaseFile(t *testing.T) {
	ctx := context.Background()
	for _, path := range []string{"", ":memory:"} {
		cfg := config.Default()
		cfg.Storage.Path = path
		a, err := openLocal(ctx, cfg)
		require.ErrorIs(t, err, errNoStorage, "path %q", path)
		assert.Nil(t, a)
	}
}

func TestOpenLocalReadsBotState(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()
	cfg.Schedule.Timezone = "UTC"
	cfg.Storage.Path = filepath.Join(t.TempDir(), "bot.db")
	cfg.Roster = config.Roster{Day: []string{"ou_d1"}, Night: []string{"ou_n1"}}

	// The serving bot writes a request; a later report sees it.
	bot, err := openLocal(ctx, cfg)
	require.NoError(t, err)
	_, err = bot.Registry.CreateRequest(ctx, "ou_req", "fix the printer")
	require.NoError(t, err)
	require.NoError(t, bot.Close())

	report, err := openLocal(ctx, cfg)
	require.NoError(t, err)
	defer report.Close()
	st, err := report.Registry.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, st.Requests[domain.RequestPending])
}
