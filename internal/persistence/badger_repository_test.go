package persistence

import (
	"testing"
	"time"

	"ai-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBadgerRepository_SaveLoad(t *testing.T) {
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	missing, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, missing)

	closedAt := time.Now().UTC().Truncate(time.Second)
	state := &models.GridState{
		BotID:        "bot-1",
		Config:       models.GridConfig{Symbol: "BTCUSDT", Leverage: 10},
		CurrentPrice: 50000,
		Levels: []*models.VirtualLevel{
			{ID: "lvl_a", Price: 50500, Side: models.Short, Distance: 1, Status: models.LevelCooldown, LastClosedAt: &closedAt},
			{ID: "lvl_b", Price: 49500, Side: models.Long, Distance: -1, Status: models.LevelFilled},
		},
		Positions: []*models.GridPosition{
			{ID: "pos_a", Side: models.Long, EntryPrice: 49500, LevelID: "lvl_b"},
		},
		Performance: models.Performance{TotalTrades: 3, RejectedLevels: map[string]int{"capacity_exceeded": 2}},
	}
	require.NoError(t, repo.SaveState(state))

	loaded, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, "bot-1", loaded.BotID)
	require.Len(t, loaded.Levels, 2)
	require.NotNil(t, loaded.Levels[0].LastClosedAt)
	assert.True(t, closedAt.Equal(*loaded.Levels[0].LastClosedAt))
	assert.Equal(t, "lvl_b", loaded.Positions[0].LevelID)
	assert.Equal(t, 2, loaded.Performance.RejectedLevels["capacity_exceeded"])

	other, err := repo.LoadState("ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, other)

	require.NoError(t, repo.DeleteState("BTCUSDT"))
	gone, err := repo.LoadState("BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestBadgerRepository_RejectsEmptySymbol(t *testing.T) {
	repo, err := NewBadgerRepository(t.TempDir())
	require.NoError(t, err)
	defer repo.Close()

	assert.Error(t, repo.SaveState(&models.GridState{}))
}
