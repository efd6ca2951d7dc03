package grid

import (
	"testing"
	"time"

	"ai-grid-bot-go/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_TwoLevelsPerSide(t *testing.T) {
	levels := Generate(50000, 0.01, 2, time.Now())
	require.Len(t, levels, 4)

	expected := []struct {
		price    float64
		side     models.Side
		distance int
	}{
		{51005, models.Short, 2},
		{50500, models.Short, 1},
		{49500, models.Long, -1},
		{49005, models.Long, -2},
	}
	for i, e := range expected {
		assert.InDelta(t, e.price, levels[i].Price, 1e-6)
		assert.Equal(t, e.side, levels[i].Side)
		assert.Equal(t, e.distance, levels[i].Distance)
		assert.Equal(t, models.LevelPending, levels[i].Status)
		assert.NotEmpty(t, levels[i].ID)
	}
}

func TestGenerate_Symmetry(t *testing.T) {
	for _, n := range []int{1, 5, 25, 60} {
		for _, s := range []float64{0.001, 0.005, 0.02, 0.1} {
			center := 2718.28
			levels := Generate(center, s, n, time.Now())
			require.Len(t, levels, 2*n)

			pairs := make(map[models.Side]map[int]bool)
			for i, l := range levels {
				if i > 0 {
					assert.Greater(t, levels[i-1].Price, l.Price, "ladder must be sorted descending")
				}
				if l.Side == models.Short {
					assert.Greater(t, l.Price, center)
				} else {
					assert.Less(t, l.Price, center)
				}
				if pairs[l.Side] == nil {
					pairs[l.Side] = make(map[int]bool)
				}
				assert.False(t, pairs[l.Side][l.Distance], "duplicate (side, distance)")
				pairs[l.Side][l.Distance] = true
			}
		}
	}
}

func TestGenerate_InvalidInput(t *testing.T) {
	assert.Nil(t, Generate(0, 0.01, 5, time.Now()))
	assert.Nil(t, Generate(100, 0, 5, time.Now()))
	assert.Nil(t, Generate(100, 1, 5, time.Now()))
	assert.Nil(t, Generate(100, 0.01, 0, time.Now()))
}

func TestCrossed(t *testing.T) {
	levels := Generate(100, 0.01, 3, time.Now())
	// 103.03 102.01 101 | 99 98.01 97.03

	t.Run("no previous price", func(t *testing.T) {
		assert.Empty(t, Crossed(levels, 0, 95))
	})

	t.Run("downward crosses longs only", func(t *testing.T) {
		got := Crossed(levels, 100, 97.5)
		require.Len(t, got, 2)
		for _, l := range got {
			assert.Equal(t, models.Long, l.Side)
		}
	})

	t.Run("upward crosses shorts only", func(t *testing.T) {
		got := Crossed(levels, 100.5, 101.5)
		require.Len(t, got, 1)
		assert.Equal(t, models.Short, got[0].Side)
		assert.Equal(t, 1, got[0].Distance)
	})

	t.Run("moving back up through a long level does not cross it", func(t *testing.T) {
		assert.Empty(t, Crossed(levels, 98.5, 99.5))
	})

	t.Run("landing exactly on a level counts", func(t *testing.T) {
		got := Crossed(levels, 100, levels[3].Price)
		require.Len(t, got, 1)
		assert.Equal(t, levels[3].ID, got[0].ID)
	})

	t.Run("non-pending levels are skipped", func(t *testing.T) {
		levels[3].Status = models.LevelFilled
		defer func() { levels[3].Status = models.LevelPending }()
		assert.Empty(t, Crossed(levels, 100, 98.5))
	})
}

func TestExpireCooldowns(t *testing.T) {
	now := time.Now()
	recent := now.Add(-10 * time.Second)
	old := now.Add(-2 * time.Minute)
	levels := []*models.VirtualLevel{
		{ID: "a", Status: models.LevelCooldown, LastClosedAt: &recent},
		{ID: "b", Status: models.LevelCooldown, LastClosedAt: &old},
		{ID: "c", Status: models.LevelFilled},
	}

	released := ExpireCooldowns(levels, time.Minute, now)
	assert.Equal(t, 1, released)
	assert.Equal(t, models.LevelCooldown, levels[0].Status)
	assert.Equal(t, models.LevelPending, levels[1].Status)
	assert.Equal(t, models.LevelFilled, levels[2].Status)

	assert.True(t, InCooldown(levels[0], time.Minute, now))
	assert.False(t, InCooldown(levels[1], time.Minute, now))
}

func TestCounts(t *testing.T) {
	levels := Generate(100, 0.01, 2, time.Now())
	levels[0].Status = models.LevelFilled
	c := Counts(levels)
	assert.Equal(t, 3, c[models.LevelPending])
	assert.Equal(t, 1, c[models.LevelFilled])
}
