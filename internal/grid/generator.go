// Package grid builds the virtual price ladder and tracks which of its levels the
// market price has traversed between ticks.
package grid

import (
	"math"
	"sort"
	"time"

	"ai-grid-bot-go/internal/ids"
	"ai-grid-bot-go/internal/models"
)

// Generate builds 2n virtual levels around center: shorts at center*(1+s)^i and longs
// at center*(1-s)^i for i = 1..n, sorted by price descending. spacing is a fraction
// (0.01 for 1%). All levels start pending.
func Generate(center, spacing float64, n int, now time.Time) []*models.VirtualLevel {
	if center <= 0 || spacing <= 0 || spacing >= 1 || n <= 0 {
		return nil
	}

	levels := make([]*models.VirtualLevel, 0, 2*n)
	for i := 1; i <= n; i++ {
		levels = append(levels,
			&models.VirtualLevel{
				ID:        ids.New("lvl"),
				Price:     center * math.Pow(1+spacing, float64(i)),
				Side:      models.Short,
				Distance:  i,
				Status:    models.LevelPending,
				CreatedAt: now,
			},
			&models.VirtualLevel{
				ID:        ids.New("lvl"),
				Price:     center * math.Pow(1-spacing, float64(i)),
				Side:      models.Long,
				Distance:  -i,
				Status:    models.LevelPending,
				CreatedAt: now,
			},
		)
	}

	sort.SliceStable(levels, func(i, j int) bool {
		return levels[i].Price > levels[j].Price
	})
	return levels
}

// Counts returns the number of levels in each status.
func Counts(levels []*models.VirtualLevel) map[models.LevelStatus]int {
	out := make(map[models.LevelStatus]int, 3)
	for _, l := range levels {
		out[l.Status]++
	}
	return out
}
