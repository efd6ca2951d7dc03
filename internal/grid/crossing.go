package grid

import (
	"time"

	"ai-grid-bot-go/internal/models"
)

// Crossed returns the pending levels that price traversed moving from prev to cur.
// Long levels trigger on the way down, short levels on the way up. A zero prev means
// there is no previous tick and nothing can have been crossed.
func Crossed(levels []*models.VirtualLevel, prev, cur float64) []*models.VirtualLevel {
	if prev <= 0 || cur <= 0 || prev == cur {
		return nil
	}

	var out []*models.VirtualLevel
	for _, l := range levels {
		if l.Status != models.LevelPending {
			continue
		}
		switch l.Side {
		case models.Long:
			if prev > l.Price && cur <= l.Price {
				out = append(out, l)
			}
		case models.Short:
			if prev < l.Price && cur >= l.Price {
				out = append(out, l)
			}
		}
	}
	return out
}

// ExpireCooldowns moves cooldown levels whose window has elapsed back to pending and
// returns how many were released.
func ExpireCooldowns(levels []*models.VirtualLevel, cooldown time.Duration, now time.Time) int {
	released := 0
	for _, l := range levels {
		if l.Status == models.LevelCooldown && !InCooldown(l, cooldown, now) {
			l.Status = models.LevelPending
			released++
		}
	}
	return released
}

// InCooldown reports whether a level is still blocked at now.
func InCooldown(l *models.VirtualLevel, cooldown time.Duration, now time.Time) bool {
	return l.Status == models.LevelCooldown && l.LastClosedAt != nil && now.Sub(*l.LastClosedAt) < cooldown
}
