package usecase

import (
	"time"

	"github.com/vitos/perp_trader/internal/strategy"
)

// NextFire returns the earliest wall-clock occurrence of any of times that
// is strictly after now, evaluated in loc. The zero time is returned when
// times is empty.
func NextFire(now time.Time, times []strategy.ClockTime, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	var next time.Time
	for _, ct := range times {
		t := ct.On(local)
		if !t.After(local) {
			y, m, d := local.Date()
			t = ct.On(time.Date(y, m, d+1, 12, 0, 0, 0, loc))
		}
		if next.IsZero() || t.Before(next) {
			next = t
		}
	}
	return next
}
