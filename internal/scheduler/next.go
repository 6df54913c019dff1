package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/smazurov/camkeeper/internal/config"
)

// searchDays bounds the weekday search.
const searchDays = 14

// ErrNoOccurrence is returned when no allowed day falls within the search
// horizon.
var ErrNoOccurrence = errors.New("no occurrence within search horizon")

// NextOccurrence returns the first instant strictly after now at which the
// wall clock in loc reads at on an allowed weekday. Today's target is used
// only when now is before it; a target equal to now resolves to the next
// occurrence.
func NextOccurrence(now time.Time, at config.ClockTime, days config.DaySet, loc *time.Location) (time.Time, error) {
	if !at.Valid() {
		return time.Time{}, fmt.Errorf("next occurrence of %s: invalid time", at)
	}
	if loc == nil {
		loc = time.Local
	}
	local := now.In(loc)
	for i := 0; i <= searchDays; i++ {
		target := time.Date(local.Year(), local.Month(), local.Day()+i, at.Hour, at.Minute, 0, 0, loc)
		if !days.Has(target.Weekday()) {
			continue
		}
		if target.After(now) {
			return target, nil
		}
	}
	return time.Time{}, fmt.Errorf("next occurrence of %s on %s: %w", at, days, ErrNoOccurrence)
}
