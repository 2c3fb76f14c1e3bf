// Package recurrence expands a schedule request into concrete
// occurrence slots. Expansion is a pure computation: the same request
// always yields the same slots, so it can be re-run freely in tests.
package recurrence

import (
	"fmt"
	"time"

	"streamcast/internal/models"
)

// Slot is one concrete start (and optional end) produced by expansion.
type Slot struct {
	Start time.Time
	End   *time.Time
}

// Expand turns a base start/end pair plus an optional rule into an
// ordered slice of slots. A disabled or absent rule yields exactly one
// slot at the base time. Count is clamped to [1, MaxRecurrenceCount].
// Each slot preserves the base start-to-end offset relative to its own
// start.
func Expand(start time.Time, end *time.Time, rule *models.RecurrenceRule) ([]Slot, error) {
	if rule != nil && rule.Enabled && !rule.Valid() {
		return nil, fmt.Errorf("unsupported recurrence frequency: %s", rule.Frequency)
	}

	count := 1
	if rule != nil && rule.Enabled {
		count = rule.Count
		if count < 1 {
			count = 1
		}
		if count > models.MaxRecurrenceCount {
			count = models.MaxRecurrenceCount
		}
	}

	var offset time.Duration
	if end != nil {
		offset = end.Sub(start)
	}

	slots := make([]Slot, 0, count)
	for i := 0; i < count; i++ {
		s := shift(start, rule, i)
		slot := Slot{Start: s}
		if end != nil {
			e := s.Add(offset)
			slot.End = &e
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

// shift advances the base time by i steps of the rule's frequency.
// Monthly steps follow the calendar, not a fixed day count.
func shift(base time.Time, rule *models.RecurrenceRule, i int) time.Time {
	if i == 0 || rule == nil || !rule.Enabled {
		return base
	}
	switch rule.Frequency {
	case models.FrequencyDaily:
		return base.AddDate(0, 0, i)
	case models.FrequencyWeekly:
		return base.AddDate(0, 0, 7*i)
	case models.FrequencyMonthly:
		return base.AddDate(0, i, 0)
	}
	return base
}
