// SPDX-License-Identifier: MIT

package gracenote

import "time"

// DateFormat is the compact calendar-date form used for cache keys and
// logging.
const DateFormat = "20060102"

// Day is one fetchable day unit of a lineup's schedule.
type Day struct {
	Date      string    // calendar date, DateFormat, UTC
	Start     time.Time // midnight UTC opening the day's grid window
	Offset    int       // days from the plan's first day
	SpanHours int       // grid window length requested from the provider
}

// PlanDays lays out n consecutive day units starting at now's UTC calendar
// day. The plan is cheap to build; laziness lives in fetching.
func PlanDays(now time.Time, n int) []Day {
	base := now.UTC().Truncate(24 * time.Hour)
	days := make([]Day, 0, n)
	for i := 0; i < n; i++ {
		start := base.AddDate(0, 0, i)
		days = append(days, Day{
			Date:      start.Format(DateFormat),
			Start:     start,
			Offset:    i,
			SpanHours: 24,
		})
	}
	return days
}

// DaySequence is a restartable producer of day units. Consumers pull one
// unit at a time so fetch, normalize and cache stages can overlap; Rewind
// re-arms the sequence for a resumed run.
type DaySequence struct {
	days []Day
	next int
}

// NewDaySequence wraps a planned day slice.
func NewDaySequence(days []Day) *DaySequence {
	return &DaySequence{days: days}
}

// Next returns the next day unit in ascending date order.
func (s *DaySequence) Next() (Day, bool) {
	if s.next >= len(s.days) {
		return Day{}, false
	}
	d := s.days[s.next]
	s.next++
	return d, true
}

// Rewind restarts the sequence from its first day.
func (s *DaySequence) Rewind() {
	s.next = 0
}

// Len returns the total number of day units in the sequence.
func (s *DaySequence) Len() int {
	return len(s.days)
}

// Remaining returns how many day units have not been consumed yet.
func (s *DaySequence) Remaining() int {
	return len(s.days) - s.next
}
