package availability

import (
	"fmt"
	"time"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"

	firstHour  = 9
	lastHour   = 17
	lunchHour  = 13
	slotLength = 30 * time.Minute
)

type Slot struct {
	Time      string
	Available bool
}

// GridTimes returns the consultation grid for a day: half-hourly from 09:00
// through 17:00, without the 13:00-14:00 lunch break. 15 entries, ascending.
func GridTimes() []string {
	times := make([]string, 0, 15)
	base := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
	for h := firstHour; h <= lastHour; h++ {
		if h == lunchHour {
			continue
		}
		start := base.Add(time.Duration(h) * time.Hour)
		times = append(times, start.Format(TimeLayout))
		if h < lastHour {
			times = append(times, start.Add(slotLength).Format(TimeLayout))
		}
	}
	return times
}

// DaySlots tags every grid time as available unless it appears in booked.
// booked holds "HH:MM" times already held by pending or confirmed bookings.
func DaySlots(booked []string) []Slot {
	taken := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		taken[b] = struct{}{}
	}
	grid := GridTimes()
	slots := make([]Slot, 0, len(grid))
	for _, t := range grid {
		_, busy := taken[t]
		slots = append(slots, Slot{Time: t, Available: !busy})
	}
	return slots
}

func IsGridSlot(hhmm string) bool {
	for _, t := range GridTimes() {
		if t == hhmm {
			return true
		}
	}
	return false
}

// ParseDate accepts a calendar date in YYYY-MM-DD form.
func ParseDate(raw string) (time.Time, error) {
	d, err := time.Parse(DateLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("date must be YYYY-MM-DD (got %q)", raw)
	}
	return d, nil
}
