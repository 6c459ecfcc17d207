package availability

import (
	"fmt"
	"sort"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
	SlotMinutes = 30
	// MaxDuration is the longest consultation, in minutes, that can be booked.
	MaxDuration = 120
)

// ParseClock converts "HH:MM" to minutes after midnight.
func ParseClock(s string) (int, error) {
	t, err := time.Parse(ClockLayout, s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// At returns the UTC instant of clock on date.
func At(date, clock string) (time.Time, error) {
	return time.ParseInLocation(DateLayout+" "+ClockLayout, date+" "+clock, time.UTC)
}

type span struct{ start, end int }

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

func windowSpan(a models.Availability) (span, bool) {
	start, err := ParseClock(a.StartTime)
	if err != nil {
		return span{}, false
	}
	end, err := ParseClock(a.EndTime)
	if err != nil || end <= start {
		return span{}, false
	}
	return span{start, end}, true
}

// bookedSpans places consultations on the minute axis of the day starting at
// midnight. A consultation from the previous evening gets a negative start.
func bookedSpans(booked []models.Consultation, midnight time.Time) []span {
	spans := make([]span, 0, len(booked))
	for _, c := range booked {
		start := int(c.ScheduledAt.Sub(midnight) / time.Minute)
		end := int(c.EndsAt().Sub(midnight) / time.Minute)
		spans = append(spans, span{start, end})
	}
	return spans
}

// Fits reports whether [start, start+duration) lies inside one window.
func Fits(windows []models.Availability, start, duration int) bool {
	want := span{start, start + duration}
	for _, w := range windows {
		if s, ok := windowSpan(w); ok && s.start <= want.start && want.end <= s.end {
			return true
		}
	}
	return false
}

// FreeSlots lists the start times, every SlotMinutes, at which a consultation
// of duration minutes fits inside a window on date without colliding with
// booked consultations. Slots that have already started are left out.
func FreeSlots(windows []models.Availability, booked []models.Consultation, date string, duration int, now time.Time) []string {
	if duration <= 0 {
		duration = SlotMinutes
	}
	midnight, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return nil
	}
	taken := bookedSpans(booked, midnight)
	seen := map[int]bool{}
	var starts []int

	for _, w := range windows {
		ws, ok := windowSpan(w)
		if !ok {
			continue
		}
		for t := ws.start; t+duration <= ws.end; t += SlotMinutes {
			if seen[t] {
				continue
			}
			slot := span{t, t + duration}
			if at, err := At(date, FormatClock(t)); err != nil || !at.After(now) {
				continue
			}
			free := true
			for _, b := range taken {
				if slot.overlaps(b) {
					free = false
					break
				}
			}
			if free {
				seen[t] = true
				starts = append(starts, t)
			}
		}
	}

	sort.Ints(starts)
	slots := make([]string, len(starts))
	for i, t := range starts {
		slots[i] = FormatClock(t)
	}
	return slots
}
