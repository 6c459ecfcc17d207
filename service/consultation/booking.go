package consultation

import (
	"math"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/service/availability"
)

var allowedDurations = map[int]bool{30: true, 60: true, 90: true, 120: true}

var allowedTypes = map[string]bool{
	models.TypeVideo: true,
	models.TypeAudio: true,
	models.TypeChat:  true,
	models.TypeVisit: true,
}

const topicLength = 80

type BookingRequest struct {
	ExpertID    uint   `json:"expert_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
	TimeSlot    string `json:"time_slot"`
	Duration    int    `json:"duration"`
	Topic       string `json:"topic"`
	Description string `json:"description"`
	Type        string `json:"type"`
}

// Validate normalises the request and returns the UTC start of the booking.
func (req *BookingRequest) Validate(now time.Time) (time.Time, error) {
	var v utils.ValidationError

	if req.ExpertID == 0 {
		v.Add("expert_id", "required")
	}

	req.Date = strings.TrimSpace(req.Date)
	if req.Date == "" {
		v.Add("date", "required")
	} else if _, err := time.Parse(availability.DateLayout, req.Date); err != nil {
		v.Add("date", "expected YYYY-MM-DD")
	}

	clock := strings.TrimSpace(req.Time)
	if clock == "" {
		clock = strings.TrimSpace(req.TimeSlot)
	}
	if clock == "" {
		v.Add("time", "required")
	} else if minutes, err := availability.ParseClock(clock); err != nil {
		v.Add("time", "expected HH:MM")
	} else {
		req.Time = availability.FormatClock(minutes)
	}

	if req.Duration == 0 {
		v.Add("duration", "required")
	} else if !allowedDurations[req.Duration] {
		v.Add("duration", "must be one of 30, 60, 90, 120")
	}

	req.Description = strings.TrimSpace(req.Description)
	req.Topic = strings.TrimSpace(req.Topic)
	if req.Description == "" {
		v.Add("description", "required")
	}
	if req.Topic == "" {
		req.Topic = truncate(req.Description, topicLength)
	}

	req.Type = strings.ToLower(strings.TrimSpace(req.Type))
	if req.Type == "" {
		req.Type = models.TypeVideo
	} else if !allowedTypes[req.Type] {
		v.Add("type", "must be one of video, audio, chat, visit")
	}

	if !v.Empty() {
		return time.Time{}, v.Err()
	}

	scheduledAt, err := availability.At(req.Date, req.Time)
	if err != nil {
		v.Add("date", "invalid date")
		return time.Time{}, v.Err()
	}
	if !scheduledAt.After(now) {
		v.Add("date", "must be in the future")
		return time.Time{}, v.Err()
	}
	return scheduledAt, nil
}

// Fee prices a consultation at the expert's hourly rate, rounded to cents.
func Fee(hourlyRate float64, durationMinutes int) float64 {
	return math.Round(hourlyRate*float64(durationMinutes)/60*100) / 100
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n-3])) + "..."
}
