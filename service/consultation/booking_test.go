package consultation

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
)

func TestBookingRequestValidate(t *testing.T) {
	now := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	valid := func() BookingRequest {
		return BookingRequest{
			ExpertID:    7,
			Date:        "2026-03-05",
			Time:        "10:00",
			Duration:    60,
			Description: "Cassava leaves turning yellow",
		}
	}

	tests := []struct {
		name      string
		mutate    func(*BookingRequest)
		wantField string
	}{
		{"missing expert", func(r *BookingRequest) { r.ExpertID = 0 }, "expert_id"},
		{"bad date", func(r *BookingRequest) { r.Date = "05/03/2026" }, "date"},
		{"missing time", func(r *BookingRequest) { r.Time = "" }, "time"},
		{"bad time", func(r *BookingRequest) { r.Time = "25:00" }, "time"},
		{"odd duration", func(r *BookingRequest) { r.Duration = 45 }, "duration"},
		{"missing description", func(r *BookingRequest) { r.Description = "  " }, "description"},
		{"unknown type", func(r *BookingRequest) { r.Type = "telepathy" }, "type"},
		{"in the past", func(r *BookingRequest) { r.Date = "2026-03-01" }, "date"},
		{"starting now", func(r *BookingRequest) { r.Date, r.Time = "2026-03-02", "08:00" }, "date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid()
			tt.mutate(&req)
			_, err := req.Validate(now)
			var verr *utils.ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("Validate() error = %v, want validation error", err)
			}
			if _, ok := verr.Fields[tt.wantField]; !ok {
				t.Errorf("fields = %v, want %q", verr.Fields, tt.wantField)
			}
		})
	}

	t.Run("defaults", func(t *testing.T) {
		req := valid()
		req.Time = ""
		req.TimeSlot = "9:30"
		req.Description = strings.Repeat("a", 100)
		at, err := req.Validate(now)
		if err != nil {
			t.Fatalf("Validate() error = %v", err)
		}
		if want := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC); !at.Equal(want) {
			t.Errorf("scheduled at = %v, want %v", at, want)
		}
		if req.Time != "09:30" {
			t.Errorf("time = %q, want 09:30", req.Time)
		}
		if req.Type != models.TypeVideo {
			t.Errorf("type = %q, want video", req.Type)
		}
		if n := len([]rune(req.Topic)); n != topicLength {
			t.Errorf("topic length = %d, want %d", n, topicLength)
		}
	})
}

func TestFee(t *testing.T) {
	tests := []struct {
		rate     float64
		minutes  int
		expected float64
	}{
		{50, 60, 50},
		{50, 30, 25},
		{45, 90, 67.5},
		{40, 90, 60},
		{0, 120, 0},
	}
	for _, tt := range tests {
		if got := Fee(tt.rate, tt.minutes); got != tt.expected {
			t.Errorf("Fee(%v, %d) = %v, want %v", tt.rate, tt.minutes, got, tt.expected)
		}
	}
}
