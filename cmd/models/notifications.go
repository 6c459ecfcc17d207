package models

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/datatypes"
)

const (
	NotifConsultationBooked    = "consultation_booked"
	NotifConsultationAccepted  = "consultation_accepted"
	NotifConsultationRejected  = "consultation_rejected"
	NotifConsultationCancelled = "consultation_cancelled"
	NotifConsultationCompleted = "consultation_completed"
	NotifConsultationReminder  = "consultation_reminder"
	NotifPaymentReceived       = "payment_received"
	NotifPaymentRefunded       = "payment_refunded"
	NotifNewMessage            = "new_message"
	NotifNewReview             = "new_review"
)

type Notification struct {
	Model
	UserID      uint           `gorm:"column:user_id;not null;index" json:"user_id"`
	Type        string         `gorm:"column:type;size:50;not null" json:"type"`
	Title       string         `gorm:"column:title;size:255;not null" json:"title"`
	Description string         `gorm:"column:description;type:text" json:"description"`
	Icon        string         `gorm:"column:icon;size:50" json:"icon"`
	Read        bool           `gorm:"column:is_read;not null;index" json:"read"`
	Link        string         `gorm:"column:link;size:255" json:"link"`
	Data        datatypes.JSON `gorm:"column:data" json:"data,omitempty"`
}

func (Notification) TableName() string {
	return "notifications"
}

var clock = time.Now

// MarshalJSON adds the time and time_ago fields shown in the notification list.
func (n Notification) MarshalJSON() ([]byte, error) {
	type notification Notification
	return json.Marshal(struct {
		notification
		Time    string `json:"time"`
		TimeAgo string `json:"time_ago"`
	}{
		notification: notification(n),
		Time:         n.CreatedAt.UTC().Format(time.RFC3339),
		TimeAgo:      TimeAgo(clock(), n.CreatedAt),
	})
}

// TimeAgo renders the distance between now and t as "just now",
// "5 minutes ago", "yesterday", or a date for anything older than a week.
func TimeAgo(now, t time.Time) string {
	d := now.Sub(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return plural(int(d/time.Minute), "minute")
	case d < 24*time.Hour:
		return plural(int(d/time.Hour), "hour")
	case d < 48*time.Hour:
		return "yesterday"
	case d < 7*24*time.Hour:
		return plural(int(d/(24*time.Hour)), "day")
	default:
		return t.Format("Jan 2, 2006")
	}
}

func plural(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s ago", unit)
	}
	return fmt.Sprintf("%d %ss ago", n, unit)
}

type Device struct {
	Model
	UserID     uint   `gorm:"column:user_id;not null;index;uniqueIndex:idx_token_user" json:"user_id"`
	Token      string `gorm:"column:token;size:255;not null;uniqueIndex:idx_token_user" json:"token"`
	DeviceType string `gorm:"column:device_type;size:50" json:"device_type"`
	DeviceName string `gorm:"column:device_name;size:100" json:"device_name,omitempty"`
}
