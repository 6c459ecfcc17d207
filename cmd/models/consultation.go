package models

import (
	"time"
)

const (
	StatusPending   = "pending"
	StatusAccepted  = "accepted"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
	StatusCompleted = "completed"
)

// ActiveStatuses are the statuses that hold an expert's time slot.
var ActiveStatuses = []string{StatusPending, StatusAccepted}

const (
	TypeVideo = "video"
	TypeAudio = "audio"
	TypeChat  = "chat"
	TypeVisit = "visit"
)

type Consultation struct {
	Model
	ClientID     uint       `gorm:"column:client_id;not null;index" json:"client_id"`
	ExpertID     uint       `gorm:"column:expert_id;not null;index" json:"expert_id"`
	Date         string     `gorm:"column:date;size:10;not null" json:"date"`
	Time         string     `gorm:"column:time;size:5;not null" json:"time"`
	ScheduledAt  time.Time  `gorm:"column:scheduled_at;not null;index" json:"scheduled_at"`
	Duration     int        `gorm:"column:duration;not null" json:"duration"`
	Topic        string     `gorm:"column:topic;size:255;not null" json:"topic"`
	Description  string     `gorm:"column:description;type:text" json:"description"`
	Type         string     `gorm:"column:type;size:20;not null" json:"type"`
	Status       string     `gorm:"column:status;size:20;not null;index" json:"status"`
	Fee          float64    `gorm:"column:fee;not null" json:"fee"`
	Paid         bool       `gorm:"column:paid;not null" json:"paid"`
	CancelReason string     `gorm:"column:cancel_reason;size:255" json:"cancel_reason,omitempty"`
	ReminderSent bool       `gorm:"column:reminder_sent;not null" json:"-"`
	RespondedAt  *time.Time `gorm:"column:responded_at" json:"responded_at,omitempty"`
	CompletedAt  *time.Time `gorm:"column:completed_at" json:"completed_at,omitempty"`

	Client *User `gorm:"foreignKey:ClientID" json:"-"`
	Expert *User `gorm:"foreignKey:ExpertID" json:"-"`
}

func (c *Consultation) EndsAt() time.Time {
	return c.ScheduledAt.Add(time.Duration(c.Duration) * time.Minute)
}

func (c *Consultation) HasParticipant(userID uint) bool {
	return userID != 0 && (c.ClientID == userID || c.ExpertID == userID)
}

// Counterparty returns the other participant's user id.
func (c *Consultation) Counterparty(userID uint) uint {
	if userID == c.ClientID {
		return c.ExpertID
	}
	return c.ClientID
}

func (c *Consultation) IsUpcoming(now time.Time) bool {
	return !c.ScheduledAt.Before(now) && (c.Status == StatusPending || c.Status == StatusAccepted)
}

// ConsultationView is a consultation with the participant fields the
// consultation list and chat screens render without extra lookups.
type ConsultationView struct {
	Consultation
	ExpertName      string `json:"expert_name"`
	ExpertSpecialty string `json:"expert_specialty"`
	ExpertPhoto     string `json:"expert_photo"`
	ClientName      string `json:"client_name"`
	ClientFarm      string `json:"client_farm"`
	ClientPhoto     string `json:"client_photo"`
}

// NewConsultationView expects Client, Expert and Expert.ExpertProfile to be
// preloaded; missing associations leave the matching fields empty.
func NewConsultationView(c Consultation) ConsultationView {
	v := ConsultationView{Consultation: c}
	if c.Expert != nil {
		v.ExpertName = c.Expert.FullName
		v.ExpertPhoto = c.Expert.ProfilePicture
		if c.Expert.ExpertProfile != nil {
			v.ExpertSpecialty = c.Expert.ExpertProfile.Specialty
		}
	}
	if c.Client != nil {
		v.ClientName = c.Client.FullName
		v.ClientFarm = c.Client.FarmName
		v.ClientPhoto = c.Client.ProfilePicture
	}
	return v
}

func NewConsultationViews(cs []Consultation) []ConsultationView {
	views := make([]ConsultationView, 0, len(cs))
	for _, c := range cs {
		views = append(views, NewConsultationView(c))
	}
	return views
}
