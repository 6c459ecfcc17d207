package models

import (
	"time"
)

const (
	PaymentCompleted = "completed"
	PaymentRefunded  = "refunded"
)

type Payment struct {
	Model
	ConsultationID uint       `gorm:"column:consultation_id;not null;index" json:"consultation_id"`
	ClientID       uint       `gorm:"column:client_id;not null;index" json:"client_id"`
	ExpertID       uint       `gorm:"column:expert_id;not null;index" json:"expert_id"`
	Amount         float64    `gorm:"column:amount;not null" json:"amount"`
	Method         string     `gorm:"column:method;size:50;not null" json:"method"`
	Reference      string     `gorm:"column:reference;size:64;not null;uniqueIndex" json:"reference"`
	Status         string     `gorm:"column:status;size:20;not null;index" json:"status"`
	RefundedAt     *time.Time `gorm:"column:refunded_at" json:"refunded_at,omitempty"`

	Consultation *Consultation `gorm:"foreignKey:ConsultationID" json:"-"`
}

func (Payment) TableName() string {
	return "payments"
}

type PaymentView struct {
	Payment
	ExpertName  string `json:"expert_name"`
	ExpertPhoto string `json:"expert_photo"`
	ClientName  string `json:"client_name"`
	Topic       string `json:"topic"`
}

// NewPaymentView expects Consultation.Expert and Consultation.Client to be preloaded.
func NewPaymentView(p Payment) PaymentView {
	v := PaymentView{Payment: p}
	if c := p.Consultation; c != nil {
		v.Topic = c.Topic
		if c.Expert != nil {
			v.ExpertName = c.Expert.FullName
			v.ExpertPhoto = c.Expert.ProfilePicture
		}
		if c.Client != nil {
			v.ClientName = c.Client.FullName
		}
	}
	return v
}

func NewPaymentViews(ps []Payment) []PaymentView {
	views := make([]PaymentView, 0, len(ps))
	for _, p := range ps {
		views = append(views, NewPaymentView(p))
	}
	return views
}
