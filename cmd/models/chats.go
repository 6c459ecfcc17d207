package models

import (
	"encoding/json"
	"time"
)

const (
	MessageText  = "text"
	MessageImage = "image"
	MessageFile  = "file"
)

const DeletedMessageText = "This message was deleted."

type Message struct {
	Model
	ConsultationID uint       `gorm:"column:consultation_id;not null;index" json:"consultation_id"`
	SenderID       uint       `gorm:"column:sender_id;not null;index" json:"sender_id"`
	Content        string     `gorm:"column:message;type:text" json:"message"`
	MessageType    string     `gorm:"column:message_type;size:10;not null" json:"message_type"`
	FileName       string     `gorm:"column:file_name;size:255" json:"file_name,omitempty"`
	FileURL        string     `gorm:"column:file_url;size:500" json:"file_url,omitempty"`
	Read           bool       `gorm:"column:is_read;not null;index" json:"read"`
	ReadAt         *time.Time `gorm:"column:read_at" json:"read_at,omitempty"`
	Deleted        bool       `gorm:"column:is_deleted;not null" json:"deleted"`
	Filtered       bool       `gorm:"column:filtered;not null" json:"filtered"`
}

func (Message) TableName() string {
	return "messages"
}

// MarshalJSON adds the timestamp field and hides the body of deleted messages.
func (m Message) MarshalJSON() ([]byte, error) {
	type message Message
	out := struct {
		message
		Timestamp time.Time `json:"timestamp"`
	}{message: message(m), Timestamp: m.CreatedAt}

	if m.Deleted {
		out.Content = DeletedMessageText
		out.MessageType = MessageText
		out.FileName = ""
		out.FileURL = ""
	}
	return json.Marshal(out)
}
