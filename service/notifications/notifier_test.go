package notifications

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/db/dbtest"
	"github.com/rs/zerolog"
)

type published struct {
	userID    uint
	eventType string
}

type stubHub struct {
	mu     sync.Mutex
	events []published
}

func (s *stubHub) Publish(userID uint, eventType string, _ interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, published{userID, eventType})
}

type stubPush struct {
	mu      sync.Mutex
	tokens  []string
	invalid []string
}

func (s *stubPush) Send(tokens []string, _, _ string, _ map[string]string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append(s.tokens, tokens...)
	return s.invalid, nil
}

type stubMailer struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (s *stubMailer) Send(to, _, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, to)
	return s.err
}

func TestNotifyFansOut(t *testing.T) {
	gdb := dbtest.New(t)
	farmer := dbtest.CreateFarmer(t, gdb, "Ama Mensah")
	gdb.Create(&models.Device{UserID: farmer.ID, Token: "ExponentPushToken[good]"})
	gdb.Create(&models.Device{UserID: farmer.ID, Token: "ExponentPushToken[stale]"})

	hub := &stubHub{}
	push := &stubPush{invalid: []string{"ExponentPushToken[stale]"}}
	mail := &stubMailer{}
	n := NewNotifier(gdb, zerolog.Nop(), hub, push, mail)

	got, err := n.Notify(context.Background(), Event{
		UserID:      farmer.ID,
		Type:        models.NotifConsultationAccepted,
		Title:       "Consultation accepted",
		Description: "Kofi accepted your consultation",
		Link:        "/consultations/1",
		Data:        map[string]interface{}{"consultation_id": 1},
	})
	if err != nil {
		t.Fatalf("Notify: %v", err)
	}
	n.Wait()

	if got.ID == 0 || got.Icon != "check-circle" {
		t.Errorf("unexpected notification %+v", got)
	}
	if len(hub.events) != 1 || hub.events[0].userID != farmer.ID || hub.events[0].eventType != EventNotification {
		t.Errorf("hub events = %+v", hub.events)
	}
	if len(push.tokens) != 2 {
		t.Errorf("push tokens = %v", push.tokens)
	}
	if len(mail.sent) != 1 || mail.sent[0] != farmer.Email {
		t.Errorf("mail sent = %v", mail.sent)
	}

	var remaining []models.Device
	gdb.Unscoped().Where("user_id = ?", farmer.ID).Find(&remaining)
	if len(remaining) != 1 || remaining[0].Token != "ExponentPushToken[good]" {
		t.Errorf("remaining devices = %+v", remaining)
	}
}

func TestNotifySkipsEmailForChatAndSwallowsDeliveryErrors(t *testing.T) {
	gdb := dbtest.New(t)
	farmer := dbtest.CreateFarmer(t, gdb, "Yaw Boateng")

	mail := &stubMailer{err: errors.New("smtp down")}
	n := NewNotifier(gdb, zerolog.Nop(), nil, nil, mail)

	if _, err := n.Notify(context.Background(), Event{UserID: farmer.ID, Type: models.NotifNewMessage, Title: "New message"}); err != nil {
		t.Fatalf("Notify new_message: %v", err)
	}
	if _, err := n.Notify(context.Background(), Event{UserID: farmer.ID, Type: models.NotifConsultationReminder, Title: "Starting soon"}); err != nil {
		t.Fatalf("Notify reminder: %v", err)
	}
	n.Wait()

	if len(mail.sent) != 1 {
		t.Errorf("expected one email, got %v", mail.sent)
	}

	var count int64
	gdb.Model(&models.Notification{}).Where("user_id = ?", farmer.ID).Count(&count)
	if count != 2 {
		t.Errorf("stored notifications = %d, want 2", count)
	}
}
