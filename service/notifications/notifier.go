package notifications

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Publisher delivers realtime events to a user's open websocket connections.
type Publisher interface {
	Publish(userID uint, eventType string, data interface{})
}

// PushSender delivers a mobile push to device tokens and reports the tokens
// the push service no longer accepts.
type PushSender interface {
	Send(tokens []string, title, body string, data map[string]string) (invalid []string, err error)
}

type Mailer interface {
	Send(to, subject, body string) error
}

type Event struct {
	UserID      uint
	Type        string
	Title       string
	Description string
	Link        string
	Data        map[string]interface{}
}

const EventNotification = "notification"

var icons = map[string]string{
	models.NotifConsultationBooked:    "calendar",
	models.NotifConsultationAccepted:  "check-circle",
	models.NotifConsultationRejected:  "x-circle",
	models.NotifConsultationCancelled: "x-circle",
	models.NotifConsultationCompleted: "award",
	models.NotifConsultationReminder:  "clock",
	models.NotifPaymentReceived:       "credit-card",
	models.NotifPaymentRefunded:       "rotate-ccw",
	models.NotifNewMessage:            "message-circle",
	models.NotifNewReview:             "star",
}

// emailed lists the event types important enough to also reach the inbox.
var emailed = map[string]bool{
	models.NotifConsultationBooked:    true,
	models.NotifConsultationAccepted:  true,
	models.NotifConsultationRejected:  true,
	models.NotifConsultationCancelled: true,
	models.NotifConsultationReminder:  true,
}

type Notifier struct {
	db   *gorm.DB
	log  zerolog.Logger
	hub  Publisher
	push PushSender
	mail Mailer
	wg   sync.WaitGroup
}

// NewNotifier builds a notifier. hub, push and mail may be nil to disable
// that channel.
func NewNotifier(db *gorm.DB, logger zerolog.Logger, hub Publisher, push PushSender, mail Mailer) *Notifier {
	return &Notifier{
		db:   db,
		log:  logger.With().Str("component", "notifier").Logger(),
		hub:  hub,
		push: push,
		mail: mail,
	}
}

// Notify stores the notification and fans it out. Only the database write can
// fail the call; realtime, push and email failures are logged.
func (n *Notifier) Notify(ctx context.Context, ev Event) (*models.Notification, error) {
	notification := models.Notification{
		UserID:      ev.UserID,
		Type:        ev.Type,
		Title:       ev.Title,
		Description: ev.Description,
		Icon:        icons[ev.Type],
		Link:        ev.Link,
	}
	if ev.Data != nil {
		raw, err := json.Marshal(ev.Data)
		if err != nil {
			return nil, fmt.Errorf("encode notification data: %w", err)
		}
		notification.Data = datatypes.JSON(raw)
	}

	if err := n.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}

	if n.hub != nil {
		n.hub.Publish(ev.UserID, EventNotification, notification)
	}

	n.sendPush(ctx, notification)
	n.sendEmail(ctx, notification)

	return &notification, nil
}

// Publish forwards a realtime event without storing a notification.
func (n *Notifier) Publish(userID uint, eventType string, data interface{}) {
	if n.hub != nil {
		n.hub.Publish(userID, eventType, data)
	}
}

// NotifyAll sends one event per user, logging failures.
func (n *Notifier) NotifyAll(ctx context.Context, events ...Event) {
	for _, ev := range events {
		if _, err := n.Notify(ctx, ev); err != nil {
			n.log.Error().Err(err).Uint("user_id", ev.UserID).Str("type", ev.Type).Msg("notify")
		}
	}
}

// Wait blocks until in-flight push and email deliveries finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func (n *Notifier) sendPush(ctx context.Context, notification models.Notification) {
	if n.push == nil {
		return
	}

	var tokens []string
	if err := n.db.WithContext(ctx).Model(&models.Device{}).
		Where("user_id = ?", notification.UserID).
		Pluck("token", &tokens).Error; err != nil {
		n.log.Error().Err(err).Uint("user_id", notification.UserID).Msg("load devices")
		return
	}
	if len(tokens) == 0 {
		return
	}

	data := map[string]string{
		"type":            notification.Type,
		"notification_id": fmt.Sprint(notification.ID),
		"link":            notification.Link,
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		invalid, err := n.push.Send(tokens, notification.Title, notification.Description, data)
		if err != nil {
			n.log.Warn().Err(err).Uint("user_id", notification.UserID).Msg("push notification")
		}
		if len(invalid) > 0 {
			n.removeDevices(invalid)
		}
	}()
}

func (n *Notifier) removeDevices(tokens []string) {
	result := n.db.Unscoped().Where("token IN ?", tokens).Delete(&models.Device{})
	if result.Error != nil {
		n.log.Error().Err(result.Error).Msg("clean up invalid push tokens")
		return
	}
	n.log.Info().Int64("removed", result.RowsAffected).Msg("cleaned up invalid push tokens")
}

func (n *Notifier) sendEmail(ctx context.Context, notification models.Notification) {
	if n.mail == nil || !emailed[notification.Type] {
		return
	}

	var user models.User
	if err := n.db.WithContext(ctx).Select("id", "email", "full_name").First(&user, notification.UserID).Error; err != nil {
		n.log.Error().Err(err).Uint("user_id", notification.UserID).Msg("load email recipient")
		return
	}

	body := fmt.Sprintf("Hello %s,\n\n%s\n\nOpen AgriConsult to see the details.", user.FullName, notification.Description)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.mail.Send(user.Email, notification.Title, body); err != nil {
			n.log.Warn().Err(err).Uint("user_id", user.ID).Msg("send notification email")
		}
	}()
}
