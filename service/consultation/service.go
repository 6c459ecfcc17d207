package consultation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/service/availability"
	"github.com/KAsare1/agriconsult-server/service/notifications"
	"github.com/KAsare1/agriconsult-server/service/payments"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	EventConsultationUpdated = "consultation_updated"
	ReasonExpired            = "expired"
	maxDuration              = availability.MaxDuration
)

var (
	ErrNotFound       = utils.NewError(http.StatusNotFound, "consultation not found")
	ErrExpertNotFound = utils.NewError(http.StatusNotFound, "expert not found")
	ErrSlotTaken      = utils.NewError(http.StatusConflict, "the expert already has a consultation at this time")
	ErrOutsideHours   = utils.NewError(http.StatusConflict, "the expert is not available at this time")
	ErrSelfBooking    = utils.NewError(http.StatusBadRequest, "you cannot book a consultation with yourself")
)

// Service owns the consultation state machine. Handlers and the background
// worker both go through it so every change refunds and notifies the same way.
type Service struct {
	db       *gorm.DB
	notifier *notifications.Notifier
	log      zerolog.Logger
}

func NewService(db *gorm.DB, notifier *notifications.Notifier, logger zerolog.Logger) *Service {
	return &Service{db: db, notifier: notifier, log: logger.With().Str("component", "consultations").Logger()}
}

// Load returns a consultation with both participants and the expert profile.
func (s *Service) Load(ctx context.Context, id uint) (*models.Consultation, error) {
	var c models.Consultation
	if err := s.db.WithContext(ctx).
		Preload("Client").
		Preload("Expert.ExpertProfile").
		First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// Book creates a pending consultation for clientID.
func (s *Service) Book(ctx context.Context, clientID uint, req BookingRequest, now time.Time) (*models.Consultation, error) {
	scheduledAt, err := req.Validate(now)
	if err != nil {
		return nil, err
	}
	if req.ExpertID == clientID {
		return nil, ErrSelfBooking
	}

	var expert models.User
	if err := s.db.WithContext(ctx).Preload("ExpertProfile").
		Where("id = ? AND role = ?", req.ExpertID, models.RoleExpert).
		First(&expert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrExpertNotFound
		}
		return nil, err
	}
	rate := 0.0
	if expert.ExpertProfile != nil {
		rate = expert.ExpertProfile.HourlyRate
	}

	c := models.Consultation{
		ClientID:    clientID,
		ExpertID:    expert.ID,
		Date:        req.Date,
		Time:        req.Time,
		ScheduledAt: scheduledAt,
		Duration:    req.Duration,
		Topic:       req.Topic,
		Description: req.Description,
		Type:        req.Type,
		Status:      models.StatusPending,
		Fee:         Fee(rate, req.Duration),
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		windows, err := availability.Windows(tx, expert.ID, req.Date)
		if err != nil {
			return err
		}
		if len(windows) > 0 {
			start, _ := availability.ParseClock(req.Time)
			if !availability.Fits(windows, start, req.Duration) {
				return ErrOutsideHours
			}
		}

		clash, err := overlapping(tx, expert.ID, c.ScheduledAt, c.EndsAt())
		if err != nil {
			return err
		}
		if clash {
			return ErrSlotTaken
		}
		return tx.Create(&c).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Uint("consultation_id", c.ID).Uint("client_id", clientID).Uint("expert_id", expert.ID).Msg("consultation booked")

	var client models.User
	clientName := "A farmer"
	if err := s.db.WithContext(ctx).Select("id", "full_name").First(&client, clientID).Error; err == nil {
		clientName = client.FullName
	}
	s.notifier.NotifyAll(ctx, notifications.Event{
		UserID:      expert.ID,
		Type:        models.NotifConsultationBooked,
		Title:       "New consultation request",
		Description: fmt.Sprintf("%s requested a %d-minute consultation on %s at %s: %s", clientName, c.Duration, c.Date, c.Time, c.Topic),
		Link:        link(c.ID),
		Data:        map[string]interface{}{"consultation_id": c.ID},
	})
	s.notifier.Publish(expert.ID, EventConsultationUpdated, c)

	return s.Load(ctx, c.ID)
}

// overlapping reports whether the expert holds a pending or accepted
// consultation intersecting [start, end).
func overlapping(tx *gorm.DB, expertID uint, start, end time.Time) (bool, error) {
	var candidates []models.Consultation
	if err := tx.Where("expert_id = ? AND status IN ? AND scheduled_at < ? AND scheduled_at > ?",
		expertID, models.ActiveStatuses, end, start.Add(-maxDuration*time.Minute)).
		Find(&candidates).Error; err != nil {
		return false, err
	}
	for _, c := range candidates {
		if c.ScheduledAt.Before(end) && c.EndsAt().After(start) {
			return true, nil
		}
	}
	return false, nil
}

// Transition moves c to status `to`. actorID zero means the system. The
// update only applies if the status is still what c holds, so concurrent
// transitions have a single winner. Cancelling or rejecting refunds any
// completed payment, including one that landed after c was loaded.
func (s *Service) Transition(ctx context.Context, c *models.Consultation, actorID uint, to, reason string, now time.Time) (*models.Consultation, error) {
	if err := CheckTransition(c, actorID, to, now); err != nil {
		return nil, err
	}
	now = now.UTC()

	updates := map[string]interface{}{"status": to, "updated_at": now}
	switch to {
	case models.StatusAccepted:
		updates["responded_at"] = now
	case models.StatusRejected:
		updates["responded_at"] = now
		updates["cancel_reason"] = reason
	case models.StatusCancelled:
		updates["cancel_reason"] = reason
	case models.StatusCompleted:
		updates["completed_at"] = now
	}

	var refunded float64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Consultation{}).
			Where("id = ? AND status = ?", c.ID, c.Status).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrStaleStatus
		}
		if to == models.StatusCancelled || to == models.StatusRejected {
			var err error
			if refunded, err = payments.RefundConsultation(tx, c.ID, now); err != nil {
				return fmt.Errorf("refund consultation %d: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Uint("consultation_id", c.ID).Str("from", c.Status).Str("to", to).Uint("actor_id", actorID).Msg("consultation status changed")

	updated, err := s.Load(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	s.announce(ctx, updated, actorID, refunded)
	return updated, nil
}

func (s *Service) announce(ctx context.Context, c *models.Consultation, actorID uint, refunded float64) {
	view := models.NewConsultationView(*c)
	expertName, clientName := view.ExpertName, view.ClientName

	var events []notifications.Event
	base := notifications.Event{Link: link(c.ID), Data: map[string]interface{}{"consultation_id": c.ID, "status": c.Status}}

	switch c.Status {
	case models.StatusAccepted:
		ev := base
		ev.UserID, ev.Type, ev.Title = c.ClientID, models.NotifConsultationAccepted, "Consultation accepted"
		ev.Description = fmt.Sprintf("%s accepted your consultation on %s at %s", expertName, c.Date, c.Time)
		events = append(events, ev)
	case models.StatusRejected:
		ev := base
		ev.UserID, ev.Type, ev.Title = c.ClientID, models.NotifConsultationRejected, "Consultation declined"
		ev.Description = fmt.Sprintf("%s declined your consultation request \"%s\"", expertName, c.Topic)
		events = append(events, ev)
	case models.StatusCompleted:
		ev := base
		ev.UserID, ev.Type, ev.Title = c.ClientID, models.NotifConsultationCompleted, "Consultation completed"
		ev.Description = fmt.Sprintf("Your consultation with %s is complete. Leave a review to help other farmers.", expertName)
		events = append(events, ev)
	case models.StatusCancelled:
		for _, userID := range []uint{c.ClientID, c.ExpertID} {
			if userID == actorID {
				continue
			}
			ev := base
			ev.UserID, ev.Type, ev.Title = userID, models.NotifConsultationCancelled, "Consultation cancelled"
			switch {
			case c.CancelReason == ReasonExpired:
				ev.Description = fmt.Sprintf("The consultation \"%s\" expired before it was accepted", c.Topic)
			case actorID == c.ClientID:
				ev.Description = fmt.Sprintf("%s cancelled the consultation \"%s\"", clientName, c.Topic)
			default:
				ev.Description = fmt.Sprintf("%s cancelled the consultation \"%s\"", expertName, c.Topic)
			}
			events = append(events, ev)
		}
	}

	if refunded > 0 {
		ev := base
		ev.UserID, ev.Type, ev.Title = c.ClientID, models.NotifPaymentRefunded, "Payment refunded"
		ev.Description = fmt.Sprintf("GHS %.2f for \"%s\" has been refunded", refunded, c.Topic)
		events = append(events, ev)
	}

	s.notifier.NotifyAll(ctx, events...)
	s.notifier.Publish(c.ClientID, EventConsultationUpdated, view)
	s.notifier.Publish(c.ExpertID, EventConsultationUpdated, view)
}

var (
	ErrClientOnly      = utils.NewError(http.StatusForbidden, "only the client can review this consultation")
	ErrNotCompleted    = utils.NewError(http.StatusConflict, "only completed consultations can be reviewed")
	ErrAlreadyReviewed = utils.NewError(http.StatusConflict, "consultation has already been reviewed")
)

// Review records the client's rating of a completed consultation and
// refreshes the expert's average.
func (s *Service) Review(ctx context.Context, c *models.Consultation, clientID uint, rating int, comment string) (*models.Review, error) {
	if c.ClientID != clientID {
		return nil, ErrClientOnly
	}
	if c.Status != models.StatusCompleted {
		return nil, ErrNotCompleted
	}
	if rating < 1 || rating > 5 {
		return nil, &utils.ValidationError{Fields: map[string]string{"rating": "must be between 1 and 5"}}
	}

	review := models.Review{
		ConsultationID: c.ID,
		ClientID:       c.ClientID,
		ExpertID:       c.ExpertID,
		Rating:         rating,
		Comment:        comment,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing int64
		if err := tx.Model(&models.Review{}).Where("consultation_id = ?", c.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyReviewed
		}
		if err := tx.Create(&review).Error; err != nil {
			return err
		}
		return models.RecomputeExpertRating(tx, c.ExpertID)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.NotifyAll(ctx, notifications.Event{
		UserID:      c.ExpertID,
		Type:        models.NotifNewReview,
		Title:       "New review",
		Description: fmt.Sprintf("You received a %d-star review for \"%s\"", rating, c.Topic),
		Link:        link(c.ID),
		Data:        map[string]interface{}{"consultation_id": c.ID, "rating": rating},
	})
	return &review, nil
}

// ExpireStale cancels pending consultations whose start time has passed
// without the expert responding.
func (s *Service) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var stale []models.Consultation
	if err := s.db.WithContext(ctx).
		Where("status = ? AND scheduled_at <= ?", models.StatusPending, now.UTC()).
		Find(&stale).Error; err != nil {
		return 0, err
	}

	expired := 0
	for i := range stale {
		if _, err := s.Transition(ctx, &stale[i], 0, models.StatusCancelled, ReasonExpired, now); err != nil {
			if errors.Is(err, ErrStaleStatus) {
				continue
			}
			return expired, err
		}
		expired++
	}
	return expired, nil
}

// SendReminders notifies both parties of accepted consultations starting
// within lead. Each consultation is reminded once.
func (s *Service) SendReminders(ctx context.Context, now time.Time, lead time.Duration) (int, error) {
	now = now.UTC()
	var upcoming []models.Consultation
	if err := s.db.WithContext(ctx).
		Preload("Client").Preload("Expert").
		Where("status = ? AND reminder_sent = ? AND scheduled_at > ? AND scheduled_at <= ?",
			models.StatusAccepted, false, now, now.Add(lead)).
		Find(&upcoming).Error; err != nil {
		return 0, err
	}

	sent := 0
	for _, c := range upcoming {
		res := s.db.WithContext(ctx).Model(&models.Consultation{}).
			Where("id = ? AND reminder_sent = ?", c.ID, false).
			Update("reminder_sent", true)
		if res.Error != nil {
			return sent, res.Error
		}
		if res.RowsAffected == 0 {
			continue
		}

		view := models.NewConsultationView(c)
		minutes := int(c.ScheduledAt.Sub(now).Round(time.Minute) / time.Minute)
		s.notifier.NotifyAll(ctx,
			notifications.Event{
				UserID:      c.ClientID,
				Type:        models.NotifConsultationReminder,
				Title:       "Consultation starting soon",
				Description: fmt.Sprintf("Your consultation with %s starts in %d minutes", view.ExpertName, minutes),
				Link:        link(c.ID),
				Data:        map[string]interface{}{"consultation_id": c.ID},
			},
			notifications.Event{
				UserID:      c.ExpertID,
				Type:        models.NotifConsultationReminder,
				Title:       "Consultation starting soon",
				Description: fmt.Sprintf("Your consultation with %s starts in %d minutes", view.ClientName, minutes),
				Link:        link(c.ID),
				Data:        map[string]interface{}{"consultation_id": c.ID},
			},
		)
		sent++
	}
	return sent, nil
}

func link(id uint) string {
	return fmt.Sprintf("/consultations/%d", id)
}
