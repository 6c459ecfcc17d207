package chats

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/service/notifications"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	EventNewMessage     = "new_message"
	EventMessageDeleted = "message_deleted"
	EventMessagesRead   = "messages_read"

	previewLength = 60
)

var (
	ErrConsultationNotFound = utils.NewError(http.StatusNotFound, "consultation not found")
	ErrMessageNotFound      = utils.NewError(http.StatusNotFound, "message not found")
	ErrChatClosed           = utils.NewError(http.StatusConflict, "messaging is closed for this consultation")
	ErrEmptyMessage         = utils.NewError(http.StatusBadRequest, "message cannot be empty")
	ErrNotSender            = utils.NewError(http.StatusForbidden, "you can only delete your own messages")
)

type ChatHandler struct {
	db       *gorm.DB
	notifier *notifications.Notifier
	uploader *utils.Uploader
	log      zerolog.Logger
	now      func() time.Time
}

func NewChatHandler(db *gorm.DB, notifier *notifications.Notifier, uploader *utils.Uploader, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{db: db, notifier: notifier, uploader: uploader, log: logger, now: time.Now}
}

func (h *ChatHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/consultations/{id:[0-9]+}/messages", h.GetMessages).Methods("GET")
	router.HandleFunc("/consultations/{id:[0-9]+}/messages", h.SendMessage).Methods("POST")
	router.HandleFunc("/consultations/{id:[0-9]+}/messages/read", h.MarkRead).Methods("PUT")
	router.HandleFunc("/messages/{id:[0-9]+}", h.DeleteMessage).Methods("DELETE")
	router.HandleFunc("/unread-counts", h.UnreadCounts).Methods("GET")
}

func (h *ChatHandler) consultation(r *http.Request) (*models.Consultation, uint, error) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, 0, utils.ErrUnauthorized
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	var c models.Consultation
	if err := h.db.Preload("Client").Preload("Expert.ExpertProfile").First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, 0, ErrConsultationNotFound
		}
		return nil, 0, err
	}
	if !c.HasParticipant(userID) {
		return nil, 0, utils.ErrForbidden
	}
	return &c, userID, nil
}

func (h *ChatHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	c, userID, err := h.consultation(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	query := h.db.Where("consultation_id = ?", c.ID)
	if raw := r.URL.Query().Get("since"); raw != "" {
		since, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "since must be a message id")
			return
		}
		query = query.Where("id > ?", since)
	}

	var list []models.Message
	if err := query.Order("id ASC").Find(&list).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	if _, err := h.markRead(c, userID); err != nil {
		h.log.Error().Err(err).Uint("consultation_id", c.ID).Msg("mark messages read")
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"messages":     list,
		"consultation": models.NewConsultationView(*c),
	})
}

// markRead flags the counterparty's unread messages as read and tells the
// counterparty when anything changed.
func (h *ChatHandler) markRead(c *models.Consultation, readerID uint) (int64, error) {
	res := h.db.Model(&models.Message{}).
		Where("consultation_id = ? AND sender_id <> ? AND is_read = ?", c.ID, readerID, false).
		Updates(map[string]interface{}{"is_read": true, "read_at": h.now().UTC()})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 {
		h.notifier.Publish(c.Counterparty(readerID), EventMessagesRead, map[string]interface{}{
			"consultation_id": c.ID,
			"reader_id":       readerID,
		})
	}
	return res.RowsAffected, nil
}

func (h *ChatHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	c, userID, err := h.consultation(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	n, err := h.markRead(c, userID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Messages marked as read",
		"updated": n,
	})
}

func chatClosed(status string) bool {
	return status == models.StatusRejected || status == models.StatusCancelled
}

type messageRequest struct {
	Message string `json:"message"`
}

func (h *ChatHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	c, userID, err := h.consultation(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if chatClosed(c.Status) {
		utils.WriteError(w, ErrChatClosed)
		return
	}

	msg := models.Message{
		ConsultationID: c.ID,
		SenderID:       userID,
		MessageType:    models.MessageText,
	}

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := h.attach(r, &msg); err != nil {
			utils.WriteError(w, err)
			return
		}
	} else {
		var req messageRequest
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.WriteError(w, err)
			return
		}
		msg.Content = req.Message
	}

	msg.Content = strings.TrimSpace(msg.Content)
	if msg.Content == "" && msg.FileURL == "" {
		utils.WriteError(w, ErrEmptyMessage)
		return
	}
	msg.Content, msg.Filtered = FilterContactInfo(msg.Content)

	if err := h.db.Create(&msg).Error; err != nil {
		if msg.FileURL != "" {
			h.uploader.Delete(msg.FileURL)
		}
		utils.WriteError(w, err)
		return
	}
	if msg.Filtered {
		h.log.Info().Uint("consultation_id", c.ID).Uint("sender_id", userID).Msg("contact details hidden in message")
	}

	recipient := c.Counterparty(userID)
	h.notifier.Publish(recipient, EventNewMessage, msg)
	h.notifier.Publish(userID, EventNewMessage, msg)

	sender := c.Client
	if userID == c.ExpertID {
		sender = c.Expert
	}
	senderName := "Someone"
	if sender != nil {
		senderName = sender.FullName
	}
	h.notifier.NotifyAll(r.Context(), notifications.Event{
		UserID:      recipient,
		Type:        models.NotifNewMessage,
		Title:       "New message from " + senderName,
		Description: preview(msg),
		Link:        fmt.Sprintf("/chat/%d", c.ID),
		Data:        map[string]interface{}{"consultation_id": c.ID, "message_id": msg.ID},
	})

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Message sent",
		"data":    msg,
	})
}

// attach stores the uploaded file of a multipart message on msg. An
// optional "message" form field becomes the caption.
func (h *ChatHandler) attach(r *http.Request, msg *models.Message) error {
	if err := r.ParseMultipartForm(utils.MaxUploadSize); err != nil {
		return utils.NewError(http.StatusBadRequest, "invalid multipart form")
	}
	msg.Content = r.FormValue("message")

	file, header, err := r.FormFile("file")
	if errors.Is(err, http.ErrMissingFile) {
		return nil
	}
	if err != nil {
		return utils.NewError(http.StatusBadRequest, "invalid file upload")
	}
	defer file.Close()

	kind, msgType := utils.KindFiles, models.MessageFile
	if utils.IsImageExt(header.Filename) {
		kind, msgType = utils.KindImages, models.MessageImage
	}
	url, err := h.uploader.Save(file, header, kind)
	if err != nil {
		return err
	}
	msg.MessageType = msgType
	msg.FileName = header.Filename
	msg.FileURL = url
	return nil
}

func preview(msg models.Message) string {
	switch {
	case msg.Content != "":
		r := []rune(msg.Content)
		if len(r) > previewLength {
			return string(r[:previewLength-3]) + "..."
		}
		return msg.Content
	case msg.MessageType == models.MessageImage:
		return "Sent a photo"
	default:
		return "Sent a file: " + msg.FileName
	}
}

func (h *ChatHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	var msg models.Message
	if err := h.db.First(&msg, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrMessageNotFound
		}
		utils.WriteError(w, err)
		return
	}
	if msg.SenderID != userID {
		utils.WriteError(w, ErrNotSender)
		return
	}

	if !msg.Deleted {
		if err := h.db.Model(&msg).Update("is_deleted", true).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		msg.Deleted = true

		var c models.Consultation
		if err := h.db.Select("id", "client_id", "expert_id").First(&c, msg.ConsultationID).Error; err == nil {
			event := map[string]interface{}{"consultation_id": c.ID, "message_id": msg.ID}
			h.notifier.Publish(c.ClientID, EventMessageDeleted, event)
			h.notifier.Publish(c.ExpertID, EventMessageDeleted, event)
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Message deleted",
		"data":    msg,
	})
}

func (h *ChatHandler) UnreadCounts(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var rows []struct {
		ConsultationID uint
		Unread         int64
	}
	if err := h.db.Table("messages").
		Select("messages.consultation_id AS consultation_id, COUNT(*) AS unread").
		Joins("JOIN consultations ON consultations.id = messages.consultation_id").
		Where("(consultations.client_id = ? OR consultations.expert_id = ?)", userID, userID).
		Where("messages.sender_id <> ? AND messages.is_read = ? AND messages.is_deleted = ?", userID, false, false).
		Where("messages.deleted_at IS NULL AND consultations.deleted_at IS NULL").
		Group("messages.consultation_id").
		Scan(&rows).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	var total int64
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[strconv.FormatUint(uint64(row.ConsultationID), 10)] = row.Unread
		total += row.Unread
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"total":         total,
		"consultations": counts,
	})
}
