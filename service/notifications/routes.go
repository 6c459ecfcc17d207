package notifications

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

var (
	ErrNotificationNotFound = utils.NewError(http.StatusNotFound, "notification not found")
	ErrDeviceNotFound       = utils.NewError(http.StatusNotFound, "device not found")
)

type NotificationHandler struct {
	db *gorm.DB
}

func NewNotificationHandler(db *gorm.DB) *NotificationHandler {
	return &NotificationHandler{db: db}
}

func (h *NotificationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/notifications", h.ListNotifications).Methods("GET")
	router.HandleFunc("/notifications/mark-all-read", h.MarkAllRead).Methods("PUT")
	router.HandleFunc("/notifications/{id:[0-9]+}/read", h.MarkRead).Methods("PUT")
	router.HandleFunc("/notifications/{id:[0-9]+}", h.DeleteNotification).Methods("DELETE")
	router.HandleFunc("/devices", h.RegisterDevice).Methods("POST")
	router.HandleFunc("/devices/{id:[0-9]+}", h.DeleteDevice).Methods("DELETE")
}

func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}
	page, perPage, err := utils.ParsePaginationParams(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	query := h.db.Model(&models.Notification{}).Where("user_id = ?", userID)
	if unread, _ := strconv.ParseBool(r.URL.Query().Get("unread")); unread {
		query = query.Where("is_read = ?", false)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	var notifications []models.Notification
	if err := query.Order("created_at DESC, id DESC").
		Limit(perPage).
		Offset(utils.Offset(page, perPage)).
		Find(&notifications).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	var unreadCount int64
	if err := h.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Count(&unreadCount).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": notifications,
		"unread_count":  unreadCount,
		"pagination":    utils.NewPaginationMeta(page, perPage, total),
	})
}

func (h *NotificationHandler) MarkRead(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	var notification models.Notification
	if err := h.db.Where("id = ? AND user_id = ?", id, userID).First(&notification).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrNotificationNotFound
		}
		utils.WriteError(w, err)
		return
	}

	if !notification.Read {
		if err := h.db.Model(&notification).Update("is_read", true).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		notification.Read = true
	}
	utils.RespondWithJSON(w, http.StatusOK, notification)
}

func (h *NotificationHandler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	result := h.db.Model(&models.Notification{}).
		Where("user_id = ? AND is_read = ?", userID, false).
		Update("is_read", true)
	if result.Error != nil {
		utils.WriteError(w, result.Error)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "All notifications marked as read",
		"updated": result.RowsAffected,
	})
}

func (h *NotificationHandler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	result := h.db.Where("id = ? AND user_id = ?", id, userID).Delete(&models.Notification{})
	if result.Error != nil {
		utils.WriteError(w, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		utils.WriteError(w, ErrNotificationNotFound)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Notification deleted"})
}

// RegisterDevice stores an Expo push token for the caller, updating the
// device details when the token is already known.
func (h *NotificationHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var req struct {
		Token      string `json:"token"`
		DeviceType string `json:"device_type"`
		DeviceName string `json:"device_name"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.Token = strings.TrimSpace(req.Token)

	var verr utils.ValidationError
	if req.Token == "" {
		verr.Add("token", "required")
	} else if !ValidPushToken(req.Token) {
		verr.Add("token", "invalid Expo push token")
	}
	if err := verr.Err(); err != nil {
		utils.WriteError(w, err)
		return
	}

	var device models.Device
	err = h.db.Where("token = ? AND user_id = ?", req.Token, userID).First(&device).Error
	switch {
	case err == nil:
		device.DeviceType = req.DeviceType
		device.DeviceName = req.DeviceName
		if err := h.db.Save(&device).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
	case errors.Is(err, gorm.ErrRecordNotFound):
		device = models.Device{UserID: userID, Token: req.Token, DeviceType: req.DeviceType, DeviceName: req.DeviceName}
		if err := h.db.Create(&device).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
	default:
		utils.WriteError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message": "Device registered successfully",
		"device":  device,
	})
}

func (h *NotificationHandler) DeleteDevice(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	result := h.db.Unscoped().Where("id = ? AND user_id = ?", id, userID).Delete(&models.Device{})
	if result.Error != nil {
		utils.WriteError(w, result.Error)
		return
	}
	if result.RowsAffected == 0 {
		utils.WriteError(w, ErrDeviceNotFound)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Device deleted successfully"})
}
