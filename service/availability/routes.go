package availability

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

var (
	ErrAvailabilityNotFound = utils.NewError(http.StatusNotFound, "availability not found")
	ErrExpertNotFound       = utils.NewError(http.StatusNotFound, "expert not found")
	ErrOverlap              = utils.NewError(http.StatusConflict, "time slot overlaps with existing availability")
)

type AvailabilityHandler struct {
	db  *gorm.DB
	now func() time.Time
}

func NewAvailabilityHandler(db *gorm.DB) *AvailabilityHandler {
	return &AvailabilityHandler{db: db, now: time.Now}
}

func (h *AvailabilityHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/availability", utils.RequireRole(models.RoleExpert, h.CreateAvailability)).Methods("POST")
	router.HandleFunc("/availability/{expertId:[0-9]+}", h.GetAvailability).Methods("GET")
	router.HandleFunc("/availability/{id:[0-9]+}", utils.RequireRole(models.RoleExpert, h.UpdateAvailability)).Methods("PUT")
	router.HandleFunc("/availability/{id:[0-9]+}", utils.RequireRole(models.RoleExpert, h.DeleteAvailability)).Methods("DELETE")
}

// Windows returns an expert's availability windows on date ordered by start time.
func Windows(db *gorm.DB, expertID uint, date string) ([]models.Availability, error) {
	var windows []models.Availability
	err := db.Where("expert_id = ? AND date = ?", expertID, date).
		Order("start_time ASC").
		Find(&windows).Error
	return windows, err
}

// Booked returns the consultations holding any of the expert's time on
// date, including ones that started the evening before.
func Booked(db *gorm.DB, expertID uint, date string) ([]models.Consultation, error) {
	midnight, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return nil, err
	}
	var booked []models.Consultation
	err = db.Where("expert_id = ? AND status IN ? AND scheduled_at < ? AND scheduled_at > ?",
		expertID, models.ActiveStatuses, midnight.Add(24*time.Hour), midnight.Add(-MaxDuration*time.Minute)).
		Find(&booked).Error
	return booked, err
}

func (h *AvailabilityHandler) GetAvailability(w http.ResponseWriter, r *http.Request) {
	expertID, _ := strconv.ParseUint(mux.Vars(r)["expertId"], 10, 64)

	var expert models.User
	if err := h.db.Where("id = ? AND role = ?", expertID, models.RoleExpert).First(&expert).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrExpertNotFound
		}
		utils.WriteError(w, err)
		return
	}

	now := h.now().UTC()
	date := r.URL.Query().Get("date")
	if date == "" {
		var windows []models.Availability
		if err := h.db.Where("expert_id = ? AND date >= ?", expert.ID, now.Format(DateLayout)).
			Order("date ASC, start_time ASC").
			Find(&windows).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"availability": windows})
		return
	}

	if _, err := time.Parse(DateLayout, date); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid date, expected YYYY-MM-DD")
		return
	}
	duration := SlotMinutes
	if raw := r.URL.Query().Get("duration"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d <= 0 {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid duration")
			return
		}
		duration = d
	}

	windows, err := Windows(h.db, expert.ID, date)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	booked, err := Booked(h.db, expert.ID, date)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"date":    date,
		"windows": windows,
		"slots":   FreeSlots(windows, booked, date, duration, now),
	})
}

type windowRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Note      string `json:"note"`
}

// normalize validates the request and rewrites the times as zero-padded HH:MM
// so they compare correctly as strings.
func (req *windowRequest) normalize(now time.Time) error {
	var v utils.ValidationError
	req.Date = strings.TrimSpace(req.Date)
	if req.Date == "" {
		v.Add("date", "required")
	} else if d, err := time.Parse(DateLayout, req.Date); err != nil {
		v.Add("date", "expected YYYY-MM-DD")
	} else if d.Before(now.UTC().Truncate(24 * time.Hour)) {
		v.Add("date", "must not be in the past")
	}

	start, err := ParseClock(strings.TrimSpace(req.StartTime))
	if err != nil {
		v.Add("start_time", "expected HH:MM")
	}
	end, err := ParseClock(strings.TrimSpace(req.EndTime))
	if err != nil {
		v.Add("end_time", "expected HH:MM")
	}
	if v.Empty() && end <= start {
		v.Add("end_time", "must be after start_time")
	}
	if err := v.Err(); err != nil {
		return err
	}
	req.StartTime = FormatClock(start)
	req.EndTime = FormatClock(end)
	req.Note = strings.TrimSpace(req.Note)
	return nil
}

func (h *AvailabilityHandler) overlaps(expertID uint, req windowRequest, excludeID uint) (bool, error) {
	var count int64
	query := h.db.Model(&models.Availability{}).
		Where("expert_id = ? AND date = ? AND start_time < ? AND end_time > ?", expertID, req.Date, req.EndTime, req.StartTime)
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	err := query.Count(&count).Error
	return count > 0, err
}

func (h *AvailabilityHandler) CreateAvailability(w http.ResponseWriter, r *http.Request) {
	expertID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var req windowRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := req.normalize(h.now()); err != nil {
		utils.WriteError(w, err)
		return
	}

	overlap, err := h.overlaps(expertID, req, 0)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if overlap {
		utils.WriteError(w, ErrOverlap)
		return
	}

	availability := models.Availability{
		ExpertID:  expertID,
		Date:      req.Date,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Note:      req.Note,
	}
	if err := h.db.Create(&availability).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, availability)
}

func (h *AvailabilityHandler) owned(r *http.Request) (*models.Availability, error) {
	expertID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, utils.ErrUnauthorized
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	var availability models.Availability
	if err := h.db.Where("id = ? AND expert_id = ?", id, expertID).First(&availability).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAvailabilityNotFound
		}
		return nil, err
	}
	return &availability, nil
}

func (h *AvailabilityHandler) UpdateAvailability(w http.ResponseWriter, r *http.Request) {
	availability, err := h.owned(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	req := windowRequest{
		Date:      availability.Date,
		StartTime: availability.StartTime,
		EndTime:   availability.EndTime,
		Note:      availability.Note,
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := req.normalize(h.now()); err != nil {
		utils.WriteError(w, err)
		return
	}

	overlap, err := h.overlaps(availability.ExpertID, req, availability.ID)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if overlap {
		utils.WriteError(w, ErrOverlap)
		return
	}

	availability.Date = req.Date
	availability.StartTime = req.StartTime
	availability.EndTime = req.EndTime
	availability.Note = req.Note
	if err := h.db.Save(availability).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, availability)
}

func (h *AvailabilityHandler) DeleteAvailability(w http.ResponseWriter, r *http.Request) {
	availability, err := h.owned(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := h.db.Delete(availability).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Availability deleted successfully"})
}
