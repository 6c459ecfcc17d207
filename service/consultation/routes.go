package consultation

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

const (
	TabUpcoming = "upcoming"
	TabPast     = "past"
)

type ConsultationHandler struct {
	db      *gorm.DB
	service *Service
	now     func() time.Time
}

func NewConsultationHandler(db *gorm.DB, service *Service) *ConsultationHandler {
	return &ConsultationHandler{db: db, service: service, now: time.Now}
}

func (h *ConsultationHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/consultations", h.ListConsultations).Methods("GET")
	router.HandleFunc("/consultations", utils.RequireRole(models.RoleFarmer, h.BookConsultation)).Methods("POST")
	router.HandleFunc("/consultations/{id:[0-9]+}", h.GetConsultation).Methods("GET")
	router.HandleFunc("/consultations/{id:[0-9]+}/status", h.UpdateStatus).Methods("PUT")
	router.HandleFunc("/consultations/{id:[0-9]+}/cancel", h.CancelConsultation).Methods("POST")
	router.HandleFunc("/consultations/{id:[0-9]+}/review", h.ReviewConsultation).Methods("POST")
}

func (h *ConsultationHandler) ListConsultations(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	column := "client_id"
	if utils.GetRoleFromContext(r.Context()) == models.RoleExpert {
		column = "expert_id"
	}
	query := h.db.Preload("Client").Preload("Expert.ExpertProfile").
		Where(column+" = ?", userID)

	now := h.now().UTC()
	switch tab := strings.ToLower(r.URL.Query().Get("tab")); tab {
	case TabUpcoming:
		query = query.Where("scheduled_at >= ? AND status IN ?", now, models.ActiveStatuses).
			Order("scheduled_at ASC")
	case TabPast:
		query = query.Where("(scheduled_at < ? OR status NOT IN ?)", now, models.ActiveStatuses).
			Order("scheduled_at DESC")
	case "":
		query = query.Order("scheduled_at DESC")
	default:
		utils.RespondWithError(w, http.StatusBadRequest, "tab must be upcoming or past")
		return
	}
	if status := strings.ToLower(r.URL.Query().Get("status")); status != "" {
		query = query.Where("status = ?", status)
	}

	var list []models.Consultation
	if err := query.Find(&list).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"consultations": models.NewConsultationViews(list),
	})
}

func (h *ConsultationHandler) BookConsultation(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var req BookingRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	c, err := h.service.Book(r.Context(), userID, req, h.now())
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message":      "Consultation booked successfully",
		"consultation": models.NewConsultationView(*c),
	})
}

// participant loads the consultation named in the path and checks the
// caller takes part in it.
func (h *ConsultationHandler) participant(r *http.Request) (*models.Consultation, uint, error) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, 0, utils.ErrUnauthorized
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	c, err := h.service.Load(r.Context(), uint(id))
	if err != nil {
		return nil, 0, err
	}
	if !c.HasParticipant(userID) {
		return nil, 0, utils.ErrForbidden
	}
	return c, userID, nil
}

func (h *ConsultationHandler) GetConsultation(w http.ResponseWriter, r *http.Request) {
	c, _, err := h.participant(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"consultation": models.NewConsultationView(*c),
	})
}

type statusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (h *ConsultationHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	req.Status = strings.ToLower(strings.TrimSpace(req.Status))
	if req.Status == "" {
		utils.WriteError(w, &utils.ValidationError{Fields: map[string]string{"status": "required"}})
		return
	}
	h.transition(w, r, req.Status, strings.TrimSpace(req.Reason))
}

func (h *ConsultationHandler) CancelConsultation(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if r.ContentLength > 0 {
		if err := utils.DecodeJSON(r, &req); err != nil {
			utils.WriteError(w, err)
			return
		}
	}
	h.transition(w, r, models.StatusCancelled, strings.TrimSpace(req.Reason))
}

func (h *ConsultationHandler) transition(w http.ResponseWriter, r *http.Request, to, reason string) {
	c, userID, err := h.participant(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	updated, err := h.service.Transition(r.Context(), c, userID, to, reason, h.now())
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":      "Consultation " + updated.Status,
		"consultation": models.NewConsultationView(*updated),
	})
}

type reviewRequest struct {
	Rating  int    `json:"rating"`
	Comment string `json:"comment"`
}

func (h *ConsultationHandler) ReviewConsultation(w http.ResponseWriter, r *http.Request) {
	c, userID, err := h.participant(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	var req reviewRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	review, err := h.service.Review(r.Context(), c, userID, req.Rating, strings.TrimSpace(req.Comment))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Review submitted",
		"review":  review,
	})
}
