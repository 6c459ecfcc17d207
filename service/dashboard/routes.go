package dashboard

import (
	"net/http"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

type DashboardHandler struct {
	db         *gorm.DB
	feePercent float64
	now        func() time.Time
}

func NewDashboardHandler(db *gorm.DB, feePercent float64) *DashboardHandler {
	return &DashboardHandler{db: db, feePercent: feePercent, now: time.Now}
}

type DashboardStats struct {
	TotalFarmers       int64   `json:"total_farmers"`
	TotalExperts       int64   `json:"total_experts"`
	TotalConsultations int64   `json:"total_consultations"`
	TotalVolume        float64 `json:"total_volume"`
}

func (h *DashboardHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/earnings", utils.RequireRole(models.RoleExpert, h.GetEarnings)).Methods("GET")
	router.HandleFunc("/analytics", h.GetAnalytics).Methods("GET")
	router.HandleFunc("/dashboard/stats", h.GetDashboardStats).Methods("GET")
}

func (h *DashboardHandler) GetEarnings(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var payments []models.Payment
	if err := h.db.Preload("Consultation.Client").Preload("Consultation.Expert").
		Where("expert_id = ?", userID).
		Find(&payments).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	var completed int64
	if err := h.db.Model(&models.Consultation{}).
		Where("expert_id = ? AND status = ?", userID, models.StatusCompleted).
		Count(&completed).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, ComputeEarnings(payments, completed, h.feePercent, h.now()))
}

func (h *DashboardHandler) GetAnalytics(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}
	role := utils.GetRoleFromContext(r.Context())
	column := "client_id"
	if role == models.RoleExpert {
		column = "expert_id"
	}

	var consultations []models.Consultation
	if err := h.db.Preload("Client").Preload("Expert").
		Where(column+" = ?", userID).
		Find(&consultations).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	var payments []models.Payment
	if err := h.db.Where(column+" = ?", userID).Find(&payments).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	a := BuildAnalytics(role, userID, consultations, payments, h.now())
	if role == models.RoleExpert {
		var profile models.ExpertProfile
		if err := h.db.Where("user_id = ?", userID).First(&profile).Error; err == nil {
			a.AverageRating = profile.AverageRating
			a.TotalRatings = profile.TotalRatings
		}
	}
	utils.RespondWithJSON(w, http.StatusOK, a)
}

// GetDashboardStats returns platform-wide totals.
func (h *DashboardHandler) GetDashboardStats(w http.ResponseWriter, r *http.Request) {
	var stats DashboardStats

	if err := h.db.Model(&models.User{}).Where("role = ?", models.RoleFarmer).Count(&stats.TotalFarmers).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := h.db.Model(&models.User{}).Where("role = ?", models.RoleExpert).Count(&stats.TotalExperts).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := h.db.Model(&models.Consultation{}).Count(&stats.TotalConsultations).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := h.db.Model(&models.Payment{}).
		Where("status = ?", models.PaymentCompleted).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&stats.TotalVolume).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	stats.TotalVolume = round2(stats.TotalVolume)

	utils.RespondWithJSON(w, http.StatusOK, stats)
}
