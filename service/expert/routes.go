package expert

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

var ErrExpertNotFound = utils.NewError(http.StatusNotFound, "expert not found")

// OnlineChecker reports which users currently have a live heartbeat.
type OnlineChecker interface {
	Online(ctx context.Context, userIDs []uint) (map[uint]bool, error)
}

type ExpertHandler struct {
	db       *gorm.DB
	presence OnlineChecker
	log      zerolog.Logger
}

func NewExpertHandler(db *gorm.DB, presence OnlineChecker, logger zerolog.Logger) *ExpertHandler {
	return &ExpertHandler{db: db, presence: presence, log: logger}
}

func (h *ExpertHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/experts", h.ListExperts).Methods("GET")
	router.HandleFunc("/experts/profile", utils.RequireRole(models.RoleExpert, h.UpdateProfile)).Methods("PUT")
	router.HandleFunc("/experts/{id:[0-9]+}", h.GetExpert).Methods("GET")
	router.HandleFunc("/farmers", utils.RequireRole(models.RoleExpert, h.ListFarmers)).Methods("GET")
}

// ExpertView flattens an expert user and profile into the card the
// directory renders.
type ExpertView struct {
	ID              uint              `json:"id"`
	FullName        string            `json:"full_name"`
	Email           string            `json:"email"`
	Phone           string            `json:"phone"`
	Location        string            `json:"location"`
	ProfilePicture  string            `json:"profile_picture"`
	Specialty       string            `json:"specialty"`
	Specialties     models.StringList `json:"specialties"`
	Bio             string            `json:"bio"`
	ExperienceYears int               `json:"experience_years"`
	HourlyRate      float64           `json:"hourly_rate"`
	Verified        bool              `json:"verified"`
	AverageRating   float64           `json:"average_rating"`
	TotalRatings    int               `json:"total_ratings"`
	Online          bool              `json:"online"`
	MemberSince     time.Time         `json:"member_since"`
}

func newExpertView(u models.User) ExpertView {
	v := ExpertView{
		ID:             u.ID,
		FullName:       u.FullName,
		Email:          u.Email,
		Phone:          u.Phone,
		Location:       u.Location,
		ProfilePicture: u.ProfilePicture,
		MemberSince:    u.CreatedAt,
	}
	if p := u.ExpertProfile; p != nil {
		v.Specialty = p.Specialty
		v.Specialties = p.Specialties
		v.Bio = p.Bio
		v.ExperienceYears = p.ExperienceYears
		v.HourlyRate = p.HourlyRate
		v.Verified = p.Verified
		v.AverageRating = p.AverageRating
		v.TotalRatings = p.TotalRatings
	}
	return v
}

func (h *ExpertHandler) ListExperts(w http.ResponseWriter, r *http.Request) {
	page, perPage, err := utils.ParsePaginationParams(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	params := r.URL.Query()

	query := h.db.Model(&models.User{}).
		Joins("JOIN experts ON experts.user_id = users.id AND experts.deleted_at IS NULL").
		Where("users.role = ?", models.RoleExpert)

	if q := strings.ToLower(strings.TrimSpace(params.Get("q"))); q != "" {
		like := "%" + q + "%"
		query = query.Where("LOWER(users.full_name) LIKE ? OR LOWER(experts.specialty) LIKE ? OR LOWER(experts.bio) LIKE ?", like, like, like)
	}
	if specialty := strings.ToLower(strings.TrimSpace(params.Get("specialty"))); specialty != "" {
		like := "%" + specialty + "%"
		query = query.Where("LOWER(experts.specialty) LIKE ? OR LOWER(CAST(experts.specialties AS TEXT)) LIKE ?", like, like)
	}
	if location := strings.ToLower(strings.TrimSpace(params.Get("location"))); location != "" {
		query = query.Where("LOWER(users.location) LIKE ?", "%"+location+"%")
	}
	if raw := params.Get("verified"); raw != "" {
		verified, err := strconv.ParseBool(raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid verified parameter")
			return
		}
		query = query.Where("experts.verified = ?", verified)
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	var users []models.User
	if err := query.Preload("ExpertProfile").
		Order("experts.average_rating DESC, users.id ASC").
		Limit(perPage).
		Offset(utils.Offset(page, perPage)).
		Find(&users).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	experts := make([]ExpertView, 0, len(users))
	ids := make([]uint, 0, len(users))
	for _, u := range users {
		experts = append(experts, newExpertView(u))
		ids = append(ids, u.ID)
	}
	h.markOnline(r.Context(), experts, ids)

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"experts":    experts,
		"pagination": utils.NewPaginationMeta(page, perPage, total),
	})
}

func (h *ExpertHandler) markOnline(ctx context.Context, experts []ExpertView, ids []uint) {
	if h.presence == nil || len(ids) == 0 {
		return
	}
	online, err := h.presence.Online(ctx, ids)
	if err != nil {
		h.log.Warn().Err(err).Msg("load expert presence")
		return
	}
	for i := range experts {
		experts[i].Online = online[experts[i].ID]
	}
}

type reviewView struct {
	models.Review
	ClientName  string `json:"client_name"`
	ClientPhoto string `json:"client_photo"`
}

func (h *ExpertHandler) GetExpert(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	var user models.User
	if err := h.db.Preload("ExpertProfile").
		Where("id = ? AND role = ?", id, models.RoleExpert).
		First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrExpertNotFound
		}
		utils.WriteError(w, err)
		return
	}

	var reviews []models.Review
	if err := h.db.Preload("Client").
		Where("expert_id = ?", user.ID).
		Order("created_at DESC").
		Limit(10).
		Find(&reviews).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	views := make([]reviewView, 0, len(reviews))
	for _, rv := range reviews {
		v := reviewView{Review: rv}
		if rv.Client != nil {
			v.ClientName = rv.Client.FullName
			v.ClientPhoto = rv.Client.ProfilePicture
		}
		views = append(views, v)
	}

	var completed int64
	if err := h.db.Model(&models.Consultation{}).
		Where("expert_id = ? AND status = ?", user.ID, models.StatusCompleted).
		Count(&completed).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	expert := []ExpertView{newExpertView(user)}
	h.markOnline(r.Context(), expert, []uint{user.ID})

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"expert":                  expert[0],
		"reviews":                 views,
		"completed_consultations": completed,
	})
}

type profileUpdate struct {
	Specialty       *string   `json:"specialty"`
	Specialties     *[]string `json:"specialties"`
	Bio             *string   `json:"bio"`
	ExperienceYears *int      `json:"experience_years"`
	HourlyRate      *float64  `json:"hourly_rate"`
}

func (h *ExpertHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var req profileUpdate
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	var v utils.ValidationError
	if req.HourlyRate != nil && *req.HourlyRate < 0 {
		v.Add("hourly_rate", "must not be negative")
	}
	if req.ExperienceYears != nil && *req.ExperienceYears < 0 {
		v.Add("experience_years", "must not be negative")
	}
	if err := v.Err(); err != nil {
		utils.WriteError(w, err)
		return
	}

	var profile models.ExpertProfile
	err = h.db.Where("user_id = ?", userID).First(&profile).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		profile = models.ExpertProfile{UserID: userID}
	} else if err != nil {
		utils.WriteError(w, err)
		return
	}

	if req.Specialty != nil {
		profile.Specialty = strings.TrimSpace(*req.Specialty)
	}
	if req.Specialties != nil {
		list := models.StringList{}
		for _, s := range *req.Specialties {
			if s = strings.TrimSpace(s); s != "" {
				list = append(list, s)
			}
		}
		profile.Specialties = list
	}
	if req.Bio != nil {
		profile.Bio = strings.TrimSpace(*req.Bio)
	}
	if req.ExperienceYears != nil {
		profile.ExperienceYears = *req.ExperienceYears
	}
	if req.HourlyRate != nil {
		profile.HourlyRate = *req.HourlyRate
	}

	if err := h.db.Save(&profile).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, profile)
}

type FarmerSummary struct {
	ID               uint              `json:"id"`
	FullName         string            `json:"full_name"`
	FarmName         string            `json:"farm_name"`
	Location         string            `json:"location"`
	FarmSize         string            `json:"farm_size"`
	PrimaryCrops     models.StringList `json:"primary_crops"`
	ProfilePicture   string            `json:"profile_picture"`
	Consultations    int               `json:"consultations"`
	LastConsultation time.Time         `json:"last_consultation"`
}

// ListFarmers returns the farmers the calling expert has consulted with,
// most recent first.
func (h *ExpertHandler) ListFarmers(w http.ResponseWriter, r *http.Request) {
	expertID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var consultations []models.Consultation
	if err := h.db.Select("client_id", "scheduled_at").
		Where("expert_id = ?", expertID).
		Find(&consultations).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	summaries := map[uint]*FarmerSummary{}
	var ids []uint
	for _, c := range consultations {
		s, ok := summaries[c.ClientID]
		if !ok {
			s = &FarmerSummary{ID: c.ClientID}
			summaries[c.ClientID] = s
			ids = append(ids, c.ClientID)
		}
		s.Consultations++
		if c.ScheduledAt.After(s.LastConsultation) {
			s.LastConsultation = c.ScheduledAt
		}
	}

	farmers := make([]FarmerSummary, 0, len(ids))
	if len(ids) > 0 {
		var users []models.User
		if err := h.db.Where("id IN ?", ids).Find(&users).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
		for _, u := range users {
			s := summaries[u.ID]
			s.FullName = u.FullName
			s.FarmName = u.FarmName
			s.Location = u.Location
			s.FarmSize = u.FarmSize
			s.PrimaryCrops = u.PrimaryCrops
			s.ProfilePicture = u.ProfilePicture
			farmers = append(farmers, *s)
		}
	}
	sort.Slice(farmers, func(i, j int) bool {
		return farmers[i].LastConsultation.After(farmers[j].LastConsultation)
	})

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"farmers": farmers})
}
