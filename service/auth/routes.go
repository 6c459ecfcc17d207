package auth

import (
	"errors"
	"net/http"
	"net/mail"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const (
	minPasswordLength = 6
	// bcrypt ignores input past 72 bytes and refuses to hash it.
	maxPasswordLength = 72
)

var (
	ErrEmailTaken         = utils.NewError(http.StatusConflict, "email is already in use")
	ErrInvalidCredentials = utils.NewError(http.StatusUnauthorized, "invalid email or password")
	ErrUserNotFound       = utils.NewError(http.StatusNotFound, "user not found")
)

// ChatTokenIssuer mints tokens for the hosted chat service. The stream-chat
// client satisfies it.
type ChatTokenIssuer interface {
	CreateToken(userID string, expire time.Time, issuedAt ...time.Time) (string, error)
}

type Handler struct {
	db       *gorm.DB
	tokens   *utils.TokenIssuer
	uploader *utils.Uploader
	chat     ChatTokenIssuer
	log      zerolog.Logger
}

// NewHandler builds the auth handler. chat may be nil when no chat service is configured.
func NewHandler(db *gorm.DB, tokens *utils.TokenIssuer, uploader *utils.Uploader, chat ChatTokenIssuer, logger zerolog.Logger) *Handler {
	return &Handler{db: db, tokens: tokens, uploader: uploader, chat: chat, log: logger}
}

// RegisterPublicRoutes mounts the routes reachable without a token.
func (h *Handler) RegisterPublicRoutes(router *mux.Router) {
	router.HandleFunc("/auth/register", h.Register).Methods("POST")
	router.HandleFunc("/auth/login", h.Login).Methods("POST")
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/auth/profile", h.GetProfile).Methods("GET")
	router.HandleFunc("/auth/profile", h.UpdateProfile).Methods("PUT")
	router.HandleFunc("/auth/profile/picture", h.UploadPicture).Methods("POST")
	router.HandleFunc("/auth/password", h.ChangePassword).Methods("PUT")
}

type registerRequest struct {
	FullName        string   `json:"full_name"`
	Email           string   `json:"email"`
	Password        string   `json:"password"`
	Role            string   `json:"role"`
	Phone           string   `json:"phone"`
	FarmName        string   `json:"farm_name"`
	Location        string   `json:"location"`
	FarmSize        string   `json:"farm_size"`
	PrimaryCrops    []string `json:"primary_crops"`
	Specialty       string   `json:"specialty"`
	Specialties     []string `json:"specialties"`
	Bio             string   `json:"bio"`
	ExperienceYears int      `json:"experience_years"`
	HourlyRate      float64  `json:"hourly_rate"`
}

func (req *registerRequest) validate() error {
	var v utils.ValidationError
	req.FullName = strings.TrimSpace(req.FullName)
	req.Email = normalizeEmail(req.Email)

	if req.FullName == "" {
		v.Add("full_name", "required")
	}
	if req.Email == "" {
		v.Add("email", "required")
	} else if !validEmail(req.Email) {
		v.Add("email", "invalid email address")
	}
	if req.Password == "" {
		v.Add("password", "required")
	} else if len(req.Password) < minPasswordLength {
		v.Add("password", "must be at least 6 characters")
	} else if len(req.Password) > maxPasswordLength {
		v.Add("password", "must be at most 72 bytes")
	}
	role := models.NormalizeRole(req.Role)
	if role == "" {
		v.Add("role", "must be farmer or expert")
	}
	req.Role = role
	if req.HourlyRate < 0 {
		v.Add("hourly_rate", "must not be negative")
	}
	if req.ExperienceYears < 0 {
		v.Add("experience_years", "must not be negative")
	}
	return v.Err()
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := req.validate(); err != nil {
		utils.WriteError(w, err)
		return
	}

	var existing int64
	if err := h.db.Model(&models.User{}).Where("email = ?", req.Email).Count(&existing).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	if existing > 0 {
		utils.WriteError(w, ErrEmailTaken)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	user := models.User{
		FullName:     req.FullName,
		Email:        req.Email,
		PasswordHash: string(hash),
		Role:         req.Role,
		Phone:        strings.TrimSpace(req.Phone),
		FarmName:     strings.TrimSpace(req.FarmName),
		Location:     strings.TrimSpace(req.Location),
		FarmSize:     strings.TrimSpace(req.FarmSize),
		PrimaryCrops: cleanList(req.PrimaryCrops),
	}
	if user.IsExpert() {
		specialties := cleanList(req.Specialties)
		specialty := strings.TrimSpace(req.Specialty)
		if specialty == "" && len(specialties) > 0 {
			specialty = specialties[0]
		}
		user.ExpertProfile = &models.ExpertProfile{
			Specialty:       specialty,
			Specialties:     specialties,
			Bio:             strings.TrimSpace(req.Bio),
			ExperienceYears: req.ExperienceYears,
			HourlyRate:      req.HourlyRate,
		}
	}

	if err := h.db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			utils.WriteError(w, ErrEmailTaken)
			return
		}
		utils.WriteError(w, err)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	h.log.Info().Uint("user_id", user.ID).Str("role", user.Role).Msg("user registered")
	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "User registered successfully",
		"token":   token,
		"user":    user,
	})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	var user models.User
	if err := h.db.Preload("ExpertProfile").Where("email = ?", normalizeEmail(req.Email)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrInvalidCredentials
		}
		utils.WriteError(w, err)
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		utils.WriteError(w, ErrInvalidCredentials)
		return
	}

	token, err := h.tokens.Issue(user.ID, user.Role)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	response := map[string]interface{}{
		"message": "Login successful",
		"token":   token,
		"user":    user,
	}
	if h.chat != nil {
		streamToken, err := h.chat.CreateToken(strconv.FormatUint(uint64(user.ID), 10), time.Now().Add(24*time.Hour*365))
		if err != nil {
			h.log.Warn().Err(err).Uint("user_id", user.ID).Msg("create chat token")
		} else {
			response["stream_token"] = streamToken
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, response)
}

func (h *Handler) currentUser(r *http.Request) (*models.User, error) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, utils.ErrUnauthorized
	}
	var user models.User
	if err := h.db.Preload("ExpertProfile").First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, user)
}

type profileUpdate struct {
	FullName     *string   `json:"full_name"`
	Email        *string   `json:"email"`
	Phone        *string   `json:"phone"`
	FarmName     *string   `json:"farm_name"`
	Location     *string   `json:"location"`
	FarmSize     *string   `json:"farm_size"`
	PrimaryCrops *[]string `json:"primary_crops"`
}

func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var req profileUpdate
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	var v utils.ValidationError
	updates := map[string]interface{}{}
	if req.FullName != nil {
		if name := strings.TrimSpace(*req.FullName); name == "" {
			v.Add("full_name", "must not be empty")
		} else {
			updates["full_name"] = name
		}
	}
	if req.Email != nil {
		email := normalizeEmail(*req.Email)
		if !validEmail(email) {
			v.Add("email", "invalid email address")
		} else if email != user.Email {
			var taken int64
			if err := h.db.Model(&models.User{}).Where("email = ? AND id <> ?", email, user.ID).Count(&taken).Error; err != nil {
				utils.WriteError(w, err)
				return
			}
			if taken > 0 {
				utils.WriteError(w, ErrEmailTaken)
				return
			}
			updates["email"] = email
		}
	}
	if err := v.Err(); err != nil {
		utils.WriteError(w, err)
		return
	}
	for column, value := range map[string]*string{
		"phone":     req.Phone,
		"farm_name": req.FarmName,
		"location":  req.Location,
		"farm_size": req.FarmSize,
	} {
		if value != nil {
			updates[column] = strings.TrimSpace(*value)
		}
	}
	if req.PrimaryCrops != nil {
		updates["primary_crops"] = cleanList(*req.PrimaryCrops)
	}

	if len(updates) > 0 {
		if err := h.db.Model(user).Updates(updates).Error; err != nil {
			utils.WriteError(w, err)
			return
		}
	}

	user, err = h.currentUser(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, user)
}

func (h *Handler) UploadPicture(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	if err := r.ParseMultipartForm(utils.MaxUploadSize); err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	file, header, err := r.FormFile("picture")
	if err != nil {
		utils.RespondWithError(w, http.StatusBadRequest, "picture file is required")
		return
	}
	defer file.Close()

	url, err := h.uploader.Save(file, header, utils.KindImages)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	previous := user.ProfilePicture
	if err := h.db.Model(user).Update("profile_picture", url).Error; err != nil {
		h.uploader.Delete(url)
		utils.WriteError(w, err)
		return
	}
	if previous != "" {
		if err := h.uploader.Delete(previous); err != nil {
			h.log.Warn().Err(err).Str("path", previous).Msg("remove old profile picture")
		}
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"profile_picture": url})
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	user, err := h.currentUser(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var req struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}

	var v utils.ValidationError
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.CurrentPassword)) != nil {
		v.Add("current_password", "incorrect password")
	}
	if len(req.NewPassword) < minPasswordLength {
		v.Add("new_password", "must be at least 6 characters")
	} else if len(req.NewPassword) > maxPasswordLength {
		v.Add("new_password", "must be at most 72 bytes")
	}
	if err := v.Err(); err != nil {
		utils.WriteError(w, err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), bcrypt.DefaultCost)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	if err := h.db.Model(user).Update("password_hash", string(hash)).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func cleanList(items []string) models.StringList {
	out := models.StringList{}
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
