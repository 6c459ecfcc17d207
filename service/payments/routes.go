package payments

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/models"
	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/KAsare1/agriconsult-server/service/notifications"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

const (
	DefaultMethod   = "mobile_money"
	amountTolerance = 0.01
)

var (
	ErrConsultationNotFound = utils.NewError(http.StatusNotFound, "consultation not found")
	ErrClientOnly           = utils.NewError(http.StatusForbidden, "only the client who booked the consultation can pay for it")
	ErrNotPayable           = utils.NewError(http.StatusConflict, "consultation cannot be paid in its current status")
	ErrAlreadyPaid          = utils.NewError(http.StatusConflict, "consultation is already paid")
)

type PaymentHandler struct {
	db       *gorm.DB
	notifier *notifications.Notifier
	log      zerolog.Logger
}

func NewPaymentHandler(db *gorm.DB, notifier *notifications.Notifier, logger zerolog.Logger) *PaymentHandler {
	return &PaymentHandler{db: db, notifier: notifier, log: logger}
}

func (h *PaymentHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/payments", h.CreatePayment).Methods("POST")
	router.HandleFunc("/payments", h.ListPayments).Methods("GET")
	router.HandleFunc("/payments/consultation/{id:[0-9]+}", h.ConsultationPayments).Methods("GET")
	router.HandleFunc("/my-payments", h.MyPayments).Methods("GET")
}

type paymentRequest struct {
	ConsultationID uint    `json:"consultation_id"`
	Amount         float64 `json:"amount"`
	Method         string  `json:"method"`
}

func (h *PaymentHandler) CreatePayment(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	var req paymentRequest
	if err := utils.DecodeJSON(r, &req); err != nil {
		utils.WriteError(w, err)
		return
	}
	if req.ConsultationID == 0 {
		utils.WriteError(w, &utils.ValidationError{Fields: map[string]string{"consultation_id": "required"}})
		return
	}

	var c models.Consultation
	if err := h.db.First(&c, req.ConsultationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrConsultationNotFound
		}
		utils.WriteError(w, err)
		return
	}
	if c.ClientID != userID {
		utils.WriteError(w, ErrClientOnly)
		return
	}
	if c.Status != models.StatusPending && c.Status != models.StatusAccepted {
		utils.WriteError(w, ErrNotPayable)
		return
	}
	if c.Paid {
		utils.WriteError(w, ErrAlreadyPaid)
		return
	}
	if err := validateAmount(req.Amount, c.Fee); err != nil {
		utils.WriteError(w, err)
		return
	}

	method := strings.TrimSpace(req.Method)
	if method == "" {
		method = DefaultMethod
	}
	payment := models.Payment{
		ConsultationID: c.ID,
		ClientID:       c.ClientID,
		ExpertID:       c.ExpertID,
		Amount:         req.Amount,
		Method:         method,
		Reference:      "PAY-" + strings.ToUpper(uuid.New().String()),
		Status:         models.PaymentCompleted,
	}

	err = h.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Consultation{}).
			Where("id = ? AND paid = ? AND status IN ?", c.ID, false, models.ActiveStatuses).
			Update("paid", true)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrAlreadyPaid
		}
		return tx.Create(&payment).Error
	})
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	h.log.Info().Uint("consultation_id", c.ID).Str("reference", payment.Reference).Float64("amount", payment.Amount).Msg("payment recorded")

	h.notifier.NotifyAll(r.Context(), notifications.Event{
		UserID:      c.ExpertID,
		Type:        models.NotifPaymentReceived,
		Title:       "Payment received",
		Description: fmt.Sprintf("Payment of GHS %.2f received for \"%s\"", payment.Amount, c.Topic),
		Link:        fmt.Sprintf("/consultations/%d", c.ID),
		Data:        map[string]interface{}{"consultation_id": c.ID, "payment_id": payment.ID},
	})

	utils.RespondWithJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "Payment recorded successfully",
		"payment": payment,
	})
}

func validateAmount(amount, fee float64) error {
	var v utils.ValidationError
	switch {
	case amount <= 0:
		v.Add("amount", "must be greater than zero")
	case fee > 0 && math.Abs(amount-fee) > amountTolerance:
		v.Add("amount", fmt.Sprintf("must equal the consultation fee of %.2f", fee))
	}
	return v.Err()
}

func (h *PaymentHandler) ConsultationPayments(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}
	id, _ := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)

	var c models.Consultation
	if err := h.db.First(&c, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			err = ErrConsultationNotFound
		}
		utils.WriteError(w, err)
		return
	}
	if !c.HasParticipant(userID) {
		utils.WriteError(w, utils.ErrForbidden)
		return
	}

	var list []models.Payment
	if err := h.db.Where("consultation_id = ?", c.ID).
		Preload("Consultation.Expert").Preload("Consultation.Client").
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{"payments": models.NewPaymentViews(list)})
}

// ownPayments scopes a payment query to the caller's side of the ledger.
func (h *PaymentHandler) ownPayments(r *http.Request) (*gorm.DB, error) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		return nil, utils.ErrUnauthorized
	}
	column := "client_id"
	if utils.GetRoleFromContext(r.Context()) == models.RoleExpert {
		column = "expert_id"
	}
	return h.db.Model(&models.Payment{}).Where(column+" = ?", userID), nil
}

type Summary struct {
	TotalPaid     float64 `json:"total_paid"`
	TotalRefunded float64 `json:"total_refunded"`
	Count         int     `json:"count"`
}

func Summarize(list []models.Payment) Summary {
	var s Summary
	for _, p := range list {
		switch p.Status {
		case models.PaymentCompleted:
			s.TotalPaid += p.Amount
		case models.PaymentRefunded:
			s.TotalRefunded += p.Amount
		}
	}
	s.TotalPaid = math.Round(s.TotalPaid*100) / 100
	s.TotalRefunded = math.Round(s.TotalRefunded*100) / 100
	s.Count = len(list)
	return s
}

func (h *PaymentHandler) MyPayments(w http.ResponseWriter, r *http.Request) {
	query, err := h.ownPayments(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	var list []models.Payment
	if err := query.Preload("Consultation.Expert").Preload("Consultation.Client").
		Order("created_at DESC").
		Find(&list).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"payments": models.NewPaymentViews(list),
		"summary":  Summarize(list),
	})
}

// ListPayments is the paginated form of MyPayments with the method, status
// and date range filters.
func (h *PaymentHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	query, err := h.ownPayments(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	page, perPage, err := utils.ParsePaginationParams(r)
	if err != nil {
		utils.WriteError(w, err)
		return
	}

	params := r.URL.Query()
	if method := params.Get("method"); method != "" {
		query = query.Where("method = ?", method)
	}
	if status := params.Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}
	if raw := params.Get("start_date"); raw != "" {
		start, err := time.Parse("2006-01-02", raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid start_date format, use YYYY-MM-DD")
			return
		}
		query = query.Where("created_at >= ?", start)
	}
	if raw := params.Get("end_date"); raw != "" {
		end, err := time.Parse("2006-01-02", raw)
		if err != nil {
			utils.RespondWithError(w, http.StatusBadRequest, "invalid end_date format, use YYYY-MM-DD")
			return
		}
		query = query.Where("created_at < ?", end.Add(24*time.Hour))
	}
	query = query.Session(&gorm.Session{})

	var total int64
	if err := query.Count(&total).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	var list []models.Payment
	if err := query.Preload("Consultation.Expert").Preload("Consultation.Client").
		Order("created_at DESC").
		Limit(perPage).
		Offset(utils.Offset(page, perPage)).
		Find(&list).Error; err != nil {
		utils.WriteError(w, err)
		return
	}

	utils.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"payments":   models.NewPaymentViews(list),
		"pagination": utils.NewPaginationMeta(page, perPage, total),
	})
}
