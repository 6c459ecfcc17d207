package health

import (
	"context"
	"net/http"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
	"gorm.io/gorm"
)

const pingTimeout = 2 * time.Second

type Handler struct {
	db *gorm.DB
}

func NewHandler(db *gorm.DB) *Handler {
	return &Handler{db: db}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/health", h.Health).Methods("GET")
}

type Status struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
	defer cancel()

	if err := h.ping(ctx); err != nil {
		utils.RespondWithJSON(w, http.StatusServiceUnavailable, Status{Status: "degraded", Database: "down"})
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, Status{Status: "ok", Database: "up"})
}

func (h *Handler) ping(ctx context.Context) error {
	sqlDB, err := h.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
