package presence

import (
	"net/http"
	"strconv"
	"time"

	"github.com/KAsare1/agriconsult-server/cmd/utils"
	"github.com/gorilla/mux"
)

type Handler struct {
	store Store
	now   func() time.Time
}

func NewHandler(store Store) *Handler {
	return &Handler{store: store, now: time.Now}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/presence/heartbeat", h.Heartbeat).Methods("POST")
	router.HandleFunc("/presence/status/{id:[0-9]+}", h.Status).Methods("GET")
}

type Status struct {
	UserID   uint       `json:"user_id"`
	Online   bool       `json:"online"`
	LastSeen *time.Time `json:"last_seen"`
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	userID, err := utils.GetUserIDFromContext(r.Context())
	if err != nil {
		utils.WriteError(w, utils.ErrUnauthorized)
		return
	}

	now := h.now().UTC()
	if err := h.store.Touch(r.Context(), userID, now); err != nil {
		utils.WriteError(w, err)
		return
	}
	utils.RespondWithJSON(w, http.StatusOK, Status{UserID: userID, Online: true, LastSeen: &now})
}

func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || id == 0 {
		utils.RespondWithError(w, http.StatusBadRequest, "invalid user id")
		return
	}

	at, ok, err := h.store.LastSeen(r.Context(), uint(id))
	if err != nil {
		utils.WriteError(w, err)
		return
	}
	status := Status{UserID: uint(id), Online: ok}
	if ok {
		at = at.UTC()
		status.LastSeen = &at
	}
	utils.RespondWithJSON(w, http.StatusOK, status)
}
