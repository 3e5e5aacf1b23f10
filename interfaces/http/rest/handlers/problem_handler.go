package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"proofcanvas/application/ports"
	"proofcanvas/domain/collab"
	"proofcanvas/interfaces/websocket"
	"proofcanvas/pkg/auth"
	appErrors "proofcanvas/pkg/errors"
)

// RoomReader exposes the rooms held by the local relay
type RoomReader interface {
	RoomState(problemID string) (websocket.RoomState, bool)
}

// ProblemHandler serves read-only views of problem rooms
type ProblemHandler struct {
	rooms    RoomReader
	presence ports.PresenceStore
	errors   *appErrors.ErrorHandler
	logger   *zap.Logger
}

// NewProblemHandler creates a handler. presence may be nil, in which case
// only connections on this instance are listed.
func NewProblemHandler(rooms RoomReader, presence ports.PresenceStore, logger *zap.Logger) *ProblemHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProblemHandler{
		rooms:    rooms,
		presence: presence,
		errors:   appErrors.NewErrorHandler(logger),
		logger:   logger,
	}
}

// Me handles GET /me
func (h *ProblemHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		h.errors.Handle(w, r, appErrors.NewUnauthorizedError("no identity on request"))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]string{
		"user_id":      identity.UserID,
		"username":     identity.Username,
		"display_name": identity.DisplayName,
		"avatar_color": identity.AvatarColor,
	})
}

// GetPresence handles GET /problems/{problemID}/presence
func (h *ProblemHandler) GetPresence(w http.ResponseWriter, r *http.Request) {
	problemID := chi.URLParam(r, "problemID")

	if h.presence == nil {
		state, _ := h.rooms.RoomState(problemID)
		users := state.Users
		if users == nil {
			users = []collab.PresenceRecord{}
		}
		h.respondJSON(w, http.StatusOK, map[string]interface{}{
			"problem_id": problemID,
			"users":      users,
		})
		return
	}

	records, err := h.presence.ListByProblem(r.Context(), problemID)
	if err != nil {
		h.errors.Handle(w, r, err)
		return
	}
	if records == nil {
		records = []ports.ConnectionRecord{}
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"problem_id":  problemID,
		"connections": records,
	})
}

// GetState handles GET /problems/{problemID}/state
func (h *ProblemHandler) GetState(w http.ResponseWriter, r *http.Request) {
	problemID := chi.URLParam(r, "problemID")

	state, ok := h.rooms.RoomState(problemID)
	if !ok {
		h.errors.Handle(w, r, appErrors.NewNotFoundError("problem room"))
		return
	}
	h.respondJSON(w, http.StatusOK, state)
}

func (h *ProblemHandler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}
