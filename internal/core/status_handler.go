package core

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"courier/internal/types"
)

// StatusResponse is the body of GET /status/{notification_id}.
type StatusResponse struct {
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
}

// HandleStatus returns the stored status token, or "unknown" for ids the
// store has never seen. Unknown ids are not an error.
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "notification_id"))
	if id == "" {
		Error(w, r, types.NewAppError(types.ErrCodeValidationMissingField, "notification_id is required", nil))
		return
	}

	st, err := s.Statuses.Lookup(r.Context(), id)
	if err != nil {
		s.Logger.Error("status lookup failed",
			"notification_id", id,
			"error", err.Error(),
		)
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, StatusResponse{NotificationID: id, Status: st})
}
