package httptransport

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"carecore/internal/audit"
	"carecore/internal/session"
	"carecore/pkg/platform/fault"
)

type createSessionRequest struct {
	ActorID string `json:"actor_id"`
}

type sessionResponse struct {
	ID                string    `json:"id"`
	ActorID           string    `json:"actor_id"`
	State             string    `json:"state"`
	StartTime         time.Time `json:"start_time"`
	ExpiresAt         time.Time `json:"expires_at"`
	LastSeen          time.Time `json:"last_seen"`
	RemainingSeconds  int64     `json:"remaining_seconds"`
	ShouldShowWarning bool      `json:"should_show_warning"`
	Token             string    `json:"token,omitempty"`
}

func toSessionResponse(st session.Status) sessionResponse {
	return sessionResponse{
		ID:                st.ID.String(),
		ActorID:           st.ActorID,
		State:             string(st.State),
		StartTime:         st.StartTime,
		ExpiresAt:         st.ExpiresAt,
		LastSeen:          st.LastSeen,
		RemainingSeconds:  int64(st.Remaining / time.Second),
		ShouldShowWarning: st.ShouldShowWarning,
	}
}

func (h *Handler) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "sessions", "invalid request body", err))
		return
	}
	if req.ActorID == "" {
		writeError(w, fault.New(fault.KindValidation, "sessions", "actor_id is required", nil))
		return
	}

	st, err := h.sessions.Create(r.Context(), req.ActorID)
	if err != nil {
		writeError(w, err)
		return
	}

	resp := toSessionResponse(st)
	if h.tokens != nil {
		token, err := h.tokens.Generate(st)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "session token generation failed",
				"session_id", st.ID, "error", err)
			writeError(w, err)
			return
		}
		resp.Token = token
	}

	h.audit.Log(r.Context(), audit.Record{
		ActorID:     st.ActorID,
		SessionID:   st.ID.String(),
		Action:      audit.ActionLogin,
		Resource:    audit.ResourceSession,
		ResourceID:  st.ID.String(),
		OutcomeCode: http.StatusCreated,
	})

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	st, err := h.sessions.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(st))
}

func (h *Handler) handleTouchSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Touch(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	st, err := h.sessions.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(st))
}

func (h *Handler) handleExpireSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	if err := h.sessions.Expire(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleTeardownSession(w http.ResponseWriter, r *http.Request) {
	id, ok := h.sessionID(w, r)
	if !ok {
		return
	}
	st, err := h.sessions.Status(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.sessions.Teardown(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.audit.Log(r.Context(), audit.Record{
		ActorID:     st.ActorID,
		SessionID:   st.ID.String(),
		Action:      audit.ActionDelete,
		Resource:    audit.ResourceSession,
		ResourceID:  st.ID.String(),
		OutcomeCode: http.StatusNoContent,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) sessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, fault.New(fault.KindValidation, "sessions", "invalid session id", err))
		return uuid.Nil, false
	}
	return id, true
}
