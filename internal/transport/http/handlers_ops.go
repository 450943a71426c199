package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"carecore/pkg/platform/fault"
)

type bulkheadStats struct {
	Active         int     `json:"active"`
	QueueLength    int     `json:"queue_length"`
	TotalExecuted  int64   `json:"total_executed"`
	TotalQueued    int64   `json:"total_queued"`
	TotalTimeouts  int64   `json:"total_timeouts"`
	TotalQueueFull int64   `json:"total_queue_full"`
	TotalDrained   int64   `json:"total_drained"`
	AvgExecMillis  float64 `json:"avg_exec_ms"`
}

func (h *Handler) handleBulkheadStats(w http.ResponseWriter, r *http.Request) {
	stats := h.bulkheads.Stats()
	out := make(map[string]bulkheadStats, len(stats))
	for service, s := range stats {
		out[service] = bulkheadStats{
			Active:         s.Active,
			QueueLength:    s.QueueLength,
			TotalExecuted:  s.TotalExecuted,
			TotalQueued:    s.TotalQueued,
			TotalTimeouts:  s.TotalTimeouts,
			TotalQueueFull: s.TotalQueueFull,
			TotalDrained:   s.TotalDrained,
			AvgExecMillis:  float64(s.AvgExecTime) / float64(time.Millisecond),
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type drainRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleDrain(w http.ResponseWriter, r *http.Request) {
	var req drainRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fault.New(fault.KindValidation, "bulkheads", "invalid request body", err))
		return
	}
	if req.Reason == "" {
		req.Reason = "operator requested drain"
	}

	rejected := h.bulkheads.DrainAll(req.Reason)
	h.logger.WarnContext(r.Context(), "bulkheads drained",
		"reason", req.Reason, "rejected", rejected)
	writeJSON(w, http.StatusOK, map[string]any{
		"rejected": rejected,
		"reason":   req.Reason,
	})
}

type auditEventResponse struct {
	ID              string    `json:"id"`
	Timestamp       time.Time `json:"timestamp"`
	ActorID         string    `json:"actor_id"`
	SessionID       string    `json:"session_id"`
	SubjectHash     string    `json:"subject_hash,omitempty"`
	Action          string    `json:"action"`
	Resource        string    `json:"resource"`
	ResourceID      string    `json:"resource_id,omitempty"`
	OutcomeCode     int       `json:"outcome_code"`
	RiskLevel       string    `json:"risk_level"`
	ComplianceFlags []string  `json:"compliance_flags,omitempty"`
	IntegrityHash   string    `json:"integrity_hash"`
}

func (h *Handler) handleRecentAudit(w http.ResponseWriter, r *http.Request) {
	depth := h.audit.Depth()
	if h.reader == nil {
		writeJSON(w, http.StatusOK, map[string]any{"buffer_depth": depth})
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			writeError(w, fault.New(fault.KindValidation, "audit", "limit must be 1-500", err))
			return
		}
		limit = n
	}

	events, err := h.reader.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	out := make([]auditEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, auditEventResponse{
			ID:              e.ID.String(),
			Timestamp:       e.Timestamp,
			ActorID:         e.ActorID,
			SessionID:       e.SessionID,
			SubjectHash:     e.SubjectHash,
			Action:          string(e.Action),
			Resource:        string(e.Resource),
			ResourceID:      e.ResourceID,
			OutcomeCode:     e.OutcomeCode,
			RiskLevel:       string(e.RiskLevel),
			ComplianceFlags: e.ComplianceFlags,
			IntegrityHash:   e.IntegrityHash,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"buffer_depth": depth,
		"events":       out,
	})
}
