package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ppiankov/trustgate/internal/model"
	"github.com/ppiankov/trustgate/internal/store"
)

// maxBodyBytes bounds request bodies. Policy documents are the largest
// payload and stay well under this.
const maxBodyBytes = 1 << 20

type checkRequest struct {
	TenantID string               `json:"tenant_id"`
	AgentID  string               `json:"agent_id"`
	Action   model.ProposedAction `json:"action"`
}

type outcomeRequest struct {
	TenantID string `json:"tenant_id"`
	ActionID string `json:"action_id"`
	// DecisionID correlates the outcome with the gate decision that
	// allowed the action. Optional; dedup is keyed on action id.
	DecisionID string                       `json:"decision_id,omitempty"`
	Outcomes   map[model.MetricName]float64 `json:"outcomes"`
	Timestamp  time.Time                    `json:"ts"`
}

func (s *Server) handleGateCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.TenantID == "" || req.AgentID == "" || req.Action.Type == "" {
		writeError(w, http.StatusBadRequest, "tenant_id, agent_id, and action.type are required")
		return
	}

	decision := s.gate.CheckAndLog(r.Context(), req.TenantID, req.AgentID, req.Action)
	writeJSON(w, http.StatusOK, decision)
}

func (s *Server) handleReportOutcome(w http.ResponseWriter, r *http.Request) {
	var req outcomeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Outcomes) == 0 {
		writeError(w, http.StatusBadRequest, "outcomes must not be empty")
		return
	}

	ts := req.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	samples := make([]model.TrustMetricSample, 0, len(req.Outcomes))
	for metric, value := range req.Outcomes {
		samples = append(samples, model.TrustMetricSample{
			TenantID:  req.TenantID,
			Metric:    metric,
			Value:     value,
			Timestamp: ts,
			ActionID:  req.ActionID,
		})
	}

	if err := s.collector.RecordOutcome(req.TenantID, req.ActionID, samples); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slog.Debug("outcome recorded", "tenant", req.TenantID,
		"action", req.ActionID, "decision", req.DecisionID)
	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true, "action_id": req.ActionID})
}

func (s *Server) handlePutPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	policy, err := s.store.PutPolicy(tenantID, body)
	if err != nil {
		// Validation failures carry the exact reason so operators can fix
		// the document without consulting server logs.
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	slog.Info("tenant policy updated", "tenant", tenantID,
		"rules", len(policy.Rules), "limits", len(policy.Limits))
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id":   tenantID,
		"policy_hash": s.store.PolicyHash(tenantID),
	})
}

func (s *Server) handleGetPolicy(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	doc, err := s.store.GetPolicyDoc(tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no policy for tenant %q", tenantID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("X-Policy-Hash", s.store.PolicyHash(tenantID))
	w.WriteHeader(http.StatusOK)
	w.Write(doc)
}

func (s *Server) handleGetTrust(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	state, err := s.store.GetTrustState(tenantID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Sprintf("no trust state for tenant %q", tenantID))
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleAuditQuery(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	fromSeq, ok := seqParam(w, r, "from")
	if !ok {
		return
	}
	toSeq, ok := seqParam(w, r, "to")
	if !ok {
		return
	}

	records, err := s.ledger.Query(tenantID, fromSeq, toSeq)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenant_id": tenantID,
		"count":     len(records),
		"records":   records,
	})
}

func (s *Server) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	result := s.ledger.VerifyChain(r.PathValue("tenant"))
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenant")
	transition, err := s.evaluator.EvaluateTenant(tenantID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, transition)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"tenants": len(s.store.Tenants()),
	})
}

func seqParam(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, true
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid %s param %q", name, raw))
		return 0, false
	}
	return v, true
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read request body: %w", err)
	}
	return body, nil
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}
