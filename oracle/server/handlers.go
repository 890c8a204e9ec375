package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	errorsmod "cosmossdk.io/errors"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/GPTx-global/oao-assistant/oracle/contract"
	"github.com/GPTx-global/oao-assistant/oracle/coordinator"
	"github.com/GPTx-global/oao-assistant/oracle/health"
	"github.com/GPTx-global/oao-assistant/oracle/recommend"
	"github.com/GPTx-global/oao-assistant/oracle/types"
)

const maxBodySize = 1 << 20

type recommendRequest struct {
	Request     string `json:"request"`
	RiskProfile string `json:"risk_profile"`
}

type createRequest struct {
	Request     string  `json:"request"`
	RiskProfile string  `json:"risk_profile"`
	Prompt      string  `json:"prompt"`
	ModelID     *uint64 `json:"model_id"`
}

type requestView struct {
	ID      string              `json:"id"`
	Request types.OracleRequest `json:"request"`
	Result  *types.OracleResult `json:"result,omitempty"`
	Receipt *contract.Receipt   `json:"receipt,omitempty"`
}

type healthResponse struct {
	Healthy bool            `json:"healthy"`
	Checks  []health.Status `json:"checks"`
}

func decode(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "failed to read body: %v", err)
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errorsmod.Wrapf(types.ErrInvalidRequest, "invalid JSON: %v", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, healthResponse{Healthy: true, Checks: []health.Status{}})
		return
	}

	statuses := s.deps.Health.Run(r.Context())
	resp := healthResponse{Healthy: s.deps.Health.IsHealthy(), Checks: statuses}

	status := http.StatusOK
	if !resp.Healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.deps.Metrics == nil {
		writeError(w, errorsmod.Wrap(types.ErrNotFound, "metrics are disabled"))
		return
	}

	summary, err := s.deps.Metrics.DisplayMetrics(w, r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Engine == nil {
		writeError(w, errorsmod.Wrap(types.ErrNotFound, "recommendations are disabled"))
		return
	}

	var req recommendRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	risk, err := recommend.ParseRiskProfile(req.RiskProfile)
	if err != nil {
		writeError(w, err)
		return
	}

	rec, err := s.deps.Engine.Recommend(r.Context(), req.Request, risk)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleCreateRequest drafts an oracle request. A raw prompt is used byte
// for byte; otherwise the prompt is built from request and risk profile.
func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	prompt := req.Prompt
	if prompt == "" {
		if strings.TrimSpace(req.Request) == "" {
			writeError(w, errorsmod.Wrap(types.ErrInvalidRequest, "either prompt or request is required"))
			return
		}
		risk, err := recommend.ParseRiskProfile(req.RiskProfile)
		if err != nil {
			writeError(w, err)
			return
		}
		prompt = recommend.OraclePrompt(req.Request, risk)
	}

	modelID := s.deps.ModelID
	if req.ModelID != nil {
		modelID = *req.ModelID
	}

	id := uuid.NewString()
	c := coordinator.New(s.deps.Oracle, modelID, prompt)
	s.requests.Set(id, c)

	writeJSON(w, http.StatusCreated, requestView{ID: id, Request: c.Snapshot()})
}

func (s *Server) lookup(w http.ResponseWriter, r *http.Request) (string, *coordinator.Coordinator, bool) {
	id := mux.Vars(r)["id"]
	c, ok := s.requests.Get(id)
	if !ok {
		writeError(w, errorsmod.Wrapf(types.ErrNotFound, "request %s", id))
		return "", nil, false
	}
	return id, c, true
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	view := requestView{ID: id, Request: c.Snapshot()}
	if view.Request.Status.HasTx() {
		result := c.Result()
		view.Result = &result
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if !c.Snapshot().Status.Terminal() {
		_ = c.Abandon("abandoned by caller")
	}
	s.requests.Remove(id)

	writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) handleEstimateFee(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if _, err := c.EstimateFee(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestView{ID: id, Request: c.Snapshot()})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	if _, err := c.Submit(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, requestView{ID: id, Request: c.Snapshot()})
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	receipt, err := c.Confirm(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestView{ID: id, Request: c.Snapshot(), Receipt: receipt})
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	id, c, ok := s.lookup(w, r)
	if !ok {
		return
	}

	result, err := c.CheckResult(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, requestView{ID: id, Request: c.Snapshot(), Result: &result})
}
