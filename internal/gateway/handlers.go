package gateway

import (
	"net/http"
	"strconv"

	"github.com/deidlabs/linkd/internal/audit"
	"github.com/deidlabs/linkd/internal/identity"
	"github.com/deidlabs/linkd/internal/saga"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.query.Stats(r.Context(), "healthz"); err != nil {
		dbOK = false
	}
	payload := map[string]any{
		"status":       "ok",
		"db_ok":        dbOK,
		"audit_denies": audit.DenyCount(),
	}
	if !dbOK {
		payload["status"] = "degraded"
		writeJSON(w, http.StatusServiceUnavailable, payload)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.query.Stats(r.Context(), r.PathValue("subject"))
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func pathPlatform(r *http.Request) (identity.Platform, error) {
	return identity.ParsePlatform(r.PathValue("platform"))
}

func (s *Server) handleListLinks(w http.ResponseWriter, r *http.Request) {
	var status identity.Status
	if raw := r.URL.Query().Get("status"); raw != "" {
		parsed, err := identity.ParseStatus(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		status = parsed
	}
	links, err := s.query.Links(r.Context(), r.PathValue("subject"), status)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	if links == nil {
		links = []*identity.LinkRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

func (s *Server) handleGetLink(w http.ResponseWriter, r *http.Request) {
	platform, err := pathPlatform(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.query.Link(r.Context(), r.PathValue("subject"), platform)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	size, _ := strconv.Atoi(q.Get("size"))

	var kinds []identity.ValidationKind
	for _, raw := range q["kind"] {
		kind, err := identity.ParseValidationKind(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		kinds = append(kinds, kind)
	}
	var networks []identity.Network
	for _, raw := range q["network"] {
		network, err := identity.ParseNetwork(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		networks = append(networks, network)
	}

	result, err := s.query.Tasks(r.Context(), page, size, kinds, networks)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	tasks := result.Tasks
	if tasks == nil {
		tasks = []*identity.TaskRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks, "total": result.Total})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.query.Task(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleGetValidation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.query.Validation(r.Context(), r.PathValue("subject"), r.PathValue("id"))
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject  string `json:"subject"`
		Platform string `json:"platform"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	platform, err := identity.ParsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	authorizeURL, err := s.verifier.AuthorizeLink(r.Context(), req.Subject, platform)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authorize_url": authorizeURL})
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject  string `json:"subject"`
		Platform string `json:"platform"`
		Code     string `json:"code"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	platform, err := identity.ParsePlatform(req.Platform)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.verifier.BeginLink(r.Context(), req.Subject, platform, req.Code)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handlePushLink(w http.ResponseWriter, r *http.Request) {
	platform, err := pathPlatform(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := s.verifier.PushLink(r.Context(), r.PathValue("subject"), platform)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type confirmRequest struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
}

func (s *Server) handleConfirmLink(w http.ResponseWriter, r *http.Request) {
	platform, err := pathPlatform(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	ref := identity.ChainRef{TxHash: req.TxHash, BlockNumber: req.BlockNumber}
	if err := s.verifier.ConfirmOnchain(r.Context(), r.PathValue("subject"), platform, ref); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleFailLink(w http.ResponseWriter, r *http.Request) {
	platform, err := pathPlatform(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	subject := r.PathValue("subject")
	if err := s.verifier.MarkLinkFailed(r.Context(), subject, platform, req.Reason); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	rec, err := s.query.Link(r.Context(), subject, platform)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	platform, err := pathPlatform(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.verifier.RemoveLink(r.Context(), r.PathValue("subject"), platform); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title          string                 `json:"title"`
		Description    string                 `json:"description"`
		ValidationKind string                 `json:"validation_kind"`
		Network        string                 `json:"network"`
		TargetContract string                 `json:"target_contract"`
		Threshold      int64                  `json:"threshold"`
		Badge          identity.BadgeMetadata `json:"badge"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rec, err := s.creator.CreateTask(r.Context(), saga.TaskDraft{
		Title:          req.Title,
		Description:    req.Description,
		ValidationKind: identity.ValidationKind(req.ValidationKind),
		Network:        identity.Network(req.Network),
		TargetContract: req.TargetContract,
		Threshold:      req.Threshold,
		Badge:          req.Badge,
	})
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	rec, err := s.creator.RetryChainSubmit(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleConfirmTask(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	ref := identity.ChainRef{TxHash: req.TxHash, BlockNumber: req.BlockNumber}
	if err := s.creator.ConfirmTaskChain(r.Context(), r.PathValue("id"), ref); err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

func (s *Server) handleValidateTask(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject string `json:"subject"`
		Wallet  string `json:"wallet"`
	}
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	rec, err := s.creator.ValidateTask(r.Context(), req.Subject, r.PathValue("id"), req.Wallet)
	if err != nil {
		s.writeWorkflowError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
