package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/internal/proactive"
	"github.com/haasonsaas/nexus-core/internal/provisioning"
	"github.com/haasonsaas/nexus-core/internal/sessions"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

const maxInboxLimit = 100

func (s *Server) handleProvision(w http.ResponseWriter, r *http.Request) {
	var req provisioning.ProvisionRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	result, err := s.onboarder.Provision(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, result)
}

func (s *Server) handleInbox(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	q := r.URL.Query()

	filter := sessions.InboxFilter{
		AgentID:   models.AgentID(q.Get("agentId")),
		Status:    models.SessionStatus(q.Get("status")),
		Channel:   q.Get("channel"),
		ContactID: q.Get("contactId"),
		Search:    q.Get("search"),
	}
	var err error
	if filter.Limit, err = queryInt(q.Get("limit")); err != nil {
		respondError(w, err)
		return
	}
	if filter.Limit > maxInboxLimit {
		respondError(w, nexuserr.Newf(nexuserr.CodeValidation, "limit must be at most %d", maxInboxLimit))
		return
	}
	if filter.Offset, err = queryInt(q.Get("offset")); err != nil {
		respondError(w, err)
		return
	}

	list, err := s.sessions.Inbox(r.Context(), projectID, filter)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"sessions": list})
}

func (s *Server) handleInboxSession(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	sessionID := models.SessionID(r.PathValue("sessionId"))

	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		respondError(w, err)
		return
	}
	if session.ProjectID != projectID {
		respondError(w, nexuserr.Newf(nexuserr.CodeNotFound, "session %s not found", sessionID))
		return
	}
	messages, err := s.sessions.History(r.Context(), sessionID, 0)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"session": session, "messages": messages})
}

func (s *Server) handleSessionTraces(w http.ResponseWriter, r *http.Request) {
	sessionID := models.SessionID(r.PathValue("sessionId"))
	traces, err := s.traces.ListBySession(r.Context(), sessionID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"traces": traces})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := models.TraceID(r.PathValue("id"))
	trace, err := s.traces.Get(r.Context(), id)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, trace)
}

func (s *Server) handleListMCPServers(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	servers, err := s.projects.ListMCPServers(r.Context(), projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"servers": servers})
}

func (s *Server) handleCreateMCPServer(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	var req struct {
		Name     string          `json:"name"`
		Template string          `json:"template"`
		Config   json.RawMessage `json:"config,omitempty"`
		Enabled  *bool           `json:"enabled,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.Name == "" || req.Template == "" {
		respondError(w, nexuserr.New(nexuserr.CodeValidation, "name and template are required"))
		return
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	server, err := s.projects.CreateMCPServer(r.Context(), models.MCPServer{
		ProjectID: projectID,
		Name:      req.Name,
		Template:  req.Template,
		Config:    req.Config,
		Enabled:   enabled,
	})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, server)
}

func (s *Server) handlePatchMCPServer(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	var req struct {
		Config  json.RawMessage `json:"config,omitempty"`
		Enabled *bool           `json:"enabled,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	server, err := s.projects.UpdateMCPServer(r.Context(), projectID, r.PathValue("id"),
		provisioning.MCPServerPatch{Config: req.Config, Enabled: req.Enabled})
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, server)
}

func (s *Server) handleDeleteMCPServer(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	if err := s.projects.DeleteMCPServer(r.Context(), projectID, r.PathValue("id")); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) handleListSecrets(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	list, err := s.secrets.List(r.Context(), projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"secrets": list})
}

func (s *Server) handleSetSecret(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	var req struct {
		Key         string `json:"key"`
		Value       string `json:"value"`
		Description string `json:"description,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.secrets.SetWithDescription(r.Context(), projectID, req.Key, req.Value, req.Description); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusCreated, map[string]string{"key": req.Key})
}

func (s *Server) handlePutSecret(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	key := r.PathValue("key")
	var req struct {
		Value       string `json:"value"`
		Description string `json:"description,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if err := s.secrets.SetWithDescription(r.Context(), projectID, key, req.Value, req.Description); err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]string{"key": key})
}

func (s *Server) handleDeleteSecret(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	deleted, err := s.secrets.Delete(r.Context(), projectID, r.PathValue("key"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

func (s *Server) handleSecretExists(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	exists, err := s.secrets.Exists(r.Context(), projectID, r.PathValue("key"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (s *Server) handleScheduleProactive(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	var req struct {
		Channel             string     `json:"channel"`
		RecipientIdentifier string     `json:"recipientIdentifier"`
		Content             string     `json:"content"`
		ScheduledFor        *time.Time `json:"scheduledFor,omitempty"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}

	scheduledFor := time.Now()
	immediate := true
	if req.ScheduledFor != nil && req.ScheduledFor.After(time.Now()) {
		scheduledFor = *req.ScheduledFor
		immediate = false
	}
	job, err := s.messenger.Schedule(r.Context(), proactive.ScheduleRequest{
		ProjectID:    projectID,
		Channel:      req.Channel,
		Recipient:    req.RecipientIdentifier,
		Content:      req.Content,
		ScheduledFor: scheduledFor,
	})
	if err != nil {
		respondError(w, err)
		return
	}

	if !immediate {
		respond(w, http.StatusAccepted, map[string]any{"scheduled": true, "jobId": job.ID})
		return
	}
	// Due now: deliver in-line so the caller learns the outcome.
	s.messenger.DeliverDue(r.Context())
	current, err := s.messenger.Job(r.Context(), job.ID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{
		"sent":  current.Status == proactive.JobSent,
		"jobId": job.ID,
	})
}

func (s *Server) handleCancelProactive(w http.ResponseWriter, r *http.Request) {
	canceled, err := s.messenger.Cancel(r.Context(), r.PathValue("jobId"))
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]bool{"canceled": canceled})
}

func (s *Server) handleListApprovals(w http.ResponseWriter, r *http.Request) {
	projectID := models.ProjectID(r.PathValue("projectId"))
	pending, err := s.approvals.ListPending(r.Context(), projectID)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, map[string]any{"approvals": pending})
}

func (s *Server) handleResolveApproval(w http.ResponseWriter, r *http.Request) {
	id := models.ApprovalID(r.PathValue("id"))
	var req struct {
		Approved   bool   `json:"approved"`
		ResolvedBy string `json:"resolvedBy"`
	}
	if err := decodeBody(r, &req); err != nil {
		respondError(w, err)
		return
	}
	if req.ResolvedBy == "" {
		respondError(w, nexuserr.New(nexuserr.CodeValidation, "resolvedBy is required"))
		return
	}
	resolved, err := s.approvals.Resolve(r.Context(), id, req.Approved, req.ResolvedBy)
	if err != nil {
		respondError(w, err)
		return
	}
	respond(w, http.StatusOK, resolved)
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int64{}
	for name, query := range map[string]string{
		"projects":         `SELECT COUNT(*) FROM projects WHERE status != 'deleted'`,
		"sessions":         `SELECT COUNT(*) FROM sessions`,
		"traces":           `SELECT COUNT(*) FROM execution_traces`,
		"pendingApprovals": `SELECT COUNT(*) FROM approval_requests WHERE status = 'pending'`,
		"pendingProactive": `SELECT COUNT(*) FROM proactive_jobs WHERE status = 'pending'`,
	} {
		var n int64
		if err := s.db.QueryRowContext(r.Context(), query).Scan(&n); err != nil {
			respondError(w, nexuserr.Wrap(nexuserr.CodeInternal, "dashboard count "+name, err))
			return
		}
		counts[name] = n
	}

	var totalCost float64
	if err := s.db.QueryRowContext(r.Context(),
		`SELECT COALESCE(SUM(cost_usd), 0) FROM usage_records`).Scan(&totalCost); err != nil {
		respondError(w, nexuserr.Wrap(nexuserr.CodeInternal, "dashboard cost total", err))
		return
	}

	respond(w, http.StatusOK, map[string]any{
		"counts":       counts,
		"totalCostUsd": totalCost,
	})
}

func queryInt(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, nexuserr.Newf(nexuserr.CodeValidation, "invalid numeric parameter %q", raw)
	}
	return n, nil
}
