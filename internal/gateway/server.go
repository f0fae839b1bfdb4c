// Package gateway is the HTTP surface: REST handlers wrapped in the
// {success, data, error} envelope, the /chat/stream WebSocket, health, and
// Prometheus metrics.
package gateway

import (
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/approval"
	"github.com/haasonsaas/nexus-core/internal/observability"
	"github.com/haasonsaas/nexus-core/internal/proactive"
	"github.com/haasonsaas/nexus-core/internal/provisioning"
	"github.com/haasonsaas/nexus-core/internal/secrets"
	"github.com/haasonsaas/nexus-core/internal/sessions"
	"github.com/haasonsaas/nexus-core/internal/trace"
)

// Server wires the REST and WebSocket handlers to the runtime components.
type Server struct {
	db        *sql.DB
	projects  *provisioning.Store
	onboarder *provisioning.Onboarder
	sessions  *sessions.Store
	traces    *trace.Store
	secrets   *secrets.Store
	approvals *approval.Gate
	messenger *proactive.Messenger
	runner    *agent.Runner

	logger   *observability.Logger
	gatherer prometheus.Gatherer
}

// Deps wires a Server. Gatherer may be nil to skip the /metrics endpoint.
type Deps struct {
	DB        *sql.DB
	Projects  *provisioning.Store
	Onboarder *provisioning.Onboarder
	Sessions  *sessions.Store
	Traces    *trace.Store
	Secrets   *secrets.Store
	Approvals *approval.Gate
	Messenger *proactive.Messenger
	Runner    *agent.Runner

	Logger   *observability.Logger
	Gatherer prometheus.Gatherer
}

// NewServer creates a server.
func NewServer(deps Deps) *Server {
	return &Server{
		db:        deps.DB,
		projects:  deps.Projects,
		onboarder: deps.Onboarder,
		sessions:  deps.Sessions,
		traces:    deps.Traces,
		secrets:   deps.Secrets,
		approvals: deps.Approvals,
		messenger: deps.Messenger,
		runner:    deps.Runner,
		logger:    deps.Logger,
		gatherer:  deps.Gatherer,
	}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealthz)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	mux.HandleFunc("POST /onboarding/provision", s.handleProvision)

	mux.HandleFunc("GET /projects/{projectId}/inbox", s.handleInbox)
	mux.HandleFunc("GET /projects/{projectId}/inbox/{sessionId}", s.handleInboxSession)

	mux.HandleFunc("GET /sessions/{sessionId}/traces", s.handleSessionTraces)
	mux.HandleFunc("GET /traces/{id}", s.handleTrace)

	mux.HandleFunc("GET /projects/{projectId}/mcp-servers", s.handleListMCPServers)
	mux.HandleFunc("POST /projects/{projectId}/mcp-servers", s.handleCreateMCPServer)
	mux.HandleFunc("PATCH /projects/{projectId}/mcp-servers/{id}", s.handlePatchMCPServer)
	mux.HandleFunc("DELETE /projects/{projectId}/mcp-servers/{id}", s.handleDeleteMCPServer)

	mux.HandleFunc("GET /projects/{projectId}/secrets", s.handleListSecrets)
	mux.HandleFunc("POST /projects/{projectId}/secrets", s.handleSetSecret)
	mux.HandleFunc("PUT /projects/{projectId}/secrets/{key}", s.handlePutSecret)
	mux.HandleFunc("DELETE /projects/{projectId}/secrets/{key}", s.handleDeleteSecret)
	mux.HandleFunc("GET /projects/{projectId}/secrets/{key}/exists", s.handleSecretExists)

	mux.HandleFunc("POST /projects/{projectId}/proactive", s.handleScheduleProactive)
	mux.HandleFunc("DELETE /projects/{projectId}/proactive/{jobId}", s.handleCancelProactive)

	mux.HandleFunc("GET /projects/{projectId}/approvals", s.handleListApprovals)
	mux.HandleFunc("POST /approvals/{id}/resolve", s.handleResolveApproval)

	mux.HandleFunc("GET /dashboard/overview", s.handleDashboard)

	mux.HandleFunc("GET /chat/stream", s.handleChatStream)

	return mux
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
