package gateway

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/nexus-core/internal/agent"
	"github.com/haasonsaas/nexus-core/internal/nexuserr"
	"github.com/haasonsaas/nexus-core/pkg/models"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The gateway fronts trusted dashboards and channel bridges; origin
	// policy is enforced upstream.
	CheckOrigin: func(*http.Request) bool { return true },
}

// chatRequest is one client message on /chat/stream.
type chatRequest struct {
	ProjectID models.ProjectID  `json:"projectId"`
	SessionID models.SessionID  `json:"sessionId,omitempty"`
	Message   string            `json:"message"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// wsConn serializes writes; the run goroutine and the read loop both emit.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) writeEvent(event models.AgentStreamEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(event)
}

func (c *wsConn) writeError(code nexuserr.Code, message string) {
	_ = c.writeEvent(models.AgentStreamEvent{
		Type:    models.StreamError,
		Time:    time.Now().UTC(),
		Code:    string(code),
		Message: message,
	})
}

// handleChatStream runs agent turns over a WebSocket. One run per
// connection at a time; a message arriving mid-run gets a BUSY error and
// the connection stays open.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	wc := &wsConn{conn: conn}
	var running sync.WaitGroup
	var inFlight bool
	var inFlightMu sync.Mutex

	for {
		var req chatRequest
		if err := conn.ReadJSON(&req); err != nil {
			break
		}

		inFlightMu.Lock()
		if inFlight {
			inFlightMu.Unlock()
			wc.writeError(nexuserr.CodeBusy, "a run is already in progress on this connection")
			continue
		}
		inFlight = true
		inFlightMu.Unlock()

		running.Add(1)
		go func(req chatRequest) {
			defer running.Done()
			defer func() {
				inFlightMu.Lock()
				inFlight = false
				inFlightMu.Unlock()
			}()
			s.runChatTurn(r.Context(), wc, req)
		}(req)
	}
	running.Wait()
}

func (s *Server) runChatTurn(ctx context.Context, wc *wsConn, req chatRequest) {
	if req.ProjectID == "" || req.Message == "" {
		wc.writeError(nexuserr.CodeValidation, "projectId and message are required")
		return
	}

	project, err := s.projects.GetProject(ctx, req.ProjectID)
	if err != nil {
		wc.writeError(nexuserr.CodeOf(err), err.Error())
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		session, err := s.sessions.Create(ctx, project.ID, models.SessionMetadata{
			Channel:   req.Metadata["channel"],
			ContactID: req.Metadata["contact_id"],
			AgentID:   models.AgentID(req.Metadata["agent_id"]),
		})
		if err != nil {
			wc.writeError(nexuserr.CodeOf(err), err.Error())
			return
		}
		sessionID = session.ID
	}

	events, err := s.runner.Run(ctx, agent.RunRequest{
		Project:     project,
		SessionID:   sessionID,
		UserMessage: req.Message,
		Variables:   req.Metadata,
	})
	if err != nil {
		wc.writeError(nexuserr.CodeOf(err), err.Error())
		return
	}

	for event := range events {
		if err := wc.writeEvent(event); err != nil {
			// Client gone; drain so the run can flush its trace.
			for range events {
			}
			return
		}
	}
}
