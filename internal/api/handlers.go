package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/randomizedcoder/go-room-agent-supervisor/internal/process"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/registry"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/supervisor"
	"github.com/randomizedcoder/go-room-agent-supervisor/internal/workerprobe"
)

// StartRequest is the body of POST /api/start-agent. The session defaults to
// the room name.
type StartRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	process.Credentials
}

// StartResponse is returned on a successful start.
type StartResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	SessionID string `json:"sessionId"`
	Ready     bool   `json:"ready"`
	PID       int    `json:"pid"`
}

// StopRequest is the body of POST /api/stop-agent.
type StopRequest struct {
	SessionID string `json:"sessionId,omitempty"`
	RoomName  string `json:"roomName,omitempty"`
}

// StopResponse is returned by POST /api/stop-agent.
type StopResponse struct {
	Stopped   bool   `json:"stopped"`
	SessionID string `json:"sessionId"`
	PID       int    `json:"pid,omitempty"`
	Message   string `json:"message,omitempty"`
}

// AgentsResponse is returned by GET /api/agents.
type AgentsResponse struct {
	Count  int              `json:"count"`
	Agents []registry.Entry `json:"agents"`
}

// AgentResponse is returned by GET /api/agents/{sessionID}.
type AgentResponse struct {
	Agent registry.Entry      `json:"agent"`
	Probe *workerprobe.Result `json:"probe,omitempty"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func (s *Server) handleStartAgent(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), supervisor.KindInvalidRequest.String())
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(req.RoomName)
	}

	out, err := s.sup.Start(r.Context(), sessionID, req.Credentials)
	if err != nil {
		status, kind := statusForError(err)
		msg := err.Error()
		var se *supervisor.Error
		if errors.As(err, &se) {
			msg = se.Message
		} else {
			msg = "Internal server error: " + msg
		}
		writeError(w, status, msg, kind)
		return
	}

	writeJSON(w, http.StatusOK, StartResponse{
		Success:   true,
		Message:   out.Message,
		SessionID: out.SessionID,
		Ready:     out.Ready,
		PID:       out.PID,
	})
}

func (s *Server) handleStopAgent(w http.ResponseWriter, r *http.Request) {
	var req StopRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), supervisor.KindInvalidRequest.String())
		return
	}

	sessionID := strings.TrimSpace(req.SessionID)
	if sessionID == "" {
		sessionID = strings.TrimSpace(req.RoomName)
	}
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "Missing required parameters: sessionId or roomName", supervisor.KindInvalidRequest.String())
		return
	}

	res, err := s.sup.Stop(r.Context(), sessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to stop agent: "+err.Error(), "")
		return
	}

	writeJSON(w, http.StatusOK, StopResponse{
		Stopped:   res.Stopped,
		SessionID: res.SessionID,
		PID:       res.PID,
		Message:   res.Message,
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.sup.List()
	writeJSON(w, http.StatusOK, AgentsResponse{Count: len(agents), Agents: agents})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))

	entry, ok := s.sup.Status(sessionID)
	if !ok {
		writeError(w, http.StatusNotFound, supervisor.MessageNotFound, "")
		return
	}

	resp := AgentResponse{Agent: entry}
	if s.prober != nil && s.prober.Enabled() {
		res := s.prober.Probe(r.Context())
		resp.Probe = &res
	}
	writeJSON(w, http.StatusOK, resp)
}

// decode reads a JSON body into v, capped at the server's body limit.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("Invalid JSON body: %w", err)
	}
	return nil
}

// statusForError maps a Start error to an HTTP status and kind label.
func statusForError(err error) (int, string) {
	kind := supervisor.KindOf(err)
	switch kind {
	case supervisor.KindInvalidRequest:
		return http.StatusBadRequest, kind.String()
	case 0:
		return http.StatusInternalServerError, ""
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, ErrorResponse{Error: msg, Kind: kind})
}
