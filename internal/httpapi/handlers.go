package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/xdien/cipher/internal/domain"
)

type serverSummary struct {
	Name  string `json:"name"`
	State string `json:"state"`
}

type listServersResponse struct {
	Servers        []serverSummary `json:"servers"`
	TotalConnected int             `json:"totalConnected"`
	TotalFailed    int             `json:"totalFailed"`
	TotalServers   int             `json:"totalServers"`
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	records := s.fleet.Servers()

	resp := listServersResponse{TotalServers: len(records)}
	for _, rec := range records {
		name := ""
		if rec.Descriptor != nil {
			name = rec.Descriptor.Name
		}
		resp.Servers = append(resp.Servers, serverSummary{Name: name, State: rec.State.String()})
		switch rec.State {
		case domain.StateRunning:
			resp.TotalConnected++
		case domain.StateFailed:
			resp.TotalFailed++
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

type addServerRequest struct {
	Name           string            `json:"name"`
	Type           string            `json:"type"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	URL            string            `json:"url,omitempty"`
	Headers        map[string]string `json:"headers,omitempty"`
	TimeoutMs      int               `json:"timeout,omitempty"`
	ConnectionMode string            `json:"connectionMode,omitempty"`
	Enabled        *bool             `json:"enabled,omitempty"`
}

type addServerResponse struct {
	ServerName string    `json:"serverName"`
	Connected  bool      `json:"connected"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *Server) handleAddServer(w http.ResponseWriter, r *http.Request) {
	var req addServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
		return
	}

	for _, rec := range s.fleet.Servers() {
		if rec.Descriptor != nil && rec.Descriptor.Name == req.Name {
			writeError(w, http.StatusConflict, CodeBadRequest, "server already exists: "+req.Name)
			return
		}
	}

	mode := domain.ConnectionModeLenient
	if req.ConnectionMode != "" {
		mode = domain.ConnectionMode(req.ConnectionMode)
	}
	timeout := req.TimeoutMs
	if timeout == 0 {
		timeout = 30000
	}
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	descriptor := &domain.ServerDescriptor{
		Name:           req.Name,
		Kind:           domain.TransportKind(req.Type),
		Command:        req.Command,
		Args:           req.Args,
		Env:            req.Env,
		URL:            req.URL,
		Headers:        req.Headers,
		TimeoutMs:      timeout,
		ConnectionMode: mode,
		Enabled:        enabled,
	}

	if err := descriptor.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, CodeServerError, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), time.Duration(timeout)*time.Millisecond)
	defer cancel()

	_, err := s.fleet.StartConnection(ctx, descriptor)
	if err != nil {
		var shuttingDown *domain.ShuttingDownError
		if errors.As(err, &shuttingDown) {
			writeError(w, http.StatusServiceUnavailable, CodeServerError, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, CodeServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, addServerResponse{
		ServerName: req.Name,
		Connected:  true,
		Timestamp:  time.Now(),
	})
}

type removeServerResponse struct {
	ServerID     string    `json:"serverId"`
	Disconnected bool      `json:"disconnected"`
	Timestamp    time.Time `json:"timestamp"`
}

func (s *Server) handleRemoveServer(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if _, ok := s.fleet.GetConnection(name); !ok {
		if !serverExists(s.fleet.Servers(), name) {
			writeError(w, http.StatusNotFound, CodeNotFound, "server not found: "+name)
			return
		}
	}

	if err := s.fleet.StopConnection(r.Context(), name); err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, removeServerResponse{
		ServerID:     name,
		Disconnected: true,
		Timestamp:    time.Now(),
	})
}

func serverExists(records []domain.ConnectionRecord, name string) bool {
	for _, rec := range records {
		if rec.Descriptor != nil && rec.Descriptor.Name == name {
			return true
		}
	}
	return false
}

type serverToolsResponse struct {
	ServerID string                   `json:"serverId"`
	Tools    []domain.ToolDescriptor `json:"tools"`
	Count    int                      `json:"count"`
}

func (s *Server) handleServerTools(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	conn, ok := s.fleet.GetConnection(name)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "server not found or not running: "+name)
		return
	}

	sess, err := conn.GetSession(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, CodeSessionNotFound, err.Error())
		return
	}

	tools, err := sess.ListTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, serverToolsResponse{ServerID: name, Tools: tools, Count: len(tools)})
}

type executeToolRequest struct {
	Arguments map[string]any `json:"arguments"`
}

type executeToolResponse struct {
	ServerID  string    `json:"serverId"`
	ToolName  string    `json:"toolName"`
	Result    any       `json:"result"`
	Executed  bool      `json:"executed"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleExecuteServerTool(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	tool := r.PathValue("tool")

	var req executeToolRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, CodeBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	conn, ok := s.fleet.GetConnection(name)
	if !ok {
		writeError(w, http.StatusNotFound, CodeNotFound, "server not found or not running: "+name)
		return
	}

	sess, err := conn.GetSession(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, CodeSessionNotFound, err.Error())
		return
	}

	result, err := sess.CallTool(r.Context(), tool, req.Arguments)
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, executeToolResponse{
		ServerID:  name,
		ToolName:  tool,
		Result:    json.RawMessage(result.Value),
		Executed:  result.OK,
		Timestamp: time.Now(),
	})
}

func (s *Server) handleListAllTools(w http.ResponseWriter, r *http.Request) {
	entries, err := s.tools.GetAllTools(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, CodeServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, entries)
}
