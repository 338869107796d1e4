// Package api exposes the control/management HTTP surface of the
// bridge: channel-scoped call-control commands, a monitoring endpoint
// and Prometheus metrics.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/square-key-labs/voicebridge/src/ami"
	"github.com/square-key-labs/voicebridge/src/logger"
)

// Monitor is the view of active sessions exposed to the API. The bridge
// registry satisfies it.
type Monitor interface {
	Snapshot() (int, []string)
}

// Server is the management HTTP server.
type Server struct {
	port      int
	commander ami.Commander
	monitor   Monitor
	log       *logger.Logger
	startedAt time.Time
	http      *http.Server
}

// NewServer creates the management server.
func NewServer(port int, commander ami.Commander, monitor Monitor) *Server {
	return &Server{
		port:      port,
		commander: commander,
		monitor:   monitor,
		log:       logger.WithPrefix("api"),
		startedAt: time.Now(),
	}
}

// Handler builds the route table. Exposed for tests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/calls", s.handleLegacyCalls)
	mux.HandleFunc("/api/start-recording", s.handleStartRecording)
	mux.HandleFunc("/api/stop-recording", s.handleStopRecording)
	mux.HandleFunc("/api/stop-audio", s.handleStopAudio)
	mux.HandleFunc("/api/end-call", s.handleEndCall)
	mux.HandleFunc("/api/warm-transfer", s.handleWarmTransfer)
	mux.HandleFunc("/api/system-status", s.handleSystemStatus)
	mux.HandleFunc("/hangup", s.handleHangupNotify)
	mux.Handle("/metrics", promhttp.Handler())
	return s.logRequests(mux)
}

// Start runs the server in its own goroutine.
func (s *Server) Start() {
	s.http = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.Handler(),
	}
	go func() {
		s.log.Info("management HTTP server running on port %d", s.port)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("management server error: %v", err)
		}
	}()
}

// Stop shuts the server down.
func (s *Server) Stop() {
	if s.http != nil {
		s.http.Close()
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.log.Info("%s %s", r.Method, r.URL.Path)
		next.ServeHTTP(w, r)
	})
}

type channelRequest struct {
	CallChannel       string `json:"callChannel"`
	RecordingFileName string `json:"recordingFileName"`
	AgentExtension    string `json:"agentExtension"`
}

func (s *Server) decodeChannelRequest(w http.ResponseWriter, r *http.Request) (*channelRequest, bool) {
	var req channelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return nil, false
	}
	if req.CallChannel == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("callChannel is required"))
		return nil, false
	}
	return &req, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.log.Error("%v", err)
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) writeSuccess(w http.ResponseWriter) {
	s.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleLegacyCalls answers the pre-AudioSocket integration endpoint
// with a deprecation notice so old dialplans keep working.
func (s *Server) handleLegacyCalls(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "success",
		"data": map[string]interface{}{
			"socketURL": "DEPRECATED_USE_AUDIOSOCKET_INSTEAD",
			"rtpPort":   10000,
		},
		"message": "This endpoint is deprecated. Please use AudioSocket integration.",
	})
}

func (s *Server) handleStartRecording(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChannelRequest(w, r)
	if !ok {
		return
	}
	s.log.Info("start recording request for channel %s", req.CallChannel)
	if err := s.commander.StartRecording(req.CallChannel, req.RecordingFileName); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to start recording on %s: %w", req.CallChannel, err))
		return
	}
	s.writeSuccess(w)
}

func (s *Server) handleStopRecording(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChannelRequest(w, r)
	if !ok {
		return
	}
	s.log.Info("stop recording request for channel %s", req.CallChannel)
	if err := s.commander.StopRecording(req.CallChannel); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to stop recording on %s: %w", req.CallChannel, err))
		return
	}
	s.writeSuccess(w)
}

func (s *Server) handleStopAudio(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChannelRequest(w, r)
	if !ok {
		return
	}
	s.log.Info("stop audio request for channel %s", req.CallChannel)
	if err := s.commander.StopPlayback(req.CallChannel); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to stop audio on %s: %w", req.CallChannel, err))
		return
	}
	s.writeSuccess(w)
}

func (s *Server) handleEndCall(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChannelRequest(w, r)
	if !ok {
		return
	}
	s.log.Info("end call request for channel %s", req.CallChannel)
	if err := s.commander.Hangup(req.CallChannel); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to end call on %s: %w", req.CallChannel, err))
		return
	}
	s.writeSuccess(w)
}

func (s *Server) handleWarmTransfer(w http.ResponseWriter, r *http.Request) {
	req, ok := s.decodeChannelRequest(w, r)
	if !ok {
		return
	}
	if req.AgentExtension == "" {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("agentExtension is required"))
		return
	}
	s.log.Info("transfer request for channel %s to agent %s", req.CallChannel, req.AgentExtension)
	if err := s.commander.Redirect(req.CallChannel, req.AgentExtension); err != nil {
		s.writeError(w, http.StatusInternalServerError, fmt.Errorf("failed to transfer %s to %s: %w", req.CallChannel, req.AgentExtension, err))
		return
	}
	s.writeSuccess(w)
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	count, ids := s.monitor.Snapshot()
	s.log.Info("system status: %d active calls", count)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"activeCalls": ids,
		"callCount":   count,
		"uptime":      time.Since(s.startedAt).Seconds(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

// handleHangupNotify receives hangup notifications posted by the
// dialplan's hangup handler. The bridge derives teardown from the socket
// close itself, so this is informational only.
func (s *Server) handleHangupNotify(w http.ResponseWriter, r *http.Request) {
	var notice struct {
		Caller   string `json:"caller"`
		Called   string `json:"called"`
		Channel  string `json:"channel"`
		CallUUID string `json:"callUuid"`
	}
	if err := json.NewDecoder(r.Body).Decode(&notice); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	s.log.Info("hangup notice: %s -> %s (%s)", notice.Caller, notice.Called, notice.CallUUID)
	s.writeSuccess(w)
}
