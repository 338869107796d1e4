package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeCommander struct {
	calls []string
	err   error
}

func (f *fakeCommander) record(format string, args ...interface{}) error {
	f.calls = append(f.calls, fmt.Sprintf(format, args...))
	return f.err
}

func (f *fakeCommander) SetVariable(channel, name, value string) error {
	return f.record("setvar %s %s=%s", channel, name, value)
}
func (f *fakeCommander) GetVariable(channel, name string) (string, error) {
	return "", f.record("getvar %s %s", channel, name)
}
func (f *fakeCommander) Hangup(channel string) error { return f.record("hangup %s", channel) }
func (f *fakeCommander) Redirect(channel, exten string) error {
	return f.record("redirect %s %s", channel, exten)
}
func (f *fakeCommander) StartRecording(channel, fileName string) error {
	return f.record("monitor %s %s", channel, fileName)
}
func (f *fakeCommander) StopRecording(channel string) error {
	return f.record("stopmonitor %s", channel)
}
func (f *fakeCommander) StopPlayback(channel string) error {
	return f.record("stoptones %s", channel)
}

type fakeMonitor struct {
	count int
	ids   []string
}

func (f *fakeMonitor) Snapshot() (int, []string) { return f.count, f.ids }

func newTestServer(commander *fakeCommander, monitor *fakeMonitor) *Server {
	if monitor == nil {
		monitor = &fakeMonitor{}
	}
	return NewServer(0, commander, monitor)
}

func post(t *testing.T, handler http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest("POST", path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestChannelCommands(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		body     string
		wantCall string
	}{
		{
			name:     "start recording",
			path:     "/api/start-recording",
			body:     `{"callChannel":"SIP/100-1","recordingFileName":"rec-1"}`,
			wantCall: "monitor SIP/100-1 rec-1",
		},
		{
			name:     "stop recording",
			path:     "/api/stop-recording",
			body:     `{"callChannel":"SIP/100-1"}`,
			wantCall: "stopmonitor SIP/100-1",
		},
		{
			name:     "stop audio",
			path:     "/api/stop-audio",
			body:     `{"callChannel":"SIP/100-1"}`,
			wantCall: "stoptones SIP/100-1",
		},
		{
			name:     "end call",
			path:     "/api/end-call",
			body:     `{"callChannel":"SIP/100-1"}`,
			wantCall: "hangup SIP/100-1",
		},
		{
			name:     "warm transfer",
			path:     "/api/warm-transfer",
			body:     `{"callChannel":"SIP/100-1","agentExtension":"7001"}`,
			wantCall: "redirect SIP/100-1 7001",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			commander := &fakeCommander{}
			handler := newTestServer(commander, nil).Handler()

			rec := post(t, handler, tt.path, tt.body)
			assert.Equal(t, http.StatusOK, rec.Code)
			require.Len(t, commander.calls, 1)
			assert.Equal(t, tt.wantCall, commander.calls[0])

			var body map[string]bool
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.True(t, body["success"])
		})
	}
}

func TestCommandFailureReturns500(t *testing.T) {
	commander := &fakeCommander{err: fmt.Errorf("no such channel")}
	handler := newTestServer(commander, nil).Handler()

	rec := post(t, handler, "/api/end-call", `{"callChannel":"SIP/gone-1"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "no such channel")
}

func TestMissingChannelIsRejected(t *testing.T) {
	commander := &fakeCommander{}
	handler := newTestServer(commander, nil).Handler()

	rec := post(t, handler, "/api/end-call", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, commander.calls)
}

func TestWarmTransferRequiresAgentExtension(t *testing.T) {
	commander := &fakeCommander{}
	handler := newTestServer(commander, nil).Handler()

	rec := post(t, handler, "/api/warm-transfer", `{"callChannel":"SIP/100-1"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, commander.calls)
}

func TestSystemStatus(t *testing.T) {
	monitor := &fakeMonitor{count: 2, ids: []string{"conn-1", "conn-2"}}
	handler := newTestServer(&fakeCommander{}, monitor).Handler()

	req := httptest.NewRequest("GET", "/api/system-status", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		ActiveCalls []string `json:"activeCalls"`
		CallCount   int      `json:"callCount"`
		Timestamp   string   `json:"timestamp"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 2, body.CallCount)
	assert.Equal(t, []string{"conn-1", "conn-2"}, body.ActiveCalls)
	assert.NotEmpty(t, body.Timestamp)
}

func TestLegacyCallsEndpointIsDeprecated(t *testing.T) {
	handler := newTestServer(&fakeCommander{}, nil).Handler()

	rec := post(t, handler, "/api/calls", `{"caller":"6001","called":"5000"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "DEPRECATED_USE_AUDIOSOCKET_INSTEAD")
}

func TestHangupNotifyAccepted(t *testing.T) {
	handler := newTestServer(&fakeCommander{}, nil).Handler()

	rec := post(t, handler, "/hangup", `{"caller":"6001","called":"5000","callUuid":"u-1"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMetricsEndpointExposed(t *testing.T) {
	handler := newTestServer(&fakeCommander{}, nil).Handler()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
