package ami

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeManager is a minimal AMI endpoint: it greets with a banner,
// accepts Login, and answers subsequent actions from a scripted table.
type fakeManager struct {
	listener net.Listener

	mu      sync.Mutex
	actions []map[string]string
	// respond maps an action name to extra response fields; a
	// "Response: Error" entry makes the action fail.
	respond map[string]map[string]string
}

func newFakeManager(t *testing.T) *fakeManager {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	m := &fakeManager{
		listener: listener,
		respond:  make(map[string]map[string]string),
	}
	go m.serve()
	t.Cleanup(func() { listener.Close() })
	return m
}

func (m *fakeManager) serve() {
	for {
		conn, err := m.listener.Accept()
		if err != nil {
			return
		}
		go m.handle(conn)
	}
}

func (m *fakeManager) handle(conn net.Conn) {
	defer conn.Close()
	fmt.Fprint(conn, "Asterisk Call Manager/5.0.2\r\n")

	reader := bufio.NewReader(conn)
	frame := make(map[string]string)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		if line != "" {
			if key, value, ok := strings.Cut(line, ": "); ok {
				frame[key] = value
			}
			continue
		}
		if len(frame) == 0 {
			continue
		}

		m.mu.Lock()
		m.actions = append(m.actions, frame)
		extra := m.respond[frame["Action"]]
		m.mu.Unlock()

		response := "Success"
		var lines []string
		for key, value := range extra {
			if key == "Response" {
				response = value
				continue
			}
			lines = append(lines, fmt.Sprintf("%s: %s\r\n", key, value))
		}
		fmt.Fprintf(conn, "Response: %s\r\n", response)
		fmt.Fprintf(conn, "ActionID: %s\r\n", frame["ActionID"])
		for _, l := range lines {
			fmt.Fprint(conn, l)
		}
		fmt.Fprint(conn, "\r\n")

		frame = make(map[string]string)
	}
}

func (m *fakeManager) addr() (string, int) {
	tcp := m.listener.Addr().(*net.TCPAddr)
	return tcp.IP.String(), tcp.Port
}

func (m *fakeManager) actionsByName(name string) []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]string
	for _, a := range m.actions {
		if a["Action"] == name {
			out = append(out, a)
		}
	}
	return out
}

func (m *fakeManager) setResponse(action string, fields map[string]string) {
	m.mu.Lock()
	m.respond[action] = fields
	m.mu.Unlock()
}

func startTestClient(t *testing.T, m *fakeManager) *Client {
	t.Helper()
	host, port := m.addr()
	c := NewClient(host, port, "voicebot", "secret")
	go c.Run()
	t.Cleanup(c.Close)

	require.Eventually(t, func() bool {
		return len(m.actionsByName("Login")) > 0
	}, 3*time.Second, 10*time.Millisecond)
	return c
}

func TestLoginSendsCredentials(t *testing.T) {
	m := newFakeManager(t)
	startTestClient(t, m)

	logins := m.actionsByName("Login")
	require.Len(t, logins, 1)
	assert.Equal(t, "voicebot", logins[0]["Username"])
	assert.Equal(t, "secret", logins[0]["Secret"])
}

func TestSetVariable(t *testing.T) {
	m := newFakeManager(t)
	c := startTestClient(t, m)

	require.NoError(t, c.SetVariable("SIP/100-1", "AGENT_SIP_URI", "sip:agent1@x"))

	calls := m.actionsByName("Setvar")
	require.Len(t, calls, 1)
	assert.Equal(t, "SIP/100-1", calls[0]["Channel"])
	assert.Equal(t, "AGENT_SIP_URI", calls[0]["Variable"])
	assert.Equal(t, "sip:agent1@x", calls[0]["Value"])
}

func TestGetVariableReturnsValue(t *testing.T) {
	m := newFakeManager(t)
	c := startTestClient(t, m)
	m.setResponse("Getvar", map[string]string{"Value": "6001"})

	value, err := c.GetVariable("SIP/100-1", "CALLERID(num)")
	require.NoError(t, err)
	assert.Equal(t, "6001", value)
}

func TestErrorResponseSurfacesMessage(t *testing.T) {
	m := newFakeManager(t)
	c := startTestClient(t, m)
	m.setResponse("Hangup", map[string]string{
		"Response": "Error",
		"Message":  "No such channel",
	})

	err := c.Hangup("SIP/missing-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No such channel")
}

func TestRedirectCarriesDialplanTarget(t *testing.T) {
	m := newFakeManager(t)
	c := startTestClient(t, m)

	require.NoError(t, c.Redirect("SIP/100-1", "7001"))

	calls := m.actionsByName("Redirect")
	require.Len(t, calls, 1)
	assert.Equal(t, "7001", calls[0]["Exten"])
	assert.Equal(t, "default", calls[0]["Context"])
	assert.Equal(t, "1", calls[0]["Priority"])
}

func TestRecordingActions(t *testing.T) {
	m := newFakeManager(t)
	c := startTestClient(t, m)

	require.NoError(t, c.StartRecording("SIP/100-1", "call-42"))
	require.NoError(t, c.StopRecording("SIP/100-1"))

	monitors := m.actionsByName("Monitor")
	require.Len(t, monitors, 1)
	assert.Equal(t, "call-42", monitors[0]["File"])
	assert.Equal(t, "wav", monitors[0]["Format"])
	assert.Equal(t, "true", monitors[0]["Mix"])
	require.Len(t, m.actionsByName("StopMonitor"), 1)
}

func TestActionWhileDisconnectedFails(t *testing.T) {
	c := NewClient("127.0.0.1", 1, "voicebot", "secret")
	err := c.SetVariable("SIP/100-1", "X", "y")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
