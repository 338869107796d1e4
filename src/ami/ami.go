// Package ami implements a minimal Asterisk Manager Interface client used
// as the bridge's telephony control plane. It keeps one TCP connection to
// the switch, reconnects on link loss, and exposes call-control commands
// as synchronous calls returning an explicit result.
package ami

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/square-key-labs/voicebridge/src/logger"
)

const (
	// reconnectDelay is the pause between reconnect attempts.
	reconnectDelay = 3 * time.Second
	// actionTimeout bounds the wait for a switch response to one action.
	actionTimeout = 5 * time.Second
)

// Commander is the control-plane surface consumed by the bridge and the
// management API. All commands are channel-scoped.
type Commander interface {
	SetVariable(channel, name, value string) error
	GetVariable(channel, name string) (string, error)
	Hangup(channel string) error
	Redirect(channel, exten string) error
	StartRecording(channel, fileName string) error
	StopRecording(channel string) error
	StopPlayback(channel string) error
}

// Response is one parsed manager frame.
type Response map[string]string

// Success reports whether the switch accepted the action.
func (r Response) Success() bool {
	return r["Response"] == "Success"
}

// Client is an AMI connection with automatic reconnect.
type Client struct {
	addr     string
	username string
	password string
	log      *logger.Logger

	mu   sync.Mutex
	conn net.Conn

	pendMu  sync.Mutex
	pending map[string]chan Response

	actionSeq uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// NewClient creates a client for the given manager endpoint. Call Run to
// establish and maintain the connection.
func NewClient(host string, port int, username, password string) *Client {
	return &Client{
		addr:     net.JoinHostPort(host, strconv.Itoa(port)),
		username: username,
		password: password,
		log:      logger.WithPrefix("ami"),
		pending:  make(map[string]chan Response),
		stop:     make(chan struct{}),
	}
}

// Run connects to the switch and keeps reconnecting until Close is
// called. It blocks; run it in its own goroutine.
func (c *Client) Run() {
	for {
		select {
		case <-c.stop:
			return
		default:
		}

		conn, reader, err := c.dial()
		if err != nil {
			c.log.Error("connection failed: %v, retrying in %s", err, reconnectDelay)
			select {
			case <-c.stop:
				return
			case <-time.After(reconnectDelay):
			}
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()

		done := make(chan struct{})
		go func() {
			c.readLoop(conn, reader)
			close(done)
		}()

		if err := c.login(); err != nil {
			c.log.Error("login failed: %v", err)
			conn.Close()
		} else {
			c.log.Info("connected to Asterisk AMI at %s", c.addr)
		}

		<-done
		c.log.Warn("connection lost, attempting to reconnect")
	}
}

// Close shuts the client down permanently.
func (c *Client) Close() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
}

// dial opens the manager connection and consumes the greeting banner
// that precedes the first frame.
func (c *Client) dial() (net.Conn, *bufio.Reader, error) {
	conn, err := net.DialTimeout("tcp", c.addr, actionTimeout)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to dial manager at %s: %w", c.addr, err)
	}
	reader := bufio.NewReader(conn)
	if _, err := reader.ReadString('\n'); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("failed to read manager banner: %w", err)
	}
	return conn, reader, nil
}

func (c *Client) login() error {
	_, err := c.Action(map[string]string{
		"Action":   "Login",
		"Username": c.username,
		"Secret":   c.password,
	})
	return err
}

// readLoop parses manager frames until the connection drops. Frames that
// answer a pending action are delivered to the waiter; unsolicited events
// are logged at debug level only.
func (c *Client) readLoop(conn net.Conn, reader *bufio.Reader) {
	frame := make(Response)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			break
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			if len(frame) > 0 {
				c.dispatch(frame)
				frame = make(Response)
			}
			continue
		}
		if key, value, ok := strings.Cut(line, ": "); ok {
			frame[key] = value
		}
	}

	c.mu.Lock()
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	c.failPending()
}

func (c *Client) dispatch(frame Response) {
	if id, ok := frame["ActionID"]; ok {
		c.pendMu.Lock()
		ch, waiting := c.pending[id]
		if waiting {
			delete(c.pending, id)
		}
		c.pendMu.Unlock()
		if waiting {
			ch <- frame
			return
		}
	}
	if event, ok := frame["Event"]; ok {
		c.log.Debug("event %s: %v", event, frame)
	}
}

func (c *Client) failPending() {
	c.pendMu.Lock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
	c.pendMu.Unlock()
}

// Action sends one manager action and waits for its response. The frame
// must contain an "Action" key; an ActionID is added for correlation.
func (c *Client) Action(fields map[string]string) (Response, error) {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return nil, fmt.Errorf("not connected to manager")
	}

	id := strconv.FormatUint(atomic.AddUint64(&c.actionSeq, 1), 10)
	ch := make(chan Response, 1)
	c.pendMu.Lock()
	c.pending[id] = ch
	c.pendMu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Action: %s\r\n", fields["Action"])
	fmt.Fprintf(&b, "ActionID: %s\r\n", id)
	for key, value := range fields {
		if key == "Action" {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", key, value)
	}
	b.WriteString("\r\n")

	if _, err := conn.Write([]byte(b.String())); err != nil {
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, fmt.Errorf("failed to send %s action: %w", fields["Action"], err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("connection lost while waiting for %s response", fields["Action"])
		}
		if !resp.Success() {
			return resp, fmt.Errorf("%s action failed: %s", fields["Action"], resp["Message"])
		}
		return resp, nil
	case <-time.After(actionTimeout):
		c.pendMu.Lock()
		delete(c.pending, id)
		c.pendMu.Unlock()
		return nil, fmt.Errorf("timed out waiting for %s response", fields["Action"])
	}
}

// SetVariable sets a channel variable on the given leg.
func (c *Client) SetVariable(channel, name, value string) error {
	_, err := c.Action(map[string]string{
		"Action":   "Setvar",
		"Channel":  channel,
		"Variable": name,
		"Value":    value,
	})
	return err
}

// GetVariable reads a channel variable from the given leg.
func (c *Client) GetVariable(channel, name string) (string, error) {
	resp, err := c.Action(map[string]string{
		"Action":   "Getvar",
		"Channel":  channel,
		"Variable": name,
	})
	if err != nil {
		return "", err
	}
	return resp["Value"], nil
}

// Hangup terminates the given channel.
func (c *Client) Hangup(channel string) error {
	_, err := c.Action(map[string]string{
		"Action":  "Hangup",
		"Channel": channel,
	})
	return err
}

// Redirect performs a warm transfer of the channel to an extension in
// the default context.
func (c *Client) Redirect(channel, exten string) error {
	_, err := c.Action(map[string]string{
		"Action":   "Redirect",
		"Channel":  channel,
		"Exten":    exten,
		"Context":  "default",
		"Priority": "1",
	})
	return err
}

// StartRecording starts a mixed wav recording of the channel.
func (c *Client) StartRecording(channel, fileName string) error {
	_, err := c.Action(map[string]string{
		"Action":  "Monitor",
		"Channel": channel,
		"File":    fileName,
		"Format":  "wav",
		"Mix":     "true",
	})
	return err
}

// StopRecording stops an in-progress recording on the channel.
func (c *Client) StopRecording(channel string) error {
	_, err := c.Action(map[string]string{
		"Action":  "StopMonitor",
		"Channel": channel,
	})
	return err
}

// StopPlayback stops tone playback on the channel.
func (c *Client) StopPlayback(channel string) error {
	_, err := c.Action(map[string]string{
		"Action":  "StopPlayTones",
		"Channel": channel,
	})
	return err
}
