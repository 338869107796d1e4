// Package session holds the per-call state tying one telephony socket to
// one voicebot media channel.
package session

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/looplab/fsm"
)

// Session phases. A session moves strictly forward through these; Closed
// is terminal.
const (
	PhaseAwaitingHandshake = "awaiting_handshake"
	PhaseInitializing      = "initializing"
	PhaseStreaming         = "streaming"
	PhaseClosing           = "closing"
	PhaseClosed            = "closed"
)

// FSM events driving the phase transitions.
const (
	eventHandshake = "handshake"
	eventStream    = "stream"
	eventClose     = "close"
	eventDone      = "done"
)

// Info is the metadata returned by the voicebot session-initiation
// webhook for one call.
type Info struct {
	CallSid            string
	SocketURL          string
	HangupURL          string
	StatusCallbackURL  string
	RecordingStatusURL string
	Caller             string
	Called             string
}

// Session is the unit of work for one call. The telephony socket is owned
// exclusively by the session's read goroutine; the bot channel by the
// session's bot read goroutine. Only the registry is shared across
// sessions.
type Session struct {
	// ID is the connection identifier assigned at accept time and used
	// as the registry key.
	ID string

	// Conn is the accepted AudioSocket TCP connection.
	Conn net.Conn

	// Info is populated by the session initiator after the handshake.
	Info *Info

	// ChannelName is the Asterisk channel carrying this leg, when the
	// handshake supplied one. Empty otherwise.
	ChannelName string

	// StartTime is the capture time at session creation.
	StartTime time.Time

	phases *fsm.FSM

	seqMu sync.Mutex
	seq   int

	botMu     sync.Mutex
	bot       *websocket.Conn
	botClosed bool

	connMu     sync.Mutex
	connClosed bool
}

// New creates a session in the AwaitingHandshake phase.
func New(id string, conn net.Conn) *Session {
	return &Session{
		ID:        id,
		Conn:      conn,
		StartTime: time.Now(),
		seq:       0,
		phases: fsm.NewFSM(
			PhaseAwaitingHandshake,
			fsm.Events{
				{Name: eventHandshake, Src: []string{PhaseAwaitingHandshake}, Dst: PhaseInitializing},
				{Name: eventStream, Src: []string{PhaseInitializing}, Dst: PhaseStreaming},
				{Name: eventClose, Src: []string{PhaseAwaitingHandshake, PhaseInitializing, PhaseStreaming}, Dst: PhaseClosing},
				{Name: eventDone, Src: []string{PhaseClosing}, Dst: PhaseClosed},
			}, nil,
		),
	}
}

// Phase returns the current lifecycle phase.
func (s *Session) Phase() string {
	return s.phases.Current()
}

// MarkInitializing records a completed handshake.
func (s *Session) MarkInitializing() error {
	return s.transition(eventHandshake)
}

// MarkStreaming records the bot channel becoming open.
func (s *Session) MarkStreaming() error {
	return s.transition(eventStream)
}

// MarkClosing records a terminal close signal from either side.
func (s *Session) MarkClosing() error {
	return s.transition(eventClose)
}

// MarkClosed records completed teardown.
func (s *Session) MarkClosed() error {
	return s.transition(eventDone)
}

func (s *Session) transition(event string) error {
	if err := s.phases.Event(context.Background(), event); err != nil {
		return fmt.Errorf("session %s: invalid %s transition from %s: %w", s.ID, event, s.phases.Current(), err)
	}
	return nil
}

// NextSequence returns the next bot-bound frame sequence number. The
// first call returns 1; values are strictly increasing and never reused.
func (s *Session) NextSequence() int {
	s.seqMu.Lock()
	s.seq++
	n := s.seq
	s.seqMu.Unlock()
	return n
}

// AttachBot takes ownership of an opened bot channel together with the
// webhook metadata for the call. Publishing both under the same lock
// keeps teardown from seeing one without the other. It reports false
// when the session was already closed while initiation was in flight;
// the caller then owns closing the channel.
func (s *Session) AttachBot(info *Info, conn *websocket.Conn) bool {
	s.botMu.Lock()
	defer s.botMu.Unlock()
	if s.botClosed {
		return false
	}
	s.Info = info
	s.bot = conn
	return true
}

// BotOpen reports whether a bot channel is attached and streaming.
func (s *Session) BotOpen() bool {
	s.botMu.Lock()
	defer s.botMu.Unlock()
	return s.bot != nil
}

// WriteBot sends one text message on the bot channel. Writes are
// serialized because the telephony read loop and teardown both write.
func (s *Session) WriteBot(data []byte) error {
	s.botMu.Lock()
	defer s.botMu.Unlock()
	if s.bot == nil {
		return fmt.Errorf("session %s: bot channel not open", s.ID)
	}
	return s.bot.WriteMessage(websocket.TextMessage, data)
}

// CloseBot closes the bot channel at most once and refuses any later
// attach. Safe to call when no channel was ever attached.
func (s *Session) CloseBot() {
	s.botMu.Lock()
	s.botClosed = true
	conn := s.bot
	s.bot = nil
	s.botMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// WriteTelephony writes raw audio to the telephony socket if it is still
// writable. Returns false when the socket is already closed; the chunk is
// dropped, never buffered.
func (s *Session) WriteTelephony(audio []byte) (bool, error) {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.connClosed {
		return false, nil
	}
	if _, err := s.Conn.Write(audio); err != nil {
		return true, err
	}
	return true, nil
}

// CloseTelephony closes the telephony socket and marks it unwritable.
func (s *Session) CloseTelephony() {
	s.connMu.Lock()
	defer s.connMu.Unlock()
	if s.connClosed {
		return
	}
	s.connClosed = true
	s.Conn.Close()
}
