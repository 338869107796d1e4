// Package bridge implements the AudioSocket session bridge: it accepts
// raw telephony audio streams over TCP, negotiates the per-call
// handshake, opens the matching voicebot media channel and relays audio
// in both directions until either side hangs up.
package bridge

import (
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/square-key-labs/voicebridge/src/ami"
	"github.com/square-key-labs/voicebridge/src/config"
	"github.com/square-key-labs/voicebridge/src/logger"
	"github.com/square-key-labs/voicebridge/src/metrics"
	"github.com/square-key-labs/voicebridge/src/registry"
	"github.com/square-key-labs/voicebridge/src/session"
)

// minAudioChunkSize is the smallest read treated as audio. Smaller reads
// on this transport are control noise and are dropped.
const minAudioChunkSize = 10

// notifyTimeout bounds status and hangup notification posts.
const notifyTimeout = 5 * time.Second

// Server is the AudioSocket bridge listener.
type Server struct {
	cfg       *config.Config
	registry  *registry.Registry
	commander ami.Commander
	log       *logger.Logger

	listener      net.Listener
	webhookClient *http.Client
	notifyClient  *http.Client
	dialer        *websocket.Dialer
}

// NewServer creates a bridge server. The commander may be nil when no
// control plane is available; transfer events are then logged and
// skipped.
func NewServer(cfg *config.Config, reg *registry.Registry, commander ami.Commander) *Server {
	return &Server{
		cfg:       cfg,
		registry:  reg,
		commander: commander,
		log:       logger.WithPrefix("bridge"),
		webhookClient: &http.Client{
			Timeout: cfg.WebhookTimeout,
		},
		notifyClient: &http.Client{
			Timeout: notifyTimeout,
		},
		dialer: &websocket.Dialer{
			HandshakeTimeout: cfg.WebhookTimeout,
		},
	}
}

// Start binds the AudioSocket listener and begins accepting connections.
// A bind failure is the only fatal error the bridge produces.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.AudioSocketPort))
	if err != nil {
		return fmt.Errorf("failed to bind AudioSocket listener on port %d: %w", s.cfg.AudioSocketPort, err)
	}
	s.listener = listener

	s.log.Info("AudioSocket server listening on port %d", s.cfg.AudioSocketPort)
	go s.acceptLoop()
	return nil
}

// Addr returns the listener address, for tests that bind port 0.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Stop closes the listener. Active sessions run to their natural end.
func (s *Server) Stop() {
	if s.listener != nil {
		s.listener.Close()
	}
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			s.log.Info("accept loop exiting: %v", err)
			return
		}
		go s.handleConnection(conn)
	}
}

// handleConnection owns the telephony socket for its whole life: it runs
// the handshake on the first read, then relays every later read toward
// the bot channel, and finally drives teardown when the socket closes.
func (s *Server) handleConnection(conn net.Conn) {
	id := uuid.NewString()
	sess := session.New(id, conn)
	s.registry.Put(id, sess)
	metrics.SessionsTotal.Inc()
	metrics.SessionsActive.Inc()

	s.log.Info("new AudioSocket connection %s from %s", id, conn.RemoteAddr())

	buf := make([]byte, 4096)
	handshakeDone := false
	for {
		n, err := conn.Read(buf)
		if err != nil {
			if err != io.EOF {
				// Socket errors are logged only; the close below
				// still drives exactly one teardown.
				s.log.Error("telephony socket error on %s: %v", id, err)
			}
			break
		}
		if n == 0 {
			continue
		}

		if !handshakeDone {
			handshakeDone = true
			s.completeHandshake(sess, buf[:n])
			continue
		}

		s.forwardToBot(sess, buf[:n])
	}

	s.log.Info("AudioSocket connection closed: %s", id)
	s.teardown(sess)
}

// completeHandshake classifies the first chunk, acknowledges the
// protocol version and kicks off bot session initiation. It runs at most
// once per connection; every later read is audio.
func (s *Server) completeHandshake(sess *session.Session, data []byte) {
	info := parseHandshake(data, s.cfg.DefaultCaller, s.cfg.DefaultCalled)
	sess.ChannelName = info.ChannelName

	if _, err := sess.Conn.Write([]byte(protocolAck)); err != nil {
		s.log.Error("failed to send protocol ack on %s: %v", sess.ID, err)
	}
	if err := sess.MarkInitializing(); err != nil {
		s.log.Warn("%v", err)
	}

	s.log.Info("session %s: caller=%s called=%s channel=%q", sess.ID, info.Caller, info.Called, info.ChannelName)

	// Initiation happens off the read loop so a slow webhook never
	// blocks this socket's reads; audio arriving before the bot channel
	// opens is dropped, not buffered.
	go s.startBotSession(sess, info.Caller, info.Called)
}

// startBotSession obtains the media endpoint, opens the bot channel and
// moves the session into the streaming phase. Any failure aborts the
// session by closing the telephony socket.
func (s *Server) startBotSession(sess *session.Session, caller, called string) {
	info, err := s.initiateSession(caller, called, sess.ID)
	if err != nil {
		s.log.Error("failed to initialize voicebot session for %s: %v", sess.ID, err)
		metrics.WebhookFailures.Inc()
		sess.CloseTelephony()
		return
	}

	botConn, _, err := s.dialer.Dial(info.SocketURL, nil)
	if err != nil {
		s.log.Error("failed to connect bot channel for call %s: %v", info.CallSid, err)
		metrics.WebhookFailures.Inc()
		sess.CloseTelephony()
		return
	}

	if !sess.AttachBot(info, botConn) {
		// The telephony side hung up while the webhook was in flight.
		s.log.Warn("session %s already closed, discarding bot channel", sess.ID)
		botConn.Close()
		return
	}
	if err := sess.MarkStreaming(); err != nil {
		s.log.Warn("%v", err)
		sess.CloseBot()
		return
	}

	s.log.Info("connected to voicebot channel for call %s", info.CallSid)

	s.sendStatusCallback(info.StatusCallbackURL, info.CallSid, "initiated")
	if err := s.sendStartEvent(sess); err != nil {
		s.log.Error("failed to send start event for call %s: %v", info.CallSid, err)
	}

	go s.botReadLoop(sess, botConn)
}

// teardown runs the close sequence exactly once per session; the registry
// removal is the guard. Sessions that never reached streaming produce no
// notifications.
func (s *Server) teardown(sess *session.Session) {
	if !s.registry.Remove(sess.ID) {
		return
	}
	if err := sess.MarkClosing(); err != nil {
		s.log.Debug("%v", err)
	}

	if sess.BotOpen() && sess.Info != nil {
		s.sendStatusCallback(sess.Info.StatusCallbackURL, sess.Info.CallSid, "completed")
		s.sendHangupNotification(sess)
	}

	sess.CloseBot()
	sess.CloseTelephony()
	metrics.SessionsActive.Dec()

	if err := sess.MarkClosed(); err != nil {
		s.log.Debug("%v", err)
	}
	s.log.Info("session %s removed", sess.ID)
}

// ActiveSessions reports the current call count and ids for monitoring.
func (s *Server) ActiveSessions() (int, []string) {
	return s.registry.Snapshot()
}
