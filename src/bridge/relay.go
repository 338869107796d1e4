package bridge

import (
	"fmt"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/square-key-labs/voicebridge/src/events"
	"github.com/square-key-labs/voicebridge/src/metrics"
	"github.com/square-key-labs/voicebridge/src/session"
)

// agentURIVariable is the channel variable the dialplan watches to pick
// up an agent transfer target.
const agentURIVariable = "AGENT_SIP_URI"

// inboundTrack labels the telephony leg on bot-bound media envelopes.
const inboundTrack = "inbound"

// sendStartEvent announces the media stream to the bot. Sent exactly
// once, immediately after the bot channel opens.
func (s *Server) sendStartEvent(sess *session.Session) error {
	msg := &events.Message{
		SequenceNumber: 0,
		Event:          events.EventStart,
		Start: &events.Start{
			CallID:    sess.Info.CallSid,
			StreamID:  fmt.Sprintf("stream_%d", time.Now().UnixMilli()),
			AccountID: s.cfg.AccountID,
			Tracks:    []string{inboundTrack},
			MediaFormat: events.MediaFormat{
				Encoding:   "audio/mulaw",
				SampleRate: 8000,
			},
		},
		ExtraHeaders: "{}",
	}

	data, err := events.Marshal(msg)
	if err != nil {
		return err
	}
	return sess.WriteBot(data)
}

// forwardToBot relays one telephony audio chunk toward the bot channel.
// Chunks below the minimum size are control noise and dropped silently;
// chunks arriving while the bot channel is not open are dropped rather
// than buffered.
func (s *Server) forwardToBot(sess *session.Session, chunk []byte) {
	if len(chunk) < minAudioChunkSize {
		s.log.Debug("session %s: skipping small chunk (%d bytes)", sess.ID, len(chunk))
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonSmallChunk).Inc()
		return
	}

	if sess.Phase() != session.PhaseStreaming || !sess.BotOpen() {
		s.log.Debug("session %s: bot channel not ready, dropping %d bytes", sess.ID, len(chunk))
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonBotNotReady).Inc()
		return
	}

	msg := events.NewMediaMessage(
		sess.NextSequence(),
		inboundTrack,
		strconv.FormatInt(time.Now().UnixMilli(), 10),
		chunk,
	)
	data, err := events.Marshal(msg)
	if err != nil {
		s.log.Error("session %s: %v", sess.ID, err)
		return
	}
	if err := sess.WriteBot(data); err != nil {
		s.log.Warn("session %s: failed to send audio to bot: %v", sess.ID, err)
		return
	}
	metrics.FramesForwarded.WithLabelValues(metrics.DirectionToBot).Inc()
}

// botReadLoop consumes the bot channel for one session. Media events are
// written back to the telephony socket; transfer events go to the
// control plane; everything else is ignored. The loop exits when the
// channel closes, which by itself never tears the session down — only
// the telephony close does.
func (s *Server) botReadLoop(sess *session.Session, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			s.log.Info("bot channel closed for call %s: %v", sess.Info.CallSid, err)
			// Mark the channel gone so teardown skips the completed
			// status and hangup notifications when the bot side
			// dropped first.
			sess.CloseBot()
			return
		}

		msg, err := events.Parse(data)
		if err != nil {
			s.log.Error("session %s: %v", sess.ID, err)
			continue
		}

		switch msg.Event {
		case events.EventMedia:
			s.relayToTelephony(sess, msg)
		case events.EventTransfer:
			s.handleTransfer(sess, msg.Transfer)
		default:
			s.log.Debug("session %s: ignoring %q event from bot", sess.ID, msg.Event)
		}
	}
}

// relayToTelephony writes one bot media payload to the telephony socket.
// A non-writable socket drops the chunk without closing anything;
// closing is reserved for explicit close signals.
func (s *Server) relayToTelephony(sess *session.Session, msg *events.Message) {
	if msg.Media == nil || msg.Media.Payload == "" {
		s.log.Debug("session %s: media event without payload", sess.ID)
		return
	}

	audio, err := msg.Media.DecodePayload()
	if err != nil {
		s.log.Error("session %s: %v", sess.ID, err)
		return
	}

	writable, err := sess.WriteTelephony(audio)
	if !writable {
		s.log.Warn("session %s: telephony socket not writable, dropping %d bytes", sess.ID, len(audio))
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonTelephonyWrite).Inc()
		return
	}
	if err != nil {
		// Write failures are non-fatal; teardown is driven by the
		// close event alone.
		s.log.Error("session %s: failed to write audio to telephony: %v", sess.ID, err)
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonTelephonyWrite).Inc()
		return
	}
	metrics.FramesForwarded.WithLabelValues(metrics.DirectionToTelephony).Inc()
}

// handleTransfer points the telephony leg at a human agent by setting
// the agreed channel variable. The switch terminates the leg itself; a
// successful command must not close the socket here.
func (s *Server) handleTransfer(sess *session.Session, transfer *events.Transfer) {
	if transfer == nil || transfer.AgentURI == "" {
		s.log.Warn("session %s: transfer event without agent URI", sess.ID)
		return
	}
	if sess.ChannelName == "" {
		s.log.Warn("session %s: transfer requested but channel name unknown", sess.ID)
		return
	}
	if s.commander == nil {
		s.log.Warn("session %s: transfer requested but no control plane configured", sess.ID)
		return
	}

	s.log.Info("session %s: transfer request to agent %s", sess.ID, transfer.AgentURI)
	if err := s.commander.SetVariable(sess.ChannelName, agentURIVariable, transfer.AgentURI); err != nil {
		s.log.Error("session %s: failed to set %s: %v", sess.ID, agentURIVariable, err)
		return
	}
	s.log.Info("session %s: %s set to %s", sess.ID, agentURIVariable, transfer.AgentURI)
}
