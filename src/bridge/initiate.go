package bridge

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/square-key-labs/voicebridge/src/session"
)

// callEnvelope is the flat call descriptor posted to the voicebot
// session-initiation webhook. Field names follow the provider's API; geo
// fields are always sent empty.
type callEnvelope struct {
	AccountSid    string `json:"AccountSid"`
	APIVersion    string `json:"ApiVersion"`
	CallSid       string `json:"CallSid"`
	CallStatus    string `json:"CallStatus"`
	Called        string `json:"Called"`
	CalledCity    string `json:"CalledCity"`
	CalledCountry string `json:"CalledCountry"`
	CalledState   string `json:"CalledState"`
	CalledZip     string `json:"CalledZip"`
	Caller        string `json:"Caller"`
	CallerCity    string `json:"CallerCity"`
	CallerCountry string `json:"CallerCountry"`
	CallerState   string `json:"CallerState"`
	CallerZip     string `json:"CallerZip"`
	Direction     string `json:"Direction"`
	From          string `json:"From"`
	FromCity      string `json:"FromCity"`
	FromCountry   string `json:"FromCountry"`
	FromState     string `json:"FromState"`
	FromZip       string `json:"FromZip"`
	To            string `json:"To"`
	ToCity        string `json:"ToCity"`
	ToCountry     string `json:"ToCountry"`
	ToState       string `json:"ToState"`
	ToZip         string `json:"ToZip"`
}

// webhookResponse mirrors the provider's doubly nested response body.
type webhookResponse struct {
	Data struct {
		Data struct {
			SocketURL          string `json:"socketURL"`
			HangupURL          string `json:"HangupUrl"`
			StatusCallbackURL  string `json:"statusCallbackUrl"`
			RecordingStatusURL string `json:"recordingStatusUrl"`
		} `json:"data"`
	} `json:"data"`
}

// newCallSid generates the externally visible call reference. A short
// random suffix keeps it unique when two calls land in the same
// millisecond.
func newCallSid() string {
	return fmt.Sprintf("CALL_%d_%s", time.Now().UnixMilli(), strings.Split(uuid.NewString(), "-")[0])
}

// initiateSession asks the voicebot webhook for a media endpoint for the
// identified call. Any failure here rejects the call outright; the
// webhook is not retried.
func (s *Server) initiateSession(caller, called, sessionID string) (*session.Info, error) {
	s.log.Info("initializing voicebot session for call %s", sessionID)

	callSid := newCallSid()
	envelope := callEnvelope{
		APIVersion: "2010-04-01",
		CallSid:    callSid,
		CallStatus: "ringing",
		Called:     called,
		Caller:     caller,
		Direction:  "inbound",
		From:       caller,
		To:         called,
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal call envelope: %w", err)
	}

	req, err := http.NewRequest("POST", s.cfg.WebhookURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build webhook request: %w", err)
	}
	req.Header.Set("User-Agent", "vicidial")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", s.cfg.AuthToken))

	resp, err := s.webhookClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to contact voicebot webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("voicebot webhook returned %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed webhookResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode webhook response: %w", err)
	}
	if parsed.Data.Data.SocketURL == "" {
		return nil, fmt.Errorf("webhook response missing socketURL for call %s", callSid)
	}

	s.log.Info("voicebot responded for call %s", callSid)
	return &session.Info{
		CallSid:            callSid,
		SocketURL:          parsed.Data.Data.SocketURL,
		HangupURL:          parsed.Data.Data.HangupURL,
		StatusCallbackURL:  parsed.Data.Data.StatusCallbackURL,
		RecordingStatusURL: parsed.Data.Data.RecordingStatusURL,
		Caller:             caller,
		Called:             called,
	}, nil
}
