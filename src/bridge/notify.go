package bridge

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/square-key-labs/voicebridge/src/metrics"
	"github.com/square-key-labs/voicebridge/src/session"
)

// isoTime formats a timestamp the way the provider expects: UTC with
// millisecond precision.
func isoTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// statusCallback is the body of a call status notification.
type statusCallback struct {
	CallSid    string `json:"CallSid"`
	CallStatus string `json:"CallStatus"`
}

// hangupNotification is the fixed envelope posted to the hangup URL on
// teardown. Duration and billing fields are zero-valued; this bridge
// does not meter calls.
type hangupNotification struct {
	HangupCause    string `json:"hangupCause"`
	DisconnectedBy string `json:"disconnectedBy"`
	AnswerTime     string `json:"AnswerTime"`
	BillDuration   string `json:"BillDuration"`
	BillRate       string `json:"BillRate"`
	CallStatus     string `json:"CallStatus"`
	CallUUID       string `json:"CallUUID"`
	Direction      string `json:"Direction"`
	Duration       string `json:"Duration"`
	EndTime        string `json:"EndTime"`
	Event          string `json:"Event"`
	From           string `json:"From"`
	HangupSource   string `json:"HangupSource"`
	SessionStart   string `json:"SessionStart"`
	StartTime      string `json:"StartTime"`
	To             string `json:"To"`
	TotalCost      string `json:"TotalCost"`
}

// sendStatusCallback posts one call status change. Delivery failures are
// logged and never affect the session.
func (s *Server) sendStatusCallback(url, callSid, status string) {
	if url == "" {
		return
	}
	if err := s.postJSON(url, statusCallback{CallSid: callSid, CallStatus: status}); err != nil {
		s.log.Error("failed to send call status %q for %s: %v", status, callSid, err)
		metrics.NotificationFailures.Inc()
		return
	}
	s.log.Info("call status %q sent for %s", status, callSid)
}

// sendHangupNotification posts the hangup event for a completed session.
func (s *Server) sendHangupNotification(sess *session.Session) {
	info := sess.Info
	if info == nil || info.HangupURL == "" {
		return
	}

	now := time.Now()
	payload := hangupNotification{
		HangupCause:    "NORMAL_CLEARING",
		DisconnectedBy: info.Caller,
		AnswerTime:     isoTime(now),
		BillDuration:   "0",
		BillRate:       "0.006",
		CallStatus:     "completed",
		CallUUID:       info.CallSid,
		Direction:      "inbound",
		Duration:       "0",
		EndTime:        isoTime(now),
		Event:          "Hangup",
		From:           info.Caller,
		HangupSource:   "Callee",
		SessionStart:   isoTime(sess.StartTime),
		StartTime:      isoTime(sess.StartTime),
		To:             info.Called,
		TotalCost:      "0.00000",
	}

	if err := s.postJSON(info.HangupURL, payload); err != nil {
		s.log.Error("failed to send hangup event for %s: %v", info.CallSid, err)
		metrics.NotificationFailures.Inc()
		return
	}
	s.log.Info("hangup event sent for %s", info.CallSid)
}

func (s *Server) postJSON(url string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "vicidial")
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.notifyClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}
