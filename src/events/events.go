// Package events defines the JSON envelopes exchanged with the voicebot
// media channel and the helpers to encode and decode them.
package events

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Event names recognized on the bot channel.
const (
	EventStart    = "start"
	EventMedia    = "media"
	EventTransfer = "transfer"
)

// Message is the envelope for every bot channel event. Exactly one of
// Start, Media or Transfer is populated depending on Event.
type Message struct {
	SequenceNumber int       `json:"sequenceNumber"`
	Event          string    `json:"event"`
	Start          *Start    `json:"start,omitempty"`
	Media          *Media    `json:"media,omitempty"`
	Transfer       *Transfer `json:"transfer,omitempty"`
	ExtraHeaders   string    `json:"extra_headers,omitempty"`
}

// Start announces a new media stream to the bot.
type Start struct {
	CallID      string      `json:"callId"`
	StreamID    string      `json:"streamId"`
	AccountID   string      `json:"accountId"`
	Tracks      []string    `json:"tracks"`
	MediaFormat MediaFormat `json:"mediaFormat"`
}

// MediaFormat describes the audio carried on the stream.
type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
}

// Media carries one base64-encoded audio chunk.
type Media struct {
	Track     string `json:"track"`
	Timestamp string `json:"timestamp"`
	Chunk     int    `json:"chunk"`
	Payload   string `json:"payload"` // base64-encoded audio
}

// Transfer asks the bridge to hand the call to a human agent.
type Transfer struct {
	AgentURI string `json:"agentUri"`
}

// Marshal serializes a message for the bot channel.
func Marshal(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s event: %w", m.Event, err)
	}
	return data, nil
}

// Parse decodes an inbound bot channel message. Unknown event types are
// not an error; the caller inspects Event and ignores what it does not
// recognize.
func Parse(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bot message: %w", err)
	}
	return &m, nil
}

// NewMediaMessage wraps one audio chunk in a media envelope for the bot.
// The caller supplies the per-session sequence number and timestamp.
func NewMediaMessage(seq int, track, timestamp string, audio []byte) *Message {
	return &Message{
		SequenceNumber: seq,
		Event:          EventMedia,
		Media: &Media{
			Track:     track,
			Timestamp: timestamp,
			Chunk:     1,
			Payload:   base64.StdEncoding.EncodeToString(audio),
		},
		ExtraHeaders: "{}",
	}
}

// DecodePayload returns the raw audio bytes of a media event.
func (m *Media) DecodePayload() ([]byte, error) {
	audio, err := base64.StdEncoding.DecodeString(m.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode audio payload: %w", err)
	}
	return audio, nil
}
