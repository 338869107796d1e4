package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHandshake(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantCaller  string
		wantCalled  string
		wantChannel string
	}{
		{
			name:       "plain id token",
			data:       []byte("6001_5000\n"),
			wantCaller: "6001",
			wantCalled: "5000",
		},
		{
			name:       "id token with uniqueid",
			data:       []byte("6001_5000_abc123\n"),
			wantCaller: "6001",
			wantCalled: "5000",
		},
		{
			name:        "structured CHANNEL header",
			data:        []byte("CHANNEL 6001_5000_abc123 SIP/100-1\n"),
			wantCaller:  "6001",
			wantCalled:  "5000",
			wantChannel: "SIP/100-1",
		},
		{
			name:        "structured COMMAND header",
			data:        []byte("COMMAND 7002_8000 PJSIP/agent-00000042\n"),
			wantCaller:  "7002",
			wantCalled:  "8000",
			wantChannel: "PJSIP/agent-00000042",
		},
		{
			name:       "header followed by more lines",
			data:       []byte("6111_5222\ngarbage second line\n"),
			wantCaller: "6111",
			wantCalled: "5222",
		},
		{
			name:       "unparseable text falls back to defaults",
			data:       []byte("no separator here\n"),
			wantCaller: "6001",
			wantCalled: "5000",
		},
		{
			name:       "empty separator halves fall back to defaults",
			data:       []byte("_\n"),
			wantCaller: "6001",
			wantCalled: "5000",
		},
		{
			name:       "binary audio falls back to defaults",
			data:       []byte{0xff, 0xfe, 0x00, 0x80, 0x81, 0xff, 0xc0},
			wantCaller: "6001",
			wantCalled: "5000",
		},
		{
			name:       "empty read falls back to defaults",
			data:       nil,
			wantCaller: "6001",
			wantCalled: "5000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := parseHandshake(tt.data, "6001", "5000")
			assert.Equal(t, tt.wantCaller, info.Caller)
			assert.Equal(t, tt.wantCalled, info.Called)
			assert.Equal(t, tt.wantChannel, info.ChannelName)
		})
	}
}

func TestProtocolAckIsLiteral(t *testing.T) {
	assert.Equal(t, "AudioSocket v1.0\r\n", protocolAck)
	assert.Len(t, protocolAck, 18)
}
