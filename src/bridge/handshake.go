package bridge

import (
	"strings"
	"unicode/utf8"
)

// protocolAck is the fixed acknowledgment written once per connection,
// before any audio is relayed in either direction.
const protocolAck = "AudioSocket v1.0\r\n"

// handshakeInfo is the result of classifying the first chunk of a new
// AudioSocket connection.
type handshakeInfo struct {
	Caller      string
	Called      string
	ChannelName string
}

// parseHandshake extracts caller/called identifiers and an optional
// channel name from the first bytes of a connection. It tries the
// structured forms first and falls back to the configured defaults;
// unparseable headers never fail the connection.
//
// Accepted forms:
//
//	CHANNEL <caller>_<called>[_<uniqueid>] <channel-name>
//	COMMAND <caller>_<called>[_<uniqueid>] <channel-name>
//	<caller>_<called>[_<uniqueid>]
//
// Anything else (binary audio, junk, empty reads) yields the defaults.
func parseHandshake(data []byte, defaultCaller, defaultCalled string) handshakeInfo {
	info := handshakeInfo{
		Caller: defaultCaller,
		Called: defaultCalled,
	}

	if len(data) == 0 || !utf8.Valid(data) {
		return info
	}

	header, _, _ := strings.Cut(string(data), "\n")
	header = strings.TrimSpace(header)
	if header == "" {
		return info
	}

	idToken := header
	if fields := strings.Fields(header); len(fields) >= 3 {
		switch fields[0] {
		case "CHANNEL", "COMMAND":
			idToken = fields[1]
			info.ChannelName = fields[2]
		default:
			idToken = fields[0]
		}
	} else if len(fields) > 0 {
		idToken = fields[0]
	}

	if caller, called, ok := splitIDToken(idToken); ok {
		info.Caller = caller
		info.Called = called
	}
	return info
}

// splitIDToken splits a caller_called[_uniqueid] token on the reserved
// separator. Both parts must be non-empty for the token to count.
func splitIDToken(token string) (caller, called string, ok bool) {
	parts := strings.Split(token, "_")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
