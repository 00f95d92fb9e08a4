package demo

// Game servers do not speak the master protocol. To learn a server's name,
// version and player limit the master sends it the game's own query packet
// and reads the query response, which uses the same 2 byte type framing.

import (
	"bytes"

	"github.com/pkg/errors"
)

// Game protocol packet types used for metadata queries.
const (
	PacketTypeGameQuery         PacketType = 13
	PacketTypeGameQueryResponse PacketType = 14
)

// queryDataFixedSize is the number of single byte fields between the
// version and the description.
const queryDataFixedSize = 5

// QueryData is a game server's answer to a query.
type QueryData struct {
	Version     string
	ServerState uint8
	NumPlayers  uint8
	MaxPlayers  uint8
	GameMode    uint8
	GameMission uint8
	Description string
}

// EncodeQueryData builds a GAME_QUERY_RESPONSE payload.
func EncodeQueryData(q QueryData) []byte {
	payload := make([]byte, 0, len(q.Version)+len(q.Description)+queryDataFixedSize+2)
	payload = append(payload, q.Version...)
	payload = append(payload, 0, q.ServerState, q.NumPlayers, q.MaxPlayers, q.GameMode, q.GameMission)
	payload = append(payload, q.Description...)
	return append(payload, 0)
}

// DecodeQueryData parses a GAME_QUERY_RESPONSE payload. Newer game servers
// append more fields after the description; they are ignored.
func DecodeQueryData(payload []byte) (QueryData, error) {
	var q QueryData
	i := bytes.IndexByte(payload, 0)
	if i < 0 {
		return q, errors.Wrap(ErrMalformedPacket, "unterminated version")
	}
	q.Version = string(payload[:i])
	rest := payload[i+1:]
	if len(rest) < queryDataFixedSize {
		return q, errors.Wrap(ErrMalformedPacket, "query response too short")
	}
	q.ServerState, q.NumPlayers, q.MaxPlayers, q.GameMode, q.GameMission = rest[0], rest[1], rest[2], rest[3], rest[4]
	rest = rest[queryDataFixedSize:]
	j := bytes.IndexByte(rest, 0)
	if j < 0 {
		return q, errors.Wrap(ErrMalformedPacket, "unterminated description")
	}
	q.Description = string(rest[:j])
	return q, nil
}
