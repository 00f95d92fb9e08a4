package demo

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// ServerMetadata describes one registered game server, as returned by
// GET_METADATA and the HTTP API.
type ServerMetadata struct {
	Address    string `json:"address"`
	Port       int    `json:"port"`
	Age        int64  `json:"age"` // seconds since the server last sent ADD
	Name       string `json:"name"`
	Version    string `json:"version"`
	MaxPlayers int    `json:"max_players"`
}

// MarshalMetadata renders each server as a JSON object.
func MarshalMetadata(servers []ServerMetadata) ([]string, error) {
	items := make([]string, 0, len(servers))
	for _, s := range servers {
		j, err := json.Marshal(s)
		if err != nil {
			return nil, errors.Wrap(err, "unable to marshal server metadata")
		}
		items = append(items, string(j))
	}
	return items, nil
}

// EncodeMetadataList renders metadata as the GET_METADATA_RESPONSE payload,
// one JSON object per NUL-terminated string.
func EncodeMetadataList(servers []ServerMetadata) ([]byte, error) {
	items, err := MarshalMetadata(servers)
	if err != nil {
		return nil, err
	}
	return EncodeStringList(items), nil
}

// UnmarshalMetadata reverses MarshalMetadata.
func UnmarshalMetadata(items []string) ([]ServerMetadata, error) {
	servers := make([]ServerMetadata, 0, len(items))
	for _, item := range items {
		var s ServerMetadata
		if err := json.Unmarshal([]byte(item), &s); err != nil {
			return nil, errors.Wrap(ErrMalformedPacket, "bad metadata entry")
		}
		servers = append(servers, s)
	}
	return servers, nil
}

// DecodeMetadataList reverses EncodeMetadataList.
func DecodeMetadataList(payload []byte) ([]ServerMetadata, error) {
	items, err := DecodeStringList(payload)
	if err != nil {
		return nil, err
	}
	return UnmarshalMetadata(items)
}
