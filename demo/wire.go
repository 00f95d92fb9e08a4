package demo

// This file defines the framing for every datagram exchanged with the
// master. A packet is a 2 byte big-endian type followed by a payload whose
// layout depends on the type. Datagrams may be dropped, duplicated or
// reordered, so nothing on the master side depends on earlier packets. Every
// request gets one response packet, except that a long server list is split
// across several QUERY_RESPONSE or GET_METADATA_RESPONSE packets.

import (
	"encoding/binary"
	"fmt"

	"github.com/pkg/errors"
)

// PacketType identifies the payload carried by a packet.
type PacketType uint16

const (
	PacketTypeAdd PacketType = iota
	PacketTypeAddResponse
	PacketTypeQuery
	PacketTypeQueryResponse
	PacketTypeGetMetadata
	PacketTypeGetMetadataResponse
	PacketTypeSignStart
	PacketTypeSignStartResponse
	PacketTypeSignEnd
	PacketTypeSignEndResponse
)

const (
	// HeaderSize is the size of the packet type prefix.
	HeaderSize = 2

	// ChecksumSize is the size of the demo checksum carried by SIGN_END.
	// Clients send a SHA-1 of the demo file.
	ChecksumSize = 20

	// MaxPacketSize is the largest datagram the master will read.
	MaxPacketSize = 65507

	// MaxListPayload bounds the payload of one QUERY_RESPONSE or
	// GET_METADATA_RESPONSE packet. Existing tools read list responses into
	// 1024 byte buffers.
	MaxListPayload = 1000
)

// ErrMalformedPacket is returned when a packet or payload cannot be decoded.
var ErrMalformedPacket = errors.New("malformed packet")

var packetTypeNames = map[PacketType]string{
	PacketTypeAdd:                 "ADD",
	PacketTypeAddResponse:         "ADD_RESPONSE",
	PacketTypeQuery:               "QUERY",
	PacketTypeQueryResponse:       "QUERY_RESPONSE",
	PacketTypeGetMetadata:         "GET_METADATA",
	PacketTypeGetMetadataResponse: "GET_METADATA_RESPONSE",
	PacketTypeSignStart:           "SIGN_START",
	PacketTypeSignStartResponse:   "SIGN_START_RESPONSE",
	PacketTypeSignEnd:             "SIGN_END",
	PacketTypeSignEndResponse:     "SIGN_END_RESPONSE",
	PacketTypeGameQuery:           "GAME_QUERY",
	PacketTypeGameQueryResponse:   "GAME_QUERY_RESPONSE",
}

// String returns the protocol name of the packet type.
func (pt PacketType) String() string {
	if name, ok := packetTypeNames[pt]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint16(pt))
}

// EncodePacket prefixes the payload with the packet type.
func EncodePacket(pt PacketType, payload []byte) []byte {
	data := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint16(data[:HeaderSize], uint16(pt))
	copy(data[HeaderSize:], payload)
	return data
}

// DecodePacket splits a datagram into its type and payload. The payload
// aliases the input.
func DecodePacket(data []byte) (PacketType, []byte, error) {
	if len(data) < HeaderSize {
		return 0, nil, errors.Wrapf(ErrMalformedPacket, "packet is %d bytes, need at least %d", len(data), HeaderSize)
	}
	pt := PacketType(binary.BigEndian.Uint16(data[:HeaderSize]))
	return pt, data[HeaderSize:], nil
}

// EncodeSignStartResponse builds the SIGN_START_RESPONSE payload: the raw
// nonce followed by the signed start message.
func EncodeSignStartResponse(nonce Nonce, signedStart []byte) []byte {
	payload := make([]byte, NonceSize+len(signedStart))
	copy(payload[:NonceSize], nonce[:])
	copy(payload[NonceSize:], signedStart)
	return payload
}

// DecodeSignStartResponse reverses EncodeSignStartResponse.
func DecodeSignStartResponse(payload []byte) (Nonce, []byte, error) {
	var nonce Nonce
	if len(payload) <= NonceSize {
		return nonce, nil, errors.Wrapf(ErrMalformedPacket, "sign start response is %d bytes", len(payload))
	}
	copy(nonce[:], payload[:NonceSize])
	return nonce, payload[NonceSize:], nil
}

// EncodeSignEnd builds the SIGN_END payload: the demo checksum followed by
// the signed start message the client received earlier.
func EncodeSignEnd(checksum [ChecksumSize]byte, signedStart []byte) []byte {
	payload := make([]byte, ChecksumSize+len(signedStart))
	copy(payload[:ChecksumSize], checksum[:])
	copy(payload[ChecksumSize:], signedStart)
	return payload
}

// DecodeSignEnd reverses EncodeSignEnd. Both returned slices alias the
// payload.
func DecodeSignEnd(payload []byte) (checksum []byte, signedStart []byte, err error) {
	if len(payload) <= ChecksumSize {
		return nil, nil, errors.Wrapf(ErrMalformedPacket, "sign end request is %d bytes", len(payload))
	}
	return payload[:ChecksumSize], payload[ChecksumSize:], nil
}

// EncodeAddResponse builds the ADD_RESPONSE payload.
func EncodeAddResponse(added bool) []byte {
	payload := make([]byte, 2)
	if added {
		binary.BigEndian.PutUint16(payload, 1)
	}
	return payload
}

// DecodeAddResponse reverses EncodeAddResponse.
func DecodeAddResponse(payload []byte) (bool, error) {
	if len(payload) != 2 {
		return false, errors.Wrapf(ErrMalformedPacket, "add response is %d bytes", len(payload))
	}
	return binary.BigEndian.Uint16(payload) != 0, nil
}

// EncodeStringList joins strings as NUL-terminated entries, the format of
// QUERY_RESPONSE and GET_METADATA_RESPONSE.
func EncodeStringList(items []string) []byte {
	size := 0
	for _, s := range items {
		size += len(s) + 1
	}
	payload := make([]byte, 0, size)
	for _, s := range items {
		payload = append(payload, s...)
		payload = append(payload, 0)
	}
	return payload
}

// SplitStringList encodes items into consecutive list payloads of at most
// limit bytes each. An item too long to share a payload gets one to itself.
// An empty list still yields one empty payload, so the requester gets an
// answer.
func SplitStringList(items []string, limit int) [][]byte {
	var payloads [][]byte
	var cur []byte
	for _, s := range items {
		if len(cur) > 0 && len(cur)+len(s)+1 > limit {
			payloads = append(payloads, cur)
			cur = nil
		}
		cur = append(cur, s...)
		cur = append(cur, 0)
	}
	if len(cur) > 0 || len(payloads) == 0 {
		payloads = append(payloads, cur)
	}
	return payloads
}

// DecodeStringList splits a payload of NUL-terminated strings. A trailing
// entry without a terminator is a malformed payload.
func DecodeStringList(payload []byte) ([]string, error) {
	var items []string
	start := 0
	for i, b := range payload {
		if b == 0 {
			items = append(items, string(payload[start:i]))
			start = i + 1
		}
	}
	if start != len(payload) {
		return nil, errors.Wrap(ErrMalformedPacket, "unterminated string in list")
	}
	return items, nil
}
