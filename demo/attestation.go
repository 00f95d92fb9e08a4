package demo

// This file builds and parses the plaintext of attestation messages. The
// plaintext is line oriented and human readable:
//
//	Start-Time: 2024-05-12T11:41:28Z
//	Nonce: 0f3c...
//	End-Time: 2024-05-12T12:02:51Z
//	Demo-Checksum: 9a1b...
//
// A start message carries the first two lines. An end message is the exact
// bytes of a verified start message, followed by the two end lines. The
// start bytes are never re-rendered, so a verifier can always find the
// original start message as a prefix of the end message.

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"io"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const (
	// NonceSize is the number of random bytes in a nonce.
	NonceSize = 16

	// TimeFormat is the ISO-8601 layout used by every timestamp field.
	TimeFormat = "2006-01-02T15:04:05Z"

	FieldStartTime    = "Start-Time"
	FieldNonce        = "Nonce"
	FieldEndTime      = "End-Time"
	FieldDemoChecksum = "Demo-Checksum"
)

// ErrMalformedAttestation is returned when a plaintext does not have the
// layout of a start or end message.
var ErrMalformedAttestation = errors.New("malformed attestation")

// Nonce is the random value that ties a start message to its end message.
type Nonce [NonceSize]byte

// String returns the lowercase hex form that appears in the plaintext.
func (n Nonce) String() string {
	return hex.EncodeToString(n[:])
}

// NewNonce reads a nonce from the provided source, which must be a
// cryptographically secure random source in production.
func NewNonce(random io.Reader) (Nonce, error) {
	if random == nil {
		random = rand.Reader
	}
	var n Nonce
	if _, err := io.ReadFull(random, n[:]); err != nil {
		return Nonce{}, errors.Wrap(err, "unable to read nonce")
	}
	return n, nil
}

// FormatTime renders a timestamp in UTC with second precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeFormat)
}

// StartPlaintext builds the plaintext of a start message.
func StartPlaintext(start time.Time, nonce Nonce) []byte {
	return []byte(strings.Join([]string{
		FieldStartTime + ": " + FormatTime(start),
		FieldNonce + ": " + nonce.String(),
	}, "\n"))
}

// ExtendPlaintext builds the plaintext of an end message from the verified
// plaintext of a start message. A newline is appended to the start bytes
// only if they do not already end with one; the start bytes are otherwise
// untouched.
func ExtendPlaintext(start []byte, end time.Time, checksum []byte) []byte {
	msg := make([]byte, 0, len(start)+96+2*len(checksum))
	msg = append(msg, start...)
	if len(msg) == 0 || msg[len(msg)-1] != '\n' {
		msg = append(msg, '\n')
	}
	msg = append(msg, strings.Join([]string{
		FieldEndTime + ": " + FormatTime(end),
		FieldDemoChecksum + ": " + hex.EncodeToString(checksum),
	}, "\n")...)
	return msg
}

// Attestation is the parsed form of a start or end plaintext.
type Attestation struct {
	StartTime    time.Time
	Nonce        Nonce
	Ended        bool
	EndTime      time.Time
	DemoChecksum []byte
}

// ParseAttestation parses a start or end plaintext. Fields must appear in
// protocol order; unknown fields are rejected.
func ParseAttestation(plaintext []byte) (Attestation, error) {
	var a Attestation
	lines := strings.Split(strings.TrimSuffix(string(plaintext), "\n"), "\n")
	if len(lines) != 2 && len(lines) != 4 {
		return a, errors.Wrapf(ErrMalformedAttestation, "expected 2 or 4 lines, got %d", len(lines))
	}

	fields := make([]string, len(lines))
	order := []string{FieldStartTime, FieldNonce, FieldEndTime, FieldDemoChecksum}
	for i, line := range lines {
		key, value, ok := strings.Cut(line, ": ")
		if !ok || key != order[i] {
			return a, errors.Wrapf(ErrMalformedAttestation, "line %d: expected field %s", i+1, order[i])
		}
		fields[i] = value
	}

	var err error
	a.StartTime, err = time.Parse(TimeFormat, fields[0])
	if err != nil {
		return a, errors.Wrapf(ErrMalformedAttestation, "bad %s: %v", FieldStartTime, err)
	}
	nonce, err := decodeLowerHex(fields[1])
	if err != nil || len(nonce) != NonceSize {
		return a, errors.Wrapf(ErrMalformedAttestation, "bad %s", FieldNonce)
	}
	copy(a.Nonce[:], nonce)
	if len(lines) == 2 {
		return a, nil
	}

	a.Ended = true
	a.EndTime, err = time.Parse(TimeFormat, fields[2])
	if err != nil {
		return a, errors.Wrapf(ErrMalformedAttestation, "bad %s: %v", FieldEndTime, err)
	}
	a.DemoChecksum, err = decodeLowerHex(fields[3])
	if err != nil || len(a.DemoChecksum) == 0 {
		return a, errors.Wrapf(ErrMalformedAttestation, "bad %s", FieldDemoChecksum)
	}
	return a, nil
}

// IsExtensionOf reports whether end is a valid extension of start: the exact
// start bytes, a newline if start lacks one, and then further content.
func IsExtensionOf(end, start []byte) bool {
	prefix := start
	if len(prefix) == 0 || prefix[len(prefix)-1] != '\n' {
		prefix = append(append([]byte(nil), start...), '\n')
	}
	return len(end) > len(prefix) && bytes.HasPrefix(end, prefix)
}

// decodeLowerHex only accepts the exact encoding produced by
// hex.EncodeToString, so every plaintext has a single valid spelling.
func decodeLowerHex(s string) ([]byte, error) {
	if strings.ToLower(s) != s {
		return nil, errors.New("hex must be lowercase")
	}
	return hex.DecodeString(s)
}
