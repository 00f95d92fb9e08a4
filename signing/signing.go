// Package signing implements the authority side of secure demos: it issues
// signed start messages, and it verifies a start message it issued before
// extending it into a signed end message.
//
// The cryptography sits behind the Scheme interface. Two schemes are
// provided: OpenPGP clear-signed messages, which is what deployed clients
// and verifiers expect, and a secp256k1 clear-signed envelope for
// deployments that already manage Ethereum keys.
package signing

import (
	"encoding/hex"
	"strings"

	"github.com/pkg/errors"
)

const (
	SchemeOpenPGP   = "openpgp"
	SchemeSecp256k1 = "secp256k1"
)

var (
	// ErrKeyNotFound is returned when the key store has no key matching
	// the configured identifier.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrInvalidAttestation is the only error VerifyAndSignEnd returns for
	// a start message it will not extend. It deliberately carries no
	// detail about which check failed.
	ErrInvalidAttestation = errors.New("invalid attestation")

	// ErrSignerUnavailable is returned when the loaded key could not
	// produce a signature.
	ErrSignerUnavailable = errors.New("signer unavailable")
)

// Fingerprint identifies a single public (sub)key. It is the lowercase hex
// encoding of the key's fingerprint bytes.
type Fingerprint string

// NewFingerprint encodes raw fingerprint bytes.
func NewFingerprint(raw []byte) Fingerprint {
	return Fingerprint(hex.EncodeToString(raw))
}

// ParseFingerprint accepts hex with optional 0x prefix, spaces and any case.
func ParseFingerprint(s string) (Fingerprint, error) {
	s = strings.ReplaceAll(strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X"), " ", "")
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) == 0 {
		return "", errors.Errorf("bad fingerprint %q", s)
	}
	return NewFingerprint(raw), nil
}

// Identity is the set of keys that belong to the authority. A signature
// only counts as the authority's own if the key that verified it is in
// Fingerprints.
type Identity struct {
	Scheme       string
	KeyID        string
	Fingerprints []Fingerprint
}

// Owns reports whether fp is one of the authority's keys.
func (id Identity) Owns(fp Fingerprint) bool {
	if fp == "" {
		return false
	}
	for _, f := range id.Fingerprints {
		if f == fp {
			return true
		}
	}
	return false
}

// clone returns a copy that shares no memory with id.
func (id Identity) clone() Identity {
	c := id
	c.Fingerprints = append([]Fingerprint(nil), id.Fingerprints...)
	return c
}

// Verifier recovers the plaintext of a signed message. Implementations must
// reject anything that does not parse strictly, does not carry exactly one
// signature, or whose signature does not verify. On success they report the
// fingerprint of the key that produced the signature; deciding whether that
// key is acceptable is left to the caller.
type Verifier interface {
	Verify(blob []byte) (plaintext []byte, fpr Fingerprint, err error)
}

// Scheme is a loaded signing identity together with the matching verifier.
// Implementations must be safe for concurrent use.
type Scheme interface {
	Verifier

	// Name returns the scheme name, e.g. SchemeOpenPGP.
	Name() string

	// Sign produces a clear-signed message embedding plaintext.
	Sign(plaintext []byte) ([]byte, error)

	// Identity returns the keys that make up the signing identity.
	Identity() Identity

	// PublicKey returns the public half of the identity in the scheme's
	// native export format, for publication to verifiers.
	PublicKey() ([]byte, error)
}

// KeyStore resolves a key identifier to a usable Scheme. It returns an error
// wrapping ErrKeyNotFound when nothing matches.
type KeyStore interface {
	LookupKey(id string) (Scheme, error)
}

// OpenKeyStore opens the key store for the named scheme. For SchemeOpenPGP
// path is an armored keyring file, for SchemeSecp256k1 it is a directory of
// hex key files. The passphrase is only used by SchemeOpenPGP.
func OpenKeyStore(scheme, path, passphrase string) (KeyStore, error) {
	switch scheme {
	case SchemeOpenPGP:
		ks, err := OpenPGPKeyStore(path, []byte(passphrase))
		if err != nil {
			return nil, err
		}
		return ks, nil
	case SchemeSecp256k1:
		ks, err := OpenSecp256k1KeyStore(path)
		if err != nil {
			return nil, err
		}
		return ks, nil
	default:
		return nil, errors.Errorf("unknown signing scheme %q", scheme)
	}
}
