package signing

import (
	"bytes"
	"crypto/ecdsa"
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// The secp256k1 scheme wraps the plaintext in a small armored envelope:
//
//	-----BEGIN DEMO SIGNED MESSAGE-----
//	<plaintext>
//	-----BEGIN DEMO SIGNATURE-----
//	<65 byte [R || S || V] signature, lowercase hex>
//	-----END DEMO SIGNATURE-----
//
// The signature covers the EIP-191 text hash of the plaintext, so the same
// key can be checked with any Ethereum tooling. Fingerprints are addresses.

const (
	secpSignatureSize = 65
	keyFileExtension  = ".key"
)

var (
	secpMessageBegin   = []byte("-----BEGIN DEMO SIGNED MESSAGE-----\n")
	secpSignatureBegin = []byte("\n-----BEGIN DEMO SIGNATURE-----\n")
	secpSignatureEnd   = []byte("\n-----END DEMO SIGNATURE-----\n")
)

// Secp256k1KeyStore is a directory of hex encoded private keys, one per
// "<name>.key" file, as written by crypto.SaveECDSA.
type Secp256k1KeyStore struct {
	keys map[string]*ecdsa.PrivateKey // by file stem
}

// OpenSecp256k1KeyStore loads every key file in dir.
func OpenSecp256k1KeyStore(dir string) (*Secp256k1KeyStore, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+keyFileExtension))
	if err != nil {
		return nil, errors.Wrap(err, "unable to list key directory")
	}
	if len(matches) == 0 {
		return nil, errors.Errorf("no %s files in %s", keyFileExtension, dir)
	}
	ks := &Secp256k1KeyStore{keys: make(map[string]*ecdsa.PrivateKey)}
	for _, path := range matches {
		key, err := crypto.LoadECDSA(path)
		if err != nil {
			return nil, errors.Wrapf(err, "unable to load key file %s", path)
		}
		ks.keys[strings.TrimSuffix(filepath.Base(path), keyFileExtension)] = key
	}
	return ks, nil
}

// LookupKey accepts a key file name or an address, with or without the 0x
// prefix and in any case.
func (ks *Secp256k1KeyStore) LookupKey(id string) (Scheme, error) {
	key, ok := ks.keys[id]
	if !ok {
		want := strings.ToLower(strings.TrimPrefix(strings.TrimPrefix(id, "0x"), "0X"))
		for _, k := range ks.sortedKeys() {
			if string(addressFingerprint(&k.PublicKey)) == want {
				key, ok = k, true
				break
			}
		}
	}
	if !ok {
		return nil, errors.Wrapf(ErrKeyNotFound, "no secp256k1 key matches %q", id)
	}

	return &secp256k1Scheme{
		Secp256k1Verifier: NewSecp256k1Verifier(ks.Fingerprints()...),
		key:               key,
		identity: Identity{
			Scheme:       SchemeSecp256k1,
			KeyID:        id,
			Fingerprints: []Fingerprint{addressFingerprint(&key.PublicKey)},
		},
	}, nil
}

// Fingerprints returns the address of every key in the store.
func (ks *Secp256k1KeyStore) Fingerprints() []Fingerprint {
	var fprs []Fingerprint
	for _, k := range ks.sortedKeys() {
		fprs = append(fprs, addressFingerprint(&k.PublicKey))
	}
	return fprs
}

func (ks *Secp256k1KeyStore) sortedKeys() []*ecdsa.PrivateKey {
	names := make([]string, 0, len(ks.keys))
	for name := range ks.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	keys := make([]*ecdsa.PrivateKey, 0, len(names))
	for _, name := range names {
		keys = append(keys, ks.keys[name])
	}
	return keys
}

func addressFingerprint(pub *ecdsa.PublicKey) Fingerprint {
	return NewFingerprint(crypto.PubkeyToAddress(*pub).Bytes())
}

type secp256k1Scheme struct {
	Secp256k1Verifier

	key      *ecdsa.PrivateKey
	identity Identity
}

func (s *secp256k1Scheme) Name() string { return SchemeSecp256k1 }

func (s *secp256k1Scheme) Identity() Identity { return s.identity.clone() }

// Sign wraps the plaintext in the envelope. Plaintext lines may not look
// like armor lines, otherwise the envelope could not be parsed back.
func (s *secp256k1Scheme) Sign(plaintext []byte) ([]byte, error) {
	if bytes.HasPrefix(plaintext, []byte("-----")) || bytes.Contains(plaintext, []byte("\n-----")) {
		return nil, errors.New("plaintext contains an armor line")
	}
	sig, err := crypto.Sign(accounts.TextHash(plaintext), s.key)
	if err != nil {
		return nil, errors.Wrap(err, "unable to sign plaintext")
	}

	var buf bytes.Buffer
	buf.Write(secpMessageBegin)
	buf.Write(plaintext)
	buf.Write(secpSignatureBegin)
	buf.WriteString(hex.EncodeToString(sig))
	buf.Write(secpSignatureEnd)
	return buf.Bytes(), nil
}

// PublicKey returns the uncompressed public key as a hex line.
func (s *secp256k1Scheme) PublicKey() ([]byte, error) {
	return []byte(hex.EncodeToString(crypto.FromECDSAPub(&s.key.PublicKey)) + "\n"), nil
}

// Secp256k1Verifier checks envelopes signed by one of a fixed set of
// addresses. Recovery always yields some public key, so a signature from
// an address outside the set is rejected here rather than reported.
type Secp256k1Verifier struct {
	trusted map[Fingerprint]struct{}
}

// NewSecp256k1Verifier trusts the given addresses.
func NewSecp256k1Verifier(fprs ...Fingerprint) Secp256k1Verifier {
	v := Secp256k1Verifier{trusted: make(map[Fingerprint]struct{}, len(fprs))}
	for _, f := range fprs {
		v.trusted[f] = struct{}{}
	}
	return v
}

// Verify parses the envelope and recovers the signing address.
func (v Secp256k1Verifier) Verify(blob []byte) ([]byte, Fingerprint, error) {
	if !bytes.HasPrefix(blob, secpMessageBegin) {
		return nil, "", errors.New("not a signed demo message")
	}
	body := blob[len(secpMessageBegin):]
	i := bytes.Index(body, secpSignatureBegin)
	if i < 0 {
		return nil, "", errors.New("missing signature block")
	}
	plaintext := body[:i]
	tail := body[i+len(secpSignatureBegin):]
	if !bytes.HasSuffix(tail, secpSignatureEnd) {
		return nil, "", errors.New("missing signature trailer")
	}
	sigHex := string(tail[:len(tail)-len(secpSignatureEnd)])
	if len(sigHex) != 2*secpSignatureSize || strings.ToLower(sigHex) != sigHex {
		return nil, "", errors.New("bad signature encoding")
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil {
		return nil, "", errors.Wrap(err, "bad signature encoding")
	}
	if sig[64] > 1 {
		return nil, "", errors.New("bad recovery id")
	}

	hash := accounts.TextHash(plaintext)
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return nil, "", errors.Wrap(err, "unable to recover public key")
	}
	// VerifySignature rejects the malleable high-S form that recovery accepts.
	if !crypto.VerifySignature(crypto.FromECDSAPub(pub), hash, sig[:64]) {
		return nil, "", errors.New("signature did not verify")
	}
	fpr := addressFingerprint(pub)
	if _, ok := v.trusted[fpr]; !ok {
		return nil, "", errors.Errorf("signed by unknown address %s", fpr)
	}
	return append([]byte(nil), plaintext...), fpr, nil
}
