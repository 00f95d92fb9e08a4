package signing

// This file implements the OpenPGP scheme. Messages are clear-signed (RFC
// 4880 section 7), so the plaintext stays readable and travels inside the
// same blob as its signature. The key store is an armored keyring that may
// hold many keys: any of them can verify a signature, and it is up to the
// Engine to decide whether the verifying key belongs to the authority.

import (
	"bytes"
	"crypto"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/pkg/errors"
)

var (
	clearSignBegin = []byte("-----BEGIN PGP SIGNED MESSAGE-----")

	// hashHeaderNames maps the hash of a signature to the name that must
	// appear in the "Hash:" armor header of the clear-signed message.
	hashHeaderNames = map[crypto.Hash]string{
		crypto.SHA224:   "SHA224",
		crypto.SHA256:   "SHA256",
		crypto.SHA384:   "SHA384",
		crypto.SHA512:   "SHA512",
		crypto.SHA3_256: "SHA3-256",
		crypto.SHA3_512: "SHA3-512",
	}
)

// PGPKeyStore is an OpenPGP keyring loaded into memory.
type PGPKeyStore struct {
	keyring    openpgp.EntityList
	passphrase []byte
}

// OpenPGPKeyStore reads an armored keyring from disk. The passphrase is used
// to unlock the signing key if it is encrypted.
func OpenPGPKeyStore(path string, passphrase []byte) (*PGPKeyStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open keyring")
	}
	defer f.Close()

	keyring, err := openpgp.ReadArmoredKeyRing(f)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to read keyring %s", path)
	}
	return NewPGPKeyStore(keyring, passphrase), nil
}

// NewPGPKeyStore wraps an already parsed keyring.
func NewPGPKeyStore(keyring openpgp.EntityList, passphrase []byte) *PGPKeyStore {
	return &PGPKeyStore{
		keyring:    keyring,
		passphrase: passphrase,
	}
}

// LookupKey finds the entity named by id and prepares it for signing. The id
// may be a fingerprint, a 16 or 8 hex digit key id, or part of a user id such
// as the email address, matching the way gpg resolves key names.
func (ks *PGPKeyStore) LookupKey(id string) (Scheme, error) {
	entity := findEntity(ks.keyring, id)
	if entity == nil {
		return nil, errors.Wrapf(ErrKeyNotFound, "no OpenPGP key matches %q", id)
	}
	signingKey, ok := entity.SigningKey(time.Now())
	if !ok || signingKey.PrivateKey == nil {
		return nil, errors.Errorf("OpenPGP key %q has no usable private signing key", id)
	}
	if signingKey.PrivateKey.Encrypted {
		if len(ks.passphrase) == 0 {
			return nil, errors.Errorf("OpenPGP key %q is encrypted and no passphrase was given", id)
		}
		if err := signingKey.PrivateKey.Decrypt(ks.passphrase); err != nil {
			return nil, errors.Wrapf(err, "unable to unlock OpenPGP key %q", id)
		}
	}

	return &pgpScheme{
		PGPVerifier: PGPVerifier{keyring: ks.keyring},
		entity:      entity,
		signer:      signingKey.PrivateKey,
		identity: Identity{
			Scheme:       SchemeOpenPGP,
			KeyID:        id,
			Fingerprints: entityFingerprints(entity),
		},
	}, nil
}

// findEntity resolves a gpg style key name. Entities holding private key
// material win over public-only matches.
func findEntity(keyring openpgp.EntityList, id string) *openpgp.Entity {
	needle := strings.TrimPrefix(strings.ToLower(strings.ReplaceAll(id, " ", "")), "0x")
	if needle == "" {
		return nil
	}

	var fallback *openpgp.Entity
	for _, e := range keyring {
		if !entityMatches(e, needle, strings.ToLower(id)) {
			continue
		}
		if e.PrivateKey != nil {
			return e
		}
		if fallback == nil {
			fallback = e
		}
	}
	return fallback
}

func entityMatches(e *openpgp.Entity, hexID, nameID string) bool {
	keys := []*packet.PublicKey{e.PrimaryKey}
	for _, sk := range e.Subkeys {
		keys = append(keys, sk.PublicKey)
	}
	for _, pk := range keys {
		fpr := string(NewFingerprint(pk.Fingerprint))
		keyID := fmt.Sprintf("%016x", pk.KeyId)
		if hexID == fpr || hexID == keyID || (len(hexID) == 8 && strings.HasSuffix(keyID, hexID)) {
			return true
		}
	}
	for name := range e.Identities {
		if strings.Contains(strings.ToLower(name), nameID) {
			return true
		}
	}
	return false
}

// entityFingerprints lists the primary key and every subkey of an entity.
func entityFingerprints(e *openpgp.Entity) []Fingerprint {
	fprs := []Fingerprint{NewFingerprint(e.PrimaryKey.Fingerprint)}
	for _, sk := range e.Subkeys {
		fprs = append(fprs, NewFingerprint(sk.PublicKey.Fingerprint))
	}
	return fprs
}

// pgpScheme signs with one entity of a keyring and verifies against the
// whole keyring.
type pgpScheme struct {
	PGPVerifier

	entity   *openpgp.Entity
	signer   *packet.PrivateKey
	identity Identity
}

func (s *pgpScheme) Name() string { return SchemeOpenPGP }

func (s *pgpScheme) Identity() Identity { return s.identity.clone() }

// Sign clear-signs the plaintext.
func (s *pgpScheme) Sign(plaintext []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := clearsign.Encode(&buf, s.signer, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to start clear-signed message")
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, errors.Wrap(err, "unable to write plaintext")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "unable to sign plaintext")
	}
	return buf.Bytes(), nil
}

// PublicKey exports the signing entity as an armored public key block.
func (s *pgpScheme) PublicKey() ([]byte, error) {
	var buf bytes.Buffer
	w, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to start armor")
	}
	if err := s.entity.Serialize(w); err != nil {
		return nil, errors.Wrap(err, "unable to serialize public key")
	}
	if err := w.Close(); err != nil {
		return nil, errors.Wrap(err, "unable to finish armor")
	}
	return buf.Bytes(), nil
}

// PGPVerifier verifies clear-signed messages against a keyring.
type PGPVerifier struct {
	keyring openpgp.EntityList
}

// NewPGPVerifier reads an armored keyring (public keys are enough).
func NewPGPVerifier(r io.Reader) (PGPVerifier, error) {
	keyring, err := openpgp.ReadArmoredKeyRing(r)
	if err != nil {
		return PGPVerifier{}, errors.Wrap(err, "unable to read keyring")
	}
	return PGPVerifier{keyring: keyring}, nil
}

// Verify checks a clear-signed message and returns its plaintext together
// with the fingerprint of the exact (sub)key whose signature verified.
func (v PGPVerifier) Verify(blob []byte) ([]byte, Fingerprint, error) {
	if !bytes.HasPrefix(blob, clearSignBegin) {
		return nil, "", errors.New("not a clear-signed message")
	}
	block, rest := clearsign.Decode(blob)
	if block == nil {
		return nil, "", errors.New("unable to parse clear-signed message")
	}
	if len(rest) != 0 {
		return nil, "", errors.New("trailing data after signature")
	}
	if block.ArmoredSignature.Type != "PGP SIGNATURE" {
		return nil, "", errors.Errorf("unexpected armor type %q", block.ArmoredSignature.Type)
	}
	sigData, err := io.ReadAll(block.ArmoredSignature.Body)
	if err != nil {
		return nil, "", errors.Wrap(err, "unable to read armored signature")
	}

	sig, err := singleSignature(sigData)
	if err != nil {
		return nil, "", err
	}
	if err := checkHashHeader(block.Headers.Values("Hash"), sig); err != nil {
		return nil, "", err
	}

	// Verify against each candidate key on its own, so the fingerprint we
	// report is the key that actually produced the signature, even if
	// several keys in the ring share a key id.
	for _, key := range v.candidates(sig) {
		_, err := openpgp.CheckDetachedSignature(singleKeyRing{key}, bytes.NewReader(block.Bytes), bytes.NewReader(sigData), nil)
		if err == nil {
			return block.Plaintext, NewFingerprint(key.PublicKey.Fingerprint), nil
		}
	}
	return nil, "", errors.New("signature did not verify")
}

// candidates returns the keys in the ring that claim to have issued sig.
func (v PGPVerifier) candidates(sig *packet.Signature) []openpgp.Key {
	if sig.IssuerKeyId != nil {
		return v.keyring.KeysById(*sig.IssuerKeyId)
	}
	if len(sig.IssuerFingerprint) == 0 {
		return nil
	}
	var keys []openpgp.Key
	for _, e := range v.keyring {
		if bytes.Equal(e.PrimaryKey.Fingerprint, sig.IssuerFingerprint) {
			keys = append(keys, openpgp.Key{Entity: e, PublicKey: e.PrimaryKey, PrivateKey: e.PrivateKey})
		}
		for _, sk := range e.Subkeys {
			if bytes.Equal(sk.PublicKey.Fingerprint, sig.IssuerFingerprint) {
				keys = append(keys, openpgp.Key{Entity: e, PublicKey: sk.PublicKey, PrivateKey: sk.PrivateKey, SelfSignature: sk.Sig})
			}
		}
	}
	return keys
}

// singleSignature parses the signature packets of a clear-signed message and
// requires that there is exactly one.
func singleSignature(sigData []byte) (*packet.Signature, error) {
	var sigs []*packet.Signature
	r := packet.NewReader(bytes.NewReader(sigData))
	for {
		p, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "unable to parse signature packet")
		}
		sig, ok := p.(*packet.Signature)
		if !ok {
			return nil, errors.Errorf("unexpected %T in signature block", p)
		}
		sigs = append(sigs, sig)
	}
	if len(sigs) != 1 {
		return nil, errors.Errorf("expected exactly one signature, found %d", len(sigs))
	}
	return sigs[0], nil
}

// checkHashHeader requires the "Hash:" header to name the hash the signature
// actually uses. Version 6 signatures carry no header.
func checkHashHeader(values []string, sig *packet.Signature) error {
	var names []string
	for _, v := range values {
		for _, name := range strings.Split(v, ",") {
			names = append(names, strings.TrimSpace(name))
		}
	}
	if len(names) == 0 && sig.Version == 6 {
		return nil
	}
	want, ok := hashHeaderNames[sig.Hash]
	if !ok || len(names) != 1 || names[0] != want {
		return errors.Errorf("hash header %v does not match signature hash", names)
	}
	return nil
}

// singleKeyRing is a KeyRing that offers one key for every lookup.
type singleKeyRing struct {
	key openpgp.Key
}

func (r singleKeyRing) KeysById(id uint64) []openpgp.Key {
	return []openpgp.Key{r.key}
}

func (r singleKeyRing) KeysByIdUsage(id uint64, requiredUsage byte) []openpgp.Key {
	ss := r.key.SelfSignature
	if ss != nil && ss.FlagsValid && requiredUsage&packet.KeyFlagSign != 0 && !ss.FlagSign {
		return nil
	}
	return []openpgp.Key{r.key}
}

func (r singleKeyRing) DecryptionKeys() []openpgp.Key {
	return nil
}
