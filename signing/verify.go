package signing

import (
	"bytes"
	"encoding/hex"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/demo"
)

// VerifyDemo is the check a third party runs on a finished demo. Both
// messages must verify under id, the end plaintext must extend the start
// plaintext byte for byte, and the end message must attest checksum. A nil
// checksum skips the last comparison. The parsed end attestation is
// returned on success.
func VerifyDemo(v Verifier, id Identity, signedStart, signedEnd, checksum []byte) (demo.Attestation, error) {
	startPlain, err := verifyOwned(v, id, signedStart)
	if err != nil {
		return demo.Attestation{}, errors.Wrap(err, "start message")
	}
	endPlain, err := verifyOwned(v, id, signedEnd)
	if err != nil {
		return demo.Attestation{}, errors.Wrap(err, "end message")
	}

	start, err := demo.ParseAttestation(startPlain)
	if err != nil {
		return demo.Attestation{}, errors.Wrap(err, "start message")
	}
	if start.Ended {
		return demo.Attestation{}, errors.New("start message already carries an end time")
	}
	if !demo.IsExtensionOf(endPlain, startPlain) {
		return demo.Attestation{}, errors.New("end message does not extend the start message")
	}
	end, err := demo.ParseAttestation(endPlain)
	if err != nil {
		return demo.Attestation{}, errors.Wrap(err, "end message")
	}
	if !end.Ended || end.Nonce != start.Nonce {
		return demo.Attestation{}, errors.New("end message does not match the start message")
	}
	if end.EndTime.Before(end.StartTime) {
		return demo.Attestation{}, errors.New("demo ended before it started")
	}
	if checksum != nil && !bytes.Equal(end.DemoChecksum, checksum) {
		return demo.Attestation{}, errors.Errorf("demo checksum mismatch: attested %x, got %x", end.DemoChecksum, checksum)
	}
	return end, nil
}

func verifyOwned(v Verifier, id Identity, blob []byte) ([]byte, error) {
	plaintext, fpr, err := v.Verify(blob)
	if err != nil {
		return nil, err
	}
	if !id.Owns(fpr) {
		return nil, errors.Errorf("signed by %s, which is not part of the authority's identity", fpr)
	}
	return plaintext, nil
}

// IdentityFromPublicKey rebuilds the authority's identity and a matching
// verifier from the public key published by a master server. For OpenPGP
// the key may be an armored keyring; keyID then selects the entity and may
// only be empty if the keyring holds a single entity.
func IdentityFromPublicKey(scheme string, publicKey []byte, keyID string) (Identity, Verifier, error) {
	switch scheme {
	case SchemeOpenPGP:
		keyring, err := openpgp.ReadArmoredKeyRing(bytes.NewReader(publicKey))
		if err != nil {
			return Identity{}, nil, errors.Wrap(err, "unable to read public key")
		}
		var entity *openpgp.Entity
		switch {
		case keyID != "":
			entity = findEntity(keyring, keyID)
		case len(keyring) == 1:
			entity = keyring[0]
		}
		if entity == nil {
			return Identity{}, nil, errors.Wrapf(ErrKeyNotFound, "no OpenPGP key matches %q", keyID)
		}
		id := Identity{Scheme: scheme, KeyID: keyID, Fingerprints: entityFingerprints(entity)}
		return id, PGPVerifier{keyring: keyring}, nil

	case SchemeSecp256k1:
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(publicKey)), "0x"))
		if err != nil {
			return Identity{}, nil, errors.Wrap(err, "bad public key encoding")
		}
		pub, err := crypto.UnmarshalPubkey(raw)
		if err != nil {
			return Identity{}, nil, errors.Wrap(err, "bad public key")
		}
		fpr := addressFingerprint(pub)
		if keyID == "" {
			keyID = crypto.PubkeyToAddress(*pub).Hex()
		}
		id := Identity{Scheme: scheme, KeyID: keyID, Fingerprints: []Fingerprint{fpr}}
		return id, NewSecp256k1Verifier(fpr), nil

	default:
		return Identity{}, nil, errors.Errorf("unknown signing scheme %q", scheme)
	}
}
