package signing

// testing.go contains exported functions that are intended to be used during
// testing but not in other ways.

import (
	"crypto/ecdsa"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

// GenerateTestPGPKeyring writes an armored private keyring to
// dir/keyring.asc with one Ed25519 entity per name. Each entity gets the user
// id "<name> <name@example.com>". The path of the keyring is returned.
func GenerateTestPGPKeyring(dir string, names ...string) (string, error) {
	var entities []*openpgp.Entity
	for _, name := range names {
		e, err := openpgp.NewEntity(name, "", strings.ToLower(name)+"@example.com", &packet.Config{
			Algorithm: packet.PubKeyAlgoEdDSA,
		})
		if err != nil {
			return "", errors.Wrapf(err, "unable to generate key for %s", name)
		}
		entities = append(entities, e)
	}
	path := filepath.Join(dir, "keyring.asc")
	if err := WritePGPKeyring(path, entities, true); err != nil {
		return "", err
	}
	return path, nil
}

// WritePGPKeyring serializes entities as one armored block. With private
// set the secret keys are included.
func WritePGPKeyring(path string, entities []*openpgp.Entity, private bool) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "unable to create keyring file")
	}
	defer f.Close()

	blockType := openpgp.PublicKeyType
	if private {
		blockType = openpgp.PrivateKeyType
	}
	w, err := armor.Encode(f, blockType, nil)
	if err != nil {
		return errors.Wrap(err, "unable to start armor")
	}
	for _, e := range entities {
		if private {
			err = e.SerializePrivateWithoutSigning(w, nil)
		} else {
			err = e.Serialize(w)
		}
		if err != nil {
			return errors.Wrap(err, "unable to serialize entity")
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "unable to finish armor")
	}
	return f.Sync()
}

// GenerateTestSecp256k1KeyStore writes n fresh keys into dir as
// key0.key, key1.key, ... and returns their addresses in that order.
func GenerateTestSecp256k1KeyStore(dir string, n int) ([]string, error) {
	var addrs []string
	for i := 0; i < n; i++ {
		key, err := crypto.GenerateKey()
		if err != nil {
			return nil, errors.Wrap(err, "unable to generate key")
		}
		if err := crypto.SaveECDSA(filepath.Join(dir, fmt.Sprintf("key%d%s", i, keyFileExtension)), key); err != nil {
			return nil, errors.Wrap(err, "unable to save key")
		}
		addrs = append(addrs, crypto.PubkeyToAddress(key.PublicKey).Hex())
	}
	return addrs, nil
}

// SignWithKey signs plaintext in the secp256k1 envelope with an arbitrary
// key, for building messages the authority never issued.
func SignWithKey(key *ecdsa.PrivateKey, plaintext []byte) ([]byte, error) {
	s := &secp256k1Scheme{key: key}
	return s.Sign(plaintext)
}
