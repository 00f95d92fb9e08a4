package signing

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/packet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/glowlabs-org/demo-master/demo"
)

func readKeyring(t *testing.T, path string) openpgp.EntityList {
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	keyring, err := openpgp.ReadArmoredKeyRing(f)
	require.NoError(t, err)
	return keyring
}

func TestPGPKeyStoreLookup(t *testing.T) {
	f := pgpFixture(t)
	authority := readKeyring(t, f.path)[0]
	fpr := NewFingerprint(authority.PrimaryKey.Fingerprint)
	longID := fmt.Sprintf("%016X", authority.PrimaryKey.KeyId)

	for _, id := range []string{
		"Authority",
		"authority@example.com",
		"AUTHORITY@EXAMPLE.COM",
		string(fpr),
		strings.ToUpper(string(fpr)),
		longID,
		"0x" + longID,
		"0X" + longID,
		"0X" + string(fpr),
		"0x" + longID[8:],
		longID[8:],
	} {
		t.Run(id, func(t *testing.T) {
			s, err := f.store.LookupKey(id)
			require.NoError(t, err)
			ident := s.Identity()
			assert.Equal(t, SchemeOpenPGP, ident.Scheme)
			assert.Equal(t, id, ident.KeyID)
			require.Len(t, ident.Fingerprints, 1+len(authority.Subkeys))
			assert.Equal(t, fpr, ident.Fingerprints[0])
		})
	}

	for _, id := range []string{"", "nobody@example.com", "0000000000000000"} {
		_, err := f.store.LookupKey(id)
		require.ErrorIs(t, err, ErrKeyNotFound, "lookup %q", id)
	}
}

func TestPGPKeyStorePublicOnly(t *testing.T) {
	dir := demo.GenerateTestDir(t.Name())
	e, err := openpgp.NewEntity("Public", "", "public@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)
	path := filepath.Join(dir, "public.asc")
	require.NoError(t, WritePGPKeyring(path, []*openpgp.Entity{e}, false))

	store, err := OpenPGPKeyStore(path, nil)
	require.NoError(t, err)
	_, err = store.LookupKey("public@example.com")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrKeyNotFound)

	_, err = NewEngine(store, "public@example.com", EngineOptions{})
	require.Error(t, err)
}

func TestPGPKeyStoreEncrypted(t *testing.T) {
	dir := demo.GenerateTestDir(t.Name())
	e, err := openpgp.NewEntity("Locked", "", "locked@example.com", &packet.Config{Algorithm: packet.PubKeyAlgoEdDSA})
	require.NoError(t, err)
	require.NoError(t, e.PrivateKey.Encrypt([]byte("correct horse")))
	path := filepath.Join(dir, "locked.asc")
	require.NoError(t, WritePGPKeyring(path, []*openpgp.Entity{e}, true))

	store, err := OpenPGPKeyStore(path, nil)
	require.NoError(t, err)
	_, err = store.LookupKey("locked@example.com")
	require.Error(t, err)

	store, err = OpenPGPKeyStore(path, []byte("battery staple"))
	require.NoError(t, err)
	_, err = store.LookupKey("locked@example.com")
	require.Error(t, err)

	store, err = OpenPGPKeyStore(path, []byte("correct horse"))
	require.NoError(t, err)
	s, err := store.LookupKey("locked@example.com")
	require.NoError(t, err)
	signed, err := s.Sign([]byte("hello"))
	require.NoError(t, err)
	plaintext, fpr, err := s.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "hello", string(plaintext))
	require.True(t, s.Identity().Owns(fpr))
}

func TestOpenPGPKeyStoreErrors(t *testing.T) {
	dir := demo.GenerateTestDir(t.Name())
	_, err := OpenPGPKeyStore(filepath.Join(dir, "missing.asc"), nil)
	require.Error(t, err)

	garbage := filepath.Join(dir, "garbage.asc")
	require.NoError(t, os.WriteFile(garbage, []byte("not a keyring"), 0644))
	_, err = OpenPGPKeyStore(garbage, nil)
	require.Error(t, err)

	_, err = OpenKeyStore("rot13", dir, "")
	require.Error(t, err)
}

func TestSecp256k1KeyStoreLookup(t *testing.T) {
	dir := demo.GenerateTestDir(t.Name())
	addrs, err := GenerateTestSecp256k1KeyStore(dir, 3)
	require.NoError(t, err)
	store, err := OpenSecp256k1KeyStore(dir)
	require.NoError(t, err)
	require.Len(t, store.Fingerprints(), 3)

	want, err := ParseFingerprint(addrs[1])
	require.NoError(t, err)
	for _, id := range []string{
		"key1",
		addrs[1],
		strings.ToLower(addrs[1]),
		strings.TrimPrefix(strings.ToLower(addrs[1]), "0x"),
	} {
		s, err := store.LookupKey(id)
		require.NoError(t, err, "lookup %q", id)
		require.Equal(t, []Fingerprint{want}, s.Identity().Fingerprints)
		require.Equal(t, SchemeSecp256k1, s.Name())
	}

	_, err = store.LookupKey("key9")
	require.ErrorIs(t, err, ErrKeyNotFound)
	_, err = store.LookupKey("0x0000000000000000000000000000000000000000")
	require.ErrorIs(t, err, ErrKeyNotFound)
}

func TestOpenSecp256k1KeyStoreErrors(t *testing.T) {
	dir := demo.GenerateTestDir(t.Name())
	_, err := OpenSecp256k1KeyStore(dir)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.key"), []byte("zz"), 0600))
	_, err = OpenSecp256k1KeyStore(dir)
	require.Error(t, err)
}

func TestSecp256k1SignRejectsArmorLines(t *testing.T) {
	f := secpFixture(t)
	s, err := f.store.LookupKey(f.keyID)
	require.NoError(t, err)

	_, err = s.Sign([]byte("-----BEGIN DEMO SIGNATURE-----"))
	require.Error(t, err)
	_, err = s.Sign([]byte("fine\n-----END DEMO SIGNATURE-----"))
	require.Error(t, err)

	signed, err := s.Sign([]byte("fine\n- still fine"))
	require.NoError(t, err)
	plaintext, _, err := s.Verify(signed)
	require.NoError(t, err)
	require.Equal(t, "fine\n- still fine", string(plaintext))
}

func TestParseFingerprint(t *testing.T) {
	fpr, err := ParseFingerprint("0xAB CD ef")
	require.NoError(t, err)
	require.Equal(t, Fingerprint("abcdef"), fpr)

	for _, bad := range []string{"", "0x", "xyz", "abc"} {
		_, err := ParseFingerprint(bad)
		require.Error(t, err, "parse %q", bad)
	}

	id := Identity{Fingerprints: []Fingerprint{"aa", "bb"}}
	require.True(t, id.Owns("bb"))
	require.False(t, id.Owns("cc"))
	require.False(t, id.Owns(""))
}
