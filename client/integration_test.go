package client

import (
	"context"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glowlabs-org/demo-master/demo"
	"github.com/glowlabs-org/demo-master/server"
	"github.com/glowlabs-org/demo-master/signing"
)

func setupMaster(t *testing.T, modifiers ...func(*server.Config)) (*server.MasterServer, *Client) {
	t.Helper()
	ms, _, err := server.SetupTestEnvironment(t.Name(), modifiers...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ms.Close())
	})
	return ms, New(ms.UDPAddr().String(), Options{Timeout: 2 * time.Second})
}

// recordDemo runs the full exchange a game client performs and returns the
// pieces a third party needs to check the result.
func recordDemo(t *testing.T, c *Client, contents string) (signedStart, signedEnd []byte, checksum [demo.ChecksumSize]byte) {
	ctx := context.Background()
	_, signedStart, err := c.SignStart(ctx)
	require.NoError(t, err)
	checksum = sha1.Sum([]byte(contents))
	signedEnd, err = c.SignEnd(ctx, checksum, signedStart)
	require.NoError(t, err)
	return signedStart, signedEnd, checksum
}

func TestSignedDemoEndToEnd(t *testing.T) {
	ms, c := setupMaster(t)

	signedStart, signedEnd, checksum := recordDemo(t, c, "demo lump data")

	authority, err := FetchAuthority(context.Background(), "http://"+ms.HTTPAddr().String())
	require.NoError(t, err)
	require.Equal(t, ms.Engine().Identity().Fingerprints, authority.Identity.Fingerprints)
	require.NoError(t, authority.Verify(signedStart, signedEnd, checksum[:]))

	// A different recording does not match the attestation.
	other := sha1.Sum([]byte("some other demo"))
	require.Error(t, authority.Verify(signedStart, signedEnd, other[:]))

	// Re-sending SIGN_END yields a fresh, equally valid end message.
	signedEnd2, err := c.SignEnd(context.Background(), checksum, signedStart)
	require.NoError(t, err)
	require.NoError(t, authority.Verify(signedStart, signedEnd2, checksum[:]))
}

func TestSignedDemoEndToEndSecp256k1(t *testing.T) {
	keyDir := demo.GenerateTestDir(t.Name() + "-keys")
	addrs, err := signing.GenerateTestSecp256k1KeyStore(keyDir, 2)
	require.NoError(t, err)
	ms, c := setupMaster(t, func(cfg *server.Config) {
		cfg.SigningScheme = signing.SchemeSecp256k1
		cfg.KeyStorePath = keyDir
		cfg.SigningKey = addrs[1]
	})

	signedStart, signedEnd, checksum := recordDemo(t, c, "another demo")

	authority, err := FetchAuthority(context.Background(), "http://"+ms.HTTPAddr().String())
	require.NoError(t, err)
	require.NoError(t, authority.Verify(signedStart, signedEnd, checksum[:]))
}

func TestForgedStartRejected(t *testing.T) {
	ms, c := setupMaster(t)

	_, signedStart, err := c.SignStart(context.Background())
	require.NoError(t, err)
	forged := append([]byte(nil), signedStart...)
	forged[len(forged)/3] ^= 0x01

	_, err = c.SignEnd(context.Background(), [demo.ChecksumSize]byte{}, forged)
	require.ErrorIs(t, err, ErrRejected)

	// The master is unaffected.
	_, err = c.SignEnd(context.Background(), [demo.ChecksumSize]byte{}, signedStart)
	require.NoError(t, err)
	require.NotNil(t, ms.Engine())
}

func TestRegistryEndToEnd(t *testing.T) {
	ms, c := setupMaster(t)
	ctx := context.Background()

	added, err := c.Add(ctx)
	require.NoError(t, err)
	require.True(t, added)
	require.Equal(t, 1, ms.Registry().Len())

	servers, err := c.Query(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	host, _, err := net.SplitHostPort(servers[0])
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1", host)

	// The client's socket never answers game queries, so it is not
	// described by GET_METADATA.
	meta, err := c.GetMetadata(ctx)
	require.NoError(t, err)
	require.Empty(t, meta)

	gs, err := server.NewTestGameServer(demo.QueryData{
		Version:     "Chocolate Doom 3.0.1",
		MaxPlayers:  4,
		Description: "E1M1",
	})
	require.NoError(t, err)
	defer gs.Close()
	added, err = gs.Register(ms.UDPAddr())
	require.NoError(t, err)
	require.True(t, added)

	require.Eventually(t, func() bool {
		meta, err = c.GetMetadata(ctx)
		return err == nil && len(meta) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Equal(t, demo.ServerMetadata{
		Address:    "127.0.0.1",
		Port:       gs.Addr().Port,
		Age:        meta[0].Age,
		Name:       "E1M1",
		Version:    "Chocolate Doom 3.0.1",
		MaxPlayers: 4,
	}, meta[0])

	servers, err = c.Query(ctx)
	require.NoError(t, err)
	require.Len(t, servers, 2)

	// A fire and forget ADD from another socket shows up as a third entry.
	require.NoError(t, demo.SendPacket(ms.UDPAddr().String(), demo.PacketTypeAdd, nil))
	require.Eventually(t, func() bool {
		return ms.Registry().Len() == 3
	}, 5*time.Second, 10*time.Millisecond)
}
