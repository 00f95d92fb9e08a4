package server

import (
	"bytes"
	"crypto/sha1"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/glowlabs-org/demo-master/demo"
	"github.com/glowlabs-org/demo-master/signing"
)

// exchange sends one request to the master and waits for the reply. It
// returns ok=false if nothing arrived within the timeout.
func exchange(t *testing.T, ms *MasterServer, pt demo.PacketType, payload []byte, timeout time.Duration) (demo.PacketType, []byte, bool) {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, ms.UDPAddr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write(demo.EncodePacket(pt, payload))
	require.NoError(t, err)

	buf := make([]byte, demo.MaxPacketSize)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(timeout)))
	n, err := conn.Read(buf)
	if err != nil {
		return 0, nil, false
	}
	rt, rp, err := demo.DecodePacket(buf[:n])
	require.NoError(t, err)
	return rt, rp, true
}

func mustExchange(t *testing.T, ms *MasterServer, pt demo.PacketType, payload []byte) (demo.PacketType, []byte) {
	t.Helper()
	rt, rp, ok := exchange(t, ms, pt, payload, 5*time.Second)
	require.True(t, ok, "no response to %v", pt)
	return rt, rp
}

func setupServer(t *testing.T, modifiers ...func(*Config)) *MasterServer {
	t.Helper()
	ms, _, err := SetupTestEnvironment(t.Name(), modifiers...)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, ms.Close())
	})
	return ms
}

func TestSignExchangeOverUDP(t *testing.T) {
	ms := setupServer(t)
	engine := ms.Engine()
	require.NotNil(t, engine)

	rt, payload := mustExchange(t, ms, demo.PacketTypeSignStart, nil)
	require.Equal(t, demo.PacketTypeSignStartResponse, rt)
	nonce, signedStart, err := demo.DecodeSignStartResponse(payload)
	require.NoError(t, err)

	plaintext, _, err := engine.Scheme().Verify(signedStart)
	require.NoError(t, err)
	att, err := demo.ParseAttestation(plaintext)
	require.NoError(t, err)
	require.Equal(t, nonce, att.Nonce)

	checksum := sha1.Sum([]byte("a recorded demo"))
	rt, signedEnd := mustExchange(t, ms, demo.PacketTypeSignEnd, demo.EncodeSignEnd(checksum, signedStart))
	require.Equal(t, demo.PacketTypeSignEndResponse, rt)
	require.NotEmpty(t, signedEnd)

	end, err := signing.VerifyDemo(engine.Scheme(), engine.Identity(), signedStart, signedEnd, checksum[:])
	require.NoError(t, err)
	require.Equal(t, nonce, end.Nonce)
}

// TestSignEndRefusals checks that every kind of bad SIGN_END gets an empty
// SIGN_END_RESPONSE and that the server keeps working afterwards.
func TestSignEndRefusals(t *testing.T) {
	ms := setupServer(t)

	_, payload := mustExchange(t, ms, demo.PacketTypeSignStart, nil)
	_, signedStart, err := demo.DecodeSignStartResponse(payload)
	require.NoError(t, err)

	store, err := signing.OpenKeyStore(signing.SchemeOpenPGP, ms.staticConfig.KeyStorePath, "")
	require.NoError(t, err)
	intruder, err := store.LookupKey(TestIntruderKey)
	require.NoError(t, err)
	forged, err := intruder.Sign(demo.StartPlaintext(time.Now(), demo.Nonce{1}))
	require.NoError(t, err)

	var checksum [demo.ChecksumSize]byte
	tampered := bytes.Clone(signedStart)
	tampered[len(tampered)/2] ^= 0xff

	cases := map[string][]byte{
		"empty":          nil,
		"short checksum": make([]byte, demo.ChecksumSize-1),
		"checksum only":  make([]byte, demo.ChecksumSize),
		"garbage":        append(make([]byte, demo.ChecksumSize), "not a signed message"...),
		"tampered":       demo.EncodeSignEnd(checksum, tampered),
		"intruder":       demo.EncodeSignEnd(checksum, forged),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			rt, resp := mustExchange(t, ms, demo.PacketTypeSignEnd, req)
			require.Equal(t, demo.PacketTypeSignEndResponse, rt)
			require.Empty(t, resp)
		})
	}

	rt, resp := mustExchange(t, ms, demo.PacketTypeSignEnd, demo.EncodeSignEnd(checksum, signedStart))
	require.Equal(t, demo.PacketTypeSignEndResponse, rt)
	require.NotEmpty(t, resp)
}

// setupGameServer starts a game server and registers it with ms.
func setupGameServer(t *testing.T, ms *MasterServer, info demo.QueryData) *TestGameServer {
	t.Helper()
	gs, err := NewTestGameServer(info)
	require.NoError(t, err)
	t.Cleanup(func() { gs.Close() })
	added, err := gs.Register(ms.UDPAddr())
	require.NoError(t, err)
	require.True(t, added)
	return gs
}

// exchangeList sends a list request and gathers every reply packet until
// the master goes quiet.
func exchangeList(t *testing.T, ms *MasterServer, pt, responseType demo.PacketType) [][]byte {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, ms.UDPAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(demo.EncodePacket(pt, nil))
	require.NoError(t, err)

	var payloads [][]byte
	buf := make([]byte, demo.MaxPacketSize)
	deadline := 5 * time.Second
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(deadline)))
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		rt, payload, err := demo.DecodePacket(buf[:n])
		require.NoError(t, err)
		require.Equal(t, responseType, rt)
		payloads = append(payloads, bytes.Clone(payload))
		deadline = 300 * time.Millisecond
	}
	require.NotEmpty(t, payloads, "no response to %v", pt)
	return payloads
}

func TestRegistryOverUDP(t *testing.T) {
	ms := setupServer(t)
	info := demo.QueryData{
		Version:     "Chocolate Doom 3.0.1",
		MaxPlayers:  4,
		Description: "Knee deep in the dead",
	}
	gs := setupGameServer(t, ms, info)

	rt, payload := mustExchange(t, ms, demo.PacketTypeQuery, nil)
	require.Equal(t, demo.PacketTypeQueryResponse, rt)
	addrs, err := demo.DecodeStringList(payload)
	require.NoError(t, err)
	require.Equal(t, []string{gs.Addr().String()}, addrs)

	// The master queries the new server and lists it once it has answered.
	require.Eventually(t, func() bool {
		return len(ms.staticRegistry.Metadata()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	rt, payload = mustExchange(t, ms, demo.PacketTypeGetMetadata, nil)
	require.Equal(t, demo.PacketTypeGetMetadataResponse, rt)
	servers, err := demo.DecodeMetadataList(payload)
	require.NoError(t, err)
	require.Len(t, servers, 1)
	require.Equal(t, demo.ServerMetadata{
		Address:    "127.0.0.1",
		Port:       gs.Addr().Port,
		Age:        servers[0].Age,
		Name:       "Knee deep in the dead",
		Version:    "Chocolate Doom 3.0.1",
		MaxPlayers: 4,
	}, servers[0])
	require.Equal(t, 1, gs.Queries())

	// A repeated ADD does not trigger another query while the metadata is
	// fresh.
	added, err := gs.Register(ms.UDPAddr())
	require.NoError(t, err)
	require.True(t, added)
	mustExchange(t, ms, demo.PacketTypeQuery, nil)
	require.Equal(t, 1, gs.Queries())
}

func TestMetadataRefresh(t *testing.T) {
	ms := setupServer(t, func(cfg *Config) {
		cfg.MetadataRefreshTime = 200 * time.Millisecond
	})
	gs := setupGameServer(t, ms, demo.QueryData{Version: "v1", Description: "before"})
	require.Eventually(t, func() bool {
		meta := ms.staticRegistry.Metadata()
		return len(meta) == 1 && meta[0].Name == "before"
	}, 5*time.Second, 20*time.Millisecond)

	gs.SetInfo(demo.QueryData{Version: "v2", MaxPlayers: 8, Description: "after"})
	require.Eventually(t, func() bool {
		meta := ms.staticRegistry.Metadata()
		return len(meta) == 1 && meta[0].Name == "after" && meta[0].Version == "v2" && meta[0].MaxPlayers == 8
	}, 5*time.Second, 20*time.Millisecond)
	require.GreaterOrEqual(t, gs.Queries(), 2)
}

// TestQueryResponsesFromStrangers checks that game query answers are only
// accepted from registered servers.
func TestQueryResponsesFromStrangers(t *testing.T) {
	ms := setupServer(t)
	conn, err := net.DialUDP("udp", nil, ms.QueryAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write(demo.EncodePacket(demo.PacketTypeGameQueryResponse, demo.EncodeQueryData(demo.QueryData{Description: "uninvited"})))
	require.NoError(t, err)

	gs := setupGameServer(t, ms, demo.QueryData{Description: "invited"})
	require.Eventually(t, func() bool {
		return len(ms.staticRegistry.Metadata()) == 1
	}, 5*time.Second, 20*time.Millisecond)
	meta := ms.staticRegistry.Metadata()
	require.Equal(t, gs.Addr().Port, meta[0].Port)
	require.Equal(t, "invited", meta[0].Name)
}

func TestSigningDisabled(t *testing.T) {
	ms := setupServer(t, func(cfg *Config) {
		cfg.SigningKey = ""
	})
	require.Nil(t, ms.Engine())

	_, _, ok := exchange(t, ms, demo.PacketTypeSignStart, nil, 200*time.Millisecond)
	require.False(t, ok)

	rt, _ := mustExchange(t, ms, demo.PacketTypeAdd, nil)
	require.Equal(t, demo.PacketTypeAddResponse, rt)
}

func TestSignRateLimit(t *testing.T) {
	ms := setupServer(t, func(cfg *Config) {
		cfg.SignRateLimit = 2
		cfg.SignRateWindow = time.Hour
	})

	for i := 0; i < 2; i++ {
		rt, _ := mustExchange(t, ms, demo.PacketTypeSignStart, nil)
		require.Equal(t, demo.PacketTypeSignStartResponse, rt)
	}
	_, _, ok := exchange(t, ms, demo.PacketTypeSignStart, nil, 200*time.Millisecond)
	require.False(t, ok)

	// The registry is not rate limited.
	rt, _ := mustExchange(t, ms, demo.PacketTypeQuery, nil)
	require.Equal(t, demo.PacketTypeQueryResponse, rt)
}

func TestUnexpectedPackets(t *testing.T) {
	ms := setupServer(t)

	_, _, ok := exchange(t, ms, demo.PacketTypeSignEndResponse, []byte("hello"), 200*time.Millisecond)
	require.False(t, ok)
	_, _, ok = exchange(t, ms, demo.PacketType(999), nil, 200*time.Millisecond)
	require.False(t, ok)

	// A one byte datagram is too short to carry a type.
	conn, err := net.DialUDP("udp", nil, ms.UDPAddr())
	require.NoError(t, err)
	defer conn.Close()
	_, err = conn.Write([]byte{0})
	require.NoError(t, err)

	rt, _ := mustExchange(t, ms, demo.PacketTypeQuery, nil)
	require.Equal(t, demo.PacketTypeQueryResponse, rt)
}

func TestNewMasterServerErrors(t *testing.T) {
	dir := demo.GenerateTestDir(t.Name())
	cfg, err := TestConfig(dir)
	require.NoError(t, err)

	bad := cfg
	bad.SigningKey = "nobody@example.com"
	_, err = NewMasterServer(bad)
	require.ErrorIs(t, err, signing.ErrKeyNotFound)

	bad = cfg
	bad.KeyStorePath = dir + "/missing.asc"
	_, err = NewMasterServer(bad)
	require.Error(t, err)

	bad = cfg
	bad.ListenAddress = "nonsense"
	_, err = NewMasterServer(bad)
	require.Error(t, err)

	// The failed starts must have released their log files.
	ms, err := NewMasterServer(cfg)
	require.NoError(t, err)
	require.NoError(t, ms.Close())
}

// TestLongListsSplit checks that lists too long for one datagram arrive
// whole, spread over several packets.
func TestLongListsSplit(t *testing.T) {
	ms := setupServer(t)
	var want []string
	for i := 0; i < 300; i++ {
		addr := &net.UDPAddr{IP: net.IPv4(10, 0, byte(i/250), byte(i%250+1)), Port: 2342}
		require.True(t, ms.staticRegistry.Add(addr))
		require.True(t, ms.staticRegistry.SetMetadata(addr, demo.QueryData{
			Version:     "Chocolate Doom 3.0.1",
			MaxPlayers:  4,
			Description: strings.Repeat("d", 40),
		}))
		want = append(want, addr.String())
	}

	payloads := exchangeList(t, ms, demo.PacketTypeQuery, demo.PacketTypeQueryResponse)
	require.Greater(t, len(payloads), 1)
	var got []string
	for _, p := range payloads {
		require.LessOrEqual(t, len(p), demo.MaxListPayload)
		addrs, err := demo.DecodeStringList(p)
		require.NoError(t, err)
		got = append(got, addrs...)
	}
	require.ElementsMatch(t, want, got)

	payloads = exchangeList(t, ms, demo.PacketTypeGetMetadata, demo.PacketTypeGetMetadataResponse)
	require.Greater(t, len(payloads), 1)
	var servers []demo.ServerMetadata
	for _, p := range payloads {
		require.LessOrEqual(t, len(p), demo.MaxListPayload)
		meta, err := demo.DecodeMetadataList(p)
		require.NoError(t, err)
		servers = append(servers, meta...)
	}
	require.Len(t, servers, len(want))
}
