package server

// testing.go contains a bunch of exported functions that are useful for
// testing, but are really only intended to be used for testing.

import (
	"net"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/demo"
	"github.com/glowlabs-org/demo-master/signing"
)

const (
	// TestAuthorityKey is the signing key of servers created by
	// SetupTestEnvironment.
	TestAuthorityKey = "authority@example.com"

	// TestIntruderKey names a second key in the same keyring. The master
	// can verify its signatures but must not accept them as its own.
	TestIntruderKey = "intruder@example.com"
)

// TestConfig returns a config that listens on random loopback ports and
// signs with TestAuthorityKey from a keyring generated in dir.
func TestConfig(dir string) (Config, error) {
	keyring, err := signing.GenerateTestPGPKeyring(dir, "Authority", "Intruder")
	if err != nil {
		return Config{}, errors.Wrap(err, "unable to generate keyring")
	}
	cfg := DefaultConfig()
	cfg.ListenAddress = "127.0.0.1:0"
	cfg.HTTPAddress = "127.0.0.1:0"
	cfg.QueryAddress = "127.0.0.1:0"
	cfg.LogFile = filepath.Join(dir, "demo-master.log")
	cfg.LogLevel = "debug"
	cfg.SigningScheme = signing.SchemeOpenPGP
	cfg.SigningKey = TestAuthorityKey
	cfg.KeyStorePath = keyring
	cfg.SignRateLimit = 0
	return cfg, nil
}

// SetupTestEnvironment will return a fully initialized master server that is
// ready to be used, along with its directory. The optional modifiers are
// applied to the config before the server starts.
func SetupTestEnvironment(testName string, modifiers ...func(*Config)) (*MasterServer, string, error) {
	dir := demo.GenerateTestDir(testName)
	cfg, err := TestConfig(dir)
	if err != nil {
		return nil, "", err
	}
	for _, m := range modifiers {
		m(&cfg)
	}
	// The sockets are bound before NewMasterServer returns, so requests
	// sent right away are queued rather than lost.
	ms, err := NewMasterServer(cfg)
	if err != nil {
		return nil, "", errors.Wrap(err, "unable to create master server")
	}
	return ms, dir, nil
}

// TestGameServer stands in for a game server: it registers with a master
// from its own socket and answers game queries with its current info.
type TestGameServer struct {
	conn *net.UDPConn
	adds chan bool

	info    demo.QueryData
	queries int
	mu      sync.Mutex
}

// NewTestGameServer opens a loopback socket and starts answering queries.
func NewTestGameServer(info demo.QueryData) (*TestGameServer, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	if err != nil {
		return nil, errors.Wrap(err, "unable to open game server socket")
	}
	gs := &TestGameServer{
		conn: conn,
		adds: make(chan bool, 1),
		info: info,
	}
	go gs.threadedServe()
	return gs, nil
}

func (gs *TestGameServer) threadedServe() {
	buf := make([]byte, demo.MaxPacketSize)
	for {
		n, addr, err := gs.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		pt, payload, err := demo.DecodePacket(buf[:n])
		if err != nil {
			continue
		}
		switch pt {
		case demo.PacketTypeGameQuery:
			gs.mu.Lock()
			gs.queries++
			resp := demo.EncodePacket(demo.PacketTypeGameQueryResponse, demo.EncodeQueryData(gs.info))
			gs.mu.Unlock()
			_, _ = gs.conn.WriteToUDP(resp, addr)
		case demo.PacketTypeAddResponse:
			added, err := demo.DecodeAddResponse(payload)
			if err != nil {
				continue
			}
			select {
			case gs.adds <- added:
			default:
			}
		}
	}
}

// Register sends ADD to the master and waits for its answer.
func (gs *TestGameServer) Register(master *net.UDPAddr) (bool, error) {
	if _, err := gs.conn.WriteToUDP(demo.EncodePacket(demo.PacketTypeAdd, nil), master); err != nil {
		return false, errors.Wrap(err, "unable to send ADD")
	}
	select {
	case added := <-gs.adds:
		return added, nil
	case <-time.After(5 * time.Second):
		return false, errors.New("no ADD_RESPONSE from master")
	}
}

// Addr returns the game server's address as the master sees it.
func (gs *TestGameServer) Addr() *net.UDPAddr {
	return gs.conn.LocalAddr().(*net.UDPAddr)
}

// SetInfo changes the answer to future queries.
func (gs *TestGameServer) SetInfo(info demo.QueryData) {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	gs.info = info
}

// Queries returns how many game queries have been answered.
func (gs *TestGameServer) Queries() int {
	gs.mu.Lock()
	defer gs.mu.Unlock()
	return gs.queries
}

// Close stops the game server.
func (gs *TestGameServer) Close() error {
	return gs.conn.Close()
}
