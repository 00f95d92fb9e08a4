package server

// Game server metadata is gathered over a separate UDP socket, so that
// answers from game servers never mix with master protocol requests. A
// query is sent when a server first registers and whenever its cached
// answer goes stale; the refresh thread also retries servers that never
// answered.

import (
	"bytes"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/demo"
)

// maxMetadataScanInterval caps how often the refresh thread looks for
// stale metadata.
const maxMetadataScanInterval = 5 * time.Second

// launchGameQuerier binds the query socket and starts the reader and
// refresh threads.
func (ms *MasterServer) launchGameQuerier() error {
	var local *net.UDPAddr
	if ms.staticConfig.QueryAddress != "" {
		addr, err := net.ResolveUDPAddr("udp", ms.staticConfig.QueryAddress)
		if err != nil {
			return errors.Wrap(err, "unable to resolve query address")
		}
		local = addr
	}
	conn, err := net.ListenUDP("udp", local)
	if err != nil {
		return errors.Wrap(err, "unable to open query socket")
	}
	ms.queryConn = conn
	ms.logger.Infof("Querying game servers from %v", conn.LocalAddr())
	ms.tg.OnStop(func() error {
		return conn.Close()
	})

	if err := ms.tg.Launch(ms.threadedReadQueryResponses); err != nil {
		return err
	}
	return ms.tg.Launch(ms.threadedRefreshMetadata)
}

// managedQueryServer asks a game server for its metadata.
func (ms *MasterServer) managedQueryServer(addr *net.UDPAddr) {
	ms.staticMetrics.gameQueries.Inc()
	if _, err := ms.queryConn.WriteToUDP(demo.EncodePacket(demo.PacketTypeGameQuery, nil), addr); err != nil {
		ms.logger.Warnf("Unable to query game server %v: %v", addr, err)
	}
}

// threadedReadQueryResponses stores every well formed answer that comes
// from a registered server.
func (ms *MasterServer) threadedReadQueryResponses() {
	buffer := make([]byte, demo.MaxPacketSize)
	for {
		n, addr, err := ms.queryConn.ReadFromUDP(buffer)
		if err != nil {
			if ms.tg.IsStopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			ms.logger.Error("Failed to read from query socket: ", err)
			continue
		}
		pt, payload, err := demo.DecodePacket(bytes.Clone(buffer[:n]))
		if err != nil || pt != demo.PacketTypeGameQueryResponse {
			ms.logger.Debugf("Ignoring packet on query socket from %v", addr)
			continue
		}
		q, err := demo.DecodeQueryData(payload)
		if err != nil {
			ms.logger.Debugf("Bad query response from %v: %v", addr, err)
			continue
		}
		if ms.staticRegistry.SetMetadata(addr, q) {
			ms.staticMetrics.gameQueryResponses.Inc()
			ms.logger.Debugf("Metadata for %v: %q %q, %d players max", addr, q.Description, q.Version, q.MaxPlayers)
		}
	}
}

// threadedRefreshMetadata periodically queries servers whose metadata is
// missing or stale.
func (ms *MasterServer) threadedRefreshMetadata() {
	interval := min(ms.staticConfig.MetadataRefreshTime/4, maxMetadataScanInterval)
	for ms.tg.Sleep(interval) {
		for _, addr := range ms.staticRegistry.DueForQuery() {
			ms.managedQueryServer(addr)
		}
	}
}
