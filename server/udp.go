package server

// This file runs the UDP side of the master. Every request is a single
// datagram and every response is a single datagram back to the sender,
// except server lists, which are split across as many datagrams as needed.
// Lost packets are not the server's problem: clients re-send requests that
// go unanswered, and since the server keeps no per-exchange state a repeated
// request is handled exactly like the first.
//
// Registry requests are cheap and are answered on the listener goroutine.
// Signing requests are handed to a bounded set of worker goroutines; when
// all of them are busy the request is dropped as if the network lost it.

import (
	"bytes"
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/glowlabs-org/demo-master/demo"
)

// launchUDPServer binds the UDP socket and starts the listener thread.
func (ms *MasterServer) launchUDPServer() error {
	udpAddress, err := net.ResolveUDPAddr("udp", ms.staticConfig.ListenAddress)
	if err != nil {
		return errors.Wrap(err, "unable to resolve listen address")
	}
	udpConn, err := net.ListenUDP("udp", udpAddress)
	if err != nil {
		return errors.Wrap(err, "unable to listen")
	}
	addr, ok := udpConn.LocalAddr().(*net.UDPAddr)
	if !ok {
		udpConn.Close()
		return errors.New("bad type on udpConn")
	}
	ms.udpConn = udpConn
	ms.udpAddr = addr
	ms.logger.Infof("UDP server launched on %v", addr)
	ms.tg.OnStop(func() error {
		return udpConn.Close()
	})

	return ms.tg.Launch(func() {
		ms.threadedListenUDP()
	})
}

// threadedListenUDP manages the infinite loop that listens for UDP packets.
func (ms *MasterServer) threadedListenUDP() {
	buffer := make([]byte, demo.MaxPacketSize)
	for {
		n, addr, err := ms.udpConn.ReadFromUDP(buffer)
		if err != nil {
			// Check whether the server has been stopped.
			if ms.tg.IsStopped() || errors.Is(err, net.ErrClosed) {
				return
			}
			ms.logger.Error("Failed to read from UDP socket: ", err)
			continue
		}
		ms.managedHandlePacket(bytes.Clone(buffer[:n]), addr)
	}
}

// managedHandlePacket decodes one datagram and dispatches it by type.
func (ms *MasterServer) managedHandlePacket(packet []byte, addr *net.UDPAddr) {
	pt, payload, err := demo.DecodePacket(packet)
	if err != nil {
		ms.staticMetrics.drop(dropMalformed)
		ms.logger.Debugf("Dropping malformed packet from %v: %v", addr, err)
		return
	}
	ms.staticMetrics.packets.WithLabelValues(pt.String()).Inc()

	switch pt {
	case demo.PacketTypeAdd:
		added := ms.staticRegistry.Add(addr)
		if !added {
			ms.logger.Warnf("Registry full, refusing %v", addr)
		}
		ms.reply(addr, demo.PacketTypeAddResponse, demo.EncodeAddResponse(added))
		if added && ms.staticRegistry.ClaimQuery(addr) {
			ms.managedQueryServer(addr)
		}

	case demo.PacketTypeQuery:
		ms.replyList(addr, demo.PacketTypeQueryResponse, ms.staticRegistry.Addresses())

	case demo.PacketTypeGetMetadata:
		items, err := demo.MarshalMetadata(ms.staticRegistry.Metadata())
		if err != nil {
			ms.logger.Errorf("Unable to encode metadata: %v", err)
			return
		}
		ms.replyList(addr, demo.PacketTypeGetMetadataResponse, items)

	case demo.PacketTypeSignStart, demo.PacketTypeSignEnd:
		ms.dispatchSign(pt, payload, addr)

	default:
		ms.staticMetrics.drop(dropUnexpected)
		ms.logger.Debugf("Dropping %v packet from %v", pt, addr)
	}
}

// dispatchSign applies the per-peer limit and hands the request to a
// worker.
func (ms *MasterServer) dispatchSign(pt demo.PacketType, payload []byte, addr *net.UDPAddr) {
	if ms.staticHandler == nil {
		ms.staticMetrics.drop(dropSigningDisabled)
		ms.logger.Debugf("Ignoring %v from %v, signing is disabled", pt, addr)
		return
	}
	if !ms.staticLimiter.Allow(addr.IP.String()) {
		ms.staticMetrics.drop(dropRateLimited)
		ms.logger.Debugf("Rate limited %v from %v", pt, addr)
		return
	}
	if !ms.staticSignSem.TryAcquire(1) {
		ms.staticMetrics.drop(dropBusy)
		ms.logger.Warnf("All signing workers busy, dropping %v from %v", pt, addr)
		return
	}
	err := ms.tg.Launch(func() {
		defer ms.staticSignSem.Release(1)
		ms.managedHandleSign(pt, payload, addr)
	})
	if err != nil {
		ms.staticSignSem.Release(1)
	}
}

// managedHandleSign runs on a worker. SIGN_END always gets a reply, empty
// if the request is refused for any reason. SIGN_START only gets a reply if
// signing succeeded.
func (ms *MasterServer) managedHandleSign(pt demo.PacketType, payload []byte, addr *net.UDPAddr) {
	start := time.Now()
	defer func() {
		ms.staticMetrics.signLatency.WithLabelValues(pt.String()).Observe(time.Since(start).Seconds())
	}()

	switch pt {
	case demo.PacketTypeSignStart:
		resp, err := ms.staticHandler.HandleSignStart()
		if err != nil {
			ms.staticMetrics.drop(dropSignerFault)
			ms.logger.Errorf("SIGN_START from %v failed: %v", addr, err)
			return
		}
		ms.reply(addr, demo.PacketTypeSignStartResponse, resp)

	case demo.PacketTypeSignEnd:
		resp, err := ms.staticHandler.HandleSignEnd(payload)
		if err != nil {
			ms.staticMetrics.signEnds.WithLabelValues(outcomeRejected).Inc()
			ms.logger.Infof("Refused SIGN_END from %v: %v", addr, err)
			resp = nil
		} else if demo.HeaderSize+len(resp) > demo.MaxPacketSize {
			ms.staticMetrics.signEnds.WithLabelValues(outcomeRejected).Inc()
			ms.logger.Warnf("Signed end message for %v does not fit in a packet", addr)
			resp = nil
		} else {
			ms.staticMetrics.signEnds.WithLabelValues(outcomeSigned).Inc()
		}
		ms.reply(addr, demo.PacketTypeSignEndResponse, resp)
	}
}

// reply sends one response packet to addr.
func (ms *MasterServer) reply(addr *net.UDPAddr, pt demo.PacketType, payload []byte) {
	packet := demo.EncodePacket(pt, payload)
	if len(packet) > demo.MaxPacketSize {
		ms.logger.Errorf("Response %v to %v is %d bytes, too large to send", pt, addr, len(packet))
		return
	}
	if _, err := ms.udpConn.WriteToUDP(packet, addr); err != nil {
		ms.logger.Warnf("Unable to send %v to %v: %v", pt, addr, err)
	}
}

// replyList sends a server list, split across as many packets as needed.
func (ms *MasterServer) replyList(addr *net.UDPAddr, pt demo.PacketType, items []string) {
	for _, payload := range demo.SplitStringList(items, demo.MaxListPayload) {
		ms.reply(addr, pt, payload)
	}
}
