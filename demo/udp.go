package demo

import (
	"net"

	"github.com/pkg/errors"
)

// SendPacket writes a single framed packet to the master at the given
// host:port. Delivery is not confirmed; UDP may drop the datagram.
func SendPacket(location string, pt PacketType, payload []byte) error {
	conn, err := net.Dial("udp", location)
	if err != nil {
		return errors.Wrapf(err, "unable to dial %s", location)
	}
	defer conn.Close()

	_, err = conn.Write(EncodePacket(pt, payload))
	return errors.Wrap(err, "unable to write packet")
}
