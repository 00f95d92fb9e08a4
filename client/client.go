package client

// The client package talks to a demo master over UDP. Every request is a
// single datagram and the master keeps no state between requests, so a
// request that goes unanswered is simply sent again. The client owns all of
// the retry logic: the master never retries and never deduplicates.
//
// A signed demo takes two exchanges. SignStart is called when recording
// begins and returns the nonce plus the master's signed start message.
// SignEnd is called when recording stops, with the SHA-1 checksum of the
// recorded demo, and returns the signed end message. The client does not
// check either signature; anyone holding the master's public key can do that
// later with signing.VerifyDemo.
//
// Server lists may come back as several datagrams. After the first one
// arrives the client keeps listening for GatherTime and merges whatever
// else the master sent.

import (
	"context"
	"net"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"github.com/glowlabs-org/demo-master/demo"
)

const (
	// DefaultTimeout is how long one attempt waits for a response.
	DefaultTimeout = time.Second

	// DefaultRetries is how many times a request is re-sent after the first
	// attempt goes unanswered.
	DefaultRetries = 4

	// DefaultGatherTime is how long to wait for further packets of a server
	// list after the first.
	DefaultGatherTime = 100 * time.Millisecond
)

var (
	// ErrNoResponse is returned when every attempt timed out.
	ErrNoResponse = errors.New("no response from master")

	// ErrRejected is returned when the master answered SIGN_END with an
	// empty response. The master gives no reason; the signed start message
	// was not accepted.
	ErrRejected = errors.New("master refused to sign")
)

// Options tune the retry behavior of a Client. Zero values are replaced by
// the defaults; a negative Retries sends each request exactly once.
type Options struct {
	Timeout    time.Duration
	Retries    int
	GatherTime time.Duration

	// Backoff optionally replaces the exponential backoff between attempts.
	// Tests use it to avoid sleeping.
	Backoff func() backoff.BackOff
}

// Client sends requests to a single demo master.
type Client struct {
	staticAddress string
	staticOpts    Options
}

// New creates a client for the master at address (host:port). No network
// activity happens until the first request.
func New(address string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.GatherTime <= 0 {
		opts.GatherTime = DefaultGatherTime
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	} else if opts.Retries == 0 {
		opts.Retries = DefaultRetries
	}
	if opts.Backoff == nil {
		opts.Backoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return b
		}
	}
	return &Client{
		staticAddress: address,
		staticOpts:    opts,
	}
}

// Address returns the master's address as given to New.
func (c *Client) Address() string {
	return c.staticAddress
}

// SignStart asks the master for a nonce and a signed start message.
func (c *Client) SignStart(ctx context.Context) (demo.Nonce, []byte, error) {
	payload, err := c.request(ctx, demo.PacketTypeSignStart, nil, demo.PacketTypeSignStartResponse)
	if err != nil {
		return demo.Nonce{}, nil, err
	}
	nonce, signedStart, err := demo.DecodeSignStartResponse(payload)
	if err != nil {
		return demo.Nonce{}, nil, errors.Wrap(err, "bad SIGN_START_RESPONSE")
	}
	return nonce, signedStart, nil
}

// SignEnd asks the master to extend signedStart with the demo's checksum and
// the current time. An empty response from the master yields ErrRejected and
// is not retried.
func (c *Client) SignEnd(ctx context.Context, checksum [demo.ChecksumSize]byte, signedStart []byte) ([]byte, error) {
	req := demo.EncodeSignEnd(checksum, signedStart)
	if demo.HeaderSize+len(req) > demo.MaxPacketSize {
		return nil, errors.New("signed start message is too large for one packet")
	}
	signedEnd, err := c.request(ctx, demo.PacketTypeSignEnd, req, demo.PacketTypeSignEndResponse)
	if err != nil {
		return nil, err
	}
	return signedEnd, nil
}

// Add registers the sending address with the master's server list. It
// returns false if the master's list is full.
func (c *Client) Add(ctx context.Context) (bool, error) {
	payload, err := c.request(ctx, demo.PacketTypeAdd, nil, demo.PacketTypeAddResponse)
	if err != nil {
		return false, err
	}
	return demo.DecodeAddResponse(payload)
}

// Query returns the ip:port of every registered game server.
func (c *Client) Query(ctx context.Context) ([]string, error) {
	payloads, err := c.exchange(ctx, demo.PacketTypeQuery, nil, demo.PacketTypeQueryResponse, true)
	if err != nil {
		return nil, err
	}
	var servers []string
	for _, p := range payloads {
		part, err := demo.DecodeStringList(p)
		if err != nil {
			return nil, errors.Wrap(err, "bad QUERY_RESPONSE")
		}
		servers = append(servers, part...)
	}
	// Answers to a retried request repeat the list.
	return lo.Uniq(servers), nil
}

// GetMetadata returns the metadata of every registered game server that has
// answered the master's query.
func (c *Client) GetMetadata(ctx context.Context) ([]demo.ServerMetadata, error) {
	payloads, err := c.exchange(ctx, demo.PacketTypeGetMetadata, nil, demo.PacketTypeGetMetadataResponse, true)
	if err != nil {
		return nil, err
	}
	var servers []demo.ServerMetadata
	for _, p := range payloads {
		part, err := demo.DecodeMetadataList(p)
		if err != nil {
			return nil, errors.Wrap(err, "bad GET_METADATA_RESPONSE")
		}
		servers = append(servers, part...)
	}
	return lo.UniqBy(servers, func(s demo.ServerMetadata) string {
		return net.JoinHostPort(s.Address, strconv.Itoa(s.Port))
	}), nil
}

// request performs an exchange with a single packet response.
func (c *Client) request(ctx context.Context, pt demo.PacketType, payload []byte, want demo.PacketType) ([]byte, error) {
	payloads, err := c.exchange(ctx, pt, payload, want, false)
	if err != nil {
		return nil, err
	}
	return payloads[0], nil
}

// exchange sends pt until a response of type want arrives from the master,
// the retries run out, or ctx is done. All attempts share one socket so a
// late reply to an earlier attempt still counts. With gather set, packets
// that follow the first response are collected as well.
func (c *Client) exchange(ctx context.Context, pt demo.PacketType, payload []byte, want demo.PacketType, gather bool) ([][]byte, error) {
	master, err := net.ResolveUDPAddr("udp", c.staticAddress)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to resolve %s", c.staticAddress)
	}
	conn, err := net.ListenUDP("udp", nil)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open UDP socket")
	}
	defer conn.Close()

	// Unblock a pending read as soon as the context ends.
	stop := context.AfterFunc(ctx, func() {
		conn.SetReadDeadline(time.Now())
	})
	defer stop()

	packet := demo.EncodePacket(pt, payload)
	var resp []byte
	attempt := func() error {
		if err := ctx.Err(); err != nil {
			return backoff.Permanent(err)
		}
		if _, err := conn.WriteToUDP(packet, master); err != nil {
			return errors.Wrapf(err, "unable to send %v", pt)
		}
		r, err := c.staticAwait(ctx, conn, master, want)
		if err != nil {
			return err
		}
		if want == demo.PacketTypeSignEndResponse && len(r) == 0 {
			return backoff.Permanent(ErrRejected)
		}
		resp = r
		return nil
	}

	b := backoff.WithContext(backoff.WithMaxRetries(c.staticOpts.Backoff(), uint64(c.staticOpts.Retries)), ctx)
	if err := backoff.Retry(attempt, b); err != nil {
		return nil, err
	}
	payloads := [][]byte{resp}
	if gather {
		payloads = append(payloads, c.staticGather(ctx, conn, master, want)...)
	}
	return payloads, nil
}

// staticGather collects further responses of type want until the master
// has been quiet for the gather time.
func (c *Client) staticGather(ctx context.Context, conn *net.UDPConn, master *net.UDPAddr, want demo.PacketType) [][]byte {
	var payloads [][]byte
	for ctx.Err() == nil {
		deadline := time.Now().Add(c.staticOpts.GatherTime)
		if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
			deadline = d
		}
		if err := conn.SetReadDeadline(deadline); err != nil {
			break
		}
		p, err := c.staticReadResponse(conn, master, want)
		if err != nil {
			break
		}
		payloads = append(payloads, p)
	}
	return payloads
}

// staticAwait waits up to the attempt timeout for a response of type want.
func (c *Client) staticAwait(ctx context.Context, conn *net.UDPConn, master *net.UDPAddr, want demo.PacketType) ([]byte, error) {
	deadline := time.Now().Add(c.staticOpts.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := conn.SetReadDeadline(deadline); err != nil {
		return nil, errors.Wrap(err, "unable to set read deadline")
	}

	payload, err := c.staticReadResponse(conn, master, want)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ErrNoResponse
		}
		return nil, errors.Wrap(err, "unable to read response")
	}
	return payload, nil
}

// staticReadResponse reads datagrams until one of type want arrives from
// master or the read deadline passes. Anything else is ignored.
func (c *Client) staticReadResponse(conn *net.UDPConn, master *net.UDPAddr, want demo.PacketType) ([]byte, error) {
	buf := make([]byte, demo.MaxPacketSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			return nil, err
		}
		if !sameAddr(from, master) {
			continue
		}
		rt, payload, err := demo.DecodePacket(buf[:n])
		if err != nil || rt != want {
			continue
		}
		return append([]byte(nil), payload...), nil
	}
}

// sameAddr reports whether a response came from the master. An unspecified
// master IP (0.0.0.0 or ::) matches any sender on the right port.
func sameAddr(from, master *net.UDPAddr) bool {
	if from.Port != master.Port {
		return false
	}
	return master.IP == nil || master.IP.IsUnspecified() || from.IP.Equal(master.IP)
}
