// Package client implements the SeedLink connection lifecycle: connect,
// negotiate, stream. The collection driver is a polling state machine the
// caller re-enters in a loop; each call returns at most one complete
// packet together with its metadata.
//
// A Client is single-owner state. Configuration calls must not run
// concurrently with Collect; the only cross-thread contact allowed is
// Terminate, which performs a single atomic write.
package client

import (
	"crypto/tls"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"seedlink/logging"
	"seedlink/streams"
	"seedlink/transport"
)

// LibraryVersion is reported to v4 servers in the USERAGENT command.
const LibraryVersion = "1.0.0"

// recvBufferSize is the fixed receive buffer; it bounds how much of the
// stream is held before the framer consumes it.
const recvBufferSize = 16384

// Authorizer supplies credentials for servers requiring authentication.
// AuthValue returns the opaque credential sent in the AUTH command;
// AuthFinish is called when negotiation is done so implementations can
// scrub key material.
type Authorizer interface {
	AuthValue(server string) string
	AuthFinish(server string)
}

type connState int

const (
	connDown connState = iota
	connUp
	connStreaming
)

type streamState int

const (
	stateHeader streamState = iota
	stateStationID
	statePayload
)

type queryState int

const (
	queryNone queryState = iota
	queryInfo
	queryKeepalive
)

// Client is a SeedLink connection description plus its runtime state.
// Create one with New, configure it, then drive it with Collect.
type Client struct {
	// Addr is the server address as "host[:port]" or "host@port".
	Addr string

	// BeginTime and EndTime bound the global time window (ISO-8601).
	BeginTime string
	EndTime   string

	// Keepalive is the interval between INFO ID heartbeat probes; zero
	// disables them.
	Keepalive time.Duration

	// IOTimeout bounds individual network operations.
	IOTimeout time.Duration

	// NetTimeout reconnects the session when no packets or keepalive
	// responses arrive within it; zero disables the idle timeout.
	NetTimeout time.Duration

	// NetDelay is the wait before reconnection attempts.
	NetDelay time.Duration

	// NonBlocking makes Collect return StatusNoPacket instead of
	// waiting for data.
	NonBlocking bool

	// Dialup selects FETCH over DATA: the server closes the connection
	// once the current buffer is delivered.
	Dialup bool

	// BatchMode requests suppression of per-command replies during v3
	// multi-station negotiation (server 3.1 and later).
	BatchMode bool

	// Resume re-requests data starting after the last received sequence
	// number. Set by New; clear it to always start at the current data.
	Resume bool

	// LastPacketTime appends the last packet time to v3 resume requests
	// (server 2.93 and later). Set by New.
	LastPacketTime bool

	// TLS wraps the connection in TLS; TLSConfig optionally overrides
	// the client configuration.
	TLS       bool
	TLSConfig *tls.Config

	// Auth supplies v4 authentication credentials; nil disables AUTH.
	Auth Authorizer

	// Log receives connection messages; nil logs through the standard
	// logger.
	Log *logging.Logger

	// Streams is the subscription registry.
	Streams *streams.List

	// Dialer opens the transport. The default dials TCP or TLS per the
	// configuration; tests and tunneled setups may substitute their own.
	Dialer func(addr string, opts transport.Options) (*transport.Conn, error)

	clientName    string
	clientVersion string

	// Protocol ceiling the client will negotiate up to.
	maxProtoMajor uint8
	maxProtoMinor uint8

	conn *transport.Conn

	// serverMajor/Minor hold the version from the HELLO greeting;
	// protoMajor/Minor the negotiated protocol in use.
	serverMajor  uint8
	serverMinor  uint8
	protoMajor   uint8
	protoMinor   uint8
	capabilities string
	extReply     bool
	batchActive  bool

	infoRequest string

	// terminate levels: 0 running, 1 draining buffered packets,
	// 2 stopped. Written atomically; see Terminate.
	terminate atomic.Int32

	connState   connState
	streamState streamState
	queryState  queryState

	// Deadlines in nanosecond epoch ticks; zero when inactive.
	nettoDeadline     int64
	netdlyDeadline    int64
	keepaliveDeadline int64

	packet  PacketInfo
	recvBuf [recvBufferSize]byte
	recvLen int

	bytesReceived uint64
}

// New returns a connection description with protocol defaults: 60 s I/O
// timeout, 600 s idle timeout, 30 s reconnect delay, resumption enabled.
// The client name identifies the program to v4 servers; version may be
// empty.
func New(clientName, clientVersion string) *Client {
	c := &Client{
		IOTimeout:      60 * time.Second,
		NetTimeout:     600 * time.Second,
		NetDelay:       30 * time.Second,
		Resume:         true,
		LastPacketTime: true,
		Streams:        &streams.List{},
		Dialer:         transport.Dial,
		clientName:     clientName,
		clientVersion:  clientVersion,
		maxProtoMajor:  4,
		maxProtoMinor:  0,
	}
	c.packet.reset()
	return c
}

// SetClientName updates the name and version reported to v4 servers.
func (c *Client) SetClientName(name, version string) {
	c.clientName = name
	c.clientVersion = version
}

// SetMaxProtocol pins the highest protocol version the client will
// negotiate, for servers with broken v4 implementations.
func (c *Client) SetMaxProtocol(major, minor uint8) {
	c.maxProtoMajor = major
	c.maxProtoMinor = minor
}

// AddStream subscribes to a station. The ID is NET_STA and may contain
// wildcards on servers that support them; selectors are space-separated
// stream selection expressions, empty for all. Use UnsetSequence and an
// empty timestamp to start at the next available data.
func (c *Client) AddStream(netstaid, selectors string, seqnum uint64, timestamp string) error {
	if err := c.Streams.Add(netstaid, selectors, seqnum, timestamp); err != nil {
		c.Log.Logf(2, 0, "[%s] cannot add stream %s: %v", c.Addr, netstaid, err)
		return err
	}
	return nil
}

// SetAllStation configures uni-station mode, a single subscription
// covering every station the server offers.
func (c *Client) SetAllStation(selectors string, seqnum uint64, timestamp string) error {
	if err := c.Streams.SetAllStation(selectors, seqnum, timestamp); err != nil {
		c.Log.Logf(2, 0, "[%s] cannot set uni-station mode: %v", c.Addr, err)
		return err
	}
	return nil
}

// ParseStreamList subscribes from a "ID[:selectors],..." string.
func (c *Client) ParseStreamList(streamlist, defaultSelectors string) (int, error) {
	return c.Streams.ParseStreamList(streamlist, defaultSelectors)
}

// ReadStreamList subscribes from a stream list file.
func (c *Client) ReadStreamList(path, defaultSelectors string) (int, error) {
	return c.Streams.ReadStreamListFile(path, defaultSelectors)
}

// RequestInfo queues an INFO request to be sent at the next streaming
// opportunity. Only one query may be in flight.
func (c *Client) RequestInfo(level string) error {
	if c.infoRequest != "" || c.queryState != queryNone {
		c.Log.Logf(2, 0, "[%s] cannot request INFO %.20s, another is pending", c.Addr, level)
		return fmt.Errorf("client: INFO request already pending")
	}
	c.infoRequest = level
	return nil
}

// HasCapability reports whether the server advertised the capability flag
// during negotiation.
func (c *Client) HasCapability(capability string) bool {
	for _, f := range strings.Fields(c.capabilities) {
		if f == capability {
			return true
		}
	}
	return false
}

// Terminate requests a graceful shutdown: the driver drains whole packets
// still buffered, then disconnects and returns StatusTerminate. Safe to
// call from a signal handler or another goroutine.
func (c *Client) Terminate() {
	c.terminate.CompareAndSwap(0, 1)
}

func (c *Client) terminateLevel() int {
	return int(c.terminate.Load())
}

func (c *Client) cancelled() bool {
	return c.terminateLevel() >= 2
}

// checkVersion reports whether the server greeting version is at least
// major.minor. An unparsed server version fails every check.
func (c *Client) checkVersion(major, minor uint8) bool {
	if c.serverMajor != major {
		return c.serverMajor > major
	}
	return c.serverMinor >= minor
}

// disconnect closes the transport and resets per-connection negotiation
// and framing state.
func (c *Client) disconnect() {
	if c.conn != nil {
		c.conn.Close()
		c.Log.Logf(1, 1, "[%s] network socket closed, %s received", c.Addr,
			humanize.Bytes(c.bytesReceived))
		c.conn = nil
	}
	c.connState = connDown
	c.streamState = stateHeader
	c.queryState = queryNone
	c.packet.reset()
	c.recvLen = 0
	c.extReply = false
	c.batchActive = false
	c.protoMajor = 0
	c.protoMinor = 0
}

// Disconnect closes the connection; the next Collect call reconnects
// unless termination is in progress.
func (c *Client) Disconnect() {
	c.disconnect()
}
