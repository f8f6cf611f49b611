// Package transport provides the byte-stream endpoint of a SeedLink
// connection: address parsing, TCP and TLS dialing with a bounded connect
// wait, command sends, CRLF-terminated response reads, and a non-blocking
// receive path driven by read deadlines.
package transport

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"seedlink/logging"
)

const (
	// DefaultHost is assumed when the address omits the host.
	DefaultHost = "localhost"
	// DefaultPort is assumed when the address omits the port.
	DefaultPort = "18000"
	// SecurePort is the conventional port for TLS-wrapped SeedLink.
	SecurePort = "18500"

	connectTimeout  = 10 * time.Second
	responseTimeout = 30 * time.Second
	responsePoll    = 50 * time.Millisecond

	defaultIOTimeout = 60 * time.Second
)

// ErrBadAddress reports a malformed server port. It is permanent: callers
// must not retry the connection.
var ErrBadAddress = errors.New("transport: server port specified incorrectly")

// ParseAddress splits a server address of the form "host[:port]" or
// "host@port". An empty host defaults to localhost, an empty port to
// 18000; a bare ":" selects both defaults.
func ParseAddress(addr string) (host, port string, err error) {
	host, port = addr, ""

	if idx := strings.LastIndexByte(addr, '@'); idx >= 0 {
		host, port = addr[:idx], addr[idx+1:]
	} else if idx := strings.IndexByte(addr, ':'); idx >= 0 {
		host, port = addr[:idx], addr[idx+1:]
	}

	if host == "" {
		host = DefaultHost
	}
	if port == "" {
		port = DefaultPort
	}

	n, err := strconv.ParseUint(port, 10, 32)
	if err != nil || n == 0 || n > 0xffff {
		return "", "", ErrBadAddress
	}

	return host, port, nil
}

// Options configures a dialed connection.
type Options struct {
	// IOTimeout bounds individual send and receive operations. Zero
	// selects the 60 second default.
	IOTimeout time.Duration

	// TLS wraps the stream in TLS after connecting.
	TLS bool

	// TLSConfig overrides the TLS client configuration; a nil value uses
	// a default with the server host as SNI name.
	TLSConfig *tls.Config

	Log *logging.Logger
}

// Conn is an established byte-stream endpoint. It is not safe for
// concurrent use; the collection driver is its single owner.
type Conn struct {
	conn      net.Conn
	addr      string
	iotimeout time.Duration
	log       *logging.Logger

	// One byte read ahead by Poll and replayed by the next Recv.
	peeked   byte
	havePeek bool
}

// Dial connects to a SeedLink server. The connect wait is bounded at 10
// seconds; TCP keepalive is enabled on the established socket.
func Dial(addr string, opts Options) (*Conn, error) {
	host, port, err := ParseAddress(addr)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 30 * time.Second,
	}

	hostport := net.JoinHostPort(host, port)

	var conn net.Conn
	if opts.TLS {
		cfg := opts.TLSConfig
		if cfg == nil {
			cfg = &tls.Config{ServerName: host}
		}
		conn, err = tls.DialWithDialer(&dialer, "tcp", hostport, cfg)
	} else {
		conn, err = dialer.Dial("tcp", hostport)
	}
	if err != nil {
		return nil, fmt.Errorf("transport: connect %s: %w", hostport, err)
	}

	opts.Log.Logf(1, 1, "[%s] network socket opened", addr)

	return NewConn(conn, addr, opts), nil
}

// DialTLS connects with the stream wrapped in TLS. Equivalent to Dial
// with Options.TLS set; provided as a distinct entry point for callers
// targeting the conventional TLS port.
func DialTLS(addr string, opts Options) (*Conn, error) {
	opts.TLS = true
	return Dial(addr, opts)
}

// NewConn wraps an established stream. Exposed so tests and callers with
// their own endpoints (pipes, tunnels) can reuse the send/receive
// contract.
func NewConn(conn net.Conn, addr string, opts Options) *Conn {
	iotimeout := opts.IOTimeout
	if iotimeout <= 0 {
		iotimeout = defaultIOTimeout
	}
	return &Conn{
		conn:      conn,
		addr:      addr,
		iotimeout: iotimeout,
		log:       opts.Log,
	}
}

// Addr returns the configured server address, used as the log identifier.
func (c *Conn) Addr() string {
	return c.addr
}

// Send writes the whole buffer, bounded by the I/O timeout.
func (c *Conn) Send(buf []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.iotimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(buf); err != nil {
		return fmt.Errorf("transport: send to %s: %w", c.addr, err)
	}
	return nil
}

// SendCommand writes a CR-terminated command line.
func (c *Conn) SendCommand(cmd string) error {
	return c.Send([]byte(cmd + "\r"))
}

// Recv reads available bytes without blocking beyond a brief deadline.
// It returns 0 with a nil error when no data is ready, and an error on
// EOF or a hard receive failure.
func (c *Conn) Recv(buf []byte) (int, error) {
	if len(buf) == 0 {
		return 0, nil
	}

	n := 0
	if c.havePeek {
		buf[0] = c.peeked
		c.havePeek = false
		n = 1
		if len(buf) == 1 {
			return n, nil
		}
		buf = buf[1:]
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return n, err
	}

	m, err := c.conn.Read(buf)
	n += m
	if err != nil {
		if isTimeout(err) {
			return n, nil
		}
		if n > 0 {
			// Deliver what was read; the error resurfaces on the next call.
			return n, nil
		}
		if errors.Is(err, io.EOF) {
			c.log.Logf(1, 1, "[%s] connection closed by server", c.addr)
			return 0, fmt.Errorf("transport: recv from %s: %w", c.addr, err)
		}
		return 0, fmt.Errorf("transport: recv from %s: %w", c.addr, err)
	}
	return n, nil
}

// Poll waits up to timeout for the stream to become readable. The byte
// used for the readiness probe is buffered and replayed by the next Recv.
func (c *Conn) Poll(timeout time.Duration) (bool, error) {
	if c.havePeek {
		return true, nil
	}

	if err := c.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, err
	}

	var one [1]byte
	n, err := c.conn.Read(one[:])
	if n == 1 {
		c.peeked = one[0]
		c.havePeek = true
		return true, nil
	}
	if err != nil {
		if isTimeout(err) {
			return false, nil
		}
		return false, fmt.Errorf("transport: poll %s: %w", c.addr, err)
	}
	return false, nil
}

// RecvResponse collects a command response one byte at a time until CRLF
// or max bytes, waiting up to 30 seconds in 50 ms slices. The cancelled
// callback aborts the wait early (used for termination).
func (c *Conn) RecvResponse(max int, cancelled func() bool) ([]byte, error) {
	buf := make([]byte, 0, max)
	deadline := time.Now().Add(responseTimeout)

	var one [1]byte
	for len(buf) < max {
		if cancelled != nil && cancelled() {
			return nil, errors.New("transport: response wait cancelled")
		}

		n, err := c.Recv(one[:])
		if err != nil {
			return nil, err
		}
		if n > 0 {
			buf = append(buf, one[0])
			if len(buf) >= 2 && buf[len(buf)-2] == '\r' && buf[len(buf)-1] == '\n' {
				return buf, nil
			}
			continue
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("transport: timeout waiting for response from %s", c.addr)
		}
		time.Sleep(responsePoll)
	}

	return buf, nil
}

// Close shuts the stream down.
func (c *Conn) Close() error {
	return c.conn.Close()
}

func isTimeout(err error) bool {
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
