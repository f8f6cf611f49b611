package client

import (
	"errors"
	"time"

	"seedlink/mseed"
	"seedlink/timeutil"
)

const (
	// netdlySleep paces the loop while waiting out the reconnect delay.
	netdlySleep = 500 * time.Millisecond

	blockingPoll    = 500 * time.Millisecond
	nonBlockingPoll = time.Millisecond
)

// Collect drives the connection and returns at most one complete packet
// per call, copied into plbuf. Designed to run in the caller's loop:
//
//	for {
//		status, info := conn.Collect(buf)
//		switch status {
//		case client.StatusPacket:
//			handle(info, buf[:info.PayloadCollected])
//		case client.StatusTerminate:
//			return
//		}
//	}
//
// In blocking mode the call suspends in the transport poll for up to
// 500 ms at a time; in non-blocking mode it returns StatusNoPacket when
// no data is ready. StatusTooLarge reports a packet bigger than plbuf:
// re-enter with a larger buffer whose head preserves the
// info.PayloadCollected bytes already delivered.
//
// The returned PacketInfo aliases connection state and is valid until the
// next call.
func (c *Client) Collect(plbuf []byte) (Status, *PacketInfo) {
	for {
		level := c.terminateLevel()
		if level >= 2 {
			break
		}

		now := timeutil.NowNS()

		if c.conn == nil {
			c.connState = connDown
		}

		if c.connState == connDown {
			// Nothing buffered survives a disconnect; terminating now
			// needs no drain.
			if level > 0 {
				break
			}

			// Wait out the reconnect delay.
			if c.netdlyDeadline > now {
				time.Sleep(netdlySleep)
			} else {
				if err := c.connect(); err == nil {
					c.connState = connUp
				}
				c.nettoDeadline = 0
				c.netdlyDeadline = 0
				c.keepaliveDeadline = 0
			}
		}

		if c.connState == connUp {
			if level > 0 {
				break
			}
			if c.Streams.Len() > 0 {
				if err := c.configLink(); err != nil {
					c.Log.Logf(2, 0, "[%s] negotiation with server failed", c.Addr)
					c.disconnect()
					c.netdlyDeadline = 0
					continue
				}
			}
			c.connState = connStreaming
		}

		// Send a queued INFO request when no query is in flight.
		if c.connState == connStreaming && level == 0 &&
			c.queryState == queryNone && c.infoRequest != "" {
			if c.sendInfo(c.infoRequest, 1) == nil {
				c.queryState = queryInfo
			}
			c.infoRequest = ""
		}

		if c.connState == connStreaming {
			// Frame what is already buffered before touching the network,
			// so a complete packet never waits on a poll.
			before := c.recvLen
			if c.recvLen > 0 {
				result, err := c.frame(plbuf)
				if err != nil {
					c.handleFrameError(err)
					continue
				}
				switch result {
				case framePacket:
					return StatusPacket, &c.packet
				case frameTooLarge:
					return StatusTooLarge, &c.packet
				}
			}

			// During a graceful drain only buffered bytes are framed;
			// escalate once no further progress is possible.
			if level > 0 {
				if c.recvLen < mseed.MinRecordDetect || c.recvLen == before {
					c.terminate.Store(2)
					break
				}
			} else if c.recvLen < len(c.recvBuf) {
				pollTimeout := blockingPoll
				if c.NonBlocking {
					pollTimeout = nonBlockingPoll
				}

				readable, err := c.conn.Poll(pollTimeout)
				if err != nil {
					c.handleStreamFailure(err)
					continue
				}
				if readable {
					n, err := c.conn.Recv(c.recvBuf[c.recvLen:])
					if err != nil {
						c.handleStreamFailure(err)
						continue
					}
					c.recvLen += n
					c.bytesReceived += uint64(n)

					result, err2 := c.frame(plbuf)
					if err2 != nil {
						c.handleFrameError(err2)
						continue
					}
					switch result {
					case framePacket:
						return StatusPacket, &c.packet
					case frameTooLarge:
						return StatusTooLarge, &c.packet
					}
				}
			}
		}

		now = timeutil.NowNS()

		// Idle timeout: no packets or keepalive responses arrived.
		if c.connState == connStreaming && c.NetTimeout > 0 &&
			c.nettoDeadline > 0 && c.nettoDeadline < now {
			c.Log.Logf(1, 0, "[%s] network timeout (%.0fs), reconnecting in %.0fs",
				c.Addr, c.NetTimeout.Seconds(), c.NetDelay.Seconds())
			c.disconnect()
			c.nettoDeadline = 0
			c.netdlyDeadline = 0
		}

		// Keepalive probe.
		if c.connState == connStreaming && level == 0 &&
			c.queryState == queryNone && c.Keepalive > 0 &&
			c.keepaliveDeadline > 0 && c.keepaliveDeadline < now {
			if err := c.sendInfo("ID", 3); err != nil {
				c.handleStreamFailure(err)
				continue
			}
			c.queryState = queryKeepalive
			c.keepaliveDeadline = 0
		}

		// Re-arm inactive deadlines.
		if c.NetTimeout > 0 && c.nettoDeadline == 0 {
			c.nettoDeadline = now + c.NetTimeout.Nanoseconds()
		}
		if c.NetDelay > 0 && c.netdlyDeadline == 0 {
			c.netdlyDeadline = now + c.NetDelay.Nanoseconds()
		}
		if c.Keepalive > 0 && c.keepaliveDeadline == 0 {
			c.keepaliveDeadline = now + c.Keepalive.Nanoseconds()
		}

		if c.NonBlocking {
			return StatusNoPacket, nil
		}
	}

	c.disconnect()
	c.terminate.Store(2)
	return StatusTerminate, nil
}

// handleStreamFailure treats a transport error as transient: disconnect
// and reconnect after the configured delay.
func (c *Client) handleStreamFailure(err error) {
	c.Log.Logf(2, 0, "[%s] %v", c.Addr, err)
	c.disconnect()
}

// handleFrameError handles fatal per-connection conditions found by the
// framer. The connection is torn down and the reconnect delay cleared so
// the next attempt starts immediately; a server END additionally arms
// termination, ending the session once the drain completes.
func (c *Client) handleFrameError(err error) {
	c.disconnect()
	c.netdlyDeadline = 0

	if errors.Is(err, errEndOfStream) {
		c.terminate.CompareAndSwap(0, 1)
	}
}
