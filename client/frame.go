package client

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strconv"

	"seedlink/mseed"
)

const (
	headerSizeV3 = 8
	headerSizeV4 = 17
)

var (
	// errEndOfStream reports the server's END marker: the end of a
	// dial-up window or selected time range.
	errEndOfStream = errors.New("client: end of stream")

	// errServerError reports an unsolicited ERROR from the server.
	errServerError = errors.New("client: server reported an error")

	errFraming = errors.New("client: framing error")
)

type frameResult int

const (
	frameNeedMore frameResult = iota
	framePacket
	frameTooLarge
)

// consume drops n bytes from the head of the receive buffer, shifting the
// remainder down.
func (c *Client) consume(n int) {
	copy(c.recvBuf[:], c.recvBuf[n:c.recvLen])
	c.recvLen -= n
}

// frame advances the framing state machine over the receive buffer,
// copying payload bytes into the caller's buffer. It returns framePacket
// when a complete caller-facing packet is ready, frameTooLarge when the
// packet exceeds the caller's buffer, and frameNeedMore when the buffer
// is exhausted. Errors are fatal for the connection.
func (c *Client) frame(plbuf []byte) (frameResult, error) {
	for {
		switch c.streamState {
		case stateHeader:
			// Server notices interrupt the stream mid-flight.
			if c.recvLen >= 5 && bytes.Equal(c.recvBuf[:5], []byte("ERROR")) {
				c.Log.Logf(2, 0, "[%s] server reported an error with the last command", c.Addr)
				return frameNeedMore, errServerError
			}
			if c.recvLen >= 3 && bytes.Equal(c.recvBuf[:3], []byte("END")) {
				c.Log.Logf(1, 1, "[%s] end of buffer or selected time window", c.Addr)
				return frameNeedMore, errEndOfStream
			}

			need := headerSizeV3
			if c.protoMajor >= 4 {
				need = headerSizeV4
			}
			if c.recvLen < need {
				return frameNeedMore, nil
			}

			if err := c.parseHeader(); err != nil {
				return frameNeedMore, err
			}
			c.consume(need)

			if c.packet.sidPending > 0 {
				c.streamState = stateStationID
			} else {
				c.packet.PayloadCollected = 0
				c.streamState = statePayload
			}

		case stateStationID:
			n := c.packet.sidPending
			if c.recvLen < n {
				return frameNeedMore, nil
			}
			c.packet.NetStaID = string(c.recvBuf[:n])
			c.consume(n)
			c.packet.sidPending = 0
			c.packet.PayloadCollected = 0
			c.streamState = statePayload

		case statePayload:
			var res frameResult
			var err error
			if c.protoMajor >= 4 {
				res, err = c.collectV4Payload(plbuf)
			} else {
				res, err = c.collectV3Payload(plbuf)
			}
			if err != nil {
				return frameNeedMore, err
			}
			if res == frameTooLarge {
				return frameTooLarge, nil
			}

			if c.packet.PayloadLength == 0 ||
				c.packet.PayloadCollected < c.packet.PayloadLength {
				return frameNeedMore, nil
			}

			// Packet complete.
			c.streamState = stateHeader
			c.nettoDeadline = 0
			c.keepaliveDeadline = 0

			if c.swallowInfoResponse(plbuf) {
				c.packet.reset()
				continue
			}
			return framePacket, nil
		}
	}
}

// parseHeader interprets the bytes at the head of the receive buffer as a
// v3 or v4 packet header.
func (c *Client) parseHeader() error {
	c.packet.reset()

	if c.protoMajor >= 4 {
		h := c.recvBuf[:headerSizeV4]
		if h[0] != 'S' || h[1] != 'E' {
			c.Log.Logf(2, 0, "[%s] unexpected header signature (%2.2s)", c.Addr, h[:2])
			return errFraming
		}
		c.packet.PayloadFormat = h[2]
		c.packet.PayloadSubformat = h[3]
		c.packet.PayloadLength = binary.LittleEndian.Uint32(h[4:8])
		c.packet.SeqNum = binary.LittleEndian.Uint64(h[8:16])

		sidLen := int(h[16])
		if sidLen > maxNetStaID {
			c.Log.Logf(2, 0, "[%s] received station ID length (%d) too large", c.Addr, sidLen)
			return errFraming
		}
		c.packet.sidPending = sidLen
		return nil
	}

	h := c.recvBuf[:headerSizeV3]
	switch {
	case bytes.Equal(h[:6], []byte("SLINFO")):
		c.packet.SeqNum = UnsetSequence
		if h[7] == '*' {
			c.packet.PayloadFormat = PayloadMSEED2Info
		} else {
			c.packet.PayloadFormat = PayloadMSEED2InfoTerm
		}

	case h[0] == 'S' && h[1] == 'L':
		seq, err := strconv.ParseUint(string(h[2:8]), 16, 64)
		if err != nil {
			c.Log.Logf(2, 0, "[%s] cannot parse sequence number from v3 header: %8.8s", c.Addr, h)
			return errFraming
		}
		c.packet.SeqNum = seq
		c.packet.PayloadFormat = PayloadUnknown

	default:
		c.Log.Logf(2, 0, "[%s] unexpected header signature (%2.2s)", c.Addr, h[:2])
		return errFraming
	}
	return nil
}

// collectV4Payload copies payload bytes for a packet of known length.
func (c *Client) collectV4Payload(plbuf []byte) (frameResult, error) {
	if c.packet.PayloadLength > uint32(len(plbuf)) {
		return frameTooLarge, nil
	}

	need := int(c.packet.PayloadLength - c.packet.PayloadCollected)
	n := min(need, c.recvLen)
	if n > 0 {
		copy(plbuf[c.packet.PayloadCollected:], c.recvBuf[:n])
		c.consume(n)
		c.packet.PayloadCollected += uint32(n)
	}

	c.trackStream(plbuf)
	return frameNeedMore, nil
}

// collectV3Payload copies payload bytes for a v3 packet, inferring the
// payload length from the content. Until the length is known, reads
// advance to the detection threshold and then power-of-two boundaries so
// no byte of a following packet is consumed.
func (c *Client) collectV3Payload(plbuf []byte) (frameResult, error) {
	for {
		if c.packet.PayloadLength == 0 {
			if len(plbuf) < mseed.MinRecordDetect {
				c.Log.Logf(2, 0, "[%s] buffer too small (%d) for payload detection, need %d",
					c.Addr, len(plbuf), mseed.MinRecordDetect)
				return frameNeedMore, errFraming
			}

			var target uint32
			if c.packet.PayloadCollected < mseed.MinRecordDetect {
				target = mseed.MinRecordDetect
			} else {
				target = 128
				for target <= c.packet.PayloadCollected {
					target *= 2
				}
			}
			if target > uint32(len(plbuf)) {
				c.Log.Logf(2, 0, "[%s] buffer size (%d) insufficient for payload detection",
					c.Addr, len(plbuf))
				return frameNeedMore, errFraming
			}

			n := min(int(target-c.packet.PayloadCollected), c.recvLen)
			if n == 0 {
				return frameNeedMore, nil
			}
			copy(plbuf[c.packet.PayloadCollected:], c.recvBuf[:n])
			c.consume(n)
			c.packet.PayloadCollected += uint32(n)

			if c.packet.PayloadCollected < mseed.MinRecordDetect {
				continue
			}

			length, format, err := mseed.Detect(plbuf[:c.packet.PayloadCollected])
			if err != nil {
				c.Log.Logf(2, 0, "[%s] non-miniSEED packet received for v3 protocol, terminating connection",
					c.Addr)
				return frameNeedMore, errFraming
			}
			if length > 0 {
				if uint64(length) < uint64(c.packet.PayloadCollected) {
					c.Log.Logf(2, 0, "[%s] detected record length %d shorter than collected %d",
						c.Addr, length, c.packet.PayloadCollected)
					return frameNeedMore, errFraming
				}
				if c.packet.PayloadFormat == PayloadUnknown {
					c.packet.PayloadFormat = format
				}
				c.packet.PayloadLength = uint32(length)
			} else if c.packet.PayloadFormat == PayloadUnknown {
				c.packet.PayloadFormat = format
			}

			c.trackStream(plbuf)
			continue
		}

		// Length known.
		if c.packet.PayloadLength > uint32(len(plbuf)) {
			return frameTooLarge, nil
		}

		need := int(c.packet.PayloadLength - c.packet.PayloadCollected)
		n := min(need, c.recvLen)
		if n > 0 {
			copy(plbuf[c.packet.PayloadCollected:], c.recvBuf[:n])
			c.consume(n)
			c.packet.PayloadCollected += uint32(n)
		}

		c.trackStream(plbuf)
		return frameNeedMore, nil
	}
}

// trackStream runs the registry update once per data packet, as soon as
// enough payload is buffered to extract the station ID and start time.
func (c *Client) trackStream(plbuf []byte) {
	if c.packet.tracked || c.packet.PayloadCollected < mseed.MinRecordDetect {
		return
	}
	c.packet.tracked = true

	f := c.packet.PayloadFormat
	if f == PayloadMSEED2Info || f == PayloadMSEED2InfoTerm ||
		(f == PayloadJSON &&
			(c.packet.PayloadSubformat == SubformatInfo ||
				c.packet.PayloadSubformat == SubformatError)) {
		return
	}

	payload := plbuf[:c.packet.PayloadCollected]

	var timestamp string
	if f == PayloadMSEED2 || f == PayloadMSEED3 {
		if ts, err := mseed.StartTime(payload, f); err == nil {
			timestamp = ts
		}
		if c.packet.NetStaID == "" {
			if id, err := mseed.StationID(payload, f); err == nil {
				c.packet.NetStaID = id
			}
		}
	}

	if c.Streams.Update(c.packet.NetStaID, c.packet.SeqNum, timestamp) == 0 {
		c.Log.Logf(2, 0, "[%s] unexpected data received: %s", c.Addr, c.packet.NetStaID)
	}
}

// swallowInfoResponse handles a completed INFO payload that answers an
// internal query. Keepalive responses are absorbed entirely; responses to
// user INFO requests clear the query state but are still delivered.
func (c *Client) swallowInfoResponse(plbuf []byte) bool {
	f := c.packet.PayloadFormat
	sub := c.packet.PayloadSubformat

	isInfo := f == PayloadMSEED2Info || f == PayloadMSEED2InfoTerm ||
		(f == PayloadJSON && sub == SubformatInfo)
	isError := f == PayloadJSON && sub == SubformatError
	terminating := f == PayloadMSEED2InfoTerm || (f == PayloadJSON && sub == SubformatInfo)

	if c.queryState == queryKeepalive {
		if isInfo {
			if terminating {
				c.Log.Logf(1, 2, "[%s] keepalive message received", c.Addr)
				c.queryState = queryNone
			}
			return true
		}
		// An ERROR reply also answers the probe; the query must clear or
		// no further keepalive or INFO request would ever be sent. The
		// payload itself goes to the caller.
		if isError {
			c.queryState = queryNone
			c.logErrorPayload(plbuf[:c.packet.PayloadCollected])
			return false
		}
	}

	if c.queryState == queryInfo {
		if terminating {
			c.queryState = queryNone
		}
		if isError {
			c.queryState = queryNone
			c.logErrorPayload(plbuf[:c.packet.PayloadCollected])
		}
	}
	return false
}
