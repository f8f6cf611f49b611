package client

import "seedlink/streams"

// Payload format codes carried in packet metadata. The printable values
// come directly off the v4 wire; the synthetic values below 32 mark v3
// INFO chunks, whose payloads are miniSEED 2 log records.
const (
	PayloadUnknown        byte = 0
	PayloadMSEED2Info     byte = 1 // v3 INFO chunk, more follow
	PayloadMSEED2InfoTerm byte = 2 // v3 INFO chunk, terminating
	PayloadMSEED2         byte = '2'
	PayloadMSEED3         byte = '3'
	PayloadJSON           byte = 'J'
	PayloadXML            byte = 'X'
)

// Payload subformat codes for JSON payloads.
const (
	SubformatInfo  byte = 'I'
	SubformatError byte = 'E'
)

// UnsetSequence marks an unknown or absent packet sequence number.
const UnsetSequence = streams.UnsetSequence

// maxNetStaID bounds the station ID to the 22-byte wire field, terminator
// included.
const maxNetStaID = 21

// PacketInfo describes the packet currently being collected. The pointer
// returned by Collect aliases connection state: its fields are valid until
// the next Collect call.
type PacketInfo struct {
	// SeqNum is the packet sequence number, or UnsetSequence when the
	// server did not provide one (v3 INFO packets).
	SeqNum uint64

	// PayloadLength is the total payload size in bytes, 0 until known.
	PayloadLength uint32

	// PayloadCollected is the number of payload bytes gathered so far.
	PayloadCollected uint32

	// NetStaID is the station identifier in NET_STA form. For v3 data
	// packets it is extracted from the payload itself.
	NetStaID string

	PayloadFormat    byte
	PayloadSubformat byte

	// sidPending is the station ID length declared by a v4 header and
	// not yet read from the stream.
	sidPending int

	// tracked is set once the registry update has run for this packet.
	tracked bool
}

func (pi *PacketInfo) reset() {
	*pi = PacketInfo{SeqNum: UnsetSequence}
}

// Status is the result of one Collect call.
type Status int

const (
	// StatusTerminate reports connection termination or a fatal error;
	// further calls return it immediately.
	StatusTerminate Status = iota
	// StatusPacket reports a complete packet in the caller's buffer.
	StatusPacket
	// StatusNoPacket reports that no packet is available (non-blocking
	// mode only).
	StatusNoPacket
	// StatusTooLarge reports a packet larger than the caller's buffer.
	// The caller may retry with a larger buffer, preserving the
	// already-collected prefix.
	StatusTooLarge
)

func (s Status) String() string {
	switch s {
	case StatusTerminate:
		return "TERMINATE"
	case StatusPacket:
		return "PACKET"
	case StatusNoPacket:
		return "NOPACKET"
	case StatusTooLarge:
		return "TOOLARGE"
	default:
		return "UNKNOWN"
	}
}

// FormatString returns a human readable description of a payload format
// and subformat pair.
func FormatString(format, subformat byte) string {
	switch format {
	case PayloadUnknown:
		return "Unknown"
	case PayloadMSEED2Info:
		return "INFO as XML in miniSEED 2"
	case PayloadMSEED2InfoTerm:
		return "INFO (terminated) as XML in miniSEED 2"
	case PayloadMSEED2:
		switch subformat {
		case 'E':
			return "miniSEED 2 event detection"
		case 'C':
			return "miniSEED 2 calibration"
		case 'T':
			return "miniSEED 2 timing exception"
		case 'L':
			return "miniSEED 2 log"
		case 'O':
			return "miniSEED 2 opaque"
		default:
			return "miniSEED 2"
		}
	case PayloadMSEED3:
		return "miniSEED 3"
	case PayloadJSON:
		switch subformat {
		case SubformatInfo:
			return "INFO in JSON"
		case SubformatError:
			return "ERROR in JSON"
		default:
			return "JSON"
		}
	case PayloadXML:
		return "XML"
	default:
		return "Unrecognized payload type"
	}
}
