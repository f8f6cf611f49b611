// Package mseed inspects miniSEED 2 and 3 record headers: enough to
// validate a record, infer the record length of a v3 SeedLink payload,
// and extract the start time and NET_STA station identifier used for
// stream tracking. Waveform payloads are never decoded.
package mseed

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"

	"seedlink/byteorder"
	"seedlink/strutil"
	"seedlink/timeutil"
)

// MinRecordDetect is the minimum number of buffered bytes required before
// record detection and stream tracking can run.
const MinRecordDetect = 64

// Record format identifiers, matching the SeedLink payload format codes.
const (
	FormatMiniSEED2 byte = '2'
	FormatMiniSEED3 byte = '3'
)

// miniSEED 3 fixed header layout (little-endian fields).
const (
	ms3FixedLength  = 40
	ms3OffNanosec   = 4
	ms3OffYear      = 8
	ms3OffDay       = 10
	ms3OffHour      = 12
	ms3OffMin       = 13
	ms3OffSec       = 14
	ms3OffSIDLength = 33
	ms3OffExtraLen  = 34
	ms3OffDataLen   = 36
	ms3OffSID       = 40
)

// miniSEED 2 fixed header layout. Multi-byte fields may be in either byte
// order; the reader detects the order from year/day sanity.
const (
	ms2OffStation   = 8
	ms2OffNetwork   = 18
	ms2OffYear      = 20
	ms2OffDay       = 22
	ms2OffHour      = 24
	ms2OffMin       = 25
	ms2OffSec       = 26
	ms2OffFract     = 28
	ms2OffBlkOffset = 46
)

var (
	// ErrNotMiniSEED reports a buffer that validates as neither record format.
	ErrNotMiniSEED = errors.New("mseed: buffer is not a miniSEED record")

	errShortBuffer = errors.New("mseed: buffer too short for detection")
)

// validHeader3 checks the miniSEED 3 magic: 'M' 'S' followed by format
// version 3.
func validHeader3(buf []byte) bool {
	return len(buf) >= ms3FixedLength && buf[0] == 'M' && buf[1] == 'S' && buf[2] == 3
}

// validHeader2 checks the miniSEED 2 fixed header signature: a sequence
// number of digits, spaces or NULs, a quality indicator, a reserved byte
// (space or NUL), and a sane start year/day in either byte order.
func validHeader2(buf []byte) bool {
	if len(buf) < 48 {
		return false
	}
	for i := 0; i < 6; i++ {
		c := buf[i]
		if !(c >= '0' && c <= '9') && c != ' ' && c != 0 {
			return false
		}
	}
	q := buf[6]
	if q != 'D' && q != 'R' && q != 'Q' && q != 'M' {
		return false
	}
	if buf[7] != ' ' && buf[7] != 0 {
		return false
	}

	year := binary.BigEndian.Uint16(buf[ms2OffYear:])
	day := binary.BigEndian.Uint16(buf[ms2OffDay:])
	if validYearDay(year, day) {
		return true
	}
	return validYearDay(swapped16(buf[ms2OffYear:]), swapped16(buf[ms2OffDay:]))
}

func validYearDay(year, day uint16) bool {
	return year >= 1900 && year <= 2100 && day >= 1 && day <= 366
}

// swapped16 reads the first two bytes of buf in the opposite byte order.
func swapped16(buf []byte) uint16 {
	b := [2]byte{buf[0], buf[1]}
	byteorder.Swap2(b[:])
	return binary.BigEndian.Uint16(b[:])
}

// ms2Swapped reports whether the record's binary fields are byte-swapped
// relative to the canonical big-endian encoding.
func ms2Swapped(buf []byte) bool {
	year := binary.BigEndian.Uint16(buf[ms2OffYear:])
	day := binary.BigEndian.Uint16(buf[ms2OffDay:])
	return !validYearDay(year, day)
}

func ms2u16(buf []byte, swap bool) uint16 {
	if swap {
		return swapped16(buf)
	}
	return binary.BigEndian.Uint16(buf)
}

// Detect determines whether buf starts with a miniSEED record and, when
// possible, its total length.
//
// For miniSEED 3 the length is read directly from the fixed header. For
// miniSEED 2 the blockette chain is walked looking for blockette 1000; when
// absent, 64-byte offsets are scanned for the next record header, the first
// hit implying the length. A length of 0 with a nil error means a valid
// record whose length could not yet be determined from the available bytes.
func Detect(buf []byte) (int64, byte, error) {
	if len(buf) < MinRecordDetect {
		return 0, 0, errShortBuffer
	}

	if validHeader3(buf) {
		length := int64(ms3FixedLength) +
			int64(buf[ms3OffSIDLength]) +
			int64(binary.LittleEndian.Uint16(buf[ms3OffExtraLen:])) +
			int64(binary.LittleEndian.Uint32(buf[ms3OffDataLen:]))
		return length, FormatMiniSEED3, nil
	}

	if !validHeader2(buf) {
		return 0, 0, ErrNotMiniSEED
	}

	swap := ms2Swapped(buf)
	blktOffset := int(ms2u16(buf[ms2OffBlkOffset:], swap))

	// Walk the blockette chain looking for blockette 1000.
	for blktOffset != 0 && blktOffset > 47 && blktOffset+4 <= len(buf) {
		blktType := int(ms2u16(buf[blktOffset:], swap))
		nextBlkt := int(ms2u16(buf[blktOffset+2:], swap))

		if blktType == 1000 && blktOffset+8 <= len(buf) {
			// Field 5 of blockette 1000 declares the record length
			// as a power of two.
			return int64(1) << buf[blktOffset+6], FormatMiniSEED2, nil
		}

		// A next-blockette offset at or before the current one would
		// loop forever; the record is malformed.
		if nextBlkt != 0 && (nextBlkt < 4 || nextBlkt-4 <= blktOffset) {
			return 0, 0, fmt.Errorf("mseed: invalid blockette offset %d after %d",
				nextBlkt, blktOffset)
		}

		blktOffset = nextBlkt
	}

	// No blockette 1000: scan 64-byte offsets for the start of the next
	// record, which implies this record's length.
	for offset := 64; offset+48 < len(buf); offset += 64 {
		if validHeader2(buf[offset:]) {
			return int64(offset), FormatMiniSEED2, nil
		}
	}

	return 0, FormatMiniSEED2, nil
}

// StartTime extracts the record start time as an ISO-8601 string. miniSEED 2
// carries 10^-4 second resolution, miniSEED 3 nanoseconds.
func StartTime(buf []byte, format byte) (string, error) {
	switch format {
	case FormatMiniSEED2:
		if len(buf) < 48 {
			return "", errShortBuffer
		}
		swap := ms2Swapped(buf)
		year := int(ms2u16(buf[ms2OffYear:], swap))
		day := int(ms2u16(buf[ms2OffDay:], swap))
		fract := int(ms2u16(buf[ms2OffFract:], swap))

		month, mday, err := timeutil.DOY2MD(year, day)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%04dZ",
			year, month, mday, buf[ms2OffHour], buf[ms2OffMin], buf[ms2OffSec], fract), nil

	case FormatMiniSEED3:
		if len(buf) < ms3FixedLength {
			return "", errShortBuffer
		}
		year := int(binary.LittleEndian.Uint16(buf[ms3OffYear:]))
		day := int(binary.LittleEndian.Uint16(buf[ms3OffDay:]))
		nsec := binary.LittleEndian.Uint32(buf[ms3OffNanosec:])

		month, mday, err := timeutil.DOY2MD(year, day)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("%04d-%02d-%02dT%02d:%02d:%02d.%09dZ",
			year, month, mday, buf[ms3OffHour], buf[ms3OffMin], buf[ms3OffSec], nsec), nil

	default:
		return "", fmt.Errorf("mseed: no start time for format %q", format)
	}
}

// maxStationID bounds extracted station IDs to the capacity of the packet
// station ID field (22 bytes including the terminator on the wire).
const maxStationID = 21

// StationID extracts the NET_STA identifier from a record.
//
// miniSEED 2 builds it from the fixed-header network and station codes with
// padding spaces removed. miniSEED 3 takes the bytes between the "FDSN:"
// prefix of the source identifier and the second '_', clamped to the
// station ID capacity.
func StationID(buf []byte, format byte) (string, error) {
	switch format {
	case FormatMiniSEED2:
		if len(buf) < 48 {
			return "", errShortBuffer
		}
		net := strutil.StripSpaces(string(buf[ms2OffNetwork : ms2OffNetwork+2]))
		sta := strutil.StripSpaces(string(buf[ms2OffStation : ms2OffStation+5]))
		return net + "_" + sta, nil

	case FormatMiniSEED3:
		sidLen := int(buf[ms3OffSIDLength])
		if len(buf) < ms3OffSID+sidLen || sidLen <= 10 {
			return "", fmt.Errorf("mseed: source identifier too short")
		}
		sid := string(buf[ms3OffSID : ms3OffSID+sidLen])
		if len(sid) < 5 || sid[:5] != "FDSN:" {
			return "", fmt.Errorf("mseed: source identifier missing FDSN prefix")
		}
		rest := sid[5:]
		first := strings.IndexByte(rest, '_')
		if first < 0 {
			return "", fmt.Errorf("mseed: source identifier missing network separator")
		}
		second := strings.IndexByte(rest[first+1:], '_')
		if second < 0 {
			return "", fmt.Errorf("mseed: source identifier missing station separator")
		}
		id := rest[:first+1+second]
		if len(id) > maxStationID {
			id = id[:maxStationID]
		}
		return id, nil

	default:
		return "", fmt.Errorf("mseed: no station ID for format %q", format)
	}
}
