// Package byteorder provides the host endianness probe and in-place byte
// swaps needed when interpreting miniSEED header fields written in the
// opposite byte order.
package byteorder

import "encoding/binary"

// LittleEndianHost reports whether the host is little-endian. Determined at
// run time since the wire formats fix their own byte orders while miniSEED 2
// records may arrive in either.
func LittleEndianHost() bool {
	var probe [2]byte
	binary.NativeEndian.PutUint16(probe[:], 1)
	return probe[0] == 1
}

// Swap2 reverses the first two bytes of b in place.
func Swap2(b []byte) {
	b[0], b[1] = b[1], b[0]
}

// Swap4 reverses the first four bytes of b in place.
func Swap4(b []byte) {
	b[0], b[3] = b[3], b[0]
	b[1], b[2] = b[2], b[1]
}

// Swap8 reverses the first eight bytes of b in place.
func Swap8(b []byte) {
	for i, j := 0, 7; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
