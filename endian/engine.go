// Package endian provides byte order utilities for the fixed binary records
// exchanged on the wire.
//
// It combines the ByteOrder and AppendByteOrder interfaces of encoding/binary
// into a single Engine interface, satisfied by binary.LittleEndian and
// binary.BigEndian. Sub-timeframe headers are laid out in host byte order;
// cross-host peers pin an explicit engine instead.
package endian

import "encoding/binary"

// Engine combines ByteOrder and AppendByteOrder from encoding/binary into a
// single interface for binary record encoding and decoding.
type Engine interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// hostLittle caches the host byte order probe. For a little-endian host the
// LSB of 0x0100 lands in the first byte.
var hostLittle = func() bool {
	buf := [2]byte{}
	binary.NativeEndian.PutUint16(buf[:], 0x0100)
	return buf[0] == 0x00
}()

// IsLittleEndian reports whether the host is little-endian.
func IsLittleEndian() bool {
	return hostLittle
}

// Native returns the engine matching the host byte order.
func Native() Engine {
	if hostLittle {
		return binary.LittleEndian
	}

	return binary.BigEndian
}

// Little returns the little-endian engine. Raw data headers produced by
// front-end hardware are always little-endian.
func Little() Engine {
	return binary.LittleEndian
}

// Big returns the big-endian engine.
func Big() Engine {
	return binary.BigEndian
}
