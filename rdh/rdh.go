// Package rdh provides a read-only parser for the raw data header, the
// fixed prefix at the start of each packet delivered by the front-end.
//
// The header is always little-endian, regardless of host byte order. The
// parser only reads the fields the data path needs to walk packet chains
// and detect heartbeat-frame boundaries; the payload is never decoded.
package rdh

import (
	"github.com/daqline/stfpipe/endian"
	"github.com/daqline/stfpipe/errs"
)

// Size is the fixed size of a raw data header in bytes.
const Size = 64

// Version is the header layout version produced by current front-end
// firmware.
const Version = 6

// RDH is the decoded raw data header prefix.
//
// Layout (little-endian byte offsets):
//
//	0       version
//	1       headerSize
//	2-3     feeId
//	4       linkId
//	5       packetCounter
//	6-7     offsetNextPacket
//	8-9     memorySize
//	10-11   heartbeatBC
//	12-15   heartbeatOrbit
//	16-63   reserved
type RDH struct {
	Version          uint8
	HeaderSize       uint8
	FeeID            uint16
	LinkID           uint8
	PacketCounter    uint8
	OffsetNextPacket uint16
	MemorySize       uint16
	HeartbeatBC      uint16
	HeartbeatOrbit   uint32
}

var engine = endian.Little()

// Parse decodes the header prefix at the start of data.
func Parse(data []byte) (RDH, error) {
	if len(data) < Size {
		return RDH{}, errs.ErrInvalidHeaderSize
	}

	return RDH{
		Version:          data[0],
		HeaderSize:       data[1],
		FeeID:            engine.Uint16(data[2:4]),
		LinkID:           data[4],
		PacketCounter:    data[5],
		OffsetNextPacket: engine.Uint16(data[6:8]),
		MemorySize:       engine.Uint16(data[8:10]),
		HeartbeatBC:      engine.Uint16(data[10:12]),
		HeartbeatOrbit:   engine.Uint32(data[12:16]),
	}, nil
}

// AppendTo serializes the header into buf and returns the extended slice.
// Used by equipment simulators and tests to build packet chains.
func (h RDH) AppendTo(buf []byte) []byte {
	buf = append(buf, h.Version, h.HeaderSize)
	buf = engine.AppendUint16(buf, h.FeeID)
	buf = append(buf, h.LinkID, h.PacketCounter)
	buf = engine.AppendUint16(buf, h.OffsetNextPacket)
	buf = engine.AppendUint16(buf, h.MemorySize)
	buf = engine.AppendUint16(buf, h.HeartbeatBC)
	buf = engine.AppendUint32(buf, h.HeartbeatOrbit)
	buf = append(buf, make([]byte, Size-16)...)

	return buf
}

// Walk iterates the packet chain in data, calling fn with the byte offset
// and decoded header of each packet. Iteration stops when fn returns false,
// when less than one header remains, or at a packet with offsetNextPacket
// zero (truncated chain).
func Walk(data []byte, fn func(offset int, h RDH) bool) {
	for offset := 0; offset+Size <= len(data); {
		h, err := Parse(data[offset:])
		if err != nil {
			return
		}
		if !fn(offset, h) {
			return
		}
		if h.OffsetNextPacket == 0 {
			return
		}
		offset += int(h.OffsetNextPacket)
	}
}
