// Package stf defines the sub-timeframe header, the small fixed record sent
// as the first part of every sub-timeframe message.
//
// The header is laid out in host byte order by default; peers on hosts with
// a different byte order must pin an explicit engine out-of-band.
package stf

import (
	"github.com/daqline/stfpipe/endian"
	"github.com/daqline/stfpipe/errs"
)

// HeaderSize is the wire size of a serialized sub-timeframe header.
const HeaderSize = 48

// Header identifies one sub-timeframe: the portion of a timeframe produced
// by one equipment and link.
type Header struct {
	TimeframeID         uint64
	RunNumber           uint32
	SystemID            uint8
	FeeID               uint16
	EquipmentID         uint16
	LinkID              uint8
	TimeframeOrbitFirst uint32
	TimeframeOrbitLast  uint32

	// IsRdhFormat is set when the payload carries raw data headers.
	IsRdhFormat bool
	// LastTFMessage is set on the final sub-timeframe of a timeframe.
	LastTFMessage bool
}

// AppendTo serializes the header into buf using the given engine and
// returns the extended slice.
//
// Layout (byte offsets, matching the field declaration order):
//
//	0-7    timeframeId
//	8-11   runNumber
//	12     systemId
//	13-14  feeId
//	15-16  equipmentId
//	17     linkId
//	18-21  timeframeOrbitFirst
//	22-25  timeframeOrbitLast
//	26     isRdhFormat
//	27     lastTFMessage
//	28-47  reserved
func (h *Header) AppendTo(buf []byte, engine endian.Engine) []byte {
	buf = engine.AppendUint64(buf, h.TimeframeID)
	buf = engine.AppendUint32(buf, h.RunNumber)
	buf = append(buf, h.SystemID)
	buf = engine.AppendUint16(buf, h.FeeID)
	buf = engine.AppendUint16(buf, h.EquipmentID)
	buf = append(buf, h.LinkID)
	buf = engine.AppendUint32(buf, h.TimeframeOrbitFirst)
	buf = engine.AppendUint32(buf, h.TimeframeOrbitLast)
	buf = append(buf, boolByte(h.IsRdhFormat), boolByte(h.LastTFMessage))
	buf = append(buf, make([]byte, HeaderSize-28)...)

	return buf
}

// Bytes serializes the header into a fresh HeaderSize slice.
func (h *Header) Bytes(engine endian.Engine) []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize), engine)
}

// WriteTo serializes the header into dst, which must hold at least
// HeaderSize bytes.
func (h *Header) WriteTo(dst []byte, engine endian.Engine) error {
	if len(dst) < HeaderSize {
		return errs.ErrInvalidHeaderSize
	}

	copy(dst, h.Bytes(engine))

	return nil
}

// Parse fills the header from a serialized HeaderSize slice.
func (h *Header) Parse(data []byte, engine endian.Engine) error {
	if len(data) < HeaderSize {
		return errs.ErrInvalidHeaderSize
	}

	h.TimeframeID = engine.Uint64(data[0:8])
	h.RunNumber = engine.Uint32(data[8:12])
	h.SystemID = data[12]
	h.FeeID = engine.Uint16(data[13:15])
	h.EquipmentID = engine.Uint16(data[15:17])
	h.LinkID = data[17]
	h.TimeframeOrbitFirst = engine.Uint32(data[18:22])
	h.TimeframeOrbitLast = engine.Uint32(data[22:26])
	h.IsRdhFormat = data[26] != 0
	h.LastTFMessage = data[27] != 0

	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}

	return 0
}
