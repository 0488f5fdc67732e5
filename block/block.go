// Package block defines the data model of the readout data path: the
// DataBlock view of a memory page, the reference-counted handle that bounds
// a page's lifetime, and the DataSet pushed by equipment.
package block

import (
	"math"
	"sync/atomic"

	"github.com/daqline/stfpipe/endian"
	"github.com/daqline/stfpipe/errs"
)

// UndefinedTimeframeID marks "no timeframe seen yet".
const UndefinedTimeframeID = math.MaxUint64

// HeaderSize is the wire size of a serialized block header.
const HeaderSize = 64

// Header describes the payload of a DataBlock. It mirrors the superpage
// header filled by the readout equipment.
type Header struct {
	TimeframeID         uint64
	RunNumber           uint32
	SystemID            uint8
	FeeID               uint16
	EquipmentID         uint16
	LinkID              uint8
	TimeframeOrbitFirst uint32
	TimeframeOrbitLast  uint32

	// DataSize is the number of valid payload bytes in Data.
	DataSize uint64
	// MemorySize is the number of bytes allocated for the page.
	MemorySize uint64

	IsRdhFormat        bool
	FlagEndOfTimeframe bool
}

// AppendTo serializes the header into buf using the given engine and returns
// the extended slice. The layout is fixed at HeaderSize bytes.
func (h *Header) AppendTo(buf []byte, engine endian.Engine) []byte {
	buf = engine.AppendUint64(buf, h.TimeframeID)
	buf = engine.AppendUint32(buf, h.RunNumber)
	buf = append(buf, h.SystemID, h.LinkID)
	buf = engine.AppendUint16(buf, h.FeeID)
	buf = engine.AppendUint16(buf, h.EquipmentID)
	buf = engine.AppendUint32(buf, h.TimeframeOrbitFirst)
	buf = engine.AppendUint32(buf, h.TimeframeOrbitLast)
	buf = engine.AppendUint64(buf, h.DataSize)
	buf = engine.AppendUint64(buf, h.MemorySize)
	buf = append(buf, boolByte(h.IsRdhFormat), boolByte(h.FlagEndOfTimeframe))
	// pad to fixed size
	buf = append(buf, make([]byte, HeaderSize-44)...)

	return buf
}

// Bytes serializes the header into a fresh HeaderSize slice.
func (h *Header) Bytes(engine endian.Engine) []byte {
	return h.AppendTo(make([]byte, 0, HeaderSize), engine)
}

// Parse fills the header from a serialized HeaderSize slice.
func (h *Header) Parse(data []byte, engine endian.Engine) error {
	if len(data) < HeaderSize {
		return errs.ErrInvalidHeaderSize
	}

	h.TimeframeID = engine.Uint64(data[0:8])
	h.RunNumber = engine.Uint32(data[8:12])
	h.SystemID = data[12]
	h.LinkID = data[13]
	h.FeeID = engine.Uint16(data[14:16])
	h.EquipmentID = engine.Uint16(data[16:18])
	h.TimeframeOrbitFirst = engine.Uint32(data[18:22])
	h.TimeframeOrbitLast = engine.Uint32(data[22:26])
	h.DataSize = engine.Uint64(data[26:34])
	h.MemorySize = engine.Uint64(data[34:42])
	h.IsRdhFormat = data[42] != 0
	h.FlagEndOfTimeframe = data[43] != 0

	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}

	return 0
}

// DataBlock is a page interpreted as header plus payload. Data points into
// pool-owned or region-owned memory; while the block has outstanding
// transport references its bytes are immutable.
type DataBlock struct {
	Header Header

	// Data is the usable payload region of the page.
	Data []byte

	bufferSize uint64
	acct       accounting
}

// NewDataBlock wraps a payload buffer. bufferSize is the allocated size of
// the underlying memory, which may exceed len(data).
func NewDataBlock(data []byte, bufferSize uint64) *DataBlock {
	return &DataBlock{Data: data, bufferSize: bufferSize}
}

// BufferSize returns the allocated size of the underlying memory.
func (b *DataBlock) BufferSize() uint64 {
	return b.bufferSize
}

// Ref is an owning, reference-counted handle to a DataBlock. The release
// hook runs when the last handle is dropped; clones handed to the transport
// as hints each count once.
type Ref struct {
	block    *DataBlock
	shared   *refShared
	released atomic.Bool
}

type refShared struct {
	refs    atomic.Int32
	release func()
}

// NewRef creates the initial handle for a block. release runs when the last
// handle (this one or any clone) is released; it may be nil.
func NewRef(b *DataBlock, release func()) *Ref {
	shared := &refShared{release: release}
	shared.refs.Store(1)

	return &Ref{block: b, shared: shared}
}

// Block returns the referenced DataBlock.
func (r *Ref) Block() *DataBlock {
	return r.block
}

// Clone returns a new handle sharing the block's lifetime. Each clone must
// be released exactly once.
func (r *Ref) Clone() *Ref {
	r.shared.refs.Add(1)

	return &Ref{block: r.block, shared: r.shared}
}

// Release drops this handle. When the last handle is dropped the release
// hook runs. Releasing the same handle twice is a no-op.
func (r *Ref) Release() {
	if r == nil || r.released.Swap(true) {
		return
	}
	if r.shared.refs.Add(-1) == 0 {
		if r.shared.release != nil {
			r.shared.release()
		}
	}
}

// DataSet is an ordered sequence of handles all sharing one
// (timeframe, equipment, link). The last block's end-of-timeframe flag is
// authoritative for sub-timeframe completion.
type DataSet []*Ref

// First returns the first block of the set.
func (d DataSet) First() *DataBlock {
	return d[0].Block()
}

// Last returns the last block of the set.
func (d DataSet) Last() *DataBlock {
	return d[len(d)-1].Block()
}

// Validate checks the data set envelope: non-empty and coherent timeframe
// ids on first and last block.
func (d DataSet) Validate() error {
	if len(d) == 0 {
		return errs.ErrEmptyDataSet
	}
	if d.First().Header.TimeframeID != d.Last().Header.TimeframeID {
		return errs.ErrTimeframeMismatch
	}

	return nil
}

// Release drops every handle of the set.
func (d DataSet) Release() {
	for _, r := range d {
		r.Release()
	}
}
