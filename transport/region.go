package transport

import (
	"fmt"
	"unsafe"

	"github.com/cespare/xxhash/v2"

	"github.com/daqline/stfpipe/errs"
)

// Region is the unmanaged shared memory range registered with the
// transport. Messages may point anywhere inside it; the owning page handle
// travels as the message hint and is released by the peer's callback.
type Region struct {
	name string
	id   uint64
	data []byte
}

// NewRegion allocates a region of size bytes. Callers wanting a pre-flight
// resource check run CheckResources first.
func NewRegion(name string, size int64) (*Region, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: region size must be positive", errs.ErrBadOption)
	}

	return &Region{
		name: name,
		id:   xxhash.Sum64String(name),
		data: make([]byte, size),
	}, nil
}

// Name returns the region name.
func (r *Region) Name() string {
	return r.name
}

// ID returns the stable identifier derived from the region name.
func (r *Region) ID() uint64 {
	return r.id
}

// Data returns the full region range. The memory bank and the paged pool
// are carved out of this slice.
func (r *Region) Data() []byte {
	return r.data
}

// Size returns the region size in bytes.
func (r *Region) Size() int64 {
	return int64(len(r.data))
}

// Contains reports whether the byte range is inside the region. Used to
// validate that zero-copy messages reference region memory.
func (r *Region) Contains(data []byte) bool {
	if len(data) == 0 || len(r.data) == 0 {
		return false
	}

	return sliceWithin(r.data, data)
}

func sliceWithin(outer, inner []byte) bool {
	o0 := uintptr(unsafe.Pointer(&outer[0]))
	i0 := uintptr(unsafe.Pointer(&inner[0]))

	return i0 >= o0 && i0+uintptr(len(inner)) <= o0+uintptr(len(outer))
}
