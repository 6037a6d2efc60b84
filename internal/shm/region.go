// Package shm models the memory block shared between the kernel driver and
// the user-mode engine: one byte-addressable region holding the per-endpoint
// ring sub-ranges plus a fixed array of endpoint registers.
//
// The driver owns the region; the engine borrows it for the lifetime of a
// session. Register fields follow a single-writer protocol: the driver writes
// configuration and generation, the engine writes only the position. Nothing
// here locks; consistency across fields is the caller's job, via the
// generation snapshot/recheck scheme.
package shm

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// RegisterSize is the byte size of one EndpointRegister in the shared region.
const RegisterSize = 6 * 4

var (
	// ErrRegisterBase indicates a register array placement that does not fit
	// the region or is not 4-byte aligned.
	ErrRegisterBase = errors.New("register base out of range or misaligned")

	// ErrRegionTooSmall indicates a region shorter than its register array.
	ErrRegionTooSmall = errors.New("region too small for register array")
)

// EndpointRegister is the per-endpoint register record, overlaid on the
// shared region. All fields are read and written with atomic operations since
// the driver mutates them from outside the process.
//
// Generation is written only by the driver; Position only by the engine.
type EndpointRegister struct {
	Generation         atomic.Uint32
	ActiveChannelCount atomic.Uint32
	BufferOffset       atomic.Uint32
	BufferSize         atomic.Uint32
	NotificationCount  atomic.Uint32
	Position           atomic.Uint32
}

// Region is a borrowed view of the shared memory block. It never copies the
// underlying bytes; all accessors are bounds-checked because the producer of
// the register values sits outside this process and cannot be trusted to be
// internally consistent mid-reconfiguration.
type Region struct {
	mem          []byte
	registerBase uint32
	endpoints    int
}

// NewRegion wraps a mapped shared buffer. registerBase is the byte offset of
// the endpoint register array inside mem; endpoints is the number of register
// slots in use.
func NewRegion(mem []byte, registerBase uint32, endpoints int) (*Region, error) {
	if endpoints < 0 {
		return nil, fmt.Errorf("invalid endpoint count %d", endpoints)
	}
	need := uint64(registerBase) + uint64(endpoints)*RegisterSize
	if need > uint64(len(mem)) {
		return nil, ErrRegionTooSmall
	}
	if registerBase%4 != 0 {
		return nil, ErrRegisterBase
	}
	return &Region{mem: mem, registerBase: registerBase, endpoints: endpoints}, nil
}

// Size returns the mapped size of the region in bytes.
func (r *Region) Size() uint32 {
	return uint32(len(r.mem))
}

// Endpoints returns the number of register slots.
func (r *Region) Endpoints() int {
	return r.endpoints
}

// Register returns the register record for endpoint i. The returned pointer
// aliases the shared memory; callers must only touch it through its atomic
// fields.
func (r *Region) Register(i int) *EndpointRegister {
	if i < 0 || i >= r.endpoints {
		return nil
	}
	off := uintptr(r.registerBase) + uintptr(i)*RegisterSize
	return (*EndpointRegister)(unsafe.Pointer(&r.mem[off]))
}

// Slice returns the sub-range [off, off+n) of the region. The second return
// is false when the range does not fit the mapped size; callers treat that as
// a configuration anomaly, never as a reason to trust a shorter slice.
func (r *Region) Slice(off, n uint32) ([]byte, bool) {
	end := uint64(off) + uint64(n)
	if end > uint64(len(r.mem)) {
		return nil, false
	}
	return r.mem[off:end:end], true
}
