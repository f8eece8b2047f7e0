package sim

import (
	"sync"
	"unsafe"
)

// RAM stands in for the memory region a DMA engine can reach. Buffers
// allocated from it are addressable by a Controller using it; any other
// memory is not.
type RAM struct {
	mx  sync.Mutex
	mem []byte
	off int
}

func NewRAM(size int) *RAM {
	return &RAM{mem: make([]byte, size)}
}

// Alloc carves n bytes off the arena. It returns nil once the arena is
// exhausted. Memory is never given back.
func (r *RAM) Alloc(n int) []byte {
	r.mx.Lock()
	defer r.mx.Unlock()
	if n < 0 || r.off+n > len(r.mem) {
		return nil
	}
	buf := r.mem[r.off : r.off+n : r.off+n]
	r.off += n
	return buf
}

// Free returns the number of bytes left.
func (r *RAM) Free() int {
	r.mx.Lock()
	defer r.mx.Unlock()
	return len(r.mem) - r.off
}

// Contains reports whether buf lies entirely inside the arena.
func (r *RAM) Contains(buf []byte) bool {
	if len(buf) == 0 || len(r.mem) == 0 {
		return false
	}
	start := uintptr(unsafe.Pointer(unsafe.SliceData(r.mem)))
	end := start + uintptr(len(r.mem))
	p := uintptr(unsafe.Pointer(unsafe.SliceData(buf)))
	return p >= start && p+uintptr(len(buf)) <= end
}
