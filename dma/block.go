// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "unsafe"

// addr returns the runtime address backing a slice's first element, used
// only to recognize whether a caller-supplied buffer already lives inside
// the pool's arena (Reserved/Alloc fast path).
func addr(buf []byte) uint {
	if len(buf) == 0 {
		return 0
	}

	return uint(uintptr(unsafe.Pointer(&buf[0])))
}

// Aligned reports whether buf's backing address satisfies the given byte
// alignment (a power of 2). It is used by the block data engine to decide
// whether a caller-supplied buffer is eligible for overlapped DMA transfer
// without a bounce copy.
func Aligned(buf []byte, align int) bool {
	if align <= 1 {
		return true
	}

	if len(buf) == 0 {
		return true
	}

	return addr(buf)%uint(align) == 0
}

// NewAlignedBuffer returns a size-byte slice whose backing address
// satisfies the given byte alignment (a power of 2), padding the
// underlying allocation since the Go runtime gives no alignment
// guarantee beyond the pointer width. Used for buffers (such as the
// block engine's receive-clock scratch buffer) that must be DMA-eligible
// regardless of what the platform's heap allocator happens to return.
func NewAlignedBuffer(size, align int) []byte {
	if align <= 1 {
		return make([]byte, size)
	}

	buf := make([]byte, size+align-1)
	pad := 0

	if r := addr(buf) % uint(align); r != 0 {
		pad = align - int(r)
	}

	return buf[pad : pad+size]
}
