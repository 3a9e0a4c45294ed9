// Cache maintenance for DMA buffer coherency
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package cache provides address-ranged cache maintenance primitives used
// to keep CPU and DMA-engine views of a block buffer coherent across an
// overlapped transfer.
//
// tamago's own cache support (arm.CPU.CacheFlushData etc.) flushes
// the whole cache and is backed by assembly not present in this module;
// imx6/internal/cache additionally exposes a per-address Clean. This
// package generalizes the per-address shape to an address range (the
// unit the block data engine actually needs to clean/invalidate — one
// block buffer, not the whole cache) and makes the actual maintenance
// operation a pluggable Ops so the package builds and is testable on a
// host with no cache controller at all: the default Ops is a coherent
// no-op, and a board package wires in its own assembly-backed
// implementation via SetOps the same way it would wire cache.s on
// tamago.
package cache

import "unsafe"

// Ops is the low-level cache maintenance backend. addr/size describe a
// byte range; implementations round up to cache line size as needed.
type Ops interface {
	Clean(addr unsafe.Pointer, size int)
	Invalidate(addr unsafe.Pointer, size int)
}

type noopOps struct{}

func (noopOps) Clean(unsafe.Pointer, int)      {}
func (noopOps) Invalidate(unsafe.Pointer, int) {}

var ops Ops = noopOps{}

// SetOps installs the cache maintenance backend. Passing nil restores the
// coherent no-op backend.
func SetOps(o Ops) {
	if o == nil {
		o = noopOps{}
	}

	ops = o
}

// CleanRange writes dirty cache lines covering buf back to memory. Call
// this after the CPU populates a buffer and before handing it to a DMA
// engine for transmission.
func CleanRange(buf []byte) {
	if len(buf) == 0 {
		return
	}

	ops.Clean(unsafe.Pointer(&buf[0]), len(buf))
}

// InvalidateRange discards any cached copy of buf's range so a subsequent
// CPU read observes what a DMA engine wrote. Call this after a DMA
// receive completes and before the CPU reads the buffer.
func InvalidateRange(buf []byte) {
	if len(buf) == 0 {
		return
	}

	ops.Invalidate(unsafe.Pointer(&buf[0]), len(buf))
}

// Aligned reports whether buf's address satisfies the given byte
// alignment, mirroring dma.Aligned; kept here too so callers that only
// import cache (no DMA) can still gate on alignment.
func Aligned(buf []byte, align int) bool {
	if align <= 1 || len(buf) == 0 {
		return true
	}

	return uintptr(unsafe.Pointer(&buf[0]))%uintptr(align) == 0
}

// Coherency adapts the package-level CleanRange/InvalidateRange (and
// whatever Ops a board has installed with SetOps) to the shape a block
// data engine expects of a DMA cache-maintenance collaborator: Clean(buf)
// before a DMA transmit, Invalidate(buf) before and after a DMA receive.
// A board wires &Coherency{} (or Coherency{}, it carries no state) into
// that collaborator field the same way it would call CleanRange/
// InvalidateRange directly by hand.
type Coherency struct{}

// Clean writes dirty cache lines covering buf back to memory.
func (Coherency) Clean(buf []byte) {
	CleanRange(buf)
}

// Invalidate discards any cached copy of buf's range.
func (Coherency) Invalidate(buf []byte) {
	InvalidateRange(buf)
}
