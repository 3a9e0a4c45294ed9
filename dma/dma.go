// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package dma provides a first-fit free-list byte-arena allocator for DMA
// scatter/gather buffers used by the sdspi block data engine.
//
// Unlike the bare-metal tamago dma package this allocator does not carve
// its region out of physical RAM with unsafe.Pointer arithmetic: it backs
// a Pool with a plain []byte arena addressed by offset, so the same
// first-fit algorithm runs unmodified on a host running `go test` as it
// would on a SoC with a reserved DMA window. Ports that do need a
// physically addressed window can wrap a Pool around a slice built from
// that window's base address.
package dma

import (
	"container/list"
	"sync"
)

// block describes an extent of the arena, either free or in use.
type block struct {
	// offset into the arena
	offset uint
	// extent size
	size uint
	// distinguishes regular (Alloc/Free) from reserved (Reserve/Release)
	// blocks
	res bool
}

// Pool represents an arena of memory set aside for DMA buffers.
type Pool struct {
	sync.Mutex

	arena []byte

	freeBlocks *list.List
	usedBlocks map[uint]*block
}

var dma *Pool

// Init initializes the global DMA pool over the given arena. The caller
// retains ownership of arena and must not touch it directly once Init has
// been called; all access must go through the Pool API.
func Init(arena []byte) {
	dma = NewPool(arena)
}

// Default returns the global DMA pool instance.
func Default() *Pool {
	return dma
}

// NewPool allocates a standalone pool over arena, for callers that need
// more than one DMA region (e.g. per-bus pools in tests).
func NewPool(arena []byte) *Pool {
	p := &Pool{arena: arena}

	b := &block{size: uint(len(arena))}

	p.freeBlocks = list.New()
	p.freeBlocks.PushFront(b)
	p.usedBlocks = make(map[uint]*block)

	return p
}

// Start returns the pool arena's base offset (always 0, kept for API
// symmetry with address-based regions).
func (p *Pool) Start() uint {
	return 0
}

// Size returns the pool arena size.
func (p *Pool) Size() uint {
	return uint(len(p.arena))
}
