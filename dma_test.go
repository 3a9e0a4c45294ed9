// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import (
	"testing"
	"time"
	"unsafe"

	"github.com/tamago-sdspi/sdspi/cache"
	"github.com/tamago-sdspi/sdspi/dma"
)

// trackingCacheOps counts Clean/Invalidate calls the way cache_test.go's
// trackingOps does, proving the block engine actually drives the
// installed cache.Ops through cache.Coherency rather than skipping
// maintenance on the DMA path.
type trackingCacheOps struct {
	cleaned     int
	invalidated int
}

func (t *trackingCacheOps) Clean(addr unsafe.Pointer, size int) {
	t.cleaned++
}

func (t *trackingCacheOps) Invalidate(addr unsafe.Pointer, size int) {
	t.invalidated++
}

func TestDMAWriteReadRoundTripThroughPool(t *testing.T) {
	tr := &trackingCacheOps{}
	cache.SetOps(tr)
	defer cache.SetOps(nil)

	sim := newSimCard(64, true)
	sim.csd = sdhc8GBCSD()

	c := &Card{
		Bus:         sim,
		CS:          sim,
		IOTimeout:   20 * time.Millisecond,
		CmdTimeout:  20 * time.Millisecond,
		InitTimeout: 100 * time.Millisecond,
		UseDMA:      true,
		Cache:       cache.Coherency{},
	}

	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}

	if err := c.Detect(); err != nil {
		t.Fatalf("Detect: %v", err)
	}

	// Build an arena aligned to DMAAlignmentWithCache so buffers reserved
	// from it are DMA-eligible regardless of where the test binary's heap
	// happens to place make([]byte, N).
	arena := dma.NewAlignedBuffer(4*BlockSize, DMAAlignmentWithCache)
	pool := dma.NewPool(arena)

	_, out := pool.Reserve(BlockSize, DMAAlignmentWithCache)
	_, in := pool.Reserve(BlockSize, DMAAlignmentWithCache)

	for i := range out {
		out[i] = byte(i * 3)
	}

	if !dma.Aligned(out, DMAAlignmentWithCache) || !dma.Aligned(in, DMAAlignmentWithCache) {
		t.Fatal("expected pool-reserved buffers to be DMA-aligned")
	}

	if err := c.WriteBlocks(out, 0, 1); err != nil {
		t.Fatalf("WriteBlocks: %v", err)
	}

	if err := c.ReadBlocks(in, 0, 1); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}

	for i := range out {
		if out[i] != in[i] {
			t.Fatalf("byte %d mismatch: got %#x want %#x", i, in[i], out[i])
		}
	}

	if sim.DMACallCount() == 0 {
		t.Fatal("expected Card.WriteBlocks/ReadBlocks to exercise the DMA path")
	}

	if tr.cleaned == 0 {
		t.Fatal("expected the write path to clean cache lines before DMA transmit")
	}

	if tr.invalidated == 0 {
		t.Fatal("expected the read path to invalidate cache lines around DMA receive")
	}
}
