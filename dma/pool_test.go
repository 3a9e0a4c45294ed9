// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "testing"

func TestReserveAndRelease(t *testing.T) {
	p := NewPool(make([]byte, 4096))

	off, buf := p.Reserve(512, 32)

	if len(buf) != 512 {
		t.Fatalf("len(buf) = %d, want 512", len(buf))
	}

	if !Aligned(buf, 32) {
		t.Fatalf("Reserve(512, 32) returned a buffer not aligned to 32 bytes")
	}

	res, resOff := p.Reserved(buf)

	if !res || resOff != off {
		t.Fatalf("Reserved = (%v, %d), want (true, %d)", res, resOff, off)
	}

	p.Release(off)

	res, _ = p.Reserved(buf)

	if !res {
		t.Fatalf("Reserved should still report true for a released but still-arena-backed slice")
	}
}

func TestAllocCopiesAndFreeReusesFirstFit(t *testing.T) {
	p := NewPool(make([]byte, 4096))

	a := make([]byte, 256)
	for i := range a {
		a[i] = byte(i)
	}

	offA := p.Alloc(a, 0)
	offB := p.Alloc(make([]byte, 256), 0)

	out := make([]byte, 256)
	p.Read(offA, 256, out)

	for i := range a {
		if out[i] != a[i] {
			t.Fatalf("byte %d mismatch after Alloc/Read: got %#x want %#x", i, out[i], a[i])
		}
	}

	p.Free(offA)

	// A same-size allocation after freeing offA should reuse its extent
	// (first-fit over the free list), not grow past it.
	offC := p.Alloc(make([]byte, 256), 0)

	if offC != offA {
		t.Fatalf("Alloc after Free = offset %d, want reused offset %d", offC, offA)
	}

	p.Free(offB)
	p.Free(offC)
}

func TestWriteRoundTrip(t *testing.T) {
	p := NewPool(make([]byte, 1024))

	off, buf := p.Reserve(64, 0)
	defer p.Release(off)

	src := make([]byte, 64)
	for i := range src {
		src[i] = byte(200 + i)
	}

	p.Write(off, src)

	out := make([]byte, 64)
	p.Read(off, 64, out)

	for i := range src {
		if out[i] != src[i] {
			t.Fatalf("byte %d mismatch: got %#x want %#x", i, out[i], src[i])
		}
	}

	// buf aliases the same arena extent Write/Read just exercised.
	for i := range src {
		if buf[i] != src[i] {
			t.Fatalf("buf[%d] = %#x, want %#x (Reserve slice should alias the arena)", i, buf[i], src[i])
		}
	}
}

func TestDefaultPool(t *testing.T) {
	Init(make([]byte, 2048))

	p := Default()

	if p == nil {
		t.Fatal("Default() returned nil after Init")
	}

	off, buf := p.Reserve(128, 16)
	defer p.Release(off)

	if len(buf) != 128 {
		t.Fatalf("len(buf) = %d, want 128", len(buf))
	}
}

func TestNewAlignedBuffer(t *testing.T) {
	for _, align := range []int{1, 4, 16, 32, 64} {
		buf := NewAlignedBuffer(512, align)

		if len(buf) != 512 {
			t.Fatalf("align %d: len(buf) = %d, want 512", align, len(buf))
		}

		if !Aligned(buf, align) {
			t.Fatalf("align %d: NewAlignedBuffer returned a misaligned buffer", align)
		}
	}
}

func TestAlignedEmptyAndUnitBuffers(t *testing.T) {
	if !Aligned(nil, 32) {
		t.Fatal("Aligned(nil, 32) should be vacuously true")
	}

	if !Aligned(make([]byte, 8), 1) {
		t.Fatal("Aligned(buf, 1) should always be true")
	}
}
