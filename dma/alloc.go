// First-fit memory allocator for DMA buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package dma

import "container/list"

// Reserve carves out size bytes from the pool, with optional alignment,
// without copying any existing buffer into it. It returns the offset and
// the backing slice, which the caller may populate and later give back
// with Release.
//
// The optional alignment must be a power of 2; word alignment (4 bytes) is
// always enforced when align == 0.
func (p *Pool) Reserve(size int, align int) (offset uint, buf []byte) {
	if size == 0 {
		return
	}

	p.Lock()
	defer p.Unlock()

	b := p.alloc(uint(size), uint(align))
	b.res = true

	p.usedBlocks[b.offset] = b

	return b.offset, p.arena[b.offset : b.offset+b.size]
}

// Reserved reports whether buf is a slice of the pool's arena, and if so
// its offset within it.
func (p *Pool) Reserved(buf []byte) (res bool, offset uint) {
	if len(buf) == 0 || len(p.arena) == 0 {
		return false, 0
	}

	base := addr(p.arena)
	ptr := addr(buf)

	res = ptr >= base && ptr+uint(len(buf)) <= base+uint(len(p.arena))

	if res {
		offset = ptr - base
	}

	return
}

// Alloc copies buf into a newly allocated pool extent, with optional
// alignment, and returns its offset. The extent is freed with Free.
//
// If buf was previously obtained from Reserve, its offset is returned
// without any additional allocation.
func (p *Pool) Alloc(buf []byte, align int) (offset uint) {
	size := len(buf)

	if size == 0 {
		return 0
	}

	if res, off := p.Reserved(buf); res {
		return off
	}

	p.Lock()
	defer p.Unlock()

	b := p.alloc(uint(size), uint(align))
	copy(p.arena[b.offset:b.offset+b.size], buf)

	p.usedBlocks[b.offset] = b

	return b.offset
}

// Read reads size bytes starting at offset into buf.
func (p *Pool) Read(offset uint, size int, buf []byte) {
	p.Lock()
	defer p.Unlock()

	copy(buf, p.arena[offset:offset+uint(size)])
}

// Write writes buf into the pool extent at offset.
func (p *Pool) Write(offset uint, buf []byte) {
	p.Lock()
	defer p.Unlock()

	copy(p.arena[offset:offset+uint(len(buf))], buf)
}

// Free releases a pool extent previously obtained with Alloc.
func (p *Pool) Free(offset uint) {
	p.Lock()
	defer p.Unlock()

	b, ok := p.usedBlocks[offset]

	if !ok || b.res {
		return
	}

	delete(p.usedBlocks, offset)
	p.free(b)
}

// Release gives back a pool extent previously obtained with Reserve.
func (p *Pool) Release(offset uint) {
	p.Lock()
	defer p.Unlock()

	b, ok := p.usedBlocks[offset]

	if !ok || !b.res {
		return
	}

	delete(p.usedBlocks, offset)
	p.free(b)
}

func (p *Pool) defrag() {
	var prev *block

	for e := p.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if prev != nil && prev.offset+prev.size == b.offset {
			prev.size += b.size
			defer p.freeBlocks.Remove(e)
			continue
		}

		prev = b
	}
}

func (p *Pool) alloc(size uint, align uint) *block {
	var e *list.Element
	var freeBlock *block

	// word alignment is always enforced
	if align == 0 {
		align = 4
	}

	// make room for alignment buffer
	if align > 0 {
		size += align
	}

	for e = p.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if b.size >= size {
			freeBlock = b
			break
		}
	}

	if freeBlock == nil {
		panic("dma: pool exhausted")
	}

	defer p.freeBlocks.Remove(e)

	if size < freeBlock.size {
		after := &block{
			offset: freeBlock.offset + size,
			size:   freeBlock.size - size,
		}

		freeBlock.size = size
		p.freeBlocks.InsertAfter(after, e)
	}

	if align > 0 {
		if r := freeBlock.offset & (uint(align) - 1); r != 0 {
			pad := uint(align) - r

			before := &block{
				offset: freeBlock.offset,
				size:   pad,
			}

			freeBlock.offset += pad
			freeBlock.size -= pad
			p.freeBlocks.InsertBefore(before, e)
		}

		size -= uint(align)

		if freeBlock.size > size {
			after := &block{
				offset: freeBlock.offset + size,
				size:   freeBlock.size - size,
			}

			freeBlock.size = size
			p.freeBlocks.InsertAfter(after, e)
		}
	}

	return freeBlock
}

func (p *Pool) free(used *block) {
	for e := p.freeBlocks.Front(); e != nil; e = e.Next() {
		b := e.Value.(*block)

		if b.offset > used.offset {
			p.freeBlocks.InsertBefore(used, e)
			p.defrag()
			return
		}
	}

	p.freeBlocks.PushBack(used)
}
