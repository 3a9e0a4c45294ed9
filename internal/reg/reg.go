// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides primitives for retrieving and modifying hardware
// registers addressed as plain uint32 offsets.
//
// Unlike the tamago-only original, this package does not assume a flat
// physical address space reachable through unsafe.Pointer: callers supply
// the actual memory-mapped backing (or a fake, for host testing) through
// Map, and every access goes through an injectable hook run before each
// read/write so a board can keep its peripheral region cache-coherent
// (see the cache package) without this package importing any particular
// architecture's cache maintenance code.
package reg

import (
	"runtime"
	"sync"
	"time"

	"github.com/tamago-sdspi/sdspi/bits"
)

var mutex sync.Mutex

// BeforeAccess, when non-nil, runs while mutex is held, immediately before
// every register access. It takes no arguments and runs the same way for
// reads and writes; boards with a non-coherent peripheral bus set it to a
// closure that performs their cache maintenance on the peripheral region
// (e.g. by calling cache.CleanRange/cache.InvalidateRange on it).
var BeforeAccess func()

// Backing maps a register address space onto a byte slice. Production
// board packages map it onto a []byte view of the real MMIO window;
// tests map it onto plain Go memory.
type Backing interface {
	// Reg returns a pointer to the 32-bit register at addr.
	Reg(addr uint32) *uint32
}

var backing Backing

// Map installs the Backing used to resolve register addresses. It must be
// called once during board initialization before any Get/Set/Clear call.
func Map(b Backing) {
	backing = b
}

func ptr(addr uint32) *uint32 {
	if backing == nil {
		panic("reg: no backing mapped, call reg.Map first")
	}

	return backing.Reg(addr)
}

func access() {
	if BeforeAccess != nil {
		BeforeAccess()
	}
}

func Get(addr uint32, pos int, mask int) (val uint32) {
	r := ptr(addr)

	mutex.Lock()
	defer mutex.Unlock()

	access()

	return bits.GetN(r, pos, mask)
}

func Set(addr uint32, pos int) {
	r := ptr(addr)

	mutex.Lock()
	defer mutex.Unlock()

	access()
	bits.Set(r, pos)
}

func Clear(addr uint32, pos int) {
	r := ptr(addr)

	mutex.Lock()
	defer mutex.Unlock()

	access()
	bits.Clear(r, pos)
}

func SetN(addr uint32, pos int, mask int, val uint32) {
	r := ptr(addr)

	mutex.Lock()
	defer mutex.Unlock()

	access()
	bits.SetN(r, pos, mask, val)
}

func ClearN(addr uint32, pos int, mask int) {
	r := ptr(addr)

	mutex.Lock()
	defer mutex.Unlock()

	access()
	bits.ClearN(r, pos, mask)
}

func Read(addr uint32) (val uint32) {
	r := ptr(addr)

	mutex.Lock()
	defer mutex.Unlock()

	access()
	val = *r

	return
}

func Write(addr uint32, val uint32) {
	r := ptr(addr)

	mutex.Lock()
	defer mutex.Unlock()

	access()
	*r = val
}

// Wait spins until a register bit matches val. Cooperative runtimes (like
// tamago) need the Gosched to let other goroutines make progress since
// there is no preemption between iterations.
func Wait(addr uint32, pos int, mask int, val uint32) {
	for Get(addr, pos, mask) != val {
		runtime.Gosched()
	}
}

// WaitFor is Wait bounded by a timeout. It returns false if the condition
// never became true within timeout.
func WaitFor(timeout time.Duration, addr uint32, pos int, mask int, val uint32) bool {
	start := time.Now()

	for Get(addr, pos, mask) != val {
		runtime.Gosched()

		if time.Since(start) >= timeout {
			return false
		}
	}

	return true
}
