// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import (
	"errors"
	"sync"
	"sync/atomic"
)

// The SPI peripheral's completion callbacks carry no user data, so a
// board's ISR glue cannot tell which Card a completion belongs to. The
// registry below is keyed by bus identity rather than being a single
// static pointer, so more than one card (each on its own Bus) can run
// DMA concurrently while a given bus still has exactly one owner at a
// time.
var (
	ownersMu sync.Mutex
	owners   = make(map[Bus]*Card)
)

var errDMAOwnerTaken = errors.New("sdspi: bus already has a DMA owner")

func claimDMAOwner(bus Bus, c *Card) error {
	ownersMu.Lock()
	defer ownersMu.Unlock()

	if existing, ok := owners[bus]; ok && existing != c {
		return errDMAOwnerTaken
	}

	owners[bus] = c

	return nil
}

// releaseDMAOwner drops c's ownership of bus, if it holds it. A card
// that never claimed ownership (UseDMA unset, or a second card sharing
// the bus) must not evict the current owner on DeInit.
func releaseDMAOwner(bus Bus, c *Card) {
	ownersMu.Lock()
	defer ownersMu.Unlock()

	if owners[bus] == c {
		delete(owners, bus)
	}
}

func lookupDMAOwner(bus Bus) *Card {
	ownersMu.Lock()
	defer ownersMu.Unlock()

	return owners[bus]
}

// DispatchTxComplete must be called by board ISR glue when bus reports a
// DMA transmit-complete interrupt.
func DispatchTxComplete(bus Bus) {
	if c := lookupDMAOwner(bus); c != nil {
		c.txDone.Done()
	}
}

// DispatchRxComplete must be called by board ISR glue when bus reports a
// DMA receive-complete interrupt.
func DispatchRxComplete(bus Bus) {
	if c := lookupDMAOwner(bus); c != nil {
		c.rxDone.Done()
	}
}

// DispatchTxRxComplete must be called by board ISR glue for a combined
// full-duplex completion interrupt.
func DispatchTxRxComplete(bus Bus) {
	if c := lookupDMAOwner(bus); c != nil {
		c.txDone.Done()
		c.rxDone.Done()
	}
}

// DispatchError must be called by board ISR glue on a DMA error
// interrupt. Error completion wakes both tx and rx waiters so whichever
// side is blocked returns promptly.
func DispatchError(bus Bus) {
	if c := lookupDMAOwner(bus); c != nil {
		atomic.StoreInt32(&c.dmaErr, 1)
		c.txDone.Done()
		c.rxDone.Done()
	}
}
