// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

// checkReady enforces the two entry invariants shared by every data
// operation: initialized must be true, and, if a card-detect pin is
// configured, the card must currently be present. Both checks run
// outside the mutex for quick rejection without touching the bus.
func (c *Card) checkReady() error {
	if !c.initialized {
		return newError(ERROR, nil)
	}

	if c.CardDetect != nil && !c.CardDetect.Present() {
		c.initialized = false

		if c.Log != nil {
			c.Log.Printf("sdspi: card removed")
		}

		return newError(NO_MEDIA, nil)
	}

	return nil
}

// paramFail records a parameter/state check performed before the bus is
// touched: the last status is updated but the error/timeout counters are
// not.
func (c *Card) paramFail(err error) error {
	c.lastStatus = StatusOf(err)
	return err
}

// op is the common envelope for every mutex-guarded data operation:
// card-detect/initialized check outside the lock, bounded mutex
// acquisition, and recording of whatever status fn returns.
func (c *Card) op(fn func() error) error {
	if err := c.checkReady(); err != nil {
		c.record(StatusOf(err))
		return err
	}

	if !c.mu.TryLock(c.mutexTimeout()) {
		c.record(BUSY)
		return newError(BUSY, nil)
	}

	defer c.mu.Unlock()

	err := fn()
	c.record(StatusOf(err))

	return err
}

// IsSDHC reports whether the card addresses in blocks (true) or bytes
// (false). Only meaningful once IsInitialized is true.
func (c *Card) IsSDHC() bool {
	return c.isSDHC
}

// IsInitialized reports whether Detect has completed successfully and no
// subsequent operation has observed the card absent.
func (c *Card) IsInitialized() bool {
	return c.initialized
}

// BlockCount returns the card's capacity in 512-byte blocks, as computed
// from the CSD at Detect time, or 0 if it could not be read.
func (c *Card) BlockCount() uint32 {
	return c.capacityBlocks
}

// LastStatus returns the status of the most recently completed
// operation.
func (c *Card) LastStatus() Status {
	return c.lastStatus
}

// GetStats returns a snapshot of the diagnostic counters. The snapshot
// is not taken under the mutex and may observe a partially updated set
// of counters; this is a diagnostics-grade contract.
func (c *Card) GetStats() Stats {
	return c.stats
}

// ResetStats zeroes the diagnostic counters. Like GetStats, this is not
// mutex-guarded.
func (c *Card) ResetStats() {
	c.stats = Stats{}
}

// DeInit tears down the card's synchronization primitives, releases its
// DMA ownership (if any) and clears initialized. It is always safe to
// call, including after a failed operation or a failed Init/Detect.
func (c *Card) DeInit() error {
	if c.Bus != nil {
		releaseDMAOwner(c.Bus, c)
	}

	c.initialized = false
	c.mu.Unlock()

	return nil
}
