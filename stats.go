// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import (
	"fmt"

	"github.com/inhies/go-bytesize"
)

// Stats holds monotonic diagnostic counters. Fields are updated under the
// card's mutex, except the error/timeout counts recorded for an operation
// refused before it acquires the mutex (not initialized, no media, BUSY);
// GetStats/ResetStats run outside it and may observe a partial update.
// This is a diagnostics-grade contract, not a transactional snapshot.
type Stats struct {
	ReadOps      uint64
	WriteOps     uint64
	ReadBlocks   uint64
	WriteBlocks  uint64
	InitAttempts uint64
	ErrorCount   uint64
	TimeoutCount uint64
	RetryCount   uint64

	// CRCMismatches counts optional data-CRC16 verification failures
	// (see Card.VerifyCRC); it never causes a read to fail on its own.
	CRCMismatches uint64
}

// String renders a human-readable summary, the kind a board's console
// would print after a card comes up.
func (s Stats) String() string {
	return fmt.Sprintf(
		"reads=%d (%d blocks) writes=%d (%d blocks) init_attempts=%d errors=%d timeouts=%d retries=%d crc_mismatches=%d",
		s.ReadOps, s.ReadBlocks, s.WriteOps, s.WriteBlocks,
		s.InitAttempts, s.ErrorCount, s.TimeoutCount, s.RetryCount, s.CRCMismatches,
	)
}

// record updates last-status bookkeeping and the error/timeout counters
// for a status about to be returned to the caller. Every public data
// operation funnels its result through this single recorder, except
// parameter failures, which go through paramFail and only set the last
// status.
func (c *Card) record(status Status) Status {
	c.lastStatus = status

	if status != OK {
		c.stats.ErrorCount++
	}

	if status == TIMEOUT {
		c.stats.TimeoutCount++
	}

	return status
}

// String summarizes the card for logging, e.g. at the end of a
// successful Detect.
func (c *Card) String() string {
	if !c.initialized {
		return "sdspi: card not initialized"
	}

	kind := "SDSC"

	if c.isSDHC {
		kind = "SDHC/SDXC"
	}

	size := bytesize.New(float64(c.capacityBlocks) * BlockSize)

	return fmt.Sprintf("sdspi: %s card, %s (%d blocks)", kind, size, c.capacityBlocks)
}
