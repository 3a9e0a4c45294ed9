// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import (
	"log"
	"time"
)

// Bus is the downstream SPI peripheral this driver rides on. Polled
// methods block for at most the supplied timeout; StartDMA is
// non-blocking and completion is reported asynchronously through the
// Dispatch* functions. The peripheral's callback set carries no user
// data, so only one Card may be the registered DMA owner of a given Bus
// at a time.
type Bus interface {
	// Transmit clocks out buf, discarding whatever comes back, bounded
	// by timeout.
	Transmit(buf []byte, timeout time.Duration) error

	// TransmitReceive clocks out tx while simultaneously filling rx.
	// len(tx) must equal len(rx).
	TransmitReceive(tx, rx []byte, timeout time.Duration) error

	// StartDMA begins an overlapped transfer. Exactly one of tx/rx may
	// be supplied for a transmit-only or receive-only transfer, or both
	// for a full-duplex one. Completion is reported later by calling
	// back into the dmaowner registry for this Bus.
	StartDMA(tx, rx []byte) error

	// Abort cancels any DMA transfer in progress on this bus.
	Abort()
}

// GPIO drives the card's chip-select line.
type GPIO interface {
	// Assert pulls chip-select to its active (low) level.
	Assert()
	// Deassert releases chip-select to its inactive (high) level.
	Deassert()
}

// DetectPin reports card presence; polarity is resolved by the
// implementation (see gpio.Pin.ActiveLow).
type DetectPin interface {
	Present() bool
}

// Cache provides address-ranged cache maintenance for DMA buffers. A nil
// Cache is treated as a no-op, the correct behavior on platforms with no
// data cache.
type Cache interface {
	Clean(buf []byte)
	Invalidate(buf []byte)
}

// CSD is the card-specific-data register, parsed and then discarded —
// only capacityBlocks derived from it is retained on Card.
type CSD struct {
	Version        int
	CapacityBlocks uint32
}

// CID is the card identification register. Unlike CSD it is kept on Card
// for the lifetime of the session, since applications commonly want to
// report the serial number or OEM/product fields without re-reading the
// card.
type CID struct {
	Valid            bool
	ManufacturerID   byte
	OEMID            [2]byte
	ProductName      [5]byte
	ProductRevision  byte
	SerialNumber     uint32
	ManufactureMonth int
	ManufactureYear  int
}

// Card is the driver handle an application instantiates once per
// physical card slot. The zero value is not usable; construct one with
// &Card{Bus: ..., CS: ...} and call Init then Detect.
type Card struct {
	// Bus is the SPI peripheral the card is wired to.
	Bus Bus
	// CS drives the card's chip-select line.
	CS GPIO
	// CardDetect, if non-nil, is polled before every data operation.
	CardDetect DetectPin
	// Cache, if non-nil, is used to maintain coherency around DMA
	// transfers; its presence also selects the 32-byte DMA alignment
	// over the 4-byte one.
	Cache Cache
	// UseDMA permits the block engine to use Bus.StartDMA for
	// sufficiently aligned buffers. It is always consulted together
	// with per-buffer alignment: an unaligned buffer always falls back
	// to polled mode, silently, never through an internal bounce
	// buffer.
	UseDMA bool
	// Log receives diagnostic messages (retries, card removal). A nil
	// Log discards them, matching a board with no console attached.
	Log *log.Logger

	// VerifyCRC enables optional, non-fatal CRC16 verification of block
	// read payloads against the two trailing CRC bytes the card always
	// sends (SD-SPI mode normally ignores them). A mismatch is recorded
	// in Stats.CRCMismatches and never fails the read: this driver does
	// not generate CRC7/CRC16 beyond the two fixed CMD0/CMD8 values, and
	// this check is diagnostic, not protocol enforcement.
	VerifyCRC bool

	// Timeouts, all independently overridable; zero means "use the
	// package default" (applied at each use, not stored by Init).
	IOTimeout        time.Duration
	CmdTimeout       time.Duration
	DataTokenTimeout time.Duration
	WriteBusyTimeout time.Duration
	InitTimeout      time.Duration
	DMATimeout       time.Duration
	MutexTimeout     time.Duration
	MaxRetries       int

	mu timedMutex

	initialized    bool
	isSDHC         bool
	capacityBlocks uint32
	dmaAlignment   int

	cid CID

	txDone signal
	rxDone signal
	dmaErr int32

	lastStatus Status
	stats      Stats

	scratch []byte
}
