// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import (
	"sync/atomic"

	"github.com/tamago-sdspi/sdspi/dma"
)

// scratchBuf returns the lazily-filled one-block all-0xFF buffer used to
// clock the bus during receive-only phases (the SD-SPI line must be held
// high between master-driven bytes). It is allocated DMA-aligned so that
// a DMA-eligible caller buffer is never defeated by an unaligned clock
// buffer on the other side of the same transmit-receive call.
func (c *Card) scratchBuf() []byte {
	if c.scratch == nil {
		align := c.dmaAlignment

		if align == 0 {
			align = DMAAlignmentWithoutCache
		}

		c.scratch = dma.NewAlignedBuffer(BlockSize, align)

		for i := range c.scratch {
			c.scratch[i] = idleByte
		}
	}

	return c.scratch
}

func (c *Card) cleanForTx(buf []byte) {
	if c.Cache != nil {
		c.Cache.Clean(buf)
	}
}

func (c *Card) invalidateForRx(buf []byte) {
	if c.Cache != nil {
		c.Cache.Invalidate(buf)
	}
}

// dmaEligible reports whether buf may be transferred with DMA: DMA must
// be enabled for this card and buf must already satisfy the configured
// DMA alignment. Unaligned buffers fall through to polled mode silently,
// never bounced through an internal aligned buffer, which would hide an
// allocation cost from the caller.
func (c *Card) dmaEligible(buf []byte) bool {
	return c.UseDMA && dma.Aligned(buf, c.dmaAlignment)
}

// transmit clocks out buf, using DMA when eligible and polled otherwise.
func (c *Card) transmit(buf []byte) error {
	if c.dmaEligible(buf) {
		return c.transmitDMA(buf)
	}

	return c.transmitPolled(buf)
}

// transmitReceive clocks out tx while filling rx, using DMA only when
// both tx and rx are eligible and polled otherwise.
func (c *Card) transmitReceive(tx, rx []byte) error {
	if c.dmaEligible(rx) && c.dmaEligible(tx) {
		return c.transmitReceiveDMA(tx, rx)
	}

	return c.transmitReceivePolled(tx, rx)
}

func (c *Card) transmitPolled(buf []byte) error {
	if err := c.Bus.Transmit(buf, c.ioTimeout()); err != nil {
		return mapBusError(err)
	}

	return nil
}

func (c *Card) transmitReceivePolled(tx, rx []byte) error {
	if err := c.Bus.TransmitReceive(tx, rx, c.ioTimeout()); err != nil {
		return mapBusError(err)
	}

	return nil
}

func (c *Card) transmitDMA(buf []byte) error {
	c.cleanForTx(buf)

	atomic.StoreInt32(&c.dmaErr, 0)
	c.txDone.Clear()

	if err := c.Bus.StartDMA(buf, nil); err != nil {
		return mapBusError(err)
	}

	if !c.txDone.Wait(c.dmaTimeout()) {
		c.Bus.Abort()
		return newError(TIMEOUT, nil)
	}

	if atomic.LoadInt32(&c.dmaErr) != 0 {
		return newError(ERROR, nil)
	}

	return nil
}

func (c *Card) transmitReceiveDMA(tx, rx []byte) error {
	c.cleanForTx(tx)
	c.invalidateForRx(rx)

	atomic.StoreInt32(&c.dmaErr, 0)
	c.txDone.Clear()
	c.rxDone.Clear()

	if err := c.Bus.StartDMA(tx, rx); err != nil {
		return mapBusError(err)
	}

	txOK := c.txDone.Wait(c.dmaTimeout())
	rxOK := true

	if txOK {
		rxOK = c.rxDone.Wait(c.dmaTimeout())
	}

	if !txOK || !rxOK {
		c.Bus.Abort()
		return newError(TIMEOUT, nil)
	}

	// Invalidate again now that DMA has landed the data, to defeat
	// speculative line refills from neighboring accesses.
	c.invalidateForRx(rx)

	if atomic.LoadInt32(&c.dmaErr) != 0 {
		return newError(ERROR, nil)
	}

	return nil
}

// receiveOnly streams len(buf) bytes from the card by transmitting the
// all-0xFF scratch clock pattern while receiving into buf.
func (c *Card) receiveOnly(buf []byte) error {
	clock := c.scratchBuf()

	if len(buf) <= len(clock) {
		return c.transmitReceive(clock[:len(buf)], buf)
	}

	// only ever used for single blocks and CSD/CID (<= BlockSize), so
	// this path is unreachable in practice; guard it anyway rather than
	// silently truncating.
	return newError(PARAM, nil)
}

func mapBusError(err error) error {
	if err == nil {
		return nil
	}

	if be, ok := err.(BusError); ok && be.Timeout() {
		return newError(TIMEOUT, err)
	}

	return newError(ERROR, err)
}

// BusError lets a Bus implementation distinguish a hardware timeout
// (mapped to Status TIMEOUT) from any other hardware failure (mapped to
// ERROR). Implementations that never time out independently of
// the polled call's own deadline need not implement it.
type BusError interface {
	error
	Timeout() bool
}
