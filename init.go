// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import "time"

// Init binds the card's peripherals and creates its synchronization
// primitives. Bus and CS must already be set. If UseDMA is set, Init
// claims this card as the Bus's DMA owner.
func (c *Card) Init() error {
	if c.Bus == nil || c.CS == nil {
		return c.paramFail(newError(PARAM, nil))
	}

	c.mu = newTimedMutex()
	c.txDone = newSignal()
	c.rxDone = newSignal()

	if c.Cache != nil {
		c.dmaAlignment = DMAAlignmentWithCache
	} else {
		c.dmaAlignment = DMAAlignmentWithoutCache
	}

	if c.UseDMA {
		if err := claimDMAOwner(c.Bus, c); err != nil {
			return c.paramFail(newError(ERROR, err))
		}
	}

	c.initialized = false
	c.lastStatus = OK

	return nil
}

// SetCardDetect installs the optional card-detect pin, sampled outside
// the mutex before every data operation for quick rejection.
func (c *Card) SetCardDetect(pin DetectPin) error {
	if pin == nil {
		return c.paramFail(newError(PARAM, nil))
	}

	c.CardDetect = pin

	return nil
}

// IsCardPresent reports card presence. A card with no configured
// card-detect pin is always reported present, since there is no way to
// sense otherwise.
func (c *Card) IsCardPresent() bool {
	if c.CardDetect == nil {
		return true
	}

	return c.CardDetect.Present()
}

// Detect runs the on-wire SPI-mode initialization handshake (CMD0,
// CMD8, ACMD41, CMD58, CMD16 for byte-addressed cards, then CSD/CID),
// setting initialized, isSDHC and capacityBlocks on success. The caller
// is responsible for running the bus at or below 400 kHz until Detect
// returns and clocking up afterwards.
func (c *Card) Detect() error {
	if c.Bus == nil || c.CS == nil {
		return c.paramFail(newError(PARAM, nil))
	}

	if !c.mu.TryLock(c.mutexTimeout()) {
		c.record(BUSY)
		return newError(BUSY, nil)
	}

	defer c.mu.Unlock()

	c.stats.InitAttempts++
	c.initialized = false
	c.isSDHC = false
	c.capacityBlocks = 0
	c.cid = CID{}

	err := c.handshake()
	c.record(StatusOf(err))

	if err != nil && c.Log != nil {
		c.Log.Printf("sdspi: init failed: %v", err)
	}

	return err
}

func (c *Card) handshake() error {
	// Step 1: power-on idle clocks with CS held high.
	c.CS.Deassert()

	idle := make([]byte, 10)

	for i := range idle {
		idle[i] = idleByte
	}

	if err := c.transmitPolled(idle); err != nil {
		return err
	}

	if err := c.cmd0(); err != nil {
		return err
	}

	isV2, err := c.cmd8()

	if err != nil {
		return err
	}

	if err := c.acmd41Loop(isV2); err != nil {
		return err
	}

	if err := c.cmd58AndMaybeCmd16(); err != nil {
		return err
	}

	c.readCSDBestEffort()
	c.readCIDBestEffort()

	c.initialized = true

	return nil
}

func (c *Card) cmd0() error {
	deadline := time.Now().Add(c.initTimeout())

	for {
		var r1 byte

		err := c.transact(func() error {
			var cerr error
			r1, cerr = c.sendCommand(CMD0, 0, crc7CMD0)
			return cerr
		})

		if err == nil && r1 == 0x01 {
			return nil
		}

		if time.Now().After(deadline) {
			return newError(ERROR, err)
		}

		time.Sleep(retryBackoff)
	}
}

func (c *Card) cmd8() (isV2 bool, err error) {
	var r1 byte
	var trailer [4]byte

	err = c.transact(func() error {
		var cerr error
		r1, trailer, cerr = c.sendCommandTrailer(CMD8, 0x1AA, crc7CMD8)
		return cerr
	})

	if err != nil {
		return false, err
	}

	isV2 = r1 == 0x01 && trailer[2] == 0x01 && trailer[3] == 0xAA

	return isV2, nil
}

func (c *Card) acmd41Loop(isV2 bool) error {
	var arg uint32

	if isV2 {
		arg = 0x40000000
	}

	deadline := time.Now().Add(c.initTimeout())

	for {
		var r1 byte

		err := c.transact(func() error {
			var cerr error
			r1, cerr = c.appCommand(ACMD41, arg)
			return cerr
		})

		if err != nil {
			return err
		}

		if r1 == 0x00 {
			return nil
		}

		if time.Now().After(deadline) {
			return newError(TIMEOUT, nil)
		}

		time.Sleep(retryBackoff)
	}
}

func (c *Card) cmd58AndMaybeCmd16() error {
	var r1 byte
	var trailer [4]byte

	err := c.transact(func() error {
		var cerr error
		r1, trailer, cerr = c.sendCommandTrailer(CMD58, 0, crc7None)
		return cerr
	})

	if err != nil {
		return err
	}

	if r1 == 0x00 && trailer[0]&0x40 != 0 {
		c.isSDHC = true
		return nil
	}

	c.isSDHC = false

	var r1b byte

	err = c.transact(func() error {
		var cerr error
		r1b, cerr = c.sendCommand(CMD16, BlockSize, crc7None)
		return cerr
	})

	if err != nil {
		return err
	}

	if r1b != 0x00 {
		return newError(ERROR, nil)
	}

	return nil
}

// readCSDBestEffort reads and parses the CSD, leaving capacityBlocks at 0
// on any failure; a card that will not report capacity is still usable.
func (c *Card) readCSDBestEffort() {
	var csd [16]byte

	err := c.transact(func() error {
		r1, cerr := c.sendCommand(CMD9, 0, crc7None)

		if cerr != nil {
			return cerr
		}

		if r1 != 0 {
			return newError(ERROR, nil)
		}

		return c.readDataBlock(csd[:])
	})

	if err == nil {
		c.capacityBlocks = parseCSD(csd[:]).CapacityBlocks
	}
}

// readCIDBestEffort reads and parses the CID. Like the CSD, a failure
// here is non-fatal.
func (c *Card) readCIDBestEffort() {
	var cid [16]byte

	err := c.transact(func() error {
		r1, cerr := c.sendCommand(CMD10, 0, crc7None)

		if cerr != nil {
			return cerr
		}

		if r1 != 0 {
			return newError(ERROR, nil)
		}

		return c.readDataBlock(cid[:])
	})

	if err == nil {
		c.cid = parseCID(cid[:])
	}
}

// Status issues CMD13 (SEND_STATUS) and returns the raw R1 byte for the
// caller to inspect (erase-reset, illegal-command, CRC, address and
// parameter bits). Diagnostics only; no other operation depends on it.
func (c *Card) Status() (byte, error) {
	var r1 byte

	err := c.op(func() error {
		return c.transact(func() error {
			var cerr error
			r1, cerr = c.sendCommand(CMD13, 0, crc7None)
			return cerr
		})
	})

	return r1, err
}
