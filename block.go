// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import "time"

// awaitToken polls for the next non-idle byte (a data token or an error
// byte), bounded by timeout.
func (c *Card) awaitToken(timeout time.Duration) (byte, error) {
	deadline := time.Now().Add(timeout)
	var rx [1]byte

	for {
		if err := c.transmitReceivePolled([]byte{idleByte}, rx[:]); err != nil {
			return 0, err
		}

		if rx[0] != idleByte {
			return rx[0], nil
		}

		if time.Now().After(deadline) {
			return 0, newError(TIMEOUT, nil)
		}
	}
}

// readDataBlock awaits the start-of-block token, streams exactly
// len(buf) bytes into buf, and discards the two trailing CRC bytes. The
// same path serves block reads and the CSD/CID register reads.
func (c *Card) readDataBlock(buf []byte) error {
	tok, err := c.awaitToken(c.dataTokenTimeout())

	if err != nil {
		return err
	}

	if tok != tokenStartBlock {
		return newError(ERROR, nil)
	}

	if err := c.receiveOnly(buf); err != nil {
		return err
	}

	var crc [2]byte

	if err := c.transmitReceivePolled([]byte{idleByte, idleByte}, crc[:]); err != nil {
		return err
	}

	if c.VerifyCRC {
		c.checkCRC(buf, crc)
	}

	return nil
}

// writeDataBlock emits the given start token, streams buf, emits two
// dummy CRC bytes, reads and validates the data-response nibble, and
// waits for the card to release busy.
func (c *Card) writeDataBlock(token byte, buf []byte) error {
	if err := c.transmitPolled([]byte{token}); err != nil {
		return err
	}

	if err := c.transmit(buf); err != nil {
		return err
	}

	if err := c.transmitPolled([]byte{idleByte, idleByte}); err != nil {
		return err
	}

	var resp [1]byte

	if err := c.transmitReceivePolled([]byte{idleByte}, resp[:]); err != nil {
		return err
	}

	switch resp[0] & dataRespMask {
	case dataRespAccepted:
		if !c.waitReady(c.writeBusyTimeout()) {
			return newError(TIMEOUT, nil)
		}

		return nil
	case dataRespCRCErr:
		return newError(CRC_ERROR, nil)
	default:
		return newError(WRITE_ERROR, nil)
	}
}

// noteAttempt records and logs a failed attempt that is about to be
// retried, without applying it as the operation's final returned status
// (that happens once, in op(), for whichever status is ultimately
// returned).
func (c *Card) noteAttempt(err error) {
	st := StatusOf(err)

	if c.Log != nil {
		c.Log.Printf("sdspi: retrying after %v", err)
	}

	c.stats.ErrorCount++

	if st == TIMEOUT {
		c.stats.TimeoutCount++
	}
}

func (c *Card) singleRead(buf []byte, sector uint32) error {
	var err error

	for attempt := 0; attempt <= c.maxRetries(); attempt++ {
		err = c.transact(func() error {
			r1, cerr := c.sendCommand(CMD17, c.cmdArg(sector), crc7None)

			if cerr != nil {
				return cerr
			}

			if r1 != 0 {
				return newError(ERROR, nil)
			}

			return c.readDataBlock(buf)
		})

		if err == nil {
			return nil
		}

		if attempt < c.maxRetries() {
			c.noteAttempt(err)
			c.stats.RetryCount++
			time.Sleep(retryBackoff)
		}
	}

	return err
}

func (c *Card) singleWrite(buf []byte, sector uint32) error {
	var err error

	for attempt := 0; attempt <= c.maxRetries(); attempt++ {
		err = c.transact(func() error {
			r1, cerr := c.sendCommand(CMD24, c.cmdArg(sector), crc7None)

			if cerr != nil {
				return cerr
			}

			if r1 != 0 {
				return newError(ERROR, nil)
			}

			return c.writeDataBlock(tokenStartBlock, buf)
		})

		if err == nil {
			return nil
		}

		if attempt < c.maxRetries() {
			c.noteAttempt(err)
			c.stats.RetryCount++
			time.Sleep(retryBackoff)
		}
	}

	return err
}

// multiRead issues CMD18 and streams count blocks with no per-block
// retry, unconditionally issuing CMD12 to terminate the stream even on
// partial failure.
func (c *Card) multiRead(buf []byte, sector uint32, count int) error {
	return c.transact(func() error {
		r1, err := c.sendCommand(CMD18, c.cmdArg(sector), crc7None)

		if err != nil {
			return err
		}

		if r1 != 0 {
			err = newError(ERROR, nil)
		}

		if err == nil {
			for i := 0; i < count; i++ {
				block := buf[i*BlockSize : (i+1)*BlockSize]

				if berr := c.readDataBlock(block); berr != nil {
					err = berr
					break
				}
			}
		}

		if _, cerr := c.sendCommand(CMD12, 0, crc7None); cerr != nil && err == nil {
			err = cerr
		}

		return err
	})
}

// multiWrite issues CMD25 and streams count blocks with no per-block
// retry, always finalizing with the stop-tran token and a final
// wait-ready. Multi-block transfers are never retried as a whole: the
// card has committed state a silent replay could double-write.
func (c *Card) multiWrite(buf []byte, sector uint32, count int) error {
	return c.transact(func() error {
		r1, err := c.sendCommand(CMD25, c.cmdArg(sector), crc7None)

		if err != nil {
			return err
		}

		if r1 != 0 {
			err = newError(ERROR, nil)
		}

		if err == nil {
			for i := 0; i < count; i++ {
				block := buf[i*BlockSize : (i+1)*BlockSize]

				if werr := c.writeDataBlock(tokenStartMultiWrite, block); werr != nil {
					err = werr
					break
				}
			}
		}

		if terr := c.transmitPolled([]byte{tokenStopTran}); terr != nil && err == nil {
			err = terr
		}

		if !c.waitReady(c.writeBusyTimeout()) && err == nil {
			err = newError(TIMEOUT, nil)
		}

		return err
	})
}

func validateBlockArgs(buf []byte, count int) error {
	if count <= 0 || len(buf) != count*BlockSize {
		return newError(PARAM, nil)
	}

	return nil
}

// ReadBlocks reads count blocks starting at sector into buf, using CMD17
// (single block, with retry) when count == 1 or CMD18 (multi-block, no
// retry) otherwise.
func (c *Card) ReadBlocks(buf []byte, sector uint32, count int) error {
	return c.readOp(buf, sector, count, false)
}

// ReadMultiBlocks is ReadBlocks but always forces CMD18, even for a
// single block.
func (c *Card) ReadMultiBlocks(buf []byte, sector uint32, count int) error {
	return c.readOp(buf, sector, count, true)
}

// WriteBlocks writes count blocks starting at sector from buf, using
// CMD24 (single block, with retry) when count == 1 or CMD25 (multi-block,
// no retry) otherwise.
func (c *Card) WriteBlocks(buf []byte, sector uint32, count int) error {
	return c.writeOp(buf, sector, count, false)
}

// WriteMultiBlocks is WriteBlocks but always forces CMD25, even for a
// single block.
func (c *Card) WriteMultiBlocks(buf []byte, sector uint32, count int) error {
	return c.writeOp(buf, sector, count, true)
}

func (c *Card) readOp(buf []byte, sector uint32, count int, force bool) error {
	if err := validateBlockArgs(buf, count); err != nil {
		return c.paramFail(err)
	}

	return c.op(func() error {
		c.stats.ReadOps++
		c.stats.ReadBlocks += uint64(count)

		if count == 1 && !force {
			return c.singleRead(buf, sector)
		}

		return c.multiRead(buf, sector, count)
	})
}

func (c *Card) writeOp(buf []byte, sector uint32, count int, force bool) error {
	if err := validateBlockArgs(buf, count); err != nil {
		return c.paramFail(err)
	}

	return c.op(func() error {
		c.stats.WriteOps++
		c.stats.WriteBlocks += uint64(count)

		if count == 1 && !force {
			return c.singleWrite(buf, sector)
		}

		return c.multiWrite(buf, sector, count)
	})
}

// Sync waits for the card to release its internal busy line, surfacing
// TIMEOUT if it never does within the write-busy timeout.
func (c *Card) Sync() error {
	return c.op(func() error {
		return c.transact(func() error {
			if !c.waitReady(c.writeBusyTimeout()) {
				return newError(TIMEOUT, nil)
			}

			return nil
		})
	})
}
