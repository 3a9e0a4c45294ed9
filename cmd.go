// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import "time"

// waitReady polls one byte at a time until 0xFF comes back (the card has
// released the bus) or timeout elapses. A non-0xFF byte indicates the
// card is still busy finishing a prior operation.
func (c *Card) waitReady(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	var rx [1]byte

	for {
		if err := c.transmitReceivePolled([]byte{idleByte}, rx[:]); err != nil {
			return false
		}

		if rx[0] == idleByte {
			return true
		}

		if time.Now().After(deadline) {
			return false
		}
	}
}

// sendCommand frames and sends a 6-byte SD-SPI command and returns its R1
// response: the first byte with bit 7 clear, polled within a 10-byte
// window. Any valid R1 is a nil-error return, even if it encodes an idle
// or error flag; the caller inspects the byte.
//
// Every command except CMD12 is preceded by a wait-ready poll and one
// idle byte. CMD12 is sent straight into a running multi-block read,
// where the card keeps clocking out data instead of idle bytes, so it
// goes on the wire at once.
func (c *Card) sendCommand(cmd byte, arg uint32, crc byte) (r1 byte, err error) {
	if cmd != CMD12 {
		if !c.waitReady(c.cmdTimeout()) {
			return 0, newError(TIMEOUT, nil)
		}

		if err := c.transmitPolled([]byte{idleByte}); err != nil {
			return 0, err
		}
	}

	frame := [6]byte{
		0x40 | cmd,
		byte(arg >> 24),
		byte(arg >> 16),
		byte(arg >> 8),
		byte(arg),
		crc,
	}

	if err := c.transmitPolled(frame[:]); err != nil {
		return 0, err
	}

	var rx [1]byte

	for i := 0; i < 10; i++ {
		if err := c.transmitReceivePolled([]byte{idleByte}, rx[:]); err != nil {
			return 0, err
		}

		if rx[0]&0x80 == 0 {
			return rx[0], nil
		}
	}

	return 0, newError(TIMEOUT, nil)
}

// sendCommandTrailer is sendCommand for R3/R7 commands (CMD8, CMD58),
// additionally reading the four trailing bytes (OCR or interface
// condition echo).
func (c *Card) sendCommandTrailer(cmd byte, arg uint32, crc byte) (r1 byte, trailer [4]byte, err error) {
	r1, err = c.sendCommand(cmd, arg, crc)

	if err != nil {
		return
	}

	err = c.transmitReceivePolled([]byte{idleByte, idleByte, idleByte, idleByte}, trailer[:])

	return
}

// appCommand sends CMD55 (APP_CMD) followed by the application-specific
// command acmd, per the ACMD convention.
func (c *Card) appCommand(acmd byte, arg uint32) (r1 byte, err error) {
	if _, err = c.sendCommand(CMD55, 0, crc7None); err != nil {
		return 0, err
	}

	return c.sendCommand(acmd, arg, crc7None)
}

// cmdArg returns the wire-level argument for a block address: SDHC/SDXC
// cards are addressed in blocks, SDSC cards in bytes.
func (c *Card) cmdArg(sector uint32) uint32 {
	if c.isSDHC {
		return sector
	}

	return sector * BlockSize
}
