// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

// transact runs fn with chip-select asserted, and guarantees chip-select
// is deasserted followed by one trailing 0xFF byte on every exit path,
// including error paths. The trailing byte clocks the card out of its
// internal busy state and is required by SD-SPI.
func (c *Card) transact(fn func() error) error {
	c.CS.Assert()

	err := fn()

	c.CS.Deassert()

	if terr := c.transmitPolled([]byte{idleByte}); err == nil {
		err = terr
	}

	return err
}
