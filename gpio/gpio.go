// GPIO support for SD-SPI chip-select and card-detect signaling
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package gpio implements a register-level GPIO controller and pin
// abstraction suitable for driving an sdspi.GPIO (chip-select output,
// card-detect input).
package gpio

import (
	"errors"
	"fmt"

	"github.com/tamago-sdspi/sdspi/internal/reg"
)

// Register offsets, common to the NXP-style GPIO controller this package
// is modeled on: one data direction register and one data register per
// bank of 32 pins.
const (
	GPIO_DR   = 0x00
	GPIO_GDIR = 0x04
)

// Controller represents one GPIO bank.
type Controller struct {
	// Index identifies the controller instance (diagnostic only).
	Index int
	// Base is the bank's register base address.
	Base uint32
}

// Pin is a single GPIO line within a Controller, configurable as an
// sdspi.GPIO chip-select or card-detect signal.
type Pin struct {
	num  int
	data uint32
	dir  uint32

	// activeLow inverts Assert/Deassert/Value semantics, for card-detect
	// switches wired normally-closed.
	activeLow bool
}

// Init returns the Pin for GPIO line num on the controller.
func (c *Controller) Init(num int) (p *Pin, err error) {
	if c.Base == 0 {
		return nil, errors.New("gpio: invalid controller base address")
	}

	if num < 0 || num > 31 {
		return nil, fmt.Errorf("gpio: invalid pin number %d", num)
	}

	return &Pin{
		num:  num,
		data: c.Base + GPIO_DR,
		dir:  c.Base + GPIO_GDIR,
	}, nil
}

// ActiveLow marks the pin as active-low (used for open-drain card-detect
// switches) and returns the pin for chaining.
func (p *Pin) ActiveLow() *Pin {
	p.activeLow = true
	return p
}

// Out configures the pin as an output, suitable for chip-select.
func (p *Pin) Out() {
	reg.Set(p.dir, p.num)
}

// In configures the pin as an input, suitable for card-detect.
func (p *Pin) In() {
	reg.Clear(p.dir, p.num)
}

// Assert drives the pin to its electrically active level (low for
// active-low pins, high otherwise). A chip-select pin marked ActiveLow
// is pulled low.
func (p *Pin) Assert() {
	if p.activeLow {
		reg.Clear(p.data, p.num)
	} else {
		reg.Set(p.data, p.num)
	}
}

// Deassert drives the pin to its inactive level.
func (p *Pin) Deassert() {
	if p.activeLow {
		reg.Set(p.data, p.num)
	} else {
		reg.Clear(p.data, p.num)
	}
}

// Value reads the pin's logic level, corrected for polarity: true means
// "asserted" (card present, for a card-detect switch).
func (p *Pin) Value() bool {
	high := reg.Get(p.data, p.num, 1) == 1
	return high != p.activeLow
}

// Present implements sdspi.DetectPin: a card-detect switch reports the
// card present while its pin reads asserted.
func (p *Pin) Present() bool {
	return p.Value()
}
