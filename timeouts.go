// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import "time"

func orDefault(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}

	return v
}

func (c *Card) ioTimeout() time.Duration {
	return orDefault(c.IOTimeout, DefaultIOTimeout)
}

func (c *Card) cmdTimeout() time.Duration {
	return orDefault(c.CmdTimeout, DefaultCmdTimeout)
}

func (c *Card) dataTokenTimeout() time.Duration {
	return orDefault(c.DataTokenTimeout, DefaultDataTokenTimeout)
}

func (c *Card) writeBusyTimeout() time.Duration {
	return orDefault(c.WriteBusyTimeout, DefaultWriteBusyTimeout)
}

func (c *Card) initTimeout() time.Duration {
	return orDefault(c.InitTimeout, DefaultInitTimeout)
}

func (c *Card) dmaTimeout() time.Duration {
	return orDefault(c.DMATimeout, DefaultDMATimeout)
}

func (c *Card) mutexTimeout() time.Duration {
	return orDefault(c.MutexTimeout, DefaultMutexTimeout)
}

func (c *Card) maxRetries() int {
	if c.MaxRetries <= 0 {
		return DefaultMaxRetries
	}

	return c.MaxRetries
}
