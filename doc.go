// SD/SDHC block driver over SPI mode
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package sdspi implements a block-device driver for SD and SDHC memory
// cards accessed over SPI mode (not the native 4-bit SD bus).
//
// It provides deterministic, fixed-size block reads and writes with
// bounded timeouts, mutex-guarded access suitable for a cooperatively
// scheduled task set, and optional overlapped DMA transfers with cache
// coherency on hosts that have a data cache.
//
// The chip-specific SPI peripheral, DMA engine, GPIO, and optional cache
// operations are supplied by the caller through the Bus, GPIO, DetectPin
// and Cache interfaces; timeouts and backoffs use the Go runtime's time
// package. This package contains no
// register-level code of its own, the way tamago's soc/nxp/usdhc driver
// is handed its clock-gating and bus-width callbacks rather than
// hardcoding them.
package sdspi
