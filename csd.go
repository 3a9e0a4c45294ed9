// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import (
	"sync"

	"github.com/sigurn/crc16"
)

var (
	crcTableOnce sync.Once
	crcTable     *crc16.Table
)

func dataCRCTable() *crc16.Table {
	crcTableOnce.Do(func() {
		crcTable = crc16.MakeTable(crc16.CRC16_XMODEM)
	})

	return crcTable
}

// checkCRC compares the CRC16 the card appended to a block read against
// one computed over the payload, incrementing Stats.CRCMismatches on
// disagreement. It never fails the read (see Card.VerifyCRC).
func (c *Card) checkCRC(buf []byte, want [2]byte) {
	got := crc16.Checksum(buf, dataCRCTable())
	wantVal := uint16(want[0])<<8 | uint16(want[1])

	if got != wantVal {
		c.stats.CRCMismatches++
	}
}

// parseCSD decodes the 16-byte CSD register into a capacity in 512-byte
// blocks, per the v1.01 and v2.00 layouts of the SD physical spec. The
// CSD itself is not retained.
func parseCSD(csd []byte) CSD {
	if len(csd) < 16 {
		return CSD{}
	}

	version := int(csd[0] >> 6)

	switch version {
	case 1:
		cSize := uint32(csd[7]&0x3F)<<16 | uint32(csd[8])<<8 | uint32(csd[9])
		return CSD{Version: version, CapacityBlocks: (cSize + 1) * 1024}
	case 0:
		cSize := uint32(csd[6]&0x03)<<10 | uint32(csd[7])<<2 | uint32(csd[8]&0xC0)>>6
		cSizeMult := uint32(csd[9]&0x03)<<1 | uint32(csd[10]&0x80)>>7
		readBlLen := uint32(csd[5] & 0x0F)

		capacity := uint64(cSize+1) * (uint64(1) << (cSizeMult + 2)) * (uint64(1) << readBlLen) / BlockSize

		return CSD{Version: version, CapacityBlocks: uint32(capacity)}
	default:
		return CSD{Version: version}
	}
}

// parseCID decodes the 16-byte CID register. A short buffer yields a
// zero, invalid CID.
func parseCID(cid []byte) CID {
	var c CID

	if len(cid) < 16 {
		return c
	}

	c.ManufacturerID = cid[0]
	c.OEMID[0], c.OEMID[1] = cid[1], cid[2]
	copy(c.ProductName[:], cid[3:8])
	c.ProductRevision = cid[8]
	c.SerialNumber = uint32(cid[9])<<24 | uint32(cid[10])<<16 | uint32(cid[11])<<8 | uint32(cid[12])

	date := uint16(cid[13]&0x0F)<<8 | uint16(cid[14])
	c.ManufactureMonth = int(date & 0x0F)
	c.ManufactureYear = 2000 + int(date>>4)
	c.Valid = true

	return c
}

// CID returns the card's parsed identification register and whether it
// was read successfully during Detect.
func (c *Card) CID() (CID, bool) {
	return c.cid, c.cid.Valid
}
