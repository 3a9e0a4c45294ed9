// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import "time"

// Protocol-fixed constants.
const (
	// BlockSize is the fixed SD/SDHC block size in bytes.
	BlockSize = 512

	idleByte = 0xFF

	tokenStartBlock      = 0xFE
	tokenStartMultiWrite = 0xFC
	tokenStopTran        = 0xFD

	dataRespMask     = 0x1F
	dataRespAccepted = 0x05
	dataRespCRCErr   = 0x0B
	dataRespWriteErr = 0x0D

	// crc7 values fixed for the two commands sent before the card has
	// switched CRC off, per the SD-SPI Non-goal: this driver never
	// computes CRC7/CRC16 beyond these two literals.
	crc7CMD0 = 0x95
	crc7CMD8 = 0x87
	crc7None = 0xFF
)

// SD command indices used over SPI.
const (
	CMD0  = 0  // GO_IDLE_STATE
	CMD8  = 8  // SEND_IF_COND
	CMD9  = 9  // SEND_CSD
	CMD10 = 10 // SEND_CID
	CMD12 = 12 // STOP_TRANSMISSION
	CMD13 = 13 // SEND_STATUS
	CMD16 = 16 // SET_BLOCKLEN
	CMD17 = 17 // READ_SINGLE_BLOCK
	CMD18 = 18 // READ_MULTIPLE_BLOCK
	CMD24 = 24 // WRITE_BLOCK
	CMD25 = 25 // WRITE_MULTIPLE_BLOCK
	CMD55 = 55 // APP_CMD
	CMD58 = 58 // READ_OCR

	ACMD41 = 41 // SD_SEND_OP_COND (sent after CMD55)
)

// Default timeouts and retry policy, all configurable per Card.
const (
	DefaultIOTimeout        = 50 * time.Millisecond
	DefaultCmdTimeout       = 100 * time.Millisecond
	DefaultDataTokenTimeout = 200 * time.Millisecond
	DefaultWriteBusyTimeout = 500 * time.Millisecond
	DefaultInitTimeout      = 1000 * time.Millisecond
	DefaultDMATimeout       = 500 * time.Millisecond
	DefaultMutexTimeout     = 1000 * time.Millisecond

	DefaultMaxRetries = 2

	retryBackoff = 1 * time.Millisecond

	// DMA alignment, bytes: 32 when a data cache is present (so the
	// clean/invalidate range never straddles a cache line holding
	// unrelated data), 4 otherwise.
	DMAAlignmentWithCache    = 32
	DMAAlignmentWithoutCache = 4
)
