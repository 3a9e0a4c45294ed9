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
	"time"
)

// simCard is a minimal SD-SPI card emulator used to exercise Card
// against a simulated peer instead of silicon: a byte-level state
// machine driven one duplex exchange at a time. It implements both Bus
// and GPIO, since on real SPI the chip-select line and the data line
// belong to the same physical card.
type simCard struct {
	mu sync.Mutex

	selected bool

	mode     int
	frame    []byte
	respQ    []byte
	postResp int

	afterCMD55 bool

	isSDHC   bool
	capacity int // blocks
	storage  [][BlockSize]byte

	csd [16]byte
	cid [16]byte

	// dmaCalls counts StartDMA invocations, letting tests assert the DMA
	// path was actually exercised rather than silently falling back.
	dmaCalls int

	currentSector int
	multiRead     bool
	multiWrite    bool
	blockCounter  int
	readBuf       []byte
	readIdx       int
	readCRC       [2]byte
	crcIdx        int

	writeBuf [BlockSize]byte
	writeIdx int

	specialReadBuf []byte

	busyCycles int
	busyLeft   int

	// failure injection
	withholdTokenAtBlock int // -1 disables
	writeRespOverride    func(attempt int) byte
	writeAttempt         int

	busyUntil time.Time

	present bool

	acmd41Polls   int
	acmd41ReadyAt int

	sawStop bool
}

const (
	modeIdle = iota
	modeFrame
	modeRespDrain
	modeAwaitReadToken
	modeReadData
	modeReadCRC
	modeAwaitWriteToken
	modeWriteData
	modeWriteCRC
	modeWriteResp
	modeWriteBusy
)

func newSimCard(blocks int, isSDHC bool) *simCard {
	s := &simCard{
		isSDHC:               isSDHC,
		capacity:             blocks,
		storage:              make([][BlockSize]byte, blocks),
		present:              true,
		withholdTokenAtBlock: -1,
		acmd41ReadyAt:        0,
	}

	return s
}

func (s *simCard) Assert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = true
}

func (s *simCard) Deassert() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selected = false
	s.mode = modeIdle
	s.frame = nil
}

func (s *simCard) Present() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.present
}

func (s *simCard) Transmit(buf []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, b := range buf {
		s.step(b)
	}

	return nil
}

func (s *simCard) TransmitReceive(tx, rx []byte, timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range tx {
		rx[i] = s.step(tx[i])
	}

	return nil
}

// StartDMA simulates a DMA engine: it performs the transfer immediately
// (there is no real bus to wait on) and then posts completion through the
// same dispatch path a board's ISR glue would use, so the Card's
// txDone/rxDone wait exercises the genuine DMA completion protocol rather
// than a shortcut.
func (s *simCard) StartDMA(tx, rx []byte) error {
	s.mu.Lock()
	s.dmaCalls++

	if rx == nil {
		for _, b := range tx {
			s.step(b)
		}
	} else {
		for i := range tx {
			rx[i] = s.step(tx[i])
		}
	}

	s.mu.Unlock()

	if rx == nil {
		DispatchTxComplete(s)
	} else {
		DispatchTxRxComplete(s)
	}

	return nil
}

func (s *simCard) Abort() {}

func (s *simCard) DMACallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dmaCalls
}

func (s *simCard) argToSector(arg uint32) int {
	if s.isSDHC {
		return int(arg)
	}

	return int(arg / BlockSize)
}

// step processes one duplex byte exchange and returns the card's output
// byte. It must be called with s.mu held.
func (s *simCard) step(in byte) byte {
	if !s.selected {
		return idleByte
	}

	switch s.mode {
	case modeIdle:
		if in&0xC0 == 0x40 {
			s.frame = []byte{in}
			s.mode = modeFrame
		}

		return s.readyByte()

	case modeFrame:
		s.frame = append(s.frame, in)

		if len(s.frame) == 6 {
			s.dispatch()
		}

		return idleByte

	case modeRespDrain:
		b := s.respQ[0]
		s.respQ = s.respQ[1:]

		if len(s.respQ) == 0 {
			s.mode = s.postResp
		}

		return b

	case modeAwaitReadToken:
		if in&0xC0 == 0x40 {
			s.frame = []byte{in}
			s.mode = modeFrame
			return idleByte
		}

		if s.withholdTokenAtBlock == s.blockCounter {
			return idleByte
		}

		s.prepareReadBlock()
		s.mode = modeReadData

		return tokenStartBlock

	case modeReadData:
		b := s.readBuf[s.readIdx]
		s.readIdx++

		if s.readIdx == len(s.readBuf) {
			s.mode = modeReadCRC
			s.crcIdx = 0
		}

		return b

	case modeReadCRC:
		b := s.readCRC[s.crcIdx]
		s.crcIdx++

		if s.crcIdx == 2 {
			if s.multiRead {
				s.blockCounter++
				s.currentSector++
				s.mode = modeAwaitReadToken
			} else {
				s.mode = modeIdle
			}
		}

		return b

	case modeAwaitWriteToken:
		switch in {
		case tokenStartBlock, tokenStartMultiWrite:
			s.writeIdx = 0
			s.mode = modeWriteData
		case tokenStopTran:
			s.mode = modeWriteBusy
			s.busyLeft = s.busyCycles
		}

		return idleByte

	case modeWriteData:
		s.writeBuf[s.writeIdx] = in
		s.writeIdx++

		if s.writeIdx == BlockSize {
			s.mode = modeWriteCRC
			s.crcIdx = 0
		}

		return idleByte

	case modeWriteCRC:
		s.crcIdx++

		if s.crcIdx == 2 {
			s.mode = modeWriteResp
		}

		return idleByte

	case modeWriteResp:
		resp := byte(dataRespAccepted)

		if s.writeRespOverride != nil {
			resp = s.writeRespOverride(s.writeAttempt)
		}

		s.writeAttempt++

		if resp&dataRespMask == dataRespAccepted {
			s.storage[s.currentSector] = s.writeBuf
			s.currentSector++
			s.mode = modeWriteBusy
			s.busyLeft = s.busyCycles
		} else if s.multiWrite {
			s.mode = modeAwaitWriteToken
		} else {
			s.mode = modeIdle
		}

		return resp

	case modeWriteBusy:
		if s.busyLeft > 0 {
			s.busyLeft--
			return 0x00
		}

		if s.multiWrite {
			s.mode = modeAwaitWriteToken
		} else {
			s.mode = modeIdle
		}

		return s.readyByte()
	}

	return idleByte
}

func (s *simCard) readyByte() byte {
	if time.Now().Before(s.busyUntil) {
		return 0x00
	}

	return idleByte
}

func (s *simCard) prepareReadBlock() {
	if s.specialReadBuf != nil {
		s.readBuf = s.specialReadBuf
		s.specialReadBuf = nil
	} else if s.currentSector >= 0 && s.currentSector < len(s.storage) {
		block := s.storage[s.currentSector]
		s.readBuf = block[:]
	} else {
		s.readBuf = make([]byte, BlockSize)
	}

	s.readIdx = 0
	s.readCRC = [2]byte{0x00, 0x00}
}

func (s *simCard) dispatch() {
	cmd := s.frame[0] & 0x3F
	arg := uint32(s.frame[1])<<24 | uint32(s.frame[2])<<16 | uint32(s.frame[3])<<8 | uint32(s.frame[4])

	wasACMD := s.afterCMD55
	s.afterCMD55 = false

	switch {
	case cmd == CMD0:
		s.respQ = []byte{0x01}
		s.postResp = modeIdle
	case cmd == CMD8:
		if arg == 0x1AA {
			s.respQ = []byte{0x01, 0x00, 0x00, 0x01, 0xAA}
		} else {
			s.respQ = []byte{0x05}
		}
		s.postResp = modeIdle
	case cmd == CMD55:
		s.respQ = []byte{0x01}
		s.afterCMD55 = true
		s.postResp = modeIdle
	case cmd == ACMD41 && wasACMD:
		if s.acmd41Polls >= s.acmd41ReadyAt {
			s.respQ = []byte{0x00}
		} else {
			s.respQ = []byte{0x01}
		}
		s.acmd41Polls++
		s.postResp = modeIdle
	case cmd == CMD58:
		ocr0 := byte(0x00)

		if s.isSDHC {
			ocr0 = 0x40
		}

		s.respQ = []byte{0x00, ocr0, 0x00, 0x00, 0x00}
		s.postResp = modeIdle
	case cmd == CMD16:
		s.respQ = []byte{0x00}
		s.postResp = modeIdle
	case cmd == CMD9:
		s.respQ = []byte{0x00}
		s.specialReadBuf = s.csd[:]
		s.blockCounter = 0
		s.multiRead = false
		s.postResp = modeAwaitReadToken
	case cmd == CMD10:
		s.respQ = []byte{0x00}
		s.specialReadBuf = s.cid[:]
		s.blockCounter = 0
		s.multiRead = false
		s.postResp = modeAwaitReadToken
	case cmd == CMD13:
		s.respQ = []byte{0x00}
		s.postResp = modeIdle
	case cmd == CMD17:
		s.respQ = []byte{0x00}
		s.currentSector = s.argToSector(arg)
		s.multiRead = false
		s.blockCounter = 0
		s.postResp = modeAwaitReadToken
	case cmd == CMD18:
		s.respQ = []byte{0x00}
		s.currentSector = s.argToSector(arg)
		s.multiRead = true
		s.blockCounter = 0
		s.postResp = modeAwaitReadToken
	case cmd == CMD12:
		s.respQ = []byte{0x00}
		s.multiRead = false
		s.sawStop = true
		s.postResp = modeIdle
	case cmd == CMD24:
		s.respQ = []byte{0x00}
		s.currentSector = s.argToSector(arg)
		s.multiWrite = false
		s.postResp = modeAwaitWriteToken
	case cmd == CMD25:
		s.respQ = []byte{0x00}
		s.currentSector = s.argToSector(arg)
		s.multiWrite = true
		s.postResp = modeAwaitWriteToken
	default:
		s.respQ = []byte{0x05}
		s.postResp = modeIdle
	}

	s.mode = modeRespDrain
}
