// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import "time"

// timedMutex is a mutex that supports bounded acquisition, which
// sync.Mutex does not: a buffered channel of capacity one used as a
// binary semaphore.
//
// On a single-threaded build with no scheduler contention, TryLock
// degenerates to an uncontended channel send and never actually blocks.
type timedMutex struct {
	ch chan struct{}
}

func newTimedMutex() timedMutex {
	return timedMutex{ch: make(chan struct{}, 1)}
}

// TryLock attempts to acquire the mutex, giving up after timeout.
func (m timedMutex) TryLock(timeout time.Duration) bool {
	select {
	case m.ch <- struct{}{}:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Unlock releases the mutex. It is safe to call even if the mutex is not
// currently held (idempotent, needed for DeInit-after-failure safety).
func (m timedMutex) Unlock() {
	select {
	case <-m.ch:
	default:
	}
}

// signal is a single-slot completion flag, used to park a caller waiting
// for a DMA completion callback. Send is non-blocking: a second Done()
// before the first is observed simply coalesces, which is correct for a
// one-shot completion notification.
type signal struct {
	ch chan struct{}
}

func newSignal() signal {
	return signal{ch: make(chan struct{}, 1)}
}

// Clear drains any pending (stale) completion before a new transfer
// starts.
func (s signal) Clear() {
	select {
	case <-s.ch:
	default:
	}
}

// Done marks the signal complete. Called from DMA callback (ISR) context.
func (s signal) Done() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// Wait blocks until Done is called or timeout elapses, returning false on
// timeout.
func (s signal) Wait(timeout time.Duration) bool {
	select {
	case <-s.ch:
		return true
	case <-time.After(timeout):
		return false
	}
}
