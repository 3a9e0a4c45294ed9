// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package sdspi

import "fmt"

// Status is the closed status taxonomy returned by every public Card
// operation.
type Status int

const (
	OK Status = iota
	ERROR
	TIMEOUT
	BUSY
	PARAM
	NO_MEDIA
	CRC_ERROR
	WRITE_ERROR
	UNSUPPORTED
)

func (s Status) String() string {
	switch s {
	case OK:
		return "OK"
	case ERROR:
		return "ERROR"
	case TIMEOUT:
		return "TIMEOUT"
	case BUSY:
		return "BUSY"
	case PARAM:
		return "PARAM"
	case NO_MEDIA:
		return "NO_MEDIA"
	case CRC_ERROR:
		return "CRC_ERROR"
	case WRITE_ERROR:
		return "WRITE_ERROR"
	case UNSUPPORTED:
		return "UNSUPPORTED"
	default:
		return "UNKNOWN"
	}
}

// Error wraps a Status with the underlying cause, if any. Callers that
// only care about the taxonomy can switch on StatusOf(err); callers that
// want the full chain can errors.Unwrap it.
type Error struct {
	Status Status
	Err    error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("sdspi: %s", e.Status)
	}

	return fmt.Sprintf("sdspi: %s: %v", e.Status, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(status Status, err error) *Error {
	return &Error{Status: status, Err: err}
}

// StatusOf extracts the Status carried by err, ERROR if err is non-nil
// but not an *Error, or OK if err is nil.
func StatusOf(err error) Status {
	if err == nil {
		return OK
	}

	if se, ok := err.(*Error); ok {
		return se.Status
	}

	return ERROR
}
