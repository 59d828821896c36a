// Package errs defines the error kinds surfaced by the training engine.
//
// None of the kinds here are used for control flow inside the hot loops;
// they exist to let a driver distinguish CLI mistakes from corrupt input
// from genuine I/O failures and react accordingly.
package errs

import (
	"errors"
	"fmt"
)

// InvalidArgument indicates a bad CLI flag or constructor parameter:
// a missing name, a non-positive map dimension, an exponent out of
// range, an odd height requested for a hexagonal lattice.
type InvalidArgument struct {
	Message string
	cause   error
}

func NewInvalidArgument(message string) *InvalidArgument {
	return &InvalidArgument{Message: message}
}

func (e *InvalidArgument) Error() string { return "invalid argument: " + e.Message }
func (e *InvalidArgument) Unwrap() error { return e.cause }

// CorruptInput indicates an unknown format byte, a truncated file, or a
// declared count that exceeds the format's storage limit.
type CorruptInput struct {
	Message string
	cause   error
}

func NewCorruptInput(message string) *CorruptInput {
	return &CorruptInput{Message: message}
}

func (e *CorruptInput) Error() string { return "corrupt input: " + e.Message }
func (e *CorruptInput) Unwrap() error { return e.cause }

// TooManyEntries is a CorruptInput raised when a declared entry count
// cannot fit the on-disk index-pointer storage limit.
type TooManyEntries struct {
	*CorruptInput
	Limit uint64
	Got   uint64
}

func NewTooManyEntries(limit, got uint64) *TooManyEntries {
	return &TooManyEntries{
		CorruptInput: NewCorruptInput(fmt.Sprintf("entry count %d exceeds limit %d", got, limit)),
		Limit:        limit,
		Got:          got,
	}
}

// Unwrap exposes the embedded CorruptInput so errors.As and errors.Is
// treat a TooManyEntries as a CorruptInput.
func (e *TooManyEntries) Unwrap() error { return e.CorruptInput }

// IoError wraps a failure opening, reading, or writing a file.
type IoError struct {
	Path  string
	cause error
}

func NewIoError(path string, cause error) *IoError {
	return &IoError{Path: path, cause: cause}
}

func (e *IoError) Error() string {
	return fmt.Sprintf("io error on %q: %v", e.Path, e.cause)
}
func (e *IoError) Unwrap() error { return e.cause }

// InvalidTopology indicates an unimplemented or unknown (global, local)
// topology pair. An odd height requested with hexa is reported as an
// InvalidArgument instead.
type InvalidTopology struct {
	Message string
}

func NewInvalidTopology(message string) *InvalidTopology {
	return &InvalidTopology{Message: message}
}

func (e *InvalidTopology) Error() string { return "invalid topology: " + e.Message }

// CapacityExceeded indicates a count-tensor cell would overflow its
// 32-bit counter. Callers treat this as soft: drop the tensor, warn,
// and continue — it must never abort a training run.
type CapacityExceeded struct {
	Message string
}

func NewCapacityExceeded(message string) *CapacityExceeded {
	return &CapacityExceeded{Message: message}
}

func (e *CapacityExceeded) Error() string { return "capacity exceeded: " + e.Message }

// UnsupportedPlatform indicates a big-endian host. Fatal; the driver
// exits 1 without attempting any further work.
type UnsupportedPlatform struct {
	Message string
}

func NewUnsupportedPlatform(message string) *UnsupportedPlatform {
	return &UnsupportedPlatform{Message: message}
}

func (e *UnsupportedPlatform) Error() string { return "unsupported platform: " + e.Message }

// IsSoft reports whether err should be logged and swallowed rather than
// aborting the calling operation. Only CapacityExceeded is soft.
func IsSoft(err error) bool {
	var ce *CapacityExceeded
	return errors.As(err, &ce)
}
