// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package errs defines the structured errors raised by the stencil runtime.
//
// All user-facing API failures are surfaced as a single *Error variant
// carrying a kind and a message, thrown with panic and recovered with the
// github.com/gomlx/exceptions helpers:
//
//	err := exceptions.TryFor[*errs.Error](func() {
//	    sol.PrepareSolution()
//	})
//
// Transport and allocator internals that return errors wrap their causes
// with github.com/pkg/errors before converting at the API boundary.
package errs

import "fmt"

// Kind classifies an Error.
type Kind int

const (
	// ConfigError indicates contradictory or illegal settings.
	ConfigError Kind = iota
	// PreparationError indicates an operation in the wrong lifecycle phase.
	PreparationError
	// DimMismatch indicates incompatible dimensions or fold layouts.
	DimMismatch
	// IndexOutOfRange indicates a strict element access outside the
	// allocated range.
	IndexOutOfRange
	// AllocationFailure indicates the NUMA/PMEM/shm allocator returned
	// no memory.
	AllocationFailure
	// MpiError indicates a non-zero return from the underlying transport.
	MpiError
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case ConfigError:
		return "ConfigError"
	case PreparationError:
		return "PreparationError"
	case DimMismatch:
		return "DimMismatch"
	case IndexOutOfRange:
		return "IndexOutOfRange"
	case AllocationFailure:
		return "AllocationFailure"
	case MpiError:
		return "MpiError"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is the single exception variant raised by the runtime.
type Error struct {
	Kind Kind
	Msg  string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

// New returns an *Error without throwing it.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Throwf panics with an *Error of the given kind.
func Throwf(kind Kind, format string, args ...any) {
	panic(New(kind, format, args...))
}
