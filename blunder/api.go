// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package blunder provides error-handling wrappers
//
// These wrappers allow callers to provide additional information in Go errors
// while still conforming to the Go error interface.
//
// This package provides APIs to add errno information to regular Go errors.
//
// This package is currently implemented on top of the ansel1/merry package:
//   https://github.com/ansel1/merry
//
//   merry comes with built-in support for adding information to errors:
//    - stacktraces
//    - overriding the error message
//    - your own additional information
//
//   From merry godoc:
//     You can add any context information to an error with `e = merry.WithValue(e, "code", 12345)`
//     You can retrieve that value with `v, _ := merry.Value(e, "code").(int)`
//
package blunder

import (
	"fmt"

	"github.com/ansel1/merry"
	"golang.org/x/sys/unix"

	"github.com/NVIDIA/freerange/logger"
)

// Error constants to be used in the freerange namespace.
//
// There are two groups of constants:
//  - constants that correspond to linux/POSIX errnos as defined in errno.h
//  - land-specific aliases for the outcomes of range-set operations
//
// The linux/POSIX-related constants should be used in cases where there is a clear
// mapping to these errors. Using these constants makes it easy for callers to
// classify an operation's outcome without string matching.
//
// NOTE: unix.Errno is used here because they are errno constants that exist in Go-land.
//       This type consists of an unsigned number describing an error condition. It implements
//       the error interface; we need to cast it to an int to get the errno value.
//
type FrError int

// The following line of code is a directive to go generate that tells it to create a
// file called frerror_string.go that implements the .String() method for type FrError.
//go:generate stringer -type=FrError

const (
	// Errors that map to linux/POSIX errnos as defined in errno.h
	//
	NotPermError        FrError = FrError(int(unix.EPERM))   // Operation not permitted
	NotFoundError       FrError = FrError(int(unix.ENOENT))  // No such object
	IOError             FrError = FrError(int(unix.EIO))     // I/O error
	TryAgainError       FrError = FrError(int(unix.EAGAIN))  // Try again
	OutOfMemoryError    FrError = FrError(int(unix.ENOMEM))  // Out of memory
	DevBusyError        FrError = FrError(int(unix.EBUSY))   // Device or resource busy
	AlreadyExistsError  FrError = FrError(int(unix.EEXIST))  // Object exists
	InvalidArgError     FrError = FrError(int(unix.EINVAL))  // Invalid argument
	NoSpaceError        FrError = FrError(int(unix.ENOSPC))  // No space left on device
	OutOfRangeError     FrError = FrError(int(unix.ERANGE))  // Math result not representable
	NotImplementedError FrError = FrError(int(unix.ENOSYS))  // Function not implemented
	NotSupportedError   FrError = FrError(int(unix.ENOTSUP)) // Operation not supported
)

// Errors that map to constants already defined above
//
// A Land operation has four well-known outcomes beyond success; each is an
// alias of the corresponding errno so that callers may test either name.
const (
	RangeNotFoundError     FrError = NotFoundError      // Negative lookup; a logically-expected outcome
	MetadataExhaustedError FrError = OutOfMemoryError   // A Land could not allocate metadata to represent the mutation
	BadLandError           FrError = InvalidArgError    // Invalid input to a Land entrypoint
	RangeOverlapError      FrError = AlreadyExistsError // Inserted range overlaps a range already present
)

// Success error (sounds odd, no? - perhaps this could be renamed "NotAnError"?)
const SuccessError FrError = 0

// Default errno values for success and failure
const successErrno = 0
const failureErrno = -1

// Value returns the int value for the specified FrError constant
func (err FrError) Value() int {
	return int(err)
}

// NewError creates a new merry/blunder.FrError-annotated error using the given
// format string and arguments.
func NewError(errValue FrError, format string, a ...interface{}) error {
	return merry.WrapSkipping(fmt.Errorf(format, a...), 1).WithValue("errno", int(errValue))
}

// AddError is used to add error detail to a Go error.
//
// NOTE: Checks whether the error value has already been set
//       Note that by default merry will replace the old with the new.
//
func AddError(e error, errValue FrError) error {
	if e == nil {
		// Error hasn't been allocated yet; need to create one
		//
		// Usually we wouldn't want to mess with a nil error, but the caller of
		// this function obviously intends to make this a non-nil error.
		//
		// It's recommended that the caller create an error with some context
		// in the error string first, but we don't want to silently not work
		// if they forget to do that.
		//
		return merry.New("regular error").WithValue("errno", int(errValue))
	}

	// Make the error "merry", adding stack trace as well as errno value.
	// This is done all in one line because the merry APIs create a new error each time.

	// For now, check and log if an errno has already been added to
	// this error, to help debugging in the cases where this was not intentional.
	prevValue := Errno(e)
	if prevValue != successErrno && prevValue != failureErrno {
		logger.Warnf("replacing error value %v with value %v for error %v.\n", prevValue, int(errValue), e)
	}

	return merry.WrapSkipping(e, 1).WithValue("errno", int(errValue))
}

// Errno extracts errno from the error, if it was previously wrapped.
// Otherwise a default value is returned.
//
func Errno(e error) int {
	if e == nil {
		// nil error = success
		return successErrno
	}

	// If the "errno" key/value was not present, merry.Value returns nil.
	var errno = failureErrno
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errno = tmp.(int)
	}

	return errno
}

func ErrorString(e error) string {
	if e == nil {
		return ""
	}

	// Get the regular error string
	errPlusVal := e.Error()

	// Add the error value to it, if set
	tmp := merry.Value(e, "errno")
	if tmp != nil {
		errPlusVal = fmt.Sprintf("%s. Error Value: %v\n", errPlusVal, tmp.(int))
	}

	return errPlusVal
}

// Is checks if an error matches a particular FrError
//
// NOTE: Because the value of the underlying errno is used to do this check, one cannot
//       use this API to distinguish between FrErrors that use the same errno value.
//       IOW, it can't tell the difference between RangeNotFoundError/NotFoundError,
//       since they both use unix.ENOENT as their underlying errno value.
//
func Is(e error, theError FrError) bool {
	return Errno(e) == theError.Value()
}

// IsNot checks if an error is NOT a particular FrError
func IsNot(e error, theError FrError) bool {
	return Errno(e) != theError.Value()
}

// IsSuccess checks if an error is the success FrError
func IsSuccess(e error) bool {
	return Errno(e) == successErrno
}

// IsNotSuccess checks if an error is NOT the success FrError
func IsNotSuccess(e error) bool {
	return Errno(e) != successErrno
}

// Location returns the file and line number of the code that generated the error.
// Returns zero values if e has no stacktrace.
func Location(e error) (file string, line int) {
	file, line = merry.Location(e)
	return
}

// SourceLine returns the string representation of Location's result
// Returns empty string if e has no stacktrace.
func SourceLine(e error) string {
	return merry.SourceLine(e)
}

// Details wraps merry.Details, which returns all error details including stacktrace in a string.
func Details(e error) string {
	return merry.Details(e)
}

// Stacktrace wraps merry.Stacktrace, which returns error stacktrace (if set) in a string.
func Stacktrace(e error) string {
	return merry.Stacktrace(e)
}
