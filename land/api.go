// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package land defines the abstract range-set ("land") interface implemented
// by the concrete collections in packages cbs, freelist, and failover.
//
// A land is a set of disjoint non-empty address ranges, not necessarily
// coalesced. Mutating operations report their outcome through errno-valued
// errors (package blunder):
//
//   nil                            - success
//   blunder.RangeNotFoundError     - negative lookup; a logically-expected outcome
//   blunder.MetadataExhaustedError - the land could not allocate metadata to
//                                    represent the mutation
//   blunder.BadLandError           - invalid input to a land entrypoint
//
// Callers must serialize all entries into a land; lands take no locks of
// their own. A land must never be re-entered while one of its operations is
// in progress (see Base.Enter()).
package land

import (
	"io"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/ranges"
)

// FindDelete controls whether and how a Find* operation also removes (part
// of) the range it located.
type FindDelete uint8

const (
	// FindDeleteNone leaves the found range in place
	FindDeleteNone FindDelete = iota
	// FindDeleteLow deletes size bytes from the low end of the found range
	FindDeleteLow
	// FindDeleteHigh deletes size bytes from the high end of the found range
	FindDeleteHigh
	// FindDeleteEntire deletes the entire found range
	FindDeleteEntire
)

func (findDelete FindDelete) String() string {
	switch findDelete {
	case FindDeleteNone:
		return "NONE"
	case FindDeleteLow:
		return "LOW"
	case FindDeleteHigh:
		return "HIGH"
	case FindDeleteEntire:
		return "ENTIRE"
	}
	return "UNKNOWN"
}

// Visitor is called once per range by Iterate(). Returning false stops the
// iteration.
type Visitor func(rng ranges.Range) (keepGoing bool)

// DeleteVisitor is called once per range by IterateAndDelete(). Returning
// deleteRange == true removes the visited range from the land; returning
// keepGoing == false stops the iteration.
type DeleteVisitor func(rng ranges.Range) (deleteRange bool, keepGoing bool)

// Land is a set of disjoint non-empty address ranges.
type Land interface {
	// Alignment returns the alignment every range in this land conforms to
	Alignment() (alignment uint64)

	// Size returns the total bytes covered by the land
	Size() (size uint64)

	// Insert adds rng to the land. The returned insertedRng may be larger
	// than rng due to coalescence with existing neighbours.
	Insert(rng ranges.Range) (insertedRng ranges.Range, err error)

	// InsertSteal is Insert except that the land may mutate rngIO in place
	// (e.g. to clip it) to fund its own metadata
	InsertSteal(rngIO *ranges.Range) (insertedRng ranges.Range, err error)

	// Delete removes rng from the land. oldRng is the pre-existing range
	// that contained rng. When the land locates rng but cannot represent
	// the residual fragments, Delete fails with MetadataExhaustedError and
	// still returns the containing oldRng with the land unmodified.
	Delete(rng ranges.Range) (oldRng ranges.Range, err error)

	// DeleteSteal is Delete except that the land may mutate rngIO in place
	DeleteSteal(rngIO *ranges.Range) (oldRng ranges.Range, err error)

	// Iterate visits every range in the land in the land's own order
	Iterate(visitor Visitor) (completed bool)

	// IterateAndDelete visits every range, optionally deleting ranges as
	// directed by the visitor
	IterateAndDelete(visitor DeleteVisitor) (completed bool)

	// FindFirst locates the lowest-addressed range of at least size bytes
	FindFirst(size uint64, findDelete FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range)

	// FindLast locates the highest-addressed range of at least size bytes
	FindLast(size uint64, findDelete FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range)

	// FindLargest locates the largest range of at least size bytes
	FindLargest(size uint64, findDelete FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range)

	// FindInZones locates a range of at least size bytes whose addresses
	// all fall in zoneSet, preferring the low (or, with high == true, the
	// high) end of the land. The located subrange is deleted.
	FindInZones(size uint64, zoneSet ZoneSet, high bool) (found bool, rng ranges.Range, oldRng ranges.Range, err error)

	// Describe writes a diagnostic description of the land indented by depth
	Describe(w io.Writer, depth int) (err error)
}

// Base carries the state common to every land implementation: the configured
// alignment and the re-entrancy guard. Implementations embed a Base and call
// Enter()/Leave() around each of their operations.
type Base struct {
	alignment uint64
	entered   bool
}

// Init records the alignment, which must be a power of two
func (base *Base) Init(alignment uint64) (err error) {
	if !ranges.IsPowerOfTwo(alignment) {
		err = blunder.NewError(blunder.BadLandError, "alignment 0x%X is not a power of two", alignment)
		return
	}
	base.alignment = alignment
	base.entered = false
	err = nil
	return
}

// Alignment returns the configured alignment
func (base *Base) Alignment() (alignment uint64) {
	alignment = base.alignment
	return
}

// Enter marks the land as busy. Re-entering a busy land is a caller bug
// (typically an operation calling back into its own land) and halts.
func (base *Base) Enter() {
	if base.entered {
		err := blunder.NewError(blunder.BadLandError, "land re-entered while an operation is in progress")
		logger.PanicfWithError(err, "land re-entrancy check failed")
	}
	base.entered = true
}

// Leave clears the busy marker set by Enter()
func (base *Base) Leave() {
	base.entered = false
}

// Entered exposes the busy marker for tests
func (base *Base) Entered() (entered bool) {
	entered = base.entered
	return
}

// CheckRange validates that rng is well formed, non-empty, and aligned
func (base *Base) CheckRange(rng ranges.Range) (err error) {
	if !rng.Valid() {
		err = blunder.NewError(blunder.BadLandError, "malformed range %v", rng)
		return
	}
	if rng.IsEmpty() {
		err = blunder.NewError(blunder.BadLandError, "empty range %v", rng)
		return
	}
	if !rng.IsAligned(base.alignment) {
		err = blunder.NewError(blunder.BadLandError, "range %v is not aligned to 0x%X", rng, base.alignment)
		return
	}
	err = nil
	return
}

// IsFail reports whether err is a semantic refusal (the FAIL outcome): a
// negative lookup or an insert overlap. Resource errors (metadata
// exhaustion) and parameter errors are not FAIL.
func IsFail(err error) (isFail bool) {
	isFail = blunder.Is(err, blunder.RangeNotFoundError) || blunder.Is(err, blunder.RangeOverlapError)
	return
}

// Flush migrates as many ranges as possible from src into dst, stopping at
// the first range dst refuses. Returns whether src was emptied. A flush
// stopped early is not an error; the residue simply stays in src.
func Flush(dst Land, src Land) (emptied bool) {
	emptied = src.IterateAndDelete(func(rng ranges.Range) (deleteRange bool, keepGoing bool) {
		_, err := dst.Insert(rng)
		if nil != err {
			deleteRange = false
			keepGoing = false
			return
		}
		deleteRange = true
		keepGoing = true
		return
	})
	return
}
