// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package failover implements the failover land: a composite land presenting
// the union of two child lands behind the ordinary land interface.
//
// Writes target the primary (typically a cbs.BlockSet: fast, indexed, but
// able to exhaust its metadata); when the primary reports a resource error
// the write is redirected to the secondary (typically a freelist.FreeList:
// slower, but unable to exhaust). Before most operations the secondary is
// flushed into the primary, concentrating ranges where lookups are cheap and
// coalescence is possible.
//
// In manual-allocation-bound programs using mvff, many of these functions
// are on the critical paths via Alloc (and then FindFirst/FindLast) and
// Free (and then Insert).
package failover

import (
	"fmt"
	"io"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/halter"
	"github.com/NVIDIA/freerange/land"
	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/ranges"
	"github.com/NVIDIA/freerange/stats"
)

const failoverSig = uint64(0x6661696C6F766572)

// Failover implements land.Land itself, so failovers compose
var _ land.Land = (*Failover)(nil)

// Failover owns its two child lands exclusively
type Failover struct {
	land.Base
	sig       uint64
	primary   land.Land
	secondary land.Land
}

// New creates a Failover over the supplied children. Both children are
// required and must share the Failover's alignment. Ownership of the
// children is not transferred; Finish() leaves them untouched.
func New(alignment uint64, primary land.Land, secondary land.Land) (fo *Failover, err error) {
	if (nil == primary) || (nil == secondary) {
		err = blunder.NewError(blunder.BadLandError, "both primary and secondary are required")
		return
	}
	if (primary.Alignment() != alignment) || (secondary.Alignment() != alignment) {
		err = blunder.NewError(blunder.BadLandError,
			"alignment 0x%X does not match children (primary 0x%X, secondary 0x%X)",
			alignment, primary.Alignment(), secondary.Alignment())
		return
	}

	fo = &Failover{primary: primary, secondary: secondary}
	err = fo.Base.Init(alignment)
	if nil != err {
		fo = nil
		return
	}
	fo.sig = failoverSig
	err = nil
	return
}

// Finish invalidates the Failover. The children are not touched; they belong
// to whoever created them.
func (fo *Failover) Finish() {
	fo.check()
	fo.sig = 0
}

func (fo *Failover) check() {
	if failoverSig != fo.sig {
		err := blunder.NewError(blunder.BadLandError, "operation on a finished or uninitialized Failover")
		logger.PanicfWithError(err, "failover instance check failed")
	}
}

// flush opportunistically migrates the secondary's contents into the
// primary. A flush stopped by primary exhaustion is not an error; the
// residue stays in the secondary. See the package comment.
func (fo *Failover) flush() {
	_ = land.Flush(fo.primary, fo.secondary)
	stats.IncrementOperations(&stats.FailoverFlushOps)
}

// Size returns the total bytes covered by both children
func (fo *Failover) Size() (size uint64) {
	fo.check()
	size = fo.primary.Size() + fo.secondary.Size()
	return
}

// Insert adds rng, spilling to the secondary if the primary cannot admit it
func (fo *Failover) Insert(rng ranges.Range) (insertedRng ranges.Range, err error) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	err = fo.CheckRange(rng)
	if nil != err {
		return
	}

	// Provide more opportunities for coalescence.
	fo.flush()

	insertedRng, err = fo.primary.Insert(rng)
	if (nil != err) && !land.IsFail(err) {
		// Only resource errors justify spill: a semantic refusal from the
		// primary would likewise be refused by the secondary.
		logger.LandOp("failover", "insert", rng).Tracef("primary cannot admit range; spilling to secondary")
		stats.IncrementOperations(&stats.FailoverSpillOps)
		insertedRng, err = fo.secondary.Insert(rng)
	}

	stats.IncrementOperations(&stats.FailoverInsertOps)
	return
}

// InsertSteal adds rngIO, possibly clipping it in place. Only the primary is
// consulted; the caller guarantees the range came from the primary's own
// vicinity. The result is success or a FAIL outcome, never exhaustion.
func (fo *Failover) InsertSteal(rngIO *ranges.Range) (insertedRng ranges.Range, err error) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	err = fo.CheckRange(*rngIO)
	if nil != err {
		return
	}

	// Provide more opportunities for coalescence.
	fo.flush()

	insertedRng, err = fo.primary.InsertSteal(rngIO)
	if (nil != err) && !land.IsFail(err) {
		logger.PanicfWithError(err, "failover: primary.InsertSteal() reported a resource error")
	}

	stats.IncrementOperations(&stats.FailoverInsertOps)
	return
}

// Delete removes rng from whichever child holds it. When the primary locates
// rng but cannot represent the residual fragments, the whole containing
// range is deleted from the primary and the fragments are re-inserted,
// spilling to the secondary as needed.
func (fo *Failover) Delete(rng ranges.Range) (oldRng ranges.Range, err error) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	err = fo.CheckRange(rng)
	if nil != err {
		return
	}

	// Prefer efficient search in the primary.
	fo.flush()

	oldRng, err = fo.primary.Delete(rng)

	if land.IsFail(err) {
		// Range not found in primary: try secondary.
		oldRng, err = fo.secondary.Delete(rng)
		if nil == err {
			stats.IncrementOperations(&stats.FailoverDeleteOps)
		}
		return
	}

	if nil != err {
		// Range was found in primary, but couldn't be deleted. The only
		// case we expect to encounter here is the case where the primary
		// is out of memory.
		if blunder.IsNot(err, blunder.MetadataExhaustedError) {
			logger.PanicfWithError(err, "failover: primary.Delete(%v) reported an unexpected error", rng)
		}

		halter.Trigger(halter.FailoverDeleteRecoveryEntry)
		logger.LandOp("failover", "delete", rng).Tracef("primary cannot split %v; deleting whole range and re-inserting fragments", oldRng)
		stats.IncrementOperations(&stats.FailoverRecoveryOps)

		// Delete the whole of oldRng, and re-insert the fragments (which
		// might end up in the secondary).
		var dummyRng ranges.Range
		dummyRng, err = fo.primary.Delete(oldRng)
		if nil != err {
			// The child violated its own contract; surface the error.
			oldRng = ranges.Range{}
			return
		}
		if dummyRng != oldRng {
			err = blunder.NewError(blunder.BadLandError, "re-delete of %v returned %v", oldRng, dummyRng)
			logger.PanicfWithError(err, "failover: primary re-delete mismatch")
		}

		left := ranges.New(oldRng.Base, rng.Base)
		if !left.IsEmpty() {
			// Don't call fo.Insert() here: that would be re-entrant and
			// fail the land enter check.
			fo.reinsertFragment(left)
		}
		right := ranges.New(rng.Limit, oldRng.Limit)
		if !right.IsEmpty() {
			fo.reinsertFragment(right)
		}
	}

	if !oldRng.Nests(rng) {
		err = blunder.NewError(blunder.BadLandError, "containing range %v does not cover %v", oldRng, rng)
		logger.PanicfWithError(err, "failover: delete containment check failed")
	}

	stats.IncrementOperations(&stats.FailoverDeleteOps)
	err = nil
	return
}

// reinsertFragment returns a fragment of a deleted range to the primary,
// spilling to the secondary on a resource error. The fragment was free
// moments ago, so the secondary cannot refuse it.
func (fo *Failover) reinsertFragment(fragment ranges.Range) {
	_, err := fo.primary.Insert(fragment)
	if nil == err {
		return
	}
	opCtx := logger.LandOp("failover", "delete", fragment)
	// The fragment was successfully deleted from the primary above, so a
	// semantic refusal is impossible.
	if land.IsFail(err) {
		opCtx.PanicfWithError(err, "primary refused re-insert of fragment")
	}
	opCtx.Tracef("fragment spilled to secondary")
	stats.IncrementOperations(&stats.FailoverSpillOps)
	_, err = fo.secondary.Insert(fragment)
	if nil != err {
		opCtx.PanicfWithError(err, "secondary could not admit fragment")
	}
}

// DeleteSteal removes rngIO, possibly mutating it in place, from whichever
// child holds it. There is no fragment-recovery path; the result is success
// or a FAIL outcome.
func (fo *Failover) DeleteSteal(rngIO *ranges.Range) (oldRng ranges.Range, err error) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	err = fo.CheckRange(*rngIO)
	if nil != err {
		return
	}

	// Prefer efficient search in the primary.
	fo.flush()

	oldRng, err = fo.primary.DeleteSteal(rngIO)
	if land.IsFail(err) {
		// Not found in primary: try secondary.
		oldRng, err = fo.secondary.DeleteSteal(rngIO)
	}
	if (nil != err) && !land.IsFail(err) {
		logger.PanicfWithError(err, "failover: DeleteSteal() reported a resource error")
	}

	stats.IncrementOperations(&stats.FailoverDeleteOps)
	return
}

// Iterate visits every range in the primary, then every range in the
// secondary
func (fo *Failover) Iterate(visitor land.Visitor) (completed bool) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	completed = fo.primary.Iterate(visitor) && fo.secondary.Iterate(visitor)
	return
}

// IterateAndDelete visits every range in the primary, then every range in
// the secondary, deleting ranges as directed by the visitor
func (fo *Failover) IterateAndDelete(visitor land.DeleteVisitor) (completed bool) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	completed = fo.primary.IterateAndDelete(visitor) && fo.secondary.IterateAndDelete(visitor)
	return
}

// FindFirst locates the lowest-addressed range of at least size bytes.
// Because the primary is queried first, ties resolve to the primary.
func (fo *Failover) FindFirst(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	fo.flush()
	stats.IncrementOperations(&stats.FailoverFindOps)

	found, rng, oldRng = fo.primary.FindFirst(size, findDelete)
	if !found {
		found, rng, oldRng = fo.secondary.FindFirst(size, findDelete)
	}
	return
}

// FindLast locates the highest-addressed range of at least size bytes
func (fo *Failover) FindLast(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	fo.flush()
	stats.IncrementOperations(&stats.FailoverFindOps)

	found, rng, oldRng = fo.primary.FindLast(size, findDelete)
	if !found {
		found, rng, oldRng = fo.secondary.FindLast(size, findDelete)
	}
	return
}

// FindLargest locates the largest range of at least size bytes
func (fo *Failover) FindLargest(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	fo.flush()
	stats.IncrementOperations(&stats.FailoverFindOps)

	found, rng, oldRng = fo.primary.FindLargest(size, findDelete)
	if !found {
		found, rng, oldRng = fo.secondary.FindLargest(size, findDelete)
	}
	return
}

// FindInZones locates (and deletes) a subrange of at least size bytes whose
// addresses all fall in zoneSet. The secondary is consulted if the primary
// fails or finds nothing; the error reflects the child that answered last.
func (fo *Failover) FindInZones(size uint64, zoneSet land.ZoneSet, high bool) (found bool, rng ranges.Range, oldRng ranges.Range, err error) {
	fo.check()
	fo.Enter()
	defer fo.Leave()

	fo.flush()
	stats.IncrementOperations(&stats.FailoverFindOps)

	found, rng, oldRng, err = fo.primary.FindInZones(size, zoneSet, high)
	if (nil != err) || !found {
		found, rng, oldRng, err = fo.secondary.FindInZones(size, zoneSet, high)
	}
	return
}

// Describe writes a two-line record naming each child's concrete type and
// address, indented by depth + 2
func (fo *Failover) Describe(w io.Writer, depth int) (err error) {
	if failoverSig != fo.sig {
		err = blunder.NewError(blunder.BadLandError, "Describe() called on a finished or uninitialized Failover")
		return
	}
	if nil == w {
		err = blunder.NewError(blunder.BadLandError, "Describe() called with nil writer")
		return
	}

	_, err = fmt.Fprintf(w, "%*sprimary = %p (%T)\n", depth+2, "", fo.primary, fo.primary)
	if nil != err {
		return
	}
	_, err = fmt.Fprintf(w, "%*ssecondary = %p (%T)\n", depth+2, "", fo.secondary, fo.secondary)
	return
}
