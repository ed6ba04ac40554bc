// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package freelist implements the fallback land: an address-ordered list of
// ranges that never reports metadata exhaustion.
//
// Node records are packed with cstruct into fixed-size slots of a growable
// slab, mirroring the in-band descriptor storage of an intrusive freelist
// (where each free block holds its own descriptor); recycled slots thread a
// free-slot list through the slab. Go's allocator stands in for the slab's
// growth, so admitting a range never fails — the property the failover land
// relies on when it spills.
//
// All operations are linear scans; the freelist trades speed for the
// guarantee that it can always represent one more range.
package freelist

import (
	"fmt"
	"io"

	"github.com/NVIDIA/cstruct"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/land"
	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/ranges"
	"github.com/NVIDIA/freerange/stats"
)

const nilOff = ^uint64(0)

// nodeStruct is the on-slab descriptor of one free range
type nodeStruct struct {
	Base    uint64
	Limit   uint64
	NextOff uint64
}

var nodeSize uint64

func init() {
	var (
		err  error
		node nodeStruct
	)
	nodeSize, _, err = cstruct.Examine(&node)
	if nil != err {
		panic(fmt.Errorf("freelist: cstruct.Examine(&nodeStruct{}) failed: %v", err))
	}
}

// FreeList implements land.Land
var _ land.Land = (*FreeList)(nil)

// FreeList is the fallback land
type FreeList struct {
	land.Base
	slab      []byte // node slots, nodeSize bytes each
	headOff   uint64 // first node in address order (nilOff if empty)
	freeOff   uint64 // head of the recycled slot list (nilOff if none)
	numNodes  uint64
	totalSize uint64
	zoneShift uint8
}

// New creates an empty FreeList. zoneShift sets the zone stripe width used
// by FindInZones().
func New(alignment uint64, zoneShift uint8) (fl *FreeList, err error) {
	fl = &FreeList{
		slab:      make([]byte, 0),
		headOff:   nilOff,
		freeOff:   nilOff,
		zoneShift: zoneShift,
	}
	err = fl.Base.Init(alignment)
	if nil != err {
		fl = nil
		return
	}
	err = nil
	return
}

// Size returns the total bytes covered
func (fl *FreeList) Size() (size uint64) {
	size = fl.totalSize
	return
}

// NodeCount returns the number of ranges held
func (fl *FreeList) NodeCount() (nodeCount uint64) {
	nodeCount = fl.numNodes
	return
}

// Insert adds rng, coalescing with abutting neighbours. Insert never returns
// blunder.MetadataExhaustedError.
func (fl *FreeList) Insert(rng ranges.Range) (insertedRng ranges.Range, err error) {
	fl.Enter()
	defer fl.Leave()

	err = fl.CheckRange(rng)
	if nil != err {
		return
	}

	insertedRng, err = fl.insert(rng)
	if nil == err {
		stats.IncrementOperations(&stats.FreelistInsertOps)
	}
	return
}

// InsertSteal is Insert; the freelist never needs to steal
func (fl *FreeList) InsertSteal(rngIO *ranges.Range) (insertedRng ranges.Range, err error) {
	insertedRng, err = fl.Insert(*rngIO)
	return
}

// Delete removes rng. oldRng is the pre-existing range that contained rng.
func (fl *FreeList) Delete(rng ranges.Range) (oldRng ranges.Range, err error) {
	fl.Enter()
	defer fl.Leave()

	err = fl.CheckRange(rng)
	if nil != err {
		return
	}

	oldRng, err = fl.delete(rng)
	if nil == err {
		stats.IncrementOperations(&stats.FreelistDeleteOps)
	}
	return
}

// DeleteSteal is Delete; the freelist never needs to steal
func (fl *FreeList) DeleteSteal(rngIO *ranges.Range) (oldRng ranges.Range, err error) {
	oldRng, err = fl.Delete(*rngIO)
	return
}

// Iterate visits every range in address order
func (fl *FreeList) Iterate(visitor land.Visitor) (completed bool) {
	fl.Enter()
	defer fl.Leave()

	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		if !visitor(ranges.New(node.Base, node.Limit)) {
			completed = false
			return
		}
		off = node.NextOff
	}
	completed = true
	return
}

// IterateAndDelete visits every range in address order, deleting ranges as
// directed by the visitor
func (fl *FreeList) IterateAndDelete(visitor land.DeleteVisitor) (completed bool) {
	fl.Enter()
	defer fl.Leave()

	prevOff := nilOff
	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		deleteRange, keepGoing := visitor(ranges.New(node.Base, node.Limit))
		if deleteRange {
			fl.unlink(prevOff, off, node)
			fl.totalSize -= node.Limit - node.Base
		} else {
			prevOff = off
		}
		if !keepGoing {
			completed = false
			return
		}
		off = node.NextOff
	}
	completed = true
	return
}

// FindFirst locates the lowest-addressed range of at least size bytes
func (fl *FreeList) FindFirst(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	fl.Enter()
	defer fl.Leave()

	prevOff := nilOff
	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		if node.Limit-node.Base >= size {
			found = true
			rng, oldRng = fl.findDeleteRange(prevOff, off, node, size, findDelete)
			return
		}
		prevOff = off
		off = node.NextOff
	}
	found = false
	return
}

// FindLast locates the highest-addressed range of at least size bytes
func (fl *FreeList) FindLast(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	fl.Enter()
	defer fl.Leave()

	var (
		bestPrevOff = nilOff
		bestOff     = nilOff
		bestNode    nodeStruct
	)

	prevOff := nilOff
	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		if node.Limit-node.Base >= size {
			bestPrevOff = prevOff
			bestOff = off
			bestNode = node
		}
		prevOff = off
		off = node.NextOff
	}

	if nilOff == bestOff {
		found = false
		return
	}
	found = true
	rng, oldRng = fl.findDeleteRange(bestPrevOff, bestOff, bestNode, size, findDelete)
	return
}

// FindLargest locates the largest range, provided it has at least size
// bytes. Ties resolve to the lowest-addressed candidate.
func (fl *FreeList) FindLargest(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	fl.Enter()
	defer fl.Leave()

	var (
		bestPrevOff = nilOff
		bestOff     = nilOff
		bestNode    nodeStruct
		bestSize    uint64
	)

	prevOff := nilOff
	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		nodeSpan := node.Limit - node.Base
		if (nodeSpan >= size) && (nodeSpan > bestSize) {
			bestPrevOff = prevOff
			bestOff = off
			bestNode = node
			bestSize = nodeSpan
		}
		prevOff = off
		off = node.NextOff
	}

	if nilOff == bestOff {
		found = false
		return
	}
	found = true
	rng, oldRng = fl.findDeleteRange(bestPrevOff, bestOff, bestNode, size, findDelete)
	return
}

// FindInZones locates (and deletes) a subrange of at least size bytes whose
// addresses all fall in zoneSet
func (fl *FreeList) FindInZones(size uint64, zoneSet land.ZoneSet, high bool) (found bool, rng ranges.Range, oldRng ranges.Range, err error) {
	fl.Enter()
	defer fl.Leave()

	if 0 == size {
		err = blunder.NewError(blunder.BadLandError, "FindInZones() called with size 0")
		return
	}

	var (
		bestNode nodeStruct
		bestRun  ranges.Range
		haveBest bool
	)

	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		run, ok := land.ClipToZoneSet(fl.zoneShift, ranges.New(node.Base, node.Limit), zoneSet, size, high)
		if ok {
			bestNode = node
			bestRun = run
			haveBest = true
			if !high {
				break
			}
		}
		off = node.NextOff
	}

	if !haveBest {
		found = false
		err = nil
		return
	}

	if high {
		rng = ranges.New(bestRun.Limit-size, bestRun.Limit)
	} else {
		rng = ranges.New(bestRun.Base, bestRun.Base+size)
	}
	oldRng = ranges.New(bestNode.Base, bestNode.Limit)

	_, err = fl.delete(rng)
	if nil != err {
		logger.PanicfWithError(err, "freelist: delete of just-located range %v failed", rng)
	}
	found = true
	return
}

// Describe writes a summary of the list followed by one line per range
func (fl *FreeList) Describe(w io.Writer, depth int) (err error) {
	if nil == w {
		err = blunder.NewError(blunder.BadLandError, "Describe() called with nil writer")
		return
	}

	_, err = fmt.Fprintf(w, "%*sfreelist: nodes=%v size=0x%X slabSlots=%v\n",
		depth, "", fl.numNodes, fl.totalSize, uint64(len(fl.slab))/nodeSize)
	if nil != err {
		return
	}

	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		_, err = fmt.Fprintf(w, "%*s%v\n", depth+2, "", ranges.New(node.Base, node.Limit))
		if nil != err {
			return
		}
		off = node.NextOff
	}
	return
}
