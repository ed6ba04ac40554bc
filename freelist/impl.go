// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package freelist

import (
	"github.com/NVIDIA/cstruct"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/land"
	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/ranges"
)

// The internal funcs below assume the caller already holds the land guard and
// has validated its input range.

func (fl *FreeList) nodeAt(off uint64) (node nodeStruct) {
	_, err := cstruct.Unpack(fl.slab[off:off+nodeSize], &node, cstruct.LittleEndian)
	if nil != err {
		logger.PanicfWithError(err, "freelist: cstruct.Unpack() at offset 0x%X failed", off)
	}
	return
}

func (fl *FreeList) writeNode(off uint64, node nodeStruct) {
	buf, err := cstruct.Pack(&node, cstruct.LittleEndian)
	if nil != err {
		logger.PanicfWithError(err, "freelist: cstruct.Pack() at offset 0x%X failed", off)
	}
	copy(fl.slab[off:off+nodeSize], buf)
}

// allocNode returns a free slot, recycling one if available and otherwise
// growing the slab. It cannot fail.
func (fl *FreeList) allocNode() (off uint64) {
	if nilOff != fl.freeOff {
		off = fl.freeOff
		node := fl.nodeAt(off)
		fl.freeOff = node.NextOff
		return
	}
	off = uint64(len(fl.slab))
	fl.slab = append(fl.slab, make([]byte, nodeSize)...)
	return
}

func (fl *FreeList) freeNode(off uint64) {
	fl.writeNode(off, nodeStruct{Base: 0, Limit: 0, NextOff: fl.freeOff})
	fl.freeOff = off
}

// unlink removes the node at off (whose predecessor is at prevOff, nilOff if
// it is the head) from the address-ordered list and recycles its slot
func (fl *FreeList) unlink(prevOff uint64, off uint64, node nodeStruct) {
	if nilOff == prevOff {
		fl.headOff = node.NextOff
	} else {
		prevNode := fl.nodeAt(prevOff)
		prevNode.NextOff = node.NextOff
		fl.writeNode(prevOff, prevNode)
	}
	fl.freeNode(off)
	fl.numNodes--
}

func (fl *FreeList) insert(rng ranges.Range) (insertedRng ranges.Range, err error) {
	var (
		prevNode nodeStruct
		prevOff  = nilOff
	)

	off := fl.headOff
	for nilOff != off {
		node := fl.nodeAt(off)
		if node.Base >= rng.Limit {
			break
		}
		if node.Limit > rng.Base {
			err = blunder.NewError(blunder.RangeOverlapError, "range %v overlaps node %v", rng, ranges.New(node.Base, node.Limit))
			return
		}
		prevOff = off
		prevNode = node
		off = node.NextOff
	}

	coalesceLeft := (nilOff != prevOff) && (prevNode.Limit == rng.Base)

	var nextNode nodeStruct
	coalesceRight := false
	if nilOff != off {
		nextNode = fl.nodeAt(off)
		coalesceRight = nextNode.Base == rng.Limit
	}

	switch {
	case coalesceLeft && coalesceRight:
		// the new range bridges prev and next; next's slot is recycled
		prevNode.Limit = nextNode.Limit
		prevNode.NextOff = nextNode.NextOff
		fl.writeNode(prevOff, prevNode)
		fl.freeNode(off)
		fl.numNodes--
		insertedRng = ranges.New(prevNode.Base, prevNode.Limit)
	case coalesceLeft:
		prevNode.Limit = rng.Limit
		fl.writeNode(prevOff, prevNode)
		insertedRng = ranges.New(prevNode.Base, prevNode.Limit)
	case coalesceRight:
		nextNode.Base = rng.Base
		fl.writeNode(off, nextNode)
		insertedRng = ranges.New(nextNode.Base, nextNode.Limit)
	default:
		newOff := fl.allocNode()
		fl.writeNode(newOff, nodeStruct{Base: rng.Base, Limit: rng.Limit, NextOff: off})
		if nilOff == prevOff {
			fl.headOff = newOff
		} else {
			prevNode.NextOff = newOff
			fl.writeNode(prevOff, prevNode)
		}
		fl.numNodes++
		insertedRng = rng
	}

	fl.totalSize += rng.Size()
	err = nil
	return
}

func (fl *FreeList) delete(rng ranges.Range) (oldRng ranges.Range, err error) {
	var (
		node    nodeStruct
		prevOff = nilOff
	)

	off := fl.headOff
	for nilOff != off {
		node = fl.nodeAt(off)
		if node.Base > rng.Base {
			off = nilOff
			break
		}
		if (node.Base <= rng.Base) && (rng.Limit <= node.Limit) {
			break
		}
		prevOff = off
		off = node.NextOff
	}

	if nilOff == off {
		err = blunder.NewError(blunder.RangeNotFoundError, "range %v is not covered by any node", rng)
		return
	}

	oldRng = ranges.New(node.Base, node.Limit)

	left := ranges.New(oldRng.Base, rng.Base)
	right := ranges.New(rng.Limit, oldRng.Limit)

	switch {
	case left.IsEmpty() && right.IsEmpty():
		fl.unlink(prevOff, off, node)
	case left.IsEmpty():
		node.Base = rng.Limit
		fl.writeNode(off, node)
	case right.IsEmpty():
		node.Limit = rng.Base
		fl.writeNode(off, node)
	default:
		// split; the right fragment gets a fresh slot, which cannot fail
		newOff := fl.allocNode()
		fl.writeNode(newOff, nodeStruct{Base: rng.Limit, Limit: oldRng.Limit, NextOff: node.NextOff})
		node.Limit = rng.Base
		node.NextOff = newOff
		fl.writeNode(off, node)
		fl.numNodes++
	}

	fl.totalSize -= rng.Size()
	err = nil
	return
}

// findDeleteRange applies the findDelete mode to the located node and
// returns the resulting (found, containing) range pair
func (fl *FreeList) findDeleteRange(prevOff uint64, off uint64, node nodeStruct, size uint64, findDelete land.FindDelete) (rng ranges.Range, oldRng ranges.Range) {
	oldRng = ranges.New(node.Base, node.Limit)

	switch findDelete {
	case land.FindDeleteNone:
		rng = oldRng
	case land.FindDeleteLow:
		rng = ranges.New(oldRng.Base, oldRng.Base+size)
		if rng.Limit == oldRng.Limit {
			fl.unlink(prevOff, off, node)
		} else {
			node.Base = rng.Limit
			fl.writeNode(off, node)
		}
		fl.totalSize -= size
	case land.FindDeleteHigh:
		rng = ranges.New(oldRng.Limit-size, oldRng.Limit)
		if rng.Base == oldRng.Base {
			fl.unlink(prevOff, off, node)
		} else {
			node.Limit = rng.Base
			fl.writeNode(off, node)
		}
		fl.totalSize -= size
	case land.FindDeleteEntire:
		rng = oldRng
		fl.unlink(prevOff, off, node)
		fl.totalSize -= oldRng.Size()
	}

	return
}
