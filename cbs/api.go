// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package cbs implements the coalescing block set: an indexed land that keeps
// its ranges maximally coalesced and answers find queries efficiently.
//
// Ranges are held twice: in an address-ordered LLRB tree (key: range base)
// for neighbour lookup and positional finds, and in a (size, base)-ordered
// B-tree for FindLargest.
//
// Each range costs one block descriptor. Descriptors come from a budgeted
// pool (the BlockLimit constructor argument; 0 means unlimited); a mutation
// that needs a fresh descriptor when the pool is exhausted fails with
// blunder.MetadataExhaustedError. The steal variants may instead fund the
// descriptor by consuming one alignment grain of the range being mutated.
package cbs

import (
	"fmt"
	"io"

	"github.com/NVIDIA/sortedmap"
	"github.com/google/btree"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/land"
	"github.com/NVIDIA/freerange/ranges"
	"github.com/NVIDIA/freerange/stats"
	"github.com/NVIDIA/freerange/utils"
)

const sizeTreeDegree = 8

type blockStruct struct {
	rng ranges.Range
}

// sizeItemStruct orders blocks by (size, base) in the size index
type sizeItemStruct struct {
	size uint64
	base uint64
}

func (sizeItem sizeItemStruct) Less(than btree.Item) bool {
	other := than.(sizeItemStruct)
	if sizeItem.size != other.size {
		return sizeItem.size < other.size
	}
	return sizeItem.base < other.base
}

// BlockSet implements land.Land
var _ land.Land = (*BlockSet)(nil)

// BlockSet is the coalescing block set land
type BlockSet struct {
	land.Base
	addrTree    sortedmap.LLRBTree // key: block base (uint64); value: *blockStruct
	sizeTree    *btree.BTree       // sizeItemStruct ordered by (size, base)
	blockLimit  uint64             // configured descriptor budget (0 = unlimited)
	blockGrants uint64             // extra descriptors funded by stolen grains
	blockCount  uint64             // descriptors in use
	totalSize   uint64             // bytes covered
	zoneShift   uint8
}

// New creates an empty BlockSet. blockLimit bounds the number of block
// descriptors (0 = unlimited); zoneShift sets the zone stripe width used by
// FindInZones().
func New(alignment uint64, blockLimit uint64, zoneShift uint8) (bs *BlockSet, err error) {
	bs = &BlockSet{
		sizeTree:   btree.New(sizeTreeDegree),
		blockLimit: blockLimit,
		zoneShift:  zoneShift,
	}
	err = bs.Base.Init(alignment)
	if nil != err {
		bs = nil
		return
	}
	bs.addrTree = sortedmap.NewLLRBTree(sortedmap.CompareUint64, bs)
	err = nil
	return
}

// DumpKey implements sortedmap.DumpCallbacks
func (bs *BlockSet) DumpKey(key sortedmap.Key) (keyAsString string, err error) {
	keyAsString = utils.Uint64ToHexStr(key.(uint64))
	err = nil
	return
}

// DumpValue implements sortedmap.DumpCallbacks
func (bs *BlockSet) DumpValue(value sortedmap.Value) (valueAsString string, err error) {
	valueAsString = value.(*blockStruct).rng.String()
	err = nil
	return
}

// Size returns the total bytes covered
func (bs *BlockSet) Size() (size uint64) {
	size = bs.totalSize
	return
}

// BlockCount returns the number of block descriptors in use
func (bs *BlockSet) BlockCount() (blockCount uint64) {
	blockCount = bs.blockCount
	return
}

// Insert adds rng, coalescing with abutting neighbours
func (bs *BlockSet) Insert(rng ranges.Range) (insertedRng ranges.Range, err error) {
	bs.Enter()
	defer bs.Leave()

	err = bs.CheckRange(rng)
	if nil != err {
		return
	}

	insertedRng, err = bs.insert(rng, nil)
	if nil == err {
		stats.IncrementOperations(&stats.CbsInsertOps)
	}
	return
}

// InsertSteal is Insert except that, under descriptor exhaustion, one
// alignment grain is clipped from the front of rngIO to fund the descriptor.
// The result is success or blunder.RangeOverlapError; never exhaustion.
func (bs *BlockSet) InsertSteal(rngIO *ranges.Range) (insertedRng ranges.Range, err error) {
	bs.Enter()
	defer bs.Leave()

	err = bs.CheckRange(*rngIO)
	if nil != err {
		return
	}

	insertedRng, err = bs.insert(*rngIO, rngIO)
	if nil == err {
		stats.IncrementOperations(&stats.CbsInsertOps)
	}
	return
}

// Delete removes rng. oldRng is the pre-existing block containing rng. When
// removing rng would split its block and the descriptor pool is exhausted,
// Delete fails with blunder.MetadataExhaustedError, still reporting oldRng,
// and leaves the set unmodified.
func (bs *BlockSet) Delete(rng ranges.Range) (oldRng ranges.Range, err error) {
	bs.Enter()
	defer bs.Leave()

	err = bs.CheckRange(rng)
	if nil != err {
		return
	}

	oldRng, err = bs.delete(rng, nil)
	if nil == err {
		stats.IncrementOperations(&stats.CbsDeleteOps)
	}
	return
}

// DeleteSteal is Delete except that, when the delete would split a block
// under descriptor exhaustion, one alignment grain is clipped from the front
// of rngIO (remaining free in its block) to fund the descriptor. The result
// is success or blunder.RangeNotFoundError; never exhaustion.
func (bs *BlockSet) DeleteSteal(rngIO *ranges.Range) (oldRng ranges.Range, err error) {
	bs.Enter()
	defer bs.Leave()

	err = bs.CheckRange(*rngIO)
	if nil != err {
		return
	}

	oldRng, err = bs.delete(*rngIO, rngIO)
	if nil == err {
		stats.IncrementOperations(&stats.CbsDeleteOps)
	}
	return
}

// Iterate visits every block in address order
func (bs *BlockSet) Iterate(visitor land.Visitor) (completed bool) {
	bs.Enter()
	defer bs.Leave()

	numBlocks := bs.len()
	for index := 0; index < numBlocks; index++ {
		block := bs.blockByIndex(index)
		if !visitor(block.rng) {
			completed = false
			return
		}
	}
	completed = true
	return
}

// IterateAndDelete visits every block in address order, deleting blocks as
// directed by the visitor
func (bs *BlockSet) IterateAndDelete(visitor land.DeleteVisitor) (completed bool) {
	bs.Enter()
	defer bs.Leave()

	index := 0
	for index < bs.len() {
		block := bs.blockByIndex(index)
		deleteRange, keepGoing := visitor(block.rng)
		if deleteRange {
			bs.removeBlock(block)
		} else {
			index++
		}
		if !keepGoing {
			completed = false
			return
		}
	}
	completed = true
	return
}

// FindFirst locates the lowest-addressed block of at least size bytes
func (bs *BlockSet) FindFirst(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	bs.Enter()
	defer bs.Leave()

	numBlocks := bs.len()
	for index := 0; index < numBlocks; index++ {
		block := bs.blockByIndex(index)
		if block.rng.Size() >= size {
			found = true
			rng, oldRng = bs.findDeleteRange(block, size, findDelete)
			return
		}
	}
	found = false
	return
}

// FindLast locates the highest-addressed block of at least size bytes
func (bs *BlockSet) FindLast(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	bs.Enter()
	defer bs.Leave()

	for index := bs.len() - 1; index >= 0; index-- {
		block := bs.blockByIndex(index)
		if block.rng.Size() >= size {
			found = true
			rng, oldRng = bs.findDeleteRange(block, size, findDelete)
			return
		}
	}
	found = false
	return
}

// FindLargest locates the largest block, provided it has at least size bytes
func (bs *BlockSet) FindLargest(size uint64, findDelete land.FindDelete) (found bool, rng ranges.Range, oldRng ranges.Range) {
	bs.Enter()
	defer bs.Leave()

	maxItem := bs.sizeTree.Max()
	if nil == maxItem {
		found = false
		return
	}
	sizeItem := maxItem.(sizeItemStruct)
	if sizeItem.size < size {
		found = false
		return
	}

	found = true
	rng, oldRng = bs.findDeleteRange(bs.blockByBase(sizeItem.base), size, findDelete)
	return
}

// FindInZones locates (and deletes) a subrange of at least size bytes whose
// addresses all fall in zoneSet
func (bs *BlockSet) FindInZones(size uint64, zoneSet land.ZoneSet, high bool) (found bool, rng ranges.Range, oldRng ranges.Range, err error) {
	bs.Enter()
	defer bs.Leave()

	if 0 == size {
		err = blunder.NewError(blunder.BadLandError, "FindInZones() called with size 0")
		return
	}

	numBlocks := bs.len()
	for walk := 0; walk < numBlocks; walk++ {
		index := walk
		if high {
			index = numBlocks - 1 - walk
		}
		block := bs.blockByIndex(index)

		run, ok := land.ClipToZoneSet(bs.zoneShift, block.rng, zoneSet, size, high)
		if !ok {
			continue
		}

		if high {
			rng = ranges.New(run.Limit-size, run.Limit)
		} else {
			rng = ranges.New(run.Base, run.Base+size)
		}

		oldRng = block.rng
		_, err = bs.delete(rng, nil)
		if nil != err {
			// Typically MetadataExhaustedError from a splitting delete
			found = false
			return
		}
		found = true
		return
	}

	found = false
	err = nil
	return
}

// Describe writes a summary of the set followed by one line per block
func (bs *BlockSet) Describe(w io.Writer, depth int) (err error) {
	if nil == w {
		err = blunder.NewError(blunder.BadLandError, "Describe() called with nil writer")
		return
	}

	_, err = fmt.Fprintf(w, "%*scbs: blocks=%v size=0x%X blockLimit=%v blockGrants=%v\n",
		depth, "", bs.blockCount, bs.totalSize, bs.blockLimit, bs.blockGrants)
	if nil != err {
		return
	}

	numBlocks := bs.len()
	for index := 0; index < numBlocks; index++ {
		block := bs.blockByIndex(index)
		_, err = fmt.Fprintf(w, "%*s%v\n", depth+2, "", block.rng)
		if nil != err {
			return
		}
	}
	return
}
