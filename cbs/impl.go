// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package cbs

import (
	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/halter"
	"github.com/NVIDIA/freerange/land"
	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/ranges"
	"github.com/NVIDIA/freerange/stats"
)

// The internal funcs below assume the caller already holds the land guard and
// has validated its input range.

func (bs *BlockSet) len() (numBlocks int) {
	numBlocks, err := bs.addrTree.Len()
	if nil != err {
		logger.PanicfWithError(err, "cbs: addrTree.Len() failed")
	}
	return
}

func (bs *BlockSet) blockByIndex(index int) (block *blockStruct) {
	_, value, ok, err := bs.addrTree.GetByIndex(index)
	if nil != err {
		logger.PanicfWithError(err, "cbs: addrTree.GetByIndex(%v) failed", index)
	}
	if !ok {
		logger.PanicfWithError(nil, "cbs: addrTree.GetByIndex(%v) found no block", index)
	}
	block = value.(*blockStruct)
	return
}

func (bs *BlockSet) blockByBase(base uint64) (block *blockStruct) {
	value, ok, err := bs.addrTree.GetByKey(base)
	if nil != err {
		logger.PanicfWithError(err, "cbs: addrTree.GetByKey(0x%X) failed", base)
	}
	if !ok {
		logger.PanicfWithError(nil, "cbs: addrTree.GetByKey(0x%X) found no block", base)
	}
	block = value.(*blockStruct)
	return
}

// predecessor returns the block whose base is <= base (nil if none) along
// with whether a block starts precisely at base
func (bs *BlockSet) predecessor(base uint64) (block *blockStruct, index int, exact bool) {
	index, exact, err := bs.addrTree.BisectLeft(base)
	if nil != err {
		logger.PanicfWithError(err, "cbs: addrTree.BisectLeft(0x%X) failed", base)
	}
	if index >= 0 {
		block = bs.blockByIndex(index)
	}
	return
}

func (bs *BlockSet) addrTreePut(block *blockStruct) {
	ok, err := bs.addrTree.Put(block.rng.Base, block)
	if nil != err {
		logger.PanicfWithError(err, "cbs: addrTree.Put(0x%X,) failed", block.rng.Base)
	}
	if !ok {
		logger.PanicfWithError(nil, "cbs: addrTree.Put(0x%X,) found key already present", block.rng.Base)
	}
}

func (bs *BlockSet) addrTreeDelete(base uint64) {
	ok, err := bs.addrTree.DeleteByKey(base)
	if nil != err {
		logger.PanicfWithError(err, "cbs: addrTree.DeleteByKey(0x%X) failed", base)
	}
	if !ok {
		logger.PanicfWithError(nil, "cbs: addrTree.DeleteByKey(0x%X) found no block", base)
	}
}

// sizeTreeDelete must be called before mutating block.rng; sizeTreeInsert after
func (bs *BlockSet) sizeTreeDelete(block *blockStruct) {
	item := bs.sizeTree.Delete(sizeItemStruct{size: block.rng.Size(), base: block.rng.Base})
	if nil == item {
		logger.PanicfWithError(nil, "cbs: sizeTree missing item for block %v", block.rng)
	}
}

func (bs *BlockSet) sizeTreeInsert(block *blockStruct) {
	_ = bs.sizeTree.ReplaceOrInsert(sizeItemStruct{size: block.rng.Size(), base: block.rng.Base})
}

// removeBlock drops block entirely, returning its descriptor to the pool
func (bs *BlockSet) removeBlock(block *blockStruct) {
	bs.sizeTreeDelete(block)
	bs.addrTreeDelete(block.rng.Base)
	bs.blockCount--
	bs.totalSize -= block.rng.Size()
}

// blockPoolExhausted reports whether no fresh block descriptor is available
func (bs *BlockSet) blockPoolExhausted() (exhausted bool) {
	if halter.CheckInject(halter.CbsBlockPoolAlloc) {
		stats.IncrementOperations(&stats.CbsExhaustedOps)
		exhausted = true
		return
	}
	if (0 != bs.blockLimit) && (bs.blockCount >= bs.blockLimit+bs.blockGrants) {
		stats.IncrementOperations(&stats.CbsExhaustedOps)
		exhausted = true
		return
	}
	exhausted = false
	return
}

// stealGrain funds one block descriptor by consuming the alignment grain at
// the front of rngIO
func (bs *BlockSet) stealGrain(rngIO *ranges.Range) {
	rngIO.Base += bs.Alignment()
	bs.blockGrants++
	stats.IncrementOperations(&stats.CbsStolenGrains)
}

func (bs *BlockSet) insert(rng ranges.Range, stealIO *ranges.Range) (insertedRng ranges.Range, err error) {
	var (
		prev *blockStruct
		next *blockStruct
	)

	prev, prevIndex, exact := bs.predecessor(rng.Base)
	if exact {
		err = blunder.NewError(blunder.RangeOverlapError, "range %v overlaps block %v", rng, prev.rng)
		return
	}
	if (nil != prev) && (prev.rng.Limit > rng.Base) {
		err = blunder.NewError(blunder.RangeOverlapError, "range %v overlaps block %v", rng, prev.rng)
		return
	}
	if prevIndex+1 < bs.len() {
		next = bs.blockByIndex(prevIndex + 1)
		if next.rng.Base < rng.Limit {
			err = blunder.NewError(blunder.RangeOverlapError, "range %v overlaps block %v", rng, next.rng)
			return
		}
	}

	coalesceLeft := (nil != prev) && (prev.rng.Limit == rng.Base)
	coalesceRight := (nil != next) && (next.rng.Base == rng.Limit)

	switch {
	case coalesceLeft && coalesceRight:
		// the new range bridges prev and next; next's descriptor is freed
		bs.sizeTreeDelete(prev)
		bs.sizeTreeDelete(next)
		bs.addrTreeDelete(next.rng.Base)
		bs.blockCount--
		prev.rng.Limit = next.rng.Limit
		bs.sizeTreeInsert(prev)
		insertedRng = prev.rng
	case coalesceLeft:
		bs.sizeTreeDelete(prev)
		prev.rng.Limit = rng.Limit
		bs.sizeTreeInsert(prev)
		insertedRng = prev.rng
	case coalesceRight:
		// next's base moves down, so it must be re-keyed
		bs.sizeTreeDelete(next)
		bs.addrTreeDelete(next.rng.Base)
		next.rng.Base = rng.Base
		bs.addrTreePut(next)
		bs.sizeTreeInsert(next)
		insertedRng = next.rng
	default:
		// a fresh descriptor is needed
		if bs.blockPoolExhausted() {
			if nil == stealIO {
				logger.LandOp("cbs", "insert", rng).Tracef("block pool exhausted")
				err = blunder.NewError(blunder.MetadataExhaustedError, "block pool exhausted inserting %v", rng)
				return
			}
			bs.stealGrain(stealIO)
			rng = *stealIO
			if rng.IsEmpty() {
				// the whole insertion went to funding the descriptor
				insertedRng = rng
				err = nil
				return
			}
		}
		block := &blockStruct{rng: rng}
		bs.addrTreePut(block)
		bs.blockCount++
		bs.sizeTreeInsert(block)
		insertedRng = rng
	}

	bs.totalSize += rng.Size()
	err = nil
	return
}

func (bs *BlockSet) delete(rng ranges.Range, stealIO *ranges.Range) (oldRng ranges.Range, err error) {
	block, _, _ := bs.predecessor(rng.Base)
	if (nil == block) || !block.rng.Nests(rng) {
		err = blunder.NewError(blunder.RangeNotFoundError, "range %v is not covered by any block", rng)
		return
	}

	oldRng = block.rng

	left := ranges.New(oldRng.Base, rng.Base)
	right := ranges.New(rng.Limit, oldRng.Limit)

	// removing an interior range splits the block, which needs a fresh
	// descriptor for the right fragment
	if !left.IsEmpty() && !right.IsEmpty() && bs.blockPoolExhausted() {
		if nil == stealIO {
			logger.LandOp("cbs", "delete", rng).Tracef("block pool exhausted splitting block %v", oldRng)
			err = blunder.NewError(blunder.MetadataExhaustedError, "block pool exhausted splitting block %v for delete of %v", oldRng, rng)
			return
		}
		// the grain stays behind in the left fragment, funding the descriptor
		bs.stealGrain(stealIO)
		rng = *stealIO
		if rng.IsEmpty() {
			err = nil
			return
		}
		left = ranges.New(oldRng.Base, rng.Base)
	}

	switch {
	case left.IsEmpty() && right.IsEmpty():
		bs.sizeTreeDelete(block)
		bs.addrTreeDelete(oldRng.Base)
		bs.blockCount--
	case left.IsEmpty():
		// shrink from the low end; the base changes, so re-key
		bs.sizeTreeDelete(block)
		bs.addrTreeDelete(oldRng.Base)
		block.rng.Base = rng.Limit
		bs.addrTreePut(block)
		bs.sizeTreeInsert(block)
	case right.IsEmpty():
		// shrink from the high end in place
		bs.sizeTreeDelete(block)
		block.rng.Limit = rng.Base
		bs.sizeTreeInsert(block)
	default:
		// split
		bs.sizeTreeDelete(block)
		block.rng.Limit = rng.Base
		bs.sizeTreeInsert(block)
		newBlock := &blockStruct{rng: right}
		bs.addrTreePut(newBlock)
		bs.blockCount++
		bs.sizeTreeInsert(newBlock)
	}

	bs.totalSize -= rng.Size()
	err = nil
	return
}

// findDeleteRange applies the findDelete mode to the located block and
// returns the resulting (found, containing) range pair. Shrinking a block
// never needs a fresh descriptor.
func (bs *BlockSet) findDeleteRange(block *blockStruct, size uint64, findDelete land.FindDelete) (rng ranges.Range, oldRng ranges.Range) {
	oldRng = block.rng

	switch findDelete {
	case land.FindDeleteNone:
		rng = oldRng
	case land.FindDeleteLow:
		rng = ranges.New(oldRng.Base, oldRng.Base+size)
		if rng.Limit == oldRng.Limit {
			bs.removeBlock(block)
		} else {
			bs.sizeTreeDelete(block)
			bs.addrTreeDelete(oldRng.Base)
			block.rng.Base = rng.Limit
			bs.addrTreePut(block)
			bs.sizeTreeInsert(block)
			bs.totalSize -= size
		}
	case land.FindDeleteHigh:
		rng = ranges.New(oldRng.Limit-size, oldRng.Limit)
		if rng.Base == oldRng.Base {
			bs.removeBlock(block)
		} else {
			bs.sizeTreeDelete(block)
			block.rng.Limit = rng.Base
			bs.sizeTreeInsert(block)
			bs.totalSize -= size
		}
	case land.FindDeleteEntire:
		rng = oldRng
		bs.removeBlock(block)
	}

	return
}
