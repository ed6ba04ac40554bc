// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package mvff implements a manual variable-size pool allocating from
// address-ordered free ranges ("first fit").
//
// Each pool tracks its unallocated address ranges in a failover land whose
// primary is a coalescing block set and whose secondary is a freelist; that
// composition is policy here, not part of the land contract. The land layer
// takes no locks, so the pool serializes every entry with its own mutex.
//
// Pools are created from a ConfMap through package transitions
// (FreeRange.PoolList plus one [Pool:<name>] section per pool) or
// programmatically via CreatePool() + AddSpan().
package mvff

import (
	"fmt"
	"io"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/cbs"
	"github.com/NVIDIA/freerange/failover"
	"github.com/NVIDIA/freerange/freelist"
	"github.com/NVIDIA/freerange/halter"
	"github.com/NVIDIA/freerange/land"
	"github.com/NVIDIA/freerange/ranges"
	"github.com/NVIDIA/freerange/stats"
	"github.com/NVIDIA/freerange/trackedlock"
)

// Pool is a manual variable-size pool over one failover land
type Pool struct {
	poolName  string
	alignment uint64
	mutex     trackedlock.Mutex // serializes all land entries
	fo        *failover.Failover
	bs        *cbs.BlockSet
	fl        *freelist.FreeList
}

// Name returns the pool's name
func (pool *Pool) Name() (poolName string) {
	poolName = pool.poolName
	return
}

// Alignment returns the pool's allocation grain
func (pool *Pool) Alignment() (alignment uint64) {
	alignment = pool.alignment
	return
}

func (pool *Pool) checkAndRoundSize(size uint64) (roundedSize uint64, err error) {
	if 0 == size {
		err = blunder.NewError(blunder.InvalidArgError, "pool %s: allocation size must be non-zero", pool.poolName)
		return
	}
	roundedSize = ranges.AlignUp(size, pool.alignment)
	if roundedSize < size {
		err = blunder.NewError(blunder.OutOfRangeError, "pool %s: allocation size 0x%X overflows when rounded", pool.poolName, size)
		return
	}
	err = nil
	return
}

// AllocFirst returns the base of the lowest-addressed free run of size bytes
// (rounded up to the pool alignment)
func (pool *Pool) AllocFirst(size uint64) (base uint64, err error) {
	halter.Trigger(halter.MvffAllocEntry)
	defer halter.Trigger(halter.MvffAllocExit)

	size, err = pool.checkAndRoundSize(size)
	if nil != err {
		return
	}

	pool.mutex.Lock()
	found, rng, _ := pool.fo.FindFirst(size, land.FindDeleteLow)
	pool.mutex.Unlock()

	if !found {
		stats.IncrementOperations(&stats.MvffAllocFailures)
		err = blunder.NewError(blunder.NoSpaceError, "pool %s: no free run of 0x%X bytes", pool.poolName, size)
		return
	}

	stats.IncrementOperationsAndBucketedBytes(stats.MvffAlloc, size)
	base = rng.Base
	err = nil
	return
}

// AllocLast returns the base of the highest-addressed free run of size bytes
func (pool *Pool) AllocLast(size uint64) (base uint64, err error) {
	halter.Trigger(halter.MvffAllocEntry)
	defer halter.Trigger(halter.MvffAllocExit)

	size, err = pool.checkAndRoundSize(size)
	if nil != err {
		return
	}

	pool.mutex.Lock()
	found, rng, _ := pool.fo.FindLast(size, land.FindDeleteHigh)
	pool.mutex.Unlock()

	if !found {
		stats.IncrementOperations(&stats.MvffAllocFailures)
		err = blunder.NewError(blunder.NoSpaceError, "pool %s: no free run of 0x%X bytes", pool.poolName, size)
		return
	}

	stats.IncrementOperationsAndBucketedBytes(stats.MvffAlloc, size)
	base = rng.Base
	err = nil
	return
}

// AllocLargest carves size bytes from the low end of the largest free run
func (pool *Pool) AllocLargest(size uint64) (base uint64, err error) {
	halter.Trigger(halter.MvffAllocEntry)
	defer halter.Trigger(halter.MvffAllocExit)

	size, err = pool.checkAndRoundSize(size)
	if nil != err {
		return
	}

	pool.mutex.Lock()
	found, rng, _ := pool.fo.FindLargest(size, land.FindDeleteLow)
	pool.mutex.Unlock()

	if !found {
		stats.IncrementOperations(&stats.MvffAllocFailures)
		err = blunder.NewError(blunder.NoSpaceError, "pool %s: no free run of 0x%X bytes", pool.poolName, size)
		return
	}

	stats.IncrementOperationsAndBucketedBytes(stats.MvffAlloc, size)
	base = rng.Base
	err = nil
	return
}

// AllocInZones returns the base of a free run of size bytes whose addresses
// all fall in zoneSet, preferring the low (or, with high, the high) end
func (pool *Pool) AllocInZones(size uint64, zoneSet land.ZoneSet, high bool) (base uint64, err error) {
	halter.Trigger(halter.MvffAllocEntry)
	defer halter.Trigger(halter.MvffAllocExit)

	size, err = pool.checkAndRoundSize(size)
	if nil != err {
		return
	}

	pool.mutex.Lock()
	found, rng, _, err := pool.fo.FindInZones(size, zoneSet, high)
	pool.mutex.Unlock()

	if nil != err {
		return
	}
	if !found {
		stats.IncrementOperations(&stats.MvffAllocFailures)
		err = blunder.NewError(blunder.NoSpaceError, "pool %s: no free run of 0x%X bytes in zone set 0x%X", pool.poolName, size, uint64(zoneSet))
		return
	}

	stats.IncrementOperationsAndBucketedBytes(stats.MvffAlloc, size)
	base = rng.Base
	err = nil
	return
}

// Free returns [base, base+size) to the pool. Freeing addresses that are
// already free is a caller bug and is reported as an overlap.
func (pool *Pool) Free(base uint64, size uint64) (err error) {
	halter.Trigger(halter.MvffFreeEntry)
	defer halter.Trigger(halter.MvffFreeExit)

	size, err = pool.checkAndRoundSize(size)
	if nil != err {
		return
	}

	rng := ranges.New(base, base+size)

	pool.mutex.Lock()
	_, err = pool.fo.Insert(rng)
	pool.mutex.Unlock()

	if nil != err {
		return
	}

	stats.IncrementOperationsAndBucketedBytes(stats.MvffFree, size)
	err = nil
	return
}

// AddSpan donates the fresh address span [base, base+size) to the pool
func (pool *Pool) AddSpan(base uint64, size uint64) (err error) {
	if 0 == size {
		err = blunder.NewError(blunder.InvalidArgError, "pool %s: span size must be non-zero", pool.poolName)
		return
	}

	rng := ranges.New(base, base+size)
	if !rng.IsAligned(pool.alignment) {
		err = blunder.NewError(blunder.InvalidArgError, "pool %s: span %v is not aligned to 0x%X", pool.poolName, rng, pool.alignment)
		return
	}

	pool.mutex.Lock()
	_, err = pool.fo.Insert(rng)
	pool.mutex.Unlock()

	if nil != err {
		return
	}

	stats.IncrementOperations(&stats.MvffAddSpanOps)
	err = nil
	return
}

// TotalFree returns the bytes currently free in the pool
func (pool *Pool) TotalFree() (totalFree uint64) {
	pool.mutex.Lock()
	totalFree = pool.fo.Size()
	pool.mutex.Unlock()
	return
}

// FreeRanges returns a snapshot of the free ranges, low to high, primary
// before secondary
func (pool *Pool) FreeRanges() (rngs []ranges.Range) {
	rngs = make([]ranges.Range, 0)
	pool.mutex.Lock()
	_ = pool.fo.Iterate(func(rng ranges.Range) (keepGoing bool) {
		rngs = append(rngs, rng)
		return true
	})
	pool.mutex.Unlock()
	return
}

// Describe writes a diagnostic description of the pool and its lands
func (pool *Pool) Describe(w io.Writer) (err error) {
	if nil == w {
		err = blunder.NewError(blunder.InvalidArgError, "Describe() called with nil writer")
		return
	}

	pool.mutex.Lock()
	defer pool.mutex.Unlock()

	_, err = fmt.Fprintf(w, "pool %s: alignment=0x%X totalFree=0x%X\n", pool.poolName, pool.alignment, pool.fo.Size())
	if nil != err {
		return
	}
	err = pool.fo.Describe(w, 0)
	if nil != err {
		return
	}
	err = pool.bs.Describe(w, 2)
	if nil != err {
		return
	}
	err = pool.fl.Describe(w, 2)
	return
}
