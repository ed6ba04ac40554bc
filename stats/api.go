// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package stats provides a simple statsd client API.
package stats

// Stat names used throughout freerange. Callers pass a pointer to the name
// so that the hot path avoids copying the string.
var (
	CbsInsertOps         = "cbs.insert.ops"
	CbsDeleteOps         = "cbs.delete.ops"
	CbsExhaustedOps      = "cbs.blockpool.exhausted.ops"
	CbsStolenGrains      = "cbs.blockpool.stolen.grains"
	FreelistInsertOps    = "freelist.insert.ops"
	FreelistDeleteOps    = "freelist.delete.ops"
	FailoverInsertOps    = "failover.insert.ops"
	FailoverSpillOps     = "failover.insert.spill.ops"
	FailoverDeleteOps    = "failover.delete.ops"
	FailoverRecoveryOps  = "failover.delete.recovery.ops"
	FailoverFindOps      = "failover.find.ops"
	FailoverFlushOps     = "failover.flush.ops"
	MvffAddSpanOps       = "mvff.addspan.ops"
	MvffAllocFailures    = "mvff.alloc.failure.ops"
	MvffPoolCreateOps    = "mvff.pool.create.ops"
	MvffPoolDestroyOps   = "mvff.pool.destroy.ops"
)

type MultipleStat int

const (
	MvffAlloc MultipleStat = iota // uses operations, op bucketed bytes, and bytes stats
	MvffFree                      // uses operations, op bucketed bytes, and bytes stats
)

// Dump returns a map of all accumulated stats since Up().
//
//   Key   is a string containing the name of the stat
//   Value is the accumulation of all increments for the stat since Up()
func Dump() (statMap map[string]uint64) {
	statMap = dump()
	return
}

// IncrementOperations sends an increment of .operations to statsd.
func IncrementOperations(statName *string) {
	// Do this in a goroutine since channel operations are suprisingly expensive due to locking underneath
	go incrementOperations(statName)
}

// IncrementOperationsBy sends an increment by <incBy> of .operations to statsd.
func IncrementOperationsBy(statName *string, incBy uint64) {
	// Do this in a goroutine since channel operations are suprisingly expensive due to locking underneath
	go incrementOperationsBy(statName, incBy)
}

// IncrementOperationsAndBucketedBytes sends an increment of .operations, .bytes, and the appropriate .operations.size-* to statsd.
func IncrementOperationsAndBucketedBytes(stat MultipleStat, bytes uint64) {
	// Do this in a goroutine since channel operations are suprisingly expensive due to locking underneath
	go incrementOperationsAndBucketedBytes(stat, bytes)
}
