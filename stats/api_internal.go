// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package stats

// Stat names for the MultipleStat cases. Each operation accumulates a
// .ops and .bytes pair plus a bucketed .ops.size-* counter.
var (
	MvffAllocOps         = "mvff.alloc.ops"
	MvffAllocBytes       = "mvff.alloc.bytes"
	MvffAllocOps4K       = "mvff.alloc.ops.size-up-to-4KB"
	MvffAllocOps8K       = "mvff.alloc.ops.size-up-to-8KB"
	MvffAllocOps16K      = "mvff.alloc.ops.size-up-to-16KB"
	MvffAllocOps32K      = "mvff.alloc.ops.size-up-to-32KB"
	MvffAllocOps64K      = "mvff.alloc.ops.size-up-to-64KB"
	MvffAllocOpsOver64K  = "mvff.alloc.ops.size-over-64KB"
	MvffFreeOps          = "mvff.free.ops"
	MvffFreeBytes        = "mvff.free.bytes"
	MvffFreeOps4K        = "mvff.free.ops.size-up-to-4KB"
	MvffFreeOps8K        = "mvff.free.ops.size-up-to-8KB"
	MvffFreeOps16K       = "mvff.free.ops.size-up-to-16KB"
	MvffFreeOps32K       = "mvff.free.ops.size-up-to-32KB"
	MvffFreeOps64K       = "mvff.free.ops.size-up-to-64KB"
	MvffFreeOpsOver64K   = "mvff.free.ops.size-over-64KB"
)

func (ms MultipleStat) findStatStrings(numBytes uint64) (ops *string, bytes *string, bbytes *string) {
	switch ms {
	case MvffAlloc:
		// mvff alloc uses operations, op bucketed bytes, and bytes stats
		ops = &MvffAllocOps
		bytes = &MvffAllocBytes
		if numBytes <= 4096 {
			bbytes = &MvffAllocOps4K
		} else if numBytes <= 8192 {
			bbytes = &MvffAllocOps8K
		} else if numBytes <= 16384 {
			bbytes = &MvffAllocOps16K
		} else if numBytes <= 32768 {
			bbytes = &MvffAllocOps32K
		} else if numBytes <= 65536 {
			bbytes = &MvffAllocOps64K
		} else {
			bbytes = &MvffAllocOpsOver64K
		}
	case MvffFree:
		// mvff free uses operations, op bucketed bytes, and bytes stats
		ops = &MvffFreeOps
		bytes = &MvffFreeBytes
		if numBytes <= 4096 {
			bbytes = &MvffFreeOps4K
		} else if numBytes <= 8192 {
			bbytes = &MvffFreeOps8K
		} else if numBytes <= 16384 {
			bbytes = &MvffFreeOps16K
		} else if numBytes <= 32768 {
			bbytes = &MvffFreeOps32K
		} else if numBytes <= 65536 {
			bbytes = &MvffFreeOps64K
		} else {
			bbytes = &MvffFreeOpsOver64K
		}
	}
	return
}

func dump() (statMap map[string]uint64) {
	globals.Lock()
	statMap = make(map[string]uint64, len(globals.statFullMap))
	for statKey, statValue := range globals.statFullMap {
		statMap[statKey] = statValue
	}
	globals.Unlock()
	return
}

func incrementSomething(statName *string, incBy uint64) {
	if incBy == 0 {
		// No point in incrementing by zero
		return
	}

	// if stats are not enabled yet, just ignore (reduce a window while
	// stats are shutting down by saving the channel to a local variable)
	statChan := globals.statChan
	if statChan == nil {
		return
	}

	statChan <- statStruct{name: statName, increment: incBy}
}

func incrementOperations(statName *string) {
	incrementSomething(statName, 1)
}

func incrementOperationsBy(statName *string, incBy uint64) {
	incrementSomething(statName, incBy)
}

func incrementOperationsAndBucketedBytes(stat MultipleStat, bytes uint64) {
	opsStat, bytesStat, bbytesStat := stat.findStatStrings(bytes)
	incrementSomething(opsStat, 1)
	incrementSomething(bytesStat, bytes)
	incrementSomething(bbytesStat, 1)
}
