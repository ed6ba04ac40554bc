// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package land

import (
	"github.com/NVIDIA/freerange/ranges"
)

// A ZoneSet is a bitmask of the 64 address zones. The zone of an address is
// (addr >> zoneShift) & 63, so zones partition the address space into
// 1<<zoneShift byte stripes that wrap every 64 stripes.
type ZoneSet uint64

const (
	ZoneSetEmpty ZoneSet = 0
	ZoneSetFull  ZoneSet = ^ZoneSet(0)

	numZones = 64
)

// ZoneOfAddr returns the zone number addr falls in
func ZoneOfAddr(zoneShift uint8, addr uint64) (zone uint8) {
	zone = uint8((addr >> zoneShift) & (numZones - 1))
	return
}

// ZoneSetOfAddr returns the ZoneSet containing only addr's zone
func ZoneSetOfAddr(zoneShift uint8, addr uint64) (zoneSet ZoneSet) {
	zoneSet = ZoneSet(1) << ZoneOfAddr(zoneShift, addr)
	return
}

// ZoneSetOfRange returns the union of the zones rng touches
func ZoneSetOfRange(zoneShift uint8, rng ranges.Range) (zoneSet ZoneSet) {
	if rng.IsEmpty() {
		zoneSet = ZoneSetEmpty
		return
	}

	zoneSize := uint64(1) << zoneShift

	// A range spanning 64 or more stripes touches every zone
	if rng.Size() >= zoneSize*numZones {
		zoneSet = ZoneSetFull
		return
	}

	firstZone := ZoneOfAddr(zoneShift, rng.Base)
	lastZone := ZoneOfAddr(zoneShift, rng.Limit-1)

	zone := firstZone
	for {
		zoneSet |= ZoneSet(1) << zone
		if zone == lastZone {
			break
		}
		zone = (zone + 1) & (numZones - 1)
	}

	return
}

// ClipToZoneSet locates a subrange of rng of at least size bytes whose
// addresses all fall in zoneSet. With high == false the lowest such subrange
// is returned; with high == true the highest. The returned clipped range is
// the full contiguous run of qualifying addresses (>= size bytes); the caller
// carves its allocation from the appropriate end.
func ClipToZoneSet(zoneShift uint8, rng ranges.Range, zoneSet ZoneSet, size uint64, high bool) (clipped ranges.Range, ok bool) {
	if rng.IsEmpty() || (0 == size) || (rng.Size() < size) {
		ok = false
		return
	}

	if ZoneSetFull == zoneSet {
		clipped = rng
		ok = true
		return
	}
	if ZoneSetEmpty == zoneSet {
		ok = false
		return
	}

	var (
		haveRun  bool
		runStart uint64
		zoneSize = uint64(1) << zoneShift
	)

	checkRun := func(runLimit uint64) {
		if !haveRun {
			return
		}
		run := ranges.New(runStart, runLimit)
		if run.Size() >= size {
			if !ok || high {
				// lowest qualifying run wins unless high is requested,
				// in which case the last qualifying run wins
				clipped = run
				ok = true
			}
		}
		haveRun = false
	}

	pos := rng.Base
	for pos < rng.Limit {
		stripeLimit := ranges.AlignDown(pos, zoneSize) + zoneSize
		if stripeLimit > rng.Limit {
			stripeLimit = rng.Limit
		}

		inSet := 0 != (zoneSet & ZoneSetOfAddr(zoneShift, pos))
		if inSet {
			if !haveRun {
				haveRun = true
				runStart = pos
			}
		} else {
			checkRun(pos)
			if ok && !high {
				return
			}
		}

		pos = stripeLimit
	}

	checkRun(rng.Limit)

	return
}
