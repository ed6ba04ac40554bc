// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package land

import (
	"testing"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/conf"
	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/ranges"
)

func testSetup(t *testing.T) {
	confMap, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
	})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() returned error: %v", err)
	}
	err = logger.Up(confMap)
	if nil != err {
		t.Fatalf("logger.Up() returned error: %v", err)
	}
}

func TestFindDeleteString(t *testing.T) {
	if "NONE" != FindDeleteNone.String() {
		t.Fatalf("FindDeleteNone.String() returned %v", FindDeleteNone.String())
	}
	if "LOW" != FindDeleteLow.String() {
		t.Fatalf("FindDeleteLow.String() returned %v", FindDeleteLow.String())
	}
	if "HIGH" != FindDeleteHigh.String() {
		t.Fatalf("FindDeleteHigh.String() returned %v", FindDeleteHigh.String())
	}
	if "ENTIRE" != FindDeleteEntire.String() {
		t.Fatalf("FindDeleteEntire.String() returned %v", FindDeleteEntire.String())
	}
}

func TestBase(t *testing.T) {
	testSetup(t)

	var base Base

	err := base.Init(24)
	if nil == err {
		t.Fatalf("Init(24) should have failed; 24 is not a power of two")
	}
	if !blunder.Is(err, blunder.BadLandError) {
		t.Fatalf("Init(24) returned wrong error kind: %v", err)
	}

	err = base.Init(8)
	if nil != err {
		t.Fatalf("Init(8) returned error: %v", err)
	}
	if 8 != base.Alignment() {
		t.Fatalf("Alignment() returned %v", base.Alignment())
	}

	err = base.CheckRange(ranges.New(0x100, 0x200))
	if nil != err {
		t.Fatalf("CheckRange() of an aligned range returned error: %v", err)
	}
	err = base.CheckRange(ranges.New(0x101, 0x200))
	if !blunder.Is(err, blunder.BadLandError) {
		t.Fatalf("CheckRange() of an unaligned range returned: %v", err)
	}
	err = base.CheckRange(ranges.New(0x100, 0x100))
	if !blunder.Is(err, blunder.BadLandError) {
		t.Fatalf("CheckRange() of an empty range returned: %v", err)
	}
	err = base.CheckRange(ranges.New(0x200, 0x100))
	if !blunder.Is(err, blunder.BadLandError) {
		t.Fatalf("CheckRange() of a malformed range returned: %v", err)
	}

	base.Enter()
	if !base.Entered() {
		t.Fatalf("Entered() returned false after Enter()")
	}
	base.Leave()
	if base.Entered() {
		t.Fatalf("Entered() returned true after Leave()")
	}

	// Re-entering a busy land must panic
	base.Enter()
	func() {
		defer func() {
			if nil == recover() {
				t.Fatalf("re-entering a busy land did not panic")
			}
		}()
		base.Enter()
	}()
	base.Leave()
}

func TestZoneSetOfRange(t *testing.T) {
	// zoneShift 12: 4KB zones
	zs := ZoneSetOfRange(12, ranges.New(0x0000, 0x1000))
	if ZoneSet(1) != zs {
		t.Fatalf("ZoneSetOfRange() of zone-0 range returned 0x%X", uint64(zs))
	}

	zs = ZoneSetOfRange(12, ranges.New(0x1000, 0x3000))
	if ZoneSet(0x6) != zs {
		t.Fatalf("ZoneSetOfRange() of zones 1-2 range returned 0x%X", uint64(zs))
	}

	// A range spanning all 64 zones touches every zone
	zs = ZoneSetOfRange(12, ranges.New(0, 64*0x1000))
	if ZoneSetFull != zs {
		t.Fatalf("ZoneSetOfRange() of a full wrap returned 0x%X", uint64(zs))
	}

	// Zone numbering wraps every 64 stripes
	zs = ZoneSetOfRange(12, ranges.New(64*0x1000, 65*0x1000))
	if ZoneSet(1) != zs {
		t.Fatalf("ZoneSetOfRange() of wrapped zone-0 range returned 0x%X", uint64(zs))
	}

	if ZoneSetEmpty != ZoneSetOfRange(12, ranges.New(0x1000, 0x1000)) {
		t.Fatalf("ZoneSetOfRange() of an empty range returned a non-empty ZoneSet")
	}
}

func TestClipToZoneSet(t *testing.T) {
	// zoneShift 12; free range covering zones 0-3
	rng := ranges.New(0x0000, 0x4000)

	// only zone 2 qualifies
	clipped, ok := ClipToZoneSet(12, rng, ZoneSet(1)<<2, 0x1000, false)
	if !ok {
		t.Fatalf("ClipToZoneSet() did not find the zone-2 stripe")
	}
	if (0x2000 != clipped.Base) || (0x3000 != clipped.Limit) {
		t.Fatalf("ClipToZoneSet() returned %v", clipped)
	}

	// zones 0-1 and zone 3 qualify; low wants the first run, high the last
	zoneSet := ZoneSet(0x3) | (ZoneSet(1) << 3)
	clipped, ok = ClipToZoneSet(12, rng, zoneSet, 0x1000, false)
	if !ok || (0x0000 != clipped.Base) || (0x2000 != clipped.Limit) {
		t.Fatalf("ClipToZoneSet(low) returned (%v, %v)", clipped, ok)
	}
	clipped, ok = ClipToZoneSet(12, rng, zoneSet, 0x1000, true)
	if !ok || (0x3000 != clipped.Base) || (0x4000 != clipped.Limit) {
		t.Fatalf("ClipToZoneSet(high) returned (%v, %v)", clipped, ok)
	}

	// a run shorter than size does not qualify
	_, ok = ClipToZoneSet(12, rng, ZoneSet(1)<<2, 0x1800, false)
	if ok {
		t.Fatalf("ClipToZoneSet() found a run shorter than the requested size")
	}

	// the full zone set returns the whole range
	clipped, ok = ClipToZoneSet(12, rng, ZoneSetFull, 0x1000, false)
	if !ok || (rng != clipped) {
		t.Fatalf("ClipToZoneSet(ZoneSetFull) returned (%v, %v)", clipped, ok)
	}

	// the empty zone set never matches
	_, ok = ClipToZoneSet(12, rng, ZoneSetEmpty, 0x1000, false)
	if ok {
		t.Fatalf("ClipToZoneSet(ZoneSetEmpty) found a range")
	}
}
