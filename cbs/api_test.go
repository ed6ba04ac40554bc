// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package cbs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/NVIDIA/freerange/blunder"
	"github.com/NVIDIA/freerange/conf"
	"github.com/NVIDIA/freerange/halter"
	"github.com/NVIDIA/freerange/land"
	"github.com/NVIDIA/freerange/ranges"
	"github.com/NVIDIA/freerange/transitions"
)

var testConfMap conf.ConfMap

func testSetup(t *testing.T) {
	var err error

	testConfMap, err = conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
	})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() returned error: %v", err)
	}

	err = transitions.Up(testConfMap)
	if nil != err {
		t.Fatalf("transitions.Up() returned error: %v", err)
	}
}

func testTeardown(t *testing.T) {
	err := transitions.Down(testConfMap)
	if nil != err {
		t.Fatalf("transitions.Down() returned error: %v", err)
	}
}

func testNew(t *testing.T, alignment uint64, blockLimit uint64) (bs *BlockSet) {
	bs, err := New(alignment, blockLimit, 4)
	if nil != err {
		t.Fatalf("New() returned error: %v", err)
	}
	return
}

func testRanges(t *testing.T, bs *BlockSet) (rngs []ranges.Range) {
	rngs = make([]ranges.Range, 0)
	completed := bs.Iterate(func(rng ranges.Range) (keepGoing bool) {
		rngs = append(rngs, rng)
		return true
	})
	if !completed {
		t.Fatalf("Iterate() unexpectedly stopped early")
	}
	return
}

func TestInsertCoalesce(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 1, 0)

	insertedRng, err := bs.Insert(ranges.New(0, 10))
	if nil != err {
		t.Fatalf("Insert([0,10)) returned error: %v", err)
	}
	if insertedRng != ranges.New(0, 10) {
		t.Fatalf("Insert([0,10)) returned insertedRng == %v", insertedRng)
	}

	_, err = bs.Insert(ranges.New(20, 30))
	if nil != err {
		t.Fatalf("Insert([20,30)) returned error: %v", err)
	}
	if 2 != bs.BlockCount() {
		t.Fatalf("BlockCount() returned %v; expected 2", bs.BlockCount())
	}

	// [10,20) bridges both blocks
	insertedRng, err = bs.Insert(ranges.New(10, 20))
	if nil != err {
		t.Fatalf("Insert([10,20)) returned error: %v", err)
	}
	if insertedRng != ranges.New(0, 30) {
		t.Fatalf("bridging insert returned insertedRng == %v; expected [0x0,0x1E)", insertedRng)
	}
	if 1 != bs.BlockCount() {
		t.Fatalf("BlockCount() after bridging insert returned %v; expected 1", bs.BlockCount())
	}
	if 30 != bs.Size() {
		t.Fatalf("Size() returned %v; expected 30", bs.Size())
	}

	// coalesce left only
	insertedRng, err = bs.Insert(ranges.New(30, 40))
	if (nil != err) || (insertedRng != ranges.New(0, 40)) {
		t.Fatalf("left-coalescing insert returned (%v, %v)", insertedRng, err)
	}

	// coalesce right only
	insertedRng, err = bs.Insert(ranges.New(90, 100))
	if nil != err {
		t.Fatalf("Insert([90,100)) returned error: %v", err)
	}
	insertedRng, err = bs.Insert(ranges.New(80, 90))
	if (nil != err) || (insertedRng != ranges.New(80, 100)) {
		t.Fatalf("right-coalescing insert returned (%v, %v)", insertedRng, err)
	}

	// overlapping insert is a semantic refusal
	_, err = bs.Insert(ranges.New(5, 15))
	if !blunder.Is(err, blunder.RangeOverlapError) {
		t.Fatalf("overlapping Insert() returned: %v", err)
	}
	if !land.IsFail(err) {
		t.Fatalf("overlapping Insert() error is not a FAIL outcome")
	}
}

func TestDelete(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 1, 0)

	_, err := bs.Insert(ranges.New(0, 100))
	if nil != err {
		t.Fatalf("Insert([0,100)) returned error: %v", err)
	}

	// interior delete splits the block
	oldRng, err := bs.Delete(ranges.New(40, 60))
	if nil != err {
		t.Fatalf("Delete([40,60)) returned error: %v", err)
	}
	if oldRng != ranges.New(0, 100) {
		t.Fatalf("Delete([40,60)) returned oldRng == %v", oldRng)
	}
	if 2 != bs.BlockCount() {
		t.Fatalf("BlockCount() after splitting delete returned %v", bs.BlockCount())
	}
	if 80 != bs.Size() {
		t.Fatalf("Size() after splitting delete returned %v", bs.Size())
	}

	// delete an entire block
	oldRng, err = bs.Delete(ranges.New(0, 40))
	if (nil != err) || (oldRng != ranges.New(0, 40)) {
		t.Fatalf("Delete([0,40)) returned (%v, %v)", oldRng, err)
	}
	if 1 != bs.BlockCount() {
		t.Fatalf("BlockCount() returned %v; expected 1", bs.BlockCount())
	}

	// shrink from the high end
	oldRng, err = bs.Delete(ranges.New(90, 100))
	if (nil != err) || (oldRng != ranges.New(60, 100)) {
		t.Fatalf("Delete([90,100)) returned (%v, %v)", oldRng, err)
	}

	// shrink from the low end
	oldRng, err = bs.Delete(ranges.New(60, 70))
	if (nil != err) || (oldRng != ranges.New(60, 90)) {
		t.Fatalf("Delete([60,70)) returned (%v, %v)", oldRng, err)
	}

	rngs := testRanges(t, bs)
	if (1 != len(rngs)) || (rngs[0] != ranges.New(70, 90)) {
		t.Fatalf("remaining ranges == %v; expected [[0x46,0x5A)]", rngs)
	}

	// a range nowhere in the set is a semantic refusal
	_, err = bs.Delete(ranges.New(200, 210))
	if !blunder.Is(err, blunder.RangeNotFoundError) {
		t.Fatalf("Delete() of an absent range returned: %v", err)
	}

	// a range straddling a block boundary is likewise not covered
	_, err = bs.Delete(ranges.New(65, 95))
	if !blunder.Is(err, blunder.RangeNotFoundError) {
		t.Fatalf("Delete() of a straddling range returned: %v", err)
	}
}

func TestBlockLimit(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 1, 2)

	_, err := bs.Insert(ranges.New(0, 10))
	if nil != err {
		t.Fatalf("Insert([0,10)) returned error: %v", err)
	}
	_, err = bs.Insert(ranges.New(20, 30))
	if nil != err {
		t.Fatalf("Insert([20,30)) returned error: %v", err)
	}

	// a third descriptor is not available
	_, err = bs.Insert(ranges.New(40, 50))
	if !blunder.Is(err, blunder.MetadataExhaustedError) {
		t.Fatalf("Insert() past the block limit returned: %v", err)
	}
	if land.IsFail(err) {
		t.Fatalf("MetadataExhaustedError classified as FAIL")
	}

	// coalescing inserts need no fresh descriptor
	_, err = bs.Insert(ranges.New(10, 20))
	if nil != err {
		t.Fatalf("bridging Insert() under exhaustion returned error: %v", err)
	}
	if 1 != bs.BlockCount() {
		t.Fatalf("BlockCount() returned %v; expected 1", bs.BlockCount())
	}

	// now there is room again
	_, err = bs.Insert(ranges.New(40, 50))
	if nil != err {
		t.Fatalf("Insert([40,50)) returned error: %v", err)
	}

	// a splitting delete at the limit fails but reports the containing block
	sizeBefore := bs.Size()
	oldRng, err := bs.Delete(ranges.New(10, 20))
	if !blunder.Is(err, blunder.MetadataExhaustedError) {
		t.Fatalf("splitting Delete() at the block limit returned: %v", err)
	}
	if oldRng != ranges.New(0, 30) {
		t.Fatalf("splitting Delete() at the block limit returned oldRng == %v", oldRng)
	}
	if sizeBefore != bs.Size() {
		t.Fatalf("failed Delete() modified the set (size %v -> %v)", sizeBefore, bs.Size())
	}
}

func TestHalterInjection(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 1, 0)

	halter.ArmWithInject("cbs.blockPoolAlloc", 1)

	_, err := bs.Insert(ranges.New(0, 10))
	if !blunder.Is(err, blunder.MetadataExhaustedError) {
		t.Fatalf("Insert() with injected exhaustion returned: %v", err)
	}

	halter.Disarm("cbs.blockPoolAlloc")

	_, err = bs.Insert(ranges.New(0, 10))
	if nil != err {
		t.Fatalf("Insert() after Disarm() returned error: %v", err)
	}
}

func TestFinds(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 1, 0)

	for _, rng := range []ranges.Range{
		ranges.New(0, 10),
		ranges.New(100, 130),
		ranges.New(200, 215),
	} {
		_, err := bs.Insert(rng)
		if nil != err {
			t.Fatalf("Insert(%v) returned error: %v", rng, err)
		}
	}

	found, rng, oldRng := bs.FindFirst(5, land.FindDeleteNone)
	if !found || (rng != ranges.New(0, 10)) || (oldRng != ranges.New(0, 10)) {
		t.Fatalf("FindFirst(5, NONE) returned (%v, %v, %v)", found, rng, oldRng)
	}

	found, rng, oldRng = bs.FindFirst(20, land.FindDeleteNone)
	if !found || (rng != ranges.New(100, 130)) {
		t.Fatalf("FindFirst(20, NONE) returned (%v, %v, %v)", found, rng, oldRng)
	}

	found, rng, oldRng = bs.FindLast(5, land.FindDeleteNone)
	if !found || (rng != ranges.New(200, 215)) {
		t.Fatalf("FindLast(5, NONE) returned (%v, %v, %v)", found, rng, oldRng)
	}

	found, rng, oldRng = bs.FindLargest(15, land.FindDeleteNone)
	if !found || (rng != ranges.New(100, 130)) {
		t.Fatalf("FindLargest(15, NONE) returned (%v, %v, %v)", found, rng, oldRng)
	}

	found, _, _ = bs.FindLargest(40, land.FindDeleteNone)
	if found {
		t.Fatalf("FindLargest(40, NONE) unexpectedly found a block")
	}

	// FindDeleteLow carves the low end off the found block
	found, rng, oldRng = bs.FindFirst(20, land.FindDeleteLow)
	if !found || (rng != ranges.New(100, 120)) || (oldRng != ranges.New(100, 130)) {
		t.Fatalf("FindFirst(20, LOW) returned (%v, %v, %v)", found, rng, oldRng)
	}
	rngs := testRanges(t, bs)
	if (3 != len(rngs)) || (rngs[1] != ranges.New(120, 130)) {
		t.Fatalf("ranges after FindFirst(20, LOW) == %v", rngs)
	}

	// FindDeleteHigh carves the high end off the found block
	found, rng, oldRng = bs.FindLast(5, land.FindDeleteHigh)
	if !found || (rng != ranges.New(210, 215)) || (oldRng != ranges.New(200, 215)) {
		t.Fatalf("FindLast(5, HIGH) returned (%v, %v, %v)", found, rng, oldRng)
	}

	// FindDeleteEntire removes the whole found block
	found, rng, oldRng = bs.FindFirst(5, land.FindDeleteEntire)
	if !found || (rng != ranges.New(0, 10)) || (oldRng != ranges.New(0, 10)) {
		t.Fatalf("FindFirst(5, ENTIRE) returned (%v, %v, %v)", found, rng, oldRng)
	}
	rngs = testRanges(t, bs)
	if (2 != len(rngs)) || (rngs[0] != ranges.New(120, 130)) || (rngs[1] != ranges.New(200, 210)) {
		t.Fatalf("ranges after FindFirst(5, ENTIRE) == %v", rngs)
	}

	// consuming a block entirely via FindDeleteLow drops its descriptor
	found, rng, oldRng = bs.FindFirst(10, land.FindDeleteLow)
	if !found || (rng != ranges.New(120, 130)) || (oldRng != ranges.New(120, 130)) {
		t.Fatalf("FindFirst(10, LOW) returned (%v, %v, %v)", found, rng, oldRng)
	}
	if 1 != bs.BlockCount() {
		t.Fatalf("BlockCount() returned %v; expected 1", bs.BlockCount())
	}
}

func TestInsertSteal(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 16, 1)

	_, err := bs.Insert(ranges.New(0, 16))
	if nil != err {
		t.Fatalf("Insert([0,16)) returned error: %v", err)
	}

	// the descriptor for the new block is funded by the leading grain
	rngIO := ranges.New(64, 128)
	insertedRng, err := bs.InsertSteal(&rngIO)
	if nil != err {
		t.Fatalf("InsertSteal() returned error: %v", err)
	}
	if rngIO != ranges.New(80, 128) {
		t.Fatalf("InsertSteal() left rngIO == %v; expected [0x50,0x80)", rngIO)
	}
	if insertedRng != ranges.New(80, 128) {
		t.Fatalf("InsertSteal() returned insertedRng == %v", insertedRng)
	}
	if 2 != bs.BlockCount() {
		t.Fatalf("BlockCount() returned %v; expected 2", bs.BlockCount())
	}
	if 16+48 != bs.Size() {
		t.Fatalf("Size() returned %v; expected 64", bs.Size())
	}
}

func TestDeleteSteal(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 4, 1)

	_, err := bs.Insert(ranges.New(0, 100))
	if nil != err {
		t.Fatalf("Insert([0,100)) returned error: %v", err)
	}

	// the splitting delete's descriptor is funded by the leading grain,
	// which stays behind in the left fragment
	rngIO := ranges.New(40, 60)
	oldRng, err := bs.DeleteSteal(&rngIO)
	if nil != err {
		t.Fatalf("DeleteSteal() returned error: %v", err)
	}
	if oldRng != ranges.New(0, 100) {
		t.Fatalf("DeleteSteal() returned oldRng == %v", oldRng)
	}
	if rngIO != ranges.New(44, 60) {
		t.Fatalf("DeleteSteal() left rngIO == %v; expected [0x2C,0x3C)", rngIO)
	}

	rngs := testRanges(t, bs)
	if (2 != len(rngs)) || (rngs[0] != ranges.New(0, 44)) || (rngs[1] != ranges.New(60, 100)) {
		t.Fatalf("ranges after DeleteSteal() == %v", rngs)
	}

	// absent ranges still FAIL
	rngIO = ranges.New(200, 204)
	_, err = bs.DeleteSteal(&rngIO)
	if !blunder.Is(err, blunder.RangeNotFoundError) {
		t.Fatalf("DeleteSteal() of an absent range returned: %v", err)
	}
}

func TestIterateAndDelete(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 1, 0)

	for _, rng := range []ranges.Range{
		ranges.New(0, 10),
		ranges.New(20, 30),
		ranges.New(40, 50),
	} {
		_, err := bs.Insert(rng)
		if nil != err {
			t.Fatalf("Insert(%v) returned error: %v", rng, err)
		}
	}

	// delete every block below 40
	completed := bs.IterateAndDelete(func(rng ranges.Range) (deleteRange bool, keepGoing bool) {
		return rng.Limit <= 40, true
	})
	if !completed {
		t.Fatalf("IterateAndDelete() unexpectedly stopped early")
	}

	rngs := testRanges(t, bs)
	if (1 != len(rngs)) || (rngs[0] != ranges.New(40, 50)) {
		t.Fatalf("ranges after IterateAndDelete() == %v", rngs)
	}
	if 10 != bs.Size() {
		t.Fatalf("Size() after IterateAndDelete() returned %v", bs.Size())
	}
}

func TestFindInZones(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	// zoneShift 4: 16-byte zones
	bs := testNew(t, 1, 0)

	_, err := bs.Insert(ranges.New(0, 64))
	if nil != err {
		t.Fatalf("Insert([0,64)) returned error: %v", err)
	}

	// zone 2 covers [32,48)
	found, rng, oldRng, err := bs.FindInZones(8, land.ZoneSet(1)<<2, false)
	if nil != err {
		t.Fatalf("FindInZones() returned error: %v", err)
	}
	if !found || (rng != ranges.New(32, 40)) || (oldRng != ranges.New(0, 64)) {
		t.Fatalf("FindInZones() returned (%v, %v, %v)", found, rng, oldRng)
	}

	rngs := testRanges(t, bs)
	if (2 != len(rngs)) || (rngs[0] != ranges.New(0, 32)) || (rngs[1] != ranges.New(40, 64)) {
		t.Fatalf("ranges after FindInZones() == %v", rngs)
	}

	// zone 0 spans [0,16), so it cannot hold a 24-byte run; asking for
	// more than one zone's worth finds nothing
	found, _, _, err = bs.FindInZones(24, land.ZoneSet(1), false)
	if (nil != err) || found {
		t.Fatalf("FindInZones(24, zone 0,) returned (%v, %v)", found, err)
	}
}

func TestDescribe(t *testing.T) {
	testSetup(t)
	defer testTeardown(t)

	bs := testNew(t, 1, 0)

	_, err := bs.Insert(ranges.New(0, 10))
	if nil != err {
		t.Fatalf("Insert([0,10)) returned error: %v", err)
	}

	var buf bytes.Buffer
	err = bs.Describe(&buf, 2)
	if nil != err {
		t.Fatalf("Describe() returned error: %v", err)
	}
	if !strings.Contains(buf.String(), "cbs: blocks=1") {
		t.Fatalf("Describe() output missing summary: %v", buf.String())
	}
	if !strings.Contains(buf.String(), "[0x0,0xA)") {
		t.Fatalf("Describe() output missing block line: %v", buf.String())
	}

	err = bs.Describe(nil, 0)
	if !blunder.Is(err, blunder.BadLandError) {
		t.Fatalf("Describe(nil,) returned: %v", err)
	}
}
