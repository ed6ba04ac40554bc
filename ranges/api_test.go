// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package ranges

import (
	"testing"
)

func TestRangeBasics(t *testing.T) {
	rng := New(0x1000, 0x2000)

	if !rng.Valid() {
		t.Fatalf("New(0x1000, 0x2000).Valid() returned false")
	}
	if rng.IsEmpty() {
		t.Fatalf("New(0x1000, 0x2000).IsEmpty() returned true")
	}
	if 0x1000 != rng.Size() {
		t.Fatalf("New(0x1000, 0x2000).Size() returned 0x%X", rng.Size())
	}

	empty := New(0x1000, 0x1000)
	if !empty.IsEmpty() {
		t.Fatalf("New(0x1000, 0x1000).IsEmpty() returned false")
	}
	if 0 != empty.Size() {
		t.Fatalf("empty Range has non-zero Size()")
	}

	backwards := New(0x2000, 0x1000)
	if backwards.Valid() {
		t.Fatalf("New(0x2000, 0x1000).Valid() returned true")
	}

	if "[0x1000,0x2000)" != rng.String() {
		t.Fatalf("String() returned %v", rng.String())
	}
}

func TestRangeContains(t *testing.T) {
	rng := New(100, 200)

	if !rng.Contains(100) {
		t.Fatalf("Contains(Base) returned false")
	}
	if !rng.Contains(199) {
		t.Fatalf("Contains(Limit-1) returned false")
	}
	if rng.Contains(200) {
		t.Fatalf("Contains(Limit) returned true; interval is half-open")
	}
	if rng.Contains(99) {
		t.Fatalf("Contains(Base-1) returned true")
	}
}

func TestRangeNestsOverlapsAdjoins(t *testing.T) {
	outer := New(100, 200)

	if !outer.Nests(New(100, 200)) {
		t.Fatalf("Nests() of an identical Range returned false")
	}
	if !outer.Nests(New(140, 160)) {
		t.Fatalf("Nests() of an interior Range returned false")
	}
	if !outer.Nests(New(150, 150)) {
		t.Fatalf("Nests() of an interior empty Range returned false")
	}
	if outer.Nests(New(90, 110)) {
		t.Fatalf("Nests() of a straddling Range returned true")
	}

	if !outer.Overlaps(New(190, 210)) {
		t.Fatalf("Overlaps() of a straddling Range returned false")
	}
	if outer.Overlaps(New(200, 300)) {
		t.Fatalf("Overlaps() of an abutting Range returned true")
	}
	if !outer.Adjoins(New(200, 300)) {
		t.Fatalf("Adjoins() of an abutting Range returned false")
	}
	if outer.Adjoins(New(201, 300)) {
		t.Fatalf("Adjoins() of a disjoint Range returned true")
	}
}

func TestAlignment(t *testing.T) {
	if !New(0x1000, 0x2000).IsAligned(0x1000) {
		t.Fatalf("IsAligned(0x1000) of page-aligned Range returned false")
	}
	if New(0x1001, 0x2000).IsAligned(0x1000) {
		t.Fatalf("IsAligned(0x1000) of unaligned Range returned true")
	}

	if 0x2000 != AlignUp(0x1001, 0x1000) {
		t.Fatalf("AlignUp(0x1001, 0x1000) returned 0x%X", AlignUp(0x1001, 0x1000))
	}
	if 0x1000 != AlignUp(0x1000, 0x1000) {
		t.Fatalf("AlignUp(0x1000, 0x1000) returned 0x%X", AlignUp(0x1000, 0x1000))
	}
	if 0x1000 != AlignDown(0x1FFF, 0x1000) {
		t.Fatalf("AlignDown(0x1FFF, 0x1000) returned 0x%X", AlignDown(0x1FFF, 0x1000))
	}

	if !IsPowerOfTwo(1) || !IsPowerOfTwo(4096) {
		t.Fatalf("IsPowerOfTwo() returned false for a power of two")
	}
	if IsPowerOfTwo(0) || IsPowerOfTwo(24) {
		t.Fatalf("IsPowerOfTwo() returned true for a non power of two")
	}
}
