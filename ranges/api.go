// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package ranges provides the half-open address interval type handled by the
// range-set ("land") packages.
//
// A Range covers the addresses [Base, Limit). A Range is empty iff
// Base == Limit. Base must never exceed Limit; the land packages validate
// ranges at their entrypoints via Valid().
package ranges

import (
	"fmt"
)

type Range struct {
	Base  uint64 // first address covered
	Limit uint64 // first address past the covered interval
}

// New returns the Range [base, limit)
func New(base uint64, limit uint64) (rng Range) {
	rng = Range{Base: base, Limit: limit}
	return
}

// Valid returns whether Base <= Limit
func (rng Range) Valid() (valid bool) {
	valid = rng.Base <= rng.Limit
	return
}

// Size returns the number of bytes covered
func (rng Range) Size() (size uint64) {
	size = rng.Limit - rng.Base
	return
}

// IsEmpty returns whether the Range covers no addresses
func (rng Range) IsEmpty() (isEmpty bool) {
	isEmpty = rng.Base == rng.Limit
	return
}

// Contains returns whether addr falls inside the Range
func (rng Range) Contains(addr uint64) (contains bool) {
	contains = (rng.Base <= addr) && (addr < rng.Limit)
	return
}

// Nests returns whether other is entirely contained within the Range
func (rng Range) Nests(other Range) (nests bool) {
	nests = (rng.Base <= other.Base) && (other.Limit <= rng.Limit)
	return
}

// Overlaps returns whether the Range and other share any address
func (rng Range) Overlaps(other Range) (overlaps bool) {
	overlaps = (rng.Base < other.Limit) && (other.Base < rng.Limit)
	return
}

// Adjoins returns whether the Range and other share a boundary or overlap,
// i.e. whether their union is a single interval
func (rng Range) Adjoins(other Range) (adjoins bool) {
	adjoins = (rng.Base <= other.Limit) && (other.Base <= rng.Limit)
	return
}

// IsAligned returns whether both ends of the Range fall on align boundaries.
// align must be a power of two.
func (rng Range) IsAligned(align uint64) (isAligned bool) {
	isAligned = (0 == (rng.Base & (align - 1))) && (0 == (rng.Limit & (align - 1)))
	return
}

func (rng Range) String() string {
	return fmt.Sprintf("[0x%X,0x%X)", rng.Base, rng.Limit)
}

// AlignUp rounds addr up to the next align boundary. align must be a power of two.
func AlignUp(addr uint64, align uint64) (alignedAddr uint64) {
	alignedAddr = (addr + align - 1) &^ (align - 1)
	return
}

// AlignDown rounds addr down to the previous align boundary. align must be a
// power of two.
func AlignDown(addr uint64, align uint64) (alignedAddr uint64) {
	alignedAddr = addr &^ (align - 1)
	return
}

// IsPowerOfTwo returns whether n is a positive power of two
func IsPowerOfTwo(n uint64) (isPowerOfTwo bool) {
	isPowerOfTwo = (0 != n) && (0 == (n & (n - 1)))
	return
}
