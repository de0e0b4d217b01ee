// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package poison layers heap corruption detection on top of a
// fixed-block allocator. Every nonzero allocation is wrapped as
//
//	[length record][before guard][user payload][after guard]
//
// where both guard regions hold a fixed sentinel byte and the length
// record stores the exact total size of the wrapped region. Writes
// past either edge of the payload (or into freed memory that got
// reallocated) clobber a guard and are caught the next time the block
// is verified: on free, on realloc, or during a full heap scan
// (Check).
//
// Detected corruption is fatal. The guards are the only evidence that
// the allocator's own bookkeeping has not been clobbered too, so
// returning control to the caller would be more dangerous than
// stopping: verification on the free/realloc path panics with the
// violation. Check instead returns the violation to its caller, which
// makes the scan usable from tests and watchdogs.
package poison

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	ummalloc "github.com/AkilesTech/umm-malloc"
)

const NAME = "poison"

// Build-time configuration. Fixed per deployment, not runtime-tunable.
const (
	// PoisonByte is the sentinel value guard regions must hold while
	// an allocation is live.
	PoisonByte = 0xa5

	// SizeBefore and SizeAfter are the guard region sizes in bytes.
	SizeBefore = 4
	SizeAfter  = 4

	// lenRecordSize is the width of the length record, a little-endian
	// uint16 at the start of the wrapped region.
	lenRecordSize = 2
)

// userOffset is the distance between the raw block pointer and the
// pointer handed to the user.
const userOffset = lenRecordSize + SizeBefore

// maxUserSize is the largest user request the length record can
// describe. The wrapped total is stored verbatim as a uint16; a bigger
// request must be rejected, never truncated, or the after guard would
// be located at the wrong offset.
const maxUserSize = math.MaxUint16 - (lenRecordSize + SizeBefore + SizeAfter)

// Violation describes a corrupted guard region: which side of the
// allocation, the arena address of the guard, the owning block and the
// bytes actually found there. It implements error.
type Violation struct {
	Block int          // owning block index
	Side  string       // "before" or "after"
	Addr  ummalloc.Ptr // arena offset of the violated guard region
	Found []byte       // actual guard bytes observed
}

const (
	SideBefore = "before"
	SideAfter  = "after"
)

func (v *Violation) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "no poison %s block %d at 0x%x, actual data:",
		v.Side, v.Block, int(v.Addr))
	for _, c := range v.Found {
		fmt.Fprintf(&sb, " 0x%.2x", c)
	}
	return sb.String()
}

// Allocator wraps an underlying block allocator with poisoning. It
// owns no heap memory itself; it only annotates and inspects the
// arena of the heap it was given.
type Allocator struct {
	heap ummalloc.Allocator
}

// New returns a poisoning wrapper around heap.
func New(heap ummalloc.Allocator) *Allocator {
	return &Allocator{heap: heap}
}

// Overhead returns the poisoning overhead for a user allocation of
// size bytes: 0 for a zero size, the fixed record-plus-guards size
// otherwise.
func Overhead(size int) int {
	if size == 0 {
		return 0
	}
	return lenRecordSize + SizeBefore + SizeAfter
}

// putPoison fills b with the sentinel byte.
func putPoison(b []byte) {
	for i := range b {
		b[i] = PoisonByte
	}
}

// checkPoison verifies that every byte of a guard region still holds
// the sentinel. On a mismatch it returns a Violation for the given
// side; otherwise nil.
func checkPoison(b []byte, side string, addr ummalloc.Ptr, block int) *Violation {
	for _, c := range b {
		if c != PoisonByte {
			return &Violation{
				Block: block,
				Side:  side,
				Addr:  addr,
				Found: append([]byte(nil), b...),
			}
		}
	}
	return nil
}

// checkBlock verifies the poison of one block. The block must be
// marked used; calling it for a free block is a usage error, logged
// and reported as ErrFreeBlockCheck (benign, not corruption). A
// corrupted guard is logged and returned as a *Violation.
func (a *Allocator) checkBlock(c int) error {
	if a.heap.IsFree(c) {
		BUG("checkBlock called for free block %d\n", c)
		return ummalloc.ErrFreeBlockCheck
	}
	mem := a.heap.Mem()
	raw := c * a.heap.BlockSize()

	length := int(binary.LittleEndian.Uint16(mem[raw:]))

	before := mem[raw+lenRecordSize : raw+userOffset]
	if v := checkPoison(before, SideBefore, ummalloc.Ptr(raw+lenRecordSize), c); v != nil {
		ERR("%s\n", v.Error())
		return v
	}

	if length < Overhead(1) || raw+length > len(mem) {
		// The length record itself is implausible, so the after guard
		// cannot even be located. Report it as an after-side violation
		// at the record's address.
		v := &Violation{
			Block: c,
			Side:  SideAfter,
			Addr:  ummalloc.Ptr(raw),
			Found: append([]byte(nil), mem[raw:raw+lenRecordSize]...),
		}
		ERR("%s\n", v.Error())
		return v
	}

	after := mem[raw+length-SizeAfter : raw+length]
	if v := checkPoison(after, SideAfter, ummalloc.Ptr(raw+length-SizeAfter), c); v != nil {
		ERR("%s\n", v.Error())
		return v
	}
	return nil
}

// getPoisoned takes a pointer returned by the underlying allocator,
// writes the guards and the length record, and returns the adjusted
// pointer for the user. A null pointer or a zero sizeWithPoison passes
// through unchanged (no poisoning applied).
func (a *Allocator) getPoisoned(raw ummalloc.Ptr, sizeWithPoison int) ummalloc.Ptr {
	if raw == ummalloc.NullPtr || sizeWithPoison == 0 {
		return raw
	}
	mem := a.heap.Mem()
	p := int(raw)

	putPoison(mem[p+lenRecordSize : p+userOffset])
	putPoison(mem[p+sizeWithPoison-SizeAfter : p+sizeWithPoison])

	// exact length of the wrapped region, guards included
	binary.LittleEndian.PutUint16(mem[p:], uint16(sizeWithPoison))

	return raw + userOffset
}

// getUnpoisoned takes a user pointer (as returned by getPoisoned),
// verifies the poison of its block and returns the raw block pointer.
// A corrupted guard is fatal; a free-block usage error is logged and
// the translated pointer is returned anyway.
func (a *Allocator) getUnpoisoned(p ummalloc.Ptr) ummalloc.Ptr {
	if p == ummalloc.NullPtr {
		return p
	}
	raw := p - userOffset

	// Figure out which block we're in. Note the use of truncated
	// division: any offset inside a block attributes to it.
	c := int(raw) / a.heap.BlockSize()

	if err := a.checkBlock(c); err != nil {
		var v *Violation
		if errors.As(err, &v) {
			PANIC("heap corruption: %s\n", v.Error())
		}
		// usage error on a free block: already logged, not fatal
	}
	return raw
}

// Malloc allocates size bytes with guard regions around them and
// returns the user pointer. A zero size or an out-of-memory result
// from the underlying allocator yields NullPtr with no poisoning; a
// negative size or one whose wrapped total does not fit the length
// record is an explicit allocation failure.
func (a *Allocator) Malloc(size int) ummalloc.Ptr {
	if size < 0 || size > maxUserSize {
		ERR("malloc(%d) out of length record range\n", size)
		return ummalloc.NullPtr
	}
	total := size + Overhead(size)

	raw := a.heap.Malloc(total)

	return a.getPoisoned(raw, total)
}

// Calloc allocates zeroed memory for count items of itemSize bytes
// each, with guard regions around the whole payload. A multiplication
// overflow is an explicit allocation failure, never a silent
// wraparound: the wrapped size accounting must stay exact.
func (a *Allocator) Calloc(count, itemSize int) ummalloc.Ptr {
	if count < 0 || itemSize < 0 ||
		(itemSize != 0 && count > math.MaxInt/itemSize) {
		ERR("calloc(%d, %d) overflows\n", count, itemSize)
		return ummalloc.NullPtr
	}
	size := count * itemSize
	if size > maxUserSize {
		ERR("calloc(%d, %d) out of length record range\n", count, itemSize)
		return ummalloc.NullPtr
	}
	total := size + Overhead(size)

	raw := a.heap.Malloc(total)

	if raw != ummalloc.NullPtr {
		// Zero the whole region first so the fill can never clobber
		// the guards written below.
		mem := a.heap.Mem()
		for i := int(raw); i < int(raw)+total; i++ {
			mem[i] = 0
		}
	}

	return a.getPoisoned(raw, total)
}

// Realloc verifies and unwraps a poisoned pointer, resizes the
// allocation through the underlying allocator and re-poisons the
// result. A null p skips verification (plain malloc); a zero size
// frees p and returns NullPtr. A negative size or one whose wrapped
// total does not fit the length record is rejected up front: NullPtr
// is returned and the old allocation is left intact.
func (a *Allocator) Realloc(p ummalloc.Ptr, size int) ummalloc.Ptr {
	if size < 0 || size > maxUserSize {
		ERR("realloc(%d) out of length record range\n", size)
		return ummalloc.NullPtr
	}
	raw := a.getUnpoisoned(p)

	total := size + Overhead(size)
	res := a.heap.Realloc(raw, total)

	return a.getPoisoned(res, total)
}

// Free verifies and unwraps a poisoned pointer and releases it through
// the underlying allocator. Free(NullPtr) performs no verification.
func (a *Allocator) Free(p ummalloc.Ptr) {
	a.heap.Free(a.getUnpoisoned(p))
}
