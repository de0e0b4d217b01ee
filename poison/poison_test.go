// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package poison

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	ummalloc "github.com/AkilesTech/umm-malloc"
	"github.com/AkilesTech/umm-malloc/umm"
)

func newAlloc(t *testing.T, blocks int) (*Allocator, *umm.Heap) {
	t.Helper()
	h, err := umm.New(blocks, umm.ODefaultOptions)
	require.NoError(t, err, "umm.New")
	return New(h), h
}

func TestOverhead(t *testing.T) {
	require.Equal(t, 0, Overhead(0))
	require.Equal(t, 10, Overhead(1))
	require.Equal(t, 10, Overhead(4096))
}

func TestMallocRoundTrip(t *testing.T) {
	a, h := newAlloc(t, 64)

	for _, size := range []int{1, 5, 10, 16, 31, 100} {
		p := a.Malloc(size)
		require.NotEqual(t, ummalloc.NullPtr, p, "size %d", size)

		mem := h.Mem()
		for i := 0; i < size; i++ {
			mem[int(p)+i] = byte(i)
		}
		require.NoError(t, a.Check(), "size %d", size)
	}
}

func TestCheckIdempotent(t *testing.T) {
	a, h := newAlloc(t, 64)

	a.Malloc(10)
	a.Malloc(40)
	a.Calloc(4, 8)

	snapshot := append([]byte(nil), h.Mem()...)
	require.NoError(t, a.Check())
	require.NoError(t, a.Check())
	require.Equal(t, snapshot, h.Mem(), "Check must not mutate the heap")
}

func TestCheckLazyInit(t *testing.T) {
	a, h := newAlloc(t, 16)
	require.False(t, h.Ready())
	require.NoError(t, a.Check())
	require.True(t, h.Ready())
}

func TestCorruptionBefore(t *testing.T) {
	a, h := newAlloc(t, 16)

	p := a.Malloc(10)
	require.NoError(t, a.Check())

	raw := int(p) - userOffset
	h.Mem()[int(p)-1] ^= 0xff // last byte of the before guard

	err := a.Check()
	require.Error(t, err)
	v, ok := err.(*Violation)
	require.True(t, ok)
	require.Equal(t, SideBefore, v.Side)
	require.Equal(t, raw/umm.BlockSize, v.Block)
	require.Equal(t, ummalloc.Ptr(raw+lenRecordSize), v.Addr)
	require.Len(t, v.Found, SizeBefore)
}

func TestCorruptionAfter(t *testing.T) {
	a, h := newAlloc(t, 16)

	const size = 10
	p := a.Malloc(size)
	raw := int(p) - userOffset
	total := size + Overhead(size)

	h.Mem()[raw+total-1] = 0 // last byte of the after guard

	err := a.Check()
	require.Error(t, err)
	v, ok := err.(*Violation)
	require.True(t, ok)
	require.Equal(t, SideAfter, v.Side)
	require.Equal(t, raw/umm.BlockSize, v.Block)
	require.Equal(t, ummalloc.Ptr(raw+total-SizeAfter), v.Addr)
}

// The documented deployment: 4 byte guards, 2 byte length record.
// Malloc(10) wraps exactly 20 bytes; corrupting user offset -2 is a
// before-side violation of the right block.
func TestEndToEnd(t *testing.T) {
	a, h := newAlloc(t, 16)

	p := a.Malloc(10)
	require.NotEqual(t, ummalloc.NullPtr, p)

	mem := h.Mem()
	raw := int(p) - userOffset
	require.Equal(t, uint16(20), binary.LittleEndian.Uint16(mem[raw:]))

	for i := 0; i < 10; i++ {
		mem[int(p)+i] = byte(0xc0 + i)
	}
	require.NoError(t, a.Check())

	mem[int(p)-2] = 0x00

	err := a.Check()
	require.Error(t, err)
	v, ok := err.(*Violation)
	require.True(t, ok)
	require.Equal(t, SideBefore, v.Side)
	require.Equal(t, raw/umm.BlockSize, v.Block)
}

func TestLengthRecordExact(t *testing.T) {
	a, h := newAlloc(t, 64)

	for _, size := range []int{1, 7, 10, 32, 100} {
		p := a.Malloc(size)
		require.NotEqual(t, ummalloc.NullPtr, p)

		raw := int(p) - userOffset
		record := binary.LittleEndian.Uint16(h.Mem()[raw:])
		require.Equal(t, uint16(size+Overhead(size)), record, "size %d", size)
	}
}

func TestZeroSize(t *testing.T) {
	a, h := newAlloc(t, 16)

	// identical to the underlying allocator's own zero-size result
	require.Equal(t, h.Malloc(0), a.Malloc(0))
	require.Equal(t, ummalloc.NullPtr, a.Malloc(0))

	a.Free(ummalloc.NullPtr) // no verification, no panic
	require.NoError(t, a.Check())
}

func TestFreeUnpoisons(t *testing.T) {
	a, h := newAlloc(t, 16)

	p := a.Malloc(10)
	a.Free(p)
	require.Equal(t, 0, h.Usage().Used)
	require.NoError(t, a.Check())
}

func TestFreeCorruptedPanics(t *testing.T) {
	a, h := newAlloc(t, 16)

	p := a.Malloc(10)
	h.Mem()[int(p)-1] = 0x5a

	require.Panics(t, func() { a.Free(p) })
}

func TestReallocCorruptedPanics(t *testing.T) {
	a, h := newAlloc(t, 16)

	const size = 10
	p := a.Malloc(size)
	raw := int(p) - userOffset
	h.Mem()[raw+size+Overhead(size)-1] = 0

	require.Panics(t, func() { a.Realloc(p, 20) })
}

func TestCallocZeroes(t *testing.T) {
	a, h := newAlloc(t, 16)

	// leave stale bytes around before allocating
	p := a.Malloc(15)
	mem := h.Mem()
	for i := 0; i < 15; i++ {
		mem[int(p)+i] = 0xff
	}
	a.Free(p)

	q := a.Calloc(3, 5)
	require.NotEqual(t, ummalloc.NullPtr, q)
	for i := 0; i < 15; i++ {
		require.Equal(t, byte(0), mem[int(q)+i], "payload byte %d", i)
	}
	require.NoError(t, a.Check())
}

func TestCallocOverflow(t *testing.T) {
	a, _ := newAlloc(t, 16)

	require.Equal(t, ummalloc.NullPtr, a.Calloc(math.MaxInt, 2))
	require.Equal(t, ummalloc.NullPtr, a.Calloc(2, math.MaxInt))
	require.Equal(t, ummalloc.NullPtr, a.Calloc(-1, 8))
	require.NoError(t, a.Check())
}

func TestCallocZeroCount(t *testing.T) {
	a, _ := newAlloc(t, 16)
	require.Equal(t, ummalloc.NullPtr, a.Calloc(0, 8))
	require.Equal(t, ummalloc.NullPtr, a.Calloc(8, 0))
}

func TestMallocLengthRecordRange(t *testing.T) {
	a, _ := newAlloc(t, 8192)

	// a wrapped total beyond the uint16 length record must be an
	// allocation failure, never a truncated record
	require.Equal(t, ummalloc.NullPtr, a.Malloc(70000))
	require.NoError(t, a.Check())

	require.Equal(t, ummalloc.NullPtr, a.Malloc(maxUserSize+1))

	// the largest describable request still round-trips
	p := a.Malloc(maxUserSize)
	require.NotEqual(t, ummalloc.NullPtr, p)
	require.NoError(t, a.Check())
}

func TestCallocLengthRecordRange(t *testing.T) {
	a, _ := newAlloc(t, 8192)

	require.Equal(t, ummalloc.NullPtr, a.Calloc(7000, 10))
	require.NoError(t, a.Check())
}

func TestNegativeSize(t *testing.T) {
	a, h := newAlloc(t, 16)

	require.Equal(t, ummalloc.NullPtr, a.Malloc(-5))
	require.NoError(t, a.Check())

	p := a.Malloc(10)
	require.NotEqual(t, ummalloc.NullPtr, p)
	require.Equal(t, ummalloc.NullPtr, a.Realloc(p, -5))

	// the old allocation is untouched and still verifies
	require.NoError(t, a.Check())
	a.Free(p)
	require.Equal(t, 0, h.Usage().Used)
}

func TestReallocPreservesPayload(t *testing.T) {
	a, h := newAlloc(t, 64)

	p := a.Malloc(10)
	mem := h.Mem()
	for i := 0; i < 10; i++ {
		mem[int(p)+i] = byte(0xd0 + i)
	}

	q := a.Realloc(p, 40)
	require.NotEqual(t, ummalloc.NullPtr, q)
	for i := 0; i < 10; i++ {
		require.Equal(t, byte(0xd0+i), mem[int(q)+i])
	}
	require.NoError(t, a.Check())

	r := a.Realloc(q, 4)
	require.NotEqual(t, ummalloc.NullPtr, r)
	for i := 0; i < 4; i++ {
		require.Equal(t, byte(0xd0+i), mem[int(r)+i])
	}
	require.NoError(t, a.Check())
}

func TestReallocNullAndZero(t *testing.T) {
	a, h := newAlloc(t, 16)

	p := a.Realloc(ummalloc.NullPtr, 10) // plain malloc, no verification
	require.NotEqual(t, ummalloc.NullPtr, p)
	require.NoError(t, a.Check())

	require.Equal(t, ummalloc.NullPtr, a.Realloc(p, 0)) // plain free
	require.Equal(t, 0, h.Usage().Used)
	require.NoError(t, a.Check())
}

func TestOutOfMemoryPropagates(t *testing.T) {
	a, _ := newAlloc(t, umm.MinBlocks)

	// 2 allocatable blocks = 32 arena bytes; 30 user bytes need 40
	require.Equal(t, ummalloc.NullPtr, a.Malloc(30))
	require.NoError(t, a.Check())
}

func TestCheckBlockOnFreeBlock(t *testing.T) {
	a, h := newAlloc(t, 16)
	h.Init()

	// block 1 is free on a fresh heap; this is a usage error, not
	// corruption
	err := a.checkBlock(1)
	require.ErrorIs(t, err, ummalloc.ErrFreeBlockCheck)
}

func TestIndependentHeaps(t *testing.T) {
	a1, h1 := newAlloc(t, 16)
	a2, _ := newAlloc(t, 16)

	p := a1.Malloc(10)
	require.NotEqual(t, ummalloc.NullPtr, a2.Malloc(10))

	h1.Mem()[int(p)-1] = 0
	require.Error(t, a1.Check())
	require.NoError(t, a2.Check())
}

func TestImplausibleLengthRecord(t *testing.T) {
	a, h := newAlloc(t, 16)

	p := a.Malloc(10)
	raw := int(p) - userOffset

	// overwrite the length record with an out-of-range value
	binary.LittleEndian.PutUint16(h.Mem()[raw:], 0xffff)

	err := a.Check()
	require.Error(t, err)
	v, ok := err.(*Violation)
	require.True(t, ok)
	require.Equal(t, SideAfter, v.Side)
	require.Equal(t, ummalloc.Ptr(raw), v.Addr)
}
