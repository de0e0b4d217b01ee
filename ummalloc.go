// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package ummalloc defines the basic types and interfaces shared between
// the fixed-block heap allocator (package umm) and the poison layer
// built on top of it (package poison).
package ummalloc

// Ptr is a pointer into a heap arena, expressed as a byte offset from
// the start of the arena. Offset 0 falls inside the reserved block 0
// and is never handed out by an allocator, so it doubles as the null
// pointer.
type Ptr int

// NullPtr is the null arena pointer.
const NullPtr Ptr = 0

// HeapView gives read access to a heap's arena bytes and its block
// chain. Blocks are linked by index, not by address: Next(0) is the
// head of the chain and a block whose Next is 0 terminates it.
type HeapView interface {
	// Mem returns the arena. Block i's body occupies
	// Mem()[i*BlockSize() : (i+1)*BlockSize()].
	Mem() []byte

	// BlockSize returns the fixed body size of one block, in bytes.
	BlockSize() int

	// NumBlocks returns the total number of blocks in the arena,
	// including the reserved block 0 and the terminator block.
	NumBlocks() int

	// Next returns the index of the block following `block` in the
	// chain, or 0 if `block` is the last one.
	Next(block int) int

	// IsFree reports whether `block` is on the free list.
	IsFree(block int) bool
}

// Allocator is the narrow view of an underlying block allocator
// consumed by the poison layer.
type Allocator interface {
	HeapView

	// Ready reports whether the heap has been initialized.
	Ready() bool

	// Init (re)initializes the heap. Any previous allocations are lost.
	Init()

	// Malloc allocates size bytes and returns the offset of the first
	// usable byte, or NullPtr if size is 0 or no memory is available.
	Malloc(size int) Ptr

	// Realloc grows or shrinks a previous allocation. Realloc(NullPtr, n)
	// behaves like Malloc(n); Realloc(p, 0) behaves like Free(p) and
	// returns NullPtr. On failure the old allocation is left intact and
	// NullPtr is returned.
	Realloc(p Ptr, size int) Ptr

	// Free releases a previous allocation. Free(NullPtr) is a no-op.
	Free(p Ptr)
}
