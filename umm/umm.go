// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

// Package umm implements a compact fixed-block heap allocator, modeled
// after the classic umm_malloc design: the heap is a contiguous array
// of equally sized blocks, singly ordered by an index-linked chain,
// with a best-fit free list threaded through the free blocks.
//
// Unlike the original, block metadata lives outside the arena and the
// free flag is an explicit field rather than a bit stolen from the
// next index. "Pointers" are byte offsets into the arena (see
// ummalloc.Ptr), which keeps all address arithmetic in checked slice
// space.
//
// The allocator is single-threaded; callers that share a Heap across
// goroutines must serialize access themselves.
package umm

import (
	ummalloc "github.com/AkilesTech/umm-malloc"
)

const NAME = "umm"

const (
	// BlockSize is the body size of one block in bytes.
	BlockSize = 16

	// MaxBlocks bounds the heap size; the on-chain index format has
	// always been 15 bits wide and we keep that bound.
	MaxBlocks = 1 << 15

	// MinBlocks is the smallest workable heap: block 0, the
	// terminator, and at least two allocatable blocks.
	MinBlocks = 4
)

// Stats contains heap usage counters, in blocks.
type Stats struct {
	Used    int // blocks currently allocated
	MaxUsed int // high-water mark
}

// Heap is a fixed-block heap arena. The zero value is not usable; use
// New. Initialization is lazy: the first allocation (or an explicit
// Init call) sets up the block chain.
type Heap struct {
	numBlocks int
	opts      Options
	stats     Stats

	links []link
	mem   []byte
}

var _ ummalloc.Allocator = (*Heap)(nil)

// New creates a heap of numBlocks blocks (numBlocks*BlockSize arena
// bytes). Two blocks are reserved for bookkeeping: block 0 anchors the
// chain and the free list, and the last block terminates the chain.
func New(numBlocks int, opts Options) (*Heap, error) {
	if numBlocks < MinBlocks || numBlocks > MaxBlocks {
		return nil, ummalloc.ErrInvalidHeapSize
	}
	return &Heap{numBlocks: numBlocks, opts: opts}, nil
}

// Ready reports whether the heap has been initialized.
func (h *Heap) Ready() bool { return h.links != nil }

// Init (re)initializes the heap as one single free region. Any
// previous allocations are lost.
func (h *Heap) Init() {
	h.mem = make([]byte, h.numBlocks*BlockSize)
	h.links = make([]link, h.numBlocks)
	h.stats = Stats{}

	last := h.numBlocks - 1

	// Block 0 anchors both the chain and the free list.
	h.setnblock(0, 1)
	h.setnfree(0, 1)
	h.setpfree(0, 1)

	// Block 1 is the whole heap as one free region, ending at the
	// terminator.
	h.setnblock(1, last)
	h.setpblock(1, 0)
	h.setnfree(1, 0)
	h.setpfree(1, 0)
	h.setFree(1, true)

	// The terminator is a used block with no successor.
	h.setnblock(last, 0)
	h.setpblock(last, 1)
}

// Mem returns the heap arena, or nil before initialization.
func (h *Heap) Mem() []byte { return h.mem }

// BlockSize returns the fixed block body size.
func (h *Heap) BlockSize() int { return BlockSize }

// NumBlocks returns the total block count, reserved blocks included.
func (h *Heap) NumBlocks() int { return h.numBlocks }

// Next returns the chain successor of a block (0 for the terminator).
func (h *Heap) Next(block int) int { return h.nblock(block) }

// IsFree reports whether a block is on the free list.
func (h *Heap) IsFree(block int) bool { return h.isFree(block) }

// Usage returns the current usage counters.
func (h *Heap) Usage() Stats { return h.stats }

// Available returns the number of free blocks.
func (h *Heap) Available() int {
	if !h.Ready() {
		return h.numBlocks - 2
	}
	return h.numBlocks - 2 - h.stats.Used
}

// Owns reports whether p lies inside the allocatable part of the
// arena. Behaviour is undefined if p was Free()d.
func (h *Heap) Owns(p ummalloc.Ptr) bool {
	return int(p) >= BlockSize && int(p) < (h.numBlocks-1)*BlockSize
}

func (h *Heap) addUsed(blocks int) {
	h.stats.Used += blocks
	if h.stats.MaxUsed < h.stats.Used {
		h.stats.MaxUsed = h.stats.Used
	}
}

func (h *Heap) subUsed(blocks int) {
	h.stats.Used -= blocks
}

// blocksFor returns the number of blocks needed for a size byte
// allocation.
func blocksFor(size int) int {
	return (size + BlockSize - 1) / BlockSize
}

// blockOf returns the block owning arena offset p. Note the use of
// truncated division: any offset inside a block attributes to it.
func blockOf(p ummalloc.Ptr) int {
	return int(p) / BlockSize
}

// Malloc allocates size bytes and returns the arena offset of the
// first usable byte. It returns NullPtr when size is 0 or when no
// free region is big enough (best-fit search).
func (h *Heap) Malloc(size int) ummalloc.Ptr {
	if !h.Ready() {
		h.Init()
	}
	if size <= 0 {
		return ummalloc.NullPtr
	}
	blocks := blocksFor(size)

	best := 0
	bestSize := MaxBlocks + 1
	for cf := h.nfree(0); cf != 0; cf = h.nfree(cf) {
		sz := h.span(cf)
		if sz >= blocks && sz < bestSize {
			best = cf
			bestSize = sz
		}
	}
	if best == 0 {
		// too fragmented or out of memory
		return ummalloc.NullPtr
	}
	if h.Debug() {
		h.debugBlock(best)
	}

	if bestSize == blocks {
		// exact fit, no split needed
		h.disconnectFromFreeList(best)
	} else {
		// Split off what we need; the free list entry effectively
		// moves from best to best+blocks, so relink the neighbors.
		h.splitBlock(best, blocks, true)

		h.setnfree(h.pfree(best), best+blocks)
		h.setpfree(best+blocks, h.pfree(best))
		h.setpfree(h.nfree(best), best+blocks)
		h.setnfree(best+blocks, h.nfree(best))
		h.setFree(best, false)
	}

	h.addUsed(blocks)
	return ummalloc.Ptr(best * BlockSize)
}

// Free releases a previous allocation, coalescing with free neighbor
// blocks. Free(NullPtr) is a logged no-op; freeing a pointer outside
// the heap or an already free block is a bug and panics.
func (h *Heap) Free(p ummalloc.Ptr) {
	if !h.Ready() {
		h.Init()
	}
	if p == ummalloc.NullPtr {
		WARN("free(0) called\n")
		return
	}
	if !h.Owns(p) {
		h.dumpStatus()
		PANIC("BUG: Free called with pointer 0x%x out of heap range 0x%x-0x%x\n",
			int(p), BlockSize, (h.numBlocks-1)*BlockSize)
		return
	}
	c := blockOf(p)
	if h.isFree(c) {
		h.dumpStatus()
		PANIC("BUG: attempt to free already freed pointer 0x%x (block %d)\n",
			int(p), c)
		return
	}
	if h.Debug() {
		h.debugBlock(c)
	}

	h.subUsed(h.span(c))

	h.assimilateUp(c)
	if h.isFree(h.pblock(c)) {
		c = h.assimilateDown(c)
	} else {
		h.insertFreeHead(c)
	}
}

// Realloc grows or shrinks a previous allocation.
// Realloc(NullPtr, n) is Malloc(n), Realloc(p, 0) is Free(p).
// When the block count stays the same the allocation is reused in
// place; growing first tries to assimilate an adjacent free block and
// only then falls back to allocate-copy-free. On failure (out of
// memory) it returns NullPtr and leaves the old allocation intact.
func (h *Heap) Realloc(p ummalloc.Ptr, size int) ummalloc.Ptr {
	if !h.Ready() {
		h.Init()
	}
	if p == ummalloc.NullPtr {
		return h.Malloc(size)
	}
	if size <= 0 {
		h.Free(p)
		return ummalloc.NullPtr
	}
	if !h.Owns(p) {
		h.dumpStatus()
		PANIC("BUG: Realloc called with pointer 0x%x out of heap range 0x%x-0x%x\n",
			int(p), BlockSize, (h.numBlocks-1)*BlockSize)
		return ummalloc.NullPtr
	}
	c := blockOf(p)
	if h.isFree(c) {
		h.dumpStatus()
		PANIC("BUG: attempt to realloc an already freed pointer 0x%x (block %d)\n",
			int(p), c)
		return ummalloc.NullPtr
	}
	if h.Debug() {
		h.debugBlock(c)
	}

	cur := h.span(c)
	blocks := blocksFor(size)

	if blocks == cur {
		return p
	}

	if blocks < cur {
		// shrink: split off the tail and release it
		h.splitBlock(c, blocks, false)
		h.subUsed(cur - blocks)
		h.freeTail(c + blocks)
		return p
	}

	// grow: try assimilating the adjacent free block first
	next := h.nblock(c)
	if h.isFree(next) && h.span(next)+cur >= blocks {
		h.disconnectFromFreeList(next)
		h.setpblock(h.nblock(next), c)
		h.setnblock(c, h.nblock(next))
		h.addUsed(h.span(c) - cur)
		if h.span(c) > blocks {
			h.splitBlock(c, blocks, false)
			h.subUsed(h.span(c+blocks))
			h.freeTail(c + blocks)
		}
		return p
	}

	// no joining possible: allocate, copy, free
	np := h.Malloc(size)
	if np == ummalloc.NullPtr {
		return ummalloc.NullPtr
	}
	copy(h.mem[int(np):int(np)+cur*BlockSize], h.mem[int(p):int(p)+cur*BlockSize])
	h.Free(p)
	return np
}

// freeTail releases a used block split off by Realloc, coalescing
// upward if the following block is free.
func (h *Heap) freeTail(c int) {
	h.assimilateUp(c)
	if h.isFree(h.pblock(c)) {
		c = h.assimilateDown(c)
	} else {
		h.insertFreeHead(c)
	}
}
