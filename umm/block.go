// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package umm

// link is the per-block bookkeeping record. Blocks form an ordered,
// index-linked chain covering the whole arena; free blocks are
// additionally threaded into a doubly linked free list (nfree/pfree),
// anchored at block 0.
//
// The free flag is the sole source of truth for free vs. used status;
// next always holds a plain block index.
type link struct {
	next, prev   uint16 // block chain
	nfree, pfree uint16 // free list, meaningful only while free is set
	free         bool
}

func (h *Heap) nblock(c int) int      { return int(h.links[c].next) }
func (h *Heap) setnblock(c, n int)    { h.links[c].next = uint16(n) }
func (h *Heap) pblock(c int) int      { return int(h.links[c].prev) }
func (h *Heap) setpblock(c, n int)    { h.links[c].prev = uint16(n) }
func (h *Heap) nfree(c int) int       { return int(h.links[c].nfree) }
func (h *Heap) setnfree(c, n int)     { h.links[c].nfree = uint16(n) }
func (h *Heap) pfree(c int) int       { return int(h.links[c].pfree) }
func (h *Heap) setpfree(c, n int)     { h.links[c].pfree = uint16(n) }
func (h *Heap) isFree(c int) bool     { return h.links[c].free }
func (h *Heap) setFree(c int, f bool) { h.links[c].free = f }

// span returns the number of blocks covered by block c.
func (h *Heap) span(c int) int { return h.nblock(c) - c }

// splitBlock splits block c into two: c, covering `blocks` blocks, and
// c+blocks, covering the rest. The new block's free flag is set to
// newFree. Free list pointers are NOT touched.
func (h *Heap) splitBlock(c, blocks int, newFree bool) {
	n := c + blocks
	h.setnblock(n, h.nblock(c))
	h.setpblock(n, c)
	h.setFree(n, newFree)

	h.setpblock(h.nblock(c), n)
	h.setnblock(c, n)
}

// disconnectFromFreeList unlinks block c from the free list and clears
// its free flag.
func (h *Heap) disconnectFromFreeList(c int) {
	h.setnfree(h.pfree(c), h.nfree(c))
	h.setpfree(h.nfree(c), h.pfree(c))
	h.setFree(c, false)
}

// insertFreeHead pushes block c onto the head of the free list and
// marks it free.
func (h *Heap) insertFreeHead(c int) {
	h.setpfree(h.nfree(0), c)
	h.setnfree(c, h.nfree(0))
	h.setpfree(c, 0)
	h.setnfree(0, c)
	h.setFree(c, true)
}

// assimilateUp merges the next block into c if it is free.
// c itself must be used.
func (h *Heap) assimilateUp(c int) {
	next := h.nblock(c)
	if !h.isFree(next) {
		return
	}
	h.disconnectFromFreeList(next)

	h.setpblock(h.nblock(next), c)
	h.setnblock(c, h.nblock(next))
}

// assimilateDown merges c into its previous block, which must be free,
// and returns the previous block's index.
func (h *Heap) assimilateDown(c int) int {
	prev := h.pblock(c)
	h.setnblock(prev, h.nblock(c))
	h.setpblock(h.nblock(c), prev)
	return prev
}
