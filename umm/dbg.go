// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package umm

import "github.com/intuitivelabs/slog"

// Options encodes various configuration flags for a Heap.
type Options uint32

const (
	ODebug          Options = 1 << iota // sanity-check block links on each op
	ODumpStatsShort                     // dump status in log, short version
	ODefaultOptions = ODebug
)

// Debug returns true if per-operation link checking is turned on.
func (h *Heap) Debug() bool { return h.opts&ODebug != 0 }

// debugBlock does sanity checks on a block's chain links.
// On failure it panics (corrupted bookkeeping).
func (h *Heap) debugBlock(c int) {
	next := h.nblock(c)
	if next <= c || next >= h.numBlocks {
		h.dumpStatus()
		PANIC("BUG: block %d has bad next link %d\n", c, next)
	}
	if h.pblock(next) != c {
		h.dumpStatus()
		PANIC("BUG: block %d next/prev mismatch (next=%d, next.prev=%d)\n",
			c, next, h.pblock(next))
	}
}

// dumpStatus will write current heap status information in the log
func (h *Heap) dumpStatus() {
	const lev = slog.LDBG
	const prefix = "umm_status "

	if !Log.L(lev) {
		return
	}
	Log.LLog(lev, 0, prefix, "(%p):\n", h)
	if h == nil || !h.Ready() {
		return
	}
	Log.LLog(lev, 0, prefix, "heap blocks= %d (block size %d)\n",
		h.numBlocks, BlockSize)
	Log.LLog(lev, 0, prefix, "used= %d blocks, max used= %d, free= %d\n",
		h.stats.Used, h.stats.MaxUsed, h.Available())
	if h.opts&ODumpStatsShort != 0 {
		return
	}
	Log.LLog(lev, 0, prefix, "dumping block chain:\n")
	i := 0
	for c := h.nblock(0); h.nblock(c) != 0; c = h.nblock(c) {
		state := "used"
		if h.isFree(c) {
			state = "free"
		}
		Log.LLog(lev, 0, prefix,
			"   %3d.    block=%5d offset=0x%x blocks=%d %s\n",
			i, c, c*BlockSize, h.span(c), state)
		i++
	}
	Log.LLog(lev, 0, prefix, "dumping free list:\n")
	for cf := h.nfree(0); cf != 0; cf = h.nfree(cf) {
		Log.LLog(lev, 0, prefix,
			"   block=%5d blocks=%d\n", cf, h.span(cf))
		if !h.isFree(cf) {
			BUG("umm_status: used block %d on the free list\n", cf)
		}
	}
	Log.LLog(lev, 0, prefix, "-----------------------------\n")
}
