// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package poison

// Check walks the whole block chain and verifies the poison of every
// used block. It returns nil when every guard is intact, or the
// *Violation of the first corrupted block found. The scan is a single
// sequential pass and never mutates heap state.
//
// An uninitialized heap is initialized first, so Check is safe to call
// before the first allocation.
func (a *Allocator) Check() error {
	if !a.heap.Ready() {
		a.heap.Init()
	}

	cur := a.heap.Next(0)
	for a.heap.Next(cur) != 0 {
		if !a.heap.IsFree(cur) {
			if err := a.checkBlock(cur); err != nil {
				return err
			}
		}
		cur = a.heap.Next(cur)
	}
	return nil
}

// CheckOK is a convenience boolean form of Check.
func (a *Allocator) CheckOK() bool {
	return a.Check() == nil
}
