// Copyright 2026 AkilesTech. All rights reserved.
//
// Use of this source code is governed by a BSD-style license
// that can be found in the LICENSE.txt file in the root of the source
// tree.

package ummalloc

import "errors"

var (
	ErrInvalidHeapSize = errors.New("invalid heap size")
	ErrFreeBlockCheck  = errors.New("poison check on free block")
)
