/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package meta

import (
	"sort"
	"sync"
)

// A lock per block would be unbounded for big images, so the per-block
// locks are a fixed striped table indexed by block mod LockStripes.
// Ranges lock their (deduplicated) stripes in ascending stripe order,
// which keeps any two multi-block operations deadlock-free.
const LockStripes = 1024

type lockTable struct {
	stripes [LockStripes]sync.Mutex
}

// stripesOf maps the half-open block interval [start, end) to the
// ascending list of stripe indices it covers.
func stripesOf(start, end int64) []int {
	n := end - start
	if n <= 0 {
		return nil
	}
	if n >= LockStripes {
		all := make([]int, LockStripes)
		for i := range all {
			all[i] = i
		}
		return all
	}
	seen := make(map[int]struct{}, n)
	list := make([]int, 0, n)
	for b := start; b < end; b++ {
		s := int(b % LockStripes)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		list = append(list, s)
	}
	// ascending block order does not imply ascending stripe order once
	// the range wraps the table
	sort.Ints(list)
	return list
}

// AcquireBlockRange locks the half-open block interval [start, end).
func (m *Metadata) AcquireBlockRange(start, end int64) {
	for _, s := range stripesOf(start, end) {
		m.locks.stripes[s].Lock()
	}
}

// ReleaseBlockRange unlocks the interval taken by AcquireBlockRange.
func (m *Metadata) ReleaseBlockRange(start, end int64) {
	for _, s := range stripesOf(start, end) {
		m.locks.stripes[s].Unlock()
	}
}
