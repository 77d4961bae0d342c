// Package stats tracks per-image counters of read and write operations
// per block.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package stats

import (
	"go.uber.org/atomic"
)

type (
	blockCounter struct {
		reads  atomic.Int64
		writes atomic.Int64
	}

	// ImageStats counts block-level operations for one image. The
	// counter array is sized once from the image's block count, so
	// updates are lock-free.
	ImageStats struct {
		blocks []blockCounter
	}

	// BlockStat is one snapshot row; blocks with zero activity are
	// omitted from snapshots.
	BlockStat struct {
		Block    int64 `json:"block"`
		ReadOps  int64 `json:"read_ops"`
		WriteOps int64 `json:"write_ops"`
	}
)

func NewImageStats(blockCount int64) *ImageStats {
	return &ImageStats{blocks: make([]blockCounter, blockCount)}
}

func (s *ImageStats) ReadOp(blocks []int64) {
	for _, b := range blocks {
		s.blocks[b].reads.Inc()
	}
}

func (s *ImageStats) WriteOp(blocks []int64) {
	for _, b := range blocks {
		s.blocks[b].writes.Inc()
	}
}

func (s *ImageStats) Snapshot() []BlockStat {
	list := make([]BlockStat, 0, 16)
	for i := range s.blocks {
		r, w := s.blocks[i].reads.Load(), s.blocks[i].writes.Load()
		if r == 0 && w == 0 {
			continue
		}
		list = append(list, BlockStat{Block: int64(i), ReadOps: r, WriteOps: w})
	}
	return list
}
