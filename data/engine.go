// Package data implements the per-image data engine: it splits user
// requests into block-local pieces, selects a replica per piece, fans
// reads and writes out to the locations that hold each block, and
// heals out-of-sync replicas on first write.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package data

import (
	"net/url"
	"strconv"

	"github.com/golang/glog"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/fs"
	"github.com/taocat/ukai/health"
	"github.com/taocat/ukai/meta"
	"github.com/taocat/ukai/stats"
	"github.com/taocat/ukai/transport"
)

type (
	// Piece is the portion of a user request that falls within one
	// block: (block index, offset within the block, length).
	Piece struct {
		Block int64
		Off   int64
		Size  int64
	}

	Engine struct {
		md      *meta.Metadata
		store   *fs.BlockStore
		errset  *health.ErrorStateSet
		stats   *stats.ImageStats
		rpc     transport.Caller
		isLocal func(string) bool
	}
)

func NewEngine(md *meta.Metadata, store *fs.BlockStore, errset *health.ErrorStateSet,
	st *stats.ImageStats, rpc transport.Caller) *Engine {
	return &Engine{
		md:      md,
		store:   store,
		errset:  errset,
		stats:   st,
		rpc:     rpc,
		isLocal: cmn.IsLocalAddr,
	}
}

// Pieces decomposes (offset, size) into block-local pieces. The pieces
// are contiguous, ordered by block index, and their lengths sum to size.
func Pieces(offset, size, blockSize int64) []Piece {
	cmn.Assert(offset >= 0 && size > 0 && blockSize > 0)
	var (
		start = offset / blockSize
		end   = (offset + size - 1) / blockSize
	)
	pieces := make([]Piece, 0, end-start+1)
	for b := start; b <= end; b++ {
		p := Piece{Block: b}
		if b == start {
			p.Off = offset - b*blockSize
		}
		if b == end {
			p.Size = (offset + size) - b*blockSize - p.Off
		} else {
			p.Size = blockSize - p.Off
		}
		pieces = append(pieces, p)
	}
	return pieces
}

func blocksOf(pieces []Piece) []int64 {
	blocks := make([]int64, len(pieces))
	for i, p := range pieces {
		blocks[i] = p.Block
	}
	return blocks
}

// Read returns up to size bytes at offset. Requests beyond the
// guest-visible length come back empty; requests straddling it are
// shortened, not rejected.
func (e *Engine) Read(size, offset int64) ([]byte, error) {
	if offset < 0 || size < 0 {
		return nil, cmn.NewError(cmn.ErrInvalid, "%s: read(%d, %d)", e.md.Name(), size, offset)
	}
	used := e.md.UsedSize()
	if size == 0 || offset >= used {
		return []byte{}, nil
	}
	if offset+size > used {
		size = used - offset
	}

	var (
		pieces     = Pieces(offset, size, e.md.BlockSize())
		start, end = pieces[0].Block, pieces[len(pieces)-1].Block
		data       = make([]byte, 0, size)
		changed    = false
	)
	if e.stats != nil {
		e.stats.ReadOp(blocksOf(pieces))
	}
	e.md.AcquireBlockRange(start, end+1)
	defer e.md.ReleaseBlockRange(start, end+1)

	for _, p := range pieces {
		for {
			candidate := e.findReadCandidate(p.Block)
			if candidate == "" {
				e.flushIfChanged(changed)
				return nil, cmn.NewError(cmn.ErrDataUnavailable,
					"%s: no readable replica of block %d", e.md.Name(), p.Block)
			}
			partial, err := e.getData(candidate, p.Block, p.Off, p.Size)
			if err != nil {
				glog.Errorf("%s: block %d from %s: %v", e.md.Name(), p.Block, candidate, err)
				e.demote(p.Block, candidate, err)
				changed = true
				continue
			}
			data = append(data, partial...)
			break
		}
	}
	e.flushIfChanged(changed)
	return data, nil
}

// findReadCandidate picks a location holding an IN_SYNC replica of the
// block, skipping suspended peers and preferring the local node.
func (e *Engine) findReadCandidate(blockIdx int64) string {
	candidate := ""
	for _, node := range e.md.Locations(blockIdx) {
		if e.errset.IsInFailure(node) {
			continue
		}
		if st, err := e.md.GetSyncStatus(blockIdx, node); err != nil || st != meta.InSync {
			continue
		}
		if e.isLocal(node) {
			return node
		}
		candidate = node
	}
	return candidate
}

// Write stores data at offset, fanning each piece out to every
// location of its block. Replicas that are suspended are demoted
// without being written; replicas that are out of sync are healed
// first. The image-size precondition is strict.
func (e *Engine) Write(data []byte, offset int64) (int64, error) {
	if offset < 0 || offset+int64(len(data)) > e.md.Size() {
		return 0, cmn.NewError(cmn.ErrInvalid, "%s: write of %d bytes at %d beyond size %d",
			e.md.Name(), len(data), offset, e.md.Size())
	}
	if len(data) == 0 {
		return 0, nil
	}

	var (
		pieces     = Pieces(offset, int64(len(data)), e.md.BlockSize())
		start, end = pieces[0].Block, pieces[len(pieces)-1].Block
		dataOff    = int64(0)
		changed    = false
	)
	if e.stats != nil {
		e.stats.WriteOp(blocksOf(pieces))
	}
	e.md.AcquireBlockRange(start, end+1)
	defer e.md.ReleaseBlockRange(start, end+1)

	for _, p := range pieces {
		piece := data[dataOff : dataOff+p.Size]
		for _, node := range e.md.Locations(p.Block) {
			if e.errset.IsInFailure(node) {
				if st, err := e.md.GetSyncStatus(p.Block, node); err == nil && st == meta.InSync {
					e.md.SetSyncStatus(p.Block, node, meta.OutOfSync)
					changed = true
				}
				continue
			}
			if st, err := e.md.GetSyncStatus(p.Block, node); err == nil && st != meta.InSync {
				if err := e.synchronizeBlockTo(p.Block, node); err != nil {
					if cmn.IsKind(err, cmn.ErrDataUnavailable) {
						glog.Errorf("%s: block %d: %v", e.md.Name(), p.Block, err)
						continue
					}
					glog.Errorf("%s: sync of block %d to %s: %v", e.md.Name(), p.Block, node, err)
					e.demote(p.Block, node, err)
					changed = true
					continue
				}
				changed = true
			}
			if err := e.putData(node, p.Block, p.Off, piece); err != nil {
				glog.Errorf("%s: block %d to %s: %v", e.md.Name(), p.Block, node, err)
				e.demote(p.Block, node, err)
				changed = true
			}
		}
		dataOff += p.Size
	}
	e.flushIfChanged(changed)
	return int64(len(data)), nil
}

// demote marks the replica out of sync and suspends the peer.
func (e *Engine) demote(blockIdx int64, node string, cause error) {
	e.md.SetSyncStatus(blockIdx, node, meta.OutOfSync)
	e.errset.Add(node, cause.Error())
}

func (e *Engine) flushIfChanged(changed bool) {
	if !changed {
		return
	}
	if err := e.md.Flush(); err != nil {
		glog.Errorf("%s: metadata flush: %v", e.md.Name(), err)
	}
}

//
// piece transfer, local or via the peer's proxy verbs
//

func (e *Engine) getData(node string, blockIdx, offset, size int64) ([]byte, error) {
	if e.isLocal(node) {
		return e.store.Read(e.md.Name(), e.md.BlockSize(), blockIdx, offset, size)
	}
	q := e.blockQuery(blockIdx)
	q.Set(cmn.ParamOffset, strconv.FormatInt(offset, 10))
	q.Set(cmn.ParamSize, strconv.FormatInt(size, 10))
	reply, err := e.rpc.Call(node, cmn.VerbProxyRead, q, nil)
	if err != nil {
		return nil, err
	}
	return cmn.Decompress(reply)
}

func (e *Engine) putData(node string, blockIdx, offset int64, data []byte) error {
	if e.isLocal(node) {
		_, err := e.store.Write(e.md.Name(), e.md.BlockSize(), blockIdx, offset, data)
		return err
	}
	q := e.blockQuery(blockIdx)
	q.Set(cmn.ParamOffset, strconv.FormatInt(offset, 10))
	_, err := e.rpc.Call(node, cmn.VerbProxyWrite, q, cmn.Compress(data))
	return err
}

func (e *Engine) allocateDataspace(node string, blockIdx int64) error {
	if e.isLocal(node) {
		return e.store.Allocate(e.md.Name(), e.md.BlockSize(), blockIdx)
	}
	_, err := e.rpc.Call(node, cmn.VerbProxyAllocate, e.blockQuery(blockIdx), nil)
	return err
}

func (e *Engine) blockQuery(blockIdx int64) url.Values {
	q := make(url.Values, 5)
	q.Set(cmn.ParamImage, e.md.Name())
	q.Set(cmn.ParamBlockSize, strconv.FormatInt(e.md.BlockSize(), 10))
	q.Set(cmn.ParamBlock, strconv.FormatInt(blockIdx, 10))
	return q
}
