/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package data

import (
	"github.com/golang/glog"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/meta"
)

// synchronizeBlockTo copies the whole block from an in-sync replica to
// the target location and marks the target IN_SYNC. The caller holds
// the block lock and flushes the metadata.
func (e *Engine) synchronizeBlockTo(blockIdx int64, target string) error {
	source := e.findSyncSource(blockIdx)
	if source == "" {
		return cmn.NewError(cmn.ErrDataUnavailable,
			"%s: block %d has no IN_SYNC replica to copy from", e.md.Name(), blockIdx)
	}
	if err := e.allocateDataspace(target, blockIdx); err != nil {
		return err
	}
	block, err := e.getData(source, blockIdx, 0, e.md.BlockSize())
	if err != nil {
		return err
	}
	if err := e.putData(target, blockIdx, 0, block); err != nil {
		return err
	}
	return e.md.SetSyncStatus(blockIdx, target, meta.InSync)
}

// findSyncSource picks any IN_SYNC replica, preferring the local node.
// Unlike read-candidate selection this ignores the failure cache: a
// suspended peer holding the only good copy is still worth trying.
func (e *Engine) findSyncSource(blockIdx int64) string {
	source := ""
	for _, node := range e.md.Locations(blockIdx) {
		if st, err := e.md.GetSyncStatus(blockIdx, node); err != nil || st != meta.InSync {
			continue
		}
		if e.isLocal(node) {
			return node
		}
		source = node
	}
	return source
}

// SynchronizeBlock heals every out-of-sync replica of one block. It
// reports whether the metadata changed; the caller flushes.
func (e *Engine) SynchronizeBlock(blockIdx int64) (changed bool, err error) {
	if blockIdx < 0 || blockIdx >= e.md.BlockCount() {
		return false, cmn.NewError(cmn.ErrInvalid, "%s: block %d out of range",
			e.md.Name(), blockIdx)
	}
	e.md.AcquireBlockRange(blockIdx, blockIdx+1)
	defer e.md.ReleaseBlockRange(blockIdx, blockIdx+1)

	for _, node := range e.md.Locations(blockIdx) {
		st, err := e.md.GetSyncStatus(blockIdx, node)
		if err != nil || st == meta.InSync {
			continue
		}
		if err := e.synchronizeBlockTo(blockIdx, node); err != nil {
			if cmn.IsKind(err, cmn.ErrDataUnavailable) {
				return changed, err
			}
			// transient target failure: suspend it and go on with
			// the remaining replicas
			glog.Errorf("%s: sync of block %d to %s: %v", e.md.Name(), blockIdx, node, err)
			e.errset.Add(node, err.Error())
			continue
		}
		changed = true
	}
	return changed, nil
}
