// Package fs implements the local block store: fixed-size block files
// kept under data_root, one directory per image.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package fs

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/glog"
	"github.com/pkg/errors"
)

// BlockStore performs no locking of its own: callers hold the
// per-block lock of the block they touch.
type BlockStore struct {
	root       string
	nameFormat string
}

func NewBlockStore(root, nameFormat string) *BlockStore {
	return &BlockStore{root: root, nameFormat: nameFormat}
}

func (bs *BlockStore) imageDir(image string) string {
	return filepath.Join(bs.root, image)
}

func (bs *BlockStore) blockPath(image string, blockIdx int64) string {
	return filepath.Join(bs.imageDir(image), fmt.Sprintf(bs.nameFormat, blockIdx))
}

// Read returns size bytes at offset within the block. A missing block
// file reads as zeros; a wrong-sized block file is treated as corrupt,
// removed, and likewise reads as zeros.
func (bs *BlockStore) Read(image string, blockSize, blockIdx, offset, size int64) ([]byte, error) {
	path := bs.blockPath(image, blockIdx)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) {
		return make([]byte, size), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "block stat")
	}
	if fi.Size() != blockSize {
		glog.Warningf("%s: length %d != block size %d, discarding", path, fi.Size(), blockSize)
		if err := os.Remove(path); err != nil {
			return nil, errors.Wrap(err, "block remove")
		}
		return make([]byte, size), nil
	}

	fh, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "block open")
	}
	defer fh.Close()
	data := make([]byte, size)
	if _, err := fh.ReadAt(data, offset); err != nil && err != io.EOF {
		return nil, errors.Wrap(err, "block read")
	}
	return data, nil
}

// Write stores data at offset within the block, (re)allocating the
// block file first when it is missing or mis-sized.
func (bs *BlockStore) Write(image string, blockSize, blockIdx, offset int64, data []byte) (int64, error) {
	path := bs.blockPath(image, blockIdx)
	fi, err := os.Stat(path)
	if os.IsNotExist(err) || (err == nil && fi.Size() != blockSize) {
		if err == nil {
			glog.Warningf("%s: length %d != block size %d, reallocating", path, fi.Size(), blockSize)
		}
		if err := bs.Allocate(image, blockSize, blockIdx); err != nil {
			return 0, err
		}
	} else if err != nil {
		return 0, errors.Wrap(err, "block stat")
	}

	fh, err := os.OpenFile(path, os.O_WRONLY, 0644)
	if err != nil {
		return 0, errors.Wrap(err, "block open")
	}
	defer fh.Close()
	n, err := fh.WriteAt(data, offset)
	if err != nil {
		return int64(n), errors.Wrap(err, "block write")
	}
	return int64(n), nil
}

// Allocate creates the image directory if absent and the block file
// sized to blockSize. The single trailing zero byte written at
// blockSize-1 is the canonical form, so the file is sparse where the
// filesystem supports it.
func (bs *BlockStore) Allocate(image string, blockSize, blockIdx int64) error {
	if err := os.MkdirAll(bs.imageDir(image), 0755); err != nil {
		return errors.Wrap(err, "image dir")
	}
	fh, err := os.Create(bs.blockPath(image, blockIdx))
	if err != nil {
		return errors.Wrap(err, "block create")
	}
	defer fh.Close()
	if _, err := fh.WriteAt([]byte{0}, blockSize-1); err != nil {
		return errors.Wrap(err, "block allocate")
	}
	return nil
}

// Deallocate removes the block file; removing an absent block is a no-op.
func (bs *BlockStore) Deallocate(image string, blockIdx int64) error {
	err := os.Remove(bs.blockPath(image, blockIdx))
	if err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "block remove")
	}
	return nil
}

// DestroyImage recursively removes the image directory.
func (bs *BlockStore) DestroyImage(image string) error {
	return errors.Wrap(os.RemoveAll(bs.imageDir(image)), "image remove")
}
