/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package core

import (
	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/meta"
)

// Proxy verbs serve peer data engines. They bypass the local metadata
// object on purpose: the peer that fans out the I/O owns the image's
// block locks and metadata for the duration of the operation.

func (c *Core) ProxyRead(name string, blockSize, blockIdx, offset, size int64) ([]byte, error) {
	data, err := c.store.Read(name, blockSize, blockIdx, offset, size)
	if err != nil {
		return nil, err
	}
	return cmn.Compress(data), nil
}

func (c *Core) ProxyWrite(name string, blockSize, blockIdx, offset int64, compressed []byte) (int64, error) {
	data, err := cmn.Decompress(compressed)
	if err != nil {
		return 0, err
	}
	return c.store.Write(name, blockSize, blockIdx, offset, data)
}

func (c *Core) ProxyAllocate(name string, blockSize, blockIdx int64) error {
	return c.store.Allocate(name, blockSize, blockIdx)
}

func (c *Core) ProxyDeallocate(name string, blockIdx int64) error {
	return c.store.Deallocate(name, blockIdx)
}

func (c *Core) ProxyDestroyImage(name string) error {
	return c.store.DestroyImage(name)
}

// ProxyUpdateMetadata accepts a compressed canonical payload pushed by
// a peer hypervisor: it persists the payload to the directory and
// updates or creates the local metadata + engine pair. Existing
// runtime state (open handles, statistics) is never evicted.
func (c *Core) ProxyUpdateMetadata(name string, compressed []byte) error {
	payload, err := cmn.Decompress(compressed)
	if err != nil {
		return err
	}
	img, err := meta.Unmarshal(payload)
	if err != nil {
		return err
	}
	if img.Name != name {
		return cmn.NewError(cmn.ErrInvalid, "metadata update for %q names %q", name, img.Name)
	}
	if err := c.dir.PutMetadata(name, payload); err != nil {
		return err
	}

	c.mtx.Lock()
	defer c.mtx.Unlock()
	if live, ok := c.images[name]; ok {
		return live.md.Update(img)
	}
	c.images[name] = c.materialize(meta.New(img, c.dir, c, c.config.ID))
	return nil
}
