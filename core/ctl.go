/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package core

import (
	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/data"
	"github.com/taocat/ukai/health"
	"github.com/taocat/ukai/meta"
	"github.com/taocat/ukai/stats"
)

// CtlCreateImage composes and persists the initial metadata: every
// block IN_SYNC on the single initial location. Zero blockSize takes
// the configured default; an empty location defaults to this node, and
// an empty hypervisor defaults to the location.
func (c *Core) CtlCreateImage(name string, size, blockSize int64, location, hypervisor string) error {
	if blockSize == 0 {
		blockSize = c.config.CreateDefault.BlockSize
	}
	if location == "" {
		location = c.config.CoreServer
	}
	if hypervisor == "" {
		hypervisor = location
	}
	img := meta.NewImage(name, size, blockSize, location, hypervisor)
	if err := img.Validate(); err != nil {
		return err
	}

	lock, err := c.dir.Lock(name)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	if _, err := c.dir.GetMetadata(name); err == nil {
		return cmn.NewError(cmn.ErrExists, "image %q already exists", name)
	} else if !cmn.IsKind(err, cmn.ErrNotFound) {
		return err
	}
	payload, err := jsoniter.Marshal(img)
	if err != nil {
		return err
	}
	return c.dir.PutMetadata(name, payload)
}

// CtlDestroyImage removes the block data on every location that holds
// any block, deletes the canonical metadata, and evicts local runtime
// state. Unreachable locations are logged and skipped; their data is
// orphaned, not protected.
func (c *Core) CtlDestroyImage(name string) error {
	payload, err := c.CtlGetMetadata(name)
	if err != nil {
		return err
	}
	img, err := meta.Unmarshal(payload)
	if err != nil {
		return err
	}

	locations := make(map[string]struct{}, 4)
	for _, block := range img.Blocks {
		for node := range block {
			locations[node] = struct{}{}
		}
	}
	for node := range locations {
		if cmn.IsLocalAddr(node) || node == c.config.ID {
			if err := c.store.DestroyImage(name); err != nil {
				glog.Errorf("%s: destroy on local store: %v", name, err)
			}
			continue
		}
		if _, err := c.rpc.Call(node, cmn.VerbProxyDestroyImage, imageQuery(name), nil); err != nil {
			glog.Errorf("%s: destroy on %s: %v", name, node, err)
		}
	}

	if err := c.dir.DeleteMetadata(name); err != nil {
		return err
	}
	c.mtx.Lock()
	delete(c.images, name)
	delete(c.opens, name)
	delete(c.writers, name)
	c.mtx.Unlock()
	return nil
}

func (c *Core) CtlGetMetadata(name string) ([]byte, error) {
	if img := c.lookup(name); img != nil {
		return img.md.Marshal(), nil
	}
	return c.dir.GetMetadata(name)
}

// CtlAddImage attaches a directory image to the local runtime without
// opening it (used when migrating a guest in).
func (c *Core) CtlAddImage(name string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if _, ok := c.images[name]; ok {
		return cmn.NewError(cmn.ErrExists, "image %q already attached", name)
	}
	md, err := meta.Load(c.dir, name, c, c.config.ID)
	if err != nil {
		return err
	}
	c.images[name] = c.materialize(md)
	return nil
}

func (c *Core) CtlRemoveImage(name string) error {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	if _, ok := c.images[name]; !ok {
		return cmn.NewError(cmn.ErrNotFound, "image %q not attached", name)
	}
	if c.opens[name] > 0 {
		return cmn.NewError(cmn.ErrBusy, "image %q is open", name)
	}
	delete(c.images, name)
	return nil
}

func (c *Core) CtlAddLocation(name, location string, start, end int64) error {
	return c.withMetadata(name, func(md *meta.Metadata) error {
		return md.AddLocation(location, start, end, meta.OutOfSync)
	})
}

func (c *Core) CtlRemoveLocation(name, location string, start, end int64) (skipped int64, err error) {
	err = c.withMetadata(name, func(md *meta.Metadata) error {
		skipped, err = md.RemoveLocation(location, start, end)
		return err
	})
	return skipped, err
}

func (c *Core) CtlAddHypervisor(name, hypervisor string) error {
	return c.withMetadata(name, func(md *meta.Metadata) error {
		return md.AddHypervisor(hypervisor)
	})
}

func (c *Core) CtlRemoveHypervisor(name, hypervisor string) error {
	return c.withMetadata(name, func(md *meta.Metadata) error {
		return md.RemoveHypervisor(hypervisor)
	})
}

// CtlSynchronize heals every out-of-sync replica in [start, end];
// end < 0 means the last block.
func (c *Core) CtlSynchronize(name string, start, end int64, verbose bool) error {
	return c.withEngine(name, func(md *meta.Metadata, e *data.Engine) error {
		last := md.BlockCount() - 1
		if end < 0 {
			end = last
		}
		if start < 0 || start > end || end > last {
			return cmn.NewError(cmn.ErrInvalid, "%s: block range [%d, %d] out of [0, %d]",
				name, start, end, last)
		}
		for b := start; b <= end; b++ {
			if verbose {
				glog.Infof("%s: syncing block %d (of [%d, %d])", name, b, start, end)
			}
			changed, err := e.SynchronizeBlock(b)
			if err != nil {
				return err
			}
			if changed {
				if err := md.Flush(); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (c *Core) CtlGetErrorState() []health.ErrorState {
	return c.errset.Snapshot()
}

func (c *Core) CtlGetImageNames() ([]string, error) {
	return c.dir.ListImages()
}

func (c *Core) CtlGetStats(name string) ([]stats.BlockStat, error) {
	img := c.lookup(name)
	if img == nil {
		return nil, cmn.NewError(cmn.ErrNotFound, "image %q not attached", name)
	}
	return img.stats.Snapshot(), nil
}
