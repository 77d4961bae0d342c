// Package core implements the UKAI core service: open/release
// bookkeeping, writer exclusion, and the dispatch of filesystem, proxy,
// and control verbs onto the per-image metadata and data engines.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package core

import (
	"net/url"
	"strings"
	"sync"
	"syscall"

	"github.com/golang/glog"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/data"
	"github.com/taocat/ukai/db"
	"github.com/taocat/ukai/fs"
	"github.com/taocat/ukai/health"
	"github.com/taocat/ukai/meta"
	"github.com/taocat/ukai/stats"
	"github.com/taocat/ukai/transport"
)

type (
	// image bundles the runtime state of one materialised image.
	image struct {
		md     *meta.Metadata
		engine *data.Engine
		stats  *stats.ImageStats
	}

	Core struct {
		mtx    sync.Mutex // serialises all bookkeeping below
		config *cmn.Config
		dir    db.Client
		store  *fs.BlockStore
		errset *health.ErrorStateSet
		rpc    *transport.Client

		images  map[string]*image
		opens   map[string]int
		writers map[string]uint64 // image name -> write-open handle
		nextFH  uint64
	}
)

func New(config *cmn.Config, dir db.Client) *Core {
	cmn.EnableIfaddrCache(config.IfaddrCacheEnabled())
	return &Core{
		config:  config,
		dir:     dir,
		store:   fs.NewBlockStore(config.DataRoot, config.BlocknameFormat),
		errset:  health.NewErrorStateSet(),
		rpc:     transport.NewClient(config.CorePort, config.RPCTimeout()),
		images:  make(map[string]*image, 8),
		opens:   make(map[string]int, 8),
		writers: make(map[string]uint64, 8),
	}
}

// PushMetadata delivers a compressed metadata payload to a peer
// hypervisor; meta.Flush fans out through this.
func (c *Core) PushMetadata(node, name string, compressed []byte) error {
	q := url.Values{cmn.ParamImage: []string{name}}
	_, err := c.rpc.Call(node, cmn.VerbProxyUpdateMetadata, q, compressed)
	return err
}

// materialize wires a metadata object into a live engine + stats pair.
func (c *Core) materialize(md *meta.Metadata) *image {
	st := stats.NewImageStats(md.BlockCount())
	return &image{
		md:     md,
		engine: data.NewEngine(md, c.store, c.errset, st, c.rpc),
		stats:  st,
	}
}

func (c *Core) lookup(name string) *image {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.images[name]
}

// imageName resolves a VFS path to an image name.
func imageName(path string) (string, error) {
	name := strings.TrimPrefix(path, "/")
	if name == "" || strings.Contains(name, "/") {
		return "", cmn.NewError(cmn.ErrNotFound, "no image at %q", path)
	}
	return name, nil
}

//
// open/release bookkeeping
//

const accModeMask = syscall.O_RDONLY | syscall.O_WRONLY | syscall.O_RDWR

func wantsWrite(flags int64) bool {
	return flags&accModeMask != syscall.O_RDONLY
}

// Open resolves the image, enforces single-writer access, and
// materialises the metadata + engine pair on first open.
func (c *Core) Open(path string, flags int64) (uint64, error) {
	name, err := imageName(path)
	if err != nil {
		return 0, err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.images[name] == nil {
		md, err := meta.Load(c.dir, name, c, c.config.ID)
		if err != nil {
			return 0, err
		}
		c.images[name] = c.materialize(md)
	}
	if wantsWrite(flags) {
		if fh, busy := c.writers[name]; busy {
			if c.opens[name] == 0 {
				delete(c.images, name) // undo the materialisation above
			}
			return 0, cmn.NewError(cmn.ErrBusy, "%s: write-opened by handle %d", name, fh)
		}
	}

	if c.opens[name] == 0 {
		if err := c.dir.JoinReader(name, c.config.ID); err != nil {
			glog.Warningf("%s: reader join: %v", name, err)
		}
	}
	c.opens[name]++
	c.nextFH++
	fh := c.nextFH
	if wantsWrite(flags) {
		c.writers[name] = fh
	}
	return fh, nil
}

// Release drops the handle. The writer mark goes away only when the
// released handle is the one that took write access on this image.
func (c *Core) Release(path string, fh uint64) error {
	name, err := imageName(path)
	if err != nil {
		return err
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if c.writers[name] == fh {
		delete(c.writers, name)
	}
	if c.opens[name] == 0 {
		return nil
	}
	c.opens[name]--
	if c.opens[name] > 0 {
		return nil
	}
	delete(c.opens, name)
	delete(c.images, name)
	if err := c.dir.LeaveReader(name, c.config.ID); err != nil {
		glog.Warningf("%s: reader leave: %v", name, err)
	}
	return nil
}

// withMetadata runs fn against the live metadata when the image is
// open here; otherwise it loads the canonical copy under the
// directory's named lock, mutates, and drops it.
func (c *Core) withMetadata(name string, fn func(md *meta.Metadata) error) error {
	if img := c.lookup(name); img != nil {
		return fn(img.md)
	}
	lock, err := c.dir.Lock(name)
	if err != nil {
		return err
	}
	defer lock.Unlock()
	md, err := meta.Load(c.dir, name, c, c.config.ID)
	if err != nil {
		return err
	}
	return fn(md)
}

// withEngine is the data-path analogue of withMetadata: control verbs
// that move block data run against a transient engine when the image
// is not open here.
func (c *Core) withEngine(name string, fn func(md *meta.Metadata, e *data.Engine) error) error {
	if img := c.lookup(name); img != nil {
		return fn(img.md, img.engine)
	}
	md, err := meta.Load(c.dir, name, c, c.config.ID)
	if err != nil {
		return err
	}
	return fn(md, data.NewEngine(md, c.store, c.errset, nil, c.rpc))
}
