/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package core

import (
	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/meta"
)

type (
	// Stat is the getattr reply shape consumed by the FUSE bridge.
	Stat struct {
		IsDir bool   `json:"is_dir"`
		Mode  uint32 `json:"mode"`
		Nlink uint32 `json:"nlink"`
		Size  int64  `json:"size"`
	}

	// StatFS carries fixed placeholders: this implementation does not
	// aggregate free space across locations.
	StatFS struct {
		Bsize  int64 `json:"f_bsize"`
		Blocks int64 `json:"f_blocks"`
		Bavail int64 `json:"f_bavail"`
	}
)

// Getattr serves the root directory and /NAME regular files. The file
// length surfaced to the guest is used_size, not the allocated size.
func (c *Core) Getattr(path string) (*Stat, error) {
	if path == "/" {
		return &Stat{IsDir: true, Mode: 0755, Nlink: 2}, nil
	}
	name, err := imageName(path)
	if err != nil {
		return nil, err
	}
	if img := c.lookup(name); img != nil {
		return &Stat{Mode: 0644, Nlink: 1, Size: img.md.UsedSize()}, nil
	}
	payload, err := c.dir.GetMetadata(name)
	if err != nil {
		return nil, err
	}
	img, err := meta.Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	return &Stat{Mode: 0644, Nlink: 1, Size: img.UsedSize}, nil
}

func (c *Core) Read(path string, size, offset int64) ([]byte, error) {
	name, err := imageName(path)
	if err != nil {
		return nil, err
	}
	img := c.lookup(name)
	if img == nil {
		return nil, cmn.NewError(cmn.ErrNotFound, "%s: not open", name)
	}
	return img.engine.Read(size, offset)
}

func (c *Core) Write(path string, data []byte, offset int64) (int64, error) {
	name, err := imageName(path)
	if err != nil {
		return 0, err
	}
	img := c.lookup(name)
	if img == nil {
		return 0, cmn.NewError(cmn.ErrNotFound, "%s: not open", name)
	}
	return img.engine.Write(data, offset)
}

// Truncate adjusts the guest-visible length; growing past the
// allocated image size is refused.
func (c *Core) Truncate(path string, length int64) error {
	name, err := imageName(path)
	if err != nil {
		return err
	}
	return c.withMetadata(name, func(md *meta.Metadata) error {
		return md.SetUsedSize(length)
	})
}

// Readdir lists the images materialised on this node.
func (c *Core) Readdir(path string) ([]string, error) {
	if path != "/" {
		return nil, cmn.NewError(cmn.ErrNotFound, "no directory at %q", path)
	}
	c.mtx.Lock()
	defer c.mtx.Unlock()
	entries := make([]string, 0, len(c.images)+2)
	entries = append(entries, ".", "..")
	for name := range c.images {
		entries = append(entries, name)
	}
	return entries, nil
}

func (c *Core) Statfs() *StatFS {
	return &StatFS{Bsize: 512, Blocks: 4096, Bavail: 2048}
}
