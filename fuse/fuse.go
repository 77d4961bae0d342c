// Package fuse bridges the kernel VFS to the UKAI core: a flat
// filesystem with one regular file per image, every operation
// translated to a core verb over the RPC transport. The bridge holds
// no image state of its own.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package fuse

import (
	"context"
	"net/url"
	"strconv"
	"syscall"

	gofs "github.com/hanwen/go-fuse/v2/fs"
	gofuse "github.com/hanwen/go-fuse/v2/fuse"
	jsoniter "github.com/json-iterator/go"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/transport"
)

type (
	// Bridge carries the connection to the local core.
	Bridge struct {
		rpc      *transport.Client
		coreAddr string
	}

	root struct {
		gofs.Inode
		b *Bridge
	}

	imageFile struct {
		gofs.Inode
		b    *Bridge
		path string
	}

	imageHandle struct {
		b    *Bridge
		path string
		fh   uint64
	}

	statReply struct {
		IsDir bool   `json:"is_dir"`
		Mode  uint32 `json:"mode"`
		Nlink uint32 `json:"nlink"`
		Size  int64  `json:"size"`
	}

	statfsReply struct {
		Bsize  int64 `json:"f_bsize"`
		Blocks int64 `json:"f_blocks"`
		Bavail int64 `json:"f_bavail"`
	}
)

func NewBridge(config *cmn.Config) *Bridge {
	return &Bridge{
		rpc:      transport.NewClient(config.CorePort, config.RPCTimeout()),
		coreAddr: config.CoreAddr(),
	}
}

// Mount attaches the bridge at mountpoint and returns the serving
// FUSE server; the caller Waits on it.
func Mount(mountpoint string, config *cmn.Config) (*gofuse.Server, error) {
	b := NewBridge(config)
	return gofs.Mount(mountpoint, &root{b: b}, &gofs.Options{
		MountOptions: gofuse.MountOptions{
			FsName:         "ukai",
			Name:           "ukai",
			SingleThreaded: config.FuseOptions.NoThreads,
		},
	})
}

func (b *Bridge) call(verb string, q url.Values, body []byte) ([]byte, error) {
	return b.rpc.CallAddr(b.coreAddr, verb, q, body)
}

func (b *Bridge) getattr(path string) (*statReply, syscall.Errno) {
	q := url.Values{cmn.ParamPath: []string{path}}
	reply, err := b.call(cmn.VerbGetattr, q, nil)
	if err != nil {
		return nil, cmn.Errno(err)
	}
	st := &statReply{}
	if err := jsoniter.Unmarshal(reply, st); err != nil {
		return nil, syscall.EIO
	}
	return st, 0
}

func fillAttr(st *statReply, out *gofuse.Attr) {
	if st.IsDir {
		out.Mode = syscall.S_IFDIR | st.Mode
	} else {
		out.Mode = syscall.S_IFREG | st.Mode
	}
	out.Nlink = st.Nlink
	out.Size = uint64(st.Size)
}

//
// root directory
//

var (
	_ gofs.NodeGetattrer = (*root)(nil)
	_ gofs.NodeReaddirer = (*root)(nil)
	_ gofs.NodeLookuper  = (*root)(nil)
	_ gofs.NodeStatfser  = (*root)(nil)
)

func (r *root) Getattr(_ context.Context, _ gofs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	st, errno := r.b.getattr("/")
	if errno != 0 {
		return errno
	}
	fillAttr(st, &out.Attr)
	return 0
}

func (r *root) Readdir(context.Context) (gofs.DirStream, syscall.Errno) {
	q := url.Values{cmn.ParamPath: []string{"/"}}
	reply, err := r.b.call(cmn.VerbReaddir, q, nil)
	if err != nil {
		return nil, cmn.Errno(err)
	}
	var names []string
	if err := jsoniter.Unmarshal(reply, &names); err != nil {
		return nil, syscall.EIO
	}
	entries := make([]gofuse.DirEntry, 0, len(names))
	for _, name := range names {
		if name == "." || name == ".." {
			continue
		}
		entries = append(entries, gofuse.DirEntry{Name: name, Mode: syscall.S_IFREG})
	}
	return gofs.NewListDirStream(entries), 0
}

func (r *root) Lookup(ctx context.Context, name string, out *gofuse.EntryOut) (*gofs.Inode, syscall.Errno) {
	path := "/" + name
	st, errno := r.b.getattr(path)
	if errno != 0 {
		return nil, errno
	}
	fillAttr(st, &out.Attr)
	child := r.NewInode(ctx, &imageFile{b: r.b, path: path},
		gofs.StableAttr{Mode: syscall.S_IFREG})
	return child, 0
}

func (r *root) Statfs(_ context.Context, out *gofuse.StatfsOut) syscall.Errno {
	reply, err := r.b.call(cmn.VerbStatfs, nil, nil)
	if err != nil {
		return cmn.Errno(err)
	}
	sf := &statfsReply{}
	if err := jsoniter.Unmarshal(reply, sf); err != nil {
		return syscall.EIO
	}
	out.Bsize = uint32(sf.Bsize)
	out.Blocks = uint64(sf.Blocks)
	out.Bavail = uint64(sf.Bavail)
	out.Bfree = uint64(sf.Bavail)
	return 0
}

//
// image files
//

var (
	_ gofs.NodeGetattrer = (*imageFile)(nil)
	_ gofs.NodeOpener    = (*imageFile)(nil)
	_ gofs.NodeSetattrer = (*imageFile)(nil)
)

func (f *imageFile) Getattr(_ context.Context, _ gofs.FileHandle, out *gofuse.AttrOut) syscall.Errno {
	st, errno := f.b.getattr(f.path)
	if errno != 0 {
		return errno
	}
	fillAttr(st, &out.Attr)
	return 0
}

func (f *imageFile) Open(_ context.Context, flags uint32) (gofs.FileHandle, uint32, syscall.Errno) {
	q := url.Values{
		cmn.ParamPath:  []string{f.path},
		cmn.ParamFlags: []string{strconv.FormatUint(uint64(flags), 10)},
	}
	reply, err := f.b.call(cmn.VerbOpen, q, nil)
	if err != nil {
		return nil, 0, cmn.Errno(err)
	}
	var opened struct {
		FH uint64 `json:"fh"`
	}
	if err := jsoniter.Unmarshal(reply, &opened); err != nil {
		return nil, 0, syscall.EIO
	}
	// block I/O must not be cached above the fan-out layer
	return &imageHandle{b: f.b, path: f.path, fh: opened.FH}, gofuse.FOPEN_DIRECT_IO, 0
}

// Setattr implements truncate; every other attribute change is a
// silent no-op the way chmod and chown are.
func (f *imageFile) Setattr(_ context.Context, _ gofs.FileHandle, in *gofuse.SetAttrIn, out *gofuse.AttrOut) syscall.Errno {
	if size, ok := in.GetSize(); ok {
		q := url.Values{
			cmn.ParamPath:   []string{f.path},
			cmn.ParamLength: []string{strconv.FormatUint(size, 10)},
		}
		if _, err := f.b.call(cmn.VerbTruncate, q, nil); err != nil {
			return cmn.Errno(err)
		}
	}
	st, errno := f.b.getattr(f.path)
	if errno != 0 {
		return errno
	}
	fillAttr(st, &out.Attr)
	return 0
}

var (
	_ gofs.FileReader   = (*imageHandle)(nil)
	_ gofs.FileWriter   = (*imageHandle)(nil)
	_ gofs.FileReleaser = (*imageHandle)(nil)
)

func (h *imageHandle) Read(_ context.Context, dest []byte, off int64) (gofuse.ReadResult, syscall.Errno) {
	q := url.Values{
		cmn.ParamPath:   []string{h.path},
		cmn.ParamSize:   []string{strconv.Itoa(len(dest))},
		cmn.ParamOffset: []string{strconv.FormatInt(off, 10)},
	}
	reply, err := h.b.call(cmn.VerbRead, q, nil)
	if err != nil {
		return nil, cmn.Errno(err)
	}
	return gofuse.ReadResultData(reply), 0
}

func (h *imageHandle) Write(_ context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	q := url.Values{
		cmn.ParamPath:   []string{h.path},
		cmn.ParamOffset: []string{strconv.FormatInt(off, 10)},
	}
	reply, err := h.b.call(cmn.VerbWrite, q, data)
	if err != nil {
		return 0, cmn.Errno(err)
	}
	var written struct {
		Written int64 `json:"written"`
	}
	if err := jsoniter.Unmarshal(reply, &written); err != nil {
		return 0, syscall.EIO
	}
	return uint32(written.Written), 0
}

func (h *imageHandle) Release(context.Context) syscall.Errno {
	q := url.Values{
		cmn.ParamPath: []string{h.path},
		cmn.ParamFH:   []string{strconv.FormatUint(h.fh, 10)},
	}
	if _, err := h.b.call(cmn.VerbRelease, q, nil); err != nil {
		return cmn.Errno(err)
	}
	return 0
}
