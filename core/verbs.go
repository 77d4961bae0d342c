/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package core

import (
	"net/url"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/transport"
)

// RegisterVerbs binds the full verb set onto the transport server.
func (c *Core) RegisterVerbs(s *transport.Server) {
	// filesystem verbs
	s.Register(cmn.VerbGetattr, c.handleGetattr)
	s.Register(cmn.VerbOpen, c.handleOpen)
	s.Register(cmn.VerbRelease, c.handleRelease)
	s.Register(cmn.VerbRead, c.handleRead)
	s.Register(cmn.VerbWrite, c.handleWrite)
	s.Register(cmn.VerbTruncate, c.handleTruncate)
	s.Register(cmn.VerbReaddir, c.handleReaddir)
	s.Register(cmn.VerbStatfs, c.handleStatfs)
	for _, verb := range []string{
		cmn.VerbUnlink, cmn.VerbMkdir, cmn.VerbRmdir, cmn.VerbRename,
		cmn.VerbSymlink, cmn.VerbReadlink, cmn.VerbCreate,
	} {
		s.Register(verb, denyVerb(verb))
	}
	for _, verb := range []string{cmn.VerbChmod, cmn.VerbChown, cmn.VerbUtimens} {
		s.Register(verb, noopVerb)
	}

	// proxy verbs
	s.Register(cmn.VerbProxyRead, c.handleProxyRead)
	s.Register(cmn.VerbProxyWrite, c.handleProxyWrite)
	s.Register(cmn.VerbProxyAllocate, c.handleProxyAllocate)
	s.Register(cmn.VerbProxyDeallocate, c.handleProxyDeallocate)
	s.Register(cmn.VerbProxyDestroyImage, c.handleProxyDestroyImage)
	s.Register(cmn.VerbProxyUpdateMetadata, c.handleProxyUpdateMetadata)

	// control verbs
	s.Register(cmn.VerbCtlCreateImage, c.handleCtlCreateImage)
	s.Register(cmn.VerbCtlDestroyImage, c.handleCtlDestroyImage)
	s.Register(cmn.VerbCtlAddImage, c.handleCtlAddImage)
	s.Register(cmn.VerbCtlRemoveImage, c.handleCtlRemoveImage)
	s.Register(cmn.VerbCtlGetMetadata, c.handleCtlGetMetadata)
	s.Register(cmn.VerbCtlAddLocation, c.handleCtlAddLocation)
	s.Register(cmn.VerbCtlRemoveLocation, c.handleCtlRemoveLocation)
	s.Register(cmn.VerbCtlAddHypervisor, c.handleCtlAddHypervisor)
	s.Register(cmn.VerbCtlRemoveHypervisor, c.handleCtlRemoveHypervisor)
	s.Register(cmn.VerbCtlSynchronize, c.handleCtlSynchronize)
	s.Register(cmn.VerbCtlGetErrorState, c.handleCtlGetErrorState)
	s.Register(cmn.VerbCtlGetImageNames, c.handleCtlGetImageNames)
	s.Register(cmn.VerbCtlGetStats, c.handleCtlGetStats)
}

//
// parameter and reply helpers
//

func qInt(q url.Values, key string, def int64) (int64, error) {
	v := q.Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, cmn.NewError(cmn.ErrInvalid, "parameter %q: %v", key, err)
	}
	return n, nil
}

func qRequired(q url.Values, key string) (string, error) {
	v := q.Get(key)
	if v == "" {
		return "", cmn.NewError(cmn.ErrInvalid, "parameter %q is required", key)
	}
	return v, nil
}

func jsonReply(v interface{}) ([]byte, error) {
	return jsoniter.Marshal(v)
}

func imageQuery(name string) url.Values {
	return url.Values{cmn.ParamImage: []string{name}}
}

func denyVerb(verb string) transport.Handler {
	return func(q url.Values, body []byte) ([]byte, error) {
		return nil, cmn.NewError(cmn.ErrPermission, "%s is not supported", verb)
	}
}

func noopVerb(q url.Values, body []byte) ([]byte, error) {
	return nil, nil
}

//
// filesystem verb handlers
//

func (c *Core) handleGetattr(q url.Values, _ []byte) ([]byte, error) {
	path, err := qRequired(q, cmn.ParamPath)
	if err != nil {
		return nil, err
	}
	st, err := c.Getattr(path)
	if err != nil {
		return nil, err
	}
	return jsonReply(st)
}

func (c *Core) handleOpen(q url.Values, _ []byte) ([]byte, error) {
	path, err := qRequired(q, cmn.ParamPath)
	if err != nil {
		return nil, err
	}
	flags, err := qInt(q, cmn.ParamFlags, 0)
	if err != nil {
		return nil, err
	}
	fh, err := c.Open(path, flags)
	if err != nil {
		return nil, err
	}
	return jsonReply(map[string]uint64{"fh": fh})
}

func (c *Core) handleRelease(q url.Values, _ []byte) ([]byte, error) {
	path, err := qRequired(q, cmn.ParamPath)
	if err != nil {
		return nil, err
	}
	fh, err := qInt(q, cmn.ParamFH, 0)
	if err != nil {
		return nil, err
	}
	return nil, c.Release(path, uint64(fh))
}

func (c *Core) handleRead(q url.Values, _ []byte) ([]byte, error) {
	path, err := qRequired(q, cmn.ParamPath)
	if err != nil {
		return nil, err
	}
	size, err := qInt(q, cmn.ParamSize, 0)
	if err != nil {
		return nil, err
	}
	offset, err := qInt(q, cmn.ParamOffset, 0)
	if err != nil {
		return nil, err
	}
	return c.Read(path, size, offset)
}

func (c *Core) handleWrite(q url.Values, body []byte) ([]byte, error) {
	path, err := qRequired(q, cmn.ParamPath)
	if err != nil {
		return nil, err
	}
	offset, err := qInt(q, cmn.ParamOffset, 0)
	if err != nil {
		return nil, err
	}
	n, err := c.Write(path, body, offset)
	if err != nil {
		return nil, err
	}
	return jsonReply(map[string]int64{"written": n})
}

func (c *Core) handleTruncate(q url.Values, _ []byte) ([]byte, error) {
	path, err := qRequired(q, cmn.ParamPath)
	if err != nil {
		return nil, err
	}
	length, err := qInt(q, cmn.ParamLength, 0)
	if err != nil {
		return nil, err
	}
	return nil, c.Truncate(path, length)
}

func (c *Core) handleReaddir(q url.Values, _ []byte) ([]byte, error) {
	path, err := qRequired(q, cmn.ParamPath)
	if err != nil {
		return nil, err
	}
	entries, err := c.Readdir(path)
	if err != nil {
		return nil, err
	}
	return jsonReply(entries)
}

func (c *Core) handleStatfs(url.Values, []byte) ([]byte, error) {
	return jsonReply(c.Statfs())
}

//
// proxy verb handlers
//

func blockParams(q url.Values) (name string, blockSize, blockIdx int64, err error) {
	if name, err = qRequired(q, cmn.ParamImage); err != nil {
		return
	}
	if blockSize, err = qInt(q, cmn.ParamBlockSize, 0); err != nil {
		return
	}
	if blockSize <= 0 {
		err = cmn.NewError(cmn.ErrInvalid, "parameter %q must be positive", cmn.ParamBlockSize)
		return
	}
	blockIdx, err = qInt(q, cmn.ParamBlock, -1)
	if err == nil && blockIdx < 0 {
		err = cmn.NewError(cmn.ErrInvalid, "parameter %q is required", cmn.ParamBlock)
	}
	return
}

func (c *Core) handleProxyRead(q url.Values, _ []byte) ([]byte, error) {
	name, blockSize, blockIdx, err := blockParams(q)
	if err != nil {
		return nil, err
	}
	offset, err := qInt(q, cmn.ParamOffset, 0)
	if err != nil {
		return nil, err
	}
	size, err := qInt(q, cmn.ParamSize, 0)
	if err != nil {
		return nil, err
	}
	return c.ProxyRead(name, blockSize, blockIdx, offset, size)
}

func (c *Core) handleProxyWrite(q url.Values, body []byte) ([]byte, error) {
	name, blockSize, blockIdx, err := blockParams(q)
	if err != nil {
		return nil, err
	}
	offset, err := qInt(q, cmn.ParamOffset, 0)
	if err != nil {
		return nil, err
	}
	n, err := c.ProxyWrite(name, blockSize, blockIdx, offset, body)
	if err != nil {
		return nil, err
	}
	return jsonReply(map[string]int64{"written": n})
}

func (c *Core) handleProxyAllocate(q url.Values, _ []byte) ([]byte, error) {
	name, blockSize, blockIdx, err := blockParams(q)
	if err != nil {
		return nil, err
	}
	return nil, c.ProxyAllocate(name, blockSize, blockIdx)
}

func (c *Core) handleProxyDeallocate(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	blockIdx, err := qInt(q, cmn.ParamBlock, -1)
	if err != nil {
		return nil, err
	}
	if blockIdx < 0 {
		return nil, cmn.NewError(cmn.ErrInvalid, "parameter %q is required", cmn.ParamBlock)
	}
	return nil, c.ProxyDeallocate(name, blockIdx)
}

func (c *Core) handleProxyDestroyImage(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	return nil, c.ProxyDestroyImage(name)
}

func (c *Core) handleProxyUpdateMetadata(q url.Values, body []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	return nil, c.ProxyUpdateMetadata(name, body)
}

//
// control verb handlers
//

func (c *Core) handleCtlCreateImage(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	size, err := qInt(q, cmn.ParamSize, 0)
	if err != nil {
		return nil, err
	}
	blockSize, err := qInt(q, cmn.ParamBlockSize, 0)
	if err != nil {
		return nil, err
	}
	return nil, c.CtlCreateImage(name, size, blockSize,
		q.Get(cmn.ParamLocation), q.Get(cmn.ParamHypervisor))
}

func (c *Core) handleCtlDestroyImage(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	return nil, c.CtlDestroyImage(name)
}

func (c *Core) handleCtlAddImage(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	return nil, c.CtlAddImage(name)
}

func (c *Core) handleCtlRemoveImage(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	return nil, c.CtlRemoveImage(name)
}

func (c *Core) handleCtlGetMetadata(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	return c.CtlGetMetadata(name)
}

func rangeParams(q url.Values) (name string, start, end int64, err error) {
	if name, err = qRequired(q, cmn.ParamImage); err != nil {
		return
	}
	if start, err = qInt(q, cmn.ParamStart, 0); err != nil {
		return
	}
	end, err = qInt(q, cmn.ParamEnd, -1)
	return
}

func (c *Core) handleCtlAddLocation(q url.Values, _ []byte) ([]byte, error) {
	name, start, end, err := rangeParams(q)
	if err != nil {
		return nil, err
	}
	location, err := qRequired(q, cmn.ParamLocation)
	if err != nil {
		return nil, err
	}
	return nil, c.CtlAddLocation(name, location, start, end)
}

func (c *Core) handleCtlRemoveLocation(q url.Values, _ []byte) ([]byte, error) {
	name, start, end, err := rangeParams(q)
	if err != nil {
		return nil, err
	}
	location, err := qRequired(q, cmn.ParamLocation)
	if err != nil {
		return nil, err
	}
	skipped, err := c.CtlRemoveLocation(name, location, start, end)
	if err != nil {
		return nil, err
	}
	return jsonReply(map[string]int64{"skipped": skipped})
}

func (c *Core) handleCtlAddHypervisor(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	hypervisor, err := qRequired(q, cmn.ParamHypervisor)
	if err != nil {
		return nil, err
	}
	return nil, c.CtlAddHypervisor(name, hypervisor)
}

func (c *Core) handleCtlRemoveHypervisor(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	hypervisor, err := qRequired(q, cmn.ParamHypervisor)
	if err != nil {
		return nil, err
	}
	return nil, c.CtlRemoveHypervisor(name, hypervisor)
}

func (c *Core) handleCtlSynchronize(q url.Values, _ []byte) ([]byte, error) {
	name, start, end, err := rangeParams(q)
	if err != nil {
		return nil, err
	}
	verbose := q.Get(cmn.ParamVerbose) == "true"
	return nil, c.CtlSynchronize(name, start, end, verbose)
}

func (c *Core) handleCtlGetErrorState(url.Values, []byte) ([]byte, error) {
	return jsonReply(c.CtlGetErrorState())
}

func (c *Core) handleCtlGetImageNames(url.Values, []byte) ([]byte, error) {
	names, err := c.CtlGetImageNames()
	if err != nil {
		return nil, err
	}
	return jsonReply(names)
}

func (c *Core) handleCtlGetStats(q url.Values, _ []byte) ([]byte, error) {
	name, err := qRequired(q, cmn.ParamImage)
	if err != nil {
		return nil, err
	}
	snapshot, err := c.CtlGetStats(name)
	if err != nil {
		return nil, err
	}
	return jsonReply(snapshot)
}
