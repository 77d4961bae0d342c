// Package cmn provides common low-level types and utilities shared by all UKAI packages.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package cmn

// Wire verbs. The same verb set is served regardless of whether the
// caller is the filesystem bridge, a peer data engine, or the admin CLI.
const (
	// filesystem verbs
	VerbGetattr  = "getattr"
	VerbOpen     = "open"
	VerbRelease  = "release"
	VerbRead     = "read"
	VerbWrite    = "write"
	VerbTruncate = "truncate"
	VerbReaddir  = "readdir"
	VerbStatfs   = "statfs"
	VerbUnlink   = "unlink"
	VerbMkdir    = "mkdir"
	VerbRmdir    = "rmdir"
	VerbRename   = "rename"
	VerbSymlink  = "symlink"
	VerbReadlink = "readlink"
	VerbCreate   = "create"
	VerbChmod    = "chmod"
	VerbChown    = "chown"
	VerbUtimens  = "utimens"

	// proxy verbs (peer data engines)
	VerbProxyRead           = "proxy_read"
	VerbProxyWrite          = "proxy_write"
	VerbProxyAllocate       = "proxy_allocate_dataspace"
	VerbProxyDeallocate     = "proxy_deallocate_dataspace"
	VerbProxyDestroyImage   = "proxy_destroy_image"
	VerbProxyUpdateMetadata = "proxy_update_metadata"

	// control verbs (admin CLI)
	VerbCtlCreateImage      = "ctl_create_image"
	VerbCtlDestroyImage     = "ctl_destroy_image"
	VerbCtlAddImage         = "ctl_add_image"
	VerbCtlRemoveImage      = "ctl_remove_image"
	VerbCtlGetMetadata      = "ctl_get_metadata"
	VerbCtlAddLocation      = "ctl_add_location"
	VerbCtlRemoveLocation   = "ctl_remove_location"
	VerbCtlAddHypervisor    = "ctl_add_hypervisor"
	VerbCtlRemoveHypervisor = "ctl_remove_hypervisor"
	VerbCtlSynchronize      = "ctl_synchronize"
	VerbCtlGetErrorState    = "ctl_get_node_error_state_set"
	VerbCtlGetImageNames    = "ctl_get_image_names"
	VerbCtlGetStats         = "ctl_get_stats"
)

// Query parameters carrying the scalar arguments of a verb. Binary
// payloads always travel in the request (or response) body.
const (
	ParamPath       = "path"
	ParamFlags      = "flags"
	ParamFH         = "fh"
	ParamImage      = "image"
	ParamSize       = "size"
	ParamOffset     = "offset"
	ParamLength     = "length"
	ParamBlockSize  = "block_size"
	ParamBlock      = "block"
	ParamLocation   = "location"
	ParamHypervisor = "hypervisor"
	ParamStart      = "start"
	ParamEnd        = "end"
	ParamVerbose    = "verbose"
)

const (
	// BlocknameFormatDefault is the canonical block file name format:
	// the 16-digit zero-padded decimal block index.
	BlocknameFormatDefault = "%016d"

	// BlockSizeDefault is used by ctl_create_image when the
	// configuration carries no create_default.block_size.
	BlockSizeDefault = 4 * MiB
)

const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
)
