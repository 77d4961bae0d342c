// Package db implements the client side of the shared metadata
// directory: a replicated key-value service providing atomic per-image
// get/put/delete, a reader-membership list, and named locks.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package db

import (
	"github.com/taocat/ukai/cmn"
)

type (
	// Client is the directory contract. Operations are atomic with
	// respect to each other per image name; composite read-modify-write
	// sequences must run under Lock(name).
	Client interface {
		PutMetadata(name string, payload []byte) error
		// GetMetadata returns a NOT_FOUND error for an absent image.
		GetMetadata(name string) ([]byte, error)
		DeleteMetadata(name string) error

		JoinReader(name, node string) error
		LeaveReader(name, node string) error
		GetReaders(name string) ([]string, error)

		ListImages() ([]string, error)

		// Lock takes the directory-side named lock for the image.
		Lock(name string) (Unlocker, error)

		Close() error
	}

	Unlocker interface {
		Unlock() error
	}
)

// New selects a backend from the configuration: etcd against the
// metadata_servers cluster, or the flat-file backend for single-node
// deployments.
func New(config *cmn.Config) (Client, error) {
	switch config.MetadataBackend {
	case "etcd":
		return NewEtcd(config.MetadataServers, config.RPCTimeout())
	case "scribble":
		return NewScribble(config.DataRoot)
	default:
		return nil, cmn.NewError(cmn.ErrInvalid, "unknown metadata backend %q", config.MetadataBackend)
	}
}
