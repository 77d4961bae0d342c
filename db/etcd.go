/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package db

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.etcd.io/etcd/client/v3/concurrency"

	"github.com/taocat/ukai/cmn"
)

const (
	etcdMetadataPrefix = "/ukai/metadata/"
	etcdReadersPrefix  = "/ukai/readers/"
	etcdLockPrefix     = "/ukai/lock/"

	etcdSessionTTL = 30 // seconds; lock lease outlives transient partitions
)

// Etcd is the production directory backend: the metadata_servers
// cluster provides replication, per-key atomicity, and named locks.
type Etcd struct {
	cli     *clientv3.Client
	timeout time.Duration
}

func NewEtcd(endpoints []string, timeout time.Duration) (*Etcd, error) {
	if len(endpoints) == 0 {
		return nil, cmn.NewError(cmn.ErrInvalid, "etcd backend requires metadata_servers")
	}
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: timeout,
	})
	if err != nil {
		return nil, errors.Wrap(err, "directory dial")
	}
	return &Etcd{cli: cli, timeout: timeout}, nil
}

func (e *Etcd) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), e.timeout)
}

func (e *Etcd) PutMetadata(name string, payload []byte) error {
	ctx, cancel := e.ctx()
	defer cancel()
	_, err := e.cli.Put(ctx, etcdMetadataPrefix+name, string(payload))
	return errors.Wrap(err, "directory put")
}

func (e *Etcd) GetMetadata(name string) ([]byte, error) {
	ctx, cancel := e.ctx()
	defer cancel()
	resp, err := e.cli.Get(ctx, etcdMetadataPrefix+name)
	if err != nil {
		return nil, errors.Wrap(err, "directory get")
	}
	if len(resp.Kvs) == 0 {
		return nil, cmn.NewError(cmn.ErrNotFound, "image %q not in directory", name)
	}
	return resp.Kvs[0].Value, nil
}

func (e *Etcd) DeleteMetadata(name string) error {
	ctx, cancel := e.ctx()
	defer cancel()
	_, err := e.cli.Delete(ctx, etcdMetadataPrefix+name)
	return errors.Wrap(err, "directory delete")
}

func (e *Etcd) JoinReader(name, node string) error {
	ctx, cancel := e.ctx()
	defer cancel()
	_, err := e.cli.Put(ctx, path.Join(etcdReadersPrefix+name, node), node)
	return errors.Wrap(err, "reader join")
}

func (e *Etcd) LeaveReader(name, node string) error {
	ctx, cancel := e.ctx()
	defer cancel()
	_, err := e.cli.Delete(ctx, path.Join(etcdReadersPrefix+name, node))
	return errors.Wrap(err, "reader leave")
}

func (e *Etcd) GetReaders(name string) ([]string, error) {
	ctx, cancel := e.ctx()
	defer cancel()
	resp, err := e.cli.Get(ctx, etcdReadersPrefix+name+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, errors.Wrap(err, "reader list")
	}
	readers := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		readers = append(readers, string(kv.Value))
	}
	return readers, nil
}

func (e *Etcd) ListImages() ([]string, error) {
	ctx, cancel := e.ctx()
	defer cancel()
	resp, err := e.cli.Get(ctx, etcdMetadataPrefix,
		clientv3.WithPrefix(), clientv3.WithKeysOnly())
	if err != nil {
		return nil, errors.Wrap(err, "directory list")
	}
	names := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		names = append(names, strings.TrimPrefix(string(kv.Key), etcdMetadataPrefix))
	}
	return names, nil
}

type etcdLock struct {
	session *concurrency.Session
	mutex   *concurrency.Mutex
	timeout time.Duration
}

func (l *etcdLock) Unlock() error {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	err := l.mutex.Unlock(ctx)
	l.session.Close()
	return errors.Wrap(err, "directory unlock")
}

func (e *Etcd) Lock(name string) (Unlocker, error) {
	session, err := concurrency.NewSession(e.cli, concurrency.WithTTL(etcdSessionTTL))
	if err != nil {
		return nil, errors.Wrap(err, "directory lock session")
	}
	mutex := concurrency.NewMutex(session, etcdLockPrefix+name)
	ctx, cancel := e.ctx()
	defer cancel()
	if err := mutex.Lock(ctx); err != nil {
		session.Close()
		return nil, errors.Wrap(err, "directory lock")
	}
	return &etcdLock{session: session, mutex: mutex, timeout: e.timeout}, nil
}

func (e *Etcd) Close() error {
	return e.cli.Close()
}

var _ Client = (*Etcd)(nil)
