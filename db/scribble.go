/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package db

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	scribble "github.com/sdomino/scribble"

	"github.com/taocat/ukai/cmn"
)

const (
	scribbleDirName      = "directory.db"
	scribbleMetadata     = "metadata"
	scribbleReaderPrefix = "readers-"
)

// Scribble is the single-node directory backend: canonical metadata
// and reader sets as flat JSON files next to the block data. Named
// locks degenerate to process-local mutexes, which is sufficient
// because only one node ever talks to this directory.
type Scribble struct {
	mtx    sync.Mutex
	driver *scribble.Driver
	root   string
	locks  map[string]*sync.Mutex
}

func NewScribble(dataRoot string) (*Scribble, error) {
	root := filepath.Join(dataRoot, scribbleDirName)
	driver, err := scribble.New(root, nil)
	if err != nil {
		return nil, errors.Wrap(err, "directory open")
	}
	return &Scribble{
		driver: driver,
		root:   root,
		locks:  make(map[string]*sync.Mutex, 4),
	}, nil
}

func (s *Scribble) PutMetadata(name string, payload []byte) error {
	err := s.driver.Write(scribbleMetadata, name, jsoniter.RawMessage(payload))
	return errors.Wrap(err, "directory put")
}

func (s *Scribble) GetMetadata(name string) ([]byte, error) {
	var payload jsoniter.RawMessage
	if err := s.driver.Read(scribbleMetadata, name, &payload); err != nil {
		if os.IsNotExist(err) {
			return nil, cmn.NewError(cmn.ErrNotFound, "image %q not in directory", name)
		}
		return nil, errors.Wrap(err, "directory get")
	}
	return payload, nil
}

func (s *Scribble) DeleteMetadata(name string) error {
	if !s.exists(scribbleMetadata, name) {
		return nil
	}
	return errors.Wrap(s.driver.Delete(scribbleMetadata, name), "directory delete")
}

// exists probes the record file directly: the driver's Delete does not
// distinguish "absent" from real failures.
func (s *Scribble) exists(collection, resource string) bool {
	_, err := os.Stat(filepath.Join(s.root, collection, resource+".json"))
	return err == nil
}

func (s *Scribble) JoinReader(name, node string) error {
	err := s.driver.Write(scribbleReaderPrefix+name, node, node)
	return errors.Wrap(err, "reader join")
}

func (s *Scribble) LeaveReader(name, node string) error {
	if !s.exists(scribbleReaderPrefix+name, node) {
		return nil
	}
	return errors.Wrap(s.driver.Delete(scribbleReaderPrefix+name, node), "reader leave")
}

func (s *Scribble) GetReaders(name string) ([]string, error) {
	records, err := s.driver.ReadAll(scribbleReaderPrefix + name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "reader list")
	}
	readers := make([]string, 0, len(records))
	for _, record := range records {
		var node string
		if err := jsoniter.Unmarshal([]byte(record), &node); err != nil {
			return nil, errors.Wrap(err, "reader list")
		}
		readers = append(readers, node)
	}
	return readers, nil
}

func (s *Scribble) ListImages() ([]string, error) {
	files, err := os.ReadDir(filepath.Join(s.root, scribbleMetadata))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "directory list")
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		names = append(names, strings.TrimSuffix(f.Name(), ".json"))
	}
	return names, nil
}

type scribbleLock struct{ mtx *sync.Mutex }

func (l *scribbleLock) Unlock() error {
	l.mtx.Unlock()
	return nil
}

func (s *Scribble) Lock(name string) (Unlocker, error) {
	s.mtx.Lock()
	mtx, ok := s.locks[name]
	if !ok {
		mtx = &sync.Mutex{}
		s.locks[name] = mtx
	}
	s.mtx.Unlock()
	mtx.Lock()
	return &scribbleLock{mtx: mtx}, nil
}

func (s *Scribble) Close() error { return nil }

var _ Client = (*Scribble)(nil)
