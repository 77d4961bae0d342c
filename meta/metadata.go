// Package meta maintains the authoritative in-memory metadata of one
// disk image: its block layout, per-(block, location) synchronisation
// state, per-block locks, and the propagation of metadata mutations to
// the directory and to peer hypervisors.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package meta

import (
	"sync"

	"github.com/golang/glog"
	jsoniter "github.com/json-iterator/go"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/db"
)

// SyncStatus is the per-(block, location) replica state.
type SyncStatus int

const (
	InSync    SyncStatus = 0
	Syncing   SyncStatus = 1 // reserved
	OutOfSync SyncStatus = 2
)

type (
	// Location is the per-location state within a block entry.
	Location struct {
		SyncStatus SyncStatus `json:"sync_status"`
	}

	// Block maps location address to its replica state. The block
	// number is the index within Image.Blocks.
	Block map[string]*Location

	// Image is the canonical metadata form, stored verbatim (as JSON)
	// in the metadata directory.
	Image struct {
		Name        string   `json:"name"`
		Size        int64    `json:"size"`
		UsedSize    int64    `json:"used_size"`
		BlockSize   int64    `json:"block_size"`
		Hypervisors []string `json:"hypervisors"`
		Blocks      []Block  `json:"blocks"`
	}

	// Pusher delivers a compressed metadata payload to one peer
	// hypervisor (the proxy_update_metadata verb).
	Pusher interface {
		PushMetadata(node, name string, compressed []byte) error
	}

	// Metadata is the live object: the canonical Image plus the
	// whole-image write lock and the per-block lock table. Mutating
	// operations lock, mutate, and flush before returning; readers of
	// block state take the block lock of the block they inspect.
	Metadata struct {
		mtx       sync.RWMutex
		locks     lockTable
		img       *Image
		dir       db.Client
		pusher    Pusher
		localNode string
	}
)

// NewImage composes the initial metadata of a fresh image: every block
// IN_SYNC on the single initial location.
func NewImage(name string, size, blockSize int64, location, hypervisor string) *Image {
	img := &Image{
		Name:        name,
		Size:        size,
		UsedSize:    size,
		BlockSize:   blockSize,
		Hypervisors: []string{hypervisor},
		Blocks:      make([]Block, size/blockSize),
	}
	for i := range img.Blocks {
		img.Blocks[i] = Block{location: {SyncStatus: InSync}}
	}
	return img
}

func (img *Image) BlockCount() int64 { return img.Size / img.BlockSize }

// Validate rejects structurally broken metadata; it runs on every
// directory load and on every metadata push from a peer.
func (img *Image) Validate() error {
	if img.Name == "" {
		return cmn.NewError(cmn.ErrInvalid, "metadata: empty image name")
	}
	if img.BlockSize < 1 {
		return cmn.NewError(cmn.ErrInvalid, "%s: block_size %d < 1", img.Name, img.BlockSize)
	}
	if img.Size <= img.BlockSize {
		return cmn.NewError(cmn.ErrInvalid, "%s: size %d must exceed block_size %d",
			img.Name, img.Size, img.BlockSize)
	}
	if img.Size%img.BlockSize != 0 {
		return cmn.NewError(cmn.ErrInvalid, "%s: size %d not a multiple of block_size %d",
			img.Name, img.Size, img.BlockSize)
	}
	if img.UsedSize < 0 || img.UsedSize > img.Size {
		return cmn.NewError(cmn.ErrInvalid, "%s: used_size %d out of [0, %d]",
			img.Name, img.UsedSize, img.Size)
	}
	if int64(len(img.Blocks)) != img.BlockCount() {
		return cmn.NewError(cmn.ErrInvalid, "%s: %d block entries, want %d",
			img.Name, len(img.Blocks), img.BlockCount())
	}
	for i, block := range img.Blocks {
		if len(block) == 0 {
			return cmn.NewError(cmn.ErrInvalid, "%s: block %d has no locations", img.Name, i)
		}
		for node, loc := range block {
			if loc == nil {
				return cmn.NewError(cmn.ErrInvalid, "%s: block %d location %q is null",
					img.Name, i, node)
			}
			switch loc.SyncStatus {
			case InSync, Syncing, OutOfSync:
			default:
				return cmn.NewError(cmn.ErrInvalid, "%s: block %d location %q has sync_status %d",
					img.Name, i, node, loc.SyncStatus)
			}
		}
	}
	return nil
}

// New wraps a validated Image into a live metadata object. localNode
// is this node's identity; it is skipped during hypervisor fan-out.
func New(img *Image, dir db.Client, pusher Pusher, localNode string) *Metadata {
	return &Metadata{img: img, dir: dir, pusher: pusher, localNode: localNode}
}

// Load pulls the canonical metadata from the directory and validates.
func Load(dir db.Client, name string, pusher Pusher, localNode string) (*Metadata, error) {
	payload, err := dir.GetMetadata(name)
	if err != nil {
		return nil, err
	}
	img, err := Unmarshal(payload)
	if err != nil {
		return nil, err
	}
	return New(img, dir, pusher, localNode), nil
}

func Unmarshal(payload []byte) (*Image, error) {
	img := &Image{}
	if err := jsoniter.Unmarshal(payload, img); err != nil {
		return nil, cmn.NewError(cmn.ErrInvalid, "metadata: %v", err)
	}
	return img, img.Validate()
}

//
// accessors
//

func (m *Metadata) Name() string { return m.img.Name } // immutable

func (m *Metadata) Size() int64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.img.Size
}

func (m *Metadata) UsedSize() int64 {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.img.UsedSize
}

func (m *Metadata) BlockSize() int64 { return m.img.BlockSize } // immutable

func (m *Metadata) BlockCount() int64 { return m.img.Size / m.img.BlockSize }

func (m *Metadata) Hypervisors() []string {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return append([]string(nil), m.img.Hypervisors...)
}

// Locations returns the location addresses of one block.
func (m *Metadata) Locations(blockIdx int64) []string {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	block := m.img.Blocks[blockIdx]
	locations := make([]string, 0, len(block))
	for node := range block {
		locations = append(locations, node)
	}
	return locations
}

func (m *Metadata) GetSyncStatus(blockIdx int64, node string) (SyncStatus, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	loc, ok := m.img.Blocks[blockIdx][node]
	if !ok {
		return 0, cmn.NewError(cmn.ErrNotFound, "%s: block %d has no location %q",
			m.img.Name, blockIdx, node)
	}
	return loc.SyncStatus, nil
}

// SetSyncStatus mutates one replica state. The caller holds the block
// lock and is responsible for flushing; the data path batches many
// status changes into a single flush.
func (m *Metadata) SetSyncStatus(blockIdx int64, node string, status SyncStatus) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	loc, ok := m.img.Blocks[blockIdx][node]
	if !ok {
		return cmn.NewError(cmn.ErrNotFound, "%s: block %d has no location %q",
			m.img.Name, blockIdx, node)
	}
	loc.SyncStatus = status
	return nil
}

// Marshal returns the canonical JSON payload.
func (m *Metadata) Marshal() []byte {
	m.mtx.RLock()
	defer m.mtx.RUnlock()
	return m.marshalLocked()
}

func (m *Metadata) marshalLocked() []byte {
	payload, err := jsoniter.Marshal(m.img)
	cmn.AssertNoErr(err)
	return payload
}

//
// mutation operations; each locks, mutates, flushes
//

// SetUsedSize shrinks or grows the guest-visible length (truncate).
func (m *Metadata) SetUsedSize(length int64) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if length > m.img.Size {
		return cmn.NewError(cmn.ErrInvalid, "%s: used_size %d exceeds size %d",
			m.img.Name, length, m.img.Size)
	}
	m.img.UsedSize = length
	return m.flushLocked()
}

// AddLocation inserts the location into every block of [start, end]
// that lacks it, with the given initial status. end < 0 means the last
// block. Idempotent per block.
func (m *Metadata) AddLocation(node string, start, end int64, status SyncStatus) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	start, end, err := m.clampRangeLocked(start, end)
	if err != nil {
		return err
	}
	for i := start; i <= end; i++ {
		if _, ok := m.img.Blocks[i][node]; ok {
			continue
		}
		m.img.Blocks[i][node] = &Location{SyncStatus: status}
	}
	return m.flushLocked()
}

// RemoveLocation drops the location from every block of [start, end]
// where at least one other IN_SYNC location remains; blocks where the
// removal would drop the last IN_SYNC replica are skipped and counted.
func (m *Metadata) RemoveLocation(node string, start, end int64) (skipped int64, err error) {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	start, end, err = m.clampRangeLocked(start, end)
	if err != nil {
		return 0, err
	}
	for i := start; i <= end; i++ {
		block := m.img.Blocks[i]
		if _, ok := block[node]; !ok {
			continue
		}
		inSyncElsewhere := false
		for other, loc := range block {
			if other != node && loc.SyncStatus == InSync {
				inSyncElsewhere = true
				break
			}
		}
		if !inSyncElsewhere {
			skipped++
			continue
		}
		delete(block, node)
	}
	return skipped, m.flushLocked()
}

func (m *Metadata) clampRangeLocked(start, end int64) (int64, int64, error) {
	last := int64(len(m.img.Blocks)) - 1
	if end < 0 {
		end = last
	}
	if start < 0 || start > end || end > last {
		return 0, 0, cmn.NewError(cmn.ErrInvalid, "%s: block range [%d, %d] out of [0, %d]",
			m.img.Name, start, end, last)
	}
	return start, end, nil
}

// AddHypervisor registers a peer to receive metadata updates; adding a
// listed hypervisor is a no-op (but still flushes).
func (m *Metadata) AddHypervisor(node string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	listed := false
	for _, h := range m.img.Hypervisors {
		if h == node {
			listed = true
			break
		}
	}
	if !listed {
		m.img.Hypervisors = append(m.img.Hypervisors, node)
	}
	return m.flushLocked()
}

func (m *Metadata) RemoveHypervisor(node string) error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	for i, h := range m.img.Hypervisors {
		if h == node {
			m.img.Hypervisors = append(m.img.Hypervisors[:i], m.img.Hypervisors[i+1:]...)
			break
		}
	}
	return m.flushLocked()
}

// Update replaces the canonical content in place (metadata push from a
// peer hypervisor). Runtime state - locks, directory binding - stays.
func (m *Metadata) Update(img *Image) error {
	if err := img.Validate(); err != nil {
		return err
	}
	m.mtx.Lock()
	defer m.mtx.Unlock()
	if img.Name != m.img.Name || img.BlockSize != m.img.BlockSize {
		return cmn.NewError(cmn.ErrInvalid, "%s: identity change in metadata update", m.img.Name)
	}
	m.img = img
	return nil
}

// Flush persists the metadata to the directory and fans it out to
// every listed hypervisor other than the local node.
func (m *Metadata) Flush() error {
	m.mtx.Lock()
	defer m.mtx.Unlock()
	return m.flushLocked()
}

func (m *Metadata) flushLocked() error {
	payload := m.marshalLocked()
	if err := m.dir.PutMetadata(m.img.Name, payload); err != nil {
		return err
	}
	if m.pusher == nil {
		return nil
	}
	var compressed []byte
	for _, h := range m.img.Hypervisors {
		if h == m.localNode || cmn.IsLocalAddr(h) {
			continue
		}
		if compressed == nil {
			compressed = cmn.Compress(payload)
		}
		// a refused update is not fatal: the directory copy is
		// authoritative and the peer reconciles on its next open
		if err := m.pusher.PushMetadata(h, m.img.Name, compressed); err != nil {
			glog.Warningf("%s: metadata push to %s: %v", m.img.Name, h, err)
		}
	}
	return nil
}
