/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package meta

import (
	"testing"

	jsoniter "github.com/json-iterator/go"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/db"
)

const (
	testSize      = 64
	testBlockSize = 16
	nodeA         = "192.0.2.1"
	nodeB         = "192.0.2.2"
)

func newTestMetadata(t *testing.T) (*Metadata, db.Client) {
	dir, err := db.NewScribble(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	img := NewImage("vm0", testSize, testBlockSize, nodeA, nodeA)
	if err := img.Validate(); err != nil {
		t.Fatalf("fresh image invalid: %v", err)
	}
	return New(img, dir, nil, nodeA), dir
}

func TestNewImageShape(t *testing.T) {
	img := NewImage("vm0", testSize, testBlockSize, nodeA, nodeA)
	if img.BlockCount() != 4 || len(img.Blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %d", len(img.Blocks))
	}
	if img.UsedSize != testSize {
		t.Errorf("used_size must start at size, got %d", img.UsedSize)
	}
	for i, block := range img.Blocks {
		loc, ok := block[nodeA]
		if !ok || loc.SyncStatus != InSync {
			t.Errorf("block %d not IN_SYNC on the initial location", i)
		}
	}
}

func TestValidateRejections(t *testing.T) {
	base := func() *Image { return NewImage("vm0", testSize, testBlockSize, nodeA, nodeA) }

	img := base()
	img.BlockSize = 0
	if err := img.Validate(); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("zero block_size accepted")
	}

	img = base()
	img.Size = testBlockSize
	if err := img.Validate(); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("size == block_size accepted")
	}

	img = base()
	img.Size = testSize + 1
	if err := img.Validate(); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("non-multiple size accepted")
	}

	img = base()
	img.UsedSize = testSize + 1
	if err := img.Validate(); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("used_size > size accepted")
	}

	img = base()
	img.Blocks = img.Blocks[:3]
	if err := img.Validate(); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("short block sequence accepted")
	}

	img = base()
	img.Blocks[2] = Block{}
	if err := img.Validate(); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("empty location map accepted")
	}

	img = base()
	img.Blocks[0][nodeA].SyncStatus = 7
	if err := img.Validate(); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("unknown sync_status accepted")
	}
}

func TestCanonicalJSONStatusValues(t *testing.T) {
	img := NewImage("vm0", testSize, testBlockSize, nodeA, nodeA)
	img.Blocks[1][nodeB] = &Location{SyncStatus: OutOfSync}

	payload, err := jsoniter.Marshal(img)
	if err != nil {
		t.Fatal(err)
	}
	var raw map[string]interface{}
	if err := jsoniter.Unmarshal(payload, &raw); err != nil {
		t.Fatal(err)
	}
	blocks := raw["blocks"].([]interface{})
	b1 := blocks[1].(map[string]interface{})
	if st := b1[nodeA].(map[string]interface{})["sync_status"].(float64); st != 0 {
		t.Errorf("IN_SYNC must encode as 0, got %v", st)
	}
	if st := b1[nodeB].(map[string]interface{})["sync_status"].(float64); st != 2 {
		t.Errorf("OUT_OF_SYNC must encode as 2, got %v", st)
	}

	back, err := Unmarshal(payload)
	if err != nil {
		t.Fatalf("round trip rejected: %v", err)
	}
	if back.Blocks[1][nodeB].SyncStatus != OutOfSync {
		t.Error("round trip lost a sync status")
	}
}

func TestAddRemoveLocationNoop(t *testing.T) {
	m, _ := newTestMetadata(t)
	before := string(m.Marshal())

	if err := m.AddLocation(nodeB, 0, -1, OutOfSync); err != nil {
		t.Fatalf("add location failed: %v", err)
	}
	for i := int64(0); i < m.BlockCount(); i++ {
		if st, err := m.GetSyncStatus(i, nodeB); err != nil || st != OutOfSync {
			t.Errorf("block %d: expected OUT_OF_SYNC on %s, got %v %v", i, nodeB, st, err)
		}
	}

	skipped, err := m.RemoveLocation(nodeB, 0, -1)
	if err != nil {
		t.Fatalf("remove location failed: %v", err)
	}
	if skipped != 0 {
		t.Errorf("removal of a redundant location skipped %d blocks", skipped)
	}
	if after := string(m.Marshal()); after != before {
		t.Errorf("add+remove was not a no-op:\n%s\n%s", before, after)
	}
}

func TestAddLocationIdempotentAndPartial(t *testing.T) {
	m, _ := newTestMetadata(t)
	if err := m.AddLocation(nodeB, 1, 2, OutOfSync); err != nil {
		t.Fatal(err)
	}
	// re-adding over an overlapping range must not reset statuses
	if err := m.SetSyncStatus(1, nodeB, InSync); err != nil {
		t.Fatal(err)
	}
	if err := m.AddLocation(nodeB, 0, -1, OutOfSync); err != nil {
		t.Fatal(err)
	}
	if st, _ := m.GetSyncStatus(1, nodeB); st != InSync {
		t.Error("add_location reset the status of an existing entry")
	}
	if st, _ := m.GetSyncStatus(0, nodeB); st != OutOfSync {
		t.Error("add_location did not fill the uncovered block")
	}
}

func TestRemoveLocationProtectsLastInSync(t *testing.T) {
	m, _ := newTestMetadata(t)

	// A is the only IN_SYNC holder everywhere: nothing may be removed
	skipped, err := m.RemoveLocation(nodeA, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if skipped != m.BlockCount() {
		t.Errorf("expected all %d blocks skipped, got %d", m.BlockCount(), skipped)
	}
	for i := int64(0); i < m.BlockCount(); i++ {
		if st, err := m.GetSyncStatus(i, nodeA); err != nil || st != InSync {
			t.Fatalf("block %d lost its last IN_SYNC replica", i)
		}
	}

	// B in sync on block 0 only: removing A skips all but block 0
	if err := m.AddLocation(nodeB, 0, -1, OutOfSync); err != nil {
		t.Fatal(err)
	}
	if err := m.SetSyncStatus(0, nodeB, InSync); err != nil {
		t.Fatal(err)
	}
	skipped, err = m.RemoveLocation(nodeA, 0, -1)
	if err != nil {
		t.Fatal(err)
	}
	if skipped != m.BlockCount()-1 {
		t.Errorf("expected %d skipped, got %d", m.BlockCount()-1, skipped)
	}
	if _, err := m.GetSyncStatus(0, nodeA); !cmn.IsKind(err, cmn.ErrNotFound) {
		t.Error("block 0 still lists the removed location")
	}
}

func TestHypervisorSetSemantics(t *testing.T) {
	m, _ := newTestMetadata(t)

	if err := m.AddHypervisor(nodeB); err != nil {
		t.Fatal(err)
	}
	if err := m.AddHypervisor(nodeB); err != nil {
		t.Fatal(err)
	}
	hvs := m.Hypervisors()
	if len(hvs) != 2 {
		t.Errorf("add_hypervisor not idempotent: %v", hvs)
	}

	if err := m.RemoveHypervisor("198.51.100.9"); err != nil {
		t.Errorf("removing an absent hypervisor must be a no-op, got %v", err)
	}
	if err := m.RemoveHypervisor(nodeB); err != nil {
		t.Fatal(err)
	}
	if hvs := m.Hypervisors(); len(hvs) != 1 || hvs[0] != nodeA {
		t.Errorf("unexpected hypervisor set %v", hvs)
	}
}

func TestFlushPersistsToDirectory(t *testing.T) {
	m, dir := newTestMetadata(t)
	if err := m.Flush(); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	payload, err := dir.GetMetadata("vm0")
	if err != nil {
		t.Fatalf("directory copy missing after flush: %v", err)
	}
	img, err := Unmarshal(payload)
	if err != nil {
		t.Fatalf("directory copy invalid: %v", err)
	}
	if img.Size != testSize || img.BlockSize != testBlockSize {
		t.Errorf("directory copy corrupted: %+v", img)
	}
}

func TestSetUsedSizeBounds(t *testing.T) {
	m, _ := newTestMetadata(t)
	if err := m.SetUsedSize(testSize + 1); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Error("used_size beyond size accepted")
	}
	if err := m.SetUsedSize(10); err != nil {
		t.Fatalf("shrink failed: %v", err)
	}
	if m.UsedSize() != 10 {
		t.Errorf("used_size not applied: %d", m.UsedSize())
	}
}

func TestStripesOfOrderingAndDedup(t *testing.T) {
	// a wrapping range must still come out ascending
	list := stripesOf(LockStripes-2, LockStripes+2)
	if len(list) != 4 {
		t.Fatalf("expected 4 stripes, got %v", list)
	}
	for i := 1; i < len(list); i++ {
		if list[i] <= list[i-1] {
			t.Fatalf("stripes not ascending: %v", list)
		}
	}

	// a range wider than the table covers every stripe exactly once
	list = stripesOf(0, 3*LockStripes)
	if len(list) != LockStripes {
		t.Fatalf("expected %d stripes, got %d", LockStripes, len(list))
	}

	if stripesOf(5, 5) != nil {
		t.Error("empty interval must lock nothing")
	}
}
