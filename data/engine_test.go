/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package data

import (
	"path/filepath"
	"testing"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/db"
	"github.com/taocat/ukai/fs"
	"github.com/taocat/ukai/health"
	"github.com/taocat/ukai/meta"
	"github.com/taocat/ukai/stats"
)

func newTestEngine(t *testing.T) (*Engine, *meta.Metadata, *fakePeer, *health.ErrorStateSet) {
	tmp := t.TempDir()
	dir, err := db.NewScribble(filepath.Join(tmp, "dir"))
	if err != nil {
		t.Fatal(err)
	}
	img := meta.NewImage(imgName, imgSize, blockSize, nodeA, nodeA)
	md := meta.New(img, dir, nil, nodeA)
	peerB := &fakePeer{store: fs.NewBlockStore(filepath.Join(tmp, "b"), "%016d")}
	errset := health.NewErrorStateSet()
	e := NewEngine(md, fs.NewBlockStore(filepath.Join(tmp, "a"), "%016d"),
		errset, stats.NewImageStats(md.BlockCount()), &fakeRPC{peers: map[string]*fakePeer{nodeB: peerB}})
	e.isLocal = func(node string) bool { return node == nodeA }
	return e, md, peerB, errset
}

func TestReadBeyondUsedSizeIsEmpty(t *testing.T) {
	e, md, _, _ := newTestEngine(t)
	if err := md.SetUsedSize(40); err != nil {
		t.Fatal(err)
	}

	data, err := e.Read(4, 40)
	if err != nil {
		t.Fatalf("read at used_size failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("read at used_size returned %d bytes", len(data))
	}
}

func TestReadStraddlingEOFIsShortened(t *testing.T) {
	e, md, _, _ := newTestEngine(t)
	if err := md.SetUsedSize(40); err != nil {
		t.Fatal(err)
	}

	data, err := e.Read(16, 36)
	if err != nil {
		t.Fatalf("straddling read failed: %v", err)
	}
	if len(data) != 4 {
		t.Errorf("straddling read returned %d bytes, want 4", len(data))
	}
}

func TestWriteStraddlingEOFIsRejected(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	if _, err := e.Write(make([]byte, 8), imgSize-4); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("expected INVALID, got %v", err)
	}
	if _, err := e.Write(make([]byte, 4), -1); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("expected INVALID for negative offset, got %v", err)
	}
}

// after a write completes with one suspended location, exactly the
// touched (block, location) pairs of that location are demoted
func TestWriteDemotesExactlyFailedPairs(t *testing.T) {
	e, md, peerB, errset := newTestEngine(t)
	if err := md.AddLocation(nodeB, 0, -1, meta.OutOfSync); err != nil {
		t.Fatal(err)
	}
	// bring every replica of B in sync first
	for b := int64(0); b < md.BlockCount(); b++ {
		if _, err := e.SynchronizeBlock(b); err != nil {
			t.Fatal(err)
		}
	}

	peerB.down = true
	// touches blocks 1 and 2 only
	if _, err := e.Write(make([]byte, 2*blockSize), blockSize); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for b := int64(0); b < md.BlockCount(); b++ {
		want := meta.InSync
		if b == 1 || b == 2 {
			want = meta.OutOfSync
		}
		if st, _ := md.GetSyncStatus(b, nodeB); st != want {
			t.Errorf("block %d on %s: status %d, want %d", b, nodeB, st, want)
		}
		if st, _ := md.GetSyncStatus(b, nodeA); st != meta.InSync {
			t.Errorf("block %d on %s demoted unexpectedly", b, nodeA)
		}
	}
	if !errset.IsInFailure(nodeB) {
		t.Error("failed peer not suspended")
	}
}

func TestSuspendedPeerIsNotWritten(t *testing.T) {
	e, md, peerB, errset := newTestEngine(t)
	if err := md.AddLocation(nodeB, 0, -1, meta.OutOfSync); err != nil {
		t.Fatal(err)
	}
	errset.Add(nodeB, "probe failed")

	if _, err := e.Write(make([]byte, blockSize), 0); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	if peerB.writes != 0 {
		t.Errorf("suspended peer received %d writes", peerB.writes)
	}
	if st, _ := md.GetSyncStatus(0, nodeB); st != meta.OutOfSync {
		t.Error("suspended replica must stay OUT_OF_SYNC")
	}
}

func TestSynchronizeBlockReportsNoChangeWhenInSync(t *testing.T) {
	e, _, _, _ := newTestEngine(t)
	changed, err := e.SynchronizeBlock(0)
	if err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	if changed {
		t.Error("sync of an in-sync block reported a metadata change")
	}
	if _, err := e.SynchronizeBlock(99); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("expected INVALID for out-of-range block, got %v", err)
	}
}
