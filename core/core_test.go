/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package core

import (
	"path/filepath"
	"sort"
	"syscall"
	"testing"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/db"
	"github.com/taocat/ukai/meta"
)

const localNode = "127.0.0.1"

func newTestCore(t *testing.T) (*Core, db.Client) {
	tmp := t.TempDir()
	config := &cmn.Config{
		ID:              localNode,
		DataRoot:        filepath.Join(tmp, "data"),
		MetadataBackend: "scribble",
		CoreServer:      localNode,
		CorePort:        22221,
		BlocknameFormat: "%016d",
		CreateDefault:   cmn.CreateDefault{BlockSize: 16},
		RPCTimeoutSec:   1,
	}
	dir, err := db.NewScribble(filepath.Join(tmp, "dir"))
	if err != nil {
		t.Fatal(err)
	}
	return New(config, dir), dir
}

func createTestImage(t *testing.T, c *Core, name string) {
	if err := c.CtlCreateImage(name, 64, 16, "", ""); err != nil {
		t.Fatalf("create image failed: %v", err)
	}
}

func TestCtlCreateImage(t *testing.T) {
	c, dir := newTestCore(t)
	createTestImage(t, c, "vm0")

	payload, err := dir.GetMetadata("vm0")
	if err != nil {
		t.Fatalf("canonical metadata missing: %v", err)
	}
	img, err := meta.Unmarshal(payload)
	if err != nil {
		t.Fatalf("canonical metadata invalid: %v", err)
	}
	if img.Size != 64 || img.BlockSize != 16 || img.UsedSize != 64 {
		t.Errorf("unexpected metadata %+v", img)
	}
	if len(img.Hypervisors) != 1 || img.Hypervisors[0] != localNode {
		t.Errorf("hypervisors must default to the initial location: %v", img.Hypervisors)
	}
	for i, block := range img.Blocks {
		if block[localNode] == nil || block[localNode].SyncStatus != meta.InSync {
			t.Errorf("block %d not IN_SYNC on the initial location", i)
		}
	}

	if err := c.CtlCreateImage("vm0", 64, 16, "", ""); !cmn.IsKind(err, cmn.ErrExists) {
		t.Errorf("expected EXISTS on duplicate create, got %v", err)
	}
	if err := c.CtlCreateImage("vm1", 65, 16, "", ""); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("expected INVALID for non-multiple size, got %v", err)
	}
}

func TestGetattr(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")

	st, err := c.Getattr("/")
	if err != nil || !st.IsDir {
		t.Fatalf("root getattr: %+v %v", st, err)
	}

	st, err = c.Getattr("/vm0")
	if err != nil {
		t.Fatalf("image getattr failed: %v", err)
	}
	if st.IsDir || st.Size != 64 {
		t.Errorf("unexpected stat %+v", st)
	}

	if _, err := c.Getattr("/nonesuch"); !cmn.IsKind(err, cmn.ErrNotFound) {
		t.Errorf("expected NOT_FOUND, got %v", err)
	}
}

func TestWriterExclusion(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")

	fh1, err := c.Open("/vm0", syscall.O_RDWR)
	if err != nil {
		t.Fatalf("first write open failed: %v", err)
	}

	if _, err := c.Open("/vm0", syscall.O_WRONLY); !cmn.IsKind(err, cmn.ErrBusy) {
		t.Errorf("second write open: expected BUSY, got %v", err)
	}

	fhRD, err := c.Open("/vm0", syscall.O_RDONLY)
	if err != nil {
		t.Errorf("concurrent read open failed: %v", err)
	}
	if fhRD == fh1 {
		t.Error("handle ids must be fresh per open")
	}

	if err := c.Release("/vm0", fh1); err != nil {
		t.Fatal(err)
	}
	fh2, err := c.Open("/vm0", syscall.O_RDWR)
	if err != nil {
		t.Errorf("write open after release failed: %v", err)
	}
	c.Release("/vm0", fh2)
	c.Release("/vm0", fhRD)
}

// the writer mark of one image must survive releases of handles on
// other images
func TestReleaseIsPerImage(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")
	createTestImage(t, c, "vm1")

	fhW, err := c.Open("/vm0", syscall.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}
	fhR, err := c.Open("/vm1", syscall.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Release("/vm1", fhR); err != nil {
		t.Fatal(err)
	}

	if _, err := c.Open("/vm0", syscall.O_WRONLY); !cmn.IsKind(err, cmn.ErrBusy) {
		t.Errorf("writer mark lost by a release on another image: %v", err)
	}
	c.Release("/vm0", fhW)
}

func TestReleaseEvictsOnLastClose(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")

	fh1, _ := c.Open("/vm0", syscall.O_RDONLY)
	fh2, _ := c.Open("/vm0", syscall.O_RDONLY)
	if c.lookup("vm0") == nil {
		t.Fatal("image not materialised on open")
	}
	c.Release("/vm0", fh1)
	if c.lookup("vm0") == nil {
		t.Error("image evicted while still open")
	}
	c.Release("/vm0", fh2)
	if c.lookup("vm0") != nil {
		t.Error("image not evicted on last release")
	}
}

func TestReadWriteThroughCore(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")

	if _, err := c.Read("/vm0", 4, 0); !cmn.IsKind(err, cmn.ErrNotFound) {
		t.Errorf("read of unopened image: expected NOT_FOUND, got %v", err)
	}

	fh, err := c.Open("/vm0", syscall.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release("/vm0", fh)

	n, err := c.Write("/vm0", []byte("hello"), 10)
	if err != nil || n != 5 {
		t.Fatalf("write failed: %d %v", n, err)
	}
	data, err := c.Read("/vm0", 5, 10)
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("read back %q", data)
	}
}

func TestTruncate(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")

	if err := c.Truncate("/vm0", 100); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("growing truncate: expected INVALID, got %v", err)
	}
	if err := c.Truncate("/vm0", 32); err != nil {
		t.Fatalf("shrinking truncate failed: %v", err)
	}
	st, err := c.Getattr("/vm0")
	if err != nil {
		t.Fatal(err)
	}
	if st.Size != 32 {
		t.Errorf("getattr size %d after truncate, want 32", st.Size)
	}
}

func TestReaddir(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")
	fh, err := c.Open("/vm0", syscall.O_RDONLY)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Release("/vm0", fh)

	entries, err := c.Readdir("/")
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(entries)
	want := []string{".", "..", "vm0"}
	sort.Strings(want)
	if len(entries) != 3 || entries[0] != want[0] || entries[1] != want[1] || entries[2] != want[2] {
		t.Errorf("unexpected readdir %v", entries)
	}
}

func TestProxyUpdateMetadataMaterialises(t *testing.T) {
	c, dir := newTestCore(t)

	img := meta.NewImage("vm9", 64, 16, "192.0.2.7", "192.0.2.7")
	payload := meta.New(img, dir, nil, localNode).Marshal()

	if err := c.ProxyUpdateMetadata("vm9", cmn.Compress(payload)); err != nil {
		t.Fatalf("metadata push refused: %v", err)
	}
	if c.lookup("vm9") == nil {
		t.Error("pushed image not materialised")
	}
	if _, err := dir.GetMetadata("vm9"); err != nil {
		t.Errorf("pushed metadata not persisted: %v", err)
	}

	// an update with a different identity must be refused
	bogus := meta.NewImage("other", 64, 16, "192.0.2.7", "192.0.2.7")
	bogusPayload := meta.New(bogus, dir, nil, localNode).Marshal()
	if err := c.ProxyUpdateMetadata("vm9", cmn.Compress(bogusPayload)); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("expected INVALID for renamed payload, got %v", err)
	}
}

func TestProxyBlockVerbs(t *testing.T) {
	c, _ := newTestCore(t)

	if err := c.ProxyAllocate("vm0", 16, 0); err != nil {
		t.Fatalf("allocate failed: %v", err)
	}
	if _, err := c.ProxyWrite("vm0", 16, 0, 4, cmn.Compress([]byte("data"))); err != nil {
		t.Fatalf("proxy write failed: %v", err)
	}
	reply, err := c.ProxyRead("vm0", 16, 0, 4, 4)
	if err != nil {
		t.Fatalf("proxy read failed: %v", err)
	}
	data, err := cmn.Decompress(reply)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "data" {
		t.Errorf("read back %q", data)
	}
	if err := c.ProxyDeallocate("vm0", 0); err != nil {
		t.Errorf("deallocate failed: %v", err)
	}
	if err := c.ProxyDestroyImage("vm0"); err != nil {
		t.Errorf("destroy failed: %v", err)
	}
}

func TestCtlSynchronizeValidatesRange(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")

	// second local location cannot exist; instead verify the verb's
	// range validation and its no-op behaviour on a healthy image
	if err := c.CtlSynchronize("vm0", 0, -1, false); err != nil {
		t.Errorf("sync of a healthy image failed: %v", err)
	}
	if err := c.CtlSynchronize("vm0", 2, 1, false); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("expected INVALID for reversed range, got %v", err)
	}
	if err := c.CtlSynchronize("vm0", 0, 99, false); !cmn.IsKind(err, cmn.ErrInvalid) {
		t.Errorf("expected INVALID for out-of-range end, got %v", err)
	}
}

func TestCtlLocationAndHypervisorVerbs(t *testing.T) {
	c, dir := newTestCore(t)
	createTestImage(t, c, "vm0")

	if err := c.CtlAddLocation("vm0", "192.0.2.9", 0, -1); err != nil {
		t.Fatalf("add location failed: %v", err)
	}
	skipped, err := c.CtlRemoveLocation("vm0", localNode, 0, -1)
	if err != nil {
		t.Fatalf("remove location failed: %v", err)
	}
	if skipped != 4 {
		t.Errorf("expected all 4 blocks skipped (would drop last IN_SYNC), got %d", skipped)
	}

	if err := c.CtlAddHypervisor("vm0", "192.0.2.9"); err != nil {
		t.Fatal(err)
	}
	payload, _ := dir.GetMetadata("vm0")
	img, err := meta.Unmarshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(img.Hypervisors) != 2 {
		t.Errorf("hypervisor not persisted: %v", img.Hypervisors)
	}

	if err := c.CtlRemoveHypervisor("vm0", "192.0.2.9"); err != nil {
		t.Fatal(err)
	}
}

func TestCtlAddRemoveImage(t *testing.T) {
	c, _ := newTestCore(t)
	createTestImage(t, c, "vm0")

	if err := c.CtlAddImage("vm0"); err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	if err := c.CtlAddImage("vm0"); !cmn.IsKind(err, cmn.ErrExists) {
		t.Errorf("expected EXISTS on double attach, got %v", err)
	}
	if c.lookup("vm0") == nil {
		t.Fatal("image not attached")
	}
	if err := c.CtlRemoveImage("vm0"); err != nil {
		t.Fatalf("detach failed: %v", err)
	}
	if err := c.CtlRemoveImage("vm0"); !cmn.IsKind(err, cmn.ErrNotFound) {
		t.Errorf("expected NOT_FOUND on double detach, got %v", err)
	}
}

func TestCtlDestroyImage(t *testing.T) {
	c, dir := newTestCore(t)
	createTestImage(t, c, "vm0")

	fh, err := c.Open("/vm0", syscall.O_RDWR)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Write("/vm0", []byte("payload"), 0); err != nil {
		t.Fatal(err)
	}
	c.Release("/vm0", fh)

	if err := c.CtlDestroyImage("vm0"); err != nil {
		t.Fatalf("destroy failed: %v", err)
	}
	if _, err := dir.GetMetadata("vm0"); !cmn.IsKind(err, cmn.ErrNotFound) {
		t.Error("canonical metadata survived destroy")
	}
	names, err := c.CtlGetImageNames()
	if err != nil {
		t.Fatal(err)
	}
	if len(names) != 0 {
		t.Errorf("image list not empty after destroy: %v", names)
	}
}
