/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package data

import (
	"bytes"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/db"
	"github.com/taocat/ukai/fs"
	"github.com/taocat/ukai/health"
	"github.com/taocat/ukai/meta"
	"github.com/taocat/ukai/stats"
)

const (
	nodeA = "192.0.2.1" // local
	nodeB = "192.0.2.2" // remote

	imgName   = "vm0"
	imgSize   = 64
	blockSize = 16
)

// fakePeer serves the proxy verbs of one remote node in-process.
type fakePeer struct {
	store  *fs.BlockStore
	down   bool
	reads  int
	writes int
}

type fakeRPC struct {
	peers map[string]*fakePeer
}

func (r *fakeRPC) Call(node, verb string, q url.Values, body []byte) ([]byte, error) {
	peer, ok := r.peers[node]
	if !ok || peer.down {
		return nil, cmn.NewError(cmn.ErrTransport, "%s to %s: connection refused", verb, node)
	}
	var (
		image    = q.Get(cmn.ParamImage)
		bsize, _ = strconv.ParseInt(q.Get(cmn.ParamBlockSize), 10, 64)
		block, _ = strconv.ParseInt(q.Get(cmn.ParamBlock), 10, 64)
	)
	switch verb {
	case cmn.VerbProxyRead:
		peer.reads++
		offset, _ := strconv.ParseInt(q.Get(cmn.ParamOffset), 10, 64)
		size, _ := strconv.ParseInt(q.Get(cmn.ParamSize), 10, 64)
		data, err := peer.store.Read(image, bsize, block, offset, size)
		if err != nil {
			return nil, err
		}
		return cmn.Compress(data), nil
	case cmn.VerbProxyWrite:
		peer.writes++
		offset, _ := strconv.ParseInt(q.Get(cmn.ParamOffset), 10, 64)
		data, err := cmn.Decompress(body)
		if err != nil {
			return nil, err
		}
		_, err = peer.store.Write(image, bsize, block, offset, data)
		return nil, err
	case cmn.VerbProxyAllocate:
		return nil, peer.store.Allocate(image, bsize, block)
	}
	return nil, cmn.NewError(cmn.ErrInvalid, "unexpected verb %q", verb)
}

var _ = Describe("Engine", func() {
	var (
		tmp    string
		dir    db.Client
		md     *meta.Metadata
		peerB  *fakePeer
		errset *health.ErrorStateSet
		engine *Engine
	)

	BeforeEach(func() {
		var err error
		tmp, err = os.MkdirTemp("", "ukai-engine")
		Expect(err).NotTo(HaveOccurred())

		dir, err = db.NewScribble(filepath.Join(tmp, "dir"))
		Expect(err).NotTo(HaveOccurred())

		img := meta.NewImage(imgName, imgSize, blockSize, nodeA, nodeA)
		md = meta.New(img, dir, nil, nodeA)

		peerB = &fakePeer{store: fs.NewBlockStore(filepath.Join(tmp, "b"), "%016d")}
		errset = health.NewErrorStateSet()
		engine = NewEngine(md, fs.NewBlockStore(filepath.Join(tmp, "a"), "%016d"),
			errset, stats.NewImageStats(md.BlockCount()), &fakeRPC{peers: map[string]*fakePeer{nodeB: peerB}})
		engine.isLocal = func(node string) bool { return node == nodeA }
	})

	AfterEach(func() {
		os.RemoveAll(tmp)
	})

	statusOf := func(block int64, node string) meta.SyncStatus {
		st, err := md.GetSyncStatus(block, node)
		Expect(err).NotTo(HaveOccurred())
		return st
	}

	It("reads zeros from a fresh image", func() {
		data, err := engine.Read(4, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal(make([]byte, 4)))
		for b := int64(0); b < md.BlockCount(); b++ {
			Expect(md.Locations(b)).To(ConsistOf(nodeA))
			Expect(statusOf(b, nodeA)).To(Equal(meta.InSync))
		}
	})

	It("heals an out-of-sync replica on first write", func() {
		Expect(md.AddLocation(nodeB, 0, -1, meta.OutOfSync)).To(Succeed())

		n, err := engine.Write([]byte("hello"), 10)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(5))

		// block 0 was synchronised to B before the piece write
		Expect(statusOf(0, nodeB)).To(Equal(meta.InSync))
		for b := int64(1); b < md.BlockCount(); b++ {
			Expect(statusOf(b, nodeB)).To(Equal(meta.OutOfSync))
		}

		blockA, err := engine.getData(nodeA, 0, 0, blockSize)
		Expect(err).NotTo(HaveOccurred())
		blockB, err := peerB.store.Read(imgName, blockSize, 0, 0, blockSize)
		Expect(err).NotTo(HaveOccurred())
		Expect(bytes.Equal(blockA, blockB)).To(BeTrue(), "replicas diverge after healing")
		Expect(blockA[10:15]).To(Equal([]byte("hello")))
	})

	It("continues a write through an unreachable replica", func() {
		Expect(md.AddLocation(nodeB, 0, -1, meta.OutOfSync)).To(Succeed())
		_, err := engine.Write([]byte("hello"), 10) // heal block 0 onto B
		Expect(err).NotTo(HaveOccurred())
		peerB.down = true

		n, err := engine.Write([]byte("ABCDEFGH"), 14)
		Expect(err).NotTo(HaveOccurred())
		Expect(n).To(BeEquivalentTo(8), "the caller sees the full length")

		data, err := engine.Read(8, 14)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("ABCDEFGH")), "both pieces landed on the local replica")

		Expect(statusOf(0, nodeB)).To(Equal(meta.OutOfSync))
		Expect(statusOf(1, nodeB)).To(Equal(meta.OutOfSync))
		Expect(statusOf(0, nodeA)).To(Equal(meta.InSync))
		Expect(statusOf(1, nodeA)).To(Equal(meta.InSync))
		Expect(errset.IsInFailure(nodeB)).To(BeTrue())
		Expect(errset.Snapshot()).To(HaveLen(1))
	})

	It("prefers the local replica on reads", func() {
		Expect(md.AddLocation(nodeB, 0, -1, meta.OutOfSync)).To(Succeed())
		changed, err := engine.SynchronizeBlock(0)
		Expect(err).NotTo(HaveOccurred())
		Expect(changed).To(BeTrue())
		Expect(statusOf(0, nodeB)).To(Equal(meta.InSync))
		peerB.reads = 0

		_, err = engine.Read(4, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(peerB.reads).To(BeZero(), "local preference must not issue proxy_read")
	})

	It("falls back to the remote replica when the local one breaks", func() {
		Expect(md.AddLocation(nodeB, 0, -1, meta.OutOfSync)).To(Succeed())
		Expect(engine.Write([]byte("remote wins"), 0)).To(BeEquivalentTo(11))

		// the local replica of block 0 goes bad
		Expect(md.SetSyncStatus(0, nodeA, meta.OutOfSync)).To(Succeed())

		data, err := engine.Read(11, 0)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal([]byte("remote wins")))
		Expect(peerB.reads).To(BeNumerically(">", 0))
	})

	It("fails with DATA_UNAVAILABLE when no replica remains", func() {
		Expect(md.SetSyncStatus(2, nodeA, meta.OutOfSync)).To(Succeed())
		_, err := engine.Read(4, 2*blockSize)
		Expect(cmn.IsKind(err, cmn.ErrDataUnavailable)).To(BeTrue(), "got: %v", err)
	})

	It("round-trips what it wrote", func() {
		payload := []byte("The quick brown fox jumps over the lazy dog spans several blocks")[:imgSize-3]
		Expect(engine.Write(payload, 3)).To(BeEquivalentTo(len(payload)))
		data, err := engine.Read(int64(len(payload)), 3)
		Expect(err).NotTo(HaveOccurred())
		Expect(data).To(Equal(payload))
	})
})
