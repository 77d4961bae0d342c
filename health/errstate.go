// Package health tracks peers whose last interaction failed, suppressing
// repeated attempts against them for a fixed suspension window.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package health

import (
	"sync"
	"time"
)

// DefaultSuspend is how long a failed peer stays masked before the
// data path is allowed to try it again.
const DefaultSuspend = 60 * time.Second

type (
	// ErrorState is a snapshot entry of one suspended peer.
	ErrorState struct {
		Address    string `json:"address"`
		Reason     string `json:"reason"`
		RetryAfter int64  `json:"retry_after"` // epoch seconds
	}

	entry struct {
		reason     string
		retryAfter time.Time
	}

	// ErrorStateSet is the failure-suspension cache. All operations
	// are internally serialised; entries expire lazily on read.
	ErrorStateSet struct {
		mtx     sync.Mutex
		suspend time.Duration
		peers   map[string]entry
		now     func() time.Time
	}
)

func NewErrorStateSet() *ErrorStateSet {
	return &ErrorStateSet{
		suspend: DefaultSuspend,
		peers:   make(map[string]entry, 4),
		now:     time.Now,
	}
}

// Add suspends the peer, overwriting any existing entry and restarting
// the suspension window.
func (s *ErrorStateSet) Add(address, reason string) {
	s.mtx.Lock()
	s.peers[address] = entry{reason: reason, retryAfter: s.now().Add(s.suspend)}
	s.mtx.Unlock()
}

// IsInFailure reports whether the peer is currently suspended. An
// expired entry is removed on the way out.
func (s *ErrorStateSet) IsInFailure(address string) bool {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	e, ok := s.peers[address]
	if !ok {
		return false
	}
	if !s.now().Before(e.retryAfter) {
		delete(s.peers, address)
		return false
	}
	return true
}

// Snapshot returns a copy of the live entries for diagnostics.
func (s *ErrorStateSet) Snapshot() []ErrorState {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	list := make([]ErrorState, 0, len(s.peers))
	for address, e := range s.peers {
		list = append(list, ErrorState{
			Address:    address,
			Reason:     e.reason,
			RetryAfter: e.retryAfter.Unix(),
		})
	}
	return list
}
