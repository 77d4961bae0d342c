/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package cmn

import (
	"net"
	"sync"
	"time"
)

// Locations are compared textually against the addresses assigned to
// the local interfaces; IPv4 dotted-quad is the expected form. The
// enumeration is cached for one second to bound syscall cost.

const ifaddrCacheValid = time.Second

var ifaddrCache = struct {
	mtx     sync.Mutex
	enabled bool
	expires time.Time
	addrs   map[string]struct{}
}{enabled: true}

// EnableIfaddrCache switches the one-second interface-address cache;
// it is called once at startup from the ifaddr_cache config key.
func EnableIfaddrCache(enabled bool) {
	ifaddrCache.mtx.Lock()
	ifaddrCache.enabled = enabled
	ifaddrCache.expires = time.Time{}
	ifaddrCache.mtx.Unlock()
}

// IsLocalAddr reports whether addr is assigned to one of the local
// network interfaces.
func IsLocalAddr(addr string) bool {
	ifaddrCache.mtx.Lock()
	defer ifaddrCache.mtx.Unlock()

	now := time.Now()
	if !ifaddrCache.enabled || now.After(ifaddrCache.expires) {
		ifaddrCache.addrs = enumerateIfaddrs()
		ifaddrCache.expires = now.Add(ifaddrCacheValid)
	}
	_, ok := ifaddrCache.addrs[addr]
	return ok
}

func enumerateIfaddrs() map[string]struct{} {
	addrs := make(map[string]struct{}, 8)
	ifaddrs, err := net.InterfaceAddrs()
	if err != nil {
		return addrs
	}
	for _, a := range ifaddrs {
		switch v := a.(type) {
		case *net.IPNet:
			addrs[v.IP.String()] = struct{}{}
		case *net.IPAddr:
			addrs[v.IP.String()] = struct{}{}
		}
	}
	return addrs
}
