// ukaid is the UKAI node daemon: it serves the filesystem, proxy, and
// control verbs, and optionally mounts the local filesystem bridge.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package main

import (
	"flag"

	"github.com/golang/glog"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/core"
	"github.com/taocat/ukai/db"
	"github.com/taocat/ukai/fuse"
	"github.com/taocat/ukai/transport"
)

var (
	configPath = flag.String("config", cmn.ConfigFileDefault, "path to the configuration file")
	mountpoint = flag.String("mount", "", "mountpoint for the filesystem bridge (none when empty)")
)

func main() {
	flag.Parse()
	defer glog.Flush()

	config, err := cmn.LoadConfig(*configPath)
	if err != nil {
		glog.Fatal(err)
	}
	dir, err := db.New(config)
	if err != nil {
		glog.Fatalf("metadata directory unreachable: %v", err)
	}
	defer dir.Close()

	server := transport.NewServer()
	core.New(config, dir).RegisterVerbs(server)
	if err := server.Listen(config.CoreAddr()); err != nil {
		glog.Fatal(err)
	}

	if *mountpoint == "" {
		if err := server.Serve(); err != nil {
			glog.Fatal(err)
		}
		return
	}

	go func() {
		if err := server.Serve(); err != nil {
			glog.Fatal(err)
		}
	}()
	fuseServer, err := fuse.Mount(*mountpoint, config)
	if err != nil {
		glog.Fatal(err)
	}
	glog.Infof("ukai mounted at %s", *mountpoint)
	fuseServer.Wait()
}
