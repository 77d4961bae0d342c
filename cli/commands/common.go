// Package commands provides the set of CLI commands used to operate a
// UKAI node. This specific file contains common constants, flags, and
// the client plumbing shared by the command handlers.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package commands

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/urfave/cli"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/transport"
)

const (
	// Commands - preferably verbs
	commandCreate      = "create"
	commandDestroy     = "destroy"
	commandAttach      = "attach"
	commandDetach      = "detach"
	commandMetadata    = "metadata"
	commandDiskinfo    = "diskinfo"
	commandAddLoc      = "add-location"
	commandRemoveLoc   = "remove-location"
	commandAddHv       = "add-hypervisor"
	commandRemoveHv    = "remove-hypervisor"
	commandSynchronize = "synchronize"
	commandErrorState  = "error-state"
	commandImages      = "images"
	commandStats       = "stats"

	// Argument placeholders in help messages
	imageArgument         = "IMAGE_NAME"
	imageLocationArgument = "IMAGE_NAME LOCATION"
	imageHvArgument       = "IMAGE_NAME HYPERVISOR"

	serverDefault = "127.0.0.1"
	portDefault   = 22221
)

var (
	// Global
	serverFlag = cli.StringFlag{Name: "server,s",
		Usage: "address of the core service", Value: serverDefault}
	portFlag = cli.IntFlag{Name: "port,p",
		Usage: "port of the core service", Value: portDefault}
	timeoutFlag = cli.DurationFlag{Name: "timeout",
		Usage: "per-call timeout", Value: 30 * time.Second}

	// Create
	sizeFlag = cli.Int64Flag{Name: "size",
		Usage: "image size in bytes, a multiple of the block size", Required: true}
	blockSizeFlag = cli.Int64Flag{Name: "block-size",
		Usage: "block size in bytes (the node default when omitted)"}
	locationFlag = cli.StringFlag{Name: "location",
		Usage: "initial storage location (this node when omitted)"}
	hypervisorFlag = cli.StringFlag{Name: "hypervisor",
		Usage: "initial hypervisor (the initial location when omitted)"}

	// Block ranges
	startFlag = cli.Int64Flag{Name: "start", Usage: "first block index", Value: 0}
	endFlag   = cli.Int64Flag{Name: "end", Usage: "last block index (-1 = last)", Value: -1}

	// Synchronize
	verboseFlag     = cli.BoolFlag{Name: "verbose,v", Usage: "verbose"}
	progressBarFlag = cli.BoolTFlag{Name: "progress", Usage: "display progress bar"}
)

// call issues one control verb against the node named by the global
// flags.
func call(c *cli.Context, verb string, q url.Values, body []byte) ([]byte, error) {
	var (
		server  = c.GlobalString("server")
		port    = c.GlobalInt("port")
		timeout = c.GlobalDuration("timeout")
	)
	client := transport.NewClient(port, timeout)
	return client.CallAddr(net.JoinHostPort(server, strconv.Itoa(port)), verb, q, body)
}

func imageArg(c *cli.Context) (string, error) {
	name := c.Args().First()
	if name == "" {
		return "", fmt.Errorf("missing %s argument", imageArgument)
	}
	return name, nil
}

func imageQuery(name string) url.Values {
	return url.Values{cmn.ParamImage: []string{name}}
}

func rangeQuery(c *cli.Context, name string) url.Values {
	q := imageQuery(name)
	q.Set(cmn.ParamStart, strconv.FormatInt(c.Int64("start"), 10))
	q.Set(cmn.ParamEnd, strconv.FormatInt(c.Int64("end"), 10))
	return q
}
