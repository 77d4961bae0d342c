/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package commands

import (
	"fmt"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/stats"
)

func createImageHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	q := imageQuery(name)
	q.Set(cmn.ParamSize, strconv.FormatInt(c.Int64("size"), 10))
	if c.IsSet("block-size") {
		q.Set(cmn.ParamBlockSize, strconv.FormatInt(c.Int64("block-size"), 10))
	}
	if location := c.String("location"); location != "" {
		q.Set(cmn.ParamLocation, location)
	}
	if hypervisor := c.String("hypervisor"); hypervisor != "" {
		q.Set(cmn.ParamHypervisor, hypervisor)
	}
	if _, err := call(c, cmn.VerbCtlCreateImage, q, nil); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "image %q created\n", name)
	return nil
}

func destroyImageHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	if _, err := call(c, cmn.VerbCtlDestroyImage, imageQuery(name), nil); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "image %q destroyed\n", name)
	return nil
}

func attachImageHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	_, err = call(c, cmn.VerbCtlAddImage, imageQuery(name), nil)
	return err
}

func detachImageHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	_, err = call(c, cmn.VerbCtlRemoveImage, imageQuery(name), nil)
	return err
}

func metadataHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	payload, err := call(c, cmn.VerbCtlGetMetadata, imageQuery(name), nil)
	if err != nil {
		return err
	}
	var pretty interface{}
	if err := jsoniter.Unmarshal(payload, &pretty); err != nil {
		return err
	}
	out, err := jsoniter.MarshalIndent(pretty, "", "    ")
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, string(out))
	return nil
}

func imagesHandler(c *cli.Context) error {
	reply, err := call(c, cmn.VerbCtlGetImageNames, nil, nil)
	if err != nil {
		return err
	}
	var names []string
	if err := jsoniter.Unmarshal(reply, &names); err != nil {
		return err
	}
	for _, name := range names {
		fmt.Fprintln(c.App.Writer, name)
	}
	return nil
}

func statsHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	reply, err := call(c, cmn.VerbCtlGetStats, imageQuery(name), nil)
	if err != nil {
		return err
	}
	var snapshot []stats.BlockStat
	if err := jsoniter.Unmarshal(reply, &snapshot); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "%-16s %12s %12s\n", "BLOCK", "READS", "WRITES")
	for _, bs := range snapshot {
		fmt.Fprintf(c.App.Writer, "%016d %12d %12d\n", bs.Block, bs.ReadOps, bs.WriteOps)
	}
	return nil
}
