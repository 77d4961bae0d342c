/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package commands

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"

	"github.com/taocat/ukai/cmn"
)

func secondArg(c *cli.Context, what string) (string, error) {
	v := c.Args().Get(1)
	if v == "" {
		return "", fmt.Errorf("missing %s argument", what)
	}
	return v, nil
}

func addLocationHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	location, err := secondArg(c, "LOCATION")
	if err != nil {
		return err
	}
	q := rangeQuery(c, name)
	q.Set(cmn.ParamLocation, location)
	_, err = call(c, cmn.VerbCtlAddLocation, q, nil)
	return err
}

func removeLocationHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	location, err := secondArg(c, "LOCATION")
	if err != nil {
		return err
	}
	q := rangeQuery(c, name)
	q.Set(cmn.ParamLocation, location)
	reply, err := call(c, cmn.VerbCtlRemoveLocation, q, nil)
	if err != nil {
		return err
	}
	var result struct {
		Skipped int64 `json:"skipped"`
	}
	if err := jsoniter.Unmarshal(reply, &result); err != nil {
		return err
	}
	if result.Skipped > 0 {
		fmt.Fprintf(c.App.Writer,
			"%d block(s) kept %s: removal would drop their last in-sync replica\n",
			result.Skipped, location)
	}
	return nil
}

func addHypervisorHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	hypervisor, err := secondArg(c, "HYPERVISOR")
	if err != nil {
		return err
	}
	q := imageQuery(name)
	q.Set(cmn.ParamHypervisor, hypervisor)
	_, err = call(c, cmn.VerbCtlAddHypervisor, q, nil)
	return err
}

func removeHypervisorHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	hypervisor, err := secondArg(c, "HYPERVISOR")
	if err != nil {
		return err
	}
	q := imageQuery(name)
	q.Set(cmn.ParamHypervisor, hypervisor)
	_, err = call(c, cmn.VerbCtlRemoveHypervisor, q, nil)
	return err
}
