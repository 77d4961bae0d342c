// ukai is the admin CLI for the UKAI distributed block store.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package main

import (
	"fmt"
	"os"

	"github.com/taocat/ukai/cli/commands"
)

const version = "0.5.0"

func main() {
	if err := commands.New(version).Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "ukai: %v\n", err)
		os.Exit(1)
	}
}
