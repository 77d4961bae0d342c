/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package commands

import (
	"github.com/urfave/cli"
)

// New assembles the ukai admin CLI.
func New(version string) *cli.App {
	app := cli.NewApp()
	app.Name = "ukai"
	app.Usage = "operate a UKAI distributed block store node"
	app.Version = version
	app.Flags = []cli.Flag{serverFlag, portFlag, timeoutFlag}
	app.Commands = []cli.Command{
		{
			Name:      commandCreate,
			Usage:     "create a new disk image",
			ArgsUsage: imageArgument,
			Flags:     []cli.Flag{sizeFlag, blockSizeFlag, locationFlag, hypervisorFlag},
			Action:    createImageHandler,
		},
		{
			Name:      commandDestroy,
			Usage:     "destroy an image and its block data on every location",
			ArgsUsage: imageArgument,
			Action:    destroyImageHandler,
		},
		{
			Name:      commandAttach,
			Usage:     "attach a directory image to this node's runtime",
			ArgsUsage: imageArgument,
			Action:    attachImageHandler,
		},
		{
			Name:      commandDetach,
			Usage:     "detach an image from this node's runtime",
			ArgsUsage: imageArgument,
			Action:    detachImageHandler,
		},
		{
			Name:      commandMetadata,
			Usage:     "print the canonical metadata",
			ArgsUsage: imageArgument,
			Action:    metadataHandler,
		},
		{
			Name:      commandDiskinfo,
			Usage:     "print the per-block location and sync-status table",
			ArgsUsage: imageArgument,
			Action:    diskinfoHandler,
		},
		{
			Name:      commandAddLoc,
			Usage:     "add a storage location over a block range",
			ArgsUsage: imageLocationArgument,
			Flags:     []cli.Flag{startFlag, endFlag},
			Action:    addLocationHandler,
		},
		{
			Name:      commandRemoveLoc,
			Usage:     "remove a storage location over a block range",
			ArgsUsage: imageLocationArgument,
			Flags:     []cli.Flag{startFlag, endFlag},
			Action:    removeLocationHandler,
		},
		{
			Name:      commandAddHv,
			Usage:     "register a hypervisor for metadata fan-out",
			ArgsUsage: imageHvArgument,
			Action:    addHypervisorHandler,
		},
		{
			Name:      commandRemoveHv,
			Usage:     "unregister a hypervisor",
			ArgsUsage: imageHvArgument,
			Action:    removeHypervisorHandler,
		},
		{
			Name:      commandSynchronize,
			Usage:     "synchronize out-of-sync replicas over a block range",
			ArgsUsage: imageArgument,
			Flags:     []cli.Flag{startFlag, endFlag, verboseFlag, progressBarFlag},
			Action:    synchronizeHandler,
		},
		{
			Name:   commandErrorState,
			Usage:  "list peers currently in the failure-suspension cache",
			Action: errorStateHandler,
		},
		{
			Name:   commandImages,
			Usage:  "list the images known to the metadata directory",
			Action: imagesHandler,
		},
		{
			Name:      commandStats,
			Usage:     "print per-block I/O counters of an attached image",
			ArgsUsage: imageArgument,
			Action:    statsHandler,
		},
	}
	return app
}
