/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package commands

import (
	"fmt"
	"sort"

	jsoniter "github.com/json-iterator/go"
	"github.com/urfave/cli"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/health"
	"github.com/taocat/ukai/meta"
)

// diskinfoHandler renders the block placement table: a location index
// legend followed by one line per block with Y/N sync markers.
func diskinfoHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	img, err := fetchMetadata(c, name)
	if err != nil {
		return err
	}

	w := c.App.Writer
	fmt.Fprintf(w, "#\n#  Disk Metadata\n#\nname=%s\nsize=%d\nused_size=%d\nblock_size=%d\n",
		img.Name, img.Size, img.UsedSize, img.BlockSize)

	// stable location indices, in order of first appearance
	locIndex := make(map[string]int)
	locations := make([]string, 0, 4)
	for _, block := range img.Blocks {
		nodes := make([]string, 0, len(block))
		for node := range block {
			nodes = append(nodes, node)
		}
		sort.Strings(nodes)
		for _, node := range nodes {
			if _, ok := locIndex[node]; ok {
				continue
			}
			locIndex[node] = len(locations)
			locations = append(locations, node)
		}
	}

	fmt.Fprint(w, "#\n# Location Index\n#\n")
	for i, node := range locations {
		fmt.Fprintf(w, "%d=%s\n", i, node)
	}

	fmt.Fprint(w, "#\n# Block Information\n#\n# block_index: location_index:sync_status\n#   sync_status: 'Y' = In-sync, 'N' = Out-of-sync\n#\n")
	for idx, block := range img.Blocks {
		fmt.Fprintf(w, "%016d:", idx)
		for i, node := range locations {
			loc, ok := block[node]
			if !ok {
				continue
			}
			marker := "N"
			if loc.SyncStatus == meta.InSync {
				marker = "Y"
			}
			fmt.Fprintf(w, " %d:%s", i, marker)
		}
		fmt.Fprintln(w)
	}
	return nil
}

func errorStateHandler(c *cli.Context) error {
	reply, err := call(c, cmn.VerbCtlGetErrorState, nil, nil)
	if err != nil {
		return err
	}
	var states []health.ErrorState
	if err := jsoniter.Unmarshal(reply, &states); err != nil {
		return err
	}
	if len(states) == 0 {
		fmt.Fprintln(c.App.Writer, "no peers in failure state")
		return nil
	}
	fmt.Fprintf(c.App.Writer, "%-20s %-12s %s\n", "ADDRESS", "RETRY_AFTER", "REASON")
	for _, st := range states {
		fmt.Fprintf(c.App.Writer, "%-20s %-12d %s\n", st.Address, st.RetryAfter, st.Reason)
	}
	return nil
}
