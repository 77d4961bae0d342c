/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package commands

import (
	"fmt"
	"strconv"

	"github.com/urfave/cli"
	"github.com/vbauerster/mpb/v4"
	"github.com/vbauerster/mpb/v4/decor"

	"github.com/taocat/ukai/cmn"
	"github.com/taocat/ukai/meta"
)

// synchronizeHandler drives the heal block by block so that it can
// render progress; a plain range call would give no feedback on a
// multi-terabyte image.
func synchronizeHandler(c *cli.Context) error {
	name, err := imageArg(c)
	if err != nil {
		return err
	}
	img, err := fetchMetadata(c, name)
	if err != nil {
		return err
	}

	var (
		start = c.Int64("start")
		end   = c.Int64("end")
		last  = img.BlockCount() - 1
	)
	if end < 0 {
		end = last
	}
	if start < 0 || start > end || end > last {
		return fmt.Errorf("block range [%d, %d] out of [0, %d]", start, end, last)
	}

	var bar *mpb.Bar
	progress := mpb.New(mpb.WithWidth(64), mpb.WithOutput(c.App.Writer))
	if c.BoolT("progress") && !c.Bool("verbose") {
		bar = progress.AddBar(end-start+1,
			mpb.PrependDecorators(decor.Name(name+" "), decor.CountersNoUnit("%d / %d")),
			mpb.AppendDecorators(decor.Percentage()),
		)
	}

	for b := start; b <= end; b++ {
		if c.Bool("verbose") {
			fmt.Fprintf(c.App.Writer, "syncing block %d (from %d to %d)\n", b, start, end)
		}
		q := imageQuery(name)
		q.Set(cmn.ParamStart, strconv.FormatInt(b, 10))
		q.Set(cmn.ParamEnd, strconv.FormatInt(b, 10))
		if _, err := call(c, cmn.VerbCtlSynchronize, q, nil); err != nil {
			if bar != nil {
				bar.Abort(false)
			}
			return err
		}
		if bar != nil {
			bar.Increment()
		}
	}
	if bar != nil {
		progress.Wait()
	}
	return nil
}

func fetchMetadata(c *cli.Context, name string) (*meta.Image, error) {
	payload, err := call(c, cmn.VerbCtlGetMetadata, imageQuery(name), nil)
	if err != nil {
		return nil, err
	}
	return meta.Unmarshal(payload)
}
