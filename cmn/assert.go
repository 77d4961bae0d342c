/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package cmn

import "github.com/golang/glog"

func Assert(cond bool) {
	if !cond {
		glog.Fatal("assertion failed")
	}
}

func AssertMsg(cond bool, msg string) {
	if !cond {
		glog.Fatal("assertion failed: ", msg)
	}
}

func AssertNoErr(err error) {
	if err != nil {
		glog.Fatal(err)
	}
}
