/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package cmn

import (
	"bytes"
	"io"
	"strconv"

	"github.com/OneOfOne/xxhash"
	"github.com/klauspost/compress/flate"
	"github.com/pkg/errors"
)

// Block payloads and metadata pushes are deflate-compressed end-to-end.
// The compression level trades CPU for wire size on whole-block copies;
// BestSpeed keeps synchronisation from becoming CPU bound.

func Compress(data []byte) []byte {
	var b bytes.Buffer
	w, err := flate.NewWriter(&b, flate.BestSpeed)
	AssertNoErr(err) // only fails on an invalid level
	_, err = w.Write(data)
	AssertNoErr(err)
	AssertNoErr(w.Close())
	return b.Bytes()
}

func Decompress(data []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "inflate")
	}
	return out, nil
}

// Digest is the payload checksum carried next to every non-empty RPC
// request and reply body, computed over the body bytes as sent (for
// block payloads, the compressed bytes).
func Digest(data []byte) string {
	return strconv.FormatUint(xxhash.Checksum64(data), 16)
}
