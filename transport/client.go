/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package transport

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/taocat/ukai/cmn"
)

// Caller abstracts the client side so that engines can be wired to an
// in-process loopback in tests.
type Caller interface {
	Call(node, verb string, q url.Values, body []byte) ([]byte, error)
}

// Client issues one verb call per HTTP request. The default transport
// opens one connection per call; NewSessionClient returns a client
// that keeps its connection alive for callers that guarantee
// single-threaded use.
type Client struct {
	port    int
	timeout time.Duration
	http    *http.Client
}

func NewClient(port int, timeout time.Duration) *Client {
	return &Client{
		port:    port,
		timeout: timeout,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{DisableKeepAlives: true},
		},
	}
}

func NewSessionClient(port int, timeout time.Duration) *Client {
	return &Client{
		port:    port,
		timeout: timeout,
		http: &http.Client{
			Timeout:   timeout,
			Transport: &http.Transport{MaxIdleConnsPerHost: 1},
		},
	}
}

// Call invokes a verb on a peer node using the cluster-wide core port.
func (c *Client) Call(node, verb string, q url.Values, body []byte) ([]byte, error) {
	return c.CallAddr(net.JoinHostPort(node, strconv.Itoa(c.port)), verb, q, body)
}

// CallAddr invokes a verb on an explicit host:port.
func (c *Client) CallAddr(addr, verb string, q url.Values, body []byte) ([]byte, error) {
	u := url.URL{Scheme: "http", Host: addr, Path: rpcPathPrefix + verb}
	if q != nil {
		u.RawQuery = q.Encode()
	}
	req, err := http.NewRequest(http.MethodPost, u.String(), bytes.NewReader(body))
	if err != nil {
		return nil, cmn.NewError(cmn.ErrTransport, "%s: %v", verb, err)
	}
	if len(body) > 0 {
		req.Header.Set(HeaderDigest, cmn.Digest(body))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, cmn.NewError(cmn.ErrTransport, "%s to %s: %v", verb, addr, err)
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, cmn.NewError(cmn.ErrTransport, "%s from %s: %v", verb, addr, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if digest := resp.Header.Get(HeaderDigest); digest != "" && digest != cmn.Digest(reply) {
			return nil, cmn.NewError(cmn.ErrTransport, "%s from %s: reply digest mismatch", verb, addr)
		}
		return reply, nil
	}

	// a typed refusal from the callee is a logical error; anything
	// else means the carrier (or an intermediary) broke
	if kind := resp.Header.Get(HeaderErrKind); kind != "" && kind != cmn.ErrTransport {
		return nil, cmn.NewError(kind, "%s", strings.TrimSpace(string(reply)))
	}
	return nil, cmn.NewError(cmn.ErrTransport, "%s to %s: status %d: %s",
		verb, addr, resp.StatusCode, strings.TrimSpace(string(reply)))
}

// ensure the concrete client satisfies the interface engines accept
var _ Caller = (*Client)(nil)

// Wrap decorates an error with verb context while keeping its kind.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	if kind := cmn.ErrKind(err); kind != "" {
		return cmn.NewError(kind, "%s: %v", msg, err)
	}
	return errors.Wrap(err, msg)
}
