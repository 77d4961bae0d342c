// Package transport provides the typed call/reply RPC carried between
// UKAI nodes over intra-cluster HTTP. Scalar arguments travel as query
// parameters, binary payloads as the request and response bodies; bulk
// data is deflate-compressed end-to-end by the caller.
/*
 * Copyright (c) 2014, IIJ Innovation Institute Inc. All rights reserved.
 */
package transport

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/golang/glog"
	"github.com/taocat/ukai/cmn"
)

const (
	rpcPathPrefix = "/v1/rpc/"

	// HeaderErrKind discriminates a logical error reply from a
	// transport failure: its presence means the callee ran and
	// refused, its absence on a non-2xx means the carrier broke.
	HeaderErrKind = "X-Ukai-Error-Kind"
	// HeaderDigest carries the xxhash64 of the body bytes as sent,
	// next to every non-empty request and reply body.
	HeaderDigest = "X-Ukai-Payload-Digest"
)

// Handler serves one verb. The returned bytes become the response
// body; a returned KindError is surfaced to the caller with its kind
// intact, anything else maps to TRANSPORT_ERROR on the far side.
type Handler func(q url.Values, body []byte) ([]byte, error)

type Server struct {
	mux      *http.ServeMux
	srv      *http.Server
	listener net.Listener
	handlers map[string]Handler
}

func NewServer() *Server {
	s := &Server{
		mux:      http.NewServeMux(),
		handlers: make(map[string]Handler, 32),
	}
	s.mux.HandleFunc(rpcPathPrefix, s.dispatch)
	s.srv = &http.Server{Handler: s.mux}
	return s
}

// Register binds a verb name to its handler. Registration happens
// before Listen; re-registering a verb is a programming error.
func (s *Server) Register(verb string, h Handler) {
	_, ok := s.handlers[verb]
	cmn.AssertMsg(!ok, "verb registered twice: "+verb)
	s.handlers[verb] = h
}

func (s *Server) Listen(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.listener = listener
	return nil
}

// Addr returns the bound address; valid after Listen.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

func (s *Server) Serve() error {
	glog.Infof("transport: serving on %s", s.Addr())
	err := s.srv.Serve(s.listener)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Close() error {
	return s.srv.Close()
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	verb := strings.TrimPrefix(r.URL.Path, rpcPathPrefix)
	h, ok := s.handlers[verb]
	if !ok {
		writeError(w, cmn.NewError(cmn.ErrInvalid, "unknown verb %q", verb))
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, cmn.NewError(cmn.ErrInvalid, "%s: reading request: %v", verb, err))
		return
	}
	if digest := r.Header.Get(HeaderDigest); digest != "" && digest != cmn.Digest(body) {
		writeError(w, cmn.NewError(cmn.ErrInvalid, "%s: payload digest mismatch", verb))
		return
	}

	reply, err := h(r.URL.Query(), body)
	if err != nil {
		if glog.V(4) {
			glog.Infof("%s: %v", verb, err)
		}
		writeError(w, err)
		return
	}
	if len(reply) > 0 {
		w.Header().Set(HeaderDigest, cmn.Digest(reply))
		w.Write(reply)
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := cmn.ErrKind(err)
	if kind == "" {
		kind = cmn.ErrTransport
	}
	w.Header().Set(HeaderErrKind, kind)
	http.Error(w, err.Error(), statusOf(kind))
}

func statusOf(kind string) int {
	switch kind {
	case cmn.ErrNotFound:
		return http.StatusNotFound
	case cmn.ErrBusy, cmn.ErrExists:
		return http.StatusConflict
	case cmn.ErrInvalid:
		return http.StatusBadRequest
	case cmn.ErrPermission:
		return http.StatusForbidden
	case cmn.ErrDataUnavailable:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}
