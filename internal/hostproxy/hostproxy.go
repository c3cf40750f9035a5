// Package hostproxy is the minimal concrete "host proxy" SPEC_FULL.md
// section 13 adds to make the engine package a runnable module: spec.md
// treats the proxy framework as an external collaborator and defines only
// the callback contract (its section 6). No intercepting-proxy library
// exists anywhere in the retrieved corpus, so this host is hand-built the
// way the teacher builds its own HTTP surface (internal/api/server.go),
// using net/http (an http.Transport) for the forward-proxy round trip.
//
// TLS MITM is explicitly out of scope per spec.md section 1 ("TLS MITM" is
// named as an out-of-scope proxy-framework responsibility); HTTPS is
// handled via plain CONNECT tunneling (no interception), which still lets
// every plain-HTTP flow exercise the full onRequest/onResponse/onError
// callback contract.
package hostproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/ersatzhttp/ersatz/internal/engine"
	"github.com/ersatzhttp/ersatz/internal/model"
)

// Server is a plain-HTTP forward proxy that calls into an *engine.Engine
// around every upstream round trip.
type Server struct {
	Addr   string
	Engine *engine.Engine
	Logger *log.Logger

	httpServer *http.Server
	transport  *http.Transport
}

// New constructs a Server bound to addr, invoking callbacks on eng.
func New(addr string, eng *engine.Engine, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{
		Addr:   addr,
		Engine: eng,
		Logger: logger,
		transport: &http.Transport{
			Proxy:               nil,
			MaxIdleConns:        100,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: http.HandlerFunc(s.handle),
	}
	return s
}

// ListenAndServe starts the proxy; it blocks until Shutdown is called or
// an unrecoverable error occurs.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the proxy.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		s.handleConnect(w, r)
		return
	}
	s.handleForward(w, r)
}

// handleConnect tunnels HTTPS without interception, matching spec.md
// section 1's exclusion of TLS MITM from the engine's responsibilities.
func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	destConn, err := net.DialTimeout("tcp", r.Host, 10*time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer destConn.Close()

	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "hijacking not supported", http.StatusInternalServerError)
		return
	}
	clientConn, _, err := hijacker.Hijack()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer clientConn.Close()

	if _, err := clientConn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() { io.Copy(destConn, clientConn); done <- struct{}{} }()
	go func() { io.Copy(clientConn, destConn); done <- struct{}{} }()
	<-done
}

func (s *Server) handleForward(w http.ResponseWriter, r *http.Request) {
	req, err := requestFromHTTP(r)
	if err != nil {
		s.Logger.Printf("ersatz: reading request: %v", err)
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	flow := &model.Flow{Request: req}

	synthetic, err := s.Engine.OnRequest(flow)
	if err != nil {
		s.Engine.OnError(flow, err)
	}

	if synthetic != nil {
		flow.Response = synthetic
		writeResponse(w, synthetic)
		return
	}

	upstreamResp, err := s.roundTrip(flow.Request)
	if err != nil {
		s.Engine.OnError(flow, err)
		http.Error(w, "upstream error: "+err.Error(), http.StatusBadGateway)
		return
	}
	flow.Response = upstreamResp

	if _, err := s.Engine.OnResponse(flow); err != nil {
		s.Engine.OnError(flow, err)
	}

	writeResponse(w, flow.Response)
}

func (s *Server) roundTrip(req *model.Request) (*model.Response, error) {
	url := fmt.Sprintf("%s://%s%s", req.Scheme, req.Host, req.RawPath)
	httpReq, err := http.NewRequest(req.Method, url, strings.NewReader(req.Text))
	if err != nil {
		return nil, err
	}
	for _, k := range req.Headers.Keys() {
		if v, ok := req.Headers.Get(k); ok {
			httpReq.Header.Set(k, v)
		}
	}

	resp, err := s.transport.RoundTrip(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	headers := model.NewOrderedStrings()
	for k, vs := range resp.Header {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}

	return &model.Response{
		StatusCode: resp.StatusCode,
		Headers:    headers,
		Text:       string(body),
		Content:    body,
	}, nil
}

func requestFromHTTP(r *http.Request) (*model.Request, error) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, err
	}

	headers := model.NewOrderedStrings()
	for k, vs := range r.Header {
		for _, v := range vs {
			headers.Add(k, v)
		}
	}

	query := model.NewOrderedStrings()
	for k, vs := range r.URL.Query() {
		for _, v := range vs {
			query.Add(k, v)
		}
	}

	scheme := "http"
	host := r.Host
	if r.URL.Scheme != "" {
		scheme = r.URL.Scheme
	}
	if r.URL.Host != "" {
		host = r.URL.Host
	}

	path, rawPath := engine.SplitRawPath(r.URL.RequestURI())

	return &model.Request{
		Scheme:  scheme,
		Host:    host,
		Method:  r.Method,
		Path:    path,
		RawPath: rawPath,
		Query:   query,
		Headers: headers,
		Text:    string(body),
		Content: body,
	}, nil
}

func writeResponse(w http.ResponseWriter, resp *model.Response) {
	for _, k := range resp.Headers.Keys() {
		if v, ok := resp.Headers.Get(k); ok {
			w.Header().Set(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Content)
}

// httpResponseFactory implements model.ResponseFactory for this host.
type httpResponseFactory struct{}

// NewResponseFactory returns the default model.ResponseFactory for this host.
func NewResponseFactory() model.ResponseFactory { return httpResponseFactory{} }

func (httpResponseFactory) Make(status int, body []byte, headers *model.OrderedStrings) (*model.Response, error) {
	if status < 100 || status > 599 {
		return nil, errors.New("invalid status code")
	}
	return &model.Response{
		StatusCode: status,
		Headers:    headers,
		Text:       string(body),
		Content:    body,
	}, nil
}
