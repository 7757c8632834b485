// Package queryserver implements the control channel: a raw TCP
// listener that accepts one JSON request per connection, drives the
// Backend Selector, mints a token, and eagerly installs Sessions for
// every configured data-plane listener that matches a port-map name
// in the winning Binding.
package queryserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"k8s.io/apimachinery/pkg/runtime/schema"

	"github.com/nitecon/director/internal/core"
	"github.com/nitecon/director/internal/k8slabel"
	"github.com/nitecon/director/internal/selector"
	"github.com/nitecon/director/internal/session"
	"github.com/nitecon/director/internal/transport"
)

// requestTimeout bounds how long a single connection may take to send
// its request and receive its response.
const requestTimeout = 10 * time.Second

// CandidateLister is the (possibly cached) source of candidates the
// Selector runs against.
type CandidateLister interface {
	List(ctx context.Context, gvr schema.GroupVersionResource, namespace, labelSelector string) ([]core.Candidate, error)
}

// TokenPutter mints tokens for selected Bindings.
type TokenPutter interface {
	Put(binding core.Binding) core.Token
}

type statusQueryRequest struct {
	JSONPath       string   `json:"jsonPath"`
	ExpectedValue  string   `json:"expectedValue"`
	ExpectedValues []string `json:"expectedValues"`
}

type selectRequest struct {
	ResourceType       string              `json:"resourceType"`
	Namespace          string              `json:"namespace"`
	LabelSelector      map[string]string   `json:"labelSelector"`
	AnnotationSelector map[string]string   `json:"annotationSelector"`
	StatusQuery        *statusQueryRequest `json:"statusQuery"`
}

type selectResponse struct {
	Token   string           `json:"token,omitempty"`
	Address string           `json:"address,omitempty"`
	Ports   map[string]int32 `json:"ports,omitempty"`
	Error   string           `json:"error,omitempty"`
}

// Server is a transport.Listener implementing the Query Server.
type Server struct {
	addr string

	lister    CandidateLister
	kindMap   map[string]core.KindSpec
	lb        core.LBConfig
	counter   core.HostCounter
	tokens    TokenPutter
	sessions  *session.Table
	dataPorts []core.DataPortSpec

	log *slog.Logger
	ln  net.Listener
}

// New returns a Server listening on addr.
func New(
	addr string,
	lister CandidateLister,
	kindMap map[string]core.KindSpec,
	lb core.LBConfig,
	counter core.HostCounter,
	tokens TokenPutter,
	sessions *session.Table,
	dataPorts []core.DataPortSpec,
) *Server {
	return &Server{
		addr:      addr,
		lister:    lister,
		kindMap:   kindMap,
		lb:        lb,
		counter:   counter,
		tokens:    tokens,
		sessions:  sessions,
		dataPorts: dataPorts,
		log:       slog.Default().With("component", "queryserver"),
	}
}

var _ transport.Listener = (*Server)(nil)

// Start binds the listen socket and accepts connections until ctx is
// cancelled.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	s.ln = ln
	s.log.Info("query server listening", "addr", s.addr)

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		go s.handle(ctx, conn)
	}
}

// Stop closes the listen socket, unblocking Accept.
func (s *Server) Stop(ctx context.Context) error {
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(requestTimeout))

	var req selectRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		s.respond(conn, selectResponse{Error: "malformed request"})
		return
	}

	binding, err := s.process(ctx, req, conn.RemoteAddr())
	if err != nil {
		s.respond(conn, selectResponse{Error: err.Error()})
		return
	}

	token := s.tokens.Put(binding)
	s.installSessions(conn.RemoteAddr(), binding)

	s.respond(conn, selectResponse{
		Token:   string(token),
		Address: binding.Host,
		Ports:   binding.Ports,
	})
}

func (s *Server) process(ctx context.Context, req selectRequest, remote net.Addr) (core.Binding, error) {
	spec, ok := s.kindMap[req.ResourceType]
	if !ok {
		return core.Binding{}, &core.ErrUnknownResourceType{ResourceType: req.ResourceType}
	}

	candidates, err := s.lister.List(ctx, schema.GroupVersionResource{
		Group: spec.Group, Version: spec.Version, Resource: spec.Resource,
	}, req.Namespace, k8slabel.String(req.LabelSelector))
	if err != nil {
		return core.Binding{}, &core.ErrResourceLookupFailed{Cause: err}
	}

	return selector.Select(candidates, spec, toCoreRequest(req), s.lb, s.counter)
}

// installSessions implements the "eager install" step: every
// configured data-plane listener whose name appears in the binding's
// port-map gets a Session keyed by the query client's source endpoint
// and that listener's protocol/port.
func (s *Server) installSessions(remote net.Addr, binding core.Binding) {
	endpoint, ok := addrPort(remote)
	if !ok {
		return
	}
	for _, dp := range s.dataPorts {
		if _, ok := binding.Ports[dp.Name]; !ok {
			continue
		}
		key := core.SessionKey{Endpoint: endpoint, Protocol: dp.Protocol, ListenPort: dp.Port}
		s.sessions.Upsert(key, binding)
	}
}

func (s *Server) respond(conn net.Conn, resp selectResponse) {
	if err := json.NewEncoder(conn).Encode(resp); err != nil {
		s.log.Warn("failed to write response", "error", err)
	}
}

func toCoreRequest(req selectRequest) core.SelectRequest {
	var sq *core.StatusQuery
	if req.StatusQuery != nil {
		values := req.StatusQuery.ExpectedValues
		if req.StatusQuery.ExpectedValue != "" {
			values = append(values, req.StatusQuery.ExpectedValue)
		}
		sq = &core.StatusQuery{JSONPath: req.StatusQuery.JSONPath, ExpectedValues: values}
	}
	return core.SelectRequest{
		ResourceType:       req.ResourceType,
		Namespace:          req.Namespace,
		LabelSelector:      req.LabelSelector,
		AnnotationSelector: req.AnnotationSelector,
		StatusQuery:        sq,
	}
}

func addrPort(addr net.Addr) (netip.AddrPort, bool) {
	tcpAddr, ok := addr.(*net.TCPAddr)
	if !ok {
		return netip.AddrPort{}, false
	}
	ap, ok := netip.AddrFromSlice(tcpAddr.IP)
	if !ok {
		return netip.AddrPort{}, false
	}
	return netip.AddrPortFrom(ap.Unmap(), uint16(tcpAddr.Port)), true
}
