// server.go - Broker server.
// Copyright (C) 2026  David Stainton.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package server implements the broker server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"github.com/zeebo/blake3"
	"gopkg.in/op/go-logging.v1"

	"github.com/katzenpost/broker/core/log"
	"github.com/katzenpost/broker/core/utils"
	"github.com/katzenpost/broker/core/worker"
	"github.com/katzenpost/broker/rpc"
	"github.com/katzenpost/broker/server/config"
	"github.com/katzenpost/broker/server/internal/catalog"
	"github.com/katzenpost/broker/server/internal/instrument"
	"github.com/katzenpost/broker/server/internal/keyring"
	"github.com/katzenpost/broker/server/internal/profiling"
	"github.com/katzenpost/broker/server/internal/registry"
	"github.com/katzenpost/broker/server/internal/routes"
	"github.com/katzenpost/broker/server/internal/store"
	"github.com/katzenpost/broker/server/internal/store/boltstore"
	"github.com/katzenpost/broker/server/internal/store/pgxstore"
	"github.com/katzenpost/broker/server/internal/tokens"
)

const shutdownGracePeriod = 5 * time.Second

// ErrGenerateOnly is the error returned when the server initialization
// terminates due to the `GenerateOnly` debug config option.
var ErrGenerateOnly = errors.New("server: GenerateOnly set")

// Server is a broker server instance.
type Server struct {
	worker.Worker

	cfg *config.Config

	logBackend *log.Backend
	log        *logging.Logger

	store    store.Store
	keyring  *keyring.Keyring
	tokens   *tokens.Issuer
	catalog  *catalog.Catalog
	registry *registry.Registry
	routes   *routes.Resolver
	broker   *Broker

	listeners   []net.Listener
	httpServers []*http.Server

	fatalErrCh chan error
	haltedCh   chan interface{}
	haltOnce   sync.Once
}

func (s *Server) initLogging() error {
	p := s.cfg.Logging.File
	if !s.cfg.Logging.Disable && s.cfg.Logging.File != "" {
		if !filepath.IsAbs(p) {
			p = filepath.Join(s.cfg.Server.DataDir, p)
		}
	}

	var err error
	s.logBackend, err = log.New(p, s.cfg.Logging.Level, s.cfg.Logging.Disable)
	if err == nil {
		s.log = s.logBackend.GetLogger("server")
	}
	return err
}

func (s *Server) initStore() error {
	var err error
	switch s.cfg.Database.Backend {
	case config.BackendPostgres:
		s.store, err = pgxstore.New(s.cfg.Database.PostgresURL, s.cfg.Database.MaxConnections, s.logBackend.GetLogger("pgx"), s.cfg.Logging.Level)
	default:
		s.store, err = boltstore.New(s.cfg.Database.BoltFile)
	}
	if err != nil {
		return fmt.Errorf("server: failed to open %v store: %w", s.cfg.Database.Backend, err)
	}
	return nil
}

// Broker returns the broker operations served by the Server.
func (s *Server) Broker() *Broker {
	return s.broker
}

// Addrs returns the addresses the RPC listeners are bound to.
func (s *Server) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// RotateLog rotates the log file
// if logging to a file is enabled.
func (s *Server) RotateLog() {
	err := s.logBackend.Rotate()
	if err != nil {
		s.fatal(fmt.Errorf("failed to rotate log file, shutting down server"))
		return
	}
	s.log.Notice("Log rotated.")
}

// Wait waits till the server is terminated for any reason.
func (s *Server) Wait() {
	<-s.haltedCh
}

// Shutdown cleanly shuts down a given Server instance.
func (s *Server) Shutdown() {
	s.haltOnce.Do(func() { s.halt() })
}

func (s *Server) fatal(err error) {
	select {
	case <-s.HaltCh():
		return
	default:
	}
	select {
	case s.fatalErrCh <- err:
	case <-s.HaltCh():
	}
}

func (s *Server) serveWorker(srv *http.Server, l net.Listener) {
	addr := l.Addr()
	s.log.Noticef("Listening on: %v", addr)
	defer s.log.Noticef("Stopping listening on: %v", addr)

	if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Errorf("Critical accept failure: %v", err)
		s.fatal(err)
	}
}

func (s *Server) pruneTokens(ctx context.Context) {
	if err := s.tokens.Prune(ctx); err != nil {
		s.log.Warningf("Failed to prune bearer tokens: %v", err)
	}
}

func (s *Server) serve(l net.Listener, h http.Handler) {
	srv := &http.Server{
		Handler:           h,
		ErrorLog:          s.logBackend.GetGoLogger("http", "DEBUG"),
		ReadHeaderTimeout: time.Duration(s.cfg.Server.RequestTimeoutSec) * time.Second,
		BaseContext:       func(net.Listener) context.Context { return s.Context() },
	}
	s.httpServers = append(s.httpServers, srv)
	s.Go(func() {
		s.serveWorker(srv, l)
	})
}

func (s *Server) halt() {
	s.log.Notice("Starting graceful shutdown.")

	// Halt the listeners, letting in flight requests finish.
	ctx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	for _, srv := range s.httpServers {
		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
		}
	}

	// Halt the background workers.
	s.Halt()

	if s.store != nil {
		s.store.Close()
		s.store = nil
	}

	close(s.fatalErrCh)

	s.log.Notice("Shutdown complete.")
	close(s.haltedCh)
}

// New returns a new Server instance parameterized with the specific
// configuration.
func New(cfg *config.Config) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		fatalErrCh: make(chan error),
		haltedCh:   make(chan interface{}),
	}
	g := &serverGlue{s}

	// Do the early initialization and bring up logging.
	if err := utils.MkDataDir(s.cfg.Server.DataDir); err != nil {
		return nil, err
	}
	if err := s.initLogging(); err != nil {
		return nil, err
	}
	if s.cfg.Logging.Level == "DEBUG" {
		s.log.Warning("Unsafe Debug logging is enabled.")
	}
	if err := profiling.Start(s.logBackend.GetLogger("profiling")); err != nil {
		s.log.Warningf("Failed to start profiling: %v", err)
	}

	var err error
	s.keyring, err = keyring.New(s.cfg.Server.DataDir, s.cfg.Keys.SubkeyBits, s.cfg.Keys.EpochSkew(), s.logBackend.GetLogger("keyring"))
	if err != nil {
		return nil, err
	}
	masterBlob, err := s.keyring.MasterPublicKey().MarshalBinary()
	if err != nil {
		return nil, err
	}
	s.log.Noticef("Broker master public key hash is: %x", blake3.Sum256(masterBlob))

	if s.cfg.Debug.GenerateOnly {
		return nil, ErrGenerateOnly
	}

	// Past this point, failures need to call s.Shutdown() to do cleanup.
	isOk := false
	defer func() {
		if !isOk {
			s.Shutdown()
		}
	}()

	// Start the fatal error watcher.
	go func() {
		err, ok := <-s.fatalErrCh
		if !ok {
			return
		}
		s.log.Warningf("Shutting down due to error: %v", err)
		s.Shutdown()
	}()

	if err = s.initStore(); err != nil {
		s.log.Errorf("Failed to initialize store: %v", err)
		return nil, err
	}

	// Bring the subsystems up, bottom up.
	if s.tokens, err = tokens.New(g); err != nil {
		return nil, err
	}
	if s.catalog, err = catalog.New(g); err != nil {
		return nil, err
	}
	if s.registry, err = registry.New(g); err != nil {
		return nil, err
	}
	routeTTL := time.Duration(s.cfg.Routes.RouteCacheTTLSec) * time.Second
	s.routes = routes.New(g, routes.NewBridgeControlClient(2*routeTTL))
	s.broker = NewBroker(g)

	// Start up the listeners.
	timeout := time.Duration(s.cfg.Server.RequestTimeoutSec) * time.Second
	h := http.TimeoutHandler(rpc.NewHandler(s.broker, s.logBackend.GetLogger("rpc"), s.cfg.Server.MaxRequestBytes), timeout, "request timed out")
	for _, v := range s.cfg.Server.Addresses {
		l, err := net.Listen("tcp", v)
		if err != nil {
			s.log.Errorf("Failed to start listener '%v': %v", v, err)
			continue
		}
		s.listeners = append(s.listeners, l)
		s.serve(l, h)
	}
	if len(s.listeners) == 0 {
		s.log.Errorf("Failed to start all listeners.")
		return nil, fmt.Errorf("server: failed to start all listeners")
	}

	if s.cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", instrument.Handler())
		l, err := net.Listen("tcp", s.cfg.Server.MetricsAddress)
		if err != nil {
			s.log.Errorf("Failed to start metrics listener '%v': %v", s.cfg.Server.MetricsAddress, err)
			return nil, err
		}
		s.serve(l, mux)
	}

	s.Every(time.Duration(s.cfg.Tokens.PruneIntervalSec)*time.Second, s.pruneTokens)

	isOk = true
	return s, nil
}
