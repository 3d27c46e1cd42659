// Package server implements the driftsyncd control dispatcher, session
// state, and transfer workers.
//
// One goroutine reads the control socket and serializes command frames;
// each download transfer runs on its own goroutine with its own ephemeral
// data port. Upload and sync frames are processed inline on the control
// receiver, which keeps the stop-and-wait protocols trivially ordered.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/config"
	"github.com/driftsync/driftsync/pkg/pathsafe"
	"github.com/driftsync/driftsync/pkg/wire"
)

// Server is the driftsync UDP server: one control endpoint, on-demand data
// endpoints, and the shared session state behind them.
type Server struct {
	cfg  *config.Config
	root *pathsafe.Root

	conn        *net.UDPConn
	metricsSrv  *http.Server
	nav         *navigator
	uploads     *uploadTable
	bulks       *bulkTable
	sync        *syncState
	workerIdle  time.Duration
	shutdown    chan struct{}
	stopOnce    sync.Once
	wg          sync.WaitGroup
	listenReady chan struct{}
}

// New creates a server for the given configuration, establishing the
// confinement root on disk.
func New(cfg *config.Config) (*Server, error) {
	root, err := pathsafe.NewRoot(cfg.Server.Root)
	if err != nil {
		return nil, fmt.Errorf("establish confinement root: %w", err)
	}

	return &Server{
		cfg:     cfg,
		root:    root,
		nav:     newNavigator(root),
		uploads: newUploadTable(),
		bulks:   newBulkTable(),
		sync:    newSyncState(),
		// A data port that hears nothing for a full client retry cycle
		// is abandoned.
		workerIdle:  cfg.Transport.Timeout * time.Duration(cfg.Transport.Attempts),
		shutdown:    make(chan struct{}),
		listenReady: make(chan struct{}),
	}, nil
}

// Root returns the canonical confinement root path.
func (s *Server) Root() string {
	return s.root.Path()
}

// Addr returns the bound control endpoint address, or nil before Serve.
func (s *Server) Addr() *net.UDPAddr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr().(*net.UDPAddr)
}

// WaitReady returns a channel closed once the control endpoint is bound.
func (s *Server) WaitReady() <-chan struct{} {
	return s.listenReady
}

// Serve binds the control endpoint and processes frames until the context
// is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	addr := &net.UDPAddr{Port: s.cfg.Server.Port}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("listen UDP :%d: %w", s.cfg.Server.Port, err)
	}
	s.conn = conn

	if s.cfg.Metrics.Enabled {
		if err := s.startMetrics(); err != nil {
			_ = conn.Close()
			return err
		}
	}

	close(s.listenReady)

	logger.Info("Server started",
		"port", s.Addr().Port,
		"root", s.root.Path(),
		"kill_scope", s.cfg.Server.KillScope,
		"metrics", s.cfg.Metrics.Enabled)

	s.wg.Add(2)
	go s.serveControl()
	go s.runJanitor()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// serveControl is the dispatcher loop: read one datagram, dispatch, send
// exactly one reply to the sender.
func (s *Server) serveControl() {
	defer s.wg.Done()

	buf := make([]byte, wire.MaxFrame)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}

		// Short deadline so shutdown is noticed between frames.
		if err := s.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Error("Set control deadline failed", logger.Err(err))
				continue
			}
		}

		n, clientAddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			select {
			case <-s.shutdown:
				return
			default:
				logger.Error("Control read failed", logger.Err(err))
				continue
			}
		}

		payload := make([]byte, n)
		copy(payload, buf[:n])

		reply := s.processFrame(payload, clientAddr)

		if _, err := s.conn.WriteToUDP(reply.Bytes(), clientAddr); err != nil {
			logger.Error("Control reply failed",
				logger.Client(clientAddr.String()),
				logger.Err(err))
		}
		metricRepliesSent.WithLabelValues(reply.Verb()).Inc()
	}
}

// startMetrics serves the Prometheus endpoint on its own listener.
func (s *Server) startMetrics() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Metrics.Port))
	if err != nil {
		return fmt.Errorf("listen metrics :%d: %w", s.cfg.Metrics.Port, err)
	}
	s.metricsSrv = &http.Server{Handler: mux}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.metricsSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics listener failed", logger.Err(err))
		}
	}()

	logger.Info("Metrics endpoint started", logger.Port(s.cfg.Metrics.Port))
	return nil
}

// Stop shuts the server down and waits for the dispatcher, janitor, and
// all download workers to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.shutdown)
		if s.conn != nil {
			_ = s.conn.Close()
		}
		if s.metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = s.metricsSrv.Shutdown(shutdownCtx)
		}
	})
	s.wg.Wait()
}
