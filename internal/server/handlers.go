package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/wire"
)

// handleListFiles answers LIST_FILES with the entries of the client's
// current directory: directories first with a trailing slash, then files.
// An empty directory yields exactly "OK ".
func (s *Server) handleListFiles(req *request) wire.Frame {
	cwd := s.nav.Current(req.client)

	entries, err := os.ReadDir(cwd)
	if err != nil {
		logger.Error("List failed", logger.Client(req.client), logger.Path(cwd), logger.Err(err))
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	var dirs, files []string
	for _, entry := range entries {
		if entry.IsDir() {
			dirs = append(dirs, entry.Name()+"/")
		} else {
			files = append(files, entry.Name())
		}
	}

	return wire.Frame{Line: wire.ReplyOK + " " + strings.Join(append(dirs, files...), " ")}
}

// handleCD moves the client's current directory. The target is resolved
// against the current directory and must stay confined; a nonexistent or
// non-directory target is an invalid path, not a not-found.
func (s *Server) handleCD(req *request) wire.Frame {
	name := req.frame.Arg(0)
	if name == "" {
		return wire.Frame{Line: wire.ReplyCDErr + " missing directory name"}
	}

	cwd := s.nav.Current(req.client)

	target, err := s.root.ResolveExisting(cwd, name)
	if err != nil {
		return wire.Frame{Line: wire.ReplyCDErr + " invalid path"}
	}

	info, err := os.Stat(target)
	if err != nil || !info.IsDir() {
		return wire.Frame{Line: wire.ReplyCDErr + " invalid path"}
	}

	s.nav.Set(req.client, target)

	rel, err := s.root.Rel(target)
	if err != nil {
		return wire.Frame{Line: wire.ReplyCDErr + " invalid path"}
	}
	return wire.Frame{Line: fmt.Sprintf("%s Now in /%s", wire.ReplyCDOK, rel)}
}

// handleDownload validates the requested file, spins up a download worker
// on an ephemeral port, and announces size and port.
func (s *Server) handleDownload(req *request) wire.Frame {
	name := req.frame.Arg(0)
	if name == "" {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	cwd := s.nav.Current(req.client)

	target, err := s.root.Resolve(cwd, name)
	if err != nil {
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	info, err := os.Stat(target)
	if err != nil {
		return wire.Frame{Line: fmt.Sprintf("%s %s %s", wire.ReplyErr, name, wire.DetailNotFound)}
	}
	if info.IsDir() {
		return wire.Frame{Line: fmt.Sprintf("%s %s %s", wire.ReplyErr, name, wire.DetailNotAFile)}
	}

	port, err := s.startDownloadWorker(target, name)
	if err != nil {
		logger.Error("Download worker start failed",
			logger.Client(req.client),
			logger.Path(target),
			logger.Err(err))
		return wire.Frame{Line: fmt.Sprintf("%s %s %s", wire.ReplyErr, name, wire.DetailNotFound)}
	}

	logger.Info("Download dispatched",
		logger.Client(req.client),
		logger.Rel(name),
		logger.Size(info.Size()),
		logger.Port(port))

	return wire.Frame{Line: fmt.Sprintf("%s %s SIZE %d PORT %d", wire.ReplyOK, name, info.Size(), port)}
}

// handleUpload opens the destination file and starts a stop-and-wait
// upload session on the control endpoint. A destination with a leading
// slash is anchored at the served root regardless of the client's
// current directory; sync uploads rely on this so a prior CD cannot
// divert them.
func (s *Server) handleUpload(req *request) wire.Frame {
	path := req.frame.Arg(0)
	if path == "" {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	if strings.HasPrefix(path, "/") {
		return s.beginUpload(req, s.root.Path(), strings.TrimPrefix(path, "/"), false)
	}
	return s.beginUpload(req, s.nav.Current(req.client), path, false)
}

// handleKill erases the configured scope (the whole root by default, or
// the caller's current directory) and recreates it empty.
func (s *Server) handleKill(req *request) wire.Frame {
	scope := s.root.Path()
	if s.cfg.Server.KillScope == "cwd" {
		scope = s.nav.Current(req.client)
	}

	entries, err := os.ReadDir(scope)
	if err != nil {
		logger.Error("Kill read failed", logger.Path(scope), logger.Err(err))
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	removed := 0
	for _, entry := range entries {
		target := filepath.Join(scope, entry.Name())
		if err := os.RemoveAll(target); err != nil {
			logger.Error("Kill remove failed", logger.Path(target), logger.Err(err))
			continue
		}
		removed++
	}

	if s.cfg.Server.KillScope != "cwd" {
		// Recorded directories are gone; every client restarts at the root.
		s.nav.ResetAll()
	}

	logger.Info("Kill executed",
		logger.Client(req.client),
		logger.Path(scope),
		"entries_removed", removed)

	return wire.Frame{Line: wire.ReplyKillOK + " removed " + strconv.Itoa(removed) + " entries"}
}
