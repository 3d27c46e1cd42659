package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/pathsafe"
	"github.com/driftsync/driftsync/pkg/wire"
)

// handleSuploadStructure creates a bulk-upload skeleton: the named root
// plus every relative directory listed in the body, all beneath the
// client's current directory. The whole structure is validated before
// anything is created, so a bad line creates nothing.
func (s *Server) handleSuploadStructure(req *request) wire.Frame {
	rootName := req.frame.Arg(0)
	if rootName == "" {
		return wire.Frame{Line: wire.ReplyStructureErr + " missing root name"}
	}

	cwd := s.nav.Current(req.client)

	if err := pathsafe.ValidateComponents(rootName, s.cfg.Limits.MaxNameLen, s.cfg.Limits.MaxDepth); err != nil {
		return wire.Frame{Line: fmt.Sprintf("%s %v", wire.ReplyStructureErr, err)}
	}

	base, err := s.root.Resolve(cwd, rootName)
	if err != nil {
		return wire.Frame{Line: wire.ReplyStructureErr + " invalid path"}
	}

	// Validate every listed directory before creating any of them.
	var dirs []string
	for _, line := range strings.Split(req.frame.Body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := pathsafe.ValidateComponents(line, s.cfg.Limits.MaxNameLen, s.cfg.Limits.MaxDepth); err != nil {
			return wire.Frame{Line: fmt.Sprintf("%s %s: %v", wire.ReplyStructureErr, line, err)}
		}
		abs, err := s.root.Resolve(base, line)
		if err != nil {
			return wire.Frame{Line: fmt.Sprintf("%s %s: invalid path", wire.ReplyStructureErr, line)}
		}
		dirs = append(dirs, abs)
	}

	if err := os.MkdirAll(base, 0755); err != nil {
		logger.Error("Bulk root create failed", logger.Path(base), logger.Err(err))
		return wire.Frame{Line: wire.ReplyStructureErr + " create failed"}
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			logger.Error("Bulk dir create failed", logger.Path(dir), logger.Err(err))
			return wire.Frame{Line: wire.ReplyStructureErr + " create failed"}
		}
	}

	sess := s.bulks.Start(req.client, base)
	metricActiveSessions.WithLabelValues("bulk").Set(float64(s.bulks.Len()))

	logger.Info("Bulk session started",
		logger.Client(req.client),
		logger.SessionID(sess.id),
		logger.Path(base),
		"dirs", len(dirs))

	return wire.Frame{Line: wire.ReplyStructureOK}
}

// handleSuploadFile begins an upload into the bulk session's root. The
// path is validated against the bulk root, not the client's current
// directory.
func (s *Server) handleSuploadFile(req *request) wire.Frame {
	relPath := req.frame.Arg(0)
	if relPath == "" {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	sess, ok := s.bulks.Get(req.client)
	if !ok {
		return wire.Frame{Line: wire.ErrNoSuploadSession}
	}

	if err := pathsafe.ValidateComponents(relPath, s.cfg.Limits.MaxNameLen, s.cfg.Limits.MaxDepth); err != nil {
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	return s.beginUpload(req, sess.base, filepath.FromSlash(relPath), true)
}

// handleSuploadComplete closes the bulk session.
func (s *Server) handleSuploadComplete(req *request) wire.Frame {
	sess, ok := s.bulks.Close(req.client)
	if !ok {
		return wire.Frame{Line: wire.ErrNoSuploadSession}
	}
	metricActiveSessions.WithLabelValues("bulk").Set(float64(s.bulks.Len()))

	logger.Info("Bulk session complete",
		logger.Client(req.client),
		logger.SessionID(sess.id),
		logger.Path(sess.base))

	return wire.Frame{Line: wire.ReplySuploadOK}
}
