package server

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/manifest"
	"github.com/driftsync/driftsync/pkg/wire"
)

// The sync coordinator drives the chunked-manifest protocol:
//
//	SYNC_START <remote> <N>   acquire the global lock, open the session
//	SYNC_CHUNK <i>/<N> + body accumulate manifest text
//	SYNC_FINISH               diff, delete, answer no-changes or chunk count
//	GET_SYNC_CHUNK <i>        drain response chunks; final drain frees the lock
//
// While the lock is held the dispatcher rejects every other command, so
// the diff and the deletions below run without interference.

// handleSyncStart acquires the global sync lock and opens a session for
// the target directory, creating it if absent. The remote path is
// resolved against the confinement root, not the caller's current
// directory.
func (s *Server) handleSyncStart(req *request) wire.Frame {
	remote := req.frame.Arg(0)
	countArg := req.frame.Arg(1)
	if remote == "" || countArg == "" {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	expected, err := strconv.Atoi(countArg)
	if err != nil || expected < 1 {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	target, err := s.root.Resolve(s.root.Path(), remote)
	if err != nil {
		return wire.Frame{Line: wire.ErrInvalidPath}
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		logger.Error("Sync target create failed", logger.Path(target), logger.Err(err))
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	sess, ok := s.sync.Acquire(req.client, target, expected)
	if !ok {
		return wire.Frame{Line: wire.ReplySyncBusy}
	}
	metricActiveSessions.WithLabelValues("sync").Set(1)

	logger.Info("Sync session started",
		logger.Client(req.client),
		logger.SessionID(sess.id),
		logger.Path(target),
		logger.Chunks(expected))

	return wire.Frame{Line: wire.ReplySyncReady}
}

// handleSyncChunk appends one manifest chunk. Chunks are concatenated in
// receipt order; the client sends sequentially under stop-and-wait, so
// receipt order is client order.
func (s *Server) handleSyncChunk(req *request) wire.Frame {
	sess, ok := s.sync.Get(req.client)
	if !ok {
		return wire.Frame{Line: wire.ErrNoSyncSession}
	}

	i, _, refOK := wire.ParseChunkRef(req.frame.Arg(0))
	if !refOK {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	sess.buf = append(sess.buf, req.frame.Body...)
	sess.received++

	return wire.Frame{Line: fmt.Sprintf("%s %d", wire.ReplyAckChunk, i)}
}

// handleSyncFinish parses the accumulated manifest, converges the target
// directory toward the client (deletions first), and answers either
// SYNC_OK_NO_CHANGES or the response chunk count for draining.
func (s *Server) handleSyncFinish(req *request) wire.Frame {
	sess, ok := s.sync.Get(req.client)
	if !ok {
		return wire.Frame{Line: wire.ErrNoSyncSession}
	}

	var clientMan manifest.Manifest
	if err := json.Unmarshal(sess.buf, &clientMan); err != nil {
		logger.Warn("Sync manifest parse failed",
			logger.SessionID(sess.id),
			logger.Err(err))
		s.releaseSync()
		metricSyncRuns.WithLabelValues("error").Inc()
		return wire.Frame{Line: wire.ReplySyncErr + " bad manifest"}
	}

	serverMan, err := manifest.Build(sess.target)
	if err != nil {
		logger.Error("Sync scan failed",
			logger.SessionID(sess.id),
			logger.Path(sess.target),
			logger.Err(err))
		s.releaseSync()
		metricSyncRuns.WithLabelValues("error").Inc()
		return wire.Frame{Line: wire.ReplySyncErr + " scan failed"}
	}

	// Directories that exist only client-side are created here so that
	// empty directories converge too; the keys are untrusted and each
	// one is re-confined before touching the filesystem.
	for _, dir := range clientMan.Directories() {
		abs, err := s.root.Resolve(sess.target, dir)
		if err != nil {
			logger.Warn("Sync manifest dir rejected", logger.Rel(dir), logger.Err(err))
			continue
		}
		if err := os.MkdirAll(abs, 0755); err != nil {
			logger.Warn("Sync dir create failed", logger.Path(abs), logger.Err(err))
		}
	}

	diff := manifest.Compute(clientMan, serverMan)
	s.applySyncDeletions(sess, diff.ToDelete)

	if len(diff.ToFetch) == 0 {
		logger.Info("Sync complete, no changes",
			logger.Client(req.client),
			logger.SessionID(sess.id))
		s.releaseSync()
		metricSyncRuns.WithLabelValues("no_changes").Inc()
		return wire.Frame{Line: wire.ReplySyncNoChanges}
	}

	body, err := json.Marshal(wire.NeedsFiles{Status: wire.StatusNeedsFiles, Files: diff.ToFetch})
	if err != nil {
		s.releaseSync()
		metricSyncRuns.WithLabelValues("error").Inc()
		return wire.Frame{Line: wire.ReplySyncErr + " encode failed"}
	}

	for _, chunk := range wire.SplitChunks(body, s.cfg.Limits.ChunkSize) {
		sess.chunks = append(sess.chunks, string(chunk))
	}
	metricSyncRuns.WithLabelValues("needs_files").Inc()

	logger.Info("Sync needs files",
		logger.Client(req.client),
		logger.SessionID(sess.id),
		"files", len(diff.ToFetch),
		logger.Chunks(len(sess.chunks)))

	return wire.Frame{Line: fmt.Sprintf("%s %d", wire.ReplyNeedsFilesReady, len(sess.chunks))}
}

// handleGetSyncChunk returns the i-th stored response chunk. Draining the
// final chunk destroys the session and frees the global lock.
func (s *Server) handleGetSyncChunk(req *request) wire.Frame {
	sess, ok := s.sync.Get(req.client)
	if !ok {
		return wire.Frame{Line: wire.ErrNoSyncSession}
	}

	i, err := strconv.Atoi(req.frame.Arg(0))
	if err != nil || sess.chunks == nil || i < 1 || i > len(sess.chunks) {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	total := len(sess.chunks)
	chunk := sess.chunks[i-1]

	if i == total {
		logger.Info("Sync response drained",
			logger.Client(req.client),
			logger.SessionID(sess.id))
		s.releaseSync()
	}

	return wire.Frame{
		Line: fmt.Sprintf("%s %s", wire.ReplySyncChunk, wire.FormatChunkRef(i, total)),
		Body: chunk,
	}
}

// applySyncDeletions removes server-side entries absent from the client,
// deepest first. Files go unconditionally; a directory is removed only if
// empty by the time its turn comes, otherwise it is retained with a
// diagnostic.
func (s *Server) applySyncDeletions(sess *syncSession, toDelete []string) {
	for _, rel := range toDelete {
		abs := filepath.Join(sess.target, filepath.FromSlash(rel))

		// Remove refuses non-empty directories, which is exactly the
		// retention rule for them.
		if err := os.Remove(abs); err != nil {
			logger.Warn("Sync deletion retained",
				logger.SessionID(sess.id),
				logger.Path(abs),
				logger.Err(err))
			continue
		}
		metricSyncDeletions.Inc()
	}
}

// releaseSync frees the global sync lock and clears the session gauge.
func (s *Server) releaseSync() {
	s.sync.Release()
	metricActiveSessions.WithLabelValues("sync").Set(0)
}
