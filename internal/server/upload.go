package server

import (
	"os"
	"path/filepath"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/wire"
)

// The upload receiver is a stop-and-wait state machine living on the
// control endpoint:
//
//	AWAIT_DATA -> (DATA -> ACK_DATA)* -> UPLOAD_DONE -> UPLOAD_COMPLETE
//
// The transport guarantees at most one outstanding request per client, so
// frames cannot reorder. There is deliberately no duplicate detection: a
// retransmitted DATA (lost ACK) is applied twice, a documented limitation
// of the sequence-number-free wire format.

// beginUpload validates the destination, opens (truncating) the file, and
// installs the session. base is the directory the path resolves against:
// the client's current directory for plain uploads, the bulk root for
// SUPLOAD_FILE.
func (s *Server) beginUpload(req *request, base, path string, fromBulk bool) wire.Frame {
	dest, err := s.root.Resolve(base, path)
	if err != nil {
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	// Sync uploads may target directories that exist only client-side.
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		logger.Error("Upload mkdir failed", logger.Path(dest), logger.Err(err))
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	file, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		logger.Error("Upload open failed", logger.Path(dest), logger.Err(err))
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	sess := s.uploads.Start(req.client, dest, file, fromBulk)
	metricActiveSessions.WithLabelValues("upload").Set(float64(s.uploads.Len()))

	logger.Info("Upload session started",
		logger.Client(req.client),
		logger.SessionID(sess.id),
		logger.Path(dest))

	if fromBulk {
		return wire.Frame{Line: wire.ReplyFileReady}
	}
	return wire.Frame{Line: wire.ReplyUploadReady}
}

// handleUploadData decodes one DATA chunk and appends it to the open
// destination file. A malformed chunk is a protocol error: the session is
// destroyed and the partial file stays on disk.
func (s *Server) handleUploadData(req *request) wire.Frame {
	sess, ok := s.uploads.Get(req.client)
	if !ok {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	chunk, err := wire.DecodeChunk(req.frame.Arg(0))
	if err != nil {
		logger.Warn("Upload chunk decode failed",
			logger.Client(req.client),
			logger.SessionID(sess.id),
			logger.Err(err))
		s.abortUpload(req.client)
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}

	if _, err := sess.file.Write(chunk); err != nil {
		logger.Error("Upload write failed",
			logger.SessionID(sess.id),
			logger.Path(sess.dest),
			logger.Err(err))
		s.abortUpload(req.client)
		return wire.Frame{Line: wire.ErrInvalidPath}
	}

	sess.received += int64(len(chunk))
	metricBytesUploaded.Add(float64(len(chunk)))

	return wire.Frame{Line: wire.ReplyAckData}
}

// handleUploadDone closes the destination file and completes the session.
func (s *Server) handleUploadDone(req *request) wire.Frame {
	sess, ok := s.uploads.Finish(req.client)
	if !ok {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}
	metricActiveSessions.WithLabelValues("upload").Set(float64(s.uploads.Len()))

	logger.Info("Upload complete",
		logger.Client(req.client),
		logger.SessionID(sess.id),
		logger.Path(sess.dest),
		logger.BytesIn(sess.received))

	return wire.Frame{Line: wire.ReplyUploadComplete}
}

// abortUpload tears the session down, leaving any partial file in place.
func (s *Server) abortUpload(client string) {
	if _, ok := s.uploads.Abort(client); ok {
		metricActiveSessions.WithLabelValues("upload").Set(float64(s.uploads.Len()))
	}
}
