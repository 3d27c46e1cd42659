package server

import (
	"net"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/wire"
)

// request carries one parsed control frame through dispatch.
type request struct {
	frame  wire.Frame
	client string
	addr   *net.UDPAddr
}

// handlerFunc processes one command frame and returns the single reply
// frame. Handlers never send anything themselves; the dispatcher owns the
// socket and the one-reply-per-frame invariant.
type handlerFunc func(s *Server, req *request) wire.Frame

// command describes one verb in the dispatch table.
type command struct {
	// Name is the verb, for logging.
	Name string

	// Handler processes the frame.
	Handler handlerFunc

	// DuringSync marks verbs that stay serviceable while the global
	// sync lock is held. Everything else is rejected with the busy
	// string until the lock is released.
	DuringSync bool
}

// commandTable maps verbs to their handlers. Initialized once at package
// init; upload receiver verbs (DATA, UPLOAD_DONE) are not listed here
// because they are routed by session state, not by verb lookup.
var commandTable map[string]*command

func init() {
	commandTable = map[string]*command{
		wire.VerbListFiles:        {Name: wire.VerbListFiles, Handler: (*Server).handleListFiles},
		wire.VerbCD:               {Name: wire.VerbCD, Handler: (*Server).handleCD},
		wire.VerbDownload:         {Name: wire.VerbDownload, Handler: (*Server).handleDownload},
		wire.VerbUpload:           {Name: wire.VerbUpload, Handler: (*Server).handleUpload},
		wire.VerbKill:             {Name: wire.VerbKill, Handler: (*Server).handleKill},
		wire.VerbSuploadStructure: {Name: wire.VerbSuploadStructure, Handler: (*Server).handleSuploadStructure},
		wire.VerbSuploadFile:      {Name: wire.VerbSuploadFile, Handler: (*Server).handleSuploadFile},
		wire.VerbSuploadComplete:  {Name: wire.VerbSuploadComplete, Handler: (*Server).handleSuploadComplete},
		wire.VerbSyncStart:        {Name: wire.VerbSyncStart, Handler: (*Server).handleSyncStart},
		wire.VerbSyncChunk:        {Name: wire.VerbSyncChunk, Handler: (*Server).handleSyncChunk, DuringSync: true},
		wire.VerbSyncFinish:       {Name: wire.VerbSyncFinish, Handler: (*Server).handleSyncFinish, DuringSync: true},
		wire.VerbGetSyncChunk:     {Name: wire.VerbGetSyncChunk, Handler: (*Server).handleGetSyncChunk, DuringSync: true},
	}
}

// processFrame turns one received datagram into exactly one reply frame.
//
// Routing order:
//  1. An active upload session claims the client's DATA / UPLOAD_DONE
//     frames. A foreign verb aborts the session (partial file kept) and
//     falls through to normal dispatch.
//  2. While the global sync lock is held, only the sync-flow verbs pass;
//     everything else is answered with the busy string.
//  3. Verb lookup in the command table; unknown verbs get
//     ERR_UNKNOWN_COMMAND.
func (s *Server) processFrame(payload []byte, addr *net.UDPAddr) wire.Frame {
	start := time.Now()
	req := &request{
		frame:  wire.Parse(payload),
		client: addr.String(),
		addr:   addr,
	}
	verb := req.frame.Verb()
	metricFramesReceived.WithLabelValues(verb).Inc()

	reply := s.route(req, verb)

	logger.Debug("Frame dispatched",
		logger.Client(req.client),
		logger.Verb(verb),
		logger.Reply(reply.Verb()),
		logger.DurationMs(logger.Duration(start)))

	return reply
}

func (s *Server) route(req *request, verb string) wire.Frame {
	// Upload sessions intercept their own frames first: an upload that
	// started before a sync acquired the lock must be able to finish.
	if _, ok := s.uploads.Get(req.client); ok {
		switch verb {
		case wire.VerbData:
			return s.handleUploadData(req)
		case wire.VerbUploadDone:
			return s.handleUploadDone(req)
		default:
			// Protocol error: the session dies, the partial file
			// stays, and the frame is handled as a fresh command.
			sess, _ := s.uploads.Abort(req.client)
			if sess != nil {
				logger.Warn("Upload aborted by foreign verb",
					logger.Client(req.client),
					logger.SessionID(sess.id),
					logger.Verb(verb))
				metricActiveSessions.WithLabelValues("upload").Set(float64(s.uploads.Len()))
			}
		}
	}

	cmd, known := commandTable[verb]

	if s.sync.Held() && (!known || !cmd.DuringSync) {
		metricSyncRejections.Inc()
		return wire.Frame{Line: wire.ReplySyncBusy}
	}

	if !known {
		return wire.Frame{Line: wire.ErrUnknownCommand}
	}
	return cmd.Handler(s, req)
}
