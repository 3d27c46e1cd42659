package server

import (
	"time"

	"github.com/driftsync/driftsync/internal/logger"
)

// runJanitor periodically reaps idle sessions. It is the only path out of
// a wedged sync: a client that acquires the lock and vanishes would
// otherwise block every other client forever.
func (s *Server) runJanitor() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Limits.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// sweep runs one reap pass over the three session tables.
func (s *Server) sweep() {
	for _, sess := range s.uploads.Expire(s.cfg.Limits.UploadTTL) {
		logger.Warn("Upload session expired",
			logger.Client(sess.client),
			logger.SessionID(sess.id),
			logger.Path(sess.dest),
			logger.BytesIn(sess.received))
		metricSessionsExpired.WithLabelValues("upload").Inc()
	}
	metricActiveSessions.WithLabelValues("upload").Set(float64(s.uploads.Len()))

	for _, sess := range s.bulks.Expire(s.cfg.Limits.BulkTTL) {
		logger.Warn("Bulk session expired",
			logger.Client(sess.client),
			logger.SessionID(sess.id),
			logger.Path(sess.base))
		metricSessionsExpired.WithLabelValues("bulk").Inc()
	}
	metricActiveSessions.WithLabelValues("bulk").Set(float64(s.bulks.Len()))

	if sess, ok := s.sync.ExpireIdle(s.cfg.Limits.SyncTTL); ok {
		logger.Warn("Sync session expired, lock released",
			logger.Client(sess.client),
			logger.SessionID(sess.id),
			logger.Path(sess.target))
		metricSessionsExpired.WithLabelValues("sync").Inc()
		metricActiveSessions.WithLabelValues("sync").Set(0)
	}
}
