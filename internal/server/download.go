package server

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/wire"
)

// A download worker owns one ephemeral data port for the lifetime of one
// transfer. Two request dialects are served, selected by the verb of the
// first frame heard on the port:
//
//	DOWNLOAD <name>                       handshake -> DOWNLOAD_READY
//	GET_CHUNK                             -> DATA <b64> | TRANSFER_COMPLETE
//
//	FILE <name> GET START <a> END <b>     -> FILE <name> OK START <a> END <b> DATA <b64>
//	FILE <name> CLOSE                     -> FILE <name> CLOSE_OK
//
// The sequential dialect streams the file front to back; the legacy FILE
// dialect is random access over closed byte ranges. Any frame outside the
// active dialect's grammar terminates the worker without a reply, as does
// hearing nothing for a full client retry cycle.

// startDownloadWorker opens the file and an ephemeral UDP port, and serves
// the transfer on its own goroutine. Returns the chosen port.
func (s *Server) startDownloadWorker(path, name string) (int, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		_ = file.Close()
		return 0, fmt.Errorf("bind data port: %w", err)
	}

	port := conn.LocalAddr().(*net.UDPAddr).Port
	metricActiveDownloads.Inc()

	s.wg.Add(1)
	go s.serveDownload(conn, file, name, port)

	return port, nil
}

// serveDownload is the worker loop. It reads frames off the data port and
// answers them per the dialect chosen by the first frame.
func (s *Server) serveDownload(conn *net.UDPConn, file *os.File, name string, port int) {
	defer s.wg.Done()
	defer metricActiveDownloads.Dec()
	defer conn.Close()
	defer file.Close()

	var (
		buf        = make([]byte, wire.MaxFrame)
		chunk      = make([]byte, wire.ChunkSize)
		idleBy     = time.Now().Add(s.workerIdle)
		handshaken = false
		legacy     = false
		first      = true
	)

	for {
		select {
		case <-s.shutdown:
			return
		default:
		}
		if time.Now().After(idleBy) {
			logger.Warn("Download worker idle, abandoning port",
				logger.Rel(name),
				logger.Port(port))
			return
		}

		if err := conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond)); err != nil {
			return
		}
		n, clientAddr, err := conn.ReadFromUDP(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			return
		}
		idleBy = time.Now().Add(s.workerIdle)

		frame := wire.Parse(buf[:n])
		verb := frame.Verb()

		if first {
			legacy = verb == wire.VerbFile
			first = false
		}

		var reply string
		var done bool
		if legacy {
			reply, done = s.serveRangeFrame(file, name, frame)
		} else {
			reply, done, handshaken = s.serveSequentialFrame(file, chunk, name, frame, handshaken)
		}

		if reply == "" {
			// Outside the dialect grammar: terminate without replying.
			logger.Warn("Download worker terminated by foreign verb",
				logger.Rel(name),
				logger.Verb(verb),
				logger.Port(port))
			return
		}

		if _, err := conn.WriteToUDP([]byte(reply), clientAddr); err != nil {
			logger.Error("Download reply failed",
				logger.Client(clientAddr.String()),
				logger.Err(err))
			return
		}
		if done {
			logger.Info("Download complete",
				logger.Client(clientAddr.String()),
				logger.Rel(name),
				logger.Port(port))
			return
		}
	}
}

// serveSequentialFrame handles one frame of the GET_CHUNK dialect. An
// empty reply means the frame was outside the grammar. A retransmitted
// DOWNLOAD handshake (lost DOWNLOAD_READY) is answered again rather than
// treated as foreign.
func (s *Server) serveSequentialFrame(file *os.File, chunk []byte, name string, frame wire.Frame, handshaken bool) (reply string, done, shook bool) {
	switch frame.Verb() {
	case wire.VerbDownload:
		if frame.Arg(0) != name {
			return "", false, handshaken
		}
		return wire.ReplyDownloadReady, false, true

	case wire.VerbGetChunk:
		if !handshaken {
			return "", false, false
		}
		n, err := file.Read(chunk)
		if n > 0 {
			metricBytesDownloaded.Add(float64(n))
			return wire.ReplyData + " " + wire.EncodeChunk(chunk[:n]), false, true
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return "", false, true
		}
		return wire.ReplyTransferComplete, true, true
	}
	return "", false, handshaken
}

// serveRangeFrame handles one frame of the legacy FILE dialect. An empty
// reply means the frame was outside the grammar.
func (s *Server) serveRangeFrame(file *os.File, name string, frame wire.Frame) (reply string, done bool) {
	if frame.Verb() != wire.VerbFile || frame.Arg(0) != name {
		return "", false
	}

	switch frame.Arg(1) {
	case "CLOSE":
		return fmt.Sprintf("%s %s CLOSE_OK", wire.VerbFile, name), true

	case "GET":
		if frame.Arg(2) != "START" || frame.Arg(4) != "END" {
			return "", false
		}
		start, err := strconv.ParseInt(frame.Arg(3), 10, 64)
		if err != nil || start < 0 {
			return "", false
		}
		end, err := strconv.ParseInt(frame.Arg(5), 10, 64)
		if err != nil || end < start || end-start+1 > wire.ChunkSize {
			return "", false
		}

		data := make([]byte, end-start+1)
		n, err := file.ReadAt(data, start)
		if err != nil && !errors.Is(err, io.EOF) {
			return "", false
		}
		metricBytesDownloaded.Add(float64(n))

		return fmt.Sprintf("%s %s OK START %d END %d %s %s",
			wire.VerbFile, name, start, start+int64(n)-1,
			wire.ReplyData, wire.EncodeChunk(data[:n])), false
	}
	return "", false
}
