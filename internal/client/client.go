// Package client implements the driftsync protocol client: single
// commands, chunked transfers, bulk upload, and directory sync against one
// server.
//
// A Client owns one control socket. Transfers that need a data port
// (downloads) open a second, short-lived socket of their own. Nothing here
// is safe for concurrent use; the protocol forbids overlapping requests on
// one socket anyway.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/transport"
	"github.com/driftsync/driftsync/pkg/wire"
)

// ErrBusy is returned when the server rejects a command because another
// client holds the global sync lock.
var ErrBusy = errors.New("server is syncing, try again later")

// Client talks the driftsync protocol to one server.
type Client struct {
	ex   *transport.Exchanger
	ctrl *net.UDPAddr
	host string
	opts transport.Options
}

// Entry is one name from a LIST_FILES reply.
type Entry struct {
	Name string
	Dir  bool
}

// New connects a client to the server's control endpoint.
func New(host string, port int, opts transport.Options) (*Client, error) {
	ctrl, err := transport.ResolveAddr(host, port)
	if err != nil {
		return nil, err
	}
	ex, err := transport.NewExchanger(opts)
	if err != nil {
		return nil, err
	}
	return &Client{ex: ex, ctrl: ctrl, host: host, opts: opts}, nil
}

// Close releases the control socket.
func (c *Client) Close() error {
	return c.ex.Close()
}

// exchange performs one control request and screens the reply for the
// busy rejection.
func (c *Client) exchange(ctx context.Context, line, body string) (wire.Frame, error) {
	reply, _, err := c.ex.ExchangeFrame(ctx, c.ctrl, wire.Frame{Line: line, Body: body})
	if err != nil {
		return wire.Frame{}, err
	}
	if reply.Line == wire.ReplySyncBusy {
		return reply, ErrBusy
	}
	return reply, nil
}

// remoteError turns an unexpected reply into an error.
func remoteError(reply wire.Frame) error {
	return fmt.Errorf("server replied %q", reply.Line)
}

// List returns the entries of the current remote directory, directories
// first.
func (c *Client) List(ctx context.Context) ([]Entry, error) {
	reply, err := c.exchange(ctx, wire.VerbListFiles, "")
	if err != nil {
		return nil, err
	}
	if !strings.HasPrefix(reply.Line, wire.ReplyOK+" ") {
		return nil, remoteError(reply)
	}

	var entries []Entry
	for _, name := range strings.Fields(strings.TrimPrefix(reply.Line, wire.ReplyOK+" ")) {
		entries = append(entries, Entry{
			Name: strings.TrimSuffix(name, "/"),
			Dir:  strings.HasSuffix(name, "/"),
		})
	}
	return entries, nil
}

// CD changes the current remote directory and returns the server's
// location message.
func (c *Client) CD(ctx context.Context, name string) (string, error) {
	reply, err := c.exchange(ctx, wire.Join(wire.VerbCD, name), "")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(reply.Line, wire.ReplyCDOK) {
		return "", fmt.Errorf("cd %s: %s", name, reply.Line)
	}
	return strings.TrimSpace(strings.TrimPrefix(reply.Line, wire.ReplyCDOK)), nil
}

// Kill erases the server's files and returns the server's summary line.
func (c *Client) Kill(ctx context.Context) (string, error) {
	reply, err := c.exchange(ctx, wire.VerbKill, "")
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(reply.Line, wire.ReplyKillOK) {
		return "", remoteError(reply)
	}
	return reply.Line, nil
}

// Upload sends a local file to remotePath, relative to the current remote
// directory. Returns the number of bytes sent.
func (c *Client) Upload(ctx context.Context, localPath, remotePath string) (int64, error) {
	file, err := os.Open(localPath)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer file.Close()

	reply, err := c.exchange(ctx, wire.Join(wire.VerbUpload, remotePath), "")
	if err != nil {
		return 0, err
	}
	if reply.Line != wire.ReplyUploadReady {
		return 0, remoteError(reply)
	}

	return c.sendFileBody(ctx, file, remotePath)
}

// sendFileBody streams file contents as stop-and-wait DATA chunks and
// completes the transfer. The caller has already received the READY reply.
func (c *Client) sendFileBody(ctx context.Context, file io.Reader, remotePath string) (int64, error) {
	var sent int64
	chunk := make([]byte, wire.ChunkSize)

	for {
		n, err := file.Read(chunk)
		if n > 0 {
			line := wire.Join(wire.VerbData, wire.EncodeChunk(chunk[:n]))
			reply, exchErr := c.exchange(ctx, line, "")
			if exchErr != nil {
				return sent, exchErr
			}
			if reply.Line != wire.ReplyAckData {
				return sent, fmt.Errorf("upload %s: %s", remotePath, reply.Line)
			}
			sent += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return sent, fmt.Errorf("read source: %w", err)
		}
	}

	reply, err := c.exchange(ctx, wire.VerbUploadDone, "")
	if err != nil {
		return sent, err
	}
	if reply.Line != wire.ReplyUploadComplete {
		return sent, fmt.Errorf("upload %s: %s", remotePath, reply.Line)
	}

	logger.Debug("Upload finished", logger.Rel(remotePath), logger.BytesOut(sent))
	return sent, nil
}

// Download fetches a remote file into destPath. Returns the number of
// bytes received.
func (c *Client) Download(ctx context.Context, name, destPath string) (int64, error) {
	reply, err := c.exchange(ctx, wire.Join(wire.VerbDownload, name), "")
	if err != nil {
		return 0, err
	}

	size, port, err := parseDownloadGrant(reply.Line, name)
	if err != nil {
		return 0, err
	}

	received, err := c.fetchFromDataPort(ctx, name, port, destPath)
	if err != nil {
		return received, err
	}
	if received != size {
		logger.Warn("Download size mismatch",
			logger.Rel(name),
			logger.Size(size),
			logger.BytesIn(received))
	}
	return received, nil
}

// parseDownloadGrant parses "OK <name> SIZE <n> PORT <p>".
func parseDownloadGrant(line, name string) (size int64, port int, err error) {
	fields := strings.Fields(line)
	if len(fields) != 6 || fields[0] != wire.ReplyOK || fields[1] != name ||
		fields[2] != "SIZE" || fields[4] != "PORT" {
		return 0, 0, fmt.Errorf("download %s: %s", name, line)
	}
	size, err = strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("download %s: bad size in %q", name, line)
	}
	port, err = strconv.Atoi(fields[5])
	if err != nil || port < 1 || port > 65535 {
		return 0, 0, fmt.Errorf("download %s: bad port in %q", name, line)
	}
	return size, port, nil
}

// fetchFromDataPort runs the sequential GET_CHUNK dialect against the
// worker's data port and writes the reassembled file to destPath.
func (c *Client) fetchFromDataPort(ctx context.Context, name string, port int, destPath string) (int64, error) {
	dataAddr, err := transport.ResolveAddr(c.host, port)
	if err != nil {
		return 0, err
	}
	ex, err := transport.NewExchanger(c.opts)
	if err != nil {
		return 0, err
	}
	defer ex.Close()

	reply, _, err := ex.ExchangeFrame(ctx, dataAddr, wire.Frame{Line: wire.Join(wire.VerbDownload, name)})
	if err != nil {
		return 0, err
	}
	if reply.Line != wire.ReplyDownloadReady {
		return 0, fmt.Errorf("download %s: handshake got %q", name, reply.Line)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return 0, fmt.Errorf("create destination dir: %w", err)
	}
	dest, err := os.Create(destPath)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", destPath, err)
	}
	defer dest.Close()

	var received int64
	for {
		reply, _, err = ex.ExchangeFrame(ctx, dataAddr, wire.Frame{Line: wire.VerbGetChunk})
		if err != nil {
			return received, err
		}
		if reply.Line == wire.ReplyTransferComplete {
			break
		}
		if !strings.HasPrefix(reply.Line, wire.ReplyData+" ") {
			return received, fmt.Errorf("download %s: %s", name, reply.Line)
		}
		chunk, err := wire.DecodeChunk(strings.TrimPrefix(reply.Line, wire.ReplyData+" "))
		if err != nil {
			return received, fmt.Errorf("download %s: bad chunk: %w", name, err)
		}
		if _, err := dest.Write(chunk); err != nil {
			return received, fmt.Errorf("write %s: %w", destPath, err)
		}
		received += int64(len(chunk))
	}

	logger.Debug("Download finished", logger.Rel(name), logger.BytesIn(received))
	return received, nil
}

// DownloadAll fetches every file in the current remote directory into
// destDir, skipping directories. Returns the fetched file names.
func (c *Client) DownloadAll(ctx context.Context, destDir string) ([]string, error) {
	entries, err := c.List(ctx)
	if err != nil {
		return nil, err
	}

	var fetched []string
	for _, entry := range entries {
		if entry.Dir {
			continue
		}
		if _, err := c.Download(ctx, entry.Name, filepath.Join(destDir, entry.Name)); err != nil {
			return fetched, fmt.Errorf("download %s: %w", entry.Name, err)
		}
		fetched = append(fetched, entry.Name)
	}
	return fetched, nil
}
