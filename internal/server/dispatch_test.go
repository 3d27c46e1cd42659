package server

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/pkg/config"
	"github.com/driftsync/driftsync/pkg/wire"
)

// newTestServer builds a server rooted in a fresh temp directory. The
// control socket is never bound; dispatch tests drive processFrame
// directly.
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Server.Root = t.TempDir()

	s, err := New(cfg)
	require.NoError(t, err)
	return s
}

// clientAddr fabricates a client identity for dispatch tests.
func clientAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

// send pushes one frame through dispatch and returns the reply.
func send(s *Server, addr *net.UDPAddr, line, body string) wire.Frame {
	return s.processFrame(wire.Format(line, body), addr)
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
}

func TestListFilesEmptyRoot(t *testing.T) {
	s := newTestServer(t)

	reply := send(s, clientAddr(40001), "LIST_FILES", "")
	assert.Equal(t, "OK ", reply.Line)
}

func TestListFilesDirsBeforeFiles(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "docs"), 0755))
	writeFile(t, s.Root(), "a.txt", "hello")

	reply := send(s, clientAddr(40001), "LIST_FILES", "")
	assert.Equal(t, "OK docs/ a.txt", reply.Line)
}

func TestCDIntoSubdirectory(t *testing.T) {
	s := newTestServer(t)
	require.NoError(t, os.Mkdir(filepath.Join(s.Root(), "sub"), 0755))
	writeFile(t, s.Root(), "sub/inner.txt", "x")
	addr := clientAddr(40002)

	reply := send(s, addr, "CD sub", "")
	assert.Equal(t, "CD_OK Now in /sub", reply.Line)

	reply = send(s, addr, "LIST_FILES", "")
	assert.Equal(t, "OK inner.txt", reply.Line)

	reply = send(s, addr, "CD ..", "")
	assert.Equal(t, "CD_OK Now in /", reply.Line)
}

func TestCDTraversalRejected(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "a.txt", "x")
	addr := clientAddr(40003)

	reply := send(s, addr, "CD ../../etc", "")
	assert.Contains(t, reply.Line, wire.ReplyCDErr)

	// Navigation state is unchanged: still listing the root.
	reply = send(s, addr, "LIST_FILES", "")
	assert.Equal(t, "OK a.txt", reply.Line)
}

func TestCDParentAtRootRejected(t *testing.T) {
	s := newTestServer(t)

	reply := send(s, clientAddr(40004), "CD ..", "")
	assert.Contains(t, reply.Line, wire.ReplyCDErr)
}

func TestCDToFileRejected(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "plain.txt", "x")

	reply := send(s, clientAddr(40005), "CD plain.txt", "")
	assert.Contains(t, reply.Line, wire.ReplyCDErr)
}

func TestUnknownVerb(t *testing.T) {
	s := newTestServer(t)

	reply := send(s, clientAddr(40006), "FROBNICATE now", "")
	assert.Equal(t, wire.ErrUnknownCommand, reply.Line)
}

func TestEmptyFrame(t *testing.T) {
	s := newTestServer(t)

	reply := s.processFrame(nil, clientAddr(40007))
	assert.Equal(t, wire.ErrUnknownCommand, reply.Line)
}

func TestDataWithoutUploadSession(t *testing.T) {
	s := newTestServer(t)

	reply := send(s, clientAddr(40008), "DATA "+wire.EncodeChunk([]byte("x")), "")
	assert.Equal(t, wire.ErrUnknownCommand, reply.Line)
}

func TestSyncLockExcludesOtherClients(t *testing.T) {
	s := newTestServer(t)
	holder := clientAddr(40010)
	other := clientAddr(40011)

	reply := send(s, holder, "SYNC_START backups 1", "")
	require.Equal(t, wire.ReplySyncReady, reply.Line)

	// Non-sync traffic from anyone is rejected with the busy string.
	reply = send(s, other, "LIST_FILES", "")
	assert.Equal(t, wire.ReplySyncBusy, reply.Line)
	reply = send(s, other, "DOWNLOAD a.bin", "")
	assert.Equal(t, wire.ReplySyncBusy, reply.Line)

	// Sync-flow verbs pass the gate but only the holder has a session.
	reply = send(s, other, "SYNC_CHUNK 1/1", "{}")
	assert.Equal(t, wire.ErrNoSyncSession, reply.Line)

	// A second SYNC_START is refused even from the holder.
	reply = send(s, holder, "SYNC_START other 1", "")
	assert.Equal(t, wire.ReplySyncBusy, reply.Line)
}

func TestKillServerFiles(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "a.txt", "x")
	writeFile(t, s.Root(), "nested/b.txt", "y")
	addr := clientAddr(40012)

	// Park the client inside the directory about to be erased.
	require.Equal(t, "CD_OK Now in /nested", send(s, addr, "CD nested", "").Line)

	reply := send(s, addr, "KILL_SERVER_FILES", "")
	assert.Equal(t, "KILL_OK removed 2 entries", reply.Line)

	entries, err := os.ReadDir(s.Root())
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Navigation was reset; the client is back at the (empty) root.
	reply = send(s, addr, "LIST_FILES", "")
	assert.Equal(t, "OK ", reply.Line)
}
