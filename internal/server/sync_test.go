package server

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/pkg/manifest"
	"github.com/driftsync/driftsync/pkg/wire"
)

func md5hex(content string) string {
	sum := md5.Sum([]byte(content))
	return hex.EncodeToString(sum[:])
}

// runSyncHandshake drives SYNC_START plus the manifest chunk exchange and
// returns the SYNC_FINISH reply.
func runSyncHandshake(t *testing.T, s *Server, port int, target string, man map[string]string) wire.Frame {
	t.Helper()
	addr := clientAddr(port)

	body, err := json.Marshal(man)
	require.NoError(t, err)
	chunks := wire.SplitChunks(body, 64)
	require.NotEmpty(t, chunks)

	reply := send(s, addr, wire.Join("SYNC_START", target, strconv.Itoa(len(chunks))), "")
	require.Equal(t, wire.ReplySyncReady, reply.Line)

	for i, chunk := range chunks {
		ref := wire.FormatChunkRef(i+1, len(chunks))
		reply = send(s, addr, "SYNC_CHUNK "+ref, string(chunk))
		require.Equal(t, wire.ReplyAckChunk+" "+strconv.Itoa(i+1), reply.Line)
	}

	return send(s, addr, "SYNC_FINISH", "")
}

func TestSyncNoChanges(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "backups/a.txt", "alpha")
	writeFile(t, s.Root(), "backups/sub/b.txt", "beta")

	reply := runSyncHandshake(t, s, 43001, "backups", map[string]string{
		"a.txt":     md5hex("alpha"),
		"sub":       manifest.DirSentinel,
		"sub/b.txt": md5hex("beta"),
	})
	assert.Equal(t, wire.ReplySyncNoChanges, reply.Line)

	// Lock released: ordinary traffic flows again.
	reply = send(s, clientAddr(43002), "LIST_FILES", "")
	assert.Equal(t, "OK backups/", reply.Line)
}

func TestSyncDeletesAndRequestsFiles(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "backups/stale.txt", "old")
	writeFile(t, s.Root(), "backups/gone/deep.txt", "bye")
	writeFile(t, s.Root(), "backups/keep.txt", "same")
	addr := clientAddr(43003)

	reply := runSyncHandshake(t, s, 43003, "backups", map[string]string{
		"keep.txt": md5hex("same"),
		"new.txt":  md5hex("fresh"),
	})
	require.Equal(t, "NEEDS_FILES_READY 1", reply.Line)

	// Server-only entries are gone, deepest first, directory included.
	_, err := os.Stat(filepath.Join(s.Root(), "backups", "stale.txt"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Root(), "backups", "gone"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(s.Root(), "backups", "keep.txt"))
	assert.NoError(t, err)

	// Drain the single response chunk; the final drain frees the lock.
	reply = send(s, addr, "GET_SYNC_CHUNK 1", "")
	require.Equal(t, "SYNC_CHUNK 1/1", reply.Line)

	var needs wire.NeedsFiles
	require.NoError(t, json.Unmarshal([]byte(reply.Body), &needs))
	assert.Equal(t, wire.StatusNeedsFiles, needs.Status)
	assert.Equal(t, []string{"new.txt"}, needs.Files)

	reply = send(s, clientAddr(43004), "LIST_FILES", "")
	assert.Equal(t, "OK backups/", reply.Line)
}

func TestSyncModifiedFileIsRequested(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "backups/doc.txt", "server version")
	addr := clientAddr(43005)

	reply := runSyncHandshake(t, s, 43005, "backups", map[string]string{
		"doc.txt": md5hex("client version"),
	})
	require.Equal(t, "NEEDS_FILES_READY 1", reply.Line)

	reply = send(s, addr, "GET_SYNC_CHUNK 1", "")
	var needs wire.NeedsFiles
	require.NoError(t, json.Unmarshal([]byte(reply.Body), &needs))
	assert.Equal(t, []string{"doc.txt"}, needs.Files)
}

func TestSyncCreatesClientOnlyDirectories(t *testing.T) {
	s := newTestServer(t)

	reply := runSyncHandshake(t, s, 43006, "backups", map[string]string{
		"empty/nested": manifest.DirSentinel,
		"empty":        manifest.DirSentinel,
	})
	assert.Equal(t, wire.ReplySyncNoChanges, reply.Line)

	info, err := os.Stat(filepath.Join(s.Root(), "backups", "empty", "nested"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSyncBadManifestReleasesLock(t *testing.T) {
	s := newTestServer(t)
	addr := clientAddr(43007)

	reply := send(s, addr, "SYNC_START backups 1", "")
	require.Equal(t, wire.ReplySyncReady, reply.Line)
	reply = send(s, addr, "SYNC_CHUNK 1/1", "this is not json")
	require.Equal(t, "ACK_CHUNK 1", reply.Line)

	reply = send(s, addr, "SYNC_FINISH", "")
	assert.Contains(t, reply.Line, wire.ReplySyncErr)

	reply = send(s, clientAddr(43008), "LIST_FILES", "")
	assert.Equal(t, "OK backups/", reply.Line)
}

func TestSyncStartRejectsBadArguments(t *testing.T) {
	s := newTestServer(t)

	for _, line := range []string{
		"SYNC_START",
		"SYNC_START backups",
		"SYNC_START backups zero",
		"SYNC_START backups 0",
		"SYNC_START backups -3",
	} {
		reply := send(s, clientAddr(43009), line, "")
		assert.Equal(t, wire.ErrUnknownCommand, reply.Line, line)
	}

	reply := send(s, clientAddr(43009), "SYNC_START ../../outside 1", "")
	assert.Equal(t, wire.ErrInvalidPath, reply.Line)
}

func TestSyncVerbsWithoutSession(t *testing.T) {
	s := newTestServer(t)
	addr := clientAddr(43010)

	for _, line := range []string{"SYNC_CHUNK 1/1", "SYNC_FINISH", "GET_SYNC_CHUNK 1"} {
		reply := send(s, addr, line, "")
		assert.Equal(t, wire.ErrNoSyncSession, reply.Line, line)
	}
}

func TestGetSyncChunkOutOfRange(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "backups/extra.txt", "x")
	addr := clientAddr(43011)

	reply := runSyncHandshake(t, s, 43011, "backups", map[string]string{
		"new.txt": md5hex("fresh"),
	})
	require.Equal(t, "NEEDS_FILES_READY 1", reply.Line)

	for _, line := range []string{"GET_SYNC_CHUNK 0", "GET_SYNC_CHUNK 2", "GET_SYNC_CHUNK x"} {
		reply = send(s, addr, line, "")
		assert.Equal(t, wire.ErrUnknownCommand, reply.Line, line)
	}

	// A bad index does not kill the session; the real drain still works.
	reply = send(s, addr, "GET_SYNC_CHUNK 1", "")
	assert.Equal(t, "SYNC_CHUNK 1/1", reply.Line)
}
