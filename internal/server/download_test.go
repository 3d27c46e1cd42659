package server

import (
	"bytes"
	"crypto/rand"
	"fmt"
	"net"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/pkg/wire"
)

// dataPortClient is a minimal stop-and-wait peer for exercising download
// workers over a real socket.
type dataPortClient struct {
	t    *testing.T
	conn *net.UDPConn
}

func dialDataPort(t *testing.T, port int) *dataPortClient {
	t.Helper()
	conn, err := net.DialUDP("udp", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &dataPortClient{t: t, conn: conn}
}

func (c *dataPortClient) exchange(line string) wire.Frame {
	c.t.Helper()
	_, err := c.conn.Write([]byte(line))
	require.NoError(c.t, err)

	require.NoError(c.t, c.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, wire.MaxFrame)
	n, err := c.conn.Read(buf)
	require.NoError(c.t, err)
	return wire.Parse(buf[:n])
}

func TestDownloadDispatchReply(t *testing.T) {
	s := newTestServer(t)
	content := make([]byte, 3000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	writeFile(t, s.Root(), "a.bin", string(content))
	defer s.Stop()

	reply := send(s, clientAddr(44001), "DOWNLOAD a.bin", "")
	assert.Regexp(t, regexp.MustCompile(`^OK a\.bin SIZE 3000 PORT \d+$`), reply.Line)
}

func TestDownloadMissingFile(t *testing.T) {
	s := newTestServer(t)

	reply := send(s, clientAddr(44002), "DOWNLOAD nope.bin", "")
	assert.Equal(t, "ERR nope.bin NOT_FOUND", reply.Line)
}

func TestDownloadDirectoryRejected(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "docs/readme.txt", "x")

	reply := send(s, clientAddr(44003), "DOWNLOAD docs", "")
	assert.Equal(t, "ERR docs NOT_A_FILE", reply.Line)
}

func TestDownloadSequentialDialect(t *testing.T) {
	s := newTestServer(t)
	content := make([]byte, 3000)
	_, err := rand.Read(content)
	require.NoError(t, err)
	writeFile(t, s.Root(), "a.bin", string(content))
	defer s.Stop()

	port, err := s.startDownloadWorker(filepath.Join(s.Root(), "a.bin"), "a.bin")
	require.NoError(t, err)

	c := dialDataPort(t, port)
	reply := c.exchange("DOWNLOAD a.bin")
	require.Equal(t, wire.ReplyDownloadReady, reply.Line)

	var got bytes.Buffer
	chunks := 0
	for {
		reply = c.exchange("GET_CHUNK")
		if reply.Line == wire.ReplyTransferComplete {
			break
		}
		require.True(t, strings.HasPrefix(reply.Line, wire.ReplyData+" "), reply.Line)
		chunk, err := wire.DecodeChunk(strings.TrimPrefix(reply.Line, wire.ReplyData+" "))
		require.NoError(t, err)
		got.Write(chunk)
		chunks++
	}

	assert.Equal(t, 3, chunks)
	assert.Equal(t, content, got.Bytes())
}

func TestDownloadSequentialHandshakeRetransmit(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "a.bin", "abc")
	defer s.Stop()

	port, err := s.startDownloadWorker(filepath.Join(s.Root(), "a.bin"), "a.bin")
	require.NoError(t, err)

	c := dialDataPort(t, port)
	require.Equal(t, wire.ReplyDownloadReady, c.exchange("DOWNLOAD a.bin").Line)
	// A retransmitted handshake (lost reply) is answered again.
	require.Equal(t, wire.ReplyDownloadReady, c.exchange("DOWNLOAD a.bin").Line)

	reply := c.exchange("GET_CHUNK")
	chunk, err := wire.DecodeChunk(strings.TrimPrefix(reply.Line, wire.ReplyData+" "))
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), chunk)
}

func TestDownloadLegacyDialect(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "a.bin", "0123456789")
	defer s.Stop()

	port, err := s.startDownloadWorker(filepath.Join(s.Root(), "a.bin"), "a.bin")
	require.NoError(t, err)

	c := dialDataPort(t, port)

	reply := c.exchange("FILE a.bin GET START 2 END 5")
	fields := strings.Fields(reply.Line)
	require.Len(t, fields, 9)
	assert.Equal(t, []string{"FILE", "a.bin", "OK", "START", "2", "END", "5", "DATA"}, fields[:8])
	chunk, err := wire.DecodeChunk(fields[8])
	require.NoError(t, err)
	assert.Equal(t, []byte("2345"), chunk)

	// Random access: ranges can repeat and arrive out of order.
	reply = c.exchange("FILE a.bin GET START 0 END 0")
	fields = strings.Fields(reply.Line)
	chunk, err = wire.DecodeChunk(fields[8])
	require.NoError(t, err)
	assert.Equal(t, []byte("0"), chunk)

	reply = c.exchange("FILE a.bin CLOSE")
	assert.Equal(t, "FILE a.bin CLOSE_OK", reply.Line)
}

func TestDownloadLegacyRangePastEOF(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "a.bin", "0123456789")
	defer s.Stop()

	port, err := s.startDownloadWorker(filepath.Join(s.Root(), "a.bin"), "a.bin")
	require.NoError(t, err)

	c := dialDataPort(t, port)

	// A range running past EOF is truncated to the bytes that exist.
	reply := c.exchange("FILE a.bin GET START 8 END 20")
	fields := strings.Fields(reply.Line)
	require.Len(t, fields, 9)
	assert.Equal(t, "8", fields[4])
	assert.Equal(t, "9", fields[6])
	chunk, err := wire.DecodeChunk(fields[8])
	require.NoError(t, err)
	assert.Equal(t, []byte("89"), chunk)

	c.exchange("FILE a.bin CLOSE")
}

func TestDownloadWorkerPortsAreDistinct(t *testing.T) {
	s := newTestServer(t)
	writeFile(t, s.Root(), "a.bin", "abc")
	defer s.Stop()

	path := filepath.Join(s.Root(), "a.bin")
	p1, err := s.startDownloadWorker(path, "a.bin")
	require.NoError(t, err)
	p2, err := s.startDownloadWorker(path, "a.bin")
	require.NoError(t, err)
	assert.NotEqual(t, p1, p2)

	for _, p := range []int{p1, p2} {
		c := dialDataPort(t, p)
		require.Equal(t, wire.ReplyDownloadReady, c.exchange(fmt.Sprintf("DOWNLOAD %s", "a.bin")).Line)
		for {
			if c.exchange("GET_CHUNK").Line == wire.ReplyTransferComplete {
				break
			}
		}
	}
}
