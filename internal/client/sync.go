package client

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/manifest"
	"github.com/driftsync/driftsync/pkg/wire"
)

// SyncResult summarizes one sync run.
type SyncResult struct {
	NoChanges bool
	Uploaded  int
	Bytes     int64
}

// Sync makes the server's remote directory converge to localDir: manifest
// exchange, server-side deletions, then one upload per file the server
// asks for. Returns ErrBusy when another client holds the sync lock.
func (c *Client) Sync(ctx context.Context, localDir, remote string) (*SyncResult, error) {
	man, err := manifest.Build(localDir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", localDir, err)
	}

	body, err := json.Marshal(man)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	chunks := wire.SplitChunks(body, wire.ChunkSize)

	reply, err := c.exchange(ctx, wire.Join(wire.VerbSyncStart, remote, strconv.Itoa(len(chunks))), "")
	if err != nil {
		return nil, err
	}
	if reply.Line != wire.ReplySyncReady {
		return nil, fmt.Errorf("sync %s: %s", remote, reply.Line)
	}

	for i, chunk := range chunks {
		ref := wire.FormatChunkRef(i+1, len(chunks))
		reply, err = c.exchange(ctx, wire.Join(wire.VerbSyncChunk, ref), string(chunk))
		if err != nil {
			return nil, err
		}
		if reply.Line != wire.Join(wire.ReplyAckChunk, strconv.Itoa(i+1)) {
			return nil, fmt.Errorf("sync %s: chunk %s got %s", remote, ref, reply.Line)
		}
	}

	reply, err = c.exchange(ctx, wire.VerbSyncFinish, "")
	if err != nil {
		return nil, err
	}

	switch {
	case reply.Line == wire.ReplySyncNoChanges:
		logger.Info("Sync complete, no changes", logger.Rel(remote))
		return &SyncResult{NoChanges: true}, nil

	case strings.HasPrefix(reply.Line, wire.ReplyNeedsFilesReady+" "):
		needed, err := c.drainNeededFiles(ctx, reply.Line)
		if err != nil {
			return nil, fmt.Errorf("sync %s: %w", remote, err)
		}
		return c.uploadNeededFiles(ctx, localDir, remote, needed)

	default:
		return nil, fmt.Errorf("sync %s: %s", remote, reply.Line)
	}
}

// drainNeededFiles fetches every response chunk announced by a
// NEEDS_FILES_READY reply and parses the reassembled needs-files body.
// Draining the last chunk releases the server's sync lock.
func (c *Client) drainNeededFiles(ctx context.Context, readyLine string) ([]string, error) {
	total, err := strconv.Atoi(strings.TrimPrefix(readyLine, wire.ReplyNeedsFilesReady+" "))
	if err != nil || total < 1 {
		return nil, fmt.Errorf("bad chunk count in %q", readyLine)
	}

	var body strings.Builder
	for i := 1; i <= total; i++ {
		reply, err := c.exchange(ctx, wire.Join(wire.VerbGetSyncChunk, strconv.Itoa(i)), "")
		if err != nil {
			return nil, err
		}
		want := wire.Join(wire.ReplySyncChunk, wire.FormatChunkRef(i, total))
		if reply.Line != want {
			return nil, fmt.Errorf("chunk %d got %s", i, reply.Line)
		}
		body.WriteString(reply.Body)
	}

	var needs wire.NeedsFiles
	if err := json.Unmarshal([]byte(body.String()), &needs); err != nil {
		return nil, fmt.Errorf("parse needs-files body: %w", err)
	}
	if needs.Status != wire.StatusNeedsFiles {
		return nil, fmt.Errorf("unexpected status %q", needs.Status)
	}
	return needs.Files, nil
}

// uploadNeededFiles pushes each requested file to <remote>/<relpath>.
// Uploads run after the drain, so the sync lock is already free. The
// destination is root-anchored (leading slash): the sync target was
// resolved against the root, so the uploads must be too, or a prior CD
// would land them under the wrong directory.
func (c *Client) uploadNeededFiles(ctx context.Context, localDir, remote string, needed []string) (*SyncResult, error) {
	result := &SyncResult{}
	for _, rel := range needed {
		local := filepath.Join(localDir, filepath.FromSlash(rel))
		sent, err := c.Upload(ctx, local, "/"+path.Join(remote, rel))
		if err != nil {
			return result, fmt.Errorf("sync upload %s: %w", rel, err)
		}
		result.Uploaded++
		result.Bytes += sent
	}

	logger.Info("Sync complete",
		logger.Rel(remote),
		"uploaded", result.Uploaded,
		logger.BytesOut(result.Bytes))
	return result, nil
}
