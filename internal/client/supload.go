package client

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftsync/driftsync/internal/logger"
	"github.com/driftsync/driftsync/pkg/wire"
)

// SuploadResult summarizes one bulk upload.
type SuploadResult struct {
	Root  string
	Dirs  int
	Files int
	Bytes int64
}

// Supload mirrors a local directory tree to the server under the
// directory's base name: one SUPLOAD_STRUCTURE carrying every relative
// directory, then one upload per file, then SUPLOAD_COMPLETE.
func (c *Client) Supload(ctx context.Context, localDir string) (*SuploadResult, error) {
	localDir = filepath.Clean(localDir)
	info, err := os.Stat(localDir)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", localDir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", localDir)
	}

	dirs, files, err := collectTree(localDir)
	if err != nil {
		return nil, err
	}

	root := filepath.Base(localDir)
	reply, err := c.exchange(ctx, wire.Join(wire.VerbSuploadStructure, root), strings.Join(dirs, "\n"))
	if err != nil {
		return nil, err
	}
	if reply.Line != wire.ReplyStructureOK {
		return nil, fmt.Errorf("supload %s: %s", root, reply.Line)
	}

	result := &SuploadResult{Root: root, Dirs: len(dirs)}
	for _, rel := range files {
		sent, err := c.suploadFile(ctx, localDir, rel)
		if err != nil {
			return result, fmt.Errorf("supload %s: %w", rel, err)
		}
		result.Files++
		result.Bytes += sent
	}

	reply, err = c.exchange(ctx, wire.VerbSuploadComplete, "")
	if err != nil {
		return result, err
	}
	if reply.Line != wire.ReplySuploadOK {
		return result, fmt.Errorf("supload %s: %s", root, reply.Line)
	}

	logger.Info("Bulk upload finished",
		logger.Rel(root),
		"dirs", result.Dirs,
		"files", result.Files,
		logger.BytesOut(result.Bytes))
	return result, nil
}

// suploadFile transfers one file within an open bulk session.
func (c *Client) suploadFile(ctx context.Context, localDir, rel string) (int64, error) {
	file, err := os.Open(filepath.Join(localDir, filepath.FromSlash(rel)))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reply, err := c.exchange(ctx, wire.Join(wire.VerbSuploadFile, rel), "")
	if err != nil {
		return 0, err
	}
	if reply.Line != wire.ReplyFileReady {
		return 0, fmt.Errorf("server replied %q", reply.Line)
	}

	return c.sendFileBody(ctx, file, rel)
}

// collectTree walks root and returns its relative directories and regular
// files in slash form, walk order. Symlinks and other irregular entries
// are skipped.
func collectTree(root string) (dirs, files []string, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if path == root {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			dirs = append(dirs, rel)
		case d.Type().IsRegular():
			files = append(files, rel)
		default:
			logger.Warn("Skipping irregular entry", logger.Rel(rel))
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return dirs, files, nil
}
