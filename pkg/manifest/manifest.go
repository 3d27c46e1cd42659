// Package manifest builds and compares directory content manifests.
//
// A manifest maps POSIX-style relative paths to either the directory
// sentinel or the hex MD5 digest of the file's contents. MD5 is the fixed
// on-wire digest of the sync protocol; it is used for change detection,
// not authentication. Two manifests are equal when their entry sets are
// equal; ordering carries no meaning.
package manifest

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/driftsync/driftsync/internal/logger"
)

// DirSentinel marks a directory entry in a manifest.
const DirSentinel = "__DIR__"

// Manifest maps relative POSIX paths to DirSentinel or a hex MD5 digest.
type Manifest map[string]string

// Diff is the outcome of comparing a client manifest against a server one.
type Diff struct {
	// ToDelete lists server-side paths absent from the client, ordered
	// deepest-first so files and subdirectories go before their parents.
	ToDelete []string

	// ToFetch lists files the server must obtain from the client: client
	// files that are absent server-side or whose digest differs.
	// Directories never appear here.
	ToFetch []string
}

// Build walks base recursively and records every descendant. Directories
// map to DirSentinel, regular files to their content digest. Entries that
// cannot be read are skipped with a diagnostic; everything that is neither
// a directory nor a regular file (sockets, devices, dangling symlinks) is
// ignored.
func Build(base string) (Manifest, error) {
	m := make(Manifest)

	err := filepath.WalkDir(base, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			logger.Warn("Skipping unreadable entry", logger.Path(path), logger.Err(walkErr))
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if path == base {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		switch {
		case d.IsDir():
			m[rel] = DirSentinel
		case d.Type().IsRegular():
			digest, err := FileDigest(path)
			if err != nil {
				logger.Warn("Skipping unreadable file", logger.Path(path), logger.Err(err))
				return nil
			}
			m[rel] = digest
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %q: %w", base, err)
	}

	return m, nil
}

// FileDigest returns the hex MD5 digest of the file's full contents.
func FileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := md5.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Compute diffs a client manifest (the authority) against a server one.
//
// ToDelete collects keys present only on the server. ToFetch collects keys
// where the client holds a file digest and either the server lacks the key
// or both sides hold file digests that differ. A client file colliding
// with a server directory (or vice versa) is neither fetched nor deleted;
// convergence for such conflicts is left to a later run after the
// conflicting entry is gone.
func Compute(client, server Manifest) Diff {
	var d Diff

	for key := range server {
		if _, ok := client[key]; !ok {
			d.ToDelete = append(d.ToDelete, key)
		}
	}
	sortDepthFirst(d.ToDelete)

	for key, clientDigest := range client {
		if clientDigest == DirSentinel {
			continue
		}
		serverDigest, ok := server[key]
		if !ok {
			d.ToFetch = append(d.ToFetch, key)
			continue
		}
		if serverDigest != DirSentinel && serverDigest != clientDigest {
			d.ToFetch = append(d.ToFetch, key)
		}
	}
	sort.Strings(d.ToFetch)

	return d
}

// Directories returns the manifest's directory entries sorted shallowest
// first, so they can be created in order.
func (m Manifest) Directories() []string {
	var dirs []string
	for key, v := range m {
		if v == DirSentinel {
			dirs = append(dirs, key)
		}
	}
	sort.Slice(dirs, func(i, j int) bool {
		di, dj := strings.Count(dirs[i], "/"), strings.Count(dirs[j], "/")
		if di != dj {
			return di < dj
		}
		return dirs[i] < dirs[j]
	})
	return dirs
}

// sortDepthFirst orders paths deepest-first (most separators first) with a
// lexicographic tie-break, the order deletions must run in.
func sortDepthFirst(paths []string) {
	sort.Slice(paths, func(i, j int) bool {
		di, dj := strings.Count(paths[i], "/"), strings.Count(paths[j], "/")
		if di != dj {
			return di > dj
		}
		return paths[i] > paths[j]
	})
}
