package client

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
)

// Pair is one configured local/remote sync mapping.
type Pair struct {
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
}

// PairStore persists sync pairs as a JSON object keyed by small decimal
// ids, e.g. {"1": {"local_path": "...", "remote_path": "..."}}.
type PairStore struct {
	path string
}

// NewPairStore opens (but does not create) the store at path.
func NewPairStore(path string) *PairStore {
	return &PairStore{path: path}
}

// Load reads all pairs. A missing file is an empty store.
func (ps *PairStore) Load() (map[string]Pair, error) {
	data, err := os.ReadFile(ps.path)
	if os.IsNotExist(err) {
		return map[string]Pair{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", ps.path, err)
	}

	pairs := map[string]Pair{}
	if err := json.Unmarshal(data, &pairs); err != nil {
		return nil, fmt.Errorf("parse %s: %w", ps.path, err)
	}
	return pairs, nil
}

// Add stores a new pair under the next free numeric id and returns it.
func (ps *PairStore) Add(local, remote string) (string, error) {
	pairs, err := ps.Load()
	if err != nil {
		return "", err
	}

	next := 1
	for id := range pairs {
		if n, err := strconv.Atoi(id); err == nil && n >= next {
			next = n + 1
		}
	}
	id := strconv.Itoa(next)
	pairs[id] = Pair{LocalPath: local, RemotePath: remote}

	if err := ps.save(pairs); err != nil {
		return "", err
	}
	return id, nil
}

// Remove deletes a pair by id.
func (ps *PairStore) Remove(id string) error {
	pairs, err := ps.Load()
	if err != nil {
		return err
	}
	if _, ok := pairs[id]; !ok {
		return fmt.Errorf("no sync pair %q", id)
	}
	delete(pairs, id)
	return ps.save(pairs)
}

// IDs returns the stored pair ids in numeric order.
func (ps *PairStore) IDs() ([]string, error) {
	pairs, err := ps.Load()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(pairs))
	for id := range pairs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, _ := strconv.Atoi(ids[i])
		b, _ := strconv.Atoi(ids[j])
		return a < b
	})
	return ids, nil
}

func (ps *PairStore) save(pairs map[string]Pair) error {
	data, err := json.MarshalIndent(pairs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode pairs: %w", err)
	}
	if err := os.WriteFile(ps.path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", ps.path, err)
	}
	return nil
}
