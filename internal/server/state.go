package server

import (
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftsync/driftsync/pkg/pathsafe"
)

// ============================================================================
// Per-client navigation state
// ============================================================================

// navigator tracks each client's current directory. Client identity is the
// (ip, port) tuple observed on the datagram; there is no handshake and no
// expiry, entries live for the server's lifetime.
type navigator struct {
	mu       sync.RWMutex
	root     *pathsafe.Root
	byClient map[string]string
}

func newNavigator(root *pathsafe.Root) *navigator {
	return &navigator{
		root:     root,
		byClient: make(map[string]string),
	}
}

// Current returns the client's current directory, defaulting to the root
// for clients never seen before.
func (n *navigator) Current(client string) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if dir, ok := n.byClient[client]; ok {
		return dir
	}
	return n.root.Path()
}

// Set records a successful CD. abs must already be confined.
func (n *navigator) Set(client, abs string) {
	n.mu.Lock()
	n.byClient[client] = abs
	n.mu.Unlock()
}

// ResetAll drops every entry back to the root. Used after a root-scope
// KILL_SERVER_FILES, when recorded directories may no longer exist.
func (n *navigator) ResetAll() {
	n.mu.Lock()
	n.byClient = make(map[string]string)
	n.mu.Unlock()
}

// ============================================================================
// Upload sessions
// ============================================================================

// uploadSession is the receiver side of one stop-and-wait file upload.
// Exactly one may exist per client; DATA frames append to the open file.
type uploadSession struct {
	id         string
	client     string
	dest       string
	file       *os.File
	received   int64
	fromBulk   bool
	lastActive time.Time
}

// uploadTable holds active upload sessions keyed by client identity.
type uploadTable struct {
	mu       sync.Mutex
	byClient map[string]*uploadSession
}

func newUploadTable() *uploadTable {
	return &uploadTable{byClient: make(map[string]*uploadSession)}
}

// Start opens a new session, replacing (and aborting) any session the
// client already had.
func (t *uploadTable) Start(client, dest string, file *os.File, fromBulk bool) *uploadSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byClient[client]; ok {
		_ = old.file.Close()
	}

	sess := &uploadSession{
		id:         uuid.NewString(),
		client:     client,
		dest:       dest,
		file:       file,
		fromBulk:   fromBulk,
		lastActive: time.Now(),
	}
	t.byClient[client] = sess
	return sess
}

// Get returns the client's active session, if any, and refreshes its idle
// timer.
func (t *uploadTable) Get(client string) (*uploadSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.byClient[client]
	if ok {
		sess.lastActive = time.Now()
	}
	return sess, ok
}

// Finish closes the destination file and removes the session.
func (t *uploadTable) Finish(client string) (*uploadSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.byClient[client]
	if !ok {
		return nil, false
	}
	delete(t.byClient, client)
	_ = sess.file.Close()
	return sess, true
}

// Abort removes the session, closing the file and leaving the partial
// destination in place.
func (t *uploadTable) Abort(client string) (*uploadSession, bool) {
	return t.Finish(client)
}

// Expire removes sessions idle longer than ttl and returns them.
func (t *uploadTable) Expire(ttl time.Duration) []*uploadSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*uploadSession
	cutoff := time.Now().Add(-ttl)
	for client, sess := range t.byClient {
		if sess.lastActive.Before(cutoff) {
			_ = sess.file.Close()
			delete(t.byClient, client)
			expired = append(expired, sess)
		}
	}
	return expired
}

// Len returns the number of active sessions.
func (t *uploadTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byClient)
}

// ============================================================================
// Bulk-upload sessions
// ============================================================================

// bulkSession ties a set of SUPLOAD_FILE exchanges to one destination root
// created by SUPLOAD_STRUCTURE.
type bulkSession struct {
	id         string
	client     string
	base       string
	created    time.Time
	lastActive time.Time
}

// bulkTable holds active bulk sessions keyed by client identity.
type bulkTable struct {
	mu       sync.Mutex
	byClient map[string]*bulkSession
}

func newBulkTable() *bulkTable {
	return &bulkTable{byClient: make(map[string]*bulkSession)}
}

// Start opens a bulk session rooted at base, replacing any existing one.
func (t *bulkTable) Start(client, base string) *bulkSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	sess := &bulkSession{
		id:         uuid.NewString(),
		client:     client,
		base:       base,
		created:    time.Now(),
		lastActive: time.Now(),
	}
	t.byClient[client] = sess
	return sess
}

// Get returns the client's bulk session and refreshes its idle timer.
func (t *bulkTable) Get(client string) (*bulkSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.byClient[client]
	if ok {
		sess.lastActive = time.Now()
	}
	return sess, ok
}

// Close removes the client's bulk session.
func (t *bulkTable) Close(client string) (*bulkSession, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.byClient[client]
	if !ok {
		return nil, false
	}
	delete(t.byClient, client)
	return sess, true
}

// Expire removes sessions idle longer than ttl and returns them.
func (t *bulkTable) Expire(ttl time.Duration) []*bulkSession {
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired []*bulkSession
	cutoff := time.Now().Add(-ttl)
	for client, sess := range t.byClient {
		if sess.lastActive.Before(cutoff) {
			delete(t.byClient, client)
			expired = append(expired, sess)
		}
	}
	return expired
}

// Len returns the number of active sessions.
func (t *bulkTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byClient)
}

// ============================================================================
// Sync session and global sync lock
// ============================================================================

// syncSession is the server side of one directory synchronization. At most
// one exists process-wide; holding it is holding the global sync lock.
type syncSession struct {
	id       string
	client   string
	target   string
	expected int
	received int
	buf      []byte

	// chunks holds the needs-files response split for GET_SYNC_CHUNK
	// draining; nil until SYNC_FINISH found files to fetch.
	chunks     []string
	lastActive time.Time
}

// syncState guards the single sync session. The session pointer doubles as
// the global sync lock: non-nil means held.
type syncState struct {
	mu      sync.Mutex
	session *syncSession
}

func newSyncState() *syncState {
	return &syncState{}
}

// Acquire installs a new session if the lock is free. Returns the session
// and true on success, nil and false when another client holds the lock.
// Re-acquisition by the current holder also fails: one sync at a time,
// even per client.
func (st *syncState) Acquire(client, target string, expected int) (*syncSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session != nil {
		return nil, false
	}
	st.session = &syncSession{
		id:         uuid.NewString(),
		client:     client,
		target:     target,
		expected:   expected,
		lastActive: time.Now(),
	}
	return st.session, true
}

// Held reports whether the sync lock is currently held.
func (st *syncState) Held() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.session != nil
}

// Get returns the session when the caller is the holder, refreshing its
// idle timer.
func (st *syncState) Get(client string) (*syncSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.session == nil || st.session.client != client {
		return nil, false
	}
	st.session.lastActive = time.Now()
	return st.session, true
}

// Release destroys the session and frees the lock.
func (st *syncState) Release() {
	st.mu.Lock()
	st.session = nil
	st.mu.Unlock()
}

// ExpireIdle releases the lock when the session has been idle longer than
// ttl. This is both the idle expiry and the drain watchdog: a client that
// never fetches the final response chunk would otherwise leak the lock.
func (st *syncState) ExpireIdle(ttl time.Duration) (*syncSession, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if st.session == nil || !st.session.lastActive.Before(time.Now().Add(-ttl)) {
		return nil, false
	}
	sess := st.session
	st.session = nil
	return sess, true
}
