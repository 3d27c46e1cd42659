package server

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftsync/driftsync/pkg/pathsafe"
)

func tempUploadFile(t *testing.T) *os.File {
	t.Helper()
	f, err := os.Create(filepath.Join(t.TempDir(), "dest"))
	require.NoError(t, err)
	return f
}

func TestNavigatorDefaultsToRoot(t *testing.T) {
	root, err := pathsafe.NewRoot(t.TempDir())
	require.NoError(t, err)
	nav := newNavigator(root)

	assert.Equal(t, root.Path(), nav.Current("1.2.3.4:1000"))

	sub := filepath.Join(root.Path(), "sub")
	require.NoError(t, os.Mkdir(sub, 0755))
	nav.Set("1.2.3.4:1000", sub)
	assert.Equal(t, sub, nav.Current("1.2.3.4:1000"))
	assert.Equal(t, root.Path(), nav.Current("5.6.7.8:2000"))

	nav.ResetAll()
	assert.Equal(t, root.Path(), nav.Current("1.2.3.4:1000"))
}

func TestUploadTableReplacesExistingSession(t *testing.T) {
	table := newUploadTable()

	first := table.Start("c1", "/tmp/a", tempUploadFile(t), false)
	second := table.Start("c1", "/tmp/b", tempUploadFile(t), false)

	assert.Equal(t, 1, table.Len())
	assert.NotEqual(t, first.id, second.id)

	sess, ok := table.Get("c1")
	require.True(t, ok)
	assert.Equal(t, "/tmp/b", sess.dest)
}

func TestUploadTableExpire(t *testing.T) {
	table := newUploadTable()
	table.Start("stale", "/tmp/a", tempUploadFile(t), false)
	fresh := table.Start("fresh", "/tmp/b", tempUploadFile(t), false)

	sess, ok := table.Get("stale")
	require.True(t, ok)
	sess.lastActive = time.Now().Add(-time.Hour)

	expired := table.Expire(30 * time.Minute)
	require.Len(t, expired, 1)
	assert.Equal(t, "stale", expired[0].client)
	assert.Equal(t, 1, table.Len())

	_, ok = table.Get("stale")
	assert.False(t, ok)
	got, ok := table.Get("fresh")
	require.True(t, ok)
	assert.Equal(t, fresh.id, got.id)
}

func TestBulkTableLifecycle(t *testing.T) {
	table := newBulkTable()

	sess := table.Start("c1", "/srv/base")
	got, ok := table.Get("c1")
	require.True(t, ok)
	assert.Equal(t, sess.id, got.id)

	closed, ok := table.Close("c1")
	require.True(t, ok)
	assert.Equal(t, sess.id, closed.id)
	assert.Equal(t, 0, table.Len())

	_, ok = table.Close("c1")
	assert.False(t, ok)
}

func TestSyncStateLock(t *testing.T) {
	st := newSyncState()

	sess, ok := st.Acquire("c1", "/srv/t", 2)
	require.True(t, ok)
	assert.True(t, st.Held())

	// The lock is exclusive, even against its own holder.
	_, ok = st.Acquire("c1", "/srv/other", 1)
	assert.False(t, ok)
	_, ok = st.Acquire("c2", "/srv/t", 1)
	assert.False(t, ok)

	// Only the holder can reach the session.
	got, ok := st.Get("c1")
	require.True(t, ok)
	assert.Equal(t, sess.id, got.id)
	_, ok = st.Get("c2")
	assert.False(t, ok)

	st.Release()
	assert.False(t, st.Held())
	_, ok = st.Acquire("c2", "/srv/t", 1)
	assert.True(t, ok)
}

func TestSyncStateExpireIdle(t *testing.T) {
	st := newSyncState()

	sess, ok := st.Acquire("c1", "/srv/t", 1)
	require.True(t, ok)

	_, expired := st.ExpireIdle(5 * time.Minute)
	assert.False(t, expired)

	sess.lastActive = time.Now().Add(-10 * time.Minute)
	reaped, expired := st.ExpireIdle(5 * time.Minute)
	require.True(t, expired)
	assert.Equal(t, sess.id, reaped.id)
	assert.False(t, st.Held())
}
