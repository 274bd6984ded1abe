package agent

import (
	"errors"
	"sync"
	"testing"
	"time"

	apperrors "github.com/LingByte/kvs-agent/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(role Role, factory *fakeFactory) *Registry {
	return NewRegistry(RegistryOptions{Role: role, Factory: factory})
}

func TestRegistry_GetOrCreateIsUnique(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(RoleMaster, factory)

	var wg sync.WaitGroup
	entries := make([]*Entry, 16)
	for i := range entries {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			e, _, err := r.GetOrCreate("v1")
			require.NoError(t, err)
			entries[i] = e
		}(i)
	}
	wg.Wait()

	for _, e := range entries {
		assert.Same(t, entries[0], e)
	}
	assert.Len(t, factory.created(), 1)
	assert.Equal(t, StateNew, entries[0].State())
}

func TestRegistry_AttachesTracksByRole(t *testing.T) {
	stream := newFakeStream(t)

	master := &fakeFactory{}
	mr := newTestRegistry(RoleMaster, master)
	mr.SetStream(stream)
	_, created, err := mr.GetOrCreate("v1")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, master.created()[0].tracks, 2)

	viewer := &fakeFactory{}
	vr := newTestRegistry(RoleViewer, viewer)
	vr.SetStream(stream)
	_, _, err = vr.GetOrCreate(MasterPeerID)
	require.NoError(t, err)
	assert.Empty(t, viewer.created()[0].tracks)
}

func TestRegistry_GetDoesNotCreate(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(RoleMaster, factory)

	_, ok := r.Get("v1")
	assert.False(t, ok)
	assert.Empty(t, factory.created())
}

func TestRegistry_CloseAllTwice(t *testing.T) {
	factory := &fakeFactory{}
	r := newTestRegistry(RoleMaster, factory)
	for _, id := range []string{"v1", "v2", "v3"} {
		_, _, err := r.GetOrCreate(id)
		require.NoError(t, err)
	}

	require.NoError(t, r.CloseAll())
	require.NoError(t, r.CloseAll())

	for _, info := range r.Entries() {
		assert.Equal(t, StateClosed, info.State)
	}
	for _, c := range factory.created() {
		assert.Equal(t, 1, c.closeCount())
	}

	_, _, err := r.GetOrCreate("v4")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeRegistryClosed))
}

func TestRegistry_CloseAllTwiceWithFailingClose(t *testing.T) {
	factory := &fakeFactory{prepare: func(n int, c *fakeConn) {
		if n == 0 {
			c.failClose = errors.New("dtls close failed")
		}
	}}
	r := newTestRegistry(RoleViewer, factory)
	_, _, err := r.GetOrCreate(MasterPeerID)
	require.NoError(t, err)

	err = r.CloseAll()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dtls close failed")

	assert.NoError(t, r.CloseAll(), "second CloseAll has nothing left to close")
	assert.Equal(t, StateClosed, r.Entries()[0].State)
	assert.Equal(t, 1, factory.created()[0].closeCount())
}

func TestRegistry_FactoryError(t *testing.T) {
	r := newTestRegistry(RoleMaster, &fakeFactory{err: errors.New("no sockets")})

	_, _, err := r.GetOrCreate("v1")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeNegotiationFailed))
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_BindAndRemove(t *testing.T) {
	r := newTestRegistry(RoleMaster, &fakeFactory{})
	tmpl, _, err := r.GetOrCreate(BroadcastPeerID)
	require.NoError(t, err)

	bound, err := r.Bind(BroadcastPeerID, "v1")
	require.NoError(t, err)
	assert.Same(t, tmpl, bound)
	assert.Equal(t, "v1", bound.RemoteID())
	_, ok := r.Get(BroadcastPeerID)
	assert.False(t, ok)

	_, err = r.Bind(BroadcastPeerID, "v2")
	assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeUnknownPeer))

	assert.True(t, r.Remove("v1"))
	assert.False(t, r.Remove("v1"))
	assert.True(t, r.RecentlyClosed("v1"))
	assert.Equal(t, StateClosed, bound.State())
}

func TestRegistry_ReapKeepsRecentFailures(t *testing.T) {
	r := newTestRegistry(RoleMaster, &fakeFactory{})
	e, _, err := r.GetOrCreate("v1")
	require.NoError(t, err)
	e.transition(StateFailed)
	_, _, err = r.GetOrCreate("v2")
	require.NoError(t, err)

	assert.Empty(t, r.Reap(time.Hour))
	assert.Equal(t, []string{"v1"}, r.Reap(0))
	assert.Equal(t, 1, r.Len())
}
