package localstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pos-terminal/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSessionRoundTrip(t *testing.T) {
	store := newTestStore(t)

	session, err := store.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Empty(t, store.Token())

	require.NoError(t, store.SaveSession(&models.Session{
		Token:   "tok-123",
		StaffID: 9,
		Name:    "Ana",
		Role:    "cashier",
	}))

	session, err = store.LoadSession()
	require.NoError(t, err)
	require.NotNil(t, session)
	assert.Equal(t, int64(9), session.StaffID)
	assert.Equal(t, "tok-123", store.Token())

	require.NoError(t, store.ClearSession())
	session, err = store.LoadSession()
	require.NoError(t, err)
	assert.Nil(t, session)
	assert.Empty(t, store.Token())
}

func TestCartSnapshotRoundTrip(t *testing.T) {
	store := newTestStore(t)

	data, err := store.LoadCartSnapshot()
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, store.SaveCartSnapshot([]byte(`{"state":"DRAFT"}`)))

	data, err = store.LoadCartSnapshot()
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"DRAFT"}`, string(data))

	require.NoError(t, store.ClearCartSnapshot())
	data, err = store.LoadCartSnapshot()
	require.NoError(t, err)
	assert.Nil(t, data)
}
