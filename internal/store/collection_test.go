package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type widget struct {
	ID   string
	Name string
}

func newCollection(t *testing.T) *CollectionStore[widget] {
	t.Helper()
	path := filepath.Join(t.TempDir(), "widgets.json")
	s, err := NewCollectionStore(path, func(w widget) string { return w.ID })
	require.NoError(t, err)
	return s
}

func TestCollectionStore_AddOrUpdateInsertsThenReplaces(t *testing.T) {
	s := newCollection(t)

	require.NoError(t, s.AddOrUpdate(widget{ID: "1", Name: "first"}))
	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "first", all[0].Name)

	require.NoError(t, s.AddOrUpdate(widget{ID: "1", Name: "updated"}))
	all, err = s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "updated", all[0].Name)
}

func TestCollectionStore_GetByFiltersWithPredicate(t *testing.T) {
	s := newCollection(t)
	require.NoError(t, s.AddOrUpdate(widget{ID: "1", Name: "alpha"}))
	require.NoError(t, s.AddOrUpdate(widget{ID: "2", Name: "beta"}))

	matches, err := s.GetBy(func(w widget) bool { return w.Name == "beta" })
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "2", matches[0].ID)
}

func TestCollectionStore_DeleteRemovesMatching(t *testing.T) {
	s := newCollection(t)
	require.NoError(t, s.AddOrUpdate(widget{ID: "1", Name: "alpha"}))
	require.NoError(t, s.AddOrUpdate(widget{ID: "2", Name: "beta"}))

	require.NoError(t, s.Delete(func(w widget) bool { return w.ID == "1" }))

	all, err := s.GetAll()
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "2", all[0].ID)
}

func TestCollectionStore_UpdateAllTransformsEveryEntity(t *testing.T) {
	s := newCollection(t)
	require.NoError(t, s.AddOrUpdate(widget{ID: "1", Name: "alpha"}))
	require.NoError(t, s.AddOrUpdate(widget{ID: "2", Name: "beta"}))

	require.NoError(t, s.UpdateAll(func(w widget) widget {
		w.Name = w.Name + "!"
		return w
	}))

	all, err := s.GetAll()
	require.NoError(t, err)
	for _, w := range all {
		require.Contains(t, w.Name, "!")
	}
}
