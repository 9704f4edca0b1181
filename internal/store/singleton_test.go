package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type counterState struct {
	Count int
}

func TestSingletonStore_SeedsInitialValueOnFirstOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewSingletonStore(path, counterState{Count: 7})
	require.NoError(t, err)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 7, loaded.Count)
}

func TestSingletonStore_SavePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewSingletonStore(path, counterState{})
	require.NoError(t, err)
	require.NoError(t, s.Save(counterState{Count: 42}))

	reopened, err := NewSingletonStore(path, counterState{})
	require.NoError(t, err)
	loaded, err := reopened.Load()
	require.NoError(t, err)
	require.Equal(t, 42, loaded.Count)
}

func TestSingletonStore_UpdateAppliesTransformAtomically(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := NewSingletonStore(path, counterState{})
	require.NoError(t, err)

	next, err := s.Update(func(c counterState) counterState {
		c.Count++
		return c
	})
	require.NoError(t, err)
	require.Equal(t, 1, next.Count)

	loaded, err := s.Load()
	require.NoError(t, err)
	require.Equal(t, 1, loaded.Count)
}
