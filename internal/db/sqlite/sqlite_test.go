package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ciencia/internal/store"
	"github.com/jonathan/ciencia/internal/store/storetest"
)

func TestStore_Contract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		s, err := Open(filepath.Join(t.TempDir(), "ciencia.db"))
		require.NoError(t, err)
		return s
	})
}

func TestOpen_ReopensExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ciencia.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	proj, err := s.CreateProject(ctx, "Metagenomics", "16S")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetProject(ctx, proj.ID)
	require.NoError(t, err)
	assert.Equal(t, "Metagenomics", got.Name)
	assert.True(t, proj.CreatedAt.Equal(got.CreatedAt))
}
