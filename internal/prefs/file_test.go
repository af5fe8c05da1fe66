package prefs

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MrSnakeDoc/beacon/internal/logger"
)

type recorder struct {
	mu  sync.Mutex
	got []bool
}

func (r *recorder) add(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, v)
}

func (r *recorder) values() []bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]bool(nil), r.got...)
}

func TestFileStore_MissingFileIsEmpty(t *testing.T) {
	s, err := NewFileStore(filepath.Join(t.TempDir(), "prefs.yaml"), logger.NewNop(), 0)
	require.NoError(t, err)

	_, err = s.GetBool(context.Background(), "discovery.discoverable")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LoadsYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery.discoverable: true\nother: false\n"), 0o600))

	s, err := NewFileStore(path, logger.NewNop(), 0)
	require.NoError(t, err)

	v, err := s.GetBool(context.Background(), "discovery.discoverable")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestFileStore_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("discovery.discoverable: [nope"), 0o600))

	_, err := NewFileStore(path, logger.NewNop(), 0)
	assert.Error(t, err)
}

func TestFileStore_SetBoolPersistsAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	s, err := NewFileStore(path, logger.NewNop(), 0)
	require.NoError(t, err)

	rec := &recorder{}
	_, err = s.Subscribe("a", rec.add)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.SetBool(ctx, "a", true))
	require.NoError(t, s.SetBool(ctx, "a", true))
	assert.Equal(t, []bool{true}, rec.values())

	reopened, err := NewFileStore(path, logger.NewNop(), 0)
	require.NoError(t, err)
	v, err := reopened.GetBool(ctx, "a")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestFileStore_ReloadNotifiesChangedNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: true\nb: true\n"), 0o600))

	s, err := NewFileStore(path, logger.NewNop(), 0)
	require.NoError(t, err)

	recA, recB := &recorder{}, &recorder{}
	_, err = s.Subscribe("a", recA.add)
	require.NoError(t, err)
	_, err = s.Subscribe("b", recB.add)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("a: true\n"), 0o600))
	require.NoError(t, s.Reload())

	assert.Empty(t, recA.values())
	assert.Equal(t, []bool{false}, recB.values())
}

func TestFileStore_WatchesExternalEdits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: false\n"), 0o600))

	s, err := NewFileStore(path, logger.NewNop(), 20*time.Millisecond)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, s.Start(ctx))
	defer s.Stop()

	rec := &recorder{}
	_, err = s.Subscribe("a", rec.add)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("a: true\n"), 0o600))

	require.Eventually(t, func() bool {
		got := rec.values()
		return len(got) > 0 && got[len(got)-1]
	}, 3*time.Second, 20*time.Millisecond)

	v, err := s.GetBool(ctx, "a")
	require.NoError(t, err)
	assert.True(t, v)
}

func TestDiff(t *testing.T) {
	prev := map[string]bool{"keep": true, "flip": false, "gone-true": true, "gone-false": false}
	next := map[string]bool{"keep": true, "flip": true, "new": false}

	assert.Equal(t, []string{"flip", "gone-true", "new"}, diff(prev, next))
}
