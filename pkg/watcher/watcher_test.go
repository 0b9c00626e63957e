package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"drpactor/pkg/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu    sync.Mutex
	paths []string
}

func (r *recordingSink) NewExposurePath(_ context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paths = append(r.paths, path)
	return nil
}

func (r *recordingSink) seen() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.paths...)
}

func TestRawWatcher(t *testing.T) {
	root := t.TempDir()
	existing := filepath.Join(root, "2024-01-01", "sps")
	require.NoError(t, os.MkdirAll(existing, 0755))

	sink := &recordingSink{}
	rw, err := New(config.WatcherConfig{RawRoot: root}, sink)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- rw.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	first := filepath.Join(existing, "PFSA00010011.fits")
	require.NoError(t, os.WriteFile(first, nil, 0644))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "notes.txt"), nil, 0644))

	require.Eventually(t, func() bool {
		return len(sink.seen()) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{first}, sink.seen())

	// a new night is picked up once its sps directory appears
	night := filepath.Join(root, "2024-01-02")
	require.NoError(t, os.Mkdir(night, 0755))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Mkdir(filepath.Join(night, "sps"), 0755))
	time.Sleep(50 * time.Millisecond)
	second := filepath.Join(night, "sps", "PFSA00010112.fits")
	require.NoError(t, os.WriteFile(second, nil, 0644))

	require.Eventually(t, func() bool {
		return len(sink.seen()) == 2
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, second, sink.seen()[1])
}

func TestNew_Validation(t *testing.T) {
	_, err := New(config.WatcherConfig{}, &recordingSink{})
	assert.Error(t, err)

	_, err = New(config.WatcherConfig{RawRoot: t.TempDir(), Pattern: "["}, &recordingSink{})
	assert.Error(t, err)
}
