// file: internal/watcher/watcher_test.go
// version: 2.1.0
// guid: c3d4e5f6-a7b8-9012-cdef-345678901234

package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testExtensions = []string{"mp3", "flac", "wav"}

type recorder struct {
	mu    sync.Mutex
	calls [][]string
}

func (r *recorder) callback(paths []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, paths)
}

func (r *recorder) snapshot() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]string, len(r.calls))
	copy(out, r.calls)
	return out
}

func startWatcher(t *testing.T, dir string, debounce time.Duration) *recorder {
	t.Helper()
	rec := &recorder{}
	w := New(rec.callback, testExtensions, debounce)
	require.NoError(t, w.Start(dir))
	t.Cleanup(w.Stop)
	return rec
}

func TestIsAudioFile(t *testing.T) {
	w := New(nil, []string{"mp3", ".FLAC"}, 0)
	assert.True(t, w.IsAudioFile("/music/set.mp3"))
	assert.True(t, w.IsAudioFile("/music/SET.MP3"))
	assert.True(t, w.IsAudioFile("mix.flac"))
	assert.False(t, w.IsAudioFile("cover.jpg"))
	assert.False(t, w.IsAudioFile("noext"))
	assert.Equal(t, DefaultDebounce, w.debounce)
}

func TestDebounceCollectsChangedPaths(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir, 200*time.Millisecond)

	var want []string
	for _, name := range []string{"a.mp3", "b.flac", "c.wav"} {
		p := filepath.Join(dir, name)
		want = append(want, p)
		require.NoError(t, os.WriteFile(p, []byte("data"), 0o644))
		time.Sleep(30 * time.Millisecond)
	}

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 20*time.Millisecond)
	time.Sleep(300 * time.Millisecond)

	calls := rec.snapshot()
	require.Len(t, calls, 1, "rapid changes collapse into one callback")
	assert.Equal(t, want, calls[0])
}

func TestNonAudioFilesIgnored(t *testing.T) {
	dir := t.TempDir()
	rec := startWatcher(t, dir, 100*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("hi"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cover.jpg"), []byte("img"), 0o644))

	time.Sleep(300 * time.Millisecond)
	assert.Empty(t, rec.snapshot())
}

func TestRecursiveWatching(t *testing.T) {
	dir := t.TempDir()
	subdir := filepath.Join(dir, "artist", "album")
	require.NoError(t, os.MkdirAll(subdir, 0o755))
	rec := startWatcher(t, dir, 100*time.Millisecond)

	target := filepath.Join(subdir, "track01.flac")
	require.NoError(t, os.WriteFile(target, []byte("audio"), 0o644))

	require.Eventually(t, func() bool { return len(rec.snapshot()) == 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, []string{target}, rec.snapshot()[0])
}

func TestDeleteTriggers(t *testing.T) {
	dir := t.TempDir()
	f := filepath.Join(dir, "dupe.mp3")
	require.NoError(t, os.WriteFile(f, []byte("data"), 0o644))
	rec := startWatcher(t, dir, 100*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.Remove(f))

	require.Eventually(t, func() bool { return len(rec.snapshot()) >= 1 }, 2*time.Second, 20*time.Millisecond)
	assert.Contains(t, rec.snapshot()[0], f)
}

func TestStartStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	w := New(func([]string) {}, testExtensions, 100*time.Millisecond)
	require.NoError(t, w.Start(dir))
	require.NoError(t, w.Start(dir), "second start is a no-op")
	w.Stop()
	w.Stop()
}

func TestFailedStartDoesNotBlockStop(t *testing.T) {
	dir := t.TempDir()
	w := New(func([]string) {}, testExtensions, 100*time.Millisecond)
	w.newFSWatcher = func() (*fsnotify.Watcher, error) {
		return nil, errors.New("too many open files")
	}
	require.Error(t, w.Start(dir))

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked after a failed Start")
	}

	w.newFSWatcher = fsnotify.NewWatcher
	require.NoError(t, w.Start(dir), "start can be retried after a failure")
	w.Stop()
}
