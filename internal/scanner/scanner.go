// file: internal/scanner/scanner.go
// version: 2.0.0
// guid: 3c4d5e6f-7a8b-9c0d-1e2f-3a4b5c6d7e8f

package scanner

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dhowden/tag"
	"github.com/schollz/progressbar/v3"

	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/logger"
	"github.com/jdfalk/dj-tagger/internal/metrics"
)

// Options controls a library import
type Options struct {
	Extensions   []string // lowercase, no dot
	Workers      int
	ShowProgress bool
	// Progress, when set, is called after each file with the number of files handled so far
	Progress func(done, total int)
}

// Result summarizes a library import
type Result struct {
	Discovered int `json:"discovered"`
	Imported   int `json:"imported"`
	Updated    int `json:"updated"`
	Unchanged  int `json:"unchanged"`
	Failed     int `json:"failed"`
}

// IsSupported reports whether path has one of the given extensions
func IsSupported(path string, extensions []string) bool {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if ext == "" {
		return false
	}
	for _, e := range extensions {
		if e == ext {
			return true
		}
	}
	return false
}

// Discover walks root and returns every supported audio file
func Discover(ctx context.Context, root string, extensions []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.Warn("skipping unreadable path", logger.String("path", path), logger.Err(err))
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsSupported(path, extensions) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	return files, nil
}

// ImportLibrary registers every supported file under root in the catalog.
// Files whose size or mtime changed since the last import lose their fingerprint.
func ImportLibrary(ctx context.Context, store database.Store, root string, opts Options) (*Result, error) {
	workers := opts.Workers
	if workers < 1 {
		workers = 1
	}

	files, err := Discover(ctx, root, opts.Extensions)
	if err != nil {
		return nil, err
	}
	logger.Info("library import started",
		logger.String("root", root),
		logger.Int("files", len(files)),
		logger.Int("workers", workers))

	var bar *progressbar.ProgressBar
	if opts.ShowProgress {
		bar = progressbar.Default(int64(len(files)), "importing")
	}

	var (
		mu        sync.Mutex
		result    = &Result{Discovered: len(files)}
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, workers)
	)

	for _, path := range files {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		semaphore <- struct{}{} // Acquire
		go func(path string) {
			defer wg.Done()
			defer func() {
				<-semaphore // Release
				if bar != nil {
					_ = bar.Add(1)
				}
			}()

			status, err := importFile(store, path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				result.Failed++
				logger.Warn("failed to import track", logger.String("path", path), logger.Err(err))
			case status == statusNew:
				result.Imported++
			case status == statusUpdated:
				result.Updated++
			default:
				result.Unchanged++
			}
			if opts.Progress != nil {
				done := result.Imported + result.Updated + result.Unchanged + result.Failed
				opts.Progress(done, len(files))
			}
		}(path)
	}
	wg.Wait()

	if n, err := store.CountTracks(); err == nil {
		metrics.SetTracks(n)
	}
	logger.Info("library import finished",
		logger.Int("imported", result.Imported),
		logger.Int("updated", result.Updated),
		logger.Int("unchanged", result.Unchanged),
		logger.Int("failed", result.Failed))

	return result, ctx.Err()
}

type importStatus int

const (
	statusUnchanged importStatus = iota
	statusNew
	statusUpdated
)

func importFile(store database.Store, path string) (importStatus, error) {
	info, err := os.Stat(path)
	if err != nil {
		return statusUnchanged, err
	}

	existing, err := store.GetTrackByFilePath(path)
	if err != nil {
		return statusUnchanged, err
	}
	if existing != nil && existing.FileSize == info.Size() && existing.FileModTime.Equal(info.ModTime()) {
		return statusUnchanged, nil
	}

	track := &database.Track{
		FilePath:    path,
		FileName:    filepath.Base(path),
		Directory:   filepath.Dir(path),
		FileSize:    info.Size(),
		FileModTime: info.ModTime(),
		Format:      strings.ToLower(strings.TrimPrefix(filepath.Ext(path), ".")),
	}
	if existing != nil {
		track.Duration = existing.Duration
	}
	readTags(path, track)

	if _, err := store.CreateTrack(track); err != nil {
		return statusUnchanged, err
	}
	if existing == nil {
		return statusNew, nil
	}

	// content changed, the old fingerprint no longer describes this file
	if err := store.DeleteFingerprint(existing.ID); err != nil {
		return statusUpdated, fmt.Errorf("drop fingerprint of changed file: %w", err)
	}
	return statusUpdated, nil
}

// readTags fills title/artist/album from embedded tags; untagged files keep nil fields
func readTags(path string, track *database.Track) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		if !errors.Is(err, tag.ErrNoTagsFound) {
			logger.Debug("could not read tags", logger.String("path", path), logger.Err(err))
		}
		return
	}
	track.Title = nullablePtr(m.Title())
	track.Artist = nullablePtr(m.Artist())
	track.Album = nullablePtr(m.Album())
}

func nullablePtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
