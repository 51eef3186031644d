// file: internal/backup/backup.go
// version: 2.0.0
// guid: 8f9e0a1b-2c3d-4e5f-6a7b-8c9d0e1f2a3b

package backup

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/jdfalk/dj-tagger/internal/logger"
)

const (
	filePrefix = "catalog_"
	fileSuffix = ".tar.gz"
	timeLayout = "20060102_150405.000"
)

// Info describes one catalog snapshot archive
type Info struct {
	Filename     string    `json:"filename"`
	Path         string    `json:"path"`
	Size         int64     `json:"size"`
	Checksum     string    `json:"checksum"` // xxhash64, hex
	DatabaseType string    `json:"database_type"`
	CreatedAt    time.Time `json:"created_at"`
}

// Config controls where snapshots go and how many are kept
type Config struct {
	Dir              string
	MaxBackups       int // 0 keeps everything
	CompressionLevel int
}

// DefaultConfig keeps ten snapshots next to the database
func DefaultConfig(databasePath string) Config {
	return Config{
		Dir:              filepath.Join(filepath.Dir(databasePath), "backups"),
		MaxBackups:       10,
		CompressionLevel: gzip.BestSpeed,
	}
}

// Create archives the catalog at databasePath (a Pebble directory or a SQLite file).
// The database must not be open for writing while this runs.
func Create(databasePath, databaseType string, cfg Config) (*Info, error) {
	if _, err := os.Stat(databasePath); err != nil {
		return nil, fmt.Errorf("catalog not found: %w", err)
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	now := time.Now()
	name := fmt.Sprintf("%s%s_%s%s", filePrefix, databaseType, now.Format(timeLayout), fileSuffix)
	path := filepath.Join(cfg.Dir, name)

	if err := writeArchive(path, databasePath, cfg.CompressionLevel); err != nil {
		os.Remove(path)
		return nil, err
	}

	stat, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat backup file: %w", err)
	}
	checksum, err := checksumFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to calculate checksum: %w", err)
	}

	info := &Info{
		Filename:     name,
		Path:         path,
		Size:         stat.Size(),
		Checksum:     checksum,
		DatabaseType: databaseType,
		CreatedAt:    now,
	}
	logger.Info("catalog backup created",
		logger.String("path", path),
		logger.Int64("size", info.Size))

	if cfg.MaxBackups > 0 {
		if err := prune(cfg.Dir, cfg.MaxBackups); err != nil {
			logger.Warn("failed to prune old backups", logger.Err(err))
		}
	}
	return info, nil
}

// List returns the snapshots in dir, newest first. A missing dir is not an error.
func List(dir string) ([]Info, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	var backups []Info
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		stat, err := entry.Info()
		if err != nil {
			continue
		}

		info := Info{
			Filename:     name,
			Path:         filepath.Join(dir, name),
			Size:         stat.Size(),
			DatabaseType: "unknown",
			CreatedAt:    stat.ModTime(),
		}
		// catalog_<type>_<timestamp>.tar.gz
		rest := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix)
		if dbType, stamp, ok := strings.Cut(rest, "_"); ok {
			info.DatabaseType = dbType
			if ts, err := time.ParseInLocation(timeLayout, stamp, time.Local); err == nil {
				info.CreatedAt = ts
			}
		}
		info.Checksum, _ = checksumFile(info.Path)
		backups = append(backups, info)
	}

	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func writeArchive(path, databasePath string, level int) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create backup file: %w", err)
	}
	defer out.Close()

	gz, err := gzip.NewWriterLevel(out, level)
	if err != nil {
		return fmt.Errorf("failed to create gzip writer: %w", err)
	}
	tw := tar.NewWriter(gz)

	base := filepath.Dir(databasePath)
	walkErr := filepath.WalkDir(databasePath, func(file string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		header, err := tar.FileInfoHeader(fi, "")
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(base, file)
		if err != nil {
			return err
		}
		header.Name = filepath.ToSlash(rel)
		if err := tw.WriteHeader(header); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		f, err := os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if walkErr != nil {
		return fmt.Errorf("failed to add catalog to archive: %w", walkErr)
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("failed to close tar writer: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to close gzip writer: %w", err)
	}
	return out.Close()
}

func checksumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// prune deletes the oldest snapshots beyond keep
func prune(dir string, keep int) error {
	backups, err := List(dir)
	if err != nil {
		return err
	}
	for _, b := range backups[min(keep, len(backups)):] {
		if err := os.Remove(b.Path); err != nil {
			logger.Warn("failed to delete old backup", logger.String("file", b.Filename), logger.Err(err))
			continue
		}
		logger.Debug("old backup removed", logger.String("file", b.Filename))
	}
	return nil
}
