// file: cmd/diagnostics.go
// version: 2.0.0
// guid: c8f6a0d4-2a8b-48cf-9d08-02cc9915d9fc

package cmd

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/pebble/v2"
	"github.com/spf13/cobra"

	"github.com/jdfalk/dj-tagger/internal/backup"
	"github.com/jdfalk/dj-tagger/internal/config"
	"github.com/jdfalk/dj-tagger/internal/database"
)

var (
	diagnosticsCmd = &cobra.Command{
		Use:   "diagnostics",
		Short: "Debugging and cleanup helpers",
		Long:  "Diagnostic utilities for inspecting and repairing the track catalog.",
	}

	orphansCmd = &cobra.Command{
		Use:   "orphans",
		Short: "Find catalog records that point at nothing",
		Long: `List tracks whose file no longer exists on disk and fingerprint records
whose track is gone. With --cleanup the records are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cleanup, _ := cmd.Flags().GetBool("cleanup")
			force, _ := cmd.Flags().GetBool("force")

			closer, err := openStore()
			if err != nil {
				return err
			}
			defer closer()

			fmt.Fprintf(cmd.OutOrStdout(), "Inspecting catalog in %s (%s)\n", config.AppConfig.DatabasePath, config.AppConfig.DatabaseType)
			return runOrphans(cmd.InOrStdin(), cmd.OutOrStdout(), database.GlobalStore, cleanup, force)
		},
	}

	queryCmd = &cobra.Command{
		Use:   "query",
		Short: "Inspect catalog contents",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			prefix, _ := cmd.Flags().GetString("prefix")
			raw, _ := cmd.Flags().GetBool("raw")
			return runDiagnosticsQuery(cmd.OutOrStdout(), limit, prefix, raw)
		},
	}

	backupCmd = &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the catalog into a tar.gz archive",
		Long: `Archive the catalog database so it can be restored after a bad cleanup.
Run it while the server is stopped.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			keep, _ := cmd.Flags().GetInt("keep")
			info, err := createCatalogBackup(keep)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%d bytes, xxhash %s)\n", info.Path, info.Size, info.Checksum)
			return nil
		},
	}

	listBackupsCmd = &cobra.Command{
		Use:   "backups",
		Short: "List catalog snapshots",
		RunE: func(cmd *cobra.Command, args []string) error {
			backups, err := backup.List(backup.DefaultConfig(config.AppConfig.DatabasePath).Dir)
			if err != nil {
				return err
			}
			if len(backups) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No backups found.")
				return nil
			}
			for _, b := range backups {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s  %d bytes  %s\n",
					b.CreatedAt.Format(time.RFC3339), b.DatabaseType, b.Size, b.Path)
			}
			return nil
		},
	}
)

func init() {
	orphansCmd.Flags().Bool("cleanup", false, "remove the orphaned records")
	orphansCmd.Flags().Bool("force", false, "skip the confirmation prompt")

	queryCmd.Flags().Int("limit", 20, "maximum number of entries to print")
	queryCmd.Flags().String("prefix", "", "key prefix for raw Pebble inspection (e.g. fingerprint:)")
	queryCmd.Flags().Bool("raw", false, "iterate raw Pebble keys instead of catalog tracks")

	backupCmd.Flags().Int("keep", 10, "number of snapshots to retain (0 keeps all)")

	diagnosticsCmd.AddCommand(orphansCmd)
	diagnosticsCmd.AddCommand(queryCmd)
	diagnosticsCmd.AddCommand(backupCmd)
	diagnosticsCmd.AddCommand(listBackupsCmd)
}

// createCatalogBackup snapshots the configured catalog; the store must be closed
func createCatalogBackup(keep int) (*backup.Info, error) {
	cfg := backup.DefaultConfig(config.AppConfig.DatabasePath)
	cfg.MaxBackups = keep
	info, err := backup.Create(config.AppConfig.DatabasePath, config.AppConfig.DatabaseType, cfg)
	if err != nil {
		return nil, fmt.Errorf("backup failed: %w", err)
	}
	return info, nil
}

type orphanReport struct {
	MissingFiles       []database.Track
	OrphanFingerprints []int64
}

func findOrphans(store database.Store) (*orphanReport, error) {
	tracks, err := store.GetAllTracks()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tracks: %w", err)
	}
	records, err := store.GetAllFingerprints()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch fingerprints: %w", err)
	}

	report := &orphanReport{}
	known := make(map[int64]struct{}, len(tracks))
	for _, t := range tracks {
		known[t.ID] = struct{}{}
		if _, err := os.Stat(t.FilePath); errors.Is(err, fs.ErrNotExist) {
			report.MissingFiles = append(report.MissingFiles, t)
		}
	}
	for id := range records {
		if _, ok := known[id]; !ok {
			report.OrphanFingerprints = append(report.OrphanFingerprints, id)
		}
	}
	sort.Slice(report.OrphanFingerprints, func(i, j int) bool {
		return report.OrphanFingerprints[i] < report.OrphanFingerprints[j]
	})
	return report, nil
}

func runOrphans(in io.Reader, out io.Writer, store database.Store, cleanup, force bool) error {
	report, err := findOrphans(store)
	if err != nil {
		return err
	}

	total := len(report.MissingFiles) + len(report.OrphanFingerprints)
	if total == 0 {
		fmt.Fprintln(out, "No orphaned records detected.")
		return nil
	}

	if len(report.MissingFiles) > 0 {
		fmt.Fprintf(out, "Tracks with missing files (%d):\n", len(report.MissingFiles))
		for i, t := range report.MissingFiles {
			fmt.Fprintf(out, "%2d. ID: %d\n", i+1, t.ID)
			fmt.Fprintf(out, "    Path: %s\n", t.FilePath)
		}
	}
	if len(report.OrphanFingerprints) > 0 {
		fmt.Fprintf(out, "Fingerprints without a track (%d):\n", len(report.OrphanFingerprints))
		for _, id := range report.OrphanFingerprints {
			fmt.Fprintf(out, "    track_id %d\n", id)
		}
	}

	if !cleanup {
		fmt.Fprintln(out, "Run with --cleanup to remove these records.")
		return nil
	}

	if !force {
		confirmed, err := promptYesNo(in, out, fmt.Sprintf("Remove %d records", total))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(out, "Aborted. No records removed.")
			return nil
		}
	}

	removed := 0
	for _, t := range report.MissingFiles {
		if err := store.DeleteTrack(t.ID); err != nil && !errors.Is(err, database.ErrTrackNotFound) {
			fmt.Fprintf(out, "Failed to remove track %d: %v\n", t.ID, err)
			continue
		}
		removed++
	}
	for _, id := range report.OrphanFingerprints {
		if err := store.DeleteFingerprint(id); err != nil {
			fmt.Fprintf(out, "Failed to remove fingerprint %d: %v\n", id, err)
			continue
		}
		removed++
	}

	fmt.Fprintf(out, "Removed %d orphaned records.\n", removed)
	return nil
}

func runDiagnosticsQuery(out io.Writer, limit int, prefix string, raw bool) error {
	if limit <= 0 {
		return errors.New("limit must be positive")
	}

	if raw {
		if config.AppConfig.DatabaseType != "pebble" {
			return fmt.Errorf("raw inspection is only available for Pebble databases")
		}
		return runRawPebbleQuery(out, limit, prefix)
	}

	closer, err := openStore()
	if err != nil {
		return err
	}
	defer closer()

	tracks, err := database.GlobalStore.GetAllTracks()
	if err != nil {
		return fmt.Errorf("failed to fetch tracks: %w", err)
	}
	if len(tracks) == 0 {
		fmt.Fprintln(out, "No tracks found.")
		return nil
	}
	if len(tracks) > limit {
		tracks = tracks[:limit]
	}

	for i := range tracks {
		track := &tracks[i]
		fmt.Fprintf(out, "%2d. ID: %d\n", i+1, track.ID)
		fmt.Fprintf(out, "    FilePath: %s\n", track.FilePath)
		fmt.Fprintf(out, "    Size: %d\n", track.FileSize)
		rec, err := database.GlobalStore.GetFingerprint(track.ID)
		switch {
		case err != nil:
			fmt.Fprintf(out, "    Fingerprint: error: %v\n", err)
		case rec == nil:
			fmt.Fprintln(out, "    Fingerprint: none")
		default:
			fmt.Fprintf(out, "    Fingerprint: %s\n", truncateString(rec.Normalized(), 40))
			if rec.IsStale(track) {
				fmt.Fprintln(out, "    Stale: yes")
			}
		}
		fmt.Fprintln(out, "---")
	}

	return nil
}

func runRawPebbleQuery(out io.Writer, limit int, prefix string) error {
	db, err := pebble.Open(config.AppConfig.DatabasePath, &pebble.Options{
		FormatMajorVersion: pebble.FormatNewest,
	})
	if err != nil {
		return fmt.Errorf("failed to open Pebble database: %w", err)
	}
	defer db.Close()

	iterOpts := &pebble.IterOptions{}
	if prefix != "" {
		iterOpts.LowerBound = []byte(prefix)
		iterOpts.UpperBound = append([]byte(prefix), 0xFF)
	}

	iter, err := db.NewIter(iterOpts)
	if err != nil {
		return fmt.Errorf("failed to create iterator: %w", err)
	}
	defer iter.Close()

	count := 0
	for ok := iter.First(); ok && iter.Valid(); ok = iter.Next() {
		fmt.Fprintf(out, "Key: %s\n", string(iter.Key()))
		val := iter.Value()
		fmt.Fprintf(out, "Value length: %d bytes\n", len(val))
		fmt.Fprintf(out, "Value preview: %s\n", truncateString(string(val), 500))
		fmt.Fprintln(out, "---")

		count++
		if count >= limit {
			break
		}
	}

	if err := iter.Error(); err != nil {
		return fmt.Errorf("iterator error: %w", err)
	}

	if count == 0 {
		fmt.Fprintln(out, "No keys matched the requested prefix.")
	}

	return nil
}

func promptYesNo(in io.Reader, out io.Writer, action string) (bool, error) {
	fmt.Fprintf(out, "%s? Type 'yes' to confirm: ", action)
	reader := bufio.NewReader(in)
	response, err := reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && response != "") {
		return false, err
	}
	response = strings.TrimSpace(strings.ToLower(response))
	return response == "yes", nil
}

func truncateString(in string, max int) string {
	if len(in) <= max {
		return in
	}
	return in[:max] + "..."
}
