// file: cmd/library.go
// version: 1.1.0
// guid: 0c4e7a1b-5d2f-4e8a-9b3c-6f1d2e7a8b90

package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jdfalk/dj-tagger/internal/backup"
	"github.com/jdfalk/dj-tagger/internal/config"
	"github.com/jdfalk/dj-tagger/internal/database"
	"github.com/jdfalk/dj-tagger/internal/duplicates"
	"github.com/jdfalk/dj-tagger/internal/fileops"
	"github.com/jdfalk/dj-tagger/internal/operations"
	"github.com/jdfalk/dj-tagger/internal/scanner"
)

const statusPollInterval = 250 * time.Millisecond

var importCmd = &cobra.Command{
	Use:   "import [dir]",
	Short: "Register the audio files of a directory in the catalog",
	Long: `Walk a music directory and add every supported audio file to the catalog.
Files whose size or modification time changed since the last import lose
their fingerprint so the next generation run recomputes it.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root := config.AppConfig.MusicDir
		if len(args) == 1 {
			root = args[0]
		}
		if root == "" {
			return fmt.Errorf("music directory not specified")
		}

		closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		workers, _ := cmd.Flags().GetInt("workers")
		result, err := scanner.ImportLibrary(cmd.Context(), database.GlobalStore, root, scanner.Options{
			Extensions:   config.AppConfig.SupportedExtensions,
			Workers:      workers,
			ShowProgress: true,
		})
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d files: %d new, %d updated, %d unchanged, %d failed\n",
			result.Discovered, result.Imported, result.Updated, result.Unchanged, result.Failed)
		return nil
	},
}

var fingerprintCmd = &cobra.Command{
	Use:   "fingerprint",
	Short: "Compute acoustic fingerprints for catalog tracks",
	Long: `Run fpcalc over the catalog with a bounded worker pool. Without --overwrite only
tracks that have no fingerprint yet are processed. Press Ctrl+C to stop
dispatching new work; tracks already being processed finish normally.
With --track a single track is fingerprinted in the foreground, replacing
any fingerprint it already has.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		if trackID, _ := cmd.Flags().GetInt64("track"); trackID != 0 {
			return runFingerprintTrack(cmd.Context(), cmd.OutOrStdout(), newCoordinator(database.GlobalStore), trackID)
		}

		workers, _ := cmd.Flags().GetInt("workers")
		if workers == 0 {
			workers = config.AppConfig.FingerprintWorkers
		}
		overwrite, _ := cmd.Flags().GetBool("overwrite")
		quiet, _ := cmd.Flags().GetBool("quiet")

		interrupt := make(chan os.Signal, 1)
		signal.Notify(interrupt, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(interrupt)

		coordinator := newCoordinator(database.GlobalStore)
		return runFingerprint(cmd.Context(), cmd.OutOrStdout(), coordinator, workers, overwrite, !quiet, interrupt)
	},
}

var duplicatesCmd = &cobra.Command{
	Use:   "duplicates",
	Short: "List groups of tracks with the same fingerprint",
	RunE: func(cmd *cobra.Command, args []string) error {
		closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		format, _ := cmd.Flags().GetString("format")
		return runDuplicates(cmd.OutOrStdout(), newGrouper(database.GlobalStore), format)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <fingerprint-key>",
	Short: "Delete every copy in a duplicate group except one",
	Long: `Delete the redundant files of a duplicate group. The canonical copy (largest
file, lowest id on ties) is kept unless --keep names another member.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if withBackup, _ := cmd.Flags().GetBool("backup"); withBackup {
			info, err := createCatalogBackup(backup.DefaultConfig(config.AppConfig.DatabasePath).MaxBackups)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Catalog backed up to %s\n", info.Path)
		}

		closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		keep, _ := cmd.Flags().GetInt64("keep")
		yes, _ := cmd.Flags().GetBool("yes")

		store := database.GlobalStore
		return runResolve(cmd.InOrStdin(), cmd.OutOrStdout(), newGrouper(store), fileops.NewDeleter(store), args[0], keep, yes)
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <track-id>",
	Short: "Delete a track file and its catalog records",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("invalid track id %q", args[0])
		}

		closer, err := openStore()
		if err != nil {
			return err
		}
		defer closer()

		yes, _ := cmd.Flags().GetBool("yes")
		store := database.GlobalStore
		return runDelete(cmd.InOrStdin(), cmd.OutOrStdout(), store, fileops.NewDeleter(store), id, yes)
	},
}

func init() {
	importCmd.Flags().Int("workers", 4, "number of files imported concurrently")

	fingerprintCmd.Flags().Int("workers", 0, "parallel fpcalc processes, 1-16 (default from config)")
	fingerprintCmd.Flags().Bool("overwrite", false, "recompute fingerprints that already exist")
	fingerprintCmd.Flags().BoolP("quiet", "q", false, "do not draw a progress bar")
	fingerprintCmd.Flags().Int64("track", 0, "fingerprint only the track with this id")

	duplicatesCmd.Flags().StringP("format", "f", "text", "output format: text, json or yaml")

	resolveCmd.Flags().Int64("keep", 0, "id of the track to keep (default: canonical copy)")
	resolveCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	resolveCmd.Flags().Bool("backup", false, "snapshot the catalog before deleting")

	deleteCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
}

func runFingerprint(ctx context.Context, out io.Writer, coordinator *operations.Coordinator, workers int, overwrite, showProgress bool, interrupt <-chan os.Signal) error {
	handle, err := coordinator.Start(ctx, workers, overwrite)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Run %s: %d tracks with %d workers\n", handle.ID, handle.Total, handle.WorkerCount)

	var bar *progressbar.ProgressBar
	if showProgress && handle.Total > 0 {
		bar = progressbar.NewOptions(handle.Total,
			progressbar.OptionSetWriter(out),
			progressbar.OptionSetDescription("fingerprinting"),
			progressbar.OptionShowCount(),
		)
	}

	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for done := false; !done; {
		select {
		case <-handle.Done():
			done = true
		case <-interrupt:
			if coordinator.RequestStop() {
				fmt.Fprintln(out, "\nStop requested; waiting for in-flight tracks to finish")
			}
		case <-ticker.C:
		}
		if bar != nil {
			status := coordinator.Status()
			_ = bar.Set(status.Processed + status.Failed)
		}
	}
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(out)
	}

	status := coordinator.Status()
	state := "completed"
	if status.CancelRequested {
		state = "stopped"
	}
	fmt.Fprintf(out, "Generation %s: %d fingerprinted, %d failed, %d not processed\n",
		state, status.Processed, status.Failed, status.Remaining())

	if unitErrors := coordinator.Errors(); len(unitErrors) > 0 {
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TRACK\tKIND\tPATH\tMESSAGE")
		for _, ue := range unitErrors {
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", ue.TrackID, ue.Kind, ue.FilePath, ue.Message)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if dropped := coordinator.DroppedErrors(); dropped > 0 {
			fmt.Fprintf(out, "... and %d more\n", dropped)
		}
	}
	return nil
}

func runFingerprintTrack(ctx context.Context, out io.Writer, coordinator *operations.Coordinator, trackID int64) error {
	if trackID <= 0 {
		return fmt.Errorf("invalid track id %d", trackID)
	}
	rec, err := coordinator.GenerateTrack(ctx, trackID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Track %d fingerprinted: key %s, %.1fs\n", rec.TrackID, duplicates.Key(rec.Fingerprint), rec.Duration)
	return nil
}

type duplicatesReport struct {
	Groups  []duplicates.Group `json:"groups"`
	Summary duplicates.Summary `json:"summary"`
}

func runDuplicates(out io.Writer, grouper *duplicates.Grouper, format string) error {
	groups, err := grouper.Groups()
	if err != nil {
		return fmt.Errorf("failed to group duplicates: %w", err)
	}
	if groups == nil {
		groups = []duplicates.Group{}
	}
	report := duplicatesReport{Groups: groups, Summary: duplicates.Summarize(groups)}

	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	case "yaml":
		return writeYAML(out, report)
	case "text", "":
		return writeDuplicatesText(out, report)
	default:
		return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
	}
}

// writeYAML renders v with the same field names as its JSON form
func writeYAML(out io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(generic); err != nil {
		return err
	}
	return enc.Close()
}

func writeDuplicatesText(out io.Writer, report duplicatesReport) error {
	if len(report.Groups) == 0 {
		fmt.Fprintln(out, "No duplicates found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, g := range report.Groups {
		fmt.Fprintf(w, "Group %s (%d copies)\n", g.FingerprintKey, len(g.Tracks))
		for i, t := range g.Tracks {
			marker := " "
			if i == 0 {
				marker = "*"
			}
			stale := ""
			if t.Stale {
				stale = "stale"
			}
			fmt.Fprintf(w, "  %s\t%d\t%s\t%d bytes\t%s\n", marker, t.ID, t.FilePath, t.FileSize, stale)
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	s := report.Summary
	fmt.Fprintf(out, "%d groups, %d redundant copies, %d bytes reclaimable", s.Groups, s.Duplicates, s.ReclaimableBytes)
	if s.StaleTracks > 0 {
		fmt.Fprintf(out, ", %d stale", s.StaleTracks)
	}
	fmt.Fprintln(out)
	return nil
}

func runResolve(in io.Reader, out io.Writer, grouper *duplicates.Grouper, deleter *fileops.Deleter, key string, keepID int64, yes bool) error {
	group, err := grouper.FindGroup(key)
	if err != nil {
		return fmt.Errorf("failed to group duplicates: %w", err)
	}
	if group == nil {
		return fmt.Errorf("duplicate group not found: %s", key)
	}

	if !yes {
		confirmed, err := promptYesNo(in, out, fmt.Sprintf("Delete %d files from group %s", len(group.Extras()), key))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(out, "Aborted. No files deleted.")
			return nil
		}
	}

	results, err := deleter.DeleteGroupExtras(*group, keepID)
	printDeleteResults(out, results)
	return err
}

func runDelete(in io.Reader, out io.Writer, store database.Store, deleter *fileops.Deleter, id int64, yes bool) error {
	if !yes {
		track, err := store.GetTrackByID(id)
		if err != nil {
			return fmt.Errorf("lookup track %d: %w", id, err)
		}
		if track == nil {
			return fmt.Errorf("track %d: %w", id, fileops.ErrTrackNotFound)
		}
		confirmed, err := promptYesNo(in, out, fmt.Sprintf("Delete %s", track.FilePath))
		if err != nil {
			return err
		}
		if !confirmed {
			fmt.Fprintln(out, "Aborted. No files deleted.")
			return nil
		}
	}

	result, err := deleter.DeleteTrackFile(id)
	if result != nil {
		printDeleteResults(out, []fileops.DeleteResult{*result})
	}
	var reconcileErr *fileops.ReconcileError
	if errors.As(err, &reconcileErr) {
		return fmt.Errorf("%w; run `dj-tagger diagnostics orphans --cleanup` to repair the catalog", err)
	}
	return err
}

func printDeleteResults(out io.Writer, results []fileops.DeleteResult) {
	for _, r := range results {
		line := fmt.Sprintf("%d\t%s\t%s", r.TrackID, r.Outcome, r.FilePath)
		if r.Warning != "" {
			line += "\t" + r.Warning
		}
		fmt.Fprintln(out, line)
	}
}
