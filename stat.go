package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/msod-stat/internal/bucket"
	"github.com/tonimelisma/msod-stat/internal/config"
	"github.com/tonimelisma/msod-stat/internal/driveid"
	"github.com/tonimelisma/msod-stat/internal/graph"
	"github.com/tonimelisma/msod-stat/internal/orchestrator"
	"github.com/tonimelisma/msod-stat/internal/reporter"
)

// Flags local to "stat".
var (
	flagDrive string
	flagJSON  bool
)

func newStatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stat",
		Short: "Sync drive metadata and report duplicate files",
		Long: `Incrementally syncs one or all of your OneDrive drives via the delta API,
then reports files that are byte-for-byte duplicates (same size and content
hash), largest first.`,
		RunE: runStat,
	}

	cmd.Flags().StringVar(&flagDrive, "drive", "", "only sync the drive with this ID (default: all drives)")
	cmd.Flags().BoolVar(&flagJSON, "json", false, "output the report as JSON instead of a table")

	return cmd
}

func runStat(cmd *cobra.Command, _ []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()
	logger := cc.Logger

	ts, tokenPath, err := tokenSourceFor(ctx, cc.Cfg, logger)
	if err != nil {
		return fmt.Errorf("loading token from %s: %w", tokenPath, err)
	}

	client := newGraphClient(ts, logger)

	cacheDir := cc.Cfg.CacheDir
	if cacheDir == "" {
		cacheDir = config.DefaultCacheDir()
	}

	drives, err := resolveDrives(ctx, client, cc.Cfg, logger)
	if err != nil {
		return err
	}

	statusf(flagQuiet, "Syncing %d drive(s)...\n", len(drives))

	reports := orchestrator.SyncAll(ctx, client, drives, cacheDir, newDriveProgress, logger)

	if flagJSON {
		return printReportsJSON(reports)
	}

	printReportsTable(reports)

	return nil
}

// resolveDrives returns the drives to sync: either the single drive named
// by --drive / the config's default_drive, or every drive the account can
// see.
func resolveDrives(ctx context.Context, client *graph.Client, cfg config.Config, logger *slog.Logger) ([]graph.Drive, error) {
	selector := flagDrive
	if selector == "" {
		selector = cfg.DefaultDrive
	}

	if selector != "" {
		drive, err := client.Drive(ctx, driveid.New(selector))
		if err != nil {
			return nil, fmt.Errorf("fetching drive %s: %w", selector, err)
		}

		return []graph.Drive{*drive}, nil
	}

	drives, err := client.Drives(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing drives: %w", err)
	}

	logger.Info("resolved drives to sync", slog.Int("count", len(drives)))

	return drives, nil
}

// reportJSON is the JSON-serializable shape of a drive's duplicate report.
type reportJSON struct {
	DriveID     string         `json:"drive_id"`
	DisplayName string         `json:"display_name"`
	ItemCount   int            `json:"item_count"`
	TotalSize   uint64         `json:"total_size"`
	Duplicates  []dupGroupJSON `json:"duplicates,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type dupGroupJSON struct {
	Size  uint64   `json:"size"`
	Hash  string   `json:"hash"`
	Paths []string `json:"paths"`
}

func printReportsJSON(reports []reporter.DriveReport) error {
	out := make([]reportJSON, 0, len(reports))

	for _, r := range reports {
		rj := reportJSON{
			DriveID:     r.DriveID,
			DisplayName: r.DisplayName,
			ItemCount:   r.ItemCount,
			TotalSize:   r.TotalSize,
		}

		if r.Err != nil {
			rj.Error = r.Err.Error()
		} else {
			rj.Duplicates = duplicateGroups(r.Bucket)
		}

		out = append(out, rj)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	return enc.Encode(out)
}

// duplicateGroups flattens a bucket.Result into groups of two-or-more
// identical files, largest size first.
func duplicateGroups(b bucket.Result) []dupGroupJSON {
	var groups []dupGroupJSON

	for _, size := range b.SortedSizesDescending() {
		for hash, paths := range b.BySize[size] {
			if len(paths) < 2 {
				continue
			}

			groups = append(groups, dupGroupJSON{
				Size:  size,
				Hash:  hash.Algorithm + ":" + hash.Value,
				Paths: paths,
			})
		}
	}

	return groups
}

func printReportsTable(reports []reporter.DriveReport) {
	for _, r := range reports {
		fmt.Printf("\nDrive %s (%s)\n", r.DisplayName, r.DriveID)

		if r.Err != nil {
			fmt.Printf("  error: %v\n", r.Err)
			continue
		}

		fmt.Printf("  %d items, %s total\n", r.ItemCount, formatSize(r.TotalSize))

		groups := duplicateGroups(r.Bucket)
		if len(groups) == 0 {
			fmt.Println("  no duplicates found")
			continue
		}

		rows := make([][]string, 0, len(groups))
		for _, g := range groups {
			for _, p := range g.Paths {
				rows = append(rows, []string{formatSize(g.Size), g.Hash, p})
			}
		}

		printTable(os.Stdout, []string{"SIZE", "HASH", "PATH"}, rows)
	}
}
