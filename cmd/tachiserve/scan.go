package main

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rihoka/tachiserve/internal/archive"
	"github.com/rihoka/tachiserve/internal/library"
	"github.com/rihoka/tachiserve/internal/progress"
)

var deepScan bool

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Index the library once and report what would be served",
	Long: `Scan walks the library root exactly as serve does and reports per-series
counts without starting a server. With --deep, every page is additionally
streamed to the end (with checksum verification for archive pages), which
catches corrupt entries that indexing alone cannot see.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		start := time.Now()

		// deep scans verify regardless of the config flag
		archives := archive.NewCache(cfg.VerifyChecksums || deepScan)

		dirs, err := library.DiscoverDirs(cfg.Library)
		if err != nil {
			return fmt.Errorf("discovering manga: %w", err)
		}

		bar := progress.New(len(dirs), !noProgress)

		var mangas, chapters, pages, broken int
		for _, dir := range dirs {
			bar.Step(dir)

			m, err := library.LoadManga(dir, archives)
			if err != nil {
				slog.Warn("unreadable manga", "path", dir, "error", err)
				broken++
				continue
			}

			mangas++
			chapters += len(m.Chapters)
			for _, ch := range m.Chapters {
				pages += len(ch.Pages)
				if deepScan {
					broken += drainChapter(archives, m.ID, ch)
				}
			}
		}
		bar.Finish()

		fmt.Printf("scanned %d manga, %d chapters, %d pages in %s\n",
			mangas, chapters, pages, time.Since(start).Round(time.Millisecond))
		if broken > 0 {
			fmt.Printf("%d broken items, see log for details\n", broken)
			return fmt.Errorf("%d broken items", broken)
		}
		return nil
	},
}

// drainChapter reads every archive-backed page to EOF and returns the count
// of pages that failed. Loose files are skipped; indexing already stats
// them, and their bytes carry no checksum to verify.
func drainChapter(archives *archive.Cache, mangaID string, ch library.Chapter) int {
	broken := 0
	for i, p := range ch.Pages {
		if !p.Archived() {
			continue
		}
		rc, err := archives.Open(p.Path, p.Entry)
		if err == nil {
			_, err = io.Copy(io.Discard, rc)
			rc.Close()
		}
		if err != nil {
			slog.Warn("broken page",
				"manga", mangaID, "chapter", ch.Title, "page", i, "error", err)
			broken++
		}
	}
	return broken
}

func init() {
	scanCmd.Flags().BoolVar(&deepScan, "deep", false, "stream and verify every page, not just the directory structures")
	rootCmd.AddCommand(scanCmd)
}
