package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"github.com/rihoka/tachiserve/internal/manifest"
)

var genCmd = &cobra.Command{
	Use:   "gen [path]",
	Short: "Generate an info.toml skeleton for a manga directory",
	Long: `Gen writes a manifest for the given directory (default: the current
directory) to stdout. The directory name becomes the title, any cover.*
file becomes the cover, and every other entry becomes a chapter in sorted
order. Edit the placeholders before serving.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := "."
		if len(args) == 1 {
			dir = args[0]
		}

		abs, err := filepath.Abs(dir)
		if err != nil {
			return fmt.Errorf("resolving path: %w", err)
		}

		dirents, err := os.ReadDir(dir)
		if err != nil {
			return fmt.Errorf("reading directory: %w", err)
		}

		out := genManifest{
			ID:          uuid.NewString(),
			Title:       filepath.Base(abs),
			Status:      "unknown",
			Description: "<description here>",
			Authors:     []string{},
			Artists:     []string{},
			Tags:        []string{},
		}

		var chapters []string
		for _, de := range dirents {
			name := de.Name()
			if isManifestName(name) {
				continue
			}
			if strings.HasPrefix(name, "cover.") && de.Type().IsRegular() {
				if out.Cover != "" {
					slog.Warn("duplicate covers, picking one arbitrarily")
				}
				out.Cover = name
				continue
			}
			chapters = append(chapters, name)
		}

		sort.Strings(chapters)
		for _, ch := range chapters {
			out.Chapters = append(out.Chapters, genChapter{Path: ch, Title: ch})
		}

		buf, err := toml.Marshal(out)
		if err != nil {
			return fmt.Errorf("marshaling manifest: %w", err)
		}
		_, err = os.Stdout.Write(buf)
		return err
	},
}

type genManifest struct {
	ID          string       `toml:"id"`
	Title       string       `toml:"title"`
	Cover       string       `toml:"cover,omitempty"`
	Status      string       `toml:"status"`
	Description string       `toml:"description"`
	Authors     []string     `toml:"authors"`
	Artists     []string     `toml:"artists"`
	Tags        []string     `toml:"tags"`
	Chapters    []genChapter `toml:"chapters"`
}

type genChapter struct {
	Path  string `toml:"path"`
	Title string `toml:"title"`
}

func isManifestName(name string) bool {
	for _, n := range manifest.Names {
		if name == n {
			return true
		}
	}
	return false
}

func init() {
	rootCmd.AddCommand(genCmd)
}
