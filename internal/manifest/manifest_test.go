package manifest

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	m, err := Parse([]byte(`
id = "f2a1"
title = "Alpha"
cover = "cover.jpg"
status = "ongoing"
description = "a test series"
authors = ["First Author", "Second Author"]
artists = "Solo Artist"
tags = ["action", "drama"]

[[chapters]]
path = "ch1.cbz"
title = "Chapter 1"
date = 1700000000000

[[chapters]]
path = "ch2"
`))
	require.NoError(t, err)

	assert.Equal(t, "f2a1", m.ID)
	assert.Equal(t, "Alpha", m.Title)
	assert.Equal(t, "cover.jpg", m.Cover)
	assert.Equal(t, StatusOngoing, m.Status)
	assert.Equal(t, "a test series", m.Description)
	assert.Equal(t, "First Author, Second Author", m.Authors)
	assert.Equal(t, "Solo Artist", m.Artists)
	assert.Equal(t, "action, drama", m.Tags)

	require.Len(t, m.Chapters, 2)
	assert.Equal(t, "ch1.cbz", m.Chapters[0].Path)
	assert.Equal(t, "Chapter 1", m.Chapters[0].Title)
	assert.Equal(t, int64(1700000000000), m.Chapters[0].Date)
	// title falls back to the source path
	assert.Equal(t, "ch2", m.Chapters[1].Title)
	assert.Zero(t, m.Chapters[1].Date)
}

func TestParseErrors(t *testing.T) {
	_, err := Parse([]byte(`status = "ongoing"`))
	assert.ErrorContains(t, err, "no title")

	_, err = Parse([]byte("title = \"X\"\nstatus = \"finished-ish\"\n"))
	assert.ErrorContains(t, err, "unknown status")

	_, err = Parse([]byte("title = \"X\"\n[[chapters]]\ntitle = \"no path\"\n"))
	assert.ErrorContains(t, err, "no path")

	_, err = Parse([]byte("not valid toml ==="))
	assert.Error(t, err)
}

func TestLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "Some Manga")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "info.toml"),
		[]byte("title = \"Some Manga\"\n"), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "Some Manga", m.Title)
	// no id in the manifest: the directory name stands in
	assert.Equal(t, "Some Manga", m.ID)
}

func TestLoadLegacyName(t *testing.T) {
	dir := t.TempDir()
	// older generators wrote TOML into a file called info.json
	require.NoError(t, os.WriteFile(filepath.Join(dir, "info.json"),
		[]byte("id = \"legacy\"\ntitle = \"Legacy\"\n"), 0o644))

	m, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "legacy", m.ID)
}

func TestLoadNoManifest(t *testing.T) {
	_, err := Load(t.TempDir())
	assert.True(t, errors.Is(err, fs.ErrNotExist))
}
