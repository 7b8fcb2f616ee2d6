// Package ingest turns transcript files into indexed chunk records.
package ingest

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	poderrors "github.com/Aman-CERP/podrag/internal/errors"
)

// Episode is one recording to ingest.
type Episode struct {
	ID          string
	Title       string
	PodcastName string
	Host        string

	// Guest overrides the guest parsed from the title.
	Guest string

	Date       string
	Transcript string
	Topics     []string
	URL        string

	// Path is the source file, empty for episodes built in memory.
	Path string
}

// ContentHash fingerprints the fields that end up in the index.
func (e Episode) ContentHash() string {
	h := sha256.New()
	for _, part := range []string{e.Title, e.PodcastName, e.Host, e.Guest, e.Date, e.URL, strings.Join(e.Topics, ","), e.Transcript} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Defaults are the metadata given to every episode loaded from files.
type Defaults struct {
	PodcastName string
	Host        string
	Date        string
}

func (d Defaults) withFallbacks() Defaults {
	if d.PodcastName == "" {
		d.PodcastName = "Local Transcripts"
	}
	if d.Host == "" {
		d.Host = "Unknown"
	}
	if d.Date == "" {
		d.Date = "2024-01-01"
	}
	return d
}

// LoadDirectory reads every *.txt file of dir, in name order, as one
// episode. Episode ids follow the file's position ("ep-001" is the first
// file) so they stay stable while the directory listing does. Empty and
// non-UTF-8 files are skipped.
func LoadDirectory(dir string, d Defaults) ([]Episode, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, poderrors.New(poderrors.ErrCodeFileNotFound, fmt.Sprintf("transcripts directory %s not found", dir), err).
				WithSuggestion("Create the directory and add transcript files like episode01.txt")
		}
		return nil, poderrors.IOError("cannot read transcripts directory", err)
	}
	if !info.IsDir() {
		return nil, poderrors.New(poderrors.ErrCodeInvalidPath, fmt.Sprintf("%s is not a directory", dir), nil)
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.txt"))
	if err != nil {
		return nil, poderrors.IOError("cannot list transcripts", err)
	}
	sort.Strings(paths)

	d = d.withFallbacks()
	episodes := make([]Episode, 0, len(paths))
	for i, path := range paths {
		ep, err := loadFile(path, fmt.Sprintf("ep-%03d", i+1), d)
		if err != nil {
			slog.Warn("transcript_skipped",
				slog.String("path", path),
				slog.String("code", poderrors.GetCode(err)),
				slog.String("error", err.Error()))
			continue
		}
		episodes = append(episodes, ep)
	}

	slog.Info("transcripts_loaded",
		slog.String("dir", dir),
		slog.Int("files", len(paths)),
		slog.Int("episodes", len(episodes)))
	return episodes, nil
}

func loadFile(path, id string, d Defaults) (Episode, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Episode{}, poderrors.New(poderrors.ErrCodeTranscriptUnreadable, "cannot read transcript", err)
	}
	if !utf8.Valid(raw) {
		return Episode{}, poderrors.New(poderrors.ErrCodeTranscriptUnreadable, "transcript is not valid UTF-8", nil)
	}
	transcript := strings.TrimSpace(string(raw))
	if transcript == "" {
		return Episode{}, poderrors.New(poderrors.ErrCodeTranscriptUnreadable, "transcript is empty", nil)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return Episode{
		ID:          id,
		Title:       TitleFromStem(stem),
		PodcastName: d.PodcastName,
		Host:        d.Host,
		Date:        d.Date,
		Transcript:  transcript,
		Topics:      []string{},
		URL:         "file://" + abs,
		Path:        abs,
	}, nil
}

// TitleFromStem turns a file stem like "ai_and-the_future" into
// "Ai And The Future": separators become spaces and every letter that
// follows a non-letter is upper-cased, the rest lower-cased.
func TitleFromStem(stem string) string {
	stem = strings.NewReplacer("_", " ", "-", " ").Replace(stem)
	var sb strings.Builder
	sb.Grow(len(stem))
	prevLetter := false
	for _, r := range stem {
		if unicode.IsLetter(r) {
			if prevLetter {
				sb.WriteRune(unicode.ToLower(r))
			} else {
				sb.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		sb.WriteRune(r)
		prevLetter = false
	}
	return sb.String()
}
