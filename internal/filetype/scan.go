package filetype

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/boyter/gocodewalker"
	"github.com/samber/lo"
)

// Skipped unless ScanOptions.IncludeDefaults is set.
var (
	defaultExcludedDirs = []string{"node_modules", ".git", "vendor", "dist", "build", "coverage"}
	// Generated sources; matched against the path relative to the scan root.
	defaultExcludedGlobs = []string{"**/*.min.js", "**/*.d.ts", "**/*.pb.go", "**/*_generated.go"}
)

// ScanOptions configures Scan.
type ScanOptions struct {
	Limits        Limits
	IncludeHidden bool
	// IncludeDefaults disables the built-in exclusions.
	IncludeDefaults bool
	// Exclude holds extra doublestar globs such as "docs/**" or "**/*_test.go".
	Exclude []string
}

// Entry is a supported file found by Scan.
type Entry struct {
	Info
	// Path is relative to the scanned directory, with forward slashes.
	Path     string
	TooLarge bool
}

// Scan lists the supported files under dir, honouring .gitignore and .ignore
// files. Files over the size limit are reported with TooLarge set.
func Scan(dir string, opts ScanOptions) ([]Entry, error) {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	globs := opts.Exclude
	if !opts.IncludeDefaults {
		globs = append(append([]string{}, defaultExcludedGlobs...), globs...)
	}

	fileQueue := make(chan *gocodewalker.File, 256)
	walker := gocodewalker.NewFileWalker(dir, fileQueue)
	walker.IncludeHidden = opts.IncludeHidden
	walker.AllowListExtensions = lo.Map(append(append([]string{}, DocumentExtensions...), CodeExtensions...), func(ext string, _ int) string {
		return strings.TrimPrefix(ext, ".")
	})
	if !opts.IncludeDefaults {
		walker.ExcludeDirectory = append(walker.ExcludeDirectory, defaultExcludedDirs...)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- walker.Start()
	}()

	var entries []Entry
	var firstErr error
	for f := range fileQueue {
		// Keep draining the queue after an error so the walker can finish.
		if firstErr != nil {
			continue
		}
		relPath, err := filepath.Rel(dir, f.Location)
		if err != nil {
			firstErr = err
			continue
		}
		relPath = filepath.ToSlash(relPath)
		skip, err := excluded(globs, relPath)
		if err != nil {
			firstErr = err
			continue
		}
		if skip {
			continue
		}
		stat, err := os.Stat(f.Location)
		if err != nil {
			firstErr = err
			continue
		}
		if !stat.Mode().IsRegular() {
			continue
		}

		entry := Entry{Path: relPath, Info: newInfo(f.Location, stat.Size())}
		if _, err := Validate(f.Location, stat.Size(), opts.Limits); err != nil {
			if !errors.Is(err, ErrTooLarge) {
				continue
			}
			entry.TooLarge = true
		}
		entries = append(entries, entry)
	}

	if err := <-errChan; err != nil {
		return nil, fmt.Errorf("directory walk failed: %w", err)
	}
	if firstErr != nil {
		return nil, firstErr
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func excluded(globs []string, relPath string) (bool, error) {
	for _, g := range globs {
		matched, err := doublestar.Match(g, relPath)
		if err != nil {
			return false, fmt.Errorf("invalid exclude pattern %q: %w", g, err)
		}
		if matched {
			return true, nil
		}
	}
	return false, nil
}
