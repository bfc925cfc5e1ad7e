package fileutil

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

// unitSuffixes are the filename endings that mark a file as a test unit.
var unitSuffixes = []string{".test.ts", ".spec.ts", ".test.js", ".spec.js"}

// defaultExcludedDirs are directory names never scanned for test units.
var defaultExcludedDirs = []string{"node_modules", "dist", "build", "coverage"}

// ScanOptions configures a directory scan.
type ScanOptions struct {
	// Pattern is a regex matched against filenames with the extension removed.
	Pattern string
	// Extensions restricts matches to these extensions (case-insensitive).
	Extensions []string
	// Recursive enables descent into subdirectories.
	Recursive bool
	// ExcludeDirs lists directory names to skip entirely.
	ExcludeDirs []string
	// MaxDepth limits recursion depth (0 = unlimited, 1 = root only).
	MaxDepth int
}

// ScanResult holds the outcome of a scan. Errors collects the non-fatal
// problems (unreadable subtrees, unresolvable paths) hit along the way;
// scanning continues past them.
type ScanResult struct {
	Files  []string
	Errors []error
}

// IsUnitPath reports whether path names a test unit source file.
func IsUnitPath(path string) bool {
	base := filepath.Base(path)
	for _, suffix := range unitSuffixes {
		if strings.HasSuffix(base, suffix) && len(base) > len(suffix) {
			return true
		}
	}
	return false
}

// DiscoverUnits walks root and returns every test unit beneath it, sorted,
// as slash-separated paths relative to root. Relative paths keep unit
// identity stable across checkouts, so history records and manifest entries
// keyed by path stay valid. node_modules and build output are skipped;
// extraExcludes adds further directory names.
func DiscoverUnits(root string, extraExcludes ...string) (*ScanResult, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve scan root: %w", err)
	}

	scanned, err := ScanDirectory(absRoot, ScanOptions{
		Recursive:   true,
		ExcludeDirs: append(append([]string{}, defaultExcludedDirs...), extraExcludes...),
	})
	if err != nil {
		return nil, err
	}

	result := &ScanResult{Files: make([]string, 0), Errors: scanned.Errors}
	for _, file := range scanned.Files {
		if !IsUnitPath(file) {
			continue
		}
		rel, err := filepath.Rel(absRoot, file)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("relativize %s: %w", file, err))
			continue
		}
		result.Files = append(result.Files, filepath.ToSlash(rel))
	}
	sort.Strings(result.Files)
	return result, nil
}

// ScanDirectory walks dir and collects the absolute paths of files matching
// opts, sorted for deterministic output. Hidden directories are always
// skipped. The returned error covers conditions that abort the scan (missing
// root, invalid pattern); per-entry problems land in ScanResult.Errors.
func ScanDirectory(dir string, opts ScanOptions) (*ScanResult, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("access scan root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("scan root is not a directory: %s", dir)
	}

	match, err := newMatcher(opts)
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]bool, len(opts.ExcludeDirs))
	for _, name := range opts.ExcludeDirs {
		excluded[name] = true
	}

	result := &ScanResult{Files: make([]string, 0)}
	err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("access %s: %w", path, err))
			return nil
		}
		if path == dir {
			return nil
		}

		if d.IsDir() {
			if excluded[d.Name()] || strings.HasPrefix(d.Name(), ".") {
				return filepath.SkipDir
			}
			if !opts.Recursive {
				return filepath.SkipDir
			}
			if opts.MaxDepth > 0 {
				rel, _ := filepath.Rel(dir, path)
				if strings.Count(rel, string(filepath.Separator))+1 >= opts.MaxDepth {
					return filepath.SkipDir
				}
			}
			return nil
		}

		if !match(d.Name()) {
			return nil
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("resolve %s: %w", path, err))
			return nil
		}
		result.Files = append(result.Files, abs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}

	sort.Strings(result.Files)
	return result, nil
}

// newMatcher compiles opts into a filename predicate.
func newMatcher(opts ScanOptions) (func(name string) bool, error) {
	var pattern *regexp.Regexp
	if opts.Pattern != "" {
		compiled, err := regexp.Compile(opts.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid filename pattern: %w", err)
		}
		pattern = compiled
	}

	extensions := make(map[string]bool, len(opts.Extensions))
	for _, ext := range opts.Extensions {
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		extensions[strings.ToLower(ext)] = true
	}

	return func(name string) bool {
		ext := filepath.Ext(name)
		if len(extensions) > 0 && !extensions[strings.ToLower(ext)] {
			return false
		}
		if pattern != nil && !pattern.MatchString(strings.TrimSuffix(name, ext)) {
			return false
		}
		return true
	}, nil
}
