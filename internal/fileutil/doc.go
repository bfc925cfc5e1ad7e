// Package fileutil discovers test unit sources and provides the generic
// directory scanning underneath.
//
// # Unit discovery
//
// DiscoverUnits walks a suite root and returns every test unit beneath it:
// files ending in .test.ts, .spec.ts, .test.js or .spec.js. Dependency and
// build-output directories (node_modules, dist, build, coverage) and hidden
// directories are skipped. Results come back sorted, as slash-separated
// paths relative to the root, because unit paths are identity: history
// records, manifest overrides, and conflict declarations all key on them,
// and relative paths survive a checkout moving between machines.
//
// IsUnitPath applies the same filename rule to a single path. The watch-mode
// file watcher uses it to decide which filesystem events should invalidate
// cached analyses.
//
// # Generic scanning
//
// ScanDirectory is the walking core: extension filtering (case-insensitive),
// an optional regex over the filename with its extension removed, depth
// limits, and directory exclusion. Output is absolute paths, sorted.
//
//	result, err := fileutil.ScanDirectory(dir, fileutil.ScanOptions{
//	    Extensions:  []string{".md"},
//	    Recursive:   true,
//	    ExcludeDirs: []string{"drafts"},
//	})
//
// Scans are error-tolerant: an unreadable subtree is recorded in
// ScanResult.Errors and the walk continues. Only a missing root or an
// invalid pattern fails the whole scan.
package fileutil
