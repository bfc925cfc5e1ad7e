package fileutil

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// writeTree creates empty files under root, making parent directories as
// needed. Paths use forward slashes.
func writeTree(t *testing.T, root string, paths ...string) {
	t.Helper()
	for _, p := range paths {
		full := filepath.Join(root, filepath.FromSlash(p))
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatalf("mkdir for %s: %v", p, err)
		}
		if err := os.WriteFile(full, []byte("// test"), 0644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}
}

func TestDiscoverUnits(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"tests/accounts.test.ts",
		"tests/api/transfers.spec.ts",
		"tests/legacy/import.test.js",
		"tests/helpers/db.ts",
		"src/index.ts",
		"node_modules/vitest/dist/runner.test.ts",
		"dist/accounts.test.ts",
		"coverage/report.spec.js",
		".cache/stale.test.ts",
		"README.md",
	)

	result, err := DiscoverUnits(root)
	if err != nil {
		t.Fatalf("DiscoverUnits failed: %v", err)
	}
	if len(result.Errors) != 0 {
		t.Fatalf("unexpected scan errors: %v", result.Errors)
	}

	want := []string{
		"tests/accounts.test.ts",
		"tests/api/transfers.spec.ts",
		"tests/legacy/import.test.js",
	}
	if !reflect.DeepEqual(result.Files, want) {
		t.Errorf("DiscoverUnits = %v, want %v", result.Files, want)
	}
}

func TestDiscoverUnitsExtraExcludes(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root,
		"tests/accounts.test.ts",
		"fixtures/golden.test.ts",
	)

	result, err := DiscoverUnits(root, "fixtures")
	if err != nil {
		t.Fatalf("DiscoverUnits failed: %v", err)
	}

	want := []string{"tests/accounts.test.ts"}
	if !reflect.DeepEqual(result.Files, want) {
		t.Errorf("DiscoverUnits = %v, want %v", result.Files, want)
	}
}

func TestDiscoverUnitsEmptyTree(t *testing.T) {
	result, err := DiscoverUnits(t.TempDir())
	if err != nil {
		t.Fatalf("DiscoverUnits failed: %v", err)
	}
	if len(result.Files) != 0 {
		t.Errorf("expected no units, got %v", result.Files)
	}
}

func TestDiscoverUnitsMissingRoot(t *testing.T) {
	_, err := DiscoverUnits(filepath.Join(t.TempDir(), "absent"))
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestIsUnitPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"tests/accounts.test.ts", true},
		{"tests/api/transfers.spec.ts", true},
		{"import.test.js", true},
		{"import.spec.js", true},
		{"tests/helpers/db.ts", false},
		{"accounts.ts", false},
		{"test.ts", false},
		{"spec.ts", false},
		{".test.ts", false},
		{"accounts.test.tsx", false},
		{"README.md", false},
	}

	for _, tt := range tests {
		if got := IsUnitPath(tt.path); got != tt.want {
			t.Errorf("IsUnitPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestScanDirectoryExtensions(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "suite.md", "config.yaml", "notes.txt", "UPPER.MD")

	result, err := ScanDirectory(root, ScanOptions{Extensions: []string{".md", "yaml"}})
	if err != nil {
		t.Fatalf("ScanDirectory failed: %v", err)
	}

	var names []string
	for _, f := range result.Files {
		names = append(names, filepath.Base(f))
	}
	want := []string{"UPPER.MD", "config.yaml", "suite.md"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("matched %v, want %v", names, want)
	}
}

func TestScanDirectoryPattern(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "01-setup.md", "02-accounts.md", "notes.md")

	result, err := ScanDirectory(root, ScanOptions{Pattern: `^\d+`, Extensions: []string{".md"}})
	if err != nil {
		t.Fatalf("ScanDirectory failed: %v", err)
	}
	if len(result.Files) != 2 {
		t.Fatalf("expected 2 matches, got %v", result.Files)
	}
	for _, f := range result.Files {
		if strings.Contains(f, "notes") {
			t.Errorf("pattern should not match %s", f)
		}
	}
}

func TestScanDirectoryNonRecursive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "top.md", "sub/nested.md")

	result, err := ScanDirectory(root, ScanOptions{Extensions: []string{".md"}})
	if err != nil {
		t.Fatalf("ScanDirectory failed: %v", err)
	}
	if len(result.Files) != 1 || filepath.Base(result.Files[0]) != "top.md" {
		t.Errorf("non-recursive scan matched %v", result.Files)
	}
}

func TestScanDirectoryMaxDepth(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "top.md", "a/one.md", "a/b/two.md")

	result, err := ScanDirectory(root, ScanOptions{
		Extensions: []string{".md"},
		Recursive:  true,
		MaxDepth:   2,
	})
	if err != nil {
		t.Fatalf("ScanDirectory failed: %v", err)
	}

	var names []string
	for _, f := range result.Files {
		names = append(names, filepath.Base(f))
	}
	want := []string{"one.md", "top.md"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("depth-limited scan matched %v, want %v", names, want)
	}
}

func TestScanDirectorySkipsHiddenAndExcluded(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "keep.md", ".git/config.md", "drafts/skip.md")

	result, err := ScanDirectory(root, ScanOptions{
		Extensions:  []string{".md"},
		Recursive:   true,
		ExcludeDirs: []string{"drafts"},
	})
	if err != nil {
		t.Fatalf("ScanDirectory failed: %v", err)
	}
	if len(result.Files) != 1 || filepath.Base(result.Files[0]) != "keep.md" {
		t.Errorf("scan matched %v, want only keep.md", result.Files)
	}
}

func TestScanDirectoryInvalidPattern(t *testing.T) {
	_, err := ScanDirectory(t.TempDir(), ScanOptions{Pattern: "["})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestScanDirectoryMissingRoot(t *testing.T) {
	_, err := ScanDirectory(filepath.Join(t.TempDir(), "absent"), ScanOptions{})
	if err == nil {
		t.Fatal("expected error for missing root")
	}
}

func TestScanDirectoryFileRoot(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "file.md")

	_, err := ScanDirectory(filepath.Join(root, "file.md"), ScanOptions{})
	if err == nil {
		t.Fatal("expected error when root is a file")
	}
}
