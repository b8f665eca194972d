package imports

import (
	"path/filepath"
	"testing"
)

func TestWatchGlobsPreferSubmoduleSearchLocations(t *testing.T) {
	meta := &Meta{
		Origin:                   "/pkg/mymodule/__init__.py",
		SubmoduleSearchLocations: []string{"/pkg/mymodule"},
	}
	globs := watchGlobsForEntry(meta, []string{"/search"})
	if len(globs) != 1 {
		t.Fatalf("expected one glob per search location, got %v", globs)
	}
	if globs[0] != filepath.Join("/pkg/mymodule", "**") {
		t.Fatalf("got %q", globs[0])
	}
}

func TestWatchGlobsFallBackToOriginParent(t *testing.T) {
	meta := &Meta{Origin: "/libs/MyLib.py"}
	globs := watchGlobsForEntry(meta, []string{"/search"})
	if len(globs) != 1 || globs[0] != filepath.Join("/libs", "**") {
		t.Fatalf("expected the origin's parent to be watched, got %v", globs)
	}
}

func TestWatchGlobsCoverSearchPathWhenNoSource(t *testing.T) {
	globs := watchGlobsForEntry(nil, []string{"/a", "/b"})
	if len(globs) != 2 {
		t.Fatalf("expected one glob per search path entry so a later file can trigger re-resolution, got %v", globs)
	}

	globs = watchGlobsForEntry(&Meta{}, []string{"/a"})
	if len(globs) != 1 || globs[0] != filepath.Join("/a", "**") {
		t.Fatalf("a Meta with no origin must still cover the search path, got %v", globs)
	}
}

func TestMatchesEntryVariablesSameFile(t *testing.T) {
	e := &Entry{Kind: KindVariables}
	e.meta = &Meta{Origin: "/vars/common.py"}

	if !matchesEntry(e, FileEvent{URI: "file:///vars/common.py", Type: FileChanged}, nil) {
		t.Fatalf("expected the variables origin file to match")
	}
	if matchesEntry(e, FileEvent{URI: "file:///vars/other.py", Type: FileChanged}, nil) {
		t.Fatalf("expected a sibling file not to match a variables entry")
	}
}

func TestMatchesEntryRejectsNonFileURI(t *testing.T) {
	e := &Entry{Kind: KindLibrary}
	e.meta = &Meta{Origin: "/x/Lib.py"}

	if matchesEntry(e, FileEvent{URI: "untitled:Untitled-1", Type: FileChanged}, nil) {
		t.Fatalf("only file:// URIs participate in invalidation")
	}
}
