package imports

import (
	"os"
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) (*Store, *ManagerContext) {
	t.Helper()
	ctx := &ManagerContext{WorkspaceRoot: t.TempDir()}
	return NewStore(ctx), ctx
}

func TestStoreWriteReadRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)

	meta := &Meta{MetaVersion: MetaVersion, Name: "OperatingSystem", Origin: "/x/OperatingSystem.py", Mtimes: map[string]int64{"/x/OperatingSystem.py": 42}}
	doc := &LibraryDoc{Name: "OperatingSystem", Type: "LIBRARY"}

	if err := store.Write(KindLibrary, "robot/libraries/OperatingSystem", meta, doc); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	readMeta, raw, err := store.Read(KindLibrary, "robot/libraries/OperatingSystem")
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if readMeta == nil || raw == nil {
		t.Fatalf("expected a hit after write")
	}
	if !readMeta.Equal(meta) {
		t.Fatalf("round-tripped meta does not match original")
	}
}

func TestStoreReadMissingIsNilNotError(t *testing.T) {
	store, _ := newTestStore(t)

	meta, raw, err := store.Read(KindLibrary, "does/not/exist")
	if err != nil {
		t.Fatalf("a missing entry must never be an error: %v", err)
	}
	if meta != nil || raw != nil {
		t.Fatalf("expected a clean miss")
	}
}

func TestStoreVersionMismatchIsTreatedAsAbsent(t *testing.T) {
	store, _ := newTestStore(t)

	// A meta.json stamped with a version string other than the running
	// implementation's MetaVersion simulates a cache left behind by an
	// older build; it must read back as a clean miss, never a hit.
	meta := &Meta{MetaVersion: "some-stale-version", Name: "Foo", Origin: "/x/Foo.py"}
	doc := &LibraryDoc{Name: "Foo"}
	if err := store.Write(KindLibrary, "Foo", meta, doc); err != nil {
		t.Fatal(err)
	}

	readMeta, raw, err := store.Read(KindLibrary, "Foo")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if readMeta != nil || raw != nil {
		t.Fatalf("a meta_version mismatch must be treated as a miss, not a hit")
	}
}

func TestStoreWriteCreatesSpecAndMeta(t *testing.T) {
	store, ctx := newTestStore(t)

	meta := &Meta{MetaVersion: MetaVersion, Name: "X"}
	doc := &LibraryDoc{Name: "X"}
	if err := store.Write(KindLibrary, "X", meta, doc); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(ctx.CacheRoot(), KindLibrary.cacheDir())
	specPath := filepath.Join(dir, "X.spec.json")
	metaPath := filepath.Join(dir, "X.meta.json")

	if _, err := os.Stat(specPath); err != nil {
		t.Fatalf("expected spec.json to exist: %v", err)
	}
	if _, err := os.Stat(metaPath); err != nil {
		t.Fatalf("expected meta.json to exist: %v", err)
	}
}

func TestStoreClearRemovesRoot(t *testing.T) {
	store, ctx := newTestStore(t)

	meta := &Meta{MetaVersion: MetaVersion, Name: "X"}
	doc := &LibraryDoc{Name: "X"}
	if err := store.Write(KindLibrary, "X", meta, doc); err != nil {
		t.Fatal(err)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}

	if _, err := os.Stat(ctx.CacheRoot()); err == nil {
		t.Fatalf("expected cache root to be removed")
	}
}
