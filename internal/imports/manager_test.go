package imports

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

// fakeIntrospector counts invocations per name so tests can assert a cache
// hit skipped the subprocess path entirely.
type fakeIntrospector struct {
	calls int32
	run   func(ctx context.Context, req IntrospectRequest) (IntrospectResult, error)
}

func (f *fakeIntrospector) Run(ctx context.Context, req IntrospectRequest, timeout time.Duration) (IntrospectResult, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.run != nil {
		return f.run(ctx, req)
	}
	return IntrospectResult{Doc: &LibraryDoc{Name: req.Name, Source: req.Name, Type: "LIBRARY"}}, nil
}

func newManagerForTest(t *testing.T, introspector Introspector) (*Manager, *ManagerContext) {
	t.Helper()
	ctx := &ManagerContext{WorkspaceRoot: t.TempDir()}
	return NewManager(ctx, introspector), ctx
}

// TestManagerLibraryCacheHitSkipsIntrospection checks that a second
// libdoc_for_library call for an unchanged file must be served from the
// Entry Registry/Artifact Store without a new subprocess run.
func TestManagerLibraryCacheHitSkipsIntrospection(t *testing.T) {
	introspector := &fakeIntrospector{}
	m, ctx := newManagerForTest(t, introspector)

	lib := filepath.Join(ctx.WorkspaceRoot, "MyLib.py")
	if err := os.WriteFile(lib, []byte("def kw():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	doc1, err := m.LibdocForLibrary(context.Background(), "MyLib.py", nil, ctx.WorkspaceRoot, nil, nil)
	if err != nil {
		t.Fatalf("first build failed: %v", err)
	}
	if doc1.Name != "MyLib.py" {
		t.Fatalf("unexpected doc: %+v", doc1)
	}
	if got := atomic.LoadInt32(&introspector.calls); got != 1 {
		t.Fatalf("expected exactly one introspection for the first build, got %d", got)
	}

	// A brand new Manager over the same cache root simulates a fresh
	// process picking up the on-disk Artifact Store.
	m2 := NewManager(ctx, introspector)
	doc2, err := m2.LibdocForLibrary(context.Background(), "MyLib.py", nil, ctx.WorkspaceRoot, nil, nil)
	if err != nil {
		t.Fatalf("second build failed: %v", err)
	}
	if doc2.Name != doc1.Name {
		t.Fatalf("expected a cache-served doc to match the original")
	}
	if got := atomic.LoadInt32(&introspector.calls); got != 1 {
		t.Fatalf("expected the cache hit to skip introspection entirely, total calls = %d", got)
	}
}

// TestManagerLibraryMtimeChangeForcesRebuild checks that touching the source
// file after a cached build invalidates the cache on the next resolution.
func TestManagerLibraryMtimeChangeForcesRebuild(t *testing.T) {
	introspector := &fakeIntrospector{}
	m, ctx := newManagerForTest(t, introspector)

	lib := filepath.Join(ctx.WorkspaceRoot, "MyLib.py")
	if err := os.WriteFile(lib, []byte("def kw():\n    pass\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := m.LibdocForLibrary(context.Background(), "MyLib.py", nil, ctx.WorkspaceRoot, nil, nil); err != nil {
		t.Fatal(err)
	}

	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(lib, future, future); err != nil {
		t.Fatal(err)
	}

	// A fresh Manager forces a fresh Entry, so the only thing standing
	// between this call and a re-run is the on-disk meta/mtime comparison.
	m2 := NewManager(ctx, introspector)
	if _, err := m2.LibdocForLibrary(context.Background(), "MyLib.py", nil, ctx.WorkspaceRoot, nil, nil); err != nil {
		t.Fatal(err)
	}

	if got := atomic.LoadInt32(&introspector.calls); got != 2 {
		t.Fatalf("expected the mtime bump to force a second introspection, got %d calls", got)
	}
}

// TestManagerIgnoredLibraryNeverCached checks that a library matching an
// ignore pattern is still built and held in the registry, but no artifact
// files are ever written for it.
func TestManagerIgnoredLibraryNeverCached(t *testing.T) {
	introspector := &fakeIntrospector{}
	ctx := &ManagerContext{
		WorkspaceRoot: t.TempDir(),
		Config:        Config{IgnoredLibraries: []string{"Skip*"}},
	}
	lib := filepath.Join(ctx.WorkspaceRoot, "Skip.py")
	if err := os.WriteFile(lib, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(ctx, introspector)

	if _, err := m.LibdocForLibrary(context.Background(), "Skip.py", nil, ctx.WorkspaceRoot, nil, nil); err != nil {
		t.Fatal(err)
	}

	meta, resolved, err := m.MetaForLibrary(context.Background(), "Skip.py", ctx.WorkspaceRoot, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta != nil {
		t.Fatalf("expected meta_for_library to report nil Meta for an ignored import")
	}
	if resolved != lib {
		t.Fatalf("expected the resolved name to still be reported: got %q, want %q", resolved, lib)
	}

	if len(m.registries[KindLibrary].snapshot()) != 1 {
		t.Fatalf("expected the ignored import's Entry to still be built and held in memory")
	}

	dir := filepath.Join(ctx.CacheRoot(), KindLibrary.cacheDir())
	if _, err := os.Stat(dir); err == nil {
		t.Fatalf("expected an ignored import to never populate the on-disk cache")
	}
}

// TestManagerIntrospectionTimeoutSurfacesAsFailed checks that a subprocess
// that never returns surfaces IntrospectionTimeout and leaves the Entry
// Failed rather than wedged in Building.
func TestManagerIntrospectionTimeoutSurfacesAsFailed(t *testing.T) {
	introspector := &fakeIntrospector{
		run: func(ctx context.Context, req IntrospectRequest) (IntrospectResult, error) {
			return IntrospectResult{}, &IntrospectionTimeout{Name: req.Name, Deadline: DefaultLibraryTimeout}
		},
	}
	m, ctx := newManagerForTest(t, introspector)

	lib := filepath.Join(ctx.WorkspaceRoot, "Hangs.py")
	if err := os.WriteFile(lib, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := m.LibdocForLibrary(context.Background(), "Hangs.py", nil, ctx.WorkspaceRoot, nil, nil)
	if err == nil {
		t.Fatalf("expected an error from a timed-out introspection")
	}
	if _, ok := err.(*IntrospectionTimeout); !ok {
		t.Fatalf("expected *IntrospectionTimeout, got %T: %v", err, err)
	}

	entry := m.registries[KindLibrary].getOrCreate(NewLibraryKey(lib, nil), "Hangs.py", ctx.WorkspaceRoot, ctx.WorkspaceRoot, nil, false)
	if entry.State() != StateFailed {
		t.Fatalf("expected the entry to land in Failed, got %s", entry.State())
	}
}

type fakeResourceDoc struct{ uri string }

func (d *fakeResourceDoc) URI() string  { return d.uri }
func (d *fakeResourceDoc) Synced() bool { return false }

type fakeDocumentStore struct{}

func (fakeDocumentStore) GetOrOpen(path string) (Document, error) {
	return &fakeResourceDoc{uri: "file://" + path}, nil
}
func (fakeDocumentStore) OnDidChange(func(Document)) {}

type fakeNamespaceResolver struct{}

func (fakeNamespaceResolver) ResourceNamespace(doc Document) (*Namespace, error) {
	return &Namespace{Source: doc.URI()}, nil
}

// TestManagerResourceDeleteEvictsEntry checks that deleting a resource file
// and replaying the deletion through HandleFileEvents must evict its Entry
// from the registry, regardless of outstanding references.
func TestManagerResourceDeleteEvictsEntry(t *testing.T) {
	ctx := &ManagerContext{
		WorkspaceRoot:     t.TempDir(),
		DocumentStore:     fakeDocumentStore{},
		NamespaceResolver: fakeNamespaceResolver{},
	}
	resource := filepath.Join(ctx.WorkspaceRoot, "shared.resource")
	if err := os.WriteFile(resource, []byte("*** Keywords ***\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	m := NewManager(ctx, &fakeIntrospector{})

	sentinel := new(int)
	_, _, err := m.LibdocAndNamespaceForResource(context.Background(), "shared.resource", ctx.WorkspaceRoot, sentinel, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(m.registries[KindResource].snapshot()) != 1 {
		t.Fatalf("expected a resolved resource entry to exist")
	}

	if err := os.Remove(resource); err != nil {
		t.Fatal(err)
	}
	m.HandleFileEvents([]FileEvent{{URI: "file://" + resource, Type: FileDeleted}})

	if len(m.registries[KindResource].snapshot()) != 0 {
		t.Fatalf("expected a deleted resource to evict its entry even while referenced by a live sentinel")
	}

	// The eviction must also flush the resolver's memoized path, so the
	// next request re-resolves from the filesystem and fails cleanly.
	_, _, err = m.LibdocAndNamespaceForResource(context.Background(), "shared.resource", ctx.WorkspaceRoot, nil, nil)
	if err == nil {
		t.Fatalf("expected re-resolution of a deleted resource to fail")
	}
	if _, ok := err.(*ResolveFailed); !ok {
		t.Fatalf("expected *ResolveFailed, got %T: %v", err, err)
	}
}

// TestManagerCloseCancelsInFlightIntrospection checks that Close tears down
// a build that is blocked on the subprocess introspector.
func TestManagerCloseCancelsInFlightIntrospection(t *testing.T) {
	started := make(chan struct{})
	introspector := &fakeIntrospector{
		run: func(ctx context.Context, req IntrospectRequest) (IntrospectResult, error) {
			close(started)
			<-ctx.Done()
			return IntrospectResult{}, ctx.Err()
		},
	}
	m, ctx := newManagerForTest(t, introspector)

	lib := filepath.Join(ctx.WorkspaceRoot, "Blocks.py")
	if err := os.WriteFile(lib, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	errCh := make(chan error, 1)
	go func() {
		_, err := m.LibdocForLibrary(context.Background(), "Blocks.py", nil, ctx.WorkspaceRoot, nil, nil)
		errCh <- err
	}()

	<-started
	m.Close()

	select {
	case err := <-errCh:
		if err == nil {
			t.Fatalf("expected Close to unblock the build with an error")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Close did not unblock an in-flight introspection in time")
	}
}

// TestManagerClearCacheRemovesOnDiskTreeOnly ensures clear_cache removes the
// Artifact Store root but leaves in-memory entries untouched.
func TestManagerClearCacheRemovesOnDiskTreeOnly(t *testing.T) {
	introspector := &fakeIntrospector{}
	m, ctx := newManagerForTest(t, introspector)

	lib := filepath.Join(ctx.WorkspaceRoot, "Lib.py")
	if err := os.WriteFile(lib, []byte("x = 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := m.LibdocForLibrary(context.Background(), "Lib.py", nil, ctx.WorkspaceRoot, nil, nil); err != nil {
		t.Fatal(err)
	}

	if err := m.ClearCache(); err != nil {
		t.Fatalf("clear_cache failed: %v", err)
	}
	if _, err := os.Stat(ctx.CacheRoot()); err == nil {
		t.Fatalf("expected the on-disk cache root to be gone after clear_cache")
	}
	if len(m.registries[KindLibrary].snapshot()) != 1 {
		t.Fatalf("expected clear_cache to leave in-memory entries alone")
	}
}
