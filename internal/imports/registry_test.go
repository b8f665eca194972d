package imports

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// stubDoc is a minimal Doc implementation for registry/entry-level tests
// that don't need the real LibraryDoc/VariablesDoc shapes.
type stubDoc struct {
	source string
}

func (d *stubDoc) DocSource() string    { return d.source }
func (d *stubDoc) DocErrors() []DocError { return nil }

func newTestRegistry(build func(*Registry) buildFunc) *Registry {
	ctx := &ManagerContext{}
	return newRegistry(KindLibrary, ctx, build)
}

// TestRegistrySingleFlight asserts that for any key, at most one build runs
// concurrently, and every concurrent caller observes the same result.
func TestRegistrySingleFlight(t *testing.T) {
	var calls int32

	reg := newTestRegistry(func(r *Registry) buildFunc {
		return func(ctx context.Context, e *Entry) error {
			atomic.AddInt32(&calls, 1)
			time.Sleep(20 * time.Millisecond)
			e.setBuiltResult(&stubDoc{source: "ok"}, nil, nil)
			return nil
		}
	})

	key := NewLibraryKey("Foo", nil)

	var wg sync.WaitGroup
	results := make([]Doc, 16)
	errs := make([]error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := reg.getOrBuild(context.Background(), key, "Foo", "/wd", "/base", nil, nil, false)
			results[i] = doc
			errs[i] = err
		}(i)
	}
	wg.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected exactly one build invocation, got %d", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d got unexpected error: %v", i, err)
		}
		if results[i].DocSource() != "ok" {
			t.Fatalf("caller %d got a different doc", i)
		}
	}
}

func TestEntryBuildFailureThenRetrySucceeds(t *testing.T) {
	var attempt int32

	reg := newTestRegistry(func(r *Registry) buildFunc {
		return func(ctx context.Context, e *Entry) error {
			n := atomic.AddInt32(&attempt, 1)
			if n == 1 {
				return &IntrospectionTimeout{Name: "Foo"}
			}
			e.setBuiltResult(&stubDoc{source: "ok"}, nil, nil)
			return nil
		}
	})

	key := NewLibraryKey("Foo", nil)

	_, err := reg.getOrBuild(context.Background(), key, "Foo", "/wd", "/base", nil, nil, false)
	if err == nil {
		t.Fatalf("expected first build to fail")
	}

	entry := reg.getOrCreate(key, "Foo", "/wd", "/base", nil, false)
	if entry.State() != StateFailed {
		t.Fatalf("expected Failed state after a failed build, got %s", entry.State())
	}

	doc, err := reg.getOrBuild(context.Background(), key, "Foo", "/wd", "/base", nil, nil, false)
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if doc.DocSource() != "ok" {
		t.Fatalf("unexpected doc from retried build")
	}
}

func TestRegistryGetOrCreateReturnsSameEntryOnRace(t *testing.T) {
	reg := newTestRegistry(func(r *Registry) buildFunc {
		return func(ctx context.Context, e *Entry) error {
			e.setBuiltResult(&stubDoc{source: "ok"}, nil, nil)
			return nil
		}
	})
	key := NewLibraryKey("Foo", nil)

	var wg sync.WaitGroup
	entries := make([]*Entry, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			entries[i] = reg.getOrCreate(key, "Foo", "/wd", "/base", nil, false)
		}(i)
	}
	wg.Wait()

	first := entries[0]
	for i, e := range entries {
		if e != first {
			t.Fatalf("entry %d differs: every concurrent getOrCreate for the same key must return the same Entry", i)
		}
	}
}

func TestEntryReferenceCountingAndRemove(t *testing.T) {
	reg := newTestRegistry(func(r *Registry) buildFunc {
		return func(ctx context.Context, e *Entry) error {
			e.setBuiltResult(&stubDoc{source: "ok"}, nil, nil)
			return nil
		}
	})
	key := NewLibraryKey("Foo", nil)
	entry := reg.getOrCreate(key, "Foo", "/wd", "/base", nil, false)

	entry.addReference()
	entry.addReference()
	if !entry.referenced() {
		t.Fatalf("expected entry to be referenced")
	}

	reg.remove(key, entry, false)
	if len(reg.snapshot()) != 1 {
		t.Fatalf("a referenced entry must not be removed without force")
	}

	if evict := entry.releaseReference(); evict {
		t.Fatalf("dropping one of two references must not yet mark eligible for eviction")
	}
	if evict := entry.releaseReference(); !evict {
		t.Fatalf("dropping the last reference must mark eligible for eviction")
	}

	reg.remove(key, entry, false)
	if len(reg.snapshot()) != 0 {
		t.Fatalf("expected unreferenced entry to be removed")
	}
}

func TestPinnedEntryIgnoresReferences(t *testing.T) {
	reg := newTestRegistry(func(r *Registry) buildFunc {
		return func(ctx context.Context, e *Entry) error {
			e.setBuiltResult(&stubDoc{source: "ok"}, nil, nil)
			return nil
		}
	})
	key := NewLibraryKey("Foo", nil)
	entry := reg.getOrCreate(key, "Foo", "/wd", "/base", nil, true)

	if !entry.referenced() {
		t.Fatalf("a pinned entry must report as referenced even with zero sentinels")
	}
	reg.remove(key, entry, false)
	if len(reg.snapshot()) != 1 {
		t.Fatalf("a pinned entry must survive a non-forced remove")
	}
}

func TestSameSentinelCanPinMultipleEntries(t *testing.T) {
	reg := newTestRegistry(func(r *Registry) buildFunc {
		return func(ctx context.Context, e *Entry) error {
			e.setBuiltResult(&stubDoc{source: "ok"}, nil, nil)
			return nil
		}
	})

	sentinel := new(int)
	if _, err := reg.getOrBuild(context.Background(), NewLibraryKey("A", nil), "A", "/wd", "/base", nil, sentinel, false); err != nil {
		t.Fatal(err)
	}
	if _, err := reg.getOrBuild(context.Background(), NewLibraryKey("B", nil), "B", "/wd", "/base", nil, sentinel, false); err != nil {
		t.Fatal(err)
	}

	for _, e := range reg.snapshot() {
		if !e.referenced() {
			t.Fatalf("expected both entries to be pinned by the shared sentinel")
		}
	}
}

func TestSentinelTableFansOutReleases(t *testing.T) {
	var table sentinelTable
	sentinel := new(int)

	var released []int
	table.add(sentinel, func() { released = append(released, 1) })
	table.add(sentinel, func() { released = append(released, 2) })

	table.reclaim(sentinelPointer(sentinel))
	if len(released) != 2 {
		t.Fatalf("expected every registered release to run on reclamation, got %v", released)
	}

	table.reclaim(sentinelPointer(sentinel))
	if len(released) != 2 {
		t.Fatalf("a second reclamation for the same sentinel must be a no-op")
	}
}

func TestSentinelTableRejectsNonPointer(t *testing.T) {
	var table sentinelTable
	if table.add(42, func() {}) {
		t.Fatalf("a non-pointer sentinel cannot be tracked and must be reported as such")
	}
}

func TestRegistryGC(t *testing.T) {
	reg := newTestRegistry(func(r *Registry) buildFunc {
		return func(ctx context.Context, e *Entry) error {
			e.setBuiltResult(&stubDoc{source: "ok"}, nil, nil)
			return nil
		}
	})

	k1 := NewLibraryKey("Referenced", nil)
	e1 := reg.getOrCreate(k1, "Referenced", "/wd", "/base", nil, false)
	e1.addReference()

	k2 := NewLibraryKey("Unreferenced", nil)
	reg.getOrCreate(k2, "Unreferenced", "/wd", "/base", nil, false)

	reg.gc()

	remaining := reg.snapshot()
	if len(remaining) != 1 {
		t.Fatalf("expected gc to remove the unreferenced entry, got %d remaining", len(remaining))
	}
	if remaining[0].Key != k1 {
		t.Fatalf("gc removed the wrong entry")
	}
}
