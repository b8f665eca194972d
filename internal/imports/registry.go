package imports

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

var registryLog = logrus.WithField("component", "imports.registry")

// Registry is the Entry Registry for one import Kind:
// a keyed map enforcing at-most-one-Entry-per-key and at-most-one-build-
// per-key, plus weak-reference-driven eviction.
//
// Insertion order is preserved in keys so that a dispatcher pass over all
// Entries of a kind is deterministic.
type Registry struct {
	kind Kind
	ctx  *ManagerContext

	mu      sync.Mutex
	entries map[Key]*Entry
	order   []Key

	group singleflight.Group

	newBuilder func(*Registry) buildFunc

	// onRemove, when set, runs after any successful removal from the map;
	// the manager wires it to the path resolver's LRU clear.
	onRemove func()
}

func newRegistry(kind Kind, ctx *ManagerContext, newBuilder func(*Registry) buildFunc) *Registry {
	return &Registry{
		kind:       kind,
		ctx:        ctx,
		entries:    map[Key]*Entry{},
		newBuilder: newBuilder,
	}
}

// getOrCreate returns the live Entry for key, creating an Empty one via
// factory if absent. On a simultaneous create, the loser drops its factory
// result and uses the winner's Entry.
func (r *Registry) getOrCreate(key Key, name, workingDir, baseDir string, extraVars map[string]string, ignoreReference bool) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[key]; ok {
		return e
	}

	e := newEntry(r.kind, key, name, workingDir, baseDir, extraVars, ignoreReference, r.newBuilder(r))
	r.entries[key] = e
	r.order = append(r.order, key)
	return e
}

// getOrBuild is create-or-fetch followed by ensuring the Entry is built,
// single-flighted across concurrent callers
// for the same key even though ensureBuilt already serializes via the Entry
// mutex; the singleflight.Group additionally collapses duplicate in-flight
// Fingerprinter/Store/Introspector work triggered from getOrCreate's factory
// race window.
func (r *Registry) getOrBuild(ctx context.Context, key Key, name, workingDir, baseDir string, extraVars map[string]string, sentinel any, ignoreReference bool) (Doc, error) {
	entry := r.getOrCreate(key, name, workingDir, baseDir, extraVars, ignoreReference)

	doc, err, _ := r.group.Do(key.String(), func() (any, error) {
		return entry.ensureBuilt(ctx)
	})

	if sentinel != nil && err == nil {
		r.addReference(key, entry, sentinel)
	}

	if err != nil {
		return nil, err
	}
	return doc.(Doc), nil
}

// addReference registers sentinel as a strong referent of entry and arms a
// reclamation hook that releases the reference when sentinel becomes
// unreachable. Go has no first-class weak reference in this
// module's targeted version, so a finalizer on the caller-supplied sentinel
// stands in for it, exactly as it does for e.g. os.File cleanup. The
// finalizer is armed through the shared sentinel table, since one sentinel
// may pin entries of several kinds and SetFinalizer tolerates only one
// registration per object.
func (r *Registry) addReference(key Key, entry *Entry, sentinel any) {
	entry.addReference()
	r.ctx.sentinels.add(sentinel, func() {
		r.release(key, entry)
	})
}

// release drops one reference from entry and, if it is now unreferenced,
// removes it from the registry.
func (r *Registry) release(key Key, entry *Entry) {
	if entry.releaseReference() {
		r.remove(key, entry, false)
	}
}

// remove pops key only if the stored Entry is still entry (ABA-safe against
// a concurrent replacement), then invalidates it, unless the Entry still has
// references and force is false.
func (r *Registry) remove(key Key, entry *Entry, force bool) {
	if !force && entry.referenced() {
		return
	}

	r.mu.Lock()
	current, ok := r.entries[key]
	removed := ok && current == entry
	if removed {
		delete(r.entries, key)
		r.removeFromOrder(key)
	}
	r.mu.Unlock()

	if removed && r.onRemove != nil {
		r.onRemove()
	}

	entry.invalidate(r.unregisterWatcher)
}

func (r *Registry) removeFromOrder(key Key) {
	for i, k := range r.order {
		if k == key {
			r.order = append(r.order[:i], r.order[i+1:]...)
			return
		}
	}
}

func (r *Registry) unregisterWatcher(h FileWatcherHandle) {
	if r.ctx.FileWatcher != nil {
		r.ctx.FileWatcher.Unregister(h)
	}
}

// snapshot returns every live Entry in insertion order, for the dispatcher's
// per-kind scan.
func (r *Registry) snapshot() []*Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Entry, 0, len(r.order))
	for _, k := range r.order {
		if e, ok := r.entries[k]; ok {
			out = append(out, e)
		}
	}
	return out
}

// clear forcibly invalidates and removes every Entry of this kind. Manager
// does not call it: ClearCache leaves in-memory entries intact.
func (r *Registry) clear() {
	for _, e := range r.snapshot() {
		r.remove(e.Key, e, true)
	}
}

// gc sweeps every live Entry and removes any that are unreferenced. The
// finalizer path in addReference handles the common case; gc is the backstop
// for references reclaimed without ever triggering a finalizer callback
// (e.g. an explicit drop API).
func (r *Registry) gc() {
	for _, e := range r.snapshot() {
		if !e.referenced() {
			r.remove(e.Key, e, false)
		}
	}
}
